package render

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/scanmesh/internal/scan/session"
)

// ErrNothingToRender is returned when no session has vertices.
var ErrNothingToRender = errors.New("nothing to render")

// PNGOptions size the image.
type PNGOptions struct {
	Width, Height vg.Length
	Title         string
}

func (o PNGOptions) withDefaults(p Projection) PNGOptions {
	if o.Width <= 0 {
		o.Width = 8 * vg.Inch
	}
	if o.Height <= 0 {
		o.Height = 8 * vg.Inch
	}
	if o.Title == "" {
		o.Title = fmt.Sprintf("Scans (%s view)", p)
	}
	return o
}

// WritePNG draws each session's vertices as a scatter in its own colour.
func WritePNG(w io.Writer, views []session.SessionMesh, proj Projection, o PNGOptions) error {
	o = o.withDefaults(proj)

	p := plot.New()
	p.Title.Text = o.Title
	xl, yl := proj.Axes()
	p.X.Label.Text = xl
	p.Y.Label.Text = yl
	p.Add(plotter.NewGrid())

	drawn := 0
	for _, v := range views {
		verts := sampleVertices(v.Mesh)
		if len(verts) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(verts))
		for i, vert := range verts {
			pts[i].X, pts[i].Y = proj.Project(vert)
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("scatter for session %d: %w", v.SessionID, err)
		}
		c := v.Mesh.Color
		sc.GlyphStyle.Color = color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255}
		sc.GlyphStyle.Radius = vg.Points(1)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(sc)
		p.Legend.Add(label(v), sc)
		drawn++
	}
	if drawn == 0 {
		return ErrNothingToRender
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(o.Width, o.Height, "png")
	if err != nil {
		return fmt.Errorf("failed to create png writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
