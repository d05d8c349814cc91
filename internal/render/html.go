package render

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/scanmesh/internal/scan/session"
)

// WriteHTML renders an interactive echarts scatter, one series per session.
func WriteHTML(w io.Writer, views []session.SessionMesh, proj Projection) error {
	xl, yl := proj.Axes()

	total := 0
	pad := 1.0
	type series struct {
		name  string
		color string
		data  []opts.ScatterData
	}
	all := make([]series, 0, len(views))
	for _, v := range views {
		verts := sampleVertices(v.Mesh)
		if len(verts) == 0 {
			continue
		}
		data := make([]opts.ScatterData, len(verts))
		for i, vert := range verts {
			x, y := proj.Project(vert)
			pad = math.Max(pad, math.Max(math.Abs(x), math.Abs(y)))
			data[i] = opts.ScatterData{Value: []interface{}{x, y}}
		}
		total += len(data)
		all = append(all, series{name: label(v), color: hexColor(v.Mesh.Color), data: data})
	}
	if len(all) == 0 {
		return ErrNothingToRender
	}
	pad = math.Ceil(pad * 1.05)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Scan mesh", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Scans (%s view)", proj), Subtitle: fmt.Sprintf("sessions=%d points=%d", len(all), total)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: xl, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: yl, NameLocation: "middle", NameGap: 30}),
	)
	for _, s := range all {
		scatter.AddSeries(s.name, s.data,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: s.color}),
		)
	}
	return scatter.Render(w)
}
