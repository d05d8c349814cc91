package visualiser

import (
	"errors"
	"fmt"
	"image/color"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/scanmesh/internal/scan"
	"github.com/banshee-data/scanmesh/internal/scan/session"
)

// ErrMalformedFrame is returned when a received message is not a frame.
var ErrMalformedFrame = errors.New("malformed frame")

// Wire layout, one structpb.Struct per frame:
//
//	seq, session_id, index: number
//	kind: string
//	timestamp_ms: number
//	meshes: list of {session_id, name, color "#rrggbbaa",
//	        vertices [x0 y0 z0 x1 ...], triangles [a0 b0 c0 a1 ...]}
//	patch: {index, motor, servo, range, x, y, z}

func num(v float64) *structpb.Value { return structpb.NewNumberValue(v) }

func frameToStruct(f *Frame) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"seq":          num(float64(f.Seq)),
		"kind":         structpb.NewStringValue(string(f.Kind)),
		"timestamp_ms": num(float64(f.Timestamp.UnixMilli())),
		"session_id":   num(float64(f.SessionID)),
		"index":        num(float64(f.Index)),
	}
	if len(f.Meshes) > 0 {
		meshes := make([]*structpb.Value, len(f.Meshes))
		for i, m := range f.Meshes {
			meshes[i] = structpb.NewStructValue(meshToStruct(m))
		}
		fields["meshes"] = structpb.NewListValue(&structpb.ListValue{Values: meshes})
	}
	if p := f.Patch; p != nil {
		fields["patch"] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"index": num(float64(p.Index)),
			"motor": num(float64(p.Motor)),
			"servo": num(float64(p.Servo)),
			"range": num(p.Range),
			"x":     num(p.Position.X),
			"y":     num(p.Position.Y),
			"z":     num(p.Position.Z),
		}})
	}
	return &structpb.Struct{Fields: fields}
}

func meshToStruct(m session.SessionMesh) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"session_id": num(float64(m.SessionID)),
		"name":       structpb.NewStringValue(m.Name),
	}
	if m.Mesh != nil {
		c := m.Mesh.Color
		fields["color"] = structpb.NewStringValue(fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A))

		verts := make([]*structpb.Value, 0, 3*len(m.Mesh.Vertices))
		for _, v := range m.Mesh.Vertices {
			verts = append(verts, num(v.X), num(v.Y), num(v.Z))
		}
		tris := make([]*structpb.Value, 0, 3*len(m.Mesh.Triangles))
		for _, t := range m.Mesh.Triangles {
			tris = append(tris, num(float64(t[0])), num(float64(t[1])), num(float64(t[2])))
		}
		fields["vertices"] = structpb.NewListValue(&structpb.ListValue{Values: verts})
		fields["triangles"] = structpb.NewListValue(&structpb.ListValue{Values: tris})
	}
	return &structpb.Struct{Fields: fields}
}

// FrameFromStruct decodes a frame received from a stream.
func FrameFromStruct(s *structpb.Struct) (*Frame, error) {
	if s == nil {
		return nil, ErrMalformedFrame
	}
	fields := s.GetFields()
	kind := fields["kind"].GetStringValue()
	if kind == "" {
		return nil, fmt.Errorf("%w: missing kind", ErrMalformedFrame)
	}
	f := &Frame{
		Seq:       uint64(fields["seq"].GetNumberValue()),
		Kind:      FrameKind(kind),
		Timestamp: time.UnixMilli(int64(fields["timestamp_ms"].GetNumberValue())),
		SessionID: int(fields["session_id"].GetNumberValue()),
		Index:     int(fields["index"].GetNumberValue()),
	}
	for _, v := range fields["meshes"].GetListValue().GetValues() {
		m, err := meshFromStruct(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		f.Meshes = append(f.Meshes, m)
	}
	if p := fields["patch"].GetStructValue(); p != nil {
		pf := p.GetFields()
		f.Patch = &scan.VertexPatch{
			Index: int(pf["index"].GetNumberValue()),
			Motor: int(pf["motor"].GetNumberValue()),
			Servo: int(pf["servo"].GetNumberValue()),
			Range: pf["range"].GetNumberValue(),
			Position: scan.Point3{
				X: pf["x"].GetNumberValue(),
				Y: pf["y"].GetNumberValue(),
				Z: pf["z"].GetNumberValue(),
			},
		}
	}
	return f, nil
}

func meshFromStruct(s *structpb.Struct) (session.SessionMesh, error) {
	if s == nil {
		return session.SessionMesh{}, fmt.Errorf("%w: mesh is not a struct", ErrMalformedFrame)
	}
	fields := s.GetFields()
	out := session.SessionMesh{
		SessionID: int(fields["session_id"].GetNumberValue()),
		Name:      fields["name"].GetStringValue(),
	}
	vl, ok := fields["vertices"]
	if !ok {
		return out, nil
	}
	verts := vl.GetListValue().GetValues()
	tris := fields["triangles"].GetListValue().GetValues()
	if len(verts)%3 != 0 || len(tris)%3 != 0 {
		return out, fmt.Errorf("%w: coordinate lists must come in triples", ErrMalformedFrame)
	}
	m := &scan.Mesh{
		Vertices:  make([]scan.Point3, len(verts)/3),
		Triangles: make([]scan.Triangle, len(tris)/3),
	}
	for i := range m.Vertices {
		m.Vertices[i] = scan.Point3{
			X: verts[3*i].GetNumberValue(),
			Y: verts[3*i+1].GetNumberValue(),
			Z: verts[3*i+2].GetNumberValue(),
		}
	}
	for i := range m.Triangles {
		m.Triangles[i] = scan.Triangle{
			int(tris[3*i].GetNumberValue()),
			int(tris[3*i+1].GetNumberValue()),
			int(tris[3*i+2].GetNumberValue()),
		}
	}
	var r, g, b, a uint8
	if _, err := fmt.Sscanf(fields["color"].GetStringValue(), "#%02x%02x%02x%02x", &r, &g, &b, &a); err == nil {
		m.Color = color.NRGBA{R: r, G: g, B: b, A: a}
	}
	out.Mesh = m
	return out, nil
}
