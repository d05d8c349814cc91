package render

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/scanmesh/internal/monitoring"
	"github.com/banshee-data/scanmesh/internal/scan/session"
	"github.com/banshee-data/scanmesh/internal/security"
)

var logf = monitoring.Component("Render")

// WriteASC writes every vertex but the origin as "X Y Z R G B", the ASCII
// point format CloudCompare reads. It returns the number of points written.
func WriteASC(w io.Writer, v session.SessionMesh) (int, error) {
	if v.Mesh == nil || len(v.Mesh.Vertices) < 2 {
		return 0, ErrNothingToRender
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# Exported points\n")
	fmt.Fprintf(bw, "# Session: %d %s\n", v.SessionID, label(v))
	fmt.Fprintf(bw, "# Format: X Y Z R G B\n")

	c := v.Mesh.Color
	n := 0
	for _, p := range v.Mesh.Vertices[1:] {
		fmt.Fprintf(bw, "%.6f %.6f %.6f %d %d %d\n", p.X, p.Y, p.Z, c.R, c.G, c.B)
		n++
	}
	return n, bw.Flush()
}

// ExportASC writes the session to dir/<name>.asc. name defaults to the
// session label and is sanitised before use.
func ExportASC(dir, name string, v session.SessionMesh) (string, int, error) {
	if name == "" {
		name = label(v)
	}
	path, err := security.ExportPath(dir, name, ".asc")
	if err != nil {
		return "", 0, err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	n, err := WriteASC(f, v)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	logf("Exported %d points to %s", n, path)
	return path, n, nil
}
