// Package visualiser streams session meshes to remote viewers over gRPC.
//
// Each client receives a snapshot of every session on connect, then one frame
// per registry event: whole meshes when a session is added, activated or
// rebuilt, single vertices when a sample lands, and removals.
package visualiser

import (
	"time"

	"github.com/banshee-data/scanmesh/internal/scan"
	"github.com/banshee-data/scanmesh/internal/scan/session"
)

// FrameKind says how a viewer should apply a frame.
type FrameKind string

const (
	// FrameSnapshot replaces everything the viewer holds.
	FrameSnapshot FrameKind = "snapshot"
	// FrameMesh replaces one session's mesh.
	FrameMesh FrameKind = "mesh"
	// FrameActive replaces one session's mesh and marks it active.
	FrameActive FrameKind = "active"
	// FramePatch moves a single vertex.
	FramePatch FrameKind = "patch"
	// FrameRemoved drops a session.
	FrameRemoved FrameKind = "removed"
)

// Frame is the unit sent to viewers.
type Frame struct {
	Seq       uint64
	Kind      FrameKind
	Timestamp time.Time
	SessionID int
	Index     int

	// Meshes holds one entry for mesh and active frames, every session for
	// snapshots.
	Meshes []session.SessionMesh
	Patch  *scan.VertexPatch
}

// PointCount is the number of vertices the frame carries.
func (f *Frame) PointCount() int {
	n := 0
	for _, m := range f.Meshes {
		if m.Mesh != nil {
			n += len(m.Mesh.Vertices)
		}
	}
	if f.Patch != nil {
		n++
	}
	return n
}

// FrameFromEvent converts a registry event. It returns nil for events a
// viewer has no use for.
func FrameFromEvent(ev session.Event) *Frame {
	f := &Frame{
		SessionID: ev.SessionID,
		Index:     ev.Index,
	}
	switch ev.Kind {
	case session.EventAdded, session.EventRebuilt:
		f.Kind = FrameMesh
	case session.EventActivated:
		f.Kind = FrameActive
	case session.EventPatched:
		if ev.Patch == nil {
			return nil
		}
		f.Kind = FramePatch
		p := *ev.Patch
		f.Patch = &p
		return f
	case session.EventRemoved:
		f.Kind = FrameRemoved
		return f
	case session.EventReplaced:
		f.Kind = FrameSnapshot
		f.Meshes = ev.Sessions
		return f
	default:
		return nil
	}
	if ev.Mesh != nil {
		f.Meshes = []session.SessionMesh{{SessionID: ev.SessionID, Mesh: ev.Mesh}}
	}
	return f
}

// forSession narrows f to what a client filtering on id wants, or nil.
// An id of zero or less means every session.
func (f *Frame) forSession(id int) *Frame {
	if id <= 0 {
		return f
	}
	if f.Kind != FrameSnapshot {
		if f.SessionID == id {
			return f
		}
		return nil
	}
	out := *f
	out.Meshes = nil
	for _, m := range f.Meshes {
		if m.SessionID == id {
			out.Meshes = append(out.Meshes, m)
		}
	}
	return &out
}
