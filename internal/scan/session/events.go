package session

import "github.com/banshee-data/scanmesh/internal/scan"

// EventKind classifies registry notifications.
type EventKind int

const (
	EventAdded EventKind = iota + 1
	EventRemoved
	EventReplaced
	EventActivated
	EventRebuilt
	EventPatched
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventReplaced:
		return "replaced"
	case EventActivated:
		return "activated"
	case EventRebuilt:
		return "rebuilt"
	case EventPatched:
		return "patched"
	default:
		return "unknown"
	}
}

// SessionMesh pairs a session id with a detached mesh copy.
type SessionMesh struct {
	SessionID int
	Name      string
	Mesh      *scan.Mesh
}

// Event describes a registry or session change. Every geometry field is a
// copy owned by the receiver.
type Event struct {
	Kind      EventKind
	SessionID int
	Index     int

	// Mesh is set for added, activated and rebuilt events.
	Mesh *scan.Mesh
	// Patch is set for patched events.
	Patch *scan.VertexPatch
	// Sessions lists every session, in order, for replaced events.
	Sessions []SessionMesh
}

// Listener receives events on the goroutine that caused them.
type Listener func(Event)
