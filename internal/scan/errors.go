package scan

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexOutOfRange is matched by every *IndexError.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrInvalidRange is returned when a range sample is negative or not finite.
	ErrInvalidRange = errors.New("invalid range sample")
	// ErrNonFinite is returned when an offset is NaN or infinite.
	ErrNonFinite = errors.New("non-finite value")
	// ErrMeshMismatch is returned when a mesh was not built for the grid it is patched from.
	ErrMeshMismatch = errors.New("mesh does not match grid resolution")
)

// IndexError describes an out-of-bounds coordinate along a named axis.
type IndexError struct {
	Axis  string
	Index int
	Max   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%s index %d out of range [0,%d]", e.Axis, e.Index, e.Max)
}

// Is lets errors.Is(err, ErrIndexOutOfRange) match.
func (e *IndexError) Is(target error) bool {
	return target == ErrIndexOutOfRange
}
