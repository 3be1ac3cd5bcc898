package refstore

import (
	"errors"
	"fmt"

	"github.com/hagenbeck/vctree/internal/objstore"
)

// ErrCASMismatch is returned by Change when the caller's expected old value
// does not match the ref's current value.
var ErrCASMismatch = errors.New("refstore: compare-and-swap mismatch")

// ErrNotExist is returned by Resolve/ResolveHash/Delete when the named ref
// has no file.
var ErrNotExist = errors.New("refstore: reference does not exist")

// ErrAlreadyExists is returned by Alloc/AllocSymref when the named ref
// already has a value.
var ErrAlreadyExists = errors.New("refstore: reference already exists")

// UpdateReflogError indicates the ref update itself committed but the
// reflog append that should follow it failed. The ref is not rolled back:
// the primary operation succeeded, and this carries only the secondary
// failure.
type UpdateReflogError struct {
	Ref string
	Old objstore.Hash
	New objstore.Hash
	Err error
}

func (e *UpdateReflogError) Error() string {
	return fmt.Sprintf("update ref %q committed (old=%s new=%s) but reflog append failed: %v", e.Ref, e.Old, e.New, e.Err)
}

func (e *UpdateReflogError) Unwrap() error { return e.Err }
