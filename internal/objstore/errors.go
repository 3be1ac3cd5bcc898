package objstore

import (
	"errors"
	"fmt"
)

// ErrNotExist is returned when an object is looked up by a hash the store
// has never written, as distinct from an I/O failure reading one it has.
var ErrNotExist = errors.New("objstore: object does not exist")

// ErrTypeMismatch is returned when an object is read through a typed
// accessor that expects a different kind than what is on disk.
var ErrTypeMismatch = errors.New("objstore: object kind mismatch")

func wrapNotExist(h Hash, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNotExist, h, err)
}
