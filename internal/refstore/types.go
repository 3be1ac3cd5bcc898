// Package refstore is the reference store consumed by the work-tree engine:
// named pointers (branches, symbolic refs, the derived refs used by
// rebase/histedit) each resolving to either an object hash or another ref
// name, with compare-and-swap updates and a reflog recording every change.
package refstore

import "github.com/hagenbeck/vctree/internal/objstore"

// Ref is the resolved state of a reference: either a direct hash or a
// symbolic pointer at another ref name, never both.
type Ref struct {
	Name    string
	Hash    objstore.Hash
	Symlink string // target ref name, set only for symbolic refs
}

// IsSymbolic reports whether the ref points at another ref rather than an
// object hash directly.
func (r Ref) IsSymbolic() bool { return r.Symlink != "" }

// Entry is one line of a reflog: the ref's value before and after a change.
type Entry struct {
	Ref       string
	Old       objstore.Hash
	New       objstore.Hash
	Timestamp int64
	Reason    string
}

const zeroHash = objstore.Hash("0000000000000000000000000000000000000000000000000000000000000000")
