package wortree

import (
	"fmt"

	"github.com/hagenbeck/vctree/internal/checkout"
	"github.com/hagenbeck/vctree/internal/objstore"
	"github.com/hagenbeck/vctree/internal/treediff"
)

// Checkout applies the tree at targetCommit to the work tree, scoped to
// paths (empty means the whole tree), reporting progress through the
// given callback (nil is legal).
func (w *WorkTree) Checkout(targetCommit objstore.Hash, paths []string, cancel treediff.Cancel, progress checkout.Progress) error {
	commit, err := w.Store.ReadCommit(targetCommit)
	if err != nil {
		return fmt.Errorf("checkout: read target commit: %w", err)
	}

	if err := checkout.Files(w.blobs, w.Meta, w.Index, w.Root(), commit.TreeHash, targetCommit, paths, cancel, progress); err != nil {
		return err
	}

	return w.Flush()
}

// SwitchBranch repoints the work tree's head-ref at the named branch and
// checks out its current commit in full.
func (w *WorkTree) SwitchBranch(branch string, progress checkout.Progress) error {
	ref := "refs/heads/" + branch
	target, err := w.Refs.ResolveHash(ref)
	if err != nil {
		return fmt.Errorf("switch branch %q: %w", branch, err)
	}
	if err := w.Meta.SetHeadRef(ref); err != nil {
		return fmt.Errorf("switch branch %q: %w", branch, err)
	}
	return w.Checkout(target, nil, nil, progress)
}
