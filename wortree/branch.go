package wortree

import "github.com/hagenbeck/vctree/internal/objstore"

// ListBranches returns the repository's branch names.
func (w *WorkTree) ListBranches() ([]string, error) {
	return w.Refs.ListBranches()
}

// CurrentBranch returns the branch name the work tree's head-ref
// currently points at, if it is a branch ref at all.
func (w *WorkTree) CurrentBranch() (string, error) {
	return w.Refs.CurrentBranch()
}

// CreateBranch creates a new branch at target.
func (w *WorkTree) CreateBranch(name string, target objstore.Hash) error {
	return w.Refs.CreateBranch(name, target)
}

// DeleteBranch deletes a branch ref.
func (w *WorkTree) DeleteBranch(name string) error {
	return w.Refs.DeleteBranch(name)
}

// ResolveBranchOrCommit resolves ref as a branch name first, falling
// back to treating it as a raw commit hash if no such branch exists.
func (w *WorkTree) ResolveBranchOrCommit(ref string) (objstore.Hash, error) {
	if h, err := w.Refs.ResolveHash("refs/heads/" + ref); err == nil {
		return h, nil
	}
	return objstore.Hash(ref), nil
}
