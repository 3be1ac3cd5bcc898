// Package commitpipeline implements the commit pipeline (C8): collecting
// the set of paths whose state differs from the work tree's base tree,
// checking each against the current head commit for staleness, writing
// blobs and trees for the result, and landing a new commit object on the
// head reference under compare-and-swap.
package commitpipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hagenbeck/vctree/internal/fileindex"
	"github.com/hagenbeck/vctree/internal/objstore"
	"github.com/hagenbeck/vctree/internal/pathutil"
	"github.com/hagenbeck/vctree/internal/refstore"
	"github.com/hagenbeck/vctree/internal/status"
	"github.com/hagenbeck/vctree/internal/treediff"
	"github.com/hagenbeck/vctree/internal/wterr"
)

// Commitable is a transient record built for every path whose staged or
// unstaged state differs from the base tree.
type Commitable struct {
	Path         string
	RepoPath     string
	OnDiskPath   string
	Status       status.Code
	Staged       bool
	Mode         string
	BlobID       objstore.Hash
	BaseBlobID   objstore.Hash
	StagedBlobID objstore.Hash
	BaseCommitID objstore.Hash
}

// Collect walks idx restricted to paths (empty means the whole index),
// classifying each entry's on-disk state. If any entry in the index
// carries staged state, only staged entries are eligible — an unstaged
// edit sitting alongside a staged one is left out of the commit rather
// than swept in silently. A conflict marker on any eligible path aborts
// the whole collection with wterr.CommitConflict. Every element of paths
// must be covered by some commitable (equal to it or its ancestor), else
// wterr.BadPath. An empty result aborts with wterr.NoChanges.
func Collect(store status.BlobReader, idx *fileindex.Index, wtRoot string, paths []string) ([]*Commitable, error) {
	hasStaged := false
	if err := idx.Each(func(e *fileindex.Entry) error {
		if e.Stage != fileindex.StageNone {
			hasStaged = true
		}
		return nil
	}); err != nil {
		return nil, err
	}

	scope := scopeFunc(paths)

	var out []*Commitable
	for _, p := range idx.Paths() {
		if !scope(p) {
			continue
		}
		e := idx.Get(p)
		if e == nil {
			continue
		}
		if hasStaged && e.Stage == fileindex.StageNone {
			continue
		}

		onDiskPath := filepath.Join(wtRoot, filepath.FromSlash(p))
		res, err := status.Classify(store, e, onDiskPath)
		if err != nil {
			return nil, fmt.Errorf("commit collect %q: %w", p, err)
		}

		switch res.Code {
		case status.Conflict:
			return nil, wterr.New(wterr.CommitConflict, fmt.Errorf("path %q has unresolved conflict markers", p))
		case status.Modify, status.Add, status.Delete, status.ModeChange:
			out = append(out, commitableFor(e, p, wtRoot, res.Code))
		}
	}

	if len(out) == 0 {
		return nil, wterr.New(wterr.NoChanges, nil)
	}

	for _, want := range paths {
		covered := false
		for _, c := range out {
			if c.Path == want || pathutil.IsChild(c.Path, want) {
				covered = true
				break
			}
		}
		if !covered {
			return nil, wterr.New(wterr.BadPath, fmt.Errorf("path %q has no pending change", want))
		}
	}

	return out, nil
}

func scopeFunc(paths []string) func(string) bool {
	if len(paths) == 0 {
		return func(string) bool { return true }
	}
	return func(p string) bool {
		for _, want := range paths {
			if p == want || pathutil.IsChild(p, want) {
				return true
			}
		}
		return false
	}
}

func commitableFor(e *fileindex.Entry, p, wtRoot string, code status.Code) *Commitable {
	mode := objstore.ModeFile
	if e.Stat.Executable {
		mode = objstore.ModeExecutable
	}
	if e.FileType == fileindex.FileSymlink {
		mode = objstore.ModeSymlink
	}

	c := &Commitable{
		Path:         p,
		RepoPath:     p,
		OnDiskPath:   filepath.Join(wtRoot, filepath.FromSlash(p)),
		Status:       code,
		Staged:       e.Stage != fileindex.StageNone,
		Mode:         mode,
		BlobID:       e.StagedBlobID,
		BaseBlobID:   e.BlobID,
		StagedBlobID: e.StagedBlobID,
		BaseCommitID: e.CommitID,
	}
	if c.BlobID.IsZero() {
		c.BlobID = e.BlobID
	}
	return c
}

// ObjectStore is the subset of objstore.Store the commit pipeline needs.
type ObjectStore interface {
	WriteBlob(b *objstore.Blob) (objstore.Hash, error)
	ReadTree(h objstore.Hash) (*objstore.Tree, error)
	WriteTree(t *objstore.Tree) (objstore.Hash, error)
	WriteCommit(c *objstore.Commit) (objstore.Hash, error)
	ReadCommit(h objstore.Hash) (*objstore.Commit, error)
}

// BaseCommitSetter mirrors checkout's interface: re-planting the
// protective base-commit ref after a successful commit.
type BaseCommitSetter interface {
	SetBaseCommit(id objstore.Hash) error
}

// Options configures Run. Identity strings are "Name <email>"; Now
// overrides the commit timestamp (tests pass a fixed value — callers in
// production leave it zero and Run substitutes time.Now()).
type Options struct {
	Author    string
	Committer string
	Message   func([]*Commitable) (string, error)
	Now       int64
}

// Result is the outcome of a successful Run.
type Result struct {
	CommitID objstore.Hash
	TreeHash objstore.Hash
}

// Run executes the full commit pipeline against an already-collected
// commitable set: out-of-date checks against the head commit, blob
// creation, recursive tree writing, commit object creation, a
// compare-and-swapped head update, and index sync. refs is opened fresh
// inside Run so the CAS window is as narrow as possible; headRefName is
// either "HEAD" (detached) or "refs/heads/<branch>".
func Run(store ObjectStore, refs *refstore.Store, headRefName string, idx *fileindex.Index, pathPrefix string, commitables []*Commitable, base BaseCommitSetter, opts Options) (Result, error) {
	headHash, err := refs.ResolveHash(headRefName)
	if err != nil {
		headHash = ""
	}

	var headCommit *objstore.Commit
	if !headHash.IsZero() {
		headCommit, err = store.ReadCommit(headHash)
		if err != nil {
			return Result{}, fmt.Errorf("commit: read head commit: %w", err)
		}
	}

	for _, c := range commitables {
		if c.BaseCommitID == headHash {
			continue
		}
		if err := checkOutOfDate(store, headCommit, pathPrefix, c); err != nil {
			return Result{}, err
		}
	}

	for _, c := range commitables {
		if c.Status == status.Delete || c.Staged {
			continue
		}
		data, err := readOnDisk(c)
		if err != nil {
			return Result{}, fmt.Errorf("commit: read %q: %w", c.Path, err)
		}
		blobHash, err := store.WriteBlob(&objstore.Blob{Data: data})
		if err != nil {
			return Result{}, fmt.Errorf("commit: write blob for %q: %w", c.Path, err)
		}
		c.BlobID = blobHash
	}

	var baseTree objstore.Hash
	if headCommit != nil {
		baseTree = headCommit.TreeHash
	}
	newTree, err := writeTree(store, baseTree, pathPrefix, commitables)
	if err != nil {
		return Result{}, fmt.Errorf("commit: write tree: %w", err)
	}

	message := ""
	if opts.Message != nil {
		message, err = opts.Message(commitables)
		if err != nil {
			return Result{}, fmt.Errorf("commit: message callback: %w", err)
		}
	}
	if message == "" {
		return Result{}, wterr.New(wterr.MsgEmpty, nil)
	}

	now := opts.Now
	if now == 0 {
		now = time.Now().Unix()
	}

	var parents []objstore.Hash
	if !headHash.IsZero() {
		parents = []objstore.Hash{headHash}
	}

	commitObj := &objstore.Commit{
		TreeHash:  newTree,
		Parents:   parents,
		Author:    opts.Author,
		AuthorAt:  now,
		Committer: opts.Committer,
		CommitAt:  now,
		Message:   message,
	}
	commitHash, err := store.WriteCommit(commitObj)
	if err != nil {
		return Result{}, fmt.Errorf("commit: write commit object: %w", err)
	}

	h, err := refs.Open(headRefName, true)
	if err != nil {
		return Result{}, fmt.Errorf("commit: open head ref: %w", err)
	}
	if h.Old().Hash != headHash {
		h.Unlock()
		return Result{}, wterr.New(wterr.HeadChanged, nil)
	}
	if headHash.IsZero() {
		err = h.Alloc(commitHash)
	} else {
		err = h.Change(commitHash)
	}
	if err != nil {
		h.Unlock()
		return Result{}, fmt.Errorf("commit: stage head update: %w", err)
	}
	if err := h.Write("commit: " + string(commitHash)); err != nil {
		return Result{}, fmt.Errorf("commit: %w", wterr.New(wterr.HeadChanged, err))
	}

	if base != nil {
		_ = base.SetBaseCommit(commitHash)
	}

	syncIndex(idx, commitables, commitHash)

	return Result{CommitID: commitHash, TreeHash: newTree}, nil
}

func checkOutOfDate(store ObjectStore, headCommit *objstore.Commit, pathPrefix string, c *Commitable) error {
	if headCommit == nil {
		if c.Status == status.Add {
			return nil
		}
		return wterr.New(wterr.OutOfDate, fmt.Errorf("path %q: no head commit but status is %v", c.Path, c.Status))
	}
	found, blobHash, err := lookupPath(store, headCommit.TreeHash, joinRepoPath(pathPrefix, c.Path))
	if err != nil {
		return fmt.Errorf("commit out-of-date check %q: %w", c.Path, err)
	}
	switch c.Status {
	case status.Add:
		if found {
			return wterr.New(wterr.OutOfDate, fmt.Errorf("path %q already exists in head", c.Path))
		}
	case status.Modify, status.Delete, status.ModeChange:
		if !found || blobHash != c.BaseBlobID {
			return wterr.New(wterr.OutOfDate, fmt.Errorf("path %q changed in head since base", c.Path))
		}
	}
	return nil
}

func joinRepoPath(prefix, p string) string {
	if prefix == "" || prefix == "/" {
		return p
	}
	return pathutil.Canonicalize(prefix) + "/" + p
}

func lookupPath(store ObjectStore, treeHash objstore.Hash, repoPath string) (bool, objstore.Hash, error) {
	flat, err := treediff.Flatten(flattenAdapter{store}, treeHash)
	if err != nil {
		return false, "", err
	}
	for _, e := range flat {
		if e.Path == repoPath {
			return true, e.BlobHash, nil
		}
	}
	return false, "", nil
}

type flattenAdapter struct{ store ObjectStore }

func (a flattenAdapter) ReadTree(h objstore.Hash) (*objstore.Tree, error) { return a.store.ReadTree(h) }

func readOnDisk(c *Commitable) ([]byte, error) {
	if c.Mode == objstore.ModeSymlink {
		target, err := os.Readlink(c.OnDiskPath)
		if err != nil {
			return nil, err
		}
		return []byte(target), nil
	}
	return os.ReadFile(c.OnDiskPath)
}

// writeTree rebuilds the tree at pathPrefix, starting from baseTree and
// applying every commitable: add/modify/mode-change entries get a fresh
// leaf, delete entries are dropped, everything else is carried over
// verbatim from baseTree via Flatten+BuildTree (which already drops
// subtrees that end up empty).
func writeTree(store ObjectStore, baseTree objstore.Hash, pathPrefix string, commitables []*Commitable) (objstore.Hash, error) {
	flat, err := treediff.Flatten(flattenAdapter{store}, baseTree)
	if err != nil {
		return "", err
	}

	byPath := make(map[string]treediff.TreeEntry, len(flat))
	for _, e := range flat {
		byPath[e.Path] = e
	}

	for _, c := range commitables {
		repoPath := joinRepoPath(pathPrefix, c.Path)
		switch c.Status {
		case status.Delete:
			delete(byPath, repoPath)
		default:
			byPath[repoPath] = treediff.TreeEntry{Path: repoPath, Mode: c.Mode, BlobHash: c.BlobID}
		}
	}

	merged := make([]treediff.TreeEntry, 0, len(byPath))
	for _, e := range byPath {
		merged = append(merged, e)
	}
	merged = treediff.SortTreeEntries(merged)

	return treediff.BuildTree(treeWriterAdapter{store}, merged)
}

type treeWriterAdapter struct{ store ObjectStore }

func (a treeWriterAdapter) WriteTree(t *objstore.Tree) (objstore.Hash, error) { return a.store.WriteTree(t) }

// syncIndex deletes entries whose status was delete, otherwise updates
// their blob-id/commit-id and clears staged state.
func syncIndex(idx *fileindex.Index, commitables []*Commitable, newCommitID objstore.Hash) {
	for _, c := range commitables {
		if c.Status == status.Delete {
			idx.Remove(c.Path)
			continue
		}
		e := idx.Get(c.Path)
		if e == nil {
			continue
		}
		e.BlobID = c.BlobID
		e.CommitID = newCommitID
		e.Stage = fileindex.StageNone
		e.StagedBlobID = ""
		idx.Put(*e)
	}
}
