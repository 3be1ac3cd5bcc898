// Package wortree binds the work-tree engine's components (C1-C10) into
// a single WorkTree type: the object store, reference store, metadata
// store, and file index on one side, and the status/merge/checkout/
// commit/rebase/histedit/stage operations on the other. It mirrors the
// teacher's Repo god-object, split along the component boundaries the
// engine's packages already establish.
package wortree

import (
	"crypto/rand"
	"fmt"
	"path/filepath"

	"github.com/hagenbeck/vctree/internal/fileindex"
	"github.com/hagenbeck/vctree/internal/ignore"
	"github.com/hagenbeck/vctree/internal/meta"
	"github.com/hagenbeck/vctree/internal/objstore"
	"github.com/hagenbeck/vctree/internal/refstore"
	"github.com/hagenbeck/vctree/internal/wterr"
)

const indexFileName = "index"

// WorkTree is an opened work tree: its metadata, object store, reference
// store, and in-memory file index, plus a lazily-loaded ignore checker.
type WorkTree struct {
	Meta  *meta.Store
	Store *objstore.Store
	Refs  *refstore.Store
	Index *fileindex.Index

	blobs  blobBytesAdapter
	ignore *ignore.Checker
}

// blobBytesAdapter adapts *objstore.Store's ReadBlob (which returns
// *objstore.Blob) to the []byte-returning ReadBlob signature shared by
// internal/status, internal/checkout, and internal/stage. WriteBlob,
// ReadTree, WriteTree, WriteCommit, and ReadCommit are promoted straight
// from the embedded store, so this same value also satisfies
// internal/commitpipeline.ObjectStore and internal/rebase.CommitReader
// wherever the *Blob-returning form is wanted instead.
type blobBytesAdapter struct {
	*objstore.Store
}

func (b blobBytesAdapter) ReadBlob(h objstore.Hash) ([]byte, error) {
	blob, err := b.Store.ReadBlob(h)
	if err != nil {
		return nil, err
	}
	return blob.Data, nil
}

// Init creates a brand-new work tree at root, backed by a fresh object
// store and reference store rooted at repoDir (repoDir == root is legal
// and typical for a self-contained work tree). defaultBranch seeds the
// reference store's initial branch name; the work tree's head-ref starts
// pointed at it with no base commit, matching a freshly initialized,
// empty history.
func Init(root, repoDir, defaultBranch string) (*WorkTree, error) {
	refs, err := refstore.Init(repoDir, defaultBranch)
	if err != nil {
		return nil, fmt.Errorf("wortree init: %w", err)
	}
	store := objstore.NewStore(repoDir)

	id, err := newUUID()
	if err != nil {
		return nil, fmt.Errorf("wortree init: %w", err)
	}

	m, err := meta.Init(root, "refs/heads/"+defaultBranch, "/", repoDir, id)
	if err != nil {
		return nil, fmt.Errorf("wortree init: %w", err)
	}

	return &WorkTree{
		Meta:  m,
		Store: store,
		Refs:  refs,
		Index: fileindex.New(),
		blobs: blobBytesAdapter{store},
	}, nil
}

// Open opens an existing work tree rooted anywhere at or below path,
// loading its metadata, object store, reference store, and persisted
// file index.
func Open(path string) (*WorkTree, error) {
	m, err := meta.Open(path)
	if err != nil {
		return nil, err
	}

	repoDir, err := m.Repository()
	if err != nil {
		m.Close()
		return nil, wterr.New(wterr.MetaCorrupt, err)
	}
	store := objstore.NewStore(repoDir)
	refs := refstore.New(repoDir)

	idx, err := fileindex.Load(filepath.Join(m.DotDir(), indexFileName))
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("wortree open: %w", err)
	}

	return &WorkTree{
		Meta:  m,
		Store: store,
		Refs:  refs,
		Index: idx,
		blobs: blobBytesAdapter{store},
	}, nil
}

// Close releases the work tree's lock; it does not persist the file index.
// Callers that mutate the work tree must call SaveIndex (or Flush) before
// Close.
func (w *WorkTree) Close() error {
	return w.Meta.Close()
}

// Flush saves the in-memory index to disk, then downgrades the work
// tree's lock to shared — the idiom every mutating operation ends with.
func (w *WorkTree) Flush() error {
	if err := w.SaveIndex(); err != nil {
		return err
	}
	return w.Meta.Downgrade()
}

// SaveIndex atomically persists the in-memory index to disk without
// touching the lock, useful mid-operation (e.g. between rebase steps).
func (w *WorkTree) SaveIndex() error {
	if err := fileindex.Save(filepath.Join(w.Meta.DotDir(), indexFileName), w.Index); err != nil {
		return fmt.Errorf("wortree: save index: %w", err)
	}
	return nil
}

// Root returns the work tree's root directory.
func (w *WorkTree) Root() string { return w.Meta.Root() }

// ignoreChecker lazily builds (and caches) the .vctreeignore checker for
// the work tree root.
func (w *WorkTree) ignoreChecker() *ignore.Checker {
	if w.ignore == nil {
		w.ignore = ignore.New(w.Root())
	}
	return w.ignore
}

// headRefName resolves the work tree's head-ref field to the string
// commitpipeline/checkout expect as a ref name: "HEAD" is returned
// as-is (detached), anything else is assumed to already be a fully
// qualified ref path ("refs/heads/<branch>").
func (w *WorkTree) headRefName() (string, error) {
	ref, err := w.Meta.HeadRef()
	if err != nil {
		return "", fmt.Errorf("wortree: head-ref: %w", err)
	}
	return ref, nil
}

func newUUID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate work tree uuid: %w", err)
	}
	buf[6] = (buf[6] & 0x0f) | 0x40
	buf[8] = (buf[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", buf[0:4], buf[4:6], buf[6:8], buf[8:10], buf[10:16]), nil
}
