package checkout

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hagenbeck/vctree/internal/fileindex"
	"github.com/hagenbeck/vctree/internal/objstore"
)

type memStore struct {
	blobs map[objstore.Hash][]byte
	trees map[objstore.Hash]*objstore.Tree
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[objstore.Hash][]byte), trees: make(map[objstore.Hash]*objstore.Tree)}
}

func (m *memStore) ReadBlob(h objstore.Hash) ([]byte, error) {
	data, ok := m.blobs[h]
	if !ok {
		return nil, errors.New("no such blob")
	}
	return data, nil
}

func (m *memStore) ReadTree(h objstore.Hash) (*objstore.Tree, error) {
	t, ok := m.trees[h]
	if !ok {
		return nil, errors.New("no such tree")
	}
	return t, nil
}

type fakeBaseSetter struct {
	calls int
	fail  bool
}

func (f *fakeBaseSetter) SetBaseCommit(id objstore.Hash) error {
	f.calls++
	if f.fail {
		return errors.New("read-only repository")
	}
	return nil
}

func TestFilesInstallsNewTreeIntoEmptyWorkTree(t *testing.T) {
	store := newMemStore()
	store.blobs["h-readme"] = []byte("hello world")
	root := objstore.Hash("root-tree")
	store.trees[root] = &objstore.Tree{Entries: []objstore.TreeEntry{
		{Name: "README.md", Mode: objstore.ModeFile, BlobHash: "h-readme"},
	}}

	wtRoot := t.TempDir()
	idx := fileindex.New()
	base := &fakeBaseSetter{}

	var events []Event
	err := Files(store, base, idx, wtRoot, root, "commit-1", nil, nil, func(e Event) { events = append(events, e) })
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(wtRoot, "README.md"))
	if err != nil {
		t.Fatalf("README.md not installed: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("content = %q, want %q", got, "hello world")
	}

	e := idx.Get("README.md")
	if e == nil {
		t.Fatal("expected README.md in index after checkout")
	}
	if e.CommitID != "commit-1" {
		t.Fatalf("CommitID = %q, want commit-1", e.CommitID)
	}
	if base.calls != 1 {
		t.Fatalf("SetBaseCommit calls = %d, want 1", base.calls)
	}
}

func TestFilesRemovesEntryAbsentFromTargetTree(t *testing.T) {
	store := newMemStore()
	root := objstore.Hash("empty-tree")
	store.trees[root] = &objstore.Tree{}

	wtRoot := t.TempDir()
	stalePath := filepath.Join(wtRoot, "stale.txt")
	if err := os.WriteFile(stalePath, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx := fileindex.New()
	idx.Put(fileindex.Entry{Path: "stale.txt", BlobID: "old-hash"})

	base := &fakeBaseSetter{}
	err := Files(store, base, idx, wtRoot, root, "commit-2", nil, nil, nil)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	if _, err := os.Stat(stalePath); !os.IsNotExist(err) {
		t.Fatal("expected stale.txt to be removed from disk")
	}
	if idx.Get("stale.txt") != nil {
		t.Fatal("expected stale.txt to be removed from the index")
	}
}

func TestFilesUpdatesChangedBlob(t *testing.T) {
	store := newMemStore()
	store.blobs["h-new"] = []byte("new content")
	root := objstore.Hash("root-tree")
	store.trees[root] = &objstore.Tree{Entries: []objstore.TreeEntry{
		{Name: "a.txt", Mode: objstore.ModeFile, BlobHash: "h-new"},
	}}

	wtRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(wtRoot, "a.txt"), []byte("old content"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx := fileindex.New()
	idx.Put(fileindex.Entry{Path: "a.txt", BlobID: "h-old", CommitID: "commit-0"})

	err := Files(store, &fakeBaseSetter{}, idx, wtRoot, root, "commit-3", nil, nil, nil)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(wtRoot, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new content" {
		t.Fatalf("content = %q, want new content", got)
	}
	e := idx.Get("a.txt")
	if e.BlobID != "h-new" || e.CommitID != "commit-3" {
		t.Fatalf("entry after update = %+v", e)
	}
}

func TestFilesSkipsInstallWhenBlobUnchanged(t *testing.T) {
	store := newMemStore()
	store.blobs["h1"] = []byte("unchanged")
	root := objstore.Hash("root-tree")
	store.trees[root] = &objstore.Tree{Entries: []objstore.TreeEntry{
		{Name: "a.txt", Mode: objstore.ModeFile, BlobHash: "h1"},
	}}

	wtRoot := t.TempDir()
	p := filepath.Join(wtRoot, "a.txt")
	if err := os.WriteFile(p, []byte("local edit"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx := fileindex.New()
	idx.Put(fileindex.Entry{Path: "a.txt", BlobID: "h1", CommitID: "commit-0"})

	var events []Event
	err := Files(store, &fakeBaseSetter{}, idx, wtRoot, root, "commit-4", nil, nil, func(e Event) { events = append(events, e) })
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	// Blob hash matches the index, so the on-disk local edit is left
	// alone even though it differs textually — install only runs on a
	// blob-hash mismatch.
	got, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "local edit" {
		t.Fatalf("content = %q, want local edit to survive untouched", got)
	}

	for _, e := range events {
		if e.Kind == EventInstalled {
			t.Fatal("did not expect an install event when the blob hash is unchanged")
		}
	}
}

func TestFilesBaseRefErrIsNotFatal(t *testing.T) {
	store := newMemStore()
	root := objstore.Hash("empty-tree")
	store.trees[root] = &objstore.Tree{}

	wtRoot := t.TempDir()
	idx := fileindex.New()
	base := &fakeBaseSetter{fail: true}

	var events []Event
	err := Files(store, base, idx, wtRoot, root, "commit-5", nil, nil, func(e Event) { events = append(events, e) })
	if err != nil {
		t.Fatalf("Files: %v, want nil (base-ref-err should downgrade to a progress event)", err)
	}

	found := false
	for _, e := range events {
		if e.Kind == EventBaseRefErr {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a EventBaseRefErr progress event")
	}
}
