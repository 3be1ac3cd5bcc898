package rebase

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hagenbeck/vctree/internal/commitpipeline"
	"github.com/hagenbeck/vctree/internal/diff3"
	"github.com/hagenbeck/vctree/internal/fileindex"
	"github.com/hagenbeck/vctree/internal/objstore"
	"github.com/hagenbeck/vctree/internal/refstore"
	"github.com/hagenbeck/vctree/internal/wterr"
)

type memStore struct {
	blobs   map[objstore.Hash][]byte
	trees   map[objstore.Hash]*objstore.Tree
	commits map[objstore.Hash]*objstore.Commit
	next    int
}

func newMemStore() *memStore {
	return &memStore{
		blobs:   make(map[objstore.Hash][]byte),
		trees:   make(map[objstore.Hash]*objstore.Tree),
		commits: make(map[objstore.Hash]*objstore.Commit),
	}
}

func (m *memStore) ReadBlob(h objstore.Hash) (*objstore.Blob, error) {
	data, ok := m.blobs[h]
	if !ok {
		return nil, errors.New("no such blob")
	}
	return &objstore.Blob{Data: data}, nil
}

func (m *memStore) ReadBlobBytes(h objstore.Hash) ([]byte, error) {
	b, err := m.ReadBlob(h)
	if err != nil {
		return nil, err
	}
	return b.Data, nil
}

func (m *memStore) WriteBlob(b *objstore.Blob) (objstore.Hash, error) {
	m.next++
	h := objstore.Hash(rune('a' - 1 + m.next))
	m.blobs[h] = b.Data
	return h, nil
}

func (m *memStore) ReadTree(h objstore.Hash) (*objstore.Tree, error) {
	if h.IsZero() {
		return &objstore.Tree{}, nil
	}
	t, ok := m.trees[h]
	if !ok {
		return nil, errors.New("no such tree")
	}
	return t, nil
}

func (m *memStore) WriteTree(t *objstore.Tree) (objstore.Hash, error) {
	m.next++
	h := objstore.Hash(rune('A' - 1 + m.next))
	m.trees[h] = t
	return h, nil
}

func (m *memStore) WriteCommit(c *objstore.Commit) (objstore.Hash, error) {
	m.next++
	h := objstore.Hash(rune('0' + m.next))
	m.commits[h] = c
	return h, nil
}

func (m *memStore) ReadCommit(h objstore.Hash) (*objstore.Commit, error) {
	c, ok := m.commits[h]
	if !ok {
		return nil, errors.New("no such commit")
	}
	return c, nil
}

type blobReaderAdapter struct{ *memStore }

func (b blobReaderAdapter) ReadBlob(h objstore.Hash) ([]byte, error) { return b.ReadBlobBytes(h) }

func newRefs(t *testing.T) *refstore.Store {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "refs", "heads"), 0o755); err != nil {
		t.Fatal(err)
	}
	return refstore.New(dir)
}

type fakeHead struct {
	headRef    string
	baseCommit objstore.Hash
}

func (f *fakeHead) SetHeadRef(ref string) error         { f.headRef = ref; return nil }
func (f *fakeHead) SetBaseCommit(id objstore.Hash) error { f.baseCommit = id; return nil }

func writeFile(t *testing.T, wtRoot, rel, content string) {
	t.Helper()
	p := filepath.Join(wtRoot, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCheckCleanPassesOnCleanWorkTree(t *testing.T) {
	store := newMemStore()
	store.blobs["h1"] = []byte("content")
	wtRoot := t.TempDir()
	writeFile(t, wtRoot, "a.txt", "content")

	idx := fileindex.New()
	idx.Put(fileindex.Entry{Path: "a.txt", BlobID: "h1", CommitID: "base"})

	if err := CheckClean(blobReaderAdapter{store}, idx, wtRoot, "base"); err != nil {
		t.Fatalf("CheckClean: %v", err)
	}
}

func TestCheckCleanRejectsStagedEntry(t *testing.T) {
	store := newMemStore()
	wtRoot := t.TempDir()
	idx := fileindex.New()
	idx.Put(fileindex.Entry{Path: "a.txt", Stage: fileindex.StageAdd, CommitID: "base"})

	err := CheckClean(blobReaderAdapter{store}, idx, wtRoot, "base")
	if !wterr.Is(err, wterr.FileStaged) {
		t.Fatalf("expected FileStaged, got %v", err)
	}
}

func TestCheckCleanRejectsMixedCommits(t *testing.T) {
	store := newMemStore()
	store.blobs["h1"] = []byte("content")
	wtRoot := t.TempDir()
	writeFile(t, wtRoot, "a.txt", "content")

	idx := fileindex.New()
	idx.Put(fileindex.Entry{Path: "a.txt", BlobID: "h1", CommitID: "other-base"})

	err := CheckClean(blobReaderAdapter{store}, idx, wtRoot, "base")
	if !wterr.Is(err, wterr.MixedCommits) {
		t.Fatalf("expected MixedCommits, got %v", err)
	}
}

func TestCheckCleanRejectsModifiedFile(t *testing.T) {
	store := newMemStore()
	store.blobs["h1"] = []byte("content")
	wtRoot := t.TempDir()
	writeFile(t, wtRoot, "a.txt", "edited")

	idx := fileindex.New()
	idx.Put(fileindex.Entry{Path: "a.txt", BlobID: "h1", CommitID: "base"})

	err := CheckClean(blobReaderAdapter{store}, idx, wtRoot, "base")
	if !wterr.Is(err, wterr.Modified) {
		t.Fatalf("expected Modified, got %v", err)
	}
}

func TestPreparePlantsDerivedRefsAndMovesHead(t *testing.T) {
	store := newMemStore()
	wtRoot := t.TempDir()
	idx := fileindex.New()
	refs := newRefs(t)
	head := &fakeHead{}

	names, err := Prepare(refs, head, blobReaderAdapter{store}, idx, wtRoot, "uuid-1", "main", "base-commit")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	tmp, err := refs.ResolveHash(names.TmpBranch)
	if err != nil || tmp != "base-commit" {
		t.Fatalf("tmp-branch = %q, %v; want base-commit", tmp, err)
	}
	newBase, err := refs.Resolve(names.NewBase)
	if err != nil || newBase.Symlink != "refs/heads/main" {
		t.Fatalf("newbase-symref = %+v, %v", newBase, err)
	}
	branch, err := refs.Resolve(names.Branch)
	if err != nil || branch.Symlink != "refs/heads/main" {
		t.Fatalf("branch-symref = %+v, %v", branch, err)
	}
	if head.headRef != names.TmpBranch {
		t.Fatalf("head ref = %q, want %q", head.headRef, names.TmpBranch)
	}
}

func TestReplayCommitAppliesChangeAndAdvancesTmpBranch(t *testing.T) {
	store := newMemStore()
	store.blobs["h-parent"] = []byte("parent content\n")
	store.blobs["h-source"] = []byte("source content\n")
	parentTree := objstore.Hash("parent-tree")
	store.trees[parentTree] = &objstore.Tree{Entries: []objstore.TreeEntry{
		{Name: "a.txt", Mode: objstore.ModeFile, BlobHash: "h-parent"},
	}}
	sourceTree := objstore.Hash("source-tree")
	store.trees[sourceTree] = &objstore.Tree{Entries: []objstore.TreeEntry{
		{Name: "a.txt", Mode: objstore.ModeFile, BlobHash: "h-source"},
	}}
	parentCommit := &objstore.Commit{TreeHash: parentTree}
	store.commits["parent-commit"] = parentCommit
	store.commits["tmp-base"] = &objstore.Commit{TreeHash: parentTree}
	sourceCommit := &objstore.Commit{
		TreeHash: sourceTree,
		Parents:  []objstore.Hash{"parent-commit"},
		Author:   "dev <dev@example.com>",
		Message:  "change a.txt",
	}
	store.commits["source-commit"] = sourceCommit

	wtRoot := t.TempDir()
	writeFile(t, wtRoot, "a.txt", "parent content\n")

	idx := fileindex.New()
	idx.Put(fileindex.Entry{Path: "a.txt", BlobID: "h-parent", CommitID: "tmp-base"})

	refs := newRefs(t)
	names := Derive("uuid-2")
	h, err := refs.Open(names.TmpBranch, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Alloc("tmp-base"); err != nil {
		t.Fatal(err)
	}
	if err := h.Write("seed"); err != nil {
		t.Fatal(err)
	}

	res, err := ReplayCommit(store, blobReaderAdapter{store}, store, refs, names, idx, wtRoot, "source-commit", diff3.Labels{}, ReplayOptions{Now: 42})
	if err != nil {
		t.Fatalf("ReplayCommit: %v", err)
	}
	if res.Elided {
		t.Fatal("expected a real commit, not elided")
	}

	got, err := os.ReadFile(filepath.Join(wtRoot, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "source content\n" {
		t.Fatalf("content = %q, want source content", got)
	}

	tmpHead, err := refs.ResolveHash(names.TmpBranch)
	if err != nil || tmpHead != res.NewCommit {
		t.Fatalf("tmp-branch = %q, %v; want %q", tmpHead, err, res.NewCommit)
	}

	if _, err := refs.Resolve(names.Commit); err == nil {
		t.Fatal("expected commit-ref to be cleared after a successful replay")
	}

	newCommitObj, err := store.ReadCommit(res.NewCommit)
	if err != nil {
		t.Fatal(err)
	}
	if newCommitObj.Message != "change a.txt" {
		t.Fatalf("message = %q, want the source commit's message", newCommitObj.Message)
	}
	if newCommitObj.Author != "dev <dev@example.com>" {
		t.Fatalf("author = %q, want the source commit's author", newCommitObj.Author)
	}
}

func TestReplayCommitIdempotentOnResume(t *testing.T) {
	store := newMemStore()
	refs := newRefs(t)
	names := Derive("uuid-3")

	h, err := refs.Open(names.Commit, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Alloc("source-commit"); err != nil {
		t.Fatal(err)
	}
	if err := h.Write("seed"); err != nil {
		t.Fatal(err)
	}

	err = recordCommitRef(refs, names.Commit, "source-commit")
	if err != nil {
		t.Fatalf("expected resuming with the same source commit to be idempotent: %v", err)
	}
	_ = store
}

func TestReplayCommitRejectsMismatchedResume(t *testing.T) {
	refs := newRefs(t)
	names := Derive("uuid-4")

	h, err := refs.Open(names.Commit, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Alloc("commit-A"); err != nil {
		t.Fatal(err)
	}
	if err := h.Write("seed"); err != nil {
		t.Fatal(err)
	}

	err = recordCommitRef(refs, names.Commit, "commit-B")
	if !wterr.Is(err, wterr.RebaseCommitID) {
		t.Fatalf("expected RebaseCommitID, got %v", err)
	}
}

func TestCompleteFastForwardsOriginalBranch(t *testing.T) {
	refs := newRefs(t)
	names := Derive("uuid-5")
	head := &fakeHead{}

	for _, step := range []struct {
		name   string
		target objstore.Hash
		symref string
	}{
		{names.TmpBranch, "final-commit", ""},
		{names.Branch, "", "refs/heads/main"},
		{names.NewBase, "", "refs/heads/main"},
	} {
		h, err := refs.Open(step.name, true)
		if err != nil {
			t.Fatal(err)
		}
		if step.symref != "" {
			err = h.AllocSymref(step.symref)
		} else {
			err = h.Alloc(step.target)
		}
		if err != nil {
			t.Fatal(err)
		}
		if err := h.Write("seed"); err != nil {
			t.Fatal(err)
		}
	}

	if err := Complete(refs, head, names); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	mainHash, err := refs.ResolveHash("refs/heads/main")
	if err != nil || mainHash != "final-commit" {
		t.Fatalf("main = %q, %v; want final-commit", mainHash, err)
	}
	if head.headRef != "refs/heads/main" {
		t.Fatalf("head ref = %q, want refs/heads/main", head.headRef)
	}
	if _, err := refs.Resolve(names.TmpBranch); err == nil {
		t.Fatal("expected tmp-branch to be deleted after Complete")
	}
}

func TestAbortRestoresOriginalBranchState(t *testing.T) {
	refs := newRefs(t)
	names := Derive("uuid-6")
	head := &fakeHead{}

	mh, err := refs.Open("refs/heads/main", true)
	if err != nil {
		t.Fatal(err)
	}
	if err := mh.Alloc("orig-commit"); err != nil {
		t.Fatal(err)
	}
	if err := mh.Write("seed"); err != nil {
		t.Fatal(err)
	}

	nh, err := refs.Open(names.NewBase, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := nh.AllocSymref("refs/heads/main"); err != nil {
		t.Fatal(err)
	}
	if err := nh.Write("seed"); err != nil {
		t.Fatal(err)
	}

	th, err := refs.Open(names.TmpBranch, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := th.Alloc("in-progress-commit"); err != nil {
		t.Fatal(err)
	}
	if err := th.Write("seed"); err != nil {
		t.Fatal(err)
	}

	branch, baseID, err := Abort(refs, head, names)
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if branch != "refs/heads/main" {
		t.Fatalf("branch = %q, want refs/heads/main", branch)
	}
	if baseID != "orig-commit" {
		t.Fatalf("baseID = %q, want orig-commit", baseID)
	}
	if head.headRef != "refs/heads/main" || head.baseCommit != "orig-commit" {
		t.Fatalf("head state after abort = %+v", head)
	}
	if _, err := refs.Resolve(names.TmpBranch); err == nil {
		t.Fatal("expected tmp-branch to be deleted after Abort")
	}
}

// TestFoldThenPickLandsOneCommit exercises spec.md's histedit fold
// scenario ("fold H1 / drop H2 / pick H3 / mesg committing folded
// changes"): H1's diff is replayed via ReplayFold (no commit), H2 is
// simply never replayed (dropped), and H3's own diff is replayed via
// ReplayCommit with H1's touched paths folded in and the script's mesg
// overriding the message. The result must be a single new commit,
// parented directly on tmp-branch's seed, carrying both H1's and H3's
// changes.
func TestFoldThenPickLandsOneCommit(t *testing.T) {
	store := newMemStore()
	store.blobs["h-base-a"] = []byte("base\n")
	store.blobs["h-base-c"] = []byte("base\n")
	store.blobs["h1-a"] = []byte("h1\n")
	store.blobs["h2-b"] = []byte("h2\n")
	store.blobs["h3-c"] = []byte("h3\n")

	baseTree := objstore.Hash("base-tree")
	store.trees[baseTree] = &objstore.Tree{Entries: []objstore.TreeEntry{
		{Name: "a.txt", Mode: objstore.ModeFile, BlobHash: "h-base-a"},
		{Name: "c.txt", Mode: objstore.ModeFile, BlobHash: "h-base-c"},
	}}
	h1Tree := objstore.Hash("h1-tree")
	store.trees[h1Tree] = &objstore.Tree{Entries: []objstore.TreeEntry{
		{Name: "a.txt", Mode: objstore.ModeFile, BlobHash: "h1-a"},
		{Name: "c.txt", Mode: objstore.ModeFile, BlobHash: "h-base-c"},
	}}
	h2Tree := objstore.Hash("h2-tree")
	store.trees[h2Tree] = &objstore.Tree{Entries: []objstore.TreeEntry{
		{Name: "a.txt", Mode: objstore.ModeFile, BlobHash: "h1-a"},
		{Name: "b.txt", Mode: objstore.ModeFile, BlobHash: "h2-b"},
		{Name: "c.txt", Mode: objstore.ModeFile, BlobHash: "h-base-c"},
	}}
	h3Tree := objstore.Hash("h3-tree")
	store.trees[h3Tree] = &objstore.Tree{Entries: []objstore.TreeEntry{
		{Name: "a.txt", Mode: objstore.ModeFile, BlobHash: "h1-a"},
		{Name: "b.txt", Mode: objstore.ModeFile, BlobHash: "h2-b"},
		{Name: "c.txt", Mode: objstore.ModeFile, BlobHash: "h3-c"},
	}}

	store.commits["base-commit"] = &objstore.Commit{TreeHash: baseTree}
	store.commits["H1"] = &objstore.Commit{TreeHash: h1Tree, Parents: []objstore.Hash{"base-commit"}, Message: "add a.txt"}
	store.commits["H2"] = &objstore.Commit{TreeHash: h2Tree, Parents: []objstore.Hash{"H1"}, Message: "add b.txt"}
	store.commits["H3"] = &objstore.Commit{TreeHash: h3Tree, Parents: []objstore.Hash{"H2"}, Message: "change c.txt"}
	store.commits["tmp-base"] = &objstore.Commit{TreeHash: baseTree}

	wtRoot := t.TempDir()
	writeFile(t, wtRoot, "a.txt", "base\n")
	writeFile(t, wtRoot, "c.txt", "base\n")

	idx := fileindex.New()
	idx.Put(fileindex.Entry{Path: "a.txt", BlobID: "h-base-a", CommitID: "tmp-base"})
	idx.Put(fileindex.Entry{Path: "c.txt", BlobID: "h-base-c", CommitID: "tmp-base"})

	refs := newRefs(t)
	names := Derive("scenario-4")
	h, err := refs.Open(names.TmpBranch, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Alloc("tmp-base"); err != nil {
		t.Fatal(err)
	}
	if err := h.Write("seed"); err != nil {
		t.Fatal(err)
	}

	touched, err := ReplayFold(store, refs, names, wtRoot, "H1", diff3.Labels{})
	if err != nil {
		t.Fatalf("ReplayFold: %v", err)
	}
	if len(touched) != 1 || touched[0] != "a.txt" {
		t.Fatalf("ReplayFold touched = %v, want [a.txt]", touched)
	}
	if got, _ := os.ReadFile(filepath.Join(wtRoot, "a.txt")); string(got) != "h1\n" {
		t.Fatalf("a.txt after fold = %q, want h1", got)
	}
	if _, err := refs.Resolve(names.Commit); err == nil {
		t.Fatal("expected commit-ref to be cleared after ReplayFold")
	}
	if tip, err := refs.ResolveHash(names.TmpBranch); err != nil || tip != "tmp-base" {
		t.Fatalf("tmp-branch moved during a fold step: %q, %v", tip, err)
	}

	// H2 is dropped: never replayed at all.

	opts := ReplayOptions{
		FoldedPaths: touched,
		Message: func(string, []*commitpipeline.Commitable) (string, error) {
			return "committing folded changes", nil
		},
		Now: 99,
	}
	res, err := ReplayCommit(store, blobReaderAdapter{store}, store, refs, names, idx, wtRoot, "H3", diff3.Labels{}, opts)
	if err != nil {
		t.Fatalf("ReplayCommit: %v", err)
	}
	if res.Elided {
		t.Fatal("expected a real commit, not elided")
	}

	newCommit, err := store.ReadCommit(res.NewCommit)
	if err != nil {
		t.Fatal(err)
	}
	if newCommit.Message != "committing folded changes" {
		t.Fatalf("message = %q, want the script's mesg override", newCommit.Message)
	}
	if len(newCommit.Parents) != 1 || newCommit.Parents[0] != "tmp-base" {
		t.Fatalf("parents = %v, want exactly [tmp-base]: fold must not have landed its own commit", newCommit.Parents)
	}

	newTree, err := store.ReadTree(newCommit.TreeHash)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]objstore.Hash{}
	for _, e := range newTree.Entries {
		got[e.Name] = e.BlobHash
	}
	if got["a.txt"] != "h1-a" {
		t.Fatalf("a.txt blob in result tree = %q, want h1-a (H1's fold)", got["a.txt"])
	}
	if got["c.txt"] != "h3-c" {
		t.Fatalf("c.txt blob in result tree = %q, want h3-c (H3's own diff)", got["c.txt"])
	}
	if _, ok := got["b.txt"]; ok {
		t.Fatal("b.txt must be absent from the result tree: H2 was dropped")
	}

	tip, err := refs.ResolveHash(names.TmpBranch)
	if err != nil || tip != res.NewCommit {
		t.Fatalf("tmp-branch = %q, %v; want %q", tip, err, res.NewCommit)
	}
}
