package status

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hagenbeck/vctree/internal/fileindex"
	"github.com/hagenbeck/vctree/internal/objstore"
)

type memBlobs struct {
	byHash map[objstore.Hash][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{byHash: make(map[objstore.Hash][]byte)} }

func (m *memBlobs) put(h objstore.Hash, data []byte) { m.byHash[h] = data }

func (m *memBlobs) ReadBlob(h objstore.Hash) ([]byte, error) {
	data, ok := m.byHash[h]
	if !ok {
		return nil, errors.New("no such blob")
	}
	return data, nil
}

func TestClassifyUnversioned(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(p, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := Classify(newMemBlobs(), nil, p)
	if err != nil {
		t.Fatal(err)
	}
	if res.Code != Unversioned {
		t.Fatalf("Code = %v, want Unversioned", res.Code)
	}
}

func TestClassifyMissingWhenEntryExpectsFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "gone.txt")
	entry := &fileindex.Entry{Path: "gone.txt", BlobID: "abc"}
	res, err := Classify(newMemBlobs(), entry, p)
	if err != nil {
		t.Fatal(err)
	}
	if res.Code != Missing {
		t.Fatalf("Code = %v, want Missing", res.Code)
	}
}

func TestClassifyDeleteWhenMarkedDeletedFromDisk(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "gone.txt")
	entry := &fileindex.Entry{Path: "gone.txt", BlobID: "abc", DeletedFromDisk: true}
	res, err := Classify(newMemBlobs(), entry, p)
	if err != nil {
		t.Fatal(err)
	}
	if res.Code != Delete {
		t.Fatalf("Code = %v, want Delete", res.Code)
	}
}

func TestClassifyObstructed(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "fifo")
	// A directory stands in for "non-regular, non-symlink" without
	// requiring a real named pipe.
	if err := os.Mkdir(p, 0o755); err != nil {
		t.Fatal(err)
	}
	entry := &fileindex.Entry{Path: "fifo", BlobID: "abc"}
	res, err := Classify(newMemBlobs(), entry, p)
	if err != nil {
		t.Fatal(err)
	}
	if res.Code != Obstructed {
		t.Fatalf("Code = %v, want Obstructed", res.Code)
	}
}

func TestClassifyAddWhenNoBlobRecorded(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "new.txt")
	if err := os.WriteFile(p, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	entry := &fileindex.Entry{Path: "new.txt"}
	res, err := Classify(newMemBlobs(), entry, p)
	if err != nil {
		t.Fatal(err)
	}
	if res.Code != Add {
		t.Fatalf("Code = %v, want Add", res.Code)
	}
}

func TestClassifyNoChangeOnFingerprintMatch(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "same.txt")
	if err := os.WriteFile(p, []byte("same"), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := os.Lstat(p)
	if err != nil {
		t.Fatal(err)
	}
	entry := &fileindex.Entry{
		Path:   "same.txt",
		BlobID: "h1",
		Stat:   fingerprintFromFileInfo(info),
	}
	res, err := Classify(newMemBlobs(), entry, p)
	if err != nil {
		t.Fatal(err)
	}
	if res.Code != NoChange {
		t.Fatalf("Code = %v, want NoChange", res.Code)
	}
}

func TestClassifyNoChangeAfterContentCompareSyncsTimestamp(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "same.txt")
	if err := os.WriteFile(p, []byte("same"), 0o644); err != nil {
		t.Fatal(err)
	}

	blobs := newMemBlobs()
	blobs.put("h1", []byte("same"))

	// Stale fingerprint (stat differs) but identical content: the engine
	// must fall through to a content compare and report NoChange with a
	// refresh request.
	entry := &fileindex.Entry{
		Path:   "same.txt",
		BlobID: "h1",
		Stat:   fileindex.Fingerprint{Mtime: 1, Size: 999},
	}
	res, err := Classify(blobs, entry, p)
	if err != nil {
		t.Fatal(err)
	}
	if res.Code != NoChange {
		t.Fatalf("Code = %v, want NoChange", res.Code)
	}
	if !res.RefreshEntry {
		t.Fatal("expected RefreshEntry to be true after a content-compare clean match")
	}
}

func TestClassifyModifyOnContentMismatch(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "changed.txt")
	if err := os.WriteFile(p, []byte("new content"), 0o644); err != nil {
		t.Fatal(err)
	}

	blobs := newMemBlobs()
	blobs.put("h1", []byte("old content"))

	entry := &fileindex.Entry{
		Path:   "changed.txt",
		BlobID: "h1",
		Stat:   fileindex.Fingerprint{Mtime: 1, Size: 999},
	}
	res, err := Classify(blobs, entry, p)
	if err != nil {
		t.Fatal(err)
	}
	if res.Code != Modify {
		t.Fatalf("Code = %v, want Modify", res.Code)
	}
}

func TestClassifyConflictWhenMarkersPresent(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "conflicted.txt")
	body := "<<<<<<< ours\nmine\n=======\ntheirs\n>>>>>>> theirs\n"
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	blobs := newMemBlobs()
	blobs.put("h1", []byte("clean content"))

	entry := &fileindex.Entry{
		Path:   "conflicted.txt",
		BlobID: "h1",
		Stat:   fileindex.Fingerprint{Mtime: 1, Size: 999},
	}
	res, err := Classify(blobs, entry, p)
	if err != nil {
		t.Fatal(err)
	}
	if res.Code != Conflict {
		t.Fatalf("Code = %v, want Conflict", res.Code)
	}
}

func TestClassifyModifyOnSymlinkVsRegularMismatch(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "link")
	if err := os.WriteFile(p, []byte("not a link"), 0o644); err != nil {
		t.Fatal(err)
	}

	entry := &fileindex.Entry{
		Path:     "link",
		BlobID:   "h1",
		FileType: fileindex.FileSymlink,
		Stat:     fileindex.Fingerprint{Mtime: 1, Size: 999},
	}
	res, err := Classify(newMemBlobs(), entry, p)
	if err != nil {
		t.Fatal(err)
	}
	if res.Code != Modify {
		t.Fatalf("Code = %v, want Modify", res.Code)
	}
}

func TestClassifyModeChangeOnExecutableBitDiff(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "script.sh")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	blobs := newMemBlobs()
	blobs.put("h1", []byte("#!/bin/sh\n"))

	entry := &fileindex.Entry{
		Path:   "script.sh",
		BlobID: "h1",
		Stat:   fileindex.Fingerprint{Mtime: 1, Size: 999, Executable: false},
	}
	res, err := Classify(blobs, entry, p)
	if err != nil {
		t.Fatal(err)
	}
	if res.Code != ModeChange {
		t.Fatalf("Code = %v, want ModeChange", res.Code)
	}
}

func TestCodeString(t *testing.T) {
	if NoChange.String() != "no-change" {
		t.Fatalf("NoChange.String() = %q", NoChange.String())
	}
}

func TestClassifyUsesRealClockForMtimeSanity(t *testing.T) {
	// Regression guard: a fresh write's mtime should not collide with a
	// zero-value fingerprint by coincidence.
	dir := t.TempDir()
	p := filepath.Join(dir, "fresh.txt")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := os.Lstat(p)
	if err != nil {
		t.Fatal(err)
	}
	if info.ModTime().Before(time.Unix(0, 0)) {
		t.Fatal("unexpected mtime before epoch")
	}
}
