// Package objstore is the content-addressed object store backing the
// work-tree engine: blobs, trees and commits keyed by the SHA-256 hash of
// their serialized form, held in a two-character fan-out directory layout.
package objstore

// Hash is a hex-encoded SHA-256 content digest.
type Hash string

// IsZero reports whether h carries no value.
func (h Hash) IsZero() bool { return h == "" }

func (h Hash) String() string { return string(h) }

// Kind identifies the type of an object in the store.
type Kind string

const (
	KindBlob   Kind = "blob"
	KindTree   Kind = "tree"
	KindCommit Kind = "commit"
)

// Mode bits for tree entries, kept as git-compatible decimal strings so the
// rest of the engine can treat them as opaque tokens.
const (
	ModeDir        = "40000"
	ModeFile       = "100644"
	ModeExecutable = "100755"
	ModeSymlink    = "120000"
	ModeSubmodule  = "160000"
)

// Blob holds raw file content.
type Blob struct {
	Data []byte
}

// TreeEntry is one child of a Tree, either a subtree or a blob.
type TreeEntry struct {
	Name     string
	IsDir    bool
	Mode     string
	BlobHash Hash
	TreeHash Hash
}

// Tree holds a sorted list of entries, ordered by name so walks over it
// are deterministic.
type Tree struct {
	Entries []TreeEntry
}

// Commit points at a tree with history and identity metadata.
type Commit struct {
	TreeHash  Hash
	Parents   []Hash
	Author    string
	AuthorAt  int64
	Committer string
	CommitAt  int64
	Message   string
}
