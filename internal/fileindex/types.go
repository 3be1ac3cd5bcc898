// Package fileindex is the work tree's file index: an in-memory ordered
// map of tracked paths to per-file records, with a binary length-prefixed
// on-disk form rewritten atomically on every mutation.
package fileindex

import "github.com/hagenbeck/vctree/internal/objstore"

// StageCode classifies a path's two-stage index state.
type StageCode int

const (
	StageNone StageCode = iota
	StageAdd
	StageModify
	StageDelete
)

func (s StageCode) String() string {
	switch s {
	case StageAdd:
		return "add"
	case StageModify:
		return "modify"
	case StageDelete:
		return "delete"
	default:
		return "none"
	}
}

// FileType classifies what an index entry was last installed as.
type FileType int

const (
	FileRegular FileType = iota
	FileSymlink
	FileBadSymlink // a symlink blob installed as a regular file because its target was unsafe or too long
)

// Fingerprint is the cached stat state an entry was last known to match,
// used by the status engine to short-circuit a content comparison.
type Fingerprint struct {
	Ctime      int64
	Mtime      int64
	Size       int64
	Executable bool
}

// Entry is one record in the file index, keyed by its Path.
type Entry struct {
	Path string

	Stat Fingerprint

	BlobID   objstore.Hash // content hash this entry last matched in the repository
	CommitID objstore.Hash // commit whose tree BlobID came from (this entry's base)

	StagedBlobID objstore.Hash
	Stage        StageCode

	FileType FileType

	DeletedFromDisk bool
}
