// Package wterr is the closed set of error kinds every work-tree operation
// can fail with. Components return *Error values carrying a Kind (wrapped
// with %w for context) rather than ad-hoc errors so callers can dispatch on
// Kind with wterr.Is regardless of which internal package produced the
// failure.
package wterr

import "errors"

// Kind identifies one of the closed set of ways a work-tree operation can
// fail.
type Kind int

const (
	MetaCorrupt Kind = iota
	WrongVersion
	Busy
	NotAWorkTree
	MixedCommits
	Conflicts
	Modified
	OutOfDate
	HeadChanged
	NoChanges
	CommitConflict
	MsgEmpty
	BadPath
	FileStatus
	FileStaged
	NotStaged
	StageConflict
	NoTreeEntry
	Obstructed
	FileModified
	BadSymlink
	IO
	Cancelled
	MissingCommit
	FoldLast
	RebaseCommitID
	HisteditCommitID
	PatchChoice
)

var names = map[Kind]string{
	MetaCorrupt:       "meta-corrupt",
	WrongVersion:      "wrong-version",
	Busy:              "busy",
	NotAWorkTree:      "not-a-worktree",
	MixedCommits:      "mixed-commits",
	Conflicts:         "conflicts",
	Modified:          "modified",
	OutOfDate:         "out-of-date",
	HeadChanged:       "head-changed",
	NoChanges:         "no-changes",
	CommitConflict:    "commit-conflict",
	MsgEmpty:          "msg-empty",
	BadPath:           "bad-path",
	FileStatus:        "file-status",
	FileStaged:        "file-staged",
	NotStaged:         "not-staged",
	StageConflict:     "stage-conflict",
	NoTreeEntry:       "no-tree-entry",
	Obstructed:        "obstructed",
	FileModified:      "file-modified",
	BadSymlink:        "bad-symlink",
	IO:                "io",
	Cancelled:         "cancelled",
	MissingCommit:     "missing-commit",
	FoldLast:          "fold-last",
	RebaseCommitID:    "rebase-commitid",
	HisteditCommitID:  "histedit-commitid",
	PatchChoice:       "patch-choice",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return "unknown"
}

// Error wraps an error with its Kind, the classification every public
// entry point in the engine is expected to return on failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind wrapping err (which may be nil).
func New(k Kind, err error) *Error {
	return &Error{Kind: k, Err: err}
}

// Is reports whether err carries kind k, looking through any wrapping.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
