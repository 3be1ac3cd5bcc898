package wortree

import (
	"os"
	"path/filepath"
	"testing"
)

// TestRebaseAbortRestoresDirtyWorkTreeContent exercises spec.md's rebase
// abort round-trip property with a dirty work tree: after RebaseStart,
// a path is modified on disk (standing in for whatever a partially
// completed replay step left behind), and RebaseAbort must revert it to
// the original branch's committed content, not just repoint refs.
func TestRebaseAbortRestoresDirtyWorkTreeContent(t *testing.T) {
	w := openFresh(t)
	writeFile(t, w.Root(), "a.txt", "v1\n")
	if _, err := w.Add([]string{"a.txt"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	res, err := w.Commit(nil, CommitOptions{
		Author: "T <t@example.com>", Committer: "T <t@example.com>",
		Message: fixedMessage("v1"), Now: 1,
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	names, err := w.RebaseStart("rebase-abort-test")
	if err != nil {
		t.Fatalf("rebase start: %v", err)
	}

	// Dirty the work tree, simulating an in-progress replay step's
	// not-yet-committed edit.
	writeFile(t, w.Root(), "a.txt", "dirtied by an in-progress replay\n")

	branch, base, err := w.RebaseAbort(names)
	if err != nil {
		t.Fatalf("rebase abort: %v", err)
	}
	if branch != "refs/heads/main" {
		t.Fatalf("branch = %q, want refs/heads/main", branch)
	}
	if base != res.CommitID {
		t.Fatalf("base = %q, want %q", base, res.CommitID)
	}

	data, err := os.ReadFile(filepath.Join(w.Root(), "a.txt"))
	if err != nil {
		t.Fatalf("read a.txt: %v", err)
	}
	if string(data) != "v1\n" {
		t.Fatalf("a.txt after abort = %q, want the original committed content %q", data, "v1\n")
	}

	head, err := w.HeadCommit()
	if err != nil {
		t.Fatalf("head commit: %v", err)
	}
	if head != res.CommitID {
		t.Fatalf("head commit after abort = %q, want %q", head, res.CommitID)
	}
}

// TestHisteditAbortRestoresDirtyWorkTreeContent is the histedit analogue:
// abort must revert a dirty work tree to the pre-histedit base-commit's
// content, same as a rebase abort.
func TestHisteditAbortRestoresDirtyWorkTreeContent(t *testing.T) {
	w := openFresh(t)
	writeFile(t, w.Root(), "a.txt", "v1\n")
	if _, err := w.Add([]string{"a.txt"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	res, err := w.Commit(nil, CommitOptions{
		Author: "T <t@example.com>", Committer: "T <t@example.com>",
		Message: fixedMessage("v1"), Now: 1,
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	names, err := w.HisteditStart("histedit-abort-test", res.CommitID)
	if err != nil {
		t.Fatalf("histedit start: %v", err)
	}

	writeFile(t, w.Root(), "a.txt", "dirtied by an in-progress edit\n")

	branch, base, err := w.HisteditAbort(names)
	if err != nil {
		t.Fatalf("histedit abort: %v", err)
	}
	if branch != "refs/heads/main" {
		t.Fatalf("branch = %q, want refs/heads/main", branch)
	}
	if base != res.CommitID {
		t.Fatalf("base = %q, want %q", base, res.CommitID)
	}

	data, err := os.ReadFile(filepath.Join(w.Root(), "a.txt"))
	if err != nil {
		t.Fatalf("read a.txt: %v", err)
	}
	if string(data) != "v1\n" {
		t.Fatalf("a.txt after abort = %q, want the original committed content %q", data, "v1\n")
	}
}
