package ignore

import (
	"os"
	"path/filepath"
	"testing"
)

func writeIgnoreFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", FileName, err)
	}
}

func TestDotDirAlwaysIgnored(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)

	if !c.IsIgnored(".vctree/HEAD") {
		t.Error("expected .vctree/HEAD to be ignored")
	}
	if !c.IsIgnored(".vctree") {
		t.Error("expected .vctree to be ignored")
	}
}

func TestSimpleGlobPattern(t *testing.T) {
	dir := t.TempDir()
	writeIgnoreFile(t, dir, "*.log\n")
	c := New(dir)

	if !c.IsIgnored("debug.log") {
		t.Error("expected debug.log to be ignored")
	}
	if c.IsIgnored("debug.txt") {
		t.Error("expected debug.txt to NOT be ignored")
	}
}

func TestDirectoryOnlyPattern(t *testing.T) {
	dir := t.TempDir()
	writeIgnoreFile(t, dir, "build/\n")
	c := New(dir)

	if !c.IsIgnored("build/output.o") {
		t.Error("expected build/output.o to be ignored")
	}
	if !c.IsIgnored("build/sub/file.txt") {
		t.Error("expected build/sub/file.txt to be ignored")
	}
	if c.IsIgnored("rebuild/output.o") {
		t.Error("expected rebuild/output.o to NOT be ignored (not the same directory)")
	}
}

func TestNegationUnignoresLaterMatch(t *testing.T) {
	dir := t.TempDir()
	writeIgnoreFile(t, dir, "*.log\n!important.log\n")
	c := New(dir)

	if !c.IsIgnored("debug.log") {
		t.Error("expected debug.log to be ignored")
	}
	if c.IsIgnored("important.log") {
		t.Error("expected important.log to NOT be ignored after negation")
	}
}

func TestSlashedPatternMatchesFullPath(t *testing.T) {
	dir := t.TempDir()
	writeIgnoreFile(t, dir, "src/generated.go\n")
	c := New(dir)

	if !c.IsIgnored("src/generated.go") {
		t.Error("expected src/generated.go to be ignored")
	}
	if c.IsIgnored("other/generated.go") {
		t.Error("expected other/generated.go to NOT be ignored")
	}
}

func TestGlobstarMatchesAnyDepth(t *testing.T) {
	dir := t.TempDir()
	writeIgnoreFile(t, dir, "**/*.tmp\n")
	c := New(dir)

	if !c.IsIgnored("a/b/c.tmp") {
		t.Error("expected a/b/c.tmp to be ignored")
	}
	if !c.IsIgnored("c.tmp") {
		t.Error("expected top-level c.tmp to be ignored")
	}
}

func TestCommentAndBlankLinesSkipped(t *testing.T) {
	dir := t.TempDir()
	writeIgnoreFile(t, dir, "# a comment\n\n*.log\n")
	c := New(dir)

	if !c.IsIgnored("debug.log") {
		t.Error("expected debug.log to be ignored despite leading comment/blank lines")
	}
}

func TestMissingIgnoreFileYieldsOnlyDotDirRule(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)

	if c.IsIgnored("README.md") {
		t.Error("expected README.md to NOT be ignored with no ignore file present")
	}
}
