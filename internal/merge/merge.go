// Package merge implements the file merger (C6): three-way merge of
// regular files and symlinks, plus the install-blob/install-symlink
// primitives checkout and stage use to materialize content on disk.
package merge

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hagenbeck/vctree/internal/diff3"
	"github.com/hagenbeck/vctree/internal/fileindex"
	"github.com/hagenbeck/vctree/internal/meta"
	"github.com/hagenbeck/vctree/internal/pathutil"
	"github.com/hagenbeck/vctree/internal/wterr"
)

// FileResult is the outcome of a MergeFile call.
type FileResult struct {
	Subsumed bool
}

// MergeFile performs a three-way merge between an optional base blob, the
// bytes of the incoming "derived" side, and the file currently on disk
// ("ours"). A missing base (hasBase false) is treated as an empty
// ancestor, so both sides' additions appear verbatim rather than one
// being struck as a deletion.
//
// The merged result is written back to onDiskPath with mode's executable
// bit applied, fsynced, and atomically renamed into place. Subsumed is
// true when the merge produced no conflict markers and the merged bytes
// equal derived byte-for-byte — the on-disk change added nothing beyond
// what the incoming side already carried.
func MergeFile(onDiskPath string, base []byte, hasBase bool, derived []byte, executable bool, labels diff3.Labels) (FileResult, error) {
	ours, err := os.ReadFile(onDiskPath)
	if err != nil {
		return FileResult{}, fmt.Errorf("merge file %q: %w", onDiskPath, err)
	}

	baseContent := base
	if !hasBase {
		baseContent = nil
	}

	result := diff3.Merge(baseContent, ours, derived, labels)

	if err := installRegularAtomic(onDiskPath, result.Merged, executable); err != nil {
		return FileResult{}, err
	}

	subsumed := !result.HasConflicts && bytes.Equal(result.Merged, derived)
	return FileResult{Subsumed: subsumed}, nil
}

// SymlinkResult is the outcome of a MergeSymlink call.
type SymlinkResult struct {
	Conflict bool
}

// MergeSymlink three-way merges symlink targets directly as strings. If
// both sides changed the target to the same string there is no conflict;
// otherwise the link is replaced with a regular file carrying conflict
// markers around the two target strings.
func MergeSymlink(onDiskPath string, baseTarget string, hasBase bool, derivedTarget string, hasDerived bool, labels diff3.Labels) (SymlinkResult, error) {
	oursTarget, err := os.Readlink(onDiskPath)
	if err != nil {
		return SymlinkResult{}, fmt.Errorf("merge symlink %q: %w", onDiskPath, err)
	}

	if derivedTarget == oursTarget {
		return SymlinkResult{}, nil
	}

	derivedLine := derivedTarget
	if !hasDerived {
		derivedLine = "(symlink was deleted)"
	}

	var body bytes.Buffer
	fmt.Fprintf(&body, "<<<<<<< %s\n%s\n", labels.Theirs, derivedLine)
	if hasBase {
		fmt.Fprintf(&body, "%s\n%s\n", labels.Ours+"-base", baseTarget)
	}
	fmt.Fprintf(&body, "=======\n%s\n>>>>>>>\n", oursTarget)

	if err := installRegularAtomic(onDiskPath, body.Bytes(), false); err != nil {
		return SymlinkResult{}, err
	}
	return SymlinkResult{Conflict: true}, nil
}

// InstallBlob writes data to path as a regular file, applying the
// executable bit from mode. It opens exclusively so it never silently
// truncates something already there: on EEXIST it writes to a sibling
// temp file and renames over the target; a non-regular, non-absent
// obstruction at path is reported as wterr.Obstructed rather than
// clobbered.
func InstallBlob(path string, data []byte, executable bool) error {
	if err := obstructionCheck(path); err != nil {
		return err
	}

	perm := os.FileMode(0o644)
	if executable {
		perm = 0o755
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if os.IsExist(err) {
			return installViaTempRename(path, data, perm)
		}
		if os.IsNotExist(err) {
			if mkerr := os.MkdirAll(filepath.Dir(path), 0o755); mkerr != nil {
				return fmt.Errorf("install blob %q: mkdir: %w", path, mkerr)
			}
			return InstallBlob(path, data, executable)
		}
		return fmt.Errorf("install blob %q: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("install blob %q: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("install blob %q: sync: %w", path, err)
	}
	return nil
}

func obstructionCheck(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil // absent: nothing to obstruct
	}
	mode := info.Mode()
	if mode.IsRegular() {
		return nil
	}
	return wterr.New(wterr.Obstructed, fmt.Errorf("refusing to overwrite non-regular file %q", path))
}

func installViaTempRename(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-install-*")
	if err != nil {
		return fmt.Errorf("install blob %q: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("install blob %q: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("install blob %q: sync: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("install blob %q: %w", path, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("install blob %q: chmod: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("install blob %q: rename: %w", path, err)
	}
	return nil
}

// installRegularAtomic is the merge-output write path: unlike InstallBlob
// it always overwrites (the caller already owns the file being merged),
// via temp-file-plus-rename so a crash mid-write never corrupts it.
func installRegularAtomic(path string, data []byte, executable bool) error {
	perm := os.FileMode(0o644)
	if executable {
		perm = 0o755
	}
	return installViaTempRename(path, data, perm)
}

// InstallSymlink validates target against pathutil's safety predicate
// before creating the link. An unsafe or over-length target is instead
// written as a regular file and reported via the returned FileType so
// the caller can mark the index entry bad-symlink.
func InstallSymlink(wtRoot, relPath, target string) (fileindex.FileType, error) {
	absPath := filepath.Join(wtRoot, filepath.FromSlash(relPath))

	if pathutil.IsBadSymlinkTarget(target, relPath, meta.DotDirName) {
		if err := InstallBlob(absPath, []byte(target), false); err != nil {
			return fileindex.FileBadSymlink, err
		}
		return fileindex.FileBadSymlink, nil
	}

	if err := os.Symlink(target, absPath); err != nil {
		if os.IsNotExist(err) {
			if mkerr := os.MkdirAll(filepath.Dir(absPath), 0o755); mkerr != nil {
				return fileindex.FileRegular, fmt.Errorf("install symlink %q: mkdir: %w", relPath, mkerr)
			}
			if err := os.Symlink(target, absPath); err != nil {
				return fileindex.FileRegular, fmt.Errorf("install symlink %q: %w", relPath, err)
			}
			return fileindex.FileSymlink, nil
		}
		if os.IsExist(err) {
			if rmErr := os.Remove(absPath); rmErr != nil {
				return fileindex.FileRegular, fmt.Errorf("install symlink %q: remove existing: %w", relPath, rmErr)
			}
			if err := os.Symlink(target, absPath); err != nil {
				return fileindex.FileRegular, fmt.Errorf("install symlink %q: %w", relPath, err)
			}
			return fileindex.FileSymlink, nil
		}
		return fileindex.FileRegular, fmt.Errorf("install symlink %q: %w", relPath, err)
	}
	return fileindex.FileSymlink, nil
}
