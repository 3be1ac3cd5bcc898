package refstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hagenbeck/vctree/internal/objstore"
)

const (
	lockRetryDelay = 5 * time.Millisecond
	lockWaitLimit  = 2 * time.Second
)

// Store is the reference store rooted at a dot-directory: refs/ holds one
// file per ref (heads/<branch> plus whatever derived refs rebase/histedit
// allocate), and logs/ mirrors that layout with append-only reflogs.
type Store struct {
	root string // dot-directory root, e.g. <worktree>/.vctree
}

// New returns a Store rooted at dir (the metadata dot-directory).
func New(dir string) *Store {
	return &Store{root: dir}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

func (s *Store) logPath(name string) string {
	return filepath.Join(s.root, "logs", filepath.FromSlash(name))
}

// Resolve reads the ref file for name and returns its raw line, parsed as
// either a hash or, if prefixed "ref: ", a symbolic target. name may be a
// bare ref path ("refs/heads/main") or "HEAD".
func (s *Store) Resolve(name string) (Ref, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Ref{}, fmt.Errorf("%w: %s", ErrNotExist, name)
		}
		return Ref{}, fmt.Errorf("refstore resolve %q: %w", name, err)
	}
	content := strings.TrimRight(string(data), "\n")
	if strings.HasPrefix(content, "ref: ") {
		return Ref{Name: name, Symlink: strings.TrimPrefix(content, "ref: ")}, nil
	}
	return Ref{Name: name, Hash: objstore.Hash(content)}, nil
}

// ResolveHash follows symbolic refs (including "HEAD") to a final hash.
func (s *Store) ResolveHash(name string) (objstore.Hash, error) {
	r, err := s.Resolve(name)
	if err != nil {
		return "", err
	}
	if r.IsSymbolic() {
		return s.ResolveHash(r.Symlink)
	}
	return r.Hash, nil
}

// Handle is a ref opened for mutation, optionally under an exclusive lock
// that guarantees no concurrent writer observes or clobbers our update.
type Handle struct {
	s        *Store
	name     string
	old      Ref
	hadValue bool
	locked   bool
	lockFile *os.File

	pendingHash    objstore.Hash
	pendingSymlink string
	dirty          bool
}

// Open begins a transaction on ref name, optionally acquiring an exclusive
// lock so Write cannot race a concurrent updater. A ref with no existing
// file opens successfully with a zero old value, so Alloc can create it.
func (s *Store) Open(name string, lock bool) (*Handle, error) {
	h := &Handle{s: s, name: name}

	if r, err := s.Resolve(name); err == nil {
		h.old = r
		h.hadValue = true
	} else if !isNotExist(err) {
		return nil, err
	}

	if lock {
		refPath := s.path(name)
		if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
			return nil, fmt.Errorf("refstore open %q: mkdir: %w", name, err)
		}
		f, err := acquireLock(refPath + ".lock")
		if err != nil {
			return nil, fmt.Errorf("refstore open %q: lock: %w", name, err)
		}
		h.lockFile = f
		h.locked = true
	}
	return h, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// Old returns the ref's value as it stood when Open ran.
func (h *Handle) Old() Ref { return h.old }

// Alloc stages a new direct-hash value for a ref that must not already
// have one; Write rejects the transaction if a concurrent writer beat it
// to the ref.
func (h *Handle) Alloc(id objstore.Hash) error {
	if h.hadValue {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, h.name)
	}
	h.pendingHash = id
	h.pendingSymlink = ""
	h.dirty = true
	return nil
}

// AllocSymref stages a new symbolic ref pointing at target, under the same
// must-not-already-exist rule as Alloc.
func (h *Handle) AllocSymref(target string) error {
	if h.hadValue {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, h.name)
	}
	h.pendingSymlink = target
	h.pendingHash = ""
	h.dirty = true
	return nil
}

// Change stages a new direct-hash value for a ref that already exists,
// compare-and-swapped against the value observed at Open time.
func (h *Handle) Change(id objstore.Hash) error {
	h.pendingHash = id
	h.pendingSymlink = ""
	h.dirty = true
	return nil
}

// Write commits the pending change: it re-reads the ref file to confirm
// nothing has moved since Open, writes the new value via a lockfile +
// rename, and appends a reflog entry. A reflog append failure does not
// roll back the committed ref; it surfaces as an *UpdateReflogError*.
func (h *Handle) Write(reason string) error {
	if !h.dirty {
		return fmt.Errorf("refstore write %q: no pending change", h.name)
	}
	refPath := h.s.path(h.name)

	cur, err := h.s.Resolve(h.name)
	curExists := err == nil
	if err != nil && !isNotExist(err) {
		return fmt.Errorf("refstore write %q: %w", h.name, err)
	}
	if curExists != h.hadValue || (curExists && cur.Hash != h.old.Hash) || (curExists && cur.Symlink != h.old.Symlink) {
		return fmt.Errorf("refstore write %q: %w (observed change since open)", h.name, ErrCASMismatch)
	}

	var line string
	if h.pendingSymlink != "" {
		line = "ref: " + h.pendingSymlink + "\n"
	} else {
		line = string(h.pendingHash) + "\n"
	}

	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return fmt.Errorf("refstore write %q: mkdir: %w", h.name, err)
	}

	if h.locked {
		if _, err := h.lockFile.WriteString(line); err != nil {
			return fmt.Errorf("refstore write %q: %w", h.name, err)
		}
		if err := h.lockFile.Sync(); err != nil {
			return fmt.Errorf("refstore write %q: sync: %w", h.name, err)
		}
		lockPath := refPath + ".lock"
		if err := h.lockFile.Close(); err != nil {
			return fmt.Errorf("refstore write %q: close: %w", h.name, err)
		}
		h.lockFile = nil
		h.locked = false
		if err := os.Rename(lockPath, refPath); err != nil {
			return fmt.Errorf("refstore write %q: rename: %w", h.name, err)
		}
	} else {
		tmp, err := os.CreateTemp(filepath.Dir(refPath), ".tmp-ref-*")
		if err != nil {
			return fmt.Errorf("refstore write %q: %w", h.name, err)
		}
		if _, err := tmp.WriteString(line); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("refstore write %q: %w", h.name, err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("refstore write %q: %w", h.name, err)
		}
		if err := os.Rename(tmp.Name(), refPath); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("refstore write %q: rename: %w", h.name, err)
		}
	}

	h.dirty = false

	if reason == "" {
		reason = "update"
	}
	if err := h.s.appendReflog(h.name, h.old.Hash, h.pendingHash, reason); err != nil {
		return &UpdateReflogError{Ref: h.name, Old: h.old.Hash, New: h.pendingHash, Err: err}
	}
	return nil
}

// Unlock releases a lock acquired by Open without committing any change.
func (h *Handle) Unlock() error {
	if !h.locked {
		return nil
	}
	h.locked = false
	lockPath := h.s.path(h.name) + ".lock"
	if h.lockFile != nil {
		h.lockFile.Close()
		h.lockFile = nil
	}
	return os.Remove(lockPath)
}

// Delete removes a ref outright. A prior successful reflog record is left
// in place; the delete itself is logged with reason "delete".
func (s *Store) Delete(name string) error {
	old, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(s.path(name)); err != nil {
		return fmt.Errorf("refstore delete %q: %w", name, err)
	}
	if err := s.appendReflog(name, old.Hash, "", "delete"); err != nil {
		return &UpdateReflogError{Ref: name, Old: old.Hash, Err: err}
	}
	return nil
}

func acquireLock(lockPath string) (*os.File, error) {
	deadline := time.Now().Add(lockWaitLimit)
	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if os.IsExist(err) {
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("timeout waiting for lock %q", lockPath)
			}
			time.Sleep(lockRetryDelay)
			continue
		}
		return nil, err
	}
}
