// Package meta is the work tree's metadata store: the dot-directory that
// holds format/uuid/repository/path-prefix/head-ref/base-commit as small
// newline-terminated files, plus the file index and the advisory lock. It
// is the bottom of the engine's dataflow — every mutating operation ends
// by rewriting the index and releasing this package's lock.
package meta

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hagenbeck/vctree/internal/lock"
	"github.com/hagenbeck/vctree/internal/objstore"
	"github.com/hagenbeck/vctree/internal/wterr"
)

// FormatVersion is the on-disk metadata format this engine understands.
// Opening a work tree written by a different version fails wrong-version.
const FormatVersion = 1

const DotDirName = ".vctree"

// Store is an open work tree's metadata directory.
type Store struct {
	root   string // work tree root
	dotDir string // <root>/.vctree

	lk     *lock.Lock
	shared bool
}

func dotDir(root string) string { return filepath.Join(root, DotDirName) }

// Init creates a new work tree's dot-directory at root, writing the
// required control files. It fails if the dot-directory already exists.
func Init(root, headRef, prefix, repository string, id string) (*Store, error) {
	dd := dotDir(root)
	if _, err := os.Stat(dd); err == nil {
		return nil, wterr.New(wterr.NotAWorkTree, fmt.Errorf("work tree already initialized at %s", dd))
	}

	if err := os.MkdirAll(dd, 0o755); err != nil {
		return nil, wterr.New(wterr.IO, err)
	}

	files := map[string]string{
		"format":      strconv.Itoa(FormatVersion),
		"uuid":        id,
		"repository":  repository,
		"path-prefix": prefix,
		"head-ref":    headRef,
		"base-commit": "",
	}
	for name, content := range files {
		if err := writeAtomic(filepath.Join(dd, name), []byte(content+"\n")); err != nil {
			return nil, wterr.New(wterr.IO, fmt.Errorf("write %s: %w", name, err))
		}
	}

	lk, err := lock.Acquire(filepath.Join(dd, "lock"), false)
	if err != nil {
		return nil, wterr.New(wterr.Busy, err)
	}

	return &Store{root: root, dotDir: dd, lk: lk}, nil
}

// Open walks upward from path until it finds a dot-directory, then
// acquires a non-blocking exclusive lock (downgraded to shared once the
// caller's mutation, if any, completes). Missing files, a format mismatch,
// or truncated content fail with meta-corrupt/wrong-version.
func Open(path string) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, wterr.New(wterr.IO, err)
	}

	cur := abs
	for {
		dd := dotDir(cur)
		info, statErr := os.Stat(dd)
		if statErr == nil && info.IsDir() {
			return openAt(cur, dd)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return nil, wterr.New(wterr.NotAWorkTree, fmt.Errorf("no %s found above %s", DotDirName, path))
		}
		cur = parent
	}
}

func openAt(root, dd string) (*Store, error) {
	lk, err := lock.TryAcquire(filepath.Join(dd, "lock"), false)
	if err != nil {
		return nil, wterr.New(wterr.Busy, err)
	}

	s := &Store{root: root, dotDir: dd, lk: lk}

	version, err := s.readField("format")
	if err != nil {
		lk.Release()
		return nil, wterr.New(wterr.MetaCorrupt, err)
	}
	v, err := strconv.Atoi(version)
	if err != nil {
		lk.Release()
		return nil, wterr.New(wterr.MetaCorrupt, fmt.Errorf("format: %w", err))
	}
	if v != FormatVersion {
		lk.Release()
		return nil, wterr.New(wterr.WrongVersion, fmt.Errorf("work tree format %d, engine wants %d", v, FormatVersion))
	}

	for _, required := range []string{"uuid", "repository", "path-prefix", "head-ref"} {
		if _, err := s.readField(required); err != nil {
			lk.Release()
			return nil, wterr.New(wterr.MetaCorrupt, err)
		}
	}

	return s, nil
}

// Close releases the work tree's lock.
func (s *Store) Close() error {
	return s.lk.Release()
}

// Downgrade drops an exclusive lock to shared, done at the end of a
// successful mutating operation so read operations can proceed while this
// process lingers.
func (s *Store) Downgrade() error {
	if s.shared {
		return nil
	}
	if err := s.lk.Release(); err != nil {
		return wterr.New(wterr.IO, err)
	}
	lk, err := lock.Acquire(filepath.Join(s.dotDir, "lock"), true)
	if err != nil {
		return wterr.New(wterr.Busy, err)
	}
	s.lk = lk
	s.shared = true
	return nil
}

func (s *Store) readField(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dotDir, name))
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(string(data), "\n") {
		return "", fmt.Errorf("%s: missing trailing newline", name)
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-meta-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Root returns the work tree's root directory.
func (s *Store) Root() string { return s.root }

// DotDir returns the absolute path of the dot-directory.
func (s *Store) DotDir() string { return s.dotDir }

// UUID returns the work tree's stable identity.
func (s *Store) UUID() (string, error) { return s.readField("uuid") }

// Repository returns the absolute path of the associated object store.
func (s *Store) Repository() (string, error) { return s.readField("repository") }

// PathPrefix returns the in-repository path this work tree mirrors.
func (s *Store) PathPrefix() (string, error) { return s.readField("path-prefix") }

// HeadRef returns the named branch reference or direct object ID the work
// tree currently tracks.
func (s *Store) HeadRef() (string, error) { return s.readField("head-ref") }

// BaseCommit returns the commit the work tree was last fully synced to,
// which may differ from the branch head during rebase/histedit. Empty
// before the first commit.
func (s *Store) BaseCommit() (objstore.Hash, error) {
	v, err := s.readField("base-commit")
	if err != nil {
		return "", err
	}
	return objstore.Hash(v), nil
}

// SetHeadRef atomically updates head-ref.
func (s *Store) SetHeadRef(ref string) error {
	if err := writeAtomic(filepath.Join(s.dotDir, "head-ref"), []byte(ref+"\n")); err != nil {
		return wterr.New(wterr.IO, err)
	}
	return nil
}

// SetBaseCommit atomically updates base-commit.
func (s *Store) SetBaseCommit(id objstore.Hash) error {
	if err := writeAtomic(filepath.Join(s.dotDir, "base-commit"), []byte(string(id)+"\n")); err != nil {
		return wterr.New(wterr.IO, err)
	}
	return nil
}
