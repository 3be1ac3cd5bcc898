package refstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hagenbeck/vctree/internal/objstore"
)

// CreateBranch allocates refs/heads/<name> pointing at target. It is an
// error for the branch to already exist.
func (s *Store) CreateBranch(name string, target objstore.Hash) error {
	refName := "refs/heads/" + name
	h, err := s.Open(refName, true)
	if err != nil {
		return fmt.Errorf("create branch %q: %w", name, err)
	}
	if err := h.Alloc(target); err != nil {
		h.Unlock()
		if errors.Is(err, ErrAlreadyExists) {
			return fmt.Errorf("create branch: branch %q already exists", name)
		}
		return fmt.Errorf("create branch %q: %w", name, err)
	}
	if err := h.Write("branch: created from " + string(target)); err != nil {
		return fmt.Errorf("create branch %q: %w", name, err)
	}
	return nil
}

// DeleteBranch removes refs/heads/<name>. Deleting the branch HEAD
// currently points at is rejected.
func (s *Store) DeleteBranch(name string) error {
	current, err := s.CurrentBranch()
	if err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	if current == name {
		return fmt.Errorf("delete branch: cannot delete current branch %q", name)
	}
	if err := s.Delete("refs/heads/" + name); err != nil {
		if errors.Is(err, ErrNotExist) {
			return fmt.Errorf("delete branch: branch %q does not exist", name)
		}
		return fmt.Errorf("delete branch %q: %w", name, err)
	}
	return nil
}

// ListBranches returns the names under refs/heads, sorted.
func (s *Store) ListBranches() ([]string, error) {
	headsDir := filepath.Join(s.root, "refs", "heads")
	entries, err := os.ReadDir(headsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list branches: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// CurrentBranch returns the branch name HEAD symbolically points at, or ""
// if HEAD is detached.
func (s *Store) CurrentBranch() (string, error) {
	r, err := s.Resolve("HEAD")
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	const prefix = "refs/heads/"
	if strings.HasPrefix(r.Symlink, prefix) {
		return strings.TrimPrefix(r.Symlink, prefix), nil
	}
	return "", nil
}

// ListRefs lists references under refs/<prefix>, keyed by path relative to
// refs/ (e.g. "heads/main").
func (s *Store) ListRefs(prefix string) (map[string]objstore.Hash, error) {
	root := filepath.Join(s.root, "refs")
	dir := root
	if strings.TrimSpace(prefix) != "" {
		dir = filepath.Join(root, filepath.FromSlash(prefix))
	}

	refs := make(map[string]objstore.Hash)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".lock") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		content := strings.TrimSpace(string(data))
		if strings.HasPrefix(content, "ref: ") {
			return nil
		}
		refs[filepath.ToSlash(rel)] = objstore.Hash(content)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return refs, nil
}
