package objstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Store is a content-addressed object store with a 2-character fan-out
// directory layout: objects/ab/cdef0123... Loose objects are zstd-compressed
// on disk; Write/Read transparently encode and decode the envelope.
type Store struct {
	root string
}

// NewStore creates a Store rooted at the given directory. The objects/
// subdirectory is created lazily on first write.
func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) objectPath(h Hash) string {
	name := string(h)
	if len(name) < 3 {
		return filepath.Join(s.root, "objects", name)
	}
	return filepath.Join(s.root, "objects", name[:2], name[2:])
}

// Has reports whether the store contains an object with the given hash.
func (s *Store) Has(h Hash) bool {
	_, err := os.Stat(s.objectPath(h))
	return err == nil
}

// Write stores an object and returns its content hash. The on-disk form is
// zstd("kind len\x00content"). Writes are atomic: data goes to a temp file
// that is renamed into place, so a concurrent reader never observes a
// partial object.
func (s *Store) Write(kind Kind, data []byte) (Hash, error) {
	h := hashObject(kind, data)
	if s.Has(h) {
		return h, nil
	}

	envelope := fmt.Sprintf("%s %d\x00", kind, len(data))
	raw := append([]byte(envelope), data...)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return "", fmt.Errorf("objstore write: %w", err)
	}
	compressed := enc.EncodeAll(raw, nil)
	enc.Close()

	dir := filepath.Join(s.root, "objects", string(h[:2]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("objstore write mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("objstore write tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("objstore write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("objstore write close: %w", err)
	}

	dest := s.objectPath(h)
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("objstore write rename: %w", err)
	}
	return h, nil
}

// Read retrieves an object by hash, returning its kind and raw content.
// The returned error wraps ErrNotExist when no object with that hash has
// ever been written, as distinct from a failure reading one that has.
func (s *Store) Read(h Hash) (Kind, []byte, error) {
	compressed, err := os.ReadFile(s.objectPath(h))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, wrapNotExist(h, err)
		}
		return "", nil, fmt.Errorf("objstore read %s: %w", h, err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return "", nil, fmt.Errorf("objstore read %s: %w", h, err)
	}
	raw, err := dec.DecodeAll(compressed, nil)
	dec.Close()
	if err != nil {
		return "", nil, fmt.Errorf("objstore read %s: %w", h, err)
	}

	nulIdx := bytes.IndexByte(raw, 0)
	if nulIdx < 0 {
		return "", nil, fmt.Errorf("objstore read %s: invalid envelope (no NUL)", h)
	}
	header := string(raw[:nulIdx])
	content := raw[nulIdx+1:]

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("objstore read %s: invalid header %q", h, header)
	}
	kind := Kind(parts[0])
	length, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("objstore read %s: invalid length %q: %w", h, parts[1], err)
	}
	if len(content) != length {
		return "", nil, fmt.Errorf("objstore read %s: length mismatch (header=%d, actual=%d)", h, length, len(content))
	}
	return kind, content, nil
}

// WriteBlob serializes and stores a Blob.
func (s *Store) WriteBlob(b *Blob) (Hash, error) {
	return s.Write(KindBlob, marshalBlob(b))
}

// ReadBlob reads and deserializes a Blob.
func (s *Store) ReadBlob(h Hash) (*Blob, error) {
	kind, data, err := s.Read(h)
	if err != nil {
		return nil, err
	}
	if kind != KindBlob {
		return nil, fmt.Errorf("%w: %s: got %q, want %q", ErrTypeMismatch, h, kind, KindBlob)
	}
	return unmarshalBlob(data)
}

// WriteTree serializes and stores a Tree.
func (s *Store) WriteTree(tr *Tree) (Hash, error) {
	return s.Write(KindTree, marshalTree(tr))
}

// ReadTree reads and deserializes a Tree.
func (s *Store) ReadTree(h Hash) (*Tree, error) {
	kind, data, err := s.Read(h)
	if err != nil {
		return nil, err
	}
	if kind != KindTree {
		return nil, fmt.Errorf("%w: %s: got %q, want %q", ErrTypeMismatch, h, kind, KindTree)
	}
	return unmarshalTree(data)
}

// WriteCommit serializes and stores a Commit.
func (s *Store) WriteCommit(c *Commit) (Hash, error) {
	return s.Write(KindCommit, marshalCommit(c))
}

// ReadCommit reads and deserializes a Commit.
func (s *Store) ReadCommit(h Hash) (*Commit, error) {
	kind, data, err := s.Read(h)
	if err != nil {
		return nil, err
	}
	if kind != KindCommit {
		return nil, fmt.Errorf("%w: %s: got %q, want %q", ErrTypeMismatch, h, kind, KindCommit)
	}
	return unmarshalCommit(data)
}
