package fileindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/hagenbeck/vctree/internal/objstore"
)

// FormatVersion is the on-disk file-index encoding version.
const FormatVersion uint32 = 1

// Load reads and decodes the file index at path. A missing file is not an
// error: it yields an empty index, matching a fresh checkout that has not
// been written to yet.
func Load(path string) (*Index, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("fileindex load: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("fileindex load: %w", err)
	}
	raw, err := dec.DecodeAll(compressed, nil)
	dec.Close()
	if err != nil {
		return nil, fmt.Errorf("fileindex load: %w", err)
	}

	return decode(raw)
}

// Save encodes idx and atomically rewrites path via a temp file in the
// same directory followed by rename, so a crash mid-write never produces
// a half-written index.
func Save(path string, idx *Index) error {
	raw, err := encode(idx)
	if err != nil {
		return fmt.Errorf("fileindex save: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("fileindex save: %w", err)
	}
	compressed := enc.EncodeAll(raw, nil)
	enc.Close()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-index-*")
	if err != nil {
		return fmt.Errorf("fileindex save: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("fileindex save: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("fileindex save: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fileindex save: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fileindex save: rename: %w", err)
	}
	return nil
}

func encode(idx *Index) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, FormatVersion); err != nil {
		return nil, err
	}
	paths := idx.Paths()
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(paths))); err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := encodeEntry(&buf, idx.byPath[p]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeEntry(w io.Writer, e *Entry) error {
	if err := writeString(w, e.Path); err != nil {
		return err
	}
	fields := []int64{e.Stat.Ctime, e.Stat.Mtime, e.Stat.Size}
	for _, f := range fields {
		if err := binary.Write(w, binary.BigEndian, f); err != nil {
			return err
		}
	}
	if err := writeBool(w, e.Stat.Executable); err != nil {
		return err
	}
	if err := writeString(w, string(e.BlobID)); err != nil {
		return err
	}
	if err := writeString(w, string(e.CommitID)); err != nil {
		return err
	}
	if err := writeString(w, string(e.StagedBlobID)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, int32(e.Stage)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, int32(e.FileType)); err != nil {
		return err
	}
	return writeBool(w, e.DeletedFromDisk)
}

func decode(raw []byte) (*Index, error) {
	r := bytes.NewReader(raw)

	var version uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("unsupported file-index version %d", version)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("read entry count: %w", err)
	}

	idx := New()
	for i := uint32(0); i < count; i++ {
		e, err := decodeEntry(r)
		if err != nil {
			return nil, fmt.Errorf("decode entry %d: %w", i, err)
		}
		idx.Put(*e)
	}
	return idx, nil
}

func decodeEntry(r io.Reader) (*Entry, error) {
	e := &Entry{}

	path, err := readString(r)
	if err != nil {
		return nil, err
	}
	e.Path = path

	for _, dst := range []*int64{&e.Stat.Ctime, &e.Stat.Mtime, &e.Stat.Size} {
		if err := binary.Read(r, binary.BigEndian, dst); err != nil {
			return nil, err
		}
	}
	exec, err := readBool(r)
	if err != nil {
		return nil, err
	}
	e.Stat.Executable = exec

	blobID, err := readString(r)
	if err != nil {
		return nil, err
	}
	e.BlobID = objstore.Hash(blobID)

	commitID, err := readString(r)
	if err != nil {
		return nil, err
	}
	e.CommitID = objstore.Hash(commitID)

	stagedBlobID, err := readString(r)
	if err != nil {
		return nil, err
	}
	e.StagedBlobID = objstore.Hash(stagedBlobID)

	var stage, fileType int32
	if err := binary.Read(r, binary.BigEndian, &stage); err != nil {
		return nil, err
	}
	e.Stage = StageCode(stage)
	if err := binary.Read(r, binary.BigEndian, &fileType); err != nil {
		return nil, err
	}
	e.FileType = FileType(fileType)

	deleted, err := readBool(r)
	if err != nil {
		return nil, err
	}
	e.DeletedFromDisk = deleted

	return e, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeBool(w io.Writer, b bool) error {
	var v uint8
	if b {
		v = 1
	}
	return binary.Write(w, binary.BigEndian, v)
}

func readBool(r io.Reader) (bool, error) {
	var v uint8
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return false, err
	}
	return v != 0, nil
}
