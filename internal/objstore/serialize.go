package objstore

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// marshalBlob serializes a Blob to raw bytes (identity transform; the
// envelope added by the store carries the kind and length).
func marshalBlob(b *Blob) []byte {
	out := make([]byte, len(b.Data))
	copy(out, b.Data)
	return out
}

func unmarshalBlob(data []byte) (*Blob, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return &Blob{Data: out}, nil
}

// marshalTree serializes a Tree with entries sorted by name, one per line:
//
//	name mode blobhash treehash
//
// where mode is the git-compatible mode string and an absent hash is "-".
func marshalTree(tr *Tree) []byte {
	sorted := make([]TreeEntry, len(tr.Entries))
	copy(sorted, tr.Entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var buf bytes.Buffer
	for _, e := range sorted {
		mode := e.Mode
		if mode == "" {
			if e.IsDir {
				mode = ModeDir
			} else {
				mode = ModeFile
			}
		}
		fmt.Fprintf(&buf, "%s %s %s %s\n", e.Name, mode, hashOrDash(e.BlobHash), hashOrDash(e.TreeHash))
	}
	return buf.Bytes()
}

func hashOrDash(h Hash) string {
	if h.IsZero() {
		return "-"
	}
	return string(h)
}

func dashOrHash(s string) Hash {
	if s == "-" {
		return Hash("")
	}
	return Hash(s)
}

func unmarshalTree(data []byte) (*Tree, error) {
	tr := &Tree{}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return tr, nil
	}
	for _, line := range strings.Split(text, "\n") {
		parts := strings.SplitN(line, " ", 4)
		if len(parts) != 4 {
			return nil, fmt.Errorf("unmarshal tree: malformed entry %q", line)
		}
		mode := parts[1]
		isDir := mode == ModeDir
		tr.Entries = append(tr.Entries, TreeEntry{
			Name:     parts[0],
			IsDir:    isDir,
			Mode:     mode,
			BlobHash: dashOrHash(parts[2]),
			TreeHash: dashOrHash(parts[3]),
		})
	}
	return tr, nil
}

// marshalCommit serializes a Commit:
//
//	tree H
//	parent H       (zero or more)
//	author A AT
//	committer C CT
//
//	message
func marshalCommit(c *Commit) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", string(c.TreeHash))
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", string(p))
	}
	fmt.Fprintf(&buf, "author %s %d\n", c.Author, c.AuthorAt)
	fmt.Fprintf(&buf, "committer %s %d\n", c.Committer, c.CommitAt)
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

func unmarshalCommit(data []byte) (*Commit, error) {
	idx := bytes.Index(data, []byte("\n\n"))
	if idx < 0 {
		return nil, fmt.Errorf("unmarshal commit: missing header/message separator")
	}
	header := string(data[:idx])
	message := string(data[idx+2:])

	c := &Commit{Message: message}
	for _, line := range strings.Split(header, "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal commit: malformed header line %q", line)
		}
		switch key {
		case "tree":
			c.TreeHash = Hash(val)
		case "parent":
			c.Parents = append(c.Parents, Hash(val))
		case "author":
			name, ts, err := splitIdentity(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: bad author %q: %w", val, err)
			}
			c.Author, c.AuthorAt = name, ts
		case "committer":
			name, ts, err := splitIdentity(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: bad committer %q: %w", val, err)
			}
			c.Committer, c.CommitAt = name, ts
		default:
			return nil, fmt.Errorf("unmarshal commit: unknown header key %q", key)
		}
	}
	return c, nil
}

func splitIdentity(val string) (string, int64, error) {
	sp := strings.LastIndex(val, " ")
	if sp < 0 {
		return "", 0, fmt.Errorf("missing timestamp")
	}
	ts, err := strconv.ParseInt(val[sp+1:], 10, 64)
	if err != nil {
		return "", 0, err
	}
	return val[:sp], ts, nil
}
