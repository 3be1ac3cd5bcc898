package refstore

import (
	"fmt"
	"os"
	"path/filepath"
)

// Init creates the refs/, logs/ layout and a HEAD pointing at defaultBranch
// under dir, which must not already contain a refstore layout.
func Init(dir, defaultBranch string) (*Store, error) {
	for _, d := range []string{
		filepath.Join(dir, "refs", "heads"),
		filepath.Join(dir, "logs", "refs", "heads"),
	} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("refstore init: mkdir %s: %w", d, err)
		}
	}
	head := filepath.Join(dir, "HEAD")
	if _, err := os.Stat(head); err == nil {
		return nil, fmt.Errorf("refstore init: HEAD already exists at %s", head)
	}
	if err := os.WriteFile(head, []byte("ref: refs/heads/"+defaultBranch+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("refstore init: write HEAD: %w", err)
	}
	return New(dir), nil
}
