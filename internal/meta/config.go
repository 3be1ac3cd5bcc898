package meta

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config stores work-tree-local settings: author/committer identity and
// the labels used when a three-way merge strikes a conflict.
type Config struct {
	Author struct {
		Name  string `toml:"name"`
		Email string `toml:"email"`
	} `toml:"author"`
	Merge struct {
		OursLabel   string `toml:"ours_label"`
		TheirsLabel string `toml:"theirs_label"`
	} `toml:"merge"`
}

func (s *Store) configPath() string {
	return s.dotDir + "/config.toml"
}

// ReadConfig reads config.toml. A missing file returns a zero-value Config
// rather than an error, since author identity may not be configured yet.
func (s *Store) ReadConfig() (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(s.configPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return &cfg, nil
}

// WriteConfig atomically writes config.toml.
func (s *Store) WriteConfig(cfg *Config) error {
	if cfg == nil {
		cfg = &Config{}
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("write config: encode: %w", err)
	}
	return writeAtomic(s.configPath(), buf.Bytes())
}

// Identity returns the "Name <email>" string used as commit
// author/committer when no per-commit override is supplied.
func (c *Config) Identity() string {
	if c.Author.Name == "" && c.Author.Email == "" {
		return ""
	}
	if c.Author.Email == "" {
		return c.Author.Name
	}
	return fmt.Sprintf("%s <%s>", c.Author.Name, c.Author.Email)
}
