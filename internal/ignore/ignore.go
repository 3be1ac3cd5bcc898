// Package ignore implements gitignore-style pattern matching for the
// directory-walk side of the tree diff driver: which on-disk paths never
// get reported to the caller at all.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hagenbeck/vctree/internal/meta"
)

// FileName is the per-work-tree ignore file, read from the work tree root.
const FileName = ".vctreeignore"

// Checker decides whether a relative path should be skipped during a
// directory walk. The dot-directory itself is always ignored.
type Checker struct {
	patterns []pattern

	dirPrefixPatterns   map[string][]int
	exactBasePatterns   map[string][]int
	exactPathPatterns   map[string][]int
	wildcardBasePattern []int
	wildcardPathPattern []int
}

type pattern struct {
	pattern  string
	negated  bool
	dirOnly  bool
	hasSlash bool
	regex    *regexp.Regexp
}

// New builds a Checker for a work tree rooted at root. It always ignores
// the dot-directory; if a FileName file exists at root, its patterns are
// parsed and layered on top.
func New(root string) *Checker {
	c := &Checker{}
	c.patterns = append(c.patterns, pattern{pattern: meta.DotDirName, dirOnly: false, hasSlash: false})

	f, err := os.Open(filepath.Join(root, FileName))
	if err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if p := parseLine(scanner.Text()); p != nil {
				c.patterns = append(c.patterns, *p)
			}
		}
	}

	c.compile()
	return c
}

func parseLine(line string) *pattern {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	p := &pattern{}
	if strings.HasPrefix(line, "!") {
		p.negated = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	p.hasSlash = strings.Contains(line, "/")
	p.pattern = line
	if strings.Contains(line, "**") {
		if re, err := regexp.Compile(globToRegex(line)); err == nil {
			p.regex = re
		}
	}
	return p
}

// IsIgnored reports whether path (forward-slash, relative to root) should
// be skipped. The last matching pattern wins, so a later "!pattern" can
// un-ignore an earlier match.
func (c *Checker) IsIgnored(path string) bool {
	path = filepath.ToSlash(path)
	base := filepath.Base(path)

	lastMatch := -1
	ignored := false
	apply := func(idx int) {
		if idx > lastMatch {
			lastMatch = idx
			ignored = !c.patterns[idx].negated
		}
	}
	applyAll := func(idxs []int) {
		for _, idx := range idxs {
			apply(idx)
		}
	}

	if idxs, ok := c.dirPrefixPatterns[path]; ok {
		applyAll(idxs)
	}
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			if idxs, ok := c.dirPrefixPatterns[path[:i]]; ok {
				applyAll(idxs)
			}
		}
	}

	if idxs, ok := c.exactPathPatterns[path]; ok {
		applyAll(idxs)
	}
	if idxs, ok := c.exactBasePatterns[base]; ok {
		applyAll(idxs)
	}

	for _, idx := range c.wildcardPathPattern {
		if c.patterns[idx].match(path) {
			apply(idx)
		}
	}
	for _, idx := range c.wildcardBasePattern {
		if c.patterns[idx].match(base) {
			apply(idx)
		}
	}

	return ignored
}

func (c *Checker) compile() {
	c.dirPrefixPatterns = make(map[string][]int)
	c.exactBasePatterns = make(map[string][]int)
	c.exactPathPatterns = make(map[string][]int)
	c.wildcardBasePattern = nil
	c.wildcardPathPattern = nil

	for idx := range c.patterns {
		p := c.patterns[idx]

		if p.dirOnly || p.pattern == meta.DotDirName {
			c.dirPrefixPatterns[p.pattern] = append(c.dirPrefixPatterns[p.pattern], idx)
			if p.dirOnly {
				continue
			}
		}

		switch {
		case p.regex != nil:
			if p.hasSlash {
				c.wildcardPathPattern = append(c.wildcardPathPattern, idx)
			} else {
				c.wildcardBasePattern = append(c.wildcardBasePattern, idx)
			}
		case isLiteralPattern(p.pattern):
			if p.hasSlash {
				c.exactPathPatterns[p.pattern] = append(c.exactPathPatterns[p.pattern], idx)
			} else {
				c.exactBasePatterns[p.pattern] = append(c.exactBasePatterns[p.pattern], idx)
			}
		default:
			if p.hasSlash {
				c.wildcardPathPattern = append(c.wildcardPathPattern, idx)
			} else {
				c.wildcardBasePattern = append(c.wildcardBasePattern, idx)
			}
		}
	}
}

func isLiteralPattern(p string) bool { return !strings.ContainsAny(p, "*?[") }

func (p *pattern) match(target string) bool {
	if p.regex != nil {
		return p.regex.MatchString(target)
	}
	matched, _ := filepath.Match(p.pattern, target)
	return matched
}

func globToRegex(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		if ch == '*' {
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					b.WriteString("(?:.*/)?")
					i += 2
				} else {
					b.WriteString(".*")
					i++
				}
				continue
			}
			b.WriteString("[^/]*")
			continue
		}
		if ch == '?' {
			b.WriteString("[^/]")
			continue
		}
		if strings.ContainsRune(`.+()|[]{}^$\`, rune(ch)) {
			b.WriteByte('\\')
		}
		b.WriteByte(ch)
	}
	b.WriteString("$")
	return b.String()
}
