// Package pathutil holds the work-tree engine's path safety primitives:
// child/parent containment, lexical canonicalization, and the symlink
// target check that keeps checkout from writing outside the work tree.
package pathutil

import (
	"path"
	"strings"
)

// IsChild reports whether child equals parent or lies strictly inside it,
// comparing slash-separated repo-relative paths (never touching the
// filesystem, never following symlinks).
func IsChild(child, parent string) bool {
	child = Canonicalize(child)
	parent = Canonicalize(parent)
	if parent == "" || parent == "." {
		return true
	}
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+"/")
}

// SkipCommonAncestor strips the common leading path components of a and b,
// returning what remains of each. Used by the tree-diff walk to align two
// paths that diverge partway down a shared directory prefix.
func SkipCommonAncestor(a, b string) (string, string) {
	aParts := strings.Split(Canonicalize(a), "/")
	bParts := strings.Split(Canonicalize(b), "/")
	i := 0
	for i < len(aParts) && i < len(bParts) && aParts[i] == bParts[i] {
		i++
	}
	return strings.Join(aParts[i:], "/"), strings.Join(bParts[i:], "/")
}

// Canonicalize resolves "." and ".." components lexically, like path.Clean
// applied to the path as if rooted (a leading ".." that would climb above
// the root is dropped), without ever consulting the filesystem or following
// symlinks: a path is made safe to reason about before anything is opened.
func Canonicalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	cleaned := path.Clean("/" + p)
	return strings.TrimPrefix(cleaned, "/")
}

// escapesRoot reports whether a lexically cleaned relative path climbs above
// its root via a leading "..".
func escapesRoot(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, "../")
}

// IsBadSymlinkTarget reports whether target — the literal bytes a symlink
// at ondiskPath on disk would point to — resolves outside wtRoot or lands
// inside the work tree's dot-directory. Absolute targets are rejected
// outright; relative targets are resolved against the symlink's own
// directory, lexically. This is the choke point that keeps a crafted
// symlink from reading or writing outside the work tree during checkout.
func IsBadSymlinkTarget(target, ondiskRelPath, dotDirName string) bool {
	if target == "" {
		return true
	}
	if strings.HasPrefix(target, "/") {
		return true
	}
	if len(target) > 4096 {
		return true
	}

	dir := path.Dir(Canonicalize(ondiskRelPath))
	if dir == "." {
		dir = ""
	}
	resolved := path.Join(dir, target)

	if escapesRoot(resolved) {
		return true
	}
	if resolved == dotDirName || strings.HasPrefix(resolved, dotDirName+"/") {
		return true
	}
	return false
}
