// Package validate guards every externally supplied identifier before it is
// allowed anywhere near the filesystem or an argument vector. Account names,
// repository names and webhook event tags all arrive from sources an attacker
// can influence (API responses, CLI arguments, webhook payloads), so callers
// must pass them through here first.
package validate

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrPathTraversal is returned by SafeJoin when a candidate path would
// escape its root directory.
var ErrPathTraversal = errors.New("path escapes root directory")

var (
	accountPattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?$`)
	repoPattern    = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	eventPattern   = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
)

const (
	maxAccountLen = 39
	maxRepoLen    = 100
	maxEventLen   = 50
)

// Account reports whether name is a well-formed hosting account name:
// alphanumeric with internal hyphens, at most 39 characters.
func Account(name string) bool {
	return len(name) > 0 && len(name) <= maxAccountLen && accountPattern.MatchString(name)
}

// Repo reports whether name is a well-formed repository name.
func Repo(name string) bool {
	return len(name) > 0 && len(name) <= maxRepoLen && repoPattern.MatchString(name)
}

// Event reports whether tag is a well-formed event tag.
func Event(tag string) bool {
	return len(tag) > 0 && len(tag) <= maxEventLen && eventPattern.MatchString(tag)
}

// SafeJoin joins segments onto root and verifies the result stays inside
// root. Segments containing a parent-directory marker or an absolute-path
// prefix are rejected outright; the joined path is then resolved and checked
// to be a descendant of root. The returned path is absolute and cleaned.
func SafeJoin(root string, segments ...string) (string, error) {
	for _, seg := range segments {
		if seg == "" {
			return "", fmt.Errorf("%w: empty segment", ErrPathTraversal)
		}
		if strings.Contains(seg, "..") {
			return "", fmt.Errorf("%w: segment %q contains parent marker", ErrPathTraversal, seg)
		}
		if strings.HasPrefix(seg, "/") || strings.HasPrefix(seg, "\\") {
			return "", fmt.Errorf("%w: segment %q is absolute", ErrPathTraversal, seg)
		}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root %q: %w", root, err)
	}

	joined := filepath.Join(append([]string{absRoot}, segments...)...)
	if !Within(resolveExisting(absRoot), resolveExisting(joined)) {
		return "", fmt.Errorf("%w: %q resolves outside %q", ErrPathTraversal, joined, absRoot)
	}
	return joined, nil
}

// resolveExisting resolves symlinks in path. Components that do not exist
// yet are tolerated: the nearest existing ancestor is resolved and the
// remainder rejoined onto it.
func resolveExisting(path string) string {
	p := filepath.Clean(path)
	suffix := ""
	for {
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			return filepath.Join(resolved, suffix)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return filepath.Clean(path)
		}
		suffix = filepath.Join(filepath.Base(p), suffix)
		p = parent
	}
}

// Within reports whether path is root itself or a descendant of root. Both
// arguments are cleaned before comparison; path is made absolute relative to
// the current directory if needed.
func Within(root, path string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
