// Package path implements the logical path model for the storage namespace.
// A logical path is an ordered sequence of non-empty segments, independent of
// the storage root; the mediator translates it into a physical path.
package path

import (
	"fmt"
	"strings"

	storerr "github.com/cirrusfs/cirrus/pkg/storage/errors"
)

const component = "Path"

// hiddenAllowList names the dot-prefixed segments that validation accepts.
// Everything else starting with '.' is reserved for internal bookkeeping
// (the trash area, the id-map files).
var hiddenAllowList = map[string]struct{}{
	".well-known": {},
}

// dangerousChars are rejected inside any segment. '/' cannot occur because
// parsing splits on it.
const dangerousChars = `\:*?"<>|`

// Logical is a canonical logical path. The zero value is the root.
type Logical struct {
	segments []string
}

// Root returns the empty path.
func Root() Logical {
	return Logical{}
}

// New builds a path from the given segments without copying or validating.
func New(segments ...string) Logical {
	return Logical{segments: segments}
}

// Parse builds a path from its string form. Parsing is infallible: empty
// components (leading, trailing or doubled slashes) are dropped. Use
// Validate to enforce the segment rules.
func Parse(s string) Logical {
	parts := strings.Split(s, "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return Logical{segments: segments}
}

// String renders the canonical form "/s1/s2/..."; the root renders as "/".
func (p Logical) String() string {
	if len(p.segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(p.segments, "/")
}

// IsRoot reports whether the path has no segments.
func (p Logical) IsRoot() bool {
	return len(p.segments) == 0
}

// Join returns a new path with segment appended. The receiver is not
// modified and its backing array is never shared with the result.
func (p Logical) Join(segment string) Logical {
	segments := make([]string, len(p.segments)+1)
	copy(segments, p.segments)
	segments[len(p.segments)] = segment
	return Logical{segments: segments}
}

// Parent returns the parent path. The root has no parent.
func (p Logical) Parent() (Logical, bool) {
	if len(p.segments) == 0 {
		return Logical{}, false
	}
	return Logical{segments: p.segments[:len(p.segments)-1]}, true
}

// FileName returns the last segment. The root has no file name.
func (p Logical) FileName() (string, bool) {
	if len(p.segments) == 0 {
		return "", false
	}
	return p.segments[len(p.segments)-1], true
}

// Segments returns a read-only view of the segments. Callers must not
// modify the returned slice.
func (p Logical) Segments() []string {
	return p.segments
}

// Equal reports whether two paths have identical segments.
func (p Logical) Equal(other Logical) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i, s := range p.segments {
		if s != other.segments[i] {
			return false
		}
	}
	return true
}

// IsAncestorOf reports whether p is a strict ancestor of other.
func (p Logical) IsAncestorOf(other Logical) bool {
	if len(p.segments) >= len(other.segments) {
		return false
	}
	for i, s := range p.segments {
		if s != other.segments[i] {
			return false
		}
	}
	return true
}

// Rebase rewrites p from one ancestor prefix to another. Returns false
// when oldPrefix is not p itself or an ancestor of p.
func (p Logical) Rebase(oldPrefix, newPrefix Logical) (Logical, bool) {
	if p.Equal(oldPrefix) {
		return newPrefix, true
	}
	if !oldPrefix.IsAncestorOf(p) {
		return Logical{}, false
	}
	rest := p.segments[len(oldPrefix.segments):]
	segments := make([]string, 0, len(newPrefix.segments)+len(rest))
	segments = append(segments, newPrefix.segments...)
	segments = append(segments, rest...)
	return Logical{segments: segments}, true
}

// Validate checks every segment against the namespace rules: no empty, "."
// or ".." segments, no filesystem-hostile characters, and no hidden
// (dot-prefixed) names outside the allow-list.
func (p Logical) Validate() error {
	for _, segment := range p.segments {
		if err := ValidateSegment(segment); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSegment applies the per-segment rules to a single name. Used by
// the repositories to vet user-supplied file and folder names before they
// become path segments.
func ValidateSegment(segment string) error {
	switch segment {
	case "":
		return storerr.NewInvalidInputError(component, "path contains empty segment")
	case ".", "..":
		return storerr.NewInvalidInputError(component,
			fmt.Sprintf("path contains relative segment %q", segment))
	}
	if strings.ContainsAny(segment, dangerousChars) || strings.ContainsRune(segment, '/') {
		return storerr.NewInvalidInputError(component,
			fmt.Sprintf("segment contains forbidden characters: %q", segment))
	}
	if strings.HasPrefix(segment, ".") {
		if _, ok := hiddenAllowList[segment]; !ok {
			return storerr.NewInvalidInputError(component,
				fmt.Sprintf("segment cannot start with a dot: %q", segment))
		}
	}
	return nil
}
