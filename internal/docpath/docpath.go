// Package docpath parses and builds document store paths.
//
// Every path lives under users/{subject}. Document paths have an even number of
// segments (users/{subject}, users/{subject}/settings/measurements), collection paths an odd number.
package docpath

import (
	"strings"

	"github.com/and161185/fitsync/internal/errs"
)

// Root is the top-level collection holding one document per subject.
const Root = "users"

const maxDepth = 8

// Path is a parsed, validated store path.
type Path struct {
	segs []string
}

// Parse validates raw and splits it into segments.
func Parse(raw string) (Path, error) {
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return Path{}, errs.Validation("path", "empty")
	}
	segs := strings.Split(raw, "/")
	if segs[0] != Root {
		return Path{}, errs.Validation("path", "must start with "+Root)
	}
	if len(segs) < 2 {
		return Path{}, errs.Validation("path", "missing subject")
	}
	if len(segs) > maxDepth {
		return Path{}, errs.Validation("path", "too deep")
	}
	for _, s := range segs {
		if !validSegment(s) {
			return Path{}, errs.Validation("path", "bad segment "+quote(s))
		}
	}
	return Path{segs: segs}, nil
}

// Join builds the absolute path of rel under the subject's root document.
// An empty rel addresses the root document itself.
func Join(subject, rel string) string {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return Root + "/" + subject
	}
	return Root + "/" + subject + "/" + rel
}

// String returns the canonical form.
func (p Path) String() string { return strings.Join(p.segs, "/") }

// Owner is the subject segment.
func (p Path) Owner() string { return p.segs[1] }

// IsDocument reports whether p addresses a document rather than a collection.
func (p Path) IsDocument() bool { return len(p.segs)%2 == 0 }

// ID is the last segment.
func (p Path) ID() string { return p.segs[len(p.segs)-1] }

// Parent returns the collection containing a document, or "" for collection paths.
func (p Path) Parent() string {
	if !p.IsDocument() {
		return ""
	}
	return strings.Join(p.segs[:len(p.segs)-1], "/")
}

// Rel returns the path relative to the owner's root document.
func (p Path) Rel() string {
	return strings.Join(p.segs[2:], "/")
}

func validSegment(s string) bool {
	if s == "" || s == "." || s == ".." || len(s) > 128 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == '@':
		default:
			return false
		}
	}
	return true
}

func quote(s string) string { return "\"" + s + "\"" }
