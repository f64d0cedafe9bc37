// Package record holds the extracted record tree and the FieldPath addressing
// used by confidence scoring, validation and corrections.
package record

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrNotFound is returned when a FieldPath does not resolve in a record.
var ErrNotFound = errors.New("field not found")

// Segment is one step of a FieldPath: either a mapping key or a sequence index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// KeySegment returns a mapping-key segment.
func KeySegment(key string) Segment {
	return Segment{Key: key}
}

// IndexSegment returns a sequence-index segment.
func IndexSegment(i int) Segment {
	return Segment{Index: i, IsIndex: true}
}

func (s Segment) String() string {
	if s.IsIndex {
		return strconv.Itoa(s.Index)
	}
	return s.Key
}

// FieldPath addresses a value inside a record, e.g. items.0.total.
type FieldPath []Segment

// ParsePath parses dot notation. All-digit segments become indices.
func ParsePath(s string) FieldPath {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ".")
	path := make(FieldPath, 0, len(parts))
	for _, part := range parts {
		if i, err := strconv.Atoi(part); err == nil && i >= 0 && isDigits(part) {
			path = append(path, IndexSegment(i))
			continue
		}
		path = append(path, KeySegment(part))
	}
	return path
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String returns the dot-notation form.
func (p FieldPath) String() string {
	parts := make([]string, len(p))
	for i, seg := range p {
		parts[i] = seg.String()
	}
	return strings.Join(parts, ".")
}

// Child returns a new path with seg appended. p is not modified.
func (p FieldPath) Child(seg Segment) FieldPath {
	out := make(FieldPath, len(p), len(p)+1)
	copy(out, p)
	return append(out, seg)
}

// Last returns the final segment, or a zero Segment for the root path.
func (p FieldPath) Last() Segment {
	if len(p) == 0 {
		return Segment{}
	}
	return p[len(p)-1]
}

// Resolve walks root along path. It never panics: every failure is an error
// wrapping ErrNotFound that says which segment broke and why.
func Resolve(root any, path FieldPath) (any, error) {
	cur := root
	for i, seg := range path {
		switch node := cur.(type) {
		case map[string]any:
			if seg.IsIndex {
				v, ok := node[seg.String()]
				if !ok {
					return nil, fmt.Errorf("%w: %s: missing key %q", ErrNotFound, path[:i+1], seg.String())
				}
				cur = v
				continue
			}
			v, ok := node[seg.Key]
			if !ok {
				return nil, fmt.Errorf("%w: %s: missing key %q", ErrNotFound, path[:i+1], seg.Key)
			}
			cur = v
		case Record:
			return Resolve(map[string]any(node), path[i:])
		case []any:
			if !seg.IsIndex {
				return nil, fmt.Errorf("%w: %s: key %q on a sequence", ErrNotFound, path[:i+1], seg.Key)
			}
			if seg.Index < 0 || seg.Index >= len(node) {
				return nil, fmt.Errorf("%w: %s: index %d out of range (len %d)", ErrNotFound, path[:i+1], seg.Index, len(node))
			}
			cur = node[seg.Index]
		default:
			return nil, fmt.Errorf("%w: %s: %T is not a container", ErrNotFound, path[:i+1], cur)
		}
	}
	return cur, nil
}

// Lookup is Resolve without the failure reason.
func Lookup(root any, path FieldPath) (any, bool) {
	v, err := Resolve(root, path)
	return v, err == nil
}

// Leaves returns the path of every scalar leaf in depth-first order.
// Mapping keys are visited in sorted order so the result is deterministic.
func Leaves(root any) []FieldPath {
	var out []FieldPath
	walkLeaves(root, nil, &out)
	return out
}

func walkLeaves(node any, prefix FieldPath, out *[]FieldPath) {
	switch n := node.(type) {
	case Record:
		walkLeaves(map[string]any(n), prefix, out)
	case map[string]any:
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkLeaves(n[k], prefix.Child(KeySegment(k)), out)
		}
	case []any:
		for i, v := range n {
			walkLeaves(v, prefix.Child(IndexSegment(i)), out)
		}
	default:
		if len(prefix) > 0 {
			*out = append(*out, prefix)
		}
	}
}
