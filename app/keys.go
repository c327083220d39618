package app

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// QueryKey identifies one cached query: a resource name followed by the
// query parameters, joined with ':'. For example "worker:w1" or
// "worker-list:offset=0:limit=50".
type QueryKey string

const keySeparator = ":"

// NewQueryKey builds a key from its segments. Segments are NFC-normalized
// so keys typed in different Unicode forms address the same entry.
func NewQueryKey(resource string, params ...string) QueryKey {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, norm.NFC.String(resource))
	for _, p := range params {
		parts = append(parts, norm.NFC.String(p))
	}
	return QueryKey(strings.Join(parts, keySeparator))
}

// RecordKey addresses a single record.
func RecordKey(resource, id string) QueryKey {
	return NewQueryKey(resource, id)
}

// ListKey is the prefix shared by every page of a resource's list.
func ListKey(resource string) QueryKey {
	return NewQueryKey(resource + "-list")
}

// PageKey addresses one page of a resource's list.
func PageKey(resource string, offset, limit int) QueryKey {
	return NewQueryKey(resource+"-list", "offset="+strconv.Itoa(offset), "limit="+strconv.Itoa(limit))
}

// HasPrefix reports whether k equals prefix or extends it by whole segments.
func (k QueryKey) HasPrefix(prefix QueryKey) bool {
	if k == prefix {
		return true
	}
	return strings.HasPrefix(string(k), string(prefix)+keySeparator)
}

// Resource is the first segment of the key.
func (k QueryKey) Resource() string {
	resource, _, _ := strings.Cut(string(k), keySeparator)
	return resource
}

func (k QueryKey) String() string {
	return string(k)
}

// ParseQueryKeys converts raw strings into normalized keys, skipping blanks.
func ParseQueryKeys(raw []string) []QueryKey {
	keys := make([]QueryKey, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		segments := strings.Split(r, keySeparator)
		keys = append(keys, NewQueryKey(segments[0], segments[1:]...))
	}
	return keys
}

// MatchKeyPattern matches key against a glob pattern where * matches any
// run of characters and ? exactly one.
func MatchKeyPattern(pattern string, key QueryKey) bool {
	return matchGlob(pattern, string(key))
}

func matchGlob(pattern, value string) bool {
	pi, vi := 0, 0
	// position of the last * and the value index it is currently matched up to
	star, mark := -1, 0
	for vi < len(value) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == value[vi]):
			pi++
			vi++
		case pi < len(pattern) && pattern[pi] == '*':
			star, mark = pi, vi
			pi++
		case star >= 0:
			// let the last * absorb one more character
			mark++
			pi, vi = star+1, mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
