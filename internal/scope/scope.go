package scope

import (
	"fmt"
	"regexp"
	"strings"
)

// segmentRegex matches a single scope segment.
var segmentRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// isValidSegmentName checks for undesirable but technically valid names.
func isValidSegmentName(name string) bool {
	return name != "." && name != ".."
}

// Scope is a parsed name scope.
type Scope struct {
	Segments []string
}

// Parse creates a Scope from its canonical string form. Leading and trailing
// slashes are ignored.
func Parse(raw string) (Scope, error) {
	trimmed := strings.Trim(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return Scope{}, fmt.Errorf("scope cannot be empty")
	}

	var s Scope
	for _, seg := range strings.Split(trimmed, "/") {
		if seg == "" {
			return Scope{}, fmt.Errorf("scope %q contains an empty segment", raw)
		}
		if !segmentRegex.MatchString(seg) || !isValidSegmentName(seg) {
			return Scope{}, fmt.Errorf("invalid scope segment %q in %q", seg, raw)
		}
		s.Segments = append(s.Segments, seg)
	}
	return s, nil
}

// String returns the canonical slash-separated form.
func (s Scope) String() string {
	return strings.Join(s.Segments, "/")
}

// Contains reports whether the variable name lies under this scope.
func (s Scope) Contains(name string) bool {
	prefix := s.String()
	if prefix == "" {
		return false
	}
	return name == prefix || strings.HasPrefix(name, prefix+"/")
}

// List is an ordered set of scopes.
type List []Scope

// ParseList parses a comma-separated list of scopes. Blank entries are
// dropped, so "" and " , " both yield an empty list.
func ParseList(raw string) (List, error) {
	var out List
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		s, err := Parse(part)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[s.String()]; dup {
			continue
		}
		seen[s.String()] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

// Empty reports whether the list selects nothing.
func (l List) Empty() bool { return len(l) == 0 }

// Contains reports whether name is under any scope of the list.
func (l List) Contains(name string) bool {
	for _, s := range l {
		if s.Contains(name) {
			return true
		}
	}
	return false
}

// Strings returns the canonical form of each scope.
func (l List) Strings() []string {
	out := make([]string, len(l))
	for i, s := range l {
		out[i] = s.String()
	}
	return out
}

// String returns the comma-separated form of the list.
func (l List) String() string {
	return strings.Join(l.Strings(), ",")
}
