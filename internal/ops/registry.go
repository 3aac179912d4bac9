package ops

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownType indicates an operation type outside the scope registry.
var ErrUnknownType = errors.New("ops: unknown operation type")

// registry is the ordered list of operation types an application may be
// granted. The broadcaster only holds posting authority, so nothing that
// requires active or owner authority belongs here.
var registry = []Type{
	Vote,
	Comment,
	DeleteComment,
	CommentOptions,
	CustomJSON,
	ClaimRewardBalance,
	AccountUpdate2,
}

// Registry returns a copy of the grantable operation types in registry order.
func Registry() Scope {
	out := make(Scope, len(registry))
	copy(out, registry)
	return out
}

// Grantable reports whether t may appear in an application's scope.
func Grantable(t Type) bool {
	for _, r := range registry {
		if r == t {
			return true
		}
	}
	return false
}

// Scope is an ordered, duplicate-free set of operation types.
type Scope []Type

// Contains reports whether t is part of the scope.
func (s Scope) Contains(t Type) bool {
	for _, v := range s {
		if v == t {
			return true
		}
	}
	return false
}

// Strings returns the scope as plain strings, e.g. for token claims.
func (s Scope) Strings() []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, len(s))
	for i, t := range s {
		out[i] = string(t)
	}
	return out
}

func (s Scope) String() string {
	return strings.Join(s.Strings(), ",")
}

// Intersect keeps the members of s that are also in other, preserving the
// order of s.
func (s Scope) Intersect(other Scope) Scope {
	var out Scope
	for _, t := range s {
		if other.Contains(t) && !out.Contains(t) {
			out = append(out, t)
		}
	}
	return out
}

// ParseScope validates names against the registry. Duplicates collapse and
// the result follows registry order so equal grants compare equal.
func ParseScope(names []string) (Scope, error) {
	seen := make(map[Type]struct{}, len(names))
	for _, name := range names {
		t := Type(strings.TrimSpace(name))
		if t == "" {
			continue
		}
		if !Grantable(t) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
		}
		seen[t] = struct{}{}
	}
	var out Scope
	for _, t := range registry {
		if _, ok := seen[t]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// FilterScope is ParseScope without the error: names outside the registry
// are dropped. Used for scopes read back from signed tokens, which must
// never widen if the registry shrinks.
func FilterScope(names []string) Scope {
	var keep []string
	for _, name := range names {
		if Grantable(Type(strings.TrimSpace(name))) {
			keep = append(keep, name)
		}
	}
	s, _ := ParseScope(keep)
	return s
}
