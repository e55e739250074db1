// Package auth carries caller identity and method-level permissions.
package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// DefaultRole applies to callers that carry no roles.
const DefaultRole = "default"

// ForbiddenError indicates the caller may not invoke Method.
type ForbiddenError struct {
	Method string
	Roles  []string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("method %s not permitted for roles [%s]", e.Method, strings.Join(e.Roles, ","))
}

// Principal is the authenticated caller of a request.
type Principal struct {
	AgentID string
	Roles   []string
	Source  string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Policy maps role names to the method patterns they may call. Patterns are
// "*", a namespace wildcard such as "edit.*", or an exact method name. An
// empty policy allows everything.
type Policy struct {
	roles map[string][]string
}

func NewPolicy(roles map[string][]string) Policy {
	cp := make(map[string][]string, len(roles))
	for role, patterns := range roles {
		cp[strings.TrimSpace(role)] = append([]string(nil), patterns...)
	}
	return Policy{roles: cp}
}

func (p Policy) Open() bool { return len(p.roles) == 0 }

// Authorize returns ForbiddenError unless one of the principal's roles
// allows method.
func (p Policy) Authorize(principal Principal, method string) error {
	if p.Open() {
		return nil
	}
	roles := principal.Roles
	if len(roles) == 0 {
		roles = []string{DefaultRole}
	}
	for _, role := range roles {
		for _, pattern := range p.roles[role] {
			if Match(pattern, method) {
				return nil
			}
		}
	}
	return ForbiddenError{Method: method, Roles: roles}
}

// Roles lists configured role names in order.
func (p Policy) Roles() []string {
	out := make([]string, 0, len(p.roles))
	for r := range p.roles {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func Match(pattern, method string) bool {
	pattern = strings.TrimSpace(pattern)
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(method, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == method
	}
}
