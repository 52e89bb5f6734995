package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/FACorreiaa/go-user-identity/internal/types"
)

// GuestRole is assumed for requests without an authenticated identity.
const GuestRole = "guest"

// Access grants a set of methods on a set of route patterns. Patterns use
// the router's placeholder syntax ("/api/users/{userID}"); a placeholder
// segment matches any single concrete segment. The permission "*" grants
// every method.
type Access struct {
	Resources   []string
	Permissions []string
}

type rule struct {
	roles    []string
	accesses []Access
}

// Engine evaluates role-based access rules over route patterns. The catalog
// is default-deny: a request passes only when some rule grants one of the
// caller's roles the method on the resource.
type Engine struct {
	mu    sync.RWMutex
	rules []rule
}

func NewEngine() *Engine {
	return &Engine{}
}

// Allow registers accesses for the given roles.
func (e *Engine) Allow(roles []string, accesses ...Access) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule{roles: roles, accesses: accesses})
	return e
}

// IsAllowed reports whether any of the roles may invoke the method on the
// resource. Errors mean the question itself was malformed and must not be
// treated as a denial by callers who would otherwise fall through to allow.
func (e *Engine) IsAllowed(roles []string, resource, method string) (bool, error) {
	if resource == "" {
		return false, fmt.Errorf("%w: empty resource", types.ErrEvaluation)
	}
	if method == "" {
		return false, fmt.Errorf("%w: empty method", types.ErrEvaluation)
	}
	if len(roles) == 0 {
		roles = []string{GuestRole}
	}
	method = strings.ToLower(method)

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ru := range e.rules {
		if !rolesIntersect(ru.roles, roles) {
			continue
		}
		for _, access := range ru.accesses {
			if !permitsMethod(access.Permissions, method) {
				continue
			}
			for _, pattern := range access.Resources {
				if matchPattern(pattern, resource) {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

func rolesIntersect(granted, held []string) bool {
	for _, g := range granted {
		for _, h := range held {
			if g == h {
				return true
			}
		}
	}
	return false
}

func permitsMethod(permissions []string, method string) bool {
	for _, p := range permissions {
		if p == "*" || strings.ToLower(p) == method {
			return true
		}
	}
	return false
}

// matchPattern compares a route pattern against a concrete path segment by
// segment. Placeholder segments ({userID} or :userID) and the chi wildcard
// tail (*) match anything.
func matchPattern(pattern, path string) bool {
	if pattern == path {
		return true
	}
	patternSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	pathSegs := strings.Split(strings.Trim(path, "/"), "/")

	for i, seg := range patternSegs {
		if seg == "*" {
			return true
		}
		if i >= len(pathSegs) {
			return false
		}
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			continue
		}
		if strings.HasPrefix(seg, ":") {
			continue
		}
		if seg != pathSegs[i] {
			return false
		}
	}
	return len(patternSegs) == len(pathSegs)
}

// NewDefaultEngine builds the rule catalog for the identity API: admins
// manage the user collection, users manage their own account, guests get
// nothing beyond the public endpoints which are not gated at all.
func NewDefaultEngine() *Engine {
	e := NewEngine()

	e.Allow([]string{"admin"},
		Access{
			Resources:   []string{"/api/users", "/api/users/{userID}"},
			Permissions: []string{"*"},
		},
	)

	e.Allow([]string{"user"},
		Access{
			Resources:   []string{"/api/users/me", "/api/users/password", "/api/auth/signout"},
			Permissions: []string{"get", "put", "post"},
		},
		Access{
			Resources:   []string{"/api/users/me/providers/{provider}"},
			Permissions: []string{"delete"},
		},
	)

	return e
}
