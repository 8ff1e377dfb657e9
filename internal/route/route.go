// Package route holds the static prefix-to-upstream routing table.
package route

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidRoute is returned by NewTable for a route that cannot be served.
var ErrInvalidRoute = errors.New("invalid route")

// Route maps a path prefix to a single upstream target.
type Route struct {
	Name           string
	Prefix         string
	Target         *url.URL
	ConnectTimeout time.Duration
	Timeout        time.Duration
}

// Matches reports whether path falls under the route prefix on a segment
// boundary: /api/users matches /api/users and /api/users/42 but not /api/usersx.
func (r Route) Matches(path string) bool {
	if path == "" || !strings.HasPrefix(path, r.Prefix) {
		return false
	}
	return len(path) == len(r.Prefix) || path[len(r.Prefix)] == '/'
}

// StripPrefix returns the path remainder after the route prefix, or "/" when
// nothing remains. The caller must have checked Matches.
func (r Route) StripPrefix(path string) string {
	rest := strings.TrimPrefix(path, r.Prefix)
	if rest == "" {
		return "/"
	}
	return rest
}

// Table is an immutable, ordered set of routes. It is safe for concurrent use.
type Table struct {
	routes []Route
}

// NewTable validates and normalizes the routes, keeping registration order.
// Trailing slashes are trimmed from prefixes; an empty or relative prefix is
// rejected, as is a route without an absolute target.
func NewTable(routes ...Route) (*Table, error) {
	t := &Table{routes: make([]Route, 0, len(routes))}
	for _, r := range routes {
		r.Prefix = strings.TrimRight(r.Prefix, "/")
		if r.Prefix == "" || r.Prefix[0] != '/' {
			return nil, fmt.Errorf("%w: prefix %q must start with '/' and not be the root", ErrInvalidRoute, r.Prefix)
		}
		if r.Target == nil || r.Target.Scheme == "" || r.Target.Host == "" {
			return nil, fmt.Errorf("%w: route %q has no absolute target", ErrInvalidRoute, r.Prefix)
		}
		if r.ConnectTimeout < 0 || r.Timeout < 0 {
			return nil, fmt.Errorf("%w: route %q has a negative timeout", ErrInvalidRoute, r.Prefix)
		}
		if r.Name == "" {
			r.Name = r.Prefix
		}
		t.routes = append(t.routes, r)
	}
	return t, nil
}

// Match returns the route serving path. The longest matching prefix wins;
// among equal prefixes the first registered wins.
func (t *Table) Match(path string) (Route, bool) {
	best := -1
	for i, r := range t.routes {
		if !r.Matches(path) {
			continue
		}
		if best < 0 || len(r.Prefix) > len(t.routes[best].Prefix) {
			best = i
		}
	}
	if best < 0 {
		return Route{}, false
	}
	return t.routes[best], true
}

// Prefixes returns the route prefixes in registration order.
func (t *Table) Prefixes() []string {
	out := make([]string, len(t.routes))
	for i, r := range t.routes {
		out[i] = r.Prefix
	}
	return out
}

// Routes returns a copy of the routes in registration order.
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}
