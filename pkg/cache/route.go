package cache

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// Matcher selects requests by host, path glob and file extension. Hosts, when
// present, must match. Paths and extensions are alternatives: a request
// matches if any glob or any extension matches. An empty matcher matches
// every request.
type Matcher struct {
	Hosts      []string `yaml:"hosts,omitempty"`
	Paths      []string `yaml:"paths,omitempty"`
	Extensions []string `yaml:"extensions,omitempty"`
}

// Match reports whether u is selected.
func (m Matcher) Match(u *url.URL) bool {
	if len(m.Hosts) > 0 && !matchHost(m.Hosts, u.Hostname()) {
		return false
	}
	if len(m.Paths) == 0 && len(m.Extensions) == 0 {
		return true
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	for _, glob := range m.Paths {
		if MatchPath(glob, p) {
			return true
		}
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	for _, want := range m.Extensions {
		if !strings.HasPrefix(want, ".") {
			want = "." + want
		}
		if strings.EqualFold(want, ext) {
			return true
		}
	}
	return false
}

func matchHost(hosts []string, host string) bool {
	for _, h := range hosts {
		if strings.HasPrefix(h, "*.") {
			if strings.HasSuffix(strings.ToLower(host), strings.ToLower(h[1:])) {
				return true
			}
			continue
		}
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

// MatchPath matches p against a path.Match glob. A trailing "*" (as in
// "/api/*" or "/api/transactions*") matches any suffix, including further
// path segments.
func MatchPath(glob, p string) bool {
	if prefix, ok := strings.CutSuffix(glob, "*"); ok && !strings.ContainsAny(prefix, "*?[") {
		return strings.HasPrefix(p, prefix)
	}
	ok, err := path.Match(glob, p)
	return err == nil && ok
}

// Route binds a partition to a matcher and a caching policy.
type Route struct {
	Name           string
	Match          Matcher
	Strategy       Strategy
	MaxEntries     int           // 0 = unbounded
	MaxAge         time.Duration // 0 = never expires
	NetworkTimeout time.Duration // 0 = the router's network timeout
}

// Validate checks the route definition.
func (r Route) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidRoute)
	}
	if !r.Strategy.Valid() {
		return fmt.Errorf("%w: %q in route %s", ErrUnknownStrategy, r.Strategy, r.Name)
	}
	if r.MaxEntries < 0 || r.MaxAge < 0 || r.NetworkTimeout < 0 {
		return fmt.Errorf("%w: negative limit in route %s", ErrInvalidRoute, r.Name)
	}
	return nil
}

// expired reports whether an entry cached at cachedAt is past MaxAge at now.
func (r Route) expired(cachedAt, now time.Time) bool {
	return r.MaxAge > 0 && now.Sub(cachedAt) >= r.MaxAge
}

const day = 24 * time.Hour

// DefaultRoutes returns the built-in partitions. Order matters: the first
// matching route wins.
func DefaultRoutes() []Route {
	return []Route{
		{
			Name:           "api",
			Match:          Matcher{Paths: []string{"/api/*"}},
			Strategy:       NetworkFirst,
			MaxEntries:     50,
			MaxAge:         day,
			NetworkTimeout: 10 * time.Second,
		},
		{
			Name: "images",
			Match: Matcher{Extensions: []string{
				".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".avif",
			}},
			Strategy:   CacheFirst,
			MaxEntries: 60,
			MaxAge:     30 * day,
		},
		{
			Name:       "static",
			Match:      Matcher{Paths: []string{"/static/*", "/_next/static/*", "/build/*"}},
			Strategy:   CacheFirst,
			MaxEntries: 100,
			MaxAge:     365 * day,
		},
		{
			Name: "assets",
			Match: Matcher{Extensions: []string{
				".js", ".mjs", ".css", ".woff", ".woff2", ".ttf", ".otf",
			}},
			Strategy:   StaleWhileRevalidate,
			MaxEntries: 60,
			MaxAge:     7 * day,
		},
	}
}
