package cache

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RoutesFileName is the conventional name of the route file in the data dir.
const RoutesFileName = "routes.yaml"

// ErrRoutesNotFound is returned when the route file does not exist.
var ErrRoutesNotFound = errors.New("cache: routes file not found")

// routesFile is the on-disk layout of routes.yaml.
type routesFile struct {
	Version int         `yaml:"version"`
	Routes  []routeSpec `yaml:"routes"`
}

type routeSpec struct {
	Name           string  `yaml:"name"`
	Strategy       string  `yaml:"strategy"`
	Match          Matcher `yaml:"match"`
	MaxEntries     int     `yaml:"max_entries"`
	MaxAge         string  `yaml:"max_age"`
	NetworkTimeout string  `yaml:"network_timeout"`
}

// LoadRoutes reads and validates a route file.
func LoadRoutes(path string) ([]Route, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRoutesNotFound
		}
		return nil, fmt.Errorf("cache: failed to read routes file: %w", err)
	}
	return ParseRoutes(content)
}

// LoadRoutesOrDefault returns DefaultRoutes when path is empty or missing.
func LoadRoutesOrDefault(path string) ([]Route, error) {
	if path == "" {
		return DefaultRoutes(), nil
	}
	routes, err := LoadRoutes(path)
	if errors.Is(err, ErrRoutesNotFound) {
		return DefaultRoutes(), nil
	}
	return routes, err
}

// ParseRoutes decodes route file content.
func ParseRoutes(content []byte) ([]Route, error) {
	var file routesFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("cache: failed to parse routes file: %w", err)
	}
	if file.Version != 1 {
		return nil, fmt.Errorf("cache: unsupported routes version: %d", file.Version)
	}
	if len(file.Routes) == 0 {
		return nil, fmt.Errorf("%w: no routes defined", ErrInvalidRoute)
	}

	seen := make(map[string]bool, len(file.Routes))
	routes := make([]Route, 0, len(file.Routes))
	for _, rf := range file.Routes {
		r := Route{
			Name:       rf.Name,
			Match:      rf.Match,
			Strategy:   Strategy(rf.Strategy),
			MaxEntries: rf.MaxEntries,
		}
		var err error
		if r.MaxAge, err = parseOptionalDuration(rf.MaxAge); err != nil {
			return nil, fmt.Errorf("%w: route %s max_age: %v", ErrInvalidRoute, rf.Name, err)
		}
		if r.NetworkTimeout, err = parseOptionalDuration(rf.NetworkTimeout); err != nil {
			return nil, fmt.Errorf("%w: route %s network_timeout: %v", ErrInvalidRoute, rf.Name, err)
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("%w: duplicate route %s", ErrInvalidRoute, r.Name)
		}
		seen[r.Name] = true
		routes = append(routes, r)
	}
	return routes, nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return ParseDuration(s)
}

// ParseDuration extends time.ParseDuration with a "d" (day) unit, so "30d"
// and "365d" can be written directly.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * day, nil
	}
	return time.ParseDuration(s)
}
