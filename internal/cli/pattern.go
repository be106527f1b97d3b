// Package cli provides shared helpers for the vaultsync commands.
package cli

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

// ErrNoMatch is returned when a name or pattern selects nothing.
var ErrNoMatch = errors.New("no match")

// ExpandPattern resolves pattern against names. A pattern containing glob
// characters (*?[) selects every matching name; any other pattern must
// equal one of names. The result is sorted.
func ExpandPattern(pattern string, names []string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	if !strings.ContainsAny(pattern, "*?[") {
		for _, n := range names {
			if n == pattern {
				return []string{pattern}, nil
			}
		}
		return nil, fmt.Errorf("%w: %q", ErrNoMatch, pattern)
	}

	var matches []string
	for _, n := range names {
		if ok, _ := path.Match(pattern, n); ok {
			matches = append(matches, n)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: nothing matches %q", ErrNoMatch, pattern)
	}
	sort.Strings(matches)
	return matches, nil
}
