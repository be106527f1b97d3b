package cli

import (
	"errors"
	"reflect"
	"testing"
)

func TestExpandPattern(t *testing.T) {
	partitions := []string{"api", "images", "static", "assets"}

	tests := []struct {
		name     string
		pattern  string
		expected []string
		wantErr  error
	}{
		{
			name:     "exact match",
			pattern:  "api",
			expected: []string{"api"},
		},
		{
			name:     "wildcard suffix",
			pattern:  "*s",
			expected: []string{"assets", "images"},
		},
		{
			name:     "wildcard prefix",
			pattern:  "st*",
			expected: []string{"static"},
		},
		{
			name:     "match all",
			pattern:  "*",
			expected: []string{"api", "assets", "images", "static"},
		},
		{
			name:     "character class",
			pattern:  "[ai]*",
			expected: []string{"api", "assets", "images"},
		},
		{
			name:    "unknown name",
			pattern: "fonts",
			wantErr: ErrNoMatch,
		},
		{
			name:    "glob without matches",
			pattern: "x*",
			wantErr: ErrNoMatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandPattern(tt.pattern, partitions)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ExpandPattern() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExpandPattern() unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ExpandPattern() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestExpandPattern_InvalidPattern(t *testing.T) {
	if _, err := ExpandPattern("[", []string{"api"}); err == nil {
		t.Fatal("expected error for malformed pattern")
	}
}
