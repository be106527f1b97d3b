package mcp

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writePolicy(t *testing.T, dir, content string, perm os.FileMode) {
	t.Helper()
	policyPath := filepath.Join(dir, PolicyFileName)
	if err := os.WriteFile(policyPath, []byte(content), perm); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}
	if err := os.Chmod(policyPath, perm); err != nil {
		t.Fatalf("failed to chmod policy file: %v", err)
	}
}

func TestLoadPolicy_NotFound(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := LoadPolicy(tmpDir)
	if err != ErrPolicyNotFound {
		t.Errorf("expected ErrPolicyNotFound, got %v", err)
	}
}

func TestLoadPolicy_Success(t *testing.T) {
	tmpDir := t.TempDir()
	writePolicy(t, tmpDir, `version: 1
default_action: deny
allowed_tools:
  - "*_status"
denied_tools:
  - queue_status
`, 0600)

	policy, err := LoadPolicy(tmpDir)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}
	if policy.Version != 1 {
		t.Errorf("expected version 1, got %d", policy.Version)
	}
	if policy.DefaultAction != ActionDeny {
		t.Errorf("expected default_action 'deny', got '%s'", policy.DefaultAction)
	}
	if len(policy.AllowedTools) != 1 || len(policy.DeniedTools) != 1 {
		t.Errorf("unexpected tool lists: allowed=%v denied=%v", policy.AllowedTools, policy.DeniedTools)
	}
}

func TestLoadPolicy_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX permissions only")
	}
	tmpDir := t.TempDir()
	writePolicy(t, tmpDir, "version: 1\n", 0644)

	_, err := LoadPolicy(tmpDir)
	if !errors.Is(err, ErrPolicyInsecure) {
		t.Errorf("expected ErrPolicyInsecure, got %v", err)
	}
}

func TestLoadPolicy_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "version: [1\n"},
		{"unsupported version", "version: 2\n"},
		{"bad action", "version: 1\ndefault_action: maybe\n"},
		{"bad pattern", "version: 1\nallowed_tools:\n  - \"[\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			writePolicy(t, tmpDir, tt.content, 0600)
			if _, err := LoadPolicy(tmpDir); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadPolicy_DefaultActionFallback(t *testing.T) {
	tmpDir := t.TempDir()
	writePolicy(t, tmpDir, "version: 1\n", 0600)

	policy, err := LoadPolicy(tmpDir)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}
	if policy.DefaultAction != ActionDeny {
		t.Errorf("expected default_action 'deny', got '%s'", policy.DefaultAction)
	}
}

func TestLoadPolicy_Symlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("O_NOFOLLOW is not available on Windows")
	}
	tmpDir := t.TempDir()

	realPath := filepath.Join(tmpDir, "real-policy.yaml")
	if err := os.WriteFile(realPath, []byte("version: 1\n"), 0600); err != nil {
		t.Fatalf("failed to write real policy file: %v", err)
	}
	if err := os.Symlink(realPath, filepath.Join(tmpDir, PolicyFileName)); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}

	_, err := LoadPolicy(tmpDir)
	if err != ErrPolicySymlink {
		t.Errorf("expected ErrPolicySymlink, got %v", err)
	}
}

func TestIsToolAllowed(t *testing.T) {
	policy := &Policy{
		Version:       1,
		DefaultAction: ActionDeny,
		AllowedTools:  []string{"*_status"},
		DeniedTools:   []string{"queue_status"},
	}

	tests := []struct {
		tool string
		want bool
	}{
		{ToolVaultStatus, true},
		{ToolQueueStatus, false},
		{ToolCacheStats, false},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			allowed, reason := policy.IsToolAllowed(tt.tool)
			if allowed != tt.want {
				t.Errorf("IsToolAllowed(%q) = %v (%s), want %v", tt.tool, allowed, reason, tt.want)
			}
			if !allowed && reason == "" {
				t.Error("expected a reason for denial")
			}
		})
	}

	open := &Policy{Version: 1, DefaultAction: ActionAllow, DeniedTools: []string{"cache_*"}}
	if allowed, _ := open.IsToolAllowed(ToolQueueStatus); !allowed {
		t.Error("default allow should permit queue_status")
	}
	if allowed, _ := open.IsToolAllowed(ToolCacheStats); allowed {
		t.Error("denied pattern should win over default allow")
	}
}

func TestMatchTool(t *testing.T) {
	tests := []struct {
		tool, pattern string
		want          bool
	}{
		{"vault_status", "vault_status", true},
		{"vault_status", "*_status", true},
		{"cache_stats", "*_status", false},
		{"cache_stats", "[", false},
	}
	for _, tt := range tests {
		if got := matchTool(tt.tool, tt.pattern); got != tt.want {
			t.Errorf("matchTool(%q, %q) = %v, want %v", tt.tool, tt.pattern, got, tt.want)
		}
	}
}

func TestValidatePolicy(t *testing.T) {
	valid := &Policy{Version: 1, DefaultAction: ActionAllow}
	if err := valid.ValidatePolicy(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	invalid := []*Policy{
		{Version: 0, DefaultAction: ActionDeny},
		{Version: 1, DefaultAction: "invalid"},
		{Version: 1, DefaultAction: ActionDeny, DeniedTools: []string{"[x"}},
	}
	for _, p := range invalid {
		if err := p.ValidatePolicy(); err == nil {
			t.Errorf("expected error for %+v", p)
		}
	}
}
