package cli

import "testing"

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected string
	}{
		{"empty value", "", ""},
		{"1 character", "a", "*"},
		{"4 characters", "abcd", "****"},
		{"5 characters", "abcde", "***de"},
		{"8 characters", "abcdefgh", "******gh"},
		{"9 characters", "abcdefghi", "*****fghi"},
		{"token", "tok_live_4242", "*********4242"},
		{"multibyte", "秘密のトークン値", "******ン値"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskSecret(tt.value); got != tt.expected {
				t.Errorf("MaskSecret(%q) = %q, want %q", tt.value, got, tt.expected)
			}
		})
	}
}

func TestSecretLength(t *testing.T) {
	if got := SecretLength("秘密"); got != 2 {
		t.Errorf("SecretLength() = %d, want 2", got)
	}
}
