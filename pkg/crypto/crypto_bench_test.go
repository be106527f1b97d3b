package crypto_test

import (
	"crypto/rand"
	"testing"

	"github.com/forest6511/vaultsync/pkg/crypto"
)

// BenchmarkDeriveKey measures PBKDF2 key derivation at the default work factor.
// This is the dominant cost of every unlock attempt.
func BenchmarkDeriveKey(b *testing.B) {
	pin := []byte("4829")
	salt := make([]byte, crypto.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		crypto.DeriveKey(pin, salt)
	}
}

// BenchmarkSeal measures AES-256-GCM sealing of a typical secret.
func BenchmarkSeal(b *testing.B) {
	key := make([]byte, crypto.KeyLength)
	if _, err := rand.Read(key); err != nil {
		b.Fatal(err)
	}
	data := make([]byte, 64)
	if _, err := rand.Read(data); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := crypto.Seal(key, data); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkOpen measures AES-256-GCM opening of a typical secret.
func BenchmarkOpen(b *testing.B) {
	key := make([]byte, crypto.KeyLength)
	if _, err := rand.Read(key); err != nil {
		b.Fatal(err)
	}
	data := make([]byte, 64)
	if _, err := rand.Read(data); err != nil {
		b.Fatal(err)
	}
	blob, err := crypto.Seal(key, data)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := crypto.Open(key, blob); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSecureWipe measures secure memory wiping performance.
func BenchmarkSecureWipe(b *testing.B) {
	data := make([]byte, 1024) // 1KB

	b.ReportAllocs()
	b.SetBytes(1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		crypto.SecureWipe(data)
	}
}
