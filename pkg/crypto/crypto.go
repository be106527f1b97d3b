// Package crypto provides the key derivation and cipher primitives behind the
// PIN vault.
//
// A short PIN is stretched into a 256-bit key with PBKDF2-HMAC-SHA256 and a
// per-vault random salt. The protected secret is sealed with AES-256-GCM, so
// a wrong key fails authentication instead of producing garbage plaintext.
//
// # Security Features
//
//   - PBKDF2-HMAC-SHA256 key derivation (100,000 iterations by default)
//   - AES-256-GCM authenticated encryption
//   - Nonce-prepended blobs for single-column storage
//   - Open never distinguishes a wrong key from corrupted data
//   - Secure memory wiping for derived keys
//
// # Example Usage
//
//	salt, _ := crypto.GenerateSalt()
//	key := crypto.DeriveKey([]byte("4829"), salt)
//	defer crypto.SecureWipe(key)
//
//	blob, err := crypto.Seal(key, []byte("JBSWY3DPEHPK3PXP"))
//	plaintext, err := crypto.Open(key, blob)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// Key derivation and cipher parameters.
const (
	// DefaultIterations is the PBKDF2 work factor used for new vaults.
	DefaultIterations = 100_000

	// MinIterations is the lowest work factor accepted when opening a record.
	MinIterations = 10_000

	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// SaltLength is the length of generated salts in bytes (128 bits).
	SaltLength = 16

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrInvalidNonceLength indicates the nonce is not 12 bytes.
	ErrInvalidNonceLength = errors.New("crypto: invalid nonce length, must be 12 bytes")

	// ErrDecryptionFailed indicates decryption or authentication tag verification failed.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")

	// ErrCiphertextTooShort indicates the ciphertext is shorter than the GCM tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

	// ErrWeakIterations indicates a work factor below MinIterations.
	ErrWeakIterations = errors.New("crypto: iteration count below minimum")
)

// DeriveKey derives a 256-bit key from a PIN and salt using PBKDF2-HMAC-SHA256
// with DefaultIterations. The same (pin, salt) pair always yields the same key.
func DeriveKey(pin, salt []byte) []byte {
	return pbkdf2.Key(pin, salt, DefaultIterations, KeyLength, sha256.New)
}

// DeriveKeyWithIterations is DeriveKey with an explicit work factor, used when
// opening records written with a different iteration count.
func DeriveKeyWithIterations(pin, salt []byte, iterations int) ([]byte, error) {
	if iterations < MinIterations {
		return nil, fmt.Errorf("%w: %d < %d", ErrWeakIterations, iterations, MinIterations)
	}
	return pbkdf2.Key(pin, salt, iterations, KeyLength, sha256.New), nil
}

// DeriveSubkey expands a master key into an independent 256-bit subkey bound
// to info, using HKDF-SHA256.
func DeriveSubkey(master []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, master, nil, []byte(info))
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("crypto: failed to derive subkey: %w", err)
	}
	return key, nil
}

// GenerateSalt returns SaltLength bytes from crypto/rand.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate salt: %w", err)
	}
	return salt, nil
}

// Encrypt encrypts plaintext using AES-256-GCM authenticated encryption.
//
// The function generates a cryptographically secure random 12-byte nonce
// using crypto/rand. The authentication tag is appended to the ciphertext.
//
// Returns:
//   - ciphertext: encrypted data with authentication tag
//   - nonce: 12-byte nonce (must be stored with ciphertext for decryption)
//   - err: ErrInvalidKeyLength if key is not 32 bytes
func Encrypt(key, plaintext []byte) (ciphertext []byte, nonce []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)

	return ciphertext, nonce, nil
}

// Decrypt decrypts ciphertext using AES-256-GCM authenticated encryption.
//
// The function verifies the authentication tag before returning the plaintext.
// If the tag verification fails (indicating a wrong key, tampering or
// corruption), ErrDecryptionFailed is returned.
func Decrypt(key, ciphertext, nonce []byte) (plaintext []byte, err error) {
	if len(nonce) != NonceLength {
		return nil, ErrInvalidNonceLength
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err = gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// Seal encrypts plaintext and returns nonce||ciphertext as a single blob.
func Seal(key, plaintext []byte) ([]byte, error) {
	ciphertext, nonce, err := Encrypt(key, plaintext)
	if err != nil {
		return nil, err
	}
	return append(nonce, ciphertext...), nil
}

// Open reverses Seal. Any failure, including a malformed blob or a key of the
// wrong size, is reported as ErrDecryptionFailed so callers cannot tell a
// wrong PIN from a damaged record.
func Open(key, blob []byte) ([]byte, error) {
	if len(blob) < NonceLength {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := Decrypt(key, blob[NonceLength:], blob[:NonceLength])
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive ensures the write operations are not optimized away
	// by the compiler since b is still "in use" after the loop.
	runtime.KeepAlive(b)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}
