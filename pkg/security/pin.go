// Package security provides PIN policy checks and runtime capability probing
// for the vault.
package security

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// PIN length limits.
const (
	MinPINLength = 4
	MaxPINLength = 12
)

// Errors
var (
	ErrPINTooShort   = errors.New("security: PIN too short")
	ErrPINTooLong    = errors.New("security: PIN too long")
	ErrPINNotNumeric = errors.New("security: PIN must contain only digits")
	ErrPINTooCommon  = errors.New("security: PIN is too common")
)

// commonPINs are rejected regardless of length. Repeated digits and straight
// ascending or descending runs are caught by the pattern checks below.
var commonPINs = map[string]struct{}{
	"1004": {}, "1010": {}, "1212": {}, "1122": {}, "1313": {}, "2000": {},
	"2001": {}, "2020": {}, "2580": {}, "4545": {}, "5683": {}, "6969": {},
	"7777": {}, "1357": {}, "2468": {}, "0852": {}, "1984": {}, "1999": {},
	"112233": {}, "121212": {}, "123123": {}, "159753": {}, "131313": {},
	"654321": {}, "696969": {}, "147258": {}, "102030": {}, "123321": {},
}

// PINStrength represents how guessable a PIN is.
type PINStrength int

const (
	// PINWeak is a PIN that fails policy.
	PINWeak PINStrength = iota
	// PINFair is an acceptable 4-5 digit PIN.
	PINFair
	// PINGood is an acceptable 6-7 digit PIN.
	PINGood
	// PINStrong is an acceptable PIN of 8 digits or more.
	PINStrong
)

// String returns a human-readable representation of the PIN strength.
func (s PINStrength) String() string {
	switch s {
	case PINWeak:
		return "Weak"
	case PINFair:
		return "Fair"
	case PINGood:
		return "Good"
	case PINStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// NormalizePIN applies NFKC normalization and trims surrounding whitespace,
// so full-width digits typed on some keyboards derive the same key as ASCII.
func NormalizePIN(pin string) string {
	return strings.TrimSpace(norm.NFKC.String(pin))
}

// ValidatePIN checks a (normalized) PIN against the creation policy.
func ValidatePIN(pin string) error {
	pin = NormalizePIN(pin)

	if len(pin) < MinPINLength {
		return fmt.Errorf("%w: minimum %d digits", ErrPINTooShort, MinPINLength)
	}
	if len(pin) > MaxPINLength {
		return fmt.Errorf("%w: maximum %d digits", ErrPINTooLong, MaxPINLength)
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return ErrPINNotNumeric
		}
	}
	if IsCommonPIN(pin) {
		return ErrPINTooCommon
	}
	return nil
}

// IsCommonPIN reports whether pin is on the common list, repeats one digit,
// or is a straight ascending or descending run.
func IsCommonPIN(pin string) bool {
	if _, ok := commonPINs[pin]; ok {
		return true
	}
	return isRepeated(pin) || isSequential(pin, 1) || isSequential(pin, -1)
}

// RatePIN rates a PIN. Policy failures are always PINWeak.
func RatePIN(pin string) PINStrength {
	if ValidatePIN(pin) != nil {
		return PINWeak
	}
	n := len(NormalizePIN(pin))
	switch {
	case n >= 8:
		return PINStrong
	case n >= 6:
		return PINGood
	default:
		return PINFair
	}
}

func isRepeated(pin string) bool {
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			return false
		}
	}
	return len(pin) > 0
}

// isSequential reports whether each digit differs from the previous by step,
// wrapping 9->0 for ascending runs such as 7890.
func isSequential(pin string, step int) bool {
	if len(pin) < 2 {
		return false
	}
	for i := 1; i < len(pin); i++ {
		prev := int(pin[i-1] - '0')
		cur := int(pin[i] - '0')
		if (prev+step+10)%10 != cur {
			return false
		}
	}
	return true
}
