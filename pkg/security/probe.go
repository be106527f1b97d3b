package security

import (
	"crypto/rand"
	"fmt"
	"runtime"
)

// Capability describes whether the current runtime can host a vault.
type Capability struct {
	Supported bool
	Reason    string
}

// CapabilityProbe reports runtime support for vault creation. It is injected
// into the vault so tests and embedders can substitute their own checks.
type CapabilityProbe interface {
	Probe() Capability
}

// unsupportedPlatforms lack durable device-local storage.
var unsupportedPlatforms = map[string]string{
	"js":     "no durable device-local storage in js/wasm",
	"wasip1": "no durable device-local storage in wasip1",
}

// RuntimeProbe checks the running platform and the system randomness source.
type RuntimeProbe struct {
	// GOOS overrides runtime.GOOS when set.
	GOOS string
}

// Probe implements CapabilityProbe.
func (p RuntimeProbe) Probe() Capability {
	goos := p.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	if reason, ok := unsupportedPlatforms[goos]; ok {
		return Capability{Reason: reason}
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return Capability{Reason: fmt.Sprintf("secure random source unavailable: %v", err)}
	}
	return Capability{Supported: true}
}

// StaticProbe always returns the embedded Capability.
type StaticProbe Capability

// Probe implements CapabilityProbe.
func (p StaticProbe) Probe() Capability {
	return Capability(p)
}
