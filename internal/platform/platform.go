// Package platform describes the capabilities of the platform key store the
// engine runs against.
//
// Capability is expressed as an API level, the same way mobile platforms
// version their key store behaviour:
//   - levels below ModernLevel only offer asymmetric keypairs
//   - ModernLevel and above offer symmetric keys with caller-supplied IVs
//   - exactly TransientFaultLevel has a provider bug where a crypto call can
//     fail once and succeed when retried after a short pause
package platform

import "fmt"

const (
	ModernLevel         = 23
	TransientFaultLevel = 29
	DefaultLevel        = 34
)

// Profile is the capability set of one platform.
type Profile struct {
	Level int
}

// Default returns the profile of a current platform.
func Default() Profile {
	return Profile{Level: DefaultLevel}
}

// SupportsSymmetricKeys reports whether the key store can hold symmetric keys.
func (p Profile) SupportsSymmetricKeys() bool {
	return p.Level >= ModernLevel
}

// HasTransientKeystoreFault reports whether this exact level is affected by
// the transient provider bug.
func (p Profile) HasTransientKeystoreFault() bool {
	return p.Level == TransientFaultLevel
}

// Validate rejects levels that cannot describe a real platform.
func (p Profile) Validate() error {
	if p.Level <= 0 {
		return fmt.Errorf("invalid platform level %d", p.Level)
	}
	return nil
}

func (p Profile) String() string {
	return fmt.Sprintf("level %d", p.Level)
}
