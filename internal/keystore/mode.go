package keystore

import (
	"fmt"

	"github.com/illarion/securestore/internal/platform"
)

// Mode identifies the crypto scheme in use.
type Mode int

const (
	ModeLegacy Mode = iota + 1
	ModeModern
)

// ModeFor selects the scheme a platform supports.
func ModeFor(p platform.Profile) Mode {
	if p.SupportsSymmetricKeys() {
		return ModeModern
	}
	return ModeLegacy
}

func (m Mode) String() string {
	switch m {
	case ModeLegacy:
		return "LEGACY"
	case ModeModern:
		return "MODERN"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Other returns the opposite mode.
func (m Mode) Other() Mode {
	if m == ModeLegacy {
		return ModeModern
	}
	return ModeLegacy
}

// ParseMode parses the String form of a mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "LEGACY":
		return ModeLegacy, nil
	case "MODERN":
		return ModeModern, nil
	default:
		return 0, fmt.Errorf("unknown storage mode %q", s)
	}
}
