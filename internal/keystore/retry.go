package keystore

import (
	"errors"
	"log/slog"
	"time"

	"github.com/illarion/securestore/internal/platform"
)

// DefaultRetryDelay is the pause before the single retry of a crypto call
// that hit the transient provider fault.
const DefaultRetryDelay = 100 * time.Millisecond

// retrier runs platform crypto calls, retrying exactly once when the call
// fails with ErrTransient on a platform known to raise it spuriously.
type retrier struct {
	profile platform.Profile
	delay   time.Duration
	sleep   func(time.Duration)
	logger  *slog.Logger
}

func (r *retrier) do(op, alias string, call func() ([]byte, error)) ([]byte, error) {
	out, err := call()
	if err == nil || !r.profile.HasTransientKeystoreFault() || !errors.Is(err, ErrTransient) {
		return out, err
	}

	r.logger.Warn("transient key store fault, retrying once",
		"op", op, "alias", alias, "delay", r.delay, "error", err)
	r.sleep(r.delay)
	return call()
}
