package captcha

import (
	"context"
	"errors"
)

// TestSiteKey is Google's public reCAPTCHA test key. Every challenge passes.
const TestSiteKey = "6LeIxAcTAAAAAJcZVRqyHh71UMIEGNQ_MXjiZKhI"

var (
	ErrNoRuntime = errors.New("captcha: widget runtime is required")
	ErrNoSource  = errors.New("captcha: token source is required")
	ErrNoSiteKey = errors.New("captcha: site key is required")
)

// Runtime is the host-controlled widget (grecaptcha on a real page).
type Runtime interface {
	// Ready blocks until the widget reports it is initialized.
	Ready(ctx context.Context) error
	// Execute triggers a challenge for action and blocks until it resolves.
	Execute(ctx context.Context, siteKey, action string) error
}

// TokenSource is the externally populated field the widget writes its token to.
// ok is false while the field does not exist yet.
type TokenSource interface {
	Value(ctx context.Context) (value string, ok bool, err error)
}

// Clearer is implemented by token sources that can be emptied before a new
// challenge, so a previous token is never read back.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Phase is a step of one acquisition.
type Phase string

const (
	PhaseWaitingReady Phase = "waiting_ready"
	PhaseExecuting    Phase = "executing"
	PhasePolling      Phase = "polling"
	PhaseDelivered    Phase = "delivered"
)
