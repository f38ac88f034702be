package captcha

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/retry"
)

// Options tunes an Acquirer.
type Options struct {
	SiteKey string
	// PollInterval separates two reads of the token source (default 100ms).
	PollInterval time.Duration
	// Timeout bounds a whole acquisition. Zero means no bound besides ctx.
	Timeout time.Duration
}

// Acquirer obtains one-time tokens from a widget runtime.
// Acquisitions on the same Acquirer run one at a time.
type Acquirer struct {
	rt   Runtime
	src  TokenSource
	opts Options
	sem  chan struct{} // one slot: the acquisition in flight
}

// New validates its collaborators and applies defaults.
func New(rt Runtime, src TokenSource, opts Options) (*Acquirer, error) {
	if rt == nil {
		return nil, ErrNoRuntime
	}
	if src == nil {
		return nil, ErrNoSource
	}
	opts.SiteKey = strings.TrimSpace(opts.SiteKey)
	if opts.SiteKey == "" {
		return nil, ErrNoSiteKey
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = retry.DefaultPollInterval
	}
	if opts.Timeout < 0 {
		opts.Timeout = 0
	}
	return &Acquirer{rt: rt, src: src, opts: opts, sem: make(chan struct{}, 1)}, nil
}

// Acquire runs an acquisition in the background and hands the token to
// onToken exactly once. onToken is never called when the acquisition fails
// or ctx ends first; the failure is logged. A nil onToken is ignored.
func (a *Acquirer) Acquire(ctx context.Context, action string, onToken func(token string)) {
	if onToken == nil {
		log.Warn().
			Str("action", "captcha_acquire").
			Str("captcha_action", action).
			Msg("no token callback, acquisition skipped")
		return
	}
	go func() {
		token, err := a.Token(ctx, action)
		if err != nil {
			log.Error().
				Err(err).
				Str("action", "captcha_acquire").
				Str("captcha_action", action).
				Msg("token acquisition failed")
			return
		}
		onToken(token)
	}()
}

// Token runs an acquisition and blocks until the token is available.
// Waiting behind another acquisition counts against ctx and the timeout.
func (a *Acquirer) Token(ctx context.Context, action string) (string, error) {
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	select {
	case a.sem <- struct{}{}:
	case <-ctx.Done():
		return "", fmt.Errorf("wait previous acquisition: %w", ctx.Err())
	}
	defer func() { <-a.sem }()

	start := time.Now()
	logPhase(PhaseWaitingReady, action, start)
	if err := a.rt.Ready(ctx); err != nil {
		return "", fmt.Errorf("wait widget ready: %w", err)
	}

	logPhase(PhaseExecuting, action, start)
	if c, ok := a.src.(Clearer); ok {
		if err := c.Clear(ctx); err != nil {
			return "", fmt.Errorf("clear token field: %w", err)
		}
	}
	if err := a.rt.Execute(ctx, a.opts.SiteKey, action); err != nil {
		return "", fmt.Errorf("execute challenge: %w", err)
	}

	logPhase(PhasePolling, action, start)
	var token string
	polls := 0
	err := retry.Poll(ctx, a.opts.PollInterval, func(ctx context.Context) (bool, error) {
		polls++
		v, ok, err := a.src.Value(ctx)
		if err != nil {
			return false, err
		}
		if !ok || v == "" {
			return false, nil
		}
		token = v
		return true, nil
	})
	if err != nil {
		return "", fmt.Errorf("poll token: %w", err)
	}

	// Never log the token content.
	log.Info().
		Str("action", "captcha_acquire").
		Str("phase", string(PhaseDelivered)).
		Str("captcha_action", action).
		Int("polls", polls).
		Int("token_len", len(token)).
		Dur("elapsed_ms", time.Since(start)).
		Msg("token acquired")
	return token, nil
}

func logPhase(p Phase, action string, start time.Time) {
	log.Debug().
		Str("action", "captcha_acquire").
		Str("phase", string(p)).
		Str("captcha_action", action).
		Dur("elapsed_ms", time.Since(start)).
		Msg("phase started")
}
