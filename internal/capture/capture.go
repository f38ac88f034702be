package capture

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/provider"
)

const (
	DefaultPrefix          = "captcha/failures"
	DefaultTimestampFormat = "2006-01-02T15-04-05Z"
)

// Page is what a failed acquisition leaves behind to inspect.
type Page interface {
	Screenshot(ctx context.Context) ([]byte, error)
	HTML(ctx context.Context) (string, error)
}

// Options controls artifact naming.
type Options struct {
	// Prefix: provider prefix/directory (default: captcha/failures).
	Prefix string
	// Action: the captcha action, used as a sub-directory (default: unknown).
	Action string
	// TimestampFormat: Go time layout for file names (default: 2006-01-02T15-04-05Z).
	TimestampFormat string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Result lists the stored artifact keys.
type Result struct {
	Keys      []string
	Timestamp time.Time
}

// Save captures a screenshot and the page HTML and stores both through store.
// It keeps going when one capture fails and returns the joined errors.
func Save(ctx context.Context, page Page, store provider.Provider, opt Options) (Result, error) {
	var res Result
	if page == nil || store == nil {
		return res, errors.New("capture: page and store are required")
	}
	now := time.Now
	if opt.Now != nil {
		now = opt.Now
	}
	res.Timestamp = now().UTC()

	var errs []error
	png, err := page.Screenshot(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		key := BuildKey(opt.Prefix, opt.Action, opt.TimestampFormat, res.Timestamp, "png")
		if err := store.Put(ctx, key, png, "image/png"); err != nil {
			errs = append(errs, fmt.Errorf("store %s: %w", key, err))
		} else {
			res.Keys = append(res.Keys, key)
		}
	}

	html, err := page.HTML(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		key := BuildKey(opt.Prefix, opt.Action, opt.TimestampFormat, res.Timestamp, "html")
		if err := store.Put(ctx, key, []byte(html), "text/html; charset=utf-8"); err != nil {
			errs = append(errs, fmt.Errorf("store %s: %w", key, err))
		} else {
			res.Keys = append(res.Keys, key)
		}
	}

	log.Info().
		Str("action", "capture_save").
		Str("provider", store.Name()).
		Strs("keys", res.Keys).
		Int("errors", len(errs)).
		Msg("failure artifacts saved")
	return res, errors.Join(errs...)
}

// BuildKey returns "<prefix>/<action>/<timestamp>.<ext>".
func BuildKey(prefix, action, layout string, ts time.Time, ext string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	action = sanitize(action)
	if action == "" {
		action = "unknown"
	}
	layout = strings.TrimSpace(layout)
	if layout == "" {
		layout = DefaultTimestampFormat
	}
	return path.Join(prefix, action, fmt.Sprintf("%s.%s", ts.UTC().Format(layout), ext))
}

// sanitize keeps action names usable as a single path segment.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
