package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// DefaultTokenField is the form field reCAPTCHA writes its response to.
const DefaultTokenField = "g-recaptcha-response"

// DefaultScriptURL loads the reCAPTCHA v3 API.
const DefaultScriptURL = "https://www.google.com/recaptcha/api.js"

// Options configures the Chrome instance and the page conventions.
type Options struct {
	// RemoteURL attaches to an existing DevTools endpoint instead of starting Chrome.
	RemoteURL string
	ExecPath  string
	Headless  bool
	UserAgent string

	// TokenField is the name attribute of the token field.
	TokenField string
	// InjectScript loads ScriptURL?render=SiteKey when the page lacks it.
	InjectScript bool
	ScriptURL    string
	SiteKey      string

	// ReadyPoll separates checks for the grecaptcha global (default 100ms).
	ReadyPoll time.Duration
}

// Session is one Chrome tab exposing the reCAPTCHA widget and its token field.
// It satisfies captcha.Runtime, captcha.TokenSource and captcha.Clearer.
type Session struct {
	ctx    context.Context // chromedp tab context
	cancel context.CancelFunc
	opts   Options
}

// New starts (or attaches to) a browser and opens a blank tab.
func New(parent context.Context, opts Options) (*Session, error) {
	opts = withDefaults(opts)

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(parent, opts.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(parent, allocatorOptions(opts)...)
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// First Run starts the browser.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	log.Debug().
		Str("action", "browser_start").
		Bool("remote", opts.RemoteURL != "").
		Bool("headless", opts.Headless).
		Msg("browser session started")

	return &Session{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		opts: opts,
	}, nil
}

func withDefaults(opts Options) Options {
	opts.TokenField = strings.TrimSpace(opts.TokenField)
	if opts.TokenField == "" {
		opts.TokenField = DefaultTokenField
	}
	if strings.TrimSpace(opts.ScriptURL) == "" {
		opts.ScriptURL = DefaultScriptURL
	}
	if opts.ReadyPoll <= 0 {
		opts.ReadyPoll = 100 * time.Millisecond
	}
	return opts
}

func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	out = append(out, chromedp.Flag("headless", opts.Headless))
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		out = append(out, chromedp.UserAgent(opts.UserAgent))
	}
	return out
}

// Open navigates to pageURL and makes sure the reCAPTCHA script is present.
func (s *Session) Open(ctx context.Context, pageURL string) error {
	pageURL = strings.TrimSpace(pageURL)
	if pageURL == "" {
		return errors.New("browser: page url is empty")
	}
	start := time.Now()
	if err := s.run(ctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("open %s: %w", pageURL, err)
	}

	if s.opts.InjectScript {
		var present bool
		if err := s.run(ctx, chromedp.Evaluate(scriptPresentJS, &present)); err != nil {
			return fmt.Errorf("inspect page scripts: %w", err)
		}
		if !present {
			src, err := scriptSource(s.opts.ScriptURL, s.opts.SiteKey)
			if err != nil {
				return err
			}
			if err := s.run(ctx, chromedp.Evaluate(injectScriptJS(src), nil)); err != nil {
				return fmt.Errorf("inject recaptcha script: %w", err)
			}
			log.Debug().Str("action", "browser_open").Str("script", src).Msg("recaptcha script injected")
		}
	}

	log.Info().
		Str("action", "browser_open").
		Str("url", pageURL).
		Dur("elapsed_ms", time.Since(start)).
		Msg("page loaded")
	return nil
}

// Screenshot captures the visible viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// HTML returns the current document markup.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("page html: %w", err)
	}
	return html, nil
}

// Close closes the tab and the browser (or the remote connection).
func (s *Session) Close() {
	s.cancel()
}

// run executes actions on the tab, bounded by both the tab and ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
