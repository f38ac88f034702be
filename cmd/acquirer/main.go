package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/browser"
	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/captcha"
	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/capture"
	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/config"
	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/logx"
	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/provider"
	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/verify"
	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/version"

	_ "github.com/Chapsvision-dev/captcha-token-acquirer/internal/provider/azure"
	_ "github.com/Chapsvision-dev/captcha-token-acquirer/internal/provider/local"
)

// pageSession is a browser tab hosting the widget.
type pageSession interface {
	captcha.Runtime
	captcha.TokenSource
	capture.Page
	Open(ctx context.Context, pageURL string) error
	Close()
}

type tokenVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (verify.Result, error)
}

// Test seams — overridden in unit tests. Keep signatures in sync with packages.
var (
	loadConfig  func() (config.Config, error)                             = config.Load
	openSession func(context.Context, config.Config) (pageSession, error) = newBrowserSession
	newStore    func(name string, cfg any) (provider.Provider, error)     = provider.New
	newVerifier func(verify.Options) (tokenVerifier, error)               = newSiteVerifier
	exit        func(int)                                                 = os.Exit
)

const usage = `
Usage:
  acquirer token   [pageURL] [action]
  acquirer verify  [token]   [action]
  acquirer version | --version | -v
  acquirer help    | --help    | -h

Notes:
  - You can also set env vars:
      CAPTCHA_PAGE_URL, CAPTCHA_ACTION, CAPTCHA_TOKEN, VERIFY_ACTION
  - The site key comes from RECAPTCHA_SITE_KEY (default: Google test key).
  - verify needs RECAPTCHA_SECRET_KEY.
  - Failure artifacts are stored with ARTIFACTS_PROVIDER (none|local|azure).
`

// main wires CLI -> config -> browser -> acquirer (or verifier).
// Exit codes: 0 success, 1 runtime error, 2 usage error.
func main() {
	_ = godotenv.Load() // best-effort
	logx.InitFromEnv()

	args := os.Args[1:]
	if len(args) < 1 {
		fmt.Print(usage)
		exit(2)
	}
	action := strings.ToLower(args[0])

	// Handle version command
	if action == "version" || action == "--version" || action == "-v" {
		fmt.Println(version.String())
		exit(0)
	}

	// Handle help command
	if action == "help" || action == "--help" || action == "-h" {
		fmt.Print(usage)
		exit(0)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Msg("config error")
		exit(1)
	}

	ctx := withSignals(context.Background())

	switch action {
	case "token":
		pageURL := pickArgOrEnv(2, "CAPTCHA_PAGE_URL", cfg.PageURL)
		captchaAction := pickArgOrEnv(3, "CAPTCHA_ACTION", cfg.Action)
		if pageURL == "" {
			log.Error().Str("action", "token").Msg("page url is required (CLI arg or CAPTCHA_PAGE_URL)")
			exit(2)
		}

		start := time.Now()
		token, err := runToken(ctx, cfg, pageURL, captchaAction)
		if err != nil {
			log.Error().Err(err).Str("action", "token").Str("url", pageURL).
				Str("captcha_action", captchaAction).Msg("token acquisition failed")
			exit(1)
		}
		log.Info().
			Str("action", "token").
			Str("url", pageURL).
			Str("captcha_action", captchaAction).
			Dur("elapsed_ms", time.Since(start)).
			Msg("token OK")
		fmt.Println(token)

	case "verify":
		token := pickArgOrEnv(2, "CAPTCHA_TOKEN", "")
		wantAction := pickArgOrEnv(3, "VERIFY_ACTION", "")
		if token == "" {
			log.Error().Str("action", "verify").Msg("token is required (CLI arg or CAPTCHA_TOKEN)")
			exit(2)
		}

		res, err := runVerify(ctx, cfg, token, wantAction)
		// A rejected token still has an endpoint answer worth printing.
		if err == nil || errors.Is(err, verify.ErrVerificationFailed) {
			out, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(out))
		}
		if err != nil {
			log.Error().Err(err).Str("action", "verify").Msg("verification failed")
			exit(1)
		}
		log.Info().Str("action", "verify").Float64("score", res.Score).Msg("verify OK")

	default:
		fmt.Print(usage)
		exit(2)
	}
}

// runToken opens the page, acquires one token and, on failure, stores
// diagnostics when an artifact provider is configured.
func runToken(ctx context.Context, cfg config.Config, pageURL, action string) (string, error) {
	sess, err := openSession(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("open browser: %w", err)
	}
	defer sess.Close()

	if err := sess.Open(ctx, pageURL); err != nil {
		saveFailure(ctx, cfg, sess, action)
		return "", err
	}

	acq, err := captcha.New(sess, sess, captcha.Options{
		SiteKey:      cfg.SiteKey,
		PollInterval: cfg.PollInterval,
		Timeout:      cfg.Timeout,
	})
	if err != nil {
		return "", err
	}
	token, err := acq.Token(ctx, action)
	if err != nil {
		saveFailure(ctx, cfg, sess, action)
		return "", err
	}
	return token, nil
}

// saveFailure is best-effort: errors are logged, never returned.
func saveFailure(ctx context.Context, cfg config.Config, page capture.Page, action string) {
	if !cfg.ArtifactsEnabled() {
		return
	}
	store, err := newStore(cfg.Artifacts.Provider, cfg)
	if err != nil {
		log.Warn().Err(err).Str("provider", cfg.Artifacts.Provider).Msg("artifact store init error")
		return
	}
	// The acquisition context may already be done; give the capture its own budget.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if _, err := capture.Save(cctx, page, store, capture.Options{
		Prefix:          cfg.Artifacts.Prefix,
		Action:          action,
		TimestampFormat: cfg.Artifacts.TimestampFormat,
	}); err != nil {
		log.Warn().Err(err).Str("action", "capture_save").Msg("failure artifacts incomplete")
	}
}

func runVerify(ctx context.Context, cfg config.Config, token, wantAction string) (verify.Result, error) {
	if cfg.SecretKey == "" {
		return verify.Result{}, errors.New("RECAPTCHA_SECRET_KEY is required for verify")
	}
	v, err := newVerifier(verify.Options{
		Secret:   cfg.SecretKey,
		URL:      cfg.Verify.URL,
		Timeout:  cfg.Verify.Timeout,
		Retry:    cfg.RetryOptions(),
		CacheTTL: cfg.Verify.CacheTTL,
	})
	if err != nil {
		return verify.Result{}, err
	}
	res, err := v.Verify(ctx, token, "")
	if err != nil {
		return verify.Result{}, err
	}
	return res, res.Check(verify.Criteria{
		Action:   wantAction,
		Hostname: cfg.Verify.Hostname,
		MinScore: cfg.Verify.MinScore,
	})
}

func newBrowserSession(ctx context.Context, cfg config.Config) (pageSession, error) {
	s, err := browser.New(ctx, browser.Options{
		RemoteURL:    cfg.Browser.RemoteURL,
		ExecPath:     cfg.Browser.ExecPath,
		Headless:     cfg.Browser.Headless,
		UserAgent:    cfg.Browser.UserAgent,
		TokenField:   cfg.TokenField,
		InjectScript: cfg.Browser.InjectScript,
		SiteKey:      cfg.SiteKey,
		ReadyPoll:    cfg.PollInterval,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newSiteVerifier(o verify.Options) (tokenVerifier, error) {
	v, err := verify.New(o)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func pickArgOrEnv(idx int, env string, def string) string {
	if len(os.Args) > idx && os.Args[idx] != "" {
		return os.Args[idx]
	}
	if v, ok := os.LookupEnv(env); ok && v != "" {
		return v
	}
	return def
}

func withSignals(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()
	return ctx
}
