package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/retry"
	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/util"
)

// DefaultURL is Google's siteverify endpoint.
const DefaultURL = "https://www.google.com/recaptcha/api/siteverify"

var (
	ErrEmptyToken         = errors.New("verify: token is empty")
	ErrVerificationFailed = errors.New("verify: token rejected")
)

// Result mirrors the siteverify JSON response.
type Result struct {
	Success     bool     `json:"success"`
	Score       float64  `json:"score"`
	Action      string   `json:"action"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
	ErrorCodes  []string `json:"error-codes"`
}

// Options configures a Verifier.
type Options struct {
	Secret   string
	URL      string
	Timeout  time.Duration
	Retry    retry.Options
	CacheTTL time.Duration
}

// Verifier checks tokens against the siteverify endpoint.
// Results are cached per token because the endpoint only accepts a token once,
// and concurrent calls for the same token share a single request.
type Verifier struct {
	client *resty.Client
	secret string
	url    string
	ro     retry.Options
	cache  *cache.Cache
	group  singleflight.Group
}

func New(opts Options) (*Verifier, error) {
	secret := strings.TrimSpace(opts.Secret)
	if secret == "" {
		return nil, errors.New("verify: secret key is required")
	}
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		url = DefaultURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Verifier{
		client: resty.New().SetTimeout(timeout),
		secret: secret,
		url:    url,
		ro:     opts.Retry,
		cache:  cache.New(ttl, 2*ttl),
	}, nil
}

type statusError struct {
	code int
	body string
}

func (e statusError) Error() string {
	return fmt.Sprintf("siteverify returned %d (%s)", e.code, e.body)
}

// requestError marks transport failures (no HTTP response at all).
type requestError struct{ err error }

func (e requestError) Error() string { return "siteverify request: " + e.err.Error() }
func (e requestError) Unwrap() error { return e.err }

// Verify posts token (and the optional end-user IP) to the endpoint.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) (Result, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Result{}, ErrEmptyToken
	}
	key := util.SHA256String(token)
	if cached, ok := v.cache.Get(key); ok {
		log.Debug().Str("action", "verify_token").Msg("cached result")
		return cached.(Result), nil
	}

	res, err, shared := v.group.Do(key, func() (any, error) {
		if cached, ok := v.cache.Get(key); ok {
			return cached.(Result), nil
		}
		out, err := v.fetch(ctx, token, remoteIP)
		if err != nil {
			return Result{}, err
		}
		v.cache.Set(key, out, cache.DefaultExpiration)
		return out, nil
	})
	if err != nil {
		return Result{}, err
	}
	if shared {
		log.Debug().Str("action", "verify_token").Msg("shared in-flight result")
	}
	return res.(Result), nil
}

// fetch posts token (and the optional end-user IP) with retries.
func (v *Verifier) fetch(ctx context.Context, token, remoteIP string) (Result, error) {
	form := map[string]string{"secret": v.secret, "response": token}
	if ip := strings.TrimSpace(remoteIP); ip != "" {
		form["remoteip"] = ip
	}

	var out Result
	attempt := 0
	start := time.Now()
	verifyOnce := func(ctx context.Context) error {
		attempt++
		resp, err := v.client.R().
			SetContext(ctx).
			SetFormData(form).
			Post(v.url)
		if err != nil {
			return requestError{err: err}
		}
		if resp.StatusCode() != http.StatusOK {
			return statusError{code: resp.StatusCode(), body: snippet(resp.String(), maxErrorBody)}
		}
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return fmt.Errorf("decode siteverify response: %w", err)
		}
		return nil
	}
	if err := retry.Do(ctx, v.ro, isRetryable, verifyOnce); err != nil {
		log.Error().Err(err).Str("action", "verify_token").Int("attempts", attempt).Msg("verification request failed")
		return Result{}, err
	}

	log.Info().
		Str("action", "verify_token").
		Bool("success", out.Success).
		Float64("score", out.Score).
		Str("captcha_action", out.Action).
		Str("hostname", out.Hostname).
		Strs("error_codes", out.ErrorCodes).
		Int("attempts", attempt).
		Dur("elapsed_ms", time.Since(start)).
		Msg("token verified")
	return out, nil
}

const maxErrorBody = 256

// snippet trims s to at most n bytes without splitting a UTF-8 sequence.
func snippet(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// isRetryable retries transport failures, 5xx and 429; never bad requests or decode errors.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	var re requestError
	return errors.As(err, &re)
}
