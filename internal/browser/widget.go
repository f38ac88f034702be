package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/retry"
)

const (
	scriptPresentJS = `Array.from(document.scripts).some(s => (s.src || "").indexOf("recaptcha/api.js") !== -1)`
	globalPresentJS = `typeof window.grecaptcha !== "undefined" && typeof window.grecaptcha.ready === "function"`
	readyJS         = `new Promise(resolve => grecaptcha.ready(() => resolve(true)))`
)

// Ready waits for the grecaptcha global to load, then for grecaptcha.ready.
func (s *Session) Ready(ctx context.Context) error {
	err := retry.Poll(ctx, s.opts.ReadyPoll, func(ctx context.Context) (bool, error) {
		var present bool
		if err := s.run(ctx, chromedp.Evaluate(globalPresentJS, &present)); err != nil {
			return false, err
		}
		return present, nil
	})
	if err != nil {
		return fmt.Errorf("wait grecaptcha global: %w", err)
	}
	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(readyJS, &ok, awaitPromise)); err != nil {
		return fmt.Errorf("grecaptcha.ready: %w", err)
	}
	return nil
}

// Execute runs grecaptcha.execute and waits for its promise.
func (s *Session) Execute(ctx context.Context, siteKey, action string) error {
	expr, err := executeJS(siteKey, action)
	if err != nil {
		return err
	}
	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(expr, &ok, awaitPromise)); err != nil {
		return fmt.Errorf("grecaptcha.execute: %w", err)
	}
	return nil
}

// Value reads the token field; ok is false while the field does not exist.
func (s *Session) Value(ctx context.Context) (string, bool, error) {
	expr, err := fieldValueJS(s.opts.TokenField)
	if err != nil {
		return "", false, err
	}
	var v *string
	if err := s.run(ctx, chromedp.Evaluate(expr, &v)); err != nil {
		return "", false, fmt.Errorf("read token field: %w", err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

// Clear empties every token field on the page.
func (s *Session) Clear(ctx context.Context) error {
	expr, err := clearFieldJS(s.opts.TokenField)
	if err != nil {
		return err
	}
	var n int
	if err := s.run(ctx, chromedp.Evaluate(expr, &n)); err != nil {
		return fmt.Errorf("clear token field: %w", err)
	}
	return nil
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// jsString renders s as a JavaScript string literal.
func jsString(s string) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func executeJS(siteKey, action string) (string, error) {
	k, err := jsString(siteKey)
	if err != nil {
		return "", err
	}
	a, err := jsString(action)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`grecaptcha.execute(%s, {action: %s}).then(() => true)`, k, a), nil
}

func fieldSelector(field string) (string, error) {
	return jsString(fmt.Sprintf(`[name=%q]`, field))
}

func fieldValueJS(field string) (string, error) {
	sel, err := fieldSelector(field)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => { const el = document.querySelector(%s); return el ? (el.value ?? null) : null; })()`, sel), nil
}

func clearFieldJS(field string) (string, error) {
	sel, err := fieldSelector(field)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => { const els = document.querySelectorAll(%s); els.forEach(el => { el.value = ""; }); return els.length; })()`, sel), nil
}

func scriptSource(base, siteKey string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse script url: %w", err)
	}
	if siteKey != "" {
		q := u.Query()
		q.Set("render", siteKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func injectScriptJS(src string) string {
	lit, _ := jsString(src)
	return fmt.Sprintf(`(() => { const s = document.createElement("script"); s.src = %s; s.async = true; document.head.appendChild(s); return true; })()`, lit)
}
