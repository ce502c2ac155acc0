// internal/detect/detect.go

// Package detect inspects the live page for authentication state and for
// third-party bot-verification interstitials. Detection is deliberately
// conservative: any one logged-out signal is enough to report that a login
// is needed.
package detect

import (
	"context"
	gojson "encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/hxkal/stagehand/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrLoginTimeout indicates authentication was not observed within the
	// maximum wait. The run cannot proceed without an authenticated surface.
	ErrLoginTimeout = errors.New("detect: login not detected within the maximum wait")
	// ErrChallengeDetected indicates a bot-verification surface is blocking
	// the page and requires manual operator intervention.
	ErrChallengeDetected = errors.New("detect: bot verification challenge detected")
)

// Page is the browser surface the detector reads. Satisfied by
// *browser.Handle.
type Page interface {
	URL(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string) (gojson.RawMessage, error)
}

// Detector evaluates login and challenge signals against one page.
type Detector struct {
	page         Page
	loginPattern string
	homePath     string
	logger       *zap.Logger
}

// New builds a detector for the configured target platform.
func New(page Page, cfg config.TargetConfig, logger *zap.Logger) *Detector {
	return &Detector{
		page:         page,
		loginPattern: cfg.LoginURLPattern,
		homePath:     cfg.HomePath,
		logger:       logger.Named("detect"),
	}
}

// loginSignals is the DOM-side half of the logged-out check. The URL
// pattern signal is applied in Go.
type loginSignals struct {
	LoginDialog      bool `json:"loginDialog"`
	CredentialFields bool `json:"credentialFields"`
	SignInText       bool `json:"signInText"`
	AuthenticatedNav bool `json:"authenticatedNav"`
}

const loginSignalsScript = `
(() => {
    const visible = (el) => {
        if (!el) { return false; }
        const r = el.getBoundingClientRect();
        if (r.width === 0 && r.height === 0) { return false; }
        const style = window.getComputedStyle(el);
        return style.display !== 'none' && style.visibility !== 'hidden';
    };
    const anyVisible = (sel) => Array.from(document.querySelectorAll(sel)).some(visible);

    return JSON.stringify({
        loginDialog: anyVisible('[data-testid="loginDialog"], [aria-modal="true"] input[autocomplete="username"]'),
        credentialFields: anyVisible('input[type="password"], input[name="password"], input[autocomplete="current-password"]'),
        signInText: anyVisible('[data-testid="loginButton"], [data-testid="login"], a[href*="/login"]'),
        authenticatedNav: anyVisible('[data-testid="AppTabBar_Home_Link"], [data-testid="SideNav_AccountSwitcher_Button"], [data-testid="primaryColumn"] [data-testid="tweetButtonInline"]'),
    });
})()
`

// NeedsLogin reports whether the page looks logged out. Five signals are
// combined with OR semantics: a login dialog, credential inputs, sign-in
// affordances, a login-flow URL, or missing authenticated navigation.
func (d *Detector) NeedsLogin(ctx context.Context) (bool, error) {
	url, err := d.page.URL(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read URL for login check: %w", err)
	}
	if d.loginPattern != "" && strings.Contains(url, d.loginPattern) {
		d.logger.Debug("Login flow URL detected", zap.String("url", url))
		return true, nil
	}

	raw, err := d.page.Evaluate(ctx, loginSignalsScript)
	if err != nil {
		return false, fmt.Errorf("login signal evaluation failed: %w", err)
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return false, fmt.Errorf("failed to decode login signals: %w", err)
	}
	var sig loginSignals
	if err := json.Unmarshal([]byte(encoded), &sig); err != nil {
		return false, fmt.Errorf("failed to decode login signals: %w", err)
	}

	needed := sig.LoginDialog || sig.CredentialFields || sig.SignInText || !sig.AuthenticatedNav
	if needed {
		d.logger.Debug("Logged-out signals present",
			zap.Bool("login_dialog", sig.LoginDialog),
			zap.Bool("credential_fields", sig.CredentialFields),
			zap.Bool("sign_in_text", sig.SignInText),
			zap.Bool("authenticated_nav", sig.AuthenticatedNav),
		)
	}
	return needed, nil
}

// WaitForLogin polls until the page looks authenticated or maxWait passes.
// It returns true on the first confirmation and false on timeout. Per-tick
// errors are tolerated: navigation in flight makes evaluation flaky, so a
// failed tick falls back to the URL signal and otherwise just waits for the
// next tick.
func (d *Detector) WaitForLogin(ctx context.Context, maxWait, pollInterval time.Duration) (bool, error) {
	deadline := time.Now().Add(maxWait)

	for {
		needed, err := d.NeedsLogin(ctx)
		switch {
		case err == nil && !needed:
			d.logger.Info("Authenticated state confirmed")
			return true, nil
		case err != nil:
			if ok := d.authenticatedByURL(ctx); ok {
				d.logger.Info("Authenticated state confirmed via URL fallback")
				return true, nil
			}
			d.logger.Debug("Login check tick failed, will retry", zap.Error(err))
		}

		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// authenticatedByURL is the most error-tolerant signal: on the home surface
// and not in the login flow.
func (d *Detector) authenticatedByURL(ctx context.Context) bool {
	url, err := d.page.URL(ctx)
	if err != nil {
		return false
	}
	if d.loginPattern != "" && strings.Contains(url, d.loginPattern) {
		return false
	}
	return d.homePath != "" && strings.Contains(url, d.homePath)
}

// challengeURLMarkers are URL substrings of known verification flows.
var challengeURLMarkers = []string{
	"/account/access",
	"/challenge",
	"arkoselabs",
}

const challengeSignalsScript = `
(() => {
    const markers = [
        'iframe[src*="arkoselabs"]',
        'iframe[src*="recaptcha"]',
        'iframe[src*="hcaptcha"]',
        'iframe[title*="challenge" i]',
        '#arkose_iframe',
    ];
    for (const sel of markers) {
        if (document.querySelector(sel)) { return true; }
    }
    const text = document.body ? document.body.innerText : '';
    const phrases = ['Verify you are human', 'confirm you’re not a robot', 'unusual login activity'];
    return phrases.some((p) => text.toLowerCase().includes(p.toLowerCase()));
})()
`

// DetectChallenge reports whether a bot-verification interstitial is
// present. A positive result is for the operator to resolve; it is never
// auto-solved.
func (d *Detector) DetectChallenge(ctx context.Context) (bool, error) {
	url, err := d.page.URL(ctx)
	if err == nil {
		for _, marker := range challengeURLMarkers {
			if strings.Contains(url, marker) {
				d.logger.Warn("Challenge URL marker found", zap.String("url", url))
				return true, nil
			}
		}
	}

	raw, err := d.page.Evaluate(ctx, challengeSignalsScript)
	if err != nil {
		return false, fmt.Errorf("challenge signal evaluation failed: %w", err)
	}
	var present bool
	if err := json.Unmarshal(raw, &present); err != nil {
		return false, fmt.Errorf("failed to decode challenge signals: %w", err)
	}
	if present {
		d.logger.Warn("Bot verification challenge present on page")
	}
	return present, nil
}
