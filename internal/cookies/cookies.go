// internal/cookies/cookies.go

// Package cookies persists filtered snapshots of the target platform's
// authentication cookies, keyed by session id.
package cookies

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hxkal/stagehand/api/schemas"
)

// ErrNoCookies is returned by Load when no cookie snapshot exists for the
// session id.
var ErrNoCookies = errors.New("cookies: no stored cookies for session")

// Store persists and restores cookie jars.
type Store interface {
	Save(ctx context.Context, sessionID string, jar []schemas.Cookie) error
	Load(ctx context.Context, sessionID string) ([]schemas.Cookie, error)
}

// Filter returns only the cookies worth persisting: well-formed entries
// (name, value, and domain present) scoped to the target domain whose expiry,
// if set, is still in the future. Session cookies (no expiry) pass through.
func Filter(jar []schemas.Cookie, domain string, now time.Time) []schemas.Cookie {
	out := make([]schemas.Cookie, 0, len(jar))
	for _, c := range jar {
		if c.Name == "" || c.Value == "" || c.Domain == "" {
			continue
		}
		if !domainMatches(c.Domain, domain) {
			continue
		}
		if c.Expires > 0 {
			expiry := time.Unix(int64(c.Expires), 0)
			if !expiry.After(now) {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// domainMatches reports whether the cookie domain belongs to the target
// domain, accepting the leading-dot form and subdomains.
func domainMatches(cookieDomain, target string) bool {
	cd := strings.TrimPrefix(strings.ToLower(cookieDomain), ".")
	target = strings.ToLower(target)
	return cd == target || strings.HasSuffix(cd, "."+target)
}
