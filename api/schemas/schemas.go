// Package schemas holds the shared data types exchanged between the
// automation engine, the session manager, the operator API, and the
// realtime hub. Keeping them here avoids import cycles between the
// internal packages.
package schemas

import "time"

// Phase describes where the automation engine currently is in its lifecycle.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseStarting   Phase = "starting"
	PhaseRunning    Phase = "running"
	PhasePaused     Phase = "paused"
	PhaseRecovering Phase = "recovering"
	PhaseCompleted  Phase = "completed"
	PhaseError      Phase = "error"
)

// EngagementTargets fixes the per-run goals at session start.
type EngagementTargets struct {
	Replies int `json:"replies" mapstructure:"replies"`
	Likes   int `json:"likes" mapstructure:"likes"`
	Follows int `json:"follows" mapstructure:"follows"`
}

// Counters tracks completed engagement actions. Counters only move up
// during a run.
type Counters struct {
	Replies int `json:"replies"`
	Likes   int `json:"likes"`
	Follows int `json:"follows"`
}

// Total returns the sum of all engagement counters.
func (c Counters) Total() int {
	return c.Replies + c.Likes + c.Follows
}

// Meets reports whether every counter has reached its target.
func (c Counters) Meets(t EngagementTargets) bool {
	return c.Replies >= t.Replies && c.Likes >= t.Likes && c.Follows >= t.Follows
}

// AutomationStatus is the point-in-time snapshot of engine state exposed
// over the status endpoint and in progress events.
type AutomationStatus struct {
	Phase        Phase             `json:"phase"`
	Paused       bool              `json:"paused"`
	Counters     Counters          `json:"counters"`
	Targets      EngagementTargets `json:"targets"`
	EnergyLevel  float64           `json:"energyLevel"`
	FocusLevel   float64           `json:"focusLevel"`
	StartedAt    time.Time         `json:"startedAt,omitempty"`
	ElapsedSince time.Duration     `json:"elapsed,omitempty"`
	LastAction   string            `json:"lastAction,omitempty"`
}

// RemoteSessionInfo describes one live vendor-hosted browser session.
type RemoteSessionInfo struct {
	ID          string        `json:"id"`
	ConnectURL  string        `json:"connectUrl"`
	LiveViewURL string        `json:"liveViewUrl,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	Timeout     time.Duration `json:"timeout"`
}

// ReconnectResult reports the three distinct outcomes of a cookie based
// reconnect attempt.
type ReconnectResult struct {
	CookiesLoaded bool `json:"cookiesLoaded"`
	CookiesValid  bool `json:"cookiesValid"`
}

// Cookie is the persisted form of a browser cookie. Expires is a Unix
// timestamp in seconds; zero means a session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// SelectorSet is an ordered fallback chain of locator candidates for one
// logical UI element. Resolution tries them front to back.
type SelectorSet []string
