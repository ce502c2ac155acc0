// internal/engine/engine.go

// Package engine runs the engagement loop: it selects human-plausible
// actions against the live page, tracks progress against the session
// targets, and mirrors every state change to the operator push channel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hxkal/stagehand/api/schemas"
	"github.com/hxkal/stagehand/internal/config"
	"github.com/hxkal/stagehand/internal/detect"
	"github.com/hxkal/stagehand/internal/humanoid"
	"github.com/hxkal/stagehand/internal/replygen"
	"github.com/hxkal/stagehand/internal/session"
)

var (
	// ErrSessionInvalidated indicates a mid-run logged-out or challenge
	// state that survived the single recovery attempt.
	ErrSessionInvalidated = errors.New("engine: session invalidated mid-run")
	// ErrSubmitRejected indicates a confirmation control never became
	// enabled within the polling budget.
	ErrSubmitRejected = errors.New("engine: submit control never became enabled")
)

// Resolver finds UI targets through ordered selector candidates. Satisfied
// by *resolver.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, candidates schemas.SelectorSet) (string, error)
	ResolveList(ctx context.Context, candidates schemas.SelectorSet, minVisible, maxRounds int) (string, int, error)
}

// LoginDetector reports authentication and challenge state. Satisfied by
// *detect.Detector.
type LoginDetector interface {
	NeedsLogin(ctx context.Context) (bool, error)
	WaitForLogin(ctx context.Context, maxWait, pollInterval time.Duration) (bool, error)
	DetectChallenge(ctx context.Context) (bool, error)
}

// Broadcaster pushes events to operator clients.
type Broadcaster interface {
	Broadcast(ev schemas.Event)
}

// Deps are the collaborators one engine run drives.
type Deps struct {
	Handle    session.Handle
	Human     humanoid.Controller
	Resolver  Resolver
	Detector  LoginDetector
	Generator replygen.Generator
	Hub       Broadcaster
	// SaveCookies persists the session jar; called on every pause.
	SaveCookies func(ctx context.Context) error
}

// Engine is the automation control loop. One Engine instance serves one
// run.
type Engine struct {
	deps      Deps
	cfg       config.AutomationConfig
	target    config.TargetConfig
	selectors Selectors
	logger    *zap.Logger
	rng       *rand.Rand
	now       func() time.Time

	mu               sync.Mutex
	phase            schemas.Phase
	paused           bool
	counters         schemas.Counters
	targets          schemas.EngagementTargets
	vitals           humanoid.Vitals
	lastAction       string
	startedAt        time.Time
	targetsAnnounced bool
}

// New builds an engine for one run.
func New(deps Deps, cfg config.AutomationConfig, target config.TargetConfig, logger *zap.Logger, seed int64) *Engine {
	return &Engine{
		deps:      deps,
		cfg:       cfg,
		target:    target,
		selectors: DefaultSelectors(),
		logger:    logger.Named("engine"),
		rng:       rand.New(rand.NewSource(seed)),
		now:       time.Now,
		phase:     schemas.PhaseIdle,
		targets: schemas.EngagementTargets{
			Replies: cfg.TargetReplies,
			Likes:   cfg.TargetLikes,
			Follows: cfg.TargetFollows,
		},
	}
}

// Run executes the engagement loop until targets plus max duration, the
// context, or a structural failure end it. Action-local failures are
// absorbed; only structural ones are returned.
func (e *Engine) Run(ctx context.Context) error {
	e.setPhase(schemas.PhaseStarting)
	start := e.now()

	if err := e.ensureAuthenticated(ctx); err != nil {
		e.finish(start, err)
		return err
	}

	e.mu.Lock()
	e.startedAt = start
	e.vitals = humanoid.Vitals{Energy: 100, Focus: 100, SessionStart: start}
	e.phase = schemas.PhaseRunning
	e.mu.Unlock()
	e.broadcastStatus(schemas.EventProgress, "run started")

	lastHealth := start
	var runErr error

	for {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		elapsed := e.now().Sub(start)
		if elapsed >= e.cfg.MaxRunDuration {
			e.logger.Info("Maximum run duration reached")
			break
		}

		if e.now().Sub(lastHealth) >= e.cfg.HealthCheckInterval {
			lastHealth = e.now()
			if err := e.healthCheck(ctx); err != nil {
				runErr = err
				break
			}
		}

		e.checkTargets()
		e.decayVitals(elapsed)

		kind := e.pickAction()
		e.execute(ctx, kind)

		e.mu.Lock()
		pause := e.deps.Human.PauseDuration(e.vitals)
		e.mu.Unlock()
		if err := e.sleep(ctx, pause); err != nil {
			runErr = err
			break
		}

		if err := e.waitWhilePaused(ctx); err != nil {
			runErr = err
			break
		}
	}

	e.finish(start, runErr)
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	return nil
}

// ensureAuthenticated blocks until the page is logged in, surfacing any
// challenge to the operator while it waits.
func (e *Engine) ensureAuthenticated(ctx context.Context) error {
	needed, err := e.deps.Detector.NeedsLogin(ctx)
	if err != nil {
		e.logger.Warn("Initial login check failed, waiting for login signals", zap.Error(err))
		needed = true
	}
	if !needed {
		return nil
	}

	if present, chErr := e.deps.Detector.DetectChallenge(ctx); chErr == nil && present {
		e.deps.Hub.Broadcast(schemas.NewEvent(schemas.EventChallengeDetected,
			"verification challenge on login surface, manual intervention required"))
	}

	e.deps.Hub.Broadcast(schemas.NewEvent(schemas.EventProgress, "waiting for login"))
	ok, err := e.deps.Detector.WaitForLogin(ctx, e.cfg.LoginMaxWait, e.cfg.LoginPollInterval)
	if err != nil {
		return err
	}
	if !ok {
		return detect.ErrLoginTimeout
	}
	return nil
}

// healthCheck verifies the session is still usable. A challenge pauses the
// run for manual intervention; a logged-out state gets one recovery
// navigation before escalating to fatal.
func (e *Engine) healthCheck(ctx context.Context) error {
	if present, err := e.deps.Detector.DetectChallenge(ctx); err == nil && present {
		e.logger.Warn("Challenge detected mid-run, pausing for operator")
		e.deps.Hub.Broadcast(schemas.NewEvent(schemas.EventChallengeDetected,
			"verification challenge detected, run paused for manual intervention"))
		e.Pause()
		return nil
	}

	needed, err := e.deps.Detector.NeedsLogin(ctx)
	if err != nil {
		e.logger.Warn("Health check inconclusive, continuing", zap.Error(err))
		return nil
	}
	if !needed {
		return nil
	}

	e.logger.Warn("Logged-out state detected mid-run, attempting recovery")
	e.setPhase(schemas.PhaseRecovering)
	e.broadcastStatus(schemas.EventProgress, "recovering session")

	if navErr := e.deps.Handle.Navigate(ctx, e.target.BaseURL+e.target.HomePath); navErr != nil {
		return fmt.Errorf("%w: recovery navigation failed: %v", ErrSessionInvalidated, navErr)
	}
	needed, err = e.deps.Detector.NeedsLogin(ctx)
	if err != nil || needed {
		return fmt.Errorf("%w: still logged out after recovery", ErrSessionInvalidated)
	}

	e.setPhase(schemas.PhaseRunning)
	e.logger.Info("Session recovered")
	return nil
}

// checkTargets announces target completion exactly once. The loop keeps
// going afterwards: post-target behavior degrades into idle-weighted
// browsing instead of an abrupt, detectable stop.
func (e *Engine) checkTargets() {
	e.mu.Lock()
	meets := e.counters.Meets(e.targets)
	announce := meets && !e.targetsAnnounced
	if announce {
		e.targetsAnnounced = true
	}
	counters := e.counters
	e.mu.Unlock()

	if announce {
		e.logger.Info("All engagement targets achieved",
			zap.Int("replies", counters.Replies),
			zap.Int("likes", counters.Likes),
			zap.Int("follows", counters.Follows))
		ev := schemas.NewEvent(schemas.EventTargetsAchieved, "all engagement targets achieved")
		ev.Counters = &counters
		e.deps.Hub.Broadcast(ev)
	}
}

// decayVitals recomputes energy and focus as decreasing functions of
// elapsed time, floored at the configured minimums. Focus fades faster
// than energy.
func (e *Engine) decayVitals(elapsed time.Duration) {
	energy := decayed(100, e.cfg.EnergyFloor, elapsed, e.cfg.MaxRunDuration)
	focus := decayed(100, e.cfg.FocusFloor, elapsed, 3*e.cfg.MaxRunDuration/4)

	e.mu.Lock()
	// Never allow a recomputation to raise vitals mid-run.
	if energy < e.vitals.Energy {
		e.vitals.Energy = energy
	}
	if focus < e.vitals.Focus {
		e.vitals.Focus = focus
	}
	e.mu.Unlock()
}

func decayed(start, floor float64, elapsed, span time.Duration) float64 {
	if span <= 0 {
		return floor
	}
	frac := float64(elapsed) / float64(span)
	if frac > 1 {
		frac = 1
	}
	v := start - (start-floor)*frac
	if v < floor {
		return floor
	}
	return v
}

type actionKind int

const (
	actionReply actionKind = iota
	actionLike
	actionFollow
	actionIdleScroll
	actionIdleRead
)

func (k actionKind) String() string {
	switch k {
	case actionReply:
		return "reply"
	case actionLike:
		return "like"
	case actionFollow:
		return "follow"
	case actionIdleScroll:
		return "idle-scroll"
	default:
		return "idle-read"
	}
}

// pickAction draws a weighted random action. Below-target counters pull
// weight toward their action; low vitals shift weight toward the passive
// ones.
func (e *Engine) pickAction() actionKind {
	e.mu.Lock()
	counters := e.counters
	targets := e.targets
	vitality := (e.vitals.Energy + e.vitals.Focus) / 200
	roll := e.rng.Float64()
	e.mu.Unlock()

	weightFor := func(done, want int, base float64) float64 {
		if done < want {
			return base * vitality
		}
		return base * 0.05
	}

	weights := []struct {
		kind actionKind
		w    float64
	}{
		{actionReply, weightFor(counters.Replies, targets.Replies, 3.0)},
		{actionLike, weightFor(counters.Likes, targets.Likes, 4.0)},
		{actionFollow, weightFor(counters.Follows, targets.Follows, 2.0)},
		{actionIdleScroll, 2.0 + 3.0*(1-vitality)},
		{actionIdleRead, 1.0 + 2.0*(1-vitality)},
	}

	var total float64
	for _, w := range weights {
		total += w.w
	}
	pick := roll * total
	for _, w := range weights {
		pick -= w.w
		if pick <= 0 {
			return w.kind
		}
	}
	return actionIdleRead
}

// execute runs one action, absorbing its failure. A failed action is
// logged and broadcast; the run continues.
func (e *Engine) execute(ctx context.Context, kind actionKind) {
	var err error
	switch kind {
	case actionReply:
		err = e.doReply(ctx)
	case actionLike:
		err = e.doLike(ctx)
	case actionFollow:
		err = e.doFollow(ctx)
	case actionIdleScroll:
		err = e.doIdleScroll(ctx)
	case actionIdleRead:
		err = e.doIdleRead(ctx)
	}

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.logger.Warn("Action failed, continuing", zap.String("action", kind.String()), zap.Error(err))
		ev := schemas.NewEvent(schemas.EventProgress, fmt.Sprintf("%s action failed: %v", kind, err))
		ev.Step = kind.String()
		e.deps.Hub.Broadcast(ev)
	}
}

// recordSuccess bumps the counter for a completed action and broadcasts
// progress. Counters only ever move up.
func (e *Engine) recordSuccess(kind actionKind) {
	e.mu.Lock()
	switch kind {
	case actionReply:
		e.counters.Replies++
	case actionLike:
		e.counters.Likes++
	case actionFollow:
		e.counters.Follows++
	}
	e.lastAction = kind.String()
	e.mu.Unlock()

	e.broadcastStatus(schemas.EventProgress, fmt.Sprintf("%s completed", kind))
}

// Pause requests a cooperative pause at the next loop checkpoint.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

// Resume clears a pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
}

// waitWhilePaused blocks while the pause flag is set, persisting cookies on
// entry and broadcasting the paused/resumed transitions.
func (e *Engine) waitWhilePaused(ctx context.Context) error {
	e.mu.Lock()
	paused := e.paused
	e.mu.Unlock()
	if !paused {
		return nil
	}

	if e.deps.SaveCookies != nil {
		if err := e.deps.SaveCookies(ctx); err != nil {
			e.logger.Warn("Cookie persistence on pause failed", zap.Error(err))
		}
	}
	e.setPhase(schemas.PhasePaused)
	e.broadcastStatus(schemas.EventPaused, "run paused")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.PausePollInterval):
		}
		e.mu.Lock()
		paused = e.paused
		e.mu.Unlock()
		if !paused {
			break
		}
	}

	e.setPhase(schemas.PhaseRunning)
	e.broadcastStatus(schemas.EventResumed, "run resumed")
	return nil
}

// finish settles the terminal phase and broadcasts the run summary once.
func (e *Engine) finish(start time.Time, runErr error) {
	e.mu.Lock()
	summary := schemas.RunSummary{
		Counters: e.counters,
		Targets:  e.targets,
		Achieved: e.counters.Meets(e.targets),
		Duration: e.now().Sub(start),
	}
	e.mu.Unlock()

	structural := runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded)
	if structural {
		summary.EndReason = runErr.Error()
		e.setPhase(schemas.PhaseError)
		ev := schemas.NewEvent(schemas.EventAutomationError, runErr.Error())
		ev.Payload = summary
		e.deps.Hub.Broadcast(ev)
		return
	}

	switch {
	case runErr != nil:
		summary.EndReason = "cancelled"
	case summary.Achieved:
		summary.EndReason = "targets achieved"
	default:
		summary.EndReason = "max duration reached"
	}
	e.setPhase(schemas.PhaseCompleted)
	e.logger.Info("Run complete",
		zap.Int("actions", summary.Counters.Total()),
		zap.Duration("duration", summary.Duration),
		zap.String("end_reason", summary.EndReason))
	ev := schemas.NewEvent(schemas.EventComplete, "run complete")
	ev.Payload = summary
	e.deps.Hub.Broadcast(ev)
}

// Status snapshots the engine state for the status endpoint.
func (e *Engine) Status() schemas.AutomationStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := schemas.AutomationStatus{
		Phase:       e.phase,
		Paused:      e.paused,
		Counters:    e.counters,
		Targets:     e.targets,
		EnergyLevel: e.vitals.Energy,
		FocusLevel:  e.vitals.Focus,
		StartedAt:   e.startedAt,
		LastAction:  e.lastAction,
	}
	if !e.startedAt.IsZero() {
		st.ElapsedSince = e.now().Sub(e.startedAt)
	}
	return st
}

// Phase returns the current lifecycle phase.
func (e *Engine) Phase() schemas.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Engine) setPhase(p schemas.Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

func (e *Engine) broadcastStatus(t schemas.EventType, message string) {
	st := e.Status()
	ev := schemas.NewEvent(t, message)
	ev.Status = &st
	ev.Counters = &st.Counters
	e.deps.Hub.Broadcast(ev)
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
