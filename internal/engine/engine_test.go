// internal/engine/engine_test.go
package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/hxkal/stagehand/api/schemas"
	"github.com/hxkal/stagehand/internal/config"
	"github.com/hxkal/stagehand/internal/detect"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastConfig() config.AutomationConfig {
	return config.AutomationConfig{
		TargetReplies:       1,
		TargetLikes:         1,
		TargetFollows:       0,
		MaxRunDuration:      150 * time.Millisecond,
		HealthCheckInterval: time.Hour,
		LoginMaxWait:        50 * time.Millisecond,
		LoginPollInterval:   5 * time.Millisecond,
		PausePollInterval:   2 * time.Millisecond,
		EnergyFloor:         20,
		FocusFloor:          15,
		SubmitPollAttempts:  2,
		SubmitPollInterval:  time.Millisecond,
	}
}

func targetConfig() config.TargetConfig {
	return config.TargetConfig{
		BaseURL:         "https://x.com",
		CookieDomain:    "x.com",
		LoginURLPattern: "/i/flow/login",
		HomePath:        "/home",
	}
}

type engineRig struct {
	engine   *Engine
	handle   *mockHandle
	human    *mockHuman
	resolver *mockResolver
	detector *mockDetector
	hub      *recordingHub
	saves    atomic.Int32
}

func newEngineRig(t *testing.T, cfg config.AutomationConfig) *engineRig {
	t.Helper()
	rig := &engineRig{
		handle:   newMockHandle(),
		human:    &mockHuman{},
		resolver: &mockResolver{},
		detector: &mockDetector{},
		hub:      &recordingHub{},
	}
	deps := Deps{
		Handle:    rig.handle,
		Human:     rig.human,
		Resolver:  rig.resolver,
		Detector:  rig.detector,
		Generator: &mockGenerator{},
		Hub:       rig.hub,
		SaveCookies: func(ctx context.Context) error {
			rig.saves.Add(1)
			return nil
		},
	}
	rig.engine = New(deps, cfg, targetConfig(), zap.NewNop(), 42)
	return rig
}

func TestVitalsDecayToFloorsAndStayMonotone(t *testing.T) {
	rig := newEngineRig(t, fastConfig())
	e := rig.engine
	e.vitals.Energy = 100
	e.vitals.Focus = 100

	prevEnergy, prevFocus := 100.0, 100.0
	for _, elapsed := range []time.Duration{0, 30 * time.Millisecond, 100 * time.Millisecond, time.Hour} {
		e.decayVitals(elapsed)
		st := e.Status()
		assert.LessOrEqual(t, st.EnergyLevel, prevEnergy)
		assert.LessOrEqual(t, st.FocusLevel, prevFocus)
		prevEnergy, prevFocus = st.EnergyLevel, st.FocusLevel
	}

	st := e.Status()
	assert.Equal(t, 20.0, st.EnergyLevel)
	assert.Equal(t, 15.0, st.FocusLevel)
}

func TestCheckTargetsAnnouncesExactlyOnce(t *testing.T) {
	cfg := fastConfig()
	cfg.TargetReplies, cfg.TargetLikes, cfg.TargetFollows = 2, 2, 1
	rig := newEngineRig(t, cfg)
	e := rig.engine

	for i := 0; i < 2; i++ {
		e.recordSuccess(actionReply)
		e.recordSuccess(actionLike)
	}
	e.recordSuccess(actionFollow)

	st := e.Status()
	assert.Equal(t, schemas.Counters{Replies: 2, Likes: 2, Follows: 1}, st.Counters)

	e.checkTargets()
	e.checkTargets()
	e.checkTargets()

	assert.Equal(t, 1, rig.hub.countOf(schemas.EventTargetsAchieved))
}

func TestRunCompletesAtMaxDuration(t *testing.T) {
	rig := newEngineRig(t, fastConfig())

	err := rig.engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, schemas.PhaseCompleted, rig.engine.Phase())
	assert.Equal(t, 1, rig.hub.countOf(schemas.EventComplete))
	assert.Zero(t, rig.hub.countOf(schemas.EventAutomationError))
}

func TestRunLoginTimeoutIsStructural(t *testing.T) {
	rig := newEngineRig(t, fastConfig())
	rig.detector.MockNeedsLogin = func(ctx context.Context, call int) (bool, error) {
		return true, nil
	}
	rig.detector.MockWaitForLogin = func(ctx context.Context, maxWait, poll time.Duration) (bool, error) {
		return false, nil
	}

	err := rig.engine.Run(context.Background())
	require.ErrorIs(t, err, detect.ErrLoginTimeout)

	assert.Equal(t, schemas.PhaseError, rig.engine.Phase())
	assert.Equal(t, 1, rig.hub.countOf(schemas.EventAutomationError))
	assert.Zero(t, rig.hub.countOf(schemas.EventComplete))
}

func TestHealthCheckRecoversOnce(t *testing.T) {
	cfg := fastConfig()
	cfg.HealthCheckInterval = time.Millisecond
	rig := newEngineRig(t, cfg)
	rig.detector.MockNeedsLogin = func(ctx context.Context, call int) (bool, error) {
		// Initial check passes, the second (health check) reports logged
		// out, the recovery re-check passes again.
		return call == 2, nil
	}

	err := rig.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schemas.PhaseCompleted, rig.engine.Phase())
	assert.GreaterOrEqual(t, rig.handle.navigateCount(), 1, "recovery should navigate home")
}

func TestHealthCheckExhaustedRecoveryIsFatal(t *testing.T) {
	cfg := fastConfig()
	cfg.HealthCheckInterval = time.Millisecond
	rig := newEngineRig(t, cfg)
	rig.detector.MockNeedsLogin = func(ctx context.Context, call int) (bool, error) {
		return call > 1, nil
	}

	err := rig.engine.Run(context.Background())
	require.ErrorIs(t, err, ErrSessionInvalidated)
	assert.Equal(t, schemas.PhaseError, rig.engine.Phase())
	assert.Equal(t, 1, rig.hub.countOf(schemas.EventAutomationError))
}

func TestChallengeMidRunPausesForOperator(t *testing.T) {
	cfg := fastConfig()
	cfg.HealthCheckInterval = time.Millisecond
	cfg.MaxRunDuration = 5 * time.Second
	rig := newEngineRig(t, cfg)

	var challenged atomic.Bool
	challenged.Store(true)
	rig.detector.MockDetectChallenge = func(ctx context.Context) (bool, error) {
		return challenged.Load(), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rig.engine.Run(ctx) }()

	require.Eventually(t, func() bool {
		return rig.hub.countOf(schemas.EventChallengeDetected) > 0 &&
			rig.engine.Phase() == schemas.PhasePaused
	}, 2*time.Second, 5*time.Millisecond)

	challenged.Store(false)
	rig.engine.Resume()
	require.Eventually(t, func() bool {
		return rig.hub.countOf(schemas.EventResumed) > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestPauseResumePersistsCookies(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRunDuration = 5 * time.Second
	rig := newEngineRig(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rig.engine.Run(ctx) }()

	require.Eventually(t, func() bool {
		return rig.engine.Phase() == schemas.PhaseRunning
	}, 2*time.Second, time.Millisecond)

	rig.engine.Pause()
	require.Eventually(t, func() bool {
		return rig.hub.countOf(schemas.EventPaused) == 1 && rig.saves.Load() == 1
	}, 2*time.Second, time.Millisecond)

	rig.engine.Resume()
	require.Eventually(t, func() bool {
		return rig.hub.countOf(schemas.EventResumed) == 1
	}, 2*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, schemas.PhaseCompleted, rig.engine.Phase())
}

func TestDoReplyFullFlow(t *testing.T) {
	rig := newEngineRig(t, fastConfig())

	err := rig.engine.doReply(context.Background())
	require.NoError(t, err)

	st := rig.engine.Status()
	assert.Equal(t, 1, st.Counters.Replies)
	assert.Equal(t, []string{"what a great take"}, rig.human.typedTexts())
	// One click to open the composer, one on the submit control.
	assert.Equal(t, 2, rig.human.clickCount())
	assert.Equal(t, 1, rig.hub.countOf(schemas.EventProgress))
}

func TestDoReplySubmitNeverEnables(t *testing.T) {
	rig := newEngineRig(t, fastConfig())
	rig.handle.submitEnabledBy = ""

	err := rig.engine.doReply(context.Background())
	require.ErrorIs(t, err, ErrSubmitRejected)
	assert.Zero(t, rig.engine.Status().Counters.Replies)
}

func TestDoReplyUsesAlternateSubmitSelector(t *testing.T) {
	rig := newEngineRig(t, fastConfig())
	rig.handle.submitEnabledBy = "tweetButtonInline"

	err := rig.engine.doReply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rig.engine.Status().Counters.Replies)
}

func TestDoLikePicksVaryingCandidates(t *testing.T) {
	rig := newEngineRig(t, fastConfig())
	rig.resolver.listCount = 4

	for i := 0; i < 30; i++ {
		require.NoError(t, rig.engine.doLike(context.Background()))
	}

	seen := make(map[int]bool)
	for _, idx := range rig.handle.taggedIndices() {
		assert.Less(t, idx, maxCandidatePick)
		seen[idx] = true
	}
	assert.Greater(t, len(seen), 1, "candidate pick should vary, not always index 0")
	assert.Equal(t, 30, rig.engine.Status().Counters.Likes)
}

func TestPickActionFavorsBelowTargetCounters(t *testing.T) {
	cfg := fastConfig()
	cfg.TargetReplies, cfg.TargetLikes, cfg.TargetFollows = 5, 0, 0
	rig := newEngineRig(t, cfg)
	rig.engine.vitals.Energy = 100
	rig.engine.vitals.Focus = 100

	counts := make(map[actionKind]int)
	for i := 0; i < 500; i++ {
		counts[rig.engine.pickAction()]++
	}

	assert.Greater(t, counts[actionReply], counts[actionLike])
	assert.Greater(t, counts[actionReply], counts[actionFollow])
}

func TestEnsureHomeSurfaceNavigatesWhenElsewhere(t *testing.T) {
	rig := newEngineRig(t, fastConfig())
	rig.handle.currentURL = "https://x.com/notifications"

	require.NoError(t, rig.engine.ensureHomeSurface(context.Background()))
	assert.Equal(t, 1, rig.handle.navigateCount())

	// Already home now, no further navigation.
	require.NoError(t, rig.engine.ensureHomeSurface(context.Background()))
	assert.Equal(t, 1, rig.handle.navigateCount())
}
