// internal/resolver/resolver.go

// Package resolver locates UI elements on the live page by trying an ordered
// list of selector candidates. A single candidate miss is normal control
// flow; only exhaustion of every candidate (and every load-more round) is
// reported as ErrNotFound.
package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/hxkal/stagehand/api/schemas"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no candidate selector matched a visible
// element within the attempt budget.
var ErrNotFound = errors.New("resolver: no candidate matched a visible element")

// Prober answers visibility questions about the current page.
type Prober interface {
	// CountVisible returns how many elements matching the selector are
	// currently visible in the viewport's document.
	CountVisible(ctx context.Context, selector string) (int, error)
}

// Scroller triggers a feed scroll to load more content.
type Scroller interface {
	ScrollBy(ctx context.Context, deltaY float64) error
}

// Options tunes a single resolution attempt.
type Options struct {
	// TimeoutPerCandidate bounds how long one candidate is polled for
	// visibility before moving to the next.
	TimeoutPerCandidate time.Duration
	// PollInterval is the spacing between visibility probes.
	PollInterval time.Duration
}

// DefaultOptions returns the attempt budget used when the caller passes nil.
func DefaultOptions() Options {
	return Options{
		TimeoutPerCandidate: 3 * time.Second,
		PollInterval:        150 * time.Millisecond,
	}
}

// Resolver tries selector candidates in order against the live page.
type Resolver struct {
	prober   Prober
	scroller Scroller
	logger   *zap.Logger
	opts     Options
}

// New creates a Resolver. A nil opts uses DefaultOptions.
func New(prober Prober, scroller Scroller, logger *zap.Logger, opts *Options) *Resolver {
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 150 * time.Millisecond
	}
	if o.TimeoutPerCandidate <= 0 {
		o.TimeoutPerCandidate = 3 * time.Second
	}
	return &Resolver{
		prober:   prober,
		scroller: scroller,
		logger:   logger,
		opts:     o,
	}
}

// Resolve iterates the candidates in order, polling each for a visible match
// up to the per-candidate timeout, and returns the first selector that
// matched. Exhausting all candidates returns ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, candidates schemas.SelectorSet) (string, error) {
	for _, candidate := range candidates {
		n, err := r.waitVisible(ctx, candidate)
		if err != nil {
			return "", err
		}
		if n > 0 {
			return candidate, nil
		}
		r.logger.Debug("Candidate selector missed, trying next",
			zap.String("selector", candidate))
	}
	return "", ErrNotFound
}

// ResolveList locates a list-like target (posts, recommendations). When
// fewer than minVisible matches are visible it triggers a scroll to load
// more and retries, up to maxRounds rounds. It returns the matched selector
// and the visible count at the time of the match.
func (r *Resolver) ResolveList(ctx context.Context, candidates schemas.SelectorSet, minVisible, maxRounds int) (string, int, error) {
	if minVisible < 1 {
		minVisible = 1
	}
	if maxRounds < 1 {
		maxRounds = 1
	}

	for round := 0; round < maxRounds; round++ {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}

		for _, candidate := range candidates {
			n, err := r.waitVisible(ctx, candidate)
			if err != nil {
				return "", 0, err
			}
			if n >= minVisible {
				return candidate, n, nil
			}
		}

		// Not enough content yet; scroll a viewport's worth and retry.
		if round < maxRounds-1 && r.scroller != nil {
			if err := r.scroller.ScrollBy(ctx, 600+float64(round)*150); err != nil {
				return "", 0, err
			}
		}
	}
	return "", 0, ErrNotFound
}

// waitVisible polls one candidate until it has a visible match or the
// per-candidate timeout lapses. Probe errors (navigation in flight, detached
// frame) count as a miss for that tick, not a failure.
func (r *Resolver) waitVisible(ctx context.Context, selector string) (int, error) {
	deadline := time.Now().Add(r.opts.TimeoutPerCandidate)

	for {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		n, err := r.prober.CountVisible(ctx, selector)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			r.logger.Debug("Visibility probe failed, treating as miss",
				zap.String("selector", selector), zap.Error(err))
		} else if n > 0 {
			return n, nil
		}

		if time.Now().After(deadline) {
			return 0, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(r.opts.PollInterval):
		}
	}
}
