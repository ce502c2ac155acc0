// internal/replygen/fallback.go
package replygen

import (
	"context"
	"math/rand"
	"sync"

	"go.uber.org/zap"
)

// fallbackPool holds generic, post-agnostic replies used when the
// generation service is down.
var fallbackPool = []string{
	"This is a great point, thanks for sharing!",
	"Interesting take, hadn't thought about it that way.",
	"Really well put.",
	"Appreciate you posting this.",
	"Good thread, following for more.",
	"Makes a lot of sense when you put it like that.",
	"Saving this one, thanks.",
	"Couldn't agree more.",
}

// WithFallback wraps a generator so that any failure resolves to a canned
// reply instead of an error. Generation outages are an action-local
// concern; they must never end a run.
type WithFallback struct {
	primary Generator
	logger  *zap.Logger

	mu   sync.Mutex
	rng  *rand.Rand
	pool []string
}

var _ Generator = (*WithFallback)(nil)

// NewWithFallback decorates the primary generator. A nil primary is
// allowed and always serves from the pool.
func NewWithFallback(primary Generator, seed int64, logger *zap.Logger) *WithFallback {
	return &WithFallback{
		primary: primary,
		logger:  logger.Named("replygen.fallback"),
		rng:     rand.New(rand.NewSource(seed)),
		pool:    fallbackPool,
	}
}

// GenerateReply tries the primary generator and serves a random canned
// reply on any failure. Context cancellation still propagates.
func (f *WithFallback) GenerateReply(ctx context.Context, postText string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if f.primary != nil {
		reply, err := f.primary.GenerateReply(ctx, postText)
		if err == nil && reply != "" {
			return reply, nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			f.logger.Warn("Primary reply generation failed, using static pool", zap.Error(err))
		}
	}

	f.mu.Lock()
	reply := f.pool[f.rng.Intn(len(f.pool))]
	f.mu.Unlock()
	return reply, nil
}
