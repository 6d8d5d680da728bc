// Package ratelimit paces requests to the model server with a token bucket.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rescale/modelbench/internal/logging"
)

// Default pacing for the model server. Validation requests are already
// debounced; the bucket bounds scripted bursts.
const (
	ServerRatePerSec    = 10.0
	ServerBurstCapacity = 20.0
)

// RateLimiter implements a token bucket rate limiter.
// It allows bursts up to maxTokens, then refills at refillRate tokens/second.
type RateLimiter struct {
	tokens       float64
	maxTokens    float64
	refillRate   float64
	lastRefill   time.Time
	lastWarnTime time.Time
	mu           sync.Mutex

	logger *logging.Logger
	now    func() time.Time
}

// NewRateLimiter creates a limiter that starts with a full bucket.
func NewRateLimiter(tokensPerSecond, burstSize float64, logger *logging.Logger) *RateLimiter {
	return &RateLimiter{
		tokens:     burstSize,
		maxTokens:  burstSize,
		refillRate: tokensPerSecond,
		lastRefill: time.Now(),
		logger:     logger,
		now:        time.Now,
	}
}

// NewServerRateLimiter creates a limiter with the default model server pacing.
func NewServerRateLimiter(logger *logging.Logger) *RateLimiter {
	return NewRateLimiter(ServerRatePerSec, ServerBurstCapacity, logger)
}

// Wait blocks until a token is available or ctx is done. A nil limiter
// never blocks.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	for {
		wait := rl.reserve()
		if wait <= 0 {
			return nil
		}
		if wait > 2*time.Second {
			rl.warn(wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// reserve takes a token and returns 0, or returns how long until the next
// token is due.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return 0
	}
	return time.Duration((1.0 - rl.tokens) / rl.refillRate * float64(time.Second))
}

func (rl *RateLimiter) warn(wait time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.now().Sub(rl.lastWarnTime) > 10*time.Second {
		rl.logger.Warn().Dur("wait", wait).Msg("rate limited: waiting for server capacity")
		rl.lastWarnTime = rl.now()
	}
}

// Tokens returns the tokens currently available.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	tokens := rl.tokens + rl.now().Sub(rl.lastRefill).Seconds()*rl.refillRate
	if tokens > rl.maxTokens {
		tokens = rl.maxTokens
	}
	return tokens
}
