package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/hubenschmidt/blogrec/core"
)

const breakerFailureThreshold = 5

// BreakerProvider fails fast after repeated failures of the wrapped provider.
type BreakerProvider struct {
	next    Provider
	breaker *gobreaker.CircuitBreaker[[]float64]
}

func NewBreakerProvider(next Provider, logger zerolog.Logger) *BreakerProvider {
	name := "embedding-" + nameOf(next)
	return &BreakerProvider{
		next: next,
		breaker: gobreaker.NewCircuitBreaker[[]float64](gobreaker.Settings{
			Name:    name,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailureThreshold
			},
			IsSuccessful: func(err error) bool {
				// caller-side cancellation says nothing about provider health
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("circuit breaker state change")
			},
		}),
	}
}

func (p *BreakerProvider) Name() string { return nameOf(p.next) }

func (p *BreakerProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	vec, err := p.breaker.Execute(func() ([]float64, error) {
		return p.next.Embed(ctx, text)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, core.Upstream("embedding.breaker", err)
	}
	return vec, err
}
