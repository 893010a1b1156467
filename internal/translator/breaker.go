package translator

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

// breakerProvider stops calling a provider after repeated failures so the
// remaining chunks fall back immediately instead of waiting out timeouts.
type breakerProvider struct {
	Provider
	cb *gobreaker.CircuitBreaker
}

// WithBreaker trips after threshold consecutive failures and probes again
// after cooldown.
func WithBreaker(p Provider, threshold uint32, cooldown time.Duration) Provider {
	settings := gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker %s: %s -> %s", name, from, to)
		},
	}
	return &breakerProvider{
		Provider: p,
		cb:       gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *breakerProvider) TranslateChunk(ctx context.Context, req ChunkRequest) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.Provider.TranslateChunk(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}
