package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"happin/internal/domain"
)

// RateLimited caps outbound chat calls to a provider. Callers block until a
// token is available or ctx is done.
type RateLimited struct {
	domain.Provider
	limiter *rate.Limiter
}

// WithRateLimit wraps p so that it issues at most perMinute chat calls per
// minute. perMinute <= 0 returns p unchanged.
func WithRateLimit(p domain.Provider, perMinute int) domain.Provider {
	if perMinute <= 0 {
		return p
	}
	every := time.Minute / time.Duration(perMinute)
	return &RateLimited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Every(every), perMinute),
	}
}

func (r *RateLimited) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limit: %w", r.Provider.Name(), err)
	}
	return r.Provider.Chat(ctx, req)
}
