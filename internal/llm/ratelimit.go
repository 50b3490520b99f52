package llm

import (
	"context"

	"github.com/ontoloom/ontoloom/internal/domain"
	"golang.org/x/time/rate"
)

// RateLimited wraps a completion client with a token-bucket limiter so that
// burst analysis passes cannot flood the text-generation backend.
type RateLimited struct {
	inner   domain.CompletionClient
	limiter *rate.Limiter
}

// NewRateLimited allows rps requests per second with the given burst.
func NewRateLimited(inner domain.CompletionClient, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *RateLimited) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.inner.Complete(ctx, req)
}

var _ domain.CompletionClient = (*RateLimited)(nil)
