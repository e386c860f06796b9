package llm

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/rainbowcity/rainbow/internal/conversation"
	"github.com/rainbowcity/rainbow/internal/tools"
)

// LimitedGateway spaces out calls to a provider with a token bucket.
// A caller whose deadline expires while waiting for a token gets a
// *ModelUnavailableError with status 429.
type LimitedGateway struct {
	gateway Gateway
	limiter *rate.Limiter
}

// NewLimitedGateway wraps gateway with a limit of rps requests per second.
// rps <= 0 disables limiting; burst < 1 is raised to 1.
func NewLimitedGateway(gateway Gateway, rps float64, burst int) *LimitedGateway {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &LimitedGateway{
		gateway: gateway,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Invoke implements Gateway.
func (l *LimitedGateway) Invoke(ctx context.Context, messages []conversation.Message, defs []tools.Definition) (*Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, &ModelUnavailableError{
			Provider: l.gateway.Name(),
			Status:   http.StatusTooManyRequests,
			Err:      fmt.Errorf("rate limit wait: %w", err),
		}
	}
	return l.gateway.Invoke(ctx, messages, defs)
}

// Name implements Gateway.
func (l *LimitedGateway) Name() string {
	return l.gateway.Name()
}
