package collab

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// ThrottledGenerator wraps a Generator with a rate limiter so a full lane
// set cannot stampede the external generation API. Each lane carries its
// own limiter; the external service's own limits still apply and surface
// as BlockerError through the rule table.
type ThrottledGenerator struct {
	gen     Generator
	limiter *rate.Limiter
}

// Throttle wraps gen at the given requests-per-second budget. An rps of
// zero or less disables throttling.
func Throttle(gen Generator, rps float64) Generator {
	if rps <= 0 {
		return gen
	}
	return &ThrottledGenerator{
		gen:     gen,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (t *ThrottledGenerator) GenerateImplementation(ctx context.Context, req Request) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("throttle wait canceled for %s: %w", req.Tool, err)
	}
	return t.gen.GenerateImplementation(ctx, req)
}
