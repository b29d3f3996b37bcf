package guard

import (
	"context"
	"time"
)

// Quota is attached to the context of admitted requests.
type Quota struct {
	Policy    string
	Limit     int
	Remaining int
	// Reset approximates when the quota resets: now plus the policy window.
	Reset time.Time
}

type quotaKey struct{}

// WithQuota returns a copy of ctx carrying q.
func WithQuota(ctx context.Context, q Quota) context.Context {
	return context.WithValue(ctx, quotaKey{}, q)
}

// QuotaFromContext returns the quota attached by the middleware, if any.
func QuotaFromContext(ctx context.Context) (Quota, bool) {
	q, ok := ctx.Value(quotaKey{}).(Quota)
	return q, ok
}
