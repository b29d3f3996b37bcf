package guard

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jassus213/go-lockout/ratelimiter"
)

// ErrUnknownPolicy is returned by Admin for policy names it does not manage.
var ErrUnknownPolicy = errors.New("unknown policy")

// Limiter is the administrative surface shared by AddressLimiter and PrincipalLimiter.
type Limiter interface {
	Policy() ratelimiter.Policy
	ListBlocked(ctx context.Context) ([]ratelimiter.BlockedEntry, error)
	Unblock(ctx context.Context, principal string) error
	Block(ctx context.Context, principal string, d time.Duration, label string) error
}

// BlockedEntry is the JSON form of ratelimiter.BlockedEntry.
type BlockedEntry struct {
	Principal    string    `json:"principal"`
	AttemptCount int       `json:"attemptCount"`
	LastAttempt  time.Time `json:"lastAttempt"`
	BlockedUntil time.Time `json:"blockedUntil"`
	// RemainingTime is in milliseconds.
	RemainingTime int64  `json:"remainingTime"`
	Label         string `json:"label,omitempty"`
}

// BlockRequest is the body accepted by the manual block endpoints.
type BlockRequest struct {
	// Duration is a Go duration string such as "2h".
	Duration string `json:"duration"`
	Label    string `json:"label"`
}

// Admin exposes the administrative operations of a set of limiters keyed by policy name.
type Admin struct {
	limiters map[string]Limiter
	logger   ratelimiter.Logger
}

// NewAdmin creates an Admin over limiters. A later limiter with the same policy name wins.
func NewAdmin(logger ratelimiter.Logger, limiters ...Limiter) *Admin {
	if logger == nil {
		logger = ratelimiter.NopLogger()
	}
	a := &Admin{limiters: make(map[string]Limiter, len(limiters)), logger: logger}
	for _, l := range limiters {
		a.limiters[l.Policy().Name] = l
	}
	return a
}

// Policies returns the managed policy names in sorted order.
func (a *Admin) Policies() []string {
	names := make([]string, 0, len(a.limiters))
	for name := range a.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a *Admin) limiter(policy string) (Limiter, error) {
	l, ok := a.limiters[policy]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}
	return l, nil
}

// Blocked lists today's blocked principals of policy, soonest release first.
func (a *Admin) Blocked(ctx context.Context, policy string) ([]BlockedEntry, error) {
	l, err := a.limiter(policy)
	if err != nil {
		return nil, err
	}
	entries, err := l.ListBlocked(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]BlockedEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, BlockedEntry{
			Principal:     e.Principal,
			AttemptCount:  e.AttemptCount,
			LastAttempt:   e.LastAttempt.UTC(),
			BlockedUntil:  e.BlockedUntil.UTC(),
			RemainingTime: e.RemainingTime.Milliseconds(),
			Label:         e.Label,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockedUntil.Before(out[j].BlockedUntil) })
	return out, nil
}

// Unblock resets every record of principal under policy.
func (a *Admin) Unblock(ctx context.Context, policy, principal string) error {
	l, err := a.limiter(policy)
	if err != nil {
		return err
	}
	if err := l.Unblock(ctx, principal); err != nil {
		return err
	}
	a.logger.Infof("admin: unblocked %s under policy %q", principal, policy)
	return nil
}

// Block locks principal out of policy for the requested duration.
func (a *Admin) Block(ctx context.Context, policy, principal string, req BlockRequest) error {
	l, err := a.limiter(policy)
	if err != nil {
		return err
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", req.Duration, err)
	}
	return l.Block(ctx, principal, d, req.Label)
}

// AdminStatus maps an Admin error to an HTTP status.
func AdminStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnknownPolicy):
		return http.StatusNotFound
	case errors.Is(err, ratelimiter.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// Authorized reports whether r carries "Authorization: Bearer <token>". An empty token
// disables the check.
func Authorized(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}
