// Package guard wraps protected actions with a limiter and turns limiter outcomes into
// transport-neutral decisions.
//
// Two flows are supported:
//   - Guard: per-principal quota. Admit consumes a slot before the action runs and
//     Complete refunds it when the action succeeded.
//   - Lockout: per-address failed-attempt lockout. Admit only checks, Fail counts a
//     failed attempt and Succeed clears the counter.
//
// Neither flow returns errors. A store failure yields a Proceed decision marked Degraded,
// so an unavailable store never blocks legitimate traffic.
package guard

import (
	"context"
	"errors"
	"time"

	"github.com/jassus213/go-lockout/ratelimiter"
)

// Verdict tells the transport what to do with a request.
type Verdict int

const (
	// Proceed lets the request through.
	Proceed Verdict = iota
	// Reject answers 429 Too Many Requests.
	Reject
	// Unauthenticated answers 401 Unauthorized.
	Unauthenticated
)

func (v Verdict) String() string {
	switch v {
	case Proceed:
		return "proceed"
	case Reject:
		return "reject"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Decision is the outcome of a guard step.
type Decision struct {
	Verdict Verdict
	Policy  string
	Window  time.Duration
	Result  ratelimiter.Result
	// Degraded is set when the store failed and the request proceeds unaccounted.
	Degraded bool
	// Err is ErrRateLimitExceeded, ErrAuthenticationRequired, or the store error of a degraded decision.
	Err error
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Verdict == Proceed
}

// Quota returns the quota to attach to the request context.
func (d Decision) Quota(now time.Time) Quota {
	return Quota{
		Policy:    d.Policy,
		Limit:     d.Result.Limit,
		Remaining: d.Result.Remaining,
		Reset:     now.Add(d.Window),
	}
}

type base struct {
	policy ratelimiter.Policy
	cfg    *Config
}

func (b *base) decide(principal string, res ratelimiter.Result) Decision {
	d := Decision{Verdict: Proceed, Policy: b.policy.Name, Window: b.policy.Window, Result: res}
	if res.Limited {
		d.Verdict = Reject
		d.Result.Remaining = 0
		d.Err = ratelimiter.ErrRateLimitExceeded
		b.cfg.Logger.Debugf("guard: %s rejected under policy %q for %s", principal, b.policy.Name, res.ResetAfter)
		b.cfg.Metrics.decision(b.policy.Name, OutcomeLimited)
		return d
	}
	b.cfg.Metrics.decision(b.policy.Name, OutcomeAllowed)
	return d
}

func (b *base) unauthenticated() Decision {
	b.cfg.Metrics.decision(b.policy.Name, OutcomeUnauthenticated)
	return Decision{
		Verdict: Unauthenticated,
		Policy:  b.policy.Name,
		Window:  b.policy.Window,
		Err:     ratelimiter.ErrAuthenticationRequired,
	}
}

// failOpen converts an error into a Proceed decision. Errors other than store failures
// cannot occur once the principal is known, but are treated the same way.
func (b *base) failOpen(principal, op string, err error) Decision {
	if !errors.Is(err, ratelimiter.ErrStoreUnavailable) {
		b.cfg.Logger.Errorf("guard: unexpected limiter error for %s under policy %q: %v", principal, b.policy.Name, err)
	} else {
		b.cfg.Logger.Warnf("guard: %s failed for %s under policy %q, failing open: %v", op, principal, b.policy.Name, err)
	}
	b.cfg.Metrics.storeError(b.policy.Name, op)
	b.cfg.Metrics.decision(b.policy.Name, OutcomeFailOpen)
	return Decision{
		Verdict:  Proceed,
		Policy:   b.policy.Name,
		Window:   b.policy.Window,
		Result:   ratelimiter.Result{Limit: b.policy.MaxAttempts, Remaining: b.policy.MaxAttempts},
		Degraded: true,
		Err:      err,
	}
}

func (b *base) logFailure(principal, op string, err error) {
	b.cfg.Logger.Warnf("guard: %s failed for %s under policy %q: %v", op, principal, b.policy.Name, err)
	b.cfg.Metrics.storeError(b.policy.Name, op)
}

// Guard enforces a daily quota for authenticated principals.
//
// Example usage:
//
//	g := guard.New(reviews)
//	d := g.Admit(ctx, userID)
//	if !d.Allowed() { ... }
//	err := createReview(...)
//	g.Complete(ctx, userID, err == nil)
type Guard struct {
	base
	limiter *ratelimiter.PrincipalLimiter
}

// New creates a Guard around a PrincipalLimiter.
func New(limiter *ratelimiter.PrincipalLimiter, opts ...Option) *Guard {
	return &Guard{
		base:    base{policy: limiter.Policy(), cfg: NewConfig(opts...)},
		limiter: limiter,
	}
}

// Config returns the configuration the guard was built with.
func (g *Guard) Config() *Config {
	return g.cfg
}

// Admit checks the quota and consumes one slot for principal.
//
// The attempt that exhausts the quota is rejected itself.
func (g *Guard) Admit(ctx context.Context, principal string) Decision {
	if principal == "" {
		return g.unauthenticated()
	}

	res, err := g.limiter.IsRateLimited(ctx, principal)
	if err != nil {
		return g.failOpen(principal, "check", err)
	}
	if res.Limited {
		return g.decide(principal, res)
	}

	res, err = g.limiter.RecordAttempt(ctx, principal)
	if err != nil {
		return g.failOpen(principal, "record", err)
	}
	return g.decide(principal, res)
}

// Complete refunds the slot taken by Admit when the action succeeded.
// Failed actions keep their slot spent for the rest of the day.
func (g *Guard) Complete(ctx context.Context, principal string, succeeded bool) {
	if !succeeded || principal == "" {
		return
	}
	if err := g.limiter.ResetAttempts(ctx, principal); err != nil {
		g.logFailure(principal, "reset", err)
	}
}

// Lockout locks out caller addresses after repeated failed attempts.
//
// Example usage:
//
//	l := guard.NewLockout(logins)
//	if d := l.Admit(ctx, addr); !d.Allowed() { ... }
//	if !passwordOK {
//	    d := l.Fail(ctx, addr, username)
//	    ...
//	}
//	l.Succeed(ctx, addr, username)
type Lockout struct {
	base
	limiter *ratelimiter.AddressLimiter
}

// NewLockout creates a Lockout around an AddressLimiter.
func NewLockout(limiter *ratelimiter.AddressLimiter, opts ...Option) *Lockout {
	return &Lockout{
		base:    base{policy: limiter.Policy(), cfg: NewConfig(opts...)},
		limiter: limiter,
	}
}

// Config returns the configuration the lockout was built with.
func (l *Lockout) Config() *Config {
	return l.cfg
}

// Admit rejects addresses that are currently locked out. It does not count an attempt.
func (l *Lockout) Admit(ctx context.Context, address string) Decision {
	if address == "" {
		return l.unauthenticated()
	}

	res, err := l.limiter.IsBlocked(ctx, address)
	if err != nil {
		return l.failOpen(address, "check", err)
	}
	return l.decide(address, res)
}

// Fail records a failed attempt. The returned decision rejects when this attempt
// triggered the lockout.
func (l *Lockout) Fail(ctx context.Context, address, label string) Decision {
	if address == "" {
		return l.unauthenticated()
	}

	res, err := l.limiter.RecordFailedAttempt(ctx, address, label)
	if err != nil {
		return l.failOpen(address, "record", err)
	}
	return l.decide(address, res)
}

// Succeed clears today's failed attempts of address.
func (l *Lockout) Succeed(ctx context.Context, address, label string) {
	if address == "" {
		return
	}
	if err := l.limiter.RecordSuccessfulLogin(ctx, address, label); err != nil {
		l.logFailure(address, "reset", err)
	}
}
