package ratelimiter

import (
	"context"
	"time"
)

// PrincipalLimiter enforces a per-policy daily quota for an authenticated principal
// (comments, reviews, contact forms, ticket lookups).
//
// A principal is limited while blocked, and also whenever today's attempts have used up
// the quota even without a block on record. The latter happens when the policy maximum is
// lowered during the day or when a record was written outside Increment.
type PrincipalLimiter struct {
	*tracker
}

// NewPrincipalLimiter creates a PrincipalLimiter for policy p backed by store.
func NewPrincipalLimiter(store Store, p Policy, opts ...Option) (*PrincipalLimiter, error) {
	t, err := newTracker(store, p, opts)
	if err != nil {
		return nil, err
	}
	return &PrincipalLimiter{tracker: t}, nil
}

// IsRateLimited reports whether principal may perform the action now.
func (l *PrincipalLimiter) IsRateLimited(ctx context.Context, principal string) (Result, error) {
	now := l.now()
	rec, err := l.find(ctx, principal, now)
	if err != nil {
		return Result{}, err
	}
	return l.result(rec, now), nil
}

// RecordAttempt counts one action for principal and returns the quota state after it.
func (l *PrincipalLimiter) RecordAttempt(ctx context.Context, principal string) (Result, error) {
	now := l.now()
	rec, err := l.increment(ctx, principal, "", now)
	if err != nil {
		return Result{}, err
	}
	l.logger.Debugf("ratelimit: attempt %d/%d by %s under policy %q", rec.AttemptCount, l.policy.MaxAttempts, principal, l.policy.Name)
	return l.result(&rec, now), nil
}

// ResetAttempts clears today's counter and block for principal.
func (l *PrincipalLimiter) ResetAttempts(ctx context.Context, principal string) error {
	if err := l.resetToday(ctx, principal); err != nil {
		return err
	}
	l.logger.Debugf("ratelimit: attempts of %s under policy %q reset", principal, l.policy.Name)
	return nil
}

func (l *PrincipalLimiter) result(rec *AttemptRecord, now time.Time) Result {
	res := l.evaluate(rec, now)
	switch {
	case res.Limited:
		res.Message = limitedMessage("Daily limit reached.", res.ResetAfter)
	case res.Remaining == 0:
		res.Limited = true
		res.ResetAfter = l.calendar.UntilNextDay(now)
		res.Message = limitedMessage("Daily limit reached.", res.ResetAfter)
	}
	return res
}
