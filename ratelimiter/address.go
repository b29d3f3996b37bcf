package ratelimiter

import (
	"context"
	"time"
)

// AddressLimiter locks out a caller address after too many failed attempts in a day.
//
// It guards authentication-adjacent flows (login, registration, admin login): the handler
// reports each failure with RecordFailedAttempt and each success with RecordSuccessfulLogin.
//
// Example usage:
//
//	limiter, _ := ratelimiter.NewAddressLimiter(store, ratelimiter.AuthPolicy)
//	if res, _ := limiter.IsBlocked(ctx, addr); res.Limited {
//	    // reject with res.ResetAfter
//	}
type AddressLimiter struct {
	*tracker
}

// NewAddressLimiter creates an AddressLimiter for policy p backed by store.
func NewAddressLimiter(store Store, p Policy, opts ...Option) (*AddressLimiter, error) {
	t, err := newTracker(store, p, opts)
	if err != nil {
		return nil, err
	}
	return &AddressLimiter{tracker: t}, nil
}

// IsBlocked reports whether address is currently locked out.
func (l *AddressLimiter) IsBlocked(ctx context.Context, address string) (Result, error) {
	now := l.now()
	rec, err := l.find(ctx, address, now)
	if err != nil {
		return Result{}, err
	}
	return l.result(rec, now), nil
}

// RecordFailedAttempt counts a failed attempt for address. The returned Result is limited
// when this attempt reached the threshold.
func (l *AddressLimiter) RecordFailedAttempt(ctx context.Context, address, label string) (Result, error) {
	now := l.now()
	rec, err := l.increment(ctx, address, label, now)
	if err != nil {
		return Result{}, err
	}
	l.logger.Debugf("ratelimit: failed attempt %d/%d from %s under policy %q", rec.AttemptCount, l.policy.MaxAttempts, address, l.policy.Name)
	return l.result(&rec, now), nil
}

// RecordSuccessfulLogin clears today's counter and block for address.
func (l *AddressLimiter) RecordSuccessfulLogin(ctx context.Context, address, label string) error {
	if err := l.resetToday(ctx, address); err != nil {
		return err
	}
	l.logger.Debugf("ratelimit: successful login from %s (%s), counter reset", address, label)
	return nil
}

// RemainingAttempts returns how many failures address may still make today.
func (l *AddressLimiter) RemainingAttempts(ctx context.Context, address string) (int, error) {
	now := l.now()
	rec, err := l.find(ctx, address, now)
	if err != nil {
		return 0, err
	}
	return l.evaluate(rec, now).Remaining, nil
}

func (l *AddressLimiter) result(rec *AttemptRecord, now time.Time) Result {
	res := l.evaluate(rec, now)
	if res.Limited {
		res.Message = limitedMessage("Too many failed attempts.", res.ResetAfter)
	}
	return res
}
