package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// BlockedEntry describes a principal that is currently locked out.
type BlockedEntry struct {
	Principal     string
	AttemptCount  int
	LastAttempt   time.Time
	BlockedUntil  time.Time
	RemainingTime time.Duration
	Label         string
}

// tracker holds what both limiter variants share: the store, the policy, the clock
// and the administrative operations.
type tracker struct {
	store  Store
	policy Policy
	settings
}

func newTracker(store Store, p Policy, opts []Option) (*tracker, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &tracker{store: store, policy: p, settings: newSettings(opts)}, nil
}

// Policy returns the policy the limiter was built with.
func (t *tracker) Policy() Policy {
	return t.policy
}

func (t *tracker) key(principal string, now time.Time) Key {
	return Key{Policy: t.policy.Name, Principal: principal, Day: t.calendar.DayStart(now)}
}

func (t *tracker) find(ctx context.Context, principal string, now time.Time) (*AttemptRecord, error) {
	if principal == "" {
		return nil, ErrAuthenticationRequired
	}
	rec, err := t.store.Find(ctx, t.key(principal, now))
	if err != nil {
		return nil, storeError("find", err)
	}
	return rec, nil
}

func (t *tracker) increment(ctx context.Context, principal, label string, now time.Time) (AttemptRecord, error) {
	if principal == "" {
		return AttemptRecord{}, ErrAuthenticationRequired
	}
	rec, err := t.store.Increment(ctx, t.key(principal, now), now, t.policy, label)
	if err != nil {
		return AttemptRecord{}, storeError("increment", err)
	}
	if rec.IsBlocked && rec.AttemptCount == t.policy.MaxAttempts && rec.LastAttempt.Equal(now) {
		t.logger.Infof("ratelimit: %s blocked under policy %q until %s", principal, t.policy.Name, rec.BlockedUntil.Format(time.RFC3339))
	}
	return rec, nil
}

func (t *tracker) resetToday(ctx context.Context, principal string) error {
	if principal == "" {
		return ErrAuthenticationRequired
	}
	if err := t.store.ResetDay(ctx, t.key(principal, t.now())); err != nil {
		return storeError("reset", err)
	}
	return nil
}

// evaluate turns today's record into a Result. Only an active block limits here;
// quota exhaustion is the PrincipalLimiter's concern.
//
// A block lives in today's bucket, so it never outlasts the day it was set in.
func (t *tracker) evaluate(rec *AttemptRecord, now time.Time) Result {
	res := Result{Limit: t.policy.MaxAttempts, Remaining: t.policy.MaxAttempts}
	if rec == nil || rec.BlockServed(now) {
		return res
	}
	res.Remaining = max(0, t.policy.MaxAttempts-rec.AttemptCount)
	if rec.ActiveBlock(now) {
		res.Limited = true
		res.Remaining = 0
		res.ResetAfter = t.blockRemaining(rec, now)
	}
	return res
}

// blockRemaining is the time until the block is lifted, either by its deadline or by the
// start of the next day.
func (t *tracker) blockRemaining(rec *AttemptRecord, now time.Time) time.Duration {
	return min(rec.BlockedUntil.Sub(now), t.calendar.UntilNextDay(now))
}

// ListBlocked returns today's actively blocked principals.
func (t *tracker) ListBlocked(ctx context.Context) ([]BlockedEntry, error) {
	now := t.now()
	recs, err := t.store.ListBlocked(ctx, t.policy.Name, t.calendar.DayStart(now), now)
	if err != nil {
		return nil, storeError("list blocked", err)
	}
	entries := make([]BlockedEntry, 0, len(recs))
	for _, rec := range recs {
		if !rec.ActiveBlock(now) {
			continue
		}
		entries = append(entries, BlockedEntry{
			Principal:     rec.Principal,
			AttemptCount:  rec.AttemptCount,
			LastAttempt:   rec.LastAttempt,
			BlockedUntil:  rec.BlockedUntil,
			RemainingTime: t.blockRemaining(&rec, now),
			Label:         rec.Label,
		})
	}
	return entries, nil
}

// Unblock resets every record of principal under this policy, whatever its day.
func (t *tracker) Unblock(ctx context.Context, principal string) error {
	if principal == "" {
		return ErrAuthenticationRequired
	}
	if err := t.store.BulkReset(ctx, t.policy.Name, principal); err != nil {
		return storeError("unblock", err)
	}
	t.logger.Infof("ratelimit: %s unblocked under policy %q", principal, t.policy.Name)
	return nil
}

// Block locks principal out for d starting now, independent of its attempt count.
func (t *tracker) Block(ctx context.Context, principal string, d time.Duration, label string) error {
	if d <= 0 {
		return fmt.Errorf("block duration must be positive, got %s", d)
	}
	now := t.now()
	rec, err := t.find(ctx, principal, now)
	if err != nil {
		return err
	}
	if rec == nil {
		k := t.key(principal, now)
		rec = &AttemptRecord{Policy: k.Policy, Principal: k.Principal, Day: k.Day, LastAttempt: now}
	}
	rec.AttemptCount = max(rec.AttemptCount, t.policy.MaxAttempts)
	rec.IsBlocked = true
	rec.BlockedUntil = now.Add(d)
	if label != "" {
		rec.Label = label
	}
	if err := t.store.Upsert(ctx, *rec); err != nil {
		return storeError("block", err)
	}
	t.logger.Infof("ratelimit: %s manually blocked under policy %q for %s", principal, t.policy.Name, d)
	return nil
}

func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func limitedMessage(prefix string, d time.Duration) string {
	return fmt.Sprintf("%s Please try again in %s.", prefix, FormatRemainingTime(d))
}
