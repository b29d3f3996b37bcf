// Package ratelimiter provides the attempt-counting and lockout engine that protects
// authentication and content-submission endpoints.
//
// Counters are kept per calendar day: every (policy, principal, day) tuple owns at most one
// AttemptRecord, and a record from a previous day is never consulted again. Blocks are stored
// as a deadline and compared against the clock at query time, so they lift themselves.
//
// The package defines the core abstractions:
//   - Store: persistence contract for AttemptRecords (see the store package for implementations)
//   - AddressLimiter: locks out a caller address after repeated failed logins
//   - PrincipalLimiter: per-policy daily quota for an authenticated principal
//   - Result: outcome of a limiter query, useful for HTTP headers and rejection payloads
package ratelimiter

import (
	"context"
	"time"
)

// Result contains the outcome of a limiter query or attempt.
//
// It provides the data needed to populate `X-RateLimit-Limit`, `X-RateLimit-Remaining`
// and the rejection payload's `remainingTime`.
type Result struct {
	// Limited reports whether the principal must be rejected.
	Limited bool
	// Limit is the policy's maximum number of attempts per day.
	Limit int
	// Remaining is max(0, Limit - attempts recorded today).
	Remaining int
	// ResetAfter is how long the principal has to wait. Zero when not limited.
	ResetAfter time.Duration
	// Message is a human-readable explanation for limited results.
	Message string
}

// Key addresses a single AttemptRecord.
type Key struct {
	Policy    string
	Principal string
	// Day is the start of the calendar day the record accounts for.
	Day time.Time
}

// AttemptRecord is the persisted counter for one principal, policy and calendar day.
type AttemptRecord struct {
	Policy       string
	Principal    string
	Day          time.Time
	AttemptCount int
	LastAttempt  time.Time
	IsBlocked    bool
	// BlockedUntil is the zero time when no block timer is set.
	BlockedUntil time.Time
	// Label is optional audit metadata, e.g. the username tried from an address.
	Label string
}

// Key returns the key the record is stored under.
func (r AttemptRecord) Key() Key {
	return Key{Policy: r.Policy, Principal: r.Principal, Day: r.Day}
}

// ActiveBlock reports whether the record rejects the principal at now.
// The flag alone is not enough: the deadline must still be in the future.
func (r AttemptRecord) ActiveBlock(now time.Time) bool {
	return r.IsBlocked && r.BlockedUntil.After(now)
}

// BlockServed reports whether the record carries a block whose deadline has passed.
func (r AttemptRecord) BlockServed(now time.Time) bool {
	return r.IsBlocked && !r.BlockedUntil.After(now)
}

// Apply records one attempt at now under policy p.
//
// A block that has already expired is treated as served: the counter starts over.
// Reaching p.MaxAttempts while not actively blocked starts a block of p.BlockDuration.
func (r *AttemptRecord) Apply(now time.Time, p Policy, label string) {
	if r.BlockServed(now) {
		r.Clear()
	}
	r.AttemptCount++
	r.LastAttempt = now
	if label != "" {
		r.Label = label
	}
	if !r.ActiveBlock(now) && r.AttemptCount >= p.MaxAttempts {
		r.IsBlocked = true
		r.BlockedUntil = now.Add(p.BlockDuration)
	}
}

// Clear zeroes the counter and lifts any block.
func (r *AttemptRecord) Clear() {
	r.AttemptCount = 0
	r.IsBlocked = false
	r.BlockedUntil = time.Time{}
}

// Store defines the persistence contract for attempt records.
//
// Implementations must be safe for concurrent use. Increment is the only primitive the
// limiters use to count attempts and must apply AttemptRecord.Apply atomically.
type Store interface {
	// Find returns the record stored under key, or nil when there is none.
	Find(ctx context.Context, key Key) (*AttemptRecord, error)

	// Upsert creates or replaces the record matching rec.Key().
	Upsert(ctx context.Context, rec AttemptRecord) error

	// Increment atomically loads (or creates) the record for key, applies one attempt
	// at now under policy p and returns the stored result.
	Increment(ctx context.Context, key Key, now time.Time, p Policy, label string) (AttemptRecord, error)

	// ResetDay clears the counter and block of every record matching key.
	ResetDay(ctx context.Context, key Key) error

	// BulkReset clears every record of principal under policy, regardless of day.
	BulkReset(ctx context.Context, policy, principal string) error

	// ListBlocked returns the records of day that are actively blocked at now.
	ListBlocked(ctx context.Context, policy string, day, now time.Time) ([]AttemptRecord, error)

	// Purge deletes records whose day starts before the given time and returns how many were removed.
	Purge(ctx context.Context, before time.Time) (int64, error)
}
