package guard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jassus213/go-lockout/ratelimiter"
	"github.com/jassus213/go-lockout/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// failingStore fails every operation, as an unreachable backend would.
type failingStore struct {
	ratelimiter.Store
}

var errDown = errors.New("dial tcp: connection refused")

func (failingStore) Find(context.Context, ratelimiter.Key) (*ratelimiter.AttemptRecord, error) {
	return nil, errDown
}

func (failingStore) Increment(context.Context, ratelimiter.Key, time.Time, ratelimiter.Policy, string) (ratelimiter.AttemptRecord, error) {
	return ratelimiter.AttemptRecord{}, errDown
}

func (failingStore) ResetDay(context.Context, ratelimiter.Key) error {
	return errDown
}

// writeFailingStore serves reads from memory but fails every write, as a read replica would.
type writeFailingStore struct {
	ratelimiter.Store
}

func (writeFailingStore) Increment(context.Context, ratelimiter.Key, time.Time, ratelimiter.Policy, string) (ratelimiter.AttemptRecord, error) {
	return ratelimiter.AttemptRecord{}, errDown
}

type recordingLogger struct {
	ratelimiter.Logger
	warnings []string
}

func (l *recordingLogger) Warnf(format string, args ...interface{}) {
	l.warnings = append(l.warnings, format)
}

func newGuard(t *testing.T, s ratelimiter.Store, p ratelimiter.Policy, c *clock, opts ...Option) *Guard {
	t.Helper()
	l, err := ratelimiter.NewPrincipalLimiter(s, p, ratelimiter.WithClock(c.Now))
	require.NoError(t, err)
	return New(l, opts...)
}

func newLockout(t *testing.T, s ratelimiter.Store, p ratelimiter.Policy, c *clock, opts ...Option) *Lockout {
	t.Helper()
	l, err := ratelimiter.NewAddressLimiter(s, p, ratelimiter.WithClock(c.Now))
	require.NoError(t, err)
	return NewLockout(l, opts...)
}

func TestLockout_LoginSequence(t *testing.T) {
	c := &clock{t: testNow}
	p := ratelimiter.Policy{Name: "login", MaxAttempts: 3, Window: ratelimiter.Day, BlockDuration: time.Hour}
	l := newLockout(t, store.NewMemory(context.Background(), 0), p, c)
	ctx := context.Background()

	d := l.Fail(ctx, "1.2.3.4", "alice")
	assert.Equal(t, Proceed, d.Verdict)
	assert.Equal(t, 2, d.Result.Remaining)

	d = l.Fail(ctx, "1.2.3.4", "alice")
	assert.Equal(t, Proceed, d.Verdict)
	assert.Equal(t, 1, d.Result.Remaining)

	d = l.Fail(ctx, "1.2.3.4", "alice")
	assert.Equal(t, Reject, d.Verdict, "the triggering attempt is rejected")
	assert.Equal(t, 0, d.Result.Remaining)
	assert.ErrorIs(t, d.Err, ratelimiter.ErrRateLimitExceeded)

	c.Advance(15 * time.Minute)
	d = l.Admit(ctx, "1.2.3.4")
	assert.Equal(t, Reject, d.Verdict)
	assert.Equal(t, 45*time.Minute, d.Result.ResetAfter)

	body := NewRejection(d)
	assert.True(t, body.Limited)
	assert.Equal(t, int64(45*60*1000), body.RemainingTime)
	assert.Equal(t, 0, body.RemainingAttempts)

	l.Succeed(ctx, "1.2.3.4", "alice")
	assert.True(t, l.Admit(ctx, "1.2.3.4").Allowed())
}

func TestGuard_ReviewRefund(t *testing.T) {
	c := &clock{t: testNow}
	g := newGuard(t, store.NewMemory(context.Background(), 0), ratelimiter.ReviewPolicy, c)
	ctx := context.Background()

	d := g.Admit(ctx, "user-1")
	require.True(t, d.Allowed())
	assert.Equal(t, 4, d.Result.Remaining)
	g.Complete(ctx, "user-1", true)

	d = g.Admit(ctx, "user-1")
	require.True(t, d.Allowed())
	assert.Equal(t, 4, d.Result.Remaining, "the refund restored the full quota before this slot")
	g.Complete(ctx, "user-1", false)

	d = g.Admit(ctx, "user-1")
	require.True(t, d.Allowed())
	assert.Equal(t, 3, d.Result.Remaining, "the failed submission stays spent")
}

func TestGuard_TriggeringRequestRejected(t *testing.T) {
	c := &clock{t: testNow}
	p := ratelimiter.Policy{Name: "comment", MaxAttempts: 2, Window: ratelimiter.Day, BlockDuration: ratelimiter.Day}
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	g := newGuard(t, store.NewMemory(context.Background(), 0), p, c, WithMetrics(m))
	ctx := context.Background()

	assert.True(t, g.Admit(ctx, "user-1").Allowed())

	d := g.Admit(ctx, "user-1")
	assert.Equal(t, Reject, d.Verdict)
	assert.Equal(t, 14*time.Hour, d.Result.ResetAfter)

	d = g.Admit(ctx, "user-1")
	assert.Equal(t, Reject, d.Verdict)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("comment", OutcomeAllowed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("comment", OutcomeLimited)))
}

func TestGuard_Unauthenticated(t *testing.T) {
	c := &clock{t: testNow}
	s := store.NewMemory(context.Background(), 0)
	g := newGuard(t, s, ratelimiter.ReviewPolicy, c)

	d := g.Admit(context.Background(), "")
	assert.Equal(t, Unauthenticated, d.Verdict)
	assert.ErrorIs(t, d.Err, ratelimiter.ErrAuthenticationRequired)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(d))
	assert.Equal(t, NewUnauthorized(), Body(d))

	recs, err := s.ListBlocked(context.Background(), ratelimiter.PolicyReview, ratelimiter.UTC.DayStart(testNow), testNow)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestGuard_FailsOpenWhenStoreIsDown(t *testing.T) {
	c := &clock{t: testNow}
	logger := &recordingLogger{Logger: ratelimiter.NopLogger()}
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	g := newGuard(t, failingStore{}, ratelimiter.CommentPolicy, c, WithLogger(logger), WithMetrics(m))
	ctx := context.Background()

	d := g.Admit(ctx, "user-1")
	assert.Equal(t, Proceed, d.Verdict)
	assert.True(t, d.Degraded)
	assert.ErrorIs(t, d.Err, ratelimiter.ErrStoreUnavailable)

	g.Complete(ctx, "user-1", true)

	assert.Len(t, logger.warnings, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeErrors.WithLabelValues(ratelimiter.PolicyComment, "check")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeErrors.WithLabelValues(ratelimiter.PolicyComment, "reset")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues(ratelimiter.PolicyComment, OutcomeFailOpen)))

	h := http.Header{}
	ApplyHeaders(h, d, testNow)
	assert.Empty(t, h.Get(HeaderLimit), "degraded decisions carry no quota headers")
}

func TestGuard_FailsOpenWhenRecordingFails(t *testing.T) {
	c := &clock{t: testNow}
	logger := &recordingLogger{Logger: ratelimiter.NopLogger()}
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	s := writeFailingStore{Store: store.NewMemory(context.Background(), 0)}
	g := newGuard(t, s, ratelimiter.CommentPolicy, c, WithLogger(logger), WithMetrics(m))
	ctx := context.Background()

	d := g.Admit(ctx, "user-1")
	assert.Equal(t, Proceed, d.Verdict)
	assert.True(t, d.Degraded)
	assert.ErrorIs(t, d.Err, ratelimiter.ErrStoreUnavailable)

	assert.Len(t, logger.warnings, 1)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.storeErrors.WithLabelValues(ratelimiter.PolicyComment, "check")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeErrors.WithLabelValues(ratelimiter.PolicyComment, "record")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues(ratelimiter.PolicyComment, OutcomeFailOpen)))
}

func TestLockout_FailsOpenWhenRecordingFails(t *testing.T) {
	c := &clock{t: testNow}
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	s := writeFailingStore{Store: store.NewMemory(context.Background(), 0)}
	l := newLockout(t, s, ratelimiter.AuthPolicy, c, WithMetrics(m))
	ctx := context.Background()

	assert.True(t, l.Admit(ctx, "1.2.3.4").Allowed())
	d := l.Fail(ctx, "1.2.3.4", "bob")
	assert.True(t, d.Allowed())
	assert.True(t, d.Degraded)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeErrors.WithLabelValues(ratelimiter.PolicyAuth, "record")))
}

func TestLockout_FailsOpenWhenStoreIsDown(t *testing.T) {
	c := &clock{t: testNow}
	l := newLockout(t, failingStore{}, ratelimiter.AuthPolicy, c)
	ctx := context.Background()

	assert.True(t, l.Admit(ctx, "1.2.3.4").Allowed())
	d := l.Fail(ctx, "1.2.3.4", "bob")
	assert.True(t, d.Allowed())
	assert.True(t, d.Degraded)
	l.Succeed(ctx, "1.2.3.4", "bob")
}

func TestApplyHeaders(t *testing.T) {
	d := Decision{
		Verdict: Proceed,
		Policy:  ratelimiter.PolicyReview,
		Window:  ratelimiter.Day,
		Result:  ratelimiter.Result{Limit: 5, Remaining: 3},
	}
	h := http.Header{}
	ApplyHeaders(h, d, testNow)

	assert.Equal(t, "5", h.Get(HeaderLimit))
	assert.Equal(t, "3", h.Get(HeaderRemaining))
	assert.Equal(t, "2025-03-15T10:00:00Z", h.Get(HeaderReset))
}

func TestWriteRejection(t *testing.T) {
	d := Decision{
		Verdict: Reject,
		Result: ratelimiter.Result{
			Limited:    true,
			ResetAfter: 90*time.Second + time.Millisecond,
			Message:    "Daily limit reached. Please try again in 1 minute.",
		},
	}
	rec := httptest.NewRecorder()
	WriteRejection(rec, httptest.NewRequest(http.MethodPost, "/", nil), ratelimiter.ErrRateLimitExceeded, d)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "91", rec.Header().Get(HeaderRetryAfter))
	assert.JSONEq(t, `{"message":"Daily limit reached. Please try again in 1 minute.","limited":true,"remainingTime":90001,"remainingAttempts":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	WriteRejection(rec, httptest.NewRequest(http.MethodPost, "/", nil), ratelimiter.ErrAuthenticationRequired, Decision{Verdict: Unauthenticated})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderRetryAfter))
	assert.JSONEq(t, `{"message":"Authentication required"}`, rec.Body.String())
}

func TestAddressKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5555"

	addr, err := AddressKey(r)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", addr)

	r.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
	addr, err = AddressKey(r)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", addr)

	r.Header.Set("X-Forwarded-For", ",")
	addr, err = AddressKey(r)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", addr)
}

func TestHeaderKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", strings.NewReader(""))
	r.Header.Set("X-User-ID", " user-42 ")

	id, err := HeaderKey("X-User-ID")(r)
	require.NoError(t, err)
	assert.Equal(t, "user-42", id)
}

func TestQuotaContext(t *testing.T) {
	_, ok := QuotaFromContext(context.Background())
	assert.False(t, ok)

	q := Quota{Policy: "review", Limit: 5, Remaining: 4, Reset: testNow}
	got, ok := QuotaFromContext(WithQuota(context.Background(), q))
	require.True(t, ok)
	assert.Equal(t, q, got)
}
