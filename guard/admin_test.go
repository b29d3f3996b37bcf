package guard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jassus213/go-lockout/ratelimiter"
	"github.com/jassus213/go-lockout/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmin_BlockListUnblock(t *testing.T) {
	c := &clock{t: testNow}
	s := store.NewMemory(context.Background(), 0)
	logins, err := ratelimiter.NewAddressLimiter(s, ratelimiter.AuthPolicy, ratelimiter.WithClock(c.Now))
	require.NoError(t, err)
	reviews, err := ratelimiter.NewPrincipalLimiter(s, ratelimiter.ReviewPolicy, ratelimiter.WithClock(c.Now))
	require.NoError(t, err)

	a := NewAdmin(nil, logins, reviews)
	assert.Equal(t, []string{ratelimiter.PolicyAuth, ratelimiter.PolicyReview}, a.Policies())
	ctx := context.Background()

	require.NoError(t, a.Block(ctx, ratelimiter.PolicyReview, "user-2", BlockRequest{Duration: "3h", Label: "spam"}))
	require.NoError(t, a.Block(ctx, ratelimiter.PolicyReview, "user-1", BlockRequest{Duration: "1h"}))

	entries, err := a.Blocked(ctx, ratelimiter.PolicyReview)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "user-1", entries[0].Principal)
	assert.Equal(t, int64(time.Hour/time.Millisecond), entries[0].RemainingTime)
	assert.Equal(t, "spam", entries[1].Label)

	entries, err = a.Blocked(ctx, ratelimiter.PolicyAuth)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, a.Unblock(ctx, ratelimiter.PolicyReview, "user-2"))
	entries, err = a.Blocked(ctx, ratelimiter.PolicyReview)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	res, err := reviews.IsRateLimited(ctx, "user-2")
	require.NoError(t, err)
	assert.False(t, res.Limited)
}

func TestAdmin_Errors(t *testing.T) {
	s := store.NewMemory(context.Background(), 0)
	reviews, err := ratelimiter.NewPrincipalLimiter(s, ratelimiter.ReviewPolicy)
	require.NoError(t, err)
	a := NewAdmin(nil, reviews)
	ctx := context.Background()

	_, err = a.Blocked(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownPolicy)
	assert.Equal(t, http.StatusNotFound, AdminStatus(err))

	err = a.Block(ctx, ratelimiter.PolicyReview, "user-1", BlockRequest{Duration: "soon"})
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, AdminStatus(err))

	failing, err := ratelimiter.NewPrincipalLimiter(failingStore{}, ratelimiter.CommentPolicy)
	require.NoError(t, err)
	a = NewAdmin(nil, failing)
	err = a.Block(ctx, ratelimiter.PolicyComment, "user-1", BlockRequest{Duration: "1h"})
	assert.Equal(t, http.StatusServiceUnavailable, AdminStatus(err))
}

func TestAuthorized(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/admin", nil)
	assert.True(t, Authorized(r, ""))
	assert.False(t, Authorized(r, "secret"))

	r.Header.Set("Authorization", "Bearer wrong")
	assert.False(t, Authorized(r, "secret"))

	r.Header.Set("Authorization", "Bearer secret")
	assert.True(t, Authorized(r, "secret"))
}
