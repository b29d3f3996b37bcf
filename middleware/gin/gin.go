package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jassus213/go-lockout/guard"
)

// Context keys set by the middleware.
const (
	// QuotaKey holds the guard.Quota of an admitted request.
	QuotaKey = "lockout.quota"

	lockoutKey = "lockout.binding"
)

type lockoutBinding struct {
	lockout *guard.Lockout
	address string
}

// Guard creates a new Gin middleware around a principal quota guard.
//
// Every request consumes one slot before the handler runs. When the handler answers with a
// 2xx status the slot is refunded; any other status keeps it spent.
//
// Example:
//
//	reviews, _ := ratelimiter.NewPrincipalLimiter(store, ratelimiter.ReviewPolicy)
//	g := guard.New(reviews, guard.WithKeyFunc(guard.HeaderKey("X-User-ID")))
//	router.POST("/reviews", gin.Guard(g), createReview)
func Guard(g *guard.Guard) gin.HandlerFunc {
	cfg := g.Config()

	return func(c *gin.Context) {
		principal := extractKey(c, cfg)
		ctx := c.Request.Context()

		d := g.Admit(ctx, principal)
		if !d.Allowed() {
			cfg.ErrorHandler(c.Writer, c.Request, d.Err, d)
			c.Abort()
			return
		}
		admit(c, cfg, d)

		c.Next()

		status := c.Writer.Status()
		g.Complete(ctx, principal, status >= http.StatusOK && status < http.StatusMultipleChoices)
	}
}

// Lockout creates a new Gin middleware that rejects locked-out addresses.
//
// It does not count attempts by itself: the handler reports the outcome with RecordFailure
// and RecordSuccess once it knows whether the credentials were valid.
//
// Example:
//
//	logins, _ := ratelimiter.NewAddressLimiter(store, ratelimiter.AuthPolicy)
//	router.POST("/login", gin.Lockout(guard.NewLockout(logins)), func(c *gin.Context) {
//	    if !valid {
//	        if gin.RecordFailure(c, username) {
//	            return
//	        }
//	        c.JSON(http.StatusUnauthorized, ...)
//	        return
//	    }
//	    gin.RecordSuccess(c, username)
//	})
func Lockout(l *guard.Lockout) gin.HandlerFunc {
	cfg := l.Config()

	return func(c *gin.Context) {
		address := extractKey(c, cfg)

		d := l.Admit(c.Request.Context(), address)
		if !d.Allowed() {
			cfg.ErrorHandler(c.Writer, c.Request, d.Err, d)
			c.Abort()
			return
		}
		admit(c, cfg, d)
		c.Set(lockoutKey, lockoutBinding{lockout: l, address: address})

		c.Next()
	}
}

// RecordFailure counts a failed attempt for the request's address. When this attempt
// triggers the lockout it writes the rejection, aborts the chain and returns true.
func RecordFailure(c *gin.Context, label string) bool {
	b, ok := binding(c)
	if !ok {
		return false
	}
	d := b.lockout.Fail(c.Request.Context(), b.address, label)
	if d.Allowed() {
		return false
	}
	b.lockout.Config().ErrorHandler(c.Writer, c.Request, d.Err, d)
	c.Abort()
	return true
}

// RecordSuccess clears the failed attempts of the request's address.
func RecordSuccess(c *gin.Context, label string) {
	if b, ok := binding(c); ok {
		b.lockout.Succeed(c.Request.Context(), b.address, label)
	}
}

// Quota returns the quota the middleware attached to c.
func Quota(c *gin.Context) (guard.Quota, bool) {
	v, ok := c.Get(QuotaKey)
	if !ok {
		return guard.Quota{}, false
	}
	q, ok := v.(guard.Quota)
	return q, ok
}

func binding(c *gin.Context) (lockoutBinding, bool) {
	v, ok := c.Get(lockoutKey)
	if !ok {
		return lockoutBinding{}, false
	}
	b, ok := v.(lockoutBinding)
	return b, ok
}

func extractKey(c *gin.Context, cfg *guard.Config) string {
	key, err := cfg.KeyFunc(c.Request)
	if err != nil {
		cfg.Logger.Errorf("Failed to extract key: %v", err)
		return ""
	}
	return key
}

func admit(c *gin.Context, cfg *guard.Config, d guard.Decision) {
	if d.Degraded {
		return
	}
	now := cfg.Now()
	guard.ApplyHeaders(c.Writer.Header(), d, now)
	q := d.Quota(now)
	c.Set(QuotaKey, q)
	c.Request = c.Request.WithContext(guard.WithQuota(c.Request.Context(), q))
}
