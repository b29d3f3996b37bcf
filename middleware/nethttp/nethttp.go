package nethttp

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jassus213/go-lockout/guard"
)

// Middleware creates a new middleware handler for the standard `net/http` library around a
// principal quota guard.
//
// Every request consumes one slot before next runs; a 2xx answer refunds it. Admitted
// requests get the `X-RateLimit-*` headers and a guard.Quota in their context.
//
// Example:
//
//	comments, _ := ratelimiter.NewPrincipalLimiter(store, ratelimiter.CommentPolicy)
//	g := guard.New(comments, guard.WithKeyFunc(guard.HeaderKey("X-User-ID")))
//	mux := http.NewServeMux()
//	mux.Handle("POST /comments", nethttp.Middleware(g)(http.HandlerFunc(createComment)))
func Middleware(g *guard.Guard) func(http.Handler) http.Handler {
	cfg := g.Config()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := extractKey(r, cfg)
			ctx := r.Context()

			d := g.Admit(ctx, principal)
			if !d.Allowed() {
				cfg.ErrorHandler(w, r, d.Err, d)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, admit(ww, r, cfg, d))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			g.Complete(ctx, principal, status >= http.StatusOK && status < http.StatusMultipleChoices)
		})
	}
}

type lockoutBinding struct {
	lockout *guard.Lockout
	address string
	w       http.ResponseWriter
	r       *http.Request
	// rejected is set once RecordFailure wrote a rejection.
	rejected bool
}

type lockoutKey struct{}

// LockoutMiddleware rejects locked-out addresses. Handlers report the outcome of the
// credential check with RecordFailure and RecordSuccess.
//
// Example:
//
//	logins, _ := ratelimiter.NewAddressLimiter(store, ratelimiter.AuthPolicy)
//	mux.Handle("POST /login", nethttp.LockoutMiddleware(guard.NewLockout(logins))(loginHandler))
func LockoutMiddleware(l *guard.Lockout) func(http.Handler) http.Handler {
	cfg := l.Config()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			address := extractKey(r, cfg)

			d := l.Admit(r.Context(), address)
			if !d.Allowed() {
				cfg.ErrorHandler(w, r, d.Err, d)
				return
			}

			r = admit(w, r, cfg, d)
			b := &lockoutBinding{lockout: l, address: address, w: w, r: r}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), lockoutKey{}, b)))
		})
	}
}

// RecordFailure counts a failed attempt for the request's address. When this attempt
// triggers the lockout it writes the rejection and returns true; the handler must not
// write anything else.
func RecordFailure(r *http.Request, label string) bool {
	b, ok := r.Context().Value(lockoutKey{}).(*lockoutBinding)
	if !ok {
		return false
	}
	if b.rejected {
		return true
	}
	d := b.lockout.Fail(r.Context(), b.address, label)
	if d.Allowed() {
		return false
	}
	b.lockout.Config().ErrorHandler(b.w, b.r, d.Err, d)
	b.rejected = true
	return true
}

// RecordSuccess clears the failed attempts of the request's address.
func RecordSuccess(r *http.Request, label string) {
	if b, ok := r.Context().Value(lockoutKey{}).(*lockoutBinding); ok {
		b.lockout.Succeed(r.Context(), b.address, label)
	}
}

func extractKey(r *http.Request, cfg *guard.Config) string {
	key, err := cfg.KeyFunc(r)
	if err != nil {
		cfg.Logger.Errorf("Failed to extract key: %v", err)
		return ""
	}
	return key
}

func admit(w http.ResponseWriter, r *http.Request, cfg *guard.Config, d guard.Decision) *http.Request {
	if d.Degraded {
		return r
	}
	now := cfg.Now()
	guard.ApplyHeaders(w.Header(), d, now)
	return r.WithContext(guard.WithQuota(r.Context(), d.Quota(now)))
}
