// Package server assembles the reference HTTP service: the limiter set, the guards bound to
// sample routes, the admin endpoints and the operational endpoints.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jassus213/go-lockout/guard"
	ginmw "github.com/jassus213/go-lockout/middleware/gin"
	"github.com/jassus213/go-lockout/middleware/nethttp"
	"github.com/jassus213/go-lockout/ratelimiter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HeaderRequestID carries the request id, taken from the client or generated.
const HeaderRequestID = "X-Request-ID"

// Options configures the reference server.
type Options struct {
	Logger ratelimiter.Logger
	// Registry receives the guard metrics and backs /metrics. A fresh registry is used when nil.
	Registry *prometheus.Registry
	// PrincipalHeader names the header carrying the authenticated user id.
	PrincipalHeader string
	// AdminToken protects /admin. Empty disables the check.
	AdminToken string
	// AdminCORSOrigins enables CORS on /admin for browser-based consoles.
	AdminCORSOrigins []string
	Users            *Directory
	Now              func() time.Time
}

// Server is the reference HTTP service.
type Server struct {
	router   *gin.Engine
	limiters *Limiters
	users    *Directory
	tickets  *ticketBook
	logger   ratelimiter.Logger
	now      func() time.Time
}

// New builds the router over the given limiters.
func New(limiters *Limiters, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = ratelimiter.NopLogger()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.PrincipalHeader == "" {
		opts.PrincipalHeader = "X-User-ID"
	}
	if opts.Users == nil {
		opts.Users = NewDirectory()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		limiters: limiters,
		users:    opts.Users,
		tickets:  newTicketBook(),
		logger:   opts.Logger,
		now:      opts.Now,
	}
	s.router = s.routes(opts)
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Users returns the account directory behind the auth routes.
func (s *Server) Users() *Directory {
	return s.users
}

func (s *Server) routes(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID())

	metrics := guard.NewMetrics(opts.Registry)
	common := []guard.Option{
		guard.WithLogger(s.logger),
		guard.WithMetrics(metrics),
		guard.WithClock(s.now),
		guard.WithErrorHandler(s.logRejection),
	}
	byUser := append([]guard.Option{guard.WithKeyFunc(guard.HeaderKey(opts.PrincipalHeader))}, common...)
	byAddress := append([]guard.Option{guard.WithKeyFunc(guard.AddressKey)}, common...)

	quota := func(policy string, keyed []guard.Option) gin.HandlerFunc {
		return ginmw.Guard(guard.New(s.limiters.Principal(policy), keyed...))
	}

	auth := r.Group("/auth", ginmw.Lockout(guard.NewLockout(s.limiters.Address(ratelimiter.PolicyAuth), byAddress...)))
	auth.POST("/register", s.register)
	auth.POST("/login", s.login(false))
	auth.POST("/admin/login", s.login(true))

	r.POST("/contact", quota(ratelimiter.PolicyContactForm, byAddress), s.contact)
	r.POST("/comments", quota(ratelimiter.PolicyComment, byUser), s.comment)
	r.POST("/reviews", quota(ratelimiter.PolicyReview, byUser), s.review)
	r.POST("/copyright-disputes", quota(ratelimiter.PolicyCopyrightDispute, byUser), s.dispute)
	r.GET("/tickets/:id", quota(ratelimiter.PolicyTicketLookup, byUser), s.ticket)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))

	admin := s.limiters.Admin(s.logger)
	if len(opts.AdminCORSOrigins) > 0 {
		// CORS is only available on the chi admin handler.
		h := http.StripPrefix("/admin", nethttp.AdminHandler(admin,
			nethttp.WithAdminToken(opts.AdminToken),
			nethttp.WithAllowedOrigins(opts.AdminCORSOrigins...),
		))
		r.Any("/admin/*path", gin.WrapH(h))
	} else {
		ginmw.RegisterAdmin(r.Group("/admin"), admin, opts.AdminToken)
	}
	return r
}

// requestID makes sure every request and response carries an X-Request-ID.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
			c.Request.Header.Set(HeaderRequestID, id)
		}
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func (s *Server) logRejection(w http.ResponseWriter, r *http.Request, err error, d guard.Decision) {
	s.logger.Infof("request %s rejected: %s %s policy=%s verdict=%s",
		r.Header.Get(HeaderRequestID), r.Method, r.URL.Path, d.Policy, d.Verdict)
	guard.WriteRejection(w, r, err, d)
}
