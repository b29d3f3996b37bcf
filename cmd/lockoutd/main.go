// Command lockoutd runs the lockout reference server and offers operator commands that work
// directly against the configured attempt store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"
	"github.com/jassus213/go-lockout/guard"
	"github.com/jassus213/go-lockout/internal/config"
	"github.com/jassus213/go-lockout/internal/logging"
	"github.com/jassus213/go-lockout/internal/server"
	"github.com/jassus213/go-lockout/ratelimiter"
	"github.com/jassus213/go-lockout/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	_ "time/tzdata"
)

// CLI is the command line of lockoutd. Everything else comes from LOCKOUT_* variables.
type CLI struct {
	EnvFile []string `name:"env-file" help:"Additional .env files to load (default: .env)." type:"path"`

	Serve   ServeCmd   `cmd:"" default:"1" help:"Start the HTTP server."`
	Blocked BlockedCmd `cmd:"" help:"List principals currently blocked under a policy."`
	Block   BlockCmd   `cmd:"" help:"Block a principal manually."`
	Unblock UnblockCmd `cmd:"" help:"Clear every record of a principal under a policy."`
	Purge   PurgeCmd   `cmd:"" help:"Remove records older than the retention period."`
}

// app holds what every command needs.
type app struct {
	cfg      *config.Config
	logger   ratelimiter.Logger
	store    ratelimiter.Store
	limiters *server.Limiters
	close    func()
}

// setup loads the configuration and opens the store. Only the server runs the background
// cleanup of the store.
func (c *CLI) setup(ctx context.Context, background bool) (*app, error) {
	cfg, err := config.Load(c.EnvFile...)
	if err != nil {
		return nil, err
	}

	logger, flush, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	cal, err := cfg.Calendar()
	if err != nil {
		flush()
		return nil, err
	}

	var cleanup time.Duration
	if background {
		cleanup = cfg.CleanupInterval
	}
	s, closeStore, err := openStore(ctx, cfg, cleanup, logger)
	if err != nil {
		flush()
		return nil, err
	}

	limiters, err := server.NewLimiters(s, cfg.Policies,
		ratelimiter.WithLogger(logger),
		ratelimiter.WithCalendar(cal),
	)
	if err != nil {
		closeStore()
		flush()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    s,
		limiters: limiters,
		close: func() {
			closeStore()
			flush()
		},
	}, nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Addr            string        `help:"Listen address (overrides LOCKOUT_HTTP_ADDR)."`
	ShutdownTimeout time.Duration `name:"shutdown-timeout" help:"Grace period for in-flight requests." default:"10s"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := cli.setup(ctx, true)
	if err != nil {
		return err
	}
	defer rt.close()

	if rt.cfg.Log.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := server.New(rt.limiters, server.Options{
		Logger:           rt.logger,
		Registry:         reg,
		PrincipalHeader:  rt.cfg.PrincipalHeader,
		AdminToken:       rt.cfg.AdminToken,
		AdminCORSOrigins: rt.cfg.AdminCORSOrigins,
	})

	addr := rt.cfg.HTTPAddr
	if c.Addr != "" {
		addr = c.Addr
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.logger.Infof("lockoutd listening on %s (store=%s, timezone=%s)", addr, rt.cfg.Store, rt.cfg.Timezone)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		rt.logger.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// BlockedCmd prints the blocked principals of a policy as JSON.
type BlockedCmd struct {
	Policy string `arg:"" help:"Policy name."`
}

func (c *BlockedCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := cli.setup(ctx, false)
	if err != nil {
		return err
	}
	defer rt.close()

	entries, err := rt.limiters.Admin(rt.logger).Blocked(ctx, c.Policy)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

// BlockCmd blocks a principal for a fixed duration.
type BlockCmd struct {
	Policy    string        `arg:"" help:"Policy name."`
	Principal string        `arg:"" help:"Address or user id."`
	Duration  time.Duration `help:"Block duration." default:"24h"`
	Label     string        `help:"Note stored with the block."`
}

func (c *BlockCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := cli.setup(ctx, false)
	if err != nil {
		return err
	}
	defer rt.close()

	req := guard.BlockRequest{Duration: c.Duration.String(), Label: c.Label}
	if err := rt.limiters.Admin(rt.logger).Block(ctx, c.Policy, c.Principal, req); err != nil {
		return err
	}
	fmt.Printf("blocked %s under %s for %s\n", c.Principal, c.Policy, c.Duration)
	return nil
}

// UnblockCmd clears a principal.
type UnblockCmd struct {
	Policy    string `arg:"" help:"Policy name."`
	Principal string `arg:"" help:"Address or user id."`
}

func (c *UnblockCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := cli.setup(ctx, false)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.limiters.Admin(rt.logger).Unblock(ctx, c.Policy, c.Principal); err != nil {
		return err
	}
	fmt.Printf("unblocked %s under %s\n", c.Principal, c.Policy)
	return nil
}

// PurgeCmd reaps expired records once.
type PurgeCmd struct{}

func (c *PurgeCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := cli.setup(ctx, false)
	if err != nil {
		return err
	}
	defer rt.close()

	n, err := rt.store.Purge(ctx, time.Now().Add(-store.Retention))
	if err != nil {
		return err
	}
	fmt.Printf("purged %d records\n", n)
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("lockoutd"),
		kong.Description("Failed-attempt lockout and daily quota service."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
