// Package process holds the start-up and teardown every storefront binary
// shares: .env loading, config, the leveled logger and ordered shutdown.
package process

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/instance"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type Process struct {
	Kind   string
	Config *config.Config
	Logger *logger.Logger

	exit    func(code int)
	mu      sync.Mutex
	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// Start loads configuration for the binary named kind and exits when it is
// invalid.
func Start(kind string) *Process {
	boot := logger.New(logger.Options{ServiceName: kind})
	if err := godotenv.Load(); err != nil {
		boot.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		boot.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = kind

	return &Process{
		Kind:   kind,
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: kind,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
		}),
		exit: os.Exit,
	}
}

// Must exits when a dependency failed to come up, closing whatever was
// opened before it.
func (p *Process) Must(what string, err error) {
	if err == nil {
		return
	}
	p.Logger.Error(p.fields(context.Background()), "failed to start "+what, err)
	p.fail()
}

// OnClose registers fn for Close. Closers run last registered first.
func (p *Process) OnClose(name string, fn func() error) {
	p.mu.Lock()
	p.closers = append(p.closers, closer{name: name, fn: fn})
	p.mu.Unlock()
}

func (p *Process) Close() {
	p.mu.Lock()
	closers := p.closers
	p.closers = nil
	p.mu.Unlock()

	ctx := p.fields(context.Background())
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].fn(); err != nil {
			p.Logger.Error(p.Logger.WithField(ctx, "resource", closers[i].name), "error closing resource", err)
		}
	}
}

// Context is canceled on SIGINT or SIGTERM and carries the process log fields.
func (p *Process) Context() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return p.fields(ctx), stop
}

// Finish closes every resource and exits non-zero when err is a real
// failure. Cancellation counts as a clean stop.
func (p *Process) Finish(ctx context.Context, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		p.Logger.Error(ctx, p.Kind+" stopped unexpectedly", err)
		p.fail()
		return
	}
	p.Logger.Info(ctx, p.Kind+" shutting down gracefully")
	p.Close()
}

func (p *Process) fail() {
	p.Close()
	p.exit(1)
}

func (p *Process) fields(ctx context.Context) context.Context {
	env := ""
	if p.Config != nil {
		env = p.Config.App.Env
	}
	return p.Logger.WithFields(ctx, map[string]any{
		"env":         env,
		"serviceKind": p.Kind,
		"instanceId":  instance.ID(p.Kind),
	})
}
