package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huelink/internal/config"
)

// App owns the services and decides when the process stops: on a signal,
// or when the bridge session fails in a way a restart cannot fix.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc

	mu    sync.Mutex
	fatal error
}

// New creates a new App instance with all services initialized but not started.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Start declares the configured items and brings the bridge link up.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.services.Start(a.ctx, a.fail); err != nil {
		return err
	}

	log.Info().
		Str("bridge", a.cfg.Hue.Bridge).
		Str("identity", a.cfg.Plugin.Identity).
		Int("items", len(a.services.Registry.All())).
		Int("bindings", a.services.Bindings.Len()).
		Bool("mqtt", a.services.MQTT != nil).
		Bool("api", a.services.API != nil).
		Msg("huelink started")
	return nil
}

// fail records the first fatal error and stops the app.
func (a *App) fail(err error) {
	a.mu.Lock()
	if a.fatal == nil {
		a.fatal = err
	}
	a.mu.Unlock()

	log.Error().Err(err).Msg("Bridge link cannot recover, shutting down")
	if a.cancel != nil {
		a.cancel()
	}
}

// Err returns the error that stopped the app, or nil after a clean shutdown.
func (a *App) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fatal
}

// Stop cancels the bridge session and releases all services.
func (a *App) Stop() error {
	a.logSession(log.Info()).Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}

	if a.services != nil {
		return a.services.Stop()
	}

	return nil
}

// logSession adds the session state and, while connected, the bridge identity.
func (a *App) logSession(ev *zerolog.Event) *zerolog.Event {
	if a.services == nil || a.services.Hue == nil {
		return ev
	}
	ev = ev.Stringer("session", a.services.Hue.Session.State())
	if info, ok := a.services.Hue.Session.Info(); ok {
		ev = ev.Str("bridge_id", info.BridgeID).Str("bridge_name", info.Name)
	}
	return ev
}

// Wait blocks until a signal arrives or the bridge link fails for good.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// ResetItems drops persisted item values. Must be called before Start.
func (a *App) ResetItems() error {
	if a.services != nil {
		return a.services.ResetItems()
	}
	return nil
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
