package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huelink/internal/binding"
	"github.com/dokzlo13/huelink/internal/classify"
	"github.com/dokzlo13/huelink/internal/config"
	"github.com/dokzlo13/huelink/internal/dispatch"
	"github.com/dokzlo13/huelink/internal/hue"
	"github.com/dokzlo13/huelink/internal/loop"
	"github.com/dokzlo13/huelink/internal/resources"
	"github.com/dokzlo13/huelink/internal/session"
	"github.com/dokzlo13/huelink/internal/translate"
)

const loopQueueSize = 256

// HueService wraps the bridge side: client, event loop, resource cache,
// session manager and the outbound translator.
type HueService struct {
	cfg *config.Config

	Client     *hue.Client
	Loop       *loop.Loop
	Cache      *resources.Cache
	Session    *session.Manager
	Translator *translate.Translator
}

// NewHueService creates the bridge components. Nothing connects until StartBackground.
func NewHueService(cfg *config.Config, table *binding.Table, recorder translate.Recorder) *HueService {
	client := hue.NewClient(cfg.Hue.Bridge, cfg.Hue.Token, cfg.Hue.Timeout.Duration())

	streamConfig := hue.EventStreamConfig{
		MinBackoff:    cfg.Hue.MinRetryBackoff.Duration(),
		MaxBackoff:    cfg.Hue.MaxRetryBackoff.Duration(),
		Multiplier:    cfg.Hue.RetryMultiplier,
		MaxReconnects: cfg.Hue.MaxReconnects,
	}
	dialer := hue.NewDialer(client, streamConfig, log.With().Str("component", "hue").Logger())

	eventLoop := loop.New(loopQueueSize, log.With().Str("component", "loop").Logger())
	cache := resources.NewCache()
	identity := cfg.Plugin.Identity

	manager := session.NewManager(
		dialer,
		eventLoop,
		cache,
		classify.New(cache, log.With().Str("component", "classify").Logger()),
		dispatch.New(table, cache, identity, log.With().Str("component", "dispatch").Logger()),
		log.With().Str("component", "session").Logger(),
	)

	translator := translate.NewTranslator(table, eventLoop, manager, recorder, translate.Config{
		Identity:  identity,
		Defaults:  translate.Defaults{TransitionTime: translate.TransitionFromSeconds(cfg.Plugin.TransitionSeconds())},
		RateLimit: cfg.Hue.RateLimitRPS,
	}, log.With().Str("component", "translate").Logger())

	return &HueService{
		cfg:        cfg,
		Client:     client,
		Loop:       eventLoop,
		Cache:      cache,
		Session:    manager,
		Translator: translator,
	}
}

// StartBackground runs the event loop and keeps a bridge session alive.
// onFatalError is called when the bridge rejects the credentials.
func (s *HueService) StartBackground(ctx context.Context, onFatalError func(error)) (done <-chan struct{}) {
	ch := make(chan struct{})

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		s.Loop.Run(ctx)
	}()

	go func() {
		defer close(ch)
		superviseSession(ctx, s.Session.Run, s.cfg.RestartBackoff.Duration(), onFatalError)
		<-loopDone
	}()

	return ch
}

// superviseSession runs sessions until ctx is cancelled. A session that ends
// on its own is started again after backoff unless the error is fatal.
func superviseSession(ctx context.Context, run func(context.Context) error, backoff time.Duration, onFatalError func(error)) {
	for {
		err := run(ctx)
		if ctx.Err() != nil {
			return
		}

		if errors.Is(err, session.ErrAuthentication) || errors.Is(err, hue.ErrMaxReconnectsExceeded) {
			if onFatalError != nil {
				onFatalError(err)
			}
			return
		}

		log.Warn().Err(err).Dur("backoff", backoff).Msg("Bridge session ended, restarting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// Close releases all resources.
func (s *HueService) Close() {
	if s.Loop != nil {
		s.Loop.Close()
	}
	if s.Client != nil {
		s.Client.Close()
	}
}
