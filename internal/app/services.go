package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huelink/internal/api"
	"github.com/dokzlo13/huelink/internal/binding"
	"github.com/dokzlo13/huelink/internal/config"
	"github.com/dokzlo13/huelink/internal/db"
	"github.com/dokzlo13/huelink/internal/item"
	"github.com/dokzlo13/huelink/internal/ledger"
	"github.com/dokzlo13/huelink/internal/mqtt"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger

	// Items and their bridge bindings
	ItemStore *item.SQLiteStore
	Registry  *item.Registry
	Bindings  *binding.Table

	// High-level services
	Hue  *HueService
	API  *api.Server
	MQTT *mqtt.Client

	hueDone <-chan struct{}
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)
	s.ItemStore = item.NewSQLiteStore(database.DB)
	s.Registry = item.NewRegistry(s.ItemStore, log.With().Str("component", "items").Logger())
	s.Bindings = binding.NewTable()

	s.Hue = NewHueService(cfg, s.Bindings, s.Ledger)

	if cfg.API.Enabled {
		s.API = api.New(api.Deps{
			Addr:            cfg.API.Addr(),
			ShutdownTimeout: cfg.ShutdownTimeout.Duration(),
			Status:          s.Hue.Session,
			Registry:        s.Registry,
			Bindings:        s.Bindings,
			Cache:           s.Hue.Cache,
			Loop:            s.Hue.Loop,
			Commands:        s.Ledger,
			Logger:          log.With().Str("component", "api").Logger(),
		})
	}

	return s, nil
}

// Start declares items, wires the write listeners and starts all background services.
// The onFatalError callback is called when a fatal error occurs (e.g., rejected credentials).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	if err := declareItems(s.cfg.Items, s.Registry, s.Bindings); err != nil {
		return err
	}

	// Outbound path first so bridge commands are queued before any exposure runs
	s.Registry.OnWrite(s.Hue.Translator.OnItemWrite)

	if s.cfg.MQTT.Enabled {
		if err := s.startMQTT(); err != nil {
			return err
		}
	}

	s.hueDone = s.Hue.StartBackground(ctx, onFatalError)
	go s.runLedgerCleanup(ctx)

	if s.API != nil {
		go func() {
			if err := s.API.Run(ctx); err != nil {
				log.Error().Err(err).Msg("API server error")
			}
		}()
	}

	return nil
}

func (s *Services) startMQTT() error {
	prefix := s.cfg.MQTT.TopicPrefix
	client, err := mqtt.Connect(mqtt.Options{
		Broker:      s.cfg.MQTT.Broker,
		ClientID:    s.cfg.MQTT.ClientID,
		Username:    s.cfg.MQTT.Username,
		Password:    s.cfg.MQTT.Password,
		StatusTopic: prefix + "/status",
		QoS:         s.cfg.MQTT.QoS,
	}, log.With().Str("component", "mqtt").Logger())
	if err != nil {
		return err
	}
	s.MQTT = client

	exposer := mqtt.NewExposer(client, s.Registry, prefix, s.cfg.MQTT.QoS, s.cfg.MQTT.Retain, log.With().Str("component", "mqtt").Logger())
	s.Registry.OnWrite(exposer.OnItemWrite)
	return exposer.Start()
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *Services) runLedgerCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}

// ResetItems clears persisted item values.
func (s *Services) ResetItems() error {
	return s.ItemStore.Clear()
}

// Stop waits for the bridge session to wind down, then releases all resources.
func (s *Services) Stop() error {
	if s.hueDone != nil {
		select {
		case <-s.hueDone:
		case <-time.After(s.cfg.ShutdownTimeout.Duration()):
			log.Warn().Msg("Bridge session did not stop in time")
		}
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.Hue != nil {
		s.Hue.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
