package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/heatd/internal/api"
	"github.com/dokzlo13/heatd/internal/compensation"
	"github.com/dokzlo13/heatd/internal/config"
	"github.com/dokzlo13/heatd/internal/db"
	"github.com/dokzlo13/heatd/internal/eventbus"
	"github.com/dokzlo13/heatd/internal/export"
	"github.com/dokzlo13/heatd/internal/ledger"
	"github.com/dokzlo13/heatd/internal/metrics"
	"github.com/dokzlo13/heatd/internal/mqtt"
	"github.com/dokzlo13/heatd/internal/script"
	"github.com/dokzlo13/heatd/internal/storage"
	"github.com/dokzlo13/heatd/internal/writer"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Store  *storage.CompensationStore

	// Transport and plumbing
	Bus      *eventbus.Bus
	MQTT     *mqtt.Service
	Writer   *writer.Writer
	Metrics  *metrics.Metrics
	Exporter *export.Exporter
	Hook     *script.Hook

	// Control plane
	Manager *compensation.Manager
	API     *api.Server
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

	// Initialize ledger and state store
	s.Ledger = ledger.New(database.DB)
	s.Store = storage.NewCompensationStore(storage.NewStore(database.DB))

	// Initialize event bus and MQTT transport
	s.Bus = eventbus.New()
	s.MQTT = mqtt.New(cfg.MQTT, s.Bus)

	// Rate-limited write path shared by all rooms
	s.Writer = writer.New(s.MQTT, cfg.Writer.RateLimitRPS)

	s.Metrics = metrics.New()

	// Optional Kafka event export
	if cfg.Export.Enabled() {
		s.Exporter = export.New(cfg.Export.Brokers, cfg.Export.Topic)
		log.Info().Strs("brokers", cfg.Export.Brokers).Str("topic", cfg.Export.Topic).Msg("Event export enabled")
	}

	// Optional Lua apply hook
	var hook compensation.ApplyHook
	if cfg.Script != "" {
		s.Hook, err = script.Load(cfg.Script)
		if err != nil {
			s.Close()
			return nil, err
		}
		hook = s.Hook.OnApply
	}

	journal := newJournal(s.Ledger, s.Exporter)

	// One coordinator per configured room
	s.Manager = compensation.NewManager()
	for i := range cfg.Rooms {
		roomCfg := roomConfig(&cfg.Rooms[i], cfg.TickInterval.Duration())
		deps := compensation.Deps{
			Sensors:      s.MQTT,
			Actuator:     s.Writer,
			Journal:      journal,
			Observer:     s.Metrics,
			Store:        s.Store,
			Hook:         hook,
			WriteTimeout: cfg.Writer.WriteTimeout.Duration(),
		}
		s.Manager.Add(compensation.NewCoordinator(roomCfg, deps))
	}

	// API server
	if cfg.API.Enabled {
		s.API = api.New(cfg.API.Host, cfg.API.Port, s.Manager, s.Ledger, s.Metrics.Handler())
	}

	return s, nil
}

// roomConfig maps the YAML room settings to the control loop's config.
func roomConfig(r *config.RoomConfig, tick time.Duration) compensation.RoomConfig {
	return compensation.RoomConfig{
		Name:               r.Name,
		Tolerance:          r.Tolerance,
		Backoff:            r.Backoff.Duration(),
		BatterySaver:       r.BatterySaverEnabled(),
		WindowMode:         compensation.ParseWindowMode(r.WindowMode),
		DropThreshold:      r.DropThreshold,
		WindowOverride:     r.WindowOverride,
		WindowOpenSetpoint: r.WindowOpenSetpoint,
		PreheatEnabled:     r.Preheat,
		BufferFraction:     r.BufferFraction,
		MinPreheat:         r.MinPreheat.Duration(),
		MaxPreheat:         r.MaxPreheat.Duration(),
		SetpointMin:        r.SetpointMin,
		SetpointMax:        r.SetpointMax,
		TickInterval:       tick,
	}
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Connect to the broker before starting control loops so the first
	// evaluation has a chance to see retained readings
	if err := s.MQTT.Connect(); err != nil {
		return err
	}

	// Route sensor events to their room coordinators
	notify := func(ev eventbus.Event) {
		s.Manager.Notify(ev.Room, compensation.Reading{})
	}
	s.Bus.Subscribe(eventbus.EventTypeSensorReading, notify)
	s.Bus.Subscribe(eventbus.EventTypeWindowContact, notify)
	s.Bus.Subscribe(eventbus.EventTypeHVACActivity, notify)
	s.Bus.Subscribe(eventbus.EventTypeActuatorTarget, notify)

	// Room control loops
	go func() {
		if err := s.Manager.Run(ctx); err != nil {
			onFatalError(err)
		}
	}()

	// Ledger retention cleanup
	go s.ledgerCleanupLoop(ctx)

	// API server
	if s.API != nil {
		go func() {
			if err := s.API.Start(); err != nil {
				onFatalError(err)
			}
		}()
	}

	return nil
}

// ledgerCleanupLoop periodically enforces the retention policy.
func (s *Services) ledgerCleanupLoop(ctx context.Context) {
	interval := s.cfg.Ledger.CleanupInterval.Duration()
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Warn().Err(err).Msg("Ledger cleanup failed")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("Ledger cleanup completed")
			}
		}
	}
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	defer cancel()

	if s.API != nil {
		if err := s.API.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("API server shutdown failed")
		}
	}
	if s.Bus != nil {
		s.Bus.Close(shutdownCtx)
	}

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Exporter != nil {
		if err := s.Exporter.Close(); err != nil {
			log.Warn().Err(err).Msg("Exporter close failed")
		}
	}
	if s.Hook != nil {
		s.Hook.Close()
	}
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
