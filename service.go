package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scenetrack/tracker/internal/config"
	"github.com/scenetrack/tracker/internal/handler"
	"github.com/scenetrack/tracker/internal/health"
	"github.com/scenetrack/tracker/internal/monitoring"
	"github.com/scenetrack/tracker/internal/mqtt"
)

const (
	// readinessPollInterval is how often the main loop reconciles the
	// readiness flag with the broker state.
	readinessPollInterval = 500 * time.Millisecond
	// disconnectDrainTimeout bounds the clean-disconnect handshake during
	// shutdown.
	disconnectDrainTimeout = 5 * time.Second
	// healthStopTimeout bounds the health server shutdown.
	healthStopTimeout = 2 * time.Second
)

// service owns the wired-together components for one tracker instance.
type service struct {
	cfg       *config.ServiceConfig
	schemaDir string
	state     *health.State
	healthSrv *health.Server
	client    *mqtt.PahoClient
	handler   *handler.MessageHandler
}

// newService loads configuration and constructs every component. All errors
// here are startup-fatal: the process reports them and exits before doing
// any work.
func newService(configPath, schemaDir, logLevel, healthcheckPort string) (*service, error) {
	cfg, err := config.Load(configPath, schemaDir+"/config.schema.json")
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := applyFlagOverrides(cfg, logLevel, healthcheckPort); err != nil {
		return nil, err
	}

	monitoring.Init(cfg.LogLevel, nil)

	state := health.NewState()
	healthSrv := health.NewServer(state, cfg.HealthcheckPort)

	client, err := mqtt.NewPahoClient(cfg.Broker, mqtt.DefaultMaxReconnectDelay)
	if err != nil {
		return nil, fmt.Errorf("build broker client: %w", err)
	}

	h, err := handler.New(client, cfg, schemaDir)
	if err != nil {
		return nil, fmt.Errorf("build message handler: %w", err)
	}

	return &service{
		cfg:       cfg,
		schemaDir: schemaDir,
		state:     state,
		healthSrv: healthSrv,
		client:    client,
		handler:   h,
	}, nil
}

// Run starts the service and blocks until SIGINT or SIGTERM, then tears the
// components down in reverse order.
func (s *service) Run() error {
	defer monitoring.Shutdown()

	monitoring.NewEntry().
		Component("service").
		Operation("start").
		Domain(monitoring.DomainContext{Scene: s.cfg.Scene.ID}).
		Str("broker", fmt.Sprintf("%s:%d", s.cfg.Broker.Host, s.cfg.Broker.Port)).
		Info("tracker starting")

	if err := s.healthSrv.Start(); err != nil {
		return err
	}

	// Connection failures after this point drive the reconnect loop, never
	// process exit.
	s.client.Connect()
	s.handler.Start()
	s.state.SetLive(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(readinessPollInterval)
	defer ticker.Stop()

	for running := true; running; {
		select {
		case sig := <-stop:
			monitoring.NewEntry().
				Component("service").
				Operation("shutdown").
				Str("signal", sig.String()).
				Info("shutdown signal received")
			running = false
		case <-ticker.C:
			s.state.SetReady(s.client.IsConnected() && s.client.IsSubscribed())
		}
	}

	s.shutdown()
	return nil
}

func (s *service) shutdown() {
	s.state.SetReady(false)

	s.handler.Stop()
	s.client.Disconnect(disconnectDrainTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), healthStopTimeout)
	defer cancel()
	if err := s.healthSrv.Stop(ctx); err != nil {
		monitoring.NewEntry().
			Component("service").
			Operation("shutdown").
			Err(err).
			Warn("health server did not stop cleanly")
	}
	s.state.SetLive(false)

	received, published, rejected := s.handler.Counters()
	monitoring.NewEntry().
		Component("service").
		Operation("shutdown").
		Int("received", int(received)).
		Int("published", int(published)).
		Int("rejected", int(rejected)).
		Info("tracker stopped")
}
