package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rmacdonaldsmith/pumprelay-go/internal/bluez"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/config"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/httpapi"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/metrics"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/pumpsim"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/relay"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/session"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/transport"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/worker"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/peripheral"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// app is the wired relay: transport adapter, command worker, relay service and
// HTTP API.
type app struct {
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	adapter *transport.Adapter
	hub     *httpapi.StreamHub
	worker  *worker.Worker
	relay   *relay.Service
	server  *httpapi.Server

	// listener replaces ListenAddress when set
	listener net.Listener
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{config: cfg, logger: logger}
	if *cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	protocols, err := protocolFactory(cfg, logger)
	if err != nil {
		return nil, err
	}

	a.hub = httpapi.NewStreamHub(cfg.HTTP.StreamBuffer, logger.Named("stream"))
	push := transport.NewHTTPPushLink(
		cfg.Transport.ClientID,
		cfg.Transport.RequestTimeout,
		transport.NewStaticDiscovery(cfg.Transport.Nodes),
		logger.Named("push"))

	a.adapter, err = transport.NewAdapter(transport.Config{
		NodeID:         cfg.Node.ID,
		SendQueueSize:  cfg.Transport.SendQueueSize,
		RequestTimeout: cfg.Transport.RequestTimeout,
		Metrics:        a.metrics,
	}, logger.Named("transport"), push, a.hub)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	sessionConfig := session.Config{
		ConnectBackoff: cfg.Pump.ConnectBackoff,
		Options:        peripheral.DefaultOptions(),
		Metrics:        a.metrics,
	}
	sessions := func(sink peripheral.EventSink) (peripheral.Session, error) {
		s, err := session.New(sessionConfig, protocols, sink, logger.Named("session"))
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	a.worker, err = worker.New(worker.Config{
		MaxPendingRequests: cfg.Pump.MaxPendingRequests,
		Metrics:            a.metrics,
	}, sessions, a.adapter, logger.Named("worker"))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}

	relayConfig := relay.NewConfig(cfg.Node.ID)
	relayConfig.InitializeOnStart = *cfg.Pump.InitializeOnStart
	activator := relay.NewCommandActivator(cfg.Pump.ActivityCommand, logger.Named("activity"))
	a.relay, err = relay.NewService(relayConfig, a.worker, activator, a.adapter, logger.Named("relay"), a.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay: %w", err)
	}

	var metricsHandler http.Handler
	if a.metrics != nil {
		metricsHandler = a.metrics.Handler()
	}
	a.server, err = httpapi.NewServer(cfg.HTTPServerConfig(), a.relay, a.hub, metricsHandler, logger.Named("httpapi"))
	if err != nil {
		return nil, fmt.Errorf("failed to create http api: %w", err)
	}
	return a, nil
}

// protocolFactory selects the pump backend.
func protocolFactory(cfg *config.Config, logger *zap.Logger) (peripheral.ProtocolFactory, error) {
	switch cfg.Pump.Backend {
	case config.BackendSim:
		sim := pumpsim.Config{
			DeviceName:   cfg.Pump.Sim.DeviceName,
			Model:        cfg.Pump.Sim.Model,
			DeniedScans:  cfg.Pump.Sim.DeniedScans,
			ConnectDelay: cfg.Pump.Sim.ConnectDelay,
		}
		return pumpsim.NewFactory(sim, logger.Named("pumpsim"), nil), nil
	case config.BackendBlueZ:
		bz, err := cfg.BlueZ()
		if err != nil {
			return nil, err
		}
		return bluez.NewFactory(bz, logger.Named("bluez")), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Pump.Backend)
	}
}

// Run starts the relay and blocks until ctx is cancelled or a component fails.
func (a *app) Run(ctx context.Context) error {
	if err := a.relay.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.adapter.Run(gctx) })
	g.Go(func() error { return a.worker.Run(gctx) })
	g.Go(a.serve)

	<-gctx.Done()
	a.logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return multierr.Combine(
		a.server.Stop(stopCtx),
		g.Wait(),
	)
}

func (a *app) serve() error {
	if a.listener != nil {
		return a.server.Serve(a.listener)
	}
	return a.server.Start()
}
