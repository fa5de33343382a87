package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-caption/internal/bus"
	"github.com/loqalabs/loqa-caption/internal/capability"
	"github.com/loqalabs/loqa-caption/internal/capture"
	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/eventstore"
	"github.com/loqalabs/loqa-caption/internal/natsserver"
	"github.com/loqalabs/loqa-caption/internal/pipeline"
	"github.com/loqalabs/loqa-caption/internal/relay"
	"github.com/loqalabs/loqa-caption/internal/session"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	store      *session.Store
	journal    *eventstore.Store
	busClient  *bus.Client
	embedded   *natsserver.EmbeddedServer
	registry   *capability.Registry
	relay      *relay.Relay
	metrics    http.Handler
	httpServer *http.Server

	addr  atomic.Value
	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Addr is the HTTP listen address once the server is up.
func (r *Runtime) Addr() string {
	if v, ok := r.addr.Load().(string); ok {
		return v
	}
	return ""
}

// Start brings every component up, serves until ctx is cancelled and then
// shuts down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.metrics = metricsHandler
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	r.journal, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer r.journal.Close()

	r.store = session.NewStore()
	r.store.OnChange(r.journal.Listener(context.Background()))
	if err := r.journal.AppendSession(ctx, r.store.SessionID()); err != nil {
		r.logger.Warn("failed to record session", slog.String("error", err.Error()))
	}

	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx); err != nil {
			r.stopBus()
			return err
		}
		defer r.stopBus()
	}

	src, err := capture.Open(r.cfg.Capture, r.busClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open capture source: %w", err)
	}
	defer src.Close()

	pipe, _, err := pipeline.Build(ctx, r.cfg, src, r.store, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	r.addr.Store(listener.Addr().String())
	r.httpServer = &http.Server{
		Handler:           r.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	var pipelineDone sync.WaitGroup
	pipelineDone.Add(1)
	go func() {
		defer pipelineDone.Done()
		if err := pipe.Run(ctx); err != nil {
			r.logger.Error("capture stopped", slog.String("error", err.Error()))
			return
		}
		r.logger.Info("pipeline finished")
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", r.Addr()), slog.String("session_id", r.store.SessionID()))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	pipelineDone.Wait()
	_ = src.Close()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	r.embedded = embedded
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	r.busClient, err = bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}

	r.relay, err = relay.New(r.busClient, r.store, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	r.store.OnChange(r.relay.Listener())

	r.registry, err = capability.NewRegistry(ctx, r.cfg.Node, capability.Describe(r.cfg), r.busClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start capability registry: %w", err)
	}
	return nil
}

func (r *Runtime) stopBus() {
	if r.registry != nil {
		r.registry.Close()
	}
	if r.relay != nil {
		r.relay.Close()
	}
	r.busClient.Close()
	r.embedded.Shutdown()
}
