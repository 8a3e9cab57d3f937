package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"streamwsm/internal/config"
	"streamwsm/internal/discovery"
	"streamwsm/internal/model"
	"streamwsm/internal/serviceapi"
)

type Options struct {
	Port            int
	WorkerInterval  time.Duration
	WorkerBatchSize int
	WorkerLogPeriod time.Duration
	ShutdownTimeout time.Duration
	Summarizer      Summarizer
	Version         string
}

// Runtime owns the HTTP server, the background worker, and the advisory
// lock that advertises this process to other agents of the same project.
type Runtime struct {
	opts        Options
	cfg         config.Config
	service     serviceapi.Core
	local       *serviceapi.LocalCore
	worker      *Worker
	disco       *discovery.Discovery
	startedAt   time.Time
	server      *http.Server
	lockWritten bool
	logger      *log.Logger
}

type HealthResponse struct {
	Status    string            `json:"status"`
	StartedAt time.Time         `json:"started_at"`
	Now       time.Time         `json:"now"`
	Worker    WorkerSnapshot    `json:"worker"`
	Outbox    model.OutboxStats `json:"outbox"`
	Bus       HealthBusStatus   `json:"bus"`
}

type HealthBusStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

func NewRuntime(cfg config.Config, options Options) (*Runtime, error) {
	options = normalizeOptions(cfg, options)
	logger := log.New(os.Stdout, "", log.LstdFlags)

	local, err := serviceapi.NewLocalCore(cfg, logger)
	if err != nil {
		return nil, err
	}
	runtime := &Runtime{
		opts:    options,
		cfg:     cfg,
		service: local,
		local:   local,
		worker: NewWorker(local, local.Store(), options.Summarizer, cfg.Project.Root,
			options.WorkerInterval, options.WorkerBatchSize, options.WorkerLogPeriod, logger),
		disco: discovery.New(cfg.Server.LockCacheRoot, cfg.Project.Root, cfg.Project.Name,
			cfg.Server.DefaultPort, cfg.Server.PortScanAttempts,
			time.Duration(cfg.Server.HealthTimeoutSec)*time.Second,
			options.Version, logger),
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
	mux := http.NewServeMux()
	runtime.registerRoutes(mux)
	runtime.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", options.Port),
		Handler: mux,
	}
	return runtime, nil
}

// Run serves until ctx is cancelled. The listener must be bound before the
// lock file is written: a process that loses the bind race must never have
// advertised itself, or its cleanup would delete the winner's lock.
func (r *Runtime) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	r.worker.Start(workerCtx)

	listener, err := net.Listen("tcp", r.server.Addr)
	if err != nil {
		r.stop(workerCancel)
		return fmt.Errorf("bind port %d: %w", r.opts.Port, err)
	}
	if err := r.disco.WriteLock(r.opts.Port); err != nil {
		_ = listener.Close()
		r.stop(workerCancel)
		return err
	}
	r.lockWritten = true
	r.logger.Printf("server: listening on port %d for project %s", r.opts.Port, r.cfg.Project.Name)

	errCh := make(chan error, 1)
	go func() {
		if err := r.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			r.stop(workerCancel)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.opts.ShutdownTimeout)
	defer cancel()
	shutdownErr := r.server.Shutdown(shutdownCtx)
	r.stop(workerCancel)
	return shutdownErr
}

func (r *Runtime) stop(workerCancel context.CancelFunc) {
	workerCancel()
	_ = r.worker.Wait(2 * time.Second)
	if r.lockWritten {
		if err := r.disco.RemoveLock(); err != nil {
			r.logger.Printf("server: remove lock: %v", err)
		}
		r.lockWritten = false
	}
	r.service.Shutdown()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, req *http.Request) {
	now := time.Now().UTC()
	busErr := r.service.BusHealth(req.Context())
	bus := HealthBusStatus{Healthy: busErr == nil}
	if busErr != nil {
		bus.Error = busErr.Error()
	}
	outboxStats, outboxErr := r.service.OutboxStats()
	if outboxErr != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  outboxErr.Error(),
		})
		return
	}

	response := HealthResponse{
		Status:    "ok",
		StartedAt: r.startedAt,
		Now:       now,
		Worker:    r.worker.Snapshot(),
		Outbox:    outboxStats,
		Bus:       bus,
	}
	statusCode := http.StatusOK
	if !bus.Healthy {
		response.Status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}

func normalizeOptions(cfg config.Config, options Options) Options {
	if options.Port <= 0 {
		options.Port = cfg.Server.DefaultPort
	}
	if options.WorkerInterval <= 0 {
		options.WorkerInterval = time.Second
	}
	if options.WorkerBatchSize <= 0 {
		options.WorkerBatchSize = 50
	}
	if options.WorkerLogPeriod <= 0 {
		options.WorkerLogPeriod = 15 * time.Second
	}
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = 5 * time.Second
	}
	if options.Version == "" {
		options.Version = "dev"
	}
	return options
}
