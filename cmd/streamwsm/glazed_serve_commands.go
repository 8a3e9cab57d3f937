package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"streamwsm/internal/server"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
)

type serveGlazedCommand struct {
	*cmds.CommandDescription
}

type serveSettings struct {
	ConfigPath      string `glazed.parameter:"config"`
	Port            int    `glazed.parameter:"port"`
	WorkerInterval  string `glazed.parameter:"worker-interval"`
	WorkerBatchSize int    `glazed.parameter:"worker-batch-size"`
	WorkerLogPeriod string `glazed.parameter:"worker-log-period"`
	ShutdownTimeout string `glazed.parameter:"shutdown-timeout"`
}

func newServeGlazedCommand() (cmds.Command, error) {
	return &serveGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"serve",
			cmds.WithShort("Run the stream API server"),
			cmds.WithLong("Start the HTTP server, write the project lock file, and run the background worker loop."),
			cmds.WithFlags(
				configFlag(),
				parameters.NewParameterDefinition(
					"port",
					parameters.ParameterTypeInteger,
					parameters.WithHelp("Port to listen on (0 scans for a free one)"),
					parameters.WithDefault(0),
				),
				parameters.NewParameterDefinition(
					"worker-interval",
					parameters.ParameterTypeString,
					parameters.WithHelp("Worker loop interval"),
					parameters.WithDefault("1s"),
				),
				parameters.NewParameterDefinition(
					"worker-batch-size",
					parameters.ParameterTypeInteger,
					parameters.WithHelp("Worker ProcessOnce batch size"),
					parameters.WithDefault(50),
				),
				parameters.NewParameterDefinition(
					"worker-log-period",
					parameters.ParameterTypeString,
					parameters.WithHelp("Worker summary log period"),
					parameters.WithDefault("15s"),
				),
				parameters.NewParameterDefinition(
					"shutdown-timeout",
					parameters.ParameterTypeString,
					parameters.WithHelp("Graceful shutdown timeout"),
					parameters.WithDefault("5s"),
				),
			),
		),
	}, nil
}

func parseDurationSetting(flagName string, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid --%s duration %q: %w", flagName, value, err)
	}
	return duration, nil
}

func (c *serveGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &serveSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}

	workerInterval, err := parseDurationSetting("worker-interval", settings.WorkerInterval)
	if err != nil {
		return err
	}
	workerLogPeriod, err := parseDurationSetting("worker-log-period", settings.WorkerLogPeriod)
	if err != nil {
		return err
	}
	shutdownTimeout, err := parseDurationSetting("shutdown-timeout", settings.ShutdownTimeout)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(settings.ConfigPath)
	if err != nil {
		return err
	}

	port := settings.Port
	disco := newDiscovery(cfg, log.New(os.Stderr, "", log.LstdFlags))
	result, err := disco.Discover(ctx)
	if err != nil {
		return err
	}
	if result.Existing {
		return fmt.Errorf("a server for project %s is already running on port %d (pid %d)",
			cfg.Project.Name, result.Lock.Port, result.Lock.PID)
	}
	if port <= 0 {
		port = result.Port
	}

	runtime, err := server.NewRuntime(cfg, server.Options{
		Port:            port,
		WorkerInterval:  workerInterval,
		WorkerBatchSize: settings.WorkerBatchSize,
		WorkerLogPeriod: workerLogPeriod,
		ShutdownTimeout: shutdownTimeout,
		Version:         version,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	fmt.Printf("streamwsm serve listening on port %d (project %s)\n", port, cfg.Project.Name)
	return runtime.Run(runCtx)
}

var _ cmds.BareCommand = &serveGlazedCommand{}
