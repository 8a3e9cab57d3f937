package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"streamwsm/internal/config"
	"streamwsm/internal/reconcile"
	"streamwsm/internal/serviceapi"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
)

type initConfigGlazedCommand struct {
	*cmds.CommandDescription
}

type initConfigSettings struct {
	Path string `glazed.parameter:"path"`
}

func newInitConfigGlazedCommand() (cmds.Command, error) {
	return &initConfigGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"init-config",
			cmds.WithShort("Write a default config file"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"path",
					parameters.ParameterTypeString,
					parameters.WithHelp("Path to config file"),
					parameters.WithDefault(config.DefaultConfigPath),
				),
			),
		),
	}, nil
}

func (c *initConfigGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &initConfigSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	if err := config.SaveDefault(settings.Path); err != nil {
		return err
	}
	fmt.Printf("Wrote default config to %s\n", settings.Path)
	return nil
}

var _ cmds.BareCommand = &initConfigGlazedCommand{}

type syncGlazedCommand struct {
	*cmds.CommandDescription
}

type syncSettings struct {
	ConfigPath string `glazed.parameter:"config"`
}

func newSyncGlazedCommand() (cmds.Command, error) {
	return &syncGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"sync",
			cmds.WithShort("Scan git history and attribute commits to streams"),
			cmds.WithFlags(configFlag()),
		),
	}, nil
}

func (c *syncGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &syncSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}

	cfg, err := loadConfig(settings.ConfigPath)
	if err != nil {
		return err
	}
	core, err := newCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer core.Shutdown()

	result, err := core.Scan(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Scanned %d streams: %d commits added, %d already present.\n",
		result.StreamsScanned, result.CommitsAdded, result.AlreadyPresent)
	for _, message := range result.Errors {
		fmt.Printf("  warning: %s\n", message)
	}
	return nil
}

var _ cmds.BareCommand = &syncGlazedCommand{}

type reconcileGlazedCommand struct {
	*cmds.CommandDescription
}

type reconcileSettings struct {
	ConfigPath   string `glazed.parameter:"config"`
	DryRun       bool   `glazed.parameter:"dry-run"`
	ArchiveStale bool   `glazed.parameter:"archive-stale"`
}

func newReconcileGlazedCommand() (cmds.Command, error) {
	return &reconcileGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"reconcile",
			cmds.WithShort("Reconcile the ledger against git worktrees and branches"),
			cmds.WithFlags(
				configFlag(),
				parameters.NewParameterDefinition(
					"dry-run",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Report what would change without touching the ledger"),
					parameters.WithDefault(false),
				),
				parameters.NewParameterDefinition(
					"archive-stale",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Archive streams whose worktree is gone"),
					parameters.WithDefault(false),
				),
			),
		),
	}, nil
}

func (c *reconcileGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &reconcileSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}

	cfg, err := loadConfig(settings.ConfigPath)
	if err != nil {
		return err
	}
	core, err := newCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer core.Shutdown()

	report, err := core.Reconcile(ctx, serviceapi.ReconcileOptions{
		DryRun:           settings.DryRun,
		AutoArchiveStale: settings.ArchiveStale,
	})
	if err != nil {
		return err
	}

	if report.DryRun {
		fmt.Println("Reconcile (dry-run):")
	} else {
		fmt.Println("Reconcile:")
	}
	fmt.Printf("  streams=%d worktrees=%d\n", report.TotalStreams, report.TotalWorktrees)
	printClassified("active", report.Active)
	printClassified("completed", report.Completed)
	printClassified("stale", report.Stale)
	if len(report.Orphans) > 0 {
		fmt.Println("  orphan worktrees:")
		for _, worktree := range report.Orphans {
			fmt.Printf("    - %s (branch=%s)\n", worktree.Path, emptyValue(worktree.Branch, "-"))
		}
	}
	for _, message := range report.Errors {
		fmt.Printf("  warning: %s\n", message)
	}
	return nil
}

var _ cmds.BareCommand = &reconcileGlazedCommand{}

func printClassified(label string, results []reconcile.StreamResult) {
	if len(results) == 0 {
		return
	}
	fmt.Printf("  %s:\n", label)
	for _, result := range results {
		line := result.StreamID
		if result.Branch != "" {
			line += " (" + result.Branch + ")"
		}
		if result.Reason != "" {
			line += ": " + result.Reason
		}
		if result.Mutated {
			line += " [updated]"
		}
		fmt.Printf("    - %s\n", line)
	}
}

type archiveGlazedCommand struct {
	*cmds.CommandDescription
}

type archiveSettings struct {
	ConfigPath       string   `glazed.parameter:"config"`
	IDs              []string `glazed.parameter:"id"`
	Summary          string   `glazed.parameter:"summary"`
	DeleteWorktree   bool     `glazed.parameter:"delete-worktree"`
	CleanupPlanFiles bool     `glazed.parameter:"cleanup-plans"`
}

func newArchiveGlazedCommand() (cmds.Command, error) {
	return &archiveGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"archive",
			cmds.WithShort("Archive completed streams"),
			cmds.WithLong("Write an archive report, enqueue a summary job, and remove the stream from the ledger."),
			cmds.WithFlags(
				configFlag(),
				parameters.NewParameterDefinition(
					"id",
					parameters.ParameterTypeStringList,
					parameters.WithHelp("Stream identifier (repeatable, or comma-separated)"),
					parameters.WithDefault([]string{}),
				),
				parameters.NewParameterDefinition(
					"summary",
					parameters.ParameterTypeString,
					parameters.WithHelp("Author summary to include in the archive report"),
					parameters.WithDefault(""),
				),
				parameters.NewParameterDefinition(
					"delete-worktree",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Remove the stream's worktree and branch"),
					parameters.WithDefault(false),
				),
				parameters.NewParameterDefinition(
					"cleanup-plans",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Remove plan files referencing the stream id"),
					parameters.WithDefault(false),
				),
			),
		),
	}, nil
}

func (c *archiveGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &archiveSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	ids := normalizeInputTokens(settings.IDs)
	if len(ids) == 0 {
		return fmt.Errorf("at least one --id is required")
	}

	cfg, err := loadConfig(settings.ConfigPath)
	if err != nil {
		return err
	}
	core, err := newCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer core.Shutdown()

	request := serviceapi.RetireRequest{
		Summary:          settings.Summary,
		DeleteWorktree:   settings.DeleteWorktree,
		CleanupPlanFiles: settings.CleanupPlanFiles,
	}

	if len(ids) == 1 {
		result, err := core.ArchiveStream(ctx, ids[0], request)
		if err != nil {
			return err
		}
		printRetireResult(result)
		return nil
	}

	results := core.ArchiveBulk(ctx, ids, request)
	failed := 0
	for _, entry := range results {
		if entry.Err != "" {
			failed++
			fmt.Printf("%s: error: %s\n", entry.StreamID, entry.Err)
			continue
		}
		printRetireResult(entry.Result)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d streams failed to archive", failed, len(results))
	}
	return nil
}

func printRetireResult(result serviceapi.RetireResult) {
	status := "archived"
	if !result.Success {
		status = "archived with errors"
	}
	fmt.Printf("%s: %s\n", result.StreamID, status)
	if result.ArchivePath != "" {
		fmt.Printf("  report: %s (committed=%t)\n", result.ArchivePath, result.ArchiveCommitted)
	}
	if result.SummaryJobID != "" {
		fmt.Printf("  summary job: %s\n", result.SummaryJobID)
	}
	if result.WorktreeDeleted {
		fmt.Println("  worktree removed")
	}
	if result.PlanFilesRemoved {
		fmt.Println("  plan files removed")
	}
	for _, message := range result.Errors {
		fmt.Printf("  error: %s\n", message)
	}
}

var _ cmds.BareCommand = &archiveGlazedCommand{}

type statsGlazedCommand struct {
	*cmds.CommandDescription
}

type statsSettings struct {
	ConfigPath string `glazed.parameter:"config"`
}

func newStatsGlazedCommand() (cmds.Command, error) {
	return &statsGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"stats",
			cmds.WithShort("Show aggregate stream statistics"),
			cmds.WithFlags(configFlag()),
		),
	}, nil
}

func (c *statsGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &statsSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}

	cfg, err := loadConfig(settings.ConfigPath)
	if err != nil {
		return err
	}
	core, err := newCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer core.Shutdown()

	stats, err := core.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Streams:          %d\n", stats.TotalStreams)
	fmt.Printf("  active:         %d\n", stats.Active)
	fmt.Printf("  blocked:        %d\n", stats.Blocked)
	fmt.Printf("  paused:         %d\n", stats.Paused)
	fmt.Printf("Completed today:  %d\n", stats.CompletedToday)
	fmt.Printf("Commits:          %d (%d today)\n", stats.TotalCommits, stats.CommitsToday)
	return nil
}

var _ cmds.BareCommand = &statsGlazedCommand{}

type discoverGlazedCommand struct {
	*cmds.CommandDescription
}

type discoverSettings struct {
	ConfigPath string `glazed.parameter:"config"`
}

func newDiscoverGlazedCommand() (cmds.Command, error) {
	return &discoverGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"discover",
			cmds.WithShort("Show whether a server is running for this project"),
			cmds.WithFlags(configFlag()),
		),
	}, nil
}

func (c *discoverGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &discoverSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}

	cfg, err := loadConfig(settings.ConfigPath)
	if err != nil {
		return err
	}
	disco := newDiscovery(cfg, log.New(os.Stderr, "", log.LstdFlags))
	result, err := disco.Discover(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Lock file: %s\n", disco.LockPath())
	if result.Existing {
		fmt.Printf("Server running: pid=%d port=%d started=%s version=%s\n",
			result.Lock.PID, result.Lock.Port,
			result.Lock.StartedAt.Format("2006-01-02 15:04:05"),
			emptyValue(result.Lock.ProcessVersion, "unknown"))
		return nil
	}
	fmt.Printf("No server running; next free port is %d.\n", result.Port)
	return nil
}

var _ cmds.BareCommand = &discoverGlazedCommand{}
