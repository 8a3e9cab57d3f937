package main

import (
	"context"
	"fmt"
	"strings"

	"streamwsm/internal/model"

	"github.com/dustin/go-humanize"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
)

func configFlag() *parameters.ParameterDefinition {
	return parameters.NewParameterDefinition(
		"config",
		parameters.ParameterTypeString,
		parameters.WithHelp("Path to config file (defaults to .streamwsm/config.json)"),
		parameters.WithDefault(""),
	)
}

func streamIDFlag() *parameters.ParameterDefinition {
	return parameters.NewParameterDefinition(
		"id",
		parameters.ParameterTypeString,
		parameters.WithHelp("Stream identifier"),
		parameters.WithDefault(""),
	)
}

func requireStreamID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("--id is required")
	}
	return id, nil
}

type createGlazedCommand struct {
	*cmds.CommandDescription
}

type createSettings struct {
	ConfigPath   string   `glazed.parameter:"config"`
	ID           string   `glazed.parameter:"id"`
	StreamNumber string   `glazed.parameter:"stream-number"`
	Title        string   `glazed.parameter:"title"`
	Category     string   `glazed.parameter:"category"`
	Priority     string   `glazed.parameter:"priority"`
	Branch       string   `glazed.parameter:"branch"`
	WorktreePath string   `glazed.parameter:"worktree"`
	Phases       []string `glazed.parameter:"phase"`
}

func newCreateGlazedCommand() (cmds.Command, error) {
	return &createGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"create",
			cmds.WithShort("Register a new development stream"),
			cmds.WithFlags(
				configFlag(),
				streamIDFlag(),
				parameters.NewParameterDefinition(
					"stream-number",
					parameters.ParameterTypeString,
					parameters.WithHelp("Human-facing stream number, e.g. STREAM-042"),
					parameters.WithDefault(""),
				),
				parameters.NewParameterDefinition(
					"title",
					parameters.ParameterTypeString,
					parameters.WithHelp("Stream title [required]"),
					parameters.WithDefault(""),
				),
				parameters.NewParameterDefinition(
					"category",
					parameters.ParameterTypeString,
					parameters.WithHelp("Category: frontend|backend|infrastructure|testing|documentation|refactoring"),
					parameters.WithDefault(""),
				),
				parameters.NewParameterDefinition(
					"priority",
					parameters.ParameterTypeString,
					parameters.WithHelp("Priority: low|medium|high|critical"),
					parameters.WithDefault(""),
				),
				parameters.NewParameterDefinition(
					"branch",
					parameters.ParameterTypeString,
					parameters.WithHelp("Git branch for this stream"),
					parameters.WithDefault(""),
				),
				parameters.NewParameterDefinition(
					"worktree",
					parameters.ParameterTypeString,
					parameters.WithHelp("Worktree path for this stream"),
					parameters.WithDefault(""),
				),
				parameters.NewParameterDefinition(
					"phase",
					parameters.ParameterTypeStringList,
					parameters.WithHelp("Phase name (repeatable, or comma-separated)"),
					parameters.WithDefault([]string{}),
				),
			),
		),
	}, nil
}

func (c *createGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &createSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	if strings.TrimSpace(settings.Title) == "" {
		return fmt.Errorf("--title is required")
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

	created, err := core.CreateStream(ctx, model.Stream{
		ID:           strings.TrimSpace(settings.ID),
		StreamNumber: strings.TrimSpace(settings.StreamNumber),
		Title:        settings.Title,
		Category:     model.StreamCategory(strings.TrimSpace(settings.Category)),
		Priority:     model.StreamPriority(strings.TrimSpace(settings.Priority)),
		Branch:       strings.TrimSpace(settings.Branch),
		WorktreePath: strings.TrimSpace(settings.WorktreePath),
		Phases:       normalizeInputTokens(settings.Phases),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Created stream %s (%s)\n", created.ID, created.Status)
	printStreamDetail(created)
	return nil
}

var _ cmds.BareCommand = &createGlazedCommand{}

type listGlazedCommand struct {
	*cmds.CommandDescription
}

type listSettings struct {
	ConfigPath string `glazed.parameter:"config"`
	Status     string `glazed.parameter:"status"`
	Category   string `glazed.parameter:"category"`
	Priority   string `glazed.parameter:"priority"`
}

func newListGlazedCommand() (cmds.Command, error) {
	return &listGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"list",
			cmds.WithShort("List streams"),
			cmds.WithFlags(
				configFlag(),
				parameters.NewParameterDefinition(
					"status",
					parameters.ParameterTypeString,
					parameters.WithHelp("Filter by status"),
					parameters.WithDefault(""),
				),
				parameters.NewParameterDefinition(
					"category",
					parameters.ParameterTypeString,
					parameters.WithHelp("Filter by category"),
					parameters.WithDefault(""),
				),
				parameters.NewParameterDefinition(
					"priority",
					parameters.ParameterTypeString,
					parameters.WithHelp("Filter by priority"),
					parameters.WithDefault(""),
				),
			),
		),
	}, nil
}

func (c *listGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &listSettings{}
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

	streams, err := core.ListStreams(ctx, model.StreamFilter{
		Status:   model.StreamStatus(strings.TrimSpace(settings.Status)),
		Category: model.StreamCategory(strings.TrimSpace(settings.Category)),
		Priority: model.StreamPriority(strings.TrimSpace(settings.Priority)),
	})
	if err != nil {
		return err
	}
	if len(streams) == 0 {
		fmt.Println("No streams.")
		return nil
	}
	for _, stream := range streams {
		fmt.Printf("%-14s %-12s %3d%%  %s\n", stream.ID, stream.Status, stream.Progress, stream.Title)
		if stream.Branch != "" {
			fmt.Printf("    branch=%s worktree=%s\n", stream.Branch, emptyValue(stream.WorktreePath, "-"))
		}
		if stream.RecentActivity != nil {
			fmt.Printf("    last commit: %s (%s, %s)\n",
				stream.RecentActivity.Message, stream.RecentActivity.Author, stream.RecentActivity.TimeAgo)
		}
	}
	return nil
}

var _ cmds.BareCommand = &listGlazedCommand{}

type showGlazedCommand struct {
	*cmds.CommandDescription
}

type showSettings struct {
	ConfigPath string `glazed.parameter:"config"`
	ID         string `glazed.parameter:"id"`
}

func newShowGlazedCommand() (cmds.Command, error) {
	return &showGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"show",
			cmds.WithShort("Show one stream in detail"),
			cmds.WithFlags(configFlag(), streamIDFlag()),
		),
	}, nil
}

func (c *showGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &showSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	id, err := requireStreamID(settings.ID)
	if err != nil {
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

	stream, err := core.GetStream(ctx, id)
	if err != nil {
		return err
	}
	printStreamDetail(stream)
	return nil
}

var _ cmds.BareCommand = &showGlazedCommand{}

type updateGlazedCommand struct {
	*cmds.CommandDescription
}

type updateSettings struct {
	ConfigPath   string `glazed.parameter:"config"`
	ID           string `glazed.parameter:"id"`
	Title        string `glazed.parameter:"title"`
	Status       string `glazed.parameter:"status"`
	Priority     string `glazed.parameter:"priority"`
	Progress     int    `glazed.parameter:"progress"`
	CurrentPhase int    `glazed.parameter:"phase"`
	BlockedBy    string `glazed.parameter:"blocked-by"`
	Branch       string `glazed.parameter:"branch"`
	WorktreePath string `glazed.parameter:"worktree"`
}

func newUpdateGlazedCommand() (cmds.Command, error) {
	return &updateGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"update",
			cmds.WithShort("Apply a partial update to a stream"),
			cmds.WithLong("Only the flags you pass are changed; everything else is left untouched."),
			cmds.WithFlags(
				configFlag(),
				streamIDFlag(),
				parameters.NewParameterDefinition(
					"title",
					parameters.ParameterTypeString,
					parameters.WithHelp("New title"),
					parameters.WithDefault(""),
				),
				parameters.NewParameterDefinition(
					"status",
					parameters.ParameterTypeString,
					parameters.WithHelp("New status: initializing|active|blocked|paused|completed"),
					parameters.WithDefault(""),
				),
				parameters.NewParameterDefinition(
					"priority",
					parameters.ParameterTypeString,
					parameters.WithHelp("New priority"),
					parameters.WithDefault(""),
				),
				parameters.NewParameterDefinition(
					"progress",
					parameters.ParameterTypeInteger,
					parameters.WithHelp("Progress percentage 0-100"),
					parameters.WithDefault(-1),
				),
				parameters.NewParameterDefinition(
					"phase",
					parameters.ParameterTypeInteger,
					parameters.WithHelp("Current phase index"),
					parameters.WithDefault(-1),
				),
				parameters.NewParameterDefinition(
					"blocked-by",
					parameters.ParameterTypeString,
					parameters.WithHelp("What this stream is blocked on"),
					parameters.WithDefault(""),
				),
				parameters.NewParameterDefinition(
					"branch",
					parameters.ParameterTypeString,
					parameters.WithHelp("New branch"),
					parameters.WithDefault(""),
				),
				parameters.NewParameterDefinition(
					"worktree",
					parameters.ParameterTypeString,
					parameters.WithHelp("New worktree path"),
					parameters.WithDefault(""),
				),
			),
		),
	}, nil
}

func (c *updateGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &updateSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	id, err := requireStreamID(settings.ID)
	if err != nil {
		return err
	}

	update := model.StreamUpdate{}
	if s := strings.TrimSpace(settings.Title); s != "" {
		update.Title = &s
	}
	if s := strings.TrimSpace(settings.Status); s != "" {
		status := model.StreamStatus(s)
		update.Status = &status
	}
	if s := strings.TrimSpace(settings.Priority); s != "" {
		priority := model.StreamPriority(s)
		update.Priority = &priority
	}
	if settings.Progress >= 0 {
		update.Progress = &settings.Progress
	}
	if settings.CurrentPhase >= 0 {
		update.CurrentPhase = &settings.CurrentPhase
	}
	if s := strings.TrimSpace(settings.BlockedBy); s != "" {
		update.BlockedBy = &s
	}
	if s := strings.TrimSpace(settings.Branch); s != "" {
		update.Branch = &s
	}
	if s := strings.TrimSpace(settings.WorktreePath); s != "" {
		update.WorktreePath = &s
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

	outcome, err := core.UpdateStream(ctx, id, update)
	if err != nil {
		return err
	}
	if len(outcome.Changes) == 0 {
		fmt.Printf("Stream %s unchanged.\n", id)
		return nil
	}
	fmt.Printf("Updated stream %s:\n", id)
	for field, diff := range outcome.Changes {
		fmt.Printf("  %s: %s -> %s\n", field, emptyValue(diff[0], "(empty)"), emptyValue(diff[1], "(empty)"))
	}
	return nil
}

var _ cmds.BareCommand = &updateGlazedCommand{}

type completeGlazedCommand struct {
	*cmds.CommandDescription
}

type completeSettings struct {
	ConfigPath string `glazed.parameter:"config"`
	ID         string `glazed.parameter:"id"`
}

func newCompleteGlazedCommand() (cmds.Command, error) {
	return &completeGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"complete",
			cmds.WithShort("Mark a stream completed"),
			cmds.WithFlags(configFlag(), streamIDFlag()),
		),
	}, nil
}

func (c *completeGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &completeSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	id, err := requireStreamID(settings.ID)
	if err != nil {
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

	stream, err := core.CompleteStream(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("Stream %s completed", stream.ID)
	if stream.CompletedAt != nil {
		fmt.Printf(" (%s)", humanize.Time(*stream.CompletedAt))
	}
	fmt.Println("")
	return nil
}

var _ cmds.BareCommand = &completeGlazedCommand{}

type historyGlazedCommand struct {
	*cmds.CommandDescription
}

type historySettings struct {
	ConfigPath string `glazed.parameter:"config"`
	ID         string `glazed.parameter:"id"`
}

func newHistoryGlazedCommand() (cmds.Command, error) {
	return &historyGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"history",
			cmds.WithShort("Show a stream's lifecycle history"),
			cmds.WithFlags(configFlag(), streamIDFlag()),
		),
	}, nil
}

func (c *historyGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &historySettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	id, err := requireStreamID(settings.ID)
	if err != nil {
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

	events, err := core.StreamHistory(ctx, id)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Printf("No history for stream %s.\n", id)
		return nil
	}
	for _, event := range events {
		line := fmt.Sprintf("%s  %s", event.Timestamp.Format("2006-01-02 15:04:05"), event.EventType)
		if event.OldValue != "" || event.NewValue != "" {
			line += fmt.Sprintf("  %s -> %s", emptyValue(event.OldValue, "(none)"), emptyValue(event.NewValue, "(none)"))
		}
		fmt.Println(line)
	}
	return nil
}

var _ cmds.BareCommand = &historyGlazedCommand{}

func printStreamDetail(stream model.Stream) {
	fmt.Printf("ID:        %s\n", stream.ID)
	if stream.StreamNumber != "" {
		fmt.Printf("Number:    %s\n", stream.StreamNumber)
	}
	fmt.Printf("Title:     %s\n", stream.Title)
	fmt.Printf("Status:    %s\n", stream.Status)
	fmt.Printf("Category:  %s\n", stream.Category)
	fmt.Printf("Priority:  %s\n", stream.Priority)
	fmt.Printf("Progress:  %d%%\n", stream.Progress)
	if stream.CurrentPhase != nil && *stream.CurrentPhase < len(stream.Phases) {
		fmt.Printf("Phase:     %d (%s)\n", *stream.CurrentPhase, stream.Phases[*stream.CurrentPhase])
	}
	if stream.BlockedBy != "" {
		fmt.Printf("Blocked:   %s\n", stream.BlockedBy)
	}
	fmt.Printf("Branch:    %s\n", emptyValue(stream.Branch, "-"))
	fmt.Printf("Worktree:  %s\n", emptyValue(stream.WorktreePath, "-"))
	fmt.Printf("Created:   %s\n", humanize.Time(stream.CreatedAt))
	fmt.Printf("Updated:   %s\n", humanize.Time(stream.UpdatedAt))
	if stream.CompletedAt != nil {
		fmt.Printf("Completed: %s\n", humanize.Time(*stream.CompletedAt))
	}
	if stream.RecentActivity != nil {
		fmt.Printf("Activity:  %s (%s, %s, %d files)\n",
			stream.RecentActivity.Message, stream.RecentActivity.Author,
			stream.RecentActivity.TimeAgo, stream.RecentActivity.FilesChanged)
	}
}

func emptyValue(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func normalizeInputTokens(values []string) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			if _, ok := seen[token]; ok {
				continue
			}
			seen[token] = struct{}{}
			out = append(out, token)
		}
	}
	return out
}
