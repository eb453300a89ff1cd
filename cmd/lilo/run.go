package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/lilo-dev/lilo/internal/config"
	"github.com/lilo-dev/lilo/internal/deploytool"
	"github.com/lilo-dev/lilo/internal/driver"
	"github.com/lilo-dev/lilo/internal/harness"
	"github.com/lilo-dev/lilo/internal/logging"
	"github.com/lilo-dev/lilo/internal/prompt"
	"github.com/lilo-dev/lilo/internal/sessionstore"
	"github.com/lilo-dev/lilo/internal/telemetry"
)

type runFlags struct {
	resumeLast bool
}

// runAgent performs one run: resolve config, pick the prompt, drive the
// session. A result with status "error" still returns nil.
func runAgent(ctx context.Context, deps dependencies, flags runFlags, options ...config.Option) error {
	cfg, warnings, err := config.Resolve(deps.lookup, options...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	runtimeLogger, err := logging.New(ctx,
		logging.WithOutput(deps.stdout),
		logging.WithPrefix(cfg.Mode.LogPrefix()),
		logging.WithLevel(cfg.LogLevel),
		logging.WithLogDir(cfg.LogDir),
	)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := runtimeLogger.Close(); closeErr != nil {
			runtimeLogger.Logger.Warn("failed to close log file", "err", closeErr)
		}
	}()
	logger := runtimeLogger.Logger
	for _, warning := range warnings {
		logger.Warn(warning)
	}

	telemetry.ServiceVersion = Version
	shutdown, err := telemetry.Init(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer shutdown()

	store := sessionstore.New(cfg.SessionFile)
	resume := cfg.ResumeSessionID
	if resume == "" && flags.resumeLast {
		stored, err := store.Load()
		if err != nil {
			logger.Warn("failed to load stored session id", "err", err)
		}
		resume = stored
	}
	if resume != "" {
		logger.Info("resuming session", "id", resume)
	}

	selector, err := prompt.NewWithReader(deps.readFile, logger)
	if err != nil {
		return err
	}
	selection, err := selector.Select(ctx, cfg)
	if err != nil {
		return fmt.Errorf("select prompt: %w", err)
	}

	opts := harness.Options{
		SystemPromptAppend: cfg.SystemPromptAppend,
		WorkDir:            cfg.WorkDir,
		Model:              cfg.Model,
		PermissionMode:     string(cfg.PermissionMode),
		AllowedTools:       cfg.AllowedTools(),
		SettingSources:     cfg.SettingSources(),
		Resume:             resume,
		Env:                cfg.RuntimeEnv(),
	}
	if !cfg.Mode.DeployEnabled() {
		executable, err := deps.executable()
		if err != nil {
			return fmt.Errorf("resolve executable for deploy tool: %w", err)
		}
		opts.MCPConfig, err = deploytool.MCPConfig(executable)
		if err != nil {
			return err
		}
	}

	runtime, err := deps.newRuntime(cfg.ClaudeBinary, logger)
	if err != nil {
		return fmt.Errorf("create agent runtime: %w", err)
	}

	runCtx, tracker := telemetry.StartRun(ctx, telemetry.RunRequest{
		RunID:          runtimeLogger.RunID(),
		Model:          cfg.Model,
		Mode:           string(cfg.Mode),
		PermissionMode: string(cfg.PermissionMode),
		PromptSource:   string(selection.Source),
		Prompt:         selection.Query,
		Resume:         resume,
	})

	d, err := driver.New(driver.Config{
		Runtime: runtime,
		Options: opts,
		Store:   store,
		Out:     deps.stdout,
		Logger:  logger,
		Tracker: tracker,
		Now:     deps.now,
	})
	if err != nil {
		return err
	}

	runtimeLogger.Audit.Info("run started",
		"mode", string(cfg.Mode),
		"model", cfg.Model,
		"prompt_source", string(selection.Source),
		"resume", resume,
		"config_path", cfg.ConfigPath,
	)
	outcome, err := d.Run(runCtx, selection.Query)
	if err != nil && !errors.Is(err, driver.ErrNoResult) {
		runtimeLogger.Audit.Error("run failed", "err", err)
		return err
	}
	finished := []any{
		"status", outcome.Status,
		"session_id", outcome.SessionID,
		"duration_s", outcome.DurationS,
		"num_turns", outcome.NumTurns,
	}
	if outcome.CostUSD != nil {
		finished = append(finished, "cost_usd", *outcome.CostUSD)
	}
	runtimeLogger.Audit.Info("run finished", finished...)
	if outcome.Status == driver.StatusError {
		logger.Warn("agent reported an error result", "session_id", outcome.SessionID)
	}
	return nil
}
