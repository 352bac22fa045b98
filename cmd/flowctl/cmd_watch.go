// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFlow/pkg/logging"
	"github.com/AleutianAI/AleutianFlow/services/workflow/engine"
	"github.com/AleutianAI/AleutianFlow/services/workflow/graph"
)

// watchDebounce batches the burst of events an editor save produces.
const watchDebounce = 200 * time.Millisecond

func newWatchCmd(opts *options) *cobra.Command {
	var (
		sf       scopeFlags
		execute  bool
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <workflow.json>",
		Short: "Re-check (and optionally re-run) a workflow whenever it or the config changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger(cmd)
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, err := newWorkflowWatcher(cmd, opts, args[0], logger)
			if err != nil {
				return err
			}
			w.execute = execute
			w.scope, w.selected = sf.scope()
			w.debounce = debounce
			defer w.close()
			return w.watch(ctx)
		},
	}
	sf.register(cmd)
	cmd.Flags().BoolVar(&execute, "run", false, "execute the workflow after every successful check")
	cmd.Flags().DurationVar(&debounce, "debounce", watchDebounce, "quiet period before reacting to a change")
	return cmd
}

// workflowWatcher reacts to changes of a workflow file and of the config
// file. A config change rebuilds the local runner on the next execution.
type workflowWatcher struct {
	cmd    *cobra.Command
	opts   *options
	logger *logging.Logger

	path       string
	configPath string

	execute  bool
	scope    engine.Scope
	selected []string
	debounce time.Duration

	runner *localRunner
}

func newWorkflowWatcher(cmd *cobra.Command, opts *options, path string, logger *logging.Logger) (*workflowWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &workflowWatcher{
		cmd:      cmd,
		opts:     opts,
		logger:   logger,
		path:     abs,
		debounce: watchDebounce,
	}
	if opts.configPath != "" {
		if w.configPath, err = filepath.Abs(opts.configPath); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// watch evaluates the workflow once and then after every change until ctx
// ends. Directories are watched rather than files so that editors which
// save by renaming are followed.
func (w *workflowWatcher) watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dirs := map[string]struct{}{filepath.Dir(w.path): {}}
	if w.configPath != "" {
		dirs[filepath.Dir(w.configPath)] = struct{}{}
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	w.evaluate(ctx)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	configChanged := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			switch filepath.Clean(event.Name) {
			case w.path:
			case w.configPath:
				configChanged = true
			default:
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))

		case <-timer.C:
			if configChanged {
				w.reloadConfig()
				configChanged = false
			}
			w.evaluate(ctx)
		}
	}
}

// reloadConfig drops the runner so the next execution uses the new config.
func (w *workflowWatcher) reloadConfig() {
	p := w.opts.printer(w.cmd)
	if _, err := w.opts.loadConfig(); err != nil {
		p.Error("config: " + err.Error())
		return
	}
	if w.runner != nil {
		if err := w.runner.Close(); err != nil {
			w.logger.Warn("close runner", slog.String("error", err.Error()))
		}
		w.runner = nil
	}
	p.Info("configuration reloaded")
}

// evaluate checks the workflow and runs it when asked to. Failures are
// printed; the watch goes on.
func (w *workflowWatcher) evaluate(ctx context.Context) {
	p := w.opts.printer(w.cmd)
	wf, err := readWorkflow(w.cmd, w.path)
	if err != nil {
		p.Error(err.Error())
		return
	}
	waves, err := graph.Check(wf)
	if err != nil {
		p.Error(err.Error())
		return
	}
	p.Success(fmt.Sprintf("%s: %d nodes in %d waves", filepath.Base(w.path), len(wf.Nodes), len(waves)))
	if !w.execute {
		p.Waves(waves)
		return
	}

	if w.runner == nil {
		cfg, err := w.opts.loadConfig()
		if err != nil {
			p.Error("config: " + err.Error())
			return
		}
		if w.runner, err = newLocalRunner(ctx, cfg, w.logger); err != nil {
			p.Error(err.Error())
			return
		}
	}
	// A failed run has already been printed.
	if err := w.runner.run(ctx, w.opts, w.cmd, wf, w.scope, w.selected); err != nil && !errors.Is(err, errSilent) {
		p.Error(err.Error())
	}
}

func (w *workflowWatcher) close() {
	if w.runner != nil {
		if err := w.runner.Close(); err != nil {
			w.logger.Warn("close runner", slog.String("error", err.Error()))
		}
	}
}
