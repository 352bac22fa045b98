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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFlow/pkg/logging"
	"github.com/AleutianAI/AleutianFlow/pkg/ux"
	"github.com/AleutianAI/AleutianFlow/services/workflow"
	"github.com/AleutianAI/AleutianFlow/services/workflow/config"
	"github.com/AleutianAI/AleutianFlow/services/workflow/engine"
	"github.com/AleutianAI/AleutianFlow/services/workflow/graph"
)

// scopeFlags selects a subset of the workflow.
type scopeFlags struct {
	node    string
	partial []string
}

func (s *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.node, "node", "", "run only this node and its upstream nodes")
	cmd.Flags().StringSliceVar(&s.partial, "partial", nil, "run these nodes and their upstream nodes")
	cmd.MarkFlagsMutuallyExclusive("node", "partial")
}

func (s *scopeFlags) scope() (engine.Scope, []string) {
	switch {
	case s.node != "":
		return engine.ScopeSingle, []string{s.node}
	case len(s.partial) > 0:
		return engine.ScopePartial, s.partial
	default:
		return engine.ScopeFull, nil
	}
}

// readWorkflow parses the workflow at path, or stdin for "-".
func readWorkflow(cmd *cobra.Command, path string) (*graph.Workflow, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return graph.Parse(r)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// validate
// =============================================================================

type validateResult struct {
	Valid bool       `json:"valid"`
	Waves [][]string `json:"waves,omitempty"`
	Error string     `json:"error,omitempty"`
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow.json>",
		Short: "Check that a workflow is a well formed DAG with valid node settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := readWorkflow(cmd, args[0])
			if err != nil {
				return err
			}
			waves, checkErr := graph.Check(wf)

			if opts.jsonOutput {
				res := validateResult{Valid: checkErr == nil, Waves: waves}
				if checkErr != nil {
					res.Error = checkErr.Error()
				}
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				p := opts.printer(cmd)
				if checkErr != nil {
					p.Error(checkErr.Error())
				} else {
					p.Success(fmt.Sprintf("%d nodes in %d waves", len(wf.Nodes), len(waves)))
				}
			}
			if checkErr != nil {
				return errSilent
			}
			return nil
		},
	}
}

// =============================================================================
// waves
// =============================================================================

func newWavesCmd(opts *options) *cobra.Command {
	var sf scopeFlags
	cmd := &cobra.Command{
		Use:   "waves <workflow.json>",
		Short: "Print the execution waves of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := readWorkflow(cmd, args[0])
			if err != nil {
				return err
			}
			if err := graph.Validate(wf.Nodes, wf.Edges); err != nil {
				return err
			}
			if _, selected := sf.scope(); len(selected) > 0 {
				if wf, err = graph.Subgraph(selected, wf.Nodes, wf.Edges); err != nil {
					return err
				}
			}
			waves, err := graph.Waves(wf.Nodes, wf.Edges)
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), waves)
			}
			p := opts.printer(cmd)
			p.Title(fmt.Sprintf("%d waves", len(waves)))
			p.Waves(waves)
			return nil
		},
	}
	sf.register(cmd)
	return cmd
}

// =============================================================================
// run
// =============================================================================

func newRunCmd(opts *options) *cobra.Command {
	var sf scopeFlags
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "run <workflow.json>",
		Short: "Execute a workflow locally and print every node's outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := readWorkflow(cmd, args[0])
			if err != nil {
				return err
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger, err := opts.logger(cmd)
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			r, err := newLocalRunner(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer r.Close()

			scope, selected := sf.scope()
			return r.run(ctx, opts, cmd, wf, scope, selected)
		},
	}
	sf.register(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the run after this long (0 means no limit)")
	return cmd
}

// localRunner executes workflows in process with the configured executors.
type localRunner struct {
	svc workflow.Service
}

// newLocalRunner builds the service components without serving HTTP.
// Telemetry exporters are disabled so that traces never mix with the
// command's output.
func newLocalRunner(ctx context.Context, cfg config.Config, logger *logging.Logger) (*localRunner, error) {
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"
	cfg.Server.GinMode = "release"
	svc, err := workflow.New(ctx, cfg, logger.Slog())
	if err != nil {
		return nil, err
	}
	return &localRunner{svc: svc}, nil
}

func (r *localRunner) Close() error { return r.svc.Close() }

// run executes wf and reports the result. A run that does not complete
// is reported and then returned as errSilent.
func (r *localRunner) run(ctx context.Context, opts *options, cmd *cobra.Command, wf *graph.Workflow, scope engine.Scope, selected []string) error {
	result, err := r.svc.Engine().Run(ctx, engine.RunRequest{
		Scope:    scope,
		Selected: selected,
		Workflow: wf,
	})
	if result == nil {
		return err
	}

	if opts.jsonOutput {
		if werr := writeJSON(cmd.OutOrStdout(), result); werr != nil {
			return werr
		}
	} else {
		printResult(opts.printer(cmd), result)
	}
	if result.Run.Status != engine.RunCompleted {
		return errSilent
	}
	return nil
}

// printResult renders one line per node followed by the run outcome.
func printResult(p *ux.Printer, result *engine.RunResult) {
	p.Title("Run " + result.Run.RunID)
	rows := make([]ux.Row, 0, len(result.Nodes))
	for _, n := range result.Nodes {
		detail := n.Error
		if n.Output != nil && detail == "" {
			detail = ux.Truncate(strings.ReplaceAll(n.Output.Value, "\n", " "), 80)
		}
		rows = append(rows, ux.Row{
			Status: string(n.Status),
			Name:   n.NodeID,
			Kind:   string(n.Type),
			Detail: detail,
		})
	}
	p.Rows(rows)

	switch result.Run.Status {
	case engine.RunCompleted:
		p.Success("run completed")
	case engine.RunCancelled:
		p.Warning("run cancelled")
	default:
		p.Error("run " + string(result.Run.Status) + ": " + result.Run.Error)
	}
}
