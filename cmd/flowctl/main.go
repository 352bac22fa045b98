// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command flowctl runs and inspects AleutianFlow workflows.
//
// Workflows are the editor's JSON documents ({"nodes": [...], "edges": [...]}).
// A path of "-" reads the workflow from stdin.
//
//	flowctl validate workflow.json
//	flowctl waves workflow.json --node B
//	flowctl run workflow.json --partial C,D
//	flowctl watch workflow.json --run
//	flowctl serve --config flow.yaml
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFlow/pkg/logging"
	"github.com/AleutianAI/AleutianFlow/pkg/ux"
	"github.com/AleutianAI/AleutianFlow/services/workflow/config"
)

// errSilent marks a failure that has already been reported to the user.
var errSilent = errors.New("failed")

// options holds the persistent flags.
type options struct {
	configPath string
	logLevel   string
	jsonOutput bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errSilent) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "flowctl",
		Short: "Run and inspect AleutianFlow workflows",
		Long: `flowctl validates, schedules and executes media workflows locally,
and starts the workflow HTTP service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newValidateCmd(opts),
		newWavesCmd(opts),
		newRunCmd(opts),
		newWatchCmd(opts),
	)
	return rootCmd
}

func (o *options) loadConfig() (config.Config, error) {
	return config.Load(o.configPath)
}

// logger writes human readable logs to the command's stderr.
func (o *options) logger(cmd *cobra.Command) (*logging.Logger, error) {
	level, err := logging.ParseLevel(o.logLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:   level,
		Service: "flowctl",
		Output:  cmd.ErrOrStderr(),
	}), nil
}

func (o *options) printer(cmd *cobra.Command) *ux.Printer {
	return ux.NewPrinter(cmd.OutOrStdout())
}
