// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package process wraps external binaries used by media nodes.

All invocations go through the Runner interface so that nodes can be tested
without real binaries. ExecRunner is the production implementation; MockRunner
is a test double configured with a function field.

A non-zero exit status is not an error at this layer: the Result carries the
exit code and the caller decides. Prober and Extractor apply the rules for
duration probing and frame extraction on top of a Runner.
*/
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Result is the outcome of a process that ran to exit.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner invokes external binaries.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple goroutines.
type Runner interface {
	// Run executes binary with args and waits for it to exit.
	//
	// # Description
	//
	// The process is killed when timeout elapses or ctx is cancelled.
	//
	// # Outputs
	//
	//   - *Result: Captured output and exit code. Non-nil whenever the
	//     process ran to exit, including non-zero exit codes.
	//   - error: Configuration error when binary is unset or missing;
	//     external service error on timeout or when the process cannot start.
	Run(ctx context.Context, binary string, args []string, timeout time.Duration) (*Result, error)
}

// Metrics receives one observation per invocation.
type Metrics interface {
	ObserveProcess(binary, outcome string, d time.Duration)
}

// Invocation outcomes reported to Metrics.
const (
	OutcomeOK      = "ok"
	OutcomeNonZero = "non_zero_exit"
	OutcomeTimeout = "timeout"
	OutcomeFailed  = "failed"
)

// -----------------------------------------------------------------------------
// Production Implementation
// -----------------------------------------------------------------------------

// ExecRunner runs binaries with os/exec.
type ExecRunner struct {
	Logger  *slog.Logger
	Metrics Metrics
}

// NewExecRunner creates an ExecRunner. A nil logger uses slog.Default().
func NewExecRunner(logger *slog.Logger, metrics Metrics) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{Logger: logger, Metrics: metrics}
}

// Run executes binary with args, capturing stdout and stderr.
func (r *ExecRunner) Run(ctx context.Context, binary string, args []string, timeout time.Duration) (*Result, error) {
	path, err := ResolveBinary(binary)
	if err != nil {
		return nil, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Don't wait forever on pipes held open by grandchildren after a kill.
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: elapsed,
	}

	logger := r.logger().With(slog.String("binary", binary), slog.Duration("duration", elapsed))

	if ctxErr := ctx.Err(); ctxErr != nil {
		r.observe(binary, OutcomeTimeout, elapsed)
		logger.Warn("process killed", slog.String("reason", ctxErr.Error()))
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, flowerr.ExternalServicef("run "+binary, "timed out after %s%s", timeout, tailSuffix(res.Stderr))
		}
		return nil, flowerr.ExternalService("run "+binary, ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		r.observe(binary, OutcomeOK, elapsed)
		logger.Debug("process exited")
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		r.observe(binary, OutcomeNonZero, elapsed)
		logger.Debug("process exited non-zero", slog.Int("exit_code", res.ExitCode))
	default:
		r.observe(binary, OutcomeFailed, elapsed)
		return nil, flowerr.ExternalService("run "+binary, runErr)
	}
	return res, nil
}

func (r *ExecRunner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *ExecRunner) observe(binary, outcome string, d time.Duration) {
	if r.Metrics != nil {
		r.Metrics.ObserveProcess(binary, outcome, d)
	}
}

// ResolveBinary checks that binary is set and exists. A value containing a
// path separator is checked on disk; a bare name is looked up in PATH.
func ResolveBinary(binary string) (string, error) {
	const op = "resolve binary"
	if strings.TrimSpace(binary) == "" {
		return "", flowerr.Configurationf(op, "binary path is not set")
	}
	if strings.ContainsRune(binary, os.PathSeparator) {
		info, err := os.Stat(binary)
		if err != nil {
			return "", flowerr.Configurationf(op, "binary %s not found: %w", binary, err)
		}
		if info.IsDir() {
			return "", flowerr.Configurationf(op, "binary %s is a directory", binary)
		}
		return binary, nil
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", flowerr.Configurationf(op, "binary %s not found in PATH: %w", binary, err)
	}
	return path, nil
}

// StderrTail returns at most the last n bytes of s, trimmed.
func StderrTail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

func tailSuffix(stderr string) string {
	tail := StderrTail(stderr, 512)
	if tail == "" {
		return ""
	}
	return fmt.Sprintf(": %s", tail)
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockRunner is a test double for Runner.
//
// If RunFunc is nil and Run is called, it panics.
//
// # Examples
//
//	mock := &process.MockRunner{
//	    RunFunc: func(ctx context.Context, binary string, args []string, _ time.Duration) (*process.Result, error) {
//	        return &process.Result{Stderr: "Duration: 00:00:10.00"}, nil
//	    },
//	}
type MockRunner struct {
	RunFunc func(ctx context.Context, binary string, args []string, timeout time.Duration) (*Result, error)

	calls []Call
	mu    sync.Mutex
}

// Call records a single invocation.
type Call struct {
	Binary string
	Args   []string
}

// Run delegates to RunFunc and records the call.
func (m *MockRunner) Run(ctx context.Context, binary string, args []string, timeout time.Duration) (*Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Binary: binary, Args: append([]string(nil), args...)})
	m.mu.Unlock()
	if m.RunFunc == nil {
		panic("MockRunner.RunFunc not set")
	}
	return m.RunFunc(ctx, binary, args, timeout)
}

// Calls returns a copy of all recorded calls.
func (m *MockRunner) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Compile-time interface compliance check.
var (
	_ Runner = (*ExecRunner)(nil)
	_ Runner = (*MockRunner)(nil)
)
