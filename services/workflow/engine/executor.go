// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
	"github.com/AleutianAI/AleutianFlow/services/workflow/graph"
	"github.com/AleutianAI/AleutianFlow/services/workflow/nodes"
)

var (
	tracer = otel.Tracer("aleutian.workflow")
	meter  = otel.Meter("aleutian.workflow")
)

// DefaultNodeTimeout bounds a single node when Config.NodeTimeout is zero.
const DefaultNodeTimeout = 10 * time.Minute

var (
	// ErrNilDispatcher is returned by NewExecutor without a dispatcher.
	ErrNilDispatcher = errors.New("dispatcher must not be nil")

	// ErrNilPlan is returned by Execute for a nil plan.
	ErrNilPlan = errors.New("plan must not be nil")

	// ErrRunNotActive is returned by Cancel for an unknown or finished run.
	ErrRunNotActive = errors.New("run is not active")
)

// Config configures an Executor.
type Config struct {
	// NodeTimeout bounds each executor call. Zero uses DefaultNodeTimeout.
	NodeTimeout time.Duration

	// Sink receives run and node transitions. Nil discards them.
	Sink Sink

	Logger *slog.Logger

	// Now is the clock. Nil uses time.Now.
	Now func() time.Time
}

// Executor runs workflows.
//
// Description:
//
//	Executor validates and scopes a workflow, partitions it into waves and
//	runs the waves in order. Nodes of a wave run concurrently. When a node
//	fails the executor waits for its siblings, records every node of later
//	waves as skipped and marks the run failed. There are no retries.
//
// Thread Safety:
//
//	Executor is safe for concurrent use. Runs are independent of each other.
type Executor struct {
	dispatcher  Dispatcher
	sink        Sink
	logger      *slog.Logger
	nodeTimeout time.Duration
	now         func() time.Time

	mu     sync.Mutex
	active map[string]*atomic.Bool

	// Metrics (initialized lazily)
	metricsOnce   sync.Once
	nodeLatency   metric.Float64Histogram
	nodeSuccesses metric.Int64Counter
	nodeFailures  metric.Int64Counter
	activeNodes   metric.Int64UpDownCounter
	runLatency    metric.Float64Histogram
}

// NewExecutor creates an Executor.
//
// Inputs:
//
//	d - Executes single nodes. Must not be nil.
//	cfg - Timeouts, sink and logger. Zero values take defaults.
//
// Outputs:
//
//	*Executor - The configured executor.
//	error - ErrNilDispatcher if d is nil.
func NewExecutor(d Dispatcher, cfg Config) (*Executor, error) {
	if d == nil {
		return nil, ErrNilDispatcher
	}
	e := &Executor{
		dispatcher:  d,
		sink:        cfg.Sink,
		logger:      cfg.Logger,
		nodeTimeout: cfg.NodeTimeout,
		now:         cfg.Now,
		active:      make(map[string]*atomic.Bool),
	}
	if e.sink == nil {
		e.sink = NopSink{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.nodeTimeout <= 0 {
		e.nodeTimeout = DefaultNodeTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution.
func (e *Executor) initMetrics() {
	e.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		e.nodeLatency, err = meter.Float64Histogram("workflow_node_duration_seconds",
			metric.WithDescription("Time spent executing each workflow node"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_latency: "+err.Error())
		}

		e.nodeSuccesses, err = meter.Int64Counter("workflow_node_success_total",
			metric.WithDescription("Number of successful node executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_successes: "+err.Error())
		}

		e.nodeFailures, err = meter.Int64Counter("workflow_node_failure_total",
			metric.WithDescription("Number of failed node executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_failures: "+err.Error())
		}

		e.activeNodes, err = meter.Int64UpDownCounter("workflow_active_nodes",
			metric.WithDescription("Number of currently executing nodes"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_nodes: "+err.Error())
		}

		e.runLatency, err = meter.Float64Histogram("workflow_run_duration_seconds",
			metric.WithDescription("Total run execution time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "run_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some workflow metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// =============================================================================
// Preparation
// =============================================================================

// Plan is a validated, scoped run waiting to be executed.
//
// Every Plan returned by Prepare must be passed to Execute, which releases
// its run id.
type Plan struct {
	Run Run

	workflow  *graph.Workflow
	data      map[string]graph.Data
	cancelled *atomic.Bool
}

// Prepare validates req and computes its waves.
//
// Description:
//
//	The full workflow is validated first, then reduced to the selected
//	nodes and their upstream closure for partial and single scopes. Node
//	configuration is decoded here so that malformed parameters fail the
//	run before any node starts.
//
// Outputs:
//
//	*Plan - The run in pending state, registered for Cancel.
//	error - A validation error. Nothing has been recorded or emitted.
func (e *Executor) Prepare(req RunRequest) (*Plan, error) {
	const op = "prepare run"
	if req.Workflow == nil {
		return nil, flowerr.Validationf(op, "workflow is required")
	}
	scope, err := ParseScope(string(req.Scope))
	if err != nil {
		return nil, err
	}

	wf := req.Workflow
	if err := graph.Validate(wf.Nodes, wf.Edges); err != nil {
		return nil, err
	}

	var selected []string
	switch scope {
	case ScopeSingle:
		if len(req.Selected) != 1 {
			return nil, flowerr.Validationf(op, "single scope needs exactly one selected node, got %d", len(req.Selected))
		}
		fallthrough
	case ScopePartial:
		selected = append([]string(nil), req.Selected...)
		wf, err = graph.Subgraph(selected, wf.Nodes, wf.Edges)
		if err != nil {
			return nil, err
		}
	}

	waves, err := graph.Waves(wf.Nodes, wf.Edges)
	if err != nil {
		return nil, err
	}

	data := make(map[string]graph.Data, len(wf.Nodes))
	for _, n := range wf.Nodes {
		d, err := graph.DecodeData(n.Type, n.Data)
		if err != nil {
			return nil, &graph.NodeError{NodeID: n.ID, Err: err}
		}
		data[n.ID] = d
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	flag := &atomic.Bool{}
	e.mu.Lock()
	if _, dup := e.active[runID]; dup {
		e.mu.Unlock()
		return nil, flowerr.Validationf(op, "run %s is already active", runID)
	}
	e.active[runID] = flag
	e.mu.Unlock()

	return &Plan{
		Run: Run{
			RunID:         runID,
			Status:        RunPending,
			Scope:         scope,
			SelectedNodes: selected,
			Waves:         waves,
			CreatedAt:     e.now(),
		},
		workflow:  wf,
		data:      data,
		cancelled: flag,
	}, nil
}

// Cancel asks a run to stop. The wave in progress finishes; later waves are
// skipped and the run ends cancelled.
func (e *Executor) Cancel(runID string) error {
	e.mu.Lock()
	flag, ok := e.active[runID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotActive, runID)
	}
	flag.Store(true)
	e.logger.Info("run cancellation requested", slog.String("run_id", runID))
	return nil
}

func (e *Executor) release(runID string) {
	e.mu.Lock()
	delete(e.active, runID)
	e.mu.Unlock()
}

// =============================================================================
// Execution
// =============================================================================

// Run prepares and executes req.
func (e *Executor) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	plan, err := e.Prepare(req)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, plan)
}

// Execute runs a prepared plan to a terminal status.
//
// Description:
//
//	Waves run strictly in order. Before each wave the cancel flag and ctx
//	are checked. A failed node ends the run after its wave: siblings that
//	already started are awaited, then every node that never started is
//	marked skipped.
//
// Outputs:
//
//	*RunResult - Always non-nil for a non-nil plan.
//	error - *RunError when a node failed, ctx.Err() when ctx ended the run.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (*RunResult, error) {
	if plan == nil {
		return nil, ErrNilPlan
	}
	return e.drive(e.begin(ctx, plan))
}

// Handle tracks a run started with Start.
type Handle struct {
	RunID string

	done   chan struct{}
	result *RunResult
	err    error
}

// Done is closed when the run reaches a terminal status.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns what Execute would have returned. It blocks until Done.
func (h *Handle) Result() (*RunResult, error) {
	<-h.done
	return h.result, h.err
}

// Start marks the run as running, emits its start to the sink and executes
// it in the background. When Start returns the run is visible to readers
// of the sink.
func (e *Executor) Start(ctx context.Context, plan *Plan) (*Handle, error) {
	if plan == nil {
		return nil, ErrNilPlan
	}
	x := e.begin(ctx, plan)
	h := &Handle{RunID: plan.Run.RunID, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.result, h.err = e.drive(x)
	}()
	return h, nil
}

// execution is a run between begin and drive.
type execution struct {
	ctx    context.Context
	span   trace.Span
	plan   *Plan
	st     *runState
	start  time.Time
	logger *slog.Logger
}

func (e *Executor) begin(ctx context.Context, plan *Plan) *execution {
	e.initMetrics()

	ctx, span := tracer.Start(ctx, "workflow.Run",
		trace.WithAttributes(
			attribute.String("workflow.run_id", plan.Run.RunID),
			attribute.String("workflow.scope", string(plan.Run.Scope)),
			attribute.Int("workflow.node_count", len(plan.workflow.Nodes)),
			attribute.Int("workflow.wave_count", len(plan.Run.Waves)),
		),
	)

	st := newRunState(plan)
	start := e.now()
	st.run.Status = RunRunning
	st.run.StartedAt = &start

	logger := e.logger.With(slog.String("run_id", plan.Run.RunID))
	logger.Info("run started",
		slog.String("scope", string(plan.Run.Scope)),
		slog.Int("nodes", len(plan.workflow.Nodes)),
		slog.Int("waves", len(plan.Run.Waves)),
	)
	e.emit(ctx, "run start", func(ctx context.Context) error { return e.sink.OnRunStart(ctx, st.snapshotRun()) })

	return &execution{ctx: ctx, span: span, plan: plan, st: st, start: start, logger: logger}
}

func (e *Executor) drive(x *execution) (*RunResult, error) {
	ctx, span, plan, st, start, logger := x.ctx, x.span, x.plan, x.st, x.start, x.logger
	defer e.release(plan.Run.RunID)
	defer span.End()

	outputs := make(map[string]nodes.Output, len(plan.workflow.Nodes))
	status := RunCompleted
	var runErr error

	for i, wave := range plan.Run.Waves {
		if plan.cancelled.Load() {
			status = RunCancelled
			break
		}
		if err := ctx.Err(); err != nil {
			status = RunCancelled
			runErr = err
			break
		}

		span.AddEvent("wave", trace.WithAttributes(
			attribute.Int("workflow.wave", i),
			attribute.StringSlice("workflow.nodes", wave),
		))

		results, err := e.runWave(ctx, plan, st, wave, outputs)
		for id, out := range results {
			outputs[id] = out
		}
		if err != nil {
			status = RunFailed
			runErr = err
			break
		}
	}

	if status != RunCompleted {
		for _, t := range st.skipPending(e.now()) {
			e.emitTransition(ctx, t)
		}
	}

	end := e.now()
	duration := end.Sub(start)
	st.finish(status, runErr, end)

	if e.runLatency != nil {
		e.runLatency.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("status", string(status))),
		)
	}

	completion := Completion{RunID: plan.Run.RunID, Status: status, At: end, Duration: duration}
	if runErr != nil {
		completion.Error = runErr.Error()
	}
	e.emit(ctx, "run complete", func(ctx context.Context) error { return e.sink.OnRunComplete(ctx, completion) })

	result := st.result(outputs)
	switch status {
	case RunCompleted:
		span.SetStatus(codes.Ok, "")
		logger.Info("run completed", slog.Duration("duration", duration))
	case RunCancelled:
		span.SetStatus(codes.Error, "cancelled")
		logger.Warn("run cancelled", slog.Duration("duration", duration))
	default:
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		logger.Error("run failed",
			slog.Duration("duration", duration),
			slog.String("error", runErr.Error()),
		)
	}
	return result, runErr
}

// runWave runs every node of wave concurrently and returns the outputs of
// the nodes that succeeded. All goroutines have returned when it returns.
func (e *Executor) runWave(
	ctx context.Context,
	plan *Plan,
	st *runState,
	wave []string,
	outputs map[string]nodes.Output,
) (map[string]nodes.Output, error) {
	results := make([]nodes.Output, len(wave))
	succeeded := make([]bool, len(wave))

	// Siblings are not cancelled when one fails; errgroup only collects
	// the first error.
	var g errgroup.Group
	for i, id := range wave {
		req := nodes.Request{
			RunID:  plan.Run.RunID,
			NodeID: id,
			Data:   plan.data[id],
			Inputs: collectInputs(plan.workflow, id, outputs),
		}
		g.Go(func() error {
			out, err := e.runNode(ctx, st, req)
			if err != nil {
				return &RunError{RunID: req.RunID, NodeID: id, Err: err}
			}
			results[i] = out
			succeeded[i] = true
			return nil
		})
	}
	err := g.Wait()

	done := make(map[string]nodes.Output, len(wave))
	for i, id := range wave {
		if succeeded[i] {
			done[id] = results[i]
		}
	}
	return done, err
}

// collectInputs returns the outputs feeding id, in edge order. Every source
// finished in an earlier wave, so outputs is not written concurrently.
func collectInputs(wf *graph.Workflow, id string, outputs map[string]nodes.Output) []nodes.Input {
	incoming := wf.Incoming(id)
	if len(incoming) == 0 {
		return nil
	}
	inputs := make([]nodes.Input, 0, len(incoming))
	for _, edge := range incoming {
		out, ok := outputs[edge.Source]
		if !ok {
			continue
		}
		src, _ := wf.Node(edge.Source)
		inputs = append(inputs, nodes.Input{
			SourceID:     edge.Source,
			SourceKind:   src.Type,
			SourceHandle: edge.SourceHandle,
			TargetHandle: edge.TargetHandle,
			Output:       out,
		})
	}
	return inputs
}

// runNode executes one node with tracing, metrics and a timeout.
func (e *Executor) runNode(ctx context.Context, st *runState, req nodes.Request) (nodes.Output, error) {
	kind := req.Data.Kind()
	ctx, span := tracer.Start(ctx, "workflow.Node",
		trace.WithAttributes(
			attribute.String("workflow.run_id", req.RunID),
			attribute.String("workflow.node", req.NodeID),
			attribute.String("workflow.node_type", string(kind)),
			attribute.Int("workflow.inputs", len(req.Inputs)),
		),
	)
	defer span.End()

	if e.activeNodes != nil {
		e.activeNodes.Add(ctx, 1)
		defer e.activeNodes.Add(ctx, -1)
	}

	start := e.now()
	e.emitTransition(ctx, st.start(req.NodeID, start))

	nodeCtx, cancel := context.WithTimeout(ctx, e.nodeTimeout)
	defer cancel()

	out, err := e.dispatch(nodeCtx, req)
	end := e.now()
	duration := end.Sub(start)

	attrs := metric.WithAttributes(attribute.String("node_type", string(kind)))
	if e.nodeLatency != nil {
		e.nodeLatency.Record(ctx, duration.Seconds(), attrs)
	}

	if err != nil {
		if errors.Is(nodeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = flowerr.New(flowerr.KindExternalService, "node "+req.NodeID,
				fmt.Errorf("timed out after %s: %w", e.nodeTimeout, err))
		}
		if e.nodeFailures != nil {
			e.nodeFailures.Add(ctx, 1, attrs)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.emitTransition(ctx, st.fail(req.NodeID, err, end))

		e.logger.Error("node failed",
			slog.String("run_id", req.RunID),
			slog.String("node", req.NodeID),
			slog.String("type", string(kind)),
			slog.String("error_kind", flowerr.KindOf(err).String()),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return nodes.Output{}, err
	}

	if e.nodeSuccesses != nil {
		e.nodeSuccesses.Add(ctx, 1, attrs)
	}
	span.SetStatus(codes.Ok, "")
	e.emitTransition(ctx, st.succeed(req.NodeID, out, end))

	e.logger.Info("node completed",
		slog.String("run_id", req.RunID),
		slog.String("node", req.NodeID),
		slog.String("type", string(kind)),
		slog.Duration("duration", duration),
	)
	return out, nil
}

// dispatch calls the dispatcher, turning a panic into a node failure.
func (e *Executor) dispatch(ctx context.Context, req nodes.Request) (out nodes.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("node panicked",
				slog.String("run_id", req.RunID),
				slog.String("node", req.NodeID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("node %s panicked: %v", req.NodeID, r)
		}
	}()
	return e.dispatcher.Dispatch(ctx, req)
}

func (e *Executor) emitTransition(ctx context.Context, t Transition) {
	e.emit(ctx, "transition", func(ctx context.Context) error { return e.sink.OnTransition(ctx, t) })
}

// emit calls the sink and logs its failure. Sink errors never fail a run.
func (e *Executor) emit(ctx context.Context, what string, fn func(context.Context) error) {
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		e.logger.Warn("run sink failed",
			slog.String("event", what),
			slog.String("error", err.Error()),
		)
	}
}
