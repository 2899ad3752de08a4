// Package engine provides the core orchestration for groundctl: loading
// declarations, planning against state, and driving the executor under
// the state lock.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/zclconf/go-cty/cty"

	"github.com/groundwork-io/groundctl/pkg/engine/executor"
	"github.com/groundwork-io/groundctl/pkg/engine/expression"
	"github.com/groundwork-io/groundctl/pkg/engine/planner"
	"github.com/groundwork-io/groundctl/pkg/graph"
	"github.com/groundwork-io/groundctl/pkg/provider"
	"github.com/groundwork-io/groundctl/pkg/schema/stack"
	"github.com/groundwork-io/groundctl/pkg/state"
	"github.com/groundwork-io/groundctl/pkg/state/backend"
	"github.com/groundwork-io/groundctl/pkg/state/types"
)

// Engine orchestrates plan and apply runs.
type Engine struct {
	stateManager state.Manager
	registry     *provider.Registry
	logger       zerolog.Logger
}

// NewEngine creates a new engine.
func NewEngine(stateManager state.Manager, registry *provider.Registry, logger zerolog.Logger) *Engine {
	return &Engine{
		stateManager: stateManager,
		registry:     registry,
		logger:       logger,
	}
}

// Options configures a plan or apply run.
type Options struct {
	// Key is the logical state identifier.
	Key string

	// Dir holds the declaration files.
	Dir string

	// Values carries externally supplied input values, keyed by module
	// then input.
	Values map[string]map[string]cty.Value

	// Who identifies the caller in lock records.
	Who string

	// LockWait bounds how long lock acquisition retries. Zero fails
	// fast when the state is already locked.
	LockWait time.Duration
}

// PlanResult is the outcome of a plan run.
type PlanResult struct {
	Stack *stack.Stack
	Graph *graph.Graph
	Plan  *planner.Plan
}

// ApplyResult is the outcome of an apply run.
type ApplyResult struct {
	Plan      *planner.Plan
	Execution *executor.Result
}

// Plan loads the declarations, locks the state long enough to read a
// consistent snapshot, and diffs desired against recorded. The returned
// plan is bound to the snapshot digest it was computed from.
func (e *Engine) Plan(ctx context.Context, opts Options) (*PlanResult, error) {
	s, err := stack.LoadDir(opts.Dir)
	if err != nil {
		return nil, err
	}

	lock, err := e.lock(ctx, opts, "plan")
	if err != nil {
		return nil, err
	}
	defer e.unlock(ctx, lock)

	snap, digest, err := e.stateManager.ReadSnapshot(ctx, opts.Key)
	if err != nil {
		return nil, err
	}

	g, res, err := e.expand(s, opts.Values, snap)
	if err != nil {
		return nil, err
	}

	plan, err := planner.NewPlanner(e.registry).Plan(g, res, snap, digest)
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("key", opts.Key).
		Int("create", plan.ToCreate).
		Int("update", plan.ToUpdate).
		Int("replace", plan.ToReplace).
		Int("delete", plan.ToDelete).
		Int("noop", plan.NoChange).
		Msg("plan computed")

	return &PlanResult{Stack: s, Graph: g, Plan: plan}, nil
}

// Apply plans and executes in one run under a single lock, so the plan
// can never go stale between computation and execution.
func (e *Engine) Apply(ctx context.Context, opts Options) (*ApplyResult, error) {
	s, err := stack.LoadDir(opts.Dir)
	if err != nil {
		return nil, err
	}

	lock, err := e.lock(ctx, opts, "apply")
	if err != nil {
		return nil, err
	}
	defer e.unlock(ctx, lock)

	snap, digest, err := e.stateManager.ReadSnapshot(ctx, opts.Key)
	if err != nil {
		return nil, err
	}

	g, res, err := e.expand(s, opts.Values, snap)
	if err != nil {
		return nil, err
	}

	plan, err := planner.NewPlanner(e.registry).Plan(g, res, snap, digest)
	if err != nil {
		return nil, err
	}

	result, err := e.execute(ctx, s, opts.Values, plan, lock)
	return &ApplyResult{Plan: plan, Execution: result}, err
}

// Destroy removes everything recorded under the state key, dependents
// before dependencies.
func (e *Engine) Destroy(ctx context.Context, opts Options) (*ApplyResult, error) {
	lock, err := e.lock(ctx, opts, "destroy")
	if err != nil {
		return nil, err
	}
	defer e.unlock(ctx, lock)

	snap, digest, err := e.stateManager.ReadSnapshot(ctx, opts.Key)
	if err != nil {
		return nil, err
	}

	plan, err := planner.NewPlanner(e.registry).PlanDestroy(snap, digest)
	if err != nil {
		return nil, err
	}

	result, err := e.execute(ctx, nil, nil, plan, lock)
	return &ApplyResult{Plan: plan, Execution: result}, err
}

// Validate loads and resolves the declarations without touching state.
// It exercises every structural check the planner relies on: parsing,
// uniqueness, reference roots, input validation, cardinality, and cycle
// detection.
func (e *Engine) Validate(opts Options) (*PlanResult, error) {
	s, err := stack.LoadDir(opts.Dir)
	if err != nil {
		return nil, err
	}

	g, _, err := e.expand(s, opts.Values, types.NewSnapshot(opts.Key))
	if err != nil {
		return nil, err
	}
	if _, err := g.TopologicalSort(); err != nil {
		return nil, err
	}

	return &PlanResult{Stack: s, Graph: g}, nil
}

// Unlock force-removes the lock record for a state key.
func (e *Engine) Unlock(ctx context.Context, key string) error {
	e.logger.Warn().Str("key", key).Msg("force-unlocking state")
	return e.stateManager.ForceUnlock(ctx, key)
}

// expand resolves the stack against the snapshot and builds the
// instance graph.
func (e *Engine) expand(s *stack.Stack, values map[string]map[string]cty.Value, snap *types.Snapshot) (*graph.Graph, *expression.Resolution, error) {
	res, err := expression.NewResolver(s, values, snapshotReader(snap)).Resolve()
	if err != nil {
		return nil, nil, err
	}
	g, err := graph.NewBuilder(s, res).Build()
	if err != nil {
		return nil, nil, err
	}
	return g, res, nil
}

func (e *Engine) execute(ctx context.Context, s *stack.Stack, values map[string]map[string]cty.Value, plan *planner.Plan, lock backend.Lock) (*executor.Result, error) {
	resolve := func(snap *types.Snapshot) (*expression.Resolution, error) {
		if s == nil {
			return expression.NewResolver(&stack.Stack{}, nil, snapshotReader(snap)).Resolve()
		}
		return expression.NewResolver(s, values, snapshotReader(snap)).Resolve()
	}

	exec := executor.NewExecutor(e.stateManager, e.registry, resolve, e.logger)
	return exec.Execute(ctx, plan, lock)
}

func (e *Engine) lock(ctx context.Context, opts Options, operation string) (backend.Lock, error) {
	return e.stateManager.Lock(ctx, state.LockScope{
		Key:       opts.Key,
		Who:       opts.Who,
		Operation: operation,
		Wait:      opts.LockWait,
	})
}

func (e *Engine) unlock(ctx context.Context, lock backend.Lock) {
	if err := lock.Unlock(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("failed to release state lock")
	}
}

// snapshotReader exposes recorded instances to the expression resolver.
// Outputs win over attributes on name collisions; a reference to an
// instance reads what the provider reported, not what was requested.
func snapshotReader(snap *types.Snapshot) expression.InstanceReader {
	return expression.InstanceReaderFunc(func(module, template string, index int) (map[string]interface{}, bool) {
		record, ok := snap.Resources[types.InstanceID(module, template, index)]
		if !ok {
			return nil, false
		}
		data := make(map[string]interface{}, len(record.Attributes)+len(record.Outputs))
		for k, v := range record.Attributes {
			data[k] = v
		}
		for k, v := range record.Outputs {
			data[k] = v
		}
		return data, true
	})
}
