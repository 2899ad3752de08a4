// Package executor runs execution plans strictly sequentially, writing
// the state snapshot back after every action.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/groundwork-io/groundctl/pkg/engine/expression"
	"github.com/groundwork-io/groundctl/pkg/engine/planner"
	"github.com/groundwork-io/groundctl/pkg/errors"
	"github.com/groundwork-io/groundctl/pkg/graph"
	"github.com/groundwork-io/groundctl/pkg/provider"
	"github.com/groundwork-io/groundctl/pkg/state"
	"github.com/groundwork-io/groundctl/pkg/state/backend"
	"github.com/groundwork-io/groundctl/pkg/state/types"
)

// ResolutionFunc rebuilds the expression resolution against a snapshot.
// The executor calls it before evaluating each action so attributes pick
// up the outputs of everything applied so far.
type ResolutionFunc func(snap *types.Snapshot) (*expression.Resolution, error)

// Result summarizes an execution.
type Result struct {
	// Completed lists instance IDs whose actions were applied and
	// persisted, in execution order.
	Completed []string

	// Failed lists instance IDs whose actions failed. At most one entry,
	// since the first failure stops the run.
	Failed []string

	// Remaining lists instance IDs that were never attempted.
	Remaining []string

	// Canceled is true when the run stopped because the context was
	// canceled between actions.
	Canceled bool

	Duration time.Duration
}

// Executor runs execution plans.
type Executor struct {
	stateManager state.Manager
	registry     *provider.Registry
	resolve      ResolutionFunc
	logger       zerolog.Logger
}

// NewExecutor creates a new executor.
func NewExecutor(stateManager state.Manager, registry *provider.Registry, resolve ResolutionFunc, logger zerolog.Logger) *Executor {
	return &Executor{
		stateManager: stateManager,
		registry:     registry,
		resolve:      resolve,
		logger:       logger,
	}
}

// Execute runs the plan under the given held lock. The caller owns the
// lock's release; the executor only renews its lease between actions.
//
// The snapshot is re-read and its digest checked against the plan before
// anything runs, so a plan computed against state that has since moved
// is refused rather than applied blindly. After every completed action
// the snapshot is written back with a digest check, which makes a
// partial run resumable: a fresh plan over the persisted snapshot picks
// up exactly where this one stopped.
func (e *Executor) Execute(ctx context.Context, plan *planner.Plan, lock backend.Lock) (*Result, error) {
	startTime := time.Now()
	result := &Result{}

	snap, digest, err := e.stateManager.ReadSnapshot(ctx, plan.Key)
	if err != nil {
		return result, err
	}
	if digest != plan.SnapshotDigest {
		return result, errors.StalePlanError(plan.SnapshotDigest, digest)
	}

	pending := actionable(plan.Changes)

	for i, change := range pending {
		if err := ctx.Err(); err != nil {
			result.Canceled = true
			result.Remaining = changeIDs(pending[i:])
			result.Duration = time.Since(startTime)
			return result, err
		}

		if err := lock.Renew(ctx, lock.Info().Lease); err != nil {
			result.Remaining = changeIDs(pending[i:])
			result.Duration = time.Since(startTime)
			if len(result.Completed) > 0 {
				return result, errors.PartialApplyError(result.Completed, result.Failed, result.Remaining).
					WithDetail("cause", fmt.Sprintf("lost the state lock mid-apply: %v", err))
			}
			return result, errors.Wrap(errors.ErrCodeLockBusy, "lost the state lock before any action ran", err)
		}

		e.logger.Info().
			Str("id", change.ID).
			Str("action", string(change.Action)).
			Msg("applying change")

		newDigest, err := e.executeChange(ctx, change, snap, digest)
		if err != nil {
			e.logger.Error().Str("id", change.ID).Err(err).Msg("change failed")
			result.Failed = append(result.Failed, change.ID)
			result.Remaining = changeIDs(pending[i+1:])
			result.Duration = time.Since(startTime)
			return result, errors.PartialApplyError(result.Completed, result.Failed, result.Remaining)
		}
		digest = newDigest
		result.Completed = append(result.Completed, change.ID)
	}

	result.Duration = time.Since(startTime)
	return result, nil
}

// executeChange performs one action and persists the snapshot. The
// returned digest reflects the write; err is non-nil when either the
// provider effect or the persistence failed.
func (e *Executor) executeChange(ctx context.Context, change *planner.ResourceChange, snap *types.Snapshot, digest string) (string, error) {
	switch change.Action {
	case planner.ActionDelete:
		return e.executeDelete(ctx, change, snap, digest)
	case planner.ActionCreate, planner.ActionUpdate:
		return e.executeApply(ctx, change, snap, digest)
	case planner.ActionReplace:
		return e.executeReplace(ctx, change, snap, digest)
	default:
		return digest, fmt.Errorf("unexpected action %q for %s", change.Action, change.ID)
	}
}

func (e *Executor) executeDelete(ctx context.Context, change *planner.ResourceChange, snap *types.Snapshot, digest string) (string, error) {
	record := change.Record

	p, err := e.registry.Provider(record.Kind)
	if err != nil {
		return digest, errors.ProviderError(record.Kind, change.ID, "destroy", err)
	}

	req := provider.Request{
		ID:           change.ID,
		Kind:         record.Kind,
		Attributes:   record.Attributes,
		PriorOutputs: record.Outputs,
	}
	if err := p.Destroy(ctx, req); err != nil {
		return e.persistFailure(ctx, snap, digest, record, err)
	}

	snap.Remove(change.ID)
	return e.persist(ctx, snap, digest)
}

func (e *Executor) executeApply(ctx context.Context, change *planner.ResourceChange, snap *types.Snapshot, digest string) (string, error) {
	node := change.Node

	attrs, err := e.freshAttributes(snap, change)
	if err != nil {
		return digest, err
	}

	p, err := e.registry.Provider(node.Kind)
	if err != nil {
		return digest, errors.ProviderError(node.Kind, change.ID, string(change.Action), err)
	}

	var priorOutputs map[string]interface{}
	if change.Record != nil {
		priorOutputs = change.Record.Outputs
	}

	outputs, err := p.Apply(ctx, provider.Request{
		ID:           change.ID,
		Kind:         node.Kind,
		Attributes:   attrs,
		PriorOutputs: priorOutputs,
	})
	if err != nil {
		applyErr := errors.ProviderError(node.Kind, change.ID, string(change.Action), err)
		if change.Record != nil {
			return e.persistFailure(ctx, snap, digest, change.Record, applyErr)
		}
		return digest, applyErr
	}

	snap.Put(e.newRecord(node, attrs, outputs, change.Record))
	return e.persist(ctx, snap, digest)
}

// executeReplace tears down and recreates an instance whose immutable
// attributes changed. create_before_destroy flips the order; either way
// the snapshot is written once, after both effects succeed, so a crash
// in between re-plans as a replace rather than losing the record.
func (e *Executor) executeReplace(ctx context.Context, change *planner.ResourceChange, snap *types.Snapshot, digest string) (string, error) {
	node := change.Node
	record := change.Record

	attrs, err := e.freshAttributes(snap, change)
	if err != nil {
		return digest, err
	}

	p, err := e.registry.Provider(node.Kind)
	if err != nil {
		return digest, errors.ProviderError(node.Kind, change.ID, "replace", err)
	}

	destroyReq := provider.Request{
		ID:           change.ID,
		Kind:         record.Kind,
		Attributes:   record.Attributes,
		PriorOutputs: record.Outputs,
	}
	createReq := provider.Request{
		ID:         change.ID,
		Kind:       node.Kind,
		Attributes: attrs,
	}

	var outputs map[string]interface{}
	if node.Lifecycle.CreateBeforeDestroy {
		outputs, err = p.Apply(ctx, createReq)
		if err == nil {
			err = p.Destroy(ctx, destroyReq)
		}
	} else {
		err = p.Destroy(ctx, destroyReq)
		if err == nil {
			outputs, err = p.Apply(ctx, createReq)
		}
	}
	if err != nil {
		return e.persistFailure(ctx, snap, digest, record,
			errors.ProviderError(node.Kind, change.ID, "replace", err))
	}

	snap.Put(e.newRecord(node, attrs, outputs, record))
	return e.persist(ctx, snap, digest)
}

// freshAttributes re-evaluates the change's attributes against the
// snapshot as it stands now. Anything still unknown at this point means
// a dependency never produced the value, which is a bug worth stopping
// for rather than applying a placeholder.
func (e *Executor) freshAttributes(snap *types.Snapshot, change *planner.ResourceChange) (map[string]interface{}, error) {
	res, err := e.resolve(snap)
	if err != nil {
		return nil, err
	}
	node := change.Node
	attrs, err := res.EvalAttributes(node.Module, node.Template, node.Index)
	if err != nil {
		return nil, err
	}
	for name, val := range attrs {
		if expression.ContainsUnknown(val) {
			return nil, errors.ExpressionError(
				fmt.Sprintf("%s attribute %q", change.ID, name),
				fmt.Errorf("value is still unknown at apply time"))
		}
	}
	return attrs, nil
}

// newRecord builds the snapshot record for a just-applied instance. The
// node's dependency edges and lifecycle policy are persisted with it so
// deletes still order correctly after the declaration disappears.
func (e *Executor) newRecord(node *graph.Node, attrs, outputs map[string]interface{}, prior *types.ResourceRecord) *types.ResourceRecord {
	now := time.Now().UTC()
	createdAt := now
	if prior != nil {
		createdAt = prior.CreatedAt
	}
	return &types.ResourceRecord{
		Module:     node.Module,
		Template:   node.Template,
		Index:      node.Index,
		Kind:       node.Kind,
		Attributes: attrs,
		Outputs:    outputs,
		DependsOn:  append([]string(nil), node.DependsOn...),
		Lifecycle: types.LifecycleRecord{
			CreateBeforeDestroy: node.Lifecycle.CreateBeforeDestroy,
			PreventDestroy:      node.Lifecycle.PreventDestroy,
			IgnoreOnUpdate:      append([]string(nil), node.Lifecycle.IgnoreOnUpdate...),
		},
		Status:    types.ResourceStatusReady,
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
}

// persistFailure records the failed status before surfacing the error,
// so the snapshot says what happened even if the process dies next.
func (e *Executor) persistFailure(ctx context.Context, snap *types.Snapshot, digest string, record *types.ResourceRecord, cause error) (string, error) {
	record.Status = types.ResourceStatusFailed
	record.StatusReason = cause.Error()
	record.UpdatedAt = time.Now().UTC()
	snap.Put(record)

	newDigest, werr := e.persist(ctx, snap, digest)
	if werr != nil {
		return digest, werr
	}
	return newDigest, cause
}

func (e *Executor) persist(ctx context.Context, snap *types.Snapshot, digest string) (string, error) {
	return e.stateManager.WriteSnapshot(ctx, snap.Key, snap, digest)
}

// actionable filters out Noop changes; they carry no effect.
func actionable(changes []*planner.ResourceChange) []*planner.ResourceChange {
	var out []*planner.ResourceChange
	for _, change := range changes {
		if change.Action != planner.ActionNoop {
			out = append(out, change)
		}
	}
	return out
}

func changeIDs(changes []*planner.ResourceChange) []string {
	ids := make([]string, 0, len(changes))
	for _, change := range changes {
		ids = append(ids, change.ID)
	}
	return ids
}
