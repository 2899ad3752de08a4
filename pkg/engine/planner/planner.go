// Package planner generates execution plans by diffing desired resource
// instances against the state snapshot.
package planner

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/groundwork-io/groundctl/pkg/engine/expression"
	"github.com/groundwork-io/groundctl/pkg/errors"
	"github.com/groundwork-io/groundctl/pkg/graph"
	"github.com/groundwork-io/groundctl/pkg/provider"
	"github.com/groundwork-io/groundctl/pkg/state/types"
)

// Action represents the type of operation to perform.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionReplace Action = "replace"
	ActionDelete  Action = "delete"
	ActionNoop    Action = "noop"
)

// ResourceChange describes a planned change to one resource instance.
type ResourceChange struct {
	// ID is the instance identity, module/template[index]
	ID string

	// Node being changed; nil for deletes of no-longer-declared instances
	Node *graph.Node

	// Action to take
	Action Action

	// Record is the current snapshot record; nil when creating
	Record *types.ResourceRecord

	// DesiredAttributes are the evaluated attributes at plan time. They
	// may contain unknown values; the executor re-evaluates before it
	// acts.
	DesiredAttributes map[string]interface{}

	// Reason for the change
	Reason string

	// Property changes (for updates and replaces)
	PropertyChanges []PropertyChange
}

// PropertyChange describes a change to a single attribute.
type PropertyChange struct {
	Path     string
	OldValue interface{}
	NewValue interface{}
}

// Plan represents an execution plan, bound to the snapshot it was
// computed against.
type Plan struct {
	// Key is the state key the plan applies to
	Key string

	// SnapshotDigest is the digest of the snapshot the plan was computed
	// against. Apply refuses the plan if the store has moved on.
	SnapshotDigest string

	// Changes to make, in execution order
	Changes []*ResourceChange

	// Summary
	ToCreate  int
	ToUpdate  int
	ToReplace int
	ToDelete  int
	NoChange  int
}

// IsEmpty returns true if there are no changes.
func (p *Plan) IsEmpty() bool {
	return p.ToCreate == 0 && p.ToUpdate == 0 && p.ToReplace == 0 && p.ToDelete == 0
}

// Planner generates execution plans.
type Planner struct {
	registry *provider.Registry
}

// NewPlanner creates a new planner using the registry's kind metadata.
func NewPlanner(registry *provider.Registry) *Planner {
	return &Planner{registry: registry}
}

// Plan diffs the desired graph against the snapshot. Deletes of
// instances that are no longer declared come first, dependents before
// dependencies; creates and updates follow in execution order.
func (p *Planner) Plan(g *graph.Graph, res *expression.Resolution, snap *types.Snapshot, digest string) (*Plan, error) {
	plan := &Plan{
		Key:            snap.Key,
		SnapshotDigest: digest,
	}

	sortedNodes, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	declared := make(map[string]bool, len(g.Nodes))
	for id := range g.Nodes {
		declared[id] = true
	}

	deletes, err := planDeletes(snap, declared)
	if err != nil {
		return nil, err
	}
	plan.Changes = append(plan.Changes, deletes...)

	for _, node := range sortedNodes {
		change, err := p.planNodeChange(node, res, snap)
		if err != nil {
			return nil, err
		}
		plan.Changes = append(plan.Changes, change)
	}

	for _, change := range plan.Changes {
		switch change.Action {
		case ActionCreate:
			plan.ToCreate++
		case ActionUpdate:
			plan.ToUpdate++
		case ActionReplace:
			plan.ToReplace++
		case ActionDelete:
			plan.ToDelete++
		case ActionNoop:
			plan.NoChange++
		}
	}

	return plan, nil
}

// PlanDestroy plans the removal of everything in the snapshot, honoring
// prevent_destroy.
func (p *Planner) PlanDestroy(snap *types.Snapshot, digest string) (*Plan, error) {
	plan := &Plan{
		Key:            snap.Key,
		SnapshotDigest: digest,
	}

	deletes, err := planDeletes(snap, nil)
	if err != nil {
		return nil, err
	}
	plan.Changes = deletes
	plan.ToDelete = len(deletes)

	return plan, nil
}

func (p *Planner) planNodeChange(node *graph.Node, res *expression.Resolution, snap *types.Snapshot) (*ResourceChange, error) {
	attrs, err := res.EvalAttributes(node.Module, node.Template, node.Index)
	if err != nil {
		return nil, err
	}

	record := snap.Resources[node.ID]
	if record == nil {
		return &ResourceChange{
			ID:                node.ID,
			Node:              node,
			Action:            ActionCreate,
			DesiredAttributes: attrs,
			Reason:            "not yet applied",
		}, nil
	}

	diffs := diffAttributes(record.Attributes, attrs)
	if len(diffs) == 0 {
		return &ResourceChange{
			ID:                node.ID,
			Node:              node,
			Action:            ActionNoop,
			Record:            record,
			DesiredAttributes: attrs,
		}, nil
	}

	// Drift confined to ignored attributes changes nothing.
	if allIgnored(diffs, node.Lifecycle.IgnoreOnUpdate) {
		return &ResourceChange{
			ID:                node.ID,
			Node:              node,
			Action:            ActionNoop,
			Record:            record,
			DesiredAttributes: attrs,
			Reason:            "changes limited to ignore_on_update attributes",
			PropertyChanges:   diffs,
		}, nil
	}

	action := ActionUpdate
	reason := fmt.Sprintf("%d attribute(s) changed", len(diffs))
	spec := p.registry.Spec(node.Kind)
	for _, d := range diffs {
		if spec.Immutable(d.Path) {
			action = ActionReplace
			reason = fmt.Sprintf("immutable attribute %q changed", d.Path)
			break
		}
	}

	return &ResourceChange{
		ID:                node.ID,
		Node:              node,
		Action:            action,
		Record:            record,
		DesiredAttributes: attrs,
		Reason:            reason,
		PropertyChanges:   diffs,
	}, nil
}

// planDeletes plans removal of every record not in the declared set,
// dependents before dependencies, based on the dependency edges recorded
// at apply time. A prevent_destroy record fails the whole plan.
func planDeletes(snap *types.Snapshot, declared map[string]bool) ([]*ResourceChange, error) {
	doomed := make(map[string]*types.ResourceRecord)
	for _, id := range snap.SortedIDs() {
		if !declared[id] {
			doomed[id] = snap.Resources[id]
		}
	}
	if len(doomed) == 0 {
		return nil, nil
	}

	for _, id := range sortedKeys(doomed) {
		if doomed[id].Lifecycle.PreventDestroy {
			return nil, errors.DestroyBlockedError(id)
		}
	}

	ordered, err := deleteOrder(doomed)
	if err != nil {
		return nil, err
	}

	changes := make([]*ResourceChange, 0, len(ordered))
	for _, id := range ordered {
		changes = append(changes, &ResourceChange{
			ID:     id,
			Action: ActionDelete,
			Record: doomed[id],
			Reason: "no longer declared",
		})
	}
	return changes, nil
}

// deleteOrder orders doomed records so that dependents go before the
// records they depended on. Edges to records outside the doomed set are
// ignored; those records are staying.
func deleteOrder(doomed map[string]*types.ResourceRecord) ([]string, error) {
	// Kahn over reversed edges: a record is ready once every record
	// that depended on it is gone.
	dependents := make(map[string][]string)
	inDegree := make(map[string]int)
	for id := range doomed {
		inDegree[id] = 0
	}
	for id, record := range doomed {
		for _, dep := range record.DependsOn {
			if _, ok := doomed[dep]; !ok {
				continue
			}
			dependents[dep] = append(dependents[dep], id)
			inDegree[dep]++
		}
	}

	var queue []string
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var result []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, id)

		for _, dep := range doomed[id].DependsOn {
			if _, ok := doomed[dep]; !ok {
				continue
			}
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
				sort.Strings(queue)
			}
		}
	}

	if len(result) != len(doomed) {
		processed := make(map[string]bool, len(result))
		for _, id := range result {
			processed[id] = true
		}
		var cycle []string
		for id := range doomed {
			if !processed[id] {
				cycle = append(cycle, id)
			}
		}
		sort.Strings(cycle)
		return nil, errors.CycleError(cycle)
	}

	return result, nil
}

// diffAttributes compares desired attributes against recorded ones. An
// unknown desired value always diffs, since it can only be resolved by
// applying. Attributes missing on either side count as changes.
func diffAttributes(recorded, desired map[string]interface{}) []PropertyChange {
	var diffs []PropertyChange

	names := make(map[string]bool, len(recorded)+len(desired))
	for k := range recorded {
		names[k] = true
	}
	for k := range desired {
		names[k] = true
	}

	for _, name := range sortedBoolKeys(names) {
		oldVal, hasOld := recorded[name]
		newVal, hasNew := desired[name]

		if hasOld && hasNew && valuesEqual(oldVal, newVal) {
			continue
		}
		diffs = append(diffs, PropertyChange{
			Path:     name,
			OldValue: oldVal,
			NewValue: newVal,
		})
	}

	return diffs
}

func valuesEqual(a, b interface{}) bool {
	if expression.ContainsUnknown(a) || expression.ContainsUnknown(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func allIgnored(diffs []PropertyChange, ignored []string) bool {
	if len(ignored) == 0 {
		return false
	}
	ignoredSet := make(map[string]bool, len(ignored))
	for _, name := range ignored {
		ignoredSet[name] = true
	}
	for _, d := range diffs {
		if !ignoredSet[d.Path] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]*types.ResourceRecord) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedBoolKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
