package graph

import (
	"reflect"
	"testing"

	"github.com/groundwork-io/groundctl/pkg/errors"
	"github.com/groundwork-io/groundctl/pkg/schema/stack"
)

func testNode(t *testing.T, moduleOrder int, module string, templateOrder int, template string, index int) *Node {
	t.Helper()
	m := &stack.Module{Name: module, DeclOrder: moduleOrder}
	tmpl := &stack.ResourceTemplate{Name: template, Kind: "test", DeclOrder: templateOrder}
	return NewNode(m, tmpl, index)
}

func ids(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestTopologicalSortOrdersDependenciesFirst(t *testing.T) {
	g := NewGraph()
	vpc := testNode(t, 0, "net", 0, "vpc", 0)
	subnet := testNode(t, 0, "net", 1, "subnet", 0)
	server := testNode(t, 1, "app", 0, "server", 0)
	for _, n := range []*Node{server, subnet, vpc} {
		if err := g.AddNode(n); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	if err := g.AddEdge(subnet.ID, vpc.ID); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := g.AddEdge(server.ID, subnet.ID); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	sorted, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort: %v", err)
	}
	want := []string{"net/vpc[0]", "net/subnet[0]", "app/server[0]"}
	if !reflect.DeepEqual(ids(sorted), want) {
		t.Errorf("order: got %v, want %v", ids(sorted), want)
	}
}

func TestTopologicalSortBreaksTiesByDeclarationRank(t *testing.T) {
	// Three independent nodes: order must follow declaration, not map
	// iteration. Repeat to catch map-order leakage.
	for run := 0; run < 20; run++ {
		g := NewGraph()
		_ = g.AddNode(testNode(t, 1, "b", 0, "y", 0))
		_ = g.AddNode(testNode(t, 0, "a", 1, "x", 1))
		_ = g.AddNode(testNode(t, 0, "a", 1, "x", 0))
		_ = g.AddNode(testNode(t, 0, "a", 0, "w", 0))

		sorted, err := g.TopologicalSort()
		if err != nil {
			t.Fatalf("TopologicalSort: %v", err)
		}
		want := []string{"a/w[0]", "a/x[0]", "a/x[1]", "b/y[0]"}
		if !reflect.DeepEqual(ids(sorted), want) {
			t.Fatalf("run %d: got %v, want %v", run, ids(sorted), want)
		}
	}
}

func TestTopologicalSortDetectsCycle(t *testing.T) {
	g := NewGraph()
	a := testNode(t, 0, "m", 0, "a", 0)
	b := testNode(t, 0, "m", 1, "b", 0)
	_ = g.AddNode(a)
	_ = g.AddNode(b)
	_ = g.AddEdge(a.ID, b.ID)
	_ = g.AddEdge(b.ID, a.ID)

	_, err := g.TopologicalSort()
	if !errors.Is(err, errors.ErrCodeCycle) {
		t.Fatalf("cycle: got %v, want CYCLE_ERROR", err)
	}
}

func TestReverseTopologicalSort(t *testing.T) {
	g := NewGraph()
	vpc := testNode(t, 0, "net", 0, "vpc", 0)
	subnet := testNode(t, 0, "net", 1, "subnet", 0)
	_ = g.AddNode(vpc)
	_ = g.AddNode(subnet)
	_ = g.AddEdge(subnet.ID, vpc.ID)

	sorted, err := g.ReverseTopologicalSort()
	if err != nil {
		t.Fatalf("ReverseTopologicalSort: %v", err)
	}
	want := []string{"net/subnet[0]", "net/vpc[0]"}
	if !reflect.DeepEqual(ids(sorted), want) {
		t.Errorf("order: got %v, want %v", ids(sorted), want)
	}
}

func TestAddNodeRejectsDuplicate(t *testing.T) {
	g := NewGraph()
	if err := g.AddNode(testNode(t, 0, "m", 0, "a", 0)); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := g.AddNode(testNode(t, 0, "m", 0, "a", 0)); err == nil {
		t.Fatal("duplicate node accepted")
	}
}

func TestAddEdgeRequiresBothNodes(t *testing.T) {
	g := NewGraph()
	_ = g.AddNode(testNode(t, 0, "m", 0, "a", 0))
	if err := g.AddEdge("m/a[0]", "m/missing[0]"); err == nil {
		t.Fatal("edge to missing node accepted")
	}
	if err := g.AddEdge("m/missing[0]", "m/a[0]"); err == nil {
		t.Fatal("edge from missing node accepted")
	}
}

func TestAddEdgeDeduplicates(t *testing.T) {
	g := NewGraph()
	a := testNode(t, 0, "m", 0, "a", 0)
	b := testNode(t, 0, "m", 1, "b", 0)
	_ = g.AddNode(a)
	_ = g.AddNode(b)
	_ = g.AddEdge(b.ID, a.ID)
	_ = g.AddEdge(b.ID, a.ID)

	if len(b.DependsOn) != 1 {
		t.Errorf("DependsOn: got %v", b.DependsOn)
	}
	if len(a.DependedOnBy) != 1 {
		t.Errorf("DependedOnBy: got %v", a.DependedOnBy)
	}
}
