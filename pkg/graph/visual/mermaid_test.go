package visual

import (
	"strings"
	"testing"

	"github.com/groundwork-io/groundctl/pkg/graph"
	"github.com/groundwork-io/groundctl/pkg/schema/stack"
)

func testGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.NewGraph()
	net := &stack.Module{Name: "net", DeclOrder: 0}
	app := &stack.Module{Name: "app", DeclOrder: 1}
	vpc := &stack.ResourceTemplate{Name: "vpc", Kind: "network", DeclOrder: 0}
	server := &stack.ResourceTemplate{Name: "server", Kind: "compute", DeclOrder: 0}

	if err := g.AddNode(graph.NewNode(net, vpc, 0)); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := g.AddNode(graph.NewNode(app, server, i)); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
		if err := g.AddEdge(graph.NewNode(app, server, i).ID, "net/vpc[0]"); err != nil {
			t.Fatalf("AddEdge: %v", err)
		}
	}
	return g
}

func TestRenderMermaid(t *testing.T) {
	out, err := RenderMermaid(testGraph(t), MermaidOptions{})
	if err != nil {
		t.Fatalf("RenderMermaid: %v", err)
	}

	if !strings.HasPrefix(out, "flowchart TD\n") {
		t.Errorf("header: %q", out)
	}
	for _, want := range []string{
		`net_vpc_0["vpc[0]<br/><i>network</i>"]`,
		`app_server_1["server[1]<br/><i>compute</i>"]`,
		"net_vpc_0 --> app_server_0",
		"net_vpc_0 --> app_server_1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderMermaidGrouped(t *testing.T) {
	out, err := RenderMermaid(testGraph(t), MermaidOptions{GroupByModule: true, Direction: "LR", Title: "stack"})
	if err != nil {
		t.Fatalf("RenderMermaid: %v", err)
	}

	if !strings.Contains(out, "title: stack\n") {
		t.Errorf("missing title in:\n%s", out)
	}
	if !strings.Contains(out, "flowchart LR\n") {
		t.Errorf("missing direction in:\n%s", out)
	}
	if !strings.Contains(out, "subgraph net\n") || !strings.Contains(out, "subgraph app\n") {
		t.Errorf("missing subgraphs in:\n%s", out)
	}
}

func TestRenderMermaidNilGraph(t *testing.T) {
	if _, err := RenderMermaid(nil, MermaidOptions{}); err == nil {
		t.Fatal("nil graph accepted")
	}
}
