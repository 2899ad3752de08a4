// Package visual renders dependency graphs for humans. It operates
// directly on *graph.Graph, so any command that holds a graph can render
// it without extra plumbing.
package visual

import (
	"fmt"
	"sort"
	"strings"

	"github.com/groundwork-io/groundctl/pkg/graph"
)

// MermaidOptions controls how a graph is rendered to a Mermaid flowchart.
type MermaidOptions struct {
	// GroupByModule uses subgraphs to group instances by module name.
	GroupByModule bool

	// Direction is the flowchart direction: "TD" (top-down) or "LR"
	// (left-right). Defaults to "TD" if empty.
	Direction string

	// Title is an optional diagram title.
	Title string
}

// RenderMermaid generates a Mermaid flowchart from a dependency graph.
// Edges point from dependency to dependent, so the diagram reads in
// execution order.
func RenderMermaid(g *graph.Graph, opts MermaidOptions) (string, error) {
	if g == nil {
		return "", fmt.Errorf("graph is nil")
	}

	direction := opts.Direction
	if direction == "" {
		direction = "TD"
	}

	sorted, err := g.TopologicalSort()
	if err != nil {
		return "", fmt.Errorf("failed to sort graph: %w", err)
	}

	var b strings.Builder

	if opts.Title != "" {
		b.WriteString(fmt.Sprintf("---\ntitle: %s\n---\n", opts.Title))
	}
	b.WriteString(fmt.Sprintf("flowchart %s\n", direction))

	if opts.GroupByModule {
		renderGrouped(&b, sorted)
	} else {
		for _, node := range sorted {
			b.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", mermaidID(node.ID), nodeLabel(node)))
		}
	}

	for _, node := range sorted {
		deps := append([]string(nil), node.DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			b.WriteString(fmt.Sprintf("    %s --> %s\n", mermaidID(dep), mermaidID(node.ID)))
		}
	}

	return b.String(), nil
}

func renderGrouped(b *strings.Builder, sorted []*graph.Node) {
	byModule := make(map[string][]*graph.Node)
	var moduleOrder []string
	for _, node := range sorted {
		if _, ok := byModule[node.Module]; !ok {
			moduleOrder = append(moduleOrder, node.Module)
		}
		byModule[node.Module] = append(byModule[node.Module], node)
	}

	for _, module := range moduleOrder {
		b.WriteString(fmt.Sprintf("    subgraph %s\n", module))
		for _, node := range byModule[module] {
			b.WriteString(fmt.Sprintf("        %s[\"%s\"]\n", mermaidID(node.ID), nodeLabel(node)))
		}
		b.WriteString("    end\n")
	}
}

func nodeLabel(node *graph.Node) string {
	return fmt.Sprintf("%s[%d]<br/><i>%s</i>", node.Template, node.Index, node.Kind)
}

// mermaidID makes an instance ID safe for use as a Mermaid node id.
func mermaidID(id string) string {
	replacer := strings.NewReplacer("/", "_", "[", "_", "]", "", ".", "_", "-", "_")
	return replacer.Replace(id)
}
