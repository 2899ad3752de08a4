package expression

import (
	"github.com/hashicorp/hcl/v2"
)

// RefKind classifies what a traversal points at.
type RefKind int

const (
	// RefVar is a var.<input> reference.
	RefVar RefKind = iota
	// RefResource is a <resource>.<attr-or-output> reference.
	RefResource
	// RefCount is the count.index reference inside a counted template.
	RefCount
	// RefModule is a module.<name>.<output> reference in input wiring.
	RefModule
)

// Ref is a parsed reference from an expression to a declared entity.
type Ref struct {
	Kind RefKind

	// Name is the input name for RefVar, the resource template name for
	// RefResource, or the source module name for RefModule.
	Name string

	// Attr is the output name for RefModule. Empty otherwise.
	Attr string
}

// References parses every variable traversal in the expression into
// typed references. Traversals too short to classify are skipped; the
// loader has already rejected them.
func References(expr hcl.Expression) []Ref {
	if expr == nil {
		return nil
	}

	var refs []Ref
	for _, trav := range expr.Variables() {
		switch trav.RootName() {
		case "var":
			if name, ok := attrStep(trav, 1); ok {
				refs = append(refs, Ref{Kind: RefVar, Name: name})
			}
		case "count":
			refs = append(refs, Ref{Kind: RefCount})
		case "module":
			name, nameOK := attrStep(trav, 1)
			attr, attrOK := attrStep(trav, 2)
			if nameOK && attrOK {
				refs = append(refs, Ref{Kind: RefModule, Name: name, Attr: attr})
			}
		default:
			refs = append(refs, Ref{Kind: RefResource, Name: trav.RootName()})
		}
	}
	return refs
}

func attrStep(trav hcl.Traversal, i int) (string, bool) {
	if i >= len(trav) {
		return "", false
	}
	if attr, ok := trav[i].(hcl.TraverseAttr); ok {
		return attr.Name, true
	}
	return "", false
}
