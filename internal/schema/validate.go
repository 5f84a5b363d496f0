package schema

import (
	"fmt"

	"github.com/sealchain/stash/internal/node"
)

// Failure describes one structural nonconformance found while checking a
// node against a Shape.
type Failure struct {
	Node   node.ID
	Detail string
}

func (f Failure) String() string { return f.Detail }

func fieldCounts(meta node.Metadata) map[string]int {
	counts := make(map[string]int, len(meta))
	for name, vals := range meta {
		counts[name] = len(vals)
	}
	return counts
}

// CheckShape verifies field/owned/public occurrences against sh. nodeID is
// used only to annotate failures.
func CheckShape(sh Shape, meta node.Metadata, owned []node.Assignment, public []string, nodeID node.ID) []Failure {
	var fails []Failure

	counts := fieldCounts(meta)
	for name, occ := range sh.Fields {
		if !occ.allows(counts[name]) {
			fails = append(fails, Failure{nodeID, fmt.Sprintf("field %q occurs %d times, want [%d,%d]", name, counts[name], occ.Min, occ.Max)})
		}
	}
	for name := range meta {
		if _, declared := sh.Fields[name]; !declared {
			fails = append(fails, Failure{nodeID, fmt.Sprintf("undeclared field %q", name)})
		}
	}

	ownedCounts := make(map[string]int)
	for _, a := range owned {
		ownedCounts[a.Type]++
	}
	for typ, occ := range sh.Owned {
		if !occ.allows(ownedCounts[typ]) {
			fails = append(fails, Failure{nodeID, fmt.Sprintf("owned right %q occurs %d times, want [%d,%d]", typ, ownedCounts[typ], occ.Min, occ.Max)})
		}
	}
	for typ := range ownedCounts {
		if _, declared := sh.Owned[typ]; !declared {
			fails = append(fails, Failure{nodeID, fmt.Sprintf("undeclared owned right %q", typ)})
		}
	}

	for _, p := range public {
		if !sh.Public[p] {
			fails = append(fails, Failure{nodeID, fmt.Sprintf("undeclared public right %q", p)})
		}
	}
	return fails
}

// CheckGenesis validates a Genesis against the schema's Genesis shape
// and its declared right-type vocabularies.
func (s *Schema) CheckGenesis(g *node.Genesis) []Failure {
	id := g.NodeID()
	fails := CheckShape(s.Genesis, g.Meta, g.Owned, g.Public, id)
	fails = append(fails, s.checkRightVocab(g.Owned, g.Public, id)...)
	return fails
}

// CheckTransition validates a Transition against its declared type's
// shape; an undeclared type is itself a failure.
func (s *Schema) CheckTransition(t *node.Transition) []Failure {
	id := t.NodeID()
	sh, ok := s.Transitions[t.TransitionType]
	if !ok {
		return []Failure{{id, fmt.Sprintf("undeclared transition type %q", t.TransitionType)}}
	}
	fails := CheckShape(sh, t.Meta, t.Owned, t.Public, id)
	fails = append(fails, s.checkRightVocab(t.Owned, t.Public, id)...)
	return fails
}

// CheckExtension validates an Extension against its declared type's
// shape, additionally requiring every closed public right's type to be
// one the schema declares.
func (s *Schema) CheckExtension(e *node.Extension) []Failure {
	id := e.NodeID()
	sh, ok := s.Extensions[e.ExtensionType]
	if !ok {
		return []Failure{{id, fmt.Sprintf("undeclared extension type %q", e.ExtensionType)}}
	}
	fails := CheckShape(sh, e.Meta, e.Owned, e.Public, id)
	fails = append(fails, s.checkRightVocab(e.Owned, e.Public, id)...)
	for _, c := range e.Closes {
		if !s.PublicRightTypes[c.Type] {
			fails = append(fails, Failure{id, fmt.Sprintf("closed public right %q not declared by schema", c.Type)})
		}
	}
	return fails
}

func (s *Schema) checkRightVocab(owned []node.Assignment, public []string, id node.ID) []Failure {
	var fails []Failure
	for _, a := range owned {
		if !s.OwnedRightTypes[a.Type] {
			fails = append(fails, Failure{id, fmt.Sprintf("owned right type %q not in schema vocabulary", a.Type)})
		}
	}
	for _, p := range public {
		if !s.PublicRightTypes[p] {
			fails = append(fails, Failure{id, fmt.Sprintf("public right type %q not in schema vocabulary", p)})
		}
	}
	return fails
}

// CheckRootCompat verifies that every right type this schema declares is
// also declared by its root schema, the root-schema inheritance check
// a subschema must satisfy against its parent.
func CheckRootCompat(s, root *Schema) []Failure {
	var fails []Failure
	for typ := range s.OwnedRightTypes {
		if !root.OwnedRightTypes[typ] {
			fails = append(fails, Failure{Detail: fmt.Sprintf("owned right type %q not present in root schema", typ)})
		}
	}
	for typ := range s.PublicRightTypes {
		if !root.PublicRightTypes[typ] {
			fails = append(fails, Failure{Detail: fmt.Sprintf("public right type %q not present in root schema", typ)})
		}
	}
	return fails
}
