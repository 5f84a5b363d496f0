// Package state implements Contract State: the per-contract derived
// view of currently open owned-right allocations plus any
// schema-declared aggregate totals. It is rebuildable from the stash
// alone and is never itself the system of record.
//
// The copy-on-write discipline here mirrors state.Snapshot/state.Copy
// (protocol/state/snapshot.go): a writer builds a new Snapshot from
// the old one and the incoming delta, then installs it atomically;
// readers that already hold a Snapshot reference never see a partial
// update.
package state

import (
	"sync"

	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/schema"
	"github.com/sealchain/stash/internal/seal"
)

// Allocation is one currently open owned right: the assignment itself,
// plus which node created it and at what index, so a later transition's
// ParentRef can address it.
type Allocation struct {
	Parent node.ParentRef
	Type   string
	Seal   seal.Definition
	Amount node.Amount
}

func (a Allocation) outpoint() (seal.Outpoint, bool) {
	if a.Seal.Form != seal.FormRevealed {
		return seal.Outpoint{}, false
	}
	return a.Seal.Outpoint, true
}

// Snapshot is an immutable view of one contract's state at a point in
// time. Callers receive a value-typed copy of whatever slices they ask
// for; nothing in a returned Snapshot aliases the Stash's own copy.
type Snapshot struct {
	ContractID node.ContractID
	SchemaID   node.ID

	allocations map[node.ParentRef]Allocation         // by (creating node-id, index)
	byOutpoint  map[seal.Outpoint][]node.ParentRef     // by revealed outpoint
	byType      map[string][]node.ParentRef            // by owned-right type
	public      map[string]bool                        // open public rights
	aggregates  map[string]uint64                       // schema-declared running sums
}

// Empty builds the initial Snapshot for a contract, before Genesis is
// applied.
func Empty(contractID, schemaID node.ID) *Snapshot {
	return &Snapshot{
		ContractID:  contractID,
		SchemaID:    schemaID,
		allocations: map[node.ParentRef]Allocation{},
		byOutpoint:  map[seal.Outpoint][]node.ParentRef{},
		byType:      map[string][]node.ParentRef{},
		public:      map[string]bool{},
		aggregates:  map[string]uint64{},
	}
}

// copy makes a shallow structural copy of s: every map is rebuilt so the
// new Snapshot's writes never touch the old one's maps, but Allocation
// values themselves (immutable once constructed) are reused as-is. This
// mirrors state.Copy's "new maps/trees, same leaf values" shape.
func (s *Snapshot) copy() *Snapshot {
	c := &Snapshot{
		ContractID:  s.ContractID,
		SchemaID:    s.SchemaID,
		allocations: make(map[node.ParentRef]Allocation, len(s.allocations)),
		byOutpoint:  make(map[seal.Outpoint][]node.ParentRef, len(s.byOutpoint)),
		byType:      make(map[string][]node.ParentRef, len(s.byType)),
		public:      make(map[string]bool, len(s.public)),
		aggregates:  make(map[string]uint64, len(s.aggregates)),
	}
	for k, v := range s.allocations {
		c.allocations[k] = v
	}
	for k, v := range s.byOutpoint {
		c.byOutpoint[k] = append([]node.ParentRef{}, v...)
	}
	for k, v := range s.byType {
		c.byType[k] = append([]node.ParentRef{}, v...)
	}
	for k, v := range s.public {
		c.public[k] = v
	}
	for k, v := range s.aggregates {
		c.aggregates[k] = v
	}
	return c
}

func (s *Snapshot) insert(ref node.ParentRef, a Allocation) {
	s.allocations[ref] = a
	s.byType[a.Type] = append(s.byType[a.Type], ref)
	if out, ok := a.outpoint(); ok {
		s.byOutpoint[out] = append(s.byOutpoint[out], ref)
	}
}

func (s *Snapshot) remove(ref node.ParentRef) {
	a, ok := s.allocations[ref]
	if !ok {
		return
	}
	delete(s.allocations, ref)
	s.byType[a.Type] = removeRef(s.byType[a.Type], ref)
	if out, ok := a.outpoint(); ok {
		s.byOutpoint[out] = removeRef(s.byOutpoint[out], ref)
	}
}

func removeRef(refs []node.ParentRef, ref node.ParentRef) []node.ParentRef {
	for i, r := range refs {
		if r == ref {
			return append(refs[:i], refs[i+1:]...)
		}
	}
	return refs
}

// Allocations returns every currently open allocation of the given
// owned-right type.
func (s *Snapshot) Allocations(typ string) []Allocation {
	refs := s.byType[typ]
	out := make([]Allocation, 0, len(refs))
	for _, r := range refs {
		out = append(out, s.allocations[r])
	}
	return out
}

// AtOutpoint returns every currently open allocation revealed at the
// given outpoint (ordinarily zero or one, but a contract can in
// principle assign more than one right to the same outpoint).
func (s *Snapshot) AtOutpoint(o seal.Outpoint) []Allocation {
	refs := s.byOutpoint[o]
	out := make([]Allocation, 0, len(refs))
	for _, r := range refs {
		out = append(out, s.allocations[r])
	}
	return out
}

// HasPublicRight reports whether typ is currently open as a public
// right on this contract.
func (s *Snapshot) HasPublicRight(typ string) bool { return s.public[typ] }

// Aggregate returns the running fold for typ (zero if the schema
// doesn't declare an aggregate for it).
func (s *Snapshot) Aggregate(typ string) uint64 { return s.aggregates[typ] }

func addAggregate(agg map[string]uint64, sc *schema.Schema, owned []node.Assignment) {
	if sc == nil {
		return
	}
	for _, a := range owned {
		if !sc.AggregateTypes[a.Type] || !a.Amount.Revealed {
			continue
		}
		agg[a.Type] += a.Amount.Value
	}
}

func subAggregate(agg map[string]uint64, sc *schema.Schema, removed []Allocation) {
	if sc == nil {
		return
	}
	for _, a := range removed {
		if !sc.AggregateTypes[a.Type] || !a.Amount.Revealed {
			continue
		}
		if agg[a.Type] < a.Amount.Value {
			agg[a.Type] = 0
			continue
		}
		agg[a.Type] -= a.Amount.Value
	}
}

// ApplyGenesis returns a new Snapshot seeded from g's owned and public
// rights, folding any schema-declared aggregates over g's revealed
// amounts.
func ApplyGenesis(contractID node.ID, sc *schema.Schema, g *node.Genesis) *Snapshot {
	s := Empty(contractID, g.SchemaID)
	nodeID := g.NodeID()
	for i, a := range g.Owned {
		s.insert(node.ParentRef{Node: nodeID, Index: uint32(i)}, Allocation{
			Parent: node.ParentRef{Node: nodeID, Index: uint32(i)},
			Type:   a.Type,
			Seal:   a.Seal,
			Amount: a.Amount,
		})
	}
	for _, r := range g.Public {
		s.public[r] = true
	}
	addAggregate(s.aggregates, sc, g.Owned)
	return s
}

// AddTransition returns a new Snapshot reflecting t's effect on s:
// parent assignments t closes are removed, t's own owned rights are
// added (with any FormWitnessVout seal resolved against witnessTxid),
// and aggregates are updated by the net delta.
func (s *Snapshot) AddTransition(sc *schema.Schema, witnessTxid string, t *node.Transition) *Snapshot {
	c := s.copy()
	var removed []Allocation
	for _, p := range t.Parents {
		if a, ok := c.allocations[p]; ok {
			removed = append(removed, a)
		}
		c.remove(p)
	}
	nodeID := t.NodeID()
	for i, a := range t.Owned {
		resolved := a
		resolved.Seal = a.Seal.Resolve(witnessTxid)
		ref := node.ParentRef{Node: nodeID, Index: uint32(i)}
		c.insert(ref, Allocation{Parent: ref, Type: resolved.Type, Seal: resolved.Seal, Amount: resolved.Amount})
	}
	for _, r := range t.Public {
		c.public[r] = true
	}
	subAggregate(c.aggregates, sc, removed)
	addAggregate(c.aggregates, sc, t.Owned)
	return c
}

// AddExtension returns a new Snapshot reflecting e's own-rights delta.
// Extensions don't close parent owned rights; they only add.
func (s *Snapshot) AddExtension(sc *schema.Schema, witnessTxid string, e *node.Extension) *Snapshot {
	c := s.copy()
	nodeID := e.NodeID()
	for i, a := range e.Owned {
		resolved := a
		resolved.Seal = a.Seal.Resolve(witnessTxid)
		ref := node.ParentRef{Node: nodeID, Index: uint32(i)}
		c.insert(ref, Allocation{Parent: ref, Type: resolved.Type, Seal: resolved.Seal, Amount: resolved.Amount})
	}
	for _, r := range e.Public {
		c.public[r] = true
	}
	addAggregate(c.aggregates, sc, e.Owned)
	return c
}

// RevealSeal finds the currently open allocation whose seal conceals to
// commitment and returns a new Snapshot with that allocation's seal
// replaced by revealed, plus the matching Allocation (for the caller to
// fold the reveal back into the owning transition/extension). ok is
// false when no open allocation conceals to commitment.
func (s *Snapshot) RevealSeal(commitment [32]byte, revealed seal.Definition) (*Snapshot, Allocation, bool) {
	var ref node.ParentRef
	var found Allocation
	ok := false
	for r, a := range s.allocations {
		if a.Seal.Form == seal.FormConcealed && a.Seal.Commitment == commitment {
			ref, found = r, a
			ok = true
			break
		}
	}
	if !ok {
		return s, Allocation{}, false
	}
	c := s.copy()
	found.Seal = revealed
	c.allocations[ref] = found
	if out, isOut := found.outpoint(); isOut {
		c.byOutpoint[out] = append(c.byOutpoint[out], ref)
	}
	return c, found, true
}

// Store keeps one hot Snapshot per contract in memory, swapped
// atomically under a mutex: writers install a new Snapshot and readers
// that already hold a reference to the old one keep seeing a
// consistent, unmutated view. Cold contracts are absent until their
// first Get, at which point the caller is expected to populate them
// via Put after rebuilding from the Stash Store/Index.
type Store struct {
	mu   sync.RWMutex
	hot  map[node.ContractID]*Snapshot
}

func NewStore() *Store {
	return &Store{hot: map[node.ContractID]*Snapshot{}}
}

// Get returns the current Snapshot for contractID, or false if it
// isn't loaded.
func (st *Store) Get(contractID node.ContractID) (*Snapshot, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.hot[contractID]
	return s, ok
}

// Put installs snap as the current Snapshot for its contract,
// atomically replacing whatever was there before.
func (st *Store) Put(snap *Snapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.hot[snap.ContractID] = snap
}

// Evict drops a contract's in-memory Snapshot, forcing the next Get to
// report absent; used by prune and by memory-pressure housekeeping. The
// contract's durable history is untouched.
func (st *Store) Evict(contractID node.ContractID) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.hot, contractID)
}
