// Package consigner implements compose: assembling a self-contained
// validator.Consignment for a counterparty from the local stash.
//
// The shape is a CLI export frontend pattern: pull the rows matching a
// filter, walk their dependencies backward until the graph closes, and
// pack the result into a portable artifact. What's new here is the
// privacy rule: every owned amount
// not on the path from a requested endpoint back to genesis ships
// concealed, so a counterparty receiving one allocation never learns
// the sender's other balances under the same contract. A requested
// outpoint may also be a genesis allocation, which then ships revealed.
// A Request with no Outpoints names no endpoints; every owned slot of
// every included transition then ships revealed.
package consigner

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sealchain/stash/internal/anchor"
	"github.com/sealchain/stash/internal/index"
	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/schema"
	"github.com/sealchain/stash/internal/seal"
	"github.com/sealchain/stash/internal/stasherr"
	"github.com/sealchain/stash/internal/store"
	"github.com/sealchain/stash/internal/validator"
)

// Request parameterizes compose: which contract, which of its
// transitions to offer as fresh endpoints, and a byte ceiling on the
// packed result. Extensions aren't endpoint candidates: they close
// public rights rather than owned seals, so IncludeTypes/Outpoints
// don't apply to them; any extensions in a contract's history still
// ride along if an included transition's graph closure needs one.
type Request struct {
	ContractID   node.ContractID
	Outpoints    []seal.Outpoint // owned-right slots being handed to the counterparty
	IncludeTypes []string        // transition types to consider; empty means every transition type the schema declares
	MaxBytes     int             // 0 means unbounded
}

type graph struct {
	genesis     *node.Genesis
	transitions map[node.ID]*node.Transition
	extensions  map[node.ID]*node.Extension
	onPath      map[node.ID]map[uint32]bool
}

// Compose builds a Consignment satisfying req from st/idx. It returns a
// *stasherr.Error with code Outsized if the packed result would exceed
// req.MaxBytes.
func Compose(ctx context.Context, st *store.Store, idx *index.Index, req Request) (*validator.Consignment, error) {
	sc, err := loadSchema(ctx, st, idx, req.ContractID)
	if err != nil {
		return nil, err
	}
	g, err := st.GetGenesis(ctx, req.ContractID)
	if err != nil {
		return nil, err
	}

	gr := &graph{
		genesis:     g,
		transitions: map[node.ID]*node.Transition{},
		extensions:  map[node.ID]*node.Extension{},
		onPath:      map[node.ID]map[uint32]bool{},
	}

	targets, err := findTargets(ctx, st, idx, req, gr)
	if err != nil {
		return nil, err
	}

	endpoints, err := walkAndMark(ctx, st, idx, req, gr, targets)
	if err != nil {
		return nil, err
	}

	c := &validator.Consignment{
		Schema:      sc.schema,
		RootSchema:  sc.root,
		Genesis:     concealGenesis(gr.genesis, gr.onPath[g.NodeID()]),
		Transitions: map[node.ID]*node.Transition{},
		Extensions:  map[node.ID]*node.Extension{},
		Anchors:     map[string]*anchor.Anchor{},
		Bundles:     map[string]*anchor.Bundle{},
		Endpoints:   endpoints,
	}
	for id, t := range gr.transitions {
		c.Transitions[id] = concealTransition(t, gr.onPath[id])
	}
	for id, e := range gr.extensions {
		c.Extensions[id] = concealExtension(e, gr.onPath[id])
	}

	if err := attachAnchorsAndBundles(ctx, st, idx, req.ContractID, c); err != nil {
		return nil, err
	}

	if req.MaxBytes > 0 {
		if size := packedSize(c); size > req.MaxBytes {
			return nil, stasherr.New(stasherr.Outsized, "consignment is %d bytes, exceeds limit of %d", size, req.MaxBytes).
				WithDetails(map[string]string{"size": itoa(size), "limit": itoa(req.MaxBytes)})
		}
	}

	return c, nil
}

type schemas struct {
	schema *schema.Schema
	root   *schema.Schema
}

func loadSchema(ctx context.Context, st *store.Store, idx *index.Index, contractID node.ContractID) (schemas, error) {
	g, err := st.GetGenesis(ctx, contractID)
	if err != nil {
		return schemas{}, err
	}
	sc, err := st.GetSchema(ctx, g.SchemaID)
	if err != nil {
		return schemas{}, err
	}
	out := schemas{schema: sc}
	if g.RootSchemaID != nil {
		root, err := st.GetSchema(ctx, *g.RootSchemaID)
		if err != nil {
			return schemas{}, err
		}
		out.root = root
	}
	return out, nil
}

// findTargets resolves req's filters (IncludeTypes/Outpoints) to the
// concrete set of transition node-ids to offer as fresh endpoints,
// loading each into gr.
func findTargets(ctx context.Context, st *store.Store, idx *index.Index, req Request, gr *graph) ([]node.ID, error) {
	types := req.IncludeTypes
	if len(types) == 0 {
		sc, err := loadSchema(ctx, st, idx, req.ContractID)
		if err != nil {
			return nil, err
		}
		for typ := range sc.schema.Transitions {
			types = append(types, typ)
		}
	}
	sort.Strings(types)

	seen := map[node.ID]bool{}
	var ids []node.ID

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, typ := range types {
		typ := typ
		g.Go(func() error {
			found, err := idx.NodesByType(gctx, req.ContractID, typ)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range found {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool {
		bi, bj := ids[i].Byte32(), ids[j].Byte32()
		return string(bi[:]) < string(bj[:])
	})

	if len(req.Outpoints) == 0 {
		return loadAll(ctx, st, gr, ids)
	}

	var out []node.ID
	for _, id := range ids {
		t, err := loadTransition(ctx, st, gr, id)
		if err != nil {
			return nil, err
		}
		if transitionMatchesOutpoints(t, req.Outpoints) {
			out = append(out, id)
		}
	}
	return out, nil
}

func loadAll(ctx context.Context, st *store.Store, gr *graph, ids []node.ID) ([]node.ID, error) {
	for _, id := range ids {
		if _, err := loadTransition(ctx, st, gr, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func loadTransition(ctx context.Context, st *store.Store, gr *graph, id node.ID) (*node.Transition, error) {
	if t, ok := gr.transitions[id]; ok {
		return t, nil
	}
	t, err := st.GetTransition(ctx, id)
	if err != nil {
		return nil, err
	}
	gr.transitions[id] = t
	return t, nil
}

// loadAncestor loads a parent-ref's node into gr, transition or
// extension, and reports the further parent-refs (if any) the walk
// still needs to follow; an extension ancestor has none, since
// extensions allocate from public rights rather than closing a parent
// owned right.
func loadAncestor(ctx context.Context, st *store.Store, gr *graph, id node.ID) ([]node.ParentRef, error) {
	if t, ok := gr.transitions[id]; ok {
		return t.Parents, nil
	}
	if _, ok := gr.extensions[id]; ok {
		return nil, nil
	}
	isTransition, err := st.HasTransition(ctx, id)
	if err != nil {
		return nil, err
	}
	if isTransition {
		t, err := st.GetTransition(ctx, id)
		if err != nil {
			return nil, err
		}
		gr.transitions[id] = t
		return t.Parents, nil
	}
	e, err := st.GetExtension(ctx, id)
	if err != nil {
		return nil, err
	}
	gr.extensions[id] = e
	return nil, nil
}

func transitionMatchesOutpoints(t *node.Transition, outpoints []seal.Outpoint) bool {
	for _, a := range t.Owned {
		if a.Seal.Form != seal.FormRevealed {
			continue
		}
		for _, o := range outpoints {
			if a.Seal.Outpoint == o {
				return true
			}
		}
	}
	return false
}

// walkAndMark performs the ancestor-frontier walk from every target back
// to genesis, loading ancestors as needed and marking the on-path
// owned-right slots that must ship revealed. It returns the Endpoint
// list describing what the counterparty is being handed.
func walkAndMark(ctx context.Context, st *store.Store, idx *index.Index, req Request, gr *graph, targets []node.ID) ([]validator.Endpoint, error) {
	mark := func(id node.ID, slot uint32) {
		m, ok := gr.onPath[id]
		if !ok {
			m = map[uint32]bool{}
			gr.onPath[id] = m
		}
		m[slot] = true
	}

	var walk func(ref node.ParentRef) error
	walk = func(ref node.ParentRef) error {
		mark(ref.Node, ref.Index)
		if ref.Node == gr.genesis.NodeID() {
			return nil
		}
		parents, err := loadAncestor(ctx, st, gr, ref.Node)
		if err != nil {
			return err
		}
		for _, p := range parents {
			if err := walk(p); err != nil {
				return err
			}
		}
		return nil
	}

	gid := gr.genesis.NodeID()
	for i, a := range gr.genesis.Owned {
		for _, o := range req.Outpoints {
			if a.Seal.Form == seal.FormRevealed && a.Seal.Outpoint == o {
				mark(gid, uint32(i))
			}
		}
	}

	var endpoints []validator.Endpoint
	for _, tid := range targets {
		t := gr.transitions[tid]
		for i, a := range t.Owned {
			if len(req.Outpoints) == 0 {
				mark(tid, uint32(i))
			}
			if a.Seal.Form != seal.FormRevealed {
				continue
			}
			for _, o := range req.Outpoints {
				if a.Seal.Outpoint == o {
					mark(tid, uint32(i))
					bundleID, ok, err := idx.BundleFor(ctx, t.Witness, req.ContractID)
					if err != nil {
						return nil, err
					}
					if ok {
						endpoints = append(endpoints, validator.Endpoint{
							WitnessTxid: t.Witness,
							BundleID:    bundleID,
							Seal:        a.Seal,
						})
					}
				}
			}
		}
		for _, p := range t.Parents {
			if err := walk(p); err != nil {
				return nil, err
			}
		}
	}
	return endpoints, nil
}

func concealAssignment(a node.Assignment) node.Assignment {
	return node.Assignment{
		Type:   a.Type,
		Seal:   seal.Definition{Form: seal.FormConcealed, Commitment: a.Seal.Conceal()},
		Amount: node.Amount{Revealed: false, Commitment: a.Amount.Conceal()},
	}
}

func concealOwned(owned []node.Assignment, onPath map[uint32]bool) []node.Assignment {
	out := make([]node.Assignment, len(owned))
	for i, a := range owned {
		if onPath[uint32(i)] {
			out[i] = a
		} else {
			out[i] = concealAssignment(a)
		}
	}
	return out
}

func concealGenesis(g *node.Genesis, onPath map[uint32]bool) *node.Genesis {
	out := *g
	out.Owned = concealOwned(g.Owned, onPath)
	return &out
}

func concealTransition(t *node.Transition, onPath map[uint32]bool) *node.Transition {
	out := *t
	out.Owned = concealOwned(t.Owned, onPath)
	return &out
}

func concealExtension(e *node.Extension, onPath map[uint32]bool) *node.Extension {
	out := *e
	out.Owned = concealOwned(e.Owned, onPath)
	return &out
}

// attachAnchorsAndBundles pulls in, for every witness txid appearing
// among c's transitions/extensions, a redacted Anchor (this contract's
// pair only, privacy-preserving toward any other contract sharing the
// same witness transaction) plus the full Bundle for this contract.
func attachAnchorsAndBundles(ctx context.Context, st *store.Store, idx *index.Index, contractID node.ContractID, c *validator.Consignment) error {
	txids := map[string]bool{}
	for _, t := range c.Transitions {
		if t.Witness != "" {
			txids[t.Witness] = true
		}
	}
	for _, e := range c.Extensions {
		if e.Witness != "" {
			txids[e.Witness] = true
		}
	}

	for txid := range txids {
		bundleID, ok, err := idx.BundleFor(ctx, txid, contractID)
		if err != nil {
			return err
		}
		if !ok {
			return stasherr.New(stasherr.ContractBundleMissed, "no bundle recorded for witness %s", txid)
		}
		anchorID, ok, err := idx.AnchorOf(ctx, firstNodeForWitness(c, txid))
		if err != nil {
			return err
		}
		if !ok {
			return stasherr.New(stasherr.AnchorAbsent, "no anchor recorded for witness %s", txid)
		}
		full, err := st.GetAnchor(ctx, anchorID)
		if err != nil {
			return err
		}
		redacted, err := full.Redacted(contractID)
		if err != nil {
			return err
		}
		c.Anchors[txid] = redacted

		bundle := anchor.NewBundle()
		for _, t := range c.Transitions {
			if t.Witness != txid {
				continue
			}
			for _, p := range t.Parents {
				bundle.Add(t.NodeID(), p.Index)
			}
		}
		if bundle.ID() != bundleID {
			return stasherr.New(stasherr.DataIntegrity, "reconstructed bundle for witness %s does not match the indexed bundle-id", txid)
		}
		c.Bundles[txid] = bundle
	}
	return nil
}

func firstNodeForWitness(c *validator.Consignment, txid string) node.ID {
	for id, t := range c.Transitions {
		if t.Witness == txid {
			return id
		}
	}
	for id, e := range c.Extensions {
		if e.Witness == txid {
			return id
		}
	}
	return node.ID{}
}

func packedSize(c *validator.Consignment) int {
	size := len(c.Schema.Bytes())
	if c.RootSchema != nil {
		size += len(c.RootSchema.Bytes())
	}
	size += len(c.Genesis.Bytes())
	for _, t := range c.Transitions {
		size += len(t.Bytes())
	}
	for _, e := range c.Extensions {
		size += len(e.Bytes())
	}
	for _, a := range c.Anchors {
		size += len(a.Bytes())
	}
	return size
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
