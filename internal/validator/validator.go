// Package validator implements the Validator: a function from a
// consignment and a resolver to a Status, classifying how far the
// consignment can be trusted before it is merged into the local stash.
//
// The six-step algorithm below runs its checks in a fixed order: schema
// conformance, then graph closure, then the on-chain anchor
// commitments, then seal closure, then the schema's validation
// strategies, then endpoint confirmation. The first step that finds a
// problem sets the Status and Validate returns it; later steps are not
// run.
package validator

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/sealchain/stash/internal/anchor"
	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/resolver"
	"github.com/sealchain/stash/internal/schema"
	"github.com/sealchain/stash/internal/seal"
)

// Code is the overall verdict.
type Code byte

const (
	Valid Code = iota
	ValidExceptEndpoints
	UnresolvedTransactions
	Invalid
)

func (c Code) String() string {
	switch c {
	case Valid:
		return "Valid"
	case ValidExceptEndpoints:
		return "ValidExceptEndpoints"
	case UnresolvedTransactions:
		return "UnresolvedTransactions"
	case Invalid:
		return "Invalid"
	}
	return "Unknown"
}

// Status is the Validator's full verdict: a classification plus the
// detail lists a caller (or an operator) needs to understand why.
type Status struct {
	Code     Code
	Failures []string
	Warnings []string
	Info     []string
}

func (s *Status) fail(msg string) { s.Failures = append(s.Failures, msg) }
func (s *Status) warn(msg string) { s.Warnings = append(s.Warnings, msg) }
func (s *Status) info(msg string) { s.Info = append(s.Info, msg) }

// Endpoint is one (bundle, seal) pair a consignment nominates as an
// output the recipient can subsequently spend from.
type Endpoint struct {
	WitnessTxid string
	BundleID    node.ID
	Seal        seal.Definition
}

// Consignment is the self-contained unit the Validator checks: a
// schema (plus optional root schema), a contract's genesis, whatever
// transitions/extensions are being presented, the anchors and
// per-contract bundles that commit them, and the endpoints the sender
// is offering.
type Consignment struct {
	Schema      *schema.Schema
	RootSchema  *schema.Schema
	Genesis     *node.Genesis
	Transitions map[node.ID]*node.Transition
	Extensions  map[node.ID]*node.Extension
	Anchors     map[string]*anchor.Anchor // by witness txid
	Bundles     map[string]*anchor.Bundle // by witness txid, this contract's bundle
	Endpoints   []Endpoint
}

// ContractID is the consignment's contract-id: its genesis's node-id.
func (c *Consignment) ContractID() node.ContractID { return c.Genesis.NodeID() }

// KnownElsewhere lets the caller plug in "is this node-id already
// present in the local stash" for the graph-closure step, so a merge
// into an existing contract's history doesn't require every ancestor to
// be re-sent. The Validator stays a pure function of its own inputs
// otherwise; Validate(nil) treats every parent not inside the
// consignment as unresolved, matching a from-scratch consignment check.
type KnownElsewhere func(id node.ID) bool

// Validate runs the full algorithm and returns a Status. ctx governs
// the resolver calls made in step 3; errgroup fans those calls out
// across anchors/witness-txids, the same signature-gathering fan-out
// pattern used elsewhere for CPU/IO-bound per-item work.
func Validate(ctx context.Context, c *Consignment, res resolver.Resolver, known KnownElsewhere) (Status, error) {
	var st Status

	if fails := checkSchemaConformance(c); len(fails) > 0 {
		st.Code = Invalid
		st.Failures = append(st.Failures, fails...)
		return st, nil
	}

	if fails := checkGraphClosure(c, known); len(fails) > 0 {
		st.Code = Invalid
		st.Failures = append(st.Failures, fails...)
		return st, nil
	}

	unresolved, fails, err := checkAnchorCommitments(ctx, c, res)
	if err != nil {
		return Status{}, err
	}
	if unresolved {
		st.Code = UnresolvedTransactions
		st.Failures = fails
		return st, nil
	}
	if len(fails) > 0 {
		st.Code = Invalid
		st.Failures = fails
		return st, nil
	}

	if fails := checkSealClosure(ctx, c, res); len(fails) > 0 {
		st.Code = Invalid
		st.Failures = fails
		return st, nil
	}

	if fails := checkScripts(c); len(fails) > 0 {
		st.Code = Invalid
		st.Failures = fails
		return st, nil
	}

	endpointsMined, err := checkEndpointMining(ctx, c, res)
	if err != nil {
		return Status{}, err
	}
	if !endpointsMined {
		st.Code = ValidExceptEndpoints
		st.warn("one or more endpoint witness transactions are unconfirmed")
		return st, nil
	}

	st.Code = Valid
	return st, nil
}

func checkSchemaConformance(c *Consignment) []string {
	var out []string
	for _, f := range c.Schema.CheckGenesis(c.Genesis) {
		out = append(out, f.String())
	}
	if c.RootSchema != nil {
		for _, f := range schema.CheckRootCompat(c.Schema, c.RootSchema) {
			out = append(out, f.String())
		}
	}
	for _, t := range c.Transitions {
		for _, f := range c.Schema.CheckTransition(t) {
			out = append(out, f.String())
		}
	}
	for _, e := range c.Extensions {
		for _, f := range c.Schema.CheckExtension(e) {
			out = append(out, f.String())
		}
	}
	return out
}

// parentAssignment resolves a ParentRef to the Assignment it names,
// looking in genesis first and then the consignment's transitions.
func (c *Consignment) parentAssignment(ref node.ParentRef) (node.Assignment, bool) {
	if ref.Node == c.Genesis.NodeID() {
		if int(ref.Index) < len(c.Genesis.Owned) {
			return c.Genesis.Owned[ref.Index], true
		}
		return node.Assignment{}, false
	}
	if t, ok := c.Transitions[ref.Node]; ok {
		if int(ref.Index) < len(t.Owned) {
			return t.Owned[ref.Index], true
		}
	}
	return node.Assignment{}, false
}

func checkGraphClosure(c *Consignment, known KnownElsewhere) []string {
	var out []string
	seen := map[node.ID]bool{}
	var walk func(ref node.ParentRef)
	walk = func(ref node.ParentRef) {
		if seen[ref.Node] {
			return
		}
		seen[ref.Node] = true
		if ref.Node == c.Genesis.NodeID() {
			return
		}
		t, ok := c.Transitions[ref.Node]
		if !ok {
			if known != nil && known(ref.Node) {
				return
			}
			out = append(out, "unresolved ancestor node-id "+node.Bech32("rgb:t", ref.Node))
			return
		}
		for _, p := range t.Parents {
			walk(p)
		}
	}
	for _, t := range c.Transitions {
		for _, p := range t.Parents {
			walk(p)
		}
	}
	return out
}

// checkAnchorCommitments fetches every witness transaction this
// consignment's anchors name and verifies the anchor's Merkle block
// commits to the contract's bundle-id, and that the bundle's own
// transition set matches exactly the transitions the consignment claims
// share that witness. unresolved is true if any resolver call returned
// NotFound/Unresolvable; fails carries structural mismatches found
// among the rest.
func checkAnchorCommitments(ctx context.Context, c *Consignment, res resolver.Resolver) (unresolved bool, fails []string, err error) {
	contractID := c.ContractID()

	txids := make([]string, 0, len(c.Anchors))
	for txid := range c.Anchors {
		txids = append(txids, txid)
	}
	sort.Strings(txids)

	type outcome struct {
		txid         string
		result       resolver.Result
		tx           resolver.Transaction
		confirmation uint64
	}
	outcomes := make([]outcome, len(txids))

	g, gctx := errgroup.WithContext(ctx)
	for i, txid := range txids {
		i, txid := i, txid
		g.Go(func() error {
			tx, height, result, err := res.Resolve(gctx, txid)
			outcomes[i] = outcome{txid: txid, result: result, tx: tx, confirmation: height}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return false, nil, err
	}

	for _, o := range outcomes {
		if o.result != resolver.Found {
			unresolved = true
			fails = append(fails, "witness transaction "+o.txid+" could not be resolved")
			continue
		}
		a := c.Anchors[o.txid]
		bundle, ok := c.Bundles[o.txid]
		if !ok {
			fails = append(fails, "no bundle supplied for witness "+o.txid)
			continue
		}
		if !a.Contains(contractID, bundle.ID()) {
			fails = append(fails, "anchor for witness "+o.txid+" does not commit to the supplied bundle")
			continue
		}
		expected := map[node.ID]bool{}
		for _, t := range c.Transitions {
			if t.Witness == o.txid {
				expected[t.NodeID()] = true
			}
		}
		if len(expected) != len(bundle.Closes) {
			fails = append(fails, "bundle for witness "+o.txid+" does not cover exactly this consignment's transitions for the witness")
			continue
		}
		for id := range expected {
			if _, ok := bundle.Closes[id]; !ok {
				fails = append(fails, "bundle for witness "+o.txid+" is missing transition "+node.Bech32("rgb:t", id))
			}
		}
	}
	return unresolved, fails, nil
}

func checkSealClosure(ctx context.Context, c *Consignment, res resolver.Resolver) []string {
	var out []string
	for _, t := range c.Transitions {
		if t.Witness == "" {
			continue
		}
		witnessTx, _, result, err := res.Resolve(ctx, t.Witness)
		if err != nil || result != resolver.Found {
			continue // already reported as unresolved by checkAnchorCommitments
		}
		for _, p := range t.Parents {
			parent, ok := c.parentAssignment(p)
			if !ok {
				continue
			}
			resolved := parent.Seal.Resolve(t.Witness)
			if resolved.Form != seal.FormRevealed {
				continue // concealed seal: closure isn't locally checkable
			}
			if !spentBy(witnessTx, resolved.Outpoint) {
				out = append(out, "transition "+node.Bech32("rgb:t", t.NodeID())+" claims a seal closure not spent by its witness transaction")
			}
		}
	}
	return out
}

func spentBy(tx resolver.Transaction, o seal.Outpoint) bool {
	for _, in := range tx.Inputs {
		if in.Txid == o.Txid && in.Vout == o.Vout {
			return true
		}
	}
	return false
}

func checkScripts(c *Consignment) []string {
	var out []string
	runAll := func(rightTypes map[string]bool, validations map[string]schema.RightValidation, parents []node.ParentRef, owned []node.Assignment, meta node.Metadata, nodeID node.ID, parentLookup func(node.ParentRef) (node.Assignment, bool), isIssuance bool) {
		var inputs []node.Assignment
		missingParent := false
		for _, p := range parents {
			if a, ok := parentLookup(p); ok {
				inputs = append(inputs, a)
			} else {
				missingParent = true
			}
		}
		for typ := range rightTypes {
			rv, ok := validations[typ]
			if !ok {
				continue
			}
			if missingParent && rv.Strategy == schema.StrategyConservation {
				// A parent held only in the local stash is not in the
				// consignment, so its amount cannot be summed here.
				continue
			}
			if err := schema.RunStrategy(rv, typ, inputs, owned, meta, nodeID, isIssuance); err != nil {
				out = append(out, "owned right "+typ+" on node "+node.Bech32("rgb:t", nodeID)+": "+err.Error())
			}
		}
	}

	runAll(c.Schema.OwnedRightTypes, c.Schema.Validations, nil, c.Genesis.Owned, c.Genesis.Meta, c.Genesis.NodeID(), c.parentAssignment, true)
	for _, t := range c.Transitions {
		runAll(c.Schema.OwnedRightTypes, c.Schema.Validations, t.Parents, t.Owned, t.Meta, t.NodeID(), c.parentAssignment, false)
	}
	for _, e := range c.Extensions {
		runAll(c.Schema.OwnedRightTypes, c.Schema.Validations, nil, e.Owned, e.Meta, e.NodeID(), c.parentAssignment, false)
	}
	return out
}

func checkEndpointMining(ctx context.Context, c *Consignment, res resolver.Resolver) (bool, error) {
	if len(c.Endpoints) == 0 {
		return true, nil
	}
	tip, err := res.TipHeight(ctx)
	if err != nil {
		return false, err
	}
	seen := map[string]bool{}
	for _, ep := range c.Endpoints {
		if seen[ep.WitnessTxid] {
			continue
		}
		seen[ep.WitnessTxid] = true
		_, height, result, err := res.Resolve(ctx, ep.WitnessTxid)
		if err != nil {
			return false, err
		}
		if result != resolver.Found || height > tip {
			return false, nil
		}
	}
	return true, nil
}
