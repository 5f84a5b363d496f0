package stash

import (
	"context"
	"testing"

	"github.com/sealchain/stash/internal/enclose"
	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/seal"
)

func TestFinalizeSharedWitnessTwoContracts(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	sc := assetSchema()

	cA, gA := buildGenesisConsignment(sc)
	if _, err := e.Accept(ctx, cA, nil, false); err != nil {
		t.Fatal(err)
	}
	cB, _ := buildGenesisConsignment(sc)
	gB := &node.Genesis{SchemaID: sc.ID(), Meta: node.Metadata{}, Owned: []node.Assignment{revealedAssignment("asset", "genesis-tx-b", 0, 50)}}
	cB.Genesis = gB
	if _, err := e.Accept(ctx, cB, nil, false); err != nil {
		t.Fatal(err)
	}

	trA := &node.Transition{
		TransitionType: "transfer",
		Meta:           node.Metadata{},
		Parents:        []node.ParentRef{{Node: gA.NodeID(), Index: 0}},
		Owned:          []node.Assignment{revealedAssignment("asset", "shared-tx", 0, 100)},
		Witness:        "shared-tx",
	}
	trB := &node.Transition{
		TransitionType: "transfer",
		Meta:           node.Metadata{},
		Parents:        []node.ParentRef{{Node: gB.NodeID(), Index: 0}},
		Owned:          []node.Assignment{revealedAssignment("asset", "shared-tx", 1, 50)},
		Witness:        "shared-tx",
	}

	closes := []enclose.ContractClose{
		{ContractID: cA.ContractID(), Transitions: []*node.Transition{trA}},
		{ContractID: cB.ContractID(), Transitions: []*node.Transition{trB}},
	}

	a, d, err := e.Finalize(ctx, "shared-tx", cA.ContractID(), closes)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := a.Contracts[cA.ContractID()]; !ok {
		t.Fatal("expected the anchor to commit contract A's bundle")
	}
	if d == nil {
		t.Fatal("expected a Disclosure when two contracts share the witness transaction")
	}
	if _, ok := d.Bundles[cB.ContractID()]; !ok {
		t.Fatal("expected the Disclosure to carry contract B's bundle")
	}

	snapA, err := e.snapshot(ctx, cA.ContractID())
	if err != nil {
		t.Fatal(err)
	}
	if len(snapA.AtOutpoint(seal.Outpoint{Txid: "shared-tx", Vout: 0})) != 1 {
		t.Fatal("expected contract A's new allocation to appear after Finalize")
	}
	if len(snapA.AtOutpoint(seal.Outpoint{Txid: "genesis-tx", Vout: 0})) != 0 {
		t.Fatal("expected contract A's genesis outpoint closed after Finalize")
	}

	// Contract B's snapshot in this same engine is evicted, not
	// eagerly rebuilt; the next access rebuilds it from the store.
	snapB, err := e.snapshot(ctx, cB.ContractID())
	if err != nil {
		t.Fatal(err)
	}
	if len(snapB.AtOutpoint(seal.Outpoint{Txid: "shared-tx", Vout: 1})) != 1 {
		t.Fatal("expected contract B's new allocation to appear once its snapshot is rebuilt")
	}
}

func TestApplyDisclosureAppliesCounterpartyContract(t *testing.T) {
	ctx := context.Background()
	originator, _ := testEngine(t)
	counterparty, _ := testEngine(t)
	sc := assetSchema()

	cA, gA := buildGenesisConsignment(sc)
	if _, err := originator.Accept(ctx, cA, nil, false); err != nil {
		t.Fatal(err)
	}

	cB, _ := buildGenesisConsignment(sc)
	cB.Genesis = &node.Genesis{SchemaID: sc.ID(), Meta: node.Metadata{}, Owned: []node.Assignment{revealedAssignment("asset", "genesis-tx-b", 0, 50)}}
	gB := cB.Genesis
	if _, err := originator.Accept(ctx, cB, nil, false); err != nil {
		t.Fatal(err)
	}
	// counterparty only tracks contract B, the one it cares about.
	if err := counterparty.ImportSchema(ctx, sc); err != nil {
		t.Fatal(err)
	}
	if err := counterparty.ImportGenesis(ctx, gB); err != nil {
		t.Fatal(err)
	}

	trA := &node.Transition{
		TransitionType: "transfer",
		Meta:           node.Metadata{},
		Parents:        []node.ParentRef{{Node: gA.NodeID(), Index: 0}},
		Owned:          []node.Assignment{revealedAssignment("asset", "shared-tx", 0, 100)},
		Witness:        "shared-tx",
	}
	trB := &node.Transition{
		TransitionType: "transfer",
		Meta:           node.Metadata{},
		Parents:        []node.ParentRef{{Node: gB.NodeID(), Index: 0}},
		Owned:          []node.Assignment{revealedAssignment("asset", "shared-tx", 1, 50)},
		Witness:        "shared-tx",
	}
	closes := []enclose.ContractClose{
		{ContractID: cA.ContractID(), Transitions: []*node.Transition{trA}},
		{ContractID: cB.ContractID(), Transitions: []*node.Transition{trB}},
	}

	_, d, err := originator.Finalize(ctx, "shared-tx", cA.ContractID(), closes)
	if err != nil {
		t.Fatal(err)
	}
	if d == nil {
		t.Fatal("expected a Disclosure to hand to the counterparty")
	}

	if err := counterparty.ApplyDisclosure(ctx, d); err != nil {
		t.Fatal(err)
	}

	// ApplyDisclosure only proves the shared witness committed contract
	// B's bundle; it carries no transition bytes, so B's own allocations
	// don't move until the counterparty separately receives and accepts
	// trB through a regular consign/accept exchange.
	bundleID, ok, err := counterparty.index.BundleFor(ctx, "shared-tx", cB.ContractID())
	if err != nil {
		t.Fatal(err)
	}
	if !ok || bundleID != d.Bundles[cB.ContractID()].ID() {
		t.Fatal("expected the disclosed bundle recorded against contract B's witness")
	}

	snapB, err := counterparty.snapshot(ctx, cB.ContractID())
	if err != nil {
		t.Fatal(err)
	}
	if len(snapB.AtOutpoint(seal.Outpoint{Txid: "genesis-tx-b", Vout: 0})) != 1 {
		t.Fatal("expected contract B's genesis allocation still open until the actual transition is accepted")
	}

	if _, err := counterparty.store.MergeTransition(ctx, trB); err != nil {
		t.Fatal(err)
	}
	if err := counterparty.index.IndexTransition(ctx, cB.ContractID(), d.Anchor.ID(), trB); err != nil {
		t.Fatal(err)
	}
	counterparty.state.Evict(cB.ContractID())

	snapB, err = counterparty.snapshot(ctx, cB.ContractID())
	if err != nil {
		t.Fatal(err)
	}
	if len(snapB.AtOutpoint(seal.Outpoint{Txid: "shared-tx", Vout: 1})) != 1 {
		t.Fatal("expected contract B's post-close allocation once the transition itself is also known")
	}
}
