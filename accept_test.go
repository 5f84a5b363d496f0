package stash

import (
	"context"
	"testing"

	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/resolver"
	"github.com/sealchain/stash/internal/seal"
	"github.com/sealchain/stash/internal/validator"
)

func TestAcceptValidConsignmentCommits(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	sc := assetSchema()
	c, _ := buildGenesisConsignment(sc)

	result, err := e.Accept(ctx, c, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status.Code != validator.Valid {
		t.Fatalf("expected Valid, got %v (%v)", result.Status.Code, result.Status.Failures)
	}

	snap, err := e.snapshot(ctx, c.ContractID())
	if err != nil {
		t.Fatal(err)
	}
	if got := snap.Aggregate("asset"); got != 100 {
		t.Fatalf("expected genesis allocation committed, got aggregate %d", got)
	}
}

func TestAcceptUnresolvedTransactionsDoesNotCommit(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	sc := assetSchema()
	c, g := buildGenesisConsignment(sc)
	extendWithTransfer(c, node.ParentRef{Node: g.NodeID(), Index: 0}, "witness-tx", 100)

	result, err := e.Accept(ctx, c, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status.Code != validator.UnresolvedTransactions {
		t.Fatalf("expected UnresolvedTransactions before the witness confirms, got %v", result.Status.Code)
	}

	if _, err := e.ExportGenesis(ctx, c.ContractID()); err == nil {
		t.Fatal("expected an UnresolvedTransactions verdict to leave the contract untracked")
	}
}

func TestAcceptValidExceptEndpointsRequiresForce(t *testing.T) {
	ctx := context.Background()
	e, res := testEngine(t)
	sc := assetSchema()
	c, g := buildGenesisConsignment(sc)
	tr := extendWithTransfer(c, node.ParentRef{Node: g.NodeID(), Index: 0}, "witness-tx", 100)
	c.Endpoints = []validator.Endpoint{{WitnessTxid: "witness-tx", BundleID: c.Bundles["witness-tx"].ID()}}

	res.Confirm(resolver.Transaction{Txid: "witness-tx", Inputs: []resolver.Outpoint{{Txid: "genesis-tx", Vout: 0}}}, 10)
	res.SetTip(5)

	result, err := e.Accept(ctx, c, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status.Code != validator.ValidExceptEndpoints {
		t.Fatalf("expected ValidExceptEndpoints, got %v", result.Status.Code)
	}
	if result.Forced {
		t.Fatal("expected Forced false when force was not requested")
	}
	if _, err := e.ExportGenesis(ctx, c.ContractID()); err == nil {
		t.Fatal("expected an un-forced ValidExceptEndpoints verdict to leave the contract untracked")
	}

	result, err = e.Accept(ctx, c, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Forced {
		t.Fatal("expected Forced true when force accepted a ValidExceptEndpoints verdict")
	}
	if _, err := e.ExportGenesis(ctx, c.ContractID()); err != nil {
		t.Fatalf("expected the forced accept to have committed the genesis, got %v", err)
	}

	snap, err := e.snapshot(ctx, c.ContractID())
	if err != nil {
		t.Fatal(err)
	}
	if got := snap.Aggregate("asset"); got != 100 {
		t.Fatalf("expected the transfer's 100-unit allocation to be reflected, got %d", got)
	}
	_ = tr
}

func TestAcceptWithKnownSealsRevealsInPlace(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	sc := assetSchema()

	revealed := seal.Definition{Form: seal.FormRevealed, Outpoint: seal.Outpoint{Txid: "blind-tx", Vout: 2}, Blinding: 42}
	commitment := revealed.Conceal()
	g := &node.Genesis{
		SchemaID: sc.ID(),
		Meta:     node.Metadata{},
		Owned: []node.Assignment{
			{Type: "asset", Seal: seal.Definition{Form: seal.FormConcealed, Commitment: commitment}, Amount: node.RevealedAmount(100)},
		},
	}
	c, _ := buildGenesisConsignment(sc)
	c.Genesis = g

	knownSeals := map[[32]byte]seal.Definition{commitment: revealed}

	result, err := e.Accept(ctx, c, knownSeals, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status.Code != validator.Valid {
		t.Fatalf("expected Valid, got %v (%v)", result.Status.Code, result.Status.Failures)
	}

	snap, err := e.snapshot(ctx, c.ContractID())
	if err != nil {
		t.Fatal(err)
	}
	at := snap.AtOutpoint(seal.Outpoint{Txid: "blind-tx", Vout: 2})
	if len(at) != 1 || at[0].Amount.Value != 100 {
		t.Fatalf("expected the concealed genesis allocation revealed at blind-tx:2, got %+v", at)
	}
}
