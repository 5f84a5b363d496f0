package stash

import (
	"context"
	"testing"

	"github.com/sealchain/stash/internal/consigner"
	"github.com/sealchain/stash/internal/seal"
	"github.com/sealchain/stash/internal/validator"
)

func TestConsignRoundTripsThroughAccept(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	sc := assetSchema()
	c, _ := buildGenesisConsignment(sc)

	if _, err := e.Accept(ctx, c, nil, false); err != nil {
		t.Fatal(err)
	}

	composed, err := e.Consign(ctx, consigner.Request{
		ContractID: c.ContractID(),
		Outpoints:  []seal.Outpoint{{Txid: "genesis-tx", Vout: 0}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if composed.Genesis.NodeID() != c.Genesis.NodeID() {
		t.Fatal("expected the composed consignment to carry the same genesis")
	}

	// A second engine accepting what the first one consigned should
	// reach the same aggregate state: consign then accept round-trips
	// (P6).
	other, _ := testEngine(t)
	st, err := other.Accept(ctx, composed, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status.Code != validator.Valid {
		t.Fatalf("expected the re-composed consignment to validate cleanly, got %v", st.Status.Code)
	}

	snap, err := other.snapshot(ctx, c.ContractID())
	if err != nil {
		t.Fatal(err)
	}
	if got := snap.Aggregate("asset"); got != 100 {
		t.Fatalf("expected aggregate 100 after consign round-trip, got %d", got)
	}
}

func TestConsignUnknownContract(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)

	_, err := e.Consign(ctx, consigner.Request{ContractID: fakeID(1)})
	if err == nil {
		t.Fatal("expected an error consigning an untracked contract")
	}
}
