package consigner

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sealchain/stash/internal/anchor"
	"github.com/sealchain/stash/internal/index"
	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/schema"
	"github.com/sealchain/stash/internal/seal"
	"github.com/sealchain/stash/internal/stasherr"
	"github.com/sealchain/stash/internal/store"
)

func testBackends(t *testing.T) (*store.Store, *index.Index) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	st, err := store.Open(db, "sqlite3")
	if err != nil {
		t.Fatal(err)
	}
	idx, err := index.Open(ctx, db, "sqlite3")
	if err != nil {
		t.Fatal(err)
	}
	return st, idx
}

func assetSchema() *schema.Schema {
	return &schema.Schema{
		FieldTypes:       map[string]node.FieldType{},
		OwnedRightTypes:  map[string]bool{"asset": true},
		PublicRightTypes: map[string]bool{},
		Genesis:          schema.Shape{Fields: map[string]schema.Occurrence{}, Owned: map[string]schema.Occurrence{"asset": {Min: 1, Max: 2}}, Public: map[string]bool{}},
		Transitions: map[string]schema.Shape{
			"transfer": {Fields: map[string]schema.Occurrence{}, Owned: map[string]schema.Occurrence{"asset": {Min: 1, Max: 2}}, Public: map[string]bool{}},
		},
		Extensions:     map[string]schema.Shape{},
		Validations:    map[string]schema.RightValidation{"asset": {Strategy: schema.StrategyConservation}},
		AggregateTypes: map[string]bool{"asset": true},
	}
}

func revealed(txid string, vout uint32, amt uint64) node.Assignment {
	return node.Assignment{
		Type:   "asset",
		Seal:   seal.Definition{Form: seal.FormRevealed, Outpoint: seal.Outpoint{Txid: txid, Vout: vout}},
		Amount: node.RevealedAmount(amt),
	}
}

// seedChain persists a genesis and one transfer transition spending it,
// with the transition's witness anchored and indexed, and returns their
// node-ids plus the witness txid.
func seedChain(t *testing.T, ctx context.Context, st *store.Store, idx *index.Index, sc *schema.Schema) (node.ContractID, node.ID, string) {
	g := &node.Genesis{SchemaID: sc.ID(), Meta: node.Metadata{}, Owned: []node.Assignment{
		revealed("genesis-tx", 0, 100),
		revealed("genesis-tx", 1, 50), // untouched by the seeded transition, stays off-path
	}}
	if err := st.PutSchema(ctx, sc); err != nil {
		t.Fatal(err)
	}
	if err := st.PutGenesis(ctx, g); err != nil {
		t.Fatal(err)
	}

	witness := "witness-tx"
	tr := &node.Transition{
		TransitionType: "transfer",
		Meta:           node.Metadata{},
		Parents:        []node.ParentRef{{Node: g.NodeID(), Index: 0}},
		Owned:          []node.Assignment{revealed(witness, 0, 100)},
		Witness:        witness,
	}
	if err := st.PutTransition(ctx, tr); err != nil {
		t.Fatal(err)
	}

	bundle := anchor.NewBundle()
	bundle.Add(tr.NodeID(), 0)
	a := anchor.NewAnchor(witness)
	a.Contracts[g.NodeID()] = bundle.ID()
	if err := st.PutAnchor(ctx, a); err != nil {
		t.Fatal(err)
	}

	if err := idx.IndexTransition(ctx, g.NodeID(), a.ID(), tr); err != nil {
		t.Fatal(err)
	}
	if err := idx.IndexBundle(ctx, witness, g.NodeID(), bundle.ID()); err != nil {
		t.Fatal(err)
	}

	return g.NodeID(), tr.NodeID(), witness
}

func TestComposeRevealsOnlyTheRequestedOutpoint(t *testing.T) {
	ctx := context.Background()
	st, idx := testBackends(t)
	sc := assetSchema()
	contractID, trID, witness := seedChain(t, ctx, st, idx, sc)

	c, err := Compose(ctx, st, idx, Request{
		ContractID: contractID,
		Outpoints:  []seal.Outpoint{{Txid: witness, Vout: 0}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if c.Genesis.Owned[0].Seal.Form != seal.FormRevealed {
		t.Fatal("expected the genesis allocation the endpoint directly closes to ship revealed, since it's on the endpoint's path to genesis")
	}
	if c.Genesis.Owned[1].Seal.Form != seal.FormConcealed {
		t.Fatal("expected the unrelated genesis allocation to stay concealed")
	}
	tr, ok := c.Transitions[trID]
	if !ok {
		t.Fatal("expected the target transition in the consignment")
	}
	if tr.Owned[0].Seal.Form != seal.FormRevealed {
		t.Fatal("expected the requested endpoint's assignment to ship revealed")
	}
	if len(c.Endpoints) != 1 || c.Endpoints[0].WitnessTxid != witness {
		t.Fatalf("expected one endpoint for witness %s, got %+v", witness, c.Endpoints)
	}
	if _, ok := c.Anchors[witness]; !ok {
		t.Fatal("expected an anchor attached for the witness txid")
	}
	if _, ok := c.Bundles[witness]; !ok {
		t.Fatal("expected a bundle attached for the witness txid")
	}
}

func TestComposeRejectsOversizedRequest(t *testing.T) {
	ctx := context.Background()
	st, idx := testBackends(t)
	sc := assetSchema()
	contractID, _, witness := seedChain(t, ctx, st, idx, sc)

	_, err := Compose(ctx, st, idx, Request{
		ContractID: contractID,
		Outpoints:  []seal.Outpoint{{Txid: witness, Vout: 0}},
		MaxBytes:   1,
	})
	if !stasherr.Is(err, stasherr.Outsized) {
		t.Fatalf("expected Outsized error, got %v", err)
	}
}
