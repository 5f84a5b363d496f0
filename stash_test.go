package stash

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sealchain/stash/internal/anchor"
	"github.com/sealchain/stash/internal/index"
	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/resolver/resolvertest"
	"github.com/sealchain/stash/internal/schema"
	"github.com/sealchain/stash/internal/seal"
	"github.com/sealchain/stash/internal/store"
	"github.com/sealchain/stash/internal/validator"
)

// testEngine builds an Engine over a fresh in-memory sqlite store/index
// pair and a resolvertest.Fake, one layer up from the lower-level test
// helpers, at the Engine's boundary.
func testEngine(t *testing.T) (*Engine, *resolvertest.Fake) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	st, err := store.Open(db, "sqlite3")
	if err != nil {
		t.Fatal(err)
	}
	idx, err := index.Open(context.Background(), db, "sqlite3")
	if err != nil {
		t.Fatal(err)
	}
	res := resolvertest.New()
	return New(st, idx, res), res
}

func fakeID(b byte) node.ID {
	var arr [32]byte
	arr[0] = b
	return node.IDFromArray(arr)
}

func assetSchema() *schema.Schema {
	return &schema.Schema{
		FieldTypes:       map[string]node.FieldType{},
		OwnedRightTypes:  map[string]bool{"asset": true},
		PublicRightTypes: map[string]bool{},
		Genesis:          schema.Shape{Fields: map[string]schema.Occurrence{}, Owned: map[string]schema.Occurrence{"asset": {Min: 1, Max: 1}}, Public: map[string]bool{}},
		Transitions: map[string]schema.Shape{
			"transfer": {Fields: map[string]schema.Occurrence{}, Owned: map[string]schema.Occurrence{"asset": {Min: 1, Max: 1}}, Public: map[string]bool{}},
		},
		Extensions:     map[string]schema.Shape{},
		Validations:    map[string]schema.RightValidation{"asset": {Strategy: schema.StrategyConservation}},
		AggregateTypes: map[string]bool{"asset": true},
	}
}

func revealedAssignment(typ, txid string, vout uint32, amt uint64) node.Assignment {
	return node.Assignment{
		Type:   typ,
		Seal:   seal.Definition{Form: seal.FormRevealed, Outpoint: seal.Outpoint{Txid: txid, Vout: vout}},
		Amount: node.RevealedAmount(amt),
	}
}

// buildGenesisConsignment returns a genesis-only Consignment over sc,
// with a single 100-unit asset allocation sitting at genesis-tx:0.
func buildGenesisConsignment(sc *schema.Schema) (*validator.Consignment, *node.Genesis) {
	g := &node.Genesis{
		SchemaID: sc.ID(),
		Meta:     node.Metadata{},
		Owned:    []node.Assignment{revealedAssignment("asset", "genesis-tx", 0, 100)},
	}
	c := &validator.Consignment{
		Schema:      sc,
		Genesis:     g,
		Transitions: map[node.ID]*node.Transition{},
		Extensions:  map[node.ID]*node.Extension{},
		Anchors:     map[string]*anchor.Anchor{},
		Bundles:     map[string]*anchor.Bundle{},
	}
	return c, g
}

// extendWithTransfer appends a confirmed transfer transition spending
// parent (genesis output 0 by default) to witnessTxid:0, and anchors it,
// leaving c ready to validate as Valid once res confirms witnessTxid.
func extendWithTransfer(c *validator.Consignment, parent node.ParentRef, witnessTxid string, amt uint64) *node.Transition {
	tr := &node.Transition{
		TransitionType: "transfer",
		Meta:           node.Metadata{},
		Parents:        []node.ParentRef{parent},
		Owned:          []node.Assignment{revealedAssignment("asset", witnessTxid, 0, amt)},
		Witness:        witnessTxid,
	}
	c.Transitions[tr.NodeID()] = tr

	bundle := anchor.NewBundle()
	bundle.Add(tr.NodeID(), 0)
	a := anchor.NewAnchor(witnessTxid)
	a.Contracts[c.ContractID()] = bundle.ID()
	c.Anchors[witnessTxid] = a
	c.Bundles[witnessTxid] = bundle
	return tr
}
