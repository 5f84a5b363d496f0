package store

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sealchain/stash/internal/anchor"
	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/schema"
	"github.com/sealchain/stash/internal/stasherr"
	"github.com/sealchain/stash/internal/strictenc"
)

func testStore(t *testing.T) *Store {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := Open(db, "sqlite3")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestGenesisRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	g := &node.Genesis{ChainID: "testchain", Meta: node.Metadata{}}
	if err := s.PutGenesis(ctx, g); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetGenesis(ctx, g.NodeID())
	if err != nil {
		t.Fatal(err)
	}
	if got.ChainID != g.ChainID {
		t.Fatalf("chain id mismatch: %q vs %q", got.ChainID, g.ChainID)
	}

	ok, err := s.HasGenesis(ctx, g.NodeID())
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected HasGenesis true after PutGenesis")
	}
}

func TestGetMissingReturnsTypedNotFound(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	var missing node.ID
	_, err := s.GetSchema(ctx, missing)
	if !stasherr.Is(err, stasherr.SchemaAbsent) {
		t.Fatalf("expected SchemaAbsent, got %v", err)
	}
}

func TestPutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	sc := &schema.Schema{
		FieldTypes:       map[string]node.FieldType{},
		OwnedRightTypes:  map[string]bool{"asset": true},
		PublicRightTypes: map[string]bool{},
		Transitions:      map[string]schema.Shape{},
		Extensions:       map[string]schema.Shape{},
		Validations:      map[string]schema.RightValidation{},
	}
	if err := s.PutSchema(ctx, sc); err != nil {
		t.Fatal(err)
	}
	if err := s.PutSchema(ctx, sc); err != nil {
		t.Fatalf("second put of the same schema should be a no-op, got %v", err)
	}
}

func TestAnchorAndDisclosureRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	a := anchor.NewAnchor("txid-abc")
	var contractID node.ID
	b := anchor.NewBundle()
	a.Contracts[contractID] = b.ID()

	if err := s.PutAnchor(ctx, a); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetAnchor(ctx, a.ID())
	if err != nil {
		t.Fatal(err)
	}
	if got.WitnessTxid != a.WitnessTxid {
		t.Fatalf("witness txid mismatch: %q vs %q", got.WitnessTxid, a.WitnessTxid)
	}

	d := anchor.NewDisclosure(a)
	d.Bundles[contractID] = b
	if err := s.PutDisclosure(ctx, d); err != nil {
		t.Fatal(err)
	}
	gotD, err := s.GetDisclosure(ctx, d.ID())
	if err != nil {
		t.Fatal(err)
	}
	if gotD.Anchor.WitnessTxid != a.WitnessTxid {
		t.Fatal("disclosure's anchor lost its witness txid across round-trip")
	}
}

func TestRemoveAndEnumerate(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	g1 := &node.Genesis{ChainID: "c1", Meta: node.Metadata{}}
	g2 := &node.Genesis{ChainID: "c2", Meta: node.Metadata{}}
	if err := s.PutGenesis(ctx, g1); err != nil {
		t.Fatal(err)
	}
	if err := s.PutGenesis(ctx, g2); err != nil {
		t.Fatal(err)
	}

	ids, err := s.EnumerateIDs(ctx, strictenc.KindGenesis)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 geneses, got %d", len(ids))
	}

	removed, err := s.Remove(ctx, strictenc.KindGenesis, g1.NodeID())
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Fatal("expected Remove to report the row was present")
	}

	removedAgain, err := s.Remove(ctx, strictenc.KindGenesis, g1.NodeID())
	if err != nil {
		t.Fatal(err)
	}
	if removedAgain {
		t.Fatal("expected a second Remove of the same id to report false")
	}
}

func TestMergeSchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	sc := &schema.Schema{
		FieldTypes:       map[string]node.FieldType{},
		OwnedRightTypes:  map[string]bool{"asset": true},
		PublicRightTypes: map[string]bool{},
		Transitions:      map[string]schema.Shape{},
		Extensions:       map[string]schema.Shape{},
		Validations:      map[string]schema.RightValidation{},
	}
	if err := s.MergeSchema(ctx, sc); err != nil {
		t.Fatal(err)
	}
	if err := s.MergeSchema(ctx, sc); err != nil {
		t.Fatalf("second merge of the same schema should be a no-op, got %v", err)
	}
	if ok, err := s.HasSchema(ctx, sc.ID()); err != nil || !ok {
		t.Fatal("expected schema present after merge")
	}
}

func TestMergeGenesisFirstSeenThenIdempotent(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	g := &node.Genesis{ChainID: "testchain", Meta: node.Metadata{}}
	merged, err := s.MergeGenesis(ctx, g)
	if err != nil {
		t.Fatal(err)
	}
	if merged.NodeID() != g.NodeID() {
		t.Fatal("first-seen merge must preserve node-id")
	}

	merged2, err := s.MergeGenesis(ctx, g)
	if err != nil {
		t.Fatal(err)
	}
	if merged2.NodeID() != g.NodeID() {
		t.Fatal("re-merging the same genesis must preserve node-id")
	}
}

func TestMergeAnchorEnrichesContracts(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	enriched := anchor.NewAnchor("txid-merge")
	var c1 node.ID
	c1[0] = 1
	b1 := anchor.NewBundle()
	enriched.Contracts[c1] = b1.ID()
	var c2 node.ID
	c2[0] = 2
	b2 := anchor.NewBundle()
	enriched.Contracts[c2] = b2.ID()

	// a is the same anchor seen first in redacted form: only c1's pair,
	// with the full commitment root pinned.
	a, err := enriched.Redacted(c1)
	if err != nil {
		t.Fatal(err)
	}

	merged, err := s.MergeAnchor(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if merged.ID() != a.ID() {
		t.Fatal("first-seen anchor merge must preserve anchor-id")
	}

	merged2, err := s.MergeAnchor(ctx, enriched)
	if err != nil {
		t.Fatal(err)
	}
	if merged2.ID() != a.ID() {
		t.Fatal("enriching merge must not change the anchor-id (P7)")
	}
	if len(merged2.Contracts) != 2 {
		t.Fatalf("expected both contracts present after merge, got %d", len(merged2.Contracts))
	}

	got, err := s.GetAnchor(ctx, a.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Contracts) != 2 {
		t.Fatal("expected the enriching merge to have been persisted")
	}
}

func TestMergeTransitionIsIdempotentAndRecordsWitness(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	tr := &node.Transition{TransitionType: "transfer", Meta: node.Metadata{}, Witness: "txw"}
	merged, err := s.MergeTransition(ctx, tr)
	if err != nil {
		t.Fatal(err)
	}
	if merged.NodeID() != tr.NodeID() {
		t.Fatal("first-seen transition merge must preserve node-id")
	}

	merged2, err := s.MergeTransition(ctx, tr)
	if err != nil {
		t.Fatal(err)
	}
	if merged2.Witness != "txw" {
		t.Fatalf("expected witness carried across merge, got %q", merged2.Witness)
	}

	got, err := s.GetTransition(ctx, tr.NodeID())
	if err != nil {
		t.Fatal(err)
	}
	if got.Witness != "txw" {
		t.Fatal("expected witness recoverable after merge")
	}
}

func TestMergeExtensionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	e := &node.Extension{ExtensionType: "reissue", Meta: node.Metadata{}}
	merged, err := s.MergeExtension(ctx, e)
	if err != nil {
		t.Fatal(err)
	}
	if merged.NodeID() != e.NodeID() {
		t.Fatal("first-seen extension merge must preserve node-id")
	}

	merged2, err := s.MergeExtension(ctx, e)
	if err != nil {
		t.Fatal(err)
	}
	if merged2.NodeID() != e.NodeID() {
		t.Fatal("re-merging the same extension must preserve node-id")
	}
}
