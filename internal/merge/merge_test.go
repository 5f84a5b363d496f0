package merge

import (
	"testing"

	"github.com/sealchain/stash/internal/anchor"
	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/seal"
)

func fakeID(b byte) node.ID {
	var arr [32]byte
	arr[0] = b
	return node.IDFromArray(arr)
}

func TestGenesisMergeRevealsConcealedSeal(t *testing.T) {
	revealed := node.Assignment{
		Type:   "asset",
		Seal:   seal.Definition{Form: seal.FormRevealed, Outpoint: seal.Outpoint{Txid: "tx0", Vout: 0}},
		Amount: node.RevealedAmount(10),
	}
	concealed := node.Assignment{
		Type:   "asset",
		Seal:   seal.Definition{Form: seal.FormConcealed, Commitment: revealed.Seal.Conceal()},
		Amount: node.Amount{Revealed: false, Commitment: revealed.Amount.Conceal()},
	}

	a := &node.Genesis{SchemaID: fakeID(1), Meta: node.Metadata{}, Owned: []node.Assignment{concealed}}
	b := &node.Genesis{SchemaID: fakeID(1), Meta: node.Metadata{}, Owned: []node.Assignment{revealed}}

	if a.NodeID() != b.NodeID() {
		t.Fatal("test setup error: concealed/revealed variants must share a node-id")
	}

	merged, err := Genesis(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if merged.Owned[0].Seal.Form != seal.FormRevealed {
		t.Fatal("expected merge to reveal the seal")
	}
	if !merged.Owned[0].Amount.Revealed {
		t.Fatal("expected merge to reveal the amount")
	}
	if merged.NodeID() != a.NodeID() {
		t.Fatal("merge changed the node-id")
	}
}

func TestGenesisMergeIsIdempotent(t *testing.T) {
	g := &node.Genesis{SchemaID: fakeID(1), Meta: node.Metadata{}}
	merged, err := Genesis(g, g)
	if err != nil {
		t.Fatal(err)
	}
	if merged.NodeID() != g.NodeID() {
		t.Fatal("self-merge changed the node-id")
	}
}

func TestGenesisMergeRejectsDifferentIDs(t *testing.T) {
	a := &node.Genesis{SchemaID: fakeID(1), Meta: node.Metadata{}}
	b := &node.Genesis{SchemaID: fakeID(2), Meta: node.Metadata{}}
	if _, err := Genesis(a, b); err != ErrIDMismatch {
		t.Fatalf("expected ErrIDMismatch, got %v", err)
	}
}

func TestTransitionMergeCombinesWitness(t *testing.T) {
	a := &node.Transition{TransitionType: "transfer", Meta: node.Metadata{}}
	b := &node.Transition{TransitionType: "transfer", Meta: node.Metadata{}, Witness: "txwitness"}
	if a.NodeID() != b.NodeID() {
		t.Fatal("test setup error: witness must not affect node-id")
	}
	merged, err := Transition(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if merged.Witness != "txwitness" {
		t.Fatal("expected merge to carry forward the known witness txid")
	}
}

func TestTransitionMergeRejectsConflictingWitness(t *testing.T) {
	a := &node.Transition{TransitionType: "transfer", Meta: node.Metadata{}, Witness: "tx1"}
	b := &node.Transition{TransitionType: "transfer", Meta: node.Metadata{}, Witness: "tx2"}
	if _, err := Transition(a, b); err != ErrIDMismatch {
		t.Fatalf("expected ErrIDMismatch on conflicting witness txids, got %v", err)
	}
}

func TestAnchorMergeUnionsContractsAndEnrichesBlock(t *testing.T) {
	full := anchor.NewAnchor("txA")
	full.Contracts[fakeID(1)] = fakeID(11)
	full.Contracts[fakeID(2)] = fakeID(12)

	redacted, err := full.Redacted(fakeID(1))
	if err != nil {
		t.Fatal(err)
	}

	merged, err := Anchor(redacted, full)
	if err != nil {
		t.Fatal(err)
	}
	if len(merged.Contracts) != 2 {
		t.Fatalf("expected merged anchor to carry both contracts, got %d", len(merged.Contracts))
	}
	if merged.Commitment() != full.Commitment() {
		t.Fatal("merge changed the commitment root")
	}
}

func TestAnchorMergeRejectsDifferentWitness(t *testing.T) {
	a := anchor.NewAnchor("tx1")
	b := anchor.NewAnchor("tx2")
	if _, err := Anchor(a, b); err != ErrWitnessMismatch {
		t.Fatalf("expected ErrWitnessMismatch, got %v", err)
	}
}

func TestAnchorMergeRejectsConflictingBundleForSameContract(t *testing.T) {
	a := anchor.NewAnchor("tx1")
	a.Contracts[fakeID(1)] = fakeID(11)
	b := anchor.NewAnchor("tx1")
	b.Contracts[fakeID(1)] = fakeID(99)

	if _, err := Anchor(a, b); err == nil {
		t.Fatal("expected an error merging two anchors that disagree on a shared contract's bundle-id")
	}
}
