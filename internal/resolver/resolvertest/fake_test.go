package resolvertest

import (
	"context"
	"testing"

	"github.com/sealchain/stash/internal/resolver"
)

func TestFakeDefaultsToUnresolvable(t *testing.T) {
	f := New()
	_, _, result, err := f.Resolve(context.Background(), "unknown-txid")
	if err != nil {
		t.Fatal(err)
	}
	if result != resolver.Unresolvable {
		t.Fatalf("expected Unresolvable for an untouched txid, got %v", result)
	}
}

func TestFakeReject(t *testing.T) {
	f := New()
	f.Reject("bad-txid")
	_, _, result, err := f.Resolve(context.Background(), "bad-txid")
	if err != nil {
		t.Fatal(err)
	}
	if result != resolver.NotFound {
		t.Fatalf("expected NotFound for a rejected txid, got %v", result)
	}
}

func TestFakeConfirm(t *testing.T) {
	f := New()
	tx := resolver.Transaction{Txid: "good-txid", Inputs: []resolver.Outpoint{{Txid: "prev", Vout: 0}}}
	f.Confirm(tx, 100)

	got, height, result, err := f.Resolve(context.Background(), "good-txid")
	if err != nil {
		t.Fatal(err)
	}
	if result != resolver.Found || height != 100 || got.Txid != "good-txid" {
		t.Fatalf("unexpected resolve result: %+v %d %v", got, height, result)
	}

	tip, err := f.TipHeight(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tip != 100 {
		t.Fatalf("expected tip 100 after Confirm, got %d", tip)
	}
}

func TestSetTipIndependentOfConfirm(t *testing.T) {
	f := New()
	f.SetTip(500)
	tip, err := f.TipHeight(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tip != 500 {
		t.Fatalf("expected tip 500, got %d", tip)
	}
}
