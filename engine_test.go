package stash

import (
	"context"
	"testing"

	"github.com/sealchain/stash/internal/stasherr"
)

func TestImportSchemaThenGenesisBuildsSnapshot(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	sc := assetSchema()
	c, g := buildGenesisConsignment(sc)

	if err := e.ImportSchema(ctx, sc); err != nil {
		t.Fatal(err)
	}
	if err := e.ImportGenesis(ctx, g); err != nil {
		t.Fatal(err)
	}

	snap, err := e.snapshot(ctx, c.ContractID())
	if err != nil {
		t.Fatal(err)
	}
	if got := snap.Aggregate("asset"); got != 100 {
		t.Fatalf("expected aggregate 100 after importing genesis, got %d", got)
	}

	got, err := e.ExportGenesis(ctx, c.ContractID())
	if err != nil {
		t.Fatal(err)
	}
	if got.NodeID() != g.NodeID() {
		t.Fatal("expected ExportGenesis to return the imported genesis")
	}
}

func TestExportGenesisUnknownContract(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)

	_, err := e.ExportGenesis(ctx, fakeID(1))
	if !stasherr.Is(err, stasherr.GenesisAbsent) {
		t.Fatalf("expected GenesisAbsent for an unimported contract, got %v", err)
	}
}

func TestEventsPublishesOnAccept(t *testing.T) {
	ctx := context.Background()
	e, res := testEngine(t)
	sc := assetSchema()
	c, g := buildGenesisConsignment(sc)
	if err := e.ImportSchema(ctx, sc); err != nil {
		t.Fatal(err)
	}

	reader := e.Events()
	defer reader.Dispose()

	_ = g
	_ = res
	if _, err := e.Accept(ctx, c, nil, false); err != nil {
		t.Fatal(err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	val, ok := reader.Read(readCtx)
	cancel()
	if !ok {
		t.Fatal("expected an event to have been published by Accept")
	}
	ev, ok := val.(*Event)
	if !ok || ev.Kind != EventAccept {
		t.Fatalf("expected an EventAccept event, got %+v", val)
	}
	if ev.ContractID != c.ContractID() {
		t.Fatal("event carried the wrong contract-id")
	}
}
