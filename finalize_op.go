package stash

import (
	"context"

	"github.com/sealchain/stash/internal/anchor"
	"github.com/sealchain/stash/internal/enclose"
	"github.com/sealchain/stash/internal/node"
)

// Finalize closes the witness transaction witnessTxid over every
// contract this stash tracks that contributed a close to it, persisting
// one shared Anchor and, when more than one contract closed, a
// Disclosure for the contracts other than subjectContractID. It then
// rebuilds subjectContractID's Snapshot so the closed parents disappear
// from it and the newly revealed allocations appear.
func (e *Engine) Finalize(ctx context.Context, witnessTxid string, subjectContractID node.ContractID, closes []enclose.ContractClose) (*anchor.Anchor, *anchor.Disclosure, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, d, err := enclose.FinalizeTransfer(ctx, e.store, e.index, witnessTxid, subjectContractID, closes)
	if err != nil {
		return nil, nil, err
	}

	for _, c := range closes {
		e.state.Evict(c.ContractID)
	}
	if _, err := e.rebuildSnapshot(ctx, subjectContractID); err != nil {
		return nil, nil, err
	}

	e.publish(&Event{Kind: EventEnclose, ContractID: subjectContractID, Status: "finalized"})
	return a, d, nil
}

// ApplyDisclosure replays a Disclosure this stash received from
// somewhere other than its own Finalize call (e.g. delivered by the
// counterparty of another contract that shared the same witness
// transaction), then evicts every disclosed contract's hot Snapshot so
// the next access rebuilds it from the store.
func (e *Engine) ApplyDisclosure(ctx context.Context, d *anchor.Disclosure) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := enclose.ApplyDisclosure(ctx, e.store, e.index, d); err != nil {
		return err
	}
	for contractID := range d.Bundles {
		e.state.Evict(contractID)
	}
	return nil
}
