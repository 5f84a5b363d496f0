// Package enclose implements finalize_transfer/enclose: turning a set
// of transitions and extensions that share one witness transaction
// into the persisted Anchor (and, when more than one contract closes
// in the same transaction, a Disclosure for the contracts the caller
// isn't the direct counterparty for) plus the index rows the rest of
// the engine reads back.
//
// The shape follows postpegout.go/postexport.go: take an
// externally-observed artifact (here, a confirmed witness
// transaction), derive local state from it, and persist in the same
// strict order pin.go applies a block, so a crash mid-enclose never
// leaves the store half-written for one contract and untouched for
// another.
package enclose

import (
	"context"

	"github.com/sealchain/stash/internal/anchor"
	"github.com/sealchain/stash/internal/index"
	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/store"
)

// ContractClose is everything one contract contributes to a single
// witness transaction: the transitions/extensions being finalized
// against it, each already carrying its Witness field.
type ContractClose struct {
	ContractID  node.ContractID
	Transitions []*node.Transition
	Extensions  []*node.Extension
}

func (c ContractClose) bundle() *anchor.Bundle {
	b := anchor.NewBundle()
	for _, t := range c.Transitions {
		for _, p := range t.Parents {
			b.Add(t.NodeID(), p.Index)
		}
	}
	return b
}

// FinalizeTransfer persists every close's transitions/extensions,
// builds one Anchor committing all of them under witnessTxid, and
// indexes each (node-id -> contract/anchor/type/outpoint) and
// (txid, contract-id) -> bundle-id mapping.
//
// subjectContractID names the contract finalize is being called on
// behalf of; when closes contains more than one contract (an
// independently-discovered overlap: another locally-tracked contract's
// seal was also closed by this same transaction), FinalizeTransfer
// additionally returns a Disclosure carrying the other contracts' full
// bundle contents, for the caller to persist and hand onward to
// whatever other-contract's counterpart owns that stash. The
// subject's own bundle is never included in the Disclosure; the
// subject's own consignment is built separately by internal/consigner
// using Anchor.Redacted.
func FinalizeTransfer(ctx context.Context, st *store.Store, idx *index.Index, witnessTxid string, subjectContractID node.ContractID, closes []ContractClose) (*anchor.Anchor, *anchor.Disclosure, error) {
	a := anchor.NewAnchor(witnessTxid)
	bundles := make(map[node.ContractID]*anchor.Bundle, len(closes))
	for _, c := range closes {
		b := c.bundle()
		bundles[c.ContractID] = b
		a.Contracts[c.ContractID] = b.ID()
	}

	if err := st.PutAnchor(ctx, a); err != nil {
		return nil, nil, err
	}

	for _, c := range closes {
		for _, t := range c.Transitions {
			if err := st.PutTransition(ctx, t); err != nil {
				return nil, nil, err
			}
			if err := idx.IndexTransition(ctx, c.ContractID, a.ID(), t); err != nil {
				return nil, nil, err
			}
		}
		for _, e := range c.Extensions {
			if err := st.PutExtension(ctx, e); err != nil {
				return nil, nil, err
			}
			if err := idx.IndexExtension(ctx, c.ContractID, a.ID(), e); err != nil {
				return nil, nil, err
			}
		}
		if err := idx.IndexBundle(ctx, witnessTxid, c.ContractID, bundles[c.ContractID].ID()); err != nil {
			return nil, nil, err
		}
	}

	if len(closes) <= 1 {
		return a, nil, nil
	}

	d := anchor.NewDisclosure(a)
	for _, c := range closes {
		if c.ContractID == subjectContractID {
			continue
		}
		d.Bundles[c.ContractID] = bundles[c.ContractID]
	}
	if len(d.Bundles) == 0 {
		return a, nil, nil
	}
	if err := st.PutDisclosure(ctx, d); err != nil {
		return nil, nil, err
	}
	return a, d, nil
}

// ApplyDisclosure replays a Disclosure received from elsewhere (another
// local contract's counterpart, or an operator-run bulletin) into the
// index, so a contract this node tracks but wasn't the direct
// consignee for still picks up a seal closure witnessed by a
// transaction it didn't independently observe. Replays are idempotent:
// a Disclosure already recorded under its own id is a no-op, guarding
// against the same artifact being applied twice.
func ApplyDisclosure(ctx context.Context, st *store.Store, idx *index.Index, d *anchor.Disclosure) error {
	already, err := st.HasDisclosure(ctx, d.ID())
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	if err := st.PutAnchor(ctx, d.Anchor); err != nil {
		return err
	}
	for contractID, bundle := range d.Bundles {
		if err := idx.IndexBundle(ctx, d.Anchor.WitnessTxid, contractID, bundle.ID()); err != nil {
			return err
		}
	}
	return st.PutDisclosure(ctx, d)
}
