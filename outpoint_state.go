package stash

import (
	"context"

	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/seal"
	"github.com/sealchain/stash/internal/state"
	"github.com/sealchain/stash/internal/strictenc"
)

// OutpointAllocation is one open owned right sitting at a queried
// outpoint, together with the contract it belongs to.
type OutpointAllocation struct {
	ContractID node.ContractID
	Allocation state.Allocation
}

// OutpointState answers outpoint_state(outpoints): for each outpoint,
// which contracts this stash tracks currently have an open allocation
// there. An outpoint this stash has never indexed a reveal against (or
// one whose allocation has since been closed by a later transition)
// reports no entries, not an error.
func (e *Engine) OutpointState(ctx context.Context, outpoints []seal.Outpoint) (map[seal.Outpoint][]OutpointAllocation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[seal.Outpoint][]OutpointAllocation, len(outpoints))
	for _, o := range outpoints {
		ids, err := e.index.NodesByOutpoint(ctx, o.Txid, o.Vout)
		if err != nil {
			return nil, err
		}
		seen := map[node.ContractID]bool{}
		for _, id := range ids {
			contractID, err := e.index.ContractOf(ctx, id)
			if err != nil {
				return nil, err
			}
			if seen[contractID] {
				continue
			}
			seen[contractID] = true

			snap, err := e.snapshot(ctx, contractID)
			if err != nil {
				return nil, err
			}
			for _, a := range snap.AtOutpoint(o) {
				out[o] = append(out[o], OutpointAllocation{ContractID: contractID, Allocation: a})
			}
		}
	}
	return out, nil
}

// ForgetResult tallies how many rows of each object kind Forget removed,
// for an operator to confirm the sweep actually freed space.
type ForgetResult struct {
	Schemata    int
	Geneses     int
	Anchors     int
	Transitions int
	Extensions  int
}

// Forget implements forget(contract_id): it removes every transition
// and extension this stash indexed under contractID, the genesis
// itself, and evicts the hot Snapshot, but leaves schemas and anchors
// alone since either may still be shared with another tracked
// contract. Counts reflect only rows actually removed, so calling
// Forget twice on the same contract reports zeros the second time.
func (e *Engine) Forget(ctx context.Context, contractID node.ContractID) (ForgetResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res ForgetResult

	// Gather every id belonging to contractID before Forget erases the
	// index's own node -> contract mapping; afterward there would be no
	// way left to tell which stored transitions/extensions were ours.
	byKind := map[strictenc.Kind][]node.ID{}
	for _, kind := range []strictenc.Kind{strictenc.KindTransition, strictenc.KindExtension} {
		ids, err := e.nodeIDsForContract(ctx, contractID, kind)
		if err != nil {
			return res, err
		}
		byKind[kind] = ids
	}

	if err := e.index.Forget(ctx, contractID); err != nil {
		return res, err
	}

	for _, kind := range []strictenc.Kind{strictenc.KindTransition, strictenc.KindExtension} {
		for _, id := range byKind[kind] {
			removed, err := e.store.Remove(ctx, kind, id)
			if err != nil {
				return res, err
			}
			if !removed {
				continue
			}
			if kind == strictenc.KindTransition {
				res.Transitions++
			} else {
				res.Extensions++
			}
		}
	}

	if removed, err := e.store.Remove(ctx, strictenc.KindGenesis, contractID); err != nil {
		return res, err
	} else if removed {
		res.Geneses++
	}

	e.state.Evict(contractID)
	return res, nil
}

// nodeIDsForContract enumerates every stored id of kind that belongs to
// contractID, by intersecting the store's full id list against the
// index's per-node contract mapping. This is the only way to recover
// "every node belonging to contractID" once Forget has already deleted
// the index's own per-contract-type listing, so callers must gather ids
// before removing rows from idx.
func (e *Engine) nodeIDsForContract(ctx context.Context, contractID node.ContractID, kind strictenc.Kind) ([]node.ID, error) {
	all, err := e.store.EnumerateIDs(ctx, kind)
	if err != nil {
		return nil, err
	}
	var ours []node.ID
	for _, id := range all {
		owner, err := e.index.ContractOf(ctx, id)
		if err != nil {
			continue
		}
		if owner == contractID {
			ours = append(ours, id)
		}
	}
	return ours, nil
}

// Prune implements prune(): a graph-wide reachability sweep that
// removes every transition/extension/anchor no longer reachable from
// any tracked contract's genesis, e.g. left behind after Forget ran
// without itself pruning shared anchors. An id is reachable if the
// index still attributes it to some contract; Prune never touches
// schemas or geneses, since forgetting those is Forget's job.
func (e *Engine) Prune(ctx context.Context) (ForgetResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res ForgetResult
	for _, kind := range []strictenc.Kind{strictenc.KindTransition, strictenc.KindExtension} {
		ids, err := e.store.EnumerateIDs(ctx, kind)
		if err != nil {
			return res, err
		}
		for _, id := range ids {
			if _, err := e.index.ContractOf(ctx, id); err == nil {
				continue // still attributed to a tracked contract
			}
			removed, err := e.store.Remove(ctx, kind, id)
			if err != nil {
				return res, err
			}
			if !removed {
				continue
			}
			if kind == strictenc.KindTransition {
				res.Transitions++
			} else {
				res.Extensions++
			}
		}
	}

	anchors, err := e.store.EnumerateIDs(ctx, strictenc.KindAnchor)
	if err != nil {
		return res, err
	}
	for _, id := range anchors {
		if e.anchorStillReferenced(ctx, id) {
			continue
		}
		removed, err := e.store.Remove(ctx, strictenc.KindAnchor, id)
		if err != nil {
			return res, err
		}
		if removed {
			res.Anchors++
		}
	}
	return res, nil
}

// anchorStillReferenced reports whether any node this stash still
// tracks was indexed against anchorID.
func (e *Engine) anchorStillReferenced(ctx context.Context, anchorID node.ID) bool {
	for _, kind := range []strictenc.Kind{strictenc.KindTransition, strictenc.KindExtension} {
		ids, err := e.store.EnumerateIDs(ctx, kind)
		if err != nil {
			continue
		}
		for _, id := range ids {
			got, ok, err := e.index.AnchorOf(ctx, id)
			if err == nil && ok && got == anchorID {
				return true
			}
		}
	}
	return false
}
