package stash

import (
	"context"

	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/seal"
	"github.com/sealchain/stash/internal/stasherr"
	"github.com/sealchain/stash/internal/validator"
)

// AcceptResult reports what accept decided and, for the
// ValidExceptEndpoints+force path, which part of the verdict was
// overridden.
type AcceptResult struct {
	Status validator.Status
	Forced bool
}

// Validate runs the Validator over c without touching the stash. It
// takes only a shared read lock, the same as Consign/ExportGenesis,
// since the check it performs (Is c internally consistent, and do its
// claims resolve against the chain?) never depends on this stash's own
// accept history beyond knownLocally's graph-closure shortcut.
func (e *Engine) Validate(ctx context.Context, c *validator.Consignment) (validator.Status, error) {
	e.mu.RLock()
	known := e.knownLocally(ctx)
	e.mu.RUnlock()
	return validator.Validate(ctx, c, e.res, known)
}

// Accept runs validate-then-stage-then-commit over c: it is all or
// nothing, and on a commit it writes in the fixed order schema,
// root-schema, genesis, anchors, bundles, transitions, the
// transition-witness mapping, extensions, then contract state, so a
// crash partway through never leaves the contract-state snapshot ahead
// of what the store itself can account for.
//
// A Valid consignment always commits. A ValidExceptEndpoints
// consignment commits only when force is true (the caller accepts a
// consignment whose endpoint outputs aren't yet mined); anything else
// (UnresolvedTransactions, Invalid) never touches the store.
func (e *Engine) Accept(ctx context.Context, c *validator.Consignment, knownSeals map[[32]byte]seal.Definition, force bool) (AcceptResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	contractID := c.ContractID()
	known := e.knownLocally(ctx)
	st, err := validator.Validate(ctx, c, e.res, known)
	if err != nil {
		return AcceptResult{}, err
	}

	result := AcceptResult{Status: st}
	switch st.Code {
	case validator.Valid:
	case validator.ValidExceptEndpoints:
		if !force {
			return result, nil
		}
		result.Forced = true
	default:
		return result, nil
	}

	if err := e.commit(ctx, c); err != nil {
		if stasherr.Is(err, stasherr.DataIntegrity) || stasherr.Is(err, stasherr.UnrelatedAnchor) {
			e.mirrorConsistencyFailure("accept", err)
		}
		return AcceptResult{}, err
	}

	if len(knownSeals) > 0 {
		if err := e.knowSealsLocked(ctx, contractID, knownSeals); err != nil {
			return AcceptResult{}, err
		}
	}

	e.publish(&Event{Kind: EventAccept, ContractID: contractID, Status: st.Code.String()})
	return result, nil
}

// anchorFor resolves witness's anchor-id within c, for indexing a node
// against the anchor that actually commits it. A witness with no
// matching anchor in the consignment (an endpoint not yet mined) is not
// an error; the node is merged into the store but left unindexed until
// a later enclose/accept supplies its anchor.
func anchorFor(c *validator.Consignment, witness string) (node.ID, bool) {
	a, ok := c.Anchors[witness]
	if !ok {
		return node.ID{}, false
	}
	return a.ID(), true
}

// commit performs the fixed-order write. It assumes e.mu is already
// held for writing.
func (e *Engine) commit(ctx context.Context, c *validator.Consignment) error {
	if c.Schema != nil {
		if err := e.store.MergeSchema(ctx, c.Schema); err != nil {
			return err
		}
	}
	if c.RootSchema != nil {
		if err := e.store.MergeSchema(ctx, c.RootSchema); err != nil {
			return err
		}
	}

	contractID := c.ContractID()
	firstSeen := false
	if c.Genesis != nil {
		if _, err := e.store.GetGenesis(ctx, contractID); err != nil {
			if !stasherr.Is(err, stasherr.GenesisAbsent) {
				return err
			}
			firstSeen = true
		}
		merged, err := e.store.MergeGenesis(ctx, c.Genesis)
		if err != nil {
			return err
		}
		if err := e.index.IndexGenesis(ctx, merged); err != nil {
			return err
		}
	}

	for _, a := range c.Anchors {
		if _, err := e.store.MergeAnchor(ctx, a); err != nil {
			return err
		}
	}
	for txid, b := range c.Bundles {
		if err := e.index.IndexBundle(ctx, txid, contractID, b.ID()); err != nil {
			return err
		}
	}

	for _, t := range c.Transitions {
		merged, err := e.store.MergeTransition(ctx, t)
		if err != nil {
			return err
		}
		if anchorID, ok := anchorFor(c, merged.Witness); ok {
			if err := e.index.IndexTransition(ctx, contractID, anchorID, merged); err != nil {
				return err
			}
		}
	}
	for _, ext := range c.Extensions {
		merged, err := e.store.MergeExtension(ctx, ext)
		if err != nil {
			return err
		}
		if anchorID, ok := anchorFor(c, merged.Witness); ok {
			if err := e.index.IndexExtension(ctx, contractID, anchorID, merged); err != nil {
				return err
			}
		}
	}

	if c.Genesis == nil && !firstSeen {
		// No genesis carried in this consignment (a pure enrichment of
		// an already-tracked contract); the snapshot still needs
		// rebuilding so the newly merged transitions/extensions are
		// reflected, but only if the contract is one this stash already
		// tracks at all.
		if _, ok, err := e.contractTracked(ctx, contractID); err != nil {
			return err
		} else if !ok {
			return nil
		}
	}

	// Rebuilding from the store (rather than folding the consignment
	// onto whatever snapshot happens to be hot) is deliberate: a merge
	// can enrich transitions/extensions this engine already held
	// alongside the ones just accepted, and Contract State is never
	// itself the system of record.
	e.state.Evict(contractID)
	if _, err := e.rebuildSnapshot(ctx, contractID); err != nil {
		return err
	}
	return nil
}

// contractTracked reports whether contractID's genesis is already
// stored, without surfacing GenesisAbsent as an error.
func (e *Engine) contractTracked(ctx context.Context, contractID node.ContractID) (*node.Genesis, bool, error) {
	g, err := e.store.GetGenesis(ctx, contractID)
	if err != nil {
		if stasherr.Is(err, stasherr.GenesisAbsent) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return g, true, nil
}
