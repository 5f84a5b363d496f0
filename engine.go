// Package stash implements the Stash Engine: the public orchestration
// surface that routes import/export/validate/accept/consign/transfer/
// finalize/enclose/outpoint_state/forget/prune to the internal Store,
// Index, Contract State and Validator packages.
//
// The engine is single-threaded from the outside: every exported
// operation executes atomically from the caller's viewpoint. Internally
// a single mu guards the serialization point every store write
// traverses, readers take a shared lock, accept/prune take it
// exclusively.
package stash

import (
	"context"
	"sync"

	"github.com/bobg/multichan"
	loggly "github.com/segmentio/go-loggly"
	"github.com/sirupsen/logrus"

	"github.com/sealchain/stash/internal/index"
	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/resolver"
	"github.com/sealchain/stash/internal/schema"
	"github.com/sealchain/stash/internal/seal"
	"github.com/sealchain/stash/internal/stasherr"
	"github.com/sealchain/stash/internal/state"
	"github.com/sealchain/stash/internal/store"
)

// EventKind tags what happened for a subscriber reading Engine.Events.
type EventKind string

const (
	EventAccept  EventKind = "accept"
	EventEnclose EventKind = "enclose"
)

// Event is broadcast to every subscriber once per accept/enclose over a
// *multichan.W, the same fan-out-to-every-watcher pattern used for
// committed-block notification.
type Event struct {
	Kind       EventKind
	ContractID node.ContractID
	Status     string
}

// Engine is the Stash Engine. The zero value is not usable; build one
// with New.
type Engine struct {
	mu sync.RWMutex

	store *store.Store
	index *index.Index
	state *state.Store
	res   resolver.Resolver

	events *multichan.W // broadcasts *Event

	log    *logrus.Logger
	loggly *loggly.Client // optional remote mirror for Consistency-family failures
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the default structured logger.
func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithLoggly mirrors Consistency-family failures (DataIntegrity,
// UnrelatedAnchor) to a Loggly account: a remote call layered over
// purely-local behavior, enabled only when a token is configured.
func WithLoggly(token string) Option {
	return func(e *Engine) {
		if token != "" {
			e.loggly = loggly.New(token, "stash")
		}
	}
}

// New builds an Engine over already-opened Store/Index and a Resolver.
func New(st *store.Store, idx *index.Index, res resolver.Resolver, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		index:  idx,
		state:  state.NewStore(),
		res:    res,
		events: multichan.New((*Event)(nil)),
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Events returns a new reader over the engine's accept/enclose event
// stream; callers should Dispose it when done.
func (e *Engine) Events() *multichan.R { return e.events.Reader() }

func (e *Engine) publish(ev *Event) { e.events.Write(ev) }

// mirrorConsistencyFailure logs a Consistency-family error both locally
// (structured, via logrus) and, if configured, to Loggly, matching the
// ambient "local always, remote only when configured" shape.
func (e *Engine) mirrorConsistencyFailure(op string, err error) {
	fields := logrus.Fields{"op": op, "error": err.Error()}
	if se, ok := err.(*stasherr.Error); ok {
		fields["code"] = se.Code.String()
	}
	e.log.WithFields(fields).Error("consistency failure")
	if e.loggly == nil {
		return
	}
	e.loggly.Error(loggly.Message{"op": op, "error": err.Error()})
}

// ImportSchema persists sc, the root template contracts are instantiated
// against. A second import of an identical schema is a no-op; a second
// import under the same schema-id with different bytes is impossible by
// construction (the id is the hash of the bytes).
func (e *Engine) ImportSchema(ctx context.Context, sc *schema.Schema) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.MergeSchema(ctx, sc)
}

// ImportGenesis persists g and seeds its contract state, failing with
// SchemaAbsent if g names a schema this stash hasn't imported.
func (e *Engine) ImportGenesis(ctx context.Context, g *node.Genesis) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sc, err := e.store.GetSchema(ctx, g.SchemaID)
	if err != nil {
		return err
	}
	merged, err := e.store.MergeGenesis(ctx, g)
	if err != nil {
		if stasherr.Is(err, stasherr.DataIntegrity) {
			e.mirrorConsistencyFailure("import_genesis", err)
		}
		return err
	}
	if err := e.index.IndexGenesis(ctx, merged); err != nil {
		return err
	}
	snap := state.ApplyGenesis(merged.NodeID(), sc, merged)
	e.state.Put(snap)
	return nil
}

// ExportGenesis returns the stored genesis for contractID.
func (e *Engine) ExportGenesis(ctx context.Context, contractID node.ContractID) (*node.Genesis, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.GetGenesis(ctx, contractID)
}

// snapshot returns the hot Snapshot for contractID, rebuilding it from
// Store/Index if this is the contract's first access since startup
// (Contract State is §4.4's "derived, rebuildable" view — never itself
// the system of record).
func (e *Engine) snapshot(ctx context.Context, contractID node.ContractID) (*state.Snapshot, error) {
	if snap, ok := e.state.Get(contractID); ok {
		return snap, nil
	}
	return e.rebuildSnapshot(ctx, contractID)
}

func (e *Engine) rebuildSnapshot(ctx context.Context, contractID node.ContractID) (*state.Snapshot, error) {
	g, err := e.store.GetGenesis(ctx, contractID)
	if err != nil {
		return nil, err
	}
	sc, err := e.store.GetSchema(ctx, g.SchemaID)
	if err != nil {
		return nil, err
	}
	snap := state.ApplyGenesis(contractID, sc, g)

	for typ := range sc.Transitions {
		ids, err := e.index.NodesByType(ctx, contractID, typ)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			t, err := e.store.GetTransition(ctx, id)
			if err != nil {
				return nil, err
			}
			snap = snap.AddTransition(sc, t.Witness, t)
		}
	}
	for typ := range sc.Extensions {
		ids, err := e.index.NodesByType(ctx, contractID, typ)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			ext, err := e.store.GetExtension(ctx, id)
			if err != nil {
				return nil, err
			}
			snap = snap.AddExtension(sc, ext.Witness, ext)
		}
	}
	e.state.Put(snap)
	return snap, nil
}

// KnowSeals implements the supplemented "reveal after accept" feature
// (scenario: a consignment is accepted while one of its own outputs is
// still concealed, and the blinding factor only becomes available
// afterward, e.g. the recipient tells the sender out of band which
// outpoint a blinded seal resolved to). For each commitment -> revealed
// mapping, KnowSeals finds the open allocation that currently conceals
// to commitment, verifies the revealed Definition actually conceals to
// the same commitment, and folds the more-informative form back into
// both the hot Snapshot and the stored transition/extension that
// created it.
//
// KnowSeals is scoped to one contract: the commitments it is given are
// assumed to belong to contractID's own currently-open allocations,
// since nothing short of a full cross-contract scan could otherwise
// locate them cheaply.
func (e *Engine) KnowSeals(ctx context.Context, contractID node.ContractID, reveals map[[32]byte]seal.Definition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.knowSealsLocked(ctx, contractID, reveals)
}

func (e *Engine) knowSealsLocked(ctx context.Context, contractID node.ContractID, reveals map[[32]byte]seal.Definition) error {
	snap, err := e.snapshot(ctx, contractID)
	if err != nil {
		return err
	}
	for commitment, revealed := range reveals {
		if revealed.Conceal() != commitment {
			return stasherr.New(stasherr.DataIntegrity, "revealed seal does not conceal to the claimed commitment")
		}
		next, alloc, ok := snap.RevealSeal(commitment, revealed)
		if !ok {
			continue
		}
		if err := e.persistReveal(ctx, alloc, revealed); err != nil {
			return err
		}
		snap = next
	}
	e.state.Put(snap)
	return nil
}

// persistReveal folds a revealed seal back into whichever genesis,
// transition or extension originally created alloc, via the same merge
// machinery MergeGenesis/MergeTransition/MergeExtension already use: a
// patch object sharing the creator's node-id (identity hashing ignores
// seal form, so this holds) carrying only the revealed seal at
// alloc.Parent.Index. It also extends the outpoint index with the newly
// revealed (txid, vout), the same mapping IndexTransition/IndexGenesis
// populate at accept time, so a later Evict+rebuildSnapshot (or an
// OutpointState lookup) still finds the allocation.
func (e *Engine) persistReveal(ctx context.Context, alloc state.Allocation, revealed seal.Definition) error {
	creator := alloc.Parent.Node
	idx := alloc.Parent.Index

	if t, err := e.store.GetTransition(ctx, creator); err == nil {
		patch := *t
		patch.Owned = append([]node.Assignment(nil), t.Owned...)
		patch.Owned[idx].Seal = revealed
		merged, err := e.store.MergeTransition(ctx, &patch)
		if err != nil {
			return err
		}
		return e.index.IndexReveal(ctx, revealed.Outpoint.Txid, revealed.Outpoint.Vout, merged.NodeID())
	} else if !stasherr.Is(err, stasherr.TransitionAbsent) {
		return err
	}

	if ext, err := e.store.GetExtension(ctx, creator); err == nil {
		patch := *ext
		patch.Owned = append([]node.Assignment(nil), ext.Owned...)
		patch.Owned[idx].Seal = revealed
		merged, err := e.store.MergeExtension(ctx, &patch)
		if err != nil {
			return err
		}
		return e.index.IndexReveal(ctx, revealed.Outpoint.Txid, revealed.Outpoint.Vout, merged.NodeID())
	} else if !stasherr.Is(err, stasherr.TransitionAbsent) {
		return err
	}

	// Neither a transition nor an extension created this allocation; it
	// came from genesis. Persist the revealed seal into the stored
	// genesis and re-run IndexGenesis so the new outpoint mapping is
	// recorded too.
	g, err := e.store.GetGenesis(ctx, creator)
	if err != nil {
		return err
	}
	patch := *g
	patch.Owned = append([]node.Assignment(nil), g.Owned...)
	patch.Owned[idx].Seal = revealed
	merged, err := e.store.MergeGenesis(ctx, &patch)
	if err != nil {
		return err
	}
	return e.index.IndexGenesis(ctx, merged)
}

// knownLocally reports whether a node-id is already present in this
// stash's Store, for plugging into validator.KnownElsewhere during a
// merge into an already-tracked contract's history.
func (e *Engine) knownLocally(ctx context.Context) func(node.ID) bool {
	return func(id node.ID) bool {
		if ok, _ := e.store.HasTransition(ctx, id); ok {
			return true
		}
		ok, _ := e.store.HasExtension(ctx, id)
		return ok
	}
}
