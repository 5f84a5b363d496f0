// Package resolver declares the Stash Engine's sole external
// collaborator: a pluggable oracle for on-chain facts. The core trusts
// it for confirmation height and raw transaction bytes but is not
// itself a consensus engine and never verifies them beyond that trust
// boundary.
package resolver

import "context"

// Result tags which of the three outcomes Resolve returned: success,
// not found, or unresolvable (network failure), as an explicit type
// instead of collapsing "not found" and "couldn't tell" into one
// nullable value — the validator classifies them into different Status
// outcomes.
type Result byte

const (
	// Found means the witness transaction exists and tx/Height are
	// populated.
	Found Result = iota
	// NotFound means the resolver is confident the transaction does not
	// (yet) exist — an unconfirmed or unbroadcast witness.
	NotFound
	// Unresolvable means the resolver could not answer at all (timeout,
	// node unreachable); the engine treats this identically to NotFound.
	Unresolvable
)

// Transaction is the minimal witness-transaction shape the validator
// needs: its raw bytes (for seal-closure / input-outpoint checks) and
// the outpoints it spends.
type Transaction struct {
	Txid   string
	Raw    []byte
	Inputs []Outpoint
}

// Outpoint names one input the witness transaction spends.
type Outpoint struct {
	Txid string
	Vout uint32
}

// Resolver is the external collaborator contract: resolve a txid to its
// confirmation height and contents, and report the chain's tip height.
// Implementations must be deterministic for confirmed transactions
// across one validation pass; the validator relies on this to cache
// results per pass rather than re-querying for every anchor that shares
// a witness txid.
type Resolver interface {
	Resolve(ctx context.Context, txid string) (tx Transaction, height uint64, result Result, err error)
	TipHeight(ctx context.Context) (uint64, error)
}
