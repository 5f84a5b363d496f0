// Package merge implements merge_reveal: combining two variants of the
// same node (by node-id) so that revealed fields supersede concealed
// ones without changing the identity hash. It is associative,
// commutative, and idempotent on any pair of objects that share an id;
// callers that fold a set of variants pairwise, in any order, land on
// the same fully-revealed result.
//
// No single teacher file has a revealed/concealed duality to copy; this
// package is built from the invariant itself, using patricia's
// insert-combines-prefixes shape only as a naming cue for "merge two
// partial views of the same keyed structure losslessly".
package merge

import (
	"errors"

	"github.com/sealchain/stash/internal/anchor"
	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/schema"
	"github.com/sealchain/stash/internal/seal"
)

// ErrIDMismatch is returned whenever the two operands don't share an
// id; merge_reveal is only defined on variants of the same object.
var ErrIDMismatch = errors.New("merge: operands do not share an id")

// ErrWitnessMismatch is returned merging two anchors that disagree on
// their witness txid; that would mean they aren't variants of the same
// anchor at all.
var ErrWitnessMismatch = errors.New("merge: anchors have different witness txids")

func mergeOwned(a, b []node.Assignment) ([]node.Assignment, error) {
	if len(a) != len(b) {
		return nil, ErrIDMismatch
	}
	out := make([]node.Assignment, len(a))
	for i := range a {
		if a[i].Type != b[i].Type {
			return nil, ErrIDMismatch
		}
		revealedSeal, ok := seal.Reveal(a[i].Seal, b[i].Seal)
		if !ok {
			return nil, ErrIDMismatch
		}
		revealedAmount, ok := node.RevealAmount(a[i].Amount, b[i].Amount)
		if !ok {
			return nil, ErrIDMismatch
		}
		out[i] = node.Assignment{Type: a[i].Type, Seal: revealedSeal, Amount: revealedAmount}
	}
	return out, nil
}

func mergeWitness(a, b string) (string, error) {
	if a == "" {
		return b, nil
	}
	if b == "" {
		return a, nil
	}
	if a != b {
		return "", ErrIDMismatch
	}
	return a, nil
}

// Genesis merges two variants of the same genesis node.
func Genesis(a, b *node.Genesis) (*node.Genesis, error) {
	if a.NodeID() != b.NodeID() {
		return nil, ErrIDMismatch
	}
	owned, err := mergeOwned(a.Owned, b.Owned)
	if err != nil {
		return nil, err
	}
	out := *a
	out.Owned = owned
	return &out, nil
}

// Transition merges two variants of the same transition node.
func Transition(a, b *node.Transition) (*node.Transition, error) {
	if a.NodeID() != b.NodeID() {
		return nil, ErrIDMismatch
	}
	owned, err := mergeOwned(a.Owned, b.Owned)
	if err != nil {
		return nil, err
	}
	witness, err := mergeWitness(a.Witness, b.Witness)
	if err != nil {
		return nil, err
	}
	out := *a
	out.Owned = owned
	out.Witness = witness
	return &out, nil
}

// Extension merges two variants of the same extension node.
func Extension(a, b *node.Extension) (*node.Extension, error) {
	if a.NodeID() != b.NodeID() {
		return nil, ErrIDMismatch
	}
	owned, err := mergeOwned(a.Owned, b.Owned)
	if err != nil {
		return nil, err
	}
	witness, err := mergeWitness(a.Witness, b.Witness)
	if err != nil {
		return nil, err
	}
	out := *a
	out.Owned = owned
	out.Witness = witness
	return &out, nil
}

// Schema merges two variants of the same schema. Schemas carry no
// concealed fields, so a successful merge is always one operand
// verbatim; this still enforces that the two truly share an id rather
// than silently picking a winner between unrelated schemas.
func Schema(a, b *schema.Schema) (*schema.Schema, error) {
	if a.ID() != b.ID() {
		return nil, ErrIDMismatch
	}
	return a, nil
}

// Anchor merges two variants of the same witness-txid's anchor,
// enriching the Merkle block: the result's Contracts map is the union
// of both inputs', and any contract-id present in both must agree on
// its bundle-id. This is what lets a redacted Anchor (carrying only one
// contract's pair) merge with a fuller one received later without
// losing anything.
func Anchor(a, b *anchor.Anchor) (*anchor.Anchor, error) {
	if a.WitnessTxid != b.WitnessTxid {
		return nil, ErrWitnessMismatch
	}
	if a.Commitment() != b.Commitment() {
		return nil, ErrIDMismatch
	}
	merged := anchor.NewAnchor(a.WitnessTxid)
	for k, v := range a.Contracts {
		merged.Contracts[k] = v
	}
	for k, v := range b.Contracts {
		if existing, ok := merged.Contracts[k]; ok && existing != v {
			return nil, ErrIDMismatch
		}
		merged.Contracts[k] = v
	}
	if root := a.Commitment(); merged.Commitment() != root {
		// Still a partial view: keep the pinned root so the anchor-id
		// stays the same.
		merged.PinnedRoot = &root
	}
	return merged, nil
}
