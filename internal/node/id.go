// Package node implements Genesis, Transition and Extension, which
// share a small trait-like surface (NodeID, Metadata, OwnedRights,
// ParentOwnedRights) that the validator and consigner are generic
// over, while each retains its own structure.
package node

import (
	"github.com/chain/txvm/protocol/bc"
	"github.com/chain/txvm/protocol/txvm"

	"github.com/sealchain/stash/internal/strictenc"
)

// ID is a node-id: the tagged hash of a node's strictly encoded revealed
// form, minus its bulletproof (range-proof) state data.
// bc.Hash is reused directly rather than reinventing a 32-byte hash
// type: it already has Bech32-adjacent text marshaling hooks and a
// stable Byte32()/NewHash() pair (see DESIGN.md, internal/node entry).
type ID = bc.Hash

// ContractID identifies a contract by its genesis's node-id.
type ContractID = ID

// hashDomain tags a VMHash the way WriteWitnessHashTo tags the witness
// hash with "WitnessHash" (protocol/bc/tx.go): one fixed string per
// object kind keeps domains from colliding even if two kinds happen to
// encode to the same byte string.
func hashDomain(domain string, encoded []byte) ID {
	h := txvm.VMHash(domain, encoded)
	return bc.NewHash(h)
}

// Bech32 renders id for display under the given human-readable prefix,
// e.g. "rgb", "rgb:g" (contract/genesis), "rgb:t" (transition/node),
// "rgb:c" (schema)
func Bech32(hrp string, id ID) string {
	b := id.Byte32()
	return strictenc.Bech32Encode(hrp, b[:])
}

// ParseBech32 is the inverse of Bech32.
func ParseBech32(s string) (ID, error) {
	_, data, ok := strictenc.Bech32Decode(s)
	if !ok {
		return ID{}, errBadBech32
	}
	return bc.HashFromBytes(data), nil
}

func hashFromArray(b [32]byte) ID { return bc.NewHash(b) }

// IDFromArray constructs an ID from a raw 32-byte hash, for packages
// outside node that compute a VMHash themselves (e.g. internal/schema,
// internal/anchor).
func IDFromArray(b [32]byte) ID { return bc.NewHash(b) }
