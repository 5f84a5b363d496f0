// Package anchor implements Anchor, Bundle and Disclosure: the
// witness-transaction-keyed commitment objects that tie a set of
// transitions to the seals they close.
package anchor

import (
	"sort"

	"github.com/chain/txvm/protocol/merkle"
	"github.com/chain/txvm/protocol/txvm"

	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/strictenc"
)

const (
	anchorDomain = "Anchor"
	bundleDomain = "Bundle"
)

// Bundle is the set of transitions one witness transaction closes for a
// single contract, each paired with the input indices (into that
// contract's parent owned rights) it closes.
type Bundle struct {
	Closes map[node.ID][]uint32
}

func NewBundle() *Bundle {
	return &Bundle{Closes: map[node.ID][]uint32{}}
}

// Add records that transition t closes parent input index idx.
func (b *Bundle) Add(t node.ID, idx uint32) {
	b.Closes[t] = append(b.Closes[t], idx)
}

func (b *Bundle) sortedTransitions() []node.ID {
	ids := make([]node.ID, 0, len(b.Closes))
	for id := range b.Closes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		bi, bj := ids[i].Byte32(), ids[j].Byte32()
		return string(bi[:]) < string(bj[:])
	})
	return ids
}

func (b *Bundle) leaf(id node.ID) []byte {
	w := strictenc.NewWriter()
	idb := id.Byte32()
	w.WriteFixed(idb[:])
	idx := append([]uint32(nil), b.Closes[id]...)
	sort.Slice(idx, func(i, j int) bool { return idx[i] < idx[j] })
	w.WriteUvarint(uint64(len(idx)))
	for _, i := range idx {
		w.WriteUvarint(uint64(i))
	}
	return w.Bytes()
}

func (b *Bundle) leaves() [][]byte {
	ids := b.sortedTransitions()
	out := make([][]byte, len(ids))
	for i, id := range ids {
		out[i] = b.leaf(id)
	}
	return out
}

// ID is the bundle-id: a tagged hash of the merkle root over
// (transition-id, sorted input indices) leaves.
func (b *Bundle) ID() node.ID {
	root := merkle.Root(b.leaves())
	return node.IDFromArray(txvm.VMHash(bundleDomain, root[:]))
}

// Proof returns the audit path proving transition t closes inputs idx
// inside b, for a counterparty that is given only b's leaves and root
// rather than every other transition's contents.
func (b *Bundle) Proof(t node.ID) ([]merkle.AuditHash, error) {
	ids := b.sortedTransitions()
	for i, id := range ids {
		if id == t {
			return merkle.Proof(b.leaves(), i)
		}
	}
	return nil, errUnknownTransition
}

func (b *Bundle) encode(w *strictenc.Writer) {
	ids := b.sortedTransitions()
	w.WriteUvarint(uint64(len(ids)))
	for _, id := range ids {
		idb := id.Byte32()
		w.WriteFixed(idb[:])
		idx := b.Closes[id]
		w.WriteUvarint(uint64(len(idx)))
		for _, i := range idx {
			w.WriteUvarint(uint64(i))
		}
	}
}

func decodeBundle(r *strictenc.Reader) (*Bundle, error) {
	b := NewBundle()
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		idb, err := r.ReadFixed(32)
		if err != nil {
			return nil, err
		}
		var arr [32]byte
		copy(arr[:], idb)
		id := node.IDFromArray(arr)
		m, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		idx := make([]uint32, m)
		for j := range idx {
			v, err := r.ReadUvarint()
			if err != nil {
				return nil, err
			}
			idx[j] = uint32(v)
		}
		b.Closes[id] = idx
	}
	return b, nil
}

// Anchor commits one witness transaction to every contract's bundle-id
// closed by it. Anchors are shared across contracts: two unrelated
// contracts whose transitions both close seals in the same witness
// transaction are committed inside the same Anchor.
type Anchor struct {
	WitnessTxid string
	Contracts   map[node.ContractID]node.ID // contract-id -> bundle-id
	// PinnedRoot, when set, is the authoritative commitment root for a
	// redacted Anchor that carries only a subset of Contracts (see
	// Redacted); Commitment falls back to recomputing from Contracts
	// when nil, which is correct only when Contracts is complete.
	PinnedRoot *[32]byte
}

func NewAnchor(witnessTxid string) *Anchor {
	return &Anchor{WitnessTxid: witnessTxid, Contracts: map[node.ContractID]node.ID{}}
}

// Redacted returns a copy of a carrying only contractID's pair, with the
// full commitment root pinned, for a consignment that must not leak
// other contracts sharing this witness transaction to the counterparty
// (spec's "splice the anchor's Merkle proof into the outgoing
// consignment"). The copy carries no audit path; Proof computes one
// from the full Anchor on request.
func (a *Anchor) Redacted(contractID node.ContractID) (*Anchor, error) {
	bundleID, ok := a.Contracts[contractID]
	if !ok {
		return nil, errUnknownContract
	}
	root := a.Commitment()
	return &Anchor{
		WitnessTxid: a.WitnessTxid,
		Contracts:   map[node.ContractID]node.ID{contractID: bundleID},
		PinnedRoot:  &root,
	}, nil
}

func (a *Anchor) sortedContracts() []node.ContractID {
	ids := make([]node.ContractID, 0, len(a.Contracts))
	for id := range a.Contracts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		bi, bj := ids[i].Byte32(), ids[j].Byte32()
		return string(bi[:]) < string(bj[:])
	})
	return ids
}

func (a *Anchor) leaf(contractID node.ContractID) []byte {
	w := strictenc.NewWriter()
	cb := contractID.Byte32()
	bb := a.Contracts[contractID].Byte32()
	w.WriteFixed(cb[:])
	w.WriteFixed(bb[:])
	return w.Bytes()
}

func (a *Anchor) leaves() [][]byte {
	ids := a.sortedContracts()
	out := make([][]byte, len(ids))
	for i, id := range ids {
		out[i] = a.leaf(id)
	}
	return out
}

// Commitment is the merkle root over the sorted (contract-id,
// bundle-id) leaves: the "Merkle block" the anchor-id is derived from.
func (a *Anchor) Commitment() [32]byte {
	if a.PinnedRoot != nil {
		return *a.PinnedRoot
	}
	return merkle.Root(a.leaves())
}

// ID is the anchor-id: a tagged hash over the witness-txid and the
// commitment root, so the same commitment on two different witness
// transactions (impossible in practice, but not structurally excluded)
// never collides.
func (a *Anchor) ID() node.ID {
	root := a.Commitment()
	w := strictenc.NewWriter()
	w.WriteString(a.WitnessTxid)
	w.WriteFixed(root[:])
	return node.IDFromArray(txvm.VMHash(anchorDomain, w.Bytes()))
}

// Proof returns the DBC proof that contractID's bundle-id is committed
// inside a, without revealing any other contract's bundle-id.
func (a *Anchor) Proof(contractID node.ContractID) ([]merkle.AuditHash, error) {
	ids := a.sortedContracts()
	for i, id := range ids {
		if id == contractID {
			return merkle.Proof(a.leaves(), i)
		}
	}
	return nil, errUnknownContract
}

// Contains reports whether (contractID, bundleID) is one of a's
// committed pairs by looking contractID up in a.Contracts. It neither
// recomputes the commitment root nor walks an audit path, so for a
// redacted Anchor it does not check the pair against PinnedRoot. The
// AuditHash path from Proof is for a counterparty that must NOT learn
// the other contracts' bundle-ids.
func (a *Anchor) Contains(contractID node.ContractID, bundleID node.ID) bool {
	got, ok := a.Contracts[contractID]
	return ok && got == bundleID
}

func (a *Anchor) Bytes() []byte {
	w := strictenc.NewWriter()
	w.WriteMagic(strictenc.KindAnchor)
	w.WriteString(a.WitnessTxid)
	w.WriteBool(a.PinnedRoot != nil)
	if a.PinnedRoot != nil {
		w.WriteFixed(a.PinnedRoot[:])
	}
	ids := a.sortedContracts()
	w.WriteUvarint(uint64(len(ids)))
	for _, id := range ids {
		cb := id.Byte32()
		bb := a.Contracts[id].Byte32()
		w.WriteFixed(cb[:])
		w.WriteFixed(bb[:])
	}
	return w.Bytes()
}

func FromBytes(b []byte) (*Anchor, error) {
	r := strictenc.NewReader(b)
	if err := r.ReadMagic(strictenc.KindAnchor); err != nil {
		return nil, err
	}
	a := &Anchor{Contracts: map[node.ContractID]node.ID{}}
	var err error
	a.WitnessTxid, err = r.ReadString()
	if err != nil {
		return nil, err
	}
	pinned, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	if pinned {
		rb, err := r.ReadFixed(32)
		if err != nil {
			return nil, err
		}
		var arr [32]byte
		copy(arr[:], rb)
		a.PinnedRoot = &arr
	}
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		cb, err := r.ReadFixed(32)
		if err != nil {
			return nil, err
		}
		bb, err := r.ReadFixed(32)
		if err != nil {
			return nil, err
		}
		var carr, barr [32]byte
		copy(carr[:], cb)
		copy(barr[:], bb)
		a.Contracts[node.IDFromArray(carr)] = node.IDFromArray(barr)
	}
	return a, nil
}

// Disclosure is the companion artifact finalize produces for the
// non-subject contracts sharing a witness transaction with the one
// being consigned: same anchor, full bundle contents (not just the
// bundle-id) for each of those contracts.
type Disclosure struct {
	Anchor  *Anchor
	Bundles map[node.ContractID]*Bundle
}

func NewDisclosure(a *Anchor) *Disclosure {
	return &Disclosure{Anchor: a, Bundles: map[node.ContractID]*Bundle{}}
}

const disclosureDomain = "Disclosure"

// ID is the disclosure-id, used to key persistence and to detect
// replay (the same disclosure presented twice hashes identically).
func (d *Disclosure) ID() node.ID {
	return node.IDFromArray(txvm.VMHash(disclosureDomain, d.canonicalBytes()))
}

func (d *Disclosure) canonicalBytes() []byte {
	w := strictenc.NewWriter()
	root := d.Anchor.Commitment()
	w.WriteFixed(root[:])
	w.WriteString(d.Anchor.WitnessTxid)
	ids := make([]node.ContractID, 0, len(d.Bundles))
	for id := range d.Bundles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		bi, bj := ids[i].Byte32(), ids[j].Byte32()
		return string(bi[:]) < string(bj[:])
	})
	w.WriteUvarint(uint64(len(ids)))
	for _, id := range ids {
		cb := id.Byte32()
		w.WriteFixed(cb[:])
		d.Bundles[id].encode(w)
	}
	return w.Bytes()
}

func (d *Disclosure) Bytes() []byte {
	w := strictenc.NewWriter()
	w.WriteMagic(strictenc.KindDisclosure)
	anchorBytes := d.Anchor.Bytes()
	w.WriteBytes(anchorBytes)
	ids := make([]node.ContractID, 0, len(d.Bundles))
	for id := range d.Bundles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		bi, bj := ids[i].Byte32(), ids[j].Byte32()
		return string(bi[:]) < string(bj[:])
	})
	w.WriteUvarint(uint64(len(ids)))
	for _, id := range ids {
		cb := id.Byte32()
		w.WriteFixed(cb[:])
		d.Bundles[id].encode(w)
	}
	return w.Bytes()
}

func DisclosureFromBytes(b []byte) (*Disclosure, error) {
	r := strictenc.NewReader(b)
	if err := r.ReadMagic(strictenc.KindDisclosure); err != nil {
		return nil, err
	}
	anchorBytes, err := r.ReadBytes()
	if err != nil {
		return nil, err
	}
	a, err := FromBytes(anchorBytes)
	if err != nil {
		return nil, err
	}
	d := NewDisclosure(a)
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		cb, err := r.ReadFixed(32)
		if err != nil {
			return nil, err
		}
		var carr [32]byte
		copy(carr[:], cb)
		bundle, err := decodeBundle(r)
		if err != nil {
			return nil, err
		}
		d.Bundles[node.IDFromArray(carr)] = bundle
	}
	return d, nil
}
