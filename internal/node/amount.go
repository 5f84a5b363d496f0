package node

import (
	"github.com/chain/txvm/protocol/txvm"

	"github.com/sealchain/stash/internal/seal"
	"github.com/sealchain/stash/internal/strictenc"
)

// amountDomain tags the deterministic placeholder commitment used when an
// Amount needs to be concealed for node-id hashing purposes. Real
// confidential amounts (Pedersen commitments + bulletproofs) are outside
// this core's scope; what the identity algebra needs is only that two
// variants of the same amount, one concealed and one revealed, commit
// to the same value, which a tagged hash provides just as well as a
// homomorphic commitment would for merge-reveal purposes.
const amountDomain = "AmountCommitment"

// Amount is a confidential-or-revealed numeric value attached to an owned
// right.
type Amount struct {
	Revealed   bool
	Value      uint64
	Commitment [32]byte // meaningful when !Revealed
}

func RevealedAmount(v uint64) Amount { return Amount{Revealed: true, Value: v} }

func (a Amount) Conceal() [32]byte {
	if !a.Revealed {
		return a.Commitment
	}
	w := strictenc.NewWriter()
	w.WriteUvarint(a.Value)
	return txvm.VMHash(amountDomain, w.Bytes())
}

func (a Amount) encode(w *strictenc.Writer) {
	w.WriteBool(a.Revealed)
	if a.Revealed {
		w.WriteUvarint(a.Value)
	} else {
		w.WriteFixed(a.Commitment[:])
	}
}

func decodeAmount(r *strictenc.Reader) (Amount, error) {
	revealed, err := r.ReadBool()
	if err != nil {
		return Amount{}, err
	}
	a := Amount{Revealed: revealed}
	if revealed {
		v, err := r.ReadUvarint()
		if err != nil {
			return Amount{}, err
		}
		a.Value = v
		return a, nil
	}
	b, err := r.ReadFixed(32)
	if err != nil {
		return Amount{}, err
	}
	copy(a.Commitment[:], b)
	return a, nil
}

// RevealAmount combines two variants of the same amount, failing if they
// commit to different values.
func RevealAmount(a, b Amount) (Amount, bool) {
	if a.Conceal() != b.Conceal() {
		return Amount{}, false
	}
	if a.Revealed {
		return a, true
	}
	return b, true
}

// Assignment is one instance of an owned right: a seal to close plus the
// value carried under it.
type Assignment struct {
	Type   string
	Seal   seal.Definition
	Amount Amount
}

func (a Assignment) encode(w *strictenc.Writer) {
	w.WriteString(a.Type)
	a.Seal.Encode(w)
	a.Amount.encode(w)
}

// identityEncode writes a's contribution to a node-id hash: the seal and
// amount always in their concealed (committed) form, regardless of
// which form a is actually carrying. Two variants of the same
// assignment, one revealed and one concealed, must contribute identical
// bytes here or merge_reveal would change a node's identity the moment
// a field is revealed.
func (a Assignment) identityEncode(w *strictenc.Writer) {
	w.WriteString(a.Type)
	sealCommitment := a.Seal.Conceal()
	w.WriteFixed(sealCommitment[:])
	amountCommitment := a.Amount.Conceal()
	w.WriteFixed(amountCommitment[:])
}

func decodeAssignment(r *strictenc.Reader) (Assignment, error) {
	typ, err := r.ReadString()
	if err != nil {
		return Assignment{}, err
	}
	s, err := seal.Decode(r)
	if err != nil {
		return Assignment{}, err
	}
	amt, err := decodeAmount(r)
	if err != nil {
		return Assignment{}, err
	}
	return Assignment{Type: typ, Seal: s, Amount: amt}, nil
}

// ParentRef names a predecessor assignment by the node that created it
// and its index within that node's OwnedRights.
type ParentRef struct {
	Node  ID
	Index uint32
}

func (p ParentRef) encode(w *strictenc.Writer) {
	b := p.Node.Byte32()
	w.WriteFixed(b[:])
	w.WriteUvarint(uint64(p.Index))
}

func decodeParentRef(r *strictenc.Reader) (ParentRef, error) {
	b, err := r.ReadFixed(32)
	if err != nil {
		return ParentRef{}, err
	}
	idx, err := r.ReadUvarint()
	if err != nil {
		return ParentRef{}, err
	}
	var arr [32]byte
	copy(arr[:], b)
	return ParentRef{Node: hashFromArray(arr), Index: uint32(idx)}, nil
}
