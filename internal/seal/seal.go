// Package seal implements single-use-seal definitions (GLOSSARY:
// "Seal / Seal endpoint"): blinded (commitment) or revealed (concrete
// outpoint), plus the witness-output variant that's resolved relative to
// a witness transaction at accept/enclose time.
package seal

import (
	"fmt"

	"github.com/chain/txvm/protocol/txvm"

	"github.com/sealchain/stash/internal/strictenc"
)

// Outpoint is a concrete (txid, vout) on the resolver's chain.
type Outpoint struct {
	Txid string
	Vout uint32
}

func (o Outpoint) String() string { return fmt.Sprintf("%s:%d", o.Txid, o.Vout) }

// Form tags which of the three shapes a Definition is carrying.
type Form byte

const (
	// FormConcealed carries only the blinded commitment; the seal's
	// outpoint is unknown to whoever holds this form.
	FormConcealed Form = iota
	// FormRevealed carries a concrete outpoint and the blinding factor
	// that was used to produce the concealed commitment.
	FormRevealed
	// FormWitnessVout carries a vout index to be resolved against
	// whatever witness transaction ends up closing this seal, plus a
	// blinding factor. Used for change/self-assignments created before
	// the witness transaction has a txid.
	FormWitnessVout
)

// Definition is a seal in one of its three forms. Exactly one of
// Commitment, Outpoint is meaningful, chosen by Form.
type Definition struct {
	Form       Form
	Commitment [32]byte // meaningful when Form == FormConcealed
	Outpoint   Outpoint // meaningful when Form == FormRevealed
	Vout       uint32   // meaningful when Form == FormWitnessVout
	Blinding   uint64   // meaningful when Form != FormConcealed
}

// blindingDomain is the VMHash tag used to derive a concealed commitment
// from a revealed outpoint and blinding factor, the same "named function,
// hash the encoded operands" idiom bc.Tx uses for its witness hash
// (vendor/.../protocol/bc/tx.go writeWitnessHashTo).
const blindingDomain = "SealCommitment"

// Conceal returns the deterministic concealed commitment for d, computing
// it from the revealed outpoint when necessary. Two Definitions that
// describe the same seal always conceal to the same commitment,
// regardless of which form either is carrying — this is what lets
// NodeID hashing stay stable across reveal/conceal.
func (d Definition) Conceal() [32]byte {
	if d.Form == FormConcealed {
		return d.Commitment
	}
	w := strictenc.NewWriter()
	w.WriteString(d.Outpoint.Txid)
	w.WriteUvarint(uint64(d.Outpoint.Vout))
	w.WriteUvarint(d.Blinding)
	return txvm.VMHash(blindingDomain, w.Bytes())
}

// Resolve turns a FormWitnessVout definition into a FormRevealed one once
// the witness txid is known. Other forms are returned as-is.
func (d Definition) Resolve(witnessTxid string) Definition {
	if d.Form != FormWitnessVout {
		return d
	}
	return Definition{
		Form:     FormRevealed,
		Outpoint: Outpoint{Txid: witnessTxid, Vout: d.Vout},
		Blinding: d.Blinding,
	}
}

// Reveal returns the more-informative of a and b, failing if they
// describe different seals.
func Reveal(a, b Definition) (Definition, bool) {
	ca, cb := a.Conceal(), b.Conceal()
	if ca != cb {
		return Definition{}, false
	}
	if a.Form == FormRevealed {
		return a, true
	}
	return b, true
}

func (d Definition) Encode(w *strictenc.Writer) {
	w.WriteUvarint(uint64(d.Form))
	switch d.Form {
	case FormConcealed:
		w.WriteFixed(d.Commitment[:])
	case FormRevealed:
		w.WriteString(d.Outpoint.Txid)
		w.WriteUvarint(uint64(d.Outpoint.Vout))
		w.WriteUvarint(d.Blinding)
	case FormWitnessVout:
		w.WriteUvarint(uint64(d.Vout))
		w.WriteUvarint(d.Blinding)
	}
}

func Decode(r *strictenc.Reader) (Definition, error) {
	form, err := r.ReadUvarint()
	if err != nil {
		return Definition{}, err
	}
	d := Definition{Form: Form(form)}
	switch d.Form {
	case FormConcealed:
		b, err := r.ReadFixed(32)
		if err != nil {
			return Definition{}, err
		}
		copy(d.Commitment[:], b)
	case FormRevealed:
		txid, err := r.ReadString()
		if err != nil {
			return Definition{}, err
		}
		vout, err := r.ReadUvarint()
		if err != nil {
			return Definition{}, err
		}
		blinding, err := r.ReadUvarint()
		if err != nil {
			return Definition{}, err
		}
		d.Outpoint = Outpoint{Txid: txid, Vout: uint32(vout)}
		d.Blinding = blinding
	case FormWitnessVout:
		vout, err := r.ReadUvarint()
		if err != nil {
			return Definition{}, err
		}
		blinding, err := r.ReadUvarint()
		if err != nil {
			return Definition{}, err
		}
		d.Vout = uint32(vout)
		d.Blinding = blinding
	}
	return d, nil
}
