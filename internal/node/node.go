package node

import (
	"github.com/sealchain/stash/internal/strictenc"
)

// Node is the small trait-like surface Genesis, Transition and Extension
// all satisfy. The Validator and Consigner are written generically over
// this interface rather than switching on a concrete type at every call
// site.
type Node interface {
	NodeID() ID
	Metadata() Metadata
	OwnedRights() []Assignment
	ParentOwnedRights() []ParentRef
	PublicRights() []string
	// WitnessTxid is the txid of the transaction whose anchor closes this
	// node's parent seals; Genesis has none.
	WitnessTxid() (string, bool)
}

// Genesis is a contract's root node.
type Genesis struct {
	SchemaID     ID
	RootSchemaID *ID
	ChainID      string
	Meta         Metadata
	Owned        []Assignment
	Public       []string
}

func (g *Genesis) Metadata() Metadata             { return g.Meta }
func (g *Genesis) OwnedRights() []Assignment      { return g.Owned }
func (g *Genesis) ParentOwnedRights() []ParentRef { return nil }
func (g *Genesis) PublicRights() []string         { return g.Public }
func (g *Genesis) WitnessTxid() (string, bool)    { return "", false }

const genesisDomain = "Genesis"

// NodeID hashes the revealed form of the genesis. Amounts/seals are
// hashed in their concealed form so revealing them later never changes
// the id.
func (g *Genesis) NodeID() ID {
	w := strictenc.NewWriter()
	sb := g.SchemaID.Byte32()
	w.WriteFixed(sb[:])
	w.WriteBool(g.RootSchemaID != nil)
	if g.RootSchemaID != nil {
		rb := g.RootSchemaID.Byte32()
		w.WriteFixed(rb[:])
	}
	w.WriteString(g.ChainID)
	g.Meta.encode(w)
	identityEncodeOwned(w, g.Owned)
	encodePublic(w, g.Public)
	return hashDomain(genesisDomain, w.Bytes())
}

func (g *Genesis) Bytes() []byte {
	w := strictenc.NewWriter()
	w.WriteMagic(strictenc.KindGenesis)
	sb := g.SchemaID.Byte32()
	w.WriteFixed(sb[:])
	w.WriteBool(g.RootSchemaID != nil)
	if g.RootSchemaID != nil {
		rb := g.RootSchemaID.Byte32()
		w.WriteFixed(rb[:])
	}
	w.WriteString(g.ChainID)
	g.Meta.encode(w)
	encodeOwned(w, g.Owned)
	encodePublic(w, g.Public)
	return w.Bytes()
}

func GenesisFromBytes(b []byte) (*Genesis, error) {
	r := strictenc.NewReader(b)
	if err := r.ReadMagic(strictenc.KindGenesis); err != nil {
		return nil, err
	}
	g := &Genesis{}
	sb, err := r.ReadFixed(32)
	if err != nil {
		return nil, err
	}
	var arr [32]byte
	copy(arr[:], sb)
	g.SchemaID = hashFromArray(arr)
	hasRoot, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	if hasRoot {
		rb, err := r.ReadFixed(32)
		if err != nil {
			return nil, err
		}
		var rarr [32]byte
		copy(rarr[:], rb)
		id := hashFromArray(rarr)
		g.RootSchemaID = &id
	}
	g.ChainID, err = r.ReadString()
	if err != nil {
		return nil, err
	}
	g.Meta, err = decodeMetadata(r)
	if err != nil {
		return nil, err
	}
	g.Owned, err = decodeOwned(r)
	if err != nil {
		return nil, err
	}
	g.Public, err = decodePublic(r)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Transition closes prior owned rights and allocates new ones.
type Transition struct {
	TransitionType string
	Meta           Metadata
	Parents        []ParentRef
	Owned          []Assignment
	Public         []string
	Witness        string // set once persisted; empty before accept
}

func (t *Transition) Metadata() Metadata             { return t.Meta }
func (t *Transition) OwnedRights() []Assignment      { return t.Owned }
func (t *Transition) ParentOwnedRights() []ParentRef { return t.Parents }
func (t *Transition) PublicRights() []string         { return t.Public }
func (t *Transition) WitnessTxid() (string, bool)    { return t.Witness, t.Witness != "" }

const transitionDomain = "Transition"

func (t *Transition) NodeID() ID {
	w := strictenc.NewWriter()
	w.WriteString(t.TransitionType)
	t.Meta.encode(w)
	w.WriteUvarint(uint64(len(t.Parents)))
	for _, p := range t.Parents {
		p.encode(w)
	}
	identityEncodeOwned(w, t.Owned)
	encodePublic(w, t.Public)
	return hashDomain(transitionDomain, w.Bytes())
}

func (t *Transition) Bytes() []byte {
	w := strictenc.NewWriter()
	w.WriteMagic(strictenc.KindTransition)
	w.WriteString(t.TransitionType)
	t.Meta.encode(w)
	w.WriteUvarint(uint64(len(t.Parents)))
	for _, p := range t.Parents {
		p.encode(w)
	}
	encodeOwned(w, t.Owned)
	encodePublic(w, t.Public)
	w.WriteString(t.Witness)
	return w.Bytes()
}

func TransitionFromBytes(b []byte) (*Transition, error) {
	r := strictenc.NewReader(b)
	if err := r.ReadMagic(strictenc.KindTransition); err != nil {
		return nil, err
	}
	t := &Transition{}
	var err error
	t.TransitionType, err = r.ReadString()
	if err != nil {
		return nil, err
	}
	t.Meta, err = decodeMetadata(r)
	if err != nil {
		return nil, err
	}
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	t.Parents = make([]ParentRef, n)
	for i := range t.Parents {
		t.Parents[i], err = decodeParentRef(r)
		if err != nil {
			return nil, err
		}
	}
	t.Owned, err = decodeOwned(r)
	if err != nil {
		return nil, err
	}
	t.Public, err = decodePublic(r)
	if err != nil {
		return nil, err
	}
	t.Witness, err = r.ReadString()
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ClosedRight names a public right of another contract that this
// extension closes.
type ClosedRight struct {
	Contract ContractID
	Type     string
}

// Extension consumes public rights rather than owned rights.
type Extension struct {
	ExtensionType string
	Meta          Metadata
	Closes        []ClosedRight
	Owned         []Assignment
	Public        []string
	Witness       string
}

func (e *Extension) Metadata() Metadata             { return e.Meta }
func (e *Extension) OwnedRights() []Assignment      { return e.Owned }
func (e *Extension) ParentOwnedRights() []ParentRef { return nil }
func (e *Extension) PublicRights() []string         { return e.Public }
func (e *Extension) WitnessTxid() (string, bool)    { return e.Witness, e.Witness != "" }

const extensionDomain = "Extension"

func (e *Extension) NodeID() ID {
	w := strictenc.NewWriter()
	w.WriteString(e.ExtensionType)
	e.Meta.encode(w)
	w.WriteUvarint(uint64(len(e.Closes)))
	for _, c := range e.Closes {
		cb := c.Contract.Byte32()
		w.WriteFixed(cb[:])
		w.WriteString(c.Type)
	}
	identityEncodeOwned(w, e.Owned)
	encodePublic(w, e.Public)
	return hashDomain(extensionDomain, w.Bytes())
}

func (e *Extension) Bytes() []byte {
	w := strictenc.NewWriter()
	w.WriteMagic(strictenc.KindExtension)
	w.WriteString(e.ExtensionType)
	e.Meta.encode(w)
	w.WriteUvarint(uint64(len(e.Closes)))
	for _, c := range e.Closes {
		cb := c.Contract.Byte32()
		w.WriteFixed(cb[:])
		w.WriteString(c.Type)
	}
	encodeOwned(w, e.Owned)
	encodePublic(w, e.Public)
	w.WriteString(e.Witness)
	return w.Bytes()
}

func ExtensionFromBytes(b []byte) (*Extension, error) {
	r := strictenc.NewReader(b)
	if err := r.ReadMagic(strictenc.KindExtension); err != nil {
		return nil, err
	}
	e := &Extension{}
	var err error
	e.ExtensionType, err = r.ReadString()
	if err != nil {
		return nil, err
	}
	e.Meta, err = decodeMetadata(r)
	if err != nil {
		return nil, err
	}
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	e.Closes = make([]ClosedRight, n)
	for i := range e.Closes {
		cb, err := r.ReadFixed(32)
		if err != nil {
			return nil, err
		}
		var arr [32]byte
		copy(arr[:], cb)
		typ, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		e.Closes[i] = ClosedRight{Contract: hashFromArray(arr), Type: typ}
	}
	e.Owned, err = decodeOwned(r)
	if err != nil {
		return nil, err
	}
	e.Public, err = decodePublic(r)
	if err != nil {
		return nil, err
	}
	e.Witness, err = r.ReadString()
	if err != nil {
		return nil, err
	}
	return e, nil
}

func encodeOwned(w *strictenc.Writer, owned []Assignment) {
	w.WriteUvarint(uint64(len(owned)))
	for _, a := range owned {
		a.encode(w)
	}
}

// identityEncodeOwned writes owned's contribution to a node-id hash,
// using each assignment's concealed commitment rather than its current
// form, so NodeID never changes when a previously concealed field is
// later revealed (see Assignment.identityEncode).
func identityEncodeOwned(w *strictenc.Writer, owned []Assignment) {
	w.WriteUvarint(uint64(len(owned)))
	for _, a := range owned {
		a.identityEncode(w)
	}
}

func decodeOwned(r *strictenc.Reader) ([]Assignment, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	out := make([]Assignment, n)
	for i := range out {
		out[i], err = decodeAssignment(r)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func encodePublic(w *strictenc.Writer, rights []string) {
	w.WriteUvarint(uint64(len(rights)))
	for _, r := range rights {
		w.WriteString(r)
	}
}

func decodePublic(r *strictenc.Reader) ([]string, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		out[i], err = r.ReadString()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
