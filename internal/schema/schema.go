// Package schema implements the declarative contract template Schema
//: field types, owned/public right types, genesis/transition/
// extension shapes, and the validation procedures a Schema can attach to
// an owned-right type.
package schema

import (
	"fmt"
	"sort"

	"github.com/chain/txvm/protocol/txvm"

	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/strictenc"
)

// Occurrence bounds how many times a field or right may appear.
type Occurrence struct {
	Min, Max uint32 // Max == 0 means unbounded
}

func (o Occurrence) allows(n int) bool {
	if uint32(n) < o.Min {
		return false
	}
	return o.Max == 0 || uint32(n) <= o.Max
}

// Shape declares the occurrence rules for one node kind (genesis, or one
// transition/extension type).
type Shape struct {
	Fields map[string]Occurrence
	Owned  map[string]Occurrence
	Public map[string]bool
}

// Strategy selects a built-in validation procedure by name rather than by
// runtime reflection. StrategyScript
// additionally carries an asm source to run in the txvm sandbox.
type Strategy byte

const (
	// StrategyNone performs no owned-right-specific check beyond shape
	// conformance.
	StrategyNone Strategy = iota
	// StrategyConservation requires the sum of input amounts to equal
	// the sum of output amounts for the right type, enforcing simple
	// non-inflationary transfer. The check is skipped entirely when any
	// of those amounts is concealed.
	StrategyConservation
	// StrategySigCheck requires a revealed ed25519 signature over the
	// node-id to appear in the node's metadata under "sig", checked
	// against a pubkey fixed in the schema (mirrors contracts.go's
	// checksig asm snippet, but invoked as a Go-native strategy).
	StrategySigCheck
	// StrategyProofOfBurn requires the owned right's seal to close to a
	// well-known unspendable outpoint (txid all-zero).
	StrategyProofOfBurn
	// StrategyScript assembles and runs a schema-supplied txvm program
	// and passes when txvm.Validate reports no error. The program is not
	// given the node's fields, inputs or outputs, and nothing checks
	// what it leaves on the stack.
	StrategyScript
)

// RightValidation attaches a Strategy (and, for StrategySigCheck/Script,
// its parameters) to one owned-right type.
type RightValidation struct {
	Strategy  Strategy
	SigPubkey []byte // StrategySigCheck
	ScriptAsm string // StrategyScript
}

// Schema is the declarative template pinning a contract's shape.
type Schema struct {
	FieldTypes      map[string]node.FieldType
	OwnedRightTypes map[string]bool
	PublicRightTypes map[string]bool
	Genesis         Shape
	Transitions     map[string]Shape
	Extensions      map[string]Shape
	Validations     map[string]RightValidation
	RootSchemaID    *node.ID
	// AggregateTypes names the owned-right types whose revealed amounts
	// Contract State folds into a running total (e.g. circulating
	// supply). Types absent here are tracked per-outpoint only.
	AggregateTypes map[string]bool
}

const schemaDomain = "Schema"

// ID is the schema-id: the tagged hash of the schema's strict encoding
//").
func (s *Schema) ID() node.ID {
	w := strictenc.NewWriter()
	s.encode(w)
	h := txvm.VMHash(schemaDomain, w.Bytes())
	return node.IDFromArray(h)
}

func (s *Schema) Bytes() []byte {
	w := strictenc.NewWriter()
	w.WriteMagic(strictenc.KindSchema)
	s.encode(w)
	return w.Bytes()
}

func FromBytes(b []byte) (*Schema, error) {
	r := strictenc.NewReader(b)
	if err := r.ReadMagic(strictenc.KindSchema); err != nil {
		return nil, err
	}
	return decode(r)
}

func sortedKeys(m map[string]node.FieldType) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedBoolKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Schema) encode(w *strictenc.Writer) {
	names := sortedKeys(s.FieldTypes)
	w.WriteUvarint(uint64(len(names)))
	for _, n := range names {
		w.WriteString(n)
		w.WriteUvarint(uint64(s.FieldTypes[n]))
	}
	owned := sortedBoolKeys(s.OwnedRightTypes)
	w.WriteUvarint(uint64(len(owned)))
	for _, n := range owned {
		w.WriteString(n)
	}
	pub := sortedBoolKeys(s.PublicRightTypes)
	w.WriteUvarint(uint64(len(pub)))
	for _, n := range pub {
		w.WriteString(n)
	}
	encodeShape(w, s.Genesis)
	encodeShapeMap(w, s.Transitions)
	encodeShapeMap(w, s.Extensions)
	encodeValidations(w, s.Validations)
	w.WriteBool(s.RootSchemaID != nil)
	if s.RootSchemaID != nil {
		rb := s.RootSchemaID.Byte32()
		w.WriteFixed(rb[:])
	}
	agg := sortedBoolKeys(s.AggregateTypes)
	w.WriteUvarint(uint64(len(agg)))
	for _, n := range agg {
		w.WriteString(n)
	}
}

func encodeShape(w *strictenc.Writer, sh Shape) {
	encodeOccMap(w, sh.Fields)
	encodeOccMap(w, sh.Owned)
	pub := sortedBoolKeys(sh.Public)
	w.WriteUvarint(uint64(len(pub)))
	for _, n := range pub {
		w.WriteString(n)
	}
}

func encodeOccMap(w *strictenc.Writer, m map[string]Occurrence) {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	w.WriteUvarint(uint64(len(names)))
	for _, n := range names {
		w.WriteString(n)
		w.WriteUvarint(uint64(m[n].Min))
		w.WriteUvarint(uint64(m[n].Max))
	}
}

func encodeShapeMap(w *strictenc.Writer, m map[string]Shape) {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	w.WriteUvarint(uint64(len(names)))
	for _, n := range names {
		w.WriteString(n)
		encodeShape(w, m[n])
	}
}

func encodeValidations(w *strictenc.Writer, m map[string]RightValidation) {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	w.WriteUvarint(uint64(len(names)))
	for _, n := range names {
		w.WriteString(n)
		v := m[n]
		w.WriteUvarint(uint64(v.Strategy))
		w.WriteBytes(v.SigPubkey)
		w.WriteString(v.ScriptAsm)
	}
}

func decode(r *strictenc.Reader) (*Schema, error) {
	s := &Schema{
		FieldTypes:       map[string]node.FieldType{},
		OwnedRightTypes:  map[string]bool{},
		PublicRightTypes: map[string]bool{},
		Transitions:      map[string]Shape{},
		Extensions:       map[string]Shape{},
		Validations:      map[string]RightValidation{},
	}
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		t, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		s.FieldTypes[name] = node.FieldType(t)
	}
	n, err = r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		s.OwnedRightTypes[name] = true
	}
	n, err = r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		s.PublicRightTypes[name] = true
	}
	s.Genesis, err = decodeShape(r)
	if err != nil {
		return nil, err
	}
	s.Transitions, err = decodeShapeMap(r)
	if err != nil {
		return nil, err
	}
	s.Extensions, err = decodeShapeMap(r)
	if err != nil {
		return nil, err
	}
	s.Validations, err = decodeValidations(r)
	if err != nil {
		return nil, err
	}
	hasRoot, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	if hasRoot {
		rb, err := r.ReadFixed(32)
		if err != nil {
			return nil, err
		}
		var arr [32]byte
		copy(arr[:], rb)
		id := node.IDFromArray(arr)
		s.RootSchemaID = &id
	}
	n, err = r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	s.AggregateTypes = make(map[string]bool, n)
	for i := uint64(0); i < n; i++ {
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		s.AggregateTypes[name] = true
	}
	return s, nil
}

func decodeShape(r *strictenc.Reader) (Shape, error) {
	sh := Shape{Public: map[string]bool{}}
	var err error
	sh.Fields, err = decodeOccMap(r)
	if err != nil {
		return Shape{}, err
	}
	sh.Owned, err = decodeOccMap(r)
	if err != nil {
		return Shape{}, err
	}
	n, err := r.ReadUvarint()
	if err != nil {
		return Shape{}, err
	}
	for i := uint64(0); i < n; i++ {
		name, err := r.ReadString()
		if err != nil {
			return Shape{}, err
		}
		sh.Public[name] = true
	}
	return sh, nil
}

func decodeOccMap(r *strictenc.Reader) (map[string]Occurrence, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	m := make(map[string]Occurrence, n)
	for i := uint64(0); i < n; i++ {
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		mn, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		mx, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		m[name] = Occurrence{Min: uint32(mn), Max: uint32(mx)}
	}
	return m, nil
}

func decodeShapeMap(r *strictenc.Reader) (map[string]Shape, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	m := make(map[string]Shape, n)
	for i := uint64(0); i < n; i++ {
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		sh, err := decodeShape(r)
		if err != nil {
			return nil, err
		}
		m[name] = sh
	}
	return m, nil
}

func decodeValidations(r *strictenc.Reader) (map[string]RightValidation, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	m := make(map[string]RightValidation, n)
	for i := uint64(0); i < n; i++ {
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		strat, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		pub, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		asm, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		m[name] = RightValidation{Strategy: Strategy(strat), SigPubkey: pub, ScriptAsm: asm}
	}
	return m, nil
}

// TransitionShape resolves the occurrence rules for a transition type,
// or (ok=false) reports that the schema declares no such transition
// type. Extension types are not looked up here.
func (s *Schema) TransitionShape(typ string) (Shape, bool) {
	sh, ok := s.Transitions[typ]
	return sh, ok
}

func (s *Schema) ExtensionShape(typ string) (Shape, bool) {
	sh, ok := s.Extensions[typ]
	return sh, ok
}

func (s *Schema) String() string {
	return fmt.Sprintf("schema(%d fields, %d owned types, %d transition types)",
		len(s.FieldTypes), len(s.OwnedRightTypes), len(s.Transitions))
}
