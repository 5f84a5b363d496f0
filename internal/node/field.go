package node

import (
	"fmt"
	"sort"

	"github.com/sealchain/stash/internal/strictenc"
)

// FieldType names one of a schema's declared metadata field types.
type FieldType byte

const (
	FieldString FieldType = iota
	FieldBytes
	FieldInt
	FieldBool
)

// FieldValue is a single typed metadata value. Only one of the members is
// meaningful, chosen by Type.
type FieldValue struct {
	Type FieldType
	Str  string
	Buf  []byte
	Num  int64
	Flag bool
}

func String(s string) FieldValue { return FieldValue{Type: FieldString, Str: s} }
func Bytes(b []byte) FieldValue  { return FieldValue{Type: FieldBytes, Buf: b} }
func Int(n int64) FieldValue     { return FieldValue{Type: FieldInt, Num: n} }
func Bool(b bool) FieldValue     { return FieldValue{Type: FieldBool, Flag: b} }

func (v FieldValue) String() string {
	switch v.Type {
	case FieldString:
		return v.Str
	case FieldBytes:
		return fmt.Sprintf("x'%x'", v.Buf)
	case FieldInt:
		return fmt.Sprintf("%d", v.Num)
	case FieldBool:
		return fmt.Sprintf("%t", v.Flag)
	}
	return "?"
}

func (v FieldValue) encode(w *strictenc.Writer) {
	w.WriteUvarint(uint64(v.Type))
	switch v.Type {
	case FieldString:
		w.WriteString(v.Str)
	case FieldBytes:
		w.WriteBytes(v.Buf)
	case FieldInt:
		w.WriteUvarint(uint64(v.Num))
	case FieldBool:
		w.WriteBool(v.Flag)
	}
}

func decodeField(r *strictenc.Reader) (FieldValue, error) {
	t, err := r.ReadUvarint()
	if err != nil {
		return FieldValue{}, err
	}
	v := FieldValue{Type: FieldType(t)}
	switch v.Type {
	case FieldString:
		v.Str, err = r.ReadString()
	case FieldBytes:
		v.Buf, err = r.ReadBytes()
	case FieldInt:
		var n uint64
		n, err = r.ReadUvarint()
		v.Num = int64(n)
	case FieldBool:
		v.Flag, err = r.ReadBool()
	}
	return v, err
}

// Metadata is a schema-typed set of named fields, possibly with repeated
// occurrences of the same field name.
type Metadata map[string][]FieldValue

func (m Metadata) encode(w *strictenc.Writer) {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	w.WriteUvarint(uint64(len(names)))
	for _, name := range names {
		w.WriteString(name)
		vals := m[name]
		w.WriteUvarint(uint64(len(vals)))
		for _, v := range vals {
			v.encode(w)
		}
	}
}

func decodeMetadata(r *strictenc.Reader) (Metadata, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	m := make(Metadata, n)
	for i := uint64(0); i < n; i++ {
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		cnt, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		vals := make([]FieldValue, cnt)
		for j := range vals {
			vals[j], err = decodeField(r)
			if err != nil {
				return nil, err
			}
		}
		m[name] = vals
	}
	return m, nil
}
