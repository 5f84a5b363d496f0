// Package strictenc implements the on-disk wire format: strict,
// length-prefixed, little-endian binary encoding with a 4-byte
// magic-number kind tag at the front of every persisted object. It
// plays the role bc.Block.Bytes()/FromBytes() and bc.Hash
// MarshalText/UnmarshalText pairs play (protocol/bc), generalized to
// every persisted kind instead of just blocks — see DESIGN.md for why
// this isn't built on github.com/golang/protobuf.
package strictenc

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/chain/txvm/errors"
)

// Kind identifies which of the five persisted object kinds (plus the
// index file) a blob holds. The first 4 bytes of every .rgb file on disk
// carry one of these, big-endian.
type Kind uint32

const (
	KindSchema     Kind = 0x52534348 // "RSCH"
	KindGenesis    Kind = 0x5247454e // "RGEN"
	KindAnchor     Kind = 0x52414e43 // "RANC"
	KindTransition Kind = 0x52545253 // "RTRS"
	KindExtension  Kind = 0x52455854 // "REXT"
	KindIndex      Kind = 0x5249444e // "RIDN"
	KindDisclosure Kind = 0x52444953 // "RDIS"
)

// ErrBadMagic is what ReadMagic returns when a blob's kind tag does not
// match. The decoders and the store return it as is; it is not mapped
// to a stasherr code.
var ErrBadMagic = errors.New("strictenc: magic number mismatch")

// Writer accumulates a strict encoding. The zero value is ready to use.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) WriteMagic(k Kind) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(k))
	w.buf.Write(b[:])
}

func (w *Writer) WriteUvarint(v uint64) {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(b[:], v)
	w.buf.Write(b[:n])
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *Writer) WriteBytes(b []byte) {
	w.WriteUvarint(uint64(len(b)))
	w.buf.Write(b)
}

func (w *Writer) WriteFixed(b []byte) {
	w.buf.Write(b)
}

func (w *Writer) WriteString(s string) {
	w.WriteBytes([]byte(s))
}

func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Reader consumes a strict encoding produced by Writer.
type Reader struct {
	b   []byte
	off int
}

func NewReader(b []byte) *Reader { return &Reader{b: b} }

func (r *Reader) ReadMagic(want Kind) error {
	got, err := r.readFixed(4)
	if err != nil {
		return err
	}
	if Kind(binary.BigEndian.Uint32(got)) != want {
		return ErrBadMagic
	}
	return nil
}

func (r *Reader) readFixed(n int) ([]byte, error) {
	if r.off+n > len(r.b) {
		return nil, io.ErrUnexpectedEOF
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *Reader) ReadUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.b[r.off:])
	if n <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	r.off += n
	return v, nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.readFixed(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	return r.readFixed(int(n))
}

func (r *Reader) ReadFixed(n int) ([]byte, error) {
	return r.readFixed(n)
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Done reports whether the reader has consumed every byte, for callers
// that want to treat trailing garbage as DataIntegrity.
func (r *Reader) Done() bool { return r.off == len(r.b) }
