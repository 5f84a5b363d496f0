package strictenc

import "strings"

// Bech32 display encoding for 32-byte identifiers. The algorithm is
// small and fully specified by BIP-173, so it is implemented here
// directly rather than reaching for an external library for it.
const charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var charsetRev = func() [128]int8 {
	var m [128]int8
	for i := range m {
		m[i] = -1
	}
	for i, c := range charset {
		m[c] = int8(i)
	}
	return m
}()

func polymod(values []byte) uint32 {
	gen := [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}
	chk := uint32(1)
	for _, v := range values {
		b := byte(chk >> 25)
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i := 0; i < 5; i++ {
			if (b>>uint(i))&1 == 1 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

func hrpExpand(hrp string) []byte {
	out := make([]byte, 0, len(hrp)*2+1)
	for _, c := range hrp {
		out = append(out, byte(c)>>5)
	}
	out = append(out, 0)
	for _, c := range hrp {
		out = append(out, byte(c)&31)
	}
	return out
}

func createChecksum(hrp string, data []byte) []byte {
	values := append(hrpExpand(hrp), data...)
	values = append(values, 0, 0, 0, 0, 0, 0)
	mod := polymod(values) ^ 1
	checksum := make([]byte, 6)
	for i := range checksum {
		checksum[i] = byte((mod >> uint(5*(5-i))) & 31)
	}
	return checksum
}

func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, bool) {
	acc := uint32(0)
	bits := uint(0)
	var out []byte
	maxv := uint32(1<<toBits) - 1
	for _, b := range data {
		if b>>fromBits != 0 {
			return nil, false
		}
		acc = acc<<fromBits | uint32(b)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte(acc>>bits)&byte(maxv))
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, byte(acc<<(toBits-bits))&byte(maxv))
		}
	} else if bits >= fromBits || (acc<<(toBits-bits))&maxv != 0 {
		return nil, false
	}
	return out, true
}

// Bech32Encode encodes raw (32-byte identifier) data under the given
// human-readable prefix, e.g. Bech32Encode("rgb", nodeID[:]).
func Bech32Encode(hrp string, data []byte) string {
	values, ok := convertBits(data, 8, 5, true)
	if !ok {
		return ""
	}
	checksum := createChecksum(hrp, values)
	combined := append(values, checksum...)
	var sb strings.Builder
	sb.WriteString(hrp)
	sb.WriteByte('1')
	for _, v := range combined {
		sb.WriteByte(charset[v])
	}
	return sb.String()
}

// Bech32Decode is the inverse of Bech32Encode; it returns the human-readable
// prefix and the decoded payload bytes.
func Bech32Decode(s string) (hrp string, data []byte, ok bool) {
	pos := strings.LastIndexByte(s, '1')
	if pos < 1 || pos+7 > len(s) {
		return "", nil, false
	}
	hrp = s[:pos]
	var values []byte
	for _, c := range s[pos+1:] {
		if c > 127 || charsetRev[c] == -1 {
			return "", nil, false
		}
		values = append(values, byte(charsetRev[c]))
	}
	if len(values) < 6 {
		return "", nil, false
	}
	payload := values[:len(values)-6]
	decoded, ok := convertBits(payload, 5, 8, false)
	if !ok {
		return "", nil, false
	}
	return hrp, decoded, true
}
