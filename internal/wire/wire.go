package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	version   byte = 1
	kindEntry byte = 1
	kindList  byte = 2
)

var (
	ErrCorrupt = errors.New("assetproxy: corrupt frame")
	magic4     = [...]byte{'A', 'P', 'X', 'Y'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry: magic(4) | ver(1) | kind(1=entry) | gen(u64 be) | vlen(u32 be) | payload(vlen)
func EncodeEntry(gen uint64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], gen)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeEntry returns the generation and a payload slice aliasing b.
func DecodeEntry(b []byte) (gen uint64, payload []byte, err error) {
	const hdr = 4 + 1 + 1 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return 0, nil, ErrCorrupt
	}

	off := 6
	gen = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // exact: no truncation, no trailing bytes
		return 0, nil, ErrCorrupt
	}

	return gen, b[off : off+vlen], nil
}

// List:
//
//	magic(4) | ver(1) | kind(2=list) | n(u32 be)
//	keyLen(u16 be) | key(keyLen) * n
//
// Order is preserved. Keys must be non-empty and at most 0xFFFF bytes.
func EncodeList(keys []string) ([]byte, error) {
	total := 4 + 1 + 1 + 4
	for _, k := range keys {
		if l := len(k); l == 0 || l > 0xFFFF {
			return nil, fmt.Errorf("assetproxy: invalid list key length %d", l)
		}
		total += 2 + len(k)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindList)

	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint32(u4[:], uint32(len(keys)))
	buf.Write(u4[:])

	for _, k := range keys {
		binary.BigEndian.PutUint16(u2[:], uint16(len(k)))
		buf.Write(u2[:])
		buf.WriteString(k)
	}

	return buf.Bytes(), nil
}

func DecodeList(b []byte) ([]string, error) {
	const hdr = 4 + 1 + 1 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindList {
		return nil, ErrCorrupt
	}

	off := 6
	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	// every key costs at least 3 bytes; reject counts the buffer cannot hold
	if n < 0 || n > (len(b)-off)/3 {
		return nil, ErrCorrupt
	}

	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return nil, ErrCorrupt
		}
		klen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if klen <= 0 || klen > len(b)-off {
			return nil, ErrCorrupt
		}
		keys = append(keys, string(b[off:off+klen]))
		off += klen
	}
	if off != len(b) {
		return nil, ErrCorrupt
	}

	return keys, nil
}
