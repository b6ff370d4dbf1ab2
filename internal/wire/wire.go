package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	version   byte = 1
	kindEntry byte = 1

	maxTags   = 0xFFFF
	maxTagLen = 0xFFFF
)

var (
	ErrCorrupt = errors.New("tagcache: corrupt entry")
	magic4     = [...]byte{'T', 'A', 'G', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry is the provider representation of one cached value.
type Entry struct {
	Gen        uint64
	CreatedAt  time.Time
	FreshUntil time.Time
	Tags       []string
	Payload    []byte
}

// Layout:
//
//	magic(4) | ver(1) | kind(1) | gen(u64 be) | created(i64 be, unix ns) | fresh(i64 be, unix ns)
//	ntags(u16 be) | [tagLen(u16 be) | tag(tagLen)] * ntags
//	vlen(u32 be) | payload(vlen)
func EncodeEntry(e Entry) ([]byte, error) {
	if len(e.Tags) > maxTags {
		return nil, fmt.Errorf("tagcache: too many tags: %d", len(e.Tags))
	}
	total := 4 + 1 + 1 + 8 + 8 + 8 + 2 + 4 + len(e.Payload)
	for _, t := range e.Tags {
		if l := len(t); l == 0 || l > maxTagLen {
			return nil, fmt.Errorf("tagcache: invalid tag length %d", l)
		}
		total += 2 + len(t)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], e.Gen)
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(e.CreatedAt.UnixNano()))
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(e.FreshUntil.UnixNano()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(e.Tags)))
	buf.Write(u2[:])
	for _, t := range e.Tags {
		binary.BigEndian.PutUint16(u2[:], uint16(len(t)))
		buf.Write(u2[:])
		buf.WriteString(t)
	}

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])
	buf.Write(e.Payload)
	return buf.Bytes(), nil
}

// DecodeEntry parses b strictly: trailing bytes are corruption.
// Payload aliases b.
func DecodeEntry(b []byte) (Entry, error) {
	const hdr = 4 + 1 + 1 + 8 + 8 + 8 + 2
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return Entry{}, ErrCorrupt
	}
	off := 6

	var e Entry
	e.Gen = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	e.CreatedAt = time.Unix(0, int64(binary.BigEndian.Uint64(b[off:off+8])))
	off += 8
	e.FreshUntil = time.Unix(0, int64(binary.BigEndian.Uint64(b[off:off+8])))
	off += 8

	n := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	// each tag needs at least 3 bytes; don't trust n for preallocation
	if n*3 > len(b)-off {
		return Entry{}, ErrCorrupt
	}
	if n > 0 {
		e.Tags = make([]string, 0, n)
	}
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return Entry{}, ErrCorrupt
		}
		tlen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if tlen == 0 || tlen > len(b)-off {
			return Entry{}, ErrCorrupt
		}
		e.Tags = append(e.Tags, string(b[off:off+tlen]))
		off += tlen
	}

	if off+4 > len(b) {
		return Entry{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return Entry{}, ErrCorrupt
	}
	e.Payload = b[off : off+vlen]
	return e, nil
}
