package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"
	"time"
)

func mustEncode(t *testing.T, e Entry) []byte {
	t.Helper()
	b, err := EncodeEntry(e)
	if err != nil {
		t.Fatalf("EncodeEntry error: %v", err)
	}
	return b
}

func mustDecode(t *testing.T, b []byte) Entry {
	t.Helper()
	e, err := DecodeEntry(b)
	if err != nil {
		t.Fatalf("DecodeEntry error: %v", err)
	}
	return e
}

func TestEntryRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 123456789)
	cases := []Entry{
		{Gen: 0, CreatedAt: now, FreshUntil: now},
		{Gen: 42, CreatedAt: now, FreshUntil: now.Add(time.Minute), Tags: []string{"a"}, Payload: []byte("hello")},
		{Gen: math.MaxUint64, CreatedAt: now, FreshUntil: now.Add(time.Hour), Tags: []string{"x", "yy", "zzz"}, Payload: []byte{0, 1, 2}},
	}
	for _, tc := range cases {
		got := mustDecode(t, mustEncode(t, tc))
		if got.Gen != tc.Gen || !got.CreatedAt.Equal(tc.CreatedAt) || !got.FreshUntil.Equal(tc.FreshUntil) {
			t.Fatalf("header mismatch: got %+v want %+v", got, tc)
		}
		if len(got.Tags) != len(tc.Tags) {
			t.Fatalf("tags len: got %v want %v", got.Tags, tc.Tags)
		}
		for i := range tc.Tags {
			if got.Tags[i] != tc.Tags[i] {
				t.Fatalf("tag %d: got %q want %q", i, got.Tags[i], tc.Tags[i])
			}
		}
		if !bytes.Equal(got.Payload, tc.Payload) {
			t.Fatalf("payload: got %x want %x", got.Payload, tc.Payload)
		}
	}
}

func TestEntryRejectsTrailingBytes(t *testing.T) {
	enc := mustEncode(t, Entry{Gen: 7, Payload: []byte("x")})
	enc = append(enc, 0xDE, 0xAD)
	if _, err := DecodeEntry(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestEntryCorruptHeadersAndLengths(t *testing.T) {
	enc := mustEncode(t, Entry{Gen: 1, Tags: []string{"t"}, Payload: []byte("abc")})

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, err := DecodeEntry(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, err := DecodeEntry(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	badKind := append([]byte(nil), enc...)
	badKind[5] = kindEntry + 1
	if _, err := DecodeEntry(badKind); err == nil {
		t.Fatalf("expected error on bad kind")
	}

	// ntags at 30..31 (4 magic +1 ver +1 kind +8 gen +8 created +8 fresh)
	manyTags := append([]byte(nil), enc...)
	binary.BigEndian.PutUint16(manyTags[30:32], 0xFFFF)
	if _, err := DecodeEntry(manyTags); err == nil {
		t.Fatalf("expected error on bogus tag count")
	}

	// first tag length at 32..33
	longTag := append([]byte(nil), enc...)
	binary.BigEndian.PutUint16(longTag[32:34], 200)
	if _, err := DecodeEntry(longTag); err == nil {
		t.Fatalf("expected error on tag length beyond buffer")
	}

	if _, err := DecodeEntry(enc[:len(enc)-1]); err == nil {
		t.Fatalf("expected error on truncated buffer")
	}
	if _, err := DecodeEntry([]byte("not-wire-format")); err == nil {
		t.Fatalf("expected error on foreign bytes")
	}
}

func TestEncodeTagValidation(t *testing.T) {
	if _, err := EncodeEntry(Entry{Tags: []string{""}}); err == nil {
		t.Fatalf("expected error on empty tag")
	}
	if _, err := EncodeEntry(Entry{Tags: []string{strings.Repeat("a", 0x10000)}}); err == nil {
		t.Fatalf("expected error on tag length > 0xFFFF")
	}
	if _, err := EncodeEntry(Entry{Tags: []string{strings.Repeat("b", 0xFFFF)}}); err != nil {
		t.Fatalf("boundary tag length should succeed: %v", err)
	}
}

func TestEntryZeroCopyPayload(t *testing.T) {
	enc := mustEncode(t, Entry{Gen: 1, Payload: []byte("Z")})
	e := mustDecode(t, enc)
	e.Payload[0] = 'Q'
	if mustDecode(t, enc).Payload[0] != 'Q' {
		t.Fatalf("expected zero-copy slice into enc buffer")
	}
}
