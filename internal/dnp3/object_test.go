package dnp3

import (
	"math/rand"
	"testing"
)

func TestDecodeObject_ShortBuffersNeverMatch(t *testing.T) {
	bufs := [][]byte{nil, {}, {0x0A}, {0x0A, 0x01}}
	for _, buf := range bufs {
		for g := 0; g < 256; g += 17 {
			for v := 0; v < 256; v += 17 {
				if DecodeObject(buf, uint8(g), uint8(v)) {
					t.Fatalf("DecodeObject(%x, %d, %d) matched a short buffer", buf, g, v)
				}
			}
		}
	}
	// Exhaustive check for the bytes a short buffer actually holds.
	if DecodeObject([]byte{0x0A, 0x01}, 0x0A, 0x01) {
		t.Error("two-byte buffer matched its own group and variation")
	}
}

func TestDecodeObject_MatchesOnGroupAndVariationOnly(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		buf := make([]byte, 3+rng.Intn(16))
		rng.Read(buf)
		g, v := uint8(rng.Intn(256)), uint8(rng.Intn(256))
		if i%2 == 0 {
			g, v = buf[0], buf[1]
		}

		want := buf[0] == g && buf[1] == v
		if got := DecodeObject(buf, g, v); got != want {
			t.Fatalf("DecodeObject(%x, %d, %d) = %v, want %v", buf, g, v, got, want)
		}

		// Qualifier and trailing bytes never affect the verdict.
		buf[2] ^= 0xFF
		for j := 3; j < len(buf); j++ {
			buf[j] = ^buf[j]
		}
		if got := DecodeObject(buf, g, v); got != want {
			t.Fatalf("verdict changed with qualifier/trailer: %x", buf)
		}
	}
}

func TestDecodeObject_FirstHeaderOnly(t *testing.T) {
	// Class 1 data header followed by a class 0 header.
	buf := []byte{0x3C, 0x02, 0x06, 0x3C, 0x01, 0x06}

	if !DecodeObject(buf, 60, 2) {
		t.Error("expected the leading header to match")
	}
	if DecodeObject(buf, 60, 1) {
		t.Error("a later object header must not match")
	}
}

func TestParseObjectHeader(t *testing.T) {
	hdr, ok := ParseObjectHeader([]byte{0x0C, 0x01, 0x28, 0xFF})
	if !ok {
		t.Fatal("ParseObjectHeader failed")
	}
	if hdr != (ObjectHeader{Group: 12, Variation: 1, Qualifier: 0x28}) {
		t.Errorf("header = %+v", hdr)
	}
	if _, ok := ParseObjectHeader([]byte{0x0C, 0x01}); ok {
		t.Error("expected short buffer to fail")
	}
}
