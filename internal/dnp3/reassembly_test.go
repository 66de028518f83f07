package dnp3

import (
	"bytes"
	"errors"
	"testing"
)

func mustIngest(t *testing.T, r *Record, seg []byte) bool {
	t.Helper()
	done, err := r.Ingest(seg)
	if err != nil {
		t.Fatalf("Ingest(%x) failed: %v", seg, err)
	}
	return done
}

func TestRecord_SingleSegment(t *testing.T) {
	r := NewRecord(0)
	if r.State() != StateEmpty || r.MaxSize() != DefaultMaxBufferSize {
		t.Fatalf("new record = %s/%d", r.State(), r.MaxSize())
	}

	if !mustIngest(t, r, segment(true, true, 0, 0xC0, 0x01, 0x3C)) {
		t.Error("expected FIR|FIN segment to complete the fragment")
	}
	if r.State() != StateComplete {
		t.Errorf("State() = %s, want complete", r.State())
	}
	if !bytes.Equal(r.Bytes(), []byte{0xC0, 0x01, 0x3C}) {
		t.Errorf("Bytes() = %x", r.Bytes())
	}
}

func TestRecord_MultiSegment(t *testing.T) {
	r := NewRecord(0)

	if mustIngest(t, r, segment(true, false, 62, 1, 2)) {
		t.Fatal("FIR segment should not complete")
	}
	if r.State() != StateAccumulating {
		t.Fatalf("State() = %s, want accumulating", r.State())
	}
	if r.Bytes() != nil {
		t.Error("Bytes() must be nil while accumulating")
	}
	if mustIngest(t, r, segment(false, false, 63, 3)) {
		t.Fatal("middle segment should not complete")
	}
	// Sequence numbers wrap at 64.
	if !mustIngest(t, r, segment(false, true, 0, 4, 5)) {
		t.Fatal("FIN segment should complete")
	}
	if !bytes.Equal(r.Bytes(), []byte{1, 2, 3, 4, 5}) {
		t.Errorf("Bytes() = %x", r.Bytes())
	}
}

func TestRecord_DuplicateSegmentIgnored(t *testing.T) {
	r := NewRecord(0)
	mustIngest(t, r, segment(true, false, 5, 1))
	mustIngest(t, r, segment(false, false, 5, 9, 9))
	mustIngest(t, r, segment(false, true, 6, 2))

	if !bytes.Equal(r.Bytes(), []byte{1, 2}) {
		t.Errorf("Bytes() = %x, want 0102", r.Bytes())
	}

	// A retransmitted final segment keeps the completed fragment.
	if mustIngest(t, r, segment(false, true, 6, 2)) {
		t.Error("retransmission must not report completion")
	}
	if r.State() != StateComplete || r.Len() != 2 {
		t.Errorf("after retransmission: %s len=%d", r.State(), r.Len())
	}
}

func TestRecord_DroppedSegments(t *testing.T) {
	t.Run("no FIR while empty", func(t *testing.T) {
		r := NewRecord(0)
		_, err := r.Ingest(segment(false, true, 1, 1))
		if !errors.Is(err, ErrDroppedSegment) {
			t.Errorf("err = %v, want ErrDroppedSegment", err)
		}
		if r.State() != StateEmpty {
			t.Errorf("State() = %s", r.State())
		}
	})

	t.Run("sequence gap", func(t *testing.T) {
		r := NewRecord(0)
		mustIngest(t, r, segment(true, false, 1, 1))
		_, err := r.Ingest(segment(false, true, 3, 2))
		if !errors.Is(err, ErrDroppedSegment) {
			t.Errorf("err = %v, want ErrDroppedSegment", err)
		}
		if r.State() != StateEmpty || r.Len() != 0 {
			t.Errorf("after gap: %s len=%d", r.State(), r.Len())
		}
	})

	t.Run("FIR while accumulating", func(t *testing.T) {
		r := NewRecord(0)
		mustIngest(t, r, segment(true, false, 1, 1, 1))
		done, err := r.Ingest(segment(true, true, 7, 2))
		if !errors.Is(err, ErrDroppedSegment) {
			t.Errorf("err = %v, want ErrDroppedSegment", err)
		}
		if !done || !bytes.Equal(r.Bytes(), []byte{2}) {
			t.Errorf("new fragment not started: done=%v bytes=%x", done, r.Bytes())
		}
	})

	t.Run("empty segment", func(t *testing.T) {
		r := NewRecord(0)
		if _, err := r.Ingest(nil); !errors.Is(err, ErrShortSegment) {
			t.Errorf("err = %v, want ErrShortSegment", err)
		}
	})
}

func TestRecord_CompleteThenNextFragment(t *testing.T) {
	r := NewRecord(0)
	mustIngest(t, r, segment(true, true, 0, 1))

	// The next fragment resets the record before accumulating.
	mustIngest(t, r, segment(true, false, 1, 2))
	if r.State() != StateAccumulating || r.Bytes() != nil {
		t.Fatalf("State() = %s", r.State())
	}
	mustIngest(t, r, segment(false, true, 2, 3))
	if !bytes.Equal(r.Bytes(), []byte{2, 3}) {
		t.Errorf("Bytes() = %x, want 0203", r.Bytes())
	}

	// A stray non-FIR segment after completion drops the held fragment.
	if _, err := r.Ingest(segment(false, false, 9, 4)); !errors.Is(err, ErrDroppedSegment) {
		t.Errorf("err = %v, want ErrDroppedSegment", err)
	}
	if r.State() != StateEmpty {
		t.Errorf("State() = %s, want empty", r.State())
	}
}

func TestRecord_Overflow(t *testing.T) {
	const limit = 8
	r := NewRecord(limit)

	mustIngest(t, r, segment(true, false, 0, 1, 2, 3, 4, 5))
	_, err := r.Ingest(segment(false, false, 1, 6, 7, 8, 9))
	if !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("err = %v, want ErrBufferOverflow", err)
	}
	if r.State() != StateEmpty || r.Len() != 0 {
		t.Errorf("after overflow: %s len=%d", r.State(), r.Len())
	}

	big := make([]byte, limit+1)
	if _, err := r.Ingest(segment(true, true, 2, big...)); !errors.Is(err, ErrBufferOverflow) {
		t.Errorf("oversized first segment err = %v", err)
	}
	if r.Len() > limit {
		t.Errorf("Len() = %d exceeds max", r.Len())
	}

	exact := make([]byte, limit)
	if !mustIngest(t, r, segment(true, true, 3, exact...)) || r.Len() != limit {
		t.Errorf("fragment of exactly max bytes should complete, len=%d", r.Len())
	}
}

func TestRecord_Reset(t *testing.T) {
	r := NewRecord(0)
	mustIngest(t, r, segment(true, true, 0, 1, 2))
	r.Reset()
	if r.State() != StateEmpty || r.Len() != 0 || r.Bytes() != nil {
		t.Errorf("after Reset: %s len=%d", r.State(), r.Len())
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateEmpty:        "empty",
		StateAccumulating: "accumulating",
		StateComplete:     "complete",
		State(9):          "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d) = %s, want %s", s, got, want)
		}
	}
}
