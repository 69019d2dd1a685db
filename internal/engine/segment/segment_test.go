package segment

import (
	"bytes"
	"testing"

	derrors "github.com/dshills/bined/internal/engine/errors"
	"github.com/dshills/bined/internal/engine/source"
)

func memorySource(n int) *source.Source {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	return source.NewMemory(data)
}

func segmentBytes(t *testing.T, s *Segment) []byte {
	t.Helper()
	buf := make([]byte, s.Len())
	if _, err := s.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt error = %v", err)
	}
	return buf
}

func TestNewSourceRange(t *testing.T) {
	src := memorySource(10)

	s, err := NewSourceRange(src, 2, 5)
	if err != nil {
		t.Fatalf("NewSourceRange error = %v", err)
	}
	if s.Kind() != KindSource {
		t.Errorf("Kind() = %v, want source", s.Kind())
	}
	if s.Len() != 5 {
		t.Errorf("Len() = %d, want 5", s.Len())
	}
	if src.Refs() != 1 {
		t.Errorf("Refs() = %d, want 1", src.Refs())
	}

	b, err := s.ByteAt(0)
	if err != nil || b != 2 {
		t.Errorf("ByteAt(0) = (%d, %v), want (2, nil)", b, err)
	}

	if _, err := NewSourceRange(src, 8, 5); !derrors.IsBounds(err) {
		t.Errorf("range past end error = %v, want bounds error", err)
	}

	s.release()
	if src.Refs() != 0 {
		t.Errorf("Refs() after Release = %d, want 0", src.Refs())
	}
}

func TestSegmentSetByte(t *testing.T) {
	owned := NewOwned([]byte{1, 2, 3})
	if err := owned.SetByte(1, 9); err != nil {
		t.Fatalf("SetByte error = %v", err)
	}
	if !bytes.Equal(owned.data, []byte{1, 9, 3}) {
		t.Errorf("data = %v", owned.data)
	}
	if err := owned.SetByte(3, 0); !derrors.IsBounds(err) {
		t.Errorf("SetByte(3) error = %v, want bounds error", err)
	}

	src := memorySource(4)
	ranged, _ := NewSourceRange(src, 0, 4)
	if err := ranged.SetByte(0, 7); !derrors.IsUnsupported(err) {
		t.Errorf("SetByte on source range error = %v, want unsupported", err)
	}
	b, _ := src.ByteAt(0)
	if b != 0 {
		t.Error("source must never be written")
	}
}

func TestSegmentCloneSemantics(t *testing.T) {
	src := memorySource(8)
	ranged, _ := NewSourceRange(src, 1, 6)

	rc := ranged.Clone()
	if rc.Source() != src || rc.SourceOffset() != 1 || rc.Len() != 6 {
		t.Error("source clone should share the source and copy the range")
	}
	if src.Refs() != 2 {
		t.Errorf("Refs() = %d, want 2", src.Refs())
	}

	owned := NewOwned([]byte{4, 5, 6})
	oc := owned.Clone()
	_ = oc.SetByte(0, 99)
	if owned.data[0] != 4 {
		t.Error("owned clone must be deep")
	}
}

func TestSegmentSlice(t *testing.T) {
	src := memorySource(10)
	ranged, _ := NewSourceRange(src, 2, 6)

	part := ranged.Slice(1, 3)
	if got := segmentBytes(t, part); !bytes.Equal(got, []byte{3, 4, 5}) {
		t.Errorf("Slice bytes = %v, want [3 4 5]", got)
	}
	if ranged.Len() != 6 {
		t.Error("Slice must not modify the original")
	}

	owned := NewOwned([]byte("abcdef"))
	if got := segmentBytes(t, owned.Slice(2, 2)); string(got) != "cd" {
		t.Errorf("Slice bytes = %q, want 'cd'", got)
	}
}

func TestSegmentSplitAt(t *testing.T) {
	tests := []struct {
		name string
		make func() *Segment
	}{
		{"source", func() *Segment { s, _ := NewSourceRange(memorySource(10), 0, 10); return s }},
		{"owned", func() *Segment { return NewOwned([]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.make()
			tail := s.splitAt(4)

			if s.Len()+tail.Len() != 10 {
				t.Errorf("lengths %d + %d, want 10", s.Len(), tail.Len())
			}
			if got := segmentBytes(t, s); !bytes.Equal(got, []byte{0, 1, 2, 3}) {
				t.Errorf("head = %v", got)
			}
			if got := segmentBytes(t, tail); !bytes.Equal(got, []byte{4, 5, 6, 7, 8, 9}) {
				t.Errorf("tail = %v", got)
			}
			if tail.Kind() != s.Kind() {
				t.Error("split must preserve the kind")
			}
		})
	}
}

func TestOwnedSplitDoesNotAlias(t *testing.T) {
	s := NewOwned([]byte{1, 2, 3, 4})
	tail := s.splitAt(2)

	s.data = append(s.data, 42)
	if tail.data[0] != 3 {
		t.Error("appending to the head must not clobber the tail")
	}
}

func TestSegmentReadAtClamps(t *testing.T) {
	s := NewOwned([]byte("hello"))
	buf := make([]byte, 10)

	n, err := s.ReadAt(buf, 3)
	if err != nil {
		t.Fatalf("ReadAt error = %v", err)
	}
	if n != 2 || string(buf[:n]) != "lo" {
		t.Errorf("ReadAt = %q", buf[:n])
	}

	if _, err := s.ReadAt(buf, 6); !derrors.IsBounds(err) {
		t.Errorf("ReadAt(6) error = %v, want bounds error", err)
	}
}

func TestSegmentReadClosedSource(t *testing.T) {
	src := memorySource(4)
	s, _ := NewSourceRange(src, 0, 4)
	s.release()
	_ = src.Close()

	if _, err := NewSourceRange(src, 0, 4); !derrors.IsIO(err) {
		t.Errorf("NewSourceRange on closed source error = %v, want I/O error", err)
	}
	if src.Refs() != 0 {
		t.Errorf("Refs() = %d, want 0", src.Refs())
	}

	s2 := &Segment{kind: KindSource, src: src, length: 4}
	if _, err := s2.ByteAt(0); !derrors.IsIO(err) {
		t.Errorf("ByteAt on closed source error = %v, want I/O error", err)
	}
}

func TestFillRun(t *testing.T) {
	s := NewFill(0xAB, 1<<50)
	if s.Kind() != KindFill || s.Len() != 1<<50 {
		t.Fatalf("NewFill = %v/%d, want fill/%d", s.Kind(), s.Len(), int64(1<<50))
	}

	b, err := s.ByteAt(1<<49 + 3)
	if err != nil || b != 0xAB {
		t.Errorf("ByteAt = (%#x, %v), want (0xab, nil)", b, err)
	}
	if err := s.SetByte(0, 1); !derrors.IsUnsupported(err) {
		t.Errorf("SetByte on fill run error = %v, want unsupported", err)
	}

	buf := make([]byte, 4)
	n, err := s.ReadAt(buf, s.Len()-2)
	if err != nil || n != 2 || !bytes.Equal(buf[:2], []byte{0xAB, 0xAB}) {
		t.Errorf("ReadAt tail = (%d, %v) %v", n, err, buf)
	}

	tail := s.splitAt(1 << 40)
	if s.Len() != 1<<40 || tail.Len() != 1<<50-1<<40 || tail.Value() != 0xAB {
		t.Errorf("splitAt = %d + %d", s.Len(), tail.Len())
	}

	piece := tail.Slice(5, 3)
	if !bytes.Equal(segmentBytes(t, piece), []byte{0xAB, 0xAB, 0xAB}) {
		t.Errorf("Slice bytes = %v", segmentBytes(t, piece))
	}

	zeros := NewZeroed(3)
	if zeros.Kind() != KindFill || !bytes.Equal(segmentBytes(t, zeros), []byte{0, 0, 0}) {
		t.Errorf("NewZeroed = %v %v", zeros.Kind(), segmentBytes(t, zeros))
	}
}

func TestListWriteToFillRun(t *testing.T) {
	l := NewList()
	l.Append(NewOwned([]byte{1}))
	l.Append(NewFill(7, writeBufferSize+3))
	l.Append(NewZeroed(2))

	var buf bytes.Buffer
	n, err := l.WriteTo(&buf)
	if err != nil || n != writeBufferSize+6 {
		t.Fatalf("WriteTo = (%d, %v)", n, err)
	}
	want := append([]byte{1}, bytes.Repeat([]byte{7}, writeBufferSize+3)...)
	want = append(want, 0, 0)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Error("WriteTo bytes differ")
	}
}
