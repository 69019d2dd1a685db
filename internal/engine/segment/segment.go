// Package segment implements the pieces a document is assembled from and the
// ordered list that holds them.
//
// A Segment is a tagged variant: a read-only range of a backing source, a
// buffer of bytes owned by the segment, or a run of one repeated byte that
// stores only its length. Copying a source range or a run is cheap (only the
// offset/length pair is duplicated) while copying owned bytes is deep. Writes
// never reach a source or a run: callers carve the target byte out into an
// owned segment first.
package segment

import (
	"io"

	derrors "github.com/dshills/bined/internal/engine/errors"
	"github.com/dshills/bined/internal/engine/source"
)

// Kind identifies the variant of a Segment.
type Kind uint8

const (
	KindSource Kind = iota // View into a backing source
	KindOwned              // Bytes owned by the segment
	KindFill               // Run of one repeated byte
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindOwned:
		return "owned"
	case KindFill:
		return "fill"
	default:
		return "unknown"
	}
}

// Segment is a contiguous run of document bytes.
// Segments are linked into exactly one List at a time.
type Segment struct {
	kind Kind

	// KindSource and KindFill
	src    *source.Source
	start  int64
	length int64
	value  byte

	// KindOwned
	data []byte

	prev, next *Segment
	list       *List
}

// NewSourceRange creates a segment viewing [start, start+length) of src.
// The segment holds a reference on src until it is released.
func NewSourceRange(src *source.Source, start, length int64) (*Segment, error) {
	if start < 0 || length < 0 || start+length > src.Size() {
		return nil, derrors.NewBoundsError("source range", start, length, src.Size())
	}
	if err := src.Retain(); err != nil {
		return nil, err
	}
	return &Segment{kind: KindSource, src: src, start: start, length: length}, nil
}

// NewOwned creates a segment that takes ownership of data.
func NewOwned(data []byte) *Segment {
	return &Segment{kind: KindOwned, data: data}
}

// NewFill creates a run of n copies of value. No memory is allocated for
// the bytes themselves.
func NewFill(value byte, n int64) *Segment {
	return &Segment{kind: KindFill, length: n, value: value}
}

// NewZeroed creates a run of n zero bytes.
func NewZeroed(n int64) *Segment {
	return NewFill(0, n)
}

// Kind returns the segment variant.
func (s *Segment) Kind() Kind { return s.kind }

// Len returns the number of bytes in the segment.
func (s *Segment) Len() int64 {
	if s.kind == KindOwned {
		return int64(len(s.data))
	}
	return s.length
}

// Source returns the backing source, or nil for owned segments and runs.
func (s *Segment) Source() *source.Source { return s.src }

// SourceOffset returns the offset of the first byte inside the source.
func (s *Segment) SourceOffset() int64 { return s.start }

// Value returns the repeated byte of a run.
func (s *Segment) Value() byte { return s.value }

// Next returns the following segment in its list, or nil.
func (s *Segment) Next() *Segment { return s.next }

// Prev returns the preceding segment in its list, or nil.
func (s *Segment) Prev() *Segment { return s.prev }

// ByteAt returns the byte at local offset off.
func (s *Segment) ByteAt(off int64) (byte, error) {
	if off < 0 || off >= s.Len() {
		return 0, derrors.NewBoundsError("segment get", off, 0, s.Len())
	}
	switch s.kind {
	case KindOwned:
		return s.data[off], nil
	case KindSource:
		return s.src.ByteAt(s.start + off)
	case KindFill:
		return s.value, nil
	}
	return 0, derrors.NewInvariantError("segment get", "unknown kind %d", s.kind)
}

// SetByte overwrites the byte at local offset off. Source ranges and runs
// are read-only and reject the write.
func (s *Segment) SetByte(off int64, v byte) error {
	if off < 0 || off >= s.Len() {
		return derrors.NewBoundsError("segment set", off, 0, s.Len())
	}
	switch s.kind {
	case KindOwned:
		s.data[off] = v
		return nil
	case KindSource:
		return &derrors.UnsupportedError{Op: "segment set", Reason: "source range is read-only"}
	case KindFill:
		return &derrors.UnsupportedError{Op: "segment set", Reason: "fill run is read-only"}
	}
	return derrors.NewInvariantError("segment set", "unknown kind %d", s.kind)
}

// ReadAt copies bytes starting at local offset off into p and returns the
// number of bytes copied. It stops at the end of the segment.
func (s *Segment) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > s.Len() {
		return 0, derrors.NewBoundsError("segment read", off, int64(len(p)), s.Len())
	}
	if avail := s.Len() - off; int64(len(p)) > avail {
		p = p[:avail]
	}
	switch s.kind {
	case KindOwned:
		return copy(p, s.data[off:]), nil
	case KindSource:
		n, err := s.src.ReadAt(p, s.start+off)
		if err == io.EOF && n == len(p) {
			err = nil
		}
		return n, err
	case KindFill:
		fill(p, s.value)
		return len(p), nil
	}
	return 0, derrors.NewInvariantError("segment read", "unknown kind %d", s.kind)
}

// Clone returns an unlinked copy. Source ranges share the source; owned
// bytes are copied.
func (s *Segment) Clone() *Segment {
	return s.Slice(0, s.Len())
}

// Slice returns an unlinked copy of [off, off+n) without modifying s.
func (s *Segment) Slice(off, n int64) *Segment {
	switch s.kind {
	case KindSource:
		s.src.Share()
		return &Segment{kind: KindSource, src: s.src, start: s.start + off, length: n}
	case KindFill:
		return NewFill(s.value, n)
	default:
		data := make([]byte, n)
		copy(data, s.data[off:off+n])
		return &Segment{kind: KindOwned, data: data}
	}
}

// splitAt truncates s to off bytes and returns the unlinked remainder.
// 0 < off < s.Len() must hold.
func (s *Segment) splitAt(off int64) *Segment {
	switch s.kind {
	case KindSource:
		s.src.Share()
		tail := &Segment{kind: KindSource, src: s.src, start: s.start + off, length: s.length - off}
		s.length = off
		return tail
	case KindFill:
		tail := NewFill(s.value, s.length-off)
		s.length = off
		return tail
	default:
		tailData := make([]byte, int64(len(s.data))-off)
		copy(tailData, s.data[off:])
		s.data = s.data[:off:off]
		return &Segment{kind: KindOwned, data: tailData}
	}
}

// release drops the source reference held by a source range.
func (s *Segment) release() {
	if s.kind == KindSource && s.src != nil {
		s.src.Release()
		s.src = nil
	}
	s.data = nil
}

// writeTo writes the segment's bytes to w, staging source reads and runs
// through buf.
func (s *Segment) writeTo(w io.Writer, buf []byte) (int64, error) {
	if s.kind == KindOwned {
		n, err := w.Write(s.data)
		return int64(n), err
	}

	var written int64
	for written < s.length {
		n, err := s.ReadAt(buf, written)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
		}
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// fill sets every byte of p to v.
func fill(p []byte, v byte) {
	if v == 0 {
		clear(p)
		return
	}
	for i := range p {
		p[i] = v
	}
}
