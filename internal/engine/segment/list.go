package segment

import (
	"io"

	derrors "github.com/dshills/bined/internal/engine/errors"
)

// writeBufferSize is the staging buffer used when streaming source ranges.
const writeBufferSize = 64 * 1024

// Location pins a segment to the absolute position of its first byte.
// A Location with a nil Segment is the end sentinel; its Start equals the
// list size.
type Location struct {
	Segment *Segment
	Start   int64
}

// IsEnd returns true for the end sentinel.
func (l Location) IsEnd() bool {
	return l.Segment == nil
}

// End returns the position one past the segment's last byte.
func (l Location) End() int64 {
	if l.Segment == nil {
		return l.Start
	}
	return l.Start + l.Segment.Len()
}

// List is an ordered sequence of segments whose lengths sum to Len.
// Positions are not stored; they are derived by summation and cached by the
// list's cursor.
//
// List is not safe for concurrent use. Focus moves the cursor, so even reads
// must be serialized by the caller.
type List struct {
	head, tail *Segment
	count      int
	size       int64
	cursor     Cursor
}

// NewList creates an empty list.
func NewList() *List {
	l := &List{}
	l.cursor.list = l
	return l
}

// Len returns the total number of bytes.
func (l *List) Len() int64 { return l.size }

// Count returns the number of segments.
func (l *List) Count() int { return l.count }

// Front returns the first segment, or nil.
func (l *List) Front() *Segment { return l.head }

// Back returns the last segment, or nil.
func (l *List) Back() *Segment { return l.tail }

// Focus returns the location of the segment containing pos. A position on a
// boundary resolves to the segment starting there; pos == Len resolves to
// the end sentinel.
func (l *List) Focus(pos int64) (Location, error) {
	if pos < 0 || pos > l.size {
		return Location{}, derrors.NewBoundsError("focus", pos, 0, l.size)
	}
	return l.cursor.seek(pos), nil
}

// Prev returns the location of the segment before loc, or ok == false at
// the front.
func (l *List) Prev(loc Location) (Location, bool) {
	var prev *Segment
	if loc.Segment == nil {
		prev = l.tail
	} else {
		prev = loc.Segment.prev
	}
	if prev == nil {
		return Location{}, false
	}
	return Location{Segment: prev, Start: loc.Start - prev.Len()}, true
}

// Next returns the location following loc.
func (l *List) Next(loc Location) Location {
	if loc.Segment == nil {
		return loc
	}
	return Location{Segment: loc.Segment.next, Start: loc.End()}
}

// InsertBefore links s in front of at and returns its location. Inserting
// at the end sentinel appends. A zero-length segment is released instead
// of being linked.
func (l *List) InsertBefore(at Location, s *Segment) Location {
	if s.Len() == 0 {
		s.release()
		return at
	}

	s.list = l
	s.next = at.Segment
	if at.Segment == nil {
		s.prev = l.tail
		l.tail = s
	} else {
		s.prev = at.Segment.prev
		at.Segment.prev = s
	}
	if s.prev == nil {
		l.head = s
	} else {
		s.prev.next = s
	}

	l.count++
	l.size += s.Len()

	loc := Location{Segment: s, Start: at.Start}
	l.cursor.set(loc)
	return loc
}

// Append links s at the end of the list.
func (l *List) Append(s *Segment) Location {
	return l.InsertBefore(Location{Start: l.size}, s)
}

// Remove unlinks the segment at loc, releases it, and returns the location
// of the segment that now starts at loc.Start.
func (l *List) Remove(loc Location) Location {
	s := loc.Segment
	if s == nil {
		return loc
	}

	next := l.unlink(s)
	s.release()

	out := Location{Segment: next, Start: loc.Start}
	l.cursor.set(out)
	return out
}

// unlink detaches s and returns its successor.
func (l *List) unlink(s *Segment) *Segment {
	next := s.next
	if s.prev == nil {
		l.head = s.next
	} else {
		s.prev.next = s.next
	}
	if s.next == nil {
		l.tail = s.prev
	} else {
		s.next.prev = s.prev
	}

	l.count--
	l.size -= s.Len()

	s.prev, s.next, s.list = nil, nil, nil
	return next
}

// Split cuts the segment at loc after local bytes and returns the location
// of the piece that starts at loc.Start+local. Splitting at either edge of
// the segment does not create a new segment.
func (l *List) Split(loc Location, local int64) (Location, error) {
	s := loc.Segment
	if s == nil {
		if local != 0 {
			return Location{}, derrors.NewBoundsError("split", loc.Start+local, 0, l.size)
		}
		return loc, nil
	}
	if local < 0 || local > s.Len() {
		return Location{}, derrors.NewBoundsError("split", local, 0, s.Len())
	}
	if local == 0 {
		return loc, nil
	}
	if local == s.Len() {
		return l.Next(loc), nil
	}

	tail := s.splitAt(local)
	tail.list = l
	tail.prev = s
	tail.next = s.next
	if s.next == nil {
		l.tail = tail
	} else {
		s.next.prev = tail
	}
	s.next = tail
	l.count++

	out := Location{Segment: tail, Start: loc.Start + local}
	l.cursor.set(out)
	return out, nil
}

// SplitAt makes pos a segment boundary and returns the location of the
// segment starting at pos (the end sentinel when pos == Len).
func (l *List) SplitAt(pos int64) (Location, error) {
	loc, err := l.Focus(pos)
	if err != nil {
		return Location{}, err
	}
	if loc.Start == pos {
		return loc, nil
	}
	return l.Split(loc, pos-loc.Start)
}

// Extend appends data to the owned segment at loc.
func (l *List) Extend(loc Location, data []byte) error {
	s := loc.Segment
	if s == nil || s.kind != KindOwned {
		return &derrors.UnsupportedError{Op: "extend", Reason: "target is not an owned segment"}
	}
	s.data = append(s.data, data...)
	l.size += int64(len(data))
	l.cursor.set(loc)
	return nil
}

// Clear releases every segment and empties the list.
func (l *List) Clear() {
	for s := l.head; s != nil; {
		next := s.next
		s.prev, s.next, s.list = nil, nil, nil
		s.release()
		s = next
	}
	l.head, l.tail = nil, nil
	l.count = 0
	l.size = 0
	l.cursor.reset()
}

// Each calls fn for every segment in order until fn returns false.
func (l *List) Each(fn func(loc Location) bool) {
	var pos int64
	for s := l.head; s != nil; s = s.next {
		if !fn(Location{Segment: s, Start: pos}) {
			return
		}
		pos += s.Len()
	}
}

// ReadAt copies bytes starting at pos into p, crossing segment boundaries.
// It returns io.EOF if the list ends before p is filled.
func (l *List) ReadAt(p []byte, pos int64) (int, error) {
	if pos < 0 || pos > l.size {
		return 0, derrors.NewBoundsError("read", pos, int64(len(p)), l.size)
	}

	loc := l.cursor.seek(pos)
	n := 0
	for n < len(p) && loc.Segment != nil {
		m, err := loc.Segment.ReadAt(p[n:], pos+int64(n)-loc.Start)
		n += m
		if err != nil {
			return n, err
		}
		if pos+int64(n) >= loc.End() {
			loc = l.Next(loc)
		}
	}
	l.cursor.set(loc)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteTo streams every segment to w in order.
func (l *List) WriteTo(w io.Writer) (int64, error) {
	var (
		total int64
		buf   []byte
	)
	for s := l.head; s != nil; s = s.next {
		if s.kind != KindOwned && buf == nil {
			buf = make([]byte, writeBufferSize)
		}
		n, err := s.writeTo(w, buf)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Validate walks the list and checks every structural invariant.
func (l *List) Validate() error {
	var (
		count int
		size  int64
		prev  *Segment
	)
	for s := l.head; s != nil; s = s.next {
		if s.list != l {
			return derrors.NewInvariantError("validate", "segment %d belongs to another list", count)
		}
		if s.prev != prev {
			return derrors.NewInvariantError("validate", "segment %d has a broken back link", count)
		}
		if s.Len() <= 0 {
			return derrors.NewInvariantError("validate", "segment %d has length %d", count, s.Len())
		}
		if s.kind == KindSource {
			if s.src == nil {
				return derrors.NewInvariantError("validate", "segment %d references a released source", count)
			}
			if s.start < 0 || s.start+s.length > s.src.Size() {
				return derrors.NewInvariantError("validate", "segment %d range [%d,%d) exceeds source size %d",
					count, s.start, s.start+s.length, s.src.Size())
			}
		}
		size += s.Len()
		count++
		prev = s
	}
	if prev != l.tail {
		return derrors.NewInvariantError("validate", "tail does not terminate the list")
	}
	if count != l.count {
		return derrors.NewInvariantError("validate", "counted %d segments, recorded %d", count, l.count)
	}
	if size != l.size {
		return derrors.NewInvariantError("validate", "segments sum to %d bytes, recorded %d", size, l.size)
	}
	return l.cursor.validate()
}
