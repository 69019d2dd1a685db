// Package document provides the byte-addressable document built on a
// segment list.
//
// A Document starts empty, from a byte buffer, or attached to a backing
// source (one source range spanning the whole source). Edits split segments
// and link owned segments; bytes that were never touched keep being read
// from the source through its page cache. Writes never reach the source.
//
// A Document is not safe for concurrent use: even reads move the internal
// cursor. Callers that read from one goroutine while editing from another
// must serialize with a single-writer lock.
package document

import (
	"errors"
	"io"
	"math"

	"github.com/google/uuid"

	derrors "github.com/dshills/bined/internal/engine/errors"
	"github.com/dshills/bined/internal/engine/segment"
	"github.com/dshills/bined/internal/engine/source"
)

// Document is a mutable byte sequence assembled from segments.
type Document struct {
	id       uuid.UUID
	list     *segment.List
	registry Registry
	verify   bool
	coalesce bool

	disposed bool
	broken   error
}

// SegmentInfo describes one segment for diagnostics.
type SegmentInfo struct {
	Kind         segment.Kind
	Start        int64     // Position in the document
	Length       int64     // Number of bytes
	SourceID     uuid.UUID // Zero for owned segments
	SourceOffset int64     // Offset inside the source
	Value        byte      // Repeated byte of a fill run
}

// New creates an empty document.
func New(opts ...Option) *Document {
	d := &Document{
		id:       uuid.New(),
		list:     segment.NewList(),
		coalesce: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry != nil {
		d.registry.Register(d)
	}
	return d
}

// NewFromBytes creates a document holding a copy of data.
func NewFromBytes(data []byte, opts ...Option) *Document {
	d := New(opts...)
	if len(data) > 0 {
		buf := make([]byte, len(data))
		copy(buf, data)
		d.list.Append(segment.NewOwned(buf))
	}
	return d
}

// NewFromSource creates a document viewing the whole of src. It fails if
// src is closed, including when Close races with the call.
func NewFromSource(src *source.Source, opts ...Option) (*Document, error) {
	var seg *segment.Segment
	if src.Size() > 0 {
		s, err := segment.NewSourceRange(src, 0, src.Size())
		if err != nil {
			return nil, err
		}
		seg = s
	} else if src.IsClosed() {
		return nil, derrors.NewIOError("attach", src.Path(), derrors.ErrSourceClosed)
	}

	d := New(opts...)
	if seg != nil {
		d.list.Append(seg)
	}
	return d, nil
}

// ID returns the document identifier.
func (d *Document) ID() uuid.UUID { return d.id }

// Size returns the number of bytes in the document.
func (d *Document) Size() int64 { return d.list.Len() }

// IsEmpty returns true if the document holds no bytes.
func (d *Document) IsEmpty() bool { return d.list.Len() == 0 }

// IsDisposed returns true after Dispose.
func (d *Document) IsDisposed() bool { return d.disposed }

// SegmentCount returns the number of segments backing the document.
func (d *Document) SegmentCount() int { return d.list.Count() }

// check returns the error that prevents any operation on the document.
func (d *Document) check() error {
	if d.disposed {
		return derrors.ErrDisposed
	}
	return d.broken
}

// finish validates the structure after a mutation when verification is on.
func (d *Document) finish() error {
	if !d.verify {
		return nil
	}
	if err := d.list.Validate(); err != nil {
		d.broken = err
		return err
	}
	return nil
}

// ByteAt returns the byte at pos.
func (d *Document) ByteAt(pos int64) (byte, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	if pos < 0 || pos >= d.list.Len() {
		return 0, derrors.NewBoundsError("get", pos, 0, d.list.Len())
	}

	loc, err := d.list.Focus(pos)
	if err != nil {
		return 0, err
	}
	return loc.Segment.ByteAt(pos - loc.Start)
}

// SetByte overwrites the byte at pos. Owned segments are changed in place;
// a source range is split so the target byte moves into an owned segment.
func (d *Document) SetByte(pos int64, v byte) error {
	if err := d.check(); err != nil {
		return err
	}
	if pos < 0 || pos >= d.list.Len() {
		return derrors.NewBoundsError("set", pos, 0, d.list.Len())
	}

	loc, err := d.list.Focus(pos)
	if err != nil {
		return err
	}
	if loc.Segment.Kind() == segment.KindOwned {
		if err := loc.Segment.SetByte(pos-loc.Start, v); err != nil {
			return err
		}
		return d.finish()
	}

	target, err := d.list.Split(loc, pos-loc.Start)
	if err != nil {
		return err
	}
	if _, err := d.list.Split(target, 1); err != nil {
		return err
	}
	next := d.list.Remove(target)
	if err := d.link(next, []byte{v}); err != nil {
		return err
	}
	return d.finish()
}

// link places data in front of at, either by extending an owned segment
// that ends at at.Start or by linking a new owned segment. data is owned by
// the document after the call.
func (d *Document) link(at segment.Location, data []byte) error {
	if d.coalesce {
		if prev, ok := d.list.Prev(at); ok && prev.Segment.Kind() == segment.KindOwned {
			return d.list.Extend(prev, data)
		}
	}
	d.list.InsertBefore(at, segment.NewOwned(data))
	return nil
}

// Insert inserts a copy of data at pos. pos == Size appends.
func (d *Document) Insert(pos int64, data []byte) error {
	if err := d.check(); err != nil {
		return err
	}
	if pos < 0 || pos > d.list.Len() {
		return derrors.NewBoundsError("insert", pos, int64(len(data)), d.list.Len())
	}
	if len(data) == 0 {
		return nil
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	return d.insertOwned(pos, buf)
}

// InsertZeros inserts length zero bytes at pos. The bytes are stored as a
// fill run, so the length is not limited by memory.
func (d *Document) InsertZeros(pos, length int64) error {
	if err := d.check(); err != nil {
		return err
	}
	size := d.list.Len()
	if pos < 0 || pos > size || length < 0 || length > math.MaxInt64-size {
		return derrors.NewBoundsError("insert", pos, length, size)
	}
	if length == 0 {
		return nil
	}

	at, err := d.list.SplitAt(pos)
	if err != nil {
		return err
	}
	d.list.InsertBefore(at, segment.NewZeroed(length))
	return d.finish()
}

// InsertUninitialized inserts length bytes whose content is unspecified.
// Go has no uninitialized allocation, so the bytes read as zero.
func (d *Document) InsertUninitialized(pos, length int64) error {
	return d.InsertZeros(pos, length)
}

// insertOwned splits at pos and links buf there.
func (d *Document) insertOwned(pos int64, buf []byte) error {
	at, err := d.list.SplitAt(pos)
	if err != nil {
		return err
	}
	if err := d.link(at, buf); err != nil {
		return err
	}
	return d.finish()
}

// Remove deletes length bytes starting at pos.
func (d *Document) Remove(pos, length int64) error {
	if err := d.check(); err != nil {
		return err
	}
	if err := d.checkRange("remove", pos, length); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}

	if _, err := d.removeRange(pos, length); err != nil {
		return err
	}
	return d.finish()
}

// checkRange rejects ranges outside [0, Size].
func (d *Document) checkRange(op string, pos, length int64) error {
	size := d.list.Len()
	if pos < 0 || length < 0 || pos > size || length > size-pos {
		return derrors.NewBoundsError(op, pos, length, size)
	}
	return nil
}

// removeRange cuts clean boundaries at pos and pos+length and unlinks every
// segment between them. It returns the location now starting at pos.
func (d *Document) removeRange(pos, length int64) (segment.Location, error) {
	start, err := d.list.SplitAt(pos)
	if err != nil {
		return segment.Location{}, err
	}
	if _, err := d.list.SplitAt(pos + length); err != nil {
		return segment.Location{}, err
	}

	loc := start
	for remaining := length; remaining > 0; {
		if loc.IsEnd() {
			err := derrors.NewInvariantError("remove", "ran out of segments with %d bytes left", remaining)
			d.broken = err
			return segment.Location{}, err
		}
		n := loc.Segment.Len()
		if n > remaining {
			err := derrors.NewInvariantError("remove", "segment of %d bytes straddles the range end", n)
			d.broken = err
			return segment.Location{}, err
		}
		loc = d.list.Remove(loc)
		remaining -= n
	}
	return loc, nil
}

// Replace overwrites len(data) bytes at pos with data. It behaves like
// Remove(pos, len(data)) followed by Insert(pos, data) but is applied as one
// splice.
func (d *Document) Replace(pos int64, data []byte) error {
	return d.Splice(pos, int64(len(data)), data)
}

// Splice removes length bytes at pos and inserts data in their place.
// The range is validated before anything changes.
func (d *Document) Splice(pos, length int64, data []byte) error {
	if err := d.check(); err != nil {
		return err
	}
	if err := d.checkRange("replace", pos, length); err != nil {
		return err
	}
	if length == 0 && len(data) == 0 {
		return nil
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	at, err := d.removeRange(pos, length)
	if err != nil {
		return err
	}
	if len(buf) > 0 {
		if err := d.link(at, buf); err != nil {
			return err
		}
	}
	return d.finish()
}

// Fill overwrites length bytes at pos with value. The range becomes a
// single fill run.
func (d *Document) Fill(pos, length int64, value byte) error {
	if err := d.check(); err != nil {
		return err
	}
	if err := d.checkRange("fill", pos, length); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}

	at, err := d.removeRange(pos, length)
	if err != nil {
		return err
	}
	d.list.InsertBefore(at, segment.NewFill(value, length))
	return d.finish()
}

// SetSize truncates the document or extends it with zero bytes.
func (d *Document) SetSize(size int64) error {
	if err := d.check(); err != nil {
		return err
	}
	if size < 0 {
		return derrors.NewBoundsError("resize", size, 0, d.list.Len())
	}

	cur := d.list.Len()
	switch {
	case size < cur:
		return d.Remove(size, cur-size)
	case size > cur:
		return d.InsertZeros(cur, size-cur)
	}
	return nil
}

// Copy returns an independent document holding [pos, pos+length). Source
// ranges are shared with the new document; owned bytes are copied. The
// receiver's segments are not modified.
func (d *Document) Copy(pos, length int64) (*Document, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if err := d.checkRange("copy", pos, length); err != nil {
		return nil, err
	}

	out := New(WithVerify(d.verify), WithCoalesce(d.coalesce), WithRegistry(d.registry))
	if length == 0 {
		return out, nil
	}

	loc, err := d.list.Focus(pos)
	if err != nil {
		out.Dispose()
		return nil, err
	}

	local := pos - loc.Start
	for remaining := length; remaining > 0; {
		if loc.IsEnd() {
			out.Dispose()
			return nil, derrors.NewInvariantError("copy", "ran out of segments with %d bytes left", remaining)
		}
		take := min(loc.Segment.Len()-local, remaining)
		out.list.Append(loc.Segment.Slice(local, take))
		remaining -= take
		local = 0
		loc = d.list.Next(loc)
	}

	if err := out.finish(); err != nil {
		out.Dispose()
		return nil, err
	}
	return out, nil
}

// Clear removes every byte.
func (d *Document) Clear() error {
	if err := d.check(); err != nil {
		return err
	}
	d.list.Clear()
	return nil
}

// ReadAt implements io.ReaderAt over the logical byte sequence.
func (d *Document) ReadAt(p []byte, off int64) (int, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, derrors.NewBoundsError("read", off, int64(len(p)), d.list.Len())
	}
	if off >= d.list.Len() {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	return d.list.ReadAt(p, off)
}

// Bytes returns a copy of [pos, pos+length).
func (d *Document) Bytes(pos, length int64) ([]byte, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if err := d.checkRange("read", pos, length); err != nil {
		return nil, err
	}

	buf := make([]byte, length)
	if length == 0 {
		return buf, nil
	}
	if _, err := d.list.ReadAt(buf, pos); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadFrom replaces the whole content with everything read from r. The
// document is left unchanged if reading fails.
func (d *Document) ReadFrom(r io.Reader) (int64, error) {
	if err := d.check(); err != nil {
		return 0, err
	}

	fresh := segment.NewList()
	var total int64
	for {
		buf := make([]byte, loadChunkSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if n < len(buf) {
				buf = append([]byte(nil), buf[:n]...)
			}
			fresh.Append(segment.NewOwned(buf))
			total += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			fresh.Clear()
			return total, derrors.NewIOError("load", "", err)
		}
	}

	d.list.Clear()
	d.list = fresh
	return total, d.finish()
}

// WriteTo writes the logical byte sequence to w segment by segment.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	n, err := d.list.WriteTo(w)
	if err != nil && !derrors.IsIO(err) && !derrors.IsBounds(err) {
		return n, derrors.NewIOError("save", "", err)
	}
	return n, err
}

// Segments describes every segment in order.
func (d *Document) Segments() []SegmentInfo {
	infos := make([]SegmentInfo, 0, d.list.Count())
	d.list.Each(func(loc segment.Location) bool {
		info := SegmentInfo{
			Kind:   loc.Segment.Kind(),
			Start:  loc.Start,
			Length: loc.Segment.Len(),
		}
		switch loc.Segment.Kind() {
		case segment.KindSource:
			info.SourceID = loc.Segment.Source().ID()
			info.SourceOffset = loc.Segment.SourceOffset()
		case segment.KindFill:
			info.Value = loc.Segment.Value()
		}
		infos = append(infos, info)
		return true
	})
	return infos
}

// References returns true if any segment points into src.
func (d *Document) References(src *source.Source) bool {
	found := false
	d.list.Each(func(loc segment.Location) bool {
		if loc.Segment.Source() == src {
			found = true
			return false
		}
		return true
	})
	return found
}

// Validate checks every structural invariant of the segment list.
func (d *Document) Validate() error {
	if d.disposed {
		return derrors.ErrDisposed
	}
	return d.list.Validate()
}

// Dispose releases every segment and unregisters the document. It is safe
// to call more than once.
func (d *Document) Dispose() {
	if d.disposed {
		return
	}
	d.list.Clear()
	d.disposed = true
	if d.registry != nil {
		d.registry.Unregister(d)
	}
}
