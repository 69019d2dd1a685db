package document

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	derrors "github.com/dshills/bined/internal/engine/errors"
	"github.com/dshills/bined/internal/engine/segment"
	"github.com/dshills/bined/internal/engine/source"
)

func sequence(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}

func content(t *testing.T, d *Document) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := d.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo error = %v", err)
	}
	if int64(buf.Len()) != d.Size() {
		t.Fatalf("WriteTo wrote %d bytes, Size() = %d", buf.Len(), d.Size())
	}
	return buf.Bytes()
}

func expectContent(t *testing.T, d *Document, want []byte) {
	t.Helper()
	if got := content(t, d); !bytes.Equal(got, want) {
		t.Errorf("content = %x, want %x", got, want)
	}
	if err := d.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func fileDocument(t *testing.T, data []byte) (*Document, *source.Source, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}
	src, err := source.OpenFile(path, source.WithPageSize(64), source.WithMaxPages(2))
	if err != nil {
		t.Fatalf("OpenFile error = %v", err)
	}
	d, err := NewFromSource(src, WithVerify(true))
	if err != nil {
		t.Fatalf("NewFromSource error = %v", err)
	}
	t.Cleanup(func() {
		d.Dispose()
		_ = src.Close()
	})
	return d, src, path
}

func TestNewDocument(t *testing.T) {
	d := New()

	if !d.IsEmpty() {
		t.Error("new document should be empty")
	}
	if d.Size() != 0 {
		t.Errorf("Size() = %d, want 0", d.Size())
	}
	if d.SegmentCount() != 0 {
		t.Errorf("SegmentCount() = %d, want 0", d.SegmentCount())
	}
}

func TestNewFromBytesCopies(t *testing.T) {
	data := []byte("abc")
	d := NewFromBytes(data)
	data[0] = 'z'

	expectContent(t, d, []byte("abc"))
}

func TestConcreteScenario(t *testing.T) {
	d := NewFromBytes(sequence(10), WithVerify(true))

	if err := d.Remove(2, 3); err != nil {
		t.Fatalf("Remove error = %v", err)
	}
	expectContent(t, d, []byte{0, 1, 5, 6, 7, 8, 9})

	if err := d.Insert(2, []byte{0xAA, 0xBB}); err != nil {
		t.Fatalf("Insert error = %v", err)
	}
	expectContent(t, d, []byte{0, 1, 0xAA, 0xBB, 5, 6, 7, 8, 9})

	c, err := d.Copy(2, 2)
	if err != nil {
		t.Fatalf("Copy error = %v", err)
	}
	expectContent(t, c, []byte{0xAA, 0xBB})
}

func TestBoundaries(t *testing.T) {
	d := NewFromBytes(sequence(5))
	size := d.Size()

	if _, err := d.ByteAt(size); !derrors.IsBounds(err) {
		t.Errorf("ByteAt(size) error = %v, want bounds error", err)
	}
	if _, err := d.ByteAt(-1); !derrors.IsBounds(err) {
		t.Errorf("ByteAt(-1) error = %v, want bounds error", err)
	}
	if err := d.SetByte(size, 1); !derrors.IsBounds(err) {
		t.Errorf("SetByte(size) error = %v, want bounds error", err)
	}
	if err := d.Remove(size, 1); !derrors.IsBounds(err) {
		t.Errorf("Remove(size, 1) error = %v, want bounds error", err)
	}
	if err := d.Remove(-1, 1); !derrors.IsBounds(err) {
		t.Errorf("Remove(-1, 1) error = %v, want bounds error", err)
	}
	if err := d.Insert(size+1, []byte{1}); !derrors.IsBounds(err) {
		t.Errorf("Insert(size+1) error = %v, want bounds error", err)
	}
	if err := d.Replace(4, []byte{1, 2}); !derrors.IsBounds(err) {
		t.Errorf("Replace past end error = %v, want bounds error", err)
	}
	if _, err := d.Copy(3, 3); !derrors.IsBounds(err) {
		t.Errorf("Copy past end error = %v, want bounds error", err)
	}
	if err := d.SetSize(-1); !derrors.IsBounds(err) {
		t.Errorf("SetSize(-1) error = %v, want bounds error", err)
	}

	// Pure append is valid.
	if err := d.Insert(size, []byte{0xFF}); err != nil {
		t.Fatalf("Insert(size) error = %v", err)
	}
	expectContent(t, d, []byte{0, 1, 2, 3, 4, 0xFF})
}

func TestNoOps(t *testing.T) {
	d := NewFromBytes(sequence(6))
	before := content(t, d)
	segments := d.SegmentCount()

	for _, p := range []int64{0, 3, 6} {
		if err := d.Remove(p, 0); err != nil {
			t.Errorf("Remove(%d, 0) error = %v", p, err)
		}
		if err := d.Insert(p, nil); err != nil {
			t.Errorf("Insert(%d, nil) error = %v", p, err)
		}
		if err := d.Insert(p, []byte{}); err != nil {
			t.Errorf("Insert(%d, empty) error = %v", p, err)
		}
	}

	expectContent(t, d, before)
	if d.SegmentCount() != segments {
		t.Errorf("no-op edits changed segment count to %d", d.SegmentCount())
	}
}

func TestSetByteOwned(t *testing.T) {
	d := NewFromBytes([]byte("hello"))

	if err := d.SetByte(0, 'j'); err != nil {
		t.Fatalf("SetByte error = %v", err)
	}
	expectContent(t, d, []byte("jello"))
	if d.SegmentCount() != 1 {
		t.Errorf("owned writes should stay in place, SegmentCount() = %d", d.SegmentCount())
	}
}

func TestSetByteSourceSplits(t *testing.T) {
	d, src, _ := fileDocument(t, sequence(10))

	if err := d.SetByte(4, 0xEE); err != nil {
		t.Fatalf("SetByte error = %v", err)
	}

	want := sequence(10)
	want[4] = 0xEE
	expectContent(t, d, want)

	infos := d.Segments()
	if len(infos) != 3 {
		t.Fatalf("segments = %+v, want 3 pieces", infos)
	}
	if infos[0].Kind != segment.KindSource || infos[1].Kind != segment.KindOwned || infos[2].Kind != segment.KindSource {
		t.Errorf("segment kinds = %v %v %v", infos[0].Kind, infos[1].Kind, infos[2].Kind)
	}
	if infos[2].SourceOffset != 5 || infos[2].Start != 5 {
		t.Errorf("tail piece = %+v", infos[2])
	}
	if src.Refs() != 2 {
		t.Errorf("Refs() = %d, want 2", src.Refs())
	}

	// The next byte coalesces into the owned piece.
	if err := d.SetByte(5, 0xEF); err != nil {
		t.Fatalf("SetByte error = %v", err)
	}
	want[5] = 0xEF
	expectContent(t, d, want)
	if d.SegmentCount() != 3 {
		t.Errorf("SegmentCount() = %d, want 3", d.SegmentCount())
	}
}

func TestSetByteWithoutCoalesce(t *testing.T) {
	src := source.NewMemory(sequence(4))
	d, err := NewFromSource(src, WithCoalesce(false), WithVerify(true))
	if err != nil {
		t.Fatalf("NewFromSource error = %v", err)
	}

	_ = d.SetByte(0, 9)
	_ = d.SetByte(1, 9)
	if d.SegmentCount() != 3 {
		t.Errorf("SegmentCount() = %d, want 3", d.SegmentCount())
	}
	expectContent(t, d, []byte{9, 9, 2, 3})
}

func TestCopyOnWriteIsolation(t *testing.T) {
	original := sequence(200)
	d, src, path := fileDocument(t, original)

	e, err := d.Copy(0, d.Size())
	if err != nil {
		t.Fatalf("Copy error = %v", err)
	}
	defer e.Dispose()

	if err := e.SetByte(10, 0xAB); err != nil {
		t.Fatalf("SetByte on copy error = %v", err)
	}
	if err := e.Insert(0, []byte("head")); err != nil {
		t.Fatalf("Insert on copy error = %v", err)
	}
	expectContent(t, d, original)

	if err := d.SetByte(150, 0xCD); err != nil {
		t.Fatalf("SetByte on original error = %v", err)
	}
	b, _ := e.ByteAt(150 + 4)
	if b != original[150] {
		t.Errorf("copy observed a write to the original: %x", b)
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error = %v", err)
	}
	if !bytes.Equal(onDisk, original) {
		t.Error("backing file must never change")
	}

	if src.Refs() == 0 {
		t.Error("both documents should still reference the source")
	}
}

func TestCopyOwnedIsDeep(t *testing.T) {
	d := NewFromBytes([]byte("abcdef"))
	e, err := d.Copy(1, 4)
	if err != nil {
		t.Fatalf("Copy error = %v", err)
	}

	_ = e.SetByte(0, 'X')
	_ = d.SetByte(2, 'Y')

	expectContent(t, d, []byte("abYdef"))
	expectContent(t, e, []byte("Xcde"))
}

func TestCopyAcrossSegments(t *testing.T) {
	d, _, _ := fileDocument(t, sequence(20))
	_ = d.Insert(5, []byte{0xA0, 0xA1})
	_ = d.SetByte(12, 0xB0)

	full := content(t, d)
	e, err := d.Copy(3, 12)
	if err != nil {
		t.Fatalf("Copy error = %v", err)
	}
	expectContent(t, e, full[3:15])
	e.Dispose()

	segsBefore := d.SegmentCount()
	f, err := d.Copy(4, 9)
	if err != nil {
		t.Fatalf("Copy error = %v", err)
	}
	defer f.Dispose()
	if d.SegmentCount() != segsBefore {
		t.Error("Copy must not split the source document's segments")
	}
}

func TestInsertRemoveInverse(t *testing.T) {
	d, _, _ := fileDocument(t, sequence(50))
	_ = d.SetByte(20, 0xFF)
	before := content(t, d)

	for _, p := range []int64{0, 1, 19, 20, 21, 49, 50} {
		s := []byte("inserted")
		if err := d.Insert(p, s); err != nil {
			t.Fatalf("Insert(%d) error = %v", p, err)
		}
		if err := d.Remove(p, int64(len(s))); err != nil {
			t.Fatalf("Remove(%d) error = %v", p, err)
		}
		if got := content(t, d); !bytes.Equal(got, before) {
			t.Fatalf("insert/remove at %d changed content", p)
		}
	}
}

func TestInsertZeros(t *testing.T) {
	d := NewFromBytes([]byte{1, 2})

	if err := d.InsertZeros(1, 3); err != nil {
		t.Fatalf("InsertZeros error = %v", err)
	}
	expectContent(t, d, []byte{1, 0, 0, 0, 2})

	if err := d.InsertUninitialized(5, 2); err != nil {
		t.Fatalf("InsertUninitialized error = %v", err)
	}
	if d.Size() != 7 {
		t.Errorf("Size() = %d, want 7", d.Size())
	}

	if err := d.InsertZeros(0, -1); !derrors.IsBounds(err) {
		t.Errorf("InsertZeros negative error = %v, want bounds error", err)
	}
}

func TestHugeZeroRuns(t *testing.T) {
	tests := []struct {
		name string
		edit func(d *Document) error
		size int64
		last byte
	}{
		{"grow", func(d *Document) error { return d.SetSize(1 << 50) }, 1 << 50, 0},
		{"insert zeros", func(d *Document) error { return d.InsertZeros(1, 1<<62) }, 1<<62 + 3, 'c'},
		{"fill", func(d *Document) error {
			if err := d.SetSize(1 << 40); err != nil {
				return err
			}
			return d.Fill(1, 1<<40-1, 'x')
		}, 1 << 40, 'x'},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewFromBytes([]byte("abc"), WithVerify(true))
			if err := tt.edit(d); err != nil {
				t.Fatalf("edit error = %v", err)
			}
			if d.Size() != tt.size {
				t.Errorf("Size() = %d, want %d", d.Size(), tt.size)
			}
			last, err := d.ByteAt(d.Size() - 1)
			if err != nil || last != tt.last {
				t.Errorf("ByteAt(last) = (%#x, %v), want %#x", last, err, tt.last)
			}
			first, _ := d.ByteAt(0)
			if first != 'a' {
				t.Errorf("ByteAt(0) = %#x, want 'a'", first)
			}
		})
	}
}

func TestInsertZerosOverflow(t *testing.T) {
	d := NewFromBytes([]byte("abc"))
	if err := d.InsertZeros(0, math.MaxInt64); !derrors.IsBounds(err) {
		t.Errorf("InsertZeros(MaxInt64) error = %v, want bounds error", err)
	}
	if d.Size() != 3 {
		t.Errorf("Size() = %d, want 3", d.Size())
	}
}

func TestSetByteInFillRun(t *testing.T) {
	d := NewFromBytes([]byte{1, 2}, WithVerify(true))
	if err := d.InsertZeros(1, 1<<30); err != nil {
		t.Fatalf("InsertZeros error = %v", err)
	}
	if err := d.SetByte(1<<29, 0xEE); err != nil {
		t.Fatalf("SetByte error = %v", err)
	}

	got, err := d.Bytes(1<<29-1, 3)
	if err != nil {
		t.Fatalf("Bytes error = %v", err)
	}
	if !bytes.Equal(got, []byte{0, 0xEE, 0}) {
		t.Errorf("Bytes = %x, want 00ee00", got)
	}

	var kinds []segment.Kind
	for _, info := range d.Segments() {
		kinds = append(kinds, info.Kind)
	}
	want := []segment.Kind{segment.KindOwned, segment.KindFill, segment.KindOwned, segment.KindFill, segment.KindOwned}
	if !slices.Equal(kinds, want) {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}
}

func TestFillRunIsShared(t *testing.T) {
	d := NewFromBytes(sequence(8))
	if err := d.Fill(2, 4, 0x55); err != nil {
		t.Fatalf("Fill error = %v", err)
	}
	infos := d.Segments()
	if len(infos) != 3 || infos[1].Kind != segment.KindFill || infos[1].Value != 0x55 || infos[1].Length != 4 {
		t.Errorf("segments = %+v", infos)
	}

	e, err := d.Copy(3, 2)
	if err != nil {
		t.Fatalf("Copy error = %v", err)
	}
	_ = e.SetByte(0, 1)
	expectContent(t, e, []byte{1, 0x55})
	expectContent(t, d, []byte{0, 1, 0x55, 0x55, 0x55, 0x55, 6, 7})
}

func TestRemoveSpanningSegments(t *testing.T) {
	d, src, _ := fileDocument(t, sequence(30))
	_ = d.Insert(10, []byte{0xA, 0xB, 0xC})
	_ = d.Insert(20, []byte{0xD})

	full := content(t, d)
	if err := d.Remove(5, 20); err != nil {
		t.Fatalf("Remove error = %v", err)
	}
	want := append(append([]byte{}, full[:5]...), full[25:]...)
	expectContent(t, d, want)

	if err := d.Remove(0, d.Size()); err != nil {
		t.Fatalf("Remove all error = %v", err)
	}
	if !d.IsEmpty() || d.SegmentCount() != 0 {
		t.Error("document should be empty")
	}
	if src.Refs() != 0 {
		t.Errorf("Refs() = %d, want 0 after removing every source byte", src.Refs())
	}
}

func TestReplace(t *testing.T) {
	d, _, _ := fileDocument(t, []byte("0123456789"))

	if err := d.Replace(3, []byte("abc")); err != nil {
		t.Fatalf("Replace error = %v", err)
	}
	expectContent(t, d, []byte("012abc6789"))

	if err := d.Replace(10, nil); err != nil {
		t.Errorf("empty Replace at end error = %v", err)
	}
}

func TestSplice(t *testing.T) {
	d := NewFromBytes([]byte("hello world"))

	if err := d.Splice(6, 5, []byte("gophers")); err != nil {
		t.Fatalf("Splice error = %v", err)
	}
	expectContent(t, d, []byte("hello gophers"))

	if err := d.Splice(0, 6, nil); err != nil {
		t.Fatalf("Splice delete error = %v", err)
	}
	expectContent(t, d, []byte("gophers"))

	if err := d.Splice(7, 0, []byte("!")); err != nil {
		t.Fatalf("Splice insert error = %v", err)
	}
	expectContent(t, d, []byte("gophers!"))

	before := content(t, d)
	if err := d.Splice(5, 10, []byte("x")); !derrors.IsBounds(err) {
		t.Errorf("Splice past end error = %v, want bounds error", err)
	}
	expectContent(t, d, before)
}

func TestFill(t *testing.T) {
	d, _, _ := fileDocument(t, sequence(8))

	if err := d.Fill(2, 4, 0x55); err != nil {
		t.Fatalf("Fill error = %v", err)
	}
	expectContent(t, d, []byte{0, 1, 0x55, 0x55, 0x55, 0x55, 6, 7})

	if err := d.Fill(6, 5, 0); !derrors.IsBounds(err) {
		t.Errorf("Fill past end error = %v, want bounds error", err)
	}
}

func TestSetSize(t *testing.T) {
	d := NewFromBytes(sequence(6))

	if err := d.SetSize(3); err != nil {
		t.Fatalf("SetSize shrink error = %v", err)
	}
	expectContent(t, d, []byte{0, 1, 2})

	if err := d.SetSize(5); err != nil {
		t.Fatalf("SetSize grow error = %v", err)
	}
	expectContent(t, d, []byte{0, 1, 2, 0, 0})

	if err := d.SetSize(5); err != nil {
		t.Fatalf("SetSize same error = %v", err)
	}
	if err := d.SetSize(0); err != nil {
		t.Fatalf("SetSize zero error = %v", err)
	}
	if !d.IsEmpty() {
		t.Error("document should be empty")
	}
}

func TestClear(t *testing.T) {
	d, src, _ := fileDocument(t, sequence(16))

	if err := d.Clear(); err != nil {
		t.Fatalf("Clear error = %v", err)
	}
	if !d.IsEmpty() {
		t.Error("document should be empty")
	}
	if src.Refs() != 0 {
		t.Errorf("Refs() = %d, want 0", src.Refs())
	}

	if err := d.Insert(0, []byte("new")); err != nil {
		t.Fatalf("Insert after Clear error = %v", err)
	}
	expectContent(t, d, []byte("new"))
}

func TestStreamRoundTrip(t *testing.T) {
	d, _, _ := fileDocument(t, sequence(300))
	_ = d.Insert(100, bytes.Repeat([]byte{0xEE}, 70))
	_ = d.Remove(10, 5)
	_ = d.SetByte(250, 0x01)
	want := content(t, d)

	var buf bytes.Buffer
	if _, err := d.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo error = %v", err)
	}

	fresh := New()
	n, err := fresh.ReadFrom(&buf)
	if err != nil {
		t.Fatalf("ReadFrom error = %v", err)
	}
	if n != int64(len(want)) {
		t.Errorf("ReadFrom read %d bytes, want %d", n, len(want))
	}
	expectContent(t, fresh, want)
}

func TestReadFromLargeInput(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), loadChunkSize/8+3)
	d := NewFromBytes([]byte("old content"))

	if _, err := d.ReadFrom(bytes.NewReader(data)); err != nil {
		t.Fatalf("ReadFrom error = %v", err)
	}
	expectContent(t, d, data)
	if d.SegmentCount() < 2 {
		t.Errorf("large input should be chunked, SegmentCount() = %d", d.SegmentCount())
	}
}

type failingReader struct{ n int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.n > 0 {
		m := copy(p, strings.Repeat("x", r.n))
		r.n -= m
		return m, nil
	}
	return 0, errors.New("stream reset")
}

func TestReadFromFailureKeepsContent(t *testing.T) {
	d := NewFromBytes([]byte("keep me"))

	_, err := d.ReadFrom(&failingReader{n: 3})
	if !derrors.IsIO(err) {
		t.Fatalf("ReadFrom error = %v, want I/O error", err)
	}
	expectContent(t, d, []byte("keep me"))
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteToFailure(t *testing.T) {
	d := NewFromBytes([]byte("data"))
	if _, err := d.WriteTo(failingWriter{}); !derrors.IsIO(err) {
		t.Errorf("WriteTo error = %v, want I/O error", err)
	}
}

func TestReadAtAndBytes(t *testing.T) {
	d, _, _ := fileDocument(t, sequence(100))
	_ = d.Insert(50, []byte{0xAA, 0xBB})
	full := content(t, d)

	got, err := d.Bytes(45, 10)
	if err != nil {
		t.Fatalf("Bytes error = %v", err)
	}
	if !bytes.Equal(got, full[45:55]) {
		t.Errorf("Bytes = %x, want %x", got, full[45:55])
	}

	if _, err := d.Bytes(95, 10); !derrors.IsBounds(err) {
		t.Errorf("Bytes past end error = %v, want bounds error", err)
	}

	buf := make([]byte, 10)
	n, err := d.ReadAt(buf, 97)
	if n != 5 || !errors.Is(err, io.EOF) {
		t.Errorf("ReadAt = (%d, %v), want (5, EOF)", n, err)
	}

	var _ io.ReaderAt = d
}

func TestDispose(t *testing.T) {
	d, src, _ := fileDocument(t, sequence(10))
	_ = d.SetByte(3, 1)

	d.Dispose()
	if !d.IsDisposed() {
		t.Error("IsDisposed() should be true")
	}
	if src.Refs() != 0 {
		t.Errorf("Refs() after Dispose = %d, want 0", src.Refs())
	}
	if _, err := d.ByteAt(0); !errors.Is(err, derrors.ErrDisposed) {
		t.Errorf("ByteAt after Dispose error = %v, want ErrDisposed", err)
	}
	if err := d.Insert(0, []byte{1}); !errors.Is(err, derrors.ErrDisposed) {
		t.Errorf("Insert after Dispose error = %v, want ErrDisposed", err)
	}

	d.Dispose()
}

type recordingRegistry struct {
	live map[*Document]bool
}

func (r *recordingRegistry) Register(d *Document)   { r.live[d] = true }
func (r *recordingRegistry) Unregister(d *Document) { delete(r.live, d) }

func TestRegistry(t *testing.T) {
	reg := &recordingRegistry{live: make(map[*Document]bool)}

	d := NewFromBytes([]byte("abc"), WithRegistry(reg))
	c, err := d.Copy(0, 2)
	if err != nil {
		t.Fatalf("Copy error = %v", err)
	}
	if len(reg.live) != 2 {
		t.Errorf("live documents = %d, want 2", len(reg.live))
	}

	c.Dispose()
	d.Dispose()
	if len(reg.live) != 0 {
		t.Errorf("live documents = %d, want 0", len(reg.live))
	}
}

func TestNewFromClosedSource(t *testing.T) {
	src := source.NewMemory([]byte("x"))
	_ = src.Close()

	if _, err := NewFromSource(src); !errors.Is(err, derrors.ErrSourceClosed) {
		t.Errorf("NewFromSource error = %v, want ErrSourceClosed", err)
	}
}

func TestNewFromEmptySource(t *testing.T) {
	src := source.NewMemory(nil)
	d, err := NewFromSource(src)
	if err != nil {
		t.Fatalf("NewFromSource error = %v", err)
	}
	if !d.IsEmpty() || src.Refs() != 0 {
		t.Error("empty source should yield an empty document without references")
	}
}

func TestReferences(t *testing.T) {
	a := source.NewMemory([]byte("aaaa"))
	b := source.NewMemory([]byte("bbbb"))
	d, _ := NewFromSource(a)

	if !d.References(a) || d.References(b) {
		t.Error("References should report only the attached source")
	}

	_ = d.Remove(0, 4)
	if d.References(a) {
		t.Error("no segment should reference the source after removing it all")
	}
}
