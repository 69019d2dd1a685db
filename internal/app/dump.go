package app

import (
	"bufio"
	"fmt"
	"io"

	"github.com/dshills/bined/internal/engine"
	"github.com/dshills/bined/internal/engine/segment"
)

// dumpWidth is the number of bytes per dump line.
const dumpWidth = 16

// Dump writes a hex dump of length bytes of doc starting at offset. A
// negative length dumps through the end. Offsets in the dump are document
// offsets.
func (app *Application) Dump(w io.Writer, doc *engine.Document, offset, length int64) error {
	if err := app.checkOpen(); err != nil {
		return err
	}
	size := doc.Size()
	if length < 0 {
		length = max(size-offset, 0)
	}
	if offset < 0 || offset > size || length > size-offset {
		return fmt.Errorf("%w: %d:%d outside document of %d bytes", ErrInvalidRange, offset, length, size)
	}

	bw := bufio.NewWriter(w)
	buf := make([]byte, 64*dumpWidth)
	for pos, end := offset, offset+length; pos < end; {
		n := min(int64(len(buf)), end-pos)
		chunk, err := doc.Bytes(pos, n)
		if err != nil {
			return err
		}
		for i := 0; i < len(chunk); i += dumpWidth {
			writeDumpLine(bw, pos+int64(i), chunk[i:min(i+dumpWidth, len(chunk))])
		}
		pos += n
	}
	return bw.Flush()
}

func writeDumpLine(w *bufio.Writer, offset int64, line []byte) {
	fmt.Fprintf(w, "%08x  ", offset)
	for i := 0; i < dumpWidth; i++ {
		switch {
		case i < len(line):
			fmt.Fprintf(w, "%02x ", line[i])
		default:
			w.WriteString("   ")
		}
		if i == dumpWidth/2-1 {
			w.WriteByte(' ')
		}
	}
	w.WriteString(" |")
	for _, b := range line {
		if b < 0x20 || b > 0x7e {
			b = '.'
		}
		w.WriteByte(b)
	}
	w.WriteString("|\n")
}

// Describe writes one line per segment of doc.
func (app *Application) Describe(w io.Writer, doc *engine.Document) error {
	if err := app.checkOpen(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d bytes in %d segments\n", doc.Size(), doc.SegmentCount())
	for _, s := range doc.Segments() {
		fmt.Fprintf(bw, "%08x %8d %-6s", s.Start, s.Length, s.Kind)
		switch s.Kind {
		case segment.KindSource:
			fmt.Fprintf(bw, " source %s+%#x", s.SourceID, s.SourceOffset)
		case segment.KindFill:
			fmt.Fprintf(bw, " value 0x%02x", s.Value)
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
