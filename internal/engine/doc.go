// Package engine provides the byte-level document engine for bined.
//
// The engine package is the facade over a set of sub-packages that together
// implement delta-based editing of large binary files:
//
//   - pagecache: fixed-size page LRU over an io.ReaderAt
//   - source: immutable backing sources (locked files or memory buffers)
//   - segment: source-range and owned segments in a doubly linked list,
//     with a cursor that makes sequential access cheap
//   - document: the byte-addressable Document built on a segment list
//   - repository: shared ownership of sources, document registration and
//     external change detection
//
// Opening a file never reads it whole. A document starts as one segment
// spanning the file; edits split it and link owned segments holding the new
// bytes, so memory grows with the size of the edits, not the file. The file
// itself is never written; saving streams the segments to a new file.
//
// # Basic Usage
//
//	s, _ := engine.NewSession(engine.WithVerify(true))
//	defer s.Close()
//
//	doc, _ := s.OpenFile("firmware.bin")
//	doc.SetByte(0x10, 0xFF)
//	doc.Insert(0x20, []byte{0xDE, 0xAD})
//	doc.Remove(0x100, 16)
//
//	s.SaveAs(doc, "firmware.patched.bin")
//
// # Thread Safety
//
// A Session is safe for concurrent use. Documents are not: every operation,
// reads included, moves the document's internal cursor. Serialize access to
// one document with a single-writer lock.
//
// # Configuration
//
//	s, _ := engine.NewSession(
//	    engine.WithPageSize(4096),
//	    engine.WithMaxPages(256),
//	    engine.WithLock(true),
//	    engine.WithWatch(true),
//	)
package engine
