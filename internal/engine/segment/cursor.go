package segment

import derrors "github.com/dshills/bined/internal/engine/errors"

// Cursor caches the most recently touched segment and the absolute position
// of its first byte. Nearby lookups walk a few links from the cached point;
// distant ones start from whichever of head, tail or cursor is closest.
//
// A nil segment means the cursor rests on the end sentinel, whose start is
// always the list size.
type Cursor struct {
	list  *List
	seg   *Segment
	start int64
}

// set re-seeds the cursor at loc.
func (c *Cursor) set(loc Location) {
	c.seg = loc.Segment
	c.start = loc.Start
	if c.seg == nil {
		c.start = c.list.size
	}
}

// reset moves the cursor to the front of the list.
func (c *Cursor) reset() {
	c.seg = c.list.head
	c.start = 0
}

// seek moves the cursor to the segment containing pos.
// 0 <= pos <= list size must hold.
func (c *Cursor) seek(pos int64) Location {
	l := c.list

	seg, start := c.seg, c.start
	if seg == nil {
		start = l.size
	}

	// Restart from whichever anchor is closest.
	dist := pos - start
	if dist < 0 {
		dist = -dist
	}
	if pos < dist {
		seg, start = l.head, 0
		dist = pos
	}
	if l.size-pos < dist {
		seg, start = nil, l.size
	}

	for pos < start {
		if seg == nil {
			seg = l.tail
		} else {
			seg = seg.prev
		}
		start -= seg.Len()
	}
	for seg != nil && pos >= start+seg.Len() {
		start += seg.Len()
		seg = seg.next
	}

	c.seg, c.start = seg, start
	return Location{Segment: seg, Start: start}
}

// validate checks that the cached position matches the segment's real start.
func (c *Cursor) validate() error {
	if c.seg == nil {
		if c.start != c.list.size {
			return derrors.NewInvariantError("validate", "end cursor at %d, size %d", c.start, c.list.size)
		}
		return nil
	}
	if c.seg.list != c.list {
		return derrors.NewInvariantError("validate", "cursor references an unlinked segment")
	}

	var pos int64
	for s := c.list.head; s != nil; s = s.next {
		if s == c.seg {
			if pos != c.start {
				return derrors.NewInvariantError("validate", "cursor start %d, segment starts at %d", c.start, pos)
			}
			return nil
		}
		pos += s.Len()
	}
	return derrors.NewInvariantError("validate", "cursor segment not found in list")
}
