// Package pagecache serves byte ranges of a random-access reader through a
// bounded set of fixed-size pages.
//
// A Cache never writes to its reader. Pages are evicted least-recently-used
// once the page budget is exceeded. All state is guarded by one mutex so a
// Cache may be shared by every document reading the same source.
package pagecache

import (
	"container/list"
	"errors"
	"io"
	"sync"

	derrors "github.com/dshills/bined/internal/engine/errors"
)

// Default cache geometry.
const (
	DefaultPageSize = 4096
	DefaultMaxPages = 256
	MinPageSize     = 64
	MaxPageSize     = 1 << 20
)

// Cache provides LRU caching of pages read from an io.ReaderAt.
// It is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	r        io.ReaderAt
	size     int64
	name     string
	pageSize int64
	maxPages int
	pages    map[int64]*list.Element
	lru      *list.List

	hits      int64
	misses    int64
	evictions int64
}

// page holds one cached page. The last page of a reader may be short.
type page struct {
	index int64
	data  []byte
}

// Stats reports cache activity.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Pages     int
	PageSize  int
	MaxPages  int
}

// Option configures a Cache.
type Option func(*Cache)

// WithPageSize sets the page size in bytes. Values that are not a power of
// two inside [MinPageSize, MaxPageSize] are ignored.
func WithPageSize(size int) Option {
	return func(c *Cache) {
		if ValidPageSize(size) {
			c.pageSize = int64(size)
		}
	}
}

// WithMaxPages sets the page budget.
func WithMaxPages(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithName sets the name reported in I/O errors, usually the file path.
func WithName(name string) Option {
	return func(c *Cache) {
		c.name = name
	}
}

// ValidPageSize reports whether size is an acceptable page size.
func ValidPageSize(size int) bool {
	return size >= MinPageSize && size <= MaxPageSize && size&(size-1) == 0
}

// New creates a cache over the first size bytes of r.
func New(r io.ReaderAt, size int64, opts ...Option) *Cache {
	c := &Cache{
		r:        r,
		size:     size,
		pageSize: DefaultPageSize,
		maxPages: DefaultMaxPages,
		pages:    make(map[int64]*list.Element),
		lru:      list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Size returns the number of addressable bytes.
func (c *Cache) Size() int64 {
	return c.size
}

// PageSize returns the page size in bytes.
func (c *Cache) PageSize() int {
	return int(c.pageSize)
}

// ByteAt returns the byte at offset, loading its page on a miss.
func (c *Cache) ByteAt(offset int64) (byte, error) {
	if offset < 0 || offset >= c.size {
		return 0, derrors.NewBoundsError("read", offset, 0, c.size)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.pageLocked(offset / c.pageSize)
	if err != nil {
		return 0, err
	}
	return p.data[offset%c.pageSize], nil
}

// ReadAt fills p with bytes starting at off. It implements io.ReaderAt and
// returns io.EOF when the range runs past the end.
func (c *Cache) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, derrors.NewBoundsError("read", off, int64(len(p)), c.size)
	}
	if off >= c.size {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for n < len(p) && off < c.size {
		pg, err := c.pageLocked(off / c.pageSize)
		if err != nil {
			return n, err
		}
		copied := copy(p[n:], pg.data[off%c.pageSize:])
		n += copied
		off += int64(copied)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// pageLocked returns the page at index, reading it on a miss.
// Must be called with lock held.
func (c *Cache) pageLocked(index int64) (*page, error) {
	if elem, ok := c.pages[index]; ok {
		c.hits++
		c.lru.MoveToFront(elem)
		return elem.Value.(*page), nil //nolint:errcheck // list only contains *page
	}

	c.misses++

	start := index * c.pageSize
	length := c.pageSize
	if start+length > c.size {
		length = c.size - start
	}

	data := make([]byte, length)
	n, err := c.r.ReadAt(data, start)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == length) {
		return nil, derrors.NewIOError("read", c.name, err)
	}

	for c.lru.Len() >= c.maxPages {
		c.evictOldest()
	}

	p := &page{index: index, data: data}
	c.pages[index] = c.lru.PushFront(p)
	return p, nil
}

// evictOldest removes the least recently used page.
// Must be called with lock held.
func (c *Cache) evictOldest() {
	elem := c.lru.Back()
	if elem == nil {
		return
	}
	c.lru.Remove(elem)
	delete(c.pages, elem.Value.(*page).index) //nolint:errcheck // list only contains *page
	c.evictions++
}

// Purge drops every cached page. Counters are kept.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pages = make(map[int64]*list.Element)
	c.lru.Init()
}

// Len returns the number of cached pages.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Pages:     c.lru.Len(),
		PageSize:  int(c.pageSize),
		MaxPages:  c.maxPages,
	}
}
