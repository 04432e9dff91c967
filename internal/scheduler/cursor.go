package scheduler

import "sync"

// PageRange is an inclusive span of catalog pages.
type PageRange struct {
	Start int
	End   int
}

// Chunks splits pages starting at startPage into ranges of at most size
// pages, never past catalogPages. pages <= 0 means "to the end".
func Chunks(startPage, pages, size, catalogPages int) []PageRange {
	if startPage < 1 {
		startPage = 1
	}
	if size <= 0 {
		size = 1
	}
	last := catalogPages
	if pages > 0 {
		last = min(startPage+pages-1, catalogPages)
	}

	out := make([]PageRange, 0)
	for start := startPage; start <= last; start += size {
		out = append(out, PageRange{Start: start, End: min(start+size-1, last)})
	}
	return out
}

// Cursor rotates through the catalog one chunk per call, wrapping to page 1
// after the last page.
type Cursor struct {
	mu           sync.Mutex
	next         int
	size         int
	catalogPages int
}

// NewCursor starts at page 1.
func NewCursor(size, catalogPages int) *Cursor {
	if size <= 0 {
		size = 1
	}
	if catalogPages <= 0 {
		catalogPages = size
	}
	return &Cursor{next: 1, size: size, catalogPages: catalogPages}
}

// Next returns the current chunk and advances.
func (c *Cursor) Next() PageRange {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := PageRange{Start: c.next, End: min(c.next+c.size-1, c.catalogPages)}
	c.next = r.End + 1
	if c.next > c.catalogPages {
		c.next = 1
	}
	return r
}

// Position is the first page of the next chunk.
func (c *Cursor) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}
