// Package pagedmem implements the paged memory model shared by the VM's
// program loader and by instructions that touch memory at execution time.
//
// Memory is organized into fixed-size pages. Each page carries its own
// access mode; an address that falls on an unmapped page is treated as
// inaccessible. This mirrors the page-table permission checks of a
// register machine, but flattened to per-page modes instead of a
// software-walked page table: every mapped page.
package pagedmem

import "fmt"

// PageSize is the fixed size, in bytes, of every page.
const PageSize = 4096

// Mode describes who may touch a page.
type Mode uint8

const (
	// Inaccessible is both the mode of an unmapped page and a mode a page
	// can be explicitly allocated with to revoke all access.
	Inaccessible Mode = iota
	// ReadOnly permits reads but not writes.
	ReadOnly
	// ReadWrite permits both reads and writes.
	ReadWrite
)

func (m Mode) String() string {
	switch m {
	case Inaccessible:
		return "inaccessible"
	case ReadOnly:
		return "read-only"
	case ReadWrite:
		return "read-write"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

func (m Mode) readable() bool {
	return m == ReadOnly || m == ReadWrite
}

func (m Mode) writable() bool {
	return m == ReadWrite
}

// page is a single fixed-size memory region with a uniform access mode.
type page struct {
	buf  [PageSize]byte
	mode Mode
}

// PageFault reports a permission violation or access to an unmapped page.
// Index is the offending page index.
type PageFault struct {
	Index uint64
	Addr  uint64
	Write bool
}

func (f *PageFault) Error() string {
	verb := "read"
	if f.Write {
		verb = "write"
	}
	return fmt.Sprintf("page fault: %s at address 0x%x (page %d)", verb, f.Addr, f.Index)
}

// Memory is a sparse mapping from page index to page record. Create one with
// New, in which every page starts out unmapped (inaccessible). The zero value
// has no page table: reads see every page as unmapped, and Allocate and
// LoadPage panic on it.
type Memory struct {
	pages map[uint64]*page
}

// New returns an empty paged memory with no mapped pages.
func New() *Memory {
	return &Memory{pages: make(map[uint64]*page)}
}

// PageIndex returns the page index containing the given address.
func PageIndex(addr uint64) uint64 {
	return addr / PageSize
}

// Allocate creates or replaces the page at pageIndex with a zero-filled
// buffer and the given mode. It never fails.
func (m *Memory) Allocate(pageIndex uint64, mode Mode) {
	m.pages[pageIndex] = &page{mode: mode}
}

// LoadPage creates the page at pageIndex with the given mode and initial
// contents (zero-padded if data is shorter than a page). This is the
// loader's privilege: it bypasses the access-mode check that governs
// store instructions, the same way mapping a file read-only doesn't
// require first making it writable.
func (m *Memory) LoadPage(pageIndex uint64, mode Mode, data []byte) {
	p := &page{mode: mode}
	copy(p.buf[:], data)
	m.pages[pageIndex] = p
}

// Mode returns the access mode of the page containing addr (Inaccessible if
// unmapped).
func (m *Memory) Mode(addr uint64) Mode {
	p, ok := m.pages[PageIndex(addr)]
	if !ok {
		return Inaccessible
	}
	return p.mode
}

// MappedPageCount returns the number of currently mapped pages. Used by sbrk
// to decide where to place newly allocated pages.
func (m *Memory) MappedPageCount() uint64 {
	return uint64(len(m.pages))
}

// Read produces a freshly owned buffer of length bytes starting at addr.
// Every touched page must exist and be readable; otherwise Read fails with
// a *PageFault naming the offending page.
func (m *Memory) Read(addr uint64, length uint64) ([]byte, error) {
	if length == 0 {
		return []byte{}, nil
	}
	if err := m.checkRange(addr, length, false); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	for i := uint64(0); i < length; i++ {
		a := addr + i
		p := m.pages[PageIndex(a)]
		out[i] = p.buf[a%PageSize]
	}
	return out, nil
}

// Write copies data into memory starting at addr. Every touched page must
// exist and be writable; the permission check happens for the whole range
// before any byte is written, so a failing write never has a partial
// host-visible effect.
func (m *Memory) Write(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := m.checkRange(addr, uint64(len(data)), true); err != nil {
		return err
	}
	for i, b := range data {
		a := addr + uint64(i)
		p := m.pages[PageIndex(a)]
		p.buf[a%PageSize] = b
	}
	return nil
}

// checkRange verifies that every byte in [addr, addr+length) lies on a
// mapped page with sufficient permission, without mutating memory.
func (m *Memory) checkRange(addr, length uint64, write bool) error {
	first := PageIndex(addr)
	last := PageIndex(addr + length - 1)
	for idx := first; idx <= last; idx++ {
		p, ok := m.pages[idx]
		if !ok {
			return &PageFault{Index: idx, Addr: addr, Write: write}
		}
		if write {
			if !p.mode.writable() {
				return &PageFault{Index: idx, Addr: addr, Write: write}
			}
		} else if !p.mode.readable() {
			return &PageFault{Index: idx, Addr: addr, Write: write}
		}
	}
	return nil
}
