// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package alloc

import (
	"fmt"
	"sync"
)

// ErrOutOfMemory is returned by Alloc/AlignedAlloc/AllocMovable when the
// backing Allocator has exhausted its page pool. The core translates this
// into a fatal out-of-memory signal (spec.md §7); alloc itself only reports
// it.
var ErrOutOfMemory = fmt.Errorf("alloc: allocator exhausted")

// kind distinguishes the three PageManager variants described by the data
// model: local (single-thread, no lock), misc (process-wide, locked), and
// moved (read-only, seeded with pages shipped from a remote process).
type kind int

const (
	kindLocal kind = iota
	kindMisc
	kindMoved
)

// PageManager owns a collection of pages plus a bump pointer into the
// current page. It is the unit of dereference for Movable handles: a handle
// produced by one PageManager is only meaningful when dereferenced through
// that same manager.
type PageManager struct {
	allocator *Allocator
	kind      kind
	mu        sync.Mutex // used only by the misc variant

	pages      []*Page
	pageByID   map[uint32]int // id -> index in pages, used by the moved variant
	current    *Page
	currentIdx int

	lastMovable      Movable
	lastMovableValid bool
}

// CreatePageManager creates a local PageManager: mutable, intended for use by
// exactly one goroutine/location.
func CreatePageManager(a *Allocator) *PageManager {
	return &PageManager{allocator: a, kind: kindLocal, currentIdx: -1}
}

// CreateMiscPageManager creates a process-wide PageManager whose mutating
// operations are synchronized by the allocator's supplied lock, for
// allocations that outlive any one location.
func CreateMiscPageManager(a *Allocator) *PageManager {
	return &PageManager{allocator: a, kind: kindMisc, currentIdx: -1}
}

// CreateMovedPageManager creates a read-only view that receives pages shipped
// from a remote process during unification, addressed by the remote page id.
func CreateMovedPageManager(a *Allocator) *PageManager {
	return &PageManager{
		allocator: a,
		kind:      kindMoved,
		pageByID:  make(map[uint32]int),
	}
}

func (pm *PageManager) withLock(fn func() (any, error)) (any, error) {
	if pm.kind == kindMisc {
		pm.mu.Lock()
		defer pm.mu.Unlock()
		pm.allocator.lock()
		defer pm.allocator.unlock()
	}
	return fn()
}

// ensureCurrent returns the current page with at least `size` bytes
// remaining, allocating a fresh page if necessary.
func (pm *PageManager) ensureCurrent(size uint32) (*Page, error) {
	if pm.current != nil && pm.current.remaining() >= size {
		return pm.current, nil
	}
	p := pm.allocator.newPage()
	if p == nil {
		return nil, ErrOutOfMemory
	}
	pm.pages = append(pm.pages, p)
	pm.current = p
	pm.currentIdx = len(pm.pages) - 1
	return p, nil
}

// Alloc returns a raw byte slice of at least size bytes from the manager's
// current page, acquiring a fresh page if the request does not fit.
func (pm *PageManager) Alloc(size uint32) ([]byte, error) {
	if pm.kind == kindMoved {
		return nil, fmt.Errorf("alloc: cannot allocate through a moved page manager")
	}
	if size == 0 {
		return nil, fmt.Errorf("alloc: size must be > 0")
	}
	if size > pm.allocator.pageSize {
		return nil, fmt.Errorf("alloc: size %d exceeds page size %d", size, pm.allocator.pageSize)
	}

	v, err := pm.withLock(func() (any, error) {
		p, err := pm.ensureCurrent(size)
		if err != nil {
			return nil, err
		}
		off := p.fill
		p.fill += size
		pm.lastMovable = Movable{pageID: p.id, offset: off}
		pm.lastMovableValid = true
		return p.bytesAt(off, size), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// AlignedAlloc behaves like Alloc but guarantees the returned slice starts at
// an address that is a multiple of alignment relative to the page start.
// alignment must be a power of two no smaller than NaturalAlignment.
func (pm *PageManager) AlignedAlloc(alignment, size uint32) ([]byte, error) {
	if alignment < NaturalAlignment || alignment&(alignment-1) != 0 {
		return nil, fmt.Errorf("alloc: alignment %d must be a power of two >= %d", alignment, NaturalAlignment)
	}
	if pm.kind == kindMoved {
		return nil, fmt.Errorf("alloc: cannot allocate through a moved page manager")
	}

	v, err := pm.withLock(func() (any, error) {
		// Try the current page first, padding to alignment.
		for {
			p, err := pm.ensureCurrent(size)
			if err != nil {
				return nil, err
			}
			padded := (p.fill + alignment - 1) &^ (alignment - 1)
			if padded+size > uint32(p.Cap()) {
				// Doesn't fit even with padding; force a fresh page next
				// iteration by exhausting this one's declared capacity.
				p.fill = uint32(p.Cap())
				continue
			}
			p.fill = padded + size
			pm.lastMovable = Movable{pageID: p.id, offset: padded}
			pm.lastMovableValid = true
			return p.bytesAt(padded, size), nil
		}
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// AllocMovable behaves like Alloc but returns a Movable handle instead of a
// raw slice, so the allocation can be shipped to and dereferenced by a
// different PageManager after the underlying bytes are copied.
func (pm *PageManager) AllocMovable(size uint32) (Movable, error) {
	if _, err := pm.Alloc(size); err != nil {
		return Invalid, err
	}
	return pm.lastMovable, nil
}

// GetAddressFromMovable dereferences handle through pm, returning the raw
// byte slice it addresses. The slice must not be retained past pm's
// lifetime and must never be re-derived into a Movable of a different
// manager.
func (pm *PageManager) GetAddressFromMovable(handle Movable, size uint32) ([]byte, error) {
	if !handle.IsValid() {
		return nil, fmt.Errorf("alloc: invalid handle")
	}
	idx, ok := pm.indexForPage(handle.pageID)
	if !ok {
		return nil, fmt.Errorf("alloc: handle belongs to a different page manager (page %d unknown)", handle.pageID)
	}
	p := pm.pages[idx]
	if handle.offset+size > uint32(p.Cap()) {
		return nil, fmt.Errorf("alloc: handle out of range for page %d", handle.pageID)
	}
	return p.bytesAt(handle.offset, size), nil
}

func (pm *PageManager) indexForPage(pageID uint32) (int, bool) {
	if pm.kind == kindMoved {
		idx, ok := pm.pageByID[pageID]
		return idx, ok
	}
	for i, p := range pm.pages {
		if p.id == pageID {
			return i, true
		}
	}
	return 0, false
}

// RollbackLastMovable discards the most recent movable allocation made
// through pm, used when a duplicate-detection pass finds an equal record
// already exists. Only the single most recent allocation can be rolled
// back; handle must match it exactly.
func (pm *PageManager) RollbackLastMovable(handle Movable) error {
	_, err := pm.withLock(func() (any, error) {
		if !pm.lastMovableValid || pm.lastMovable != handle {
			return nil, fmt.Errorf("alloc: can only roll back the most recent movable allocation")
		}
		p := pm.current
		if p == nil || p.id != handle.pageID {
			return nil, fmt.Errorf("alloc: rollback target is not the current page")
		}
		p.fill = handle.offset
		pm.lastMovableValid = false
		return nil, nil
	})
	return err
}

// AllocMovedPage stages an incoming page at pageID with fill bytes already
// considered written, so the page mirrors the remote layout. Returns the
// backing slice so the caller can copy the shipped bytes directly into it.
func (pm *PageManager) AllocMovedPage(pageID uint32, fill uint32) ([]byte, error) {
	if pm.kind != kindMoved {
		return nil, fmt.Errorf("alloc: AllocMovedPage requires a moved page manager")
	}
	if fill > pm.allocator.pageSize {
		return nil, fmt.Errorf("alloc: fill %d exceeds page size %d", fill, pm.allocator.pageSize)
	}
	p := &Page{id: pageID, buf: make([]byte, pm.allocator.pageSize), fill: fill}
	pm.pageByID[pageID] = len(pm.pages)
	pm.pages = append(pm.pages, p)
	return p.buf[:fill], nil
}

// PageInfo describes one page hosted by a PageManager, used to enumerate
// pages for shipment during unification.
type PageInfo struct {
	PageID uint32
	Fill   uint32
}

// GetNumberOfUsedPages returns the number of pages currently held by pm.
func (pm *PageManager) GetNumberOfUsedPages() uint32 {
	return uint32(len(pm.pages))
}

// PageSize reports the fixed page size pm's allocator was created with, so
// a receiving moved PageManager can be sized to match when pm's pages are
// shipped to another process.
func (pm *PageManager) PageSize() uint32 {
	return pm.allocator.pageSize
}

// GetPageInfos enumerates pm's pages in allocation order.
func (pm *PageManager) GetPageInfos() []PageInfo {
	infos := make([]PageInfo, len(pm.pages))
	for i, p := range pm.pages {
		infos[i] = PageInfo{PageID: p.id, Fill: p.fill}
	}
	return infos
}

// PageBytes returns the live bytes (0..fill) of the page identified by
// pageID, used when serializing pm's pages for shipment to another process.
func (pm *PageManager) PageBytes(pageID uint32) ([]byte, error) {
	idx, ok := pm.indexForPage(pageID)
	if !ok {
		return nil, fmt.Errorf("alloc: unknown page %d", pageID)
	}
	p := pm.pages[idx]
	return p.buf[:p.fill], nil
}

// Stats reports pm's page usage.
func (pm *PageManager) Stats() AllocatorStats {
	return AllocatorStats{
		PagesAllocated: uint32(len(pm.pages)),
		MaxPages:       pm.allocator.maxPages,
	}
}
