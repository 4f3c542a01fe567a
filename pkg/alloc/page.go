// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package alloc

// Page is a fixed-size byte region with a monotonically increasing write
// offset (fill) and a stable id. A page is owned by exactly one PageManager
// for its lifetime; ownership never transfers, only the bytes get copied
// (see PageManager.AllocMovedPage) when a remote process needs them.
type Page struct {
	id   uint32
	buf  []byte
	fill uint32
}

// ID returns the page's stable identifier, unique within the owning
// allocator.
func (p *Page) ID() uint32 { return p.id }

// Fill returns the number of bytes written into the page so far.
func (p *Page) Fill() uint32 { return p.fill }

// Cap returns the page's total capacity in bytes.
func (p *Page) Cap() int { return len(p.buf) }

// remaining returns how many more bytes can be written before the page is
// full.
func (p *Page) remaining() uint32 {
	return uint32(len(p.buf)) - p.fill
}

// bytesAt returns the raw slice at offset..offset+size, used by both local
// writers and moved-page readers. Callers must not retain the slice past the
// lifetime of the owning Allocator.
func (p *Page) bytesAt(offset, size uint32) []byte {
	return p.buf[offset : offset+size]
}
