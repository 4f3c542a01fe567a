// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package alloc

import "fmt"

// Movable is a handle into a PageManager's pages, encoded as a page id and an
// offset within that page. It carries no live pointer: the bytes it refers to
// can be copied to a remote process (see PageManager.AllocMovedPage) without
// the handle itself changing value.
//
// A Movable produced by one PageManager is only meaningful when dereferenced
// through that same manager, or through a moved manager seeded with that
// manager's pages. Dereferencing through the wrong manager is undefined
// behavior at the call site; callers that cannot guarantee the right manager
// should carry the manager alongside the handle.
type Movable struct {
	pageID uint32
	offset uint32
}

// Invalid is the sentinel Movable returned by allocation failures and used
// as the initial value of definition back-references (e.g. Unified) before
// they are resolved.
var Invalid = Movable{pageID: ^uint32(0), offset: ^uint32(0)}

// IsValid reports whether m refers to real storage.
func (m Movable) IsValid() bool {
	return m != Invalid
}

// NewMovableForDecode reconstructs a Movable from its wire-encoded page id
// and offset, for use by unmarshalers that read a previously-encoded
// handle back off the wire (e.g. definitions.Handle's binary codec). It
// performs no validation against any particular PageManager; the caller is
// responsible for only dereferencing it through the manager it came from.
func NewMovableForDecode(pageID, offset uint32) Movable {
	return Movable{pageID: pageID, offset: offset}
}

// PageID returns the page id component of the handle.
func (m Movable) PageID() uint32 { return m.pageID }

// Offset returns the byte offset component of the handle.
func (m Movable) Offset() uint32 { return m.offset }

func (m Movable) String() string {
	if !m.IsValid() {
		return "alloc.Invalid"
	}
	return fmt.Sprintf("alloc.Movable{page:%d,off:%d}", m.pageID, m.offset)
}
