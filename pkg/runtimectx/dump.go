// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package runtimectx

import (
	"fmt"
	"os"
	"strings"

	"github.com/parascope/runtime/pkg/calltree"
)

// dumpCoreFile writes a best-effort diagnostic of the failing location's
// call-tree stack and immediate subtree to c.corePath(), per spec.md §7:
// "optionally writes a core file ... into the experiment directory". The
// on-disk format of this file is not part of the runtime-to-collaborator
// Output API (spec.md §1 leaves it unspecified beyond "diagnostic"), so it's
// a plain text report rather than any binary container.
func (c *Context) dumpCoreFile(cause error, loc *calltree.Node) error {
	var b strings.Builder

	fmt.Fprintf(&b, "scorepgo core dump\n")
	fmt.Fprintf(&b, "rank: %d thread: %d\n", c.Rank, c.ThreadID)
	fmt.Fprintf(&b, "cause: %s\n", cause)

	if loc == nil {
		b.WriteString("no failing location associated with this abort\n")
	} else {
		b.WriteString("stack (innermost first):\n")
		writeStack(&b, loc)
		b.WriteString("immediate children:\n")
		writeChildren(&b, loc)
	}

	return os.WriteFile(c.corePath(), []byte(b.String()), 0o644)
}

func writeStack(b *strings.Builder, n *calltree.Node) {
	depth := 0
	for cur := n; cur != nil; cur = cur.Parent() {
		fmt.Fprintf(b, "  #%d kind=%v count=%d region=%v\n", depth, cur.Kind(), cur.Count(), cur.Payload().Region)
		depth++
	}
}

func writeChildren(b *strings.Builder, n *calltree.Node) {
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		fmt.Fprintf(b, "  kind=%v count=%d region=%v\n", child.Kind(), child.Count(), child.Payload().Region)
	}
}
