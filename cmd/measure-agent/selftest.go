// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"encoding/json"
	"flag"
	"os"

	"github.com/go-logr/logr"

	"github.com/parascope/runtime/pkg/alloc"
	"github.com/parascope/runtime/pkg/calltree"
	"github.com/parascope/runtime/pkg/definitions"
	"github.com/parascope/runtime/pkg/event"
)

// treeNode is the JSON-printable shape of a calltree.Node, the selftest
// subcommand's output format: a region name (empty for the thread-root
// node), visit count, and inclusive-time sum, recursively nested.
type treeNode struct {
	Region    string     `json:"region,omitempty"`
	Count     uint64     `json:"count"`
	Inclusive uint64     `json:"inclusive"`
	Children  []treeNode `json:"children,omitempty"`
}

// runSelfTest drives one location through a canned enter/exit sequence —
// two nested regions entered and exited twice each — and prints the
// resulting call tree as JSON. It exists to exercise the Event Core and
// Call-Tree Store without a real adapter attached.
func runSelfTest(args []string) {
	fs := flag.NewFlagSet("selftest", flag.ExitOnError)
	verbose := fs.Bool("verbose", false, "Enable verbose logging")
	pretty := fs.Bool("pretty", true, "Pretty-print the JSON output")
	fs.Parse(args)

	log := newLogger(*verbose)

	total, page := uint32(1<<20), uint32(4096)
	a, err := alloc.CreateAllocator(&total, &page, nil, nil, nil)
	if err != nil {
		fail(log, err, "unable to create allocator")
	}
	pm := alloc.CreateMiscPageManager(a)
	catalog := definitions.NewCatalog(pm)

	core, err := event.NewCore(catalog, log)
	if err != nil {
		fail(log, err, "unable to create event core")
	}

	locName, _, err := catalog.NewString("selftest:0")
	if err != nil {
		fail(log, err, "unable to register location name")
	}
	locHandle, _, err := catalog.NewLocation(locName, definitions.LocationCPUThread, definitions.Invalid, 0)
	if err != nil {
		fail(log, err, "unable to register location")
	}
	loc := core.RegisterLocation(locHandle)

	outer := mustRegion(log, catalog, "outer")
	inner := mustRegion(log, catalog, "inner")

	var clock uint64
	tick := func() uint64 { clock++; return clock }

	for i := 0; i < 2; i++ {
		if err := core.Enter(loc, outer, tick(), nil); err != nil {
			fail(log, err, "enter outer failed")
		}
		if err := core.Enter(loc, inner, tick(), nil); err != nil {
			fail(log, err, "enter inner failed")
		}
		if err := core.Exit(loc, inner, tick(), nil); err != nil {
			fail(log, err, "exit inner failed")
		}
		if err := core.Exit(loc, outer, tick(), nil); err != nil {
			fail(log, err, "exit outer failed")
		}
	}

	snapshot := snapshotNode(catalog, loc.Tree.Root)

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(snapshot); err != nil {
		fail(log, err, "unable to encode call tree")
	}
}

func mustRegion(log logr.Logger, catalog *definitions.Catalog, name string) definitions.Handle {
	n, _, err := catalog.NewString(name)
	if err != nil {
		fail(log, err, "unable to register region name")
	}
	r, _, err := catalog.NewRegion(n, definitions.Invalid, 0, 0, definitions.ParadigmUser, definitions.RegionRoleFunction)
	if err != nil {
		fail(log, err, "unable to register region")
	}
	return r
}

func snapshotNode(catalog *definitions.Catalog, n *calltree.Node) treeNode {
	out := treeNode{
		Count:     n.Count(),
		Inclusive: n.Inclusive().Sum,
	}
	if region := n.Payload().Region; region.IsValid() {
		if def, err := catalog.Regions.Deref(region); err == nil {
			if name, err := catalog.String(def.Name); err == nil {
				out.Region = name
			}
		}
	}
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		out.Children = append(out.Children, snapshotNode(catalog, child))
	}
	return out
}
