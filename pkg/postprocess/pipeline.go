// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package postprocess

import (
	"fmt"

	"github.com/parascope/runtime/pkg/definitions"
	"github.com/parascope/runtime/pkg/task"
)

// Options configures one Run. Reorder exists only so tests can probe the
// pipeline's sensitivity to step ordering; production callers should leave
// it false and get the fixed order documented on Run.
type Options struct {
	// Reorder swaps step 2 (restructure tasks) and step 6 (key-thread
	// clustering) relative to their normal position, for tests exploring
	// whether the two commute. It is an open design question whether a
	// future revision should make this the default; as written, clustering
	// a location's still-unmerged task roots produces different team
	// groupings than clustering after they have been folded under "TASKS".
	Reorder bool
}

// Run applies the Post-Processing Pipeline (spec.md §4.6) to every
// location's tree in locations. masterIdx selects which location's tree
// accumulates the union of every callpath seen anywhere (conventionally
// location 0, the one that never exits before the others).
//
// The steps are numbered 1-7 per spec.md §4.6, but callpath assignment
// (steps 4-5) always runs last, after every tree-shape-mutating step (1, 2,
// 3, 6) has finished on every location — not in the numeric 4-before-6
// order the step numbering might suggest. Steps 4 and 5 assign a callpath
// to every node present in the tree at the time they run and never revisit
// a node afterward; ClusterKeyThreads (step 6) creates a new aggregated
// node, so it must run before callpath assignment or that node would never
// get one and CollectRows would silently drop it from output. Step 7
// (ConvertTaskMetrics) only rewrites metrics on existing nodes, so its
// position relative to 4-5 doesn't matter; it stays grouped with the other
// per-location steps for symmetry.
func Run(locations []*task.State, masterIdx int, catalog *definitions.Catalog, opts Options) error {
	if masterIdx < 0 || masterIdx >= len(locations) {
		return fmt.Errorf("postprocess: master index %d out of range for %d locations", masterIdx, len(locations))
	}
	master := locations[masterIdx].Tree
	groupCache := newGroupRegionCache(catalog)

	type step struct {
		label string
		fn    func(loc *task.State) error
	}

	restructure := step{"step 2", func(loc *task.State) error { return restructureTasks(loc.Tree, groupCache) }}
	cluster := step{"step 6", func(loc *task.State) error { return ClusterKeyThreads(loc.Tree, catalog) }}

	// Steps 4 and 5 (callpath assignment) are not in this slice: they always
	// run after every step here has completed on every location, regardless
	// of Reorder, since step 6 depends on running before them (see Run's
	// doc comment).
	steps := []step{
		{"step 1", func(loc *task.State) error { return ExpandThreads(loc.Tree) }},
		restructure,
		{"step 3", func(loc *task.State) error { return FoldParameters(loc.Tree, catalog) }},
		cluster,
		{"step 7", func(loc *task.State) error { return ConvertTaskMetrics(loc.Tree, catalog) }},
	}
	if opts.Reorder {
		steps[1], steps[3] = steps[3], steps[1]
	}

	for _, s := range steps {
		for _, loc := range locations {
			if err := s.fn(loc); err != nil {
				return fmt.Errorf("postprocess: %s: %w", s.label, err)
			}
		}
	}

	if err := AssignCallpathsOnMaster(master, catalog); err != nil {
		return fmt.Errorf("postprocess: step 4: %w", err)
	}
	for i, loc := range locations {
		if i == masterIdx {
			continue
		}
		if err := MatchCallpathsOnWorkers(loc.Tree, master, catalog); err != nil {
			return fmt.Errorf("postprocess: step 5: %w", err)
		}
	}

	return nil
}
