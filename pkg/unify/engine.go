// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package unify

import (
	"context"
	"fmt"
	"sync"

	"github.com/parascope/runtime/pkg/definitions"
	"github.com/parascope/runtime/pkg/ipc"
	"golang.org/x/sync/errgroup"
)

// Tags partition the point-to-point traffic the hypercube reduction sends
// over one ipc.Comm: tagSnapshot carries a catalog snapshot upward,
// tagMapping carries a mapping table back downward. Concurrent children
// sending tagSnapshot to the same parent never collide since ipc.Comm.Recv
// matches on (src, tag) together.
const (
	tagSnapshot = 1
	tagMapping  = 2
)

// Run executes the Unification Engine (spec.md §4.8) for this rank: merges
// every child's catalog into unified (fanning the children out concurrently
// with errgroup, since each child's catalog is self-contained and Set's
// internal locking makes concurrent New* calls from different goroutines
// safe), merges this rank's own local catalog in turn, then — unless this
// rank is the root — ships the accumulated unified catalog to its parent
// and waits for the parent's mapping tables. Finally it scatters each
// child's portion of the resulting mapping back down, in reverse order, and
// applies the local-to-unified mapping to local's own records.
//
// unified starts out as an empty catalog on every rank; only the root's
// copy ends up holding the full global set of definitions. local is this
// rank's pre-unification catalog; its records' Unified back-links are set
// before Run returns.
func Run(ctx context.Context, comm ipc.Comm, local, unified *definitions.Catalog) error {
	topo := computeTopology(comm.Rank(), comm.Size())

	childMappings := make(map[int]Mapping, len(topo.children))
	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	for _, child := range topo.children {
		child := child
		g.Go(func() error {
			ship, err := recvSnapshot(gCtx, comm, child, tagSnapshot)
			if err != nil {
				return fmt.Errorf("unify: receive catalog from child %d: %w", child, err)
			}
			m, err := mergeSnapshot(unified, ship)
			if err != nil {
				return fmt.Errorf("unify: merge child %d's catalog: %w", child, err)
			}
			mu.Lock()
			childMappings[child] = m
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	selfShip, err := takeSnapshot(local)
	if err != nil {
		return fmt.Errorf("unify: snapshot local catalog: %w", err)
	}
	selfMapping, err := mergeSnapshot(unified, selfShip)
	if err != nil {
		return fmt.Errorf("unify: merge own catalog: %w", err)
	}

	var parentMapping Mapping
	if topo.isRoot {
		parentMapping, err = identityMapping(unified)
		if err != nil {
			return err
		}
	} else {
		ship, err := takeSnapshot(unified)
		if err != nil {
			return fmt.Errorf("unify: snapshot unified-so-far catalog: %w", err)
		}
		if err := sendSnapshot(ctx, comm, topo.parent, tagSnapshot, ship); err != nil {
			return fmt.Errorf("unify: send catalog to parent %d: %w", topo.parent, err)
		}
		parentMapping, err = recvMapping(ctx, comm, topo.parent, tagMapping)
		if err != nil {
			return fmt.Errorf("unify: receive mapping from parent %d: %w", topo.parent, err)
		}
	}

	finalSelf, err := compose(unified, selfMapping, parentMapping)
	if err != nil {
		return fmt.Errorf("unify: compose local mapping: %w", err)
	}
	if err := applyUnified(local, finalSelf); err != nil {
		return fmt.Errorf("unify: apply unified back-links: %w", err)
	}

	for i := len(topo.children) - 1; i >= 0; i-- {
		child := topo.children[i]
		finalChild, err := compose(unified, childMappings[child], parentMapping)
		if err != nil {
			return fmt.Errorf("unify: compose child %d's mapping: %w", child, err)
		}
		if err := sendMapping(ctx, comm, child, tagMapping, finalChild); err != nil {
			return fmt.Errorf("unify: send mapping to child %d: %w", child, err)
		}
	}
	return nil
}

// identityMapping maps every handle in cat to itself, used as the root's
// stand-in for "the parent's mapping": the root's unified-so-far catalog
// already is the final global catalog, so composing against it is a no-op.
func identityMapping(cat *definitions.Catalog) (Mapping, error) {
	m := newMapping()
	var outerErr error
	visit := func(h definitions.Handle) bool {
		hdr, err := headerOf(cat, h)
		if err != nil {
			outerErr = err
			return false
		}
		m.set(h.Type, hdr.SequenceNumber, h)
		return true
	}
	forEachOfKinds(cat, visit)
	return m, outerErr
}

// applyUnified writes each of local's records' Unified back-link, per
// spec.md §4.8's closing step: "apply the unified-to-local mapping to the
// local definition manager so that every local definition's unified
// back-link points to the correct unified record."
func applyUnified(local *definitions.Catalog, mapping Mapping) error {
	var outerErr error
	visit := func(h definitions.Handle) bool {
		hdr, err := headerOf(local, h)
		if err != nil {
			outerErr = err
			return false
		}
		dest := mapping.get(h.Type, hdr.SequenceNumber)
		if !dest.IsValid() {
			outerErr = fmt.Errorf("unify: no unified mapping for local %s seq %d", h.Type, hdr.SequenceNumber)
			return false
		}
		if err := setUnifiedOf(local, h, dest); err != nil {
			outerErr = err
			return false
		}
		return true
	}
	forEachOfKinds(local, visit)
	return outerErr
}

// --- point-to-point transport ---

func sendSnapshot(ctx context.Context, comm ipc.Comm, dest, tag int, ship snapshot) error {
	return comm.Send(ctx, encodeSnapshot(ship), dest, tag)
}

func recvSnapshot(ctx context.Context, comm ipc.Comm, src, tag int) (snapshot, error) {
	b, err := comm.Recv(ctx, src, tag)
	if err != nil {
		return snapshot{}, err
	}
	return decodeSnapshot(b)
}

func sendMapping(ctx context.Context, comm ipc.Comm, dest, tag int, m Mapping) error {
	return comm.Send(ctx, encodeMapping(m), dest, tag)
}

func recvMapping(ctx context.Context, comm ipc.Comm, src, tag int) (Mapping, error) {
	b, err := comm.Recv(ctx, src, tag)
	if err != nil {
		return nil, err
	}
	return decodeMapping(b)
}
