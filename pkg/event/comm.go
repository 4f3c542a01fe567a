// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package event

import (
	"github.com/parascope/runtime/pkg/calltree"
	"github.com/parascope/runtime/pkg/definitions"
	"github.com/parascope/runtime/pkg/task"
)

// CommKind tags the class of communication event recorded by CommEvent,
// determining which byte-count metric it feeds. Byte counts are recorded as
// sparse accumulated entries on the cursor node; no dense metric slot is used.
type CommKind uint8

const (
	CommSend CommKind = iota
	CommRecv
	CommCollective
	CommRmaPut
	CommRmaGet
)

// CommEvent is one pending communication-event record: a point-to-point,
// collective, or one-sided byte transfer plus an optional sync-level or
// atomic-type label. It is staged in a bounded per-location ring buffer
// (see Buffer) so a burst of communication events never blocks the hot
// enter/exit path on metric-trigger lock contention.
type CommEvent struct {
	Kind      CommKind
	Bytes     uint64
	SyncLevel definitions.Handle // string parameter naming the sync level/atomic type, if any
}

// commMetric returns the byte-count metric handle named name, creating and
// caching it (via cache) on first use.
func (c *Core) commMetric(cache *definitions.Handle, name string) (definitions.Handle, error) {
	if cache.IsValid() {
		return *cache, nil
	}
	nameH, _, err := c.catalog.NewString(name)
	if err != nil {
		return definitions.Invalid, err
	}
	unit, _, err := c.catalog.NewString("bytes")
	if err != nil {
		return definitions.Invalid, err
	}
	h, _, err := c.catalog.NewMetric(nameH, unit, definitions.MetricValueUint64, definitions.MetricModeAccumulated, 0, 0, false, definitions.Invalid)
	if err != nil {
		return definitions.Invalid, err
	}
	*cache = h
	return h, nil
}

// RecordComm applies a communication event's metric triggers directly to
// the current task's cursor node (spec.md §4.5): no tree restructuring
// occurs, only sparse metric accumulation.
func (c *Core) RecordComm(loc *task.State, ev CommEvent) error {
	node := loc.CurrentTask.CurrentNode

	var metricName string
	switch ev.Kind {
	case CommSend:
		metricName = "bytes_sent"
	case CommRecv:
		metricName = "bytes_received"
	case CommRmaPut:
		metricName = "bytes_put"
	case CommRmaGet:
		metricName = "bytes_get"
	case CommCollective:
		metricName = "bytes_sent"
	}

	c.mu.Lock()
	cache, ok := c.commCache[metricName]
	if !ok {
		cache = new(definitions.Handle)
		c.commCache[metricName] = cache
	}
	c.mu.Unlock()

	metric, err := c.commMetric(cache, metricName)
	if err != nil {
		return err
	}
	node.TriggerSparse(metric, calltree.SparseUint64, definitions.MetricModeAccumulated, ev.Bytes, 0)

	if ev.SyncLevel.IsValid() {
		node.TriggerSparse(ev.SyncLevel, calltree.SparseUint64, definitions.MetricModeAbsolute, 1, 0)
	}
	return nil
}
