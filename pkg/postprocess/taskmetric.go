// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package postprocess

import (
	"github.com/parascope/runtime/pkg/calltree"
	"github.com/parascope/runtime/pkg/definitions"
)

const numberOfSwitchesMetricName = "number_of_switches"

// ConvertTaskMetrics implements step 7: every region node whose region plays
// RegionRoleTask had its Count incremented once per task_switch_start onto
// it (spec.md §3); that raw trigger count is moved onto a dedicated
// number_of_switches sparse metric and the node's count reset, so the final
// profile reports switches as a metric rather than a generic call count.
func ConvertTaskMetrics(tree *calltree.Tree, catalog *definitions.Catalog) error {
	metric, err := numberOfSwitchesMetric(catalog)
	if err != nil {
		return err
	}

	roleCache := make(map[definitions.Handle]bool)
	var walkErr error
	tree.ForAll(tree.Root, func(n *calltree.Node) bool {
		if n.Kind() != calltree.KindRegion {
			return true
		}
		isTask, ok := roleCache[n.Payload().Region]
		if !ok {
			def, err := catalog.Regions.Deref(n.Payload().Region)
			if err != nil {
				walkErr = err
				return false
			}
			isTask = def.Role == definitions.RegionRoleTask
			roleCache[n.Payload().Region] = isTask
		}
		if isTask && n.Count() > 0 {
			n.TriggerSparse(metric, calltree.SparseUint64, definitions.MetricModeAccumulated, n.Count(), 0)
			n.ClearCount()
		}
		return true
	})
	return walkErr
}

func numberOfSwitchesMetric(catalog *definitions.Catalog) (definitions.Handle, error) {
	name, _, err := catalog.NewString(numberOfSwitchesMetricName)
	if err != nil {
		return definitions.Invalid, err
	}
	unit, _, err := catalog.NewString("switches")
	if err != nil {
		return definitions.Invalid, err
	}
	h, _, err := catalog.NewMetric(name, unit, definitions.MetricValueUint64, definitions.MetricModeAccumulated, 0, 0, false, definitions.Invalid)
	return h, err
}
