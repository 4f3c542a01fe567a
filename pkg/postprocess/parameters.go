// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package postprocess

import (
	"fmt"

	"github.com/parascope/runtime/pkg/calltree"
	"github.com/parascope/runtime/pkg/definitions"
)

// instanceParameterName is the Score-P convention for a dynamic-region
// "instance" parameter: when the first parameter in a chain carries this
// name, the enclosing callpath is rewritten onto a synthesized region
// rather than folded as an ordinary parameter.
const instanceParameterName = "instance"

// FoldParameters implements step 3: a chain of parameter nodes beneath a
// region-like node collapses into that node's own parameter list (fetched
// later by AssignCallpathsOnMaster), and the chain's own children are
// re-parented directly under it.
func FoldParameters(tree *calltree.Tree, catalog *definitions.Catalog) error {
	var parents []*calltree.Node
	tree.ForAll(tree.Root, func(n *calltree.Node) bool {
		if isParamChainHead(n.FirstChild()) {
			parents = append(parents, n)
		}
		return true
	})
	for _, parent := range parents {
		if err := foldChain(tree, catalog, parent); err != nil {
			return err
		}
	}
	return nil
}

func isParamChainHead(n *calltree.Node) bool {
	return n != nil && (n.Kind() == calltree.KindParameterInt || n.Kind() == calltree.KindParameterString)
}

// foldChain folds the single parameter-node chain beneath parent. If the
// chain's first node is a dynamic-region "instance" parameter, that node is
// instead retargeted onto a synthesized region and left in place as
// parent's child (any parameters collected ahead of it are still folded
// onto parent); otherwise the whole chain is dissolved and its tail's
// children re-parented directly under parent.
func foldChain(tree *calltree.Tree, catalog *definitions.Catalog, parent *calltree.Node) error {
	head := parent.FirstChild()
	var params []definitions.CallpathParameter
	cur := head

	for first := true; isParamChainHead(cur); first = false {
		p := cur.Payload()
		if first && cur.Kind() == calltree.KindParameterInt {
			isInstance, err := isInstanceParameter(catalog, p.Parameter)
			if err != nil {
				return fmt.Errorf("postprocess: fold parameters: %w", err)
			}
			if isInstance {
				if err := rewriteInstanceRegion(catalog, parent, cur, p.ParamInt); err != nil {
					return err
				}
				if len(params) > 0 {
					parent.SetParameters(params)
				}
				return nil
			}
		}

		switch cur.Kind() {
		case calltree.KindParameterInt:
			params = append(params, definitions.CallpathParameter{
				Param: p.Parameter, Kind: definitions.ParameterInt64, IntValue: p.ParamInt,
			})
		case calltree.KindParameterString:
			params = append(params, definitions.CallpathParameter{
				Param: p.Parameter, Kind: definitions.ParameterString, StrValue: p.ParamStr,
			})
		}

		next := cur.FirstChild()
		if !isParamChainHead(next) {
			break
		}
		cur = next
	}

	if len(params) > 0 {
		parent.SetParameters(params)
	}
	tree.MoveChildren(cur, parent)
	tree.RemoveNode(parent, head)
	return nil
}

func isInstanceParameter(catalog *definitions.Catalog, param definitions.Handle) (bool, error) {
	def, err := catalog.Parameters.Deref(param)
	if err != nil {
		return false, err
	}
	name, err := catalog.String(def.Name)
	if err != nil {
		return false, err
	}
	return name == instanceParameterName, nil
}

// rewriteInstanceRegion turns the dynamic-region instance parameter node cur
// into an ordinary region node, named after enclosing's region with value
// encoded into it, e.g. "loop_body" -> "loop_body[3]" for instance 3.
func rewriteInstanceRegion(catalog *definitions.Catalog, enclosing, cur *calltree.Node, value int64) error {
	def, err := catalog.Regions.Deref(enclosing.Payload().Region)
	if err != nil {
		return err
	}
	baseName, err := catalog.String(def.Name)
	if err != nil {
		return err
	}
	nameH, _, err := catalog.NewString(fmt.Sprintf("%s[%d]", baseName, value))
	if err != nil {
		return err
	}
	newRegion, _, err := catalog.NewRegion(nameH, def.File, def.BeginLine, def.EndLine, def.Paradigm, def.Role)
	if err != nil {
		return err
	}
	cur.SetRegion(newRegion)
	cur.SetKind(calltree.KindRegion)
	return nil
}
