/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ra

import (
	"sort"

	"github.com/cloudwego/rowalloc/internal/ir"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// _CallGraph records which blocks call which subroutines. Subroutines are
// ordered callees first, so most interprocedural fixed points settle in a
// single sweep.
type _CallGraph struct {
	g         *simple.DirectedGraph
	callers   [][]*ir.Block
	callees   [][]int
	order     []int
	recursive []bool
}

func newCallGraph(prog *ir.Program) *_CallGraph {
	ns := len(prog.Subs)
	ret := &_CallGraph{
		g:         simple.NewDirectedGraph(),
		callers:   make([][]*ir.Block, ns),
		callees:   make([][]int, ns),
		recursive: make([]bool, ns),
	}

	/* one node per subroutine */
	for _, sub := range prog.Subs {
		ret.g.AddNode(simple.Node(sub.ID))
	}

	/* one edge per distinct caller and callee pair */
	for _, bb := range prog.Blocks {
		if t, ok := bb.CallTarget(); ok {
			if t < 0 || t >= ns {
				bug("%s calls undefined subroutine %d", bb, t)
			}
			ret.callers[t] = append(ret.callers[t], bb)
			if t == bb.Sub {
				ret.recursive[t] = true
			} else if !ret.g.HasEdgeFromTo(int64(bb.Sub), int64(t)) {
				ret.g.SetEdge(ret.g.NewEdge(simple.Node(bb.Sub), simple.Node(t)))
				ret.callees[bb.Sub] = append(ret.callees[bb.Sub], t)
			}
		}
	}

	/* strongly connected components come out callees first */
	for _, scc := range topo.TarjanSCC(ret.g) {
		ids := make([]int, 0, len(scc))
		for _, n := range scc {
			ids = append(ids, int(n.ID()))
		}
		sort.Ints(ids)
		if len(ids) > 1 {
			for _, id := range ids {
				ret.recursive[id] = true
			}
		}
		ret.order = append(ret.order, ids...)
	}
	return ret
}

// Callers returns the call blocks targeting sub.
func (self *_CallGraph) Callers(sub int) []*ir.Block {
	return self.callers[sub]
}

// Callees returns the distinct subroutines sub calls, itself excluded.
func (self *_CallGraph) Callees(sub int) []int {
	return self.callees[sub]
}

// Recursive reports whether sub can reach itself through calls.
func (self *_CallGraph) Recursive(sub int) bool {
	return self.recursive[sub]
}
