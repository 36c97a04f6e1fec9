/*
 * Copyright 2022 ByteDance Inc.
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
	"github.com/cloudwego/rowalloc/internal/ir"
	"github.com/oleiade/lane"
)

// _Dominators runs Lengauer-Tarjan over one subroutine. Vertices are dense
// numbers in depth-first preorder, the entry being 0.
type _Dominators struct {
	blocks   []*ir.Block
	index    map[int]int
	parent   []int
	semi     []int
	idom     []int
	ancestor []int
	label    []int
	preds    [][]int
	bucket   [][]int
}

type _DfsItem struct {
	bb     *ir.Block
	parent int
}

// number searches depth first from entry, never leaving its subroutine.
func (self *_Dominators) number(entry *ir.Block) {
	edges := make(map[int][]int)
	st := lane.NewStack()
	st.Push(_DfsItem{bb: entry, parent: -1})

	/* a block is numbered when it is popped */
	for !st.Empty() {
		it := st.Pop().(_DfsItem)
		if _, ok := self.index[it.bb.ID]; ok {
			continue
		}
		i := len(self.blocks)
		self.index[it.bb.ID] = i
		self.blocks = append(self.blocks, it.bb)
		self.parent = append(self.parent, it.parent)
		for j := len(it.bb.Succs) - 1; j >= 0; j-- {
			if w := it.bb.Succs[j]; w.Sub == it.bb.Sub {
				edges[w.ID] = append(edges[w.ID], i)
				st.Push(_DfsItem{bb: w, parent: i})
			}
		}
	}

	/* per vertex state */
	n := len(self.blocks)
	self.semi = make([]int, n)
	self.idom = make([]int, n)
	self.ancestor = make([]int, n)
	self.label = make([]int, n)
	self.preds = make([][]int, n)
	self.bucket = make([][]int, n)
	for i, bb := range self.blocks {
		self.semi[i] = i
		self.label[i] = i
		self.ancestor[i] = -1
		self.preds[i] = edges[bb.ID]
	}
}

func (self *_Dominators) eval(v int) int {
	if self.ancestor[v] < 0 {
		return v
	}
	self.compress(v)
	return self.label[v]
}

func (self *_Dominators) compress(v int) {
	a := self.ancestor[v]
	if self.ancestor[a] < 0 {
		return
	}
	self.compress(a)
	if self.semi[self.label[a]] < self.semi[self.label[v]] {
		self.label[v] = self.label[a]
	}
	self.ancestor[v] = self.ancestor[a]
}

func (self *_Dominators) solve() {
	for w := len(self.blocks) - 1; w > 0; w-- {
		p := self.parent[w]

		/* semidominator from every predecessor */
		for _, v := range self.preds[w] {
			if u := self.eval(v); self.semi[u] < self.semi[w] {
				self.semi[w] = self.semi[u]
			}
		}
		self.bucket[self.semi[w]] = append(self.bucket[self.semi[w]], w)
		self.ancestor[w] = p

		/* immediate dominators of the parent's bucket, possibly deferred */
		for _, v := range self.bucket[p] {
			if u := self.eval(v); self.semi[u] < self.semi[v] {
				self.idom[v] = u
			} else {
				self.idom[v] = p
			}
		}
		self.bucket[p] = self.bucket[p][:0]
	}

	/* resolve the deferred ones in preorder */
	for w := 1; w < len(self.blocks); w++ {
		if self.idom[w] != self.semi[w] {
			self.idom[w] = self.idom[self.idom[w]]
		}
	}
}

// DominatorTree is the dominator tree of one subroutine. Blocks unreachable
// from the entry are not part of the tree.
type DominatorTree struct {
	Root        *ir.Block
	DominatedBy map[int]*ir.Block
	DominatorOf map[int][]*ir.Block
	order       map[int]int
}

// Reachable reports whether bb is reachable from the root.
func (self *DominatorTree) Reachable(bb *ir.Block) bool {
	_, ok := self.order[bb.ID]
	return ok
}

// Dominates reports whether every path from the root to b passes through a.
func (self *DominatorTree) Dominates(a *ir.Block, b *ir.Block) bool {
	if !self.Reachable(a) || !self.Reachable(b) {
		return false
	}
	for b != a {
		if b = self.DominatedBy[b.ID]; b == nil {
			return false
		}
	}
	return true
}

// BuildDominatorTree computes the dominators of the subroutine entered at
// entry.
func BuildDominatorTree(entry *ir.Block) *DominatorTree {
	d := &_Dominators{index: make(map[int]int)}
	d.number(entry)
	d.solve()

	/* map the dominator relations */
	ret := &DominatorTree{
		Root:        entry,
		DominatedBy: make(map[int]*ir.Block),
		DominatorOf: make(map[int][]*ir.Block),
		order:       d.index,
	}
	for w := 1; w < len(d.blocks); w++ {
		bb, dom := d.blocks[w], d.blocks[d.idom[w]]
		ret.DominatedBy[bb.ID] = dom
		ret.DominatorOf[dom.ID] = append(ret.DominatorOf[dom.ID], bb)
	}
	return ret
}
