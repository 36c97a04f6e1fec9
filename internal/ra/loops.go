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
	"math"
	"sort"

	"github.com/cloudwego/rowalloc/internal/bitvec"
	"github.com/cloudwego/rowalloc/internal/ir"
	"github.com/oleiade/lane"
)

// _Loop is a natural loop: a header and every block that reaches one of its
// back edges without passing through the header.
type _Loop struct {
	header    *ir.Block
	body      bitvec.Vector
	blocks    []*ir.Block
	depth     int
	preheader *ir.Block
	exits     [][2]*ir.Block
}

func (self *_Loop) contains(bb *ir.Block) bool {
	return self.body.Has(bb.ID)
}

// _LoopInfo holds the dominator trees, natural loops and estimated block
// frequencies of a program.
type _LoopInfo struct {
	doms  []*DominatorTree
	loops []*_Loop
	depth []int
	freq  []float64
}

func newLoopInfo(prog *ir.Program, iterations int) *_LoopInfo {
	nb := len(prog.Blocks)
	ret := &_LoopInfo{
		doms:  make([]*DominatorTree, len(prog.Subs)),
		depth: make([]int, nb),
		freq:  make([]float64, nb),
	}

	/* dominators of every subroutine */
	for _, sub := range prog.Subs {
		ret.doms[sub.ID] = BuildDominatorTree(sub.Entry)
	}

	/* one loop per header that is the target of a back edge */
	byHeader := make(map[int]*_Loop)
	for _, bb := range prog.Blocks {
		dt := ret.doms[bb.Sub]
		for _, h := range bb.Succs {
			if h.Sub == bb.Sub && dt.Dominates(h, bb) {
				lp := byHeader[h.ID]
				if lp == nil {
					lp = &_Loop{header: h, body: bitvec.New(nb)}
					lp.body.Set(h.ID)
					byHeader[h.ID] = lp
					ret.loops = append(ret.loops, lp)
				}
				lp.collect(bb)
			}
		}
	}

	/* nesting depth, exits and preheaders */
	for _, lp := range ret.loops {
		lp.body.ForEach(func(i int) {
			ret.depth[i]++
			lp.blocks = append(lp.blocks, prog.Blocks[i])
		})
	}
	for _, lp := range ret.loops {
		lp.depth = ret.depth[lp.header.ID]
		lp.analyze()
	}

	/* outer loops first */
	sort.SliceStable(ret.loops, func(i int, j int) bool {
		if ret.loops[i].depth != ret.loops[j].depth {
			return ret.loops[i].depth < ret.loops[j].depth
		} else {
			return ret.loops[i].header.ID < ret.loops[j].header.ID
		}
	})

	/* every loop level multiplies the frequency */
	for i := range ret.freq {
		ret.freq[i] = math.Pow(float64(iterations), float64(ret.depth[i]))
	}
	return ret
}

// collect adds the blocks reaching the back edge source bb.
func (self *_Loop) collect(bb *ir.Block) {
	st := lane.NewStack()
	if !self.body.Has(bb.ID) {
		self.body.Set(bb.ID)
		st.Push(bb)
	}
	for !st.Empty() {
		p := st.Pop().(*ir.Block)
		for _, q := range p.Preds {
			if q.Sub == p.Sub && !self.body.Has(q.ID) {
				self.body.Set(q.ID)
				st.Push(q)
			}
		}
	}
}

func (self *_Loop) analyze() {
	for _, bb := range self.blocks {
		for _, s := range bb.Succs {
			if !self.body.Has(s.ID) {
				self.exits = append(self.exits, [2]*ir.Block{bb, s})
			}
		}
	}

	/* the only block entering the loop, and it goes nowhere else */
	var outside []*ir.Block
	for _, p := range self.header.Preds {
		if !self.body.Has(p.ID) {
			outside = append(outside, p)
		}
	}
	if len(outside) == 1 && len(outside[0].Succs) == 1 {
		if _, call := outside[0].CallTarget(); !call {
			self.preheader = outside[0]
		}
	}
}

// Dominates reports whether a dominates b. Blocks of different subroutines
// never dominate each other.
func (self *_LoopInfo) Dominates(a *ir.Block, b *ir.Block) bool {
	return a.Sub == b.Sub && self.doms[a.Sub].Dominates(a, b)
}

func (self *_LoopInfo) Freq(bb *ir.Block) float64 {
	return self.freq[bb.ID]
}
