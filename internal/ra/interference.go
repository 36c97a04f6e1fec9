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
	"github.com/cloudwego/rowalloc/internal/bitvec"
	"github.com/cloudwego/rowalloc/internal/ir"
)

// _CallClasses are the variables a stack call forces into one of the save
// windows of the platform.
type _CallClasses struct {
	callerSave bitvec.Vector
	calleeSave bitvec.Vector
}

// _Interference adds the edges of a program to a graph. When dirty is set
// only pairs with at least one stale end are added.
type _Interference struct {
	prog  *ir.Program
	live  *_Liveness
	g     *_Graph
	dirty *bitvec.Vector
	memo  map[int][]int
}

func buildInterference(live *_Liveness, g *_Graph, dirty *bitvec.Vector) *_CallClasses {
	self := &_Interference{
		prog:  live.prog,
		live:  live,
		g:     g,
		dirty: dirty,
		memo:  make(map[int][]int),
	}

	/* only rescan the blocks a stale variable is live in or referenced by */
	for _, bb := range self.prog.Blocks {
		if dirty == nil || self.stale(bb) {
			self.block(bb)
		}
	}

	/* the inputs are all live together at the kernel entry */
	in := live.liveIn(self.prog.Kernel().Entry)
	ids := in.Slice()
	for i, a := range ids {
		for _, b := range ids[i+1:] {
			self.edge(a, b)
		}
	}
	return self.calls()
}

func (self *_Interference) stale(bb *ir.Block) bool {
	return self.dirty.Intersects(&self.live.useIn[bb.ID]) ||
		self.dirty.Intersects(&self.live.useOut[bb.ID]) ||
		self.dirty.Intersects(&self.live.refs[bb.ID])
}

func (self *_Interference) wanted(a int, b int) bool {
	if a == b || self.live.vars[a].File != self.live.vars[b].File {
		return false
	} else {
		return self.dirty == nil || self.dirty.Has(a) || self.dirty.Has(b)
	}
}

func (self *_Interference) edge(a int, b int) {
	if self.wanted(a, b) {
		self.g.add(a, b)
	}
}

// block walks bb backwards from its live-out set. Every write interferes
// with what is live right after it, and a full kill ends the range.
func (self *_Interference) block(bb *ir.Block) {
	live := self.live.liveOut(bb)
	for i := len(bb.Ins) - 1; i >= 0; i-- {
		p := bb.Ins[i]
		ids := self.live.ids

		/* pseudo kills only end ranges */
		if p.Op == ir.OpPseudoKill {
			self.prog.Touches(p, func(root ir.VarID, _ *ir.Operand, slot ir.Slot, _ bool) {
				if k, ok := ids[root]; ok && slot.Writes() {
					live.Clear(k)
				}
			})
			continue
		}

		/* writes interfere with everything live after the instruction */
		var wr, rd []int
		self.prog.Touches(p, func(root ir.VarID, op *ir.Operand, slot ir.Slot, pointee bool) {
			k, ok := ids[root]
			if !ok {
				return
			} else if !slot.Writes() {
				rd = append(rd, k)
				return
			}
			wr = append(wr, k)
			live.ForEach(func(x int) { self.edge(k, x) })
		})
		for j, a := range wr {
			for _, b := range wr[j+1:] {
				self.edge(a, b)
			}
		}

		/* send payloads and dpas operands must not overlap the destination */
		if p.IsSend() || p.Op == ir.OpDpas {
			for _, a := range wr {
				for _, b := range rd {
					self.edge(a, b)
				}
			}
		}

		/* kills end the range, reads start one */
		self.prog.Touches(p, func(root ir.VarID, op *ir.Operand, slot ir.Slot, pointee bool) {
			if k, ok := ids[root]; ok && slot.Writes() && !pointee && self.prog.IsKill(bb, p, *op, slot) {
				live.Clear(k)
			}
		})
		for _, k := range rd {
			live.Set(k)
		}
	}
}

// callees returns the active variables a callee may touch.
func (self *_Interference) callees(t int) []int {
	if ids, ok := self.memo[t]; ok {
		return ids
	}
	refs := self.live.subRefs[t].Clone()
	refs.Intersect(&self.live.active)
	ids := refs.Slice()
	self.memo[t] = ids
	return ids
}

// calls handles the variables live across a call the callee never touches.
// They must survive the whole callee, so they interfere with everything the
// callee references. Stack calls express this with the save windows instead.
func (self *_Interference) calls() *_CallClasses {
	n := self.live.n()
	ret := &_CallClasses{
		callerSave: bitvec.New(n),
		calleeSave: bitvec.New(n),
	}

	/* everything a stack call may touch stays out of the callee-save rows */
	stack := bitvec.New(n)
	for _, sub := range self.prog.Subs {
		if sub.StackCall {
			stack.Union(&self.live.subRefs[sub.ID])
		}
	}
	stack.Intersect(&self.live.active)
	ret.calleeSave.Copy(&stack)

	/* variables passing through each call */
	for _, bb := range self.prog.Blocks {
		t, ok := bb.CallTarget()
		if !ok {
			continue
		}
		pass := self.live.liveOut(bb)
		pass.Subtract(&self.live.subRefs[t])
		pass.Intersect(&self.live.active)
		sc := self.prog.Subs[t].StackCall

		/* stack calls preserve the callee-save rows */
		pass.ForEach(func(a int) {
			if sc && !stack.Has(a) {
				if self.live.vars[a].File == ir.GRF {
					ret.callerSave.Set(a)
					return
				}
			}
			for _, b := range self.callees(t) {
				if self.wanted(a, b) {
					self.g.force(a, b)
				}
			}
		})
	}
	return ret
}
