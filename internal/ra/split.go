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
	"github.com/cloudwego/rowalloc/internal/ir"
)

// splittable reports whether lp has a preheader to copy into and a single
// exit to copy back at.
func (self *_Round) splittable(lp *_Loop) bool {
	if lp.preheader == nil || len(lp.exits) != 1 || !self.loops.Dominates(lp.preheader, lp.header) {
		return false
	}
	for _, p := range lp.exits[0][1].Preds {
		if !lp.contains(p) {
			return false
		}
	}
	return true
}

// trySplit gives a spilled variable a separate copy inside the outermost loop
// that references it, so the memory traffic moves out of the loop.
func (self *_Round) trySplit(lr *_LiveRange, ch *_Changes) bool {
	v := lr.v
	prog := self.live.prog
	if v.File != ir.GRF || unspillable(v) || v.Has(ir.AddrTaken) || self.pointee[lr.id] || self.a.split[v.ID] {
		return false
	}

	/* referenced both inside and outside the loop */
	var best *_Loop
	for _, lp := range self.loops.loops {
		if !self.splittable(lp) {
			continue
		}
		inside, outside := false, false
		for _, bb := range prog.Blocks {
			if self.live.refs[bb.ID].Has(lr.id) {
				if lp.contains(bb) {
					inside = true
				} else {
					outside = true
				}
			}
		}
		if inside && outside && !self.callsInto(lp, lr.id) {
			best = lp
			break
		}
	}
	if best == nil {
		return false
	}

	/* rename inside the loop */
	written := false
	t := prog.NewVar(v.Name+".split", v.File, v.Size, v.Align, 0)
	for _, bb := range best.blocks {
		for _, p := range bb.Ins {
			hit := false
			prog.Touches(p, func(root ir.VarID, _ *ir.Operand, slot ir.Slot, _ bool) {
				if root == v.ID {
					hit = true
					written = written || slot.Writes()
				}
			})
			if hit {
				ch.markInstr(prog, bb, p)
				renameRoot(prog, p, v.ID, t.ID)
				ch.markInstr(prog, bb, p)
			}
		}
	}

	/* copy in at the end of the preheader, before its branch */
	if in := self.live.liveIn(best.header); in.Has(lr.id) {
		ph := best.preheader
		c := self.copy(t.ID, v.ID)
		if last := ph.Last(); last != nil && last.IsBranch() {
			prog.InsertBefore(ph, last, c)
		} else {
			prog.Append(ph, c)
		}
		ch.markInstr(prog, ph, c)
	}

	/* copy back at the exit if the loop changed it */
	if exit := best.exits[0][1]; written && self.live.useIn[exit.ID].Has(lr.id) {
		c := self.copy(v.ID, t.ID)
		prog.InsertBefore(exit, nil, c)
		ch.markInstr(prog, exit, c)
	}
	self.a.split[v.ID] = true
	self.a.split[t.ID] = true
	self.a.stats.Splits++
	return true
}

// callsInto reports whether the loop calls a subroutine touching k, which would
// still see the original variable.
func (self *_Round) callsInto(lp *_Loop, k int) bool {
	for _, bb := range lp.blocks {
		if t, ok := bb.CallTarget(); ok && self.live.subRefs[t].Has(k) {
			return true
		}
	}
	return false
}

func (self *_Round) copy(dst ir.VarID, src ir.VarID) *ir.Instr {
	prog := self.live.prog
	p := prog.NewInstr(ir.OpMov, prog.SIMD)
	p.NoMask = true
	p.Origin = ir.OriginCopy
	p.Dst = ir.Ref(dst)
	p.Srcs = []ir.Operand{ir.Ref(src)}
	return p
}
