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
	"fmt"

	"github.com/cloudwego/rowalloc/internal/ir"
)

// _Remat recomputes cheap values right before their uses instead of keeping
// them in memory.
type _Remat struct {
	r       *_Round
	prog    *ir.Program
	du      *ir.DefUse
	ch      *_Changes
	ins     map[ir.InstrID]*ir.Instr
	blk     map[ir.InstrID]*ir.Block
	spilled map[ir.VarID]bool
	touched map[ir.VarID]bool
}

func newRemat(r *_Round, ch *_Changes, spilled []*_LiveRange) *_Remat {
	prog := r.live.prog
	ret := &_Remat{
		r:       r,
		prog:    prog,
		du:      ir.BuildDefUse(prog),
		ch:      ch,
		ins:     make(map[ir.InstrID]*ir.Instr),
		blk:     make(map[ir.InstrID]*ir.Block),
		spilled: make(map[ir.VarID]bool),
		touched: make(map[ir.VarID]bool),
	}
	for _, bb := range prog.Blocks {
		for _, p := range bb.Ins {
			ret.ins[p.ID] = p
			ret.blk[p.ID] = bb
		}
	}
	for _, lr := range spilled {
		ret.spilled[lr.v.ID] = true
	}
	return ret
}

// defs returns the definitions of v, range markers excluded.
func (self *_Remat) defs(v ir.VarID) []ir.InstrID {
	var ret []ir.InstrID
	for _, id := range self.du.Defs(v) {
		if self.ins[id].Op != ir.OpPseudoKill {
			ret = append(ret, id)
		}
	}
	return ret
}

// invariant reports whether s holds the same value everywhere it is read:
// an input that is never written, or a single full definition outside loops.
func (self *_Remat) invariant(s ir.VarID) bool {
	if _, ok := self.r.live.id(s); !ok || self.spilled[s] || self.prog.Var(s).IsAlias() {
		return false
	}
	ds := self.defs(s)
	switch len(ds) {
	case 0:
		return self.prog.Var(s).Has(ir.Input)
	case 1:
		d, bb := self.ins[ds[0]], self.blk[ds[0]]
		return self.r.loops.depth[bb.ID] == 0 && d.Dst.IsVar() && self.prog.IsKill(bb, d, d.Dst, ir.SlotDst)
	default:
		return false
	}
}

// cheap reports whether d is a plain ALU definition of v from invariant
// sources.
func (self *_Remat) cheap(bb *ir.Block, d *ir.Instr, v ir.VarID) bool {
	switch d.Op {
	case ir.OpMov, ir.OpAdd, ir.OpMul, ir.OpMad, ir.OpAnd, ir.OpOr, ir.OpShl, ir.OpMath:
		break
	default:
		return false
	}
	if d.Predicated() || d.CondMod.IsVar() || !d.Dst.IsVar() || d.Dst.Indirect {
		return false
	}
	if r, _ := self.prog.Root(d.Dst.Var); r != v || !self.prog.IsKill(bb, d, d.Dst, ir.SlotDst) {
		return false
	}
	for _, op := range d.Srcs {
		if !op.IsVar() {
			continue
		}
		s, _ := self.prog.Root(op.Var)
		if op.Indirect || s == v || !self.invariant(s) {
			return false
		}
	}
	return true
}

// try rematerializes lr if its only definition can be replayed at every use.
func (self *_Remat) try(lr *_LiveRange) bool {
	v := lr.v
	if unspillable(v) || v.Has(ir.AddrTaken) || self.r.pointee[lr.id] || self.touched[v.ID] {
		return false
	}

	/* a single cheap definition */
	ds := self.defs(v.ID)
	if len(ds) != 1 {
		return false
	}
	d, db := self.ins[ds[0]], self.blk[ds[0]]
	if !self.cheap(db, d, v.ID) {
		return false
	}

	/* that dominates every use, with its sources still live there */
	uses := self.du.Uses(v.ID)
	if len(uses) == 0 {
		return false
	}
	for _, u := range uses {
		q, ub := self.ins[u], self.blk[u]
		if ub == db {
			if db.Index(d) >= ub.Index(q) {
				return false
			}
		} else if !self.r.loops.Dominates(db, ub) {
			return false
		}
		for _, op := range d.Srcs {
			if op.IsVar() {
				if k, ok := self.r.live.id(op.Var); !ok || !self.r.live.liveAt(ub, ub.Index(q), k) {
					return false
				}
			}
		}
	}

	/* replay the definition before each use */
	for i, u := range uses {
		q, ub := self.ins[u], self.blk[u]
		t := self.prog.NewVar(fmt.Sprintf("%s.r%d", v.Name, i), v.File, v.Size, v.Align, ir.SpillTemp)
		c := self.prog.CloneInstr(d)
		c.Dst = ir.Ref(t.ID)
		c.NoMask = true
		c.Origin = ir.OriginRemat
		self.ch.markInstr(self.prog, ub, q)
		self.prog.InsertBefore(ub, q, c)
		renameRoot(self.prog, q, v.ID, t.ID)
		self.ch.markInstr(self.prog, ub, c)
		self.ch.markInstr(self.prog, ub, q)
	}

	/* the original definition and its range markers go away */
	self.ch.markInstr(self.prog, db, d)
	self.prog.Erase(db, d)
	for _, bb := range self.prog.Blocks {
		for _, p := range append([]*ir.Instr(nil), bb.Ins...) {
			if p.Op != ir.OpPseudoKill || !p.Dst.IsVar() {
				continue
			}
			if r, _ := self.prog.Root(p.Dst.Var); r == v.ID {
				self.ch.markInstr(self.prog, bb, p)
				self.prog.Erase(bb, p)
			}
		}
	}

	/* the sources now have uses the side table does not know */
	for _, op := range d.Srcs {
		if op.IsVar() {
			s, _ := self.prog.Root(op.Var)
			self.touched[s] = true
		}
	}
	self.touched[v.ID] = true
	self.r.a.stats.Remats++
	return true
}
