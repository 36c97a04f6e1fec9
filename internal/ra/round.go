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

// _Round is one build, color and rewrite iteration.
type _Round struct {
	a        *_Allocator
	index    int
	failSafe bool
	live     *_Liveness
	g        *_Graph
	loops    *_LoopInfo
	forbids  *_ForbidTable
	calls    *_CallClasses
	lrs      []*_LiveRange
	pointee  []bool
	coops    [][]int
	occupied [ir.NumRegFiles][]uint64
	weakened int
}

func (self *_Allocator) newRound(index int, failSafe bool, ch *_Changes) *_Round {
	ret := &_Round{
		a:        self,
		index:    index,
		failSafe: failSafe,
		live:     self.live,
		forbids:  self.forbids,
	}
	ret.buildGraph(ch)
	ret.loops = newLoopInfo(self.prog, self.opts.LoopIterations)
	ret.buildRanges()
	return ret
}

// buildGraph reuses the graph of the previous round when allocation is
// incremental, rebuilding only the edges of stale variables.
func (self *_Round) buildGraph(ch *_Changes) {
	var dirty *bitvec.Vector
	n := self.live.n()

	/* start over, or drop the stale edges */
	if self.a.opts.Incremental && self.a.graph != nil && ch != nil {
		self.g = self.a.graph
		self.g.grow(n)
		dirty = &self.live.dirty
		self.g.clear(dirty)
	} else {
		self.g = newGraph(n, self.a.opts.DenseLimit)
	}

	/* interference, then the execution mask refinement */
	self.calls = buildInterference(self.live, self.g, dirty)
	if self.a.opts.Augment {
		self.weakened = augment(self.live, self.g, dirty)
	}
	self.g.finalize()
	self.a.graph = self.g
}

func (self *_Round) buildRanges() {
	prog := self.live.prog
	n := self.live.n()
	self.lrs = make([]*_LiveRange, n)
	self.pointee = make([]bool, n)
	self.coops = make([][]int, n)

	/* address-taken variables */
	for _, ts := range prog.PointsTo {
		for _, t := range ts {
			if k, ok := self.live.id(t); ok {
				self.pointee[k] = true
			}
		}
	}

	/* end-of-thread payloads */
	eot := bitvec.New(n)
	for _, bb := range prog.Blocks {
		for _, p := range bb.Ins {
			if p.IsEOT() {
				for _, op := range p.Srcs {
					if k, ok := self.refID(op); ok {
						eot.Set(k)
					}
				}
			}
		}
	}

	/* one range per active root */
	self.live.active.ForEach(func(k int) {
		lr := newLiveRange(self.a.plat, k, self.live.vars[k])
		lr.forbid = self.forbids.get(lr.v.File, self.kindsOf(lr, &eot))
		self.lrs[k] = lr
	})
	for f := range self.occupied {
		self.occupied[f] = make([]uint64, self.a.plat.File(ir.RegFile(f)).Rows)
	}
	for _, lr := range self.lrs {
		if lr != nil && lr.fixed {
			self.occupy(lr)
		}
	}

	/* hints, degrees and costs */
	self.hints()
	self.countRefs()
	for _, lr := range self.lrs {
		if lr == nil || lr.fixed {
			continue
		}
		for _, x := range self.g.adj[lr.id] {
			if m := self.lrs[x]; m != nil {
				lr.degree += self.weight(lr, m)
			}
		}
	}
	for _, lr := range self.lrs {
		if lr != nil {
			lr.cost = self.costOf(lr)
		}
	}
}

func (self *_Round) kindsOf(lr *_LiveRange, eot *bitvec.Vector) _ForbidKind {
	if lr.fixed {
		return 0
	}
	kinds := _ForbidKind(0)
	if lr.v.File == ir.GRF {
		kinds |= ForbidReserved
	}
	if eot.Has(lr.id) {
		kinds |= ForbidEOT
	}
	if self.calls.callerSave.Has(lr.id) {
		kinds |= ForbidCallerSave
	}
	if self.calls.calleeSave.Has(lr.id) {
		kinds |= ForbidCalleeSave
	}
	if self.failSafe {
		kinds |= ForbidFailSafe
	}
	lr.kinds = kinds
	return kinds
}

// refID resolves a direct operand to the dense id of its root.
func (self *_Round) refID(op ir.Operand) (int, bool) {
	if !op.IsVar() || op.Indirect {
		return -1, false
	}
	return self.live.id(op.Var)
}

// wholeRef reports whether op names an entire root variable.
func (self *_Round) wholeRef(op ir.Operand) (int, bool) {
	if !op.IsVar() || op.Indirect || op.Offset != 0 || self.live.prog.Var(op.Var).IsAlias() {
		return -1, false
	}
	if v := self.live.prog.Var(op.Var); op.Size != 0 && op.Size != v.Size {
		return -1, false
	}
	return self.live.id(op.Var)
}

// hints records bank preferences of two-source instructions, copy hints of
// whole-variable moves and the operands a bundle-sensitive variable is read
// together with.
func (self *_Round) hints() {
	for _, bb := range self.live.prog.Blocks {
		for _, p := range bb.Ins {
			var srcs []int
			for _, op := range p.Srcs {
				if k, ok := self.refID(op); ok && self.lrs[k] != nil && self.lrs[k].v.File == ir.GRF {
					srcs = append(srcs, k)
				}
			}

			/* operands of the same instruction in different banks */
			if len(srcs) >= 2 && !p.IsSend() && srcs[0] != srcs[1] {
				if lr := self.lrs[srcs[0]]; lr.bank == ir.BankNone {
					lr.bank = ir.BankEven
				}
				if lr := self.lrs[srcs[1]]; lr.bank == ir.BankNone {
					lr.bank = ir.BankOdd
				}
			}

			/* operands read together */
			for _, k := range srcs {
				if self.lrs[k].v.Has(ir.AvoidBundleConflict) {
					for _, x := range srcs {
						if x != k {
							self.coops[k] = append(self.coops[k], x)
						}
					}
				}
			}

			/* copies */
			if p.Op == ir.OpMov && len(p.Srcs) == 1 && !p.Predicated() {
				d, ok1 := self.wholeRef(p.Dst)
				s, ok2 := self.wholeRef(p.Srcs[0])
				if ok1 && ok2 && d != s && self.lrs[d] != nil && self.lrs[s] != nil {
					ld, ls := self.lrs[d], self.lrs[s]
					if ld.v.File == ls.v.File && ld.v.Size == ls.v.Size {
						if ld.hint < 0 {
							ld.hint = s
						}
						if ls.hint < 0 {
							ls.hint = d
						}
					}
				}
			}
		}
	}
}

// weight is how many units of a a placed b can block.
func (self *_Round) weight(a *_LiveRange, b *_LiveRange) int {
	if a.v.File != ir.GRF {
		return a.need + b.need - 1
	}
	slack := a.shape.align.Slack()
	if s := b.shape.align.Slack(); s > slack {
		slack = s
	}
	return a.need + b.need - 1 + slack
}

// occupy records a placement for the sub-register packing preference.
func (self *_Round) occupy(lr *_LiveRange) {
	f := lr.v.File
	regs := self.a.regs[f]
	rows := self.occupied[f]
	if lr.shape.sub() {
		if lr.loc.Reg >= 0 && lr.loc.Reg < len(rows) {
			rows[lr.loc.Reg] |= regs.words(lr.loc, lr.shape)
		}
		return
	}
	for r := lr.loc.Reg; r < lr.loc.Reg+lr.shape.rows && r < len(rows); r++ {
		if r >= 0 {
			rows[r] = regs.full
		}
	}
}
