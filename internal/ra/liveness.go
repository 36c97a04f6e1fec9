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

	"github.com/cloudwego/rowalloc/internal/bitvec"
	"github.com/cloudwego/rowalloc/internal/ir"
)

// _Changes records what a round of program edits touched. A nil set means
// everything is stale.
type _Changes struct {
	vars   map[ir.VarID]struct{}
	blocks map[int]struct{}
}

func newChanges() *_Changes {
	return &_Changes{
		vars:   make(map[ir.VarID]struct{}),
		blocks: make(map[int]struct{}),
	}
}

func (self *_Changes) markVar(prog *ir.Program, v ir.VarID) {
	root, _ := prog.Root(v)
	self.vars[root] = struct{}{}
}

// markInstr marks bb and every root variable p may access.
func (self *_Changes) markInstr(prog *ir.Program, bb *ir.Block, p *ir.Instr) {
	self.blocks[bb.ID] = struct{}{}
	prog.Touches(p, func(root ir.VarID, _ *ir.Operand, _ ir.Slot, _ bool) {
		self.vars[root] = struct{}{}
	})
}

func (self *_Changes) empty() bool {
	return len(self.vars) == 0 && len(self.blocks) == 0
}

// _Liveness holds the per-block dataflow sets over dense variable ids. The
// same instance is refreshed between rounds when allocation is incremental:
// ids stay stable, only stale blocks are rescanned and only stale bits are
// recomputed.
type _Liveness struct {
	prog   *ir.Program
	files  [ir.NumRegFiles]bool
	cg     *_CallGraph
	ids    map[ir.VarID]int
	vars   []*ir.Variable
	active bitvec.Vector
	dirty  bitvec.Vector
	input  bitvec.Vector
	output bitvec.Vector

	/* per block */
	gen    []bitvec.Vector
	kill   []bitvec.Vector
	defs   []bitvec.Vector
	refs   []bitvec.Vector
	useIn  []bitvec.Vector
	useOut []bitvec.Vector
	defIn  []bitvec.Vector
	defOut []bitvec.Vector

	/* per subroutine */
	subRefs  []bitvec.Vector
	arg      []bitvec.Vector
	retval   []bitvec.Vector
	mustKill []bitvec.Vector
}

func newLiveness(prog *ir.Program, files ...ir.RegFile) *_Liveness {
	ret := &_Liveness{
		prog: prog,
		cg:   newCallGraph(prog),
		ids:  make(map[ir.VarID]int),
	}
	if len(files) == 0 {
		files = []ir.RegFile{ir.GRF, ir.Address, ir.Flag, ir.Scalar}
	}
	for _, f := range files {
		ret.files[f] = true
	}
	return ret
}

func (self *_Liveness) n() int {
	return len(self.vars)
}

// id returns the dense id of the root of v.
func (self *_Liveness) id(v ir.VarID) (int, bool) {
	root, _ := self.prog.Root(v)
	i, ok := self.ids[root]
	return i, ok
}

func (self *_Liveness) isActive(i int) bool {
	return self.active.Has(i)
}

// liveIn returns the variables both used later and defined on some path
// reaching the entry of bb.
func (self *_Liveness) liveIn(bb *ir.Block) bitvec.Vector {
	ret := self.useIn[bb.ID].Clone()
	ret.Intersect(&self.defIn[bb.ID])
	return ret
}

func (self *_Liveness) liveOut(bb *ir.Block) bitvec.Vector {
	ret := self.useOut[bb.ID].Clone()
	ret.Intersect(&self.defOut[bb.ID])
	return ret
}

// liveAt reports whether the variable with dense id i holds a value needed at
// or after index idx of bb.
func (self *_Liveness) liveAt(bb *ir.Block, idx int, i int) bool {
	for j := idx; j < len(bb.Ins); j++ {
		p := bb.Ins[j]
		read, kill := false, false
		self.prog.Touches(p, func(root ir.VarID, op *ir.Operand, slot ir.Slot, pointee bool) {
			if k, ok := self.ids[root]; !ok || k != i {
				return
			}
			if !slot.Writes() || pointee {
				read = true
			} else if self.prog.IsKill(bb, p, *op, slot) {
				kill = true
			}
		})
		if read {
			return true
		} else if kill {
			return false
		}
	}
	return self.useOut[bb.ID].Has(i)
}

func (self *_Liveness) scan() map[ir.VarID]struct{} {
	ret := make(map[ir.VarID]struct{})
	for _, bb := range self.prog.Blocks {
		for _, p := range bb.Ins {
			self.prog.Touches(p, func(root ir.VarID, _ *ir.Operand, _ ir.Slot, _ bool) {
				if self.files[self.prog.Var(root).File] {
					ret[root] = struct{}{}
				}
			})
		}
	}
	return ret
}

// assign gives every referenced root a dense id and returns the ids that
// are new.
func (self *_Liveness) assign() []int {
	refs := self.scan()
	roots := make([]int, 0, len(refs))
	for v := range refs {
		roots = append(roots, int(v))
	}
	sort.Ints(roots)

	/* new roots go to the end */
	var fresh []int
	for _, v := range roots {
		if _, ok := self.ids[ir.VarID(v)]; !ok {
			fresh = append(fresh, len(self.vars))
			self.ids[ir.VarID(v)] = len(self.vars)
			self.vars = append(self.vars, self.prog.Var(ir.VarID(v)))
		}
	}

	/* refresh the active set and the boundary sets */
	n := len(self.vars)
	self.active = bitvec.New(n)
	self.input = bitvec.New(n)
	self.output = bitvec.New(n)
	for _, v := range roots {
		i := self.ids[ir.VarID(v)]
		self.active.Set(i)
		if self.vars[i].Has(ir.Input) {
			self.input.Set(i)
		}
		if self.vars[i].Has(ir.Output) {
			self.output.Set(i)
		}
	}
	return fresh
}

func resizeAll(vs []bitvec.Vector, count int, n int) []bitvec.Vector {
	for len(vs) < count {
		vs = append(vs, bitvec.New(n))
	}
	for i := range vs {
		vs[i].Resize(n)
	}
	return vs
}

// compute refreshes every set. With a nil change set everything is
// recomputed from scratch.
func (self *_Liveness) compute(ch *_Changes) {
	fresh := self.assign()
	n, nb, ns := self.n(), len(self.prog.Blocks), len(self.prog.Subs)

	/* make room for new ids */
	self.gen = resizeAll(self.gen, nb, n)
	self.kill = resizeAll(self.kill, nb, n)
	self.defs = resizeAll(self.defs, nb, n)
	self.refs = resizeAll(self.refs, nb, n)
	self.useIn = resizeAll(self.useIn, nb, n)
	self.useOut = resizeAll(self.useOut, nb, n)
	self.defIn = resizeAll(self.defIn, nb, n)
	self.defOut = resizeAll(self.defOut, nb, n)

	/* stale variables */
	self.dirty = bitvec.New(n)
	if ch == nil {
		self.dirty.Fill()
	} else {
		for v := range ch.vars {
			if i, ok := self.ids[v]; ok {
				self.dirty.Set(i)
			}
		}
		for _, i := range fresh {
			self.dirty.Set(i)
		}
	}

	/* rescan the stale blocks */
	for _, bb := range self.prog.Blocks {
		stale := ch == nil
		if !stale {
			_, stale = ch.blocks[bb.ID]
		}
		if stale {
			self.local(bb)
		}
	}

	/* forget the stale bits of the solution */
	for b := 0; b < nb; b++ {
		for _, s := range [...]*bitvec.Vector{&self.useIn[b], &self.useOut[b], &self.defIn[b], &self.defOut[b]} {
			s.Subtract(&self.dirty)
		}
	}

	/* interprocedural summaries, always from scratch */
	self.subRefs = make([]bitvec.Vector, ns)
	self.arg = make([]bitvec.Vector, ns)
	self.retval = make([]bitvec.Vector, ns)
	self.mustKill = make([]bitvec.Vector, ns)
	for s := 0; s < ns; s++ {
		self.subRefs[s] = bitvec.New(n)
		self.arg[s] = bitvec.New(n)
		self.retval[s] = bitvec.New(n)
		self.mustKill[s] = bitvec.New(n)
	}
	self.computeRefs()
	self.computeMustKill()
	self.computeArgs()

	/* global fixed points */
	self.solveUse()
	self.solveDef()

	/* return values */
	for _, sub := range self.prog.Subs[1:] {
		r := &self.retval[sub.ID]
		r.Copy(&self.useOut[sub.Exit.ID])
		r.Subtract(&self.useIn[sub.Entry.ID])
	}
}

// local computes the transfer sets of bb with a backward scan.
func (self *_Liveness) local(bb *ir.Block) {
	gen, kill, defs, refs := &self.gen[bb.ID], &self.kill[bb.ID], &self.defs[bb.ID], &self.refs[bb.ID]
	gen.Reset()
	kill.Reset()
	defs.Reset()
	refs.Reset()

	for i := len(bb.Ins) - 1; i >= 0; i-- {
		p := bb.Ins[i]

		/* writes first */
		self.prog.Touches(p, func(root ir.VarID, op *ir.Operand, slot ir.Slot, pointee bool) {
			if k, ok := self.ids[root]; ok && slot.Writes() {
				refs.Set(k)
				defs.Set(k)
				if pointee {
					gen.Set(k)
				} else if self.prog.IsKill(bb, p, *op, slot) {
					gen.Clear(k)
					kill.Set(k)
				}
			}
		})

		/* then reads */
		self.prog.Touches(p, func(root ir.VarID, _ *ir.Operand, slot ir.Slot, _ bool) {
			if k, ok := self.ids[root]; ok && !slot.Writes() {
				refs.Set(k)
				gen.Set(k)
			}
		})
	}
}

func (self *_Liveness) computeRefs() {
	for _, bb := range self.prog.Blocks {
		self.subRefs[bb.Sub].Union(&self.refs[bb.ID])
	}
	for changed := true; changed; {
		changed = false
		for _, s := range self.cg.order {
			for _, t := range self.cg.Callees(s) {
				if self.subRefs[s].Union(&self.subRefs[t]) {
					changed = true
				}
			}
		}
	}
}

// computeMustKill finds, for every subroutine, the variables overwritten on
// every path from its entry to its exit. Callee summaries start empty and
// only grow.
func (self *_Liveness) computeMustKill() {
	for changed := true; changed; {
		changed = false
		for _, s := range self.cg.order {
			if s == 0 {
				continue
			}
			mk := self.mustKillOf(self.prog.Subs[s])
			if !mk.Equal(&self.mustKill[s]) {
				self.mustKill[s] = mk
				changed = true
			}
		}
	}
}

func (self *_Liveness) mustKillOf(sub *ir.Subroutine) bitvec.Vector {
	n := self.n()
	in := make(map[int]*bitvec.Vector, len(sub.Blocks))
	out := make(map[int]*bitvec.Vector, len(sub.Blocks))

	/* everything but the entry starts from the universe */
	for _, bb := range sub.Blocks {
		vi, vo := bitvec.New(n), bitvec.New(n)
		if bb != sub.Entry {
			vi.Fill()
		}
		vo.Fill()
		in[bb.ID], out[bb.ID] = &vi, &vo
	}

	/* forward intersection */
	for changed := true; changed; {
		changed = false
		for _, bb := range sub.Blocks {
			s := in[bb.ID]
			if bb != sub.Entry {
				first := true
				for _, p := range bb.Preds {
					if po, ok := out[p.ID]; ok {
						if first {
							s.Copy(po)
							first = false
						} else {
							s.Intersect(po)
						}
					}
				}
			}
			o := s.Clone()
			o.Union(&self.kill[bb.ID])
			if t, ok := bb.CallTarget(); ok {
				o.Union(&self.mustKill[t])
			}
			if out[bb.ID].Copy(&o) {
				changed = true
			}
		}
	}
	return out[sub.Exit.ID].Clone()
}

// computeArgs finds the variables each subroutine may read before writing,
// by solving its body with nothing live at the exit.
func (self *_Liveness) computeArgs() {
	for changed := true; changed; {
		changed = false
		for _, s := range self.cg.order {
			if s == 0 {
				continue
			}
			arg := self.entryUse(self.prog.Subs[s])
			if !arg.Equal(&self.arg[s]) {
				self.arg[s] = arg
				changed = true
			}
		}
	}
}

func (self *_Liveness) entryUse(sub *ir.Subroutine) bitvec.Vector {
	n := self.n()
	in := make(map[int]*bitvec.Vector, len(sub.Blocks))
	for _, bb := range sub.Blocks {
		v := bitvec.New(n)
		in[bb.ID] = &v
	}
	for changed := true; changed; {
		changed = false
		for i := len(sub.Blocks) - 1; i >= 0; i-- {
			bb := sub.Blocks[i]
			out := bitvec.New(n)
			for _, s := range bb.Succs {
				if si, ok := in[s.ID]; ok {
					out.Union(si)
				}
			}
			self.callOut(bb, &out)
			out.Subtract(&self.kill[bb.ID])
			out.Union(&self.gen[bb.ID])
			if in[bb.ID].Union(&out) {
				changed = true
			}
		}
	}
	return in[sub.Entry.ID].Clone()
}

// callOut applies the call effect to the union of the successors of a call
// block: out(C) = arg(T) | (in(R) - mustKill(T)).
func (self *_Liveness) callOut(bb *ir.Block, out *bitvec.Vector) {
	if t, ok := bb.CallTarget(); ok {
		out.Subtract(&self.mustKill[t])
		out.Union(&self.arg[t])
	}
}

// exitUse is what the callers of sub need from it on return, restricted to
// what sub may touch.
func (self *_Liveness) exitUse(sub *ir.Subroutine, out *bitvec.Vector) {
	for _, c := range self.cg.Callers(sub.ID) {
		for _, r := range c.Succs {
			s := self.useIn[r.ID].Clone()
			s.Intersect(&self.subRefs[sub.ID])
			out.Union(&s)
		}
	}
}

func (self *_Liveness) solveUse() {
	blocks := self.prog.Blocks
	out := bitvec.New(self.n())
	for changed := true; changed; {
		changed = false
		for i := len(blocks) - 1; i >= 0; i-- {
			bb := blocks[i]
			out.Reset()
			for _, s := range bb.Succs {
				out.Union(&self.useIn[s.ID])
			}
			self.callOut(bb, &out)

			/* subroutine exits and kernel exits */
			if sub := self.prog.Subs[bb.Sub]; sub.ID != 0 && bb == sub.Exit {
				self.exitUse(sub, &out)
			} else if sub.ID == 0 && len(bb.Succs) == 0 {
				out.Union(&self.output)
			}
			if self.useOut[bb.ID].Union(&out) {
				changed = true
			}

			/* in = gen | (out - kill) */
			out.Subtract(&self.kill[bb.ID])
			out.Union(&self.gen[bb.ID])
			if self.useIn[bb.ID].Union(&out) {
				changed = true
			}
		}
	}
}

func (self *_Liveness) solveDef() {
	kernel := self.prog.Kernel()
	in := bitvec.New(self.n())
	for changed := true; changed; {
		changed = false
		for _, bb := range self.prog.Blocks {
			in.Reset()
			for _, p := range bb.Preds {
				in.Union(&self.defOut[p.ID])
				if t, ok := p.CallTarget(); ok {
					in.Union(&self.defOut[self.prog.Subs[t].Exit.ID])
				}
			}

			/* entries receive the inputs or what the callers defined */
			if bb == kernel.Entry {
				in.Union(&self.input)
			} else if sub := self.prog.Subs[bb.Sub]; bb == sub.Entry {
				for _, c := range self.cg.Callers(sub.ID) {
					in.Union(&self.defOut[c.ID])
				}
			}
			if self.defIn[bb.ID].Union(&in) {
				changed = true
			}
			in.Union(&self.defs[bb.ID])
			if self.defOut[bb.ID].Union(&in) {
				changed = true
			}
		}
	}
}
