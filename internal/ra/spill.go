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
	"sort"

	"github.com/cloudwego/rowalloc/internal/bitvec"
	"github.com/cloudwego/rowalloc/internal/ir"
	"github.com/cloudwego/rowalloc/internal/opts"
)

type _Chunk struct {
	off  int
	rows int
	wide bool
}

type _Access struct {
	read  bool
	write bool
	kill  bool
}

// _Spiller rewrites every reference of the spilled variables to go through
// a fresh temporary per instruction, filled before and stored after.
type _Spiller struct {
	r    *_Round
	a    *_Allocator
	prog *ir.Program
	ch   *_Changes
	set  map[ir.VarID]*_LiveRange
	pins [ir.NumRegFiles]*_PhyRegs
	held []_Pin
}

// _Pin is a fail-safe temporary holding its registers for one instruction.
type _Pin struct {
	file  ir.RegFile
	loc   ir.Location
	shape _Shape
}

func newSpiller(r *_Round, ch *_Changes) *_Spiller {
	ret := &_Spiller{
		r:    r,
		a:    r.a,
		prog: r.live.prog,
		ch:   ch,
		set:  make(map[ir.VarID]*_LiveRange),
	}

	/* temporaries of the fail-safe round live in the reserved window */
	if r.failSafe {
		for f := ir.RegFile(0); f < ir.NumRegFiles; f++ {
			ret.pins[f] = newPhyRegs(r.a.plat, f, opts.FirstFit)
			ret.pins[f].forbid(ret.outside(f))
		}
		ret.pins[ir.GRF].forbid(r.forbids.get(ir.GRF, ForbidReserved))
		for _, v := range pinned(ret.prog) {
			ret.pins[v.File].markBusy(v.Loc, shapeOf(r.a.plat, v))
		}
	}
	return ret
}

// outside covers everything but the fail-safe window of a file.
func (self *_Spiller) outside(f ir.RegFile) *_Forbidden {
	plat := self.a.plat
	fd := plat.File(f)
	wpr := fd.WordsPerRow()
	ret := &_Forbidden{file: f, words: bitvec.New(fd.Rows * wpr)}
	ret.words.Fill()
	rs := self.r.forbids.reserve
	if f == ir.GRF {
		for w := rs.grf.Lo * wpr; w < rs.grf.Hi*wpr; w++ {
			ret.words.Clear(w)
		}
	} else {
		n := fd.Rows * wpr
		for w := n - rs.words[f]; w < n; w++ {
			ret.words.Clear(w)
		}
	}
	return ret
}

func (self *_Spiller) capacity(v *ir.Variable, format string, args ...interface{}) error {
	return CapacityError{
		Round:  self.r.index,
		Var:    v.Name,
		Reason: fmt.Sprintf(format, args...),
	}
}

// spill gives every range a home and rewrites the program.
func (self *_Spiller) spill(lrs []*_LiveRange) error {
	rb := self.a.plat.GRF.RowBytes
	for _, lr := range lrs {
		v := lr.v
		if self.r.pointee[lr.id] {
			return self.capacity(v, "address-taken variable is accessed indirectly and cannot be spilled")
		}
		if v.File != ir.GRF && self.r.failSafe && v.Size > rb {
			return self.capacity(v, "does not fit in a staging row")
		}

		/* scratch memory, or a GRF home for the small register files */
		if v.File == ir.GRF || self.r.failSafe {
			self.a.slotOf[v.ID] = self.a.slots.alloc(v.Rows(rb))
		} else {
			h := self.prog.NewVar(v.Name+".home", ir.GRF, v.Size, ir.AlignAny, 0)
			self.a.homes[v.ID] = h.ID
		}
		self.set[v.ID] = lr
		self.ch.markVar(self.prog, v.ID)
		self.a.stats.SpilledVars++
	}

	/* rewrite block by block */
	for _, bb := range self.prog.Blocks {
		ins := append([]*ir.Instr(nil), bb.Ins...)
		for _, p := range ins {
			if err := self.rewrite(bb, p); err != nil {
				return err
			}
		}
	}

	/* the scratch space is bounded */
	if n := self.a.slots.size(); n > self.a.plat.ScratchLimit {
		return CapacityError{
			Round:  self.r.index,
			Reason: fmt.Sprintf("scratch space of %d bytes exceeds the limit of %d", n, self.a.plat.ScratchLimit),
		}
	}
	return nil
}

func (self *_Spiller) accesses(bb *ir.Block, p *ir.Instr) map[ir.VarID]*_Access {
	ret := make(map[ir.VarID]*_Access)
	self.prog.Touches(p, func(root ir.VarID, op *ir.Operand, slot ir.Slot, pointee bool) {
		if _, ok := self.set[root]; !ok {
			return
		}
		u := ret[root]
		if u == nil {
			u = new(_Access)
			ret[root] = u
		}
		if !slot.Writes() || pointee {
			u.read = true
		} else {
			u.write = true
			u.kill = u.kill || self.prog.IsKill(bb, p, *op, slot)
		}
	})
	return ret
}

func (self *_Spiller) rewrite(bb *ir.Block, p *ir.Instr) error {
	us := self.accesses(bb, p)
	if len(us) == 0 {
		return nil
	}

	/* the range markers of a spilled variable are meaningless */
	self.ch.markInstr(self.prog, bb, p)
	if p.Op == ir.OpPseudoKill {
		self.prog.Erase(bb, p)
		return nil
	}

	/* one temporary per variable */
	roots := make([]int, 0, len(us))
	for v := range us {
		roots = append(roots, int(v))
	}
	sort.Ints(roots)
	if self.r.failSafe {
		self.unpin()
	}
	for _, v := range roots {
		root, u := ir.VarID(v), us[ir.VarID(v)]
		lr := self.set[root]
		t, err := self.temp(lr)
		if err != nil {
			return err
		}
		dead := u.write && self.dead(bb, p, root, lr.id)
		self.rename(p, root, t.ID)
		if u.read || (u.write && !u.kill) {
			if err = self.fill(bb, p, lr, t); err != nil {
				return err
			}
		}
		if u.write && !dead {
			if err = self.store(bb, p, lr, t); err != nil {
				return err
			}
		}
	}
	self.ch.markInstr(self.prog, bb, p)
	return nil
}

// temp creates the temporary standing for lr in one instruction.
func (self *_Spiller) temp(lr *_LiveRange) (*ir.Variable, error) {
	v := lr.v
	self.a.temps++
	t := self.prog.NewVar(fmt.Sprintf("%s.t%d", v.Name, self.a.temps), v.File, v.Size, v.Align, ir.SpillTemp)
	if self.r.failSafe {
		if err := self.pin(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// pin places a fail-safe temporary in the reserved window.
func (self *_Spiller) pin(t *ir.Variable) error {
	regs := self.pins[t.File]
	sh := shapeOf(self.a.plat, t)
	loc, ok := ir.NoLocation, false
	if sh.sub() {
		loc, ok = regs.findSubRegister(sh, regs.used)
	} else if r, found := regs.findContiguous(sh.rows, sh.align, 0, ir.BankNone); found {
		loc, ok = ir.Location{Reg: r}, true
	}
	if !ok {
		return self.capacity(t, "fail-safe registers exhausted")
	}
	regs.markBusy(loc, sh)
	self.held = append(self.held, _Pin{file: t.File, loc: loc, shape: sh})
	t.Loc = loc
	return nil
}

// unpin frees the registers held by the temporaries of the previous
// instruction.
func (self *_Spiller) unpin() {
	for _, p := range self.held {
		self.pins[p.file].release(p.loc, p.shape)
	}
	self.held = self.held[:0]
}

func (self *_Spiller) rename(p *ir.Instr, root ir.VarID, t ir.VarID) {
	renameRoot(self.prog, p, root, t)
}

// renameRoot points every reference of root in p at t, keeping the byte
// offsets.
func renameRoot(prog *ir.Program, p *ir.Instr, root ir.VarID, t ir.VarID) {
	p.Operands(func(op *ir.Operand, _ ir.Slot) {
		r, base := prog.Root(op.Var)
		if r != root {
			return
		}
		if op.Indirect {
			prog.PointsTo[t] = prog.PointsTo[op.Var]
		} else if v := prog.Var(op.Var); v.IsAlias() && op.Size == 0 {
			op.Size = v.Size
		}
		op.Var = t
		op.Offset += base
	})
}

// dead reports whether the value p writes to root is never read again: the
// next reference in the block fully overwrites it, or there is none and the
// variable is dead on exit.
func (self *_Spiller) dead(bb *ir.Block, p *ir.Instr, root ir.VarID, id int) bool {
	for j := bb.Index(p) + 1; j < len(bb.Ins); j++ {
		q := bb.Ins[j]
		read, kill := false, false
		self.prog.Touches(q, func(r ir.VarID, op *ir.Operand, slot ir.Slot, pointee bool) {
			if r != root {
				return
			}
			if !slot.Writes() || pointee {
				read = true
			} else if self.prog.IsKill(bb, q, *op, slot) {
				kill = true
			}
		})
		if read {
			return false
		} else if kill {
			return true
		}
	}
	return !self.r.live.useOut[bb.ID].Has(id)
}

// chunks splits rows into messages. Block messages of up to the platform
// limit are used in uniform control flow, single rows otherwise.
func (self *_Spiller) chunks(bb *ir.Block, rows int) []_Chunk {
	var ret []_Chunk
	wide := self.a.plat.BlockMessages && !bb.Divergent
	max := 1
	if wide {
		max = self.a.plat.MaxSpillMsgRows
	}
	for off := 0; off < rows; {
		n := max
		for n > rows-off {
			n >>= 1
		}
		ret = append(ret, _Chunk{off: off, rows: n, wide: wide})
		off += n
	}
	return ret
}

func (self *_Spiller) scratch(origin ir.Origin, slot Slot, c _Chunk) *ir.Instr {
	rb := self.a.plat.GRF.RowBytes
	q := self.prog.NewInstr(ir.OpSend, self.prog.SIMD)
	q.NoMask = true
	q.Origin = origin
	q.Send = &ir.SendInfo{
		Scratch: &ir.ScratchAccess{
			Store:  origin == ir.OriginSpill,
			Offset: slot.Offset + c.off*rb,
			Rows:   c.rows,
			Wide:   c.wide,
		},
	}
	return q
}

func (self *_Spiller) mov(origin ir.Origin, dst ir.Operand, src ir.Operand) *ir.Instr {
	q := self.prog.NewInstr(ir.OpMov, self.prog.SIMD)
	q.NoMask = true
	q.Origin = origin
	q.Dst = dst
	q.Srcs = []ir.Operand{src}
	return q
}

func (self *_Spiller) pseudoKill(t ir.VarID) *ir.Instr {
	q := self.prog.NewInstr(ir.OpPseudoKill, self.prog.SIMD)
	q.NoMask = true
	q.Origin = ir.OriginPseudoKill
	q.Dst = ir.Ref(t)
	return q
}

// stage pins a GRF row used to move a small-file variable to memory.
func (self *_Spiller) stage() (*ir.Variable, error) {
	self.a.temps++
	s := self.prog.NewVar(fmt.Sprintf("stage.t%d", self.a.temps), ir.GRF, self.a.plat.GRF.RowBytes, ir.AlignAny, ir.SpillTemp)
	if err := self.pin(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (self *_Spiller) fill(bb *ir.Block, p *ir.Instr, lr *_LiveRange, t *ir.Variable) error {
	var seq []*ir.Instr
	v := lr.v
	rb := self.a.plat.GRF.RowBytes

	/* small files go through their GRF home, or a staging row */
	if v.File != ir.GRF {
		if h, ok := self.a.homes[v.ID]; ok {
			seq = append(seq, self.mov(ir.OriginFill, ir.Ref(t.ID), ir.Ref(h)))
		} else {
			s, err := self.stage()
			if err != nil {
				return err
			}
			for _, c := range self.chunks(bb, 1) {
				q := self.scratch(ir.OriginFill, self.a.slotOf[v.ID], c)
				q.Dst = ir.Ref(s.ID)
				seq = append(seq, q)
			}
			seq = append(seq, self.mov(ir.OriginFill, ir.Ref(t.ID), ir.Sub(s.ID, 0, v.Size)))
		}
		self.prog.InsertBefore(bb, p, seq...)
		self.a.stats.Fills++
		return nil
	}

	/* a fill split into several messages does not kill on its own */
	cs := self.chunks(bb, v.Rows(rb))
	if len(cs) > 1 {
		seq = append(seq, self.pseudoKill(t.ID))
	}
	for _, c := range cs {
		q := self.scratch(ir.OriginFill, self.a.slotOf[v.ID], c)
		q.Dst = ir.Sub(t.ID, c.off*rb, c.rows*rb)
		seq = append(seq, q)
	}
	self.prog.InsertBefore(bb, p, seq...)
	self.a.stats.Fills += len(cs)
	return nil
}

func (self *_Spiller) store(bb *ir.Block, p *ir.Instr, lr *_LiveRange, t *ir.Variable) error {
	var seq []*ir.Instr
	v := lr.v
	rb := self.a.plat.GRF.RowBytes

	/* small files go through their GRF home, or a staging row */
	if v.File != ir.GRF {
		if h, ok := self.a.homes[v.ID]; ok {
			seq = append(seq, self.mov(ir.OriginSpill, ir.Ref(h), ir.Ref(t.ID)))
		} else {
			s, err := self.stage()
			if err != nil {
				return err
			}
			seq = append(seq, self.mov(ir.OriginSpill, ir.Sub(s.ID, 0, v.Size), ir.Ref(t.ID)))
			for _, c := range self.chunks(bb, 1) {
				q := self.scratch(ir.OriginSpill, self.a.slotOf[v.ID], c)
				q.Srcs = []ir.Operand{ir.Ref(s.ID)}
				seq = append(seq, q)
			}
		}
		self.prog.InsertAfter(bb, p, seq...)
		self.a.stats.Spills++
		return nil
	}

	/* one store per message */
	cs := self.chunks(bb, v.Rows(rb))
	for _, c := range cs {
		q := self.scratch(ir.OriginSpill, self.a.slotOf[v.ID], c)
		q.Srcs = []ir.Operand{ir.Sub(t.ID, c.off*rb, c.rows*rb)}
		seq = append(seq, q)
	}
	self.prog.InsertAfter(bb, p, seq...)
	self.a.stats.Spills += len(cs)
	return nil
}
