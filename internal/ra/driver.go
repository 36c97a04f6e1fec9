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

// Package ra assigns physical registers to the variables of a program by
// iterated graph coloring, rewriting it with spill, fill, split and
// rematerialization code until everything fits.
package ra

import (
	"fmt"

	"github.com/cloudwego/rowalloc/internal/ir"
	"github.com/cloudwego/rowalloc/internal/opts"
	"github.com/cloudwego/rowalloc/internal/platform"
	"go.uber.org/zap"
)

// Stats summarizes an allocation.
type Stats struct {
	Rounds       int
	SpilledVars  int
	Spills       int
	Fills        int
	Remats       int
	Splits       int
	PseudoKills  int
	ScratchBytes int
	FailSafe     bool
}

// Result is the outcome of a successful allocation. Every variable that is
// still referenced has a location; spilled variables live in a scratch slot
// or, for the small register files, in a GRF home variable.
type Result struct {
	Assignment map[ir.VarID]ir.Location
	Slots      map[ir.VarID]Slot
	Homes      map[ir.VarID]ir.VarID
	Stats      Stats
}

type _Allocator struct {
	prog    *ir.Program
	opts    *opts.Options
	plat    *platform.Platform
	log     *zap.Logger
	live    *_Liveness
	graph   *_Graph
	forbids *_ForbidTable
	regs    [ir.NumRegFiles]*_PhyRegs
	slots   *_SlotAllocator
	slotOf  map[ir.VarID]Slot
	homes   map[ir.VarID]ir.VarID
	split   map[ir.VarID]bool
	stats   Stats
	temps   int
}

func newAllocator(prog *ir.Program, o *opts.Options) *_Allocator {
	ret := &_Allocator{
		prog:   prog,
		opts:   o,
		plat:   o.Platform,
		log:    o.Logger,
		slotOf: make(map[ir.VarID]Slot),
		homes:  make(map[ir.VarID]ir.VarID),
		split:  make(map[ir.VarID]bool),
	}
	if ret.plat == nil {
		ret.plat = platform.Default()
	}
	if ret.log == nil {
		ret.log = zap.NewNop()
	}
	ret.forbids = newForbidTable(ret.plat)
	ret.slots = newSlotAllocator(ret.plat.GRF.RowBytes)
	for f := ir.RegFile(0); f < ir.NumRegFiles; f++ {
		ret.regs[f] = newPhyRegs(ret.plat, f, o.Strategy)
	}
	return ret
}

// Allocate assigns registers to every variable of prog, rewriting it in
// place. Broken invariants are reported as an InternalError.
func Allocate(prog *ir.Program, o *opts.Options) (ret *Result, err error) {
	defer func() {
		if v := recover(); v != nil {
			ret, err = nil, InternalError{Msg: fmt.Sprint(v)}
		}
	}()
	if err = check(prog); err != nil {
		return nil, err
	}
	return newAllocator(prog, o).run()
}

// check rejects programs the allocator cannot even look at.
func check(prog *ir.Program) error {
	if prog.SIMD <= 0 || prog.SIMD > 64 {
		return InternalError{Msg: fmt.Sprintf("invalid dispatch width %d", prog.SIMD)}
	}
	if len(prog.Subs) == 0 {
		return InternalError{Msg: "program has no kernel"}
	}
	for _, sub := range prog.Subs {
		if sub.Entry == nil || sub.Exit == nil {
			return InternalError{Msg: fmt.Sprintf("subroutine %s has no entry or exit", sub.Name)}
		}
	}
	return nil
}

// precolored reports whether every referenced variable already has a
// location.
func (self *_Allocator) precolored() bool {
	live := newLiveness(self.prog)
	for v := range live.scan() {
		if !self.prog.Var(v).Fixed() {
			return false
		}
	}
	return true
}

func (self *_Allocator) run() (*Result, error) {
	if self.precolored() {
		return self.result(), nil
	}

	/* range markers first, they only ever help */
	self.stats.PseudoKills = insertPseudoKills(self.prog)
	self.live = newLiveness(self.prog)
	self.live.compute(nil)

	/* build, color and rewrite until everything fits */
	var ch *_Changes
	for i := 0; ; i++ {
		failSafe := i >= self.opts.MaxRounds
		if i > 0 {
			if self.opts.Incremental {
				self.live.compute(ch)
			} else {
				self.live = newLiveness(self.prog)
				self.live.compute(nil)
			}
		}

		/* one round */
		if failSafe {
			self.reserveFailSafe()
		}
		r := self.newRound(i, failSafe, ch)
		spilled := r.color()
		self.stats.Rounds = i + 1
		self.trace(r, spilled)
		if len(spilled) == 0 {
			return self.commit(r)
		}

		/* the fail-safe round is the last one whatever happens */
		ch = newChanges()
		if failSafe {
			if err := self.failSafe(r, spilled, ch); err != nil {
				return nil, err
			}
			self.stats.FailSafe = true
			return self.commit(r)
		}
		if err := self.rewrite(r, spilled, ch); err != nil {
			return nil, err
		}
	}
}

// rewrite tries rematerialization, then splitting, then plain spilling on
// each range that did not get a register. Ranges that must stay in registers
// are left for the next round.
func (self *_Allocator) rewrite(r *_Round, spilled []*_LiveRange, ch *_Changes) error {
	var rm *_Remat
	var todo []*_LiveRange
	if self.opts.Remat {
		rm = newRemat(r, ch, spilled)
	}
	for _, lr := range spilled {
		switch {
		case unspillable(lr.v) || r.pointee[lr.id]:
			continue
		case rm != nil && rm.try(lr):
			continue
		case self.opts.Split && r.trySplit(lr, ch):
			continue
		default:
			todo = append(todo, lr)
		}
	}
	if len(todo) != 0 {
		if err := newSpiller(r, ch).spill(todo); err != nil {
			return err
		}
	}
	return self.checkRatio(r)
}

// failSafe spills everything that failed with temporaries pinned in the
// reserved window, which always colors.
func (self *_Allocator) failSafe(r *_Round, spilled []*_LiveRange, ch *_Changes) error {
	for _, lr := range spilled {
		if unspillable(lr.v) && !lr.v.Has(ir.SpillTemp) {
			return CapacityError{Round: r.index, Var: lr.v.Name, Reason: "no register left for a variable that cannot be spilled"}
		}
	}
	if err := newSpiller(r, ch).spill(spilled); err != nil {
		return err
	}
	return self.checkRatio(r)
}

// checkRatio aborts when spill code dominates the weighted instruction count.
func (self *_Allocator) checkRatio(r *_Round) error {
	total, spill := 0.0, 0.0
	for _, bb := range self.prog.Blocks {
		f := r.loops.Freq(bb)
		for _, p := range bb.Ins {
			total += f
			if p.Origin == ir.OriginSpill || p.Origin == ir.OriginFill {
				spill += f
			}
		}
	}
	if total == 0 {
		return nil
	}
	if ratio := spill / total; self.opts.SpillAbort(ratio) {
		return CapacityError{
			Round:  r.index,
			Reason: fmt.Sprintf("spill code ratio %.2f exceeds the threshold %.2f", ratio, self.opts.SpillThreshold),
		}
	}
	return nil
}

// derive returns the location of a byte offset inside a placed variable.
func derive(plat *platform.Platform, root *ir.Variable, off int) ir.Location {
	fd := plat.File(root.File)
	wpr := fd.WordsPerRow()
	abs := root.Loc.Reg*wpr + root.Loc.Sub + off/fd.WordBytes
	return ir.Location{Reg: abs / wpr, Sub: abs % wpr}
}

// commit writes the locations back to the variables.
func (self *_Allocator) commit(r *_Round) (*Result, error) {
	for _, lr := range r.lrs {
		if lr != nil && !lr.fixed && lr.placed() {
			lr.v.Loc = lr.loc
		}
	}

	/* aliases follow their roots */
	for _, v := range self.prog.Vars {
		if v.IsAlias() {
			root, off := self.prog.Root(v.ID)
			if rv := self.prog.Var(root); rv.Fixed() {
				v.Loc = derive(self.plat, rv, off)
			}
		}
	}

	/* optional check of the final program */
	if self.opts.Verify {
		if err := Verify(self.prog, self.plat); err != nil {
			return nil, InternalError{Msg: "verification failed", Err: err}
		}
	}
	ret := self.result()
	self.dump("assignment", ret.Assignment)
	return ret, nil
}

func (self *_Allocator) result() *Result {
	ret := &Result{
		Assignment: make(map[ir.VarID]ir.Location),
		Slots:      make(map[ir.VarID]Slot, len(self.slotOf)),
		Homes:      make(map[ir.VarID]ir.VarID, len(self.homes)),
		Stats:      self.stats,
	}
	for _, v := range self.prog.Vars {
		if v.Fixed() {
			ret.Assignment[v.ID] = v.Loc
		}
	}
	for v, s := range self.slotOf {
		ret.Slots[v] = s
	}
	for v, h := range self.homes {
		ret.Homes[v] = h
	}
	ret.Stats.ScratchBytes = self.slots.size()
	return ret
}
