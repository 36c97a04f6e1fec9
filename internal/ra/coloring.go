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
	"github.com/oleiade/lane"
)

// color simplifies the graph onto a stack and pops it back, placing each
// range in turn. Ranges that find no room are marked spilled and returned.
func (self *_Round) color() []*_LiveRange {
	var nodes []*_LiveRange
	for _, lr := range self.lrs {
		if lr != nil && !lr.fixed {
			nodes = append(nodes, lr)
		}
	}

	/* cheapest first for optimistic pushes */
	order := make([]*_LiveRange, len(nodes))
	copy(order, nodes)
	sort.Slice(order, func(i int, j int) bool { return less(order[i], order[j]) })

	/* seed the worklist with the unconstrained ranges */
	wl := lane.NewQueue()
	for _, lr := range nodes {
		if lr.degree+lr.need <= lr.colors() {
			lr.unconstrained = true
			wl.Enqueue(lr)
		}
	}

	/* simplify */
	st := lane.NewStack()
	left, next := len(nodes), 0
	for left > 0 {
		for !wl.Empty() {
			if lr := wl.Dequeue().(*_LiveRange); !lr.removed {
				self.remove(lr, wl, st)
				left--
			}
		}

		/* nothing trivially colorable left, push the cheapest range anyway */
		if left > 0 {
			for order[next].removed {
				next++
			}
			self.remove(order[next], wl, st)
			left--
		}
	}

	/* select */
	var spilled []*_LiveRange
	for !st.Empty() {
		if lr := st.Pop().(*_LiveRange); !self.place(lr) {
			spilled = append(spilled, lr)
		}
	}
	sort.Slice(spilled, func(i int, j int) bool { return spilled[i].id < spilled[j].id })
	return spilled
}

// remove takes lr out of the graph and relaxes its neighbors, queueing the
// ones that become unconstrained.
func (self *_Round) remove(lr *_LiveRange, wl *lane.Queue, st *lane.Stack) {
	lr.removed = true
	st.Push(lr)
	for _, x := range self.g.adj[lr.id] {
		m := self.lrs[x]
		if m == nil || m.fixed || m.removed {
			continue
		}
		m.degree -= self.weight(m, lr)
		if !m.unconstrained && m.degree+m.need <= m.colors() {
			m.unconstrained = true
			wl.Enqueue(m)
		}
	}
}

// shift returns where lr lands when it sits off words after m.
func (self *_Round) shift(m *_LiveRange, lr *_LiveRange, off int) (ir.Location, bool) {
	wpr := self.a.regs[lr.v.File].wpr
	abs := m.loc.Reg*wpr + m.loc.Sub + off
	if abs < 0 {
		return ir.NoLocation, false
	}
	if lr.shape.sub() {
		return ir.Location{Reg: abs / wpr, Sub: abs % wpr}, true
	} else if abs%wpr == 0 {
		return ir.Location{Reg: abs / wpr}, true
	} else {
		return ir.NoLocation, false
	}
}

// bundles returns the bundles taken by the placed operands lr is read with.
func (self *_Round) bundles(lr *_LiveRange) uint64 {
	var ret uint64
	if !lr.v.Has(ir.AvoidBundleConflict) {
		return 0
	}
	for _, x := range self.coops[lr.id] {
		if m := self.lrs[x]; m != nil && m.placed() {
			rows := m.shape.rows
			if m.shape.sub() {
				rows = 1
			}
			for r := m.loc.Reg; r < m.loc.Reg+rows; r++ {
				ret |= 1 << uint(self.a.plat.Bundle(r))
			}
		}
	}
	return ret
}

// place picks a location for lr: the location of a weak neighbor, then its
// copy partner, then the first free run the bitmap finds.
func (self *_Round) place(lr *_LiveRange) bool {
	regs := self.a.regs[lr.v.File]
	regs.reset()
	regs.forbid(lr.forbid)
	for _, x := range self.g.adj[lr.id] {
		if m := self.lrs[x]; m != nil && m.placed() {
			regs.markBusy(m.loc, m.shape)
		}
	}

	/* share the storage of a weak neighbor */
	for _, x := range self.g.wadj[lr.id] {
		if m := self.lrs[x]; m != nil && m.placed() {
			off, _ := self.g.weakOffset(m.id, lr.id)
			if loc, ok := self.shift(m, lr, off); ok && regs.fits(loc, lr.shape) && self.aligned(lr, loc) {
				self.assign(lr, loc)
				return true
			}
		}
	}

	/* weak neighbors may not overlap anywhere else */
	for _, x := range self.g.wadj[lr.id] {
		if m := self.lrs[x]; m != nil && m.placed() {
			regs.markBusy(m.loc, m.shape)
		}
	}

	/* coalesce with the copy partner */
	if lr.hint >= 0 {
		if m := self.lrs[lr.hint]; m != nil && m.placed() && regs.fits(m.loc, lr.shape) {
			self.assign(lr, m.loc)
			return true
		}
	}

	/* search the bitmap */
	loc, ok := ir.NoLocation, false
	if lr.shape.sub() {
		loc, ok = regs.findSubRegister(lr.shape, self.occupied[lr.v.File])
	} else if r, found := regs.findContiguous(lr.shape.rows, lr.shape.align, self.bundles(lr), lr.bank); found {
		loc, ok = ir.Location{Reg: r}, true
	}
	if !ok {
		lr.spilled = true
		return false
	}
	regs.allocate(loc, lr.shape)
	self.assign(lr, loc)
	return true
}

// aligned reports whether loc overlaps the placed weak neighbors of lr only
// at the offsets their edges allow.
func (self *_Round) aligned(lr *_LiveRange, loc ir.Location) bool {
	lo, hi := unitsOf(self.a.plat, lr.v, loc)
	for _, x := range self.g.wadj[lr.id] {
		if m := self.lrs[x]; m != nil && m.placed() {
			mlo, mhi := unitsOf(self.a.plat, m.v, m.loc)
			off, _ := self.g.weakOffset(m.id, lr.id)
			if lo < mhi && mlo < hi && lo-mlo != off {
				return false
			}
		}
	}
	return true
}

func (self *_Round) assign(lr *_LiveRange, loc ir.Location) {
	lr.loc = loc
	lr.spilled = false
	self.occupy(lr)
}
