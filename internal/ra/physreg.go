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
	"github.com/cloudwego/rowalloc/internal/opts"
	"github.com/cloudwego/rowalloc/internal/platform"
)

// _Shape is what a placement occupies: whole registers, or a run of words
// inside a single register when rows is zero.
type _Shape struct {
	rows  int
	words int
	align ir.Align
}

func (self _Shape) sub() bool {
	return self.rows == 0
}

// wordAlign is the natural alignment of a sub-register run.
func (self _Shape) wordAlign(wpr int) int {
	a := 1
	for a < self.words && a < wpr {
		a <<= 1
	}
	return a
}

// _PhyRegs is the register bitmap of one file: a whole-register free flag and
// a per-register word bitmap. It is reset before each placement, while the
// scan cursor carries over.
type _PhyRegs struct {
	plat     *platform.Platform
	file     ir.RegFile
	fd       platform.FileDesc
	wpr      int
	full     uint64
	free     []bool
	used     []uint64
	cursor   int
	strategy opts.Strategy
}

func newPhyRegs(plat *platform.Platform, file ir.RegFile, strategy opts.Strategy) *_PhyRegs {
	fd := plat.File(file)
	ret := &_PhyRegs{
		plat:     plat,
		file:     file,
		fd:       fd,
		wpr:      fd.WordsPerRow(),
		free:     make([]bool, fd.Rows),
		used:     make([]uint64, fd.Rows),
		strategy: strategy,
	}
	if ret.wpr == 64 {
		ret.full = ^uint64(0)
	} else {
		ret.full = (uint64(1) << uint(ret.wpr)) - 1
	}
	ret.reset()
	return ret
}

func (self *_PhyRegs) reset() {
	for i := range self.used {
		self.used[i] = 0
		self.free[i] = true
	}
}

func (self *_PhyRegs) words(loc ir.Location, sh _Shape) uint64 {
	if !sh.sub() {
		return self.full
	} else {
		return ((uint64(1) << uint(sh.words)) - 1) << uint(loc.Sub)
	}
}

func (self *_PhyRegs) rows(loc ir.Location, sh _Shape) (int, int) {
	if sh.sub() {
		return loc.Reg, loc.Reg + 1
	} else {
		return loc.Reg, loc.Reg + sh.rows
	}
}

func (self *_PhyRegs) set(loc ir.Location, sh _Shape, busy bool) {
	m := self.words(loc, sh)
	lo, hi := self.rows(loc, sh)
	for r := lo; r < hi && r < len(self.used); r++ {
		if r < 0 {
			continue
		}
		if busy {
			self.used[r] |= m
		} else {
			self.used[r] &^= m
		}
		self.free[r] = self.used[r] == 0
	}
}

// markBusy makes a location unavailable without moving the cursor.
func (self *_PhyRegs) markBusy(loc ir.Location, sh _Shape) {
	self.set(loc, sh, true)
}

// forbid marks every word of the class as used.
func (self *_PhyRegs) forbid(f *_Forbidden) {
	f.words.ForEach(func(w int) {
		self.used[w/self.wpr] |= 1 << uint(w%self.wpr)
		self.free[w/self.wpr] = false
	})
}

// allocate marks a location busy and moves the round-robin cursor past it.
func (self *_PhyRegs) allocate(loc ir.Location, sh _Shape) {
	self.set(loc, sh, true)
	if _, hi := self.rows(loc, sh); hi >= self.fd.Rows {
		self.cursor = 0
	} else {
		self.cursor = hi
	}
}

// release marks a location available again.
func (self *_PhyRegs) release(loc ir.Location, sh _Shape) {
	self.set(loc, sh, false)
}

// fits reports whether the location is in range, aligned and free.
func (self *_PhyRegs) fits(loc ir.Location, sh _Shape) bool {
	lo, hi := self.rows(loc, sh)
	if lo < 0 || hi > self.fd.Rows {
		return false
	}
	if !sh.align.Fits(lo) {
		return false
	}
	if sh.sub() {
		a := sh.wordAlign(self.wpr)
		if loc.Sub < 0 || loc.Sub+sh.words > self.wpr || loc.Sub%a != 0 {
			return false
		}
		return self.used[lo]&self.words(loc, sh) == 0
	}
	if loc.Sub != 0 {
		return false
	}
	for r := lo; r < hi; r++ {
		if !self.free[r] {
			return false
		}
	}
	return true
}

func (self *_PhyRegs) scan(lo int, hi int, rows int, fn func(r int) bool) (int, bool) {
	for r := lo; r < hi && r+rows <= self.fd.Rows; r++ {
		if fn(r) {
			return r, true
		}
	}
	return -1, false
}

// findContiguous looks for rows free registers. Rows in the avoided bundles
// and rows of the wrong bank are only taken when nothing else is left.
func (self *_PhyRegs) findContiguous(rows int, align ir.Align, bundles uint64, bank ir.Bank) (int, bool) {
	ok := func(r int, useBundles bool, useBank bool) bool {
		if !align.Fits(r) {
			return false
		}
		if useBank && bank != ir.BankNone && self.plat.Bank(r) != int(bank)-1 {
			return false
		}
		for i := r; i < r+rows; i++ {
			if !self.free[i] {
				return false
			}
			if useBundles && bundles&(1<<uint(self.plat.Bundle(i))) != 0 {
				return false
			}
		}
		return true
	}

	/* relax the hints one at a time */
	for _, pass := range [...][2]bool{{true, true}, {true, false}, {false, true}, {false, false}} {
		if (pass[0] && bundles == 0) || (pass[1] && bank == ir.BankNone) {
			continue
		}
		fn := func(r int) bool { return ok(r, pass[0], pass[1]) }
		start := 0
		if self.strategy == opts.RoundRobin {
			start = self.cursor
		}

		/* forward from the cursor, then wrap around */
		if r, found := self.scan(start, self.fd.Rows, rows, fn); found {
			return r, true
		}
		if r, found := self.scan(0, start, rows, fn); found {
			return r, true
		}
	}
	return -1, false
}

// findSubRegister looks for a run of words inside one register of the
// shape's row alignment. Registers already partially occupied are preferred
// to keep whole registers free.
func (self *_PhyRegs) findSubRegister(sh _Shape, occupied []uint64) (ir.Location, bool) {
	a := sh.wordAlign(self.wpr)
	try := func(r int) (ir.Location, bool) {
		if !sh.align.Fits(r) {
			return ir.NoLocation, false
		}
		for w := 0; w+sh.words <= self.wpr; w += a {
			if loc := (ir.Location{Reg: r, Sub: w}); self.used[r]&self.words(loc, sh) == 0 {
				return loc, true
			}
		}
		return ir.NoLocation, false
	}

	/* partially occupied registers first */
	for r := 0; r < self.fd.Rows; r++ {
		if o := occupied[r]; o != 0 && o != self.full {
			if loc, ok := try(r); ok {
				return loc, true
			}
		}
	}
	for r := 0; r < self.fd.Rows; r++ {
		if loc, ok := try(r); ok {
			return loc, true
		}
	}
	return ir.NoLocation, false
}
