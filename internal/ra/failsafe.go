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
	"github.com/cloudwego/rowalloc/internal/platform"
	"go.uber.org/zap"
)

// _Reserve is the fail-safe window: GRF rows right below the end-of-thread
// rows, and the top words of each of the other files.
type _Reserve struct {
	grf   platform.Window
	words [ir.NumRegFiles]int
}

func defaultReserve(plat *platform.Platform) _Reserve {
	ret := _Reserve{grf: plat.FailSafeWindow()}
	for f := range ret.words {
		if ir.RegFile(f) != ir.GRF {
			ret.words[f] = plat.FailSafeWords
		}
	}
	return ret
}

// _Demand is what the temporaries of one instruction take in the window.
type _Demand struct {
	rows  int
	words [ir.NumRegFiles]int
}

func (self *_Demand) max(d _Demand) {
	if d.rows > self.rows {
		self.rows = d.rows
	}
	for f, w := range d.words {
		if w > self.words[f] {
			self.words[f] = w
		}
	}
}

func pow2(n int) int {
	a := 1
	for a < n {
		a <<= 1
	}
	return a
}

// demandOf adds up the temporaries p needs when every unplaced variable it
// touches is spilled. GRF temporaries get their alignment slack; the other
// files also need a GRF staging row for the fill and one for the store.
func demandOf(prog *ir.Program, plat *platform.Platform, p *ir.Instr) _Demand {
	var ret _Demand
	seen := make(map[ir.VarID]bool)
	prog.Touches(p, func(root ir.VarID, _ *ir.Operand, _ ir.Slot, pointee bool) {
		v := prog.Var(root)
		if pointee || seen[root] || v.Fixed() {
			return
		}
		seen[root] = true
		if v.File == ir.GRF {
			ret.rows += v.Rows(plat.GRF.RowBytes) + v.Align.Slack()
			return
		}
		ret.rows += 2
		if sh := shapeOf(plat, v); sh.sub() {
			ret.words[v.File] += pow2(sh.words)
		} else {
			ret.words[v.File] += sh.rows * plat.File(v.File).WordsPerRow()
		}
	})
	return ret
}

// pinned returns the variables whose location is given up front. Spill
// temporaries are excluded, they only hold registers for one instruction.
func pinned(prog *ir.Program) []*ir.Variable {
	var ret []*ir.Variable
	for _, v := range prog.Vars {
		if v.Fixed() && !v.IsAlias() && !v.Has(ir.SpillTemp) {
			ret = append(ret, v)
		}
	}
	return ret
}

// reserveFailSafe widens the window until the most demanding instruction of
// the program fits, skipping reserved and pre-assigned rows. A window that
// cannot grow any further is kept as large as possible.
func (self *_Allocator) reserveFailSafe() {
	var need _Demand
	for _, bb := range self.prog.Blocks {
		for _, p := range bb.Ins {
			need.max(demandOf(self.prog, self.plat, p))
		}
	}

	/* rows the window cannot hand out */
	rs := defaultReserve(self.plat)
	busy := make([]bool, self.plat.GRF.Rows)
	for _, r := range self.plat.Reserved {
		busy[r] = true
	}
	for _, v := range pinned(self.prog) {
		if v.File == ir.GRF {
			for r := v.Loc.Reg; r < v.Loc.Reg+v.Rows(self.plat.GRF.RowBytes) && r < len(busy); r++ {
				busy[r] = true
			}
		}
	}

	/* grow the GRF window downwards */
	free := 0
	for r := rs.grf.Lo; r < rs.grf.Hi; r++ {
		if !busy[r] {
			free++
		}
	}
	for free < need.rows && rs.grf.Lo > 1 {
		if rs.grf.Lo--; !busy[rs.grf.Lo] {
			free++
		}
	}

	/* the other files keep at least one word outside the window */
	for f := range rs.words {
		if ir.RegFile(f) == ir.GRF {
			continue
		}
		fd := self.plat.File(ir.RegFile(f))
		wpr := fd.WordsPerRow()
		w := (need.words[f] + wpr - 1) / wpr * wpr
		if n := fd.Rows*wpr - 1; w > n {
			w = n
		}
		if w > rs.words[f] {
			rs.words[f] = w
		}
	}

	/* every class is rebuilt around the new window */
	self.forbids = newForbidTable(self.plat)
	self.forbids.reserve = rs
	self.log.Debug("fail-safe window",
		zap.Int("lo", rs.grf.Lo),
		zap.Int("hi", rs.grf.Hi),
		zap.Int("rows", need.rows),
	)
}
