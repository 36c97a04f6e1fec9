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
	"math"

	"github.com/cloudwego/rowalloc/internal/ir"
	"github.com/cloudwego/rowalloc/internal/opts"
)

// countRefs rolls the block frequencies up into per-range reference counts,
// walking the program backwards.
func (self *_Round) countRefs() {
	prog := self.live.prog
	for b := len(prog.Blocks) - 1; b >= 0; b-- {
		bb := prog.Blocks[b]
		f := self.loops.Freq(bb)
		for i := len(bb.Ins) - 1; i >= 0; i-- {
			prog.Touches(bb.Ins[i], func(root ir.VarID, _ *ir.Operand, slot ir.Slot, pointee bool) {
				if k, ok := self.live.ids[root]; ok && self.lrs[k] != nil {
					lr := self.lrs[k]
					lr.refs++
					lr.wrefs += f
					lr.read = lr.read || pointee || !slot.Writes()
				}
			})
		}
	}
}

// unspillable reports whether the variable must stay in a register.
func unspillable(v *ir.Variable) bool {
	return v.Fixed() ||
		v.Has(ir.Pseudo) ||
		v.Has(ir.SpillTemp) ||
		v.Has(ir.RetAddr) ||
		v.Has(ir.DoNotSpill) ||
		v.Has(ir.Input) ||
		v.Has(ir.Output)
}

// costOf is w * refs^k / degree^m, where w is the mean block frequency of the
// references under the frequency model and a flat weight otherwise.
func (self *_Round) costOf(lr *_LiveRange) float64 {
	o := self.a.opts
	switch {
	case unspillable(lr.v):
		return math.Inf(1)
	case !lr.read:
		return math.Inf(-1)
	}

	/* reference weight */
	w := o.FlatRefWeight
	if o.CostModel == opts.CostFrequency && lr.refs != 0 {
		w = lr.wrefs / float64(lr.refs)
	}

	/* normalized by the degree */
	deg := lr.degree
	if deg < 1 {
		deg = 1
	}
	cost := w * math.Pow(float64(lr.refs), o.RefExponent) / math.Pow(float64(deg), o.DegreeExponent)
	if self.pointee[lr.id] || lr.v.Has(ir.AddrTaken) {
		cost += o.AddrTakenBoost
	}
	return cost
}

// less orders ranges by cost, then by id.
func less(a *_LiveRange, b *_LiveRange) bool {
	if a.cost != b.cost {
		return a.cost < b.cost
	} else {
		return a.id < b.id
	}
}
