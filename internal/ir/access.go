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

package ir

// Span is the byte range [Lo, Hi) of a root variable touched by an operand.
type Span struct {
	Root VarID
	Lo   int
	Hi   int
}

// Span resolves a direct operand of p to the bytes of its root variable.
// Flag operands without an explicit size cover one bit per channel.
func (self *Program) Span(p *Instr, op Operand, slot Slot) Span {
	v := self.Var(op.Var)
	root, base := self.Root(op.Var)
	lo, size := op.Offset, op.Size

	/* predicates and condition modifiers select the channel bits */
	if size == 0 && (slot == SlotCondMod || slot == SlotPred) {
		lo += p.MaskOffset / 8
		size = (p.ExecSize + 7) / 8
	}

	/* whole variable */
	if size == 0 || lo+size > v.Size {
		size = v.Size - lo
	}
	return Span{
		Root: root,
		Lo:   base + lo,
		Hi:   base + lo + size,
	}
}

// FullMask reports whether p executes on every channel a non-divergent
// block would enable.
func (self *Program) FullMask(bb *Block, p *Instr) bool {
	if p.NoMask || p.Op == OpPseudoKill {
		return true
	} else {
		return !bb.Divergent && p.MaskOffset == 0 && p.ExecSize >= self.SIMD
	}
}

// IsKill reports whether writing op in p overwrites every byte of its root
// variable on every channel, so the previous value is dead.
func (self *Program) IsKill(bb *Block, p *Instr, op Operand, slot Slot) bool {
	if !slot.Writes() || op.Indirect || p.Predicated() {
		return false
	}
	if !self.FullMask(bb, p) {
		return false
	}
	sp := self.Span(p, op, slot)
	return sp.Lo == 0 && sp.Hi >= self.Var(sp.Root).Size
}

// Touches calls fn for every root variable an operand may access. Indirect
// operands read their address variable and access every pointee.
func (self *Program) Touches(p *Instr, fn func(root VarID, op *Operand, slot Slot, pointee bool)) {
	p.Operands(func(op *Operand, slot Slot) {
		root, _ := self.Root(op.Var)
		if !op.Indirect {
			fn(root, op, slot, false)
			return
		}

		/* the address itself is read */
		fn(root, op, SlotSrc, false)
		for _, t := range self.PointsTo[op.Var] {
			r, _ := self.Root(t)
			fn(r, op, slot, true)
		}
	})
}
