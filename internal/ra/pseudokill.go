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
)

// insertPseudoKills marks where block-local ranges start. A variable that is
// only referenced in one block and first written there holds nothing before
// that write, so a no-mask kill right before it ends its range even when the
// write itself is partial or predicated. Existing markers are kept, which
// makes the insertion idempotent.
func insertPseudoKills(prog *ir.Program) int {
	home := make(map[ir.VarID]int)
	first := make(map[ir.VarID]*ir.Instr)
	reads := make(map[ir.VarID]bool)
	skip := make(map[ir.VarID]bool)

	/* pointees escape their block */
	for _, ts := range prog.PointsTo {
		for _, t := range ts {
			r, _ := prog.Root(t)
			skip[r] = true
		}
	}

	/* where each root is referenced, and how it is first touched */
	for _, bb := range prog.Blocks {
		for _, p := range bb.Ins {
			seen := make(map[ir.VarID]bool)
			prog.Touches(p, func(root ir.VarID, op *ir.Operand, slot ir.Slot, pointee bool) {
				if b, ok := home[root]; ok && b != bb.ID {
					skip[root] = true
				}
				home[root] = bb.ID
				if pointee || op.Indirect {
					skip[root] = true
				}
				if _, ok := first[root]; !ok || seen[root] {
					first[root] = p
					seen[root] = true
					reads[root] = reads[root] || !slot.Writes()
				}
			})
		}
	}

	/* insert the markers */
	n := 0
	for _, bb := range prog.Blocks {
		for _, p := range append([]*ir.Instr(nil), bb.Ins...) {
			for _, op := range p.Writes() {
				root, _ := prog.Root(op.Var)
				v := prog.Var(root)
				if skip[root] || reads[root] || first[root] != p || p.Op == ir.OpPseudoKill {
					continue
				}
				if v.Fixed() || v.Has(ir.Input) || v.Has(ir.Output) || v.Has(ir.AddrTaken) {
					continue
				}
				if i := bb.Index(p); i > 0 && killsRoot(prog, bb.Ins[i-1], root) {
					continue
				}
				q := prog.NewInstr(ir.OpPseudoKill, prog.SIMD)
				q.NoMask = true
				q.Origin = ir.OriginPseudoKill
				q.Dst = ir.Ref(root)
				prog.InsertBefore(bb, p, q)
				skip[root] = true
				n++
			}
		}
	}
	return n
}

func killsRoot(prog *ir.Program, p *ir.Instr, root ir.VarID) bool {
	if p.Op != ir.OpPseudoKill || !p.Dst.IsVar() {
		return false
	}
	r, _ := prog.Root(p.Dst.Var)
	return r == root
}
