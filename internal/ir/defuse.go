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

import (
	"github.com/cloudwego/rowalloc/internal/bitvec"
)

// DefUseEdge links a definition to a use it reaches.
type DefUseEdge struct {
	Def InstrID
	Use InstrID
	Var VarID
}

// Pos is the position of an instruction inside a block.
type Pos struct {
	Block *Block
	Index int
}

type _Def struct {
	ins  InstrID
	root VarID
	kill bool
}

// DefUse is the def/use side table of a program. Variables are always root
// variables; edges are computed by reaching definitions over the CFG, with a
// call block flowing into its return site.
type DefUse struct {
	Edges []DefUseEdge
	defs  map[VarID][]InstrID
	uses  map[VarID][]InstrID
	pos   map[InstrID]Pos
}

func (self *DefUse) Defs(v VarID) []InstrID {
	return self.defs[v]
}

func (self *DefUse) Uses(v VarID) []InstrID {
	return self.uses[v]
}

func (self *DefUse) Pos(id InstrID) (Pos, bool) {
	p, ok := self.pos[id]
	return p, ok
}

// Reaching returns the definitions of v that reach the use at id.
func (self *DefUse) Reaching(id InstrID, v VarID) []InstrID {
	var ret []InstrID
	for _, e := range self.Edges {
		if e.Use == id && e.Var == v {
			ret = append(ret, e.Def)
		}
	}
	return ret
}

func appendOnce(s []InstrID, id InstrID) []InstrID {
	if n := len(s); n != 0 && s[n-1] == id {
		return s
	} else {
		return append(s, id)
	}
}

// BuildDefUse computes the def/use side table.
func BuildDefUse(prog *Program) *DefUse {
	var defs []_Def
	ret := &DefUse{
		defs: make(map[VarID][]InstrID),
		uses: make(map[VarID][]InstrID),
		pos:  make(map[InstrID]Pos),
	}

	/* number every definition */
	first := make([]int, len(prog.Blocks)+1)
	for _, bb := range prog.Blocks {
		first[bb.ID] = len(defs)
		for i, p := range bb.Ins {
			ret.pos[p.ID] = Pos{Block: bb, Index: i}
			prog.Touches(p, func(root VarID, op *Operand, slot Slot, pointee bool) {
				if slot.Writes() {
					kill := !pointee && prog.IsKill(bb, p, *op, slot)
					defs = append(defs, _Def{ins: p.ID, root: root, kill: kill})
					ret.defs[root] = appendOnce(ret.defs[root], p.ID)
				} else {
					ret.uses[root] = appendOnce(ret.uses[root], p.ID)
				}
			})
		}
	}

	/* definitions grouped by variable, for kills */
	nd := len(defs)
	first[len(prog.Blocks)] = nd
	byVar := make(map[VarID]*bitvec.Vector)
	for i, d := range defs {
		s := byVar[d.root]
		if s == nil {
			v := bitvec.New(nd)
			s = &v
			byVar[d.root] = s
		}
		s.Set(i)
	}

	/* block transfer functions */
	nb := len(prog.Blocks)
	gen := make([]bitvec.Vector, nb)
	kill := make([]bitvec.Vector, nb)
	in := make([]bitvec.Vector, nb)
	out := make([]bitvec.Vector, nb)
	for _, bb := range prog.Blocks {
		g, k := bitvec.New(nd), bitvec.New(nd)
		for i := first[bb.ID]; i < first[bb.ID+1]; i++ {
			if d := defs[i]; d.kill {
				g.Subtract(byVar[d.root])
				k.Union(byVar[d.root])
			}
			g.Set(i)
		}
		gen[bb.ID], kill[bb.ID] = g, k
		in[bb.ID], out[bb.ID] = bitvec.New(nd), g.Clone()
	}

	/* forward fixed point */
	for changed := true; changed; {
		changed = false
		for _, bb := range prog.Blocks {
			s := &in[bb.ID]
			for _, p := range bb.Preds {
				s.Union(&out[p.ID])
			}
			o := s.Clone()
			o.Subtract(&kill[bb.ID])
			o.Union(&gen[bb.ID])
			if out[bb.ID].Copy(&o) {
				changed = true
			}
		}
	}

	/* link every use to the definitions live at it */
	for _, bb := range prog.Blocks {
		live := in[bb.ID].Clone()
		di := first[bb.ID]
		for _, p := range bb.Ins {
			prog.Touches(p, func(root VarID, op *Operand, slot Slot, pointee bool) {
				if !slot.Writes() && byVar[root] != nil {
					r := live.Clone()
					r.Intersect(byVar[root])
					r.ForEach(func(i int) {
						ret.Edges = append(ret.Edges, DefUseEdge{Def: defs[i].ins, Use: p.ID, Var: root})
					})
				}
			})
			for ; di < nd && defs[di].ins == p.ID; di++ {
				if defs[di].kill {
					live.Subtract(byVar[defs[di].root])
				}
				live.Set(di)
			}
		}
	}
	return ret
}
