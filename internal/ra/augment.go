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
	"github.com/oleiade/lane"
)

// _MaskClass describes how the definitions of a variable use the SIMD
// channel mask.
type _MaskClass uint8

const (
	MaskUnknown _MaskClass = iota
	MaskDefault
	MaskChannel
	MaskNonDefault
	MaskLiveThrough
)

var _MaskClassNames = [...]string{
	MaskUnknown:     "unknown",
	MaskDefault:     "default",
	MaskChannel:     "channel",
	MaskNonDefault:  "non-default",
	MaskLiveThrough: "live-through",
}

func (self _MaskClass) String() string {
	return _MaskClassNames[self]
}

type _Interval struct {
	id    int
	start int
	end   int
}

// _Augment refines the graph with execution masks: two GRF variables whose
// definitions touch disjoint channel sets never hold useful data in the same
// channel, so their full edge becomes a weak edge at offset zero.
type _Augment struct {
	prog  *ir.Program
	live  *_Liveness
	g     *_Graph
	dirty *bitvec.Vector
	class []_MaskClass
	mask  []uint64
}

func augment(live *_Liveness, g *_Graph, dirty *bitvec.Vector) int {
	self := &_Augment{
		prog:  live.prog,
		live:  live,
		g:     g,
		dirty: dirty,
		class: make([]_MaskClass, live.n()),
		mask:  make([]uint64, live.n()),
	}
	self.classify()
	return self.sweep(self.intervals())
}

func (self *_Augment) merge(k int, cls _MaskClass, mask uint64) {
	switch cur := self.class[k]; {
	case cur == MaskUnknown:
		self.class[k], self.mask[k] = cls, mask
	case cur != cls || self.mask[k] != mask:
		self.class[k] = MaskNonDefault
	}
}

func (self *_Augment) classify() {
	simd := self.prog.SIMD
	for _, bb := range self.prog.Blocks {
		for _, p := range bb.Ins {
			if p.Op == ir.OpPseudoKill {
				continue
			}
			self.prog.Touches(p, func(root ir.VarID, op *ir.Operand, slot ir.Slot, pointee bool) {
				k, ok := self.live.ids[root]
				if !ok || !slot.Writes() || self.live.vars[k].File != ir.GRF {
					return
				}
				v := self.live.vars[k]
				switch {
				case pointee || p.IsSend() || p.Op == ir.OpDpas || p.NoMask || op.Indirect:
					self.class[k] = MaskNonDefault
				case op.Var != root || op.Offset != 0 || (op.Size != 0 && op.Size != v.Size):
					self.class[k] = MaskNonDefault
				case p.MaskOffset == 0 && p.ExecSize >= simd && !bb.Divergent:
					self.merge(k, MaskDefault, p.ChannelMask())
				default:
					self.merge(k, MaskChannel, p.ChannelMask())
				}
			})
		}
	}

	/* values coming from outside */
	args := self.live.input.Clone()
	for _, sub := range self.prog.Subs[1:] {
		args.Union(&self.live.arg[sub.ID])
	}
	args.ForEach(func(k int) { self.class[k] = MaskLiveThrough })

	/* variables visible beyond the kernel or through pointers */
	for k, v := range self.live.vars {
		if v.Has(ir.Output) || v.Has(ir.AddrTaken) {
			self.class[k] = MaskNonDefault
		}
	}
	for _, ts := range self.prog.PointsTo {
		for _, t := range ts {
			if k, ok := self.live.id(t); ok {
				self.class[k] = MaskNonDefault
			}
		}
	}
}

// intervals builds one lexical interval per candidate and block it is live
// in or referenced by.
func (self *_Augment) intervals() []_Interval {
	var ret []_Interval
	pos := 0
	for _, bb := range self.prog.Blocks {
		start, end := pos, pos+len(bb.Ins)
		first := make(map[int]int)
		last := make(map[int]int)

		/* references inside the block */
		for i, p := range bb.Ins {
			self.prog.Touches(p, func(root ir.VarID, _ *ir.Operand, _ ir.Slot, _ bool) {
				if k, ok := self.live.ids[root]; ok && self.class[k] == MaskChannel {
					if _, seen := first[k]; !seen {
						first[k] = start + i
					}
					last[k] = start + i + 1
				}
			})
		}

		/* ranges crossing the block boundaries */
		in, out := self.live.liveIn(bb), self.live.liveOut(bb)
		for k := range self.class {
			if self.class[k] != MaskChannel {
				continue
			}
			lo, hasLo := first[k]
			hi, hasHi := last[k]
			if in.Has(k) {
				lo, hasLo = start, true
			}
			if out.Has(k) {
				hi, hasHi = end+1, true
			}
			if hasLo && hasHi {
				ret = append(ret, _Interval{id: k, start: lo, end: hi})
			}
		}
		pos = end + 1
	}

	/* sweep order */
	sort.Slice(ret, func(i int, j int) bool {
		if ret[i].start != ret[j].start {
			return ret[i].start < ret[j].start
		} else {
			return ret[i].id < ret[j].id
		}
	})
	return ret
}

// sweep visits overlapping intervals with a priority queue keyed by the end
// position, and weakens the edges between disjoint-mask candidates.
func (self *_Augment) sweep(ivs []_Interval) int {
	n := 0
	pq := lane.NewPQueue(lane.MINPQ)
	active := make(map[*_Interval]struct{})
	for i := range ivs {
		iv := &ivs[i]

		/* expire what ended before this interval starts */
		for !pq.Empty() {
			head, end := pq.Head()
			if end > iv.start {
				break
			}
			pq.Pop()
			delete(active, head.(*_Interval))
		}

		/* weaken the edges with overlapping compatible intervals */
		for other := range active {
			if self.compatible(iv.id, other.id) {
				self.g.remove(iv.id, other.id)
				self.g.addWeak(iv.id, other.id, 0)
				n++
			}
		}
		active[iv] = struct{}{}
		pq.Push(iv, iv.end)
	}
	return n
}

func (self *_Augment) compatible(a int, b int) bool {
	if a == b || !self.g.has(a, b) || self.g.isForced(a, b) {
		return false
	}
	if self.dirty != nil && !self.dirty.Has(a) && !self.dirty.Has(b) {
		return false
	}
	return self.mask[a]&self.mask[b] == 0 && self.live.vars[a].Size == self.live.vars[b].Size
}
