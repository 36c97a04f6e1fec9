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
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Block is a basic block. A block that ends with a call has the return site
// as its only successor; the callee is reached through the call payload.
type Block struct {
	ID        int
	Sub       int
	Ins       []*Instr
	Succs     []*Block
	Preds     []*Block
	Divergent bool
}

// Last returns the last instruction of the block, or nil.
func (self *Block) Last() *Instr {
	if len(self.Ins) == 0 {
		return nil
	} else {
		return self.Ins[len(self.Ins)-1]
	}
}

// CallTarget returns the callee index if the block ends with a call.
func (self *Block) CallTarget() (int, bool) {
	if p := self.Last(); p != nil && p.IsCall() {
		return p.Call.Callee, true
	} else {
		return -1, false
	}
}

func (self *Block) Index(p *Instr) int {
	return slices.Index(self.Ins, p)
}

func (self *Block) String() string {
	return fmt.Sprintf("bb_%d", self.ID)
}

// Subroutine is a group of blocks with a single entry and a single exit.
// Subroutine 0 is the kernel.
type Subroutine struct {
	ID        int
	Name      string
	Entry     *Block
	Exit      *Block
	Blocks    []*Block
	StackCall bool
}

// Program owns every variable, block and instruction of one compilation unit.
type Program struct {
	SIMD     int
	Vars     []*Variable
	Blocks   []*Block
	Subs     []*Subroutine
	PointsTo map[VarID][]VarID
	next     InstrID
}

func NewProgram(simd int) *Program {
	return &Program{
		SIMD:     simd,
		PointsTo: make(map[VarID][]VarID),
	}
}

// NewVar creates a fresh root variable.
func (self *Program) NewVar(name string, file RegFile, size int, align Align, flags VarFlags) *Variable {
	v := &Variable{
		ID:     VarID(len(self.Vars)),
		Name:   name,
		File:   file,
		Size:   size,
		Align:  align,
		Flags:  flags,
		Parent: NoVar,
		Loc:    NoLocation,
	}
	self.Vars = append(self.Vars, v)
	return v
}

// NewAlias creates a variable covering size bytes of parent at offset.
func (self *Program) NewAlias(name string, parent VarID, offset int, size int) *Variable {
	p := self.Var(parent)
	if offset < 0 || offset+size > p.Size {
		panic(fmt.Sprintf("ir: alias %s out of bounds of %s", name, p))
	}
	v := self.NewVar(name, p.File, size, AlignAny, 0)
	v.Parent = parent
	v.Offset = offset
	return v
}

func (self *Program) Var(id VarID) *Variable {
	if id < 0 || int(id) >= len(self.Vars) {
		panic(fmt.Sprintf("ir: variable id %d out of range", id))
	} else {
		return self.Vars[id]
	}
}

// Root walks the alias chain and returns the root variable together with the
// byte offset of id inside it.
func (self *Program) Root(id VarID) (VarID, int) {
	off := 0
	for v := self.Var(id); v.IsAlias(); v = self.Var(v.Parent) {
		off += v.Offset
		id = v.Parent
	}
	return id, off
}

// Pointees returns the variables addr may point to.
func (self *Program) Pointees(addr VarID) []VarID {
	return self.PointsTo[addr]
}

func (self *Program) NewSub(name string) *Subroutine {
	s := &Subroutine{
		ID:   len(self.Subs),
		Name: name,
	}
	self.Subs = append(self.Subs, s)
	return s
}

func (self *Program) Kernel() *Subroutine {
	return self.Subs[0]
}

// NewBlock creates an empty block inside the given subroutine. The first block
// of a subroutine becomes its entry.
func (self *Program) NewBlock(sub *Subroutine) *Block {
	bb := &Block{
		ID:  len(self.Blocks),
		Sub: sub.ID,
	}
	if sub.Entry == nil {
		sub.Entry = bb
	}
	sub.Blocks = append(sub.Blocks, bb)
	self.Blocks = append(self.Blocks, bb)
	return bb
}

func (self *Program) Link(from *Block, to *Block) {
	from.Succs = append(from.Succs, to)
	to.Preds = append(to.Preds, from)
}

// NewInstr allocates an instruction with a fresh id. It is not inserted into
// any block.
func (self *Program) NewInstr(op Opcode, execSize int) *Instr {
	self.next++
	return &Instr{
		ID:       self.next,
		Op:       op,
		ExecSize: execSize,
		Dst:      None,
		Pred:     None,
		CondMod:  None,
	}
}

// NumInstrIDs returns an upper bound of every instruction id handed out.
func (self *Program) NumInstrIDs() int {
	return int(self.next) + 1
}

func (self *Program) Append(bb *Block, ins ...*Instr) {
	bb.Ins = append(bb.Ins, ins...)
}

// InsertBefore inserts ins right before at, or at the front when at is nil.
func (self *Program) InsertBefore(bb *Block, at *Instr, ins ...*Instr) {
	i := 0
	if at != nil {
		if i = bb.Index(at); i < 0 {
			panic(fmt.Sprintf("ir: instruction %d is not in %s", at.ID, bb))
		}
	}
	bb.Ins = slices.Insert(bb.Ins, i, ins...)
}

// InsertAfter inserts ins right after at, or at the end when at is nil.
func (self *Program) InsertAfter(bb *Block, at *Instr, ins ...*Instr) {
	i := len(bb.Ins)
	if at != nil {
		if i = bb.Index(at); i < 0 {
			panic(fmt.Sprintf("ir: instruction %d is not in %s", at.ID, bb))
		}
		i++
	}
	bb.Ins = slices.Insert(bb.Ins, i, ins...)
}

func (self *Program) Erase(bb *Block, p *Instr) {
	if i := bb.Index(p); i < 0 {
		panic(fmt.Sprintf("ir: instruction %d is not in %s", p.ID, bb))
	} else {
		bb.Ins = slices.Delete(bb.Ins, i, i+1)
	}
}

// Callers returns every block that calls the given subroutine.
func (self *Program) Callers(sub int) []*Block {
	var ret []*Block
	for _, bb := range self.Blocks {
		if t, ok := bb.CallTarget(); ok && t == sub {
			ret = append(ret, bb)
		}
	}
	return ret
}

// NumInstrs returns the number of instructions in all blocks.
func (self *Program) NumInstrs() int {
	n := 0
	for _, bb := range self.Blocks {
		n += len(bb.Ins)
	}
	return n
}

func (self *Program) String() string {
	var sb strings.Builder
	for _, sub := range self.Subs {
		fmt.Fprintf(&sb, "sub_%d %s:\n", sub.ID, sub.Name)
		for _, bb := range sub.Blocks {
			var succs []string
			for _, s := range bb.Succs {
				succs = append(succs, s.String())
			}
			fmt.Fprintf(&sb, "  %s: -> {%s}\n", bb, strings.Join(succs, ", "))
			for _, p := range bb.Ins {
				fmt.Fprintf(&sb, "    %s\n", p)
			}
		}
	}
	return sb.String()
}

// CloneInstr copies p under a fresh id.
func (self *Program) CloneInstr(p *Instr) *Instr {
	ret := p.Clone()
	self.next++
	ret.ID = self.next
	return ret
}
