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
)

type Opcode uint8

const (
	OpNop Opcode = iota
	OpMov
	OpAdd
	OpMul
	OpMad
	OpCmp
	OpSel
	OpAnd
	OpOr
	OpShl
	OpMath
	OpSend
	OpDpas
	OpCall
	OpRet
	OpJmp
	OpBr
	OpPseudoKill
	OpIntrinsic
)

var _OpcodeNames = [...]string{
	OpNop:        "nop",
	OpMov:        "mov",
	OpAdd:        "add",
	OpMul:        "mul",
	OpMad:        "mad",
	OpCmp:        "cmp",
	OpSel:        "sel",
	OpAnd:        "and",
	OpOr:         "or",
	OpShl:        "shl",
	OpMath:       "math",
	OpSend:       "send",
	OpDpas:       "dpas",
	OpCall:       "call",
	OpRet:        "ret",
	OpJmp:        "jmp",
	OpBr:         "br",
	OpPseudoKill: "pseudo_kill",
	OpIntrinsic:  "intrinsic",
}

func (self Opcode) String() string {
	if int(self) < len(_OpcodeNames) {
		return _OpcodeNames[self]
	} else {
		return fmt.Sprintf("op(%d)", self)
	}
}

// Kind is the instruction family, the tag of the Instr variant.
type Kind uint8

const (
	KindMath Kind = iota
	KindControl
	KindSend
	KindIntrinsic
	KindDpas
)

func (self Opcode) Kind() Kind {
	switch self {
	case OpSend:
		return KindSend
	case OpDpas:
		return KindDpas
	case OpCall, OpRet, OpJmp, OpBr:
		return KindControl
	case OpPseudoKill, OpIntrinsic, OpNop:
		return KindIntrinsic
	default:
		return KindMath
	}
}

// Origin tags instructions inserted by register allocation.
type Origin uint8

const (
	OriginProgram Origin = iota
	OriginSpill
	OriginFill
	OriginCopy
	OriginRemat
	OriginPseudoKill
)

var _OriginNames = [...]string{
	OriginProgram:    "",
	OriginSpill:      "spill",
	OriginFill:       "fill",
	OriginCopy:       "copy",
	OriginRemat:      "remat",
	OriginPseudoKill: "pseudo_kill",
}

func (self Origin) String() string {
	return _OriginNames[self]
}

// Operand references a byte range of a variable, or an immediate when Var is
// NoVar. An indirect operand names an address variable; the bytes it touches
// belong to the variables the address may point to.
type Operand struct {
	Var      VarID
	Offset   int
	Size     int
	Indirect bool
	Imm      int64
}

var None = Operand{Var: NoVar}

func Imm(v int64) Operand {
	return Operand{Var: NoVar, Imm: v}
}

func Ref(v VarID) Operand {
	return Operand{Var: v}
}

func Sub(v VarID, offset int, size int) Operand {
	return Operand{Var: v, Offset: offset, Size: size}
}

func Ind(addr VarID) Operand {
	return Operand{Var: addr, Indirect: true}
}

func (self Operand) IsVar() bool {
	return self.Var != NoVar
}

func (self Operand) String() string {
	switch {
	case !self.IsVar():
		return fmt.Sprintf("#%d", self.Imm)
	case self.Indirect:
		return fmt.Sprintf("[v%d]", self.Var)
	case self.Size != 0:
		return fmt.Sprintf("v%d[%d:%d]", self.Var, self.Offset, self.Offset+self.Size)
	case self.Offset != 0:
		return fmt.Sprintf("v%d[%d:]", self.Var, self.Offset)
	default:
		return fmt.Sprintf("v%d", self.Var)
	}
}

// ScratchAccess describes a spill or fill message to scratch memory.
type ScratchAccess struct {
	Store  bool
	Offset int
	Rows   int
	Wide   bool
}

type SendInfo struct {
	EOT     bool
	Scratch *ScratchAccess
}

type CallInfo struct {
	Callee int
}

type DpasInfo struct {
	Depth  int
	Repeat int
}

type InstrID int

// Instr is one instruction. The fields every instruction has are hoisted here;
// the kind-specific ones live in the Send, Call and Dpas payloads.
type Instr struct {
	ID         InstrID
	Op         Opcode
	ExecSize   int
	MaskOffset int
	NoMask     bool
	Dst        Operand
	Srcs       []Operand
	Pred       Operand
	CondMod    Operand
	Origin     Origin
	Send       *SendInfo
	Call       *CallInfo
	Dpas       *DpasInfo
}

func (self *Instr) Kind() Kind {
	return self.Op.Kind()
}

func (self *Instr) IsSend() bool {
	return self.Op == OpSend
}

func (self *Instr) IsCall() bool {
	return self.Op == OpCall
}

func (self *Instr) IsReturn() bool {
	return self.Op == OpRet
}

func (self *Instr) IsBranch() bool {
	return self.Op.Kind() == KindControl
}

func (self *Instr) IsEOT() bool {
	return self.Send != nil && self.Send.EOT
}

// Predicated reports whether the instruction only executes on the channels
// selected by a flag.
func (self *Instr) Predicated() bool {
	return self.Pred.IsVar()
}

// ChannelMask returns the SIMD channels the instruction executes on.
func (self *Instr) ChannelMask() uint64 {
	if self.NoMask || self.ExecSize >= 64 {
		return ^uint64(0)
	} else {
		return ((uint64(1) << uint(self.ExecSize)) - 1) << uint(self.MaskOffset)
	}
}

// Slot identifies which operand field a reference comes from.
type Slot uint8

const (
	SlotDst Slot = iota
	SlotCondMod
	SlotSrc
	SlotPred
)

// Writes reports whether a reference through this slot writes the variable.
func (self Slot) Writes() bool {
	return self == SlotDst || self == SlotCondMod
}

// Operands calls fn for every variable operand, writes first.
func (self *Instr) Operands(fn func(op *Operand, slot Slot)) {
	if self.Dst.IsVar() {
		fn(&self.Dst, SlotDst)
	}
	if self.CondMod.IsVar() {
		fn(&self.CondMod, SlotCondMod)
	}
	for i := range self.Srcs {
		if self.Srcs[i].IsVar() {
			fn(&self.Srcs[i], SlotSrc)
		}
	}
	if self.Pred.IsVar() {
		fn(&self.Pred, SlotPred)
	}
}

// Reads returns the variable operands read by the instruction, including the
// address variables of indirect destinations.
func (self *Instr) Reads() []Operand {
	var ret []Operand
	self.Operands(func(op *Operand, slot Slot) {
		if !slot.Writes() || op.Indirect {
			ret = append(ret, *op)
		}
	})
	return ret
}

// Writes returns the variable operands written by the instruction. Indirect
// writes are reported with their address variable.
func (self *Instr) Writes() []Operand {
	var ret []Operand
	self.Operands(func(op *Operand, slot Slot) {
		if slot.Writes() {
			ret = append(ret, *op)
		}
	})
	return ret
}

// Clone returns a copy of the instruction with the same ID.
func (self *Instr) Clone() *Instr {
	ret := *self
	ret.Srcs = append([]Operand(nil), self.Srcs...)
	if self.Send != nil {
		send := *self.Send
		ret.Send = &send
		if self.Send.Scratch != nil {
			sa := *self.Send.Scratch
			ret.Send.Scratch = &sa
		}
	}
	if self.Call != nil {
		call := *self.Call
		ret.Call = &call
	}
	if self.Dpas != nil {
		dpas := *self.Dpas
		ret.Dpas = &dpas
	}
	return &ret
}

func (self *Instr) String() string {
	var sb strings.Builder
	if self.Pred.IsVar() {
		fmt.Fprintf(&sb, "(%s) ", self.Pred)
	}

	/* opcode and execution size */
	fmt.Fprintf(&sb, "%s(%d", self.Op, self.ExecSize)
	if self.MaskOffset != 0 {
		fmt.Fprintf(&sb, "|M%d", self.MaskOffset)
	}
	if self.NoMask {
		sb.WriteString("|NoMask")
	}
	sb.WriteString(")")

	/* operands */
	var ops []string
	if self.Dst.IsVar() {
		ops = append(ops, self.Dst.String())
	}
	if self.CondMod.IsVar() {
		ops = append(ops, "cm:"+self.CondMod.String())
	}
	for _, v := range self.Srcs {
		ops = append(ops, v.String())
	}
	if self.Call != nil {
		ops = append(ops, fmt.Sprintf("sub_%d", self.Call.Callee))
	}
	if len(ops) != 0 {
		sb.WriteString(" ")
		sb.WriteString(strings.Join(ops, ", "))
	}

	/* scratch messages */
	if self.Send != nil && self.Send.Scratch != nil {
		sa := self.Send.Scratch
		fmt.Fprintf(&sb, " scratch[%d+%d rows]", sa.Offset, sa.Rows)
	}
	if self.Origin != OriginProgram {
		fmt.Fprintf(&sb, " ; %s", self.Origin)
	}
	return sb.String()
}
