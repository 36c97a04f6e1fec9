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

// Builder emits a program linearly. Jumps name their target by label; a label
// or any control transfer starts a new block, and blocks fall through to the
// next one unless they end with a jump or a return.
type Builder struct {
	p     *Program
	sub   *Subroutine
	cur   *Block
	open  bool
	refs  map[string]*Block
	pends map[string][]*Block
	calls map[*Instr]string
	names map[string]*Subroutine
}

// NewBuilder creates a builder whose current subroutine is the kernel.
func NewBuilder(simd int) *Builder {
	ret := &Builder{
		p:     NewProgram(simd),
		refs:  make(map[string]*Block),
		pends: make(map[string][]*Block),
		calls: make(map[*Instr]string),
		names: make(map[string]*Subroutine),
	}
	ret.Sub("kernel")
	return ret
}

func (self *Builder) Program() *Program {
	return self.p
}

// Var declares a GRF variable of the given byte size.
func (self *Builder) Var(name string, size int) VarID {
	return self.p.NewVar(name, GRF, size, AlignAny, 0).ID
}

// Decl declares a variable with every attribute spelled out.
func (self *Builder) Decl(name string, file RegFile, size int, align Align, flags VarFlags) VarID {
	return self.p.NewVar(name, file, size, align, flags).ID
}

func (self *Builder) Alias(name string, parent VarID, offset int, size int) VarID {
	return self.p.NewAlias(name, parent, offset, size).ID
}

// Sub starts a new subroutine; following instructions go to its entry.
func (self *Builder) Sub(name string) *Subroutine {
	self.sub = self.p.NewSub(name)
	self.names[name] = self.sub
	self.cur = self.p.NewBlock(self.sub)
	self.open = true
	return self.sub
}

// Divergent marks the current block as being under SIMD control flow.
func (self *Builder) Divergent() *Builder {
	self.block().Divergent = true
	return self
}

// Label starts a new block that jumps can target.
func (self *Builder) Label(name string) *Block {
	if _, ok := self.refs[name]; ok {
		panic("label " + name + " has already been linked")
	}

	/* reuse the current block if it is still empty */
	bb := self.cur
	if bb == nil || len(bb.Ins) != 0 {
		bb = self.p.NewBlock(self.sub)
		if self.cur != nil && self.open {
			self.p.Link(self.cur, bb)
		}
	}

	/* patch the pending jumps */
	for _, p := range self.pends[name] {
		self.p.Link(p, bb)
	}

	/* mark the label as resolved */
	self.cur = bb
	self.open = true
	self.refs[name] = bb
	delete(self.pends, name)
	return bb
}

func (self *Builder) block() *Block {
	if self.cur == nil {
		self.cur = self.p.NewBlock(self.sub)
		self.open = true
	}
	return self.cur
}

func (self *Builder) jump(name string) {
	if bb, ok := self.refs[name]; ok {
		self.p.Link(self.cur, bb)
	} else {
		self.pends[name] = append(self.pends[name], self.cur)
	}
}

// Emit appends an instruction executing on every dispatch channel.
func (self *Builder) Emit(op Opcode, dst Operand, srcs ...Operand) *Instr {
	p := self.p.NewInstr(op, self.p.SIMD)
	p.Dst = dst
	p.Srcs = srcs
	self.p.Append(self.block(), p)
	return p
}

func (self *Builder) Mov(dst VarID, src Operand) *Instr {
	return self.Emit(OpMov, Ref(dst), src)
}

func (self *Builder) Add(dst VarID, a Operand, b Operand) *Instr {
	return self.Emit(OpAdd, Ref(dst), a, b)
}

// Cmp writes the flag f from comparing a and b.
func (self *Builder) Cmp(f VarID, a Operand, b Operand) *Instr {
	p := self.Emit(OpCmp, None, a, b)
	p.CondMod = Ref(f)
	return p
}

// Use emits an instruction that only reads its operands.
func (self *Builder) Use(srcs ...Operand) *Instr {
	return self.Emit(OpNop, None, srcs...)
}

func (self *Builder) Send(dst Operand, srcs ...Operand) *Instr {
	p := self.Emit(OpSend, dst, srcs...)
	p.Send = new(SendInfo)
	return p
}

// EOT emits an end-of-thread send and closes the block.
func (self *Builder) EOT(srcs ...Operand) *Instr {
	p := self.Send(None, srcs...)
	p.Send.EOT = true
	p.NoMask = true
	self.cur, self.open = nil, false
	return p
}

func (self *Builder) Jmp(to string) *Instr {
	p := self.Emit(OpJmp, None)
	self.jump(to)
	self.cur, self.open = nil, false
	return p
}

// Br branches to the label when the flag is set, and falls through otherwise.
func (self *Builder) Br(f VarID, to string) *Instr {
	p := self.Emit(OpBr, None)
	p.Pred = Ref(f)
	self.jump(to)
	self.fallThrough()
	return p
}

func (self *Builder) fallThrough() {
	prev := self.cur
	self.cur = self.p.NewBlock(self.sub)
	self.open = true
	self.p.Link(prev, self.cur)
}

// Call calls the named subroutine, which may be declared later. The next
// block is the return site.
func (self *Builder) Call(name string) *Instr {
	p := self.Emit(OpCall, None)
	p.Call = &CallInfo{Callee: -1}
	self.calls[p] = name
	self.fallThrough()
	return p
}

// Ret returns from the current subroutine and marks the block as its exit.
func (self *Builder) Ret() *Instr {
	p := self.Emit(OpRet, None)
	self.sub.Exit = self.cur
	self.cur, self.open = nil, false
	return p
}

// Build resolves labels and calls and returns the program.
func (self *Builder) Build() *Program {
	for key := range self.pends {
		panic("labels are not fully resolved: " + key)
	}

	/* resolve the callees */
	for p, name := range self.calls {
		if sub, ok := self.names[name]; !ok {
			panic("undefined subroutine: " + name)
		} else {
			p.Call.Callee = sub.ID
		}
	}

	/* a subroutine without an explicit return exits at its last block */
	for _, sub := range self.p.Subs {
		if sub.Exit == nil {
			sub.Exit = sub.Blocks[len(sub.Blocks)-1]
		}
	}
	return self.p
}
