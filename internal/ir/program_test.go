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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgram_Root(t *testing.T) {
	p := NewProgram(16)
	a := p.NewVar("a", GRF, 256, AlignEven, 0)
	b := p.NewAlias("b", a.ID, 64, 128)
	c := p.NewAlias("c", b.ID, 32, 32)
	root, off := p.Root(c.ID)
	require.Equal(t, a.ID, root)
	require.Equal(t, 96, off)
	require.True(t, c.IsAlias())
	require.Equal(t, GRF, c.File)
	require.Equal(t, 8, a.Rows(32))
	require.Equal(t, 1, c.Rows(64))
	require.Panics(t, func() { p.NewAlias("d", a.ID, 200, 100) })
}

func TestProgram_InsertErase(t *testing.T) {
	p := NewProgram(16)
	sub := p.NewSub("kernel")
	bb := p.NewBlock(sub)
	i1 := p.NewInstr(OpMov, 16)
	i2 := p.NewInstr(OpAdd, 16)
	i3 := p.NewInstr(OpMul, 16)
	p.Append(bb, i1)
	p.InsertAfter(bb, i1, i3)
	p.InsertBefore(bb, i3, i2)
	require.Equal(t, []*Instr{i1, i2, i3}, bb.Ins)
	p.Erase(bb, i2)
	require.Equal(t, []*Instr{i1, i3}, bb.Ins)
	require.Less(t, int(i1.ID), int(i3.ID))
	require.Panics(t, func() { p.Erase(bb, i2) })
	p.InsertBefore(bb, nil, i2)
	require.Equal(t, i2, bb.Ins[0])
}

func TestProgram_Kill(t *testing.T) {
	b := NewBuilder(16)
	x := b.Var("x", 64)
	f := b.Decl("f", Flag, 4, AlignAny, 0)
	full := b.Mov(x, Imm(1))
	part := b.Emit(OpMov, Sub(x, 0, 32), Imm(2))
	half := b.Mov(x, Imm(3))
	half.ExecSize = 8
	pred := b.Mov(x, Imm(4))
	pred.Pred = Ref(f)
	cm := b.Cmp(f, Ref(x), Imm(0))
	cm.ExecSize = 32
	cm8 := b.Cmp(f, Ref(x), Imm(0))
	cm8.ExecSize = 8
	prog := b.Build()
	bb := prog.Blocks[0]

	require.True(t, prog.IsKill(bb, full, full.Dst, SlotDst))
	require.False(t, prog.IsKill(bb, part, part.Dst, SlotDst))
	require.False(t, prog.IsKill(bb, half, half.Dst, SlotDst))
	require.False(t, prog.IsKill(bb, pred, pred.Dst, SlotDst))
	require.False(t, prog.IsKill(bb, full, full.Srcs[0], SlotSrc))
	require.True(t, prog.IsKill(bb, cm, cm.CondMod, SlotCondMod))
	require.False(t, prog.IsKill(bb, cm8, cm8.CondMod, SlotCondMod))
	require.Equal(t, Span{Root: f, Lo: 0, Hi: 1}, prog.Span(cm8, cm8.CondMod, SlotCondMod))

	/* divergent blocks need NoMask to kill */
	bb.Divergent = true
	require.False(t, prog.IsKill(bb, full, full.Dst, SlotDst))
	full.NoMask = true
	require.True(t, prog.IsKill(bb, full, full.Dst, SlotDst))
}

func TestBuilder_CFG(t *testing.T) {
	b := NewBuilder(16)
	f := b.Decl("f", Flag, 2, AlignAny, 0)
	x := b.Var("x", 64)
	b.Mov(x, Imm(0))
	b.Label("loop")
	b.Add(x, Ref(x), Imm(1))
	b.Cmp(f, Ref(x), Imm(10))
	b.Br(f, "loop")
	b.Call("fn")
	b.EOT(Ref(x))
	b.Sub("fn")
	b.Use(Ref(x))
	b.Ret()
	prog := b.Build()

	require.Len(t, prog.Subs, 2)
	k := prog.Kernel()
	require.Len(t, k.Blocks, 4)
	entry, loop, call, ret := k.Blocks[0], k.Blocks[1], k.Blocks[2], k.Blocks[3]
	assert.Equal(t, []*Block{loop}, entry.Succs)
	assert.ElementsMatch(t, []*Block{loop, call}, loop.Succs)
	assert.ElementsMatch(t, []*Block{entry, loop}, loop.Preds)
	assert.Equal(t, []*Block{ret}, call.Succs)
	assert.Equal(t, ret, k.Exit)

	callee, ok := call.CallTarget()
	require.True(t, ok)
	require.Equal(t, 1, callee)
	require.Equal(t, []*Block{call}, prog.Callers(1))
	require.Equal(t, prog.Subs[1].Entry, prog.Subs[1].Exit)
	require.NotEmpty(t, prog.String())
}

func TestBuilder_Unresolved(t *testing.T) {
	b := NewBuilder(16)
	b.Jmp("nowhere")
	require.Panics(t, func() { b.Build() })
}

func TestDefUse(t *testing.T) {
	b := NewBuilder(16)
	f := b.Decl("f", Flag, 2, AlignAny, 0)
	x := b.Var("x", 64)
	y := b.Var("y", 64)
	d0 := b.Mov(x, Imm(0))
	b.Label("loop")
	u1 := b.Add(y, Ref(x), Imm(1))
	d1 := b.Mov(x, Ref(y))
	b.Cmp(f, Ref(x), Imm(10))
	b.Br(f, "loop")
	u2 := b.Use(Ref(x))
	prog := b.Build()
	du := BuildDefUse(prog)

	require.Equal(t, []InstrID{d0.ID, d1.ID}, du.Defs(x))
	require.ElementsMatch(t, []InstrID{d0.ID, d1.ID}, du.Reaching(u1.ID, x))
	require.Equal(t, []InstrID{d1.ID}, du.Reaching(u2.ID, x))
	require.Equal(t, []InstrID{u1.ID}, du.Reaching(d1.ID, y))

	pos, ok := du.Pos(d1.ID)
	require.True(t, ok)
	require.Equal(t, 1, pos.Index)
	require.Equal(t, 1, pos.Block.ID)
}
