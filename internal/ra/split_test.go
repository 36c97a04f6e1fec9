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
	"testing"

	"github.com/cloudwego/rowalloc/internal/ir"
	"github.com/stretchr/testify/require"
)

func TestRound_Split(t *testing.T) {
	b := ir.NewBuilder(16)
	f := b.Decl("f", ir.Flag, 2, ir.AlignAny, 0)
	v := b.Var("v", 32)
	b.Mov(v, ir.Imm(1))
	b.Label("loop")
	b.Add(v, ir.Ref(v), ir.Imm(1))
	b.Cmp(f, ir.Ref(v), ir.Imm(10))
	b.Br(f, "loop")
	b.Use(ir.Ref(v))
	prog := b.Build()
	pre, body, exit := prog.Blocks[0], prog.Blocks[1], prog.Blocks[2]

	a := newAllocator(prog, testOptions())
	a.live = liveSets(prog)
	r := a.newRound(0, false, nil)
	k, ok := a.live.id(v)
	require.True(t, ok)
	ch := newChanges()
	require.True(t, r.trySplit(r.lrs[k], ch))
	require.False(t, r.trySplit(r.lrs[k], ch))
	require.Equal(t, 1, a.stats.Splits)

	/* copy in before the loop */
	in := pre.Last()
	require.Equal(t, ir.OriginCopy, in.Origin)
	require.Equal(t, v, in.Srcs[0].Var)
	s := in.Dst.Var
	require.Equal(t, "v.split", prog.Var(s).Name)

	/* and back at the exit */
	out := exit.Ins[0]
	require.Equal(t, ir.OriginCopy, out.Origin)
	require.Equal(t, v, out.Dst.Var)
	require.Equal(t, s, out.Srcs[0].Var)

	/* the loop only sees the copy */
	for _, p := range body.Ins {
		p.Operands(func(op *ir.Operand, _ ir.Slot) {
			require.NotEqual(t, v, op.Var)
		})
	}
	require.Contains(t, ch.blocks, body.ID)
	require.Contains(t, ch.vars, s)

	/* the result still allocates */
	res, err := Allocate(prog, testOptions())
	require.NoError(t, err)
	require.Contains(t, res.Assignment, s)
	require.NoError(t, Verify(prog, a.plat))
}

func TestRemat_Legality(t *testing.T) {
	b := ir.NewBuilder(16)
	in := b.Decl("in", ir.GRF, 32, ir.AlignAny, ir.Input)
	x := b.Var("x", 32)
	y := b.Var("y", 32)
	z := b.Var("z", 32)
	b.Add(x, ir.Ref(in), ir.Imm(1))
	b.Mov(y, ir.Imm(1))
	b.Add(y, ir.Ref(y), ir.Imm(1))
	b.Emit(ir.OpSend, ir.Ref(z), ir.Ref(x)).Send = new(ir.SendInfo)
	b.Use(ir.Ref(x), ir.Ref(y), ir.Ref(z), ir.Ref(in))
	prog := b.Build()

	a := newAllocator(prog, testOptions())
	a.live = liveSets(prog)
	r := a.newRound(0, false, nil)
	lr := func(v ir.VarID) *_LiveRange {
		k, _ := a.live.id(v)
		return r.lrs[k]
	}
	rm := newRemat(r, newChanges(), []*_LiveRange{lr(x), lr(y), lr(z)})

	/* two definitions, or one that is not an ALU operation */
	require.False(t, rm.try(lr(y)))
	require.False(t, rm.try(lr(z)))

	/* a single add of an input replays at both uses */
	require.True(t, rm.try(lr(x)))
	require.Equal(t, 2, countOrigin(prog, ir.OriginRemat))
	for _, p := range prog.Blocks[0].Ins {
		p.Operands(func(op *ir.Operand, _ ir.Slot) {
			require.NotEqual(t, x, op.Var)
		})
	}
	require.Equal(t, 1, a.stats.Remats)
}
