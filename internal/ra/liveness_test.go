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
	"fmt"
	"testing"

	"github.com/cloudwego/rowalloc/internal/bitvec"
	"github.com/cloudwego/rowalloc/internal/ir"
	"github.com/stretchr/testify/require"
)

func liveSets(prog *ir.Program) *_Liveness {
	live := newLiveness(prog)
	live.compute(nil)
	return live
}

func requireLive(t *testing.T, live *_Liveness, set bitvec.Vector, want map[ir.VarID]bool) {
	t.Helper()
	for v, w := range want {
		k, ok := live.id(v)
		require.True(t, ok)
		require.Equal(t, w, set.Has(k), "%s", live.prog.Var(v).Name)
	}
}

func TestLiveness_Diamond(t *testing.T) {
	b := ir.NewBuilder(16)
	f := b.Decl("f", ir.Flag, 2, ir.AlignAny, 0)
	x := b.Var("x", 32)
	y := b.Var("y", 32)
	z := b.Var("z", 32)
	b.Mov(x, ir.Imm(1))
	b.Cmp(f, ir.Ref(x), ir.Imm(0))
	b.Br(f, "else")
	b.Mov(y, ir.Ref(x))
	b.Jmp("join")
	b.Label("else")
	b.Mov(y, ir.Imm(2))
	b.Label("join")
	b.Add(z, ir.Ref(y), ir.Ref(x))
	b.Use(ir.Ref(z))
	prog := b.Build()
	bbs := prog.Blocks
	require.Len(t, bbs, 4)

	live := liveSets(prog)
	requireLive(t, live, live.liveIn(bbs[0]), map[ir.VarID]bool{x: false, y: false, z: false, f: false})
	requireLive(t, live, live.liveOut(bbs[0]), map[ir.VarID]bool{x: true, y: false, f: false})
	requireLive(t, live, live.liveIn(bbs[1]), map[ir.VarID]bool{x: true, y: false})
	requireLive(t, live, live.liveOut(bbs[1]), map[ir.VarID]bool{x: true, y: true})
	requireLive(t, live, live.liveIn(bbs[2]), map[ir.VarID]bool{x: true, y: false})
	requireLive(t, live, live.liveIn(bbs[3]), map[ir.VarID]bool{x: true, y: true, z: false})
	requireLive(t, live, live.liveOut(bbs[3]), map[ir.VarID]bool{x: false, y: false, z: false})
}

func TestLiveness_PartialWritesAndBoundaries(t *testing.T) {
	b := ir.NewBuilder(16)
	in := b.Decl("in", ir.GRF, 32, ir.AlignAny, ir.Input)
	out := b.Decl("out", ir.GRF, 32, ir.AlignAny, ir.Output)
	x := b.Var("x", 64)
	b.Divergent()
	p := b.Mov(x, ir.Imm(1))
	p.ExecSize = 8
	b.Add(out, ir.Ref(in), ir.Ref(x))
	prog := b.Build()

	/* a partial write does not define a value reaching the entry */
	live := liveSets(prog)
	entry := prog.Kernel().Entry
	requireLive(t, live, live.liveIn(entry), map[ir.VarID]bool{in: true, x: false, out: false})
	requireLive(t, live, live.liveOut(entry), map[ir.VarID]bool{in: false, x: false, out: true})
	k, _ := live.id(x)
	require.True(t, live.useIn[entry.ID].Has(k))
	require.False(t, live.defIn[entry.ID].Has(k))
}

func TestLiveness_Interprocedural(t *testing.T) {
	b := ir.NewBuilder(16)
	x := b.Var("x", 32)
	y := b.Var("y", 32)
	b.Mov(x, ir.Imm(1))
	b.Mov(y, ir.Imm(2))
	b.Call("fn")
	b.Use(ir.Ref(x), ir.Ref(y))
	b.Sub("fn")
	b.Add(x, ir.Ref(y), ir.Imm(1))
	b.Ret()
	prog := b.Build()
	call, ret, fn := prog.Blocks[0], prog.Blocks[1], prog.Subs[1]

	live := liveSets(prog)
	kx, _ := live.id(x)
	ky, _ := live.id(y)

	/* x is overwritten by the callee on every path, y is its argument */
	require.True(t, live.mustKill[fn.ID].Has(kx))
	require.True(t, live.arg[fn.ID].Has(ky))
	require.False(t, live.arg[fn.ID].Has(kx))
	require.True(t, live.retval[fn.ID].Has(kx))
	requireLive(t, live, live.liveOut(call), map[ir.VarID]bool{x: false, y: true})
	requireLive(t, live, live.liveIn(fn.Entry), map[ir.VarID]bool{x: false, y: true})
	requireLive(t, live, live.liveOut(fn.Exit), map[ir.VarID]bool{x: true, y: true})
	requireLive(t, live, live.liveIn(ret), map[ir.VarID]bool{x: true, y: true})
}

func TestLiveness_IncrementalMatchesFull(t *testing.T) {
	prog := pressure(40, 128)
	o := testOptions()
	o.Incremental = true
	o.Remat = false
	o.Split = false
	a := newAllocator(prog, o)
	insertPseudoKills(prog)
	a.live = newLiveness(prog)
	a.live.compute(nil)

	/* spill, then refresh only what changed */
	r := a.newRound(0, false, nil)
	spilled := r.color()
	require.NotEmpty(t, spilled)
	ch := newChanges()
	require.NoError(t, newSpiller(r, ch).spill(spilled))
	a.live.compute(ch)
	r1 := a.newRound(1, false, ch)

	/* against a fresh analysis */
	full := liveSets(prog)
	g := newGraph(full.n(), 4096)
	buildInterference(full, g, nil)
	augment(full, g, nil)
	require.Equal(t, full.active.Count(), a.live.active.Count())
	for v, k := range full.ids {
		i, ok := a.live.ids[v]
		require.True(t, ok)
		require.True(t, a.live.isActive(i))
		for _, bb := range prog.Blocks {
			fi, fo := full.liveIn(bb), full.liveOut(bb)
			ii, io := a.live.liveIn(bb), a.live.liveOut(bb)
			require.Equal(t, fi.Has(k), ii.Has(i), "%s", prog.Var(v).Name)
			require.Equal(t, fo.Has(k), io.Has(i), "%s", prog.Var(v).Name)
		}
		for w, kk := range full.ids {
			j := a.live.ids[w]
			require.Equal(t, g.has(k, kk), r1.g.has(i, j), "%s and %s", prog.Var(v).Name, prog.Var(w).Name)
		}
	}
}

// requireDataflow checks that every block sits at the fixed point of both
// equations.
func requireDataflow(t *testing.T, live *_Liveness) {
	t.Helper()
	for _, bb := range live.prog.Blocks {
		in := live.useOut[bb.ID].Clone()
		in.Subtract(&live.kill[bb.ID])
		in.Union(&live.gen[bb.ID])
		require.True(t, in.Equal(&live.useIn[bb.ID]), "use-in of block %d", bb.ID)
		lost := live.defIn[bb.ID].Clone()
		lost.Subtract(&live.defOut[bb.ID])
		require.Zero(t, lost.Count(), "def-out of block %d", bb.ID)
	}
}

func callProgram() *ir.Program {
	b := ir.NewBuilder(16)
	f := b.Decl("f", ir.Flag, 2, ir.AlignAny, 0)
	x := b.Var("x", 32)
	y := b.Var("y", 64)
	z := b.Var("z", 32)
	b.Mov(x, ir.Imm(1))
	b.Mov(y, ir.Imm(2))
	b.Label("loop")
	b.Call("fn")
	b.Add(x, ir.Ref(x), ir.Ref(z))
	b.Cmp(f, ir.Ref(x), ir.Imm(10))
	b.Br(f, "loop")
	b.Call("gn")
	b.Use(ir.Ref(x), ir.Ref(y), ir.Ref(z))
	b.Sub("fn")
	b.Add(z, ir.Ref(y), ir.Imm(1))
	b.Call("gn")
	b.Ret()
	b.Sub("gn")
	b.Add(y, ir.Ref(y), ir.Ref(z))
	b.Ret()
	return b.Build()
}

func TestLiveness_FixedPoint(t *testing.T) {
	t.Run("call", func(t *testing.T) {
		requireDataflow(t, liveSets(callProgram()))
	})
	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			n := 4 + int(seed%9)*5
			prog := newRandomProgram(seed, n, randomSizes, true).withControlFlow()
			requireDataflow(t, liveSets(prog))
		})
	}
}

func TestLiveness_FixedPointIncremental(t *testing.T) {
	progs := map[string]*ir.Program{
		"pressure": pressure(40, 128),
		"random":   newRandomProgram(7, 44, randomSizes, true).withControlFlow(),
	}
	for name, prog := range progs {
		t.Run(name, func(t *testing.T) {
			o := testOptions()
			o.Incremental = true
			o.Remat = false
			o.Split = false
			a := newAllocator(prog, o)
			insertPseudoKills(prog)
			a.live = newLiveness(prog)
			a.live.compute(nil)
			requireDataflow(t, a.live)

			/* refresh after each spill round */
			var ch *_Changes
			for i := 0; i < 3; i++ {
				r := a.newRound(i, false, ch)
				var todo []*_LiveRange
				for _, lr := range r.color() {
					if !unspillable(lr.v) && !r.pointee[lr.id] {
						todo = append(todo, lr)
					}
				}
				if len(todo) == 0 {
					break
				}
				ch = newChanges()
				require.NoError(t, newSpiller(r, ch).spill(todo))
				a.live.compute(ch)
				requireDataflow(t, a.live)
			}
		})
	}
}
