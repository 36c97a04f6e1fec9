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

	"github.com/brianvoe/gofakeit/v6"
	"github.com/cloudwego/rowalloc/internal/ir"
	"github.com/stretchr/testify/require"
)

var randomSizes = []int{4, 16, 32, 64, 96, 128}

type _RandomProgram struct {
	f       *gofakeit.Faker
	partial bool
	b       *ir.Builder
	vars    []ir.VarID
	defined []ir.VarID
}

func newRandomProgram(seed int64, n int, sizes []int, partial bool) *_RandomProgram {
	ret := &_RandomProgram{
		f:       gofakeit.New(seed),
		b:       ir.NewBuilder(16),
		partial: partial,
	}
	for i := 0; i < n; i++ {
		align := ir.AlignAny
		if ret.f.Bool() {
			align = ir.AlignEven
		}
		size := sizes[ret.f.Number(0, len(sizes)-1)]
		ret.vars = append(ret.vars, ret.b.Decl(fmt.Sprintf("v%d", i), ir.GRF, size, align, 0))
	}
	return ret
}

// emit writes a random variable from already defined ones.
func (self *_RandomProgram) emit() {
	dst := self.vars[self.f.Number(0, len(self.vars)-1)]
	var srcs []ir.Operand
	for j := self.f.Number(0, 2); j > 0 && len(self.defined) != 0; j-- {
		srcs = append(srcs, ir.Ref(self.defined[self.f.Number(0, len(self.defined)-1)]))
	}
	srcs = append(srcs, ir.Imm(int64(self.f.Number(0, 100))))
	p := self.b.Emit(ir.OpAdd, ir.Ref(dst), srcs...)
	if self.partial && self.f.Number(0, 4) == 0 {
		p.ExecSize = 8
		p.MaskOffset = 8 * self.f.Number(0, 1)
	}
	self.defined = append(self.defined, dst)
}

func (self *_RandomProgram) emitN(lo int, hi int) {
	for i := self.f.Number(lo, hi); i > 0; i-- {
		self.emit()
	}
}

// finish reads every defined variable once.
func (self *_RandomProgram) finish() *ir.Program {
	seen := make(map[ir.VarID]bool)
	for _, v := range self.defined {
		if !seen[v] {
			seen[v] = true
			self.b.Use(ir.Ref(v))
		}
	}
	return self.b.Build()
}

// withControlFlow adds a loop and a divergent diamond.
func (self *_RandomProgram) withControlFlow() *ir.Program {
	flag := self.b.Decl("f", ir.Flag, 2, ir.AlignAny, 0)
	self.emitN(len(self.vars)/2, len(self.vars))
	self.b.Label("loop")
	self.emitN(1, 6)
	self.b.Cmp(flag, ir.Ref(self.defined[0]), ir.Imm(0))
	self.b.Br(flag, "loop")
	self.b.Cmp(flag, ir.Imm(1), ir.Imm(0))
	self.b.Br(flag, "else")
	self.b.Divergent()
	self.emitN(1, 4)
	self.b.Jmp("join")
	self.b.Label("else")
	self.b.Divergent()
	self.emitN(1, 4)
	self.b.Label("join")
	self.emitN(0, 3)
	return self.finish()
}

// checkAllocation expects success: with the fail-safe round sized from the
// program, anything a single instruction can address gets allocated.
func checkAllocation(t *testing.T, prog *ir.Program, res *Result, err error) {
	require.NoError(t, err)
	require.NoError(t, Verify(prog, testOptions().Platform))
	live := liveSets(prog)
	live.active.ForEach(func(k int) {
		require.Contains(t, res.Assignment, live.vars[k].ID)
	})
}

func TestAllocate_RandomControlFlow(t *testing.T) {
	for seed := int64(1); seed <= 40; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			n := 4 + int(seed%9)*5
			prog := newRandomProgram(seed, n, randomSizes, true).withControlFlow()
			o := testOptions()
			o.Verify = true
			res, err := Allocate(prog, o)
			checkAllocation(t, prog, res, err)
		})
	}
}

func TestAllocate_RandomStraightLine(t *testing.T) {
	for seed := int64(100); seed < 140; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rp := newRandomProgram(seed, 40+int(seed%40), []int{64}, false)
			rp.emitN(40, 80)
			prog := rp.finish()
			want := execute(t, prog)

			res, err := Allocate(prog, testOptions())
			checkAllocation(t, prog, res, err)
			require.Equal(t, want, execute(t, prog))
		})
	}
}

func TestAllocate_RandomFailSafe(t *testing.T) {
	for seed := int64(200); seed < 220; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rp := newRandomProgram(seed, 30+int(seed%20), randomSizes, false)
			rp.emitN(30, 60)
			prog := rp.finish()
			want := execute(t, prog)

			o := testOptions()
			o.MaxRounds = 0
			res, err := Allocate(prog, o)
			checkAllocation(t, prog, res, err)
			require.Equal(t, want, execute(t, prog))
		})
	}
}
