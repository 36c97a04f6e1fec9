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

func wideProgram() (*ir.Program, ir.VarID) {
	b := ir.NewBuilder(16)
	big := b.Decl("big", ir.GRF, 7*32, ir.AlignEven, 0)
	f := b.Decl("f", ir.Flag, 2, ir.AlignAny, 0)
	x := b.Var("x", 32)
	fixed := b.Var("fixed", 32)
	b.Mov(fixed, ir.Imm(3))
	b.Add(big, ir.Ref(x), ir.Imm(1))
	b.Cmp(f, ir.Ref(x), ir.Imm(0))
	b.Use(ir.Ref(big), ir.Ref(fixed))
	prog := b.Build()
	prog.Var(fixed).Loc = ir.Location{Reg: 109}
	return prog, big
}

func TestFailSafe_Demand(t *testing.T) {
	prog, _ := wideProgram()
	o := testOptions()
	ins := prog.Blocks[0].Ins
	tests := []struct {
		name  string
		p     *ir.Instr
		rows  int
		flags int
	}{
		{"mov", ins[0], 0, 0},
		{"add", ins[1], 8 + 1, 0},
		{"cmp", ins[2], 1 + 2, 1},
		{"use", ins[3], 8, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := demandOf(prog, o.Platform, tt.p)
			require.Equal(t, tt.rows, d.rows)
			require.Equal(t, tt.flags, d.words[ir.Flag])
		})
	}
}

func TestFailSafe_Reserve(t *testing.T) {
	prog, _ := wideProgram()
	o := testOptions()
	a := newAllocator(prog, o)
	a.reserveFailSafe()

	/* nine rows, row 109 is taken by the fixed variable */
	rs := a.forbids.reserve
	require.Equal(t, o.Platform.FailSafeWindow().Hi, rs.grf.Hi)
	require.Equal(t, rs.grf.Hi-10, rs.grf.Lo)
	require.Equal(t, o.Platform.FailSafeWords, rs.words[ir.Flag])

	/* ordinary variables stay out of the grown window */
	fs := a.forbids.get(ir.GRF, ForbidFailSafe)
	wpr := o.Platform.GRF.WordsPerRow()
	require.True(t, fs.row(rs.grf.Lo, wpr))
	require.False(t, fs.row(rs.grf.Lo-1, wpr))
}

func TestFailSafe_DefaultWindow(t *testing.T) {
	prog := pressure(8, 64)
	a := newAllocator(prog, testOptions())
	a.reserveFailSafe()
	require.Equal(t, a.plat.FailSafeWindow(), a.forbids.reserve.grf)
}
