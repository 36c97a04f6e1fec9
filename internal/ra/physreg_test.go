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
	"github.com/cloudwego/rowalloc/internal/opts"
	"github.com/cloudwego/rowalloc/internal/platform"
	"github.com/stretchr/testify/require"
)

func grfRegs(t *testing.T, strategy opts.Strategy) (*_PhyRegs, *_Forbidden) {
	plat := platform.Default()
	regs := newPhyRegs(plat, ir.GRF, strategy)
	f := newForbidTable(plat).get(ir.GRF, ForbidReserved)
	regs.forbid(f)
	return regs, f
}

func TestPhyRegs_Contiguous(t *testing.T) {
	regs, _ := grfRegs(t, opts.FirstFit)
	tests := []struct {
		name  string
		rows  int
		align ir.Align
		bank  ir.Bank
		want  int
	}{
		{"any", 1, ir.AlignAny, ir.BankNone, 1},
		{"even", 2, ir.AlignEven, ir.BankNone, 2},
		{"odd", 3, ir.AlignOdd, ir.BankNone, 1},
		{"quad", 4, ir.AlignQuad, ir.BankNone, 4},
		{"even-bank", 1, ir.AlignAny, ir.BankEven, 2},
		{"odd-bank", 1, ir.AlignAny, ir.BankOdd, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, ok := regs.findContiguous(tc.rows, tc.align, 0, tc.bank)
			require.True(t, ok)
			require.Equal(t, tc.want, r)
		})
	}

	/* busy rows are skipped */
	regs.markBusy(ir.Location{Reg: 2}, _Shape{rows: 2})
	r, ok := regs.findContiguous(2, ir.AlignEven, 0, ir.BankNone)
	require.True(t, ok)
	require.Equal(t, 4, r)
	require.False(t, regs.fits(ir.Location{Reg: 3}, _Shape{rows: 2, align: ir.AlignEven}))
	require.False(t, regs.fits(ir.Location{Reg: 126}, _Shape{rows: 2}))
	require.False(t, regs.fits(ir.Location{Reg: 2}, _Shape{rows: 1}))
	require.True(t, regs.fits(ir.Location{Reg: 4}, _Shape{rows: 2, align: ir.AlignEven}))

	/* the last free row is the reserved one's neighbor */
	for row := 1; row < 126; row++ {
		regs.markBusy(ir.Location{Reg: row}, _Shape{rows: 1})
	}
	r, ok = regs.findContiguous(1, ir.AlignAny, 0, ir.BankNone)
	require.True(t, ok)
	require.Equal(t, 126, r)
	_, ok = regs.findContiguous(2, ir.AlignAny, 0, ir.BankNone)
	require.False(t, ok)
}

func TestPhyRegs_RelaxBankAndBundle(t *testing.T) {
	regs, _ := grfRegs(t, opts.FirstFit)
	for row := 2; row < 127; row += 2 {
		regs.markBusy(ir.Location{Reg: row}, _Shape{rows: 1})
	}
	r, ok := regs.findContiguous(1, ir.AlignAny, 0, ir.BankEven)
	require.True(t, ok)
	require.Equal(t, 1, r)

	/* a single bundle on this platform can only be relaxed */
	r, ok = regs.findContiguous(1, ir.AlignAny, 1, ir.BankNone)
	require.True(t, ok)
	require.Equal(t, 1, r)
}

func TestPhyRegs_RoundRobin(t *testing.T) {
	regs, f := grfRegs(t, opts.RoundRobin)
	regs.allocate(ir.Location{Reg: 10}, _Shape{rows: 2})
	require.Equal(t, 12, regs.cursor)

	/* the cursor survives a reset */
	regs.reset()
	regs.forbid(f)
	r, ok := regs.findContiguous(1, ir.AlignAny, 0, ir.BankNone)
	require.True(t, ok)
	require.Equal(t, 12, r)

	/* and wraps around at the end of the file */
	regs.allocate(ir.Location{Reg: 126}, _Shape{rows: 1})
	require.Equal(t, 127, regs.cursor)
	regs.allocate(ir.Location{Reg: 127}, _Shape{rows: 1})
	require.Equal(t, 0, regs.cursor)
	r, ok = regs.findContiguous(1, ir.AlignAny, 0, ir.BankNone)
	require.True(t, ok)
	require.Equal(t, 1, r)
}

func TestPhyRegs_SubRegister(t *testing.T) {
	plat := platform.Default()
	regs := newPhyRegs(plat, ir.Address, opts.FirstFit)
	occupied := make([]uint64, plat.Address.Rows)

	loc, ok := regs.findSubRegister(_Shape{words: 2}, occupied)
	require.True(t, ok)
	require.Equal(t, ir.Location{Reg: 0, Sub: 0}, loc)
	regs.markBusy(loc, _Shape{words: 2})

	loc, ok = regs.findSubRegister(_Shape{words: 1}, occupied)
	require.True(t, ok)
	require.Equal(t, ir.Location{Reg: 0, Sub: 2}, loc)
	regs.markBusy(loc, _Shape{words: 1})

	/* runs stay naturally aligned */
	loc, ok = regs.findSubRegister(_Shape{words: 4}, occupied)
	require.True(t, ok)
	require.Equal(t, ir.Location{Reg: 0, Sub: 4}, loc)
	require.False(t, regs.fits(ir.Location{Reg: 0, Sub: 3}, _Shape{words: 2}))

	/* partially used registers come first */
	grf, _ := grfRegs(t, opts.FirstFit)
	rows := make([]uint64, plat.GRF.Rows)
	rows[5] = 1
	loc, ok = grf.findSubRegister(_Shape{words: 2}, rows)
	require.True(t, ok)
	require.Equal(t, ir.Location{Reg: 5, Sub: 0}, loc)
}

func TestForbidden_Classes(t *testing.T) {
	plat := platform.Default()
	tab := newForbidTable(plat)
	tests := []struct {
		name  string
		file  ir.RegFile
		kinds _ForbidKind
		rows  int
		avail int
	}{
		{"none", ir.GRF, 0, 128, 128 * 8},
		{"reserved", ir.GRF, ForbidReserved, 126, 126 * 8},
		{"eot", ir.GRF, ForbidEOT, 16, 16 * 8},
		{"eot-reserved", ir.GRF, ForbidEOT | ForbidReserved, 15, 15 * 8},
		{"failsafe", ir.GRF, ForbidReserved | ForbidFailSafe, 122, 122 * 8},
		{"caller-save", ir.GRF, ForbidReserved | ForbidCallerSave, 67, 67 * 8},
		{"callee-save", ir.GRF, ForbidReserved | ForbidCalleeSave, 59, 59 * 8},
		{"flag", ir.Flag, ForbidReserved, 2, 4},
		{"flag-failsafe", ir.Flag, ForbidFailSafe, 1, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := tab.get(tc.file, tc.kinds)
			require.Equal(t, tc.rows, f.rows)
			require.Equal(t, tc.avail, f.avail)
			require.Same(t, f, tab.get(tc.file, tc.kinds))
		})
	}
	require.Equal(t, "{reserved, eot}", (ForbidReserved | ForbidEOT).String())

	/* a class that leaves nothing is a bug */
	bad := plat.Clone()
	bad.FailSafeWords = 4
	require.Panics(t, func() { newForbidTable(bad).get(ir.Flag, ForbidFailSafe) })
}

func TestPhyRegs_SubRegisterAlignment(t *testing.T) {
	grf, _ := grfRegs(t, opts.FirstFit)
	rows := make([]uint64, platform.Default().GRF.Rows)
	rows[5] = 1
	grf.markBusy(ir.Location{Reg: 5, Sub: 0}, _Shape{words: 1})

	/* the partially used odd row does not suit an even variable */
	even := _Shape{words: 2, align: ir.AlignEven}
	loc, ok := grf.findSubRegister(even, rows)
	require.True(t, ok)
	require.Equal(t, ir.Location{Reg: 2, Sub: 0}, loc)
	require.False(t, grf.fits(ir.Location{Reg: 5, Sub: 2}, even))
	require.True(t, grf.fits(ir.Location{Reg: 6, Sub: 2}, even))

	/* but it does suit an odd one */
	odd := _Shape{words: 2, align: ir.AlignOdd}
	loc, ok = grf.findSubRegister(odd, rows)
	require.True(t, ok)
	require.Equal(t, ir.Location{Reg: 5, Sub: 2}, loc)

	/* small variables keep the row alignment of their declaration */
	v := &ir.Variable{File: ir.GRF, Size: 16, Align: ir.AlignQuad}
	sh := shapeOf(platform.Default(), v)
	require.True(t, sh.sub())
	require.Equal(t, ir.AlignQuad, sh.align)
}

func TestPhyRegs_Release(t *testing.T) {
	regs, _ := grfRegs(t, opts.FirstFit)
	wide := _Shape{rows: 4}
	regs.allocate(ir.Location{Reg: 1}, wide)
	require.False(t, regs.fits(ir.Location{Reg: 1}, wide))
	r, ok := regs.findContiguous(4, ir.AlignAny, 0, ir.BankNone)
	require.True(t, ok)
	require.Equal(t, 5, r)

	/* freeing the rows makes them available again */
	regs.release(ir.Location{Reg: 1}, wide)
	require.True(t, regs.fits(ir.Location{Reg: 1}, wide))
	r, ok = regs.findContiguous(4, ir.AlignAny, 0, ir.BankNone)
	require.True(t, ok)
	require.Equal(t, 1, r)

	/* a sub-register release leaves the rest of the row in use */
	half := _Shape{words: 4}
	regs.allocate(ir.Location{Reg: 3, Sub: 0}, half)
	regs.allocate(ir.Location{Reg: 3, Sub: 4}, half)
	regs.release(ir.Location{Reg: 3, Sub: 0}, half)
	require.True(t, regs.fits(ir.Location{Reg: 3, Sub: 0}, half))
	require.False(t, regs.fits(ir.Location{Reg: 3, Sub: 4}, half))
	require.False(t, regs.fits(ir.Location{Reg: 3}, _Shape{rows: 1}))
}
