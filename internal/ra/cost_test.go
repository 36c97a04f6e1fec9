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
	"math"
	"testing"

	"github.com/cloudwego/rowalloc/internal/ir"
	"github.com/cloudwego/rowalloc/internal/opts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func costRound(t *testing.T, model opts.CostModel) (*_Round, map[string]*_LiveRange) {
	b := ir.NewBuilder(16)
	f := b.Decl("f", ir.Flag, 2, ir.AlignAny, 0)
	in := b.Decl("in", ir.GRF, 32, ir.AlignAny, ir.Input)
	hot := b.Var("hot", 32)
	cold := b.Var("cold", 32)
	dead := b.Var("dead", 32)
	b.Mov(cold, ir.Imm(1))
	b.Mov(hot, ir.Imm(2))
	b.Mov(dead, ir.Imm(3))
	b.Label("loop")
	b.Add(hot, ir.Ref(hot), ir.Ref(in))
	b.Cmp(f, ir.Ref(hot), ir.Imm(0))
	b.Br(f, "loop")
	b.Use(ir.Ref(cold), ir.Ref(hot))
	prog := b.Build()

	o := testOptions()
	o.CostModel = model
	o.LoopIterations = 8
	a := newAllocator(prog, o)
	a.live = newLiveness(prog)
	a.live.compute(nil)
	r := a.newRound(0, false, nil)

	ret := make(map[string]*_LiveRange)
	for _, v := range []ir.VarID{in, hot, cold, dead} {
		k, ok := r.live.id(v)
		require.True(t, ok)
		require.NotNil(t, r.lrs[k])
		ret[prog.Var(v).Name] = r.lrs[k]
	}
	return r, ret
}

func TestCost_Frequency(t *testing.T) {
	_, lrs := costRound(t, opts.CostFrequency)
	hot, cold := lrs["hot"], lrs["cold"]
	assert.Equal(t, 5, hot.refs)
	assert.Equal(t, 26.0, hot.wrefs)
	assert.Equal(t, 2, cold.refs)
	assert.Equal(t, 2.0, cold.wrefs)
	assert.Greater(t, hot.cost, cold.cost)
	assert.True(t, less(cold, hot))
	assert.True(t, math.IsInf(lrs["in"].cost, 1))
	assert.True(t, math.IsInf(lrs["dead"].cost, -1))
	assert.True(t, less(lrs["dead"], cold))
}

func TestCost_Static(t *testing.T) {
	_, lrs := costRound(t, opts.CostStatic)
	for _, name := range []string{"hot", "cold"} {
		lr := lrs[name]
		require.Positive(t, lr.degree)
		assert.InDelta(t, float64(lr.refs)/float64(lr.degree), lr.cost, 1e-9, name)
	}
}
