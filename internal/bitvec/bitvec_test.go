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

package bitvec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVector(t *testing.T) {
	s := New(1000)
	for i := 0; i < 1000; i++ {
		if i%2 == 0 {
			s.Set(i)
		}
		if i%4 == 0 {
			s.Clear(i)
		}
	}
	for i := 0; i < 1000; i++ {
		if i%4 == 0 {
			require.False(t, s.Has(i))
		} else if i%2 == 0 {
			require.True(t, s.Has(i))
		} else {
			require.False(t, s.Has(i))
		}
	}
	require.Equal(t, 250, s.Count())
	require.False(t, s.Has(-1))
	require.False(t, s.Has(1000))
	require.Panics(t, func() { s.Set(1000) })
}

func TestVector_SetOps(t *testing.T) {
	a, b := New(130), New(130)
	a.Set(1)
	a.Set(64)
	a.Set(129)
	b.Set(64)
	b.Set(100)

	c := a.Clone()
	require.True(t, c.Union(&b))
	require.False(t, c.Union(&b))
	require.Equal(t, []int{1, 64, 100, 129}, c.Slice())
	require.True(t, c.Contains(&a))
	require.True(t, c.Contains(&b))
	require.False(t, a.Contains(&c))

	c.Subtract(&b)
	require.Equal(t, []int{1, 129}, c.Slice())

	d := a.Clone()
	d.Intersect(&b)
	require.Equal(t, []int{64}, d.Slice())
	require.True(t, a.Intersects(&b))
	require.False(t, c.Intersects(&b))
	require.Equal(t, "{1, 129}", c.String())
}

func TestVector_Resize(t *testing.T) {
	a := New(10)
	a.Fill()
	require.Equal(t, 10, a.Count())
	a.Resize(70)
	require.Equal(t, 10, a.Count())
	a.Set(69)
	a.Resize(5)
	require.Equal(t, 5, a.Count())
	require.False(t, a.Has(69))

	/* mismatched lengths behave as if padded with zeros */
	b := New(200)
	b.Set(150)
	b.Set(2)
	require.False(t, a.Contains(&b))
	require.True(t, b.Intersects(&a))
	require.False(t, a.Equal(&b))
	require.True(t, a.Copy(&b))
	require.Equal(t, []int{2}, a.Slice())
}

func TestVector_Shared(t *testing.T) {
	a := New(100)
	b := a
	b.Set(70)
	require.True(t, a.Has(70))

	/* a longer operand never grows the vector */
	c := New(300)
	c.Set(5)
	c.Set(250)
	require.True(t, a.Union(&c))
	require.Equal(t, 100, a.Len())
	require.Equal(t, []int{5, 70}, a.Slice())
	a.Intersect(&c)
	require.Equal(t, []int{5}, a.Slice())

	var z Vector
	require.True(t, z.Empty())
	require.False(t, z.Has(0))
	require.Equal(t, "{}", z.String())
}

func TestSparse(t *testing.T) {
	var s Sparse
	require.False(t, s.Has(12345))
	s.Set(12345)
	s.Set(3)
	s.Set(70000)
	require.True(t, s.Has(12345))
	require.Equal(t, 3, s.Count())

	var got []int
	s.ForEach(func(i int) { got = append(got, i) })
	require.Equal(t, []int{3, 12345, 70000}, got)

	s.Clear(12345)
	s.Clear(99)
	require.False(t, s.Has(12345))
	require.Equal(t, 2, s.Count())
	s.Reset()
	require.Equal(t, 0, s.Count())
}
