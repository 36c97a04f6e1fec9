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

// Package bitvec provides the bit sets used by the liveness and interference
// analyses: a dense vector sized up front, and a sparse set for wide id spaces.
package bitvec

import (
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// Vector is a bit vector over [0, Len()).
//
// Binary operations between vectors of different lengths treat the missing
// tail of the shorter one as zeros. Copies of a Vector share their bits.
type Vector struct {
	n  int
	bs *bitset.BitSet
}

// New returns an empty vector able to hold n bits.
func New(n int) Vector {
	return Vector{
		n:  n,
		bs: bitset.New(uint(n)),
	}
}

func (self *Vector) set() *bitset.BitSet {
	if self.bs == nil {
		self.bs = bitset.New(uint(self.n))
	}
	return self.bs
}

// fit drops whatever an operation with a longer vector added past the end.
func (self *Vector) fit() {
	switch bs := self.set(); {
	case bs.Len() <= uint(self.n):
		break
	case self.n == 0:
		self.bs = bitset.New(0)
	default:
		bs.Shrink(uint(self.n - 1))
	}
}

// Len returns the number of bits the vector can hold.
func (self *Vector) Len() int {
	return self.n
}

// Resize grows or shrinks the vector, keeping the bits that still fit.
func (self *Vector) Resize(n int) {
	old := self.set()
	self.n, self.bs = n, bitset.New(uint(n))
	old.Copy(self.bs)
}

func (self *Vector) check(i int) {
	if i < 0 || i >= self.n {
		panic(fmt.Sprintf("bitvec: index %d out of range [0, %d)", i, self.n))
	}
}

func (self *Vector) Has(i int) bool {
	if i < 0 || i >= self.n {
		return false
	} else {
		return self.set().Test(uint(i))
	}
}

func (self *Vector) Set(i int) {
	self.check(i)
	self.set().Set(uint(i))
}

func (self *Vector) Clear(i int) {
	self.check(i)
	self.set().Clear(uint(i))
}

// SetRange sets every bit in [lo, hi).
func (self *Vector) SetRange(lo int, hi int) {
	for i := lo; i < hi; i++ {
		self.Set(i)
	}
}

// Reset clears all bits.
func (self *Vector) Reset() {
	self.set().ClearAll()
}

// Fill sets all bits.
func (self *Vector) Fill() {
	if bs := self.set(); self.n > 0 {
		bs.ClearAll()
		bs.FlipRange(0, uint(self.n))
	}
}

func (self *Vector) Clone() Vector {
	return Vector{n: self.n, bs: self.set().Clone()}
}

// Copy overwrites the vector with src, reporting whether anything changed.
func (self *Vector) Copy(src *Vector) bool {
	if self.Equal(src) {
		return false
	}
	dst := self.set()
	dst.ClearAll()
	src.set().Copy(dst)
	return true
}

// Union sets self to self ∪ other, reporting whether anything changed.
func (self *Vector) Union(other *Vector) bool {
	bs := self.set()
	n := bs.Count()
	bs.InPlaceUnion(other.set())
	self.fit()
	return self.bs.Count() != n
}

// Subtract sets self to self − other.
func (self *Vector) Subtract(other *Vector) {
	self.set().InPlaceDifference(other.set())
}

// Intersect sets self to self ∩ other.
func (self *Vector) Intersect(other *Vector) {
	self.set().InPlaceIntersection(other.set())
	self.fit()
}

// Intersects reports whether self ∩ other is non-empty.
func (self *Vector) Intersects(other *Vector) bool {
	return self.set().IntersectionCardinality(other.set()) != 0
}

// Contains reports whether other ⊆ self.
func (self *Vector) Contains(other *Vector) bool {
	return self.set().IsSuperSet(other.set())
}

func (self *Vector) Equal(other *Vector) bool {
	return self.Contains(other) && other.Contains(self)
}

func (self *Vector) Empty() bool {
	return self.set().None()
}

// Count returns the number of bits set.
func (self *Vector) Count() int {
	return int(self.set().Count())
}

// ForEach calls fn for every set bit, in increasing order.
func (self *Vector) ForEach(fn func(i int)) {
	bs := self.set()
	for i, ok := bs.NextSet(0); ok; i, ok = bs.NextSet(i + 1) {
		fn(int(i))
	}
}

// Slice returns the set bits in increasing order.
func (self *Vector) Slice() []int {
	ret := make([]int, 0, self.Count())
	self.ForEach(func(i int) { ret = append(ret, i) })
	return ret
}

func (self Vector) String() string {
	buf := make([]string, 0, self.Count())
	self.ForEach(func(i int) { buf = append(buf, fmt.Sprint(i)) })
	return fmt.Sprintf("{%s}", strings.Join(buf, ", "))
}
