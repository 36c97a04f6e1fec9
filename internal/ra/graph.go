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
	"sort"

	"github.com/cloudwego/rowalloc/internal/bitvec"
)

type _Pair [2]int

func pairOf(a int, b int) _Pair {
	if a > b {
		a, b = b, a
	}
	return _Pair{a, b}
}

// _Graph is the interference graph over dense variable ids. Small graphs use
// a triangular bit matrix, larger ones a sparse row per node. Weak edges are
// kept apart: their endpoints may share storage at a fixed offset.
type _Graph struct {
	n      int
	limit  int
	dense  *bitvec.Vector
	sparse []bitvec.Sparse
	weak   map[_Pair]int
	forced map[_Pair]struct{}
	adj    [][]int
	wadj   [][]int
}

func newGraph(n int, limit int) *_Graph {
	ret := &_Graph{
		limit:  limit,
		weak:   make(map[_Pair]int),
		forced: make(map[_Pair]struct{}),
	}
	ret.grow(n)
	return ret
}

func triangle(n int) int {
	return n * (n - 1) / 2
}

// grow makes room for n nodes. Existing edges keep their slots since the
// triangular index of a pair does not depend on the node count.
func (self *_Graph) grow(n int) {
	if n < self.n {
		return
	}

	/* switch to sparse rows once the matrix gets too large */
	if self.dense == nil && self.sparse == nil && n <= self.limit {
		v := bitvec.New(triangle(n))
		self.dense = &v
	} else if self.dense != nil && n > self.limit {
		old := self.dense
		self.dense = nil
		self.sparse = make([]bitvec.Sparse, n)
		for hi := 1; hi < self.n; hi++ {
			for lo := 0; lo < hi; lo++ {
				if old.Has(triangle(hi) + lo) {
					self.sparse[lo].Set(hi)
				}
			}
		}
	} else if self.dense != nil {
		self.dense.Resize(triangle(n))
	}

	/* sparse rows */
	for len(self.sparse) < n && self.dense == nil {
		self.sparse = append(self.sparse, bitvec.Sparse{})
	}
	self.n = n
}

func (self *_Graph) index(lo int, hi int) int {
	idx := triangle(hi) + lo
	if idx >= self.dense.Len() {
		bug("interference index %d of (%d, %d) overflows the matrix of %d nodes", idx, lo, hi, self.n)
	}
	return idx
}

func (self *_Graph) check(a int, b int) {
	if a < 0 || b < 0 || a >= self.n || b >= self.n {
		bug("interference edge (%d, %d) out of range [0, %d)", a, b, self.n)
	}
}

func (self *_Graph) add(a int, b int) {
	if a == b {
		return
	}
	self.check(a, b)
	p := pairOf(a, b)
	if self.dense != nil {
		self.dense.Set(self.index(p[0], p[1]))
	} else {
		self.sparse[p[0]].Set(p[1])
	}
}

// force adds an edge augmentation must never weaken.
func (self *_Graph) force(a int, b int) {
	if a != b {
		self.add(a, b)
		self.forced[pairOf(a, b)] = struct{}{}
	}
}

func (self *_Graph) has(a int, b int) bool {
	if a == b || a < 0 || b < 0 || a >= self.n || b >= self.n {
		return false
	}
	p := pairOf(a, b)
	if self.dense != nil {
		return self.dense.Has(self.index(p[0], p[1]))
	} else {
		return self.sparse[p[0]].Has(p[1])
	}
}

func (self *_Graph) isForced(a int, b int) bool {
	_, ok := self.forced[pairOf(a, b)]
	return ok
}

func (self *_Graph) remove(a int, b int) {
	if !self.has(a, b) {
		return
	}
	p := pairOf(a, b)
	if self.dense != nil {
		self.dense.Clear(self.index(p[0], p[1]))
	} else {
		self.sparse[p[0]].Clear(p[1])
	}
}

// addWeak records that b may live at a word offset from a.
func (self *_Graph) addWeak(a int, b int, off int) {
	if a > b {
		a, b, off = b, a, -off
	}
	self.weak[_Pair{a, b}] = off
}

// weakOffset returns the word offset of b relative to a.
func (self *_Graph) weakOffset(a int, b int) (int, bool) {
	off, ok := self.weak[pairOf(a, b)]
	if ok && a > b {
		off = -off
	}
	return off, ok
}

// clear drops every edge touching a node of the set.
func (self *_Graph) clear(nodes *bitvec.Vector) {
	nodes.ForEach(func(a int) {
		if a >= self.n {
			return
		}
		for x := 0; x < self.n; x++ {
			self.remove(a, x)
		}
	})
	for p := range self.weak {
		if nodes.Has(p[0]) || nodes.Has(p[1]) {
			delete(self.weak, p)
		}
	}
	for p := range self.forced {
		if nodes.Has(p[0]) || nodes.Has(p[1]) {
			delete(self.forced, p)
		}
	}
}

// forEach calls fn for every full edge with lo < hi.
func (self *_Graph) forEach(fn func(lo int, hi int)) {
	if self.dense != nil {
		for hi := 1; hi < self.n; hi++ {
			base := triangle(hi)
			for lo := 0; lo < hi; lo++ {
				if self.dense.Has(base + lo) {
					fn(lo, hi)
				}
			}
		}
	} else {
		for lo := range self.sparse {
			self.sparse[lo].ForEach(func(hi int) { fn(lo, hi) })
		}
	}
}

// finalize builds the adjacency lists the coloring walks.
func (self *_Graph) finalize() {
	self.adj = make([][]int, self.n)
	self.wadj = make([][]int, self.n)
	self.forEach(func(lo int, hi int) {
		self.adj[lo] = append(self.adj[lo], hi)
		self.adj[hi] = append(self.adj[hi], lo)
	})
	for p := range self.weak {
		self.wadj[p[0]] = append(self.wadj[p[0]], p[1])
		self.wadj[p[1]] = append(self.wadj[p[1]], p[0])
	}
	for _, w := range self.wadj {
		sort.Ints(w)
	}
}

func (self *_Graph) numEdges() int {
	n := 0
	self.forEach(func(int, int) { n++ })
	return n
}
