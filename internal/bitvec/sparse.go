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
	"math/bits"
	"sort"
)

// Sparse is a bit set that only stores the 64-bit words that have bits set.
// The zero value is an empty set ready to use.
type Sparse struct {
	words map[int]uint64
}

func (self *Sparse) Has(i int) bool {
	return self.words[i>>6]&(1<<uint(i&63)) != 0
}

func (self *Sparse) Set(i int) {
	if self.words == nil {
		self.words = make(map[int]uint64)
	}
	self.words[i>>6] |= 1 << uint(i&63)
}

func (self *Sparse) Clear(i int) {
	k := i >> 6
	if v, ok := self.words[k]; ok {
		if v &^= 1 << uint(i&63); v == 0 {
			delete(self.words, k)
		} else {
			self.words[k] = v
		}
	}
}

func (self *Sparse) Reset() {
	self.words = nil
}

func (self *Sparse) Count() int {
	n := 0
	for _, v := range self.words {
		n += bits.OnesCount64(v)
	}
	return n
}

// ForEach calls fn for every set bit, in increasing order.
func (self *Sparse) ForEach(fn func(i int)) {
	keys := make([]int, 0, len(self.words))
	for k := range self.words {
		keys = append(keys, k)
	}

	/* iterate in key order to stay deterministic */
	sort.Ints(keys)
	for _, k := range keys {
		for v := self.words[k]; v != 0; v &= v - 1 {
			fn(k<<6 + bits.TrailingZeros64(v))
		}
	}
}
