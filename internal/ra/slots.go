/*
 * Copyright 2022 CloudWeGo Authors
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
	"sort"
	"strings"
)

// Slot is a row-aligned range of scratch memory holding a spilled variable.
type Slot struct {
	Offset int
	Rows   int
}

func (self Slot) String() string {
	return fmt.Sprintf("scratch[%#x:%d]", self.Offset, self.Rows)
}

type (
	SlotSet map[Slot]struct{}
)

func (self SlotSet) add(r Slot) bool {
	if _, ok := self[r]; ok {
		return false
	} else {
		self[r] = struct{}{}
		return true
	}
}

func (self SlotSet) String() string {
	nb := len(self)
	rs := make([]string, 0, nb)
	rr := make([]Slot, 0, nb)

	/* extract all slot */
	for r := range self {
		rr = append(rr, r)
	}

	/* sort by offset */
	sort.Slice(rr, func(i int, j int) bool {
		return rr[i].Offset < rr[j].Offset
	})

	/* convert every slot */
	for _, r := range rr {
		rs = append(rs, r.String())
	}

	/* join them together */
	return fmt.Sprintf(
		"{%s}",
		strings.Join(rs, ", "),
	)
}

// _SlotAllocator hands out scratch slots bottom up. Slots are never reused:
// a spilled variable keeps its home until the program ends.
type _SlotAllocator struct {
	rowBytes int
	top      int
	slots    SlotSet
}

func newSlotAllocator(rowBytes int) *_SlotAllocator {
	return &_SlotAllocator{
		rowBytes: rowBytes,
		slots:    make(SlotSet),
	}
}

func (self *_SlotAllocator) alloc(rows int) Slot {
	ret := Slot{Offset: self.top, Rows: rows}
	if !self.slots.add(ret) {
		bug("scratch slot %s allocated twice", ret)
	}
	self.top += rows * self.rowBytes
	return ret
}

// size is the scratch space used so far, in bytes.
func (self *_SlotAllocator) size() int {
	return self.top
}
