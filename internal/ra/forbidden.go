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
	"strings"

	"github.com/cloudwego/rowalloc/internal/bitvec"
	"github.com/cloudwego/rowalloc/internal/ir"
	"github.com/cloudwego/rowalloc/internal/platform"
)

// _ForbidKind is a set of reasons a register may be off limits.
type _ForbidKind uint8

const (
	ForbidReserved _ForbidKind = 1 << iota
	ForbidEOT
	ForbidCallerSave
	ForbidCalleeSave
	ForbidFailSafe
)

func (self _ForbidKind) String() string {
	var ret []string
	for i, name := range [...]string{"reserved", "eot", "caller_save", "callee_save", "failsafe"} {
		if self&(1<<uint(i)) != 0 {
			ret = append(ret, name)
		}
	}
	return "{" + strings.Join(ret, ", ") + "}"
}

// _Forbidden is one class of forbidden registers, word by word.
type _Forbidden struct {
	file  ir.RegFile
	kinds _ForbidKind
	words bitvec.Vector
	rows  int
	avail int
}

// row reports whether any word of the register is forbidden.
func (self *_Forbidden) row(r int, wpr int) bool {
	for w := r * wpr; w < (r+1)*wpr; w++ {
		if self.words.Has(w) {
			return true
		}
	}
	return false
}

// _ForbidTable memoizes the classes by register file and kinds.
type _ForbidTable struct {
	plat    *platform.Platform
	reserve _Reserve
	classes map[[2]int]*_Forbidden
}

func newForbidTable(plat *platform.Platform) *_ForbidTable {
	return &_ForbidTable{
		plat:    plat,
		reserve: defaultReserve(plat),
		classes: make(map[[2]int]*_Forbidden),
	}
}

func (self *_ForbidTable) get(file ir.RegFile, kinds _ForbidKind) *_Forbidden {
	key := [2]int{int(file), int(kinds)}
	if f, ok := self.classes[key]; ok {
		return f
	}
	f := self.build(file, kinds)
	self.classes[key] = f
	return f
}

func (self *_ForbidTable) build(file ir.RegFile, kinds _ForbidKind) *_Forbidden {
	fd := self.plat.File(file)
	wpr := fd.WordsPerRow()
	ret := &_Forbidden{
		file:  file,
		kinds: kinds,
		words: bitvec.New(fd.Rows * wpr),
	}
	rows := func(lo int, hi int) {
		ret.words.SetRange(lo*wpr, hi*wpr)
	}

	/* the rows only matter for the GRF */
	if file == ir.GRF {
		if kinds&ForbidReserved != 0 {
			for _, r := range self.plat.Reserved {
				rows(r, r+1)
			}
		}
		if kinds&ForbidEOT != 0 {
			rows(0, fd.Rows-self.plat.EOTRows)
		}
		if kinds&ForbidCallerSave != 0 {
			rows(self.plat.CallerSave.Lo, self.plat.CallerSave.Hi)
		}
		if kinds&ForbidCalleeSave != 0 {
			rows(self.plat.CalleeSave.Lo, self.plat.CalleeSave.Hi)
		}
		if kinds&ForbidFailSafe != 0 {
			rows(self.reserve.grf.Lo, self.reserve.grf.Hi)
		}
	} else if kinds&ForbidFailSafe != 0 {
		n := fd.Rows * wpr
		ret.words.SetRange(n-self.reserve.words[file], n)
	}

	/* count what is left */
	for r := 0; r < fd.Rows; r++ {
		if !ret.row(r, wpr) {
			ret.rows++
		}
	}
	ret.avail = ret.words.Len() - ret.words.Count()
	if ret.avail == 0 {
		bug("forbidden classes %s leave no room in the %s file", kinds, file)
	}
	return ret
}

func (self *_Forbidden) String() string {
	return fmt.Sprintf("%s%s", self.file, self.kinds)
}
