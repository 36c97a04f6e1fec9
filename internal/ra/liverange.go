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

	"github.com/cloudwego/rowalloc/internal/ir"
	"github.com/cloudwego/rowalloc/internal/platform"
)

// _LiveRange is the allocation candidate of one root variable in one round.
type _LiveRange struct {
	id            int
	v             *ir.Variable
	shape         _Shape
	need          int
	degree        int
	kinds         _ForbidKind
	forbid        *_Forbidden
	refs          int
	wrefs         float64
	read          bool
	cost          float64
	loc           ir.Location
	fixed         bool
	spilled       bool
	removed       bool
	unconstrained bool
	bank          ir.Bank
	hint          int
}

func shapeOf(plat *platform.Platform, v *ir.Variable) _Shape {
	fd := plat.File(v.File)
	ret := _Shape{rows: v.Rows(fd.RowBytes)}
	if v.Size < fd.RowBytes {
		ret = _Shape{words: v.Words(fd.WordBytes)}
	}
	if v.File == ir.GRF {
		ret.align = v.Align
	}
	return ret
}

func newLiveRange(plat *platform.Platform, id int, v *ir.Variable) *_LiveRange {
	ret := &_LiveRange{
		id:    id,
		v:     v,
		shape: shapeOf(plat, v),
		loc:   v.Loc,
		fixed: v.Fixed(),
		bank:  v.Bank,
		hint:  -1,
	}

	/* GRF degrees count rows, the other files count words */
	if v.File == ir.GRF {
		if ret.need = ret.shape.rows; ret.shape.sub() {
			ret.need = 1
		}
	} else {
		if ret.need = ret.shape.words; !ret.shape.sub() {
			ret.need = ret.shape.rows * plat.File(v.File).WordsPerRow()
		}
	}
	return ret
}

// colors is the number of units left by the forbidden class.
func (self *_LiveRange) colors() int {
	if self.v.File == ir.GRF {
		return self.forbid.rows
	} else {
		return self.forbid.avail
	}
}

func (self *_LiveRange) placed() bool {
	return !self.spilled && self.loc.Valid()
}

// unitsOf returns the absolute word range [lo, hi) a location covers.
func unitsOf(plat *platform.Platform, v *ir.Variable, loc ir.Location) (int, int) {
	fd := plat.File(v.File)
	wpr := fd.WordsPerRow()
	lo := loc.Reg*wpr + loc.Sub
	if v.Size < fd.RowBytes {
		return lo, lo + v.Words(fd.WordBytes)
	} else {
		return lo, lo + v.Rows(fd.RowBytes)*wpr
	}
}

func (self *_LiveRange) String() string {
	return fmt.Sprintf("lr_%d(%s, deg=%d, cost=%g, loc=%s)", self.id, self.v.Name, self.degree, self.cost, self.loc)
}
