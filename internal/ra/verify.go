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
	"github.com/cloudwego/rowalloc/internal/opts"
	"github.com/cloudwego/rowalloc/internal/platform"
	"go.uber.org/multierr"
)

// Verify checks an allocated program: every referenced variable has a
// location inside its file, and no two interfering variables overlap unless
// they may share storage at exactly the offset they do.
func Verify(prog *ir.Program, plat *platform.Platform) (err error) {
	live := newLiveness(prog)
	live.compute(nil)
	g := newGraph(live.n(), opts.DenseLimit)
	buildInterference(live, g, nil)
	augment(live, g, nil)

	/* locations */
	live.active.ForEach(func(k int) {
		v := live.vars[k]
		if !v.Fixed() {
			err = multierr.Append(err, fmt.Errorf("%s: no location", v.Name))
			return
		}
		fd := plat.File(v.File)
		if lo, hi := unitsOf(plat, v, v.Loc); lo < 0 || hi > fd.Rows*fd.WordsPerRow() {
			err = multierr.Append(err, fmt.Errorf("%s: location %s out of range", v.Name, v.Loc))
		}
	})
	if err != nil {
		return
	}

	/* interference */
	g.forEach(func(a int, b int) {
		va, vb := live.vars[a], live.vars[b]
		if !live.isActive(a) || !live.isActive(b) || va.File != vb.File {
			return
		}
		alo, ahi := unitsOf(plat, va, va.Loc)
		blo, bhi := unitsOf(plat, vb, vb.Loc)
		if alo < bhi && blo < ahi {
			err = multierr.Append(err, fmt.Errorf("%s at %s overlaps %s at %s", va.Name, va.Loc, vb.Name, vb.Loc))
		}
	})
	for p, off := range g.weak {
		va, vb := live.vars[p[0]], live.vars[p[1]]
		if !live.isActive(p[0]) || !live.isActive(p[1]) || va.File != vb.File {
			continue
		}
		alo, ahi := unitsOf(plat, va, va.Loc)
		blo, bhi := unitsOf(plat, vb, vb.Loc)
		if alo < bhi && blo < ahi && blo-alo != off {
			err = multierr.Append(err, fmt.Errorf("%s at %s partially overlaps %s at %s", va.Name, va.Loc, vb.Name, vb.Loc))
		}
	}
	return
}
