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
	"os"

	"github.com/davecgh/go-spew/spew"
	"go.uber.org/zap"
)

var dumper = spew.ConfigState{
	Indent:                  "    ",
	SortKeys:                true,
	DisablePointerMethods:   true,
	DisablePointerAddresses: true,
}

// trace records one round.
func (self *_Allocator) trace(r *_Round, spilled []*_LiveRange) {
	n := 0
	for _, lr := range r.lrs {
		if lr != nil {
			n++
		}
	}
	self.log.Debug("register allocation round",
		zap.Int("round", r.index),
		zap.Bool("failsafe", r.failSafe),
		zap.Int("ranges", n),
		zap.Int("edges", r.g.numEdges()),
		zap.Int("weak", r.weakened),
		zap.Int("spilled", len(spilled)),
	)
	if self.opts.Debug && len(spilled) != 0 {
		names := make([]string, len(spilled))
		for i, lr := range spilled {
			names[i] = lr.String()
		}
		self.dump("spilled", names)
	}
}

// dump writes v to stderr in debug mode.
func (self *_Allocator) dump(name string, v interface{}) {
	if self.opts.Debug {
		fmt.Fprintf(os.Stderr, "---- %s ----\n", name)
		dumper.Fdump(os.Stderr, v)
	}
}
