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

package opts

import (
	"strconv"

	"github.com/xyproto/env/v2"
)

const (
	_DefaultMaxRounds      = 5    // fail-safe after 5 ordinary rounds
	_DefaultSpillThreshold = 0.8  // abort when 80% of the weighted instructions are spill code
	_DefaultRefExponent    = 1.0  // cost grows linearly with references
	_DefaultDegreeExponent = 1.0  // and shrinks linearly with degree
	_DefaultFlatRefWeight  = 1.0  // per-reference weight of the static model
	_DefaultLoopIterations = 8    // assumed trip count of every loop level
	_DefaultAddrTakenBoost = 1e18 // above any ordinary cost
	_DefaultDenseLimit     = 4096 // dense interference matrix up to 4096 ranges
)

var (
	MaxRounds      = parseOrDefault("ROWALLOC_MAX_ROUNDS", _DefaultMaxRounds, 0)
	DenseLimit     = parseOrDefault("ROWALLOC_DENSE_LIMIT", _DefaultDenseLimit, 1)
	LoopIterations = parseOrDefault("ROWALLOC_LOOP_ITERATIONS", _DefaultLoopIterations, 1)
	SpillThreshold = parseFloatOrDefault("ROWALLOC_SPILL_THRESHOLD", _DefaultSpillThreshold)
	ScanStrategy   = parseStrategy("ROWALLOC_STRATEGY")
	Incremental    = env.Bool("ROWALLOC_INCREMENTAL")
	Verify         = env.Bool("ROWALLOC_VERIFY")
	Debug          = env.Bool("ROWALLOC_DEBUG")
)

func parseOrDefault(key string, def int, min int) int {
	if !env.Has(key) {
		return def
	} else if ret := env.Int(key, -1); ret < 0 {
		panic("rowalloc: invalid value for " + key)
	} else if ret < min {
		panic("rowalloc: value too small for " + key)
	} else {
		return ret
	}
}

func parseFloatOrDefault(key string, def float64) float64 {
	if !env.Has(key) {
		return def
	} else if ret, err := strconv.ParseFloat(env.Str(key), 64); err != nil {
		panic("rowalloc: invalid value for " + key)
	} else {
		return ret
	}
}

func parseStrategy(key string) Strategy {
	switch v := env.Str(key, "round-robin"); v {
	case "round-robin":
		return RoundRobin
	case "first-fit":
		return FirstFit
	default:
		panic("rowalloc: invalid value for " + key + ": " + v)
	}
}
