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

package rowalloc

import (
	"fmt"

	"github.com/cloudwego/rowalloc/internal/opts"
	"go.uber.org/zap"
)

// Option is the property setter function for opts.Options.
type Option func(*opts.Options)

// WithPlatform selects the register files the program is allocated onto.
//
// The default is the "gen9" profile.
func WithPlatform(p *Platform) Option {
	if p == nil {
		panic("rowalloc: nil platform")
	} else if err := p.Validate(); err != nil {
		panic(fmt.Sprintf("rowalloc: invalid platform %q: %v", p.Name, err))
	} else {
		return func(o *opts.Options) { o.Platform = p }
	}
}

// WithFirstFit makes every register search start from the lowest row
// instead of rotating after the previous assignment.
//
// Round-robin spreads variables over the file and leaves more freedom to
// later rewrites; first-fit packs them and keeps the high rows free.
func WithFirstFit(v bool) Option {
	return func(o *opts.Options) {
		if v {
			o.Strategy = opts.FirstFit
		} else {
			o.Strategy = opts.RoundRobin
		}
	}
}

// WithStaticCost weighs every reference with a flat weight instead of the
// estimated execution frequency of its block.
func WithStaticCost(weight float64) Option {
	if weight <= 0 {
		panic(fmt.Sprintf("rowalloc: invalid reference weight: %g", weight))
	} else {
		return func(o *opts.Options) { o.CostModel, o.FlatRefWeight = opts.CostStatic, weight }
	}
}

// WithCostExponents sets the exponents of the spill cost, which is
// computed as refs^ref / degree^deg.
//
// The default value of both exponents is "1".
func WithCostExponents(ref float64, deg float64) Option {
	if ref < 0 || deg < 0 {
		panic(fmt.Sprintf("rowalloc: invalid cost exponents: %g, %g", ref, deg))
	} else {
		return func(o *opts.Options) { o.RefExponent, o.DegreeExponent = ref, deg }
	}
}

// WithLoopIterations sets the trip count assumed for every loop level when
// estimating block frequencies.
//
// The default value of this option is "8".
func WithLoopIterations(n int) Option {
	if n < 1 {
		panic(fmt.Sprintf("rowalloc: invalid loop iterations: %d", n))
	} else {
		return func(o *opts.Options) { o.LoopIterations = n }
	}
}

// WithMaxRounds sets the number of ordinary coloring rounds before the
// fail-safe round takes over.
//
// Set this option to "0" goes straight to the fail-safe round whenever
// the first coloring spills.
//
// The default value of this option is "5".
func WithMaxRounds(n int) Option {
	if n < 0 {
		panic(fmt.Sprintf("rowalloc: invalid max rounds: %d", n))
	} else {
		return func(o *opts.Options) { o.MaxRounds = n }
	}
}

// WithSpillThreshold aborts the allocation when the frequency weighted share
// of spill and fill instructions goes above the threshold.
//
// Set this option to "0" disables the check.
//
// The default value of this option is "0.8".
func WithSpillThreshold(ratio float64) Option {
	if ratio < 0 || ratio > 1 {
		panic(fmt.Sprintf("rowalloc: invalid spill threshold: %g", ratio))
	} else {
		return func(o *opts.Options) { o.SpillThreshold = ratio }
	}
}

// WithDenseLimit sets the number of live ranges up to which the
// interference graph is kept as a bit matrix. Larger graphs use adjacency
// sets.
//
// The default value of this option is "4096".
func WithDenseLimit(n int) Option {
	if n < 1 {
		panic(fmt.Sprintf("rowalloc: invalid dense limit: %d", n))
	} else {
		return func(o *opts.Options) { o.DenseLimit = n }
	}
}

// WithIncremental recomputes liveness only for the blocks touched by the
// previous round's rewrites.
func WithIncremental(v bool) Option {
	return func(o *opts.Options) { o.Incremental = v }
}

// WithAugmentation lets variables written under disjoint channel masks share
// a register.
func WithAugmentation(v bool) Option {
	return func(o *opts.Options) { o.Augment = v }
}

// WithRematerialization recomputes cheap values next to their uses instead
// of spilling them.
func WithRematerialization(v bool) Option {
	return func(o *opts.Options) { o.Remat = v }
}

// WithSplitting splits variables live across loops with no reference inside
// before falling back to spills.
func WithSplitting(v bool) Option {
	return func(o *opts.Options) { o.Split = v }
}

// WithVerify re-checks the final assignment against a fresh interference
// graph before returning.
func WithVerify(v bool) Option {
	return func(o *opts.Options) { o.Verify = v }
}

// WithDebug dumps every round to stderr.
func WithDebug(v bool) Option {
	return func(o *opts.Options) { o.Debug = v }
}

// WithLogger sets the logger every round is reported to.
func WithLogger(l *zap.Logger) Option {
	if l == nil {
		panic("rowalloc: nil logger")
	} else {
		return func(o *opts.Options) { o.Logger = l }
	}
}

// SetMaxRounds sets the default number of ordinary coloring rounds from now
// on.
//
// This value can also be configured with the `ROWALLOC_MAX_ROUNDS`
// environment variable.
//
// Returns the old opts.MaxRounds value.
func SetMaxRounds(n int) int {
	n, opts.MaxRounds = opts.MaxRounds, n
	return n
}

// SetSpillThreshold sets the default spill threshold from now on.
//
// This value can also be configured with the `ROWALLOC_SPILL_THRESHOLD`
// environment variable.
//
// Returns the old opts.SpillThreshold value.
func SetSpillThreshold(ratio float64) float64 {
	ratio, opts.SpillThreshold = opts.SpillThreshold, ratio
	return ratio
}

// SetDenseLimit sets the default dense graph limit from now on.
//
// This value can also be configured with the `ROWALLOC_DENSE_LIMIT`
// environment variable.
//
// Returns the old opts.DenseLimit value.
func SetDenseLimit(n int) int {
	n, opts.DenseLimit = opts.DenseLimit, n
	return n
}
