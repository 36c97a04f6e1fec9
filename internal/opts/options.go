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
	"github.com/cloudwego/rowalloc/internal/platform"
	"go.uber.org/zap"
)

// Strategy selects where the register scan starts.
type Strategy uint8

const (
	RoundRobin Strategy = iota
	FirstFit
)

func (self Strategy) String() string {
	if self == FirstFit {
		return "first-fit"
	} else {
		return "round-robin"
	}
}

// CostModel selects the per-reference weight of the spill cost.
type CostModel uint8

const (
	CostFrequency CostModel = iota
	CostStatic
)

type Options struct {
	Platform       *platform.Platform
	Strategy       Strategy
	CostModel      CostModel
	RefExponent    float64
	DegreeExponent float64
	FlatRefWeight  float64
	LoopIterations int
	AddrTakenBoost float64
	MaxRounds      int
	SpillThreshold float64
	DenseLimit     int
	Incremental    bool
	Augment        bool
	Remat          bool
	Split          bool
	Verify         bool
	Debug          bool
	Logger         *zap.Logger
}

// SpillAbort reports whether a weighted spill ratio exceeds the threshold.
// A non-positive threshold disables the check.
func (self *Options) SpillAbort(ratio float64) bool {
	return self.SpillThreshold > 0 && ratio > self.SpillThreshold
}

func GetDefaultOptions() Options {
	return Options{
		Platform:       platform.Default(),
		Strategy:       ScanStrategy,
		CostModel:      CostFrequency,
		RefExponent:    _DefaultRefExponent,
		DegreeExponent: _DefaultDegreeExponent,
		FlatRefWeight:  _DefaultFlatRefWeight,
		LoopIterations: LoopIterations,
		AddrTakenBoost: _DefaultAddrTakenBoost,
		MaxRounds:      MaxRounds,
		SpillThreshold: SpillThreshold,
		DenseLimit:     DenseLimit,
		Incremental:    Incremental,
		Augment:        true,
		Remat:          true,
		Split:          true,
		Verify:         Verify,
		Debug:          Debug,
		Logger:         zap.NewNop(),
	}
}
