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

// Package ir is the program representation consumed by the register
// allocator: variables, an instruction arena, basic blocks and subroutines.
package ir

import (
	"fmt"
	"strings"
)

// RegFile selects one of the physical register files.
type RegFile uint8

const (
	GRF RegFile = iota
	Address
	Flag
	Scalar
	NumRegFiles
)

var _RegFileNames = [...]string{
	GRF:     "grf",
	Address: "addr",
	Flag:    "flag",
	Scalar:  "scalar",
}

func (self RegFile) String() string {
	if self < NumRegFiles {
		return _RegFileNames[self]
	} else {
		return fmt.Sprintf("regfile(%d)", self)
	}
}

// Align is the row alignment a multi-row variable requires.
type Align uint8

const (
	AlignAny Align = iota
	AlignEven
	AlignOdd
	AlignQuad
)

// Slack is the number of extra rows a neighbor may waste because of this
// alignment requirement.
func (self Align) Slack() int {
	switch self {
	case AlignEven, AlignOdd:
		return 1
	case AlignQuad:
		return 3
	default:
		return 0
	}
}

// Fits reports whether a placement starting at row satisfies the alignment.
func (self Align) Fits(row int) bool {
	switch self {
	case AlignEven:
		return row&1 == 0
	case AlignOdd:
		return row&1 == 1
	case AlignQuad:
		return row&3 == 0
	default:
		return true
	}
}

func (self Align) String() string {
	switch self {
	case AlignEven:
		return "even"
	case AlignOdd:
		return "odd"
	case AlignQuad:
		return "quad"
	default:
		return "any"
	}
}

// Bank is the preferred register bank of a variable.
type Bank uint8

const (
	BankNone Bank = iota
	BankEven
	BankOdd
)

type VarFlags uint16

const (
	Input VarFlags = 1 << iota
	Output
	Pseudo
	SpillTemp
	AddrTaken
	DoNotSpill
	RetAddr
	AvoidBundleConflict
)

var _VarFlagNames = []string{
	"input",
	"output",
	"pseudo",
	"spilltemp",
	"addrtaken",
	"nospill",
	"retaddr",
	"nobundle",
}

func (self VarFlags) String() string {
	var ret []string
	for i, name := range _VarFlagNames {
		if self&(1<<uint(i)) != 0 {
			ret = append(ret, name)
		}
	}
	return strings.Join(ret, "|")
}

// VarID is the stable identity of a variable, its index in Program.Vars.
type VarID int

const (
	NoVar VarID = -1
)

// Location is a physical placement: a register (row) of the variable's file
// and a word offset inside that register.
type Location struct {
	Reg int
	Sub int
}

var NoLocation = Location{Reg: -1}

func (self Location) Valid() bool {
	return self.Reg >= 0
}

func (self Location) String() string {
	if !self.Valid() {
		return "-"
	} else if self.Sub == 0 {
		return fmt.Sprintf("r%d", self.Reg)
	} else {
		return fmt.Sprintf("r%d.%d", self.Reg, self.Sub)
	}
}

// Variable is an allocation candidate.
type Variable struct {
	ID     VarID
	Name   string
	File   RegFile
	Size   int
	Align  Align
	Flags  VarFlags
	Parent VarID
	Offset int
	Bank   Bank
	Loc    Location
}

func ceilDiv(a int, b int) int {
	return (a + b - 1) / b
}

// Rows returns the number of whole rows the variable occupies.
func (self *Variable) Rows(rowBytes int) int {
	if self.Size <= 0 {
		return 1
	} else {
		return ceilDiv(self.Size, rowBytes)
	}
}

// Words returns the number of sub-register words the variable occupies.
func (self *Variable) Words(wordBytes int) int {
	if self.Size <= 0 {
		return 1
	} else {
		return ceilDiv(self.Size, wordBytes)
	}
}

func (self *Variable) Has(flags VarFlags) bool {
	return self.Flags&flags != 0
}

// IsAlias reports whether the variable is a sub-region of another one.
func (self *Variable) IsAlias() bool {
	return self.Parent != NoVar
}

// Fixed reports whether the variable is pinned to a physical location.
func (self *Variable) Fixed() bool {
	return self.Loc.Valid()
}

func (self *Variable) String() string {
	if self.Name != "" {
		return fmt.Sprintf("%s#%d", self.Name, self.ID)
	} else {
		return fmt.Sprintf("v%d", self.ID)
	}
}
