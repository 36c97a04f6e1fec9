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

// Package rowalloc is a register allocator for GPU kernels. It colors the
// variables of a program onto the rows of the physical register files of a
// platform, inserting spill, fill, split and rematerialization code when the
// program does not fit.
package rowalloc

import (
	"github.com/cloudwego/rowalloc/internal/ir"
	"github.com/cloudwego/rowalloc/internal/opts"
	"github.com/cloudwego/rowalloc/internal/platform"
	"github.com/cloudwego/rowalloc/internal/ra"
)

type (
	Program    = ir.Program
	Builder    = ir.Builder
	Block      = ir.Block
	Subroutine = ir.Subroutine
	Variable   = ir.Variable
	VarID      = ir.VarID
	VarFlags   = ir.VarFlags
	RegFile    = ir.RegFile
	Align      = ir.Align
	Instr      = ir.Instr
	Opcode     = ir.Opcode
	Operand    = ir.Operand
	Location   = ir.Location
	Platform   = platform.Platform
	Result     = ra.Result
	Stats      = ra.Stats
	Slot       = ra.Slot
)

const (
	GRF     = ir.GRF
	Address = ir.Address
	Flag    = ir.Flag
	Scalar  = ir.Scalar
)

const (
	AlignAny  = ir.AlignAny
	AlignEven = ir.AlignEven
	AlignOdd  = ir.AlignOdd
	AlignQuad = ir.AlignQuad
)

const (
	Input      = ir.Input
	Output     = ir.Output
	AddrTaken  = ir.AddrTaken
	DoNotSpill = ir.DoNotSpill
	RetAddr    = ir.RetAddr
)

// NewBuilder creates a program builder for the given dispatch width.
func NewBuilder(simd int) *Builder {
	return ir.NewBuilder(simd)
}

// Imm is an immediate operand.
func Imm(v int64) Operand {
	return ir.Imm(v)
}

// Ref is an operand covering the whole variable.
func Ref(v VarID) Operand {
	return ir.Ref(v)
}

// Sub is an operand covering size bytes of v at offset.
func Sub(v VarID, offset int, size int) Operand {
	return ir.Sub(v, offset, size)
}

// Ind is an indirect operand through the address variable addr.
func Ind(addr VarID) Operand {
	return ir.Ind(addr)
}

// DefaultPlatform returns the default platform profile.
func DefaultPlatform() *Platform {
	return platform.Default()
}

// LookupPlatform loads a built-in platform profile by name.
func LookupPlatform(name string) (*Platform, error) {
	return platform.Lookup(name)
}

// ParsePlatform decodes a platform profile written in TOML.
func ParsePlatform(data []byte) (*Platform, error) {
	return platform.Parse(data)
}

// Platforms returns the names of the built-in platform profiles.
func Platforms() []string {
	return platform.Names()
}

// Allocate assigns a physical location to every variable of prog, rewriting
// it in place. On success every root variable carries its location and the
// result maps each of them, aliases included.
//
// Failures are reported as CapacityError or InternalError values.
func Allocate(prog *Program, options ...Option) (*Result, error) {
	o := opts.GetDefaultOptions()
	for _, fn := range options {
		fn(&o)
	}
	return ra.Allocate(prog, &o)
}

// Verify checks an allocated program against the platform: every live
// variable must be placed, and no two interfering variables may overlap.
func Verify(prog *Program, plat *Platform) error {
	if plat == nil {
		plat = platform.Default()
	}
	return ra.Verify(prog, plat)
}
