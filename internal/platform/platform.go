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

// Package platform describes the physical register files of a target.
package platform

import (
	"embed"
	"fmt"

	"github.com/cloudwego/rowalloc/internal/ir"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
)

//go:embed profiles/*.toml
var profiles embed.FS

const (
	DefaultProfile = "gen9"
)

// FileDesc describes one register file: Rows registers of RowBytes bytes,
// each split into sub-register words of WordBytes bytes.
type FileDesc struct {
	Rows      int `toml:"rows"`
	RowBytes  int `toml:"row_bytes"`
	WordBytes int `toml:"word_bytes"`
}

// WordsPerRow returns the number of sub-register words in one register.
func (self FileDesc) WordsPerRow() int {
	return self.RowBytes / self.WordBytes
}

// Window is the half-open row range [Lo, Hi).
type Window struct {
	Lo int `toml:"lo"`
	Hi int `toml:"hi"`
}

func (self Window) Contains(row int) bool {
	return row >= self.Lo && row < self.Hi
}

type Platform struct {
	Name            string   `toml:"name"`
	GRF             FileDesc `toml:"grf"`
	Address         FileDesc `toml:"address"`
	Flag            FileDesc `toml:"flag"`
	Scalar          FileDesc `toml:"scalar"`
	Banks           int      `toml:"banks"`
	Bundles         int      `toml:"bundles"`
	BundleRows      int      `toml:"bundle_rows"`
	Reserved        []int    `toml:"reserved"`
	EOTRows         int      `toml:"eot_rows"`
	CallerSave      Window   `toml:"caller_save"`
	CalleeSave      Window   `toml:"callee_save"`
	FailSafeRows    int      `toml:"failsafe_rows"`
	FailSafeWords   int      `toml:"failsafe_words"`
	ScratchLimit    int      `toml:"scratch_limit"`
	BlockMessages   bool     `toml:"block_messages"`
	MaxSpillMsgRows int      `toml:"max_spill_msg_rows"`
}

// File returns the description of a register file.
func (self *Platform) File(f ir.RegFile) FileDesc {
	switch f {
	case ir.GRF:
		return self.GRF
	case ir.Address:
		return self.Address
	case ir.Flag:
		return self.Flag
	case ir.Scalar:
		return self.Scalar
	default:
		panic(fmt.Sprintf("platform: invalid register file: %d", f))
	}
}

// Bank returns the GRF bank a row belongs to.
func (self *Platform) Bank(row int) int {
	if self.Banks <= 1 {
		return 0
	} else {
		return row % self.Banks
	}
}

// Bundle returns the GRF bundle a row belongs to.
func (self *Platform) Bundle(row int) int {
	if self.Bundles <= 1 {
		return 0
	} else {
		return (row / self.BundleRows) % self.Bundles
	}
}

// FailSafeWindow returns the GRF rows reserved by the fail-safe round. They
// sit right below the end-of-thread rows.
func (self *Platform) FailSafeWindow() Window {
	hi := self.GRF.Rows - self.EOTRows
	return Window{Lo: hi - self.FailSafeRows, Hi: hi}
}

func validateFile(name string, fd FileDesc) (err error) {
	if fd.Rows <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s: rows must be positive", name))
	}
	if fd.RowBytes <= 0 || fd.WordBytes <= 0 {
		return multierr.Append(err, fmt.Errorf("%s: row and word sizes must be positive", name))
	}
	if fd.RowBytes%fd.WordBytes != 0 {
		err = multierr.Append(err, fmt.Errorf("%s: row size %d is not a multiple of word size %d", name, fd.RowBytes, fd.WordBytes))
	}
	if fd.WordsPerRow() > 64 {
		err = multierr.Append(err, fmt.Errorf("%s: more than 64 words per row", name))
	}
	return
}

func validateWindow(name string, w Window, rows int) error {
	if w.Lo < 0 || w.Hi > rows || w.Lo > w.Hi {
		return fmt.Errorf("%s: window [%d, %d) out of range", name, w.Lo, w.Hi)
	} else {
		return nil
	}
}

// Validate reports every inconsistency in the description.
func (self *Platform) Validate() (err error) {
	err = multierr.Append(err, validateFile("grf", self.GRF))
	err = multierr.Append(err, validateFile("address", self.Address))
	err = multierr.Append(err, validateFile("flag", self.Flag))
	err = multierr.Append(err, validateFile("scalar", self.Scalar))
	if err != nil {
		return
	}

	/* banks and bundles */
	if self.Banks < 1 || self.Banks > 2 {
		err = multierr.Append(err, fmt.Errorf("banks must be 1 or 2, got %d", self.Banks))
	}
	if self.Bundles < 1 || self.BundleRows < 1 {
		err = multierr.Append(err, fmt.Errorf("bundles and bundle rows must be positive"))
	}

	/* reserved rows */
	rows := self.GRF.Rows
	for _, r := range self.Reserved {
		if r < 0 || r >= rows {
			err = multierr.Append(err, fmt.Errorf("reserved row %d out of range", r))
		}
	}

	/* end-of-thread and fail-safe rows */
	if self.EOTRows < 0 || self.EOTRows >= rows {
		err = multierr.Append(err, fmt.Errorf("eot rows %d out of range", self.EOTRows))
	}
	if fs := self.FailSafeWindow(); self.FailSafeRows < 1 || fs.Lo <= 0 {
		err = multierr.Append(err, fmt.Errorf("fail-safe rows %d do not fit", self.FailSafeRows))
	} else {
		for _, r := range self.Reserved {
			if fs.Contains(r) {
				err = multierr.Append(err, fmt.Errorf("reserved row %d inside the fail-safe rows", r))
			}
		}
	}
	for _, fd := range []FileDesc{self.Address, self.Flag, self.Scalar} {
		if self.FailSafeWords < 1 || self.FailSafeWords >= fd.Rows*fd.WordsPerRow() {
			err = multierr.Append(err, fmt.Errorf("fail-safe words %d do not fit", self.FailSafeWords))
			break
		}
	}

	/* call windows */
	err = multierr.Append(err, validateWindow("caller_save", self.CallerSave, rows))
	err = multierr.Append(err, validateWindow("callee_save", self.CalleeSave, rows))

	/* scratch */
	if self.ScratchLimit <= 0 {
		err = multierr.Append(err, fmt.Errorf("scratch limit must be positive"))
	}
	if n := self.MaxSpillMsgRows; n < 1 || n&(n-1) != 0 {
		err = multierr.Append(err, fmt.Errorf("max spill message rows %d is not a power of two", n))
	}
	return
}

// Parse decodes and validates a TOML profile.
func Parse(data []byte) (*Platform, error) {
	ret := new(Platform)
	if err := toml.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}
	if err := ret.Validate(); err != nil {
		return nil, fmt.Errorf("platform %q: %w", ret.Name, err)
	}
	return ret, nil
}

// Lookup loads one of the embedded profiles by name.
func Lookup(name string) (*Platform, error) {
	data, err := profiles.ReadFile("profiles/" + name + ".toml")
	if err != nil {
		return nil, fmt.Errorf("platform: unknown profile %q", name)
	}
	return Parse(data)
}

// Names returns the names of the embedded profiles.
func Names() []string {
	var ret []string
	ents, _ := profiles.ReadDir("profiles")
	for _, e := range ents {
		name := e.Name()
		ret = append(ret, name[:len(name)-len(".toml")])
	}
	return ret
}

// Default returns the default profile.
func Default() *Platform {
	if ret, err := Lookup(DefaultProfile); err != nil {
		panic(err)
	} else {
		return ret
	}
}

// Clone returns a deep copy of the description.
func (self *Platform) Clone() *Platform {
	ret := *self
	ret.Reserved = append([]int(nil), self.Reserved...)
	return &ret
}
