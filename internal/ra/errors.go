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
)

// CapacityError is returned when the program cannot be allocated within the
// physical registers and scratch space of the platform.
type CapacityError struct {
	Round  int
	Var    string
	Reason string
}

func (self CapacityError) Error() string {
	if self.Var == "" {
		return fmt.Sprintf("round %d: %s", self.Round, self.Reason)
	} else {
		return fmt.Sprintf("round %d: %s: %s", self.Round, self.Var, self.Reason)
	}
}

// InternalError reports a broken invariant inside the allocator.
type InternalError struct {
	Msg string
	Err error
}

func (self InternalError) Error() string {
	if self.Err == nil {
		return "internal error: " + self.Msg
	} else {
		return "internal error: " + self.Msg + ": " + self.Err.Error()
	}
}

func (self InternalError) Unwrap() error {
	return self.Err
}

func bug(format string, args ...interface{}) {
	panic("BUG: " + fmt.Sprintf(format, args...))
}
