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
	"errors"

	"github.com/cloudwego/rowalloc/internal/ra"
)

// CapacityError occurs when a program does not fit into the registers and
// scratch space of the platform, even after spilling.
type CapacityError = ra.CapacityError

// InternalError occurs when the allocator breaks one of its own invariants.
// It always indicates a bug.
type InternalError = ra.InternalError

// IsCapacityError reports whether err is, or wraps, a CapacityError.
func IsCapacityError(err error) bool {
	var e CapacityError
	return errors.As(err, &e)
}
