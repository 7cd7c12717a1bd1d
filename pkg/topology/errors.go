/*
 * Copyright 2026 Meshview Labs.
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

package topology

import "errors"

var (
	// ErrGraphInvariantViolation indicates a bug: an apply would have
	// published a link referencing a missing device. The apply is aborted
	// and the previous snapshot retained.
	ErrGraphInvariantViolation = errors.New("graph invariant violation")
	// ErrUnknownVersion occurs when Diff is asked about a version that is
	// no longer (or not yet) in history.
	ErrUnknownVersion = errors.New("unknown snapshot version")
	// ErrUnknownDevice occurs when a status override names a device the
	// current snapshot does not contain.
	ErrUnknownDevice = errors.New("unknown device")
)
