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

package discovery

import "errors"

var (
	// ErrNoAssignments occurs when a round is requested with nothing to do.
	ErrNoAssignments = errors.New("no targets or probes assigned for round")
	// ErrRoundFailed occurs when a round's deadline passed with zero
	// successful (target, probe) pairs.
	ErrRoundFailed = errors.New("discovery round failed: no probe succeeded")
	// ErrInvalidInterval occurs when a scheduled job carries a
	// non-positive interval.
	ErrInvalidInterval = errors.New("scheduled job interval must be positive")
)
