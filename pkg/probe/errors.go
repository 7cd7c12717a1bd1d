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

package probe

import (
	"context"
	"errors"
)

var (
	// ErrTimeout occurs when a probe hits its per-invocation deadline.
	ErrTimeout = errors.New("probe timed out")
	// ErrUnreachable occurs when the target cannot be reached at all.
	ErrUnreachable = errors.New("target unreachable")
	// ErrAuthFailure occurs when the target rejects the supplied
	// credentials. Terminal for the (target, probe) pair: never retried.
	ErrAuthFailure = errors.New("authentication failed")
	// ErrMalformedResponse occurs when a response cannot be parsed. The
	// observation is dropped and logged; other observations survive.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrMissingCredentials occurs when a target lacks the credentials the
	// probe variant requires.
	ErrMissingCredentials = errors.New("missing credentials for probe")
	// ErrListenUnsupported occurs when passive capture is not available on
	// this platform.
	ErrListenUnsupported = errors.New("link-layer capture not supported on this platform")
)

// Retryable reports whether an error is transient and worth retrying with
// backoff. Auth failures and parse failures are terminal.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrAuthFailure),
		errors.Is(err, ErrMalformedResponse),
		errors.Is(err, ErrMissingCredentials),
		errors.Is(err, ErrListenUnsupported),
		errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrUnreachable),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return true
	}
}
