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
	"fmt"
	"time"

	"github.com/meshview/meshview/pkg/logger"
	"github.com/meshview/meshview/pkg/models"
)

// FrameSource yields raw link-layer frames from a capture interface.
// ReadFrame blocks until a frame arrives, the context is done, or an
// unrecoverable capture error occurs.
type FrameSource interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	Close() error
}

// OpenFrameSource opens a FrameSource on the named interface. Injected so
// tests can feed canned frames without raw-socket privileges.
type OpenFrameSource func(iface string) (FrameSource, error)

// ListenerProbe passively observes LLDP and CDP announcements on a local
// interface for a bounded listen window. It never transmits.
type ListenerProbe struct {
	window time.Duration
	open   OpenFrameSource
	logger logger.Logger
}

const defaultListenWindow = 30 * time.Second

// NewListenerProbe creates a passive listener with the given listen window.
// A nil open function uses the platform capture implementation.
func NewListenerProbe(window time.Duration, open OpenFrameSource, log logger.Logger) *ListenerProbe {
	if window <= 0 {
		window = defaultListenWindow
	}

	if open == nil {
		open = openPlatformFrameSource
	}

	return &ListenerProbe{window: window, open: open, logger: log}
}

func (*ListenerProbe) Source() models.ProbeSource { return models.ProbeSourceListener }

// Run listens on target.Interface until the window elapses or ctx is
// cancelled, returning one record per distinct announcing device. Frames
// parsed before a cancellation are always returned.
func (p *ListenerProbe) Run(ctx context.Context, target Target) ([]*models.DiscoveryRecord, error) {
	iface := target.Interface
	if iface == "" {
		iface = target.Host
	}

	source, err := p.open(iface)
	if err != nil {
		return nil, fmt.Errorf("opening capture on %s: %w", iface, err)
	}
	defer func() { _ = source.Close() }()

	listenCtx, cancel := context.WithTimeout(ctx, p.window)
	defer cancel()

	// Dedupe by identity so a chatty switch does not flood the round.
	seen := make(map[string]*models.DiscoveryRecord)

	var order []string

	for {
		frame, err := source.ReadFrame(listenCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}

			return recordsInOrder(seen, order), fmt.Errorf("reading frame on %s: %w", iface, err)
		}

		record, err := ParseDiscoveryFrame(frame, iface, time.Now())
		if err != nil {
			// Non-discovery traffic is expected on a shared segment.
			if !errors.Is(err, ErrMalformedResponse) {
				p.logger.Debug().Err(err).Str("interface", iface).Msg("dropping frame")
			}

			continue
		}

		key := record.Identity.MAC + "|" + record.Identity.StableID
		if _, ok := seen[key]; !ok {
			order = append(order, key)
		}

		seen[key] = record
	}

	// The parent round deadline expiring mid-window is a cancellation; the
	// window itself elapsing is normal completion.
	if err := ctx.Err(); err != nil {
		return recordsInOrder(seen, order), fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	return recordsInOrder(seen, order), nil
}

func recordsInOrder(seen map[string]*models.DiscoveryRecord, order []string) []*models.DiscoveryRecord {
	out := make([]*models.DiscoveryRecord, 0, len(order))

	for _, key := range order {
		out = append(out, seen[key])
	}

	return out
}
