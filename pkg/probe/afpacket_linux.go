//go:build linux

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
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

const (
	captureBufferSize = 9216
	pollIntervalMs    = 250
)

// afpacketSource reads raw ethernet frames from an AF_PACKET socket bound
// to one interface. Requires CAP_NET_RAW.
type afpacketSource struct {
	fd    int
	iface string
}

func openPlatformFrameSource(iface string) (FrameSource, error) {
	nif, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", iface, err)
	}

	// ETH_P_ALL in network byte order; LLDP and CDP frames are filtered in
	// the parser rather than with a BPF program.
	proto := htons(unix.ETH_P_ALL)

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return nil, fmt.Errorf("opening AF_PACKET socket: %w", err)
	}

	addr := &unix.SockaddrLinklayer{
		Protocol: proto,
		Ifindex:  nif.Index,
	}

	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("binding to %s: %w", iface, err)
	}

	return &afpacketSource{fd: fd, iface: iface}, nil
}

// ReadFrame polls the socket in short intervals so context cancellation is
// observed without blocking indefinitely in recvfrom.
func (s *afpacketSource) ReadFrame(ctx context.Context) ([]byte, error) {
	buf := make([]byte, captureBufferSize)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}

		n, err := unix.Poll(fds, pollIntervalMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}

			return nil, fmt.Errorf("polling %s: %w", s.iface, err)
		}

		if n == 0 {
			continue
		}

		size, _, err := unix.Recvfrom(s.fd, buf, unix.MSG_DONTWAIT)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}

			return nil, fmt.Errorf("reading frame on %s: %w", s.iface, err)
		}

		frame := make([]byte, size)
		copy(frame, buf[:size])

		return frame, nil
	}
}

func (s *afpacketSource) Close() error {
	return unix.Close(s.fd)
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}
