package probe

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshview/meshview/pkg/logger"
)

// fakeFrameSource replays canned frames, then blocks until the context is
// done.
type fakeFrameSource struct {
	frames [][]byte
	next   int
	closed bool
}

func (f *fakeFrameSource) ReadFrame(ctx context.Context) ([]byte, error) {
	if f.next < len(f.frames) {
		frame := f.frames[f.next]
		f.next++

		return frame, nil
	}

	<-ctx.Done()

	return nil, ctx.Err()
}

func (f *fakeFrameSource) Close() error {
	f.closed = true

	return nil
}

func openFake(source *fakeFrameSource) OpenFrameSource {
	return func(string) (FrameSource, error) { return source, nil }
}

func TestListenerCollectsAndDedupes(t *testing.T) {
	announce := buildLLDPFrame(
		[]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
		lldpTLV(lldpTLVSystemName, []byte("core-sw1")),
	)
	other := buildLLDPFrame(
		[]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		lldpTLV(lldpTLVSystemName, []byte("core-sw2")),
	)
	noise := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x08, 0x00, 0x00, 0x00}

	source := &fakeFrameSource{frames: [][]byte{announce, noise, announce, other}}

	p := NewListenerProbe(50*time.Millisecond, openFake(source), logger.NewTestLogger())

	records, err := p.Run(context.Background(), Target{Interface: "eth0"})
	require.NoError(t, err, "the window elapsing is normal completion")

	require.Len(t, records, 2, "repeat announcements dedupe to one record")
	assert.Equal(t, "11:22:33:44:55:66", records[0].Identity.MAC)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", records[1].Identity.MAC)
	assert.True(t, source.closed)
}

func TestListenerReturnsPartialOnParentCancel(t *testing.T) {
	announce := buildLLDPFrame(
		[]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
		lldpTLV(lldpTLVSystemName, []byte("core-sw1")),
	)

	source := &fakeFrameSource{frames: [][]byte{announce}}

	p := NewListenerProbe(time.Minute, openFake(source), logger.NewTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	records, err := p.Run(ctx, Target{Interface: "eth0"})

	require.ErrorIs(t, err, ErrTimeout)
	assert.Len(t, records, 1, "frames parsed before the cutoff are kept")
}

func TestListenerCaptureErrorKeepsRecords(t *testing.T) {
	announce := buildLLDPFrame(
		[]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
		lldpTLV(lldpTLVSystemName, []byte("core-sw1")),
	)

	source := &errorFrameSource{inner: &fakeFrameSource{frames: [][]byte{announce}}}

	p := NewListenerProbe(time.Minute, func(string) (FrameSource, error) { return source, nil }, logger.NewTestLogger())

	records, err := p.Run(context.Background(), Target{Interface: "eth0"})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Len(t, records, 1)
}

// errorFrameSource fails with a capture error once its inner frames run out.
type errorFrameSource struct {
	inner *fakeFrameSource
}

func (e *errorFrameSource) ReadFrame(ctx context.Context) ([]byte, error) {
	if e.inner.next < len(e.inner.frames) {
		return e.inner.ReadFrame(ctx)
	}

	return nil, io.ErrUnexpectedEOF
}

func (e *errorFrameSource) Close() error { return e.inner.Close() }

func TestListenerOpenFailure(t *testing.T) {
	openErr := errors.New("no such interface")

	p := NewListenerProbe(time.Minute, func(string) (FrameSource, error) { return nil, openErr }, logger.NewTestLogger())

	_, err := p.Run(context.Background(), Target{Interface: "nope"})
	assert.ErrorIs(t, err, openErr)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrTimeout))
	assert.True(t, Retryable(ErrUnreachable))
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.True(t, Retryable(io.ErrUnexpectedEOF))

	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(ErrAuthFailure))
	assert.False(t, Retryable(ErrMalformedResponse))
	assert.False(t, Retryable(ErrMissingCredentials))
	assert.False(t, Retryable(context.Canceled))
}
