package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillcap/stillcap/imaging"
	"github.com/stillcap/stillcap/v4l2"
)

func jpegPayload(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 10), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestRequestNormalize(t *testing.T) {
	tests := []struct {
		name        string
		req         Request
		wantFrame   int
		wantBuffers uint32
	}{
		{"defaults", Request{}, 1, DefaultBufferCount},
		{"zero buffers", Request{TargetFrame: 5}, 5, DefaultBufferCount},
		{"too many buffers", Request{TargetFrame: 5, BufferCount: 513}, 5, DefaultBufferCount},
		{"max buffers", Request{TargetFrame: 5, BufferCount: 512}, 5, 512},
		{"in range", Request{TargetFrame: 80, BufferCount: 4}, 80, 4},
		{"negative frame", Request{TargetFrame: -3}, 1, DefaultBufferCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.req.normalize()
			assert.Equal(t, tt.wantFrame, got.TargetFrame)
			assert.Equal(t, tt.wantBuffers, got.BufferCount)
			assert.Equal(t, DefaultWaitBound, got.WaitBound)
		})
	}
}

func TestControlFrame(t *testing.T) {
	tests := []struct {
		target int
		want   int
	}{
		{1, 0},
		{2, 0},
		{3, 1},
		{9, 3},
		{80, 26},
	}
	for _, tt := range tests {
		sel := &frameSelector{targetFrame: tt.target}
		assert.Equal(t, tt.want, sel.controlFrame(), "target %d", tt.target)
	}
}

func TestCaptureTargetSelection(t *testing.T) {
	dev := newMockDevice(8, jpegPayload(t))
	pipe := NewPipeline(dev)

	pending := []v4l2.ControlSetting{{ID: 0x00980900, Value: v4l2.Integer(40)}}
	outcome, err := pipe.CaptureOneFrame(context.Background(), Request{TargetFrame: 5, BufferCount: 8}, pending)
	require.NoError(t, err)
	assert.False(t, outcome.Broken)

	// Five dequeues: frames 0..3 requeued untouched, frame 4 retained and
	// requeued only after extraction.
	assert.Equal(t, 5, dev.dequeues)
	assert.Equal(t, 5, dev.requeues())

	// Skip past the initial ring fill so only streaming-phase events count.
	streaming := false
	var order []string
	for _, e := range dev.events {
		if e == "streamon" {
			streaming = true
			continue
		}
		if !streaming {
			continue
		}
		switch e {
		case "dequeue:1", "dequeue:4", "queue:4", "set:0x980900":
			order = append(order, e)
		}
	}
	// Controls land before the frame at index target/3 is dequeued, and the
	// retained buffer is requeued last.
	assert.Equal(t, []string{"set:0x980900", "dequeue:1", "dequeue:4", "queue:4"}, order)
}

func TestCaptureBufferConservation(t *testing.T) {
	boom := errors.New("boom")
	zero := 0

	tests := []struct {
		name       string
		mutate     func(*mockDevice)
		wantBroken bool
		wantErrIs  error
	}{
		{
			name:   "success",
			mutate: func(m *mockDevice) {},
		},
		{
			name:       "query failure mid setup",
			mutate:     func(m *mockDevice) { m.queryErr = map[uint32]error{2: boom} },
			wantBroken: true,
			wantErrIs:  ErrBufferSetup,
		},
		{
			name:       "map failure mid setup",
			mutate:     func(m *mockDevice) { m.mapErr = map[uint32]error{3: boom} },
			wantBroken: true,
			wantErrIs:  ErrBufferSetup,
		},
		{
			name:       "queue failure mid setup",
			mutate:     func(m *mockDevice) { m.queueErr = map[uint32]error{1: boom} },
			wantBroken: true,
			wantErrIs:  ErrBufferSetup,
		},
		{
			name:       "stream on failure",
			mutate:     func(m *mockDevice) { m.streamOnErr = boom },
			wantBroken: true,
			wantErrIs:  boom,
		},
		{
			name:       "wait timeout",
			mutate:     func(m *mockDevice) { m.waitReady = &zero },
			wantBroken: false,
			wantErrIs:  ErrReadTimeout,
		},
		{
			name:       "dequeue failure",
			mutate:     func(m *mockDevice) { m.dequeueErr = boom },
			wantBroken: true,
			wantErrIs:  boom,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newMockDevice(8, jpegPayload(t))
			tt.mutate(dev)
			pipe := NewPipeline(dev)

			outcome, err := pipe.CaptureOneFrame(context.Background(), Request{TargetFrame: 3, BufferCount: 8}, nil)
			if tt.wantErrIs != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErrIs)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantBroken, outcome.Broken)

			// Every mapped buffer is unmapped and the hardware allocation is
			// released exactly once, on every exit path.
			assert.Equal(t, dev.mapped, dev.unmapped, "mapped vs unmapped")
			assert.Equal(t, 1, dev.releases, "buffer release count")
		})
	}
}

func TestCaptureDecodeFailureNotBroken(t *testing.T) {
	dev := newMockDevice(4, []byte("not an image"))
	pipe := NewPipeline(dev)

	outcome, err := pipe.CaptureOneFrame(context.Background(), Request{TargetFrame: 2, BufferCount: 4}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, imaging.ErrImageDecode)
	assert.False(t, outcome.Broken)
	assert.False(t, outcome.Statistics.Available())
	assert.Equal(t, dev.mapped, dev.unmapped)
	assert.Equal(t, 1, dev.releases)
}

// blockingDevice parks the first cycle inside its readiness wait so a second
// cycle can be attempted while the session is held.
type blockingDevice struct {
	*mockDevice
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

func (b *blockingDevice) WaitFrame(timeout time.Duration) (int, error) {
	b.once.Do(func() { close(b.started) })
	<-b.gate
	return 1, nil
}

func TestCaptureSessionGuard(t *testing.T) {
	dev := &blockingDevice{
		mockDevice: newMockDevice(4, jpegPayload(t)),
		gate:       make(chan struct{}),
		started:    make(chan struct{}),
	}
	pipe := NewPipeline(dev)

	done := make(chan error, 1)
	go func() {
		_, err := pipe.CaptureOneFrame(context.Background(), Request{TargetFrame: 1, BufferCount: 4}, nil)
		done <- err
	}()
	<-dev.started

	_, err := pipe.CaptureOneFrame(context.Background(), Request{TargetFrame: 1, BufferCount: 4}, nil)
	assert.ErrorIs(t, err, ErrSessionActive)

	close(dev.gate)
	require.NoError(t, <-done)

	// Session is free again after the first cycle fully unwound.
	_, err = pipe.CaptureOneFrame(context.Background(), Request{TargetFrame: 1, BufferCount: 4}, nil)
	require.NoError(t, err)
}

func TestCaptureEndToEnd(t *testing.T) {
	dev := newMockDevice(16, jpegPayload(t))
	pipe := NewPipeline(dev)
	savePath := filepath.Join(t.TempDir(), "still.jpg")

	outcome, err := pipe.CaptureOneFrame(context.Background(), Request{
		TargetFrame: 80,
		BufferCount: 16,
		SavePath:    savePath,
		SaveQuality: 85,
	}, nil)
	require.NoError(t, err)
	assert.False(t, outcome.Broken)

	require.True(t, outcome.Statistics.Available())
	for name, v := range map[string]float64{
		"brightness": outcome.Statistics.Brightness,
		"contrast":   outcome.Statistics.Contrast,
		"saturation": outcome.Statistics.Saturation,
	} {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 255.0, name)
	}

	assert.Equal(t, 80, dev.dequeues)
	assert.Equal(t, 80, dev.requeues())

	info, err := os.Stat(savePath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	assert.Positive(t, outcome.Timings.Total)
}

func TestCaptureStatisticsOnlyCycle(t *testing.T) {
	dev := newMockDevice(4, jpegPayload(t))
	pipe := NewPipeline(dev)

	outcome, err := pipe.CaptureOneFrame(context.Background(), Request{TargetFrame: 2, BufferCount: 4}, nil)
	require.NoError(t, err)
	assert.True(t, outcome.Statistics.Available())
	assert.Zero(t, outcome.Timings.Save)
}

func TestCaptureContextCancelled(t *testing.T) {
	dev := newMockDevice(4, jpegPayload(t))
	pipe := NewPipeline(dev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pipe.CaptureOneFrame(ctx, Request{TargetFrame: 2, BufferCount: 4}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, dev.mapped, dev.unmapped)
	assert.Equal(t, 1, dev.releases)
}
