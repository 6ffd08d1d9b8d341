package handler

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/mediastream/internal/logging"
)

func defaultTestOpts() []Option {
	return []Option{
		WithInputChannelSize(10),
		WithOutputChannelSize(10),
		WithInputBufferThreshold(480),
		WithOutputBufferThreshold(480),
		WithOutputFrameSize(160),
	}
}

func newTestRuntime() *Runtime {
	return NewRuntime(logging.NewNop(), defaultTestOpts()...)
}

func TestNewRuntime_Initialisation(t *testing.T) {
	r := NewRuntime(logging.NewNop(),
		WithInputChannelSize(5),
		WithOutputChannelSize(8),
		WithInputBufferThreshold(100),
		WithOutputBufferThreshold(200),
		WithOutputFrameSize(50),
	)

	assert.NotNil(t, r.Logger)
	assert.NotNil(t, r.Ctx)
	assert.NotNil(t, r.Cancel)
	assert.False(t, r.Closed)

	assert.Equal(t, 5, cap(r.InputCh))
	assert.Equal(t, 8, cap(r.OutputCh))
	assert.Equal(t, 1, cap(r.FlushAudioCh))

	assert.Equal(t, 100, r.InputBufferThreshold())
	assert.Equal(t, 200, r.OutputBufferThreshold())
	assert.Equal(t, 50, r.OutputFrameSize())

	select {
	case <-r.Ctx.Done():
		t.Fatal("context should not be cancelled on creation")
	default:
	}
}

func TestNewRuntime_Defaults(t *testing.T) {
	r := NewRuntime(logging.NewNop())
	assert.Equal(t, DefaultInputChannelSize, cap(r.InputCh))
	assert.Equal(t, DefaultOutputChannelSize, cap(r.OutputCh))
}

func TestNewRuntime_AudioConfigDerived(t *testing.T) {
	mulaw8k := AudioConfig{SampleRate: 8000, Format: FormatMuLaw8, Channels: 1}

	r := NewRuntime(logging.NewNop(),
		WithInputAudioConfig(mulaw8k),
		WithOutputAudioConfig(mulaw8k),
	)

	assert.Equal(t, 480, r.InputBufferThreshold())
	assert.Equal(t, 160, r.OutputFrameSize())
	assert.Equal(t, 160, r.OutputBufferThreshold())
}

func TestNewRuntime_ExplicitOverridesAudioConfig(t *testing.T) {
	mulaw8k := AudioConfig{SampleRate: 8000, Format: FormatMuLaw8, Channels: 1}

	r := NewRuntime(logging.NewNop(),
		WithInputAudioConfig(mulaw8k),
		WithOutputAudioConfig(mulaw8k),
		WithInputBufferThreshold(999),
		WithOutputFrameSize(111),
		WithOutputBufferThreshold(222),
	)

	assert.Equal(t, 999, r.InputBufferThreshold())
	assert.Equal(t, 111, r.OutputFrameSize())
	assert.Equal(t, 222, r.OutputBufferThreshold())
}

func TestContext_CancelledAfterCancel(t *testing.T) {
	r := newTestRuntime()
	r.Cancel()

	select {
	case <-r.Context().Done():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("context should be cancelled after Cancel()")
	}
}

func TestPushInput_SendsMessage(t *testing.T) {
	r := newTestRuntime()
	msg := &Inbound{Audio: []byte{1, 2, 3}}
	r.PushInput(msg)

	select {
	case got := <-r.InputCh:
		assert.Equal(t, msg, got)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected message on InputCh")
	}
}

func TestPushInput_DropsWhenFull(t *testing.T) {
	r := NewRuntime(logging.NewNop(), WithInputChannelSize(1))
	r.PushInput(&Inbound{})
	r.PushInput(&Inbound{}) // dropped, non-blocking
}

func TestRecv_ReturnsEOFOnContextCancel(t *testing.T) {
	r := newTestRuntime()
	r.Cancel()

	got, err := r.Recv()
	assert.Nil(t, got)
	assert.Equal(t, io.EOF, err)
}

func TestRecv_ReturnsEOFOnChannelClose(t *testing.T) {
	r := newTestRuntime()
	close(r.InputCh)

	got, err := r.Recv()
	assert.Nil(t, got)
	assert.Equal(t, io.EOF, err)
}

func TestRecv_BlocksUntilMessageAvailable(t *testing.T) {
	r := newTestRuntime()
	msg := &Inbound{Audio: []byte{9}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		got, err := r.Recv()
		require.NoError(t, err)
		assert.Equal(t, msg, got)
	}()

	time.Sleep(20 * time.Millisecond)
	r.InputCh <- msg

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Recv should have unblocked")
	}
}

func TestBufferAndSendInput_FlushesAtThreshold(t *testing.T) {
	r := newTestRuntime()
	threshold := 480
	chunk := make([]byte, threshold)
	for i := range chunk {
		chunk[i] = byte(i % 256)
	}
	r.BufferAndSendInput(chunk)

	select {
	case msg := <-r.InputCh:
		assert.Equal(t, threshold, len(msg.Audio))
		assert.Equal(t, chunk, msg.Audio)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected flushed message on InputCh")
	}
}

func TestBufferAndSendInput_BuffersBelowThreshold(t *testing.T) {
	r := newTestRuntime()
	r.BufferAndSendInput(make([]byte, 200))

	select {
	case <-r.InputCh:
		t.Fatal("should not send before reaching threshold")
	default:
	}
}

func TestBufferAndSendOutput_ProducesCorrectFrameSize(t *testing.T) {
	r := newTestRuntime()
	frameSize := 160
	data := make([]byte, 480)
	for i := range data {
		data[i] = byte(i % 256)
	}
	r.BufferAndSendOutput(data)

	for i := 0; i < 3; i++ {
		select {
		case msg := <-r.OutputCh:
			assert.Equal(t, frameSize, len(msg.Audio))
			assert.Equal(t, data[i*frameSize:(i+1)*frameSize], msg.Audio)
			r.ReleaseOutbound(msg)
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("expected frame %d on OutputCh", i)
		}
	}
}

func TestBufferAndSendOutput_RetainsPartialFrame(t *testing.T) {
	r := newTestRuntime()
	r.BufferAndSendOutput(make([]byte, 500)) // 3 frames + 20 remainder

	for i := 0; i < 3; i++ {
		<-r.OutputCh
	}
	select {
	case <-r.OutputCh:
		t.Fatal("should not produce a partial frame")
	default:
	}

	r.BufferAndSendOutput(make([]byte, 460)) // remainder + 460 = 480 = 3 frames
	count := 0
loop:
	for {
		select {
		case <-r.OutputCh:
			count++
		default:
			break loop
		}
	}
	assert.Equal(t, 3, count)
}

func TestClearInputBuffer_ResetsBufferAndDrainsChannel(t *testing.T) {
	r := newTestRuntime()
	r.BufferAndSendInput(make([]byte, 100))
	r.InputCh <- &Inbound{}

	r.ClearInputBuffer()

	select {
	case <-r.InputCh:
		t.Fatal("InputCh should be drained")
	default:
	}

	r.BufferAndSendInput(make([]byte, 100))
	select {
	case <-r.InputCh:
		t.Fatal("should not flush: only 100 bytes after clear")
	default:
	}
}

func TestClearOutputBuffer_SignalsFlushAudioCh(t *testing.T) {
	r := newTestRuntime()
	r.ClearOutputBuffer()

	select {
	case <-r.FlushAudioCh:
	default:
		t.Fatal("ClearOutputBuffer should signal FlushAudioCh")
	}
}

func TestPushDisconnection_Idempotent(t *testing.T) {
	r := newTestRuntime()
	r.PushDisconnection(DisconnectionUser)
	r.PushDisconnection(DisconnectionUser)

	<-r.InputCh
	select {
	case <-r.InputCh:
		t.Fatal("PushDisconnection should be idempotent")
	default:
	}
	assert.True(t, r.Closed)
}

func TestPushDisconnection_ConcurrentCallsProduceOneMessage(t *testing.T) {
	r := newTestRuntime()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.PushDisconnection(DisconnectionUser)
		}()
	}
	wg.Wait()

	count := 0
loop:
	for {
		select {
		case <-r.InputCh:
			count++
		default:
			break loop
		}
	}
	assert.Equal(t, 1, count)
}

func TestWatchInboundStall_FiresAfterTimeoutWithNoInput(t *testing.T) {
	r := newTestRuntime()
	fired := make(chan struct{}, 1)
	r.WatchInboundStall(20*time.Millisecond, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected stall callback to fire")
	}
	assert.False(t, r.Closed, "watchdog must not close the session")
}

func TestWatchInboundStall_DoesNotFireWhileInputArrives(t *testing.T) {
	r := newTestRuntime()
	fired := make(chan struct{}, 1)
	r.WatchInboundStall(30*time.Millisecond, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		r.BufferAndSendInput([]byte{1})
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-fired:
		t.Fatal("stall callback should not fire while input keeps arriving")
	default:
	}
}

func TestWithInputBuffer_ConcurrentAccess(t *testing.T) {
	r := newTestRuntime()
	var wg sync.WaitGroup
	iterations := 100
	for i := 0; i < iterations; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.WithInputBuffer(func(buf *bytes.Buffer) {
				buf.WriteByte('x')
			})
		}()
	}
	wg.Wait()

	r.WithInputBuffer(func(buf *bytes.Buffer) {
		assert.Equal(t, iterations, buf.Len())
	})
}
