package handler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/mediastream/internal/logging"
	"github.com/rapidaai/mediastream/internal/media"
)

func testProps() media.AudioParams {
	return media.AudioParams{SampleRate: 16000, OutputSampleRate: 16000, OutputFrameSamples: 320, ChannelLayout: media.Mono}
}

func decodePCM(b []byte) media.AudioFrame {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return media.AudioFrame{SampleRate: 16000, Channels: 1, Samples: samples}
}

func encodePCM(f media.AudioFrame) []byte {
	out := make([]byte, len(f.Samples)*2)
	for i, s := range f.Samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

func TestEchoHandler_CopyProducesDistinctInstances(t *testing.T) {
	proto := NewEchoHandler(testProps(), 4)
	a := proto.Copy()
	b := proto.Copy()

	a.Receive(media.AudioFrame{Samples: []int16{1, 2, 3}})

	_, aHas := a.Emit()
	_, bHas := b.Emit()

	assert.True(t, aHas, "session a should observe the frame it received")
	assert.False(t, bHas, "session b must not observe session a's state")
}

func TestEchoHandler_EmitReturnsFalseWhenEmpty(t *testing.T) {
	h := NewEchoHandler(testProps(), 2)
	_, ok := h.Emit()
	assert.False(t, ok)
}

func TestEchoHandler_DropsOldestWhenFull(t *testing.T) {
	h := NewEchoHandler(testProps(), 1)
	h.Receive(media.AudioFrame{Samples: []int16{1}})
	h.Receive(media.AudioFrame{Samples: []int16{2}})

	f, ok := h.Emit()
	require.True(t, ok)
	assert.Equal(t, []int16{2}, f.Samples)
}

// countingHandler exercises Session.Run's receive/emit wiring end to end
// with a handler that isn't the echo default.
type countingHandler struct {
	received int32
	started  int32
}

func (h *countingHandler) Properties() media.AudioParams { return testProps() }
func (h *countingHandler) Receive(media.AudioFrame)      { atomic.AddInt32(&h.received, 1) }
func (h *countingHandler) Emit() (media.AudioFrame, bool) {
	return media.AudioFrame{Samples: []int16{7, 8}}, true
}
func (h *countingHandler) Copy() Handler   { return &countingHandler{} }
func (h *countingHandler) Shutdown()       {}
func (h *countingHandler) StartUp(context.Context) error {
	atomic.AddInt32(&h.started, 1)
	return nil
}

func TestSession_RunBridgesReceiveAndEmit(t *testing.T) {
	rt := NewRuntime(logging.NewNop(), WithInputChannelSize(4), WithOutputChannelSize(4))
	h := &countingHandler{}
	sess := NewSession(logging.NewNop(), h, rt, decodePCM, encodePCM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	rt.PushInput(&Inbound{Audio: encodePCM(media.AudioFrame{Samples: []int16{1, 2}})})

	select {
	case out := <-rt.OutputCh:
		assert.Equal(t, encodePCM(media.AudioFrame{Samples: []int16{7, 8}}), out.Audio)
	case <-time.After(time.Second):
		t.Fatal("expected an emitted frame")
	}

	rt.PushDisconnection(DisconnectionUser)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&h.started))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&h.received), int32(1))
}

func TestSession_CopiesHandlerOnConstruction(t *testing.T) {
	rt := NewRuntime(logging.NewNop())
	proto := &countingHandler{}
	NewSession(logging.NewNop(), proto, rt, decodePCM, encodePCM)

	// The session must operate on a copy, never the prototype itself.
	proto.Receive(media.AudioFrame{})
	assert.Equal(t, int32(1), atomic.LoadInt32(&proto.received))
}
