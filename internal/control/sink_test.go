package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/mediastream/internal/handler"
	"github.com/rapidaai/mediastream/internal/logging"
	"github.com/rapidaai/mediastream/internal/media"
)

type fakeChannel struct {
	sent []Message
}

func (f *fakeChannel) Send(msg Message) error {
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeChannel) OnReceive(func(string)) {}
func (f *fakeChannel) Close() error           { return nil }

func TestEngineSink_EmitControlForwardsToChannel(t *testing.T) {
	ch := &fakeChannel{}
	rt := handler.NewRuntime(logging.NewNop())
	sink := NewEngineSink(logging.NewNop(), ch, rt, nil)

	sink.EmitControl(KindPauseDetected, nil)
	require.Len(t, ch.sent, 1)
	assert.Equal(t, KindPauseDetected, ch.sent[0].Type)
}

func TestEngineSink_EmitAudioEncodesAndPushes(t *testing.T) {
	ch := &fakeChannel{}
	rt := handler.NewRuntime(logging.NewNop())
	sink := NewEngineSink(logging.NewNop(), ch, rt, func(f media.AudioFrame) []byte {
		return []byte{1, 2, 3}
	})

	sink.EmitAudio(media.AudioFrame{SampleRate: 16000, Samples: []int16{1, 2}})

	select {
	case out := <-rt.OutputCh:
		assert.Equal(t, []byte{1, 2, 3}, out.Audio)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected an outbound frame")
	}
}

func TestEngineSink_EmitExtraMarshalsAsLog(t *testing.T) {
	ch := &fakeChannel{}
	rt := handler.NewRuntime(logging.NewNop())
	sink := NewEngineSink(logging.NewNop(), ch, rt, nil)

	sink.EmitExtra(map[string]string{"a": "b"})
	require.Len(t, ch.sent, 1)
	assert.Equal(t, KindLog, ch.sent[0].Type)
}

func TestEngineSink_FlushOutboundSignalsRuntime(t *testing.T) {
	ch := &fakeChannel{}
	rt := handler.NewRuntime(logging.NewNop())
	sink := NewEngineSink(logging.NewNop(), ch, rt, nil)

	sink.FlushOutbound()
	select {
	case <-rt.FlushAudioCh:
	default:
		t.Fatal("expected FlushAudioCh to be signalled")
	}
}
