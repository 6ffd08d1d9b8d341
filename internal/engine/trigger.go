package engine

import (
	"context"

	"github.com/rapidaai/mediastream/internal/control"
	"github.com/rapidaai/mediastream/internal/stopword"
	"github.com/rapidaai/mediastream/internal/vad"
)

// pauseTrigger adapts a bare vad.Gate to Trigger, for ReplyOnPause.
type pauseTrigger struct {
	gate *vad.Gate
}

// NewPauseTrigger wraps a VAD Gate as the LISTENING->USER_SPEAKING trigger.
func NewPauseTrigger(gate *vad.Gate) Trigger {
	return &pauseTrigger{gate: gate}
}

func (t *pauseTrigger) Push(_ context.Context, pcm []int16) ([]TriggerEvent, error) {
	results, err := t.gate.Push(pcm)
	if err != nil {
		return nil, err
	}
	events := make([]TriggerEvent, 0, len(results))
	for _, r := range results {
		switch r.Event {
		case vad.StartedTalking:
			events = append(events, TriggerEvent{Started: true})
		case vad.Paused:
			events = append(events, TriggerEvent{Paused: true, Utterance: r.Utterance})
		default:
			events = append(events, TriggerEvent{})
		}
	}
	return events, nil
}

func (t *pauseTrigger) Reset() { t.gate.Reset() }

// stopwordTrigger adapts a stopword.Detector to Trigger, for
// ReplyOnStopwords: the LISTENING->USER_SPEAKING transition requires a
// stopword match (announced via Control) followed by the detector's own
// post-match VAD phase reporting STARTED_TALKING.
type stopwordTrigger struct {
	detector *stopword.Detector
}

func NewStopwordTrigger(detector *stopword.Detector) Trigger {
	return &stopwordTrigger{detector: detector}
}

func (t *stopwordTrigger) Push(ctx context.Context, pcm []int16) ([]TriggerEvent, error) {
	results, err := t.detector.Push(ctx, pcm)
	if err != nil {
		return nil, err
	}
	events := make([]TriggerEvent, 0, len(results))
	for _, r := range results {
		switch r.Event {
		case stopword.StopwordDetected:
			events = append(events, TriggerEvent{Control: &ControlEvent{Kind: control.KindStopword, Data: r.Word}})
		case stopword.StartedTalking:
			events = append(events, TriggerEvent{Started: true})
		case stopword.Paused:
			events = append(events, TriggerEvent{Paused: true, Utterance: r.Utterance})
		default:
			events = append(events, TriggerEvent{})
		}
	}
	return events, nil
}

func (t *stopwordTrigger) Reset() { t.detector.Reset() }
