package server

import (
	"github.com/voice-agent-lab/internal/voice"
)

// Event types published on /ws/events.
const (
	EventTranscript = "transcript"
	EventMode       = "mode"
	EventDispatch   = "dispatch"
	EventDegraded   = "degraded"
	EventRecovered  = "recovered"
)

// Hooks turns engine callbacks into hub events.
func (h *Hub) Hooks() voice.Hooks {
	return voice.Hooks{
		OnTranscript: func(t voice.Transcript) {
			h.Publish(EventTranscript, map[string]any{"text": t.Text, "finality": t.Finality.String()})
		},
		OnModeChange: func(from, to voice.ListeningMode) {
			h.Publish(EventMode, map[string]any{"from": from.String(), "to": to.String()})
		},
		OnDispatch: func(r voice.DispatchResult) {
			data := map[string]any{"outcome": r.Outcome.String()}
			if r.Reason != "" {
				data["reason"] = r.Reason
			}
			if r.Outcome != voice.DispatchDeferred {
				data["prompt_id"] = r.Prompt.ID
				data["text"] = r.Prompt.Text
			}
			h.Publish(EventDispatch, data)
		},
		OnDegraded: func(err error, consecutive int) {
			h.Publish(EventDegraded, map[string]any{"error": err.Error(), "consecutive_failures": consecutive})
		},
		OnRecovered: func() {
			h.Publish(EventRecovered, nil)
		},
	}
}
