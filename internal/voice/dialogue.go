package voice

import (
	"strings"
	"time"
)

// dialogue is the PASSIVE/ACTIVE state machine plus the silence watchdog
// bookkeeping. It has no locks: the engine actor goroutine is its only
// user, and tests drive it directly with explicit timestamps.
type dialogue struct {
	trigger    *TriggerDetector
	submitWord string
	threshold  time.Duration
	minTick    time.Duration

	mode        ListeningMode
	pending     []string
	lastSpeech  time.Time
	activatedAt time.Time
	armed       bool
	submitted   bool
	// capturing is set from activation until the first final: that final
	// completes the triggering utterance, so only what follows its trigger
	// belongs to the prompt.
	capturing bool
}

type observation struct {
	activated bool
	appended  string
	spawned   bool
	submit    bool
}

func newDialogue(trigger *TriggerDetector, submitWord string, threshold, minTick time.Duration) *dialogue {
	return &dialogue{
		trigger:    trigger,
		submitWord: Normalize(submitWord),
		threshold:  threshold,
		minTick:    minTick,
	}
}

// observe applies one non-empty transcript received at now.
func (d *dialogue) observe(t Transcript, now time.Time) observation {
	var obs observation
	if t.Text == "" {
		return obs
	}
	d.lastSpeech = now

	hasTrigger := d.trigger.Contains(t.Text)
	if d.mode == Passive && hasTrigger {
		d.mode = Active
		d.activatedAt = now
		d.capturing = true
		obs.activated = true
	}
	if d.mode != Active {
		return obs
	}

	if t.Finality == Final {
		text := t.Text
		switch {
		case d.capturing && hasTrigger:
			text, _ = d.trigger.Capture(text)
		case hasTrigger:
			// repeated wake phrase: a confirmation, the words around it stay
			text = d.trigger.Strip(text)
		}
		d.capturing = false
		if rest, ok := cutSubmitWord(text, d.submitWord); ok {
			text = rest
			d.submitted = true
			obs.submit = true
		}
		if text != "" {
			d.pending = append(d.pending, text)
			obs.appended = text
		}
	}
	obs.spawned = d.arm()
	return obs
}

// arm marks the watchdog live. It returns false when one was already
// armed; the caller still moves the timer deadline.
func (d *dialogue) arm() bool {
	if d.armed {
		return false
	}
	d.armed = true
	return true
}

// wait is how long the watchdog should sleep before re-checking. A
// submitted utterance only waits for the frames still being decoded.
func (d *dialogue) wait(now time.Time) time.Duration {
	if d.submitted {
		return d.minTick
	}
	remaining := d.threshold - now.Sub(d.lastSpeech)
	if remaining < d.minTick {
		return d.minTick
	}
	return remaining
}

// due reports whether a dispatch should be attempted at now. A disarmed
// dialogue is never due, which makes late timer fires harmless.
func (d *dialogue) due(now time.Time) bool {
	if !d.armed || len(d.pending) == 0 {
		return false
	}
	return d.submitted || now.Sub(d.lastSpeech) >= d.threshold
}

// build returns the prompt text, or false when nothing was captured.
func (d *dialogue) build() (string, bool) {
	if len(d.pending) == 0 {
		return "", false
	}
	return strings.Join(d.pending, " "), true
}

// complete clears the utterance and returns to PASSIVE.
func (d *dialogue) complete() {
	d.pending = nil
	d.mode = Passive
	d.activatedAt = time.Time{}
	d.armed = false
	d.submitted = false
	d.capturing = false
}

func (d *dialogue) fragments() []string {
	return append([]string(nil), d.pending...)
}
