package voice

import (
	"time"

	"github.com/voice-agent-lab/internal/logging"
)

// The silence watchdog is a single timer owned by the actor goroutine.
// Each transcript moves its deadline to lastSpeech+threshold; a fire
// re-checks the elapsed silence and either dispatches or sleeps again.

// armWatchdog schedules the next check after a transcript. spawned is
// true when this transcript armed a watchdog that was not yet live.
func (e *Engine) armWatchdog(now time.Time, spawned bool) {
	wait := e.d.wait(now)
	e.timer.Reset(wait)
	if spawned {
		logging.Debugw("watchdog: armed", "wait", wait.String())
	}
}

func (e *Engine) rearm(wait time.Duration) {
	if e.d.armed {
		e.timer.Reset(wait)
	}
}

func (e *Engine) stopWatchdog() {
	e.timer.Stop()
}

func (e *Engine) onTick() {
	if !e.d.armed {
		return
	}
	now := e.now()
	if !e.d.due(now) {
		wait := e.d.wait(now)
		logging.Debugw("watchdog: waiting", "since_last_speech", now.Sub(e.d.lastSpeech).String(), "fragments", len(e.d.pending), "wait", wait.String())
		e.timer.Reset(wait)
		return
	}
	e.tryDispatch(now)
}
