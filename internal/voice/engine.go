package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/voice-agent-lab/internal/logging"
)

// ErrNotStarted is returned by requests made before Start.
var ErrNotStarted = errors.New("engine not started")

// EngineConfig holds the tunables of the dispatch engine.
type EngineConfig struct {
	TriggerPhrase  string
	PauseThreshold time.Duration
	MinTick        time.Duration
	QueueCapacity  int
	DegradedAfter  int
	SubmitWord     string
	OutboxSize     int
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TriggerPhrase:  "hey agent",
		PauseThreshold: 2 * time.Second,
		MinTick:        time.Second,
		QueueCapacity:  64,
		DegradedAfter:  5,
		OutboxSize:     16,
	}
}

func (c EngineConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.TriggerPhrase) == "" {
		errs = append(errs, errors.New("trigger phrase is empty"))
	}
	if c.PauseThreshold <= 0 {
		errs = append(errs, fmt.Errorf("pause threshold must be positive, got %s", c.PauseThreshold))
	}
	if c.MinTick <= 0 {
		errs = append(errs, fmt.Errorf("minimum tick must be positive, got %s", c.MinTick))
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("queue capacity must be positive, got %d", c.QueueCapacity))
	}
	if c.DegradedAfter < 0 {
		errs = append(errs, fmt.Errorf("degraded-after must not be negative, got %d", c.DegradedAfter))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

type consumerRef struct{ c PromptConsumer }

type request struct {
	fn   func()
	done chan struct{}
}

// Engine wires the frame queue, classifier, dialogue state and watchdog.
// Dialogue state is owned by a single actor goroutine; everything else
// talks to it through channels.
type Engine struct {
	cfg        EngineConfig
	queue      *FrameQueue
	classifier *Classifier
	dec        Decoder
	hooks      Hooks
	filter     NoiseFilter
	now        func() time.Time

	// actor-owned
	d     *dialogue
	timer *time.Timer

	transcripts chan Transcript
	requests    chan request
	outbox      chan Prompt
	consumer    atomic.Pointer[consumerRef]

	dispatched     atomic.Int64
	droppedPrompts atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   atomic.Bool
	closeOnce sync.Once
}

type Option func(*Engine)

func WithConsumer(c PromptConsumer) Option {
	return func(e *Engine) { e.SetConsumer(c) }
}

func WithHooks(h Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

func WithNoiseFilter(f NoiseFilter) Option {
	return func(e *Engine) { e.filter = f }
}

// NewEngine validates cfg and builds an engine that owns dec. Call Start
// to begin processing.
func NewEngine(cfg EngineConfig, dec Decoder, opts ...Option) (*Engine, error) {
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = DefaultEngineConfig().OutboxSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dec == nil {
		return nil, fmt.Errorf("%w: decoder is required", ErrInvalidConfig)
	}
	q, err := NewFrameQueue(cfg.QueueCapacity)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:         cfg,
		queue:       q,
		dec:         dec,
		now:         time.Now,
		transcripts: make(chan Transcript),
		requests:    make(chan request),
		outbox:      make(chan Prompt, cfg.OutboxSize),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.classifier = NewClassifier(dec, e.filter, cfg.DegradedAfter, &e.hooks)
	e.d = newDialogue(NewTriggerDetector(cfg.TriggerPhrase), cfg.SubmitWord, cfg.PauseThreshold, cfg.MinTick)
	e.timer = time.NewTimer(time.Hour)
	e.timer.Stop()
	return e, nil
}

// Start launches the classification loop, the actor and the delivery
// loop. Calling it more than once has no effect.
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	e.startWorkers()
	logging.Infow("engine: started",
		"trigger", e.cfg.TriggerPhrase,
		"pause_threshold", e.cfg.PauseThreshold.String(),
		"queue_capacity", e.cfg.QueueCapacity)
}

func (e *Engine) startWorkers() {
	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		e.classifyLoop()
	}()
	go func() {
		defer e.wg.Done()
		e.actorLoop()
	}()
	go func() {
		defer e.wg.Done()
		e.deliveryLoop()
	}()
}

// Push hands one PCM block to the engine without blocking. It reports
// false when the block was dropped.
func (e *Engine) Push(frame []byte) bool {
	return e.queue.Push(frame)
}

// PushWait hands one PCM block to the engine, waiting while the queue is
// full. It returns ErrQueueClosed once the engine is closed.
func (e *Engine) PushWait(ctx context.Context, frame []byte) error {
	return e.queue.PushWait(ctx, frame)
}

// SetConsumer attaches c, or detaches the current consumer when c is nil.
func (e *Engine) SetConsumer(c PromptConsumer) {
	if c == nil {
		e.consumer.Store(nil)
		return
	}
	e.consumer.Store(&consumerRef{c: c})
}

func (e *Engine) currentConsumer() PromptConsumer {
	if ref := e.consumer.Load(); ref != nil {
		return ref.c
	}
	return nil
}

// Status returns a snapshot of the dialogue state and counters.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	err := e.do(ctx, func() { st = e.snapshot() })
	return st, err
}

// Reset abandons any utterance in progress, disarms the watchdog and
// returns to PASSIVE without dispatching.
func (e *Engine) Reset(ctx context.Context) error {
	return e.do(ctx, func() {
		from := e.d.mode
		dropped := len(e.d.pending)
		e.d.complete()
		e.stopWatchdog()
		logging.Infow("engine: dialogue reset", "from", from.String(), "discarded_fragments", dropped)
		if from != Passive && e.hooks.OnModeChange != nil {
			e.hooks.OnModeChange(from, Passive)
		}
	})
}

func (e *Engine) do(ctx context.Context, fn func()) error {
	if !e.started.Load() {
		return ErrNotStarted
	}
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case e.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrEngineClosed
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrEngineClosed
	}
}

// Close stops all goroutines and closes the decoder. Prompts still in
// the outbox are discarded.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		logging.Infow("engine: close called")
		e.cancel()
		e.queue.Close()
		e.wg.Wait()
		e.timer.Stop()
		err = e.dec.Close()
	})
	return err
}

// classifyLoop is the exclusive owner of the decoder. A frame that yields
// a transcript is acknowledged by the actor once its words are applied, so
// the dispatch guard counts it as pending until then.
func (e *Engine) classifyLoop() {
	for {
		f, err := e.queue.Pop(e.ctx)
		if err != nil {
			return
		}
		tr, ok := e.classifier.Classify(e.ctx, f)
		if !ok {
			e.queue.Done()
			continue
		}
		select {
		case e.transcripts <- tr:
		case <-e.ctx.Done():
			e.queue.Done()
			return
		}
	}
}

func (e *Engine) actorLoop() {
	for {
		select {
		case <-e.ctx.Done():
			e.stopWatchdog()
			return
		case tr := <-e.transcripts:
			e.onTranscript(tr)
		case <-e.timer.C:
			e.onTick()
		case req := <-e.requests:
			req.fn()
			close(req.done)
		}
	}
}

func (e *Engine) onTranscript(tr Transcript) {
	now := e.now()
	if e.hooks.OnTranscript != nil {
		e.hooks.OnTranscript(tr)
	}
	logging.Debugw("engine: transcript", "text", tr.Text, "finality", tr.Finality.String(), "mode", e.d.mode.String())

	obs := e.d.observe(tr, now)
	e.queue.Done()
	if obs.activated {
		logging.Infow("engine: actively listening", "trigger", e.cfg.TriggerPhrase)
		if e.hooks.OnModeChange != nil {
			e.hooks.OnModeChange(Passive, Active)
		}
	}
	if obs.appended != "" {
		logging.Debugw("engine: fragment appended", "fragment", obs.appended, "fragments", len(e.d.pending))
	}
	if e.d.armed {
		e.armWatchdog(now, obs.spawned)
	}
	if obs.submit {
		logging.Debugw("engine: submit word heard", "word", e.d.submitWord)
		e.tryDispatch(now)
	}
}

// tryDispatch sends the pending prompt if no audio is awaiting
// classification.
func (e *Engine) tryDispatch(now time.Time) DispatchOutcome {
	if n := e.queue.Pending(); n > 0 {
		logging.Debugw("engine: dispatch deferred; frames awaiting classification", "pending_frames", n)
		e.rearm(e.cfg.MinTick)
		if e.hooks.OnDispatch != nil {
			e.hooks.OnDispatch(DispatchResult{Outcome: DispatchDeferred, Reason: "frames pending"})
		}
		return DispatchDeferred
	}
	text, ok := e.d.build()
	if !ok {
		e.rearm(e.cfg.MinTick)
		return DispatchDeferred
	}

	p := Prompt{
		ID:           uuid.NewString(),
		Text:         text,
		Fragments:    e.d.fragments(),
		ActivatedAt:  e.d.activatedAt,
		DispatchedAt: now,
	}
	e.d.complete()
	e.stopWatchdog()
	logging.Infow("engine: passively listening")
	if e.hooks.OnModeChange != nil {
		e.hooks.OnModeChange(Active, Passive)
	}

	if e.currentConsumer() == nil {
		e.droppedPrompts.Add(1)
		logging.Warnw("engine: no prompt consumer attached; dropping prompt", append(logging.PromptFields(p.ID, len(p.Fragments)), "text", p.Text)...)
		e.report(DispatchResult{Outcome: DispatchDropped, Prompt: p, Reason: "no consumer"})
		return DispatchDropped
	}

	select {
	case e.outbox <- p:
	case <-e.ctx.Done():
		e.droppedPrompts.Add(1)
		e.report(DispatchResult{Outcome: DispatchDropped, Prompt: p, Reason: "engine closed"})
		return DispatchDropped
	}
	e.dispatched.Add(1)
	logging.Infow("engine: prompt dispatched", append(logging.PromptFields(p.ID, len(p.Fragments)), "text", p.Text)...)
	e.report(DispatchResult{Outcome: DispatchSent, Prompt: p})
	return DispatchSent
}

func (e *Engine) report(r DispatchResult) {
	if e.hooks.OnDispatch != nil {
		e.hooks.OnDispatch(r)
	}
}

// deliveryLoop invokes the consumer one prompt at a time, in order.
func (e *Engine) deliveryLoop() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case p := <-e.outbox:
			c := e.currentConsumer()
			if c == nil {
				e.droppedPrompts.Add(1)
				logging.Warnw("engine: consumer detached before delivery; dropping prompt", logging.PromptFields(p.ID, len(p.Fragments))...)
				continue
			}
			ctx := logging.WithFields(e.ctx, "prompt.id", p.ID)
			if err := c.OnPrompt(ctx, p); err != nil {
				logging.Errorw("engine: prompt consumer failed", append(logging.PromptFields(p.ID, len(p.Fragments)), "err", err)...)
			}
		}
	}
}

func (e *Engine) snapshot() Status {
	return Status{
		Mode:            e.d.mode,
		ModeName:        e.d.mode.String(),
		PendingPrompt:   e.d.fragments(),
		LastSpeech:      e.d.lastSpeech,
		WatchdogArmed:   e.d.armed,
		QueuedFrames:    e.queue.Len(),
		PendingFrames:   e.queue.Pending(),
		DroppedFrames:   e.queue.Dropped(),
		Dispatched:      e.dispatched.Load(),
		DroppedPrompts:  e.droppedPrompts.Load(),
		DecodeFailures:  e.classifier.Failures(),
		Degraded:        e.classifier.Degraded(),
		ConsumerPresent: e.currentConsumer() != nil,
	}
}
