package sensor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"codeberg.org/mutker/simtempd/internal/logger"
)

// DefaultBufferSize is the ring capacity used when no option overrides it.
const DefaultBufferSize = 64

// Engine is the sampling-and-delivery core. A periodic producer generates
// readings under the configured model and pushes them into a bounded ring;
// readers, pollers, and configurators operate concurrently against the same
// state. One mutex guards all of it (ring, configuration, model state,
// sticky alert flag, counters): the producer step and a configuration
// replace never interleave partially. The producer never waits on a
// consumer; when the ring is full the sample is dropped and counted.
type Engine struct {
	mu   sync.Mutex
	cond *sync.Cond

	ring  *ring
	model *model
	cfg   Config

	alertPending bool
	stats        Stats

	started bool
	running bool
	stopCh  chan struct{}
	timer   *time.Timer
	wg      sync.WaitGroup

	bufSize     int
	rng         *rand.Rand
	now         func() time.Time
	alertStream chan<- Sample
}

type Option func(*Engine)

// WithBufferSize sets the ring capacity. Must be a power of two.
func WithBufferSize(n int) Option {
	return func(e *Engine) { e.bufSize = n }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRand supplies the model's random source, making readings reproducible.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// WithAlertStream attaches a channel receiving threshold-crossing samples.
// Sends never block the producer; when the channel is full the event is
// dropped.
func WithAlertStream(ch chan<- Sample) Option {
	return func(e *Engine) { e.alertStream = ch }
}

// NewEngine builds a stopped engine. A validation or allocation failure
// leaves nothing behind.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		bufSize: DefaultBufferSize,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	for _, opt := range opts {
		opt(e)
	}

	var err error
	if e.ring, err = newRing(e.bufSize); err != nil {
		return nil, err
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	e.model = newModel(cfg.Mode, e.rng)

	return e, nil
}

// Start launches the periodic producer. Sampling runs until Stop is called
// or ctx is canceled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.running = true
	e.timer = time.NewTimer(e.cfg.Period)
	period, mode := e.cfg.Period, e.cfg.Mode
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(ctx)

	logger.Info().Msgf("Sampling started: period=%s mode=%s", period, mode)

	return nil
}

// Stop halts sampling and wakes every waiter. It returns only after the
// producer goroutine has exited, so no tick runs once Stop has returned.
// Buffered samples remain drainable through TryRead. Safe to call twice.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	if e.running {
		e.running = false
		close(e.stopCh)
	}
	e.mu.Unlock()

	e.cond.Broadcast()
	e.wg.Wait()
	e.timer.Stop()

	logger.Debug().Msg("Sampling stopped")
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			e.halt()
			return
		case <-e.stopCh:
			return
		case <-e.timer.C:
			e.tick()
		}
	}
}

// halt marks the engine stopped and releases waiters without tearing down
// the ring.
func (e *Engine) halt() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.cond.Broadcast()
}

// tick is one producer step. Model advance, classification, counters, the
// push, and the reschedule all happen under the lock, so no other party
// observes state mixing two ticks or a half-applied configuration. The
// period driving the reschedule is the one current during this tick; a
// concurrent update takes effect from the next scheduling decision.
// Waiters are woken after the lock is released.
func (e *Engine) tick() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}

	temp := e.model.next()
	s := Sample{
		TimestampNS: uint64(e.now().UnixNano()),
		TempMC:      temp,
		Flags:       FlagNew,
	}
	if temp >= e.cfg.ThresholdMC {
		s.Flags |= FlagThresholdCrossed
		e.alertPending = true
		e.stats.Alerts++
	}
	e.stats.Updates++
	if !e.ring.push(s) {
		e.stats.Drops++
	}
	e.timer.Reset(e.cfg.Period)
	e.mu.Unlock()

	e.cond.Broadcast()

	if e.alertStream != nil && s.Flags&FlagThresholdCrossed != 0 {
		select {
		case e.alertStream <- s:
		default:
		}
	}
}

// Read blocks until a sample is available, ctx is canceled, or the engine
// stops with an empty buffer. A successful read clears a pending alert
// condition; cancellation consumes nothing.
func (e *Engine) Read(ctx context.Context) (Sample, error) {
	stop := context.AfterFunc(ctx, func() {
		e.mu.Lock()
		e.cond.Broadcast()
		e.mu.Unlock()
	})
	defer stop()

	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		if s, ok := e.ring.pop(); ok {
			e.alertPending = false
			e.stats.Reads++

			return s, nil
		}
		if !e.running {
			return Sample{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return Sample{}, fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
		e.cond.Wait()
	}
}

// TryRead pops the oldest sample without waiting.
func (e *Engine) TryRead() (Sample, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.ring.pop(); ok {
		e.alertPending = false
		e.stats.Reads++

		return s, nil
	}
	if !e.running {
		return Sample{}, ErrClosed
	}

	return Sample{}, ErrBufferEmpty
}

// Poll reports readiness at this instant. It never blocks and clears
// nothing; a pending alert stays visible until a successful read.
func (e *Engine) Poll() Readiness {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.readinessLocked()
}

// WaitEvent blocks until readiness is non-zero, ctx is canceled, or the
// engine stops.
func (e *Engine) WaitEvent(ctx context.Context) (Readiness, error) {
	stop := context.AfterFunc(ctx, func() {
		e.mu.Lock()
		e.cond.Broadcast()
		e.mu.Unlock()
	})
	defer stop()

	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		if r := e.readinessLocked(); r != 0 {
			return r, nil
		}
		if !e.running {
			return 0, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
		e.cond.Wait()
	}
}

// SetConfig replaces the sampling period and alert threshold as one unit.
// An out-of-range period rejects the whole update with nothing applied.
// The producer timer is re-armed immediately so the new period takes
// effect now rather than after the old interval elapses.
func (e *Engine) SetConfig(period time.Duration, thresholdMC int32) error {
	if err := validatePeriod(period); err != nil {
		return err
	}

	e.mu.Lock()
	e.cfg.Period = period
	e.cfg.ThresholdMC = thresholdMC
	e.rescheduleLocked()
	e.mu.Unlock()

	logger.Debug().Msgf("Applied config: period=%s threshold=%dmC", period, thresholdMC)

	return nil
}

func (e *Engine) SetPeriod(period time.Duration) error {
	if err := validatePeriod(period); err != nil {
		return err
	}

	e.mu.Lock()
	e.cfg.Period = period
	e.rescheduleLocked()
	e.mu.Unlock()

	logger.Debug().Msgf("Applied sampling period: %s", period)

	return nil
}

func (e *Engine) SetThreshold(thresholdMC int32) {
	e.mu.Lock()
	e.cfg.ThresholdMC = thresholdMC
	e.mu.Unlock()

	logger.Debug().Msgf("Applied alert threshold: %dmC", thresholdMC)
}

// SetMode switches the simulation model. Entering a different mode resets
// the ramp accumulator to its floor.
func (e *Engine) SetMode(mode Mode) error {
	if !mode.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(mode))
	}

	e.mu.Lock()
	e.cfg.Mode = mode
	e.model.setMode(mode)
	e.mu.Unlock()

	logger.Debug().Msgf("Applied mode: %s", mode)

	return nil
}

// Configure replaces the whole configuration at once.
func (e *Engine) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	e.cfg = cfg
	e.model.setMode(cfg.Mode)
	e.rescheduleLocked()
	e.mu.Unlock()

	logger.Debug().Msgf("Applied config: period=%s threshold=%dmC mode=%s",
		cfg.Period, cfg.ThresholdMC, cfg.Mode)

	return nil
}

// rescheduleLocked re-arms the producer timer with the current period. A
// pending expiry is drained so the new interval starts from now.
func (e *Engine) rescheduleLocked() {
	if !e.running {
		return
	}
	if !e.timer.Stop() {
		select {
		case <-e.timer.C:
		default:
		}
	}
	e.timer.Reset(e.cfg.Period)
}

func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.cfg
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.stats
}

// Snapshot returns configuration, counters, and queue state from a single
// lock hold.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Snapshot{
		Config: e.cfg,
		Stats:  e.stats,
		Queued: e.ring.len(),
		Ready:  e.readinessLocked(),
	}
}

// NoteDeliveryError records a failure to hand an already-consumed sample
// to its caller. The sample is not re-queued; only that caller loses it.
func (e *Engine) NoteDeliveryError(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	e.stats.LastError = err
	e.mu.Unlock()
}

func (e *Engine) readinessLocked() Readiness {
	var r Readiness
	if !e.ring.empty() {
		r |= ReadyData
	}
	if e.alertPending {
		r |= ReadyAlert
	}

	return r
}
