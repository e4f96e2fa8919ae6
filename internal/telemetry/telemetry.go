// Package telemetry records periodic device snapshots to a local sqlite
// database for offline diagnostics. It stores aggregate state, not the
// sample stream.
package telemetry

import (
	"context"
	"time"

	"codeberg.org/mutker/simtempd/internal/errors"
	"codeberg.org/mutker/simtempd/internal/logger"
	"codeberg.org/mutker/simtempd/internal/sensor"
)

type service struct {
	repo Repository
	cfg  Config
}

// No-op implementation
type noopCollector struct{}

func NewService(cfg Config, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	// If telemetry is disabled, return a no-op collector
	if !cfg.Enabled {
		log.Debug().Msg("Telemetry disabled, using no-op collector")
		return &noopCollector{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create telemetry repository")
		return nil, err
	}

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

func (s *service) Record(ctx context.Context, snapshot *Snapshot) error {
	errFactory := errors.New()

	if snapshot == nil {
		return errFactory.New(ErrInvalidSnapshot)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Store(snapshot); err != nil {
			return errFactory.Wrap(ErrRecordFailed, err)
		}
	}

	return nil
}

func (s *service) Close() error {
	errFactory := errors.New()

	if err := s.repo.Close(); err != nil {
		return errFactory.Wrap(ErrServiceShutdown, err)
	}
	return nil
}

func (*noopCollector) Record(_ context.Context, _ *Snapshot) error {
	return nil
}

func (*noopCollector) Close() error {
	return nil
}

// Runner snapshots a device on a fixed interval and hands the result to a
// collector. A failed record is logged and does not stop the loop.
type Runner struct {
	dev       sensor.Device
	collector Collector
	interval  time.Duration
	log       logger.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRunner(dev sensor.Device, collector Collector, interval time.Duration, log logger.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Runner{
		dev:       dev,
		collector: collector,
		interval:  interval,
		log:       log,
	}
}

func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx)
}

// Stop halts the loop and waits for an in-flight record to finish.
func (r *Runner) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snap := snapshotOf(now, r.dev.Snapshot())
			if err := r.collector.Record(ctx, snap); err != nil {
				r.log.ErrorWithCode(err).Msg("Telemetry record failed")
			}
		}
	}
}

// snapshotOf flattens live device state into the stored shape.
func snapshotOf(ts time.Time, s sensor.Snapshot) *Snapshot {
	lastErr := ""
	if s.Stats.LastError != nil {
		lastErr = s.Stats.LastError.Error()
	}

	return &Snapshot{
		Timestamp: ts,
		Device: DeviceState{
			PeriodMS:    s.Config.Period.Milliseconds(),
			ThresholdMC: s.Config.ThresholdMC,
			Mode:        s.Config.Mode.String(),
		},
		Counters: CounterMetrics{
			Updates: s.Stats.Updates,
			Alerts:  s.Stats.Alerts,
			Drops:   s.Stats.Drops,
			Reads:   s.Stats.Reads,
		},
		Queue: QueueMetrics{
			Depth:        s.Queued,
			AlertPending: s.Ready&sensor.ReadyAlert != 0,
			LastError:    lastErr,
		},
	}
}
