package telemetry_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/simtempd/internal/errors"
	"codeberg.org/mutker/simtempd/internal/logger"
	"codeberg.org/mutker/simtempd/internal/sensor"
	"codeberg.org/mutker/simtempd/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enabledConfig(t *testing.T) telemetry.Config {
	t.Helper()

	cfg := telemetry.DefaultConfig()
	cfg.Enabled = true
	cfg.DBPath = filepath.Join(t.TempDir(), "telemetry.db")
	cfg.BatchSize = 1
	cfg.BatchTimeout = time.Hour

	return cfg
}

func newCollector(t *testing.T, cfg telemetry.Config) telemetry.Collector {
	t.Helper()

	c, err := telemetry.NewService(cfg, logger.Default())
	require.NoError(t, err)

	return c
}

func sampleSnapshot(ts time.Time) *telemetry.Snapshot {
	return &telemetry.Snapshot{
		Timestamp: ts,
		Device:    telemetry.DeviceState{PeriodMS: 100, ThresholdMC: 45000, Mode: "normal"},
		Counters:  telemetry.CounterMetrics{Updates: 12, Alerts: 3, Drops: 1, Reads: 8},
		Queue:     telemetry.QueueMetrics{Depth: 4, AlertPending: true, LastError: "socket write failed"},
	}
}

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()

	// The driver is registered by the package under test.
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func countSnapshots(t *testing.T, path string) int {
	t.Helper()

	var n int
	require.NoError(t, openDB(t, path).QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&n))

	return n
}

func TestDisabledServiceIsNoop(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "telemetry.db")

	c := newCollector(t, cfg)
	require.NoError(t, c.Record(context.Background(), sampleSnapshot(time.Now())))
	require.NoError(t, c.Close())

	_, err := os.Stat(cfg.DBPath)
	assert.True(t, os.IsNotExist(err), "disabled telemetry must not create a database")
}

func TestRecordRoundTrip(t *testing.T) {
	cfg := enabledConfig(t)
	c := newCollector(t, cfg)

	ts := time.Unix(1724300000, 0)
	require.NoError(t, c.Record(context.Background(), sampleSnapshot(ts)))
	require.NoError(t, c.Close())

	var (
		periodMS, thresholdMC, updates, alerts, drops, reads, queued, alertPending int64
		mode, lastError                                                           string
	)
	row := openDB(t, cfg.DBPath).QueryRow(`
        SELECT period_ms, threshold_mc, mode, updates, alerts, drops, reads,
               queued, alert_pending, last_error
        FROM snapshots WHERE timestamp = ?
    `, ts.Unix())
	require.NoError(t, row.Scan(&periodMS, &thresholdMC, &mode, &updates, &alerts,
		&drops, &reads, &queued, &alertPending, &lastError))

	assert.Equal(t, int64(100), periodMS)
	assert.Equal(t, int64(45000), thresholdMC)
	assert.Equal(t, "normal", mode)
	assert.Equal(t, int64(12), updates)
	assert.Equal(t, int64(3), alerts)
	assert.Equal(t, int64(1), drops)
	assert.Equal(t, int64(8), reads)
	assert.Equal(t, int64(4), queued)
	assert.Equal(t, int64(1), alertPending)
	assert.Equal(t, "socket write failed", lastError)
}

func TestNilSnapshotRejected(t *testing.T) {
	c := newCollector(t, enabledConfig(t))
	t.Cleanup(func() { c.Close() })

	err := c.Record(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, telemetry.ErrInvalidSnapshot, errors.CodeOf(err))
}

func TestBatchFlushOnSize(t *testing.T) {
	cfg := enabledConfig(t)
	cfg.BatchSize = 3
	c := newCollector(t, cfg)
	t.Cleanup(func() { c.Close() })

	base := time.Unix(1724300100, 0)
	for i := 0; i < 2; i++ {
		require.NoError(t, c.Record(context.Background(), sampleSnapshot(base.Add(time.Duration(i)*time.Second))))
	}
	assert.Equal(t, 0, countSnapshots(t, cfg.DBPath), "short batch must stay buffered")

	require.NoError(t, c.Record(context.Background(), sampleSnapshot(base.Add(2*time.Second))))
	assert.Equal(t, 3, countSnapshots(t, cfg.DBPath))
}

func TestBatchFlushOnTimeout(t *testing.T) {
	cfg := enabledConfig(t)
	cfg.BatchSize = 100
	cfg.BatchTimeout = 50 * time.Millisecond
	c := newCollector(t, cfg)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.Record(context.Background(), sampleSnapshot(time.Unix(1724300200, 0))))
	require.Eventually(t, func() bool {
		return countSnapshots(t, cfg.DBPath) == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestCloseFlushesBuffer(t *testing.T) {
	cfg := enabledConfig(t)
	cfg.BatchSize = 100
	c := newCollector(t, cfg)

	base := time.Unix(1724300300, 0)
	require.NoError(t, c.Record(context.Background(), sampleSnapshot(base)))
	require.NoError(t, c.Record(context.Background(), sampleSnapshot(base.Add(time.Second))))
	require.NoError(t, c.Close())

	assert.Equal(t, 2, countSnapshots(t, cfg.DBPath))
}

func TestSameSecondCollapses(t *testing.T) {
	cfg := enabledConfig(t)
	cfg.BatchSize = 2
	c := newCollector(t, cfg)
	t.Cleanup(func() { c.Close() })

	ts := time.Unix(1724300400, 0)
	first := sampleSnapshot(ts)
	second := sampleSnapshot(ts)
	second.Counters.Updates = 99

	require.NoError(t, c.Record(context.Background(), first))
	require.NoError(t, c.Record(context.Background(), second))

	db := openDB(t, cfg.DBPath)
	var n, updates int64
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&n))
	require.NoError(t, db.QueryRow("SELECT updates FROM snapshots WHERE timestamp = ?", ts.Unix()).Scan(&updates))
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(99), updates, "newest same-second observation wins")
}

func TestSchemaVersionRecorded(t *testing.T) {
	cfg := enabledConfig(t)
	c := newCollector(t, cfg)
	require.NoError(t, c.Close())

	version, err := telemetry.GetSchemaVersion(openDB(t, cfg.DBPath))
	require.NoError(t, err)
	assert.Equal(t, telemetry.SchemaVersion, version)
}

func TestValidate(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	require.NoError(t, cfg.Validate(), "disabled config needs no database")

	cfg.Enabled = true
	cfg.DBPath = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, telemetry.ErrInvalidDBPath, errors.CodeOf(err))

	cfg.DBPath = "/tmp/t.db"
	cfg.Interval = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, telemetry.ErrInvalidConfig, errors.CodeOf(err))
}

type captureCollector struct {
	mu    sync.Mutex
	snaps []*telemetry.Snapshot
}

func (c *captureCollector) Record(_ context.Context, s *telemetry.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, s)

	return nil
}

func (c *captureCollector) Close() error { return nil }

func (c *captureCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.snaps)
}

func (c *captureCollector) first() *telemetry.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snaps[0]
}

func TestRunnerRecordsSnapshots(t *testing.T) {
	cfg := sensor.DefaultConfig()
	cfg.Period = sensor.MaxPeriod
	e, err := sensor.NewEngine(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Stop)

	sink := &captureCollector{}
	runner := telemetry.NewRunner(e, sink, 30*time.Millisecond, logger.Default())
	runner.Start(context.Background())

	require.Eventually(t, func() bool {
		return sink.count() >= 2
	}, 3*time.Second, 10*time.Millisecond)
	runner.Stop()

	snap := sink.first()
	assert.Equal(t, int64(60000), snap.Device.PeriodMS)
	assert.Equal(t, int32(45000), snap.Device.ThresholdMC)
	assert.Equal(t, "normal", snap.Device.Mode)
	assert.False(t, snap.Queue.AlertPending)

	// A stopped runner must not keep recording.
	frozen := sink.count()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, frozen, sink.count())
}
