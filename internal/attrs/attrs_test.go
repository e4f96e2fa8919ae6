package attrs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/simtempd/internal/attrs"
	"codeberg.org/mutker/simtempd/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parkedEngine(t *testing.T) *sensor.Engine {
	t.Helper()

	cfg := sensor.DefaultConfig()
	cfg.Period = sensor.MaxPeriod

	e, err := sensor.NewEngine(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Stop)

	return e
}

func newTestAPI(t *testing.T) (*sensor.Engine, *httptest.Server) {
	t.Helper()

	e := parkedEngine(t)
	ts := httptest.NewServer(attrs.NewRouter(e))
	t.Cleanup(ts.Close)

	return e, ts
}

func get(t *testing.T, url string) (int, string, http.Header) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(b), resp.Header
}

func put(t *testing.T, url, body string) (int, string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPut, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(b)
}

func TestGetSamplingDefault(t *testing.T) {
	_, ts := newTestAPI(t)

	status, body, header := get(t, ts.URL+"/attrs/sampling_ms")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "60000\n", body)
	assert.Contains(t, header.Get("Content-Type"), "text/plain")
}

func TestPutSamplingApplies(t *testing.T) {
	e, ts := newTestAPI(t)

	status, body := put(t, ts.URL+"/attrs/sampling_ms", "250\n")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "250\n", body)
	assert.Equal(t, 250*time.Millisecond, e.Config().Period)
}

func TestPutSamplingOutOfRange(t *testing.T) {
	e, ts := newTestAPI(t)

	for _, raw := range []string{"5", "120000"} {
		status, _ := put(t, ts.URL+"/attrs/sampling_ms", raw)
		assert.Equal(t, http.StatusUnprocessableEntity, status, "value %q", raw)
	}
	assert.Equal(t, sensor.MaxPeriod, e.Config().Period, "rejected writes must not change the period")
}

func TestPutSamplingUnparseable(t *testing.T) {
	_, ts := newTestAPI(t)

	for _, raw := range []string{"fast", "-50", "", "10.5"} {
		status, _ := put(t, ts.URL+"/attrs/sampling_ms", raw)
		assert.Equal(t, http.StatusBadRequest, status, "value %q", raw)
	}
}

func TestThresholdRoundTrip(t *testing.T) {
	e, ts := newTestAPI(t)

	status, body, _ := get(t, ts.URL+"/attrs/threshold_mC")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "45000\n", body)

	status, body = put(t, ts.URL+"/attrs/threshold_mC", "-8000")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "-8000\n", body)
	assert.Equal(t, int32(-8000), e.Config().ThresholdMC)
}

func TestPutThresholdUnparseable(t *testing.T) {
	_, ts := newTestAPI(t)

	for _, raw := range []string{"warm", "", "3000000000"} {
		status, _ := put(t, ts.URL+"/attrs/threshold_mC", raw)
		assert.Equal(t, http.StatusBadRequest, status, "value %q", raw)
	}
}

func TestModeRoundTrip(t *testing.T) {
	e, ts := newTestAPI(t)

	status, body, _ := get(t, ts.URL+"/attrs/mode")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "normal\n", body)

	status, body = put(t, ts.URL+"/attrs/mode", "ramp\n")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ramp\n", body)
	assert.Equal(t, sensor.ModeRamp, e.Config().Mode)
}

func TestPutModeUnknown(t *testing.T) {
	e, ts := newTestAPI(t)

	status, _ := put(t, ts.URL+"/attrs/mode", "sideways")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, sensor.ModeNormal, e.Config().Mode)
}

func TestStatsIdleLine(t *testing.T) {
	_, ts := newTestAPI(t)

	status, body, header := get(t, ts.URL+"/attrs/stats")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "updates=0 alerts=0 drops=0 reads=0 queued=0 last_error=<none>\n", body)
	assert.Contains(t, header.Get("Content-Type"), "text/plain")
}

func TestStatsReportsLastError(t *testing.T) {
	e, ts := newTestAPI(t)

	e.NoteDeliveryError(fmt.Errorf("session 42 went away"))

	_, body, _ := get(t, ts.URL+"/attrs/stats")
	assert.Contains(t, body, "last_error=session 42 went away")
}

func TestStatsAfterActivity(t *testing.T) {
	cfg := sensor.DefaultConfig()
	cfg.Period = 15 * time.Millisecond
	e, err := sensor.NewEngine(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	ts := httptest.NewServer(attrs.NewRouter(e))
	t.Cleanup(ts.Close)

	require.Eventually(t, func() bool {
		return e.Stats().Updates >= 2
	}, 3*time.Second, 5*time.Millisecond)

	// Freeze the counters so the HTTP view can be compared exactly.
	e.Stop()
	snap := e.Snapshot()

	_, body, _ := get(t, ts.URL+"/attrs/stats")
	want := fmt.Sprintf("updates=%d alerts=%d drops=%d reads=%d queued=%d last_error=<none>\n",
		snap.Stats.Updates, snap.Stats.Alerts, snap.Stats.Drops, snap.Stats.Reads, snap.Queued)
	assert.Equal(t, want, body)
}

func TestHealthz(t *testing.T) {
	_, ts := newTestAPI(t)

	status, body, header := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, `{"status":"ok"}`, body)
	assert.Equal(t, "application/json", header.Get("Content-Type"))
}

func TestMethodNotAllowed(t *testing.T) {
	_, ts := newTestAPI(t)

	resp, err := http.Post(ts.URL+"/attrs/sampling_ms", "text/plain", strings.NewReader("100"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestUnknownAttribute(t *testing.T) {
	_, ts := newTestAPI(t)

	status, _, _ := get(t, ts.URL+"/attrs/voltage")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServerLifecycle(t *testing.T) {
	e := parkedEngine(t)

	srv := attrs.NewServer(e, "127.0.0.1:0")
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(srv.Stop)
	require.NotNil(t, srv.Addr())

	status, body, _ := get(t, "http://"+srv.Addr().String()+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, `{"status":"ok"}`, body)

	srv.Stop()
	_, err := http.Get("http://" + srv.Addr().String() + "/healthz")
	assert.Error(t, err)
}
