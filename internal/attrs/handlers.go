package attrs

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/simtempd/internal/sensor"
)

// Attribute writes are single short tokens; anything longer is garbage.
const maxValueLen = 64

type handler struct {
	dev sensor.Device
}

func (h *handler) getSampling(w http.ResponseWriter, _ *http.Request) {
	writeValue(w, strconv.FormatInt(h.dev.Config().Period.Milliseconds(), 10))
}

func (h *handler) putSampling(w http.ResponseWriter, r *http.Request) {
	raw, err := readValue(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable value")
		return
	}
	ms, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "not an unsigned decimal")
		return
	}
	if err := h.dev.SetPeriod(time.Duration(ms) * time.Millisecond); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeValue(w, strconv.FormatInt(h.dev.Config().Period.Milliseconds(), 10))
}

func (h *handler) getThreshold(w http.ResponseWriter, _ *http.Request) {
	writeValue(w, strconv.FormatInt(int64(h.dev.Config().ThresholdMC), 10))
}

func (h *handler) putThreshold(w http.ResponseWriter, r *http.Request) {
	raw, err := readValue(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable value")
		return
	}
	mc, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "not a signed decimal")
		return
	}
	h.dev.SetThreshold(int32(mc))
	writeValue(w, strconv.FormatInt(int64(h.dev.Config().ThresholdMC), 10))
}

func (h *handler) getMode(w http.ResponseWriter, _ *http.Request) {
	writeValue(w, h.dev.Config().Mode.String())
}

func (h *handler) putMode(w http.ResponseWriter, r *http.Request) {
	raw, err := readValue(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable value")
		return
	}
	mode, err := sensor.ParseMode(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := h.dev.SetMode(mode); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeValue(w, h.dev.Config().Mode.String())
}

func (h *handler) getStats(w http.ResponseWriter, _ *http.Request) {
	snap := h.dev.Snapshot()
	lastErr := "<none>"
	if snap.Stats.LastError != nil {
		lastErr = snap.Stats.LastError.Error()
	}
	writeValue(w, fmt.Sprintf("updates=%d alerts=%d drops=%d reads=%d queued=%d last_error=%s",
		snap.Stats.Updates, snap.Stats.Alerts, snap.Stats.Drops, snap.Stats.Reads, snap.Queued, lastErr))
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// readValue reads one attribute token, tolerating the trailing newline a
// shell redirect leaves behind.
func readValue(r *http.Request) (string, error) {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, maxValueLen))
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(b)), nil
}

func writeValue(w http.ResponseWriter, v string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintln(w, msg)
}
