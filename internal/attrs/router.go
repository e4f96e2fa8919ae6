package attrs

import (
	"github.com/gorilla/mux"

	"codeberg.org/mutker/simtempd/internal/sensor"
)

// NewRouter builds the attribute route table for a device.
func NewRouter(dev sensor.Device) *mux.Router {
	h := &handler{dev: dev}

	r := mux.NewRouter()

	r.HandleFunc("/attrs/sampling_ms", h.getSampling).Methods("GET")
	r.HandleFunc("/attrs/sampling_ms", h.putSampling).Methods("PUT")
	r.HandleFunc("/attrs/threshold_mC", h.getThreshold).Methods("GET")
	r.HandleFunc("/attrs/threshold_mC", h.putThreshold).Methods("PUT")
	r.HandleFunc("/attrs/mode", h.getMode).Methods("GET")
	r.HandleFunc("/attrs/mode", h.putMode).Methods("PUT")
	r.HandleFunc("/attrs/stats", h.getStats).Methods("GET")
	r.HandleFunc("/healthz", h.health).Methods("GET")

	return r
}
