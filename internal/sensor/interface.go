package sensor

import (
	"context"
	"time"
)

// Device is the engine surface collaborators consume. Lifecycle (Start,
// Stop) stays with the owner.
type Device interface {
	// Sample delivery
	Read(ctx context.Context) (Sample, error)
	TryRead() (Sample, error)

	// Readiness
	Poll() Readiness
	WaitEvent(ctx context.Context) (Readiness, error)

	// Configuration
	SetConfig(period time.Duration, thresholdMC int32) error
	SetPeriod(period time.Duration) error
	SetThreshold(thresholdMC int32)
	SetMode(mode Mode) error
	Config() Config

	// Observability
	Stats() Stats
	Snapshot() Snapshot
	NoteDeliveryError(err error)
}

var _ Device = (*Engine)(nil)
