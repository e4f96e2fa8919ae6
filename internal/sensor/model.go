package sensor

import "math/rand"

// Model constants, in milli-degrees Celsius.
const (
	normalBaseMC   = 42000
	normalJitterMC = 1000
	noisyFactor    = 5
	rampFloorMC    = 25000
	rampCeilingMC  = 85000
	rampStepMC     = 500
	rampJitterMC   = 500
)

// model produces synthetic readings. Deterministic for a given random
// source; the only state it threads is the ramp accumulator.
type model struct {
	mode Mode
	ramp int32
	rng  *rand.Rand
}

func newModel(mode Mode, rng *rand.Rand) *model {
	return &model{
		mode: mode,
		ramp: rampFloorMC,
		rng:  rng,
	}
}

// next computes the reading for one tick. In ramp mode the current
// accumulator value is emitted, then the accumulator steps and wraps back
// to the floor once it passes the ceiling.
func (m *model) next() int32 {
	switch m.mode {
	case ModeNoisy:
		return normalBaseMC + m.jitter(normalJitterMC*noisyFactor)
	case ModeRamp:
		v := m.ramp + m.jitter(rampJitterMC)
		m.ramp += rampStepMC
		if m.ramp > rampCeilingMC {
			m.ramp = rampFloorMC
		}

		return v
	default:
		return normalBaseMC + m.jitter(normalJitterMC)
	}
}

// setMode switches the model. A mode change resets the ramp accumulator to
// its floor so a later switch into ramp mode never resumes a stale ramp.
func (m *model) setMode(mode Mode) {
	if mode == m.mode {
		return
	}
	m.mode = mode
	m.ramp = rampFloorMC
}

// jitter returns a uniform value in [-amp, amp].
func (m *model) jitter(amp int32) int32 {
	return int32(m.rng.Int63n(int64(2*amp+1))) - amp
}
