package sensor

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Flags carried by a sample record.
type Flags uint32

const (
	FlagNew              Flags = 1 << 0
	FlagThresholdCrossed Flags = 1 << 1
)

// Sample is one sensor reading. It is immutable once produced; ownership
// moves into the ring buffer and then to exactly one consumer.
type Sample struct {
	TimestampNS uint64
	TempMC      int32
	Flags       Flags
}

// RecordSize is the wire size of an encoded sample: u64 timestamp_ns,
// s32 temp_mC, u32 flags, little-endian, packed.
const RecordSize = 16

// AppendRecord appends the wire encoding of s to dst.
func AppendRecord(dst []byte, s Sample) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, s.TimestampNS)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(s.TempMC))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(s.Flags))

	return dst
}

// DecodeRecord decodes one sample record from the front of b.
func DecodeRecord(b []byte) (Sample, error) {
	if len(b) < RecordSize {
		return Sample{}, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, RecordSize, len(b))
	}

	return Sample{
		TimestampNS: binary.LittleEndian.Uint64(b[0:8]),
		TempMC:      int32(binary.LittleEndian.Uint32(b[8:12])),
		Flags:       Flags(binary.LittleEndian.Uint32(b[12:16])),
	}, nil
}

// Mode selects the simulation model.
type Mode int

const (
	ModeNormal Mode = iota
	ModeNoisy
	ModeRamp
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeNoisy:
		return "noisy"
	case ModeRamp:
		return "ramp"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) valid() bool {
	return m == ModeNormal || m == ModeNoisy || m == ModeRamp
}

// ParseMode parses the textual mode names exposed by the attribute store.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "normal":
		return ModeNormal, nil
	case "noisy":
		return ModeNoisy, nil
	case "ramp":
		return ModeRamp, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Bounds for the sampling period. Updates outside this range are rejected
// before any configuration field is touched.
const (
	MinPeriod = 10 * time.Millisecond
	MaxPeriod = 60 * time.Second
)

// Config is the engine configuration. It is replaced as a whole unit under
// the engine's lock; readers never observe a half-applied update.
type Config struct {
	Period      time.Duration
	ThresholdMC int32
	Mode        Mode
}

// DefaultConfig returns the startup configuration used when no explicit
// settings are supplied.
func DefaultConfig() Config {
	return Config{
		Period:      100 * time.Millisecond,
		ThresholdMC: 45000,
		Mode:        ModeNormal,
	}
}

func (c Config) Validate() error {
	if err := validatePeriod(c.Period); err != nil {
		return err
	}
	if !c.Mode.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(c.Mode))
	}

	return nil
}

func validatePeriod(d time.Duration) error {
	if d < MinPeriod || d > MaxPeriod {
		return fmt.Errorf("%w: %s (want %s to %s)", ErrInvalidPeriod, d, MinPeriod, MaxPeriod)
	}

	return nil
}

// Stats are the engine's running counters.
type Stats struct {
	Updates   uint64
	Alerts    uint64
	Drops     uint64
	Reads     uint64
	LastError error
}

// Readiness reports what a reader would find without blocking.
type Readiness uint32

const (
	// ReadyData is set while the buffer holds at least one sample.
	ReadyData Readiness = 1 << 0
	// ReadyAlert is set from a threshold crossing until the next
	// successful read clears it.
	ReadyAlert Readiness = 1 << 1
)

func (r Readiness) String() string {
	switch {
	case r&ReadyData != 0 && r&ReadyAlert != 0:
		return "data|alert"
	case r&ReadyData != 0:
		return "data"
	case r&ReadyAlert != 0:
		return "alert"
	default:
		return "none"
	}
}

// Snapshot is a consistent view of configuration, counters, and queue state
// taken under one lock hold.
type Snapshot struct {
	Config Config
	Stats  Stats
	Queued int
	Ready  Readiness
}
