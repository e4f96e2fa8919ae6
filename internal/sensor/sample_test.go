package sensor_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/simtempd/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLayout(t *testing.T) {
	s := sensor.Sample{
		TimestampNS: 0x0102030405060708,
		TempMC:      -1000,
		Flags:       sensor.FlagNew | sensor.FlagThresholdCrossed,
	}

	b := sensor.AppendRecord(nil, s)
	require.Len(t, b, sensor.RecordSize)

	// Little-endian, packed: u64 timestamp_ns, s32 temp_mC, u32 flags.
	assert.Equal(t, []byte{
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		0x18, 0xfc, 0xff, 0xff,
		0x03, 0x00, 0x00, 0x00,
	}, b)

	decoded, err := sensor.DecodeRecord(b)
	require.NoError(t, err)
	assert.Equal(t, s, decoded)
}

func TestDecodeRecordShortBuffer(t *testing.T) {
	_, err := sensor.DecodeRecord(make([]byte, sensor.RecordSize-1))
	assert.ErrorIs(t, err, sensor.ErrShortBuffer)
}

func TestParseMode(t *testing.T) {
	for _, name := range []string{"normal", "noisy", "ramp"} {
		m, err := sensor.ParseMode(name)
		require.NoError(t, err)
		assert.Equal(t, name, m.String())
	}

	_, err := sensor.ParseMode("blazing")
	assert.ErrorIs(t, err, sensor.ErrInvalidMode)
	_, err = sensor.ParseMode("Normal")
	assert.ErrorIs(t, err, sensor.ErrInvalidMode, "mode names are case-sensitive")
}

func TestConfigValidate(t *testing.T) {
	cfg := sensor.DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Period = sensor.MinPeriod
	assert.NoError(t, cfg.Validate(), "lower bound is inclusive")
	cfg.Period = sensor.MaxPeriod
	assert.NoError(t, cfg.Validate(), "upper bound is inclusive")

	cfg.Period = sensor.MinPeriod - time.Millisecond
	assert.ErrorIs(t, cfg.Validate(), sensor.ErrInvalidPeriod)
	cfg.Period = sensor.MaxPeriod + time.Millisecond
	assert.ErrorIs(t, cfg.Validate(), sensor.ErrInvalidPeriod)

	cfg = sensor.DefaultConfig()
	cfg.Mode = sensor.Mode(7)
	assert.ErrorIs(t, cfg.Validate(), sensor.ErrInvalidMode)
}

func TestDefaultConfig(t *testing.T) {
	cfg := sensor.DefaultConfig()
	assert.Equal(t, 100*time.Millisecond, cfg.Period)
	assert.Equal(t, int32(45000), cfg.ThresholdMC)
	assert.Equal(t, sensor.ModeNormal, cfg.Mode)
}
