package devnode

// Wire protocol for the device node socket. Requests open with a one-byte
// opcode followed by a fixed-size little-endian payload; responses open
// with a one-byte status followed by the payload the opcode defines.

type Opcode uint8

const (
	// OpRead requests one sample record. Payload: flags u8 (bit0 =
	// non-blocking), destination size u16. A destination smaller than one
	// record is refused before anything is consumed. OK response carries
	// the 16-byte record.
	OpRead Opcode = 0x01
	// OpPoll requests instantaneous readiness. No payload. OK response
	// carries readiness as u32.
	OpPoll Opcode = 0x02
	// OpWait blocks until readiness is non-zero. Payload: timeout_ms u32,
	// zero meaning indefinite. A timeout is not an error: the OK response
	// carries zero readiness.
	OpWait Opcode = 0x03
	// OpSetConfig replaces sampling period and threshold as one unit.
	// Payload: sampling_ms u32, threshold_mC s32. An out-of-range period
	// is refused with nothing applied.
	OpSetConfig Opcode = 0x04
)

type Status uint8

const (
	StatusOK Status = iota
	StatusAgain
	StatusEmpty
	StatusIntr
	StatusInval
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusAgain:
		return "again"
	case StatusEmpty:
		return "empty"
	case StatusIntr:
		return "interrupted"
	case StatusInval:
		return "invalid"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	readFlagNonblock = 0x01

	readRequestLen      = 3 // flags u8, size u16
	waitRequestLen      = 4 // timeout_ms u32
	setConfigRequestLen = 8 // sampling_ms u32, threshold_mC s32
)
