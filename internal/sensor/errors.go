package sensor

import "errors"

var (
	ErrInvalidPeriod     = errors.New("sampling period out of range")
	ErrInvalidMode       = errors.New("unknown sensor mode")
	ErrInvalidBufferSize = errors.New("buffer size must be a power of two")
	ErrBufferEmpty       = errors.New("sample buffer empty")
	ErrWouldBlock        = errors.New("read would block")
	ErrInterrupted       = errors.New("wait interrupted")
	ErrClosed            = errors.New("engine closed")
	ErrShortBuffer       = errors.New("destination too small for a sample record")
	ErrAlreadyStarted    = errors.New("engine already started")
)
