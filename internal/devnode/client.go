package devnode

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"codeberg.org/mutker/simtempd/internal/sensor"
)

// Client speaks the device node protocol over a unix socket. Not safe for
// concurrent use; open one client per consumer, the way each consumer would
// hold its own file descriptor.
type Client struct {
	conn net.Conn
}

func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial device node: %w", err)
	}

	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// ReadInto requests one record into dst. dst must hold at least one full
// record; the check runs client-side before any request is sent, so an
// undersized destination never consumes a sample.
func (c *Client) ReadInto(dst []byte, nonblock bool) (int, error) {
	if len(dst) < sensor.RecordSize {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", sensor.ErrShortBuffer, sensor.RecordSize, len(dst))
	}

	var flags byte
	if nonblock {
		flags |= readFlagNonblock
	}
	req := []byte{byte(OpRead), flags, 0, 0}
	binary.LittleEndian.PutUint16(req[2:4], uint16(min(len(dst), 0xffff)))
	if _, err := c.conn.Write(req); err != nil {
		return 0, err
	}

	status, err := c.readStatus()
	if err != nil {
		return 0, err
	}
	if status != StatusOK {
		return 0, readError(status)
	}
	if _, err := io.ReadFull(c.conn, dst[:sensor.RecordSize]); err != nil {
		return 0, err
	}

	return sensor.RecordSize, nil
}

// Read requests and decodes one sample.
func (c *Client) Read(nonblock bool) (sensor.Sample, error) {
	var buf [sensor.RecordSize]byte
	if _, err := c.ReadInto(buf[:], nonblock); err != nil {
		return sensor.Sample{}, err
	}

	return sensor.DecodeRecord(buf[:])
}

// Poll reports readiness without blocking.
func (c *Client) Poll() (sensor.Readiness, error) {
	if _, err := c.conn.Write([]byte{byte(OpPoll)}); err != nil {
		return 0, err
	}

	return c.readinessResponse()
}

// Wait blocks server-side until readiness is non-zero or the timeout
// elapses; zero means indefinite. A timeout reports zero readiness with no
// error.
func (c *Client) Wait(timeout time.Duration) (sensor.Readiness, error) {
	req := make([]byte, 1, 1+waitRequestLen)
	req[0] = byte(OpWait)
	req = binary.LittleEndian.AppendUint32(req, uint32(timeout/time.Millisecond))
	if _, err := c.conn.Write(req); err != nil {
		return 0, err
	}

	return c.readinessResponse()
}

// SetConfig sends the atomic period/threshold replace record.
func (c *Client) SetConfig(period time.Duration, thresholdMC int32) error {
	req := make([]byte, 1, 1+setConfigRequestLen)
	req[0] = byte(OpSetConfig)
	req = binary.LittleEndian.AppendUint32(req, uint32(period/time.Millisecond))
	req = binary.LittleEndian.AppendUint32(req, uint32(thresholdMC))
	if _, err := c.conn.Write(req); err != nil {
		return err
	}

	status, err := c.readStatus()
	if err != nil {
		return err
	}
	if status == StatusInval {
		return fmt.Errorf("%w: %s rejected", sensor.ErrInvalidPeriod, period)
	}
	if status != StatusOK {
		return readError(status)
	}

	return nil
}

func (c *Client) readStatus() (Status, error) {
	var b [1]byte
	if _, err := io.ReadFull(c.conn, b[:]); err != nil {
		return 0, err
	}

	return Status(b[0]), nil
}

func (c *Client) readinessResponse() (sensor.Readiness, error) {
	status, err := c.readStatus()
	if err != nil {
		return 0, err
	}
	if status != StatusOK {
		return 0, readError(status)
	}

	var payload [4]byte
	if _, err := io.ReadFull(c.conn, payload[:]); err != nil {
		return 0, err
	}

	return sensor.Readiness(binary.LittleEndian.Uint32(payload[:])), nil
}

// readError maps a non-OK status onto the matching engine sentinel.
func readError(status Status) error {
	switch status {
	case StatusAgain:
		return sensor.ErrWouldBlock
	case StatusEmpty:
		return sensor.ErrBufferEmpty
	case StatusIntr:
		return sensor.ErrInterrupted
	case StatusInval:
		return sensor.ErrShortBuffer
	case StatusClosed:
		return sensor.ErrClosed
	default:
		return fmt.Errorf("device node status %d", status)
	}
}
