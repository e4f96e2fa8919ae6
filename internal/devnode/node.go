// Package devnode exposes the sampling engine the way a character device
// would: open a handle, read fixed-size sample records, poll for readiness,
// push configuration. Served in-process through Node/Handle and remotely
// over a unix socket.
package devnode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/simtempd/internal/errors"
	"codeberg.org/mutker/simtempd/internal/logger"
	"codeberg.org/mutker/simtempd/internal/sensor"
	"github.com/google/uuid"
)

// Node is the device node: the open() surface in front of a sensor device.
type Node struct {
	dev sensor.Device

	mu   sync.Mutex
	open int
}

func NewNode(dev sensor.Device) *Node {
	return &Node{dev: dev}
}

// Open creates a session handle.
func (n *Node) Open() *Handle {
	n.mu.Lock()
	n.open++
	open := n.open
	n.mu.Unlock()

	h := &Handle{node: n, id: uuid.NewString()}
	logger.Debug().Msgf("Session opened: id=%s open=%d", h.id, open)

	return h
}

// OpenSessions reports how many handles are currently open.
func (n *Node) OpenSessions() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.open
}

// Handle is one open session. Not safe for concurrent use; each caller
// opens its own.
type Handle struct {
	node     *Node
	id       string
	nonblock bool
	closed   bool
}

// ID returns the session identifier.
func (h *Handle) ID() string {
	return h.id
}

// SetNonblock switches the handle between blocking and non-blocking reads.
func (h *Handle) SetNonblock(nonblock bool) {
	h.nonblock = nonblock
}

// Read fills p with one encoded sample record. p must hold at least one
// full record; samples are never split across reads.
func (h *Handle) Read(p []byte) (int, error) {
	return h.ReadContext(context.Background(), p)
}

// ReadContext is Read with cancellation for the blocking case.
func (h *Handle) ReadContext(ctx context.Context, p []byte) (int, error) {
	if h.closed {
		return 0, sensor.ErrClosed
	}
	if len(p) < sensor.RecordSize {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", sensor.ErrShortBuffer, sensor.RecordSize, len(p))
	}

	var (
		s   sensor.Sample
		err error
	)
	if h.nonblock {
		s, err = h.node.dev.TryRead()
		if errors.Is(err, sensor.ErrBufferEmpty) {
			err = sensor.ErrWouldBlock
		}
	} else {
		s, err = h.node.dev.Read(ctx)
	}
	if err != nil {
		return 0, err
	}

	return len(sensor.AppendRecord(p[:0], s)), nil
}

// Poll reports readiness without blocking.
func (h *Handle) Poll() sensor.Readiness {
	return h.node.dev.Poll()
}

// Wait blocks until readiness is non-zero or the timeout elapses; zero
// means wait indefinitely. An elapsed timeout returns zero readiness and no
// error.
func (h *Handle) Wait(ctx context.Context, timeout time.Duration) (sensor.Readiness, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r, err := h.node.dev.WaitEvent(ctx)
	if err != nil && timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return 0, nil
	}

	return r, err
}

// SetConfig forwards an atomic period/threshold replace.
func (h *Handle) SetConfig(period time.Duration, thresholdMC int32) error {
	return h.node.dev.SetConfig(period, thresholdMC)
}

// Close releases the session.
func (h *Handle) Close() {
	if h.closed {
		return
	}
	h.closed = true

	h.node.mu.Lock()
	h.node.open--
	open := h.node.open
	h.node.mu.Unlock()

	logger.Debug().Msgf("Session closed: id=%s open=%d", h.id, open)
}
