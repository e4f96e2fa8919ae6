package devnode

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"codeberg.org/mutker/simtempd/internal/errors"
	"codeberg.org/mutker/simtempd/internal/logger"
	"codeberg.org/mutker/simtempd/internal/sensor"
)

// Server exposes a Node over a unix socket. Each accepted connection is one
// open session served by its own goroutine; requests on a session run
// strictly in order, like reads on a file descriptor.
type Server struct {
	node *Node
	path string

	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(dev sensor.Device, path string) *Server {
	return &Server{
		node: NewNode(dev),
		path: path,
	}
}

// Node returns the in-process device node backing the server.
func (s *Server) Node() *Node {
	return s.node
}

// Start listens on the socket path, replacing a stale socket file from a
// previous run.
func (s *Server) Start(ctx context.Context) error {
	errFactory := errors.New()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}
	s.ln = ln
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.acceptLoop()

	logger.Info().Msgf("Device node listening: %s", s.path)

	return nil
}

// Stop interrupts every blocked session, closes the listener, and waits for
// all session goroutines to finish.
func (s *Server) Stop() {
	if s.ln == nil {
		return
	}
	s.cancel()
	s.ln.Close()
	s.wg.Wait()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		logger.Warn().Msgf("Failed to remove socket: %v", err)
	}

	logger.Debug().Msg("Device node stopped")
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			logger.Warn().Msgf("Accept failed: %v", err)
			continue
		}
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	// Shutdown unblocks sessions parked in a request read.
	stop := context.AfterFunc(s.ctx, func() { conn.Close() })
	defer stop()

	h := s.node.Open()
	defer h.Close()

	for {
		if s.ctx.Err() != nil {
			return
		}
		op, err := readOpcode(conn)
		if err != nil {
			if err != io.EOF {
				logger.Debug().Msgf("Session %s request read failed: %v", h.ID(), err)
			}
			return
		}
		if !s.handle(conn, h, op) {
			return
		}
	}
}

// handle serves one request and reports whether the session continues.
func (s *Server) handle(conn net.Conn, h *Handle, op Opcode) bool {
	switch op {
	case OpRead:
		return s.handleRead(conn, h)
	case OpPoll:
		return respond(conn, StatusOK, readinessPayload(h.Poll()))
	case OpWait:
		return s.handleWait(conn, h)
	case OpSetConfig:
		return s.handleSetConfig(conn, h)
	default:
		return respond(conn, StatusInval, nil)
	}
}

func (s *Server) handleRead(conn net.Conn, h *Handle) bool {
	var req [readRequestLen]byte
	if _, err := io.ReadFull(conn, req[:]); err != nil {
		return false
	}
	nonblock := req[0]&readFlagNonblock != 0
	size := binary.LittleEndian.Uint16(req[1:3])

	// An undersized destination is a caller error, refused before any
	// sample is consumed.
	if size < sensor.RecordSize {
		return respond(conn, StatusInval, nil)
	}

	h.SetNonblock(nonblock)
	buf := make([]byte, sensor.RecordSize)
	n, err := h.ReadContext(s.ctx, buf)
	if err != nil {
		return respond(conn, statusOf(err), nil)
	}

	if !respond(conn, StatusOK, buf[:n]) {
		// The sample was already dequeued; per the delivery contract it is
		// lost, not re-queued.
		deliveryErr := errors.New().WithMessage(errors.ErrOperationFailed, "Record delivery failed").WithData(h.ID())
		s.node.dev.NoteDeliveryError(deliveryErr)
		logger.Warn().Msgf("Session %s lost a sample: response write failed", h.ID())

		return false
	}

	return true
}

func (s *Server) handleWait(conn net.Conn, h *Handle) bool {
	var req [waitRequestLen]byte
	if _, err := io.ReadFull(conn, req[:]); err != nil {
		return false
	}
	timeout := time.Duration(binary.LittleEndian.Uint32(req[:])) * time.Millisecond

	r, err := h.Wait(s.ctx, timeout)
	if err != nil {
		return respond(conn, statusOf(err), nil)
	}

	return respond(conn, StatusOK, readinessPayload(r))
}

func (s *Server) handleSetConfig(conn net.Conn, h *Handle) bool {
	var req [setConfigRequestLen]byte
	if _, err := io.ReadFull(conn, req[:]); err != nil {
		return false
	}
	samplingMS := binary.LittleEndian.Uint32(req[0:4])
	thresholdMC := int32(binary.LittleEndian.Uint32(req[4:8]))

	period := time.Duration(samplingMS) * time.Millisecond
	if err := h.SetConfig(period, thresholdMC); err != nil {
		return respond(conn, statusOf(err), nil)
	}

	return respond(conn, StatusOK, nil)
}

func readOpcode(conn net.Conn) (Opcode, error) {
	var b [1]byte
	if _, err := io.ReadFull(conn, b[:]); err != nil {
		return 0, err
	}

	return Opcode(b[0]), nil
}

func respond(conn net.Conn, status Status, payload []byte) bool {
	resp := make([]byte, 0, 1+len(payload))
	resp = append(resp, byte(status))
	resp = append(resp, payload...)
	_, err := conn.Write(resp)

	return err == nil
}

func readinessPayload(r sensor.Readiness) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(r))
}

func statusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, sensor.ErrWouldBlock):
		return StatusAgain
	case errors.Is(err, sensor.ErrBufferEmpty):
		return StatusEmpty
	case errors.Is(err, sensor.ErrInterrupted):
		return StatusIntr
	case errors.Is(err, sensor.ErrClosed):
		return StatusClosed
	default:
		return StatusInval
	}
}
