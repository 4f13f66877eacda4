package gnss

import (
	"bytes"
	"time"

	"gnssd/internal/ubx"
)

// defaultMaxFrameErrors aborts an acknowledgement wait early once this
// many malformed frames accumulate, the signature of a link that frames
// but corrupts (usually a baud mismatch).
const defaultMaxFrameErrors = 10

// exchange drives command/acknowledgement traffic on the port. The prober
// and the dialects share one instance; exchanges never interleave because
// the state machine is a single cooperative task.
type exchange struct {
	port           Port
	codec          ubx.Codec
	scan           ubx.Scanner
	maxFrameErrors int
	rbuf           [256]byte
	tline          []byte
}

func newExchange(port Port, maxFrameErrors int) *exchange {
	if maxFrameErrors <= 0 {
		maxFrameErrors = defaultMaxFrameErrors
	}
	return &exchange{port: port, maxFrameErrors: maxFrameErrors}
}

// sendFrame frames and writes one binary command.
func (e *exchange) sendFrame(class, id byte, payload []byte) error {
	_, err := e.port.Write(e.codec.Build(class, id, payload))
	return err
}

// sendText writes one line command (already framed by the caller, either
// via nmea0183.Sentence or as a raw vendor string).
func (e *exchange) sendText(cmd string) error {
	_, err := e.port.Write([]byte(cmd))
	return err
}

// await polls the channel until onFrame reports a conclusive result, the
// deadline elapses (ResponseNone), or too many malformed frames accumulate
// (ResponseFrameErrors). The port's read timeout is the poll granularity,
// so the return overshoots the deadline by less than one pollInterval. A
// timeout is a normal outcome here, never an error.
func (e *exchange) await(deadline time.Duration, onFrame func(*ubx.Frame) (Response, bool)) Response {
	start := timeNow()
	base := e.scan.Errors
	for {
		n, err := e.port.Read(e.rbuf[:])
		if err != nil {
			sleep(pollInterval) // pace a dead channel; the deadline still bounds us
		}
		for _, b := range e.rbuf[:n] {
			f := e.scan.Feed(b)
			if e.scan.Errors-base >= e.maxFrameErrors {
				return ResponseFrameErrors
			}
			if f == nil {
				continue
			}
			if r, done := onFrame(f); done {
				return r
			}
		}
		if timeNow().Sub(start) >= deadline {
			return ResponseNone
		}
	}
}

// awaitAck waits for the acknowledgement matching an already-sent command
// with the given class/id. Acknowledgements for other commands and any
// unrelated frames are ignored, never matched.
func (e *exchange) awaitAck(class, id byte, deadline time.Duration) Response {
	return e.await(deadline, func(f *ubx.Frame) (Response, bool) {
		if f.Class != ubx.ClassACK || len(f.Payload) != 2 {
			return ResponseNone, false
		}
		if f.Payload[0] != class || f.Payload[1] != id {
			return ResponseNone, false
		}
		switch f.ID {
		case ubx.IDAckAck:
			return ResponseOK, true
		case ubx.IDAckNak:
			return ResponseNAK, true
		}
		return ResponseNone, false
	})
}

// awaitFrame waits for a data response with the given class/id, for
// query-style commands answered with a payload rather than a bare ack.
// The payload is copied out of the scanner's reused buffer.
func (e *exchange) awaitFrame(class, id byte, deadline time.Duration) ([]byte, Response) {
	var payload []byte
	r := e.await(deadline, func(f *ubx.Frame) (Response, bool) {
		if f.Class != class || f.ID != id {
			return ResponseNone, false
		}
		payload = append([]byte(nil), f.Payload...)
		return ResponseOK, true
	})
	return payload, r
}

// awaitText waits for a line containing want, for dialects that answer in
// plain text. Matching is substring-based at each line end; over-long
// lines are dropped as binary noise.
func (e *exchange) awaitText(want string, deadline time.Duration) Response {
	start := timeNow()
	e.tline = e.tline[:0]
	target := []byte(want)
	for {
		n, err := e.port.Read(e.rbuf[:])
		if err != nil {
			sleep(pollInterval)
		}
		for _, b := range e.rbuf[:n] {
			switch b {
			case '\r', '\n':
				if bytes.Contains(e.tline, target) {
					return ResponseOK
				}
				e.tline = e.tline[:0]
			default:
				e.tline = append(e.tline, b)
				if len(e.tline) > maxLineLen {
					e.tline = e.tline[:0]
				}
			}
		}
		if timeNow().Sub(start) >= deadline {
			return ResponseNone
		}
	}
}
