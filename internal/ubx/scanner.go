package ubx

// Frame is one decoded message extracted from the receiver byte stream.
type Frame struct {
	Class   byte
	ID      byte
	Payload []byte
}

// Scanner incrementally extracts frames from a noisy byte stream. It hunts
// for the two sync bytes, then reads header, payload and checksum. On any
// checksum mismatch or oversized length field it drops what it consumed
// and hunts again: skipped bytes are discarded, never re-examined.
//
// Errors counts malformed frames (not stray bytes between frames) so a
// caller waiting for an acknowledgement can abort early on a link that is
// framing but corrupting, which is what a baud mismatch looks like.
type Scanner struct {
	Errors int

	state   scanState
	class   byte
	id      byte
	length  int
	ckA     byte
	ckB     byte
	payload []byte
	frame   Frame
}

type scanState int

const (
	scanSync1 scanState = iota
	scanSync2
	scanClass
	scanID
	scanLenLo
	scanLenHi
	scanPayload
	scanCkA
	scanCkB
)

// Feed consumes one byte and returns a non-nil frame when that byte
// completes a well-formed message. The frame's payload is only valid until
// the next call to Feed.
func (s *Scanner) Feed(b byte) *Frame {
	switch s.state {
	case scanSync1:
		if b == Sync1 {
			s.state = scanSync2
		}
	case scanSync2:
		switch b {
		case Sync2:
			s.state = scanClass
		case Sync1:
			// Stay: this may be the real frame start right after a stray
			// sync byte in line noise.
		default:
			s.state = scanSync1
		}
	case scanClass:
		s.class = b
		s.ckA, s.ckB = b, b
		s.state = scanID
	case scanID:
		s.id = b
		s.sum(b)
		s.state = scanLenLo
	case scanLenLo:
		s.length = int(b)
		s.sum(b)
		s.state = scanLenHi
	case scanLenHi:
		s.length |= int(b) << 8
		s.sum(b)
		switch {
		case s.length > MaxPayload:
			s.Errors++
			s.state = scanSync1
		case s.length == 0:
			s.state = scanCkA
		default:
			if s.payload == nil {
				s.payload = make([]byte, 0, MaxPayload)
			}
			s.payload = s.payload[:0]
			s.state = scanPayload
		}
	case scanPayload:
		s.payload = append(s.payload, b)
		s.sum(b)
		if len(s.payload) == s.length {
			s.state = scanCkA
		}
	case scanCkA:
		if b == s.ckA {
			s.state = scanCkB
		} else {
			s.Errors++
			s.state = scanSync1
		}
	case scanCkB:
		s.state = scanSync1
		if b != s.ckB {
			s.Errors++
			break
		}
		s.frame = Frame{Class: s.class, ID: s.id}
		if s.length > 0 {
			s.frame.Payload = s.payload[:s.length]
		}
		return &s.frame
	}
	return nil
}

func (s *Scanner) sum(b byte) {
	s.ckA += b
	s.ckB += s.ckA
}

// Reset drops any partial frame and the error count. Used when the line
// rate changes mid-probe, where a half-consumed frame is meaningless.
func (s *Scanner) Reset() {
	s.state = scanSync1
	s.Errors = 0
}
