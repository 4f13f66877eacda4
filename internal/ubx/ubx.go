// Package ubx implements the binary framing spoken by u-blox style GNSS
// receivers: two sync bytes, class, message ID, little-endian payload
// length, payload, and a two-byte Fletcher checksum covering class through
// payload.
//
// Only framing, checksum and the class/ID constants the driver exchanges
// are implemented here. Payload semantics belong to the dialect layer.
package ubx

import "fmt"

const (
	Sync1 = 0xB5
	Sync2 = 0x62
)

// Message classes used by the driver.
const (
	ClassNAV = 0x01
	ClassRXM = 0x02
	ClassACK = 0x05
	ClassCFG = 0x06
	ClassMON = 0x0A
)

// Message IDs, grouped by class.
const (
	IDAckNak = 0x00 // ACK: command refused
	IDAckAck = 0x01 // ACK: command accepted

	IDMonVer = 0x04 // MON: receiver/software version poll

	IDRxmPmreq = 0x41 // RXM: power management request (backup mode)

	IDCfgPrt   = 0x00 // CFG: port setup
	IDCfgMsg   = 0x01 // CFG: per-message output rate
	IDCfgInf   = 0x02 // CFG: informational text output
	IDCfgRate  = 0x08 // CFG: measurement/navigation rate
	IDCfgCfg   = 0x09 // CFG: save/load/clear configuration
	IDCfgRxm   = 0x11 // CFG: receiver power mode
	IDCfgNavx5 = 0x23 // CFG: expert navigation settings
	IDCfgItfm  = 0x39 // CFG: interference/jamming monitor
	IDCfgPm2   = 0x3B // CFG: extended power management
	IDCfgGnss  = 0x3E // CFG: constellation selection
	IDCfgPms   = 0x86 // CFG: power setup value
)

// MaxPayload bounds the payload size the codec frames and the scanner
// accepts. Everything the driver sends or matches is far smaller; a longer
// length field on the wire is treated as a framing error.
const MaxPayload = 250

const (
	headerLen  = 6 // sync1 sync2 class id len-lo len-hi
	trailerLen = 2 // ckA ckB
)

// Codec frames outgoing messages into a single reusable scratch buffer.
// A built frame aliases that buffer: callers must write it to the port
// before building the next one.
type Codec struct {
	scratch [headerLen + MaxPayload + trailerLen]byte
}

// Build assembles a complete frame for class/id around payload and returns
// a slice into the codec's scratch buffer. Payloads above MaxPayload are a
// caller bug: every payload the driver sends is a fixed constant, so Build
// panics rather than returning a frame that silently never matched.
func (c *Codec) Build(class, id byte, payload []byte) []byte {
	if len(payload) > MaxPayload {
		panic(fmt.Sprintf("ubx: payload %d bytes exceeds scratch capacity %d", len(payload), MaxPayload))
	}
	b := c.scratch[:0]
	b = append(b, Sync1, Sync2, class, id, byte(len(payload)), byte(len(payload)>>8))
	b = append(b, payload...)
	ckA, ckB := Checksum(b[2:])
	return append(b, ckA, ckB)
}

// Checksum computes the two running sums over a frame body
// (class, id, length and payload), per the receiver's algorithm:
// A += byte; B += A, both mod 256.
func Checksum(body []byte) (ckA, ckB byte) {
	for _, v := range body {
		ckA += v
		ckB += ckA
	}
	return ckA, ckB
}

// Verify reports whether frame is one complete well-formed frame: sync
// prefix, a length field consistent with the slice, and a matching
// checksum.
func Verify(frame []byte) bool {
	if len(frame) < headerLen+trailerLen {
		return false
	}
	if frame[0] != Sync1 || frame[1] != Sync2 {
		return false
	}
	n := int(frame[4]) | int(frame[5])<<8
	if n > MaxPayload || len(frame) != headerLen+n+trailerLen {
		return false
	}
	ckA, ckB := Checksum(frame[2 : headerLen+n])
	return frame[headerLen+n] == ckA && frame[headerLen+n+1] == ckB
}
