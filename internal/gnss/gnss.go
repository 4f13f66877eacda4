// Package gnss drives a satellite-positioning receiver attached over a
// serial byte channel: it probes candidate baud rates to identify the
// receiver model, configures it through its vendor dialect, duty-cycles it
// between active fix searching and low-power sleep, and publishes status
// snapshots to subscribers.
//
// The core is a cooperative state machine: runOnce performs one bounded
// step and reports when it wants to run next. Service wraps it in a
// goroutine with a timer; host power hooks and force-wake requests are
// flag writes observed at the start of the next step.
package gnss

import "time"

// Test seams.
var (
	timeNow = time.Now
	sleep   = time.Sleep
)

// Model identifies the receiver family discovered by probing. It is fixed
// for the rest of the session once the prober classifies it.
type Model int

const (
	ModelUnknown Model = iota
	ModelMTK
	ModelUblox
	ModelUC6850
)

func (m Model) String() string {
	switch m {
	case ModelMTK:
		return "mtk"
	case ModelUblox:
		return "ublox"
	case ModelUC6850:
		return "uc6850"
	default:
		return "unknown"
	}
}

// Response classifies one command/acknowledgement exchange.
type Response int

const (
	// ResponseNone: the deadline passed without anything conclusive.
	// Callers treat it as "no response this cycle", never as fatal.
	ResponseNone Response = iota
	// ResponseNAK: the receiver explicitly refused the command.
	ResponseNAK
	// ResponseFrameErrors: too many malformed frames while waiting, which
	// is what a baud mismatch looks like.
	ResponseFrameErrors
	// ResponseOK: positive acknowledgement (or the requested data frame).
	ResponseOK
)

func (r Response) String() string {
	switch r {
	case ResponseNAK:
		return "nak"
	case ResponseFrameErrors:
		return "frame-errors"
	case ResponseOK:
		return "ok"
	default:
		return "none"
	}
}

// State names the power/acquisition machine's position.
type State int

const (
	StateUninitialized State = iota
	StateProbing
	StateDisconnected
	StateConfiguring
	StateActiveSearching
	StateSleeping
	StateForcedAwake
	StateSuspended
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateDisconnected:
		return "disconnected"
	case StateConfiguring:
		return "configuring"
	case StateActiveSearching:
		return "active-searching"
	case StateSleeping:
		return "sleeping"
	case StateForcedAwake:
		return "forced-awake"
	case StateSuspended:
		return "suspended"
	default:
		return "uninitialized"
	}
}

// Fix is one complete position solution. It is overwritten wholesale on
// each accepted fix, never field by field.
type Fix struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	AltM       float64   `json:"alt_m"`
	SpeedKt    float64   `json:"speed_kt"`
	CourseDeg  float64   `json:"course_deg"`
	HDOP       float64   `json:"hdop,omitempty"`
	Satellites int       `json:"satellites"`
	Time       time.Time `json:"time"`
}
