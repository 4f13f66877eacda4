// Package sim provides a software receiver behind the serial port
// interface, for running the daemon on machines with no hardware
// attached. The simulated part answers the identification queries of its
// configured family, acknowledges configuration, honors power requests,
// and streams a deterministic position walk once its time-to-first-fix
// has elapsed.
package sim

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"gnssd/internal/gnss"
	"gnssd/internal/nmea0183"
	"gnssd/internal/ubx"
)

// Config shapes one simulated receiver.
type Config struct {
	// Model picks which identification queries the part answers.
	Model gnss.Model

	// Baud is the only rate the part speaks. Off it, the line is silent.
	// Default 9600.
	Baud int

	// TTFF is the cold time to first fix after power-up or wake. Warm
	// starts take a quarter of it. Default 10s; negative means a fix on
	// the very first sentence.
	TTFF time.Duration

	// Walk parameters: a circular stroll around the center point.
	Lat     float64
	Lon     float64
	RadiusM float64       // default 250
	Period  time.Duration // default 10m

	// Now is the simulation clock. Default time.Now.
	Now func() time.Time
}

func (c *Config) setDefaults() {
	if c.Baud <= 0 {
		c.Baud = 9600
	}
	if c.TTFF < 0 {
		c.TTFF = 0
	} else if c.TTFF == 0 {
		c.TTFF = 10 * time.Second
	}
	if c.RadiusM <= 0 {
		c.RadiusM = 250
	}
	if c.Period <= 0 {
		c.Period = 10 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Receiver is the simulated part. It satisfies the driver's port
// interface; output is generated lazily inside Read so no goroutine is
// needed and behavior is a pure function of the commands written and the
// configured clock.
type Receiver struct {
	cfg Config

	mu       sync.Mutex
	baud     int // host side setting
	out      bytes.Buffer
	awake    bool
	wokeAt   time.Time
	lastEmit time.Time
	hadFix   bool // first fix done, later starts are warm
	closed   bool
}

var _ gnss.Port = (*Receiver)(nil)

// NewReceiver powers up a simulated receiver. It starts awake, with its
// cold start in progress.
func NewReceiver(cfg Config) *Receiver {
	cfg.setDefaults()
	return &Receiver{
		cfg:    cfg,
		baud:   cfg.Baud,
		awake:  true,
		wokeAt: cfg.Now(),
	}
}

func (r *Receiver) SetBaud(baud int) error {
	r.mu.Lock()
	r.baud = baud
	r.mu.Unlock()
	return nil
}

func (r *Receiver) FlushInput() error {
	r.mu.Lock()
	r.out.Reset()
	r.mu.Unlock()
	return nil
}

func (r *Receiver) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// TTFF with a warm-start discount once a fix has been delivered before.
func (r *Receiver) ttffLocked() time.Duration {
	if r.hadFix {
		d := r.cfg.TTFF / 4
		if d < time.Second {
			d = time.Second
		}
		return d
	}
	return r.cfg.TTFF
}

// Write receives host commands. Any bus activity wakes a sleeping part,
// the way the real hardware's wakeup-on-edge behaves.
func (r *Receiver) Write(data []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.awake {
		r.awake = true
		r.wokeAt = r.cfg.Now()
	}
	if r.baud != r.cfg.Baud {
		return len(data), nil // garbled beyond recognition
	}

	switch r.cfg.Model {
	case gnss.ModelUblox:
		r.handleBinaryLocked(data)
	case gnss.ModelMTK:
		if bytes.Contains(data, []byte("$PMTK605")) {
			r.out.WriteString(nmea0183.Sentence("PMTK705,AXN_3.80_3333_19020118,0027,,1.0"))
		}
		if bytes.Contains(data, []byte("$PMTK161")) {
			r.awake = false
		}
	case gnss.ModelUC6850:
		if bytes.Contains(data, []byte("$PDTINFO")) {
			r.out.WriteString(nmea0183.Sentence("PDTINFO,UC6580,R4.3.0.0Build1234,A01"))
		}
	}
	return len(data), nil
}

func (r *Receiver) handleBinaryLocked(data []byte) {
	if len(data) < 8 || data[0] != ubx.Sync1 || data[1] != ubx.Sync2 || !ubx.Verify(data) {
		return
	}
	var codec ubx.Codec
	switch {
	case data[2] == ubx.ClassMON && data[3] == ubx.IDMonVer:
		payload := make([]byte, 40)
		copy(payload, "ROM CORE 3.01 (107888)")
		copy(payload[30:], "00080000")
		r.out.Write(codec.Build(ubx.ClassMON, ubx.IDMonVer, payload))
	case data[2] == ubx.ClassCFG:
		r.out.Write(codec.Build(ubx.ClassACK, ubx.IDAckAck, []byte{data[2], data[3]}))
	case data[2] == ubx.ClassRXM && data[3] == ubx.IDRxmPmreq:
		r.awake = false
	}
}

// Read hands out pending output, generating the position stream on the
// way. An idle channel blocks briefly, mimicking the real port's read
// timeout.
func (r *Receiver) Read(buf []byte) (int, error) {
	r.mu.Lock()
	r.emitLocked()
	n, _ := r.out.Read(buf)
	r.mu.Unlock()
	if n == 0 {
		time.Sleep(20 * time.Millisecond)
	}
	return n, nil
}

// emitLocked appends the 1 Hz sentence set when one is due.
func (r *Receiver) emitLocked() {
	if !r.awake || r.baud != r.cfg.Baud {
		return
	}
	now := r.cfg.Now()
	if !r.lastEmit.IsZero() && now.Sub(r.lastEmit) < time.Second {
		return
	}
	r.lastEmit = now

	sinceWake := now.Sub(r.wokeAt)
	if sinceWake < r.ttffLocked() {
		// Still searching: satellites creep into view but no solution yet.
		inView := int(sinceWake/(2*time.Second)) + 3
		if inView > 11 {
			inView = 11
		}
		r.out.WriteString(nmea0183.Sentence(gsvBody(inView)))
		r.out.WriteString(nmea0183.RMC(now, 0, 0, 0, 0, false))
		return
	}

	r.hadFix = true
	lat, lon, course, speedKt := r.walk(now)
	sats := int(sinceWake/(2*time.Second)) + 6
	if sats > 12 {
		sats = 12
	}
	hdop := 2.5 - 0.1*sinceWake.Seconds()
	if hdop < 0.8 {
		hdop = 0.8
	}
	r.out.WriteString(nmea0183.RMC(now, lat, lon, speedKt, course, true))
	r.out.WriteString(nmea0183.GGA(now, lat, lon, 1, sats, hdop, 52.0))
}

// walk is a deterministic circular stroll around the configured center:
// position, instantaneous course, and ground speed all follow from the
// clock alone.
func (r *Receiver) walk(now time.Time) (lat, lon, courseDeg, speedKt float64) {
	period := r.cfg.Period
	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())
	w := 2 * math.Pi * phase

	radiusDeg := r.cfg.RadiusM / 111320.0
	lat = r.cfg.Lat + radiusDeg*math.Sin(w)
	lon = r.cfg.Lon + radiusDeg*math.Cos(w)/math.Cos(r.cfg.Lat*math.Pi/180)

	// Velocity of (east=cos w, north=sin w) scaled to the circle.
	vEast := -math.Sin(w)
	vNorth := math.Cos(w)
	courseDeg = math.Mod(math.Atan2(vEast, vNorth)*180/math.Pi+360, 360)

	mps := 2 * math.Pi * r.cfg.RadiusM / period.Seconds()
	speedKt = mps * 1.9438
	return lat, lon, courseDeg, speedKt
}

func gsvBody(inView int) string {
	// One page is plenty for a count-only consumer.
	var b strings.Builder
	fmt.Fprintf(&b, "GPGSV,1,1,%02d", inView)
	for i := 0; i < 4 && i < inView; i++ {
		fmt.Fprintf(&b, ",%02d,45,%03d,3%d", 10+i, 111+i, i)
	}
	return b.String()
}
