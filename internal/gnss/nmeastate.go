package gnss

import (
	"strconv"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"

	"gnssd/internal/nmea0183"
)

const maxLineLen = 256

// nmeaState folds receiver sentences into the latest view of what it is
// reporting, consulted by the look-for-time and look-for-location checks.
// Every supported model family streams NMEA once configured; the dialects
// differ in how they are configured, not in what they emit.
type nmeaState struct {
	line []byte

	haveRMC   bool
	rmcValid  bool
	rmcTime   time.Time
	lat, lon  float64
	speedKt   float64
	courseDeg float64

	haveGGA    bool
	fixQuality int
	hdop       float64
	altM       float64

	satellites int

	newTime bool // unconsumed time data since the last takeTime
	newFix  bool // unconsumed position data since the last takeFix
}

// feed consumes raw receiver bytes, assembling lines and parsing complete
// sentences. It reports whether at least one checksummed sentence arrived,
// which is the "receiver is alive" signal.
func (st *nmeaState) feed(data []byte) bool {
	alive := false
	for _, b := range data {
		switch b {
		case '\r', '\n':
			if len(st.line) > 0 {
				if st.feedLine(string(st.line)) {
					alive = true
				}
				st.line = st.line[:0]
			}
		case '$':
			// Sentence start: whatever preceded it was noise or a frame
			// this reader does not handle.
			st.line = append(st.line[:0], b)
		default:
			st.line = append(st.line, b)
			if len(st.line) > maxLineLen {
				st.line = st.line[:0] // binary noise, not a sentence
			}
		}
	}
	return alive
}

func (st *nmeaState) feedLine(line string) bool {
	if !strings.HasPrefix(line, "$") {
		return false
	}
	parsed, err := nmea.Parse(line)
	if err != nil {
		// Proprietary or fieldless sentences still prove a live receiver
		// when their checksum holds (void fixes often have empty fields).
		return nmea0183.ChecksumOK(line)
	}
	switch s := parsed.(type) {
	case nmea.RMC:
		st.haveRMC = true
		st.rmcValid = s.Validity == "A"
		st.lat, st.lon = s.Latitude, s.Longitude
		st.speedKt, st.courseDeg = s.Speed, s.Course
		if s.Date.Valid && s.Time.Valid {
			st.rmcTime = time.Date(2000+s.Date.YY, time.Month(s.Date.MM), s.Date.DD,
				s.Time.Hour, s.Time.Minute, s.Time.Second,
				s.Time.Millisecond*int(time.Millisecond), time.UTC)
			st.newTime = true
		}
		if st.rmcValid {
			st.newFix = true
		}
	case nmea.GGA:
		st.haveGGA = true
		st.fixQuality = fixQuality(s.FixQuality)
		if n := int(s.NumSatellites); n > 0 {
			st.satellites = n
		}
		st.hdop = s.HDOP
		st.altM = s.Altitude
		if st.fixQuality > 0 {
			st.newFix = true
		}
	case nmea.GSV:
		// In-view count keeps the satellite figure moving before any fix.
		if st.fixQuality == 0 && int(s.NumberSVsInView) > 0 {
			st.satellites = int(s.NumberSVsInView)
		}
	}
	return true
}

func fixQuality(q string) int {
	n, err := strconv.Atoi(strings.TrimSpace(q))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// takeTime hands out newly seen receiver UTC time, once per arrival.
func (st *nmeaState) takeTime() (time.Time, bool) {
	if !st.newTime || st.rmcTime.IsZero() {
		return time.Time{}, false
	}
	st.newTime = false
	return st.rmcTime, true
}

// takeFix hands out a complete fresh fix, or reports none is ready.
// Completeness requires a valid RMC (coordinates, motion, time) plus a GGA
// carrying a real fix quality and altitude. Satellite count and DOP ride
// along as information but never gate acceptance.
func (st *nmeaState) takeFix() (Fix, bool) {
	if !st.newFix {
		return Fix{}, false
	}
	st.newFix = false
	if !st.rmcValid || !st.haveGGA || st.fixQuality == 0 {
		return Fix{}, false
	}
	return Fix{
		Lat:        st.lat,
		Lon:        st.lon,
		AltM:       st.altM,
		SpeedKt:    st.speedKt,
		CourseDeg:  st.courseDeg,
		HDOP:       st.hdop,
		Satellites: st.satellites,
		Time:       st.rmcTime,
	}, true
}

// resetWindow clears per-window novelty so data parsed before a sleep
// cannot satisfy a fresh search window.
func (st *nmeaState) resetWindow() {
	st.newTime = false
	st.newFix = false
}
