// Package nmea0183 builds NMEA 0183 sentences: checksum framing plus the
// couple of talker sentences the daemon emits itself (beacon output, the
// simulated receiver, text-dialect configuration commands). Parsing of
// receiver output lives elsewhere.
package nmea0183

import (
	"fmt"
	"strings"
	"time"
)

// Checksum is the XOR over the sentence body (between '$' and '*').
func Checksum(body string) byte {
	var ck byte
	for i := 0; i < len(body); i++ {
		ck ^= body[i]
	}
	return ck
}

// Sentence frames body as an on-wire sentence: "$" + body + "*HH\r\n".
func Sentence(body string) string {
	return fmt.Sprintf("$%s*%02X\r\n", body, Checksum(body))
}

// ChecksumOK reports whether line is a framed sentence whose trailing
// checksum matches. Trailing CR/LF is tolerated. Used to recognize live
// receiver traffic even for sentence types nothing here parses.
func ChecksumOK(line string) bool {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < 4 || line[0] != '$' {
		return false
	}
	star := strings.LastIndexByte(line, '*')
	if star < 0 || len(line)-star != 3 {
		return false
	}
	var got byte
	if _, err := fmt.Sscanf(line[star+1:], "%02X", &got); err != nil {
		return false
	}
	return got == Checksum(line[1:star])
}

func timeField(t time.Time) string { return t.UTC().Format("150405.00") }
func dateField(t time.Time) string { return t.UTC().Format("020106") }

func latFields(lat float64) (string, string) {
	hemi := "N"
	if lat < 0 {
		hemi = "S"
		lat = -lat
	}
	d := int(lat)
	m := (lat - float64(d)) * 60
	if m >= 59.99995 { // keep minutes from printing as 60.0000
		d++
		m = 0
	}
	return fmt.Sprintf("%02d%07.4f", d, m), hemi
}

func lonFields(lon float64) (string, string) {
	hemi := "E"
	if lon < 0 {
		hemi = "W"
		lon = -lon
	}
	d := int(lon)
	m := (lon - float64(d)) * 60
	if m >= 59.99995 {
		d++
		m = 0
	}
	return fmt.Sprintf("%03d%07.4f", d, m), hemi
}

// RMC builds a recommended-minimum sentence. valid=false emits a void fix
// (status V) the way receivers do while still searching.
func RMC(t time.Time, lat, lon, speedKt, courseDeg float64, valid bool) string {
	status := "A"
	if !valid {
		status = "V"
	}
	latF, latH := latFields(lat)
	lonF, lonH := lonFields(lon)
	body := fmt.Sprintf("GPRMC,%s,%s,%s,%s,%s,%s,%05.1f,%05.1f,%s,,,A",
		timeField(t), status, latF, latH, lonF, lonH, speedKt, courseDeg, dateField(t))
	return Sentence(body)
}

// GGA builds a fix-data sentence. quality 0 means "no fix"; coordinates
// are still emitted (zeroed by searching receivers) so parsers never see
// empty position fields.
func GGA(t time.Time, lat, lon float64, quality, satellites int, hdop, altM float64) string {
	latF, latH := latFields(lat)
	lonF, lonH := lonFields(lon)
	body := fmt.Sprintf("GPGGA,%s,%s,%s,%s,%s,%d,%02d,%.1f,%.1f,M,0.0,M,,",
		timeField(t), latF, latH, lonF, lonH, quality, satellites, hdop, altM)
	return Sentence(body)
}
