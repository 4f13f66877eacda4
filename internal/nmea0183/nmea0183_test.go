package nmea0183

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/adrianmo/go-nmea"
)

func TestSentenceKnownChecksums(t *testing.T) {
	// Sentences with documented on-wire checksums.
	cases := []struct {
		body string
		want string
	}{
		{"PMTK605", "$PMTK605*31\r\n"},
		{"PMTK220,1000", "$PMTK220,1000*1F\r\n"},
		{"PMTK353,1,1,0,0,0", "$PMTK353,1,1,0,0,0*2B\r\n"},
		{"GPGLL,4916.45,N,12311.12,W,225444,A", "$GPGLL,4916.45,N,12311.12,W,225444,A*31\r\n"},
	}
	for _, tc := range cases {
		if got := Sentence(tc.body); got != tc.want {
			t.Errorf("Sentence(%q) = %q, want %q", tc.body, got, tc.want)
		}
	}
}

func TestChecksumOK(t *testing.T) {
	cases := []struct {
		line string
		want bool
	}{
		{"$PMTK605*31", true},
		{"$PMTK605*31\r\n", true},
		{"$PMTK605*30", false},
		{"$GPTXT,01,01,02,u-blox ag - www.u-blox.com*50", true},
		{"PMTK605*31", false},
		{"$PMTK605", false},
		{"garbage", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ChecksumOK(tc.line); got != tc.want {
			t.Errorf("ChecksumOK(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

func TestRMCRoundTripsThroughParser(t *testing.T) {
	tm := time.Date(2024, 3, 23, 12, 35, 19, 0, time.UTC)
	s := RMC(tm, 48.1173, -11.5167, 22.4, 84.4, true)

	parsed, err := nmea.Parse(strings.TrimSpace(s))
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	rmc, ok := parsed.(nmea.RMC)
	if !ok {
		t.Fatalf("parsed %T, want nmea.RMC", parsed)
	}
	if rmc.Validity != "A" {
		t.Errorf("validity %q, want A", rmc.Validity)
	}
	if math.Abs(rmc.Latitude-48.1173) > 1e-4 {
		t.Errorf("lat %v, want 48.1173", rmc.Latitude)
	}
	if math.Abs(rmc.Longitude+11.5167) > 1e-4 {
		t.Errorf("lon %v, want -11.5167", rmc.Longitude)
	}
	if rmc.Date.DD != 23 || rmc.Date.MM != 3 || rmc.Date.YY != 24 {
		t.Errorf("date %+v, want 23/03/24", rmc.Date)
	}
	if rmc.Time.Hour != 12 || rmc.Time.Minute != 35 || rmc.Time.Second != 19 {
		t.Errorf("time %+v, want 12:35:19", rmc.Time)
	}
}

func TestGGARoundTripsThroughParser(t *testing.T) {
	tm := time.Date(2024, 3, 23, 12, 35, 19, 0, time.UTC)
	s := GGA(tm, 48.1173, 11.5167, 1, 8, 0.9, 545.4)

	parsed, err := nmea.Parse(strings.TrimSpace(s))
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	gga, ok := parsed.(nmea.GGA)
	if !ok {
		t.Fatalf("parsed %T, want nmea.GGA", parsed)
	}
	if gga.FixQuality != "1" {
		t.Errorf("quality %q, want 1", gga.FixQuality)
	}
	if gga.NumSatellites != 8 {
		t.Errorf("satellites %d, want 8", gga.NumSatellites)
	}
	if math.Abs(gga.Altitude-545.4) > 0.05 {
		t.Errorf("altitude %v, want 545.4", gga.Altitude)
	}
	if math.Abs(gga.Latitude-48.1173) > 1e-4 {
		t.Errorf("lat %v, want 48.1173", gga.Latitude)
	}
}

func TestLatLonFieldEdges(t *testing.T) {
	// Rounding must never print 60 minutes.
	f, h := latFields(47.9999999)
	if h != "N" || f != "4800.0000" {
		t.Errorf("latFields(47.9999999) = %q %q, want 4800.0000 N", f, h)
	}
	f, h = lonFields(-0.5)
	if h != "W" || f != "00030.0000" {
		t.Errorf("lonFields(-0.5) = %q %q, want 00030.0000 W", f, h)
	}
}
