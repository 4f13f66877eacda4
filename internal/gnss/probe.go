package gnss

import (
	"bytes"
	"log"
	"time"

	"gnssd/internal/nmea0183"
	"gnssd/internal/ubx"
)

// probeBauds is the candidate ladder, tried in order. The factory default
// rate is deliberately first and last: most modules boot there, and some
// fall back to it after a brownout, so it earns a second chance after the
// exotic rates fail.
var probeBauds = []int{9600, 4800, 38400, 57600, 115200, 9600}

// probePasses is how many full walks over the ladder run before the
// session is declared receiver-less.
const probePasses = 2

// Identification deadlines. The binary version poll gets longer because a
// cold u-blox answers it with a multi-extension payload that takes a while
// to clock out at 9600 baud.
const (
	probeVerDeadline  = 1200 * time.Millisecond
	probeTextDeadline = 750 * time.Millisecond
)

// prober walks the baud ladder one candidate per step, running the vendor
// identification exchanges at each rate: the binary version query first,
// then the plain-text queries for families that never speak binary.
type prober struct {
	e   *exchange
	idx int // candidates consumed, across passes
}

func newProber(e *exchange) *prober { return &prober{e: e} }

// step tries the next candidate rate. done reports that probing is over,
// either because a receiver was classified (model set, baudIndex the
// ladder position it answered at) or because the ladder is exhausted
// (model stays ModelUnknown).
func (p *prober) step() (model Model, baudIndex int, done bool) {
	total := probePasses * len(probeBauds)
	if p.idx >= total {
		return ModelUnknown, 0, true
	}
	i := p.idx % len(probeBauds)
	baud := probeBauds[i]
	p.idx++

	if err := p.e.port.SetBaud(baud); err != nil {
		log.Printf("gnss: set baud %d: %v", baud, err)
		return ModelUnknown, i, p.idx >= total
	}
	// A half-consumed frame from the previous rate means nothing now.
	p.e.scan.Reset()
	_ = p.e.port.FlushInput()

	// u-blox answers the version poll with a MON-VER payload.
	_ = p.e.sendFrame(ubx.ClassMON, ubx.IDMonVer, nil)
	if payload, r := p.e.awaitFrame(ubx.ClassMON, ubx.IDMonVer, probeVerDeadline); r == ResponseOK {
		sw, hw := monVerStrings(payload)
		log.Printf("gnss: ublox receiver at %d baud (sw %q hw %q)", baud, sw, hw)
		return ModelUblox, i, true
	}

	// Unicore UFirebird: plain-text device query, no checksum framing.
	_ = p.e.sendText("$PDTINFO\r\n")
	if p.e.awaitText("UC6580", probeTextDeadline) == ResponseOK {
		log.Printf("gnss: uc6850 receiver at %d baud", baud)
		return ModelUC6850, i, true
	}

	// MediaTek: firmware release query, AXN tag in the reply.
	_ = p.e.sendText(nmea0183.Sentence("PMTK605"))
	if p.e.awaitText("AXN", probeTextDeadline) == ResponseOK {
		log.Printf("gnss: mtk receiver at %d baud", baud)
		return ModelMTK, i, true
	}

	return ModelUnknown, i, p.idx >= total
}

// monVerStrings splits a version payload: a 30-byte software string, a
// 10-byte hardware string, both NUL padded. Extension blocks are ignored.
func monVerStrings(payload []byte) (sw, hw string) {
	c := func(b []byte) string {
		if i := bytes.IndexByte(b, 0); i >= 0 {
			b = b[:i]
		}
		return string(b)
	}
	if len(payload) >= 30 {
		sw = c(payload[:30])
	}
	if len(payload) >= 40 {
		hw = c(payload[30:40])
	}
	return sw, hw
}
