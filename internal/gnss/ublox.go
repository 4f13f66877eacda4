package gnss

import (
	"log"
	"time"

	"gnssd/internal/ubx"
)

// Configuration payloads. The framing and acknowledgement discipline are
// the contract here; the values follow the vendor's documented layouts.
var (
	// cfgGNSS: GPS+SBAS+GLONASS with all tracking channels enabled. The
	// receiver restarts its GNSS subsystem on apply, hence the settle
	// delay on that step.
	cfgGNSS = []byte{
		0x00, 0x00, 0xFF, 0x03, // version, channels, channels to use, blocks
		0x00, 0x08, 0x10, 0x00, 0x01, 0x00, 0x01, 0x01, // GPS
		0x01, 0x01, 0x03, 0x00, 0x01, 0x00, 0x01, 0x01, // SBAS
		0x06, 0x08, 0x0E, 0x00, 0x01, 0x00, 0x01, 0x01, // GLONASS
	}

	// cfgITFM: interference monitor with the recommended broadband and
	// continuous-wave thresholds. A transmitter sharing the board with the
	// receiver is exactly the interferer this watches for.
	cfgITFM = []byte{
		0x3F, 0x10, 0xB1, 0x56,
		0x00, 0x00, 0x31, 0xE0,
	}

	// cfgRate1Hz: 1000 ms measurement period, one solution per measurement.
	cfgRate1Hz = []byte{0xE8, 0x03, 0x01, 0x00, 0x01, 0x00}

	// cfgPMS: the aggressive 1 Hz power setup profile.
	cfgPMS = []byte{0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

	// cfgSave: persist the running configuration to every backing store
	// the module carries.
	cfgSave = []byte{
		0x00, 0x00, 0x00, 0x00,
		0xFF, 0xFF, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x0F,
	}

	// pmreqBackup: enter backup mode until bus activity wakes the module.
	pmreqBackup = []byte{0x00, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}
)

// Standard sentence numbers for per-message rate configuration.
const (
	nmeaMsgClass = 0xF0
	nmeaGGA      = 0x00
	nmeaGLL      = 0x01
	nmeaGSA      = 0x02
	nmeaGSV      = 0x03
	nmeaRMC      = 0x04
	nmeaVTG      = 0x05
)

func msgRate(id, rate byte) []byte { return []byte{nmeaMsgClass, id, rate} }

// ublox configures its receivers over the binary protocol with full
// acknowledgement discipline.
type ublox struct {
	powerSave bool
}

func (u *ublox) Model() Model { return ModelUblox }

type cfgStep struct {
	name    string
	id      byte // class is always CFG
	payload []byte
	wait    time.Duration
	settle  time.Duration // post-ack quiet time, for steps that restart things
}

const (
	cfgAckWait   = 300 * time.Millisecond
	cfgStepTries = 2
)

func (u *ublox) steps() []cfgStep {
	s := []cfgStep{
		{"constellations", ubx.IDCfgGnss, cfgGNSS, 800 * time.Millisecond, 750 * time.Millisecond},
		{"interference monitor", ubx.IDCfgItfm, cfgITFM, cfgAckWait, 0},
		{"nav rate", ubx.IDCfgRate, cfgRate1Hz, cfgAckWait, 0},
		{"gll off", ubx.IDCfgMsg, msgRate(nmeaGLL, 0), cfgAckWait, 0},
		{"gsa off", ubx.IDCfgMsg, msgRate(nmeaGSA, 0), cfgAckWait, 0},
		{"gsv off", ubx.IDCfgMsg, msgRate(nmeaGSV, 0), cfgAckWait, 0},
		{"vtg off", ubx.IDCfgMsg, msgRate(nmeaVTG, 0), cfgAckWait, 0},
		{"rmc on", ubx.IDCfgMsg, msgRate(nmeaRMC, 1), cfgAckWait, 0},
		{"gga on", ubx.IDCfgMsg, msgRate(nmeaGGA, 1), cfgAckWait, 0},
	}
	if u.powerSave {
		s = append(s, cfgStep{"power setup", ubx.IDCfgPms, cfgPMS, cfgAckWait, 0})
	}
	return append(s, cfgStep{"save", ubx.IDCfgCfg, cfgSave, 2 * time.Second, 0})
}

// Configure walks the step table. A refused or unanswered step is logged
// and skipped; the receiver then simply runs that aspect on its defaults.
func (u *ublox) Configure(e *exchange) error {
	for _, st := range u.steps() {
		r := ResponseNone
		for try := 0; try < cfgStepTries; try++ {
			if err := e.sendFrame(ubx.ClassCFG, st.id, st.payload); err != nil {
				return err
			}
			r = e.awaitAck(ubx.ClassCFG, st.id, st.wait)
			if r == ResponseOK || r == ResponseNAK {
				break
			}
		}
		switch r {
		case ResponseOK:
			if st.settle > 0 {
				sleep(st.settle)
			}
		case ResponseNAK:
			// A GPS-only module refuses what it lacks. Not fatal.
			log.Printf("gnss: receiver refused %s, keeping its default", st.name)
		default:
			log.Printf("gnss: no ack for %s (%s)", st.name, r)
		}
	}
	return nil
}

// Sleep requests backup mode. The receiver stops acknowledging the moment
// it honors the request, so no ack is expected.
func (u *ublox) Sleep(e *exchange) error {
	return e.sendFrame(ubx.ClassRXM, ubx.IDRxmPmreq, pmreqBackup)
}

// Wake is any activity on the bus.
func (u *ublox) Wake(e *exchange) error {
	_, err := e.port.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	return err
}
