package gnss

import "gnssd/internal/nmea0183"

// mtk drives the MediaTek text family. These parts acknowledge nothing
// reliably, so configuration is written blind with settle pauses between
// commands.
type mtk struct{}

func (mtk) Model() Model { return ModelMTK }

func (mtk) Configure(e *exchange) error {
	cmds := []string{
		"PMTK353,1,1,0,0,0",                             // GPS + GLONASS
		"PMTK314,0,1,0,1,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0", // RMC and GGA only
		"PMTK220,1000",                                  // 1 Hz
	}
	for _, c := range cmds {
		if err := e.sendText(nmea0183.Sentence(c)); err != nil {
			return err
		}
		sleep(textSettle)
	}
	return nil
}

// Sleep requests standby; any byte on the bus ends it.
func (mtk) Sleep(e *exchange) error {
	return e.sendText(nmea0183.Sentence("PMTK161,0"))
}

func (mtk) Wake(e *exchange) error {
	return e.sendText("\r\n")
}

// uc6850 speaks the Unicore text dialect, whose CFG commands carry no
// checksum. The part has no standby command: sleeping it means the driver
// stops listening and, where wired, drops the enable pin.
type uc6850 struct{}

func (uc6850) Model() Model { return ModelUC6850 }

func (uc6850) Configure(e *exchange) error {
	cmds := []string{
		"$CFGSYS,h15\r\n",   // GPS + BDS + GLONASS
		"$CFGMSG,0,1,0\r\n", // GLL off
		"$CFGMSG,0,2,0\r\n", // GSA off
		"$CFGMSG,0,3,0\r\n", // GSV off
		"$CFGMSG,0,5,0\r\n", // VTG off
	}
	for _, c := range cmds {
		if err := e.sendText(c); err != nil {
			return err
		}
		sleep(textSettle)
	}
	return nil
}

func (uc6850) Sleep(*exchange) error  { return nil }
func (uc6850) Wake(e *exchange) error { return e.sendText("\r\n") }
