package gnss

import "time"

// Dialect is the vendor capability layer bound once the prober classifies
// the receiver. Configuration and power commands differ per family; the
// position stream they all emit afterwards is plain NMEA and is handled
// uniformly by nmeaState.
type Dialect interface {
	Model() Model

	// Configure runs the family's setup sequence: constellation selection,
	// fix rate, sentence set, power profile, save to flash. Every step is
	// bounded and best-effort; a returned error means the port itself
	// failed, not that the receiver refused something.
	Configure(e *exchange) error

	// Sleep puts the receiver into its lowest reachable power mode.
	Sleep(e *exchange) error

	// Wake reverses Sleep. For receivers woken by bus activity this is at
	// most a nudge on the line.
	Wake(e *exchange) error
}

// dialectOptions carries the host policy the dialects care about.
type dialectOptions struct {
	powerSave bool
}

func dialectFor(m Model, opt dialectOptions) Dialect {
	switch m {
	case ModelUblox:
		return &ublox{powerSave: opt.powerSave}
	case ModelMTK:
		return mtk{}
	case ModelUC6850:
		return uc6850{}
	default:
		return noDialect{}
	}
}

// noDialect backs the degraded receiver-less mode.
type noDialect struct{}

func (noDialect) Model() Model              { return ModelUnknown }
func (noDialect) Configure(*exchange) error { return nil }
func (noDialect) Sleep(*exchange) error     { return nil }
func (noDialect) Wake(*exchange) error      { return nil }

// textSettle is the quiet time after a fire-and-forget text command. The
// text families process commands between fixes and acknowledge nothing
// reliably, so pacing is all the discipline available.
const textSettle = 250 * time.Millisecond
