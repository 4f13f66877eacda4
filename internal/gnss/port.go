package gnss

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// pollInterval is the read-timeout granularity for bounded waits: a Read
// on an idle channel returns (0, nil) after at most this long, so an
// acknowledgement wait overshoots its deadline by less than one interval.
const pollInterval = 20 * time.Millisecond

// Port is the duplex byte channel to the receiver. There is no flow
// control and the far side may send partial frames, garbage, or nothing.
// Implementations must honor the pollInterval read-timeout contract.
type Port interface {
	io.ReadWriteCloser
	// SetBaud reconfigures the line rate. Only the prober calls this, and
	// never while a command/acknowledgement exchange is outstanding.
	SetBaud(baud int) error
	// FlushInput discards receiver output not yet read.
	FlushInput() error
}

// OpenPort opens the serial device at the given initial baud in 8N1 raw
// mode. Swappable so the daemon's sim mode and tests can supply their own
// channel.
var OpenPort = func(device string, baud int) (Port, error) {
	p, err := serial.Open(device, mode8N1(baud))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	if err := p.SetReadTimeout(pollInterval); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", device, err)
	}
	return &serialPort{p: p}, nil
}

func mode8N1(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

type serialPort struct {
	p serial.Port
}

func (s *serialPort) Read(b []byte) (int, error)  { return s.p.Read(b) }
func (s *serialPort) Write(b []byte) (int, error) { return s.p.Write(b) }
func (s *serialPort) Close() error                { return s.p.Close() }
func (s *serialPort) FlushInput() error           { return s.p.ResetInputBuffer() }

func (s *serialPort) SetBaud(baud int) error {
	return s.p.SetMode(mode8N1(baud))
}
