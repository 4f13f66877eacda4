// Package powerpin drives the receiver enable line through the Linux
// GPIO character device. Boards without the line simply run the receiver
// from permanent supply.
package powerpin

// driver is the platform backend behind a Pin.
type driver interface {
	SetValue(v int) error
	Close() error
}

// Pin switches the receiver supply rail via a BCM GPIO.
type Pin struct {
	drv driver
}

// Open requests the line. It fails on platforms without GPIO support or
// when the line is missing or busy.
func Open(bcm int) (*Pin, error) {
	drv, err := openLineFn(bcm)
	if err != nil {
		return nil, err
	}
	return &Pin{drv: drv}, nil
}

// Set drives the enable line.
func (p *Pin) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return p.drv.SetValue(v)
}

// Close releases the line, leaving the supply off.
func (p *Pin) Close() error {
	return p.drv.Close()
}
