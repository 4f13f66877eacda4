//go:build !linux || (!arm && !arm64)

package powerpin

import "fmt"

// Stub implementation for non-Linux and/or non-ARM platforms.
func openLine(bcm int) (driver, error) {
	return nil, fmt.Errorf("powerpin: gpio unsupported on this platform")
}

var openLineFn = openLine
