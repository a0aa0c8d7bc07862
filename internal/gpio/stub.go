//go:build !linux

package gpio

import (
	"errors"

	"periph.io/x/conn/v3/physic"

	"github.com/sweeney/rangefinder/internal/logic"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealCapture is not available on non-Linux platforms.
type RealCapture struct{}

// NewRealCapture returns a capture unit whose Configure always fails.
func NewRealCapture(chip string, offset int) *RealCapture {
	return &RealCapture{}
}

// Configure is not implemented on non-Linux platforms.
func (c *RealCapture) Configure(tick physic.Frequency, edge logic.Edge) error {
	return errUnsupported
}

func (c *RealCapture) SetCallback(fn func())   {}
func (c *RealCapture) SetEdge(edge logic.Edge) {}
func (c *RealCapture) Value() uint16           { return 0 }
func (c *RealCapture) ClearCounter()           {}
func (c *RealCapture) Close() error            { return nil }

// RealOutput is not available on non-Linux platforms.
type RealOutput struct{}

// NewRealOutput returns an output whose SetOutput always fails.
func NewRealOutput(chip string, offset int) *RealOutput {
	return &RealOutput{}
}

// SetOutput is not implemented on non-Linux platforms.
func (o *RealOutput) SetOutput() error {
	return errUnsupported
}

// Set is not implemented on non-Linux platforms.
func (o *RealOutput) Set(high bool) error {
	return errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (o *RealOutput) Close() error {
	return nil
}
