// Package gpio provides the hardware collaborators of the range sensor: an
// input-capture unit on the echo line, the trigger output and a short delay.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

import (
	"errors"

	"periph.io/x/conn/v3/physic"

	"github.com/sweeney/rangefinder/internal/logic"
)

// ErrNotConfigured is returned when a line is used before it is requested.
var ErrNotConfigured = errors.New("gpio: line not configured")

// Capture is an input-capture unit: a free-running counter whose value is
// latched whenever the configured edge occurs on the echo line.
type Capture interface {
	// Configure starts the counter at the given tick rate and arms detection
	// of the given edge.
	Configure(tick physic.Frequency, edge logic.Edge) error

	// SetCallback registers the function invoked after every captured edge.
	// It must be called before Configure.
	SetCallback(fn func())

	// SetEdge changes the edge polarity that triggers the next capture.
	SetEdge(edge logic.Edge)

	// Value returns the counter value latched at the most recent edge.
	Value() uint16

	// ClearCounter restarts the counter from zero.
	ClearCounter()

	// Close releases the echo line.
	Close() error
}

// Output is a digital output pin.
type Output interface {
	// SetOutput configures the pin direction as output, driven low.
	SetOutput() error

	// Set drives the pin high or low.
	Set(high bool) error

	// Close releases the pin.
	Close() error
}

// Delayer blocks the caller for a short, precise interval.
type Delayer interface {
	DelayMicroseconds(us uint32)
}

// Line definitions (BCM numbering on gpiochip0)
const (
	DefaultChip       = "gpiochip0"
	DefaultTriggerPin = 23
	DefaultEchoPin    = 24
)
