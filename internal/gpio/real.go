//go:build linux

package gpio

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/physic"

	"github.com/sweeney/rangefinder/internal/logic"
)

const consumer = "rangefinder"

// RealCapture is a software input-capture unit built on a GPIO line with
// kernel edge detection. The kernel event timestamp is the capture instant,
// and the counter is the time since the last clear at the tick rate.
type RealCapture struct {
	chip   string
	offset int

	mu       sync.Mutex
	line     *gpiocdev.Line
	callback func()
	hz       uint64 // tick rate, whole hertz
	edge     logic.Edge
	base     time.Duration // event clock instant of the last clear
	latched  time.Duration // event clock instant of the last capture
}

// NewRealCapture creates a capture unit for the given chip line. The line is
// requested by Configure.
func NewRealCapture(chip string, offset int) *RealCapture {
	return &RealCapture{chip: chip, offset: offset}
}

// Configure requests the echo line as an input with the given edge armed.
// A line already held from an earlier call is re-armed rather than requested
// again.
func (c *RealCapture) Configure(tick physic.Frequency, edge logic.Edge) error {
	hz := uint64(tick / physic.Hertz)
	if tick <= 0 || hz == 0 {
		return fmt.Errorf("capture tick %s: must be at least 1Hz", tick)
	}

	c.mu.Lock()
	c.hz = hz
	c.edge = edge
	c.base = c.latched
	held := c.line
	c.mu.Unlock()

	if held != nil {
		if err := held.Reconfigure(edgeOption(edge)); err != nil {
			return fmt.Errorf("reconfigure echo pin %d: %w", c.offset, err)
		}
		return nil
	}

	// Request with pull-down so a disconnected sensor reads low.
	line, err := gpiocdev.RequestLine(c.chip, c.offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithConsumer(consumer),
		edgeOption(edge),
		gpiocdev.WithEventHandler(c.handleEvent))
	if err != nil {
		return fmt.Errorf("request echo pin %d: %w", c.offset, err)
	}

	c.mu.Lock()
	c.line = line
	c.mu.Unlock()
	return nil
}

// SetCallback registers the edge callback.
func (c *RealCapture) SetCallback(fn func()) {
	c.mu.Lock()
	c.callback = fn
	c.mu.Unlock()
}

// SetEdge re-arms the line for the given edge. Errors are logged since the
// call usually comes from the edge callback.
func (c *RealCapture) SetEdge(edge logic.Edge) {
	c.mu.Lock()
	c.edge = edge
	line := c.line
	c.mu.Unlock()

	if line == nil {
		return
	}
	if err := line.Reconfigure(edgeOption(edge)); err != nil {
		log.Printf("gpio: set edge %s on pin %d: %v", edge, c.offset, err)
	}
}

// Value returns the counter at the last captured edge, truncated to 16 bits
// like a hardware timer that overflows.
func (c *RealCapture) Value() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint16(ticks(c.latched-c.base, c.hz))
}

// ticks converts an elapsed time to whole counter ticks at hz. Seconds and
// the sub-second remainder are scaled apart so long gaps cannot overflow.
func ticks(elapsed time.Duration, hz uint64) uint64 {
	if elapsed <= 0 {
		return 0
	}
	ns := uint64(elapsed)
	sec, rem := ns/uint64(time.Second), ns%uint64(time.Second)
	return sec*hz + rem*hz/uint64(time.Second)
}

// ClearCounter restarts the counter at the last captured edge.
func (c *RealCapture) ClearCounter() {
	c.mu.Lock()
	c.base = c.latched
	c.mu.Unlock()
}

// Close reconfigures the line to a plain input and releases it.
func (c *RealCapture) Close() error {
	c.mu.Lock()
	line := c.line
	c.line = nil
	c.mu.Unlock()

	if line == nil {
		return nil
	}
	var err error
	if rerr := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithoutEdges); rerr != nil {
		err = multierr.Append(err, fmt.Errorf("reconfigure echo pin: %w", rerr))
	}
	if cerr := line.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close echo pin: %w", cerr))
	}
	return err
}

func (c *RealCapture) handleEvent(evt gpiocdev.LineEvent) {
	c.mu.Lock()
	// Events queued before a reconfigure can still carry the old polarity.
	if !matches(evt.Type, c.edge) {
		c.mu.Unlock()
		return
	}
	c.latched = evt.Timestamp
	cb := c.callback
	c.mu.Unlock()

	if cb != nil {
		cb()
	}
}

func matches(t gpiocdev.LineEventType, edge logic.Edge) bool {
	switch edge {
	case logic.EdgeRising:
		return t == gpiocdev.LineEventRisingEdge
	case logic.EdgeFalling:
		return t == gpiocdev.LineEventFallingEdge
	}
	return false
}

func edgeOption(edge logic.Edge) gpiocdev.LineEdge {
	if edge == logic.EdgeFalling {
		return gpiocdev.WithFallingEdge
	}
	return gpiocdev.WithRisingEdge
}

// RealOutput drives a GPIO line using the Linux GPIO character device.
type RealOutput struct {
	chip   string
	offset int
	line   *gpiocdev.Line
}

// NewRealOutput creates an output for the given chip line. The line is
// requested by SetOutput.
func NewRealOutput(chip string, offset int) *RealOutput {
	return &RealOutput{chip: chip, offset: offset}
}

// SetOutput requests the line as an output, initially low.
func (o *RealOutput) SetOutput() error {
	if o.line != nil {
		if err := o.line.Reconfigure(gpiocdev.AsOutput(0)); err != nil {
			return fmt.Errorf("reconfigure trigger pin %d: %w", o.offset, err)
		}
		return nil
	}
	line, err := gpiocdev.RequestLine(o.chip, o.offset,
		gpiocdev.WithConsumer(consumer),
		gpiocdev.AsOutput(0))
	if err != nil {
		return fmt.Errorf("request trigger pin %d: %w", o.offset, err)
	}
	o.line = line
	return nil
}

// Set drives the line.
func (o *RealOutput) Set(high bool) error {
	if o.line == nil {
		return ErrNotConfigured
	}
	v := 0
	if high {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set trigger pin %d: %w", o.offset, err)
	}
	return nil
}

// Close drives the line low, returns it to an input and releases it.
// Leaving the trigger floating as an output would keep the sensor armed
// across reboots.
func (o *RealOutput) Close() error {
	if o.line == nil {
		return nil
	}
	var err error
	if serr := o.line.SetValue(0); serr != nil {
		err = multierr.Append(err, fmt.Errorf("drive trigger pin low: %w", serr))
	}
	if rerr := o.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); rerr != nil {
		err = multierr.Append(err, fmt.Errorf("reconfigure trigger pin: %w", rerr))
	}
	if cerr := o.line.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close trigger pin: %w", cerr))
	}
	o.line = nil
	return err
}
