package gpio

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"periph.io/x/conn/v3/physic"

	"github.com/sweeney/rangefinder/internal/logic"
)

// FakeCapture is a test double for an input-capture unit. Tests move the
// counter with Advance and raise edges with Fire.
type FakeCapture struct {
	mu       sync.Mutex
	callback func()
	counter  uint16
	latched  uint16

	// Tick and Edge record the last Configure call.
	Tick physic.Frequency
	Edge logic.Edge

	// Configured tracks if Configure was called.
	Configured bool

	// Configures counts Configure calls, failed ones included.
	Configures int

	// Edges contains every polarity requested through SetEdge, in order.
	Edges []logic.Edge

	// Clears counts ClearCounter calls.
	Clears int

	// Closed tracks if Close was called.
	Closed bool

	// ConfigureError, if set, will be returned by Configure.
	ConfigureError error

	// CloseError, if set, will be returned by Close.
	CloseError error
}

// NewFakeCapture creates an unconfigured FakeCapture.
func NewFakeCapture() *FakeCapture {
	return &FakeCapture{}
}

// Configure records the tick rate and initial edge.
func (f *FakeCapture) Configure(tick physic.Frequency, edge logic.Edge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Configures++
	if f.ConfigureError != nil {
		return f.ConfigureError
	}
	f.Tick = tick
	f.Edge = edge
	f.Configured = true
	return nil
}

// SetCallback registers the edge callback.
func (f *FakeCapture) SetCallback(fn func()) {
	f.mu.Lock()
	f.callback = fn
	f.mu.Unlock()
}

// SetEdge records the requested polarity.
func (f *FakeCapture) SetEdge(edge logic.Edge) {
	f.mu.Lock()
	f.Edge = edge
	f.Edges = append(f.Edges, edge)
	f.mu.Unlock()
}

// Value returns the latched counter value.
func (f *FakeCapture) Value() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latched
}

// ClearCounter resets the free-running counter.
func (f *FakeCapture) ClearCounter() {
	f.mu.Lock()
	f.counter = 0
	f.Clears++
	f.mu.Unlock()
}

// Close marks the capture unit as closed.
func (f *FakeCapture) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return f.CloseError
}

// Advance moves the free-running counter forward, wrapping at 16 bits.
func (f *FakeCapture) Advance(ticks uint16) {
	f.mu.Lock()
	f.counter += ticks
	f.mu.Unlock()
}

// Counter returns the current free-running counter value.
func (f *FakeCapture) Counter() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter
}

// Fire latches the counter and invokes the callback, like a captured edge.
func (f *FakeCapture) Fire() {
	f.mu.Lock()
	f.latched = f.counter
	cb := f.callback
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// FireAt sets the counter to value, then fires an edge.
func (f *FakeCapture) FireAt(value uint16) {
	f.mu.Lock()
	f.counter = value
	f.mu.Unlock()
	f.Fire()
}

// Transition is a recorded output level change.
type Transition struct {
	High bool
	At   time.Time
}

// FakeOutput records pin activity for test assertions.
type FakeOutput struct {
	// Clock timestamps transitions. Defaults to a real clock.
	Clock clock.Clock

	// IsOutput tracks if SetOutput was called.
	IsOutput bool

	// Transitions contains every Set call, in order.
	Transitions []Transition

	// OnSet, if set, is called after each level change.
	OnSet func(high bool)

	// SetError, if set, will be returned by Set.
	SetError error

	// SetOutputError, if set, will be returned by SetOutput.
	SetOutputError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeOutput creates a FakeOutput timestamped by clk.
func NewFakeOutput(clk clock.Clock) *FakeOutput {
	return &FakeOutput{Clock: clk}
}

// SetOutput marks the pin as an output.
func (f *FakeOutput) SetOutput() error {
	if f.SetOutputError != nil {
		return f.SetOutputError
	}
	f.IsOutput = true
	return nil
}

// Set records the level.
func (f *FakeOutput) Set(high bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	clk := f.Clock
	if clk == nil {
		clk = clock.New()
	}
	f.Transitions = append(f.Transitions, Transition{High: high, At: clk.Now()})
	if f.OnSet != nil {
		f.OnSet(high)
	}
	return nil
}

// Levels returns the recorded levels without timestamps.
func (f *FakeOutput) Levels() []bool {
	levels := make([]bool, len(f.Transitions))
	for i, tr := range f.Transitions {
		levels[i] = tr.High
	}
	return levels
}

// Close marks the pin as closed.
func (f *FakeOutput) Close() error {
	f.Closed = true
	return nil
}

// Reset clears recorded transitions.
func (f *FakeOutput) Reset() {
	f.Transitions = nil
	f.Closed = false
}

// FakeDelay records delays and advances a mock clock instead of blocking.
type FakeDelay struct {
	// Clock, if set, is advanced by each delay.
	Clock *clock.Mock

	// Delays contains every requested delay in microseconds.
	Delays []uint32

	// OnDelay, if set, is called for each delay.
	OnDelay func(us uint32)
}

// NewFakeDelay creates a FakeDelay that advances clk.
func NewFakeDelay(clk *clock.Mock) *FakeDelay {
	return &FakeDelay{Clock: clk}
}

// DelayMicroseconds records the delay.
func (f *FakeDelay) DelayMicroseconds(us uint32) {
	f.Delays = append(f.Delays, us)
	if f.Clock != nil {
		f.Clock.Add(time.Duration(us) * time.Microsecond)
	}
	if f.OnDelay != nil {
		f.OnDelay(us)
	}
}
