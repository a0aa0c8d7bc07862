// Package ultrasonic measures distance with an HC-SR04 class ranging module
// by timing its echo pulse with an input-capture unit.
//
// A read fires a trigger pulse and returns immediately. The capture unit calls
// back on each echo edge; after four edges the cycle is complete and the next
// read converts it into centimetres. Callers therefore poll: a read right
// after a trigger usually returns the previous cycle's distance.
package ultrasonic

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/physic"

	"github.com/sweeney/rangefinder/internal/gpio"
	"github.com/sweeney/rangefinder/internal/logic"
)

// MinTriggerWidth is the shortest trigger pulse the sensor accepts.
const MinTriggerWidth = 10 * time.Microsecond

var (
	// ErrInitialized is returned by a second call to Init.
	ErrInitialized = errors.New("ultrasonic: already initialized")
	// ErrTriggerWidth is returned for trigger pulses shorter than MinTriggerWidth.
	ErrTriggerWidth = errors.New("ultrasonic: trigger width below 10µs")
)

// Config holds sensor timing parameters.
type Config struct {
	// Tick is the capture counter frequency. Defaults to 1 MHz.
	Tick physic.Frequency
	// Scale converts echo ticks to centimetres. Defaults to logic.DefaultScale.
	Scale logic.Scale
	// TriggerWidth is how long the trigger is held high. Defaults to 10µs.
	TriggerWidth time.Duration
	// Overrun decides what happens to edges arriving while a cycle is complete.
	Overrun logic.OverrunPolicy
}

// Validate fills defaults and checks the config.
func (c *Config) Validate() error {
	if c.Tick == 0 {
		c.Tick = physic.MegaHertz
	}
	if c.Tick < 0 {
		return fmt.Errorf("ultrasonic: tick frequency %s must be positive", c.Tick)
	}
	if c.Scale.MilliTicks() == 0 {
		c.Scale = logic.DefaultScale
	}
	if c.TriggerWidth == 0 {
		c.TriggerWidth = MinTriggerWidth
	}
	if c.TriggerWidth < MinTriggerWidth {
		return fmt.Errorf("%w: %v", ErrTriggerWidth, c.TriggerWidth)
	}
	return nil
}

// ScaleFor derives the tick-to-centimetre scale for a counter frequency and
// speed of sound.
func ScaleFor(tick physic.Frequency, speed physic.Speed) logic.Scale {
	if tick <= 0 || speed <= 0 {
		return logic.DefaultScale
	}
	return logic.ScaleFromRates(uint64(tick), uint64(speed))
}

// Sensor is a single ultrasonic ranging module.
type Sensor struct {
	capture gpio.Capture
	trigger gpio.Output
	delay   gpio.Delayer
	cfg     Config
	clock   clock.Clock

	// mu guards the cycle against the capture callback, which runs on the
	// capture unit's goroutine.
	mu          sync.Mutex
	cycle       logic.Cycle
	initialized bool
	consumed    uint64
	readAt      time.Time

	edges         atomic.Uint64
	completed     atomic.Uint64
	reads         atomic.Uint64
	ignored       atomic.Uint64
	triggerErrors atomic.Uint64
}

// New creates a sensor on the given collaborators. Init must be called
// before the first read.
func New(capture gpio.Capture, trigger gpio.Output, delay gpio.Delayer, cfg Config, clk clock.Clock) (*Sensor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Sensor{
		capture: capture,
		trigger: trigger,
		delay:   delay,
		cfg:     cfg,
		clock:   clk,
	}, nil
}

// Init registers the edge callback, arms the capture unit for a rising edge
// and sets the trigger pin as an output.
func (s *Sensor) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return ErrInitialized
	}

	s.capture.SetCallback(s.HandleEdge)
	if err := s.capture.Configure(s.cfg.Tick, logic.EdgeRising); err != nil {
		return fmt.Errorf("configure capture: %w", err)
	}
	if err := s.trigger.SetOutput(); err != nil {
		return fmt.Errorf("configure trigger: %w", err)
	}
	s.initialized = true
	return nil
}

// Trigger sends the pulse that starts a ranging cycle.
func (s *Sensor) Trigger() error {
	if err := s.trigger.Set(true); err != nil {
		// Still try to leave the line low.
		return multierr.Append(fmt.Errorf("trigger high: %w", err), s.trigger.Set(false))
	}
	s.delay.DelayMicroseconds(uint32(s.cfg.TriggerWidth / time.Microsecond))
	if err := s.trigger.Set(false); err != nil {
		return fmt.Errorf("trigger low: %w", err)
	}
	return nil
}

// ReadDistance triggers a new cycle and returns the distance in centimetres.
// It never waits for edges, so the value may come from an earlier cycle.
func (s *Sensor) ReadDistance() uint16 {
	return s.Measure().Distance
}

// Measure is ReadDistance with the details of the returned value. Fresh is
// set when this call consumed a completed cycle.
func (s *Sensor) Measure() logic.Reading {
	s.reads.Inc()
	if err := s.Trigger(); err != nil {
		s.triggerErrors.Inc()
		log.Printf("ultrasonic: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := s.cycle.Consume(s.cfg.Scale)
	if fresh {
		s.consumed++
		s.readAt = s.clock.Now()
	}
	return logic.Reading{
		Distance:  s.cycle.Distance,
		Fresh:     fresh,
		HighTicks: s.cycle.HighTime,
		EchoTicks: s.cycle.EchoTicks(),
		Cycle:     s.consumed,
		Time:      s.readAt,
	}
}

// HandleEdge is the capture callback. It is registered by Init and runs once
// per captured edge.
func (s *Sensor) HandleEdge() {
	s.edges.Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	next, action := logic.Step(s.cycle.EdgeCount, s.cfg.Overrun)
	if action.Ignored {
		s.ignored.Inc()
		return
	}
	s.cycle.EdgeCount = next

	if action.Latch != logic.SlotNone {
		s.cycle.Latch(action.Latch, s.capture.Value())
	}
	if action.Clear {
		s.capture.ClearCounter()
	}
	if action.Next != logic.EdgeNone {
		s.capture.SetEdge(action.Next)
	}
	if s.cycle.Phase() == logic.PhaseComplete {
		s.completed.Inc()
	}
}

// Cycle returns a copy of the current capture cycle.
func (s *Sensor) Cycle() logic.Cycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycle
}

// Counts returns a snapshot of the activity counters.
func (s *Sensor) Counts() logic.Counts {
	s.mu.Lock()
	consumed := s.consumed
	s.mu.Unlock()
	return logic.Counts{
		Edges:         s.edges.Load(),
		Cycles:        s.completed.Load(),
		Reads:         s.reads.Load(),
		Consumed:      consumed,
		Ignored:       s.ignored.Load(),
		TriggerErrors: s.triggerErrors.Load(),
	}
}

// Config returns the effective configuration.
func (s *Sensor) Config() Config {
	return s.cfg
}

// Close releases the echo and trigger lines.
func (s *Sensor) Close() error {
	return multierr.Combine(
		s.capture.Close(),
		s.trigger.Close(),
	)
}
