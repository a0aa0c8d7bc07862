// Package logic contains the pure echo-timing state machine for an ultrasonic
// range sensor. This package has NO external dependencies (no GPIO, MQTT, OS,
// or time.Sleep). Time is always injectable via time.Time parameters.
package logic

import "time"

// Edge is a signal transition polarity requested from the capture unit.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "RISING"
	case EdgeFalling:
		return "FALLING"
	default:
		return "NONE"
	}
}

// Phase is the position of a capture cycle, derived from its edge count.
type Phase uint8

const (
	PhaseIdle              Phase = iota // no edge seen
	PhaseAwaitingFallEdge1              // echo went high, counter cleared
	PhaseAwaitingRiseEdge2              // first high time latched
	PhaseAwaitingFallEdge2              // period latched
	PhaseComplete                       // period plus high latched, waiting for a read
	PhaseStalled                        // edge count ran past Complete (legacy overrun)
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseAwaitingFallEdge1:
		return "AWAITING_FALL_1"
	case PhaseAwaitingRiseEdge2:
		return "AWAITING_RISE_2"
	case PhaseAwaitingFallEdge2:
		return "AWAITING_FALL_2"
	case PhaseComplete:
		return "COMPLETE"
	default:
		return "STALLED"
	}
}

// Slot names the Cycle field a captured counter value is latched into.
type Slot uint8

const (
	SlotNone Slot = iota
	SlotHigh
	SlotPeriod
	SlotPeriodPlusHigh
)

// OverrunPolicy decides what happens to edges that arrive after a cycle is
// complete but before a read has consumed it.
type OverrunPolicy uint8

const (
	// OverrunStall keeps counting edges past Complete. The count only comes
	// back into range when the uint8 counter wraps, so reads return the
	// previous distance until then.
	OverrunStall OverrunPolicy = iota
	// OverrunHold ignores edges while Complete so the latched cycle survives
	// until the next read.
	OverrunHold
)

func (p OverrunPolicy) String() string {
	if p == OverrunHold {
		return "hold"
	}
	return "stall"
}

// Cycle is one in-progress or completed measurement cycle.
type Cycle struct {
	// Number of edges processed since the last consumed cycle.
	EdgeCount uint8
	// Counter value at the 2nd edge (width of the first echo pulse).
	HighTime uint16
	// Counter value at the 3rd edge (start of the next pulse).
	PeriodTime uint16
	// Counter value at the 4th edge (end of the next pulse).
	PeriodPlusHighTime uint16
	// Last computed distance in centimetres.
	Distance uint16
}

// Reading is the result of a read operation.
type Reading struct {
	Distance  uint16 // centimetres
	Fresh     bool   // true if this read consumed a completed cycle
	HighTicks uint16
	EchoTicks uint16 // PeriodPlusHighTime - PeriodTime
	Cycle     uint64 // number of cycles consumed so far
	Time      time.Time
}

// Counts tracks sensor activity since startup.
type Counts struct {
	Edges         uint64
	Cycles        uint64 // cycles completed by the edge callback
	Reads         uint64
	Consumed      uint64 // cycles consumed by reads
	Ignored       uint64 // edges dropped while a cycle was complete
	TriggerErrors uint64
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
}
