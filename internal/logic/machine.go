package logic

// Action is what the edge callback must do to the capture unit after an edge.
type Action struct {
	// Clear resets the capture unit's counter. It is applied after Latch.
	Clear bool
	// Latch names the Cycle field that receives the captured value.
	Latch Slot
	// Next is the edge polarity to request, EdgeNone to leave it unchanged.
	Next Edge
	// Ignored is set when the edge was dropped without changing the count.
	Ignored bool
}

// Phase returns the phase the cycle is in.
func (c Cycle) Phase() Phase {
	if c.EdgeCount > uint8(PhaseComplete) {
		return PhaseStalled
	}
	return Phase(c.EdgeCount)
}

// Step is the transition function of the capture state machine. Given the
// edge count before an edge, it returns the count after the edge and the
// action to perform on the capture unit.
func Step(count uint8, policy OverrunPolicy) (uint8, Action) {
	if count == uint8(PhaseComplete) && policy == OverrunHold {
		return count, Action{Ignored: true}
	}

	next := count + 1
	switch Phase(next) {
	case PhaseAwaitingFallEdge1:
		return next, Action{Clear: true, Next: EdgeFalling}
	case PhaseAwaitingRiseEdge2:
		return next, Action{Latch: SlotHigh, Next: EdgeRising}
	case PhaseAwaitingFallEdge2:
		return next, Action{Latch: SlotPeriod, Next: EdgeFalling}
	case PhaseComplete:
		return next, Action{Latch: SlotPeriodPlusHigh, Clear: true, Next: EdgeRising}
	}
	// Past Complete (or wrapped to zero) nothing is touched.
	return next, Action{}
}

// Latch stores a captured counter value into the given slot.
func (c *Cycle) Latch(slot Slot, value uint16) {
	switch slot {
	case SlotHigh:
		c.HighTime = value
	case SlotPeriod:
		c.PeriodTime = value
	case SlotPeriodPlusHigh:
		c.PeriodPlusHighTime = value
	}
}

// EchoTicks returns the width of the closing pulse in counter ticks.
// The subtraction wraps like the 16-bit hardware counter it models.
func (c Cycle) EchoTicks() uint16 {
	return c.PeriodPlusHighTime - c.PeriodTime
}

// Consume resets a complete cycle and recomputes the distance.
// It returns false, leaving the cycle untouched, if the cycle is not complete.
func (c *Cycle) Consume(scale Scale) bool {
	if c.Phase() != PhaseComplete {
		return false
	}
	c.EdgeCount = 0
	c.Distance = scale.Centimetres(c.EchoTicks())
	return true
}
