package mqtt

import "log"

// pendingMsg is a serialized message waiting for the broker to come back.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer keeps the most recent messages published while disconnected.
// Readings go stale quickly, so the oldest are dropped first.
// Not safe for concurrent use; RealPublisher holds its lock around it.
type ringBuffer struct {
	slots   []pendingMsg
	start   int // oldest entry
	count   int
	dropped uint64 // total messages overwritten
	warned  bool   // overflow already logged since last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{slots: make([]pendingMsg, capacity)}
}

func (r *ringBuffer) push(msg pendingMsg) {
	capacity := len(r.slots)
	if r.count < capacity {
		r.slots[(r.start+r.count)%capacity] = msg
		r.count++
		return
	}

	if !r.warned {
		log.Printf("mqtt: offline buffer full (%d messages), dropping oldest", capacity)
		r.warned = true
	}
	r.slots[r.start] = msg
	r.start = (r.start + 1) % capacity
	r.dropped++
}

// drain returns the buffered messages oldest first and empties the buffer.
func (r *ringBuffer) drain() []pendingMsg {
	if r.count == 0 {
		return nil
	}
	out := make([]pendingMsg, 0, r.count)
	for i := 0; i < r.count; i++ {
		idx := (r.start + i) % len(r.slots)
		out = append(out, r.slots[idx])
		r.slots[idx] = pendingMsg{}
	}
	r.start = 0
	r.count = 0
	r.warned = false
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
