// Package status provides a thread-safe status tracker for the rangefinder daemon.
// It is read by the HTTP handlers and the heartbeat publisher.
package status

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"periph.io/x/conn/v3/physic"

	"github.com/sweeney/rangefinder/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Chip         string
	TriggerPin   int
	EchoPin      int
	Tick         physic.Frequency
	Scale        logic.Scale
	TriggerWidth time.Duration
	Overrun      logic.OverrunPolicy
	PollMs       int64
	HeartbeatMs  int64
	Broker       string
	HTTPPort     string
	WSBroker     string // Websocket broker URL for browser MQTT (empty = disabled)
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Reading       logic.Reading // last reading that consumed a cycle
	Phase         logic.Phase
	Counts        logic.Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether at least one echo has been measured.
func (s Snapshot) Ready() bool {
	return s.Reading.Cycle > 0
}

// Distance returns the last measured distance.
func (s Snapshot) Distance() physic.Distance {
	return Centimetres(s.Reading.Distance)
}

// Centimetres converts a whole-centimetre reading to a physic.Distance.
func Centimetres(cm uint16) physic.Distance {
	return physic.Distance(cm) * 10 * physic.MilliMetre
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	clock clock.Clock

	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker that starts now according to clk.
func NewTracker(clk clock.Clock, cfg Config) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{
		clock: clk,
		snap: Snapshot{
			StartTime: clk.Now(),
			Config:    cfg,
		},
	}
}

// Update records the result of one poll. Stale readings only refresh the
// phase and counters so the last measured distance stays visible.
func (t *Tracker) Update(r logic.Reading, phase logic.Phase, counts logic.Counts) {
	t.mu.Lock()
	if r.Fresh {
		t.snap.Reading = r
	}
	t.snap.Phase = phase
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set from the tracker's clock at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.clock.Now()
	return s
}
