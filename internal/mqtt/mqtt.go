// Package mqtt publishes range readings and lifecycle events, with an
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/rangefinder/internal/logic"
)

// Topic is the MQTT topic for distance readings.
const Topic = "sensors/rangefinder/distance"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "sensors/rangefinder/system"

// System event names.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventHeartbeat   = "HEARTBEAT"
	EventReconnected = "RECONNECTED"
	EventOffline     = "OFFLINE"
)

// Publisher publishes readings to MQTT.
type Publisher interface {
	// Publish sends a reading to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(reading logic.Reading) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for a reading.
type Payload struct {
	Rangefinder ReadingPayload `json:"rangefinder"`
}

// ReadingPayload contains the reading details.
type ReadingPayload struct {
	Timestamp  string `json:"timestamp"`
	DistanceCM uint16 `json:"distance_cm"`
	EchoTicks  uint16 `json:"echo_ticks"`
	HighTicks  uint16 `json:"high_ticks"`
	Cycle      uint64 `json:"cycle"`
}

// FormatPayload creates the JSON payload for a reading.
func FormatPayload(r logic.Reading) ([]byte, error) {
	payload := Payload{
		Rangefinder: ReadingPayload{
			Timestamp:  r.Time.UTC().Format(time.RFC3339),
			DistanceCM: r.Distance,
			EchoTicks:  r.EchoTicks,
			HighTicks:  r.HighTicks,
			Cycle:      r.Cycle,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{
		Event:  event.Event,
		Reason: event.Reason,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}

// WillPayload is the retained message the broker publishes if the daemon
// drops off without a clean disconnect. It has no timestamp since it is
// registered at connect time.
func WillPayload() []byte {
	data, _ := FormatSystemPayload(SystemEvent{Event: EventOffline, Reason: "MQTT_DISCONNECT"})
	return data
}
