package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Ready         bool         `json:"ready"`
	Phase         string       `json:"phase"`
	Reading       *ReadingJSON `json:"reading,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// ReadingJSON is the JSON representation of the last measured reading.
type ReadingJSON struct {
	DistanceCM uint16 `json:"distance_cm"`
	Distance   string `json:"distance"`
	EchoTicks  uint16 `json:"echo_ticks"`
	HighTicks  uint16 `json:"high_ticks"`
	Cycle      uint64 `json:"cycle"`
	Timestamp  string `json:"timestamp"`
	AgeSeconds int64  `json:"age_seconds"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of sensor activity counters.
type CountsJSON struct {
	Edges         uint64 `json:"edges"`
	Cycles        uint64 `json:"cycles"`
	Reads         uint64 `json:"reads"`
	Consumed      uint64 `json:"consumed"`
	Ignored       uint64 `json:"ignored"`
	TriggerErrors uint64 `json:"trigger_errors"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Chip           string  `json:"chip"`
	TriggerPin     int     `json:"trigger_pin"`
	EchoPin        int     `json:"echo_pin"`
	Tick           string  `json:"tick"`
	TicksPerCM     float64 `json:"ticks_per_cm"`
	TriggerWidthUs int64   `json:"trigger_width_us"`
	Overrun        string  `json:"overrun"`
	PollMs         int64   `json:"poll_ms"`
	HeartbeatMs    int64   `json:"heartbeat_ms"`
	Broker         string  `json:"broker"`
	HTTPPort       string  `json:"http_port"`
	WSBroker       string  `json:"ws_broker,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	cfg := snap.Config
	inner := StatusInner{
		Ready:         snap.Ready(),
		Phase:         snap.Phase.String(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: cfg.Broker},
		Counts: CountsJSON{
			Edges:         snap.Counts.Edges,
			Cycles:        snap.Counts.Cycles,
			Reads:         snap.Counts.Reads,
			Consumed:      snap.Counts.Consumed,
			Ignored:       snap.Counts.Ignored,
			TriggerErrors: snap.Counts.TriggerErrors,
		},
		Config: ConfigJSON{
			Chip:           cfg.Chip,
			TriggerPin:     cfg.TriggerPin,
			EchoPin:        cfg.EchoPin,
			Tick:           cfg.Tick.String(),
			TicksPerCM:     cfg.Scale.TicksPerCentimetre(),
			TriggerWidthUs: cfg.TriggerWidth.Microseconds(),
			Overrun:        cfg.Overrun.String(),
			PollMs:         cfg.PollMs,
			HeartbeatMs:    cfg.HeartbeatMs,
			Broker:         cfg.Broker,
			HTTPPort:       cfg.HTTPPort,
			WSBroker:       cfg.WSBroker,
		},
	}

	if snap.Ready() {
		r := snap.Reading
		inner.Reading = &ReadingJSON{
			DistanceCM: r.Distance,
			Distance:   snap.Distance().String(),
			EchoTicks:  r.EchoTicks,
			HighTicks:  r.HighTicks,
			Cycle:      r.Cycle,
			Timestamp:  r.Time.UTC().Format(time.RFC3339),
			AgeSeconds: int64(snap.Now.Sub(r.Time).Truncate(time.Second).Seconds()),
		}
	}

	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
