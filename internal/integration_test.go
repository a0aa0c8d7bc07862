package internal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"periph.io/x/conn/v3/physic"

	"github.com/sweeney/rangefinder/internal/gpio"
	"github.com/sweeney/rangefinder/internal/logic"
	"github.com/sweeney/rangefinder/internal/mqtt"
	"github.com/sweeney/rangefinder/internal/status"
	"github.com/sweeney/rangefinder/internal/ultrasonic"
	"github.com/sweeney/rangefinder/internal/web"
)

type rig struct {
	sensor    *ultrasonic.Sensor
	capture   *gpio.FakeCapture
	publisher *mqtt.FakePublisher
	tracker   *status.Tracker
	clock     *clock.Mock
}

func newRig(t *testing.T, policy logic.OverrunPolicy) *rig {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	capture := gpio.NewFakeCapture()
	sensor, err := ultrasonic.New(capture, gpio.NewFakeOutput(mock), gpio.NewFakeDelay(mock),
		ultrasonic.Config{Tick: physic.MegaHertz, Overrun: policy}, mock)
	if err != nil {
		t.Fatalf("new sensor: %v", err)
	}
	if err := sensor.Init(); err != nil {
		t.Fatalf("init sensor: %v", err)
	}
	cfg := sensor.Config()
	return &rig{
		sensor:    sensor,
		capture:   capture,
		publisher: mqtt.NewFakePublisher(),
		tracker: status.NewTracker(mock, status.Config{
			Tick:    cfg.Tick,
			Scale:   cfg.Scale,
			Overrun: cfg.Overrun,
			Broker:  "tcp://localhost:1883",
		}),
		clock: mock,
	}
}

// echo simulates one full echo pulse of the given width in ticks.
func (r *rig) echo(width uint16) {
	r.capture.Fire()
	r.capture.Advance(588)
	r.capture.Fire()
	r.capture.Advance(412)
	r.capture.Fire()
	r.capture.Advance(width)
	r.capture.Fire()
}

// poll runs one iteration of the daemon loop.
func (r *rig) poll(t *testing.T) logic.Reading {
	t.Helper()
	reading := r.sensor.Measure()
	if reading.Fresh {
		if err := r.publisher.Publish(reading); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	r.tracker.Update(reading, r.sensor.Cycle().Phase(), r.sensor.Counts())
	r.clock.Add(100 * time.Millisecond)
	return reading
}

// TestIntegrationFullFlow tests the flow from captured edges to MQTT payloads using fakes.
func TestIntegrationFullFlow(t *testing.T) {
	r := newRig(t, logic.OverrunHold)

	r.poll(t) // first trigger, nothing captured yet
	r.echo(588)
	r.poll(t)
	r.echo(2940)
	r.poll(t)
	r.poll(t) // no echo
	r.echo(11760)
	r.poll(t)

	if len(r.publisher.Readings) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(r.publisher.Readings))
	}
	want := []uint16{10, 50, 200}
	for i, w := range want {
		if got := r.publisher.Readings[i].Distance; got != w {
			t.Errorf("reading %d: got %d cm, want %d", i, got, w)
		}
	}

	var parsed mqtt.Payload
	if err := json.Unmarshal(r.publisher.Payloads[2], &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Rangefinder.DistanceCM != 200 || parsed.Rangefinder.EchoTicks != 11760 || parsed.Rangefinder.Cycle != 3 {
		t.Errorf("payload: got %+v", parsed.Rangefinder)
	}
	if parsed.Rangefinder.Timestamp != "2026-01-01T12:00:00Z" {
		t.Errorf("timestamp: got %s", parsed.Rangefinder.Timestamp)
	}

	counts := r.sensor.Counts()
	if counts.Edges != 12 || counts.Cycles != 3 || counts.Reads != 5 || counts.Consumed != 3 {
		t.Errorf("counts: got %+v", counts)
	}
}

// TestIntegrationOverrunPolicies shows a late reflection arriving before the
// read: hold keeps the cycle, stall loses it until the count wraps.
func TestIntegrationOverrunPolicies(t *testing.T) {
	for _, tt := range []struct {
		policy    logic.OverrunPolicy
		readings  int
		wantPhase logic.Phase
	}{
		{logic.OverrunHold, 1, logic.PhaseIdle},
		{logic.OverrunStall, 0, logic.PhaseStalled},
	} {
		t.Run(tt.policy.String(), func(t *testing.T) {
			r := newRig(t, tt.policy)
			r.echo(1176)
			r.capture.Fire() // reflection from a second surface

			r.poll(t)

			if len(r.publisher.Readings) != tt.readings {
				t.Errorf("readings: got %d, want %d", len(r.publisher.Readings), tt.readings)
			}
			if snap := r.tracker.Snapshot(); snap.Phase != tt.wantPhase {
				t.Errorf("phase: got %s, want %s", snap.Phase, tt.wantPhase)
			}
		})
	}
}

func TestIntegrationStatusOverHTTP(t *testing.T) {
	r := newRig(t, logic.OverrunHold)
	r.echo(1470)
	r.poll(t)
	r.poll(t) // stale, must not hide the last distance

	ts := httptest.NewServer(web.New(":0", r.tracker).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if sj.Status.Reading == nil || sj.Status.Reading.DistanceCM != 25 {
		t.Fatalf("reading: got %+v, want 25 cm", sj.Status.Reading)
	}
	if sj.Status.Reading.AgeSeconds != 0 {
		t.Errorf("age: got %d, want 0", sj.Status.Reading.AgeSeconds)
	}
	if sj.Status.Counts.Reads != 2 || sj.Status.Counts.Consumed != 1 {
		t.Errorf("counts: got %+v", sj.Status.Counts)
	}
	if sj.Status.Config.Overrun != "hold" {
		t.Errorf("overrun: got %q, want hold", sj.Status.Config.Overrun)
	}
}

func TestIntegrationStartupThenShutdown(t *testing.T) {
	r := newRig(t, logic.OverrunHold)

	snap := r.tracker.Snapshot()
	err := r.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      mqtt.EventStartup,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventStartup, ""),
	})
	if err != nil {
		t.Fatalf("startup: %v", err)
	}

	r.echo(588)
	r.poll(t)

	snap = r.tracker.Snapshot()
	err = r.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      mqtt.EventShutdown,
		Reason:     "SIGTERM",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventShutdown, "SIGTERM"),
	})
	if err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if len(r.publisher.SystemPayloads) != 2 {
		t.Fatalf("expected 2 system payloads, got %d", len(r.publisher.SystemPayloads))
	}

	var startup, shutdown status.StatusJSON
	json.Unmarshal(r.publisher.SystemPayloads[0], &startup)
	json.Unmarshal(r.publisher.SystemPayloads[1], &shutdown)

	if startup.Status.Event != "STARTUP" || startup.Status.Ready {
		t.Errorf("startup: got event %q ready %v", startup.Status.Event, startup.Status.Ready)
	}
	if shutdown.Status.Event != "SHUTDOWN" || shutdown.Status.Reason != "SIGTERM" {
		t.Errorf("shutdown: got event %q reason %q", shutdown.Status.Event, shutdown.Status.Reason)
	}
	if shutdown.Status.Reading == nil || shutdown.Status.Reading.DistanceCM != 10 {
		t.Errorf("shutdown reading: got %+v", shutdown.Status.Reading)
	}
}
