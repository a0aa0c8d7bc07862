package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"periph.io/x/conn/v3/physic"

	"github.com/sweeney/rangefinder/internal/logic"
	"github.com/sweeney/rangefinder/internal/status"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, cfg status.Config) (*httptest.Server, *status.Tracker, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(start)
	tr := status.NewTracker(mock, cfg)
	srv := New(":0", tr)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr, mock
}

func defaultConfig() status.Config {
	return status.Config{
		Chip:         "gpiochip0",
		TriggerPin:   23,
		EchoPin:      24,
		Tick:         physic.MegaHertz,
		Scale:        logic.DefaultScale,
		TriggerWidth: 10 * time.Microsecond,
		Overrun:      logic.OverrunHold,
		PollMs:       100,
		HeartbeatMs:  900000,
		Broker:       "tcp://192.168.1.200:1883",
		HTTPPort:     ":80",
	}
}

func getJSON(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func getBody(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr, mock := newTestServer(t, defaultConfig())
	tr.Update(logic.Reading{Distance: 42, Fresh: true, EchoTicks: 2470, Cycle: 3, Time: start},
		logic.PhaseIdle, logic.Counts{Edges: 12, Cycles: 3, Reads: 5, Consumed: 3})
	tr.SetMQTTConnected(true)
	mock.Add(time.Minute)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}

	if !sj.Status.Ready {
		t.Error("expected Ready=true")
	}
	if sj.Status.Reading == nil || sj.Status.Reading.DistanceCM != 42 {
		t.Fatalf("Reading: got %+v, want distance 42", sj.Status.Reading)
	}
	if sj.Status.Reading.AgeSeconds != 60 {
		t.Errorf("Reading.AgeSeconds: got %d, want 60", sj.Status.Reading.AgeSeconds)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("MQTT.Broker: got %q, want tcp://192.168.1.200:1883", sj.Status.MQTT.Broker)
	}
	if sj.Status.Counts.Edges != 12 {
		t.Errorf("Counts.Edges: got %d, want 12", sj.Status.Counts.Edges)
	}
	if sj.Status.Config.PollMs != 100 {
		t.Errorf("Config.PollMs: got %d, want 100", sj.Status.Config.PollMs)
	}
	if sj.Status.Config.EchoPin != 24 {
		t.Errorf("Config.EchoPin: got %d, want 24", sj.Status.Config.EchoPin)
	}
}

func TestJSONBeforeFirstReading(t *testing.T) {
	ts, _, _ := newTestServer(t, defaultConfig())

	sj := getJSON(t, ts.URL+"/index.json")

	if sj.Status.Ready {
		t.Error("expected Ready=false before any reading")
	}
	if sj.Status.Reading != nil {
		t.Errorf("Reading: got %+v, want nil", sj.Status.Reading)
	}
}

func TestJSONNetworkInfo(t *testing.T) {
	ts, tr, _ := newTestServer(t, defaultConfig())
	tr.SetNetwork(&status.NetworkInfo{
		Type:   "wifi",
		IP:     "192.168.1.42",
		Status: "connected",
		SSID:   "MyNet",
	})

	sj := getJSON(t, ts.URL+"/index.json")

	if sj.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if sj.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", sj.Status.Network.IP)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr, _ := newTestServer(t, defaultConfig())
	tr.Update(logic.Reading{Distance: 137, Fresh: true, Cycle: 1, Time: start}, logic.PhaseIdle, logic.Counts{})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "137 cm") {
		t.Error("page should show the distance")
	}
	if !strings.Contains(string(body), status.Centimetres(137).String()) {
		t.Error("page should show the metric distance")
	}
}

func TestHTMLWaitingForEcho(t *testing.T) {
	ts, _, _ := newTestServer(t, defaultConfig())

	body := getBody(t, ts.URL+"/index.html")
	if !strings.Contains(body, "waiting for echo") {
		t.Error("page should say it is waiting before the first reading")
	}
}

func TestHTMLLiveScriptOnlyWithWSBroker(t *testing.T) {
	ts, _, _ := newTestServer(t, defaultConfig())
	if body := getBody(t, ts.URL+"/"); strings.Contains(body, "mqtt.connect") {
		t.Error("live script should be omitted without a websocket broker")
	}

	cfg := defaultConfig()
	cfg.WSBroker = "ws://192.168.1.200:9001"
	ts2, _, _ := newTestServer(t, cfg)
	body := getBody(t, ts2.URL+"/")
	if !strings.Contains(body, "mqtt.connect") {
		t.Error("live script should be present with a websocket broker")
	}
	if !strings.Contains(body, "live-dot") {
		t.Error("live indicator should be present with a websocket broker")
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _, _ := newTestServer(t, defaultConfig())

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr, _ := newTestServer(t, defaultConfig())

	if sj := getJSON(t, ts.URL+"/index.json"); sj.Status.Ready {
		t.Error("expected Ready=false initially")
	}

	tr.Update(logic.Reading{Distance: 80, Fresh: true, Cycle: 1, Time: start}, logic.PhaseAwaitingFallEdge1, logic.Counts{Reads: 1})
	tr.SetMQTTConnected(true)

	sj := getJSON(t, ts.URL+"/index.json")
	if !sj.Status.Ready {
		t.Error("expected Ready=true after update")
	}
	if sj.Status.Phase != "AWAITING_FALL_1" {
		t.Errorf("Phase: got %q, want AWAITING_FALL_1", sj.Status.Phase)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT connected after update")
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + time.Second, "2h 0m 1s"},
		{49 * time.Hour, "2d 1h 0m 0s"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.d); got != tt.want {
			t.Errorf("formatUptime(%v): got %q, want %q", tt.d, got, tt.want)
		}
	}
}
