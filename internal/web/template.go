package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/rangefinder/internal/mqtt"
	"github.com/sweeney/rangefinder/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": formatUptime,
	"ago": func(now, then time.Time) string {
		return formatUptime(now.Sub(then))
	},
}).Parse(indexHTML))

func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	days := int(d.Hours()) / 24
	h := int(d.Hours()) % 24
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
	}
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Rangefinder</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.distance { font-size: 2em; font-weight: bold; }
.waiting { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Rangefinder{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Reading</h2>
<table>
{{if .Ready}}<tr><th>Distance</th><td id="distance" class="distance">{{.Reading.Distance}} cm</td></tr>
<tr><th>Metric</th><td id="distance-si">{{.Distance}}</td></tr>
<tr><th>Echo</th><td id="echo-ticks">{{.Reading.EchoTicks}} ticks</td></tr>
<tr><th>Cycle</th><td id="cycle">{{.Reading.Cycle}}</td></tr>
<tr><th>Measured</th><td id="measured">{{ago .Now .Reading.Time}} ago</td></tr>
{{else}}<tr><th>Distance</th><td id="distance" class="distance waiting">waiting for echo</td></tr>
{{end}}<tr><th>Phase</th><td>{{.Phase}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Counters</h2>
<table>
<tr><th>Edges</th><td>{{.Counts.Edges}}</td></tr>
<tr><th>Cycles</th><td>{{.Counts.Cycles}}</td></tr>
<tr><th>Reads</th><td>{{.Counts.Reads}} ({{.Counts.Consumed}} fresh)</td></tr>
<tr><th>Ignored edges</th><td>{{.Counts.Ignored}}</td></tr>
<tr><th>Trigger errors</th><td>{{.Counts.TriggerErrors}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Pins</th><td>{{.Config.Chip}} trigger {{.Config.TriggerPin}}, echo {{.Config.EchoPin}}</td></tr>
<tr><th>Counter</th><td>{{.Config.Tick}}, {{.Config.Scale.TicksPerCentimetre}} ticks/cm</td></tr>
<tr><th>Trigger</th><td>{{.Config.TriggerWidth}}</td></tr>
<tr><th>Overrun</th><td>{{.Config.Overrun}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Config.WSBroker}}
<script src="https://unpkg.com/mqtt@5/dist/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "{{.Topic}}";
  var dot = document.getElementById("live-dot");
  var distEl = document.getElementById("distance");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      if (msg.rangefinder) {
        distEl.textContent = msg.rangefinder.distance_cm + " cm";
        distEl.className = "distance";
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has methods but the template reads fields more cleanly.
	data := struct {
		status.Snapshot
		Uptime   time.Duration
		Ready    bool
		Distance string
		Topic    string
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Ready:    snap.Ready(),
		Distance: snap.Distance().String(),
		Topic:    mqtt.Topic,
	}
	return indexTmpl.Execute(w, data)
}
