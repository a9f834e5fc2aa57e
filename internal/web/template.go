package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/rotary-phone/internal/logic"
	"github.com/sweeney/rotary-phone/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
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
	},
	"hook": status.HookString,
	"stateClass": func(s logic.State) string {
		switch s {
		case logic.StateOnHook:
			return "idle"
		case logic.StateConnected, logic.StateConnecting, logic.StateRingingInbound:
			return "call"
		default:
			return "active"
		}
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Rotary Phone</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.idle { color: #888; }
.active { color: orange; font-weight: bold; }
.call { color: green; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Rotary Phone<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Call</h2>
<table>
<tr><th>State</th><td id="state" class="{{stateClass .State}}">{{.State}}</td></tr>
<tr><th>Hook</th><td id="hook">{{hook .OffHook}}</td></tr>
<tr><th>Digits</th><td id="digits">{{.Digits}}</td></tr>
<tr><th>Last number</th><td id="last-number">{{.LastNumber}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}none{{end}}</td></tr>
<tr><th>SIP</th><td class="{{if .SIPRegistered}}connected{{else}}disconnected{{end}}">{{if .SIPRegistered}}registered{{else}}unregistered{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}} {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Off hook</th><td id="c-off-hook">{{.Counts.OffHook}}</td></tr>
<tr><th>On hook</th><td id="c-on-hook">{{.Counts.OnHook}}</td></tr>
<tr><th>Digits</th><td id="c-digits">{{.Counts.Digits}}</td></tr>
<tr><th>Rotation problems</th><td id="c-problems">{{.Counts.Problems}}</td></tr>
<tr><th>Calls dialed</th><td id="c-dialed">{{.Counts.Dialed}}</td></tr>
<tr><th>Calls received</th><td id="c-incoming">{{.Counts.Incoming}}</td></tr>
<tr><th>Calls answered</th><td id="c-answered">{{.Counts.Answered}}</td></tr>
<tr><th>Calls failed</th><td id="c-failed">{{.Counts.Failed}}</td></tr>
<tr><th>Ignored</th><td id="c-ignored">{{.Counts.Ignored}}</td></tr>
<tr><th>Dropped</th><td id="c-dropped">{{.Dropped}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>GPIO</th><td>{{.Config.Driver}} rotation={{.Config.PinRotation}} pulse={{.Config.PinPulse}} hook={{.Config.PinHook}}</td></tr>
<tr><th>Dial bounce</th><td>{{.Config.DialBounceMs}}ms</td></tr>
<tr><th>Hook bounce</th><td>{{.Config.HookBounceMs}}ms</td></tr>
<tr><th>Dial timeout</th><td>{{.Config.DialTimeoutMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var classes = { ON_HOOK: "idle", CONNECTED: "call", CONNECTING: "call", RINGING_INBOUND: "call" };
  var counts = {
    "c-off-hook": "off_hook", "c-on-hook": "on_hook", "c-digits": "digits",
    "c-problems": "rotation_problems", "c-dialed": "dialed", "c-incoming": "incoming",
    "c-answered": "answered", "c-failed": "failed", "c-ignored": "ignored", "c-dropped": "dropped"
  };

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function set(id, text) {
    document.getElementById(id).textContent = text;
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");

    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var s = JSON.parse(ev.data).status;
        var el = document.getElementById("state");
        el.textContent = s.state;
        el.className = classes[s.state] || "active";
        set("hook", s.hook);
        set("digits", s.digits);
        set("last-number", s.last_number || "");
        for (var id in counts) {
          set(id, s.event_counts[counts[id]]);
        }
      } catch (e) {}
    };
  }

  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
