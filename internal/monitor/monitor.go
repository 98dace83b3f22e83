// Package monitor serves the operator debug pages for a running control
// loop: a JSON status snapshot, a chart of the last scan and stop buttons.
// Routes are mounted on the tsweb debugger, so they are only reachable from
// localhost or the tailnet. The loop's liveness is also reported over the
// standard gRPC health protocol (see Health).
package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/snow.eliminator/internal/control"
	"github.com/banshee-data/snow.eliminator/internal/monitoring"
	"github.com/banshee-data/snow.eliminator/internal/scan"
)

// Loop is the view of a control loop the debug pages need.
type Loop interface {
	Snapshot() control.Status
	LastFrame() scan.Frame
	Stop()
	EmergencyStop()
}

// AttachAdminRoutes mounts the loop's debug pages on mux under /debug/.
func AttachAdminRoutes(mux *http.ServeMux, loop Loop) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("status", "Control loop status (JSON)", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, loop.Snapshot())
	})

	debug.HandleFunc("scan", "Last scan frame (XY)", func(w http.ResponseWriter, r *http.Request) {
		handleScanChart(w, loop)
	})

	debug.HandleSilentFunc("stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "use POST")
			return
		}
		monitoring.Logf("stop requested from %s", r.RemoteAddr)
		loop.Stop()
		writeJSON(w, http.StatusAccepted, loop.Snapshot())
	})

	debug.HandleSilentFunc("estop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "use POST")
			return
		}
		monitoring.Logf("emergency stop requested from %s", r.RemoteAddr)
		loop.EmergencyStop()
		writeJSON(w, http.StatusAccepted, loop.Snapshot())
	})
}

// handleScanChart renders the last frame as an XY scatter, with points in
// the forward arc split into blocking and clear series.
func handleScanChart(w http.ResponseWriter, loop Loop) {
	status := loop.Snapshot()
	frame := loop.LastFrame()
	if len(frame) == 0 {
		writeJSONError(w, http.StatusNotFound, "no scan frame yet")
		return
	}

	policy := status.Settings.Policy
	var blocking, forward, other []opts.ScatterData
	maxAbs := 0.0
	for _, p := range frame {
		if p.Distance <= 0 {
			continue
		}
		x, y := p.XY()
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(x), math.Abs(y)))
		d := opts.ScatterData{Value: []interface{}{x, y, p.Quality}}
		switch {
		case policy.Blocks(p):
			blocking = append(blocking, d)
		case policy.ForwardArc.Contains(p.Angle):
			forward = append(forward, d)
		default:
			other = append(other, d)
		}
	}

	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Last scan", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Last scan frame",
			Subtitle: fmt.Sprintf("run=%s cycle=%d decision=%s points=%d", status.RunID, status.Cycles, status.LastDecision, len(frame)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "forward (mm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "left (mm)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("other", other, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	scatter.AddSeries("forward arc", forward, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))
	scatter.AddSeries("blocking", blocking, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 7}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
