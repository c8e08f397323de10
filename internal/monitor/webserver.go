// Package monitor exposes the stabiliser's runtime state over HTTP: an
// aggregate stats endpoint, live track snapshots, a go-echarts alpha/motion
// chart and a gonum/plot trail renderer.
package monitor

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/stabiliser.report/internal/httputil"
	"github.com/banshee-data/stabiliser.report/internal/monitoring"
	"github.com/banshee-data/stabiliser.report/internal/stabiliser"
	"github.com/banshee-data/stabiliser.report/internal/storage/sqlite"
)

// TrackSource supplies live track snapshots from the running pipeline.
type TrackSource func() []stabiliser.Track

// WebServer handles the HTTP interface for monitoring a stabiliser run.
type WebServer struct {
	address string
	stats   *FrameStats
	tracks  TrackSource
	store   sqlite.Store
	runID   string
	server  *http.Server
}

// WebServerConfig contains configuration options for the web server. Store
// and RunID are optional; the run endpoint 404s without them.
type WebServerConfig struct {
	Address string
	Stats   *FrameStats
	Tracks  TrackSource
	Store   sqlite.Store
	RunID   string
}

// NewWebServer creates a web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address: config.Address,
		stats:   config.Stats,
		tracks:  config.Tracks,
		store:   config.Store,
		runID:   config.RunID,
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.Routes(),
	}
	return ws
}

// Routes returns the configured handler, exported so tests can drive it
// through httptest without binding a port.
func (ws *WebServer) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/tracks", ws.handleTracks)
	mux.HandleFunc("/api/run", ws.handleRun)
	mux.HandleFunc("/api/charts/alpha", ws.handleAlphaChart)
	return mux
}

// Start runs the HTTP server until the context is cancelled, then shuts it
// down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		monitoring.Logf("monitor: listening on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("monitor: server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("monitor: shutdown error: %v", err)
		return ws.server.Close()
	}
	return nil
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.stats == nil {
		httputil.NotFound(w, "no stats recorder configured")
		return
	}
	httputil.WriteJSONOK(w, ws.stats.Snapshot())
}

func (ws *WebServer) handleTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.tracks == nil {
		httputil.NotFound(w, "no track source configured")
		return
	}
	tracks := ws.tracks()
	out := make([]map[string]interface{}, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, map[string]interface{}{
			"track_id":          t.ID,
			"camera_id":         t.CameraID,
			"state":             t.State,
			"box":               t.Box(),
			"first_frame":       t.FirstFrame,
			"last_seen_frame":   t.LastSeenFrame,
			"miss_count":        t.MissCount,
			"observation_count": t.ObservationCount,
			"mean_alpha":        t.MeanAlpha(),
		})
	}
	httputil.WriteJSONOK(w, out)
}

func (ws *WebServer) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.store == nil || ws.runID == "" {
		httputil.NotFound(w, "no run persistence configured")
		return
	}
	run, err := ws.store.Run(r.Context(), ws.runID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("load run: %v", err))
		return
	}
	httputil.WriteJSONOK(w, run)
}

// handleAlphaChart renders an HTML line chart of the retained alpha and
// motion samples. Query params:
//
//	limit (optional, default all retained samples, max ring size)
func (ws *WebServer) handleAlphaChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.stats == nil {
		httputil.NotFound(w, "no stats recorder configured")
		return
	}

	samples := ws.stats.RecentSamples()
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 && n < len(samples) {
			samples = samples[len(samples)-n:]
		}
	}
	if len(samples) == 0 {
		httputil.NotFound(w, "no samples recorded yet")
		return
	}

	frames := make([]string, len(samples))
	alphaData := make([]opts.LineData, len(samples))
	motionData := make([]opts.LineData, len(samples))
	for i, s := range samples {
		frames[i] = strconv.FormatInt(s.FrameIndex, 10)
		alphaData[i] = opts.LineData{Value: s.Alpha}
		motionData[i] = opts.LineData{Value: s.Motion}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Stabiliser alpha", Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Smoothing factor", Subtitle: fmt.Sprintf("samples=%d", len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "alpha"}),
	)
	line.SetXAxis(frames).
		AddSeries("alpha", alphaData).
		AddSeries("motion", motionData)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
