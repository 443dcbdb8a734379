// Package monitor serves a read-only HTTP view of a running session: JSON
// state, active tracks, recorded sessions, debug charts and a SQL console
// over the session history.
package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/sequence.report/internal/httputil"
	"github.com/banshee-data/sequence.report/internal/monitoring"
	"github.com/banshee-data/sequence.report/internal/vision/history"
	"github.com/banshee-data/sequence.report/internal/vision/l2tracks"
	"github.com/banshee-data/sequence.report/internal/vision/pipeline"
	"github.com/banshee-data/sequence.report/internal/vision/storage/sqlite"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// SessionView is the part of a pipeline session the monitor reads.
type SessionView interface {
	Status() pipeline.Status
	ActiveTracks() []l2tracks.TrackedObject
	Recorder() *history.Recorder
}

var _ SessionView = (*pipeline.Session)(nil)

// WebServer serves the monitor endpoints.
type WebServer struct {
	address string
	session SessionView
	store   *sqlite.Store
	plotter *TrajectoryPlotter
	server  *http.Server
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Session SessionView   // Optional; session endpoints return 503 without it
	Store   *sqlite.Store // Optional; enables /api/sessions and the SQL console
}

// NewWebServer creates a web server for cfg. Routes are built eagerly so
// configuration errors surface here rather than at Start.
func NewWebServer(cfg WebServerConfig) (*WebServer, error) {
	ws := &WebServer{
		address: cfg.Address,
		session: cfg.Session,
		store:   cfg.Store,
		plotter: NewTrajectoryPlotter(),
	}
	mux, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws, nil
}

// Handler returns the root handler.
func (ws *WebServer) Handler() http.Handler { return ws.server.Handler }

// Start serves until ctx is cancelled, then shuts down gracefully. It
// returns an error only when the listener fails.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("starting monitor on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("monitor listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	monitoring.Logf("shutting down monitor")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("monitor shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("monitor force close error: %v", err)
		}
	}
	return nil
}

func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/session", ws.handleSession)
	mux.HandleFunc("/api/tracks", ws.handleTracks)
	mux.HandleFunc("/api/sessions", ws.handleSessions)
	mux.HandleFunc("/api/sessions/{id}", ws.handleStoredSession)
	mux.HandleFunc("/debug/charts/timeline", ws.handleTimeline)
	mux.HandleFunc("/debug/plots/trajectories.png", ws.handleTrajectoryPlot)

	if err := ws.attachAdminRoutes(mux); err != nil {
		return nil, err
	}
	return mux, nil
}

// attachAdminRoutes mounts the tsweb debugger, with the SQL console over
// the history store when one is configured.
func (ws *WebServer) attachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("history.csv", "Download the recorded history as CSV", func(w http.ResponseWriter, r *http.Request) {
		if ws.session == nil {
			httputil.ServiceUnavailable(w, "no session attached")
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=history.csv")
		if err := ws.session.Recorder().Export(w); err != nil {
			monitoring.Logf("history export failed: %v", err)
		}
	})

	if ws.store == nil {
		return nil
	}
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+ws.store.Path(), ws.store.DB(), &tailsql.DBOptions{
		Label: "Session history",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	return nil
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "sequence", "timestamp": "%s"}`, time.Now().UTC().Format(time.RFC3339))
}

func (ws *WebServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if ws.session == nil {
		httputil.ServiceUnavailable(w, "no session attached")
		return
	}
	httputil.WriteJSONOK(w, ws.session.Status())
}

// trackJSON is the wire form of an active track.
type trackJSON struct {
	ID               int          `json:"id"`
	Label            string       `json:"label"`
	State            string       `json:"state"`
	Estimate         [][2]float64 `json:"estimate"`
	HitCounter       int          `json:"hit_counter"`
	FirstFrame       int          `json:"first_frame"`
	LastMatchedFrame int          `json:"last_matched_frame"`
	Age              int          `json:"age"`
	Correct          *bool        `json:"correct,omitempty"`
}

func (ws *WebServer) handleTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if ws.session == nil {
		httputil.ServiceUnavailable(w, "no session attached")
		return
	}
	correctness := ws.session.Status().Order.Correctness
	tracks := ws.session.ActiveTracks()
	out := make([]trackJSON, 0, len(tracks))
	for _, t := range tracks {
		tj := trackJSON{
			ID:               t.ID,
			Label:            t.Label,
			State:            string(t.State),
			Estimate:         make([][2]float64, 0, len(t.Estimate)),
			HitCounter:       t.HitCounter,
			FirstFrame:       t.FirstFrame,
			LastMatchedFrame: t.LastMatchedFrame,
			Age:              t.Age,
		}
		for _, p := range t.Estimate {
			tj.Estimate = append(tj.Estimate, [2]float64{p.X, p.Y})
		}
		if ok, recorded := correctness[t.ID]; recorded {
			tj.Correct = &ok
		}
		out = append(out, tj)
	}
	httputil.WriteJSONOK(w, out)
}

// handleSessions lists recorded sessions, newest first.
// Query params:
//   - limit (optional, default 20, max 500)
func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if ws.store == nil {
		httputil.ServiceUnavailable(w, "no history store configured")
		return
	}
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	sessions, err := ws.store.ListSessions(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []sqlite.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

func (ws *WebServer) handleStoredSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if ws.store == nil {
		httputil.ServiceUnavailable(w, "no history store configured")
		return
	}
	id := r.PathValue("id")
	sess, err := ws.store.GetSession(r.Context(), id)
	if errors.Is(err, sqlite.ErrNotFound) {
		httputil.NotFound(w, "session not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("get session: %v", err))
		return
	}
	correctness, err := ws.store.GetCorrectness(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("get correctness: %v", err))
		return
	}
	httputil.WriteJSONOK(w, struct {
		sqlite.Session
		Correctness map[int]bool `json:"correctness"`
	}{sess, correctness})
}

// records returns the history the charts draw: the attached session's
// recorder, or a stored session when ?session_id= is given.
func (ws *WebServer) records(r *http.Request) ([]history.Record, int, error) {
	if id := r.URL.Query().Get("session_id"); id != "" {
		if ws.store == nil {
			return nil, http.StatusServiceUnavailable, errors.New("no history store configured")
		}
		if _, err := ws.store.GetSession(r.Context(), id); err != nil {
			if errors.Is(err, sqlite.ErrNotFound) {
				return nil, http.StatusNotFound, err
			}
			return nil, http.StatusInternalServerError, err
		}
		recs, err := ws.store.GetObservations(r.Context(), id)
		if err != nil {
			return nil, http.StatusInternalServerError, err
		}
		return recs, http.StatusOK, nil
	}
	if ws.session == nil {
		return nil, http.StatusServiceUnavailable, errors.New("no session attached")
	}
	return ws.session.Recorder().Records(), http.StatusOK, nil
}

func (ws *WebServer) handleTrajectoryPlot(w http.ResponseWriter, r *http.Request) {
	recs, status, err := ws.records(r)
	if err != nil {
		httputil.WriteJSONError(w, status, err.Error())
		return
	}
	var buf bytes.Buffer
	if err := ws.plotter.WritePNG(&buf, recs); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
