// Package api serves the JSON status and control surface for the rig: engine
// state, session history, failed-session recovery, and manual triggers.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/braid-data/optocapture/internal/capture"
	"github.com/braid-data/optocapture/internal/httputil"
	"github.com/braid-data/optocapture/internal/sessiondb"
	"github.com/braid-data/optocapture/internal/sink"
	"github.com/braid-data/optocapture/internal/trigger"
	"github.com/braid-data/optocapture/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// SessionDB is the slice of sessiondb the API reads from.
type SessionDB interface {
	ListSessions(limit int) ([]sessiondb.SessionRecord, error)
	GetSession(id string) (sessiondb.SessionRecord, error)
	ListTriggers(limit int) ([]sessiondb.TriggerRecord, error)
}

// Server serves the HTTP API.
type Server struct {
	engine    *capture.Engine
	stats     *capture.IngestStats
	sink      *sink.Sink
	db        SessionDB
	triggerFn func(trigger.Event)
}

// NewServer wires the API over the running pipeline. db may be nil when the
// rig runs without a session database; triggerFn receives manual triggers.
func NewServer(engine *capture.Engine, stats *capture.IngestStats, snk *sink.Sink, db SessionDB, triggerFn func(trigger.Event)) *Server {
	return &Server{
		engine:    engine,
		stats:     stats,
		sink:      snk,
		db:        db,
		triggerFn: triggerFn,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API route table.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/sessions/failed", s.listFailedSessions)
	mux.HandleFunc("/api/sessions/ack", s.acknowledgeSession)
	mux.HandleFunc("/api/triggers", s.listTriggers)
	mux.HandleFunc("/api/trigger", s.fireTrigger)
	return mux
}

type statusResponse struct {
	Version        string                `json:"version"`
	State          capture.State         `json:"state"`
	Policy         capture.TriggerPolicy `json:"trigger_policy"`
	PreCapacity    int                   `json:"pre_capacity"`
	PostCapacity   int                   `json:"post_capacity"`
	Counters       capture.Counters      `json:"counters"`
	Ingest         capture.IngestSummary `json:"ingest"`
	FailedSessions int                   `json:"failed_sessions"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:      version.Version,
		State:        s.engine.State(),
		Policy:       s.engine.Policy(),
		PreCapacity:  s.engine.PreCapacity(),
		PostCapacity: s.engine.PostCapacity(),
		Counters:     s.engine.Counters(),
	}
	if s.stats != nil {
		resp.Ingest = s.stats.Summary()
	}
	if s.sink != nil {
		resp.FailedSessions = len(s.sink.FailedSessions())
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		httputil.ServiceUnavailable(w, "session database not configured")
		return
	}
	if id := r.URL.Query().Get("id"); id != "" {
		rec, err := s.db.GetSession(id)
		if err != nil {
			httputil.NotFound(w, "no such session")
			return
		}
		httputil.WriteJSONOK(w, rec)
		return
	}
	sessions, err := s.db.ListSessions(parseLimit(r, 100))
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if sessions == nil {
		sessions = []sessiondb.SessionRecord{}
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) listFailedSessions(w http.ResponseWriter, r *http.Request) {
	if s.sink == nil {
		httputil.ServiceUnavailable(w, "sink not running")
		return
	}
	httputil.WriteJSONOK(w, s.sink.FailedSessions())
}

func (s *Server) acknowledgeSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.sink == nil {
		httputil.ServiceUnavailable(w, "sink not running")
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		httputil.BadRequest(w, "id parameter required")
		return
	}
	if !s.sink.Acknowledge(id) {
		httputil.NotFound(w, "no failed session with that id")
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"acknowledged": id})
}

func (s *Server) listTriggers(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		httputil.ServiceUnavailable(w, "session database not configured")
		return
	}
	triggers, err := s.db.ListTriggers(parseLimit(r, 100))
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if triggers == nil {
		triggers = []sessiondb.TriggerRecord{}
	}
	httputil.WriteJSONOK(w, triggers)
}

type triggerRequest struct {
	TimestampNanos int64  `json:"ts_ns"`
	ObjectID       string `json:"object_id"`
}

func (s *Server) fireTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.triggerFn == nil {
		httputil.ServiceUnavailable(w, "capture pipeline not running")
		return
	}

	var req triggerRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, "bad trigger body: "+err.Error())
			return
		}
	}

	ev := trigger.NewEvent(req.TimestampNanos, req.ObjectID, "http")
	s.triggerFn(ev)
	httputil.WriteJSONOK(w, ev)
}

func parseLimit(r *http.Request, fallback int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
