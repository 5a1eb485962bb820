// Package server exposes the read-only dashboard API over the audit
// store: tracking rows, recent call audits, and recent store outcomes.
// It never mutates anything; external monitors poll it.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/excessus1/openweather-pub/internal/audit"
	"github.com/excessus1/openweather-pub/internal/weather"
)

// Router provides embeddable HTTP handlers for the dashboard read model.
// Endpoints:
//
//	GET {basePath}/status            query: call_type=... (optional; all rows when absent)
//	GET {basePath}/calls/recent      query: call_type=...&limit=N
//	GET {basePath}/outcomes/recent   query: call_type=...&limit=N
//	GET {basePath}/overview          tracking + latest call + latest outcome per call type
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	store    audit.Store
	script   string
	platform string
	basePath string
}

// NewRouter constructs a Router with a configurable basePath.
// Example basePath: "/api" results in /api/status, /api/overview, ...
func NewRouter(store audit.Store, script, platform, basePath string) *Router {
	return &Router{store: store, script: script, platform: platform, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/calls/recent", r.handleRecentCalls)
	group.GET("/outcomes/recent", r.handleRecentOutcomes)
	group.GET("/overview", r.handleOverview)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router. The
// caller owns shutdown via the returned http.Server.
func NewServer(addr, basePath string, store audit.Store, script, platform string) *http.Server {
	r := NewRouter(store, script, platform, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type trackingResp struct {
	Script            string    `json:"script"`
	Platform          string    `json:"platform"`
	CallType          string    `json:"call_type"`
	Status            string    `json:"status"`
	PrevStatus        string    `json:"previous_status"`
	LastChecked       time.Time `json:"last_checked"`
	RequestsToday     int       `json:"requests_made_today"`
	DailyLimitReached bool      `json:"daily_limit_reached"`
	ForceRestart      bool      `json:"force_restart"`
	StoppedReason     string    `json:"stopped_reason,omitempty"`
	RunID             string    `json:"run_id,omitempty"`
}

type callResp struct {
	ID              int64  `json:"id"`
	Timestamp       int64  `json:"timestamp"`
	Event           string `json:"event"`
	RequestURL      string `json:"request_url"`
	ResponseCode    int    `json:"response_code"`
	ResponseMessage string `json:"response_message"`
	RetryCount      int    `json:"retry_count"`
	Note            string `json:"note,omitempty"`
}

type outcomeResp struct {
	ID         int64  `json:"id"`
	CallID     int64  `json:"api_call_id"`
	RecordedAt int64  `json:"recorded_at"`
	Status     string `json:"status"`
	Detail     string `json:"detail"`
}

type overviewResp struct {
	Tracking    *trackingResp `json:"tracking,omitempty"`
	LastCall    *callResp     `json:"last_call,omitempty"`
	LastOutcome *outcomeResp  `json:"last_outcome,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	ct := c.Query("call_type")
	if ct == "" {
		rows, err := r.store.AllTracking(c.Request.Context())
		if err != nil {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		out := make([]trackingResp, len(rows))
		for i, row := range rows {
			out[i] = toTrackingResp(row)
		}
		writeJSON(c, http.StatusOK, out)
		return
	}

	call, ok := weather.ByName(ct)
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "unknown call type " + ct})
		return
	}
	rec, err := r.store.Tracking(c.Request.Context(), r.script, r.platform, call.Name)
	if errors.Is(err, audit.ErrNotFound) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, toTrackingResp(rec))
}

func (r *Router) handleRecentCalls(c *gin.Context) {
	call, ok := weather.ByName(c.Query("call_type"))
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "call_type query param required"})
		return
	}
	rows, err := r.store.RecentCalls(c.Request.Context(), r.platform, call.Name, parseLimit(c.Query("limit")))
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	out := make([]callResp, len(rows))
	for i, row := range rows {
		out[i] = toCallResp(row)
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleRecentOutcomes(c *gin.Context) {
	call, ok := weather.ByName(c.Query("call_type"))
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "call_type query param required"})
		return
	}
	rows, err := r.store.RecentOutcomes(c.Request.Context(), r.platform, call.Name, parseLimit(c.Query("limit")))
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	out := make([]outcomeResp, len(rows))
	for i, row := range rows {
		out[i] = toOutcomeResp(row)
	}
	writeJSON(c, http.StatusOK, out)
}

// handleOverview assembles the classic one-screen view: per call type the
// tracking row, the latest call audit, and the latest store outcome.
func (r *Router) handleOverview(c *gin.Context) {
	ctx := c.Request.Context()
	out := make(map[string]overviewResp, len(weather.All()))
	for _, call := range weather.All() {
		var entry overviewResp

		rec, err := r.store.Tracking(ctx, r.script, r.platform, call.Name)
		switch {
		case errors.Is(err, audit.ErrNotFound):
			// never run yet
		case err != nil:
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		default:
			tr := toTrackingResp(rec)
			entry.Tracking = &tr
		}

		calls, err := r.store.RecentCalls(ctx, r.platform, call.Name, 1)
		if err != nil {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		if len(calls) > 0 {
			lc := toCallResp(calls[0])
			entry.LastCall = &lc
		}

		outcomes, err := r.store.RecentOutcomes(ctx, r.platform, call.Name, 1)
		if err != nil {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		if len(outcomes) > 0 {
			lo := toOutcomeResp(outcomes[0])
			entry.LastOutcome = &lo
		}

		out[call.Name] = entry
	}
	writeJSON(c, http.StatusOK, out)
}

func toTrackingResp(r audit.TrackingRecord) trackingResp {
	return trackingResp{
		Script:            r.Script,
		Platform:          r.Platform,
		CallType:          r.CallType,
		Status:            r.Status,
		PrevStatus:        r.PrevStatus,
		LastChecked:       r.LastChecked,
		RequestsToday:     r.RequestsToday,
		DailyLimitReached: r.DailyLimitReached,
		ForceRestart:      r.ForceRestart,
		StoppedReason:     r.StoppedReason,
		RunID:             r.RunID,
	}
}

func toCallResp(r audit.CallRecord) callResp {
	return callResp{
		ID:              r.ID,
		Timestamp:       r.Timestamp,
		Event:           r.Event,
		RequestURL:      r.RequestURL,
		ResponseCode:    r.ResponseCode,
		ResponseMessage: r.ResponseMessage,
		RetryCount:      r.RetryCount,
		Note:            r.Note,
	}
}

func toOutcomeResp(r audit.OutcomeRecord) outcomeResp {
	return outcomeResp{
		ID:         r.ID,
		CallID:     r.CallID,
		RecordedAt: r.RecordedAt,
		Status:     r.Status,
		Detail:     r.Detail,
	}
}
