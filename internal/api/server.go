// Package api serves the read-side HTTP surface: posture statistics, daily
// wellness scores, raw prediction logs, and an administrative reset.
package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/sitsense/posture.report/internal/db"
	"github.com/sitsense/posture.report/internal/posture"
	"github.com/sitsense/posture.report/internal/timeutil"
	"github.com/sitsense/posture.report/internal/ws"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// ClientRegistry reports live websocket connections. Satisfied by ws.Server;
// kept as an interface so the API can run without the ingest side in tests.
type ClientRegistry interface {
	ClientCount() int
	Sessions() []ws.SessionInfo
}

type Server struct {
	db      *db.DB
	clients ClientRegistry
	stats   *posture.PredictionStats
	clock   timeutil.Clock
}

func NewServer(database *db.DB, clients ClientRegistry, stats *posture.PredictionStats, clock timeutil.Clock) *Server {
	return &Server{
		db:      database,
		clients: clients,
		stats:   stats,
		clock:   clock,
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

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
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

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.showHealth)
	mux.HandleFunc("GET /postures", s.listPostures)
	mux.HandleFunc("GET /statistics/postures", s.showPostureStats)
	mux.HandleFunc("GET /statistics/daily/{date}", s.showDailyStats)
	mux.HandleFunc("GET /statistics/sessions", s.listSessions)
	mux.HandleFunc("GET /statistics/summary", s.showSummary)
	mux.HandleFunc("GET /statistics/score/today", s.showTodayScore)
	mux.HandleFunc("GET /statistics/score/{date}", s.showScore)
	mux.HandleFunc("GET /statistics/prediction", s.showPredictionStats)
	mux.HandleFunc("GET /statistics/prediction/logs", s.listPredictionLogs)
	mux.HandleFunc("GET /charts/daily/{date}", s.showDailyChart)
	mux.HandleFunc("DELETE /data/reset", s.resetData)
	return mux
}
