package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sitsense/posture.report/internal/db"
	"github.com/sitsense/posture.report/internal/history"
	"github.com/sitsense/posture.report/internal/httputil"
	"github.com/sitsense/posture.report/internal/posture"
	"github.com/sitsense/posture.report/internal/version"
)

const dateFormat = "2006-01-02"

// Query limits for the raw log endpoint.
const (
	defaultLogHours = 24
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

func parseDate(raw string) (string, error) {
	t, err := time.Parse(dateFormat, raw)
	if err != nil {
		return "", fmt.Errorf("invalid date %q, expected YYYY-MM-DD", raw)
	}
	return t.Format(dateFormat), nil
}

// recordFilterFromQuery reads the shared start_date/end_date/device_id query
// parameters.
func recordFilterFromQuery(r *http.Request) (db.RecordFilter, error) {
	var filter db.RecordFilter
	var err error
	if raw := r.URL.Query().Get("start_date"); raw != "" {
		if filter.StartDate, err = parseDate(raw); err != nil {
			return filter, err
		}
	}
	if raw := r.URL.Query().Get("end_date"); raw != "" {
		if filter.EndDate, err = parseDate(raw); err != nil {
			return filter, err
		}
	}
	filter.DeviceID = r.URL.Query().Get("device_id")
	return filter, nil
}

// daySessions loads and segments one day's records, narrowed to one device
// when the caller passes device_id.
func (s *Server) daySessions(r *http.Request, date string) ([]history.Session, error) {
	records, err := s.db.PredictionRecords(r.Context(), db.RecordFilter{
		StartDate: date,
		EndDate:   date,
		DeviceID:  r.URL.Query().Get("device_id"),
	})
	if err != nil {
		return nil, err
	}
	return history.SegmentSessions(records), nil
}

func (s *Server) showHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":            "ok",
		"version":           version.Version,
		"connected_clients": s.clients.ClientCount(),
		"sessions":          s.clients.Sessions(),
	}
	if s.stats != nil {
		health["predictions"] = s.stats.Snapshot()
	}
	httputil.WriteJSONOK(w, health)
}

func (s *Server) listPostures(w http.ResponseWriter, r *http.Request) {
	type labelInfo struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	labels := make([]labelInfo, 0, posture.NumLabels)
	for i := 0; i < posture.NumLabels; i++ {
		label := posture.Label(i)
		labels = append(labels, labelInfo{ID: i, Name: label.Name()})
	}
	httputil.WriteJSONOK(w, labels)
}

func (s *Server) showPostureStats(w http.ResponseWriter, r *http.Request) {
	filter, err := recordFilterFromQuery(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	records, err := s.db.PredictionRecords(r.Context(), filter)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load predictions: %v", err))
		return
	}
	sessions := history.SegmentSessions(records)
	stats := history.AggregateStats(sessions)

	var totalMinutes float64
	for _, ls := range stats {
		totalMinutes += ls.TotalDurationMinutes
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"start_date":    filter.StartDate,
		"end_date":      filter.EndDate,
		"device_id":     filter.DeviceID,
		"total_minutes": totalMinutes,
		"session_count": len(sessions),
		"postures":      stats,
	})
}

func (s *Server) showDailyStats(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(r.PathValue("date"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	sessions, err := s.daySessions(r, date)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load predictions: %v", err))
		return
	}

	score := history.ScoreDay(date, sessions)
	httputil.WriteJSONOK(w, map[string]interface{}{
		"date":          date,
		"session_count": len(sessions),
		"total_minutes": score.TotalMinutes,
		"postures":      history.AggregateStats(sessions),
		"score":         score,
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	filter, err := recordFilterFromQuery(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	records, err := s.db.PredictionRecords(r.Context(), filter)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load predictions: %v", err))
		return
	}
	sessions := history.SegmentSessions(records)
	httputil.WriteJSONOK(w, map[string]interface{}{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 90 {
			httputil.BadRequest(w, "invalid 'days' parameter, expected 1-90")
			return
		}
		days = parsed
	}

	type daySummary struct {
		Date         string  `json:"date"`
		TotalMinutes float64 `json:"total_minutes"`
		GoodPercent  float64 `json:"good_posture_percentage"`
		Score        int     `json:"score"`
		Grade        string  `json:"grade"`
	}

	// The log stores UTC timestamps; day boundaries have to agree with it.
	today := s.clock.Now().UTC()
	summaries := make([]daySummary, 0, days)
	for i := days - 1; i >= 0; i-- {
		date := today.AddDate(0, 0, -i).Format(dateFormat)
		sessions, err := s.daySessions(r, date)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to load predictions: %v", err))
			return
		}
		score := history.ScoreDay(date, sessions)
		summaries = append(summaries, daySummary{
			Date:         date,
			TotalMinutes: score.TotalMinutes,
			GoodPercent:  score.GoodPosturePercent,
			Score:        score.TotalScore,
			Grade:        score.Grade,
		})
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"days":    days,
		"summary": summaries,
	})
}

func (s *Server) showTodayScore(w http.ResponseWriter, r *http.Request) {
	s.writeScore(w, r, s.clock.Now().UTC().Format(dateFormat))
}

func (s *Server) showScore(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(r.PathValue("date"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	s.writeScore(w, r, date)
}

func (s *Server) writeScore(w http.ResponseWriter, r *http.Request, date string) {
	sessions, err := s.daySessions(r, date)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load predictions: %v", err))
		return
	}
	httputil.WriteJSONOK(w, history.ScoreDay(date, sessions))
}

// showPredictionStats aggregates logged predictions per classification
// method: counts, mean confidence, mean latency. Shares the start_date/
// end_date/device_id query parameters with the other statistics endpoints.
func (s *Server) showPredictionStats(w http.ResponseWriter, r *http.Request) {
	filter, err := recordFilterFromQuery(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	stats, err := s.db.MethodStats(r.Context(), filter)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load predictions: %v", err))
		return
	}
	var total int64
	for _, st := range stats {
		total += st.Count
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"total_predictions": total,
		"methods":           stats,
	})
}

func (s *Server) listPredictionLogs(w http.ResponseWriter, r *http.Request) {
	hours := defaultLogHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "invalid 'hours' parameter")
			return
		}
		hours = parsed
	}
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxLogLimit {
			httputil.BadRequest(w, fmt.Sprintf("invalid 'limit' parameter, expected 1-%d", maxLogLimit))
			return
		}
		limit = parsed
	}

	records, err := s.db.RecentPredictions(r.Context(), hours, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load predictions: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"hours": hours,
		"count": len(records),
		"logs":  records,
	})
}

// resetData deletes every prediction and connection record. The confirm=true
// query parameter is required so the endpoint cannot be hit by accident.
func (s *Server) resetData(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		httputil.BadRequest(w, "reset requires confirm=true")
		return
	}
	deleted, err := s.db.ResetAll(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to reset data: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":          "reset complete",
		"deleted_records": deleted,
	})
}
