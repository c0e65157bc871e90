package api

import (
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/sitsense/posture.report/internal/history"
	"github.com/sitsense/posture.report/internal/httputil"
	"github.com/sitsense/posture.report/internal/monitoring"
)

// showDailyChart renders one day's posture breakdown as a self-contained
// HTML page: minutes per posture, with the day's score in the subtitle.
func (s *Server) showDailyChart(w http.ResponseWriter, r *http.Request) {
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
	stats := history.AggregateStats(sessions)
	score := history.ScoreDay(date, sessions)

	names := make([]string, 0, len(stats))
	minutes := make([]opts.BarData, 0, len(stats))
	for _, ls := range stats {
		names = append(names, ls.PostureName)
		minutes = append(minutes, opts.BarData{Value: ls.TotalDurationMinutes})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Posture breakdown %s", date),
			Subtitle: fmt.Sprintf("Score %d (%s), %.0f minutes monitored", score.TotalScore, score.Grade, score.TotalMinutes),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).AddSeries("minutes", minutes)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := bar.Render(w); err != nil {
		monitoring.Logf("failed to render daily chart: %v", err)
	}
}
