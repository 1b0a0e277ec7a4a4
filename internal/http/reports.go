package http

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"finance-saas-go/internal/analytics"
	"finance-saas-go/internal/ledger"
)

// GET /api/reports/analytics
func (s *Server) getAnalytics(c *gin.Context) {
	verr := &ledger.ValidationError{}
	start, end := parseRange(c, verr)
	if err := verr.Err(); err != nil {
		s.respondError(c, err)
		return
	}

	rep, err := s.analytics.Analytics(c.Request.Context(), account(c).ID, analytics.Range{Start: start, End: end})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(200, rep)
}

// GET /api/reports/monthly
func (s *Server) getMonthlyReport(c *gin.Context) {
	loc := loadLocation(s.cfg.TZDefault)
	now := s.now().In(loc)
	year, month := now.Year(), now.Month()

	verr := &ledger.ValidationError{}
	if v := strings.TrimSpace(c.Query("year")); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 1970 || y > 9999 {
			verr.Add("year", "must be a four-digit year")
		}
		year = y
	}
	if v := strings.TrimSpace(c.Query("month")); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			verr.Add("month", "must be between 1 and 12")
		}
		month = time.Month(m)
	}
	if err := verr.Err(); err != nil {
		s.respondError(c, err)
		return
	}

	rep, err := s.analytics.MonthlyReport(c.Request.Context(), account(c).ID, year, month, loc)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(200, rep)
}

func loadLocation(name string) *time.Location {
	if strings.TrimSpace(name) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
