package demand

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func sampleDates() []time.Time {
	return []time.Time{
		day("2024-01-03"), day("2024-01-01"), day("2024-01-02"), // W01: 3
		day("2024-01-08"), // W02: 1
		day("2024-01-15"), day("2024-01-16"), day("2024-01-17"), day("2024-01-18"), day("2024-01-19"), // W03: 5
		day("2024-01-29"), day("2024-01-30"), // W05: 2
	}
}

func TestWeekly_RollingAverage(t *testing.T) {
	weeks, err := Weekly(sampleDates(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []struct {
		week      int
		count     int
		rolling   float64
		predicted float64
	}{
		{1, 3, 3, 2},
		{2, 1, 2, 3},
		{3, 5, 3, 3.5},
		{5, 2, 3.5, -1},
	}
	if len(weeks) != len(want) {
		t.Fatalf("expected %d weeks, got %d", len(want), len(weeks))
	}
	for i, w := range want {
		got := weeks[i]
		if got.Year != 2024 || got.Week != w.week || got.Count != w.count {
			t.Errorf("row %d: got %d-W%d count %d", i, got.Year, got.Week, got.Count)
		}
		if got.RollingAvg != w.rolling {
			t.Errorf("row %d: rolling %v, want %v", i, got.RollingAvg, w.rolling)
		}
		if w.predicted < 0 {
			if got.Predicted != nil {
				t.Errorf("row %d: expected no prediction, got %v", i, *got.Predicted)
			}
			continue
		}
		if got.Predicted == nil || *got.Predicted != w.predicted {
			t.Errorf("row %d: predicted %v, want %v", i, got.Predicted, w.predicted)
		}
	}

	next, ok := Next(weeks)
	if !ok || next != 3.5 {
		t.Errorf("expected next week 3.5, got %v %v", next, ok)
	}
}

func TestWeekly_MinPeriodsOne(t *testing.T) {
	weeks, err := Weekly(sampleDates(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// the window never fills, so each row averages everything so far
	if weeks[0].RollingAvg != 3 || weeks[1].RollingAvg != 2 || weeks[2].RollingAvg != 3 {
		t.Errorf("unexpected rolling averages: %+v", weeks)
	}
}

func TestWeekly_ISOYearBoundary(t *testing.T) {
	weeks, err := Weekly([]time.Time{day("2024-12-30"), day("2024-12-28")}, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(weeks) != 2 {
		t.Fatalf("expected 2 weeks, got %d", len(weeks))
	}
	if weeks[0].Year != 2024 || weeks[0].Week != 52 {
		t.Errorf("expected 2024-W52 first, got %d-W%d", weeks[0].Year, weeks[0].Week)
	}
	if weeks[1].Year != 2025 || weeks[1].Week != 1 {
		t.Errorf("expected 2025-W01 second, got %d-W%d", weeks[1].Year, weeks[1].Week)
	}
}

func TestWeekly_Edges(t *testing.T) {
	if _, err := Weekly(sampleDates(), 0); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("expected ErrInvalidWindow, got %v", err)
	}
	weeks, err := Weekly(nil, 4)
	if err != nil || len(weeks) != 0 {
		t.Errorf("expected no weeks, got %v %v", weeks, err)
	}
	if _, ok := Next(weeks); ok {
		t.Error("expected no forecast without data")
	}
}

func TestReadDates(t *testing.T) {
	in := "patient_id,date_referral_received,urgency\n" +
		"p1,2024-01-01,0\n" +
		"p2,,1\n" +
		"p3,08/01/2024,2\n" +
		"p4,2024-01-15T09:30:00Z,0\n"
	dates, err := ReadDates(strings.NewReader(in), DefaultDateColumn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dates) != 3 {
		t.Fatalf("expected 3 dates, got %d", len(dates))
	}
	if !dates[1].Equal(day("2024-01-08")) {
		t.Errorf("expected day-first parse of 08/01/2024, got %v", dates[1])
	}

	if _, err := ReadDates(strings.NewReader("a,b\n1,2\n"), DefaultDateColumn); err == nil {
		t.Error("expected error for missing column")
	}
	if _, err := ReadDates(strings.NewReader("date_referral_received\nyesterday\n"), DefaultDateColumn); err == nil {
		t.Error("expected error for bad date")
	}
}

func TestHandler_ForecastJSON(t *testing.T) {
	e := echo.New()
	body := `{"dates":["2024-01-01","2024-01-02","2024-01-08"],"window":2}`
	req := httptest.NewRequest(http.MethodPost, "/demand/forecast", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := NewHandler().Forecast(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"next_week_demand":1.5`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_ForecastCSV(t *testing.T) {
	e := echo.New()
	body := "referred\n2024-01-01\n2024-01-08\n"
	req := httptest.NewRequest(http.MethodPost, "/demand/forecast?column=referred&window=1", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, "text/csv")
	rec := httptest.NewRecorder()

	if err := NewHandler().Forecast(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"referral_count":1`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_ForecastBadWindow(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/demand/forecast", strings.NewReader(`{"dates":["2024-01-01"],"window":-1}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := NewHandler().Forecast(e.NewContext(req, httptest.NewRecorder()))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
