package matching

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/carematch/internal/platform/auth"
)

const practiceBody = `{
	"id": "P1",
	"doctors": [
		{"id": "D1", "timetable": [{"time": "2025-03-04T09:00:00Z", "free": true}]},
		{"id": "D2", "timetable": [{"time": "2025-03-05T09:00:00Z", "free": true}]}
	],
	"nurses": [
		{"id": "N1", "timetable": [{"time": "2025-03-04T10:00:00Z", "free": true}]}
	]
}`

// withRoles stands in for the JWT middleware.
func withRoles(roles, practices []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := context.WithValue(c.Request().Context(), auth.UserIDKey, "tester")
			ctx = context.WithValue(ctx, auth.UserRolesKey, roles)
			ctx = context.WithValue(ctx, auth.UserPracticesKey, practices)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func newTestServer(roles, practices []string) *echo.Echo {
	e := echo.New()
	api := e.Group("/api/v1", withRoles(roles, practices))
	NewHandler(NewService(NewMemoryRepo(), newTestEngine(nil))).RegisterRoutes(api)
	return e
}

func serve(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func importPractice(t *testing.T, e *echo.Echo) {
	t.Helper()
	if rec := serve(e, http.MethodPut, "/api/v1/practices/P1", practiceBody); rec.Code != http.StatusNoContent {
		t.Fatalf("import: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_PutAndGetPractice(t *testing.T) {
	e := newTestServer([]string{"admin"}, nil)
	importPractice(t, e)

	rec := serve(e, http.MethodGet, "/api/v1/practices/P1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got struct {
		ID      string            `json:"id"`
		Doctors []json.RawMessage `json:"doctors"`
	}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ID != "P1" || len(got.Doctors) != 2 {
		t.Errorf("unexpected snapshot: %s", rec.Body.String())
	}

	if rec := serve(e, http.MethodGet, "/api/v1/practices/P2", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown practice, got %d", rec.Code)
	}
}

func TestHandler_PutPracticeErrors(t *testing.T) {
	e := newTestServer([]string{"admin"}, nil)
	tests := []struct {
		name, path, body string
	}{
		{"id mismatch", "/api/v1/practices/P1", `{"id":"P2","doctors":[],"nurses":[]}`},
		{"duplicate caregiver", "/api/v1/practices/P1", `{"id":"P1","doctors":[{"id":"D1"},{"id":"D1"}]}`},
		{"malformed", "/api/v1/practices/P1", `{"id":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := serve(e, http.MethodPut, tt.path, tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_Match(t *testing.T) {
	e := newTestServer([]string{"scheduler"}, []string{"P1"})
	importPractice(t, e)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid deadline", `{"patient":{"id":"A"},"role":"doctor"}`, http.StatusBadRequest},
		{"unknown role", `{"patient":{"id":"A"},"role":"porter","max_days":5}`, http.StatusBadRequest},
		{"unknown urgency", `{"patient":{"id":"A"},"role":"doctor","urgency":7}`, http.StatusBadRequest},
		{"missing patient", `{"role":"doctor","max_days":5}`, http.StatusBadRequest},
		{"booked", `{"patient":{"id":"A"},"role":"doctor","urgency":0}`, http.StatusCreated},
		{"cascaded", `{"patient":{"id":"B"},"role":"doctor","max_days":30}`, http.StatusCreated},
		{"exhausted", `{"patient":{"id":"C"},"role":"doctor","max_days":30}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, http.MethodPost, "/api/v1/practices/P1/match", tt.body)
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}

	rec := serve(e, http.MethodGet, "/api/v1/practices/P1/bookings?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page struct {
		Data    []Booking `json:"data"`
		Total   int       `json:"total"`
		HasMore bool      `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 2 || len(page.Data) != 1 || !page.HasMore || page.Data[0].PatientID != "A" {
		t.Errorf("unexpected bookings page: %s", rec.Body.String())
	}
}

func TestHandler_Schedule(t *testing.T) {
	e := newTestServer([]string{"admin"}, nil)
	importPractice(t, e)

	body := `{"requests":[
		{"patient":{"id":"A"},"urgency":0,"role":0},
		{"patient":{"id":"B"},"urgency":2,"role":1},
		{"patient":{"id":"C"},"urgency":9,"role":0}
	]}`
	rec := serve(e, http.MethodPost, "/api/v1/practices/P1/schedule", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Outcomes []struct {
			PatientID string `json:"patient_id"`
			Status    string `json:"status"`
		} `json:"outcomes"`
		Summary Summary `json:"summary"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Outcomes) != 3 || resp.Outcomes[0].PatientID != "B" || resp.Outcomes[2].Status != "unknown_urgency" {
		t.Errorf("unexpected outcomes: %+v", resp.Outcomes)
	}
	if resp.Summary.Booked != 2 || resp.Summary.Failed != 1 {
		t.Errorf("unexpected summary: %+v", resp.Summary)
	}
}

func TestHandler_Rank(t *testing.T) {
	e := newTestServer([]string{"clinician"}, []string{"*"})
	importPractice(t, e)

	rec := serve(e, http.MethodPost, "/api/v1/practices/P1/rank", `{"patient":{"id":"A"},"role":"doctor"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var ranked []RankedCaregiver
	json.Unmarshal(rec.Body.Bytes(), &ranked)
	if len(ranked) != 2 || ranked[0].ID != "D1" || ranked[0].Scores.Affinity != NeutralAffinity {
		t.Errorf("unexpected ranking: %s", rec.Body.String())
	}
}

func TestHandler_Authorization(t *testing.T) {
	tests := []struct {
		name      string
		roles     []string
		practices []string
		method    string
		path      string
		code      int
	}{
		{"clinician cannot match", []string{"clinician"}, []string{"P1"}, http.MethodPost, "/api/v1/practices/P1/match", http.StatusForbidden},
		{"other practice", []string{"scheduler"}, []string{"P2"}, http.MethodGet, "/api/v1/practices/P1", http.StatusForbidden},
		{"analyst cannot read", []string{"analyst"}, []string{"P1"}, http.MethodGet, "/api/v1/practices/P1/bookings", http.StatusForbidden},
		{"scheduler reads own practice", []string{"scheduler"}, []string{"P1"}, http.MethodGet, "/api/v1/practices/P1/bookings", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestServer(tt.roles, tt.practices)
			body := ""
			if tt.method == http.MethodPost {
				body = `{"patient":{"id":"A"},"role":"doctor","max_days":5}`
			}
			if rec := serve(e, tt.method, tt.path, body); rec.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rec.Code)
			}
		})
	}
}
