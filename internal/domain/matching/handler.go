package matching

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/carematch/internal/platform/auth"
	"github.com/ehr/carematch/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	practices := api.Group("/practices/:id", auth.RequirePractice("id"))

	// Read endpoints – admin, scheduler, clinician
	read := practices.Group("", auth.RequireRole("admin", "scheduler", "clinician"))
	read.GET("", h.GetPractice)
	read.GET("/bookings", h.ListBookings)
	read.POST("/rank", h.Rank)

	// Write endpoints – admin, scheduler
	write := practices.Group("", auth.RequireRole("admin", "scheduler"))
	write.PUT("", h.PutPractice)
	write.POST("/match", h.Match)
	write.POST("/schedule", h.Schedule)
}

type matchRequest struct {
	Patient *Patient `json:"patient"`
	Role    Role     `json:"role"`
	// MaxDays overrides Urgency when set.
	MaxDays int  `json:"max_days"`
	Urgency *int `json:"urgency"`
}

type scheduleRequest struct {
	Requests []Request `json:"requests"`
}

type scheduleResponse struct {
	Outcomes []Outcome `json:"outcomes"`
	Summary  Summary   `json:"summary"`
}

func (h *Handler) GetPractice(c echo.Context) error {
	snap, err := h.svc.Snapshot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSONBlob(http.StatusOK, snap)
}

func (h *Handler) PutPractice(c echo.Context) error {
	var p Practice
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if p.ID == "" {
		p.ID = c.Param("id")
	}
	if p.ID != c.Param("id") {
		return echo.NewHTTPError(http.StatusBadRequest, "practice id does not match path")
	}
	if err := h.svc.ImportPractice(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Rank(c echo.Context) error {
	var req matchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ranked, err := h.svc.Rank(c.Request().Context(), c.Param("id"), req.Patient, req.Role)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ranked)
}

func (h *Handler) Match(c echo.Context) error {
	var req matchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	maxDays := req.MaxDays
	if maxDays == 0 && req.Urgency != nil {
		u, err := h.svc.Policy().Urgency(*req.Urgency)
		if err != nil {
			return httpError(err)
		}
		maxDays = u.MaxWaitDays
	}
	b, err := h.svc.Match(c.Request().Context(), c.Param("id"), req.Patient, req.Role, maxDays)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) Schedule(c echo.Context) error {
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	outcomes, err := h.svc.Schedule(c.Request().Context(), c.Param("id"), req.Requests)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, scheduleResponse{Outcomes: outcomes, Summary: Summarize(outcomes)})
}

func (h *Handler) ListBookings(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListBookings(c.Request().Context(), c.Param("id"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// httpError maps matching errors to HTTP status codes.
func httpError(err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrPracticeNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ErrNoSlotAvailable), errors.Is(err, ErrSlotConflict):
		code = http.StatusConflict
	case errors.Is(err, ErrNoCaregiverAvailable):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidDeadline), errors.Is(err, ErrUnknownRole),
		errors.Is(err, ErrUnknownUrgency), errors.Is(err, ErrMissingPatient),
		errors.Is(err, ErrDuplicateCaregiver), errors.Is(err, ErrTimetableOrder),
		errors.Is(err, ErrBatchLengthMismatch), errors.Is(err, ErrMissingPracticeID):
		code = http.StatusBadRequest
	}
	return echo.NewHTTPError(code, err.Error())
}
