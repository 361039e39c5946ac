package webhook

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/carematch/internal/platform/auth"
	"github.com/ehr/carematch/pkg/pagination"
)

type Handler struct {
	manager *Manager
}

func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// RegisterRoutes mounts the endpoint administration API. Only admins may
// manage webhooks.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/webhooks", auth.RequireRole("admin"))
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/pause", h.Pause)
	g.POST("/:id/resume", h.Resume)
	g.GET("/:id/deliveries", h.Deliveries)
	g.POST("/:id/test", h.Test)
}

type createRequest struct {
	URL        string   `json:"url"`
	Secret     string   `json:"secret"`
	PracticeID string   `json:"practice_id"`
	Events     []string `json:"events"`
}

// redact hides the secret everywhere but the create response.
func redact(ep *Endpoint) *Endpoint {
	cp := *ep
	cp.Secret = ""
	return &cp
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ep, err := h.manager.RegisterEndpoint(c.Request().Context(), req.URL, req.Secret, req.PracticeID, req.Events)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, ep)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	eps, total, err := h.manager.Endpoints(c.Request().Context(), c.QueryParam("practice_id"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	out := make([]*Endpoint, len(eps))
	for i, ep := range eps {
		out[i] = redact(ep)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	ep, err := h.manager.Endpoint(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, redact(ep))
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.manager.DeleteEndpoint(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Pause(c echo.Context) error {
	return h.setStatus(c, StatusPaused)
}

func (h *Handler) Resume(c echo.Context) error {
	return h.setStatus(c, StatusActive)
}

func (h *Handler) setStatus(c echo.Context, status string) error {
	ep, err := h.manager.SetStatus(c.Request().Context(), c.Param("id"), status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, redact(ep))
}

func (h *Handler) Deliveries(c echo.Context) error {
	pg := pagination.FromContext(c)
	ds, total, err := h.manager.Deliveries(c.Request().Context(), c.Param("id"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(ds, total, pg.Limit, pg.Offset))
}

func (h *Handler) Test(c echo.Context) error {
	d, err := h.manager.TestEndpoint(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrEndpointNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidURL):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
