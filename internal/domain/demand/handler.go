package demand

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/carematch/internal/platform/auth"
)

const defaultWindow = 4

type Handler struct{}

func NewHandler() *Handler { return &Handler{} }

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/demand", auth.RequireRole("admin", "scheduler", "analyst"))
	g.POST("/forecast", h.Forecast)
}

type forecastRequest struct {
	Dates  []string `json:"dates"`
	Window int      `json:"window"`
}

type forecastResponse struct {
	Weeks    []WeekDemand `json:"weeks"`
	NextWeek *float64     `json:"next_week_demand"`
}

// Forecast accepts either a JSON body {"dates": [...], "window": n} or a CSV
// export with ?column= and ?window= query parameters.
func (h *Handler) Forecast(c echo.Context) error {
	var dates []time.Time
	window := defaultWindow

	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), "text/csv") {
		column := c.QueryParam("column")
		if column == "" {
			column = DefaultDateColumn
		}
		if w := c.QueryParam("window"); w != "" {
			n, err := strconv.Atoi(w)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "window must be an integer")
			}
			window = n
		}
		var err error
		if dates, err = ReadDates(c.Request().Body, column); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	} else {
		var req forecastRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if req.Window != 0 {
			window = req.Window
		}
		for _, s := range req.Dates {
			d, err := ParseDate(s)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			dates = append(dates, d)
		}
	}

	weeks, err := Weekly(dates, window)
	if err != nil {
		if errors.Is(err, ErrInvalidWindow) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return err
	}
	resp := forecastResponse{Weeks: weeks}
	if next, ok := Next(weeks); ok {
		resp.NextWeek = &next
	}
	return c.JSON(http.StatusOK, resp)
}
