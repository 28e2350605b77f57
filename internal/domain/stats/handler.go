package stats

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/domain/referral"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/auth"
)

// Source lists the requests to aggregate.
type Source interface {
	List(ctx context.Context) ([]*referral.SampleRequest, error)
}

type Handler struct {
	src Source
	now func() time.Time
}

func NewHandler(src Source, now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{src: src, now: now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleDerivedLab, auth.RoleCentralLabAdmin))
	g.GET("/stats", h.GetStats)
}

func (h *Handler) GetStats(c echo.Context) error {
	w, err := ParseWindow(c.QueryParam("window"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	items, err := h.src.List(c.Request().Context())
	if err != nil {
		if !errors.Is(err, referral.ErrIncomplete) {
			return referral.HTTPError(err)
		}
		c.Response().Header().Set(referral.IncompleteHeader, "true")
	}
	return c.JSON(http.StatusOK, ComputeWindow(items, w, h.now()))
}
