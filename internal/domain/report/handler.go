package report

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/domain/referral"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/domain/stats"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/auth"
)

// Source lists the requests to export.
type Source interface {
	List(ctx context.Context) ([]*referral.SampleRequest, error)
}

type Handler struct {
	src Source
	exp *Exporter
	now func() time.Time
}

func NewHandler(src Source, exp *Exporter, now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{src: src, exp: exp, now: now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleCentralLabAdmin))
	g.GET("/samples/export", h.Export)
}

// Export streams every request as an attachment. The optional window query
// parameter (7d, 30d, 90d, all) limits rows by request date; without it all
// rows are exported.
func (h *Handler) Export(c echo.Context) error {
	format, err := ParseFormat(c.QueryParam("format"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	window := stats.WindowAll
	if raw := c.QueryParam("window"); raw != "" {
		if window, err = stats.ParseWindow(raw); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	items, err := h.src.List(c.Request().Context())
	if err != nil {
		if !errors.Is(err, referral.ErrIncomplete) {
			return referral.HTTPError(err)
		}
		c.Response().Header().Set(referral.IncompleteHeader, "true")
	}
	now := h.now()
	items = stats.FilterByWindow(items, window, now)

	var buf bytes.Buffer
	if err := h.exp.Write(&buf, format, items); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "render export").SetInternal(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+format.FileName(now.In(h.exp.loc))+`"`)
	return c.Blob(http.StatusOK, format.ContentType(), buf.Bytes())
}
