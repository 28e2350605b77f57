package referral

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/auth"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/blobstore"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/pkg/pagination"
)

// IncompleteHeader is set on list responses served while the store was
// unavailable.
const IncompleteHeader = "X-Result-Incomplete"

type Handler struct {
	svc        *Service
	blobs      blobstore.Store
	presignTTL time.Duration
}

func NewHandler(svc *Service, blobs blobstore.Store) *Handler {
	return &Handler{svc: svc, blobs: blobs, presignTTL: 15 * time.Minute}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read and intake: clinics and the central lab
	readGroup := api.Group("", auth.RequireRole(auth.RoleDerivedLab, auth.RoleCentralLabAdmin))
	readGroup.GET("/catalog", h.Catalog)
	readGroup.GET("/samples", h.ListSamples)
	readGroup.GET("/samples/:id", h.GetSample)
	readGroup.GET("/samples/:id/result", h.GetResult)
	readGroup.POST("/samples", h.CreateSample)

	// Lifecycle: central lab only
	adminGroup := api.Group("", auth.RequireRole(auth.RoleCentralLabAdmin))
	adminGroup.POST("/samples/:id/decision", h.Decide)
	adminGroup.POST("/samples/:id/result", h.AttachResult)
}

// HTTPError maps lifecycle errors onto HTTP status codes. Anything that is not
// a lifecycle sentinel is treated as a store failure.
func HTTPError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, "sample store unavailable: "+err.Error())
	}
}

// -- Catalog --

type catalogEntry struct {
	SampleType   string `json:"sample_type"`
	BusinessDays int    `json:"business_days"`
}

type catalogResponse struct {
	SampleTypes         []catalogEntry `json:"sample_types"`
	UrineCultureMethods []string       `json:"urine_culture_methods"`
	DefaultBusinessDays int            `json:"default_business_days"`
}

func (h *Handler) Catalog(c echo.Context) error {
	table := h.svc.Schedule()
	resp := catalogResponse{
		UrineCultureMethods: UrineCultureMethods,
		DefaultBusinessDays: DefaultBusinessDays,
	}
	for _, name := range table.Types() {
		resp.SampleTypes = append(resp.SampleTypes, catalogEntry{SampleType: name, BusinessDays: table.Days(name)})
	}
	return c.JSON(http.StatusOK, resp)
}

// -- Samples --

func (h *Handler) ListSamples(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, err := h.svc.List(c.Request().Context())
	if err != nil {
		if !errors.Is(err, ErrIncomplete) {
			return HTTPError(err)
		}
		c.Response().Header().Set(IncompleteHeader, "true")
	}

	if raw := c.QueryParam("status"); raw != "" {
		want := ParseStatus(raw)
		filtered := items[:0]
		for _, sr := range items {
			if sr.Status == want {
				filtered = append(filtered, sr)
			}
		}
		items = filtered
	}

	total := len(items)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(items, pg), total, pg.Limit, pg.Offset))
}

func (h *Handler) GetSample(c echo.Context) error {
	sr, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, sr)
}

func (h *Handler) CreateSample(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sr, err := h.svc.CreateRequest(c.Request().Context(), p)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, sr)
}

type decisionRequest struct {
	Decision string `json:"decision"`
}

func (h *Handler) Decide(c echo.Context) error {
	var req decisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, ok := ParseDecision(req.Decision)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "decision must be accept or reject")
	}
	sr, err := h.svc.Decide(c.Request().Context(), c.Param("id"), d)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, sr)
}

// -- Results --

type resultRequest struct {
	ResultURL string `json:"result_url"`
}

// AttachResult accepts either a multipart upload in field "file" or a JSON
// body naming an external result URL.
func (h *Handler) AttachResult(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var ref string
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		if h.blobs == nil {
			return echo.NewHTTPError(http.StatusNotImplemented, "result uploads are not configured")
		}
		// Check the state first so a refused upload leaves no orphan blob.
		current, err := h.svc.Get(ctx, id)
		if err != nil {
			return HTTPError(err)
		}
		if current.Status != StatusAccepted {
			return HTTPError(fmt.Errorf("%w: %s is %s, results need Accepted", ErrInvalidState, id, current.Status))
		}
		if current.HasResult() {
			return HTTPError(fmt.Errorf("%w: %s already has a result", ErrInvalidState, id))
		}

		file, err := c.FormFile("file")
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "file is required")
		}
		src, err := file.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file")
		}
		defer src.Close()

		info, err := blobstore.UploadResult(ctx, h.blobs, id, file.Filename, file.Header.Get(echo.HeaderContentType), src)
		if err != nil {
			switch {
			case errors.Is(err, blobstore.ErrFileTooLarge):
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
			case errors.Is(err, blobstore.ErrMissingFileName):
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			case errors.Is(err, blobstore.ErrInvalidContentType):
				return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
			default:
				return echo.NewHTTPError(http.StatusBadGateway, err.Error())
			}
		}
		ref = info.Ref()
	} else {
		var req resultRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		ref = req.ResultURL
	}

	sr, err := h.svc.AttachResult(ctx, id, ref)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, sr)
}

// GetResult redirects to the result artifact, streaming it when the store
// cannot issue a signed URL.
func (h *Handler) GetResult(c echo.Context) error {
	ctx := c.Request().Context()
	sr, err := h.svc.Get(ctx, c.Param("id"))
	if err != nil {
		return HTTPError(err)
	}
	if !sr.HasResult() {
		return echo.NewHTTPError(http.StatusNotFound, "no result attached")
	}

	key, ok := blobstore.KeyFromRef(sr.ResultURL)
	if !ok {
		return c.Redirect(http.StatusFound, sr.ResultURL)
	}
	if h.blobs == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "result storage is not configured")
	}

	url, err := h.blobs.PresignURL(ctx, key, h.presignTTL)
	if err == nil {
		return c.Redirect(http.StatusFound, url)
	}
	if !errors.Is(err, blobstore.ErrUnsupported) {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	rc, info, err := h.blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	defer rc.Close()

	c.Response().Header().Set("Content-Disposition", `attachment; filename="`+info.FileName+`"`)
	return c.Stream(http.StatusOK, info.ContentType, rc)
}
