package rowstore

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/domain/referral"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/normalize"
)

// ProxyPath is where ActionHandler is mounted.
const ProxyPath = "/api/proxy"

// ActionHandler serves the spreadsheet action protocol on top of any
// referral.Repository, so other deployments can use this service as their
// row store. Writes are stored as given: the protocol carries no lifecycle
// checks and the last write wins.
type ActionHandler struct {
	repo   referral.Repository
	apiKey string
	now    func() time.Time
	loc    *time.Location
	logger zerolog.Logger
}

// ActionOption configures an ActionHandler.
type ActionOption func(*ActionHandler)

// WithActionLocation reads zone-less dates sent by callers in loc and stamps
// new requests with the time in loc.
func WithActionLocation(loc *time.Location) ActionOption {
	return func(h *ActionHandler) {
		h.loc = loc
		h.now = func() time.Time { return time.Now().In(loc) }
	}
}

func NewActionHandler(repo referral.Repository, apiKey string, logger zerolog.Logger, opts ...ActionOption) *ActionHandler {
	h := &ActionHandler{repo: repo, apiKey: apiKey, now: time.Now, loc: time.UTC, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the proxy outside the bearer-token API; mw typically
// carries a rate limiter.
func (h *ActionHandler) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	e.POST(ProxyPath, h.Handle, mw...)
}

type actionResponse struct {
	OK      bool                  `json:"ok"`
	Error   string                `json:"error,omitempty"`
	Samples []normalize.RawRecord `json:"samples,omitempty"`
	Created normalize.RawRecord   `json:"created,omitempty"`
	Updated normalize.RawRecord   `json:"updated,omitempty"`
}

func fail(c echo.Context, code int, msg string) error {
	return c.JSON(code, actionResponse{OK: false, Error: msg})
}

// Handle dispatches one action. Domain refusals answer 200 with ok=false;
// store failures answer 502 so callers treat them as transient.
func (h *ActionHandler) Handle(c echo.Context) error {
	body, err := parseBody(c.Request())
	if err != nil {
		return fail(c, http.StatusBadRequest, "malformed body")
	}
	body = unwrapData(body)
	action := resolveAction(c, body)
	if action == "" {
		return fail(c, http.StatusBadRequest, "unknown or malformed action")
	}
	if !h.authorized(body) {
		return fail(c, http.StatusUnauthorized, "unauthorized")
	}

	ctx := c.Request().Context()
	switch action {
	case ActionList:
		items, err := h.repo.List(ctx)
		if err != nil {
			return h.storeError(c, action, err)
		}
		samples := make([]normalize.RawRecord, 0, len(items))
		for _, sr := range items {
			samples = append(samples, normalize.FromSample(*sr))
		}
		return c.JSON(http.StatusOK, struct {
			OK      bool                  `json:"ok"`
			Samples []normalize.RawRecord `json:"samples"`
		}{true, samples})

	case ActionCreate:
		rec, ok := asRecord(body["sample"])
		if !ok {
			return fail(c, http.StatusOK, "sample is required")
		}
		sr := normalize.ToSampleIn(rec, h.loc)
		if sr.ID == "" {
			sr.ID = uuid.New().String()
		}
		if sr.RequestDate.IsZero() {
			sr.RequestDate = h.now()
		}
		created, err := h.repo.Create(ctx, &sr)
		if err != nil {
			return h.storeError(c, action, err)
		}
		return c.JSON(http.StatusOK, actionResponse{OK: true, Created: normalize.FromSample(*created)})

	case ActionUpdateStatus:
		id := normalize.String(body["id"])
		if id == "" {
			return fail(c, http.StatusOK, "id is required")
		}
		items, err := h.repo.List(ctx)
		if err != nil {
			return h.storeError(c, action, err)
		}
		var current *referral.SampleRequest
		for _, sr := range items {
			if sr.ID == id {
				current = sr
				break
			}
		}
		if current == nil {
			return fail(c, http.StatusOK, "not found: "+id)
		}
		updated := normalize.ApplyStatusFieldsIn(*current, body, h.loc)
		if err := h.repo.UpdateStatus(ctx, &updated); err != nil {
			return h.storeError(c, action, err)
		}
		return c.JSON(http.StatusOK, actionResponse{OK: true, Updated: normalize.FromSample(updated)})
	}
	return fail(c, http.StatusBadRequest, "unknown action "+action)
}

func (h *ActionHandler) authorized(body normalize.RawRecord) bool {
	if h.apiKey == "" {
		return false
	}
	got := normalize.String(body["api_key"])
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.apiKey)) == 1
}

func (h *ActionHandler) storeError(c echo.Context, action string, err error) error {
	switch {
	case errors.Is(err, referral.ErrValidation),
		errors.Is(err, referral.ErrNotFound),
		errors.Is(err, referral.ErrInvalidState):
		return fail(c, http.StatusOK, err.Error())
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return fail(c, http.StatusOK, apiErr.Message)
	}
	h.logger.Error().Err(err).Str("action", action).Msg("proxy action failed")
	return fail(c, http.StatusBadGateway, err.Error())
}

// parseBody accepts a JSON object or a url-encoded form. An empty body is an
// empty record.
func parseBody(req *http.Request) (normalize.RawRecord, error) {
	data, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return normalize.RawRecord{}, nil
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(trimmed), &rec); err == nil && rec != nil {
		return rec, nil
	}
	form, err := url.ParseQuery(trimmed)
	if err != nil {
		return nil, err
	}
	rec = make(map[string]any, len(form))
	for k, v := range form {
		if len(v) > 0 {
			rec[k] = v[0]
		}
	}
	return rec, nil
}

// unwrapData lifts the fields of a nested "data" object or JSON string to
// the top level. Top-level fields win.
func unwrapData(body normalize.RawRecord) normalize.RawRecord {
	nested, ok := asRecord(body["data"])
	if !ok {
		return body
	}
	out := make(normalize.RawRecord, len(body)+len(nested))
	for k, v := range nested {
		out[k] = v
	}
	for k, v := range body {
		if k == "data" {
			continue
		}
		out[k] = v
	}
	return out
}

// resolveAction prefers the query string over the body.
func resolveAction(c echo.Context, body normalize.RawRecord) string {
	if a := strings.TrimSpace(c.QueryParam("action")); a != "" {
		return a
	}
	return normalize.String(body["action"])
}

func asRecord(v any) (normalize.RawRecord, bool) {
	switch x := v.(type) {
	case map[string]any:
		return x, true
	case string:
		var rec map[string]any
		if json.Unmarshal([]byte(x), &rec) == nil && rec != nil {
			return rec, true
		}
	}
	return nil, false
}
