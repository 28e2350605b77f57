package rowstore

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/domain/referral"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/normalize"
)

func callProxy(t *testing.T, h *ActionHandler, target, contentType, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.Handle(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out map[string]any
	json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func newTestActionHandler() *ActionHandler {
	return NewActionHandler(referral.NewInMemoryRepository(), testKey, zerolog.Nop())
}

func TestActionHandler_Unauthorized(t *testing.T) {
	h := newTestActionHandler()
	rec, out := callProxy(t, h, ProxyPath, echo.MIMEApplicationJSON, `{"action":"samples:list","api_key":"nope"}`)
	if rec.Code != http.StatusUnauthorized || out["ok"] != false {
		t.Errorf("expected 401 ok=false, got %d %v", rec.Code, out)
	}

	noKey := NewActionHandler(referral.NewInMemoryRepository(), "", zerolog.Nop())
	rec, _ = callProxy(t, noKey, ProxyPath, echo.MIMEApplicationJSON, `{"action":"samples:list","api_key":""}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("an unconfigured key must refuse everything, got %d", rec.Code)
	}
}

func TestActionHandler_MissingAction(t *testing.T) {
	rec, out := callProxy(t, newTestActionHandler(), ProxyPath, echo.MIMEApplicationJSON, `{"api_key":"`+testKey+`"}`)
	if rec.Code != http.StatusBadRequest || out["error"] == nil {
		t.Errorf("expected 400 with error, got %d %v", rec.Code, out)
	}
}

func TestActionHandler_UnknownAction(t *testing.T) {
	rec, _ := callProxy(t, newTestActionHandler(), ProxyPath, echo.MIMEApplicationJSON, `{"action":"samples:drop","api_key":"`+testKey+`"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestActionHandler_ActionSources(t *testing.T) {
	h := newTestActionHandler()
	tests := []struct {
		name, target, ct, body string
	}{
		{"query", ProxyPath + "?action=samples:list", echo.MIMEApplicationJSON, `{"api_key":"` + testKey + `"}`},
		{"form", ProxyPath, echo.MIMEApplicationForm, url.Values{"action": {"samples:list"}, "api_key": {testKey}}.Encode()},
		{"nested string", ProxyPath, "text/plain", `{"api_key":"` + testKey + `","data":"{\"action\":\"samples:list\"}"}`},
		{"nested object", ProxyPath, echo.MIMEApplicationJSON, `{"api_key":"` + testKey + `","data":{"action":"samples:list"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := callProxy(t, h, tt.target, tt.ct, tt.body)
			if rec.Code != http.StatusOK || out["ok"] != true {
				t.Fatalf("expected ok, got %d %v", rec.Code, out)
			}
			if samples, ok := out["samples"].([]any); !ok || len(samples) != 0 {
				t.Errorf("expected empty samples array, got %v", out["samples"])
			}
		})
	}
}

func TestActionHandler_CreateAssignsID(t *testing.T) {
	h := newTestActionHandler()
	body := `{"action":"samples:create","api_key":"` + testKey + `","sample":{"patient":{"name":"Ana","dni":"1","sampleType":"Coprocultivo"}}}`
	rec, out := callProxy(t, h, ProxyPath, echo.MIMEApplicationJSON, body)
	if rec.Code != http.StatusOK || out["ok"] != true {
		t.Fatalf("expected ok, got %d %v", rec.Code, out)
	}
	created, _ := out["created"].(map[string]any)
	if normalize.String(created["id"]) == "" || created["requestDate"] == nil || created["status"] != "Pending" {
		t.Errorf("unexpected created record %v", created)
	}
}

func TestActionHandler_CreateWithoutSample(t *testing.T) {
	rec, out := callProxy(t, newTestActionHandler(), ProxyPath, echo.MIMEApplicationJSON, `{"action":"samples:create","api_key":"`+testKey+`"}`)
	if rec.Code != http.StatusOK || out["ok"] != false {
		t.Errorf("expected ok=false, got %d %v", rec.Code, out)
	}
}

func TestActionHandler_UpdateStatusLegacyCode(t *testing.T) {
	h := newTestActionHandler()
	callProxy(t, h, ProxyPath, echo.MIMEApplicationJSON,
		`{"action":"samples:create","api_key":"`+testKey+`","sample":{"id":"x1","name":"Ana"}}`)

	rec, out := callProxy(t, h, ProxyPath, echo.MIMEApplicationJSON,
		`{"action":"samples:updateStatus","api_key":"`+testKey+`","id":"x1","status":"SI"}`)
	if rec.Code != http.StatusOK || out["ok"] != true {
		t.Fatalf("expected ok, got %d %v", rec.Code, out)
	}
	updated, _ := out["updated"].(map[string]any)
	if updated["status"] != "Accepted" || updated["received"] != "SI" {
		t.Errorf("unexpected updated record %v", updated)
	}

	_, out = callProxy(t, h, ProxyPath, echo.MIMEApplicationJSON,
		`{"action":"samples:updateStatus","api_key":"`+testKey+`","id":"nope","status":"NO"}`)
	if out["ok"] != false {
		t.Errorf("expected ok=false for unknown id, got %v", out)
	}
}

func TestActionHandler_NestedPayload(t *testing.T) {
	h := newTestActionHandler()

	rec, out := callProxy(t, h, ProxyPath, "text/plain",
		`{"data":"{\"action\":\"samples:list\",\"api_key\":\"`+testKey+`\"}"}`)
	if rec.Code != http.StatusOK || out["ok"] != true {
		t.Fatalf("nested list: expected ok, got %d %v", rec.Code, out)
	}

	rec, out = callProxy(t, h, ProxyPath, echo.MIMEApplicationJSON,
		`{"data":{"action":"samples:create","api_key":"`+testKey+`","sample":{"id":"n1","name":"Ana"}}}`)
	if rec.Code != http.StatusOK || out["ok"] != true {
		t.Fatalf("nested create: expected ok, got %d %v", rec.Code, out)
	}

	rec, out = callProxy(t, h, ProxyPath, echo.MIMEApplicationJSON,
		`{"data":{"action":"samples:updateStatus","api_key":"`+testKey+`","id":"n1","status":"NO"}}`)
	if rec.Code != http.StatusOK || out["ok"] != true {
		t.Fatalf("nested update: expected ok, got %d %v", rec.Code, out)
	}
	updated, _ := out["updated"].(map[string]any)
	if updated["status"] != "Rejected" {
		t.Errorf("unexpected updated record %v", updated)
	}

	rec, _ = callProxy(t, h, ProxyPath, echo.MIMEApplicationJSON,
		`{"api_key":"wrong","data":{"action":"samples:list","api_key":"`+testKey+`"}}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("a top-level key must win over the nested one, got %d", rec.Code)
	}
}
