package rowstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/normalize"
)

// DefaultTimeout bounds every call to the spreadsheet web app.
const DefaultTimeout = 10 * time.Second

// SheetsConfig locates the spreadsheet web app.
type SheetsConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// SheetsAdapter talks to a spreadsheet web app using the action protocol:
// every call is a JSON POST of {action, api_key, ...} answered by
// {ok, samples|created|updated|error}.
type SheetsAdapter struct {
	client *resty.Client
	url    string
	apiKey string
}

func NewSheetsAdapter(cfg SheetsConfig) (*SheetsAdapter, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("sheets: url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sheets: api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &SheetsAdapter{client: client, url: cfg.URL, apiKey: cfg.APIKey}, nil
}

func (a *SheetsAdapter) List(ctx context.Context) ([]normalize.RawRecord, error) {
	env, err := a.call(ctx, ActionList, nil)
	if err != nil {
		return nil, err
	}
	raw, ok := env["samples"]
	if !ok {
		return nil, fmt.Errorf("%w: %s response has no samples", ErrMalformed, ActionList)
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: samples is not an array: %v", ErrMalformed, err)
	}
	if items == nil {
		return nil, fmt.Errorf("%w: samples is null", ErrMalformed)
	}

	out := make([]normalize.RawRecord, 0, len(items))
	for _, item := range items {
		if rec, ok := item.(map[string]any); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (a *SheetsAdapter) Create(ctx context.Context, rec normalize.RawRecord) (normalize.RawRecord, error) {
	env, err := a.call(ctx, ActionCreate, map[string]any{"sample": rec})
	if err != nil {
		return nil, err
	}
	return decodeRecord(env["created"]), nil
}

func (a *SheetsAdapter) UpdateStatus(ctx context.Context, u StatusUpdate) (normalize.RawRecord, error) {
	payload := make(map[string]any, len(u.Fields)+1)
	for k, v := range u.Fields {
		payload[k] = v
	}
	payload["id"] = u.ID
	env, err := a.call(ctx, ActionUpdateStatus, payload)
	if err != nil {
		return nil, err
	}
	return decodeRecord(env["updated"]), nil
}

func (a *SheetsAdapter) call(ctx context.Context, action string, payload map[string]any) (map[string]json.RawMessage, error) {
	body := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["action"] = action
	body["api_key"] = a.apiKey

	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(a.url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransient, action, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s: HTTP %d", ErrTransient, action, resp.StatusCode())
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body(), &env); err != nil || env == nil {
		return nil, fmt.Errorf("%w: %s: body is not a JSON object", ErrMalformed, action)
	}
	rawOK, present := env["ok"]
	if !present {
		return nil, fmt.Errorf("%w: %s: response has no ok flag", ErrMalformed, action)
	}
	var ok bool
	if err := json.Unmarshal(rawOK, &ok); err != nil {
		return nil, fmt.Errorf("%w: %s: ok is not a boolean: %v", ErrMalformed, action, err)
	}
	if ok {
		return env, nil
	}
	// A refusal without a message is an error page or proxy echo, not a
	// decision by the store.
	msg, err := refusalMessage(env["error"])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, action, err)
	}
	return nil, &APIError{Action: action, Message: msg}
}

func refusalMessage(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("refusal carries no error")
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", fmt.Errorf("error is not a string: %v", err)
	}
	if strings.TrimSpace(msg) == "" {
		return "", fmt.Errorf("refusal carries an empty error")
	}
	return msg, nil
}

// decodeRecord returns nil when raw is absent or not an object; the echoed
// record is advisory.
func decodeRecord(raw json.RawMessage) normalize.RawRecord {
	if len(raw) == 0 {
		return nil
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil
	}
	return rec
}
