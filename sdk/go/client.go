package stagelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Stageline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Case represents the API case model (partial).
type Case struct {
	ID         string `json:"id"`
	FirmID     string `json:"firm_id"`
	CaseNumber string `json:"case_number"`
	Title      string `json:"title"`
	Status     string `json:"status"`
}

// StageInstance is one visit of a case to a stage.
type StageInstance struct {
	ID       string `json:"id"`
	CaseID   string `json:"case_id"`
	StageKey string `json:"stage_key"`
	CycleNo  int    `json:"cycle_no"`
	Status   string `json:"status"`
}

// Transition is an edge in the case's stage history.
type Transition struct {
	ID               string `json:"id"`
	CaseID           string `json:"case_id"`
	Type             string `json:"type"`
	ToInstanceID     string `json:"to_instance_id"`
	ReasonCode       string `json:"reason_code,omitempty"`
	RequiresApproval bool   `json:"requires_approval"`
	IsConfirmed      bool   `json:"is_confirmed"`
}

// CaseState mirrors the /cases/{id}/state response (partial).
type CaseState struct {
	Case       Case           `json:"case"`
	Active     *StageInstance `json:"active_stage,omitempty"`
	StageLabel string         `json:"stage_label,omitempty"`
	Pending    []Transition   `json:"pending_approvals,omitempty"`
}

// ChecklistItem is a stage exit condition.
type ChecklistItem struct {
	ID       string `json:"id"`
	ItemKey  string `json:"item_key"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Rule     string `json:"rule"`
	Status   string `json:"status"`
}

// Checklist wraps the checklist evaluation response.
type Checklist struct {
	Items    []ChecklistItem `json:"items"`
	CanClose bool            `json:"can_close"`
	Blocking []string        `json:"blocking_reasons,omitempty"`
}

// WorkflowStep is one of the fixed per-stage steps.
type WorkflowStep struct {
	ID      string `json:"id"`
	StepKey string `json:"step_key"`
	Status  string `json:"status"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	CaseID     string `json:"case_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// OpenCase opens a new case.
func (c *Client) OpenCase(ctx context.Context, caseNumber, title string) (Case, error) {
	body := map[string]any{
		"case_number": caseNumber,
		"title":       title,
	}
	var resp Case
	err := c.do(ctx, http.MethodPost, "v0/cases", body, &resp)
	return resp, err
}

// ListCases lists cases, optionally filtered by status.
func (c *Client) ListCases(ctx context.Context, status string) ([]Case, error) {
	endpoint := "v0/cases"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Case
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// State returns the derived case state.
func (c *Client) State(ctx context.Context, caseID string) (CaseState, error) {
	var resp CaseState
	endpoint := fmt.Sprintf("v0/cases/%s/state", url.PathEscape(caseID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Advance moves the case forward. toStage may be empty for the default next
// stage.
func (c *Client) Advance(ctx context.Context, caseID, toStage string) (Transition, error) {
	return c.move(ctx, caseID, "advance", map[string]any{"to_stage_key": toStage})
}

// Remand moves the case back to an earlier stage with a reason.
func (c *Client) Remand(ctx context.Context, caseID, toStage, reasonCode, reason string) (Transition, error) {
	return c.move(ctx, caseID, "remand", map[string]any{
		"to_stage_key": toStage,
		"reason_code":  reasonCode,
		"reason":       reason,
	})
}

// SendBack returns the case for correction with a reason.
func (c *Client) SendBack(ctx context.Context, caseID, toStage, reasonCode, reason string) (Transition, error) {
	return c.move(ctx, caseID, "send-back", map[string]any{
		"to_stage_key": toStage,
		"reason_code":  reasonCode,
		"reason":       reason,
	})
}

func (c *Client) move(ctx context.Context, caseID, action string, body map[string]any) (Transition, error) {
	var resp Transition
	endpoint := fmt.Sprintf("v0/cases/%s/%s", url.PathEscape(caseID), action)
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Checklist evaluates and returns a stage instance's checklist.
func (c *Client) Checklist(ctx context.Context, instanceID string) (Checklist, error) {
	var resp Checklist
	endpoint := fmt.Sprintf("v0/stages/%s/checklist", url.PathEscape(instanceID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Attest attests a manual checklist item.
func (c *Client) Attest(ctx context.Context, instanceID, itemKey, note string) (ChecklistItem, error) {
	var resp ChecklistItem
	endpoint := fmt.Sprintf("v0/stages/%s/checklist/%s/attest", url.PathEscape(instanceID), url.PathEscape(itemKey))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"note": note}, &resp)
	return resp, err
}

// CompleteStep completes a workflow step on a stage instance.
func (c *Client) CompleteStep(ctx context.Context, instanceID, stepKey, notes string) (WorkflowStep, error) {
	var resp WorkflowStep
	endpoint := fmt.Sprintf("v0/stages/%s/workflow/%s/complete", url.PathEscape(instanceID), url.PathEscape(stepKey))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"notes": notes}, &resp)
	return resp, err
}

// Events returns audit events, optionally case-scoped and after a cursor.
func (c *Client) Events(ctx context.Context, caseID string, since int64, limit int) ([]Event, error) {
	endpoint := "v0/events"
	params := url.Values{}
	if caseID != "" {
		params.Set("case_id", caseID)
	}
	if since > 0 {
		params.Set("since", fmt.Sprintf("%d", since))
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
