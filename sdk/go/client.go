package civicgridsdk

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

// Client is a minimal CivicGrid HTTP API client.
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
	ID            string         `json:"id"`
	Reference     string         `json:"reference"`
	Description   string         `json:"description"`
	Location      string         `json:"location"`
	Status        string         `json:"status"`
	Priority      string         `json:"priority"`
	AssigneeID    *string        `json:"assignee_id,omitempty"`
	AssigneeName  string         `json:"assignee_name,omitempty"`
	PaymentAmount *float64       `json:"payment_amount,omitempty"`
	History       []HistoryEntry `json:"history"`
}

// HistoryEntry is one audit record on a case.
type HistoryEntry struct {
	TS          string `json:"ts"`
	Action      string `json:"action"`
	PerformedBy string `json:"performed_by"`
	Detail      string `json:"detail,omitempty"`
}

// Contractor represents a work crew.
type Contractor struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Skills []string `json:"skills"`
	Active bool     `json:"active"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// ReportCaseParams carries the fields for opening a case.
type ReportCaseParams struct {
	Description  string   `json:"description"`
	Location     string   `json:"location"`
	Lat          *float64 `json:"lat,omitempty"`
	Lng          *float64 `json:"lng,omitempty"`
	Category     string   `json:"category,omitempty"`
	PhotoURL     string   `json:"photo_url"`
	ContactEmail string   `json:"contact_email,omitempty"`
	ContactPhone string   `json:"contact_phone,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedCases wraps case listings with cursors.
type PaginatedCases struct {
	Items      []Case `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// Login exchanges credentials for a bearer token and installs it on the
// client.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]any{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "v1/auth/login", body, &resp); err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

// ReportCase opens a new case.
func (c *Client) ReportCase(ctx context.Context, params ReportCaseParams) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, "v1/cases", params, &resp)
	return resp, err
}

// GetCase fetches a case by id.
func (c *Client) GetCase(ctx context.Context, id string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodGet, "v1/cases/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// OpenCases returns the public feed of non-terminal cases.
func (c *Client) OpenCases(ctx context.Context, limit int, cursor string) (PaginatedCases, error) {
	return c.listCases(ctx, "v1/cases", url.Values{}, limit, cursor)
}

// MyCases returns cases reported by the authenticated caller.
func (c *Client) MyCases(ctx context.Context, limit int, cursor string) (PaginatedCases, error) {
	return c.listCases(ctx, "v1/cases/mine", url.Values{}, limit, cursor)
}

// AssignedCases returns cases assigned to the authenticated contractor.
func (c *Client) AssignedCases(ctx context.Context, limit int, cursor string) (PaginatedCases, error) {
	return c.listCases(ctx, "v1/cases/assigned", url.Values{}, limit, cursor)
}

// AllCases returns every case with optional status and search filters.
// Requires an official credential.
func (c *Client) AllCases(ctx context.Context, status, query string, limit int, cursor string) (PaginatedCases, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if query != "" {
		q.Set("q", query)
	}
	return c.listCases(ctx, "v1/cases/all", q, limit, cursor)
}

func (c *Client) listCases(ctx context.Context, endpoint string, q url.Values, limit int, cursor string) (PaginatedCases, error) {
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedCases
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Approve moves a pending case to approved.
func (c *Client) Approve(ctx context.Context, id string) (Case, error) {
	return c.transition(ctx, id, "approve", nil)
}

// Deny rejects a pending case.
func (c *Client) Deny(ctx context.Context, id, reason string) (Case, error) {
	return c.transition(ctx, id, "deny", map[string]any{"reason": reason})
}

// Assign hands a case to a contractor.
func (c *Client) Assign(ctx context.Context, id, contractorID string) (Case, error) {
	return c.transition(ctx, id, "assign", map[string]any{"contractor_id": contractorID})
}

// StartWork marks an assigned case in progress.
func (c *Client) StartWork(ctx context.Context, id string) (Case, error) {
	return c.transition(ctx, id, "start", nil)
}

// SubmitCompletion marks an in-progress case completed.
func (c *Client) SubmitCompletion(ctx context.Context, id, photoURL, notes string) (Case, error) {
	return c.transition(ctx, id, "complete", map[string]any{"photo_url": photoURL, "notes": notes})
}

// Close closes a completed case.
func (c *Client) Close(ctx context.Context, id, closingNotes string) (Case, error) {
	return c.transition(ctx, id, "close", map[string]any{"closing_notes": closingNotes})
}

// Escalate raises a case to high priority.
func (c *Client) Escalate(ctx context.Context, id string) (Case, error) {
	return c.transition(ctx, id, "escalate", nil)
}

// UpdatePayment sets the payment amount.
func (c *Client) UpdatePayment(ctx context.Context, id string, amount float64) (Case, error) {
	return c.transition(ctx, id, "payment", map[string]any{"amount": amount})
}

// ListContractors returns contractors, optionally active only.
func (c *Client) ListContractors(ctx context.Context, activeOnly bool) ([]Contractor, error) {
	endpoint := "v1/contractors"
	if activeOnly {
		endpoint += "?active=true"
	}
	var resp []Contractor
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events (officials only).
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v1/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) transition(ctx context.Context, id, action string, body map[string]any) (Case, error) {
	var resp Case
	endpoint := fmt.Sprintf("v1/cases/%s/%s", url.PathEscape(id), action)
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
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
