package carelinesdk

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

// Client is a minimal Careline HTTP API client.
type Client struct {
	BaseURL    string
	PatientID  string
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, patientID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		PatientID: patientID,
		Timeout:   10 * time.Second,
	}
}

// Instance represents the API daily instance model (partial).
type Instance struct {
	ID          string `json:"id"`
	ItemID      string `json:"item_id"`
	ItemName    string `json:"item_name"`
	ItemType    string `json:"item_type"`
	WindowLabel string `json:"window_label"`
	Date        string `json:"date"`
	ScheduledAt string `json:"scheduled_at"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
}

// LogEntry represents a recorded outcome.
type LogEntry struct {
	ID         string  `json:"id"`
	InstanceID *string `json:"instance_id,omitempty"`
	ItemType   string  `json:"item_type"`
	Outcome    string  `json:"outcome"`
	Notes      string  `json:"notes,omitempty"`
	LoggedAt   string  `json:"logged_at"`
}

// Notification represents a scheduled reminder.
type Notification struct {
	ID              string `json:"id"`
	InstanceID      string `json:"instance_id"`
	ScheduledFor    string `json:"scheduled_for"`
	Status          string `json:"status"`
	FollowUpAttempt int    `json:"follow_up_attempt"`
}

// Day wraps a day listing.
type Day struct {
	Date      string     `json:"date"`
	Instances []Instance `json:"instances"`
}

type completeResult struct {
	Instance Instance `json:"instance"`
	Log      LogEntry `json:"log"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// EnsureDay materializes and returns a day's instances.
func (c *Client) EnsureDay(ctx context.Context, date string) (Day, error) {
	var resp Day
	endpoint := c.patientPath(fmt.Sprintf("days/%s/ensure", url.PathEscape(date)))
	err := c.do(ctx, http.MethodPost, endpoint, struct{}{}, &resp)
	return resp, err
}

// Day returns a day's instances without generating.
func (c *Client) Day(ctx context.Context, date string) (Day, error) {
	var resp Day
	endpoint := c.patientPath(fmt.Sprintf("days/%s", url.PathEscape(date)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Complete records a completion; data may be nil.
func (c *Client) Complete(ctx context.Context, instanceID string, data map[string]any, notes string) (Instance, LogEntry, error) {
	body := map[string]any{"notes": notes}
	if data != nil {
		body["data"] = data
	}
	var resp completeResult
	endpoint := fmt.Sprintf("v0/instances/%s/complete", url.PathEscape(instanceID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.Instance, resp.Log, err
}

// Skip records a deliberate skip.
func (c *Client) Skip(ctx context.Context, instanceID, notes string) (Instance, error) {
	var resp Instance
	endpoint := fmt.Sprintf("v0/instances/%s/skip", url.PathEscape(instanceID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"notes": notes}, &resp)
	return resp, err
}

// Upcoming lists upcoming reminders.
func (c *Client) Upcoming(ctx context.Context, limit int) ([]Notification, error) {
	endpoint := c.patientPath("notifications")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Notification
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Snooze pushes a reminder out by the given minutes.
func (c *Client) Snooze(ctx context.Context, notificationID string, minutes int) (Notification, error) {
	var resp Notification
	endpoint := fmt.Sprintf("v0/notifications/%s/snooze", url.PathEscape(notificationID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"minutes": minutes}, &resp)
	return resp, err
}

// Logs lists log entries between two RFC3339 timestamps.
func (c *Client) Logs(ctx context.Context, from, to string) ([]LogEntry, error) {
	endpoint := fmt.Sprintf("%s?from=%s&to=%s", c.patientPath("logs"), url.QueryEscape(from), url.QueryEscape(to))
	var resp []LogEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Insights fetches the derived summary for a date range.
func (c *Client) Insights(ctx context.Context, from, to string) (map[string]any, error) {
	endpoint := fmt.Sprintf("%s?from=%s&to=%s", c.patientPath("insights"), url.QueryEscape(from), url.QueryEscape(to))
	var resp map[string]any
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
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
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

func (c *Client) patientPath(p string) string {
	patient := url.PathEscape(c.PatientID)
	return fmt.Sprintf("v0/patients/%s/%s", patient, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
