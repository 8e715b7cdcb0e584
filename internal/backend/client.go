package backend

// client.go = REST client for the notification backend (and the dev relay).

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

func NewClient(apiURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetToken sets the bearer token sent with every request
func (c *Client) SetToken(token string) {
	c.token = token
}

// ListNotifications fetches one page of the user's notifications
func (c *Client) ListNotifications(ctx context.Context, userID int64, opts ListOptions) (*NotificationPage, error) {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.UnreadOnly {
		q.Set("unread", "true")
	}
	path := fmt.Sprintf("/api/v1/users/%d/notifications", userID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page NotificationPage
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &page); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return &page, nil
}

// MarkNotificationRead marks a backend notification as read
func (c *Client) MarkNotificationRead(ctx context.Context, userID, notificationID int64) error {
	path := fmt.Sprintf("/api/v1/users/%d/notifications/%d/read", userID, notificationID)
	if err := c.do(ctx, http.MethodPut, path, nil, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("failed to mark notification %d read: %w", notificationID, err)
	}
	return nil
}

// PushNotification creates a notification and pushes it to the user's socket
func (c *Client) PushNotification(ctx context.Context, userID int64, req *PushNotificationRequest) (*NotificationDTO, error) {
	path := fmt.Sprintf("/api/v1/users/%d/notifications", userID)
	var created NotificationDTO
	if err := c.do(ctx, http.MethodPost, path, req, http.StatusCreated, &created); err != nil {
		return nil, fmt.Errorf("failed to push notification: %w", err)
	}
	return &created, nil
}

// PushEvent pushes a task, process or system frame to the user's socket
func (c *Client) PushEvent(ctx context.Context, userID int64, req *PushEventRequest) error {
	path := fmt.Sprintf("/api/v1/users/%d/events", userID)
	if err := c.do(ctx, http.MethodPost, path, req, http.StatusAccepted, nil); err != nil {
		return fmt.Errorf("failed to push %s event: %w", req.Kind, err)
	}
	return nil
}

// Health checks that the backend answers
func (c *Client) Health(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/health", nil, http.StatusOK, nil); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// StatusError is returned when the backend answers with an unexpected status.
type StatusError struct {
	Code    int
	Status  string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("unexpected status %s: %s", e.Status, e.Message)
	}
	return "unexpected status " + e.Status
}

func (c *Client) do(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &StatusError{Code: resp.StatusCode, Status: resp.Status, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
