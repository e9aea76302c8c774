// Package client provides Go callers with the two enqueue paths into the
// queue: over the HTTP ingress, or hybrid (direct database write with an
// HTTP nudge to notify the channel).
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ntorque/ntorque/pkg/model"
	"github.com/ntorque/ntorque/pkg/store"
)

// Task describes a web hook to enqueue.
type Task struct {
	// URL is the web hook endpoint. Required.
	URL string

	// Timeout in seconds; zero means the server default.
	Timeout int

	// Method defaults to POST.
	Method string

	// Body and ContentType describe the payload to replay.
	Body        string
	ContentType string

	// Headers are replayed verbatim on the outbound request.
	Headers map[string]string
}

// HTTPClient enqueues tasks through the ingress API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPClient targets the ingress at baseURL. apiKey may be empty when
// the ingress runs unauthenticated.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Enqueue submits the task and returns its id parsed from the Location
// header.
func (c *HTTPClient) Enqueue(ctx context.Context, task Task) (int64, error) {
	query := url.Values{}
	query.Set("url", task.URL)
	if task.Timeout > 0 {
		query.Set("timeout", strconv.Itoa(task.Timeout))
	}
	if task.Method != "" {
		query.Set("method", task.Method)
	}

	endpoint := c.baseURL + "/?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(task.Body))
	if err != nil {
		return 0, err
	}
	if task.ContentType != "" {
		req.Header.Set("Content-Type", task.ContentType)
	}
	if c.apiKey != "" {
		req.Header.Set("NTORQUE_API_KEY", c.apiKey)
	}
	for name, value := range task.Headers {
		req.Header.Set(model.PassthroughPrefix+name, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("client: enqueue rejected with %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return taskIDFromLocation(resp.Header.Get("Location"))
}

// Push re-notifies the channel about an existing task.
func (c *HTTPClient) Push(ctx context.Context, taskID int64) error {
	endpoint := fmt.Sprintf("%s/tasks/%d/push", c.baseURL, taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("NTORQUE_API_KEY", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("client: push rejected with %d", resp.StatusCode)
	}
	return nil
}

func taskIDFromLocation(location string) (int64, error) {
	idx := strings.LastIndex(location, "/")
	if idx < 0 {
		return 0, fmt.Errorf("client: malformed Location header %q", location)
	}
	id, err := strconv.ParseInt(location[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("client: malformed Location header %q", location)
	}
	return id, nil
}

// TaskCreator is the store surface the hybrid client writes through.
type TaskCreator interface {
	CreateTask(ctx context.Context, nt store.NewTask) (*model.Task, error)
}

// Pusher nudges the notification channel for a stored task.
type Pusher interface {
	Push(ctx context.Context, taskID int64) error
}

// HybridClient writes tasks straight to the database, typically inside
// the caller's own transaction boundary, and nudges the channel over
// HTTP so delivery starts without waiting for the requeuer.
type HybridClient struct {
	creator TaskCreator
	pusher  Pusher
	appID   *int64
}

// NewHybridClient enqueues on behalf of appID; pass nil for anonymous
// tasks.
func NewHybridClient(creator TaskCreator, pusher Pusher, appID *int64) *HybridClient {
	return &HybridClient{creator: creator, pusher: pusher, appID: appID}
}

// Enqueue stores the task and notifies the channel. The push is best
// effort; a stored task is delivered by the requeuer even if the nudge
// fails.
func (c *HybridClient) Enqueue(ctx context.Context, task Task) (int64, error) {
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = model.DefaultTimeout
	}
	enctype, charset := splitContentType(task.ContentType)
	created, err := c.creator.CreateTask(ctx, store.NewTask{
		AppID:   c.appID,
		URL:     task.URL,
		Timeout: timeout,
		Method:  task.Method,
		Body:    task.Body,
		Charset: charset,
		Enctype: enctype,
		Headers: task.Headers,
	})
	if err != nil {
		return 0, err
	}
	if err := c.pusher.Push(ctx, created.ID); err != nil {
		return created.ID, fmt.Errorf("client: task %d stored but not notified: %w", created.ID, err)
	}
	return created.ID, nil
}

func splitContentType(contentType string) (enctype, charset string) {
	if contentType == "" {
		return "", ""
	}
	parts := strings.SplitN(contentType, ";", 2)
	enctype = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		param := strings.TrimSpace(parts[1])
		if v, ok := strings.CutPrefix(param, "charset="); ok {
			charset = strings.ToUpper(strings.TrimSpace(v))
		}
	}
	return enctype, charset
}
