package model

import (
	"encoding/json"
	"time"
)

// Lifecycle carries the active/deleted flags shared by applications and
// api keys, with a timestamp recording each transition.
type Lifecycle struct {
	IsActive    bool       `db:"is_active" json:"is_active"`
	IsDeleted   bool       `db:"is_deleted" json:"is_deleted"`
	Activated   *time.Time `db:"activated" json:"activated,omitempty"`
	Deactivated *time.Time `db:"deactivated" json:"deactivated,omitempty"`
	Deleted     *time.Time `db:"deleted" json:"deleted,omitempty"`
	Undeleted   *time.Time `db:"undeleted" json:"undeleted,omitempty"`
}

// Active reports whether the row is usable: active and not deleted.
func (l Lifecycle) Active() bool {
	return l.IsActive && !l.IsDeleted
}

// Application is a named principal that owns tasks and api keys.
type Application struct {
	ID       int64     `db:"id" json:"id"`
	Created  time.Time `db:"created" json:"created"`
	Modified time.Time `db:"modified" json:"modified"`
	Version  int       `db:"version" json:"version"`
	Lifecycle
	Name string `db:"name" json:"name"`

	// Populated by the store on create and lookup; not a column.
	APIKeys []APIKey `db:"-" json:"api_keys,omitempty"`
}

// APIKey is an authentication credential belonging to one application.
// Value is a 40 character hex token, unique across all keys.
type APIKey struct {
	ID       int64     `db:"id" json:"id"`
	Created  time.Time `db:"created" json:"created"`
	Modified time.Time `db:"modified" json:"modified"`
	Version  int       `db:"version" json:"version"`
	Lifecycle
	AppID int64  `db:"app_id" json:"app_id"`
	Value string `db:"value" json:"value"`
}

// Task is one scheduled outbound web-hook request.
type Task struct {
	ID       int64     `db:"id" json:"id"`
	Created  time.Time `db:"created" json:"created"`
	Modified time.Time `db:"modified" json:"modified"`
	Version  int       `db:"version" json:"version"`

	// AppID is nil for anonymously submitted tasks.
	AppID *int64 `db:"app_id" json:"app_id,omitempty"`

	RetryCount int       `db:"retry_count" json:"retry_count"`
	Timeout    int       `db:"timeout" json:"timeout"`
	Due        time.Time `db:"due" json:"due"`
	Status     Status    `db:"status" json:"status"`

	URL     string `db:"url" json:"url"`
	Charset string `db:"charset" json:"charset"`
	Enctype string `db:"enctype" json:"enctype"`
	Body    string `db:"body" json:"body"`

	// Headers is a JSON object of pass-through header names to values.
	Headers string `db:"headers" json:"headers"`

	Method string `db:"method" json:"method"`
}

// HeaderMap decodes the stored pass-through headers.
func (t *Task) HeaderMap() (map[string]string, error) {
	headers := map[string]string{}
	if t.Headers == "" {
		return headers, nil
	}
	if err := json.Unmarshal([]byte(t.Headers), &headers); err != nil {
		return nil, err
	}
	return headers, nil
}

// TaskStatus is the public JSON representation returned by the status
// endpoint.
type TaskStatus struct {
	ID         int64  `json:"id"`
	URL        string `json:"url"`
	Status     Status `json:"status"`
	Due        string `json:"due"`
	RetryCount int    `json:"retry_count"`
	Timeout    int    `json:"timeout"`
}

// PublicStatus projects the task onto its status representation. Due is
// rendered as ISO 8601.
func (t *Task) PublicStatus() TaskStatus {
	return TaskStatus{
		ID:         t.ID,
		URL:        t.URL,
		Status:     t.Status,
		Due:        t.Due.UTC().Format(time.RFC3339),
		RetryCount: t.RetryCount,
		Timeout:    t.Timeout,
	}
}
