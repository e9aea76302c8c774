package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntorque/ntorque/pkg/config"
	"github.com/ntorque/ntorque/pkg/model"
	"github.com/ntorque/ntorque/pkg/notify"
	"github.com/ntorque/ntorque/pkg/store"
)

const testToken = "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"

type fakeStore struct {
	nextID int64
	tasks  map[int64]*model.Task
	apps   map[string]*model.Application
	keys   map[int64][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks: map[int64]*model.Task{},
		apps:  map[string]*model.Application{},
		keys:  map[int64][]string{},
	}
}

func (f *fakeStore) addApp(id int64, name, token string) {
	f.apps[token] = &model.Application{ID: id, Name: name}
	f.keys[id] = append(f.keys[id], token)
}

func (f *fakeStore) CreateTask(_ context.Context, nt store.NewTask) (*model.Task, error) {
	f.nextID++
	if nt.Charset == "" {
		nt.Charset = model.DefaultCharset
	}
	if nt.Enctype == "" {
		nt.Enctype = model.DefaultEnctype
	}
	if nt.Method == "" {
		nt.Method = model.DefaultMethod
	}
	headers, _ := json.Marshal(nt.Headers)
	task := &model.Task{
		ID:      f.nextID,
		AppID:   nt.AppID,
		Timeout: nt.Timeout,
		Due:     time.Now().UTC().Add(time.Duration(nt.Timeout+2) * time.Second),
		Status:  model.StatusPending,
		URL:     nt.URL,
		Charset: nt.Charset,
		Enctype: nt.Enctype,
		Body:    nt.Body,
		Headers: string(headers),
		Method:  nt.Method,
	}
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakeStore) LookupTask(_ context.Context, id int64) (*model.Task, error) {
	task, ok := f.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return task, nil
}

func (f *fakeStore) LookupApplication(_ context.Context, token string) (*model.Application, error) {
	app, ok := f.apps[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	return app, nil
}

func (f *fakeStore) GetActiveKeyValues(_ context.Context, appID int64) ([]string, error) {
	return f.keys[appID], nil
}

type testEnv struct {
	store    *fakeStore
	notifier *notify.Notifier
	router   *gin.Engine
	cfg      *config.Config
}

func setupAPI(t *testing.T, authenticate bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	notifier := notify.NewFromAddr(s.Addr())
	t.Cleanup(func() { notifier.Close() })

	fs := newFakeStore()
	fs.addApp(1, "example", testToken)

	cfg := &config.Config{
		RedisChannel:   notify.DefaultChannel,
		Authenticate:   authenticate,
		DefaultTimeout: 20,
	}
	a := New(cfg, fs, notifier)
	return &testEnv{store: fs, notifier: notifier, router: a.Router(), cfg: cfg}
}

func (e *testEnv) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func enqueueTarget(hookURL string, extra string) string {
	target := "/?url=" + url.QueryEscape(hookURL)
	if extra != "" {
		target += "&" + extra
	}
	return target
}

func TestInstalled(t *testing.T) {
	env := setupAPI(t, true)
	w := env.do(http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "reporting for duty")
}

func TestEnqueueStoresTaskAndNotifies(t *testing.T) {
	env := setupAPI(t, true)
	ctx := context.Background()

	w := env.do(http.MethodPost, enqueueTarget("http://example.com/hook", ""),
		"foo=bar", map[string]string{APIKeyHeader: testToken})

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "/tasks/1", w.Header().Get("Location"))

	task := env.store.tasks[1]
	require.NotNil(t, task)
	assert.Equal(t, "http://example.com/hook", task.URL)
	assert.Equal(t, "POST", task.Method)
	assert.Equal(t, "foo=bar", task.Body)
	assert.Equal(t, "application/x-www-form-urlencoded", task.Enctype)
	assert.Equal(t, "utf8", task.Charset)
	require.NotNil(t, task.AppID)
	assert.Equal(t, int64(1), *task.AppID)

	depth, err := env.notifier.Length(ctx, notify.DefaultChannel)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	instruction, ok, err := env.notifier.Pop(ctx, notify.DefaultChannel)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1:0", instruction.String())
}

func TestEnqueueTwiceNotifiesInOrder(t *testing.T) {
	env := setupAPI(t, true)
	ctx := context.Background()
	headers := map[string]string{APIKeyHeader: testToken}

	env.do(http.MethodPost, enqueueTarget("http://example.com/first", ""), "", headers)
	env.do(http.MethodPost, enqueueTarget("http://example.com/second", ""), "", headers)

	first, ok, err := env.notifier.Pop(ctx, notify.DefaultChannel)
	require.NoError(t, err)
	require.True(t, ok)
	second, ok, err := env.notifier.Pop(ctx, notify.DefaultChannel)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Less(t, first.TaskID, second.TaskID)
}

func TestEnqueueExplicitCharset(t *testing.T) {
	env := setupAPI(t, true)

	w := env.do(http.MethodPost, enqueueTarget("http://example.com/hook", ""),
		"{\"foo\": \"bar\"}", map[string]string{
			APIKeyHeader:   testToken,
			"Content-Type": "application/json; charset=utf-8",
		})

	require.Equal(t, http.StatusCreated, w.Code)
	task := env.store.tasks[1]
	assert.Equal(t, "application/json", task.Enctype)
	assert.Equal(t, "UTF-8", task.Charset)
}

func TestEnqueueMethodAndTimeout(t *testing.T) {
	env := setupAPI(t, true)

	w := env.do(http.MethodPost, enqueueTarget("http://example.com/hook", "method=PUT&timeout=45"),
		"", map[string]string{APIKeyHeader: testToken})

	require.Equal(t, http.StatusCreated, w.Code)
	task := env.store.tasks[1]
	assert.Equal(t, "PUT", task.Method)
	assert.Equal(t, 45, task.Timeout)
}

func TestEnqueuePassthroughHeaders(t *testing.T) {
	env := setupAPI(t, true)

	w := env.do(http.MethodPost, enqueueTarget("http://example.com/hook", ""),
		"", map[string]string{
			APIKeyHeader:              testToken,
			"NTORQUE-PASSTHROUGH-Foo": "bar",
			"X-Unrelated":             "dropped",
		})

	require.Equal(t, http.StatusCreated, w.Code)
	headers, err := env.store.tasks[1].HeaderMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Foo": "bar"}, headers)
}

func TestEnqueueValidation(t *testing.T) {
	env := setupAPI(t, true)
	headers := map[string]string{APIKeyHeader: testToken}

	tests := []struct {
		name   string
		target string
	}{
		{"missing url", "/"},
		{"relative url", enqueueTarget("not-a-url", "")},
		{"bad timeout", enqueueTarget("http://example.com/hook", "timeout=soon")},
		{"bad method", enqueueTarget("http://example.com/hook", "method=GET")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, tt.target, "", headers)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, env.store.tasks)
		})
	}
}

func TestEnqueueRequiresKeyWhenAuthenticated(t *testing.T) {
	env := setupAPI(t, true)

	w := env.do(http.MethodPost, enqueueTarget("http://example.com/hook", ""), "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, enqueueTarget("http://example.com/hook", ""), "",
		map[string]string{APIKeyHeader: "0000000000000000000000000000000000000000"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestEnqueueAnonymousWhenAuthDisabled(t *testing.T) {
	env := setupAPI(t, false)

	w := env.do(http.MethodPost, enqueueTarget("http://example.com/hook", ""), "", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Nil(t, env.store.tasks[1].AppID)

	// And the anonymous task is readable.
	w = env.do(http.MethodGet, "/tasks/1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTaskStatus(t *testing.T) {
	env := setupAPI(t, true)
	env.do(http.MethodPost, enqueueTarget("http://example.com/hook", ""),
		"", map[string]string{APIKeyHeader: testToken})

	w := env.do(http.MethodGet, "/tasks/1", "", map[string]string{APIKeyHeader: testToken})
	require.Equal(t, http.StatusOK, w.Code)

	var status model.TaskStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, int64(1), status.ID)
	assert.Equal(t, "http://example.com/hook", status.URL)
	assert.Equal(t, model.StatusPending, status.Status)
	assert.Equal(t, 0, status.RetryCount)
	assert.Equal(t, 20, status.Timeout)

	_, err := time.Parse(time.RFC3339, status.Due)
	assert.NoError(t, err)
}

func TestTaskStatusAccessControl(t *testing.T) {
	env := setupAPI(t, true)
	otherToken := "ff12cd34ef56ab12cd34ef56ab12cd34ef56ab12"
	env.store.addApp(2, "intruder", otherToken)

	env.do(http.MethodPost, enqueueTarget("http://example.com/hook", ""),
		"", map[string]string{APIKeyHeader: testToken})

	// Wrong principal.
	w := env.do(http.MethodGet, "/tasks/1", "", map[string]string{APIKeyHeader: otherToken})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// No principal.
	w = env.do(http.MethodGet, "/tasks/1", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Unknown task.
	w = env.do(http.MethodGet, "/tasks/99", "", map[string]string{APIKeyHeader: testToken})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPushExistingTask(t *testing.T) {
	env := setupAPI(t, true)
	env.do(http.MethodPost, enqueueTarget("http://example.com/hook", ""),
		"", map[string]string{APIKeyHeader: testToken})

	// Drain the creation notification, then simulate a retried task.
	ctx := context.Background()
	_, _, err := env.notifier.Pop(ctx, notify.DefaultChannel)
	require.NoError(t, err)
	env.store.tasks[1].RetryCount = 3

	w := env.do(http.MethodPost, "/tasks/1/push", "", map[string]string{APIKeyHeader: testToken})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "/tasks/1", w.Header().Get("Location"))

	instruction, ok, err := env.notifier.Pop(ctx, notify.DefaultChannel)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1:3", instruction.String())
}

func TestMethodNotAllowed(t *testing.T) {
	env := setupAPI(t, true)
	w := env.do(http.MethodPut, "/", "", map[string]string{APIKeyHeader: testToken})
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestURLValidation(t *testing.T) {
	valid := []string{
		"http://example.com/hook",
		"https://example.com/hook?a=b",
	}
	invalid := []string{"", "example.com/hook", "/hook", "http://"}

	for _, u := range valid {
		assert.True(t, validWebHookURL(u), u)
	}
	for _, u := range invalid {
		assert.False(t, validWebHookURL(u), fmt.Sprintf("%q", u))
	}
}
