package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/ntorque/ntorque/pkg/model"
	"github.com/ntorque/ntorque/pkg/notify"
	"github.com/ntorque/ntorque/pkg/store"
)

// enqueue implements POST /?url=...[&method=...][&timeout=...]. The task
// row is committed before the notification is pushed; a Redis failure is
// logged and absorbed because the requeuer recovers from the store.
func (a *API) enqueue(c *gin.Context) {
	app := principal(c)
	if a.cfg.Authenticate && app == nil {
		c.String(http.StatusForbidden, "A valid NTORQUE_API_KEY header is required.")
		return
	}

	hookURL := c.Query("url")
	if !validWebHookURL(hookURL) {
		c.String(http.StatusBadRequest, "You must provide a valid web hook URL.")
		return
	}

	timeout := a.cfg.DefaultTimeout
	if raw := c.Query("timeout"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.String(http.StatusBadRequest, "You must provide a valid integer timeout.")
			return
		}
		timeout = parsed
	}

	method := c.DefaultQuery("method", model.DefaultMethod)
	if !model.ValidMethod(method) {
		c.String(http.StatusBadRequest,
			"Request `method` must be one of: %s.", strings.Join(model.RequestMethods, ", "))
		return
	}

	enctype, charset := contentTypeOf(c.Request)

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "Unreadable request body.")
		return
	}
	body, err := decodeBody(raw, charset)
	if err != nil {
		c.String(http.StatusBadRequest, "Unsupported charset %q.", charset)
		return
	}

	nt := store.NewTask{
		URL:     hookURL,
		Timeout: timeout,
		Method:  method,
		Body:    body,
		Charset: charset,
		Enctype: enctype,
		Headers: passthroughHeaders(c.Request.Header),
	}
	if app != nil {
		nt.AppID = &app.ID
	}

	task, err := a.store.CreateTask(c.Request.Context(), nt)
	if err != nil {
		a.log.Error().Err(err).Msg("Task creation failed")
		c.String(http.StatusInternalServerError, "Could not store the task.")
		return
	}

	// The transaction has committed; the notification is best effort.
	a.notify(c, task)

	c.Header("Location", fmt.Sprintf("/tasks/%d", task.ID))
	c.String(http.StatusCreated, "")
}

// notify pushes "<id>:<retry_count>" for the task, logging and absorbing
// notifier errors.
func (a *API) notify(c *gin.Context, task *model.Task) {
	instruction := notify.Instruction{TaskID: task.ID, RetryCount: task.RetryCount}
	err := a.notifier.Push(c.Request.Context(), a.cfg.RedisChannel, instruction)
	if err != nil {
		a.log.Warn().Err(err).
			Int64("task_id", task.ID).
			Msg("Notification push failed, requeuer will recover")
	}
}

// validWebHookURL accepts absolute http(s)-style URLs with a host.
func validWebHookURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}

// contentTypeOf extracts the enctype (the first token of Content-Type)
// and the charset parameter. The charset defaults to utf8; an explicit
// charset is stored upper-cased, as received from the parser.
func contentTypeOf(r *http.Request) (enctype, charset string) {
	enctype = model.DefaultEnctype
	charset = model.DefaultCharset

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return enctype, charset
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Fall back to the raw first token.
		mediaType = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
		params = nil
	}
	if mediaType != "" {
		enctype = mediaType
	}
	if cs := params["charset"]; cs != "" {
		charset = strings.ToUpper(cs)
	}
	return enctype, charset
}

// decodeBody decodes raw bytes using the detected charset. UTF-8 (the
// overwhelmingly common case) passes through; anything else goes through
// the x/text encoding registry.
func decodeBody(raw []byte, charset string) (string, error) {
	cs := strings.ToLower(charset)
	if cs == "" || cs == "utf8" || cs == "utf-8" {
		return string(raw), nil
	}
	enc, err := htmlindex.Get(cs)
	if err != nil {
		return "", err
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// passthroughHeaders extracts headers matching the pass-through prefix,
// case-insensitively, stripping the prefix.
func passthroughHeaders(headers http.Header) map[string]string {
	out := map[string]string{}
	prefix := strings.ToLower(model.PassthroughPrefix)
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		if strings.HasPrefix(strings.ToLower(name), prefix) {
			out[name[len(prefix):]] = values[0]
		}
	}
	return out
}
