package api

import (
	"errors"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/ntorque/ntorque/pkg/model"
	"github.com/ntorque/ntorque/pkg/store"
)

// APIKeyHeader carries the caller's 40 character token.
const APIKeyHeader = "NTORQUE_API_KEY"

var validAPIKey = regexp.MustCompile(`^\w{40}$`)

const (
	ctxKeyApplication = "application"
	ctxKeyToken       = "api_key"
)

// authenticate resolves the api key header to its owning application and
// attaches both to the request context. An absent or unknown key is not an
// error here; handlers that require a principal reject later, so the
// liveness endpoint stays open.
func (a *API) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(APIKeyHeader)
		if token == "" || !validAPIKey.MatchString(token) {
			c.Next()
			return
		}
		c.Set(ctxKeyToken, token)

		app, err := a.store.LookupApplication(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				a.log.Warn().Err(err).Msg("Application lookup failed")
			}
			c.Next()
			return
		}
		c.Set(ctxKeyApplication, app)
		c.Next()
	}
}

// principal returns the authenticated application, if any.
func principal(c *gin.Context) *model.Application {
	value, ok := c.Get(ctxKeyApplication)
	if !ok {
		return nil
	}
	return value.(*model.Application)
}

// callerToken returns the well-formed api key the caller presented, if any.
func callerToken(c *gin.Context) string {
	value, ok := c.Get(ctxKeyToken)
	if !ok {
		return ""
	}
	return value.(string)
}

// authorizeTask is the task access predicate: the caller's token must be
// one of the owning application's currently active key values. Anonymous
// tasks are only accessible when authentication is disabled, in which case
// everything is.
func (a *API) authorizeTask(c *gin.Context, task *model.Task) bool {
	if !a.cfg.Authenticate {
		return true
	}
	if task.AppID == nil {
		return false
	}
	token := callerToken(c)
	if token == "" {
		return false
	}
	values, err := a.store.GetActiveKeyValues(c.Request.Context(), *task.AppID)
	if err != nil {
		a.log.Warn().Err(err).Int64("task_id", task.ID).Msg("Key values lookup failed")
		return false
	}
	for _, value := range values {
		if value == token {
			return true
		}
	}
	return false
}
