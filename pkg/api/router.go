// Package api exposes the HTTP ingress: enqueue a task, read its status,
// and re-push an existing task onto the notification channel. The handlers
// only ever touch the store through the TaskStore interface so tests can
// substitute fakes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ntorque/ntorque/pkg/config"
	"github.com/ntorque/ntorque/pkg/logger"
	"github.com/ntorque/ntorque/pkg/model"
	"github.com/ntorque/ntorque/pkg/notify"
	"github.com/ntorque/ntorque/pkg/store"
)

// TaskStore is the slice of the store the ingress consumes.
type TaskStore interface {
	CreateTask(ctx context.Context, nt store.NewTask) (*model.Task, error)
	LookupTask(ctx context.Context, id int64) (*model.Task, error)
	LookupApplication(ctx context.Context, token string) (*model.Application, error)
	GetActiveKeyValues(ctx context.Context, appID int64) ([]string, error)
}

// Notifier pushes instructions onto the notification channel.
type Notifier interface {
	Push(ctx context.Context, channel string, instruction notify.Instruction) error
}

// API wires the ingress handlers to their collaborators.
type API struct {
	cfg      *config.Config
	store    TaskStore
	notifier Notifier
	log      zerolog.Logger
}

// New builds the API.
func New(cfg *config.Config, st TaskStore, notifier Notifier) *API {
	return &API{
		cfg:      cfg,
		store:    st,
		notifier: notifier,
		log:      logger.Component("api"),
	}
}

// Router returns the configured gin engine.
func (a *API) Router() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), a.requestLogger())
	if a.cfg.Authenticate {
		r.Use(a.authenticate())
	}

	r.GET("/", a.installed)
	r.POST("/", a.enqueue)
	r.GET("/tasks/:id", a.taskStatus)
	r.POST("/tasks/:id/push", a.pushTask)
	return r
}

// requestLogger tags every request with an id and logs its outcome.
func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.New().String()
		c.Set("request_id", requestID)
		start := time.Now()

		c.Next()

		a.log.Info().
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request")
	}
}

func (a *API) installed(c *gin.Context) {
	c.String(http.StatusOK, "nTorque installed and reporting for duty, sir!")
}
