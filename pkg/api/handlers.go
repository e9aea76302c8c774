package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ntorque/ntorque/pkg/model"
	"github.com/ntorque/ntorque/pkg/notify"
	"github.com/ntorque/ntorque/pkg/store"
)

// lookupTask resolves the :id path parameter, writing the appropriate
// error response on failure.
func (a *API) lookupTask(c *gin.Context) *model.Task {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.String(http.StatusNotFound, "No such task.")
		return nil
	}
	task, err := a.store.LookupTask(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.String(http.StatusNotFound, "No such task.")
		} else {
			a.log.Error().Err(err).Int64("task_id", id).Msg("Task lookup failed")
			c.String(http.StatusInternalServerError, "Could not load the task.")
		}
		return nil
	}
	if !a.authorizeTask(c, task) {
		c.String(http.StatusForbidden, "You are not authorised to access this task.")
		return nil
	}
	return task
}

// taskStatus implements GET /tasks/:id.
func (a *API) taskStatus(c *gin.Context) {
	task := a.lookupTask(c)
	if task == nil {
		return
	}
	c.JSON(http.StatusOK, task.PublicStatus())
}

// pushTask implements POST /tasks/:id/push: emit a fresh notification for
// an existing task, carrying its current retry count. Used by clients that
// created the task row out-of-band.
func (a *API) pushTask(c *gin.Context) {
	task := a.lookupTask(c)
	if task == nil {
		return
	}

	instruction := notify.Instruction{TaskID: task.ID, RetryCount: task.RetryCount}
	err := a.notifier.Push(c.Request.Context(), a.cfg.RedisChannel, instruction)
	if err != nil {
		a.log.Error().Err(err).Int64("task_id", task.ID).Msg("Notification push failed")
		c.String(http.StatusInternalServerError, "Could not push the task.")
		return
	}

	c.Header("Location", fmt.Sprintf("/tasks/%d", task.ID))
	c.String(http.StatusCreated, "")
}
