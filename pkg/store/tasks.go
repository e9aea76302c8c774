package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ntorque/ntorque/pkg/model"
)

const taskColumns = `id, created, modified, version, app_id, retry_count,
	timeout, due, status, url, charset, enctype, headers, body, method`

// NewTask carries the validated attributes of a task to be created.
// Empty Charset, Enctype and Method fall back to their defaults.
type NewTask struct {
	AppID   *int64
	URL     string
	Timeout int
	Method  string
	Body    string
	Charset string
	Enctype string
	Headers map[string]string
}

// CreateTask persists a task with retry_count zero and a due instant
// computed by the policy. The row is durable once this returns; the caller
// is responsible for pushing the notification afterwards.
func (s *Store) CreateTask(ctx context.Context, nt NewTask) (*model.Task, error) {
	if nt.Charset == "" {
		nt.Charset = model.DefaultCharset
	}
	if nt.Enctype == "" {
		nt.Enctype = model.DefaultEnctype
	}
	if nt.Method == "" {
		nt.Method = model.DefaultMethod
	}
	if nt.Headers == nil {
		nt.Headers = map[string]string{}
	}
	headers, err := json.Marshal(nt.Headers)
	if err != nil {
		return nil, fmt.Errorf("store: encode headers: %w", err)
	}

	due := s.policy.Due(nt.Timeout, 0)
	status := s.policy.Status(0)

	var task model.Task
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &task, `
			INSERT INTO ntorque_tasks
				(app_id, retry_count, timeout, due, status, url,
				 charset, enctype, headers, body, method)
			VALUES ($1, 0, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING `+taskColumns,
			nt.AppID, nt.Timeout, due, status, nt.URL,
			nt.Charset, nt.Enctype, string(headers), nt.Body, nt.Method)
		if err != nil {
			return fmt.Errorf("store: insert task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// LookupTask returns the task with the given id, or ErrNotFound.
func (s *Store) LookupTask(ctx context.Context, id int64) (*model.Task, error) {
	var task model.Task
	err := s.db.GetContext(ctx, &task, `
		SELECT `+taskColumns+` FROM ntorque_tasks WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup task: %w", err)
	}
	return &task, nil
}

// GetDueTasks returns pending tasks whose due instant has passed, in id
// order, paged by limit and offset.
func (s *Store) GetDueTasks(ctx context.Context, limit, offset int) ([]model.Task, error) {
	var tasks []model.Task
	err := s.db.SelectContext(ctx, &tasks, `
		SELECT `+taskColumns+` FROM ntorque_tasks
		WHERE status = $1 AND due < now()
		ORDER BY id
		LIMIT $2 OFFSET $3`, model.StatusPending, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: due tasks: %w", err)
	}
	return tasks, nil
}

// DeleteTasksOlderThan bulk-deletes tasks whose modified instant is older
// than the given age, returning the number of rows removed.
func (s *Store) DeleteTasksOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM ntorque_tasks WHERE modified < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: delete old tasks: %w", err)
	}
	return res.RowsAffected()
}

// Claim transactionally acquires the task identified by (id, retry_count),
// advancing its retry count and recomputing due and status, and returns a
// snapshot of the row after the update. If the row has already moved on,
// because another worker claimed it first or the id is unknown, it
// returns ErrNotFound without side effect. This is the idempotency point
// for duplicate notifications.
func (s *Store) Claim(ctx context.Context, id int64, retryCount int) (*model.Task, error) {
	var task model.Task
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var current model.Task
		err := tx.GetContext(ctx, &current, `
			SELECT `+taskColumns+` FROM ntorque_tasks
			WHERE id = $1 AND retry_count = $2`, id, retryCount)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("store: claim select: %w", err)
		}

		next := retryCount + 1
		due := s.policy.Due(current.Timeout, next)
		status := s.policy.Status(next)

		// The retry_count predicate, not a row lock, serialises
		// concurrent claims: exactly one update matches.
		err = tx.GetContext(ctx, &task, `
			UPDATE ntorque_tasks
			SET retry_count = $3, due = $4, status = $5,
			    modified = now(), version = version + 1
			WHERE id = $1 AND retry_count = $2
			RETURNING `+taskColumns,
			id, retryCount, next, due, status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("store: claim update: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// update applies a guarded update to the claimed row: it only matches
// while retry_count still equals the snapshot's value, so a worker that
// lost the row cannot overwrite a later attempt's state.
func (s *Store) update(ctx context.Context, task *model.Task, due time.Time, status model.Status) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE ntorque_tasks
			SET due = $3, status = $4, modified = now(),
			    version = version + 1
			WHERE id = $1 AND retry_count = $2`,
			task.ID, task.RetryCount, due, status)
		if err != nil {
			return fmt.Errorf("store: update task: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Reschedule accelerates the claimed task's next attempt: due is
// recomputed with a zero timeout and status follows the retry budget.
func (s *Store) Reschedule(ctx context.Context, task *model.Task) (model.Status, error) {
	status := s.policy.Status(task.RetryCount)
	if err := s.update(ctx, task, s.policy.Due(0, task.RetryCount), status); err != nil {
		return "", err
	}
	return status, nil
}

// Complete marks the claimed task COMPLETED.
func (s *Store) Complete(ctx context.Context, task *model.Task) (model.Status, error) {
	due := s.policy.Due(task.Timeout, task.RetryCount)
	if err := s.update(ctx, task, due, model.StatusCompleted); err != nil {
		return "", err
	}
	return model.StatusCompleted, nil
}

// Fail marks the claimed task FAILED.
func (s *Store) Fail(ctx context.Context, task *model.Task) (model.Status, error) {
	due := s.policy.Due(task.Timeout, task.RetryCount)
	if err := s.update(ctx, task, due, model.StatusFailed); err != nil {
		return "", err
	}
	return model.StatusFailed, nil
}
