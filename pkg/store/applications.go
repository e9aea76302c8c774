package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ntorque/ntorque/pkg/model"
)

const appColumns = `id, created, modified, version, is_active, is_deleted,
	activated, deactivated, deleted, undeleted, name`

const keyColumns = `id, created, modified, version, is_active, is_deleted,
	activated, deactivated, deleted, undeleted, app_id, value`

// CreateApplication creates a named application and auto-issues one active
// api key for it, in a single transaction.
func (s *Store) CreateApplication(ctx context.Context, name string) (*model.Application, error) {
	var app model.Application
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &app, `
			INSERT INTO ntorque_applications (name, activated)
			VALUES ($1, now())
			RETURNING `+appColumns, name)
		if err != nil {
			return fmt.Errorf("store: insert application: %w", err)
		}

		var key model.APIKey
		err = tx.GetContext(ctx, &key, `
			INSERT INTO ntorque_api_keys (app_id, value, activated)
			VALUES ($1, $2, now())
			RETURNING `+keyColumns, app.ID, model.GenerateAPIKey())
		if err != nil {
			return fmt.Errorf("store: insert api key: %w", err)
		}
		app.APIKeys = []model.APIKey{key}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// LookupApplication returns the active application owning an active key
// whose value equals token, or ErrNotFound.
func (s *Store) LookupApplication(ctx context.Context, token string) (*model.Application, error) {
	var app model.Application
	err := s.db.GetContext(ctx, &app, `
		SELECT a.id, a.created, a.modified, a.version, a.is_active,
		       a.is_deleted, a.activated, a.deactivated, a.deleted,
		       a.undeleted, a.name
		FROM ntorque_applications a
		JOIN ntorque_api_keys k ON k.app_id = a.id
		WHERE a.is_active AND NOT a.is_deleted
		  AND k.is_active AND NOT k.is_deleted
		  AND k.value = $1
		LIMIT 1`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup application: %w", err)
	}
	return &app, nil
}

// GetActiveKeyValues returns the token values of the application's
// currently active api keys.
func (s *Store) GetActiveKeyValues(ctx context.Context, appID int64) ([]string, error) {
	var values []string
	err := s.db.SelectContext(ctx, &values, `
		SELECT value FROM ntorque_api_keys
		WHERE app_id = $1 AND is_active AND NOT is_deleted
		ORDER BY id`, appID)
	if err != nil {
		return nil, fmt.Errorf("store: active key values: %w", err)
	}
	return values, nil
}
