package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// SettingsRepo serves account-wide template defaults. Non-empty rows in
// account_settings override the configured fallback values.
type SettingsRepo struct {
	db       *sql.DB
	fallback map[string]string
}

// NewSettingsRepo creates a settings repository with config-file fallbacks.
func NewSettingsRepo(db *sql.DB, fallback map[string]string) *SettingsRepo {
	return &SettingsRepo{db: db, fallback: fallback}
}

// Defaults implements dispatch.DefaultsSource.
func (r *SettingsRepo) Defaults(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(r.fallback))
	for k, v := range r.fallback {
		out[k] = v
	}

	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM account_settings`)
	if err != nil {
		return nil, fmt.Errorf("load account settings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan account setting: %w", err)
		}
		if v != "" {
			out[k] = v
		}
	}
	return out, rows.Err()
}
