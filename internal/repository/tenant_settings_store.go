package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sawafleet/collection-reconciler/internal/models"
)

// PostgresTenantSettingsStore reads per-tenant tuning overrides.
type PostgresTenantSettingsStore struct {
	db *sql.DB
}

func NewPostgresTenantSettingsStore(db *sql.DB) *PostgresTenantSettingsStore {
	return &PostgresTenantSettingsStore{db: db}
}

func (s *PostgresTenantSettingsStore) Get(ctx context.Context, tenantID string) (*models.TenantSettings, error) {
	var (
		accept sql.NullFloat64
		margin sql.NullFloat64
		before sql.NullInt64
		after  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT accept_threshold, ambiguity_margin, window_before_minutes, window_after_minutes
		FROM tenant_settings WHERE tenant_id = $1
	`, tenantID).Scan(&accept, &margin, &before, &after)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant settings %s: %w", tenantID, err)
	}

	settings := &models.TenantSettings{TenantID: tenantID}
	if accept.Valid {
		settings.AcceptThreshold = &accept.Float64
	}
	if margin.Valid {
		settings.AmbiguityMargin = &margin.Float64
	}
	if before.Valid {
		d := time.Duration(before.Int64) * time.Minute
		settings.WindowBefore = &d
	}
	if after.Valid {
		d := time.Duration(after.Int64) * time.Minute
		settings.WindowAfter = &d
	}
	return settings, nil
}
