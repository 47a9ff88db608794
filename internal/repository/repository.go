package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
)

type Repos struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Repos { return &Repos{db: db} }

// ListPanels returns every panel's resolution metadata.
func (r *Repos) ListPanels(ctx context.Context) ([]domain.Panel, error) {
	var out []domain.Panel
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, name, gateway_id, group_id, position_index, gain, offset_value, multiplier, panel_type
		FROM panels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list panels: %w", err)
	}
	return out, nil
}

// PanelsForEnterprise resolves an enterprise to the panels of all its groups.
func (r *Repos) PanelsForEnterprise(ctx context.Context, enterpriseID int64) ([]domain.PanelSubscription, error) {
	var out []domain.PanelSubscription
	err := r.db.SelectContext(ctx, &out, `
		SELECT p.id AS panel_id, p.gateway_id
		FROM panels p
		JOIN groups g ON g.id = p.group_id
		WHERE g.enterprise_id = $1
		ORDER BY p.id`, enterpriseID)
	if err != nil {
		return nil, fmt.Errorf("panels for enterprise %d: %w", enterpriseID, err)
	}
	return out, nil
}
