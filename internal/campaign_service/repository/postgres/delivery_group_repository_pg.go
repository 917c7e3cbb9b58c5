package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

const groupColumns = `group_id, campaign_id, state, success, fail, pending, last_synced_at, created_at`

type PgDeliveryGroupRepository struct {
	db     DBTX
	logger *slog.Logger
	now    func() time.Time
}

var _ domain.DeliveryGroupRepository = (*PgDeliveryGroupRepository)(nil)

func NewPgDeliveryGroupRepository(db DBTX, logger *slog.Logger) *PgDeliveryGroupRepository {
	return &PgDeliveryGroupRepository{
		db:     db,
		logger: logger.With("component", "delivery_group_repository_pg"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func scanGroups(rows pgx.Rows) ([]*domain.DeliveryGroup, error) {
	defer rows.Close()
	var out []*domain.DeliveryGroup
	for rows.Next() {
		g := &domain.DeliveryGroup{}
		var state string
		if err := rows.Scan(&g.GroupID, &g.CampaignID, &state, &g.Success, &g.Fail, &g.Pending, &g.LastSyncedAt, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.State = domain.GroupState(state)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *PgDeliveryGroupRepository) FindCampaignIDByGroup(ctx context.Context, groupID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT campaign_id FROM delivery_groups WHERE group_id = $1`, groupID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error looking up delivery group", "error", err, "group_id", groupID)
		return uuid.Nil, err
	}
	return id, nil
}

func (r *PgDeliveryGroupRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*domain.DeliveryGroup, error) {
	rows, err := r.db.Query(ctx, `SELECT `+groupColumns+` FROM delivery_groups WHERE campaign_id = $1 ORDER BY created_at, group_id`, campaignID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing delivery groups", "error", err, "campaign_id", campaignID)
		return nil, err
	}
	return scanGroups(rows)
}

// ApplyGroupUpdate stores the latest counters of one group and recomputes
// the campaign totals under the campaign row lock. A resolved group never
// goes back to pending.
func (r *PgDeliveryGroupRepository) ApplyGroupUpdate(ctx context.Context, g *domain.DeliveryGroup) (*domain.GroupRollup, error) {
	rollup := &domain.GroupRollup{CampaignID: g.CampaignID}
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var locked uuid.UUID
		if err := tx.QueryRow(ctx, `SELECT id FROM campaigns WHERE id = $1 FOR UPDATE`, g.CampaignID).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}

		update := `UPDATE delivery_groups
			SET state = CASE WHEN state = 'resolved' AND $1 = 'pending' THEN state ELSE $1 END,
				success = $2, fail = $3, pending = $4, last_synced_at = $5
			WHERE group_id = $6 AND campaign_id = $7`
		tag, err := tx.Exec(ctx, update, string(g.State), g.Success, g.Fail, g.Pending, g.LastSyncedAt, g.GroupID, g.CampaignID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}

		totals := `SELECT COALESCE(sum(success), 0), COALESCE(sum(fail), 0), COALESCE(sum(pending), 0),
				count(*), count(*) FILTER (WHERE state = 'resolved'), COALESCE(bool_and(state <> 'pending'), false)
			FROM delivery_groups WHERE campaign_id = $1`
		if err := tx.QueryRow(ctx, totals, g.CampaignID).Scan(
			&rollup.Success, &rollup.Fail, &rollup.Pending, &rollup.Groups, &rollup.Resolved, &rollup.AllFinal,
		); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `UPDATE campaigns SET success_count = $1, fail_count = $2, pending_count = $3, updated_at = $4 WHERE id = $5`,
			rollup.Success, rollup.Fail, rollup.Pending, r.now(), g.CampaignID)
		return err
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.ErrorContext(ctx, "Error applying delivery group update", "error", err,
				"group_id", g.GroupID, "campaign_id", g.CampaignID)
		}
		return nil, err
	}
	return rollup, nil
}

// ListPending returns the oldest groups still waiting for a final status.
func (r *PgDeliveryGroupRepository) ListPending(ctx context.Context, limit int) ([]*domain.DeliveryGroup, error) {
	rows, err := r.db.Query(ctx, `SELECT `+groupColumns+` FROM delivery_groups WHERE state = 'pending' ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing pending delivery groups", "error", err)
		return nil, err
	}
	return scanGroups(rows)
}
