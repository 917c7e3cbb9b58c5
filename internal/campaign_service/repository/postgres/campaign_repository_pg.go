package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

const campaignColumns = `id, parent_id, channel, kind, template, honorific, vars, recipients, image_ref, status,
	scheduled_at, note, batch_index, batch_total, group_ids, dispatch_key, dispatch_attempts, last_error,
	accepted_count, rejected_recipients, success_count, fail_count, pending_count,
	sent_at, closed_at, created_at, updated_at`

const insertCampaignSQL = `INSERT INTO campaigns (` + campaignColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
		$19, $20, $21, $22, $23, $24, $25, $26, $27)`

type PgCampaignRepository struct {
	db     DBTX
	logger *slog.Logger
	now    func() time.Time
}

var _ domain.CampaignRepository = (*PgCampaignRepository)(nil)

func NewPgCampaignRepository(db DBTX, logger *slog.Logger) *PgCampaignRepository {
	return &PgCampaignRepository{
		db:     db,
		logger: logger.With("component", "campaign_repository_pg"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *PgCampaignRepository) insertArgs(c *domain.Campaign) ([]any, error) {
	vars, err := encodeJSON(c.Vars, "{}")
	if err != nil {
		return nil, fmt.Errorf("encode vars: %w", err)
	}
	recipients, err := encodeJSON(c.Recipients, "[]")
	if err != nil {
		return nil, fmt.Errorf("encode recipients: %w", err)
	}
	rejected, err := encodeJSON(c.RejectedRecipients, "[]")
	if err != nil {
		return nil, fmt.Errorf("encode rejected recipients: %w", err)
	}
	groupIDs := c.GroupIDs
	if groupIDs == nil {
		groupIDs = []string{}
	}
	return []any{
		c.ID, c.ParentID, string(c.Channel), string(c.Kind), c.Template, c.Honorific, vars, recipients, c.ImageRef,
		string(c.Status), c.ScheduledAt, c.Note, c.BatchIndex, c.BatchTotal, groupIDs, c.DispatchKey,
		c.DispatchAttempts, c.LastError, c.AcceptedCount, rejected, c.SuccessCount, c.FailCount,
		c.PendingCount, c.SentAt, c.ClosedAt, c.CreatedAt, c.UpdatedAt,
	}, nil
}

func (r *PgCampaignRepository) Create(ctx context.Context, c *domain.Campaign) error {
	args, err := r.insertArgs(c)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, insertCampaignSQL, args...); err != nil {
		r.logger.ErrorContext(ctx, "Error creating campaign", "error", err, "campaign_id", c.ID)
		return err
	}
	r.logger.InfoContext(ctx, "Campaign created", "campaign_id", c.ID, "recipients", len(c.Recipients))
	return nil
}

// CreateMany inserts all campaigns in one transaction.
func (r *PgCampaignRepository) CreateMany(ctx context.Context, campaigns []*domain.Campaign) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		for _, c := range campaigns {
			args, err := r.insertArgs(c)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, insertCampaignSQL, args...); err != nil {
				return fmt.Errorf("insert campaign %s: %w", c.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating campaigns", "error", err, "count", len(campaigns))
		return err
	}
	r.logger.InfoContext(ctx, "Campaigns created", "count", len(campaigns))
	return nil
}

func scanCampaign(row pgx.Row) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var channel, kind, status string
	var vars, recipients, rejected []byte
	err := row.Scan(
		&c.ID, &c.ParentID, &channel, &kind, &c.Template, &c.Honorific, &vars, &recipients, &c.ImageRef, &status,
		&c.ScheduledAt, &c.Note, &c.BatchIndex, &c.BatchTotal, &c.GroupIDs, &c.DispatchKey, &c.DispatchAttempts,
		&c.LastError, &c.AcceptedCount, &rejected, &c.SuccessCount, &c.FailCount, &c.PendingCount,
		&c.SentAt, &c.ClosedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Channel = domain.Channel(channel)
	c.Kind = domain.MessageKind(kind)
	c.Status = domain.CampaignStatus(status)
	if c.Vars, err = decodeVars(vars); err != nil {
		return nil, err
	}
	if c.Recipients, err = decodeRecipients(recipients); err != nil {
		return nil, err
	}
	if c.RejectedRecipients, err = decodeRejected(rejected); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PgCampaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	c, err := scanCampaign(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting campaign by ID", "error", err, "campaign_id", id)
		return nil, err
	}
	return c, nil
}

func (r *PgCampaignRepository) List(ctx context.Context, filter domain.CampaignFilter) ([]*domain.Campaign, error) {
	var conds []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ParentID.Valid {
		args = append(args, filter.ParentID.UUID)
		conds = append(conds, fmt.Sprintf("parent_id = $%d", len(args)))
	}
	query := `SELECT ` + campaignColumns + ` FROM campaigns`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, batch_index ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing campaigns", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// guardMiss tells a missing row apart from one whose status moved on.
func (r *PgCampaignRepository) guardMiss(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, id uuid.UUID) error {
	var status string
	err := q.QueryRow(ctx, `SELECT status FROM campaigns WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	r.logger.WarnContext(ctx, "Campaign changed underneath write", "campaign_id", id, "status", status)
	return domain.ErrConcurrentModification
}

const updateDraftSQL = `UPDATE campaigns
	SET kind = $1, template = $2, honorific = $3, vars = $4, recipients = $5, image_ref = $6, note = $7,
		batch_index = $8, batch_total = $9, updated_at = $10
	WHERE id = $11 AND status = 'draft'`

func (r *PgCampaignRepository) updateDraftArgs(c *domain.Campaign, now time.Time) ([]any, error) {
	vars, err := encodeJSON(c.Vars, "{}")
	if err != nil {
		return nil, fmt.Errorf("encode vars: %w", err)
	}
	recipients, err := encodeJSON(c.Recipients, "[]")
	if err != nil {
		return nil, fmt.Errorf("encode recipients: %w", err)
	}
	return []any{string(c.Kind), c.Template, c.Honorific, vars, recipients, c.ImageRef, c.Note,
		c.BatchIndex, c.BatchTotal, now, c.ID}, nil
}

// UpdateDraft rewrites the editable content of a draft.
func (r *PgCampaignRepository) UpdateDraft(ctx context.Context, c *domain.Campaign) error {
	now := r.now()
	args, err := r.updateDraftArgs(c, now)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, updateDraftSQL, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating draft", "error", err, "campaign_id", c.ID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.guardMiss(ctx, r.db, c.ID)
	}
	c.UpdatedAt = now
	return nil
}

func (r *PgCampaignRepository) UpdateNote(ctx context.Context, id uuid.UUID, note string) error {
	tag, err := r.db.Exec(ctx, `UPDATE campaigns SET note = $1, updated_at = $2 WHERE id = $3`, note, r.now(), id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating note", "error", err, "campaign_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus moves a campaign from one status to another. Moving to draft
// or scheduled writes scheduledAt as given, so a nil clears it; later
// statuses keep the recorded schedule. Closing stamps closed_at.
func (r *PgCampaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.CampaignStatus, scheduledAt *time.Time) error {
	now := r.now()
	setSchedule := to == domain.StatusDraft || to == domain.StatusScheduled
	var closedAt *time.Time
	if to == domain.StatusClosed {
		closedAt = &now
	}
	query := `UPDATE campaigns
		SET status = $1, scheduled_at = CASE WHEN $2 THEN $3 ELSE scheduled_at END,
			closed_at = COALESCE($4, closed_at), updated_at = $5
		WHERE id = $6 AND status = $7`
	tag, err := r.db.Exec(ctx, query, string(to), setSchedule, scheduledAt, closedAt, now, id, string(from))
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating campaign status", "error", err, "campaign_id", id, "to", to)
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.guardMiss(ctx, r.db, id)
	}
	r.logger.InfoContext(ctx, "Campaign status updated", "campaign_id", id, "from", from, "to", to)
	return nil
}

// SplitDraft shrinks the original to its first chunk and inserts the rest, atomically.
func (r *PgCampaignRepository) SplitDraft(ctx context.Context, original *domain.Campaign, created []*domain.Campaign) error {
	now := r.now()
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		args, err := r.updateDraftArgs(original, now)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, updateDraftSQL, args...)
		if err != nil {
			return fmt.Errorf("update original: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return r.guardMiss(ctx, tx, original.ID)
		}
		for _, c := range created {
			args, err := r.insertArgs(c)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, insertCampaignSQL, args...); err != nil {
				return fmt.Errorf("insert split part %s: %w", c.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Error splitting draft", "error", err, "campaign_id", original.ID)
		return err
	}
	original.UpdatedAt = now
	return nil
}

func (r *PgCampaignRepository) DeleteDraft(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM campaigns WHERE id = $1 AND status = 'draft'`, id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error deleting draft", "error", err, "campaign_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.guardMiss(ctx, r.db, id)
	}
	r.logger.InfoContext(ctx, "Draft deleted", "campaign_id", id)
	return nil
}

// MarkDispatching records the dispatch key before the provider is called.
// It only succeeds while no key is set.
func (r *PgCampaignRepository) MarkDispatching(ctx context.Context, id uuid.UUID, from domain.CampaignStatus, key string) error {
	query := `UPDATE campaigns SET dispatch_key = $1, updated_at = $2
		WHERE id = $3 AND status = $4 AND dispatch_key IS NULL`
	tag, err := r.db.Exec(ctx, query, key, r.now(), id, string(from))
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking campaign dispatching", "error", err, "campaign_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.guardMiss(ctx, r.db, id)
	}
	return nil
}

// RecordDispatchFailure bumps the attempt counter and returns its new value.
func (r *PgCampaignRepository) RecordDispatchFailure(ctx context.Context, id uuid.UUID, reason string) (int, error) {
	query := `UPDATE campaigns SET dispatch_attempts = dispatch_attempts + 1, last_error = $1, updated_at = $2
		WHERE id = $3 RETURNING dispatch_attempts`
	var attempts int
	if err := r.db.QueryRow(ctx, query, reason, r.now(), id).Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error recording dispatch failure", "error", err, "campaign_id", id)
		return 0, err
	}
	return attempts, nil
}

// CommitDispatch marks the campaign sent and registers its delivery groups in
// one transaction. This write is the commit point of a dispatch.
func (r *PgCampaignRepository) CommitDispatch(ctx context.Context, id uuid.UUID, from domain.CampaignStatus, commit domain.DispatchCommit) error {
	rejected, err := encodeJSON(commit.Rejected, "[]")
	if err != nil {
		return fmt.Errorf("encode rejected recipients: %w", err)
	}
	now := r.now()
	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `UPDATE campaigns
			SET status = 'sent', group_ids = $1, accepted_count = $2, rejected_recipients = $3,
				pending_count = $2, sent_at = $4, last_error = NULL, updated_at = $5
			WHERE id = $6 AND status = $7`
		tag, err := tx.Exec(ctx, query, commit.GroupIDs, commit.AcceptedCount, rejected, commit.SentAt, now, id, string(from))
		if err != nil {
			return fmt.Errorf("mark sent: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return r.guardMiss(ctx, tx, id)
		}
		for _, g := range commit.GroupIDs {
			_, err := tx.Exec(ctx, `INSERT INTO delivery_groups (group_id, campaign_id, state, created_at)
				VALUES ($1, $2, 'pending', $3) ON CONFLICT (group_id) DO NOTHING`, g, id, commit.SentAt)
			if err != nil {
				return fmt.Errorf("register group %s: %w", g, err)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Error committing dispatch", "error", err, "campaign_id", id, "group_ids", commit.GroupIDs)
		return err
	}
	r.logger.InfoContext(ctx, "Dispatch committed", "campaign_id", id, "group_ids", commit.GroupIDs)
	return nil
}

// ListDueScheduled returns scheduled campaigns whose time has come, oldest first.
func (r *PgCampaignRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC, batch_index ASC
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing due campaigns", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
