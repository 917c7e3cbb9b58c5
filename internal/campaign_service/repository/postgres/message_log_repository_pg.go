package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

type PgMessageLogRepository struct {
	db     DBTX
	logger *slog.Logger
}

var _ domain.MessageLogRepository = (*PgMessageLogRepository)(nil)

func NewPgMessageLogRepository(db DBTX, logger *slog.Logger) *PgMessageLogRepository {
	return &PgMessageLogRepository{db: db, logger: logger.With("component", "message_log_repository_pg")}
}

// RecordSent logs one row per phone. Replays of the same campaign are no-ops.
func (r *PgMessageLogRepository) RecordSent(ctx context.Context, campaignID uuid.UUID, channel domain.Channel, phones []domain.NormalizedPhone, sentAt time.Time) error {
	if len(phones) == 0 {
		return nil
	}
	numbers := make([]string, len(phones))
	for i, p := range phones {
		numbers[i] = string(p)
	}
	query := `INSERT INTO message_logs (content_id, customer_phone, channel, sent_at)
		SELECT $1, phone, $3, $4 FROM unnest($2::text[]) AS phone
		ON CONFLICT DO NOTHING`
	tag, err := r.db.Exec(ctx, query, campaignID, numbers, string(channel), sentAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error recording message logs", "error", err, "campaign_id", campaignID)
		return err
	}
	r.logger.DebugContext(ctx, "Message logs recorded", "campaign_id", campaignID, "rows", tag.RowsAffected())
	return nil
}
