package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

// PgCustomerSource reads the customer store. Phones there are entered by
// hand and normalized on the way out; unusable ones drop out of the sets.
type PgCustomerSource struct {
	db     DBTX
	logger *slog.Logger
}

var _ domain.CustomerSource = (*PgCustomerSource)(nil)

func NewPgCustomerSource(db DBTX, logger *slog.Logger) *PgCustomerSource {
	return &PgCustomerSource{db: db, logger: logger.With("component", "customer_source_pg")}
}

func (s *PgCustomerSource) ListCandidates(ctx context.Context, filter domain.CandidateFilter) ([]domain.Recipient, error) {
	var conds []string
	var args []any
	if len(filter.Tags) > 0 {
		args = append(args, filter.Tags)
		conds = append(conds, fmt.Sprintf("tags && $%d::text[]", len(args)))
	}
	if filter.Province != "" {
		args = append(args, filter.Province)
		conds = append(conds, fmt.Sprintf("province = $%d", len(args)))
	}
	query := `SELECT name, phone, province FROM customers`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing candidates", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var name, phone, province string
		if err := rows.Scan(&name, &phone, &province); err != nil {
			return nil, err
		}
		r := domain.Recipient{Phone: phone, Name: name}
		if province != "" {
			r.Fields = map[string]string{"province": province}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "Candidates loaded", "count", len(out))
	return out, nil
}

func (s *PgCustomerSource) queryPhones(ctx context.Context, what, query string, args ...any) ([]domain.NormalizedPhone, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error loading phones", "set", what, "error", err)
		return nil, fmt.Errorf("load %s: %w", what, err)
	}
	defer rows.Close()

	var raw []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		raw = append(raw, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", what, err)
	}
	return domain.NormalizeAll(raw), nil
}

// ListAlreadyContacted returns phones logged on channel for the given
// campaigns, or for any campaign when ids is empty.
func (s *PgCustomerSource) ListAlreadyContacted(ctx context.Context, channel domain.Channel, campaignIDs []string) ([]domain.NormalizedPhone, error) {
	if len(campaignIDs) == 0 {
		return s.queryPhones(ctx, "already contacted",
			`SELECT DISTINCT customer_phone FROM message_logs WHERE channel = $1`, string(channel))
	}
	return s.queryPhones(ctx, "already contacted",
		`SELECT DISTINCT customer_phone FROM message_logs WHERE channel = $1 AND content_id::text = ANY($2::text[])`,
		string(channel), campaignIDs)
}

func (s *PgCustomerSource) ListSurveyRespondents(ctx context.Context) ([]domain.NormalizedPhone, error) {
	return s.queryPhones(ctx, "survey respondents", `SELECT DISTINCT phone FROM survey_responses`)
}

func (s *PgCustomerSource) ListChannelFriends(ctx context.Context, channel domain.Channel) ([]domain.NormalizedPhone, error) {
	return s.queryPhones(ctx, "channel friends", `SELECT phone FROM channel_friends WHERE channel = $1`, string(channel))
}

func (s *PgCustomerSource) ListOptedOut(ctx context.Context) ([]domain.NormalizedPhone, error) {
	return s.queryPhones(ctx, "opted out", `SELECT phone FROM customers WHERE opt_out`)
}
