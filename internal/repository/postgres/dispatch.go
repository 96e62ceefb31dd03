package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/campaign-mailer/internal/dispatch"
	"github.com/ignite/campaign-mailer/internal/domain"
)

// DispatchStore implements dispatch.Store. Every recipient write is guarded
// on status = 'pending' and shares a transaction with its event row and the
// campaign counter it contributes to.
type DispatchStore struct{ db *sql.DB }

const (
	countSent   = `UPDATE campaigns SET sent_count = sent_count + 1, updated_at = NOW() WHERE id = $1`
	countFailed = `UPDATE campaigns SET failed_count = failed_count + 1, updated_at = NOW() WHERE id = $1`
)

// NewDispatchStore creates a Postgres-backed dispatch store.
func NewDispatchStore(db *sql.DB) *DispatchStore { return &DispatchStore{db: db} }

func (s *DispatchStore) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	if !validID(id) {
		return nil, dispatch.ErrCampaignNotFound
	}
	c, err := scanCampaign(s.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, dispatch.ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (s *DispatchStore) MarkSending(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'sending', started_at = COALESCE(started_at, $2), updated_at = NOW()
		WHERE id = $1 AND status IN ('queued','sending')
	`, id, at)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *DispatchStore) CountPending(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = $1 AND status = 'pending'`,
		campaignID).Scan(&n)
	return n, err
}

func (s *DispatchStore) ListPending(ctx context.Context, campaignID string, limit int) ([]domain.Recipient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recipientColumns+`
		FROM campaign_recipients
		WHERE campaign_id = $1 AND status = 'pending'
		ORDER BY created_at, id
		LIMIT $2
	`, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *DispatchStore) RecordSent(ctx context.Context, r *domain.Recipient, providerMessageID string, at time.Time) (bool, error) {
	return s.record(ctx, r, domain.Event{
		CampaignID:  r.CampaignID,
		RecipientID: r.ID,
		Type:        domain.EventSent,
		Metadata:    map[string]string{"provider_message_id": providerMessageID},
		CreatedAt:   at,
	}, countSent, `
		UPDATE campaign_recipients
		SET status = 'sent', delivery_status = 'sent', sent_at = $2, provider_message_id = NULLIF($3, '')
		WHERE id = $1 AND status = 'pending'
	`, r.ID, at, providerMessageID)
}

func (s *DispatchStore) RecordFailed(ctx context.Context, r *domain.Recipient, kind, message string, at time.Time) (bool, error) {
	return s.record(ctx, r, domain.Event{
		CampaignID:  r.CampaignID,
		RecipientID: r.ID,
		Type:        domain.EventFailed,
		Metadata:    map[string]string{"kind": kind, "error": message},
		CreatedAt:   at,
	}, countFailed, `
		UPDATE campaign_recipients
		SET status = 'failed', delivery_status = 'failed', failed_at = $2, error_message = $3
		WHERE id = $1 AND status = 'pending'
	`, r.ID, at, message)
}

func (s *DispatchStore) record(ctx context.Context, r *domain.Recipient, ev domain.Event, count, update string, args ...interface{}) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, update, args...)
	if err != nil {
		return false, fmt.Errorf("update recipient %s: %w", r.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	if err := insertEvent(ctx, tx, ev); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, count, r.CampaignID); err != nil {
		return false, fmt.Errorf("count recipient %s: %w", r.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit recipient %s: %w", r.ID, err)
	}
	return true, nil
}

func (s *DispatchStore) Counters(ctx context.Context, campaignID string) (dispatch.Counters, error) {
	var c dispatch.Counters
	err := s.db.QueryRowContext(ctx,
		`SELECT total_recipients, sent_count, failed_count FROM campaigns WHERE id = $1`,
		campaignID).Scan(&c.Total, &c.Sent, &c.Failed)
	if err == sql.ErrNoRows {
		return c, dispatch.ErrCampaignNotFound
	}
	return c, err
}

func (s *DispatchStore) Finalize(ctx context.Context, campaignID string, status domain.CampaignStatus, at time.Time) (bool, error) {
	var sentAt *time.Time
	if status == domain.CampaignSent {
		sentAt = &at
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, sent_at = COALESCE($3, sent_at), updated_at = NOW()
		WHERE id = $1 AND status = 'sending'
	`, campaignID, status, sentAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DueCampaignIDs returns queued campaigns whose schedule has arrived, oldest
// first.
func (s *DispatchStore) DueCampaignIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return s.ids(ctx, `
		SELECT id FROM campaigns
		WHERE status = 'queued' AND (scheduled_at IS NULL OR scheduled_at <= $1)
		ORDER BY COALESCE(scheduled_at, created_at)
		LIMIT $2
	`, now, limit)
}

// SendingCampaignIDs returns campaigns with a dispatch still in flight,
// least recently touched first.
func (s *DispatchStore) SendingCampaignIDs(ctx context.Context, limit int) ([]string, error) {
	return s.ids(ctx, `
		SELECT id FROM campaigns WHERE status = 'sending' ORDER BY updated_at LIMIT $1
	`, limit)
}

func (s *DispatchStore) ids(ctx context.Context, q string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
