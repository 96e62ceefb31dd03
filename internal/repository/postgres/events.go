package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-mailer/internal/domain"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertEvent(ctx context.Context, ex execer, e domain.Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	meta, err := marshalJSON(e.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}
	var recipientID interface{}
	if e.RecipientID != "" {
		recipientID = e.RecipientID
	}
	if _, err := ex.ExecContext(ctx, `
		INSERT INTO campaign_events (id, campaign_id, recipient_id, event_type, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.CampaignID, recipientID, e.Type, meta, e.CreatedAt); err != nil {
		return fmt.Errorf("insert %s event: %w", e.Type, err)
	}
	return nil
}

// EventRepo records provider-reported delivery events.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event repository.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// ApplyDeliveryEvent appends an event for the recipient that received
// providerMessageID and advances its delivery_status when the event ranks
// higher than the current one. The send status column is never touched.
// Reports false when no recipient carries the message id.
func (r *EventRepo) ApplyDeliveryEvent(ctx context.Context, providerMessageID string, typ domain.EventType, at time.Time, metadata map[string]string) (bool, error) {
	if providerMessageID == "" {
		return false, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delivery event: %w", err)
	}
	defer tx.Rollback()

	var recipientID, campaignID string
	var current domain.DeliveryStatus
	err = tx.QueryRowContext(ctx, `
		SELECT id, campaign_id, delivery_status FROM campaign_recipients
		WHERE provider_message_id = $1
		LIMIT 1
		FOR UPDATE
	`, providerMessageID).Scan(&recipientID, &campaignID, &current)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find recipient by message id: %w", err)
	}

	if err := insertEvent(ctx, tx, domain.Event{
		CampaignID:  campaignID,
		RecipientID: recipientID,
		Type:        typ,
		Metadata:    metadata,
		CreatedAt:   at,
	}); err != nil {
		return false, err
	}

	next := typ.DeliveryStatus()
	if next.Rank() > current.Rank() {
		if _, err := tx.ExecContext(ctx,
			`UPDATE campaign_recipients SET delivery_status = $1 WHERE id = $2`,
			next, recipientID); err != nil {
			return false, fmt.Errorf("update delivery status: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delivery event: %w", err)
	}
	return true, nil
}
