package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
)

// lockCampaign reads a campaign's status under a row lock for the rest of tx.
func lockCampaign(ctx context.Context, tx *sql.Tx, id string) (domain.CampaignStatus, error) {
	var status domain.CampaignStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", campaign.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lock campaign: %w", err)
	}
	return status, nil
}

// QueueRecipients replaces a draft's recipients with a fresh pending set via
// COPY and moves the campaign to queued, all in one transaction.
func (r *CampaignRepo) QueueRecipients(ctx context.Context, id string, recipients []domain.Recipient) error {
	if !validID(id) {
		return campaign.ErrNotFound
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin queue: %w", err)
	}
	defer tx.Rollback()

	status, err := lockCampaign(ctx, tx, id)
	if err != nil {
		return err
	}
	if status != domain.CampaignDraft {
		return fmt.Errorf("%w: cannot queue a %s campaign", campaign.ErrInvalidTransition, status)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_events WHERE campaign_id = $1`, id); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_recipients WHERE campaign_id = $1`, id); err != nil {
		return fmt.Errorf("clear recipients: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(
		"campaign_recipients",
		"id", "campaign_id", "contact_id", "email", "name", "first_name", "last_name",
		"company", "phone", "city", "state", "country", "variables",
		"status", "delivery_status", "created_at",
	))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}

	now := time.Now().UTC()
	for i := range recipients {
		rc := &recipients[i]
		if rc.ID == "" {
			rc.ID = uuid.New().String()
		}
		vars, err := marshalJSON(rc.Variables, "{}")
		if err != nil {
			stmt.Close()
			return fmt.Errorf("encode variables for %s: %w", rc.ID, err)
		}
		var contactID interface{}
		if rc.ContactID != "" {
			contactID = rc.ContactID
		}
		if _, err := stmt.ExecContext(ctx,
			rc.ID, id, contactID, rc.Email, rc.Name, rc.FirstName, rc.LastName,
			rc.Company, rc.Phone, rc.City, rc.State, rc.Country, vars,
			string(domain.RecipientPending), string(domain.DeliveryPending), now,
		); err != nil {
			stmt.Close()
			return fmt.Errorf("copy recipient: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close copy: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'queued', total_recipients = $2, sent_count = 0, failed_count = 0,
		    started_at = NULL, sent_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, len(recipients)); err != nil {
		return fmt.Errorf("mark queued: %w", err)
	}
	return tx.Commit()
}

// ResetFailed returns failed recipients to pending and moves a sent campaign
// back to queued. The failed counter drops by the number of rows reset so
// sent_count + failed_count stays within total_recipients.
func (r *CampaignRepo) ResetFailed(ctx context.Context, id string, recipientIDs []string) (int, error) {
	if !validID(id) {
		return 0, campaign.ErrNotFound
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	status, err := lockCampaign(ctx, tx, id)
	if err != nil {
		return 0, err
	}
	if status != domain.CampaignSent {
		return 0, fmt.Errorf("%w: resend requires a sent campaign, got %s", campaign.ErrInvalidTransition, status)
	}

	q := `
		UPDATE campaign_recipients
		SET status = 'pending', delivery_status = 'pending', failed_at = NULL, error_message = NULL
		WHERE campaign_id = $1 AND status = 'failed'`
	args := []interface{}{id}
	if len(recipientIDs) > 0 {
		q += ` AND id::text = ANY($2)`
		args = append(args, pq.Array(recipientIDs))
	}
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("reset failed recipients: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return 0, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'queued', failed_count = GREATEST(failed_count - $2, 0),
		    sent_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, n); err != nil {
		return 0, fmt.Errorf("requeue campaign: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reset: %w", err)
	}
	return int(n), nil
}
