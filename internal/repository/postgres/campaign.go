package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
)

const campaignColumns = `id, name, subject, html_body, text_body, from_name, from_email, reply_to,
	audience, attachments, status, scheduled_at, total_recipients, sent_count, failed_count,
	started_at, sent_at, created_at, updated_at`

const recipientColumns = `id, campaign_id, COALESCE(contact_id,''), email, name, first_name, last_name,
	company, phone, city, state, country, variables, status, delivery_status,
	sent_at, failed_at, COALESCE(error_message,''), COALESCE(provider_message_id,''), created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(s rowScanner) (*domain.Campaign, error) {
	var c domain.Campaign
	var audience, attachments []byte
	if err := s.Scan(
		&c.ID, &c.Name, &c.Subject, &c.HTMLBody, &c.TextBody, &c.FromName, &c.FromEmail, &c.ReplyTo,
		&audience, &attachments, &c.Status, &c.ScheduledAt, &c.TotalRecipients, &c.SentCount, &c.FailedCount,
		&c.StartedAt, &c.SentAt, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(audience) > 0 {
		if err := json.Unmarshal(audience, &c.Audience); err != nil {
			return nil, fmt.Errorf("decode audience: %w", err)
		}
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &c.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
	}
	return &c, nil
}

func scanRecipient(s rowScanner) (*domain.Recipient, error) {
	var r domain.Recipient
	var vars []byte
	if err := s.Scan(
		&r.ID, &r.CampaignID, &r.ContactID, &r.Email, &r.Name, &r.FirstName, &r.LastName,
		&r.Company, &r.Phone, &r.City, &r.State, &r.Country, &vars, &r.Status, &r.DeliveryStatus,
		&r.SentAt, &r.FailedAt, &r.ErrorMessage, &r.ProviderMessageID, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &r.Variables); err != nil {
			return nil, fmt.Errorf("decode variables: %w", err)
		}
	}
	return &r, nil
}

func marshalJSON(v interface{}, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

// validID reports whether id can be compared against a UUID column without
// Postgres raising a cast error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	if !validID(id) {
		return nil, campaign.ErrNotFound
	}
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := []string{"1=1"}
	args := []interface{}{}
	idx := 1
	nextArg := func(v interface{}) string {
		args = append(args, v)
		p := fmt.Sprintf("$%d", idx)
		idx++
		return p
	}
	if f.Status != "" {
		where = append(where, "status = "+nextArg(f.Status))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		p := nextArg("%" + s + "%")
		where = append(where, fmt.Sprintf("(name ILIKE %s OR subject ILIKE %s)", p, p))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM campaigns WHERE %s ORDER BY created_at DESC LIMIT %s OFFSET %s`,
		campaignColumns, cond, nextArg(limit), nextArg(f.Offset))
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	out := []domain.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = domain.CampaignDraft
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
		c.UpdatedAt = c.CreatedAt
	}
	audience, err := marshalJSON(c.Audience, "{}")
	if err != nil {
		return fmt.Errorf("encode audience: %w", err)
	}
	attachments, err := marshalJSON(c.Attachments, "[]")
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, name, subject, html_body, text_body, from_name, from_email, reply_to,
			 audience, attachments, status, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, c.ID, c.Name, c.Subject, c.HTMLBody, c.TextBody, c.FromName, c.FromEmail, c.ReplyTo,
		audience, attachments, c.Status, c.ScheduledAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) Update(ctx context.Context, c *domain.Campaign) error {
	if !validID(c.ID) {
		return campaign.ErrNotFound
	}
	audience, err := marshalJSON(c.Audience, "{}")
	if err != nil {
		return fmt.Errorf("encode audience: %w", err)
	}
	attachments, err := marshalJSON(c.Attachments, "[]")
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET name = $1, subject = $2, html_body = $3, text_body = $4, from_name = $5,
		    from_email = $6, reply_to = $7, audience = $8, attachments = $9,
		    scheduled_at = $10, updated_at = NOW()
		WHERE id = $11 AND status = 'draft'
	`, c.Name, c.Subject, c.HTMLBody, c.TextBody, c.FromName, c.FromEmail, c.ReplyTo,
		audience, attachments, c.ScheduledAt, c.ID)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return r.missingOr(ctx, c.ID, campaign.ErrInvalidTransition)
	}
	return nil
}

func (r *CampaignRepo) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return campaign.ErrNotFound
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM campaigns WHERE id = $1 AND status IN ('draft','canceled')`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return r.missingOr(ctx, id, campaign.ErrInvalidTransition)
	}
	return nil
}

func (r *CampaignRepo) TransitionStatus(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) error {
	if !validID(id) {
		return campaign.ErrNotFound
	}
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
	`, to, id, pq.Array(allowed))
	if err != nil {
		return fmt.Errorf("transition campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return r.missingOr(ctx, id, campaign.ErrInvalidTransition)
	}
	return nil
}

// missingOr distinguishes a missing campaign from a guarded update that
// matched no row.
func (r *CampaignRepo) missingOr(ctx context.Context, id string, guardErr error) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM campaigns WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check campaign: %w", err)
	}
	if !exists {
		return campaign.ErrNotFound
	}
	return guardErr
}

func (r *CampaignRepo) ListRecipients(ctx context.Context, id string, f campaign.RecipientFilter) ([]domain.Recipient, int, error) {
	if !validID(id) {
		return nil, 0, campaign.ErrNotFound
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	cond := "campaign_id = $1"
	args := []interface{}{id}
	if f.Status != "" {
		cond += " AND status = $2"
		args = append(args, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_recipients WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count recipients: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM campaign_recipients WHERE %s ORDER BY created_at, id LIMIT $%d OFFSET $%d`,
		recipientColumns, cond, len(args)+1, len(args)+2)
	args = append(args, limit, f.Offset)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	out := []domain.Recipient{}
	for rows.Next() {
		rc, err := scanRecipient(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, *rc)
	}
	return out, total, rows.Err()
}

func (r *CampaignRepo) Stats(ctx context.Context, id string) (*campaign.Stats, error) {
	if !validID(id) {
		return nil, campaign.ErrNotFound
	}
	st := &campaign.Stats{
		CampaignID: id,
		Delivery:   map[string]int{},
		Events:     map[string]int{},
	}
	err := r.db.QueryRowContext(ctx, `
		SELECT status, total_recipients, started_at, sent_at FROM campaigns WHERE id = $1
	`, id).Scan(&st.Status, &st.TotalRecipients, &st.StartedAt, &st.SentAt)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("campaign stats: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT status, delivery_status, COUNT(*)
		FROM campaign_recipients WHERE campaign_id = $1
		GROUP BY status, delivery_status
	`, id)
	if err != nil {
		return nil, fmt.Errorf("recipient stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status, delivery string
		var n int
		if err := rows.Scan(&status, &delivery, &n); err != nil {
			return nil, fmt.Errorf("scan recipient stats: %w", err)
		}
		switch domain.RecipientStatus(status) {
		case domain.RecipientPending:
			st.Pending += n
		case domain.RecipientSent:
			st.Sent += n
		case domain.RecipientFailed:
			st.Failed += n
		}
		st.Delivery[delivery] += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	evRows, err := r.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*) FROM campaign_events WHERE campaign_id = $1 GROUP BY event_type
	`, id)
	if err != nil {
		return nil, fmt.Errorf("event stats: %w", err)
	}
	defer evRows.Close()
	for evRows.Next() {
		var typ string
		var n int
		if err := evRows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan event stats: %w", err)
		}
		st.Events[typ] = n
	}
	return st, evRows.Err()
}
