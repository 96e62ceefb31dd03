package campaign

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

// Service implements campaign business logic on top of a Repository.
// All public methods are safe for concurrent use if the repository is.
type Service struct {
	repo     Repository
	resolver Resolver
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a campaign service.
func NewService(repo Repository, resolver Resolver) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{
		repo:     repo,
		resolver: resolver,
		validate: v,
		now:      time.Now,
	}
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name        string              `json:"name" validate:"required,max=200"`
	Subject     string              `json:"subject" validate:"required,max=998"`
	HTMLBody    string              `json:"html_body" validate:"required"`
	TextBody    string              `json:"text_body"`
	FromName    string              `json:"from_name" validate:"max=200"`
	FromEmail   string              `json:"from_email" validate:"required,email"`
	ReplyTo     string              `json:"reply_to" validate:"omitempty,email"`
	Audience    domain.Audience     `json:"audience"`
	Attachments []domain.Attachment `json:"attachments" validate:"dive"`
	ScheduledAt *time.Time          `json:"scheduled_at"`
}

// UpdateInput holds the mutable fields of a draft. Nil fields are left alone.
type UpdateInput struct {
	Name        *string              `json:"name" validate:"omitempty,max=200"`
	Subject     *string              `json:"subject" validate:"omitempty,max=998"`
	HTMLBody    *string              `json:"html_body"`
	TextBody    *string              `json:"text_body"`
	FromName    *string              `json:"from_name" validate:"omitempty,max=200"`
	FromEmail   *string              `json:"from_email" validate:"omitempty,email"`
	ReplyTo     *string              `json:"reply_to" validate:"omitempty,email"`
	Audience    *domain.Audience     `json:"audience"`
	Attachments *[]domain.Attachment `json:"attachments"`
	ScheduledAt *time.Time           `json:"scheduled_at"`
	// ClearSchedule removes scheduled_at so the campaign sends on queue.
	ClearSchedule bool `json:"clear_schedule"`
}

// QueueResult reports the outcome of queueing a campaign.
type QueueResult struct {
	Campaign   *domain.Campaign `json:"campaign"`
	Recipients int              `json:"recipients"`
	// DispatchNow is false when a future scheduled_at leaves the campaign
	// for the scheduling trigger.
	DispatchNow bool `json:"dispatch_now"`
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error) {
	if f.Status != "" && !domain.CampaignStatus(f.Status).Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	return s.repo.List(ctx, f)
}

// Create validates and persists a new draft campaign.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Campaign, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	if in.Audience.Type != "" {
		if err := in.Audience.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	now := s.now().UTC()
	c := &domain.Campaign{
		ID:          uuid.New().String(),
		Name:        strings.TrimSpace(in.Name),
		Subject:     in.Subject,
		HTMLBody:    in.HTMLBody,
		TextBody:    in.TextBody,
		FromName:    in.FromName,
		FromEmail:   in.FromEmail,
		ReplyTo:     in.ReplyTo,
		Audience:    in.Audience,
		Attachments: in.Attachments,
		ScheduledAt: in.ScheduledAt,
		Status:      domain.CampaignDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Update edits a draft campaign.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*domain.Campaign, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignDraft {
		return nil, fmt.Errorf("%w: cannot edit a %s campaign", ErrInvalidTransition, c.Status)
	}

	if in.Name != nil {
		c.Name = strings.TrimSpace(*in.Name)
	}
	if in.Subject != nil {
		c.Subject = *in.Subject
	}
	if in.HTMLBody != nil {
		c.HTMLBody = *in.HTMLBody
	}
	if in.TextBody != nil {
		c.TextBody = *in.TextBody
	}
	if in.FromName != nil {
		c.FromName = *in.FromName
	}
	if in.FromEmail != nil {
		c.FromEmail = *in.FromEmail
	}
	if in.ReplyTo != nil {
		c.ReplyTo = *in.ReplyTo
	}
	if in.Audience != nil {
		if err := in.Audience.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		c.Audience = *in.Audience
	}
	if in.Attachments != nil {
		c.Attachments = *in.Attachments
	}
	if in.ScheduledAt != nil {
		c.ScheduledAt = in.ScheduledAt
	}
	if in.ClearSchedule {
		c.ScheduledAt = nil
	}
	if c.Name == "" || c.Subject == "" || c.HTMLBody == "" {
		return nil, fmt.Errorf("%w: name, subject and html_body are required", ErrValidation)
	}

	c.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Queue resolves the audience, materializes one pending recipient per
// unique address and moves a draft to queued. Re-queueing an edited draft
// replaces its previous recipients and events.
func (s *Service) Queue(ctx context.Context, id string) (*QueueResult, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignDraft {
		return nil, fmt.Errorf("%w: cannot queue a %s campaign", ErrInvalidTransition, c.Status)
	}
	if err := c.Audience.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	recipients, err := s.resolver.Resolve(ctx, c.ID, c.Audience)
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}
	if len(recipients) == 0 {
		return nil, ErrEmptyAudience
	}

	if err := s.repo.QueueRecipients(ctx, c.ID, recipients); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	c.Status = domain.CampaignQueued
	c.TotalRecipients = len(recipients)
	c.SentCount, c.FailedCount = 0, 0
	c.StartedAt, c.SentAt = nil, nil
	c.UpdatedAt = now

	logger.Info("campaign queued", "campaign_id", c.ID, "recipients", len(recipients))
	return &QueueResult{
		Campaign:    c,
		Recipients:  len(recipients),
		DispatchNow: c.DueAt(now),
	}, nil
}

// Cancel stops a draft or queued campaign. A sending campaign runs to
// completion and cannot be canceled.
func (s *Service) Cancel(ctx context.Context, id string) error {
	return s.repo.TransitionStatus(ctx, id,
		[]domain.CampaignStatus{domain.CampaignDraft, domain.CampaignQueued},
		domain.CampaignCanceled)
}

// Duplicate copies a campaign's content into a new draft. Recipients,
// events, counters and schedule are not copied.
func (s *Service) Duplicate(ctx context.Context, id string) (*domain.Campaign, error) {
	src, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	c := &domain.Campaign{
		ID:          uuid.New().String(),
		Name:        src.Name + " (copy)",
		Subject:     src.Subject,
		HTMLBody:    src.HTMLBody,
		TextBody:    src.TextBody,
		FromName:    src.FromName,
		FromEmail:   src.FromEmail,
		ReplyTo:     src.ReplyTo,
		Audience:    src.Audience,
		Attachments: append([]domain.Attachment(nil), src.Attachments...),
		Status:      domain.CampaignDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ResendFailures resets failed recipients of a sent campaign to pending and
// re-queues it. An empty recipientIDs selects every failed recipient.
func (s *Service) ResendFailures(ctx context.Context, id string, recipientIDs []string) (int, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if c.Status != domain.CampaignSent {
		return 0, fmt.Errorf("%w: resend requires a sent campaign, got %s", ErrInvalidTransition, c.Status)
	}

	n, err := s.repo.ResetFailed(ctx, id, recipientIDs)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNoFailedRecipients
	}
	logger.Info("campaign failures requeued", "campaign_id", id, "recipients", n)
	return n, nil
}

// Delete removes a draft or canceled campaign.
func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignCanceled {
		return fmt.Errorf("%w: cannot delete a %s campaign", ErrInvalidTransition, c.Status)
	}
	return s.repo.Delete(ctx, id)
}

// Recipients pages through a campaign's recipients.
func (s *Service) Recipients(ctx context.Context, id string, f RecipientFilter) ([]domain.Recipient, int, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, 0, err
	}
	return s.repo.ListRecipients(ctx, id, f)
}

// Stats returns progress and engagement counts for a campaign.
func (s *Service) Stats(ctx context.Context, id string) (*Stats, error) {
	return s.repo.Stats(ctx, id)
}

func (s *Service) check(v interface{}) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}
