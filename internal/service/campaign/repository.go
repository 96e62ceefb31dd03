package campaign

import (
	"context"
	"time"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns campaigns matching the filter, newest first, and the total count.
	List(ctx context.Context, filter ListFilter) ([]domain.Campaign, int, error)

	// Create inserts a new campaign.
	Create(ctx context.Context, c *domain.Campaign) error

	// Update writes the content fields of a draft campaign. Returns
	// ErrInvalidTransition if the campaign is no longer a draft.
	Update(ctx context.Context, c *domain.Campaign) error

	// Delete removes a draft or canceled campaign with its recipients and events.
	Delete(ctx context.Context, id string) error

	// TransitionStatus moves a campaign to `to` only if its current status is
	// one of `from`. Returns ErrInvalidTransition otherwise.
	TransitionStatus(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) error

	// QueueRecipients atomically discards prior recipients and events,
	// inserts the new recipient set, resets counters and moves a draft
	// campaign to queued.
	QueueRecipients(ctx context.Context, id string, recipients []domain.Recipient) error

	// ResetFailed returns failed recipients (all, or only recipientIDs) to
	// pending and moves a sent campaign back to queued. Returns the number
	// of recipients reset.
	ResetFailed(ctx context.Context, id string, recipientIDs []string) (int, error)

	// ListRecipients pages through a campaign's recipients.
	ListRecipients(ctx context.Context, id string, filter RecipientFilter) ([]domain.Recipient, int, error)

	// Stats aggregates recipient and event counts.
	Stats(ctx context.Context, id string) (*Stats, error)
}

// Resolver expands an audience into deduplicated pending recipients.
type Resolver interface {
	Resolve(ctx context.Context, campaignID string, audience domain.Audience) ([]domain.Recipient, error)
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Search string
	Limit  int
	Offset int
}

// RecipientFilter controls pagination and filtering for recipient lists.
type RecipientFilter struct {
	Status string
	Limit  int
	Offset int
}

// Stats summarizes a campaign's progress and engagement.
type Stats struct {
	CampaignID      string                `json:"campaign_id"`
	Status          domain.CampaignStatus `json:"status"`
	TotalRecipients int                   `json:"total_recipients"`
	Pending         int                   `json:"pending"`
	Sent            int                   `json:"sent"`
	Failed          int                   `json:"failed"`
	Delivery        map[string]int        `json:"delivery"`
	Events          map[string]int        `json:"events"`
	StartedAt       *time.Time            `json:"started_at,omitempty"`
	SentAt          *time.Time            `json:"sent_at,omitempty"`
}
