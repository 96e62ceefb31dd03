package dispatch

import (
	"context"
	"time"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/distlock"
)

// Store is the persistence contract of the engine. Every recipient write is
// guarded on status = 'pending' so a row becomes terminal at most once.
type Store interface {
	// Get returns the campaign or ErrCampaignNotFound.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// MarkSending sets status = 'sending' only if the campaign is queued or
	// sending, stamping started_at on first entry. Reports whether it applied.
	MarkSending(ctx context.Context, id string, at time.Time) (bool, error)

	// CountPending returns the number of pending recipients.
	CountPending(ctx context.Context, campaignID string) (int, error)

	// ListPending returns up to limit pending recipients in stable order.
	ListPending(ctx context.Context, campaignID string, limit int) ([]domain.Recipient, error)

	// RecordSent marks a pending recipient sent, appends a sent event and
	// adds one to the campaign's sent_count in one transaction. Reports false
	// if the row was no longer pending.
	RecordSent(ctx context.Context, r *domain.Recipient, providerMessageID string, at time.Time) (bool, error)

	// RecordFailed marks a pending recipient failed, appends a failed event
	// and adds one to the campaign's failed_count in one transaction. Reports
	// false if the row was no longer pending.
	RecordFailed(ctx context.Context, r *domain.Recipient, kind, message string, at time.Time) (bool, error)

	// Counters returns the campaign's current totals.
	Counters(ctx context.Context, campaignID string) (Counters, error)

	// Finalize moves a sending campaign to sent or failed, stamping sent_at
	// when sent. Reports whether it applied.
	Finalize(ctx context.Context, campaignID string, status domain.CampaignStatus, at time.Time) (bool, error)
}

// Counters are a campaign's running totals.
type Counters struct {
	Total  int
	Sent   int
	Failed int
}

// DefaultsSource supplies account-wide template variables.
type DefaultsSource interface {
	Defaults(ctx context.Context) (map[string]string, error)
}

// Locker creates per-campaign leases.
type Locker interface {
	New(key string, ttl time.Duration) distlock.DistLock
}

// Limiter reserves provider send budget before a chunk goes out.
type Limiter interface {
	Wait(ctx context.Context, n int) error
}

// Notifier is told when a campaign reaches a terminal state. It must not
// block the caller.
type Notifier interface {
	CampaignFinished(c domain.Campaign)
}
