package api

import (
	"context"
	"net/http"

	"github.com/ignite/campaign-mailer/internal/dispatch"
	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/scheduler"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
)

// CampaignService is the campaign state machine the handlers drive.
type CampaignService interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error)
	Create(ctx context.Context, in campaign.CreateInput) (*domain.Campaign, error)
	Update(ctx context.Context, id string, in campaign.UpdateInput) (*domain.Campaign, error)
	Delete(ctx context.Context, id string) error
	Queue(ctx context.Context, id string) (*campaign.QueueResult, error)
	Cancel(ctx context.Context, id string) error
	Duplicate(ctx context.Context, id string) (*domain.Campaign, error)
	ResendFailures(ctx context.Context, id string, recipientIDs []string) (int, error)
	Recipients(ctx context.Context, id string, f campaign.RecipientFilter) ([]domain.Recipient, int, error)
	Stats(ctx context.Context, id string) (*campaign.Stats, error)
}

// Dispatcher runs one dispatch batch for a campaign.
type Dispatcher interface {
	Dispatch(ctx context.Context, campaignID string) (*dispatch.Stats, error)
}

// Ticker runs one scheduling pass.
type Ticker interface {
	Tick(ctx context.Context) (scheduler.TickResult, error)
}

// WebhookReceiver serves inbound provider events.
type WebhookReceiver interface {
	HandleSES(w http.ResponseWriter, r *http.Request)
	HandleSparkPost(w http.ResponseWriter, r *http.Request)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	campaigns  CampaignService
	dispatcher Dispatcher
	ticker     Ticker
	webhooks   WebhookReceiver
}

// NewHandlers creates a new Handlers instance. webhooks may be nil.
func NewHandlers(campaigns CampaignService, dispatcher Dispatcher, ticker Ticker, webhooks WebhookReceiver) *Handlers {
	return &Handlers{
		campaigns:  campaigns,
		dispatcher: dispatcher,
		ticker:     ticker,
		webhooks:   webhooks,
	}
}
