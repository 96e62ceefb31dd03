package dispatch_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ignite/campaign-mailer/internal/dispatch"
	"github.com/ignite/campaign-mailer/internal/domain"
)

// memStore is an in-memory dispatch.Store with the same guards as the
// Postgres implementation.
type memStore struct {
	mu         sync.Mutex
	campaigns  map[string]*domain.Campaign
	recipients map[string][]*domain.Recipient
	events     []domain.Event
	writes     int

	// recordErr, when set, fails RecordSent/RecordFailed for a recipient.
	recordErr func(r *domain.Recipient) error
	// countersErr, when set, fails Counters.
	countersErr func() error
}

func newMemStore() *memStore {
	return &memStore{
		campaigns:  map[string]*domain.Campaign{},
		recipients: map[string][]*domain.Recipient{},
	}
}

// seed adds a campaign with n pending recipients r000..r(n-1).
func (m *memStore) seed(id string, status domain.CampaignStatus, n int) *domain.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &domain.Campaign{
		ID:              id,
		Name:            "Campaign " + id,
		Subject:         "Hi {{ first_name }}",
		HTMLBody:        "<p>Hello {{ first_name }} from {{ company }}</p>",
		FromName:        "Acme",
		FromEmail:       "hello@acme.test",
		Status:          status,
		TotalRecipients: n,
	}
	m.campaigns[id] = c
	rs := make([]*domain.Recipient, n)
	for i := 0; i < n; i++ {
		rs[i] = &domain.Recipient{
			ID:             fmt.Sprintf("%s-r%03d", id, i),
			CampaignID:     id,
			Email:          fmt.Sprintf("user%03d@example.com", i),
			FirstName:      fmt.Sprintf("User%d", i),
			Status:         domain.RecipientPending,
			DeliveryStatus: domain.DeliveryPending,
		}
	}
	m.recipients[id] = rs
	return c
}

func (m *memStore) campaign(id string) domain.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.campaigns[id]
}

func (m *memStore) recipient(campaignID string, i int) domain.Recipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.recipients[campaignID][i]
}

func (m *memStore) countStatus(campaignID string, s domain.RecipientStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.recipients[campaignID] {
		if r.Status == s {
			n++
		}
	}
	return n
}

func (m *memStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *memStore) Get(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, dispatch.ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) MarkSending(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	if !c.Status.Dispatchable() {
		return false, nil
	}
	m.writes++
	c.Status = domain.CampaignSending
	if c.StartedAt == nil {
		c.StartedAt = &at
	}
	return true, nil
}

func (m *memStore) CountPending(_ context.Context, id string) (int, error) {
	return m.countStatus(id, domain.RecipientPending), nil
}

func (m *memStore) ListPending(_ context.Context, id string, limit int) ([]domain.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Recipient
	for _, r := range m.recipients[id] {
		if r.Status == domain.RecipientPending {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) find(r *domain.Recipient) *domain.Recipient {
	for _, row := range m.recipients[r.CampaignID] {
		if row.ID == r.ID {
			return row
		}
	}
	return nil
}

func (m *memStore) RecordSent(_ context.Context, r *domain.Recipient, messageID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		if err := m.recordErr(r); err != nil {
			return false, err
		}
	}
	row := m.find(r)
	if row == nil || row.Status != domain.RecipientPending {
		return false, nil
	}
	m.writes++
	row.Status = domain.RecipientSent
	row.DeliveryStatus = domain.DeliverySent
	row.SentAt = &at
	row.ProviderMessageID = messageID
	m.campaigns[r.CampaignID].SentCount++
	m.events = append(m.events, domain.Event{CampaignID: r.CampaignID, RecipientID: r.ID, Type: domain.EventSent, CreatedAt: at})
	return true, nil
}

func (m *memStore) RecordFailed(_ context.Context, r *domain.Recipient, kind, message string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		if err := m.recordErr(r); err != nil {
			return false, err
		}
	}
	row := m.find(r)
	if row == nil || row.Status != domain.RecipientPending {
		return false, nil
	}
	m.writes++
	row.Status = domain.RecipientFailed
	row.DeliveryStatus = domain.DeliveryFailed
	row.FailedAt = &at
	row.ErrorMessage = message
	m.campaigns[r.CampaignID].FailedCount++
	m.events = append(m.events, domain.Event{
		CampaignID: r.CampaignID, RecipientID: r.ID, Type: domain.EventFailed, CreatedAt: at,
		Metadata: map[string]string{"kind": kind, "error": message},
	})
	return true, nil
}

func (m *memStore) Counters(_ context.Context, id string) (dispatch.Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countersErr != nil {
		if err := m.countersErr(); err != nil {
			return dispatch.Counters{}, err
		}
	}
	c := m.campaigns[id]
	return dispatch.Counters{Total: c.TotalRecipients, Sent: c.SentCount, Failed: c.FailedCount}, nil
}

func (m *memStore) Finalize(_ context.Context, id string, status domain.CampaignStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	if c.Status != domain.CampaignSending {
		return false, nil
	}
	m.writes++
	c.Status = status
	if status == domain.CampaignSent {
		c.SentAt = &at
	}
	return true, nil
}
