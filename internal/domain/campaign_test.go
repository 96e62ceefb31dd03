package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to CampaignStatus
		want     bool
	}{
		{CampaignDraft, CampaignQueued, true},
		{CampaignDraft, CampaignCanceled, true},
		{CampaignQueued, CampaignSending, true},
		{CampaignQueued, CampaignCanceled, true},
		{CampaignSending, CampaignSending, true},
		{CampaignSending, CampaignSent, true},
		{CampaignSending, CampaignFailed, true},
		{CampaignSent, CampaignQueued, true},

		{CampaignSending, CampaignCanceled, false},
		{CampaignSent, CampaignSending, false},
		{CampaignFailed, CampaignQueued, false},
		{CampaignCanceled, CampaignDraft, false},
		{CampaignDraft, CampaignSending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestDispatchable(t *testing.T) {
	assert.True(t, CampaignQueued.Dispatchable())
	assert.True(t, CampaignSending.Dispatchable())
	for _, s := range []CampaignStatus{CampaignDraft, CampaignSent, CampaignFailed, CampaignCanceled} {
		assert.False(t, s.Dispatchable(), string(s))
	}
}

func TestCampaignDueAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	assert.True(t, (&Campaign{Status: CampaignQueued}).DueAt(now))
	assert.True(t, (&Campaign{Status: CampaignQueued, ScheduledAt: &past}).DueAt(now))
	assert.True(t, (&Campaign{Status: CampaignQueued, ScheduledAt: &now}).DueAt(now))
	assert.False(t, (&Campaign{Status: CampaignQueued, ScheduledAt: &future}).DueAt(now))
	assert.False(t, (&Campaign{Status: CampaignDraft}).DueAt(now))
}

func TestCampaignRemaining(t *testing.T) {
	c := Campaign{TotalRecipients: 10, SentCount: 6, FailedCount: 1}
	assert.Equal(t, 3, c.Remaining())
	c.SentCount = 12
	assert.Equal(t, 0, c.Remaining())
}
