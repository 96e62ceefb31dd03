package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft    CampaignStatus = "draft"
	CampaignQueued   CampaignStatus = "queued"
	CampaignSending  CampaignStatus = "sending"
	CampaignSent     CampaignStatus = "sent"
	CampaignFailed   CampaignStatus = "failed"
	CampaignCanceled CampaignStatus = "canceled"
)

// transitions lists every allowed status change. Resend-to-failures is the
// only edge that moves a finished campaign back into the dispatch cycle.
var transitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:   {CampaignQueued, CampaignCanceled},
	CampaignQueued:  {CampaignSending, CampaignCanceled},
	CampaignSending: {CampaignSending, CampaignSent, CampaignFailed},
	CampaignSent:    {CampaignQueued},
}

// CanTransition reports whether a campaign may move from one status to another.
func CanTransition(from, to CampaignStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known campaign status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignQueued, CampaignSending, CampaignSent, CampaignFailed, CampaignCanceled:
		return true
	}
	return false
}

// Dispatchable reports whether the dispatch engine may run for this status.
func (s CampaignStatus) Dispatchable() bool {
	return s == CampaignQueued || s == CampaignSending
}

// Campaign is a single email send job with content, audience and lifecycle.
type Campaign struct {
	ID          string         `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	Subject     string         `json:"subject" db:"subject"`
	HTMLBody    string         `json:"html_body" db:"html_body"`
	TextBody    string         `json:"text_body,omitempty" db:"text_body"`
	FromName    string         `json:"from_name" db:"from_name"`
	FromEmail   string         `json:"from_email" db:"from_email"`
	ReplyTo     string         `json:"reply_to,omitempty" db:"reply_to"`
	Audience    Audience       `json:"audience" db:"audience"`
	Attachments []Attachment   `json:"attachments,omitempty" db:"attachments"`
	Status      CampaignStatus `json:"status" db:"status"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty" db:"scheduled_at"`

	TotalRecipients int `json:"total_recipients" db:"total_recipients"`
	SentCount       int `json:"sent_count" db:"sent_count"`
	FailedCount     int `json:"failed_count" db:"failed_count"`

	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	SentAt    *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent || c.Status == CampaignFailed || c.Status == CampaignCanceled
}

// Remaining is the number of recipients not yet in a terminal state.
func (c *Campaign) Remaining() int {
	n := c.TotalRecipients - c.SentCount - c.FailedCount
	if n < 0 {
		return 0
	}
	return n
}

// DueAt reports whether a queued campaign should be picked up at now.
// A queued campaign without a schedule is always due.
func (c *Campaign) DueAt(now time.Time) bool {
	if c.Status != CampaignQueued {
		return false
	}
	return c.ScheduledAt == nil || !c.ScheduledAt.After(now)
}
