package domain

import (
	"strings"
	"time"
)

// RecipientStatus is the dispatch state of one (campaign, contact) pairing.
type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSent    RecipientStatus = "sent"
	RecipientFailed  RecipientStatus = "failed"
)

// DeliveryStatus mirrors the provider-reported state of a recipient.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryOpened    DeliveryStatus = "opened"
	DeliveryClicked   DeliveryStatus = "clicked"
	DeliveryBounced   DeliveryStatus = "bounced"
)

// Recipient is one row per campaign x contact. Contact fields are copied at
// queue time so later contact edits never change in-flight campaign content.
type Recipient struct {
	ID         string `json:"id" db:"id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	ContactID  string `json:"contact_id,omitempty" db:"contact_id"`

	Email     string            `json:"email" db:"email"`
	Name      string            `json:"name" db:"name"`
	FirstName string            `json:"first_name" db:"first_name"`
	LastName  string            `json:"last_name" db:"last_name"`
	Company   string            `json:"company" db:"company"`
	Phone     string            `json:"phone,omitempty" db:"phone"`
	City      string            `json:"city,omitempty" db:"city"`
	State     string            `json:"state,omitempty" db:"state"`
	Country   string            `json:"country,omitempty" db:"country"`
	Variables map[string]string `json:"variables,omitempty" db:"variables"`

	Status            RecipientStatus `json:"status" db:"status"`
	DeliveryStatus    DeliveryStatus  `json:"delivery_status" db:"delivery_status"`
	SentAt            *time.Time      `json:"sent_at,omitempty" db:"sent_at"`
	FailedAt          *time.Time      `json:"failed_at,omitempty" db:"failed_at"`
	ErrorMessage      string          `json:"error_message,omitempty" db:"error_message"`
	ProviderMessageID string          `json:"provider_message_id,omitempty" db:"provider_message_id"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// Rank orders delivery statuses so a late provider event never moves a
// recipient backwards.
func (s DeliveryStatus) Rank() int {
	switch s {
	case DeliverySent, DeliveryFailed:
		return 1
	case DeliveryDelivered:
		return 2
	case DeliveryOpened:
		return 3
	case DeliveryClicked:
		return 4
	case DeliveryBounced:
		return 5
	default:
		return 0
	}
}

// IsTerminal reports whether the recipient has been sent or failed.
func (r *Recipient) IsTerminal() bool {
	return r.Status == RecipientSent || r.Status == RecipientFailed
}

// TemplateVars returns the per-recipient substitution map. Extra variables
// captured at queue time come first so the named contact fields win.
func (r *Recipient) TemplateVars() map[string]string {
	vars := make(map[string]string, len(r.Variables)+9)
	for k, v := range r.Variables {
		vars[k] = v
	}
	set := func(k, v string) {
		if v != "" {
			vars[k] = v
		}
	}
	set("first_name", r.FirstName)
	set("last_name", r.LastName)
	set("name", r.DisplayName())
	set("email", r.Email)
	set("phone", r.Phone)
	set("company", r.Company)
	set("city", r.City)
	set("state", r.State)
	set("country", r.Country)
	return vars
}

// DisplayName returns Name, falling back to "first last".
func (r *Recipient) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// NormalizeEmail lower-cases and trims an address for deduplication.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
