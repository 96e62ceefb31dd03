package domain

import "time"

// Attachment references a file stored outside the database.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	StorageKey  string `json:"storage_key"`
	Content     []byte `json:"-"`
}

// EmailMessage is the fully rendered message handed to the transport.
// By the time a message reaches this struct, template substitution and
// HTML normalization are complete.
type EmailMessage struct {
	CampaignID  string       `json:"campaign_id"`
	RecipientID string       `json:"recipient_id"`
	To          string       `json:"to"`
	FromName    string       `json:"from_name"`
	FromEmail   string       `json:"from_email"`
	ReplyTo     string       `json:"reply_to,omitempty"`
	Subject     string       `json:"subject"`
	HTML        string       `json:"html"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// SendResult is the outcome of one transport call. Provider errors are
// carried here instead of being returned as Go errors.
type SendResult struct {
	Success           bool      `json:"success"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	ErrorKind         string    `json:"error_kind,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	SentAt            time.Time `json:"sent_at"`
}
