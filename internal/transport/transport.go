// Package transport delivers one rendered email per call through a
// transactional-email provider. Senders never retry and never return
// provider errors as Go errors: every outcome is a domain.SendResult whose
// ErrorKind classifies the failure.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/domain"
)

// Kind classifies a failed send.
type Kind string

const (
	KindInvalidAddress Kind = "invalid_address"
	KindSuppressed     Kind = "suppressed"
	KindQuotaExceeded  Kind = "quota_exceeded"
	KindTimeout        Kind = "timeout"
	KindRejected       Kind = "rejected"
	KindProviderError  Kind = "provider_error"
)

// Failure is a typed provider failure.
type Failure struct {
	Kind    Kind
	Message string
	Code    string
}

// String renders the failure as stored in a recipient's error_message.
func (f Failure) String() string {
	if f.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", f.Kind, f.Message, f.Code)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Result converts the failure into a send result.
func (f Failure) Result() domain.SendResult {
	return domain.SendResult{
		Success:      false,
		ErrorKind:    string(f.Kind),
		ErrorMessage: f.String(),
	}
}

// Delivered builds a successful send result.
func Delivered(messageID string) domain.SendResult {
	return domain.SendResult{Success: true, ProviderMessageID: messageID, SentAt: time.Now().UTC()}
}

// Transport sends a single message with exactly one provider call.
type Transport interface {
	SendOne(ctx context.Context, msg *domain.EmailMessage) domain.SendResult
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, msg *domain.EmailMessage) domain.SendResult

// SendOne calls f.
func (f Func) SendOne(ctx context.Context, msg *domain.EmailMessage) domain.SendResult {
	return f(ctx, msg)
}

// WithTimeout bounds every send. A send still running at the deadline is
// abandoned and reported as a timeout failure, so one stuck call cannot
// stall the chunk it belongs to.
func WithTimeout(next Transport, d time.Duration) Transport {
	if d <= 0 {
		return next
	}
	return Func(func(ctx context.Context, msg *domain.EmailMessage) domain.SendResult {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		done := make(chan domain.SendResult, 1)
		go func() { done <- next.SendOne(ctx, msg) }()

		select {
		case res := <-done:
			if !res.Success && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Failure{Kind: KindTimeout, Message: fmt.Sprintf("send exceeded %s", d)}.Result()
			}
			return res
		case <-ctx.Done():
			return Failure{Kind: KindTimeout, Message: fmt.Sprintf("send exceeded %s", d)}.Result()
		}
	})
}

// New builds the configured provider transport wrapped with the per-send
// timeout.
func New(ctx context.Context, cfg *config.Config) (Transport, error) {
	var t Transport
	switch cfg.Transport.Provider {
	case "ses":
		s, err := NewSES(ctx, cfg.SES)
		if err != nil {
			return nil, err
		}
		t = s
	case "sparkpost":
		if cfg.SparkPost.APIKey == "" {
			return nil, fmt.Errorf("sparkpost api key not configured")
		}
		t = NewSparkPost(cfg.SparkPost.APIKey, cfg.SparkPost.BaseURL, nil)
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Transport.Provider)
	}
	return WithTimeout(t, cfg.Transport.SendTimeout()), nil
}

func formatAddress(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", mimeHeader(name), email)
}
