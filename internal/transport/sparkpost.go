package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/httpretry"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

// SparkPostSender sends email via the SparkPost Transmissions API.
type SparkPostSender struct {
	apiKey  string
	baseURL string
	client  httpretry.HTTPDoer
}

// NewSparkPost creates a sender targeting the SparkPost v1 API. A nil client
// uses a plain http.Client; sends are never retried here.
func NewSparkPost(apiKey, baseURL string, client httpretry.HTTPDoer) *SparkPostSender {
	if baseURL == "" {
		baseURL = "https://api.sparkpost.com/api/v1"
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SparkPostSender{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// SparkPost substitutes {{ }} in transmission content. Content arrives
// fully rendered, so literal braces go out as SparkPost's brace macros.
var spLiteral = strings.NewReplacer(
	"{{", "{{opening_double_curly()}}",
	"}}", "{{closing_double_curly()}}",
)

type spAttachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"`
}

type spContent struct {
	From        map[string]string `json:"from"`
	Subject     string            `json:"subject"`
	HTML        string            `json:"html"`
	Text        string            `json:"text,omitempty"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Attachments []spAttachment    `json:"attachments,omitempty"`
}

type spTransmission struct {
	Recipients []map[string]interface{} `json:"recipients"`
	Content    spContent                `json:"content"`
	Metadata   map[string]string        `json:"metadata"`
}

type spResponse struct {
	Results struct {
		ID                      string `json:"id"`
		TotalRejectedRecipients int    `json:"total_rejected_recipients"`
	} `json:"results"`
	Errors []struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

// SendOne delivers a single email through SparkPost.
func (s *SparkPostSender) SendOne(ctx context.Context, msg *domain.EmailMessage) domain.SendResult {
	tx := spTransmission{
		Recipients: []map[string]interface{}{
			{"address": map[string]string{"email": msg.To}},
		},
		Content: spContent{
			From:    map[string]string{"email": msg.FromEmail, "name": msg.FromName},
			Subject: spLiteral.Replace(msg.Subject),
			HTML:    spLiteral.Replace(msg.HTML),
			Text:    spLiteral.Replace(msg.Text),
			ReplyTo: msg.ReplyTo,
		},
		Metadata: map[string]string{
			"campaign_id":  msg.CampaignID,
			"recipient_id": msg.RecipientID,
		},
	}
	for _, a := range msg.Attachments {
		tx.Content.Attachments = append(tx.Content.Attachments, spAttachment{
			Name: a.Filename,
			Type: a.ContentType,
			Data: base64.StdEncoding.EncodeToString(a.Content),
		})
	}

	payload, err := json.Marshal(tx)
	if err != nil {
		return Failure{Kind: KindRejected, Message: err.Error()}.Result()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/transmissions", bytes.NewReader(payload))
	if err != nil {
		return Failure{Kind: KindProviderError, Message: err.Error()}.Result()
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		f := classifyNetworkError(err)
		logger.Warn("sparkpost send failed", "email", msg.To, "kind", f.Kind, "error", err)
		return f.Result()
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed spResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode >= 400 {
		f := classifySparkPostError(resp.StatusCode, parsed, body)
		logger.Warn("sparkpost send rejected", "email", msg.To, "status", resp.StatusCode, "kind", f.Kind)
		return f.Result()
	}
	if parsed.Results.TotalRejectedRecipients > 0 {
		return Failure{Kind: KindInvalidAddress, Message: "recipient rejected by provider"}.Result()
	}

	return Delivered(parsed.Results.ID)
}

func classifyNetworkError(err error) Failure {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return Failure{Kind: KindTimeout, Message: err.Error()}
	}
	return Failure{Kind: KindProviderError, Message: err.Error()}
}

func classifySparkPostError(status int, parsed spResponse, raw []byte) Failure {
	f := Failure{Code: fmt.Sprint(status)}
	if len(parsed.Errors) > 0 {
		e := parsed.Errors[0]
		f.Message = strings.TrimSpace(e.Message + " " + e.Description)
		if e.Code != "" {
			f.Code = e.Code
		}
	} else {
		f.Message = strings.TrimSpace(string(raw))
	}
	if f.Message == "" {
		f.Message = http.StatusText(status)
	}
	lower := strings.ToLower(f.Message)

	switch {
	case status == http.StatusTooManyRequests || status == 420:
		f.Kind = KindQuotaExceeded
	case strings.Contains(lower, "suppress"):
		f.Kind = KindSuppressed
	case status >= 500:
		f.Kind = KindProviderError
	case strings.Contains(lower, "invalid") && (strings.Contains(lower, "recipient") || strings.Contains(lower, "address")):
		f.Kind = KindInvalidAddress
	default:
		f.Kind = KindRejected
	}
	return f
}
