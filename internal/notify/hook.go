// Package notify fires the downstream sync hook after a campaign reaches a
// terminal state. Delivery is detached from the dispatch that triggered it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/httpretry"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

// Payload is the JSON body posted to the hook.
type Payload struct {
	Event           string                `json:"event"`
	CampaignID      string                `json:"campaign_id"`
	Name            string                `json:"name"`
	Status          domain.CampaignStatus `json:"status"`
	TotalRecipients int                   `json:"total_recipients"`
	SentCount       int                   `json:"sent_count"`
	FailedCount     int                   `json:"failed_count"`
	SentAt          *time.Time            `json:"sent_at,omitempty"`
	FinishedAt      time.Time             `json:"finished_at"`
}

// Hook posts campaign completion to a configured URL. It implements
// dispatch.Notifier.
type Hook struct {
	url     string
	client  httpretry.HTTPDoer
	timeout time.Duration
	log     *logger.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewHook builds a hook from the sync config section. An empty URL yields
// a hook that does nothing.
func NewHook(cfg config.SyncConfig) *Hook {
	client := httpretry.NewRetryClient(&http.Client{Timeout: cfg.Timeout()}, cfg.MaxRetries)
	return NewHookWithClient(cfg.HookURL, client, cfg.Timeout()*time.Duration(cfg.MaxRetries+1))
}

// NewHookWithClient builds a hook over an existing client. timeout bounds
// one notification including retries.
func NewHookWithClient(url string, client httpretry.HTTPDoer, timeout time.Duration) *Hook {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Hook{
		url:     url,
		client:  client,
		timeout: timeout,
		log:     logger.Default().With("component", "sync_hook"),
		now:     time.Now,
	}
}

// CampaignFinished starts the notification in its own goroutine and returns
// immediately. Failures are logged, never returned.
func (h *Hook) CampaignFinished(c domain.Campaign) {
	if h.url == "" {
		return
	}
	p := Payload{
		Event:           "campaign.finished",
		CampaignID:      c.ID,
		Name:            c.Name,
		Status:          c.Status,
		TotalRecipients: c.TotalRecipients,
		SentCount:       c.SentCount,
		FailedCount:     c.FailedCount,
		SentAt:          c.SentAt,
		FinishedAt:      h.now().UTC(),
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if err := h.post(ctx, p); err != nil {
			h.log.Error("sync hook failed", "campaign_id", p.CampaignID, "status", p.Status, "error", err)
			return
		}
		h.log.Info("sync hook delivered", "campaign_id", p.CampaignID, "status", p.Status)
	}()
}

// Wait blocks until in-flight notifications finish.
func (h *Hook) Wait() {
	h.wg.Wait()
}

func (h *Hook) post(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("hook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
