// Package scheduler implements the scheduling trigger: it finds campaigns
// that need a dispatch and runs one dispatch per campaign, sequentially.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/campaign-mailer/internal/dispatch"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

// DefaultLimit caps how many campaigns of each kind one tick picks up.
const DefaultLimit = 50

// Source lists campaigns awaiting a dispatch.
type Source interface {
	// DueCampaignIDs returns queued campaigns whose scheduled_at has passed.
	DueCampaignIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	// SendingCampaignIDs returns campaigns left mid-send by earlier batches.
	SendingCampaignIDs(ctx context.Context, limit int) ([]string, error)
}

// Dispatcher runs one batch for a campaign.
type Dispatcher interface {
	Dispatch(ctx context.Context, campaignID string) (*dispatch.Stats, error)
}

// TickResult summarizes one pass.
type TickResult struct {
	Due        int `json:"due"`
	Sending    int `json:"sending"`
	Dispatched int `json:"dispatched"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Trigger polls for due and in-flight campaigns.
type Trigger struct {
	source     Source
	dispatcher Dispatcher
	interval   time.Duration
	limit      int
	now        func() time.Time
	log        *logger.Logger

	ticks      int64
	dispatched int64
	failures   int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// New creates a trigger that ticks every interval.
func New(source Source, dispatcher Dispatcher, interval time.Duration) *Trigger {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Trigger{
		source:     source,
		dispatcher: dispatcher,
		interval:   interval,
		limit:      DefaultLimit,
		now:        time.Now,
		log:        logger.Default().With("component", "scheduler"),
	}
}

// SetLimit changes the per-kind campaign cap of one tick.
func (t *Trigger) SetLimit(n int) {
	if n > 0 {
		t.limit = n
	}
}

// Tick runs one pass: due queued campaigns first, then campaigns still
// sending. Each campaign gets one dispatch; a failure is logged and the
// pass moves on. Only a failure to list campaigns is returned.
func (t *Trigger) Tick(ctx context.Context) (TickResult, error) {
	atomic.AddInt64(&t.ticks, 1)
	var res TickResult

	due, err := t.source.DueCampaignIDs(ctx, t.now().UTC(), t.limit)
	if err != nil {
		return res, fmt.Errorf("list due campaigns: %w", err)
	}
	sending, err := t.source.SendingCampaignIDs(ctx, t.limit)
	if err != nil {
		return res, fmt.Errorf("list sending campaigns: %w", err)
	}
	res.Due, res.Sending = len(due), len(sending)

	ids := make([]string, 0, len(due)+len(sending))
	ids = append(ids, due...)
	ids = append(ids, sending...)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		t.dispatchOne(ctx, id, &res)
	}

	if res.Due+res.Sending > 0 {
		t.log.Info("scheduler tick finished",
			"due", res.Due, "sending", res.Sending,
			"dispatched", res.Dispatched, "skipped", res.Skipped, "failed", res.Failed)
	}
	return res, nil
}

func (t *Trigger) dispatchOne(ctx context.Context, id string, res *TickResult) {
	stats, err := t.dispatcher.Dispatch(ctx, id)
	switch {
	case err == nil:
		res.Dispatched++
		atomic.AddInt64(&t.dispatched, 1)
		t.log.Debug("campaign dispatched", "campaign_id", id,
			"sent", stats.Sent, "failed", stats.Failed, "has_more", stats.HasMore)
	case errors.Is(err, dispatch.ErrDispatchInProgress), errors.Is(err, dispatch.ErrInvalidStatus):
		// Another worker holds it, or it left queued/sending since listing.
		res.Skipped++
		t.log.Debug("campaign skipped", "campaign_id", id, "reason", err)
	default:
		res.Failed++
		atomic.AddInt64(&t.failures, 1)
		t.log.Error("campaign dispatch failed", "campaign_id", id, "error", err)
	}
}

// Start begins the polling loop. The first tick runs immediately.
func (t *Trigger) Start() error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	t.running = true
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.mu.Unlock()

	t.log.Info("scheduler starting", "interval", t.interval.String(), "limit", t.limit)

	t.wg.Add(1)
	go t.loop()
	return nil
}

// Stop cancels the loop and waits for the tick in progress to return.
func (t *Trigger) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	t.log.Info("scheduler stopped",
		"ticks", atomic.LoadInt64(&t.ticks),
		"dispatched", atomic.LoadInt64(&t.dispatched),
		"failures", atomic.LoadInt64(&t.failures))
}

func (t *Trigger) loop() {
	defer t.wg.Done()

	t.runTick()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.runTick()
		}
	}
}

func (t *Trigger) runTick() {
	if _, err := t.Tick(t.ctx); err != nil && t.ctx.Err() == nil {
		t.log.Error("scheduler tick failed", "error", err)
	}
}
