// Package dispatch implements the batch dispatch engine: one invocation
// sends a bounded slice of a campaign's pending recipients and leaves the
// rest for the next invocation. All resumable state lives in the Store.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/distlock"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
	"github.com/ignite/campaign-mailer/internal/template"
	"github.com/ignite/campaign-mailer/internal/transport"
)

// Stats describes the outcome of one dispatch.
type Stats struct {
	Total     int  `json:"total"`
	Sent      int  `json:"sent"`
	Failed    int  `json:"failed"`
	HasMore   bool `json:"hasMore"`
	Remaining int  `json:"remaining"`
}

// Engine is the batch dispatch engine.
type Engine struct {
	store       Store
	transport   transport.Transport
	renderer    *template.Renderer
	cfg         Config
	attachments transport.AttachmentStore
	defaults    DefaultsSource
	locks       Locker
	limiter     Limiter
	notifier    Notifier
	log         *logger.Logger
	now         func() time.Time
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithAttachments sets the store attachment bodies are loaded from.
func WithAttachments(s transport.AttachmentStore) Option {
	return func(e *Engine) { e.attachments = s }
}

// WithDefaults sets the account-wide template variable source.
func WithDefaults(d DefaultsSource) Option {
	return func(e *Engine) { e.defaults = d }
}

// WithLocker enables the per-campaign dispatch lease.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locks = l }
}

// WithLimiter enables the shared provider send budget.
func WithLimiter(l Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithNotifier registers a terminal-state hook.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger overrides the engine logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine.
func New(store Store, t transport.Transport, r *template.Renderer, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		transport: t,
		renderer:  r,
		cfg:       cfg.withDefaults(),
		log:       logger.Default().With("component", "dispatch"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dispatch processes one batch of the campaign's pending recipients.
//
// Per-recipient transport failures are recorded on the recipient and never
// returned. A returned error means the precondition failed (ErrInvalidStatus,
// ErrDispatchInProgress), the campaign had nothing to send
// (ErrNoPendingRecipients), or infrastructure failed mid-batch; in the last
// case every recipient already recorded stays terminal and the rest stay
// pending, so calling Dispatch again resumes safely.
func (e *Engine) Dispatch(ctx context.Context, campaignID string) (*Stats, error) {
	log := e.log.With("campaign_id", campaignID)

	var lease distlock.DistLock
	if e.locks != nil {
		lease = e.locks.New(distlock.CampaignKey(campaignID), e.cfg.LeaseTTL)
		ok, err := lease.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire dispatch lease: %w", err)
		}
		if !ok {
			return nil, ErrDispatchInProgress
		}
		defer func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lease.Release(rctx); err != nil {
				log.Warn("release dispatch lease failed", "error", err)
			}
		}()
	}

	c, err := e.store.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !c.Status.Dispatchable() {
		return nil, fmt.Errorf("%w: campaign is %s", ErrInvalidStatus, c.Status)
	}

	ok, err := e.store.MarkSending(ctx, campaignID, e.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("mark sending: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: campaign left queued/sending", ErrInvalidStatus)
	}
	c.Status = domain.CampaignSending

	totalPending, err := e.store.CountPending(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count pending: %w", err)
	}
	batch, err := e.store.ListPending(ctx, campaignID, e.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	hasMore := totalPending > len(batch)

	if len(batch) == 0 {
		return e.finishEmpty(ctx, c, log)
	}

	defaults, err := e.loadDefaults(ctx)
	if err != nil {
		return nil, err
	}
	attachments, err := e.loadAttachments(ctx, c)
	if err != nil {
		return nil, err
	}

	log.Info("dispatch batch starting", "batch", len(batch), "pending", totalPending, "has_more", hasMore)

	tally := &tally{}
	sendErr := e.sendBatch(ctx, c, batch, defaults, attachments, tally, lease, log)
	sent, failed := tally.snapshot()

	if sendErr != nil {
		log.Error("dispatch batch aborted", "sent", sent, "failed", failed, "error", sendErr)
		return nil, sendErr
	}

	counters, err := e.store.Counters(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("read counters: %w", err)
	}
	c.SentCount, c.FailedCount, c.TotalRecipients = counters.Sent, counters.Failed, counters.Total

	if !hasMore {
		if err := e.finalize(ctx, c, log); err != nil {
			return nil, err
		}
	}

	stats := &Stats{
		Total:     len(batch),
		Sent:      sent,
		Failed:    failed,
		HasMore:   hasMore,
		Remaining: totalPending - len(batch),
	}
	log.Info("dispatch batch finished",
		"sent", sent, "failed", failed, "has_more", hasMore, "remaining", stats.Remaining, "status", c.Status)
	return stats, nil
}

// finishEmpty handles a dispatchable campaign with no pending recipients.
// With no prior progress this is a data inconsistency and the campaign
// fails. With prior progress a previous dispatch finished every row but
// stopped before finalizing, so finalize now.
func (e *Engine) finishEmpty(ctx context.Context, c *domain.Campaign, log *logger.Logger) (*Stats, error) {
	if c.SentCount+c.FailedCount > 0 {
		if err := e.finalize(ctx, c, log); err != nil {
			return nil, err
		}
		return &Stats{}, nil
	}

	if _, err := e.store.Finalize(ctx, c.ID, domain.CampaignFailed, e.now().UTC()); err != nil {
		return nil, fmt.Errorf("finalize empty campaign: %w", err)
	}
	c.Status = domain.CampaignFailed
	log.Warn("campaign had no pending recipients", "total_recipients", c.TotalRecipients)
	e.notify(c)
	return nil, ErrNoPendingRecipients
}

func (e *Engine) finalize(ctx context.Context, c *domain.Campaign, log *logger.Logger) error {
	status := domain.CampaignSent
	if c.SentCount == 0 {
		status = domain.CampaignFailed
	}
	at := e.now().UTC()
	applied, err := e.store.Finalize(ctx, c.ID, status, at)
	if err != nil {
		return fmt.Errorf("finalize campaign: %w", err)
	}
	if !applied {
		log.Warn("finalize skipped, campaign no longer sending")
		return nil
	}
	c.Status = status
	if status == domain.CampaignSent {
		c.SentAt = &at
	}
	log.Info("campaign finished", "status", status, "sent_count", c.SentCount, "failed_count", c.FailedCount)
	e.notify(c)
	return nil
}

func (e *Engine) notify(c *domain.Campaign) {
	if e.notifier != nil {
		e.notifier.CampaignFinished(*c)
	}
}

func (e *Engine) loadDefaults(ctx context.Context) (map[string]string, error) {
	if e.defaults == nil {
		return nil, nil
	}
	d, err := e.defaults.Defaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("load account defaults: %w", err)
	}
	return d, nil
}

func (e *Engine) loadAttachments(ctx context.Context, c *domain.Campaign) ([]domain.Attachment, error) {
	if len(c.Attachments) == 0 {
		return nil, nil
	}
	if e.attachments == nil {
		return nil, fmt.Errorf("campaign has %d attachments but no attachment store is configured", len(c.Attachments))
	}
	loaded, err := e.attachments.Load(ctx, c.Attachments)
	if err != nil {
		return nil, fmt.Errorf("load attachments: %w", err)
	}
	return loaded, nil
}

type tally struct {
	mu     sync.Mutex
	sent   int
	failed int
}

func (t *tally) add(sent bool) {
	t.mu.Lock()
	if sent {
		t.sent++
	} else {
		t.failed++
	}
	t.mu.Unlock()
}

func (t *tally) snapshot() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent, t.failed
}

// sendBatch sends the batch in chunks of cfg.Concurrency. Every send in a
// chunk runs to completion before the next chunk starts. The lease is
// extended before each further chunk; the first infrastructure error or a
// lost lease stops further chunks.
func (e *Engine) sendBatch(ctx context.Context, c *domain.Campaign, batch []domain.Recipient,
	defaults map[string]string, attachments []domain.Attachment, t *tally, lease distlock.DistLock, log *logger.Logger) error {

	for start := 0; start < len(batch); start += e.cfg.Concurrency {
		end := start + e.cfg.Concurrency
		if end > len(batch) {
			end = len(batch)
		}
		chunk := batch[start:end]

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx, len(chunk)); err != nil {
				return fmt.Errorf("send budget: %w", err)
			}
		}

		var g errgroup.Group
		for i := range chunk {
			r := &chunk[i]
			g.Go(func() error {
				return e.sendOne(ctx, c, r, defaults, attachments, t, log)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if end == len(batch) {
			break
		}

		// Another worker may take over an expired lease; never send past it.
		if lease != nil {
			if err := lease.Extend(ctx, e.cfg.LeaseTTL); err != nil {
				return fmt.Errorf("%w: %v", ErrLeaseLost, err)
			}
		}

		if e.cfg.ChunkDelay > 0 {
			timer := time.NewTimer(e.cfg.ChunkDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil
}

// sendOne renders, sends and records one recipient. Only infrastructure
// errors are returned.
func (e *Engine) sendOne(ctx context.Context, c *domain.Campaign, r *domain.Recipient,
	defaults map[string]string, attachments []domain.Attachment, t *tally, log *logger.Logger) error {

	content := e.renderer.RenderRecipient(c, r, defaults)
	msg := &domain.EmailMessage{
		CampaignID:  c.ID,
		RecipientID: r.ID,
		To:          r.Email,
		FromName:    c.FromName,
		FromEmail:   c.FromEmail,
		ReplyTo:     c.ReplyTo,
		Subject:     content.Subject,
		HTML:        content.HTML,
		Text:        content.Text,
		Attachments: attachments,
	}

	res := e.safeSend(ctx, msg)
	if !res.Success && ctx.Err() != nil {
		// Shutdown, not a recipient failure: leave the row pending.
		return ctx.Err()
	}

	// The email is out; record it even if ctx is canceled meanwhile.
	rctx := context.WithoutCancel(ctx)
	at := e.now().UTC()
	var applied bool
	var err error
	if res.Success {
		applied, err = e.store.RecordSent(rctx, r, res.ProviderMessageID, at)
	} else {
		message := res.ErrorMessage
		if message == "" {
			message = "send failed"
		}
		applied, err = e.store.RecordFailed(rctx, r, res.ErrorKind, message, at)
	}
	if err != nil {
		return fmt.Errorf("record recipient %s: %w", r.ID, err)
	}
	if !applied {
		log.Warn("recipient already terminal, outcome not recorded", "recipient_id", r.ID)
		return nil
	}
	if !res.Success {
		log.Debug("recipient send failed", "recipient_id", r.ID, "email", r.Email, "kind", res.ErrorKind)
	}
	t.add(res.Success)
	return nil
}

// safeSend converts a transport panic into a failed result so one bad
// recipient cannot take down the chunk.
func (e *Engine) safeSend(ctx context.Context, msg *domain.EmailMessage) (res domain.SendResult) {
	defer func() {
		if p := recover(); p != nil {
			res = transport.Failure{Kind: transport.KindProviderError, Message: fmt.Sprintf("transport panic: %v", p)}.Result()
		}
	}()
	return e.transport.SendOne(ctx, msg)
}

// IsPrecondition reports whether err is a rejected dispatch that left the
// campaign untouched.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrInvalidStatus) || errors.Is(err, ErrDispatchInProgress) || errors.Is(err, ErrCampaignNotFound)
}
