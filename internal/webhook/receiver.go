// Package webhook receives provider delivery notifications and records them
// as campaign events against the recipient that carries the provider's
// message id.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/httpretry"
	"github.com/ignite/campaign-mailer/internal/pkg/httputil"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

const maxBodyBytes = 5 * 1024 * 1024

// Recorder stores a delivery event. It reports false when no recipient
// carries the message id.
type Recorder interface {
	ApplyDeliveryEvent(ctx context.Context, providerMessageID string, typ domain.EventType, at time.Time, metadata map[string]string) (bool, error)
}

// Delivery is one provider event normalized to the campaign event shape.
type Delivery struct {
	MessageID string
	Type      domain.EventType
	At        time.Time
	Metadata  map[string]string
}

// Receiver serves the provider webhook endpoints.
type Receiver struct {
	recorder Recorder
	client   httpretry.HTTPDoer
	log      *logger.Logger

	received int64
	applied  int64
	errors   int64
}

// NewReceiver creates a receiver. client is used to confirm SNS
// subscriptions.
func NewReceiver(recorder Recorder, client httpretry.HTTPDoer) *Receiver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Receiver{
		recorder: recorder,
		client:   client,
		log:      logger.Default().With("component", "webhook"),
	}
}

// snsEnvelope is the AWS SNS wrapper around SES notifications.
type snsEnvelope struct {
	Type         string `json:"Type"`
	MessageId    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	SubscribeURL string `json:"SubscribeURL"`
	Message      string `json:"Message"`
}

// sesNotification covers both SNS notification and configuration-set
// event publishing formats.
type sesNotification struct {
	NotificationType string `json:"notificationType"`
	EventType        string `json:"eventType"`
	Mail             struct {
		MessageID string `json:"messageId"`
		Timestamp string `json:"timestamp"`
	} `json:"mail"`
	Bounce struct {
		BounceType    string `json:"bounceType"`
		BounceSubType string `json:"bounceSubType"`
		Timestamp     string `json:"timestamp"`
	} `json:"bounce"`
	Delivery struct {
		Timestamp string `json:"timestamp"`
	} `json:"delivery"`
	Open struct {
		Timestamp string `json:"timestamp"`
		UserAgent string `json:"userAgent"`
	} `json:"open"`
	Click struct {
		Timestamp string `json:"timestamp"`
		Link      string `json:"link"`
	} `json:"click"`
}

// HandleSES accepts an SNS-wrapped SES notification.
func (rc *Receiver) HandleSES(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.BadRequest(w, "failed to read body")
		return
	}

	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		httputil.BadRequest(w, "invalid JSON")
		return
	}

	switch env.Type {
	case "SubscriptionConfirmation":
		rc.confirmSubscription(r.Context(), env)
		httputil.OK(w, map[string]string{"status": "confirmed"})
		return
	case "UnsubscribeConfirmation":
		httputil.OK(w, map[string]string{"status": "ignored"})
		return
	}

	d, ok := ParseSES(env.Message)
	if !ok {
		// Sends, complaints and rejects carry nothing to record.
		httputil.OK(w, map[string]int{"received": 1, "applied": 0})
		return
	}
	applied, err := rc.record(r.Context(), "ses", []Delivery{d})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"received": 1, "applied": applied})
}

// ParseSES maps an SES notification body to a delivery event.
func ParseSES(message string) (Delivery, bool) {
	var n sesNotification
	if err := json.Unmarshal([]byte(message), &n); err != nil {
		return Delivery{}, false
	}
	kind := n.EventType
	if kind == "" {
		kind = n.NotificationType
	}
	d := Delivery{MessageID: n.Mail.MessageID, Metadata: map[string]string{"provider": "ses"}}
	var ts string
	switch kind {
	case "Delivery":
		d.Type, ts = domain.EventDelivered, n.Delivery.Timestamp
	case "Open":
		d.Type, ts = domain.EventOpened, n.Open.Timestamp
		if n.Open.UserAgent != "" {
			d.Metadata["user_agent"] = n.Open.UserAgent
		}
	case "Click":
		d.Type, ts = domain.EventClicked, n.Click.Timestamp
		if n.Click.Link != "" {
			d.Metadata["link"] = n.Click.Link
		}
	case "Bounce":
		d.Type, ts = domain.EventBounced, n.Bounce.Timestamp
		d.Metadata["bounce_type"] = n.Bounce.BounceType
		if n.Bounce.BounceSubType != "" {
			d.Metadata["bounce_sub_type"] = n.Bounce.BounceSubType
		}
	default:
		return Delivery{}, false
	}
	if d.MessageID == "" {
		return Delivery{}, false
	}
	if ts == "" {
		ts = n.Mail.Timestamp
	}
	d.At = parseTimestamp(ts)
	return d, true
}

func (rc *Receiver) confirmSubscription(ctx context.Context, env snsEnvelope) {
	u, err := url.Parse(env.SubscribeURL)
	if err != nil || u.Scheme != "https" || !strings.HasSuffix(u.Hostname(), ".amazonaws.com") {
		rc.log.Warn("refusing SNS subscription URL", "topic", env.TopicArn, "url", env.SubscribeURL)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.SubscribeURL, nil)
	if err != nil {
		rc.log.Error("build SNS confirmation failed", "error", err)
		return
	}
	resp, err := rc.client.Do(req)
	if err != nil {
		rc.log.Error("SNS subscription confirmation failed", "topic", env.TopicArn, "error", err)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	rc.log.Info("SNS subscription confirmed", "topic", env.TopicArn, "status", resp.StatusCode)
}

// HandleSparkPost accepts a SparkPost webhook batch.
func (rc *Receiver) HandleSparkPost(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.BadRequest(w, "failed to read body")
		return
	}
	deliveries, n, err := ParseSparkPost(body)
	if err != nil {
		httputil.BadRequest(w, "invalid JSON")
		return
	}
	applied, err := rc.record(r.Context(), "sparkpost", deliveries)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"received": n, "applied": applied})
}

// ParseSparkPost maps a SparkPost batch to delivery events and returns the
// number of raw events in the batch. Events are matched on transmission_id,
// which is the id returned when the message was sent.
func ParseSparkPost(body []byte) ([]Delivery, int, error) {
	var batch []struct {
		Msys map[string]json.RawMessage `json:"msys"`
	}
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, 0, err
	}

	var out []Delivery
	for _, item := range batch {
		for category, raw := range item.Msys {
			if category != "message_event" && category != "track_event" {
				continue
			}
			var ev struct {
				Type           string `json:"type"`
				TransmissionID string `json:"transmission_id"`
				MessageID      string `json:"message_id"`
				Timestamp      string `json:"timestamp"`
				BounceClass    string `json:"bounce_class"`
				Reason         string `json:"reason"`
				TargetLinkURL  string `json:"target_link_url"`
			}
			if err := json.Unmarshal(raw, &ev); err != nil {
				continue
			}
			d := Delivery{Metadata: map[string]string{"provider": "sparkpost"}}
			switch ev.Type {
			case "delivery":
				d.Type = domain.EventDelivered
			case "open", "initial_open":
				d.Type = domain.EventOpened
			case "click":
				d.Type = domain.EventClicked
				if ev.TargetLinkURL != "" {
					d.Metadata["link"] = ev.TargetLinkURL
				}
			case "bounce", "out_of_band":
				d.Type = domain.EventBounced
				if ev.BounceClass != "" {
					d.Metadata["bounce_class"] = ev.BounceClass
				}
				if ev.Reason != "" {
					d.Metadata["reason"] = ev.Reason
				}
			default:
				continue
			}
			d.MessageID = ev.TransmissionID
			if d.MessageID == "" {
				d.MessageID = ev.MessageID
			}
			if d.MessageID == "" {
				continue
			}
			d.At = parseTimestamp(ev.Timestamp)
			out = append(out, d)
		}
	}
	return out, len(batch), nil
}

func (rc *Receiver) record(ctx context.Context, provider string, deliveries []Delivery) (int, error) {
	applied := 0
	for _, d := range deliveries {
		atomic.AddInt64(&rc.received, 1)
		ok, err := rc.recorder.ApplyDeliveryEvent(ctx, d.MessageID, d.Type, d.At, d.Metadata)
		if err != nil {
			atomic.AddInt64(&rc.errors, 1)
			return applied, err
		}
		if !ok {
			rc.log.Debug("delivery event for unknown message", "provider", provider, "message_id", d.MessageID, "type", d.Type)
			continue
		}
		applied++
		atomic.AddInt64(&rc.applied, 1)
	}
	return applied, nil
}

// Stats returns counters since start.
func (rc *Receiver) Stats() map[string]int64 {
	return map[string]int64{
		"received": atomic.LoadInt64(&rc.received),
		"applied":  atomic.LoadInt64(&rc.applied),
		"errors":   atomic.LoadInt64(&rc.errors),
	}
}

// parseTimestamp accepts RFC 3339 or unix seconds and falls back to now.
func parseTimestamp(s string) time.Time {
	if s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC()
		}
	}
	return time.Now().UTC()
}
