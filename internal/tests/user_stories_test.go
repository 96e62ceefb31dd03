package tests

// User story tests for the campaign mailer. Each story drives the HTTP API
// through the real wiring: Postgres repositories over sqlmock, dispatch
// leases in miniredis and the SparkPost transport against httptest.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-mailer/internal/api"
	"github.com/ignite/campaign-mailer/internal/app"
	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/transport"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

const campaignID = "6f1c2a64-2f6e-4b8a-9a55-3f0c9c6b1a01"

var campaignCols = []string{
	"id", "name", "subject", "html_body", "text_body", "from_name", "from_email", "reply_to",
	"audience", "attachments", "status", "scheduled_at", "total_recipients", "sent_count", "failed_count",
	"started_at", "sent_at", "created_at", "updated_at",
}

var recipientCols = []string{
	"id", "campaign_id", "contact_id", "email", "name", "first_name", "last_name",
	"company", "phone", "city", "state", "country", "variables", "status", "delivery_status",
	"sent_at", "failed_at", "error_message", "provider_message_id", "created_at",
}

var contactCols = []string{
	"id", "email", "first_name", "last_name", "company", "phone", "city", "state", "country",
	"unsubscribed", "custom_fields",
}

// fakeSparkPost records transmissions and answers with sequential ids.
type fakeSparkPost struct {
	mu       sync.Mutex
	subjects map[string]string
	n        int
}

func (f *fakeSparkPost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var tx struct {
		Recipients []struct {
			Address struct {
				Email string `json:"email"`
			} `json:"address"`
		} `json:"recipients"`
		Content struct {
			Subject string `json:"subject"`
		} `json:"content"`
	}
	body, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(body, &tx)

	f.mu.Lock()
	f.n++
	id := fmt.Sprintf("tx-%d", f.n)
	if len(tx.Recipients) > 0 {
		f.subjects[tx.Recipients[0].Address.Email] = tx.Content.Subject
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"results":{"id":"` + id + `","total_accepted_recipients":1}}`))
}

// TestContext holds shared test infrastructure
type TestContext struct {
	DB     *sql.DB
	Mock   sqlmock.Sqlmock
	Redis  *redis.Client
	MiniR  *miniredis.Miniredis
	SP     *fakeSparkPost
	Router http.Handler
}

func setupTestContext(t *testing.T) *TestContext {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	sp := &fakeSparkPost{subjects: map[string]string{}}
	srv := httptest.NewServer(sp)

	cfg := &config.Config{}
	cfg.Transport.Provider = "sparkpost"
	cfg.SparkPost.APIKey = "test-key"
	cfg.Dispatch.BatchSize = 2
	cfg.Dispatch.Concurrency = 1
	cfg.Dispatch.LeaseTTLSeconds = 60
	cfg.Defaults.BookLink = "https://acme.test/book"

	a, err := app.New(context.Background(), cfg, db, redisClient, app.Options{
		Transport: transport.NewSparkPost("test-key", srv.URL, nil),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		srv.Close()
		redisClient.Close()
		db.Close()
	})

	return &TestContext{
		DB:     db,
		Mock:   mock,
		Redis:  redisClient,
		MiniR:  mr,
		SP:     sp,
		Router: api.SetupRoutes(a.Handlers, a.Health, nil),
	}
}

func (tc *TestContext) post(t *testing.T, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	tc.Router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, rd))
	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func campaignRow(status string, sent int) *sqlmock.Rows {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(campaignCols).AddRow(
		campaignID, "Spring launch", "Hi {{ first_name }}", "<p>Book at {{ book_link }}</p>", "",
		"Acme", "news@acme.test", "",
		[]byte(`{"type":"static","member_ids":["c-1","c-2","c-3","c-4"]}`), []byte(`[]`),
		status, nil, 3, sent, 0, nil, nil, now, now,
	)
}

func recipientRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows(recipientCols)
	for _, id := range ids {
		rows.AddRow(id, campaignID, "c-"+id[2:], id+"@example.com", "", strings.ToUpper(id[:1])+id[1:], "", "",
			"", "", "", "", []byte(`{}`), "pending", "pending", nil, nil, "", "", time.Now())
	}
	return rows
}

func (tc *TestContext) expectRecordSent(recipientID string) {
	tc.Mock.ExpectBegin()
	tc.Mock.ExpectExec(`SET status = 'sent'`).
		WithArgs(recipientID, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	tc.Mock.ExpectExec(`INSERT INTO campaign_events`).WillReturnResult(sqlmock.NewResult(0, 1))
	tc.Mock.ExpectExec(`SET sent_count = sent_count \+ 1`).
		WithArgs(campaignID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	tc.Mock.ExpectCommit()
}

func (tc *TestContext) expectBatchStart(status string, sent, pending int, batch ...string) {
	tc.Mock.ExpectQuery(`FROM campaigns WHERE id = \$1`).WithArgs(campaignID).WillReturnRows(campaignRow(status, sent))
	tc.Mock.ExpectExec(`SET status = 'sending'`).WillReturnResult(sqlmock.NewResult(0, 1))
	tc.Mock.ExpectQuery(`SELECT COUNT\(\*\) FROM campaign_recipients`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(pending))
	tc.Mock.ExpectQuery(`WHERE campaign_id = \$1 AND status = 'pending'`).
		WithArgs(campaignID, 2).WillReturnRows(recipientRows(batch...))
	tc.Mock.ExpectQuery(`SELECT key, value FROM account_settings`).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}))
}

// =============================================================================
// US-001: Queue a static audience and send it across two batches
// =============================================================================

func TestUS001_QueueAndSendAcrossBatches(t *testing.T) {
	tc := setupTestContext(t)
	m := tc.Mock

	// Queue: load draft, resolve four contacts (one unsubscribed), COPY three rows.
	m.ExpectQuery(`FROM campaigns WHERE id = \$1`).WithArgs(campaignID).WillReturnRows(campaignRow("draft", 0))
	m.ExpectQuery(`FROM contacts WHERE id::text = ANY\(\$1\)`).
		WillReturnRows(sqlmock.NewRows(contactCols).
			AddRow("c-1", "r-1@example.com", "Ana", "", "", "", "", "", "", false, []byte(`{}`)).
			AddRow("c-2", "R-2@Example.com", "Bo", "", "", "", "", "", "", false, []byte(`{}`)).
			AddRow("c-3", "r-3@example.com", "Cy", "", "", "", "", "", "", false, []byte(`{}`)).
			AddRow("c-4", "gone@example.com", "Di", "", "", "", "", "", "", true, []byte(`{}`)))
	m.ExpectBegin()
	m.ExpectQuery(`SELECT status FROM campaigns WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("draft"))
	m.ExpectExec(`DELETE FROM campaign_events`).WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectExec(`DELETE FROM campaign_recipients`).WillReturnResult(sqlmock.NewResult(0, 0))
	prep := m.ExpectPrepare(`COPY`)
	for i := 0; i < 4; i++ {
		prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	}
	m.ExpectExec(`SET status = 'queued', total_recipients = \$2`).
		WithArgs(campaignID, 3).WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectCommit()

	// First batch runs inline with the queue call.
	tc.expectBatchStart("queued", 0, 3, "r-1", "r-2")
	tc.expectRecordSent("r-1")
	tc.expectRecordSent("r-2")
	m.ExpectQuery(`SELECT total_recipients, sent_count, failed_count FROM campaigns`).
		WithArgs(campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"total_recipients", "sent_count", "failed_count"}).AddRow(3, 2, 0))

	w, body := tc.post(t, "/api/campaigns/"+campaignID+"/queue", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 3, body["recipients"])
	d := body["dispatch"].(map[string]interface{})
	require.Equal(t, true, d["success"], d)
	stats := d["stats"].(map[string]interface{})
	assert.EqualValues(t, 2, stats["sent"])
	assert.Equal(t, true, stats["hasMore"])
	assert.EqualValues(t, 1, stats["remaining"])

	// The cron tick picks the sending campaign up and finishes it.
	m.ExpectQuery(`WHERE status = 'queued' AND`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	m.ExpectQuery(`WHERE status = 'sending' ORDER BY updated_at`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(campaignID))
	tc.expectBatchStart("sending", 2, 1, "r-3")
	tc.expectRecordSent("r-3")
	m.ExpectQuery(`SELECT total_recipients, sent_count, failed_count FROM campaigns`).
		WithArgs(campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"total_recipients", "sent_count", "failed_count"}).AddRow(3, 3, 0))
	m.ExpectExec(`SET status = \$2, sent_at = COALESCE\(\$3, sent_at\)`).
		WithArgs(campaignID, "sent", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w, body = tc.post(t, "/api/cron/tick", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, body["sending"])
	assert.EqualValues(t, 1, body["dispatched"])

	require.NoError(t, m.ExpectationsWereMet())
	assert.Equal(t, "Hi R-1", tc.SP.subjects["r-1@example.com"])
	assert.Len(t, tc.SP.subjects, 3)
	assert.False(t, tc.MiniR.Exists("lock:campaign-dispatch:"+campaignID), "lease is released")
}

// =============================================================================
// US-002: Dispatching a finished campaign is rejected without writes
// =============================================================================

func TestUS002_DispatchFinishedCampaignRejected(t *testing.T) {
	tc := setupTestContext(t)
	tc.Mock.ExpectQuery(`FROM campaigns WHERE id = \$1`).WithArgs(campaignID).WillReturnRows(campaignRow("sent", 3))

	w, body := tc.post(t, "/api/campaigns/"+campaignID+"/dispatch", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "invalid status")
	require.NoError(t, tc.Mock.ExpectationsWereMet())
	assert.Empty(t, tc.SP.subjects)
}

// =============================================================================
// US-003: A second dispatch for the same campaign is refused while one runs
// =============================================================================

func TestUS003_ConcurrentDispatchRefused(t *testing.T) {
	tc := setupTestContext(t)
	require.NoError(t, tc.MiniR.Set("lock:campaign-dispatch:"+campaignID, "other-worker"))

	w, body := tc.post(t, "/api/campaigns/"+campaignID+"/dispatch", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "dispatch already in progress", body["error"])
	require.NoError(t, tc.Mock.ExpectationsWereMet(), "no database access while the lease is held")
}

// =============================================================================
// US-004: A provider open event advances the recipient's delivery status
// =============================================================================

func TestUS004_SESOpenWebhook(t *testing.T) {
	tc := setupTestContext(t)
	m := tc.Mock

	m.ExpectBegin()
	m.ExpectQuery(`WHERE provider_message_id = \$1`).WithArgs("0100018e-abc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "campaign_id", "delivery_status"}).
			AddRow("r-1", campaignID, "delivered"))
	m.ExpectExec(`INSERT INTO campaign_events`).WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectExec(`UPDATE campaign_recipients SET delivery_status = \$1`).
		WithArgs("opened", "r-1").WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectCommit()

	message, _ := json.Marshal(map[string]interface{}{
		"eventType": "Open",
		"mail":      map[string]string{"messageId": "0100018e-abc"},
		"open":      map[string]string{"timestamp": "2024-03-01T12:30:00.000Z", "userAgent": "Mail/1.0"},
	})
	envelope, _ := json.Marshal(map[string]string{"Type": "Notification", "Message": string(message)})

	w, body := tc.post(t, "/api/webhooks/ses", string(envelope))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, body["applied"])
	require.NoError(t, m.ExpectationsWereMet())
}
