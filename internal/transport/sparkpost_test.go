package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-mailer/internal/domain"
)

func TestSparkPostSendOne(t *testing.T) {
	var got spTransmission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transmissions", r.URL.Path)
		assert.Equal(t, "sp-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"results":{"id":"sp-123","total_accepted_recipients":1,"total_rejected_recipients":0}}`))
	}))
	defer srv.Close()

	msg := testMessage()
	msg.Attachments = []domain.Attachment{{Filename: "a.txt", ContentType: "text/plain", Content: []byte("hello")}}

	res := NewSparkPost("sp-key", srv.URL+"/api/v1/", nil).SendOne(context.Background(), msg)

	require.True(t, res.Success)
	assert.Equal(t, "sp-123", res.ProviderMessageID)
	assert.Equal(t, "Spring offer", got.Content.Subject)
	assert.Equal(t, "c-1", got.Metadata["campaign_id"])
	require.Len(t, got.Content.Attachments, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("hello")), got.Content.Attachments[0].Data)
}

func TestSparkPostSendsBracesLiterally(t *testing.T) {
	var got spTransmission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"results":{"id":"sp-9"}}`))
	}))
	defer srv.Close()

	msg := testMessage()
	msg.Subject = "Hi {{ Ana }}"
	msg.HTML = "<p>{{{raw}}}</p>"
	msg.Text = "no braces"

	res := NewSparkPost("sp-key", srv.URL, nil).SendOne(context.Background(), msg)

	require.True(t, res.Success)
	assert.Equal(t, "Hi {{opening_double_curly()}} Ana {{closing_double_curly()}}", got.Content.Subject)
	assert.Equal(t, "<p>{{opening_double_curly()}}{raw{{closing_double_curly()}}}</p>", got.Content.HTML)
	assert.Equal(t, "no braces", got.Content.Text)
}

func TestSparkPostFailureKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{"rate limited", http.StatusTooManyRequests, `{"errors":[{"message":"Too many requests"}]}`, KindQuotaExceeded},
		{"sending limit", 420, `{"errors":[{"message":"Exceed Sending Limit (daily)","code":"2102"}]}`, KindQuotaExceeded},
		{"suppressed", http.StatusBadRequest, `{"errors":[{"message":"Message generation rejected","description":"recipient address suppressed due to customer policy","code":"1902"}]}`, KindSuppressed},
		{"invalid", http.StatusUnprocessableEntity, `{"errors":[{"message":"invalid data format/type","description":"Invalid recipient address.email: bad@","code":"1300"}]}`, KindInvalidAddress},
		{"forbidden", http.StatusForbidden, `{"errors":[{"message":"Forbidden."}]}`, KindRejected},
		{"server", http.StatusBadGateway, `upstream down`, KindProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			res := NewSparkPost("k", srv.URL, nil).SendOne(context.Background(), testMessage())
			assert.False(t, res.Success)
			assert.Equal(t, string(tt.kind), res.ErrorKind)
			assert.NotEmpty(t, res.ErrorMessage)
		})
	}
}

func TestSparkPostRejectedRecipient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":{"id":"x","total_accepted_recipients":0,"total_rejected_recipients":1}}`))
	}))
	defer srv.Close()

	res := NewSparkPost("k", srv.URL, nil).SendOne(context.Background(), testMessage())
	assert.False(t, res.Success)
	assert.Equal(t, string(KindInvalidAddress), res.ErrorKind)
}

func TestSparkPostNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := NewSparkPost("k", url, nil).SendOne(context.Background(), testMessage())
	assert.False(t, res.Success)
	assert.Equal(t, string(KindProviderError), res.ErrorKind)
}
