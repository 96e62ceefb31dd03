package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
)

func TestQueueRecipients(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCampaignRepo(db)

	recipients := []domain.Recipient{
		{ContactID: "c-1", Email: "ana@example.com", FirstName: "Ana", Variables: map[string]string{"plan": "gold"}},
		{Email: "bo@example.com", FirstName: "Bo"},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM campaigns WHERE id = \$1 FOR UPDATE`).
		WithArgs(campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("draft"))
	mock.ExpectExec(`DELETE FROM campaign_events WHERE campaign_id = \$1`).
		WithArgs(campaignID).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM campaign_recipients WHERE campaign_id = \$1`).
		WithArgs(campaignID).WillReturnResult(sqlmock.NewResult(0, 3))
	prep := mock.ExpectPrepare(`COPY "campaign_recipients"`)
	prep.ExpectExec().
		WithArgs(sqlmock.AnyArg(), campaignID, "c-1", "ana@example.com", "", "Ana", "", "", "", "", "", "",
			`{"plan":"gold"}`, "pending", "pending", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs(sqlmock.AnyArg(), campaignID, nil, "bo@example.com", "", "Bo", "", "", "", "", "", "",
			"{}", "pending", "pending", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET status = 'queued', total_recipients = \$2, sent_count = 0, failed_count = 0`).
		WithArgs(campaignID, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.QueueRecipients(context.Background(), campaignID, recipients))
	for _, r := range recipients {
		assert.True(t, validID(r.ID), "recipient ids are assigned before COPY")
	}
}

func TestQueueRecipientsRejectsNonDraft(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCampaignRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("sending"))
	mock.ExpectRollback()

	err := repo.QueueRecipients(context.Background(), campaignID, []domain.Recipient{{Email: "ana@example.com"}})
	assert.ErrorIs(t, err, campaign.ErrInvalidTransition)
}

func TestQueueRecipientsCopyFailureRollsBack(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCampaignRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("draft"))
	mock.ExpectExec(`DELETE FROM campaign_events`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM campaign_recipients`).WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(`COPY`)
	prep.ExpectExec().WillReturnError(errors.New("duplicate key value violates unique constraint"))
	mock.ExpectRollback()

	err := repo.QueueRecipients(context.Background(), campaignID, []domain.Recipient{{Email: "ana@example.com"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy recipient")
}

func TestResetFailed(t *testing.T) {
	t.Run("all failed", func(t *testing.T) {
		db, mock := setupTestDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WithArgs(campaignID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("sent"))
		mock.ExpectExec(`SET status = 'pending', delivery_status = 'pending'.+WHERE campaign_id = \$1 AND status = 'failed'$`).
			WithArgs(campaignID).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectExec(`SET status = 'queued', failed_count = GREATEST\(failed_count - \$2, 0\)`).
			WithArgs(campaignID, int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		n, err := NewCampaignRepo(db).ResetFailed(context.Background(), campaignID, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("selected ids", func(t *testing.T) {
		db, mock := setupTestDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WithArgs(campaignID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("sent"))
		mock.ExpectExec(`AND id::text = ANY\(\$2\)`).
			WithArgs(campaignID, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`SET status = 'queued'`).
			WithArgs(campaignID, int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		n, err := NewCampaignRepo(db).ResetFailed(context.Background(), campaignID, []string{recipientID})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("nothing to reset", func(t *testing.T) {
		db, mock := setupTestDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WithArgs(campaignID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("sent"))
		mock.ExpectExec(`status = 'failed'`).WithArgs(campaignID).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		n, err := NewCampaignRepo(db).ResetFailed(context.Background(), campaignID, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("not sent", func(t *testing.T) {
		db, mock := setupTestDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WithArgs(campaignID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("sending"))
		mock.ExpectRollback()

		_, err := NewCampaignRepo(db).ResetFailed(context.Background(), campaignID, nil)
		assert.ErrorIs(t, err, campaign.ErrInvalidTransition)
	})
}
