package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lollxz/campaignctl/internal/domain"
	"github.com/lollxz/campaignctl/internal/repository/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queueRowColumnNames() []string {
	return []string{
		"id", "contact_id", "event_id", "sender_email", "recipient_email", "cc_recipients",
		"subject", "message", "last_message_type", "status", "created_at", "due_at",
		"scheduled_at", "sent_at", "attachment_data", "attachment_filename",
		"attachment_mime_type", "conversation_id", "message_id", "in_reply_to",
		"error_message", "retry_count",
	}
}

func TestQueueRowRepository_Enqueue(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewQueueRowRepository(db)
	mock.ExpectExec("INSERT INTO email_queue").WillReturnResult(sqlmock.NewResult(1, 1))

	row := &domain.QueueRow{
		ContactID:      "contact-1",
		EventID:        "event-1",
		SenderEmail:    "sender@example.com",
		RecipientEmail: "recipient@example.com",
		Subject:        "Hello",
		Message:        "Body",
		LastMessageType: domain.MessageTypeCampaignMain,
	}

	err := repo.Enqueue(context.Background(), row)
	require.NoError(t, err)
	assert.NotEmpty(t, row.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRowRepository_FetchPending_OrdersByPriorityTier(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewQueueRowRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(queueRowColumnNames()).
		AddRow("low-tier", "c1", "e1", "s@e.com", "r@e.com", "", "subj", "msg",
			domain.MessageTypeReminder1, domain.QueueRowStatusPending, now, now, now, nil, nil, nil, nil, nil, nil, nil, nil, 0).
		AddRow("high-tier", "c2", "e1", "s@e.com", "r2@e.com", "", "subj", "msg",
			domain.MessageTypeFormsInitial, domain.QueueRowStatusPending, now, now, now, nil, nil, nil, nil, nil, nil, nil, nil, 0)

	mock.ExpectQuery("SELECT .* FROM email_queue").
		WithArgs(domain.QueueRowStatusPending, 10).
		WillReturnRows(rows)

	out, err := repo.FetchPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "high-tier", out[0].ID, "forms_initial (tier 0) must sort before reminder1 (tier 5)")
	assert.Equal(t, "low-tier", out[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRowRepository_WithRowLock_NoRowsReturnsFalse(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewQueueRowRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM email_queue WHERE id = \\$1").
		WithArgs("missing-id").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	ok, err := repo.WithRowLock(context.Background(), "missing-id", func(tx *sql.Tx, row *domain.QueueRow) error {
		t.Fatal("fn should not be called when no row is locked")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRowRepository_MarkSent(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewQueueRowRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE email_queue").
		WithArgs("row-1", sqlmock.AnyArg(), "msg-id", "conv-id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	err = repo.MarkSent(context.Background(), tx, "row-1", time.Now(), "msg-id", "conv-id")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRowRepository_ExistsActiveDuplicate(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewQueueRowRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM email_queue").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	exists, err := repo.ExistsActiveDuplicate(context.Background(), tx, "c1", domain.MessageTypeCampaignMain, "r@e.com", time.Now().Add(-time.Hour), "other-row-id")
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, tx.Commit())
}
