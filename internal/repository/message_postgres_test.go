package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lollxz/campaignctl/internal/domain"
	"github.com/lollxz/campaignctl/internal/repository/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRepository_Insert(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewMessageRepository(db)
	mock.ExpectExec("INSERT INTO messages").WillReturnResult(sqlmock.NewResult(1, 1))

	m := &domain.Message{ProviderID: "graph-123", Direction: "sent", ContactID: "c1", Subject: "Hi", Body: "Body", SentAt: time.Now()}
	err := repo.Insert(context.Background(), m)
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_Exists(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewMessageRepository(db)
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM messages").
		WithArgs("graph-123").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := repo.Exists(context.Background(), "graph-123")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMessageRepository_ResolveContactByMessageID_NotFound(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewMessageRepository(db)
	mock.ExpectQuery("SELECT contact_id FROM message_contact_map").
		WithArgs("unknown").
		WillReturnRows(sqlmock.NewRows([]string{"contact_id"}))

	contactID, ok, err := repo.ResolveContactByMessageID(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, contactID)
}

func TestMessageRepository_LatestSentByContact(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewMessageRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "provider_id", "direction", "contact_id", "subject", "body", "conversation_id", "in_reply_to", "sent_at", "created_at"}).
		AddRow("m1", "graph-1", "sent", "c1", "Hi", "Body", nil, nil, now, now)

	mock.ExpectQuery("SELECT id, provider_id").
		WithArgs("c1").
		WillReturnRows(rows)

	m, err := repo.LatestSentByContact(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "m1", m.ID)
}
