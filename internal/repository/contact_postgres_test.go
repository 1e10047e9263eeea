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

func contactColumnNames() []string {
	return []string{
		"id", "event_id", "name", "prefix", "email", "cc_store", "stage", "status",
		"last_message_type", "last_triggered_at", "last_sent_body", "last_sent_at",
		"last_reply_body", "last_reply_at", "campaign_paused", "email_bounced", "flow_type",
		"attachment_data", "attachment_filename", "attachment_mime_type",
		"forms_link", "payment_link", "invoice_number", "assigned_to",
		"email_error", "last_error_at", "trigger", "created_at", "updated_at",
	}
}

func TestContactRepository_Get(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewContactRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows(contactColumnNames()).
		AddRow("c1", "e1", "Hatem Ayman", nil, "hatem@example.com", "[]", domain.StageForms, domain.StatusPending,
			nil, nil, nil, nil, nil, nil, false, false, nil,
			nil, nil, nil,
			nil, nil, nil, nil,
			nil, nil, "", now, now)

	mock.ExpectQuery("SELECT .* FROM contacts WHERE id = \\$1").
		WithArgs("c1").
		WillReturnRows(rows)

	c, err := repo.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "hatem@example.com", c.Email)
}

func TestContactRepository_Get_NotFound(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewContactRepository(db)
	mock.ExpectQuery("SELECT .* FROM contacts WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(contactColumnNames()))

	_, err := repo.Get(context.Background(), "missing")
	require.Error(t, err)
	var notFound *domain.ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestContactRepository_MarkBounced(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewContactRepository(db)
	mock.ExpectExec("UPDATE contacts").
		WithArgs("bounced@example.com").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkBounced(context.Background(), "bounced@example.com")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepository_AppendTrigger(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewContactRepository(db)
	mock.ExpectExec("UPDATE contacts").
		WithArgs("c1", "bounce: mailbox full").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.AppendTrigger(context.Background(), "c1", "bounce: mailbox full")
	require.NoError(t, err)
}
