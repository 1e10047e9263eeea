package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lollxz/campaignctl/internal/domain"
	"github.com/lollxz/campaignctl/internal/repository/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomContactMessageRepository_Get_NoReminderType(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewCustomContactMessageRepository(db)
	mock.ExpectQuery("SELECT contact_id, message_type, stage, reminder_type, subject, body FROM custom_contact_messages").
		WithArgs("c1", "forms_initial", "forms").
		WillReturnRows(sqlmock.NewRows([]string{"contact_id", "message_type", "stage", "reminder_type", "subject", "body"}).
			AddRow("c1", "forms_initial", "forms", nil, "Custom subject", "Custom body"))

	m, err := repo.Get(context.Background(), "c1", "forms_initial", "forms", nil)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "Custom subject", m.Subject)
	assert.Nil(t, m.ReminderType)
}

func TestCustomContactMessageRepository_Get_NotFound(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewCustomContactMessageRepository(db)
	mock.ExpectQuery("SELECT contact_id, message_type, stage, reminder_type, subject, body FROM custom_contact_messages").
		WithArgs("c1", "forms_reminder_1", "forms").
		WillReturnRows(sqlmock.NewRows([]string{"contact_id", "message_type", "stage", "reminder_type", "subject", "body"}))

	m, err := repo.Get(context.Background(), "c1", "forms_reminder_1", "forms", nil)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestCustomContactMessageRepository_Upsert(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewCustomContactMessageRepository(db)
	mock.ExpectExec("INSERT INTO custom_contact_messages").
		WithArgs("c1", "forms_initial", "forms", nil, "Subj", "Body").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Upsert(context.Background(), &domain.CustomContactMessage{
		ContactID: "c1", MessageType: "forms_initial", Stage: "forms", Subject: "Subj", Body: "Body",
	})
	require.NoError(t, err)
}
