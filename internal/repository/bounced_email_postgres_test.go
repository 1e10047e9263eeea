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

func TestBouncedEmailRepository_Upsert(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewBouncedEmailRepository(db)
	mock.ExpectExec("INSERT INTO bounced_emails").
		WithArgs("bounced@example.com", sqlmock.AnyArg(), domain.BounceTypeHard, "mailbox full").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Upsert(context.Background(), "Bounced@Example.com", domain.BounceTypeHard, "mailbox full", time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBouncedEmailRepository_IsBounced(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewBouncedEmailRepository(db)
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM bounced_emails").
		WithArgs("bounced@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	isBounced, err := repo.IsBounced(context.Background(), "BOUNCED@example.com")
	require.NoError(t, err)
	assert.True(t, isBounced)
}
