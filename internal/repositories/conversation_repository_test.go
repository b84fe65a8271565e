package repositories

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func newConversationRepo(t *testing.T) (*ConversationRepo, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewConversationRepo(sqlx.NewDb(mockDB, "postgres")), mock
}

func expectConversationGet(mock sqlmock.Sqlmock, conversationID int, now time.Time) {
	mock.ExpectQuery(`SELECT id, created_at, updated_at FROM conversations WHERE id=\$1`).
		WithArgs(conversationID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(conversationID, now, now))
	mock.ExpectQuery(`FROM conversation_participants cp JOIN users u`).
		WithArgs(conversationID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "is_online"}).
			AddRow(1, "alice", "alice@example.com", true).
			AddRow(2, "bob", "bob@example.com", false))
}

func TestCreateOrGetPairCreatedOnceReturnsExisting(t *testing.T) {
	repo, mock := newConversationRepo(t)
	ctx := context.Background()
	now := time.Now()

	// First call: no existing pair, insert and wire participants.
	mock.ExpectQuery(`SELECT id, created_at, updated_at FROM conversations WHERE pair_key=\$1`).
		WithArgs("1:2").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO conversations \(pair_key\)`).
		WithArgs("1:2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(7, now, now))
	mock.ExpectExec(`INSERT INTO conversation_participants`).
		WithArgs(7, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO conversation_participants`).
		WithArgs(7, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectConversationGet(mock, 7, now)

	// Second call: the pair key resolves to the same row.
	mock.ExpectQuery(`SELECT id, created_at, updated_at FROM conversations WHERE pair_key=\$1`).
		WithArgs("1:2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(7, now, now))
	expectConversationGet(mock, 7, now)

	first, err := repo.CreateOrGetPair(ctx, 2, 1)
	require.NoError(t, err)
	second, err := repo.CreateOrGetPair(ctx, 1, 2)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Len(t, first.Participants, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrGetPairInsertRaceConverges(t *testing.T) {
	repo, mock := newConversationRepo(t)
	ctx := context.Background()
	now := time.Now()

	// Lookup misses, the insert loses the race on the unique pair key,
	// and the re-read lands on the winner's row.
	mock.ExpectQuery(`SELECT id, created_at, updated_at FROM conversations WHERE pair_key=\$1`).
		WithArgs("1:2").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO conversations \(pair_key\)`).
		WithArgs("1:2").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()
	mock.ExpectQuery(`SELECT id, created_at, updated_at FROM conversations WHERE pair_key=\$1`).
		WithArgs("1:2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(7, now, now))
	expectConversationGet(mock, 7, now)

	conv, err := repo.CreateOrGetPair(ctx, 1, 2)
	require.NoError(t, err)
	require.Equal(t, 7, conv.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRejectsInvalidParticipants(t *testing.T) {
	repo := NewConversationRepo(nil)
	ctx := context.Background()

	_, err := repo.Create(ctx, []int{1})
	require.ErrorIs(t, err, ErrInvalidParticipants)

	// Duplicates collapse before the count check.
	_, err = repo.Create(ctx, []int{4, 4})
	require.ErrorIs(t, err, ErrInvalidParticipants)

	_, err = repo.CreateOrGetPair(ctx, 3, 3)
	require.ErrorIs(t, err, ErrInvalidParticipants)
}
