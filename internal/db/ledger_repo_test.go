package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pubengine/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Tests ---

func TestLedgerRepository_RecordChange_NewRow(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLedgerRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	created, err := repo.RecordChange(context.Background(), 301, 1001, types.ChangePendingLive)
	require.NoError(t, err)
	assert.True(t, created)
	db.AssertExpectations(t)
}

func TestLedgerRepository_RecordChange_ConflictIsNoop(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLedgerRepository(db)

	// ON CONFLICT DO NOTHING reports zero rows affected.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	created, err := repo.RecordChange(context.Background(), 301, 1001, types.ChangePendingLive)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestLedgerRepository_RecordChange_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLedgerRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := repo.RecordChange(context.Background(), 301, 1001, types.ChangePendingLive)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestLedgerRepository_ClearRecorded_Empty(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLedgerRepository(db)

	// No Exec expected for an empty record set.
	err := repo.ClearRecorded(context.Background(), 301, nil)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestLedgerRepository_ClearRecorded_GroupsByChangeType(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLedgerRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 2"), nil).Twice()

	records := []types.PendingChangeRecord{
		{TargetID: 301, ContentID: 1001, ChangeType: types.ChangePendingLive},
		{TargetID: 301, ContentID: 1002, ChangeType: types.ChangePendingLive},
		{TargetID: 301, ContentID: 1003, ChangeType: types.ChangePendingStaging},
	}
	err := repo.ClearRecorded(context.Background(), 301, records)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestLedgerRepository_ClearTarget(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLedgerRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{int64(301)}).
		Return(pgconn.NewCommandTag("DELETE 5"), nil)

	err := repo.ClearTarget(context.Background(), 301)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestLedgerRepository_ChangedContent_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLedgerRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("timeout"))

	_, err := repo.ChangedContent(context.Background(), 301, types.ChangePendingLive)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
