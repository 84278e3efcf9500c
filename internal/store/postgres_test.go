package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalflow/fiscalflow/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_GetDocument_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM documents WHERE access_key = \$1`).
		WithArgs("no-such-key").
		WillReturnError(pgx.ErrNoRows)

	doc, err := s.GetDocumentByAccessKey(context.Background(), "no-such-key")
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertDocument_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// ON CONFLICT DO NOTHING reports zero rows affected on a duplicate key.
	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs(pgxmock.AnyArg(), "company-1", pgxmock.AnyArg(), "key-1", "NFE", "1", "1",
			pgxmock.AnyArg(), 10.0, "", "authorized", "none", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := s.InsertDocument(context.Background(), model.Document{
		CompanyID:  "company-1",
		AccessKey:  "key-1",
		Type:       model.DocTypeNFE,
		Number:     "1",
		Series:     "1",
		IssueDate:  time.Now().UTC(),
		TotalValue: 10.0,
		Status:     model.StatusAuthorized,
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertDocument_Written(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs(pgxmock.AnyArg(), "company-1", pgxmock.AnyArg(), "key-2", "NFE", "2", "1",
			pgxmock.AnyArg(), 0.0, "", "authorized", "none", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := s.InsertDocument(context.Background(), model.Document{
		CompanyID: "company-1",
		AccessKey: "key-2",
		Type:      model.DocTypeNFE,
		Number:    "2",
		Series:    "1",
		IssueDate: time.Now().UTC(),
		Status:    model.StatusAuthorized,
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LastSuccessfulNSU(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT last_nsu FROM sync_runs`).
		WithArgs("company-1").
		WillReturnRows(pgxmock.NewRows([]string{"last_nsu"}).AddRow(int64(150)))

	nsu, err := s.LastSuccessfulNSU(context.Background(), "company-1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), nsu)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LastSuccessfulNSU_NoHistory(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT last_nsu FROM sync_runs`).
		WithArgs("company-new").
		WillReturnError(pgx.ErrNoRows)

	nsu, err := s.LastSuccessfulNSU(context.Background(), "company-new")
	require.NoError(t, err)
	assert.Equal(t, int64(0), nsu)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertSupplier(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`INSERT INTO suppliers .+ ON CONFLICT \(cnpj_cpf\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), "00111222000133", "Fornecedor A", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "cnpj_cpf", "name", "created_at"}).
			AddRow("sup-1", "00111222000133", "Fornecedor A", now))

	sup, err := s.UpsertSupplier(context.Background(), "00111222000133", "Fornecedor A")
	require.NoError(t, err)
	assert.Equal(t, "sup-1", sup.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishSyncRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE sync_runs`).
		WithArgs("failed", int64(0), 0, "boom", pgxmock.AnyArg(), "nonexistent-run").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishSyncRun(context.Background(), "nonexistent-run", model.RunFailed, 0, 0, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}
