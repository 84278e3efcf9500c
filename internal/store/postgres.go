package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/fiscalflow/fiscalflow/internal/db"
	"github.com/fiscalflow/fiscalflow/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	cnpj       TEXT NOT NULL UNIQUE,
	legal_name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS suppliers (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	cnpj_cpf   TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documents (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_id           TEXT NOT NULL REFERENCES companies(id),
	supplier_id          TEXT REFERENCES suppliers(id),
	access_key           TEXT NOT NULL UNIQUE,
	document_type        TEXT NOT NULL,
	document_number      TEXT NOT NULL,
	series               TEXT NOT NULL,
	issue_date           TIMESTAMPTZ NOT NULL,
	total_value          DOUBLE PRECISION NOT NULL DEFAULT 0,
	protocol             TEXT,
	status               TEXT NOT NULL,
	manifestation_status TEXT NOT NULL DEFAULT 'none',
	raw_data             JSONB,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_company_id ON documents(company_id);
CREATE INDEX IF NOT EXISTS idx_documents_supplier_id ON documents(supplier_id);
CREATE INDEX IF NOT EXISTS idx_documents_issue_date ON documents(issue_date);

CREATE TABLE IF NOT EXISTS sync_runs (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_id       TEXT NOT NULL REFERENCES companies(id),
	last_nsu         BIGINT NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'in_progress',
	documents_synced INTEGER NOT NULL DEFAULT 0,
	details          TEXT,
	started_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_company_status ON sync_runs(company_id, status, finished_at DESC);

CREATE TABLE IF NOT EXISTS document_events (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	document_id       TEXT NOT NULL REFERENCES documents(id),
	event_type        TEXT NOT NULL,
	event_description TEXT NOT NULL,
	event_date        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_document_events_document_id ON document_events(document_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateCompany(ctx context.Context, c model.Company) (*model.Company, error) {
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO companies (id, cnpj, legal_name, created_at) VALUES ($1, $2, $3, $4)`,
		c.ID, c.TaxID, c.LegalName, c.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert company %s", c.TaxID)
	}
	return &c, nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	return s.scanCompany(s.pool.QueryRow(ctx,
		`SELECT id, cnpj, legal_name, created_at FROM companies WHERE id = $1`, id))
}

func (s *PostgresStore) GetCompanyByTaxID(ctx context.Context, taxID string) (*model.Company, error) {
	return s.scanCompany(s.pool.QueryRow(ctx,
		`SELECT id, cnpj, legal_name, created_at FROM companies WHERE cnpj = $1`, taxID))
}

func (s *PostgresStore) scanCompany(row pgx.Row) (*model.Company, error) {
	var c model.Company
	err := row.Scan(&c.ID, &c.TaxID, &c.LegalName, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan company")
	}
	return &c, nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, cnpj, legal_name, created_at FROM companies ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(&c.ID, &c.TaxID, &c.LegalName, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		companies = append(companies, c)
	}
	return companies, eris.Wrap(rows.Err(), "postgres: list companies iterate")
}

func (s *PostgresStore) GetDocumentByAccessKey(ctx context.Context, accessKey string) (*model.Document, error) {
	var d model.Document
	var protocol *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, company_id, supplier_id, access_key, document_type, document_number, series,
		        issue_date, total_value, protocol, status, manifestation_status, raw_data, created_at
		 FROM documents WHERE access_key = $1`,
		accessKey,
	).Scan(&d.ID, &d.CompanyID, &d.SupplierID, &d.AccessKey, &d.Type, &d.Number, &d.Series,
		&d.IssueDate, &d.TotalValue, &protocol, &d.Status, &d.ManifestationStatus, &d.RawData, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get document %s", accessKey)
	}
	if protocol != nil {
		d.Protocol = *protocol
	}
	return &d, nil
}

// InsertDocument writes the document unless its access key already exists.
// The unique constraint is the idempotency barrier: duplicates are not an
// error, they simply report inserted=false.
func (s *PostgresStore) InsertDocument(ctx context.Context, doc model.Document) (bool, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.ManifestationStatus == "" {
		doc.ManifestationStatus = model.ManifestationNone
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO documents
		 (id, company_id, supplier_id, access_key, document_type, document_number, series,
		  issue_date, total_value, protocol, status, manifestation_status, raw_data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (access_key) DO NOTHING`,
		doc.ID, doc.CompanyID, doc.SupplierID, doc.AccessKey, string(doc.Type), doc.Number, doc.Series,
		doc.IssueDate, doc.TotalValue, doc.Protocol, string(doc.Status), string(doc.ManifestationStatus),
		[]byte(doc.RawData), doc.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert document %s", doc.AccessKey)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpdateManifestationStatus(ctx context.Context, documentID string, status model.ManifestationStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET manifestation_status = $1 WHERE id = $2`,
		string(status), documentID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update manifestation %s", documentID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("document not found: %s", documentID)
	}
	return nil
}

// UpsertSupplier creates or refreshes a supplier keyed by normalized tax id.
// The name is last-write-wins.
func (s *PostgresStore) UpsertSupplier(ctx context.Context, taxID, name string) (*model.Supplier, error) {
	var sup model.Supplier
	err := s.pool.QueryRow(ctx,
		`INSERT INTO suppliers (id, cnpj_cpf, name, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (cnpj_cpf) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, cnpj_cpf, name, created_at`,
		uuid.New().String(), taxID, name, time.Now().UTC(),
	).Scan(&sup.ID, &sup.TaxID, &sup.Name, &sup.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert supplier %s", taxID)
	}
	return &sup, nil
}

func (s *PostgresStore) AppendDocumentEvent(ctx context.Context, ev model.DocumentEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO document_events (id, document_id, event_type, event_description, event_date)
		 VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.DocumentID, ev.EventType, ev.Description, ev.OccurredAt,
	)
	return eris.Wrapf(err, "postgres: append event for document %s", ev.DocumentID)
}

func (s *PostgresStore) ListDocumentEvents(ctx context.Context, documentID string) ([]model.DocumentEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, event_type, event_description, event_date
		 FROM document_events WHERE document_id = $1 ORDER BY event_date`,
		documentID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list document events")
	}
	defer rows.Close()

	var events []model.DocumentEvent
	for rows.Next() {
		var ev model.DocumentEvent
		if err := rows.Scan(&ev.ID, &ev.DocumentID, &ev.EventType, &ev.Description, &ev.OccurredAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document event")
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list document events iterate")
}

func (s *PostgresStore) CreateSyncRun(ctx context.Context, companyID string) (*model.SyncRun, error) {
	run := model.SyncRun{
		ID:        uuid.New().String(),
		CompanyID: companyID,
		Status:    model.RunInProgress,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, company_id, last_nsu, status, documents_synced, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.CompanyID, run.LastNSU, string(run.Status), run.DocumentsSynced, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert sync run for %s", companyID)
	}
	return &run, nil
}

func (s *PostgresStore) FinishSyncRun(ctx context.Context, runID string, status model.RunStatus, lastNSU int64, documentsSynced int, details string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs
		 SET status = $1, last_nsu = $2, documents_synced = $3, details = $4, finished_at = $5
		 WHERE id = $6`,
		string(status), lastNSU, documentsSynced, details, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish sync run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("sync run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListSyncRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error) {
	query := `SELECT id, company_id, last_nsu, status, documents_synced, details, started_at, finished_at
	          FROM sync_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CompanyID != "" {
		query += fmt.Sprintf(` AND company_id = $%d`, argIdx)
		args = append(args, filter.CompanyID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sync runs")
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		var r model.SyncRun
		var details *string
		if err := rows.Scan(&r.ID, &r.CompanyID, &r.LastNSU, &r.Status, &r.DocumentsSynced,
			&details, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sync run")
		}
		if details != nil {
			r.Details = *details
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list sync runs iterate")
}

// LastSuccessfulNSU returns the resume cursor for a company: the last_nsu of
// its most recently finished success run. Companies with no success history
// start from 0.
func (s *PostgresStore) LastSuccessfulNSU(ctx context.Context, companyID string) (int64, error) {
	var nsu int64
	err := s.pool.QueryRow(ctx,
		`SELECT last_nsu FROM sync_runs
		 WHERE company_id = $1 AND status = 'success'
		 ORDER BY finished_at DESC LIMIT 1`,
		companyID,
	).Scan(&nsu)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: last successful nsu for %s", companyID)
	}
	return nsu, nil
}
