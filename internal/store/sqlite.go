package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/fiscalflow/fiscalflow/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id         TEXT PRIMARY KEY,
	cnpj       TEXT NOT NULL UNIQUE,
	legal_name TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS suppliers (
	id         TEXT PRIMARY KEY,
	cnpj_cpf   TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS documents (
	id                   TEXT PRIMARY KEY,
	company_id           TEXT NOT NULL REFERENCES companies(id),
	supplier_id          TEXT REFERENCES suppliers(id),
	access_key           TEXT NOT NULL UNIQUE,
	document_type        TEXT NOT NULL,
	document_number      TEXT NOT NULL,
	series               TEXT NOT NULL,
	issue_date           DATETIME NOT NULL,
	total_value          REAL NOT NULL DEFAULT 0,
	protocol             TEXT,
	status               TEXT NOT NULL,
	manifestation_status TEXT NOT NULL DEFAULT 'none',
	raw_data             TEXT,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_documents_company_id ON documents(company_id);
CREATE INDEX IF NOT EXISTS idx_documents_supplier_id ON documents(supplier_id);

CREATE TABLE IF NOT EXISTS sync_runs (
	id               TEXT PRIMARY KEY,
	company_id       TEXT NOT NULL REFERENCES companies(id),
	last_nsu         INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'in_progress',
	documents_synced INTEGER NOT NULL DEFAULT 0,
	details          TEXT,
	started_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at      DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_company_status ON sync_runs(company_id, status);

CREATE TABLE IF NOT EXISTS document_events (
	id                TEXT PRIMARY KEY,
	document_id       TEXT NOT NULL REFERENCES documents(id),
	event_type        TEXT NOT NULL,
	event_description TEXT NOT NULL,
	event_date        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_document_events_document_id ON document_events(document_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateCompany(ctx context.Context, c model.Company) (*model.Company, error) {
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (id, cnpj, legal_name, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.TaxID, c.LegalName, c.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert company %s", c.TaxID)
	}
	return &c, nil
}

func (s *SQLiteStore) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	return scanSQLiteCompany(s.db.QueryRowContext(ctx,
		`SELECT id, cnpj, legal_name, created_at FROM companies WHERE id = ?`, id))
}

func (s *SQLiteStore) GetCompanyByTaxID(ctx context.Context, taxID string) (*model.Company, error) {
	return scanSQLiteCompany(s.db.QueryRowContext(ctx,
		`SELECT id, cnpj, legal_name, created_at FROM companies WHERE cnpj = ?`, taxID))
}

func (s *SQLiteStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cnpj, legal_name, created_at FROM companies ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(&c.ID, &c.TaxID, &c.LegalName, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		companies = append(companies, c)
	}
	return companies, eris.Wrap(rows.Err(), "sqlite: list companies iterate")
}

func (s *SQLiteStore) GetDocumentByAccessKey(ctx context.Context, accessKey string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, company_id, supplier_id, access_key, document_type, document_number, series,
		        issue_date, total_value, protocol, status, manifestation_status, raw_data, created_at
		 FROM documents WHERE access_key = ?`,
		accessKey,
	)

	var d model.Document
	var supplierID, protocol, rawData sql.NullString
	err := row.Scan(&d.ID, &d.CompanyID, &supplierID, &d.AccessKey, &d.Type, &d.Number, &d.Series,
		&d.IssueDate, &d.TotalValue, &protocol, &d.Status, &d.ManifestationStatus, &rawData, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document %s", accessKey)
	}
	if supplierID.Valid {
		d.SupplierID = &supplierID.String
	}
	if protocol.Valid {
		d.Protocol = protocol.String
	}
	if rawData.Valid {
		d.RawData = []byte(rawData.String)
	}
	return &d, nil
}

func (s *SQLiteStore) InsertDocument(ctx context.Context, doc model.Document) (bool, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.ManifestationStatus == "" {
		doc.ManifestationStatus = model.ManifestationNone
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO documents
		 (id, company_id, supplier_id, access_key, document_type, document_number, series,
		  issue_date, total_value, protocol, status, manifestation_status, raw_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.CompanyID, doc.SupplierID, doc.AccessKey, string(doc.Type), doc.Number, doc.Series,
		doc.IssueDate, doc.TotalValue, doc.Protocol, string(doc.Status), string(doc.ManifestationStatus),
		string(doc.RawData), doc.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert document %s", doc.AccessKey)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) UpdateManifestationStatus(ctx context.Context, documentID string, status model.ManifestationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET manifestation_status = ? WHERE id = ?`,
		string(status), documentID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update manifestation %s", documentID)
	}
	return checkRowsAffected(res, "document", documentID)
}

func (s *SQLiteStore) UpsertSupplier(ctx context.Context, taxID, name string) (*model.Supplier, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO suppliers (id, cnpj_cpf, name, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (cnpj_cpf) DO UPDATE SET name = excluded.name`,
		uuid.New().String(), taxID, name, time.Now().UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert supplier %s", taxID)
	}

	var sup model.Supplier
	err = s.db.QueryRowContext(ctx,
		`SELECT id, cnpj_cpf, name, created_at FROM suppliers WHERE cnpj_cpf = ?`, taxID,
	).Scan(&sup.ID, &sup.TaxID, &sup.Name, &sup.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: reload supplier %s", taxID)
	}
	return &sup, nil
}

func (s *SQLiteStore) AppendDocumentEvent(ctx context.Context, ev model.DocumentEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_events (id, document_id, event_type, event_description, event_date)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.DocumentID, ev.EventType, ev.Description, ev.OccurredAt,
	)
	return eris.Wrapf(err, "sqlite: append event for document %s", ev.DocumentID)
}

func (s *SQLiteStore) ListDocumentEvents(ctx context.Context, documentID string) ([]model.DocumentEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, event_type, event_description, event_date
		 FROM document_events WHERE document_id = ? ORDER BY event_date`,
		documentID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list document events")
	}
	defer rows.Close()

	var events []model.DocumentEvent
	for rows.Next() {
		var ev model.DocumentEvent
		if err := rows.Scan(&ev.ID, &ev.DocumentID, &ev.EventType, &ev.Description, &ev.OccurredAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document event")
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list document events iterate")
}

func (s *SQLiteStore) CreateSyncRun(ctx context.Context, companyID string) (*model.SyncRun, error) {
	run := model.SyncRun{
		ID:        uuid.New().String(),
		CompanyID: companyID,
		Status:    model.RunInProgress,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, company_id, last_nsu, status, documents_synced, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.CompanyID, run.LastNSU, string(run.Status), run.DocumentsSynced, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert sync run for %s", companyID)
	}
	return &run, nil
}

func (s *SQLiteStore) FinishSyncRun(ctx context.Context, runID string, status model.RunStatus, lastNSU int64, documentsSynced int, details string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs
		 SET status = ?, last_nsu = ?, documents_synced = ?, details = ?, finished_at = ?
		 WHERE id = ?`,
		string(status), lastNSU, documentsSynced, details, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish sync run %s", runID)
	}
	return checkRowsAffected(res, "sync run", runID)
}

func (s *SQLiteStore) ListSyncRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error) {
	query := `SELECT id, company_id, last_nsu, status, documents_synced, details, started_at, finished_at
	          FROM sync_runs WHERE 1=1`
	var args []any

	if filter.CompanyID != "" {
		query += ` AND company_id = ?`
		args = append(args, filter.CompanyID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sync runs")
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		var r model.SyncRun
		var details sql.NullString
		var finishedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.CompanyID, &r.LastNSU, &r.Status, &r.DocumentsSynced,
			&details, &r.StartedAt, &finishedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync run")
		}
		if details.Valid {
			r.Details = details.String
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list sync runs iterate")
}

func (s *SQLiteStore) LastSuccessfulNSU(ctx context.Context, companyID string) (int64, error) {
	var nsu int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_nsu FROM sync_runs
		 WHERE company_id = ? AND status = 'success'
		 ORDER BY finished_at DESC LIMIT 1`,
		companyID,
	).Scan(&nsu)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: last successful nsu for %s", companyID)
	}
	return nsu, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func scanSQLiteCompany(row *sql.Row) (*model.Company, error) {
	var c model.Company
	err := row.Scan(&c.ID, &c.TaxID, &c.LegalName, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan company")
	}
	return &c, nil
}
