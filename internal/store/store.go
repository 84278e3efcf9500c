// Package store persists companies, documents, suppliers, sync runs and
// document events behind a single interface with Postgres and SQLite backends.
package store

import (
	"context"

	"github.com/fiscalflow/fiscalflow/internal/model"
)

// RunFilter narrows ListSyncRuns.
type RunFilter struct {
	CompanyID string          `json:"company_id,omitempty"`
	Status    model.RunStatus `json:"status,omitempty"`
	Limit     int             `json:"limit,omitempty"`
}

// Store defines the persistence interface for the sync engine.
//
// Lookups that miss return (nil, nil), not an error: absence is a normal
// outcome for idempotent ingestion, not a failure.
type Store interface {
	// Companies
	CreateCompany(ctx context.Context, c model.Company) (*model.Company, error)
	GetCompany(ctx context.Context, id string) (*model.Company, error)
	GetCompanyByTaxID(ctx context.Context, taxID string) (*model.Company, error)
	ListCompanies(ctx context.Context) ([]model.Company, error)

	// Documents. InsertDocument reports whether a row was actually written:
	// a duplicate access key is swallowed by the unique constraint and
	// returns (false, nil).
	GetDocumentByAccessKey(ctx context.Context, accessKey string) (*model.Document, error)
	InsertDocument(ctx context.Context, doc model.Document) (bool, error)
	UpdateManifestationStatus(ctx context.Context, documentID string, status model.ManifestationStatus) error

	// Suppliers
	UpsertSupplier(ctx context.Context, taxID, name string) (*model.Supplier, error)

	// Audit trail
	AppendDocumentEvent(ctx context.Context, ev model.DocumentEvent) error
	ListDocumentEvents(ctx context.Context, documentID string) ([]model.DocumentEvent, error)

	// Sync runs. LastSuccessfulNSU is the resume cursor: the last_nsu of the
	// most recently finished success run, or 0 when the company has none.
	CreateSyncRun(ctx context.Context, companyID string) (*model.SyncRun, error)
	FinishSyncRun(ctx context.Context, runID string, status model.RunStatus, lastNSU int64, documentsSynced int, details string) error
	ListSyncRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error)
	LastSuccessfulNSU(ctx context.Context, companyID string) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
