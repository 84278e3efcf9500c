// Package model defines the core entities shared across the sync engine.
package model

import (
	"encoding/json"
	"time"
)

// DocumentType identifies the kind of fiscal document.
type DocumentType string

const (
	DocTypeNFE  DocumentType = "NFE"  // electronic invoice
	DocTypeNFCE DocumentType = "NFCE" // consumer invoice
	DocTypeCTE  DocumentType = "CTE"  // transport invoice
	DocTypeNFSE DocumentType = "NFSE" // service invoice
)

// DocumentStatus is the authorization status reported by the tax authority.
type DocumentStatus string

const (
	StatusAuthorized DocumentStatus = "authorized"
	StatusCanceled   DocumentStatus = "canceled"
	StatusDenied     DocumentStatus = "denied"
)

// ManifestationStatus tracks the recipient's declared position on an NFE.
// Only meaningful for DocTypeNFE; other types stay at ManifestationNone.
type ManifestationStatus string

const (
	ManifestationNone         ManifestationStatus = "none"
	ManifestationAcknowledged ManifestationStatus = "acknowledged"
	ManifestationConfirmed    ManifestationStatus = "confirmed"
	ManifestationUnknown      ManifestationStatus = "unknown"
	ManifestationUnrealized   ManifestationStatus = "unrealized"
)

// Document is one fiscal record, uniquely identified system-wide by AccessKey.
// AccessKey is immutable; a row is inserted at most once and never re-inserted.
type Document struct {
	ID                  string              `json:"id"`
	CompanyID           string              `json:"company_id"`
	SupplierID          *string             `json:"supplier_id,omitempty"`
	AccessKey           string              `json:"access_key"`
	Type                DocumentType        `json:"document_type"`
	Number              string              `json:"document_number"`
	Series              string              `json:"series"`
	IssueDate           time.Time           `json:"issue_date"`
	TotalValue          float64             `json:"total_value"`
	Protocol            string              `json:"protocol,omitempty"`
	Status              DocumentStatus      `json:"status"`
	ManifestationStatus ManifestationStatus `json:"manifestation_status"`
	RawData             json.RawMessage     `json:"raw_data,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
}

// Supplier is the issuer of a document, deduplicated by normalized tax id.
// Created lazily on first sighting; the name is last-write-wins.
type Supplier struct {
	ID        string    `json:"id"`
	TaxID     string    `json:"cnpj_cpf"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentEvent is an immutable audit record attached to a document.
type DocumentEvent struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	EventType   string    `json:"event_type"`
	Description string    `json:"event_description"`
	OccurredAt  time.Time `json:"event_date"`
}
