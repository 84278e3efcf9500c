package model

import "time"

// Company is a registered recipient the engine syncs documents for.
// TaxID is the CNPJ, stored digits-only.
type Company struct {
	ID        string    `json:"id"`
	TaxID     string    `json:"cnpj"`
	LegalName string    `json:"legal_name"`
	CreatedAt time.Time `json:"created_at"`
}
