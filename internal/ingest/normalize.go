// Package ingest normalizes raw feed payloads into documents and writes
// them through the idempotency barrier.
package ingest

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/fiscalflow/fiscalflow/internal/model"
	"github.com/fiscalflow/fiscalflow/internal/nuvemfiscal"
)

// ErrMissingAccessKey marks a payload that carries no access key under any
// known alias. Such payloads are skipped, never fatal to a batch.
var ErrMissingAccessKey = eris.New("ingest: payload has no access key")

// Issuer is the supplier identity extracted from a raw payload. Empty when
// the payload names no issuer.
type Issuer struct {
	TaxID string
	Name  string
}

// issueDateLayouts covers the formats the feed has been seen emitting.
var issueDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Normalize maps one raw payload into a Document for companyID. Field names
// vary by feed endpoint, so every field is resolved through an alias list;
// anything unparseable falls back to a safe default rather than failing the
// document. Only a missing access key rejects the payload.
func Normalize(companyID string, raw nuvemfiscal.RawDocument, receivedAt time.Time) (*model.Document, Issuer, error) {
	accessKey := raw.Str("chave", "chave_acesso", "chNFe", "id")
	if accessKey == "" {
		return nil, Issuer{}, ErrMissingAccessKey
	}

	doc := &model.Document{
		CompanyID:           companyID,
		AccessKey:           accessKey,
		Type:                documentType(raw),
		Number:              fallback(raw.Str("numero", "numero_nfe", "nNF"), "0"),
		Series:              fallback(raw.Str("serie", "serie_nfe"), "0"),
		IssueDate:           issueDate(raw, receivedAt),
		TotalValue:          raw.Float(0, "valor_nf", "valor_total", "valor", "vNF"),
		Protocol:            raw.Str("protocolo", "numero_protocolo", "nProt"),
		Status:              documentStatus(raw),
		ManifestationStatus: model.ManifestationNone,
	}

	issuer := Issuer{
		TaxID: DigitsOnly(raw.Str("cnpj_emitente", "cpf_cnpj_emitente", "cnpj", "emitente.cpf_cnpj")),
		Name:  normalizeName(raw.Str("nome_emitente", "razao_social_emitente", "razao_social", "emitente.nome")),
	}
	return doc, issuer, nil
}

func documentType(raw nuvemfiscal.RawDocument) model.DocumentType {
	switch strings.ToUpper(raw.Str("tipo_documento", "tipo")) {
	case "NFCE":
		return model.DocTypeNFCE
	case "CTE":
		return model.DocTypeCTE
	case "NFSE":
		return model.DocTypeNFSE
	default:
		return model.DocTypeNFE
	}
}

func documentStatus(raw nuvemfiscal.RawDocument) model.DocumentStatus {
	switch strings.ToLower(raw.Str("situacao", "status")) {
	case "cancelada", "cancelado", "canceled":
		return model.StatusCanceled
	case "denegada", "denegado", "denied":
		return model.StatusDenied
	default:
		return model.StatusAuthorized
	}
}

func issueDate(raw nuvemfiscal.RawDocument, receivedAt time.Time) time.Time {
	s := raw.Str("data_emissao", "dhEmi", "data_hora_emissao")
	for _, layout := range issueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return receivedAt
}

// DigitsOnly strips formatting from a tax id so "00.111.222/0001-33" and
// "00111222000133" dedupe to the same supplier.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeName NFC-normalizes and trims an issuer name. Feed payloads mix
// composed and decomposed accents for the same supplier.
func normalizeName(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
