package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fiscalflow/fiscalflow/internal/nuvemfiscal"
	"github.com/fiscalflow/fiscalflow/internal/store"
)

// Ingestor writes normalized documents into the store. Safe to call with
// payloads already seen: the document unique constraint makes re-ingestion
// a no-op.
type Ingestor struct {
	store store.Store
	log   *zap.Logger
}

func New(st store.Store) *Ingestor {
	return &Ingestor{
		store: st,
		log:   zap.L().With(zap.String("component", "ingest")),
	}
}

// Ingest normalizes and persists one raw payload for companyID. It reports
// whether a new document row was written: false means the access key was
// already known (or became known concurrently) and nothing changed.
//
// Supplier upsert failures are tolerated: the document is still stored,
// just without a supplier link.
func (i *Ingestor) Ingest(ctx context.Context, companyID string, raw nuvemfiscal.RawDocument) (bool, error) {
	doc, issuer, err := Normalize(companyID, raw, time.Now().UTC())
	if err != nil {
		return false, err
	}

	// Cheap pre-check. The constraint below is the real barrier; this just
	// avoids supplier writes for documents we already hold.
	existing, err := i.store.GetDocumentByAccessKey(ctx, doc.AccessKey)
	if err != nil {
		return false, eris.Wrapf(err, "ingest: look up %s", doc.AccessKey)
	}
	if existing != nil {
		i.log.Debug("document already stored", zap.String("access_key", doc.AccessKey))
		return false, nil
	}

	if issuer.TaxID != "" {
		sup, err := i.store.UpsertSupplier(ctx, issuer.TaxID, issuer.Name)
		if err != nil {
			i.log.Warn("supplier upsert failed, storing document without supplier",
				zap.String("supplier_tax_id", issuer.TaxID),
				zap.Error(err))
		} else {
			doc.SupplierID = &sup.ID
		}
	}

	if rawJSON, err := json.Marshal(map[string]any(raw)); err == nil {
		doc.RawData = rawJSON
	}

	inserted, err := i.store.InsertDocument(ctx, *doc)
	if err != nil {
		return false, eris.Wrapf(err, "ingest: insert %s", doc.AccessKey)
	}
	if inserted {
		i.log.Info("document ingested",
			zap.String("access_key", doc.AccessKey),
			zap.String("type", string(doc.Type)),
			zap.Float64("total_value", doc.TotalValue))
	}
	return inserted, nil
}
