// Package webhook turns push notifications from the distribution feed into
// ingested documents. Processing is best-effort: a webhook is a hint that
// something is available, never the source of truth, so every failure is
// absorbed and the next scheduled sync picks up whatever was missed.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fiscalflow/fiscalflow/internal/ingest"
	"github.com/fiscalflow/fiscalflow/internal/nuvemfiscal"
	"github.com/fiscalflow/fiscalflow/internal/store"
)

// Fetcher pulls a document's full payload when the notification only
// carries its access key.
type Fetcher interface {
	GetDocument(ctx context.Context, accessKey string) (nuvemfiscal.RawDocument, error)
}

// DocumentSink persists one raw payload. Implemented by ingest.Ingestor.
type DocumentSink interface {
	Ingest(ctx context.Context, companyID string, raw nuvemfiscal.RawDocument) (bool, error)
}

// Result reports what one webhook delivery produced.
type Result struct {
	Processed int      `json:"processed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

// Processor handles webhook deliveries.
type Processor struct {
	fetch Fetcher
	sink  DocumentSink
	store store.Store
	log   *zap.Logger
}

func NewProcessor(fetch Fetcher, sink DocumentSink, st store.Store) *Processor {
	return &Processor{
		fetch: fetch,
		sink:  sink,
		store: st,
		log:   zap.L().With(zap.String("component", "webhook")),
	}
}

// Process handles one delivery body, which may be a single event object or
// an array of them. It never fails: malformed events are counted and
// described in Result.Errors so the endpoint can acknowledge regardless.
func (p *Processor) Process(ctx context.Context, body []byte) *Result {
	res := &Result{}

	events, err := parseEvents(body)
	if err != nil {
		p.log.Warn("undecodable webhook body", zap.Error(err))
		res.Errors = append(res.Errors, "undecodable body")
		return res
	}

	for _, ev := range events {
		if err := p.handleEvent(ctx, ev, res); err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
	}
	return res
}

func parseEvents(body []byte) ([]nuvemfiscal.RawDocument, error) {
	var many []nuvemfiscal.RawDocument
	if err := json.Unmarshal(body, &many); err == nil {
		return many, nil
	}
	var one nuvemfiscal.RawDocument
	if err := json.Unmarshal(body, &one); err != nil {
		return nil, err
	}
	return []nuvemfiscal.RawDocument{one}, nil
}

// relevantEvent reports whether the notification concerns document
// distribution. Untyped events are dropped along with unrelated ones.
func relevantEvent(eventType string) bool {
	et := strings.ToLower(eventType)
	return strings.Contains(et, "dist-nfe") || strings.Contains(et, "documento")
}

func (p *Processor) handleEvent(ctx context.Context, ev nuvemfiscal.RawDocument, res *Result) error {
	eventType := ev.Str("tipo_evento", "tipo", "evento", "type", "event")
	if !relevantEvent(eventType) {
		p.log.Debug("ignoring unrelated event", zap.String("event_type", eventType))
		res.Skipped++
		return nil
	}

	accessKey := ev.Str("chave", "chave_acesso", "data.chave", "data.chave_acesso")
	if accessKey == "" {
		return fmt.Errorf("event without access key")
	}

	companyTaxID := ingest.DigitsOnly(ev.Str("cpf_cnpj", "cnpj", "cnpj_destinatario", "data.cpf_cnpj"))
	if companyTaxID == "" {
		return fmt.Errorf("event %s without company tax id", accessKey)
	}

	company, err := p.store.GetCompanyByTaxID(ctx, companyTaxID)
	if err != nil {
		return fmt.Errorf("look up company %s: %v", companyTaxID, err)
	}
	if company == nil {
		p.log.Debug("notification for unregistered company",
			zap.String("company_tax_id", companyTaxID))
		res.Skipped++
		return nil
	}

	existing, err := p.store.GetDocumentByAccessKey(ctx, accessKey)
	if err != nil {
		return fmt.Errorf("look up document %s: %v", accessKey, err)
	}
	if existing != nil {
		res.Skipped++
		return nil
	}

	// The notification body is only a stub; ingest the full payload or
	// nothing. A stub row would occupy the access key forever (inserts are
	// once-only), so on fetch failure the document is left to the next
	// scheduled sync instead.
	raw, err := p.fetch.GetDocument(ctx, accessKey)
	if err != nil {
		return fmt.Errorf("fetch %s: %v", accessKey, err)
	}

	inserted, err := p.sink.Ingest(ctx, company.ID, raw)
	if err != nil {
		return fmt.Errorf("ingest %s: %v", accessKey, err)
	}
	if inserted {
		res.Processed++
	} else {
		res.Skipped++
	}
	return nil
}
