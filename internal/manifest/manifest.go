// Package manifest records recipient manifestation events against fiscal
// documents, remote-first: nothing is written locally unless the tax
// authority accepted the event.
package manifest

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fiscalflow/fiscalflow/internal/model"
	"github.com/fiscalflow/fiscalflow/internal/nuvemfiscal"
	"github.com/fiscalflow/fiscalflow/internal/store"
)

// Remote posts manifestation events to the distribution API.
type Remote interface {
	PostManifestation(ctx context.Context, taxID, accessKey, eventType, justification string) (*nuvemfiscal.ManifestAck, error)
}

// Request is one manifestation to record.
type Request struct {
	AccessKey     string                  `json:"access_key"`
	Type          model.ManifestationType `json:"manifestation_type"`
	Justification string                  `json:"justification,omitempty"`
}

// RemoteError marks a rejection or outage on the tax authority side, as
// opposed to a local validation failure.
type RemoteError struct {
	Err error
}

func (e *RemoteError) Error() string { return e.Err.Error() }
func (e *RemoteError) Unwrap() error { return e.Err }

// Service validates and executes manifestation requests.
type Service struct {
	remote Remote
	store  store.Store
	log    *zap.Logger
}

func NewService(remote Remote, st store.Store) *Service {
	return &Service{
		remote: remote,
		store:  st,
		log:    zap.L().With(zap.String("component", "manifest")),
	}
}

// Manifest declares the recipient's position on a stored document. All
// validation happens before the remote call; once the remote accepts, the
// local status update and audit event follow. A remote rejection aborts
// with no local change at all.
func (s *Service) Manifest(ctx context.Context, req Request) (*model.Document, error) {
	if _, err := model.ParseManifestationType(string(req.Type)); err != nil {
		return nil, err
	}
	if req.Type.RequiresJustification() && req.Justification == "" {
		return nil, eris.Errorf("manifest: %s requires a justification", req.Type)
	}

	doc, err := s.store.GetDocumentByAccessKey(ctx, req.AccessKey)
	if err != nil {
		return nil, eris.Wrapf(err, "manifest: look up %s", req.AccessKey)
	}
	if doc == nil {
		return nil, eris.Errorf("manifest: document not found: %s", req.AccessKey)
	}
	if doc.Type != model.DocTypeNFE {
		return nil, eris.Errorf("manifest: only NFE documents accept manifestation, %s is %s", req.AccessKey, doc.Type)
	}

	company, err := s.store.GetCompany(ctx, doc.CompanyID)
	if err != nil {
		return nil, eris.Wrapf(err, "manifest: load company %s", doc.CompanyID)
	}
	if company == nil {
		return nil, eris.Errorf("manifest: company not found: %s", doc.CompanyID)
	}

	ack, err := s.remote.PostManifestation(ctx, company.TaxID, doc.AccessKey, req.Type.RemoteEvent(), req.Justification)
	if err != nil {
		return nil, &RemoteError{Err: eris.Wrapf(err, "manifest: remote rejected %s on %s", req.Type, req.AccessKey)}
	}

	if err := s.store.UpdateManifestationStatus(ctx, doc.ID, req.Type.Status()); err != nil {
		return nil, eris.Wrap(err, "manifest: record status")
	}
	if err := s.store.AppendDocumentEvent(ctx, model.DocumentEvent{
		DocumentID:  doc.ID,
		EventType:   "manifestation",
		Description: req.Type.Description(),
	}); err != nil {
		// The status update already landed; the missing audit row is worth
		// a log line, not a failed request.
		s.log.Error("manifestation recorded but audit event failed",
			zap.String("document_id", doc.ID), zap.Error(err))
	}

	s.log.Info("manifestation recorded",
		zap.String("access_key", doc.AccessKey),
		zap.String("type", string(req.Type)),
		zap.String("remote_id", ack.ID))

	doc.ManifestationStatus = req.Type.Status()
	return doc, nil
}
