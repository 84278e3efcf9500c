// Package server exposes the sync engine over HTTP: health, webhook
// receipt, sync triggering, run history, and manifestation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fiscalflow/fiscalflow/internal/feedsync"
	"github.com/fiscalflow/fiscalflow/internal/manifest"
	"github.com/fiscalflow/fiscalflow/internal/model"
	"github.com/fiscalflow/fiscalflow/internal/store"
	"github.com/fiscalflow/fiscalflow/internal/webhook"
)

// SyncRunner starts sync runs. Implemented by feedsync.Runner.
type SyncRunner interface {
	Run(ctx context.Context, companyID string) (*feedsync.Result, error)
}

// Manifester records manifestation events. Implemented by manifest.Service.
type Manifester interface {
	Manifest(ctx context.Context, req manifest.Request) (*model.Document, error)
}

// WebhookProcessor handles webhook deliveries. Implemented by webhook.Processor.
type WebhookProcessor interface {
	Process(ctx context.Context, body []byte) *webhook.Result
}

// Server wires the HTTP surface.
type Server struct {
	store      store.Store
	runner     SyncRunner
	webhooks   WebhookProcessor
	manifester Manifester
	log        *zap.Logger
}

func New(st store.Store, runner SyncRunner, webhooks WebhookProcessor, manifester Manifester) *Server {
	return &Server{
		store:      st,
		runner:     runner,
		webhooks:   webhooks,
		manifester: manifester,
		log:        zap.L().With(zap.String("component", "server")),
	}
}

// Router builds the chi router with the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/webhooks/nuvem-fiscal", s.handleWebhook)
		r.Post("/sync/trigger", s.handleSyncTrigger)
		r.Get("/sync/runs", s.handleListRuns)
		r.Post("/documents/manifest", s.handleManifest)
	})
	return r
}

// ListenAndServe runs the server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	s.log.Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebhook acknowledges every delivery with 200. Rejecting with an
// error status would only make the feed redeliver a payload we already
// know we cannot use; the scheduled sync is the safety net.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusOK, webhook.Result{Errors: []string{"unreadable body"}})
		return
	}
	res := s.webhooks.Process(r.Context(), body)
	if len(res.Errors) > 0 {
		s.log.Warn("webhook processed with errors",
			zap.Int("processed", res.Processed),
			zap.Strings("errors", res.Errors))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CompanyID string `json:"company_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "company_id is required")
		return
	}

	company, err := s.store.GetCompany(r.Context(), req.CompanyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "company lookup failed")
		return
	}
	if company == nil {
		writeError(w, http.StatusNotFound, "company not found")
		return
	}

	// Synchronous on purpose: the caller wants the tally, and the route
	// timeout bounds how long a pathological run can hold the request.
	res, err := s.runner.Run(r.Context(), req.CompanyID)
	if err != nil {
		s.log.Error("triggered sync failed",
			zap.String("company_id", req.CompanyID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "sync failed, see /api/sync/runs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":          fmt.Sprintf("synced %d documents for %s", res.DocumentsSynced, company.TaxID),
		"documents_synced": res.DocumentsSynced,
		"last_nsu":         res.LastNSU,
		"run_id":           res.RunID,
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		CompanyID: r.URL.Query().Get("company_id"),
		Status:    model.RunStatus(r.URL.Query().Get("status")),
	}
	runs, err := s.store.ListSyncRuns(r.Context(), filter)
	if err != nil {
		s.log.Error("list sync runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list sync runs failed")
		return
	}
	if runs == nil {
		runs = []model.SyncRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	var req manifest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccessKey == "" {
		writeError(w, http.StatusBadRequest, "access_key is required")
		return
	}

	doc, err := s.manifester.Manifest(r.Context(), req)
	if err != nil {
		status := http.StatusUnprocessableEntity
		var remoteErr *manifest.RemoteError
		if errors.As(err, &remoteErr) {
			status = http.StatusBadGateway
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close() //nolint:errcheck
	return io.ReadAll(io.LimitReader(r.Body, 1<<20))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
