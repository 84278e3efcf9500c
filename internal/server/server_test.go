package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fiscalflow/fiscalflow/internal/feedsync"
	"github.com/fiscalflow/fiscalflow/internal/manifest"
	"github.com/fiscalflow/fiscalflow/internal/model"
	"github.com/fiscalflow/fiscalflow/internal/store"
	"github.com/fiscalflow/fiscalflow/internal/webhook"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeRunner struct {
	calls atomic.Int64
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, companyID string) (*feedsync.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &feedsync.Result{DocumentsSynced: 1}, nil
}

type fakeProcessor struct {
	res webhook.Result
}

func (f *fakeProcessor) Process(ctx context.Context, body []byte) *webhook.Result {
	r := f.res
	return &r
}

type fakeManifester struct {
	doc *model.Document
	err error
}

func (f *fakeManifester) Manifest(ctx context.Context, req manifest.Request) (*model.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

type fixture struct {
	srv      *httptest.Server
	store    store.Store
	runner   *fakeRunner
	company  *model.Company
	manifest *fakeManifester
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	company, err := st.CreateCompany(context.Background(), model.Company{TaxID: "12345678000199", LegalName: "Acme"})
	require.NoError(t, err)

	runner := &fakeRunner{}
	man := &fakeManifester{doc: &model.Document{AccessKey: "KEY-1", ManifestationStatus: model.ManifestationConfirmed}}
	s := New(st, runner, &fakeProcessor{res: webhook.Result{Processed: 1}}, man)

	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, store: st, runner: runner, company: company, manifest: man}
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_WebhookAlwaysAcknowledges(t *testing.T) {
	f := newFixture(t)

	resp := postJSON(t, f.srv.URL+"/api/webhooks/nuvem-fiscal", `{"tipo_evento":"dist-nfe"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var res webhook.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, 1, res.Processed)

	// Garbage in, 200 out.
	resp = postJSON(t, f.srv.URL+"/api/webhooks/nuvem-fiscal", `garbage`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_SyncTrigger(t *testing.T) {
	f := newFixture(t)

	resp := postJSON(t, f.srv.URL+"/api/sync/trigger", `{"company_id":"`+f.company.ID+`"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), f.runner.calls.Load())

	var out struct {
		DocumentsSynced int    `json:"documents_synced"`
		Message         string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 1, out.DocumentsSynced)
	assert.Contains(t, out.Message, f.company.TaxID)
}

func TestServer_SyncTriggerRunFailure(t *testing.T) {
	f := newFixture(t)
	f.runner.err = eris.New("feed unreachable")

	resp := postJSON(t, f.srv.URL+"/api/sync/trigger", `{"company_id":"`+f.company.ID+`"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestServer_SyncTriggerValidation(t *testing.T) {
	f := newFixture(t)

	resp := postJSON(t, f.srv.URL+"/api/sync/trigger", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, f.srv.URL+"/api/sync/trigger", `{"company_id":"nope"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Zero(t, f.runner.calls.Load())
}

func TestServer_ListRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.store.CreateSyncRun(ctx, f.company.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.FinishSyncRun(ctx, run.ID, model.RunSuccess, 42, 3, ""))

	resp, err := http.Get(f.srv.URL + "/api/sync/runs?company_id=" + f.company.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Runs []model.SyncRun `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Runs, 1)
	assert.Equal(t, int64(42), out.Runs[0].LastNSU)
}

func TestServer_ListRunsEmpty(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/api/sync/runs")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Runs []model.SyncRun `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotNil(t, out.Runs)
	assert.Empty(t, out.Runs)
}

func TestServer_Manifest(t *testing.T) {
	f := newFixture(t)

	resp := postJSON(t, f.srv.URL+"/api/documents/manifest",
		`{"access_key":"KEY-1","manifestation_type":"confirmed"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var doc model.Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, model.ManifestationConfirmed, doc.ManifestationStatus)
}

func TestServer_ManifestErrors(t *testing.T) {
	f := newFixture(t)

	resp := postJSON(t, f.srv.URL+"/api/documents/manifest", `{"manifestation_type":"confirmed"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.manifest.err = eris.New("manifest: only NFE documents accept manifestation")
	resp = postJSON(t, f.srv.URL+"/api/documents/manifest",
		`{"access_key":"KEY-1","manifestation_type":"confirmed"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	f.manifest.err = &manifest.RemoteError{Err: eris.New("SEFAZ offline")}
	resp = postJSON(t, f.srv.URL+"/api/documents/manifest",
		`{"access_key":"KEY-1","manifestation_type":"confirmed"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
