package nuvemfiscal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalflow/fiscalflow/internal/resilience"
)

// newTestClient wires a Client against an API stub with a canned token server.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "test-token", "expires_in": int64(3600)})
	}))
	t.Cleanup(auth.Close)

	api := httptest.NewServer(handler)
	t.Cleanup(api.Close)

	tokens := NewTokenProvider(auth.URL, "id", "secret", "s")
	return NewClient(api.URL, tokens, WithRetry(resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
	}))
}

func TestClient_RequestDistribution(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/distribuicao/nfe", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "12345678000199", req["cpf_cnpj"])
		assert.Equal(t, "dist-nsu", req["tipo_consulta"])
		assert.EqualValues(t, 100, req["ultimo_nsu"])

		json.NewEncoder(w).Encode(map[string]any{"status": "concluido", "ult_nsu": 150, "max_nsu": 150})
	})

	dist, err := c.RequestDistribution(context.Background(), "12345678000199", 100)
	require.NoError(t, err)
	assert.False(t, dist.Processing())
	assert.Equal(t, int64(150), dist.LastNSU)
	assert.Equal(t, int64(150), dist.MaxNSU)
}

func TestClient_RequestDistribution_Processing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "processando", "ult_nsu": 0, "max_nsu": 200})
	})

	dist, err := c.RequestDistribution(context.Background(), "1", 0)
	require.NoError(t, err)
	assert.True(t, dist.Processing())
}

func TestClient_ListDocuments(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/distribuicao/nfe/documentos", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "12345678000199", q.Get("cpf_cnpj"))
		assert.Equal(t, "50", q.Get("$top"))
		assert.Equal(t, "0", q.Get("$skip"))

		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			{"chave": "key-1"},
			{"chave_acesso": "key-2"},
		}})
	})

	docs, err := c.ListDocuments(context.Background(), "12345678000199", 50, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "key-1", docs[0].Str("chave", "chave_acesso"))
	assert.Equal(t, "key-2", docs[1].Str("chave", "chave_acesso"))
}

func TestClient_ListDocuments_Empty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	})

	docs, err := c.ListDocuments(context.Background(), "1", 50, 0)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestClient_GetDocument(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/distribuicao/nfe/documentos/KEY123", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"chave": "KEY123", "valor": "99.90"})
	})

	doc, err := c.GetDocument(context.Background(), "KEY123")
	require.NoError(t, err)
	assert.Equal(t, "KEY123", doc.Str("chave"))
	assert.Equal(t, 99.90, doc.Float(0, "valor"))
}

func TestClient_PostManifestation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/distribuicao/nfe/manifestacoes", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "desconhecimento", req["tipo_evento"])
		assert.Equal(t, "nunca comprei disso", req["justificativa"])

		json.NewEncoder(w).Encode(map[string]any{"id": "evt-1", "status": "registrado"})
	})

	ack, err := c.PostManifestation(context.Background(), "123", "KEY", "desconhecimento", "nunca comprei disso")
	require.NoError(t, err)
	assert.Equal(t, "evt-1", ack.ID)
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	var hits atomic.Int64
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "oops", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "concluido", "ult_nsu": 1, "max_nsu": 1})
	})

	_, err := c.RequestDistribution(context.Background(), "1", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestClient_SurfacesClientErrors(t *testing.T) {
	var hits atomic.Int64
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	_, err := c.ListDocuments(context.Background(), "1", 50, 0)
	require.Error(t, err)
	assert.Equal(t, int64(1), hits.Load(), "4xx must not be retried")
}

func TestClient_GetDocumentFile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/distribuicao/nfe/documentos/KEY/xml", r.URL.Path)
		w.Write([]byte("<NFe/>"))
	})

	body, err := c.GetDocumentFile(context.Background(), "KEY", "xml")
	require.NoError(t, err)
	assert.Equal(t, "<NFe/>", string(body))

	_, err = c.GetDocumentFile(context.Background(), "KEY", "exe")
	assert.Error(t, err)
}

func TestRawDocument_AliasLookup(t *testing.T) {
	doc := RawDocument{
		"chave_acesso": "KEY-A",
		"data":         map[string]any{"cpf_cnpj": "00.111.222/0001-33"},
		"valor":        42.5,
	}

	assert.Equal(t, "KEY-A", doc.Str("chave", "chave_acesso"))
	assert.Equal(t, "00.111.222/0001-33", doc.Str("cpf_cnpj", "cnpj", "data.cpf_cnpj"))
	assert.Equal(t, "", doc.Str("missing", "also.missing"))
	assert.Equal(t, 42.5, doc.Float(0, "valor"))
	assert.Equal(t, 7.0, doc.Float(7, "nope"))
}
