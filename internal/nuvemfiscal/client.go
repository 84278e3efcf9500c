package nuvemfiscal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/fiscalflow/fiscalflow/internal/resilience"
)

// Distribution is the feed's answer to an advance-cursor request.
type Distribution struct {
	Status  string `json:"status"`
	LastNSU int64  `json:"ult_nsu"`
	MaxNSU  int64  `json:"max_nsu"`
}

// Processing reports whether the requested batch is still being prepared.
// The waiting policy belongs to the caller, not the client.
func (d *Distribution) Processing() bool {
	return d.Status == "processando"
}

// ManifestAck is the remote acknowledgment of a manifestation event.
type ManifestAck struct {
	ID       string `json:"id,omitempty"`
	Status   string `json:"status,omitempty"`
	Protocol string `json:"protocolo,omitempty"`
}

// Option configures the Client.
type Option func(*Client)

// WithRateLimit sets a per-second rate limit across all API calls.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry overrides the transient-failure retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// Client issues authenticated calls against the distribution API. Network
// and 5xx failures are retried a bounded number of times inside the round
// trip; whatever still fails is surfaced as-is so the sync controller can
// apply its own batch policy.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *TokenProvider
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// NewClient creates a Client. The TokenProvider is injected so its
// process-wide cache is shared by every component holding the client.
func NewClient(baseURL string, tokens *TokenProvider, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		tokens:     tokens,
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			OnRetry:        resilience.RetryLogger("nuvemfiscal", "request"),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestDistribution asks the feed to prepare the next batch of documents
// after lastNSU. A "processando" status means the batch is not ready yet;
// this is a single round trip and the client does not wait.
func (c *Client) RequestDistribution(ctx context.Context, taxID string, lastNSU int64) (*Distribution, error) {
	payload := map[string]any{
		"cpf_cnpj":      taxID,
		"tipo_consulta": "dist-nsu",
		"ultimo_nsu":    lastNSU,
	}

	var dist Distribution
	if err := c.doJSON(ctx, http.MethodPost, "/distribuicao/nfe", payload, &dist); err != nil {
		return nil, eris.Wrapf(err, "nuvemfiscal: request distribution for %s", taxID)
	}
	return &dist, nil
}

// ListDocuments returns up to top raw documents currently buffered in the
// feed for taxID. An empty slice means nothing is available right now.
func (c *Client) ListDocuments(ctx context.Context, taxID string, top, skip int) ([]RawDocument, error) {
	path := fmt.Sprintf("/distribuicao/nfe/documentos?cpf_cnpj=%s&$top=%d&$skip=%d",
		url.QueryEscape(taxID), top, skip)

	var out struct {
		Data []RawDocument `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, eris.Wrapf(err, "nuvemfiscal: list documents for %s", taxID)
	}
	return out.Data, nil
}

// GetDocument fetches one document's full payload by access key.
func (c *Client) GetDocument(ctx context.Context, accessKey string) (RawDocument, error) {
	var doc RawDocument
	if err := c.doJSON(ctx, http.MethodGet, "/distribuicao/nfe/documentos/"+url.PathEscape(accessKey), nil, &doc); err != nil {
		return nil, eris.Wrapf(err, "nuvemfiscal: get document %s", accessKey)
	}
	return doc, nil
}

// PostManifestation records a manifestation event on the remote system.
func (c *Client) PostManifestation(ctx context.Context, taxID, accessKey, eventType, justification string) (*ManifestAck, error) {
	payload := map[string]any{
		"cpf_cnpj":    taxID,
		"chave_nfe":   accessKey,
		"tipo_evento": eventType,
	}
	if justification != "" {
		payload["justificativa"] = justification
	}

	var ack ManifestAck
	if err := c.doJSON(ctx, http.MethodPost, "/distribuicao/nfe/manifestacoes", payload, &ack); err != nil {
		return nil, eris.Wrapf(err, "nuvemfiscal: manifest %s on %s", eventType, accessKey)
	}
	return &ack, nil
}

// GetDocumentFile downloads the document's XML or DANFE PDF by access key.
func (c *Client) GetDocumentFile(ctx context.Context, accessKey, fileType string) ([]byte, error) {
	if fileType != "xml" && fileType != "pdf" {
		return nil, eris.Errorf("nuvemfiscal: unsupported file type %q (valid: xml, pdf)", fileType)
	}

	path := fmt.Sprintf("/distribuicao/nfe/documentos/%s/%s", url.PathEscape(accessKey), fileType)
	body, err := c.doRaw(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "nuvemfiscal: download %s for %s", fileType, accessKey)
	}
	return body, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var reqBody []byte
	if payload != nil {
		var err error
		reqBody, err = json.Marshal(payload)
		if err != nil {
			return eris.Wrap(err, "marshal request body")
		}
	}

	body, err := c.doRaw(ctx, method, path, reqBody)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "decode response body")
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, reqBody []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		var bodyReader io.Reader
		if reqBody != nil {
			bodyReader = bytes.NewReader(reqBody)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return nil, eris.Wrap(err, "build request")
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "%s %s", method, path)
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrapf(err, "read response of %s %s", method, path)
		}

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(
				eris.Errorf("%s %s: status %d", method, path, resp.StatusCode),
				resp.StatusCode,
			)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, eris.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(body))
		}

		return body, nil
	})
}
