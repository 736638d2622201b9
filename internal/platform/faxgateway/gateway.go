// Package faxgateway delivers composed documents to an outbound fax
// provider. The HTTP transport signs each submission the same way webhook
// payloads are signed: hex HMAC-SHA256 over the body.
package faxgateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRejected means the provider refused the fax; resubmitting the same
	// request will not help.
	ErrRejected = errors.New("fax rejected by provider")
	// ErrUnavailable covers network failures and provider-side errors. These
	// are safe to retry.
	ErrUnavailable = errors.New("fax provider unavailable")
)

type Fax struct {
	To          string
	From        string
	Reference   string
	ContentType string
	Pages       int
	Document    []byte
}

type Receipt struct {
	ProviderRef string
	AcceptedAt  time.Time
}

// Transport submits one fax. Implementations return ErrRejected or
// ErrUnavailable (possibly wrapped) on failure.
type Transport interface {
	Transmit(ctx context.Context, fax Fax) (*Receipt, error)
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

type Option func(*HTTPTransport)

func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTPTransport) { t.httpClient = c }
}

type HTTPTransport struct {
	url        string
	token      string
	httpClient *http.Client
}

func NewHTTPTransport(url, token string, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

type submission struct {
	To          string `json:"to"`
	From        string `json:"from,omitempty"`
	Reference   string `json:"reference"`
	ContentType string `json:"content_type"`
	Pages       int    `json:"pages"`
	Document    string `json:"document"`
}

type submissionResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (t *HTTPTransport) Transmit(ctx context.Context, fax Fax) (*Receipt, error) {
	payload, err := json.Marshal(submission{
		To:          fax.To,
		From:        fax.From,
		Reference:   fax.Reference,
		ContentType: fax.ContentType,
		Pages:       fax.Pages,
		Document:    base64.StdEncoding.EncodeToString(fax.Document),
	})
	if err != nil {
		return nil, fmt.Errorf("encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", fax.Reference)
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
		req.Header.Set("X-Signature", "sha256="+SignPayload(payload, t.token))
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var out submissionResponse
	_ = json.Unmarshal(body, &out)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out.ID == "" {
			out.ID = fax.Reference
		}
		return &Receipt{ProviderRef: out.ID, AcceptedAt: time.Now().UTC()}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %d %s", ErrRejected, resp.StatusCode, out.Message)
	default:
		return nil, fmt.Errorf("%w: %d %s", ErrUnavailable, resp.StatusCode, out.Message)
	}
}

// ---------------------------------------------------------------------------
// Loopback transport
// ---------------------------------------------------------------------------

// LoopbackTransport accepts every fax and keeps it in memory. It backs
// development servers without a gateway and the test suites; Fail makes the
// next Transmit return the given error.
type LoopbackTransport struct {
	mu      sync.Mutex
	sent    []Fax
	failErr error
}

func NewLoopbackTransport() *LoopbackTransport {
	return &LoopbackTransport{}
}

func (t *LoopbackTransport) Transmit(ctx context.Context, fax Fax) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failErr != nil {
		err := t.failErr
		t.failErr = nil
		return nil, err
	}
	t.sent = append(t.sent, fax)
	return &Receipt{ProviderRef: "loopback-" + uuid.NewString(), AcceptedAt: time.Now().UTC()}, nil
}

func (t *LoopbackTransport) Fail(err error) {
	t.mu.Lock()
	t.failErr = err
	t.mu.Unlock()
}

func (t *LoopbackTransport) Sent() []Fax {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Fax, len(t.sent))
	copy(out, t.sent)
	return out
}
