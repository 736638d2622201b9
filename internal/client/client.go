// Package client talks to the oppdash API on behalf of the command-line tool.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oppdash/oppdash/internal/domain/faxing"
	"github.com/oppdash/oppdash/internal/domain/opportunity"
	"github.com/oppdash/oppdash/internal/domain/pharmacy"
	"github.com/oppdash/oppdash/internal/domain/prescribervolume"
	"github.com/oppdash/oppdash/pkg/pagination"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api error: %d %s", e.StatusCode, e.Message)
}

// Retryable reports whether repeating the same request may succeed.
// Server-side failures are; rejections of the request itself are not.
func (e *APIError) Retryable() bool { return e.StatusCode >= 500 }

func (e *APIError) Reason() string { return e.Message }

// Message turns any client error into something fit to show a user,
// preferring the server's own message.
func Message(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

type Client struct {
	baseURL    string
	token      string
	pharmacy   string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New returns a client for the API rooted at baseURL (the /api/v1 prefix is
// added here). pharmacy selects the tenant and may be empty.
func New(baseURL, token, pharmacy string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/api/v1",
		token:      token,
		pharmacy:   pharmacy,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.pharmacy != "" {
		req.Header.Set("X-Pharmacy-ID", c.pharmacy)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &msg)
		return &APIError{StatusCode: resp.StatusCode, Message: msg.Message}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) Preflight(ctx context.Context, opportunityID uuid.UUID, req faxing.PreflightRequest) (*faxing.PreflightResult, error) {
	var out faxing.PreflightResult
	if err := c.do(ctx, http.MethodPost, "/opportunities/"+opportunityID.String()+"/fax/preflight", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Send(ctx context.Context, opportunityID uuid.UUID, req faxing.SendRequest) (*faxing.SendResponse, error) {
	var out faxing.SendResponse
	if err := c.do(ctx, http.MethodPost, "/opportunities/"+opportunityID.String()+"/fax/send", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Transmissions(ctx context.Context, opportunityID uuid.UUID) ([]*faxing.Transmission, error) {
	var out []*faxing.Transmission
	if err := c.do(ctx, http.MethodGet, "/opportunities/"+opportunityID.String()+"/fax/transmissions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PrescriberStats(ctx context.Context, prescriberID uuid.UUID) (*prescribervolume.Stats, error) {
	var out prescribervolume.Stats
	if err := c.do(ctx, http.MethodGet, "/prescribers/"+prescriberID.String()+"/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateStatus(ctx context.Context, id uuid.UUID, status opportunity.Status) error {
	in := map[string]string{"status": string(status)}
	return c.do(ctx, http.MethodPatch, "/opportunities/"+id.String()+"/status", in, nil)
}

func (c *Client) Reopen(ctx context.Context, id uuid.UUID) (*opportunity.Opportunity, error) {
	var out opportunity.Opportunity
	if err := c.do(ctx, http.MethodPost, "/opportunities/"+id.String()+"/reopen", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error {
	in := map[string]string{"staff_notes": notes}
	return c.do(ctx, http.MethodPatch, "/opportunities/"+id.String()+"/notes", in, nil)
}

func (c *Client) GetOpportunity(ctx context.Context, id uuid.UUID) (*opportunity.Detail, error) {
	var out opportunity.Detail
	if err := c.do(ctx, http.MethodGet, "/opportunities/"+id.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListByPatient pages through every opportunity on file for the patient.
func (c *Client) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*opportunity.Detail, error) {
	var all []*opportunity.Detail
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(pagination.MaxLimit))
		q.Set("offset", strconv.Itoa(len(all)))
		var page pagination.Response[*opportunity.Detail]
		if err := c.do(ctx, http.MethodGet, "/patients/"+patientID.String()+"/opportunities?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		if !page.HasMore || len(page.Data) == 0 {
			return all, nil
		}
	}
}

func (c *Client) Pharmacy(ctx context.Context) (*pharmacy.Profile, error) {
	var out pharmacy.Profile
	if err := c.do(ctx, http.MethodGet, "/pharmacy", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
