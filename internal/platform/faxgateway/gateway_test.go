package faxgateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPTransport_Success(t *testing.T) {
	var gotSig, gotKey string
	var got submission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature")
		gotKey = r.Header.Get("Idempotency-Key")
		if gotSig != "sha256="+SignPayload(body, "secret") {
			t.Errorf("signature mismatch")
		}
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"prov-1"}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "secret")
	rcpt, err := tr.Transmit(context.Background(), Fax{
		To: "5551234567", Reference: "tx-1", ContentType: "application/pdf", Pages: 2, Document: []byte("%PDF"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rcpt.ProviderRef != "prov-1" {
		t.Errorf("expected provider ref prov-1, got %s", rcpt.ProviderRef)
	}
	if gotKey != "tx-1" {
		t.Errorf("expected idempotency key tx-1, got %s", gotKey)
	}
	if got.To != "5551234567" || got.Pages != 2 {
		t.Errorf("unexpected submission %+v", got)
	}
}

func TestHTTPTransport_ErrorClasses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"bad number", http.StatusUnprocessableEntity, ErrRejected},
		{"throttled", http.StatusTooManyRequests, ErrUnavailable},
		{"provider down", http.StatusBadGateway, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer srv.Close()

			_, err := NewHTTPTransport(srv.URL, "").Transmit(context.Background(), Fax{To: "1", Reference: "r"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !strings.Contains(err.Error(), "nope") {
				t.Errorf("expected provider message in error, got %v", err)
			}
		})
	}
}

func TestHTTPTransport_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewHTTPTransport(url, "").Transmit(context.Background(), Fax{To: "1", Reference: "r"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestLoopbackTransport(t *testing.T) {
	tr := NewLoopbackTransport()
	ctx := context.Background()

	tr.Fail(ErrUnavailable)
	if _, err := tr.Transmit(ctx, Fax{To: "1"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if _, err := tr.Transmit(ctx, Fax{To: "1"}); err != nil {
		t.Fatalf("expected failure to be one-shot, got %v", err)
	}
	if len(tr.Sent()) != 1 {
		t.Errorf("expected 1 sent fax, got %d", len(tr.Sent()))
	}
}
