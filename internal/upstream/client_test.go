package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wxplume/srefproxy/internal/models"
)

func testRequest() models.PlumeRequest {
	return models.PlumeRequest{
		Station:   "OKX",
		Run:       "09",
		Parameter: "temp",
		Date:      "2026-03-10",
	}
}

// TestClient_Fetch_Success verifies a single-encoded payload decodes into the
// expected raw series.
func TestClient_Fetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"GFS": [[0, 10.5], [3, 12.0]], "Mean": [[0, 10.5]]}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	raw, err := client.Fetch(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(raw) != 2 {
		t.Fatalf("Fetch() returned %d series, want 2", len(raw))
	}
	if len(raw["GFS"]) != 2 {
		t.Errorf("GFS series has %d points, want 2", len(raw["GFS"]))
	}
}

// TestClient_Fetch_DoubleEncoded verifies that a payload JSON-encoded twice
// decodes to the same series as its single-encoded form.
func TestClient_Fetch_DoubleEncoded(t *testing.T) {
	inner := `{"GFS": [[0, 10.5], [3, 12.0]]}`
	double, err := json.Marshal(inner)
	if err != nil {
		t.Fatal(err)
	}

	for name, body := range map[string][]byte{"single": []byte(inner), "double": double} {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write(body)
			}))
			defer server.Close()

			client, err := NewClient(server.URL, 5*time.Second)
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			raw, err := client.Fetch(context.Background(), testRequest())
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if len(raw["GFS"]) != 2 {
				t.Errorf("GFS series has %d points, want 2", len(raw["GFS"]))
			}
		})
	}
}

// TestClient_Fetch_StatusError verifies non-2xx responses surface as
// StatusError with the status code preserved.
func TestClient_Fetch_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, 5*time.Second)
	_, err := client.Fetch(context.Background(), testRequest())

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Fetch() error = %v, want *StatusError", err)
	}
	if statusErr.Code != http.StatusServiceUnavailable {
		t.Errorf("StatusError.Code = %d, want 503", statusErr.Code)
	}
}

// TestClient_Fetch_ParseError verifies undecodable payloads surface ErrParse.
func TestClient_Fetch_ParseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, 5*time.Second)
	_, err := client.Fetch(context.Background(), testRequest())
	if !errors.Is(err, ErrParse) {
		t.Errorf("Fetch() error = %v, want ErrParse", err)
	}
}

// TestClient_Fetch_Timeout verifies a stalled upstream surfaces ErrTimeout.
func TestClient_Fetch_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, 50*time.Millisecond)
	_, err := client.Fetch(context.Background(), testRequest())
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Fetch() error = %v, want ErrTimeout", err)
	}
}

// TestClient_Fetch_RequestShape verifies query parameters, station
// uppercasing, compact date format, and identifying headers.
func TestClient_Fetch_RequestShape(t *testing.T) {
	var captured *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, 5*time.Second)
	req := testRequest()
	req.Station = "okx"
	if _, err := client.Fetch(context.Background(), req); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	q := captured.URL.Query()
	if q.Get("station") != "OKX" {
		t.Errorf("station = %q, want OKX", q.Get("station"))
	}
	if q.Get("run") != "09" {
		t.Errorf("run = %q, want 09", q.Get("run"))
	}
	if q.Get("parameter") != "temp" {
		t.Errorf("parameter = %q, want temp", q.Get("parameter"))
	}
	if q.Get("date") != "20260310" {
		t.Errorf("date = %q, want 20260310", q.Get("date"))
	}
	if captured.Header.Get("Accept") != "application/json" {
		t.Errorf("Accept = %q, want application/json", captured.Header.Get("Accept"))
	}
	if captured.Header.Get("User-Agent") != userAgent {
		t.Errorf("User-Agent = %q, want %q", captured.Header.Get("User-Agent"), userAgent)
	}
}

// TestClient_Fetch_CorrelationIDForwarded verifies the correlation ID from
// the request context is forwarded to the upstream.
func TestClient_Fetch_CorrelationIDForwarded(t *testing.T) {
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Correlation-ID")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, 5*time.Second)
	ctx := context.WithValue(context.Background(), "correlation_id", "abc-123")
	if _, err := client.Fetch(ctx, testRequest()); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if gotHeader != "abc-123" {
		t.Errorf("X-Correlation-ID = %q, want abc-123", gotHeader)
	}
}

// TestDecodeSeries_SkipsNonListLabels verifies labels mapping to non-array
// values are skipped rather than failing the decode.
func TestDecodeSeries_SkipsNonListLabels(t *testing.T) {
	raw, err := decodeSeries([]byte(`{"GFS": [[0, 1.0]], "meta": "ignored", "n": 7}`))
	if err != nil {
		t.Fatalf("decodeSeries() error = %v", err)
	}
	if len(raw) != 1 {
		t.Errorf("decodeSeries() returned %d series, want 1", len(raw))
	}
	if _, ok := raw["GFS"]; !ok {
		t.Error("GFS series missing")
	}
}

// TestNewClient_RequiresURL verifies an empty base URL is rejected.
func TestNewClient_RequiresURL(t *testing.T) {
	if _, err := NewClient("", 5*time.Second); err == nil {
		t.Error("NewClient(\"\") error = nil, want non-nil")
	}
}
