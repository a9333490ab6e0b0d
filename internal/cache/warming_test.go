package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/wxplume/srefproxy/internal/models"
)

// recordingFetcher records warmed tuples and fails the keys in failKeys.
type recordingFetcher struct {
	mu       sync.Mutex
	keys     []string
	failKeys map[string]bool
}

func (f *recordingFetcher) GetPlumes(ctx context.Context, req models.PlumeRequest, clientID string) (models.ProcessedResult, models.CacheStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := req.CacheKey()
	f.keys = append(f.keys, key)
	if f.failKeys[key] {
		return nil, "", errors.New("upstream down")
	}
	return models.ProcessedResult{}, models.CacheStatusMiss, nil
}

func warmRequests() []models.PlumeRequest {
	return []models.PlumeRequest{
		{Station: "OKX", Run: "09", Parameter: "temp", Date: "2026-03-10"},
		{Station: "BOS", Run: "09", Parameter: "temp", Date: "2026-03-10"},
		{Station: "PIT", Run: "21", Parameter: "qpf", Date: "2026-03-10"},
	}
}

// TestWarmer_FetchesAllTuples verifies every configured tuple is prefetched.
func TestWarmer_FetchesAllTuples(t *testing.T) {
	fetcher := &recordingFetcher{}
	w := NewWarmer(fetcher, nil)

	if err := w.Warm(context.Background(), warmRequests()); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if len(fetcher.keys) != 3 {
		t.Errorf("fetched %d tuples, want 3", len(fetcher.keys))
	}
}

// TestWarmer_AggregatesFailures verifies per-tuple failures are collected
// into one error while the remaining tuples still warm.
func TestWarmer_AggregatesFailures(t *testing.T) {
	reqs := warmRequests()
	fetcher := &recordingFetcher{failKeys: map[string]bool{reqs[1].CacheKey(): true}}
	w := NewWarmer(fetcher, nil)

	err := w.Warm(context.Background(), reqs)
	if err == nil {
		t.Fatal("Warm() error = nil, want aggregated failure")
	}
	if !strings.Contains(err.Error(), reqs[1].CacheKey()) {
		t.Errorf("Warm() error = %v, want mention of failed key %s", err, reqs[1].CacheKey())
	}
	if len(fetcher.keys) != 3 {
		t.Errorf("fetched %d tuples, want all 3 despite one failure", len(fetcher.keys))
	}
}
