package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSnapshotClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/depth" {
			t.Errorf("expected path /depth, got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("expected symbol BTCUSDT, got %s", got)
		}
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("expected limit 50, got %s", got)
		}

		// Sides deliberately out of order
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"lastUpdateId": 160,
			"E": 1735723830000,
			"bids": [["100.40","20"],["100.50","10"]],
			"asks": [["100.70","15"],["100.60","5"]]
		}`))
	}))
	defer server.Close()

	client := NewSnapshotClient(server.URL, WithSnapshotDepth(50))
	ctx := context.Background()

	cp, err := client.Fetch(ctx, "btcusdt", "BTC-USD")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if cp.Instrument != "BTC-USD" {
		t.Errorf("expected instrument BTC-USD, got %s", cp.Instrument)
	}
	if cp.Timestamp != 1735723830000*int64(time.Millisecond) {
		t.Errorf("expected nanosecond timestamp, got %d", cp.Timestamp)
	}
	if cp.UpdateSeq != 160 {
		t.Errorf("expected update seq 160, got %d", cp.UpdateSeq)
	}

	if len(cp.Bids) != 2 || len(cp.Asks) != 2 {
		t.Fatalf("expected 2 levels per side, got %d/%d", len(cp.Bids), len(cp.Asks))
	}

	// Best bid first (highest price), best ask first (lowest price)
	if cp.Bids[0].Price != 100.50 || cp.Bids[1].Price != 100.40 {
		t.Errorf("expected bids sorted descending, got %v then %v", cp.Bids[0].Price, cp.Bids[1].Price)
	}
	if cp.Asks[0].Price != 100.60 || cp.Asks[1].Price != 100.70 {
		t.Errorf("expected asks sorted ascending, got %v then %v", cp.Asks[0].Price, cp.Asks[1].Price)
	}
	if cp.Bids[0].Quantity != 10 {
		t.Errorf("expected best bid quantity 10, got %v", cp.Bids[0].Quantity)
	}
}

func TestSnapshotClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"lastUpdateId": 1, "E": 1735723830000, "bids": [["100","1"]], "asks": [["101","1"]]}`))
	}))
	defer server.Close()

	client := NewSnapshotClient(server.URL,
		WithSnapshotRetries(3),
		WithSnapshotRetryDelay(10*time.Millisecond),
		WithSnapshotRateLimit(1000),
	)
	ctx := context.Background()

	cp, err := client.Fetch(ctx, "BTCUSDT", "BTC-USD")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if cp.UpdateSeq != 1 {
		t.Errorf("expected update seq 1, got %d", cp.UpdateSeq)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestSnapshotClient_RetriesExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewSnapshotClient(server.URL,
		WithSnapshotRetries(2),
		WithSnapshotRetryDelay(10*time.Millisecond),
		WithSnapshotRateLimit(1000),
	)
	ctx := context.Background()

	_, err := client.Fetch(ctx, "BTCUSDT", "BTC-USD")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestSnapshotClient_NoEventTime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Spot-style response without an event time
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"lastUpdateId": 5, "bids": [["100","1"]], "asks": [["101","1"]]}`))
	}))
	defer server.Close()

	client := NewSnapshotClient(server.URL)
	client.now = func() int64 { return 12345 }
	ctx := context.Background()

	cp, err := client.Fetch(ctx, "BTCUSDT", "BTC-USD")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if cp.Timestamp != 12345 {
		t.Errorf("expected local clock fallback 12345, got %d", cp.Timestamp)
	}
}

func TestSnapshotClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewSnapshotClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := client.Fetch(ctx, "BTCUSDT", "BTC-USD")
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
