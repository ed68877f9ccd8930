package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/rewired-gh/polysegment/internal/dataset"
	"github.com/rewired-gh/polysegment/internal/models"
)

func historyServer(t *testing.T, history map[string][]HistoryPoint) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prices-history" {
			t.Errorf("Expected path /prices-history, got %s", r.URL.Path)
		}
		points, ok := history[r.URL.Query().Get("market")]
		if !ok {
			http.Error(w, "unknown market", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(priceHistoryResponse{History: points}); err != nil {
			t.Errorf("Failed to encode history: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchPriceHistory(t *testing.T) {
	var query atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.RawQuery)
		w.Write([]byte(`{"history":[{"t":1700000000,"p":0.42},{"t":1700086400,"p":0.5}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, 3, time.Millisecond)
	points, err := client.FetchPriceHistory(context.Background(), "123", "max", 60)
	if err != nil {
		t.Fatalf("FetchPriceHistory failed: %v", err)
	}

	if len(points) != 2 {
		t.Fatalf("Expected 2 points, got %d", len(points))
	}
	if points[0].T != 1700000000 || points[0].P != 0.42 {
		t.Errorf("Unexpected first point: %+v", points[0])
	}
	if got := query.Load().(string); got != "fidelity=60&interval=max&market=123" {
		t.Errorf("Unexpected query: %s", got)
	}
}

func TestFetchPriceHistory_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"history":[]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, 3, time.Millisecond)
	points, err := client.FetchPriceHistory(context.Background(), "1", "max", 0)
	if err != nil {
		t.Fatalf("Expected success on third attempt, got %v", err)
	}
	if len(points) != 0 {
		t.Errorf("Expected empty history, got %d points", len(points))
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestFetchPriceHistory_ErrorStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		retries int32
	}{
		{"not found is not retried", http.StatusNotFound, 1},
		{"server errors exhaust retries", http.StatusInternalServerError, 2},
		{"rate limit is retried", http.StatusTooManyRequests, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := NewClient(srv.URL, 5*time.Second, 2, time.Millisecond)
			if _, err := client.FetchPriceHistory(context.Background(), "1", "max", 0); err == nil {
				t.Error("Expected error")
			}
			if calls != tt.retries {
				t.Errorf("Expected %d calls, got %d", tt.retries, calls)
			}
		})
	}
}

func TestFetchPriceHistory_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(srv.URL, 5*time.Second, 3, time.Hour)
	_, err := client.FetchPriceHistory(ctx, "1", "max", 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestWritePriceHistoryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices", "m_price.csv")
	if err := WritePriceHistory(path, []HistoryPoint{{T: 1700000000, P: 0.4}, {T: 1700086400, P: 1}}); err != nil {
		t.Fatalf("WritePriceHistory failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	want := "timestamp,price\n1700000000,0.4\n1700086400,1.0\n"
	if string(content) != want {
		t.Errorf("Unexpected content:\n%s", content)
	}

	points, err := dataset.LoadPrices(path, "timestamp")
	if err != nil {
		t.Fatalf("LoadPrices failed: %v", err)
	}
	if len(points) != 2 || !points[1].Price.Valid || points[1].Price.Float64 != 1 {
		t.Errorf("Unexpected loaded points: %+v", points)
	}
}

func TestYesToken(t *testing.T) {
	tests := []struct {
		name   string
		trades []models.Trade
		want   string
		ok     bool
	}{
		{"first yes asset", []models.Trade{
			{Outcome: models.OutcomeNo, Asset: "no-token"},
			{Outcome: models.OutcomeYes, Asset: ""},
			{Outcome: models.OutcomeYes, Asset: "yes-token"},
		}, "yes-token", true},
		{"no yes trades", []models.Trade{{Outcome: models.OutcomeNo, Asset: "no-token"}}, "", false},
		{"empty", nil, "", false},
	}

	for _, tt := range tests {
		got, ok := YesToken(&models.Market{Trades: tt.trades})
		if got != tt.want || ok != tt.ok {
			t.Errorf("%s: YesToken = (%q, %v), expected (%q, %v)", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFetchEvents(t *testing.T) {
	srv := historyServer(t, map[string][]HistoryPoint{
		"tok-a": {{T: 1700000000, P: 0.3}},
	})

	raw := t.TempDir()
	evDir := filepath.Join(raw, "event_a")
	events := []*dataset.Event{{
		ID:  "event_a",
		Dir: evDir,
		Markets: []models.Market{
			{EventID: "event_a", MarketID: "alpha", Trades: []models.Trade{{Outcome: models.OutcomeYes, Asset: "tok-a"}}},
			{EventID: "event_a", MarketID: "beta", Trades: []models.Trade{{Outcome: models.OutcomeNo, Asset: "tok-b"}}},
			{EventID: "event_a", MarketID: "gamma", Trades: []models.Trade{{Outcome: models.OutcomeYes, Asset: "tok-missing"}}},
		},
	}}

	f := &Fetcher{
		Client:   NewClient(srv.URL, 5*time.Second, 1, time.Millisecond),
		Interval: "max",
		Workers:  4,
	}
	results, err := f.FetchEvents(context.Background(), events)
	if err != nil {
		t.Fatalf("FetchEvents failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}

	if results[0].Err != nil || results[0].Points != 1 || results[0].TokenID != "tok-a" {
		t.Errorf("Unexpected alpha result: %+v", results[0])
	}
	if path, ok := dataset.ResolvePriceFile(evDir, "alpha"); !ok || path != results[0].Path {
		t.Errorf("Fetched file should resolve for the pipeline, got %q %v", path, ok)
	}
	if !errors.Is(results[1].Err, ErrNoToken) {
		t.Errorf("Expected ErrNoToken for beta, got %v", results[1].Err)
	}
	if results[2].Err == nil {
		t.Error("Expected error for unknown token")
	}
	if _, err := os.Stat(results[2].Path); !os.IsNotExist(err) {
		t.Error("Failed fetch must not leave a price file")
	}

	// Existing files are kept unless Overwrite is set.
	again, err := f.FetchEvents(context.Background(), events[:1])
	if err != nil {
		t.Fatalf("FetchEvents failed: %v", err)
	}
	if !again[0].Skipped {
		t.Error("Expected existing price file to be kept")
	}
}

func TestNewLimiter(t *testing.T) {
	if NewLimiter(0) != nil {
		t.Error("Expected no limiter for a zero rate")
	}
	l := NewLimiter(5)
	if l == nil || l.Limit() != rate.Limit(5) || l.Burst() != 1 {
		t.Errorf("Unexpected limiter: %+v", l)
	}
}

func TestFetchEvents_RateLimited(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"history":[{"t":1700000000,"p":0.5}]}`))
	}))
	defer srv.Close()

	evDir := filepath.Join(t.TempDir(), "event_a")
	events := []*dataset.Event{{
		ID:  "event_a",
		Dir: evDir,
		Markets: []models.Market{
			{EventID: "event_a", MarketID: "alpha", Trades: []models.Trade{{Outcome: models.OutcomeYes, Asset: "tok-a"}}},
			{EventID: "event_a", MarketID: "beta", Trades: []models.Trade{{Outcome: models.OutcomeYes, Asset: "tok-b"}}},
		},
	}}

	// One request per hour: the second market cannot be served before the deadline.
	f := &Fetcher{
		Client:  NewClient(srv.URL, 5*time.Second, 1, time.Millisecond),
		Workers: 1,
		Limiter: rate.NewLimiter(rate.Every(time.Hour), 1),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results, err := f.FetchEvents(ctx, events)
	if err != nil {
		t.Fatalf("FetchEvents failed: %v", err)
	}
	if results[0].Err != nil {
		t.Errorf("Expected first market to be fetched, got %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("Expected second market to be held back by the limiter")
	}
	if calls != 1 {
		t.Errorf("Expected 1 request, got %d", calls)
	}
}
