package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"ConcertTracker/internal/domain"
	"ConcertTracker/internal/infrastructure/storage"
	"ConcertTracker/internal/metrics"
	"ConcertTracker/internal/ratelimit"
	"ConcertTracker/internal/reconcile"
	"ConcertTracker/internal/usecase"
)

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore, domain.TrackedEntity) {
	t.Helper()

	store := storage.NewMemoryStore()
	entity := store.AddEntity(domain.TrackedEntity{
		Name:        "BLACKSTAR",
		Handle:      "@blackstar_official",
		HomeCountry: "South Korea",
	})

	limiter, err := ratelimit.New(10, 15*time.Minute)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Entities: store,
		Records:  store,
		Tours:    store,
		Limiter:  limiter,
		Engine:   reconcile.New(store, nil),
		Metrics:  metrics.New(),
	})

	server := NewServer(ServerDeps{
		Pipeline: pipeline,
		Limiter:  limiter,
		Records:  store,
		Tours:    store,
		Metrics:  metrics.New(),
	})
	return server, store, entity
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Budget struct {
			Used int `json:"used"`
			Max  int `json:"max"`
		} `json:"budget"`
		OpenConflicts int `json:"open_conflicts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Budget.Max != 10 || resp.Budget.Used != 0 {
		t.Errorf("unexpected budget: %+v", resp.Budget)
	}
	if resp.OpenConflicts != 0 {
		t.Errorf("expected no conflicts, got %d", resp.OpenConflicts)
	}
}

func TestParseTestEndpoint(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	body := `{"text":"BLACKSTAR WORLD TOUR kicks off March 15, 2025 in Seoul at KSPO Dome","home_country":"South Korea"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/parse-test", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Relevant   bool `json:"relevant"`
		Extraction struct {
			TourName   string  `json:"TourName"`
			Confidence float64 `json:"Confidence"`
		} `json:"extraction"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Relevant {
		t.Error("announcement should be relevant")
	}
	if resp.Extraction.TourName == "" {
		t.Errorf("expected a tour name, body %s", rec.Body.String())
	}
	if resp.Extraction.Confidence <= 0 {
		t.Errorf("expected positive confidence, body %s", rec.Body.String())
	}
}

func TestParseTestRequiresText(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/parse-test", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAnnouncementsEndpoint(t *testing.T) {
	t.Parallel()

	server, store, entity := newTestServer(t)

	_, err := store.InsertNew(context.Background(), []domain.SourceRecord{
		{
			EntityID:   entity.ID,
			ExternalID: "100",
			Text:       "WORLD TOUR announced",
			PostedAt:   time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
			Official:   true,
			Relevant:   true,
		},
		{
			EntityID:   entity.ID,
			ExternalID: "101",
			Text:       "fan art repost",
			PostedAt:   time.Date(2025, 1, 11, 9, 0, 0, 0, time.UTC),
		},
	})
	if err != nil {
		t.Fatalf("insert records: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/announcements?official=true", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Total   int `json:"total"`
		Records []struct {
			ExternalID string `json:"external_id"`
			Official   bool   `json:"official"`
		} `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || len(resp.Records) != 1 {
		t.Fatalf("expected one official record, got %+v", resp)
	}
	if resp.Records[0].ExternalID != "100" || !resp.Records[0].Official {
		t.Errorf("unexpected record: %+v", resp.Records[0])
	}
}

func TestAnnouncementsRejectsBadFilter(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/announcements?entity_id=abc", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRefreshEndpointAccepts(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/refresh", strings.NewReader(`{"entity_ids":[999]}`))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
