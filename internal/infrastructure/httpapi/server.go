package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ConcertTracker/internal/extract"
	"ConcertTracker/internal/metrics"
	"ConcertTracker/internal/ports"
	"ConcertTracker/internal/ratelimit"
	"ConcertTracker/internal/textnorm"
	"ConcertTracker/internal/usecase"
)

// ServerDeps wires the operator surface.
type ServerDeps struct {
	Pipeline *usecase.Pipeline
	Limiter  *ratelimit.Limiter
	Records  ports.RecordRepository
	Tours    ports.TourRepository
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Server exposes the operator HTTP API: status, manual refresh, a parse
// dry-run endpoint, and announcement listings.
type Server struct {
	pipeline  *usecase.Pipeline
	limiter   *ratelimit.Limiter
	records   ports.RecordRepository
	tours     ports.TourRepository
	logger    *slog.Logger
	extractor *extract.Extractor
	router    chi.Router
}

// NewServer builds the router and handlers.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		pipeline:  deps.Pipeline,
		limiter:   deps.Limiter,
		records:   deps.Records,
		tours:     deps.Tours,
		logger:    logger.With("component", "httpapi"),
		extractor: extract.New(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/parse-test", s.handleParseTest)
		r.Get("/announcements", s.handleAnnouncements)
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	s.router = r
	return s
}

// Router returns the HTTP handler for mounting into a server.
func (s *Server) Router() http.Handler {
	return s.router
}

type budgetStatus struct {
	Used    int       `json:"used"`
	Max     int       `json:"max"`
	ResetAt time.Time `json:"reset_at"`
}

type statusResponse struct {
	Budget        budgetStatus          `json:"budget"`
	EntityStates  map[int64]string      `json:"entity_states"`
	LastCycle     *usecase.CycleSummary `json:"last_cycle,omitempty"`
	OpenConflicts int                   `json:"open_conflicts"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	used, max, resetAt := s.limiter.Usage()

	resp := statusResponse{
		Budget:       budgetStatus{Used: used, Max: max, ResetAt: resetAt},
		EntityStates: s.pipeline.EntityStates(),
	}
	if summary, ok := s.pipeline.LastSummary(); ok {
		resp.LastCycle = &summary
	}

	conflicts, err := s.tours.CountOpenConflicts(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	resp.OpenConflicts = conflicts

	s.respond(w, http.StatusOK, resp)
}

type refreshRequest struct {
	EntityIDs []int64 `json:"entity_ids"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.fail(w, http.StatusBadRequest, err)
			return
		}
	}

	// The refresh outlives the request, so it must not inherit the
	// request context.
	go s.pipeline.Refresh(context.Background(), req.EntityIDs)

	w.WriteHeader(http.StatusAccepted)
}

type parseTestRequest struct {
	Text        string     `json:"text"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	HomeCountry string     `json:"home_country,omitempty"`
}

type parseTestResponse struct {
	Canonical  textnorm.Canonical `json:"canonical"`
	Relevant   bool               `json:"relevant"`
	Extraction extract.Extraction `json:"extraction"`
}

// handleParseTest runs normalization and extraction on submitted text
// without touching stored state.
func (s *Server) handleParseTest(w http.ResponseWriter, r *http.Request) {
	var req parseTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if req.Text == "" {
		s.failMsg(w, http.StatusBadRequest, "text is required")
		return
	}

	publishedAt := time.Now().UTC()
	if req.PublishedAt != nil {
		publishedAt = *req.PublishedAt
	}

	canon := textnorm.Normalize(req.Text)
	resp := parseTestResponse{
		Canonical:  canon,
		Relevant:   extract.IsConcertRelated(canon.Matching),
		Extraction: s.extractor.Extract(canon, publishedAt, req.HomeCountry),
	}

	s.respond(w, http.StatusOK, resp)
}

type announcementsResponse struct {
	Total   int          `json:"total"`
	Records []recordView `json:"records"`
}

type recordView struct {
	ID           int64               `json:"id"`
	EntityID     int64               `json:"entity_id"`
	ExternalID   string              `json:"external_id"`
	Text         string              `json:"text"`
	URL          string              `json:"url"`
	AuthorHandle string              `json:"author_handle"`
	PostedAt     time.Time           `json:"posted_at"`
	Official     bool                `json:"official"`
	Relevant     bool                `json:"relevant"`
	Processed    bool                `json:"processed"`
	Summary      *domainParseSummary `json:"summary,omitempty"`
	TourID       *int64              `json:"tour_id,omitempty"`
	TourDateIDs  []int64             `json:"tour_date_ids,omitempty"`
}

type domainParseSummary struct {
	Confidence     float64  `json:"confidence"`
	DatesFound     int      `json:"dates_found"`
	LocationsFound int      `json:"locations_found"`
	TourName       string   `json:"tour_name,omitempty"`
	Reasons        []string `json:"reasons,omitempty"`
}

func (s *Server) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRecordFilter(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	records, total, err := s.records.List(r.Context(), filter)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	resp := announcementsResponse{Total: total, Records: make([]recordView, 0, len(records))}
	for _, rec := range records {
		view := recordView{
			ID:           rec.ID,
			EntityID:     rec.EntityID,
			ExternalID:   rec.ExternalID,
			Text:         rec.Text,
			URL:          rec.URL,
			AuthorHandle: rec.AuthorHandle,
			PostedAt:     rec.PostedAt,
			Official:     rec.Official,
			Relevant:     rec.Relevant,
			Processed:    rec.Processed,
			TourID:       rec.TourID,
			TourDateIDs:  rec.TourDateIDs,
		}
		if rec.Summary != nil {
			view.Summary = &domainParseSummary{
				Confidence:     rec.Summary.Confidence,
				DatesFound:     rec.Summary.DatesFound,
				LocationsFound: rec.Summary.LocationsFound,
				TourName:       rec.Summary.TourName,
				Reasons:        rec.Summary.Reasons,
			}
		}
		resp.Records = append(resp.Records, view)
	}

	s.respond(w, http.StatusOK, resp)
}

func parseRecordFilter(r *http.Request) (ports.RecordFilter, error) {
	q := r.URL.Query()
	filter := ports.RecordFilter{Limit: 50}

	if v := q.Get("entity_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, err
		}
		filter.EntityID = id
	}
	if v := q.Get("processed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, err
		}
		filter.Processed = &b
	}
	if v := q.Get("official"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, err
		}
		filter.OfficialOnly = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, err
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, err
		}
		filter.Offset = n
	}

	return filter, nil
}

func (s *Server) respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	s.failMsg(w, status, err.Error())
}

func (s *Server) failMsg(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
