package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ConcertTracker/internal/domain"
	"ConcertTracker/internal/extract"
	"ConcertTracker/internal/metrics"
	"ConcertTracker/internal/ports"
	"ConcertTracker/internal/ratelimit"
	"ConcertTracker/internal/reconcile"
	"ConcertTracker/internal/textnorm"
)

// Entity processing states exposed on the status surface.
const (
	StateIdle            = "idle"
	StateAcquiringBudget = "acquiring_budget"
	StateFetching        = "fetching"
	StateStoring         = "storing"
	StateExtracting      = "extracting"
	StateReconciling     = "reconciling"
	StateErrored         = "errored"
)

// PipelineDeps wires all driven adapters into the ingestion pipeline.
type PipelineDeps struct {
	Source   ports.PostSource
	Entities ports.EntityRepository
	Records  ports.RecordRepository
	Tours    ports.TourRepository
	Limiter  *ratelimit.Limiter
	Engine   *reconcile.Engine
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	MaxRetries    int
	BackoffBase   time.Duration
	PageSize      int
	Workers       int
	MaxBudgetWait time.Duration
}

// Pipeline runs recurring ingestion cycles: fetch new posts per tracked
// entity, store them, extract facts, and reconcile them into tours.
// Failures are isolated per entity; one entity erroring never blocks the
// rest of the cycle.
type Pipeline struct {
	source   ports.PostSource
	entities ports.EntityRepository
	records  ports.RecordRepository
	tours    ports.TourRepository
	limiter  *ratelimit.Limiter
	engine   *reconcile.Engine
	metrics  *metrics.Metrics
	logger   *slog.Logger

	extractor *extract.Extractor

	maxRetries    int
	backoffBase   time.Duration
	pageSize      int
	workers       int
	maxBudgetWait time.Duration

	mu     sync.Mutex
	states map[int64]string
	last   *CycleSummary

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// EntityReport is the per-entity outcome of one cycle.
type EntityReport struct {
	EntityID  int64  `json:"entity_id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Fetched   int    `json:"fetched"`
	Stored    int    `json:"stored"`
	Processed int    `json:"processed"`
	Conflicts int    `json:"conflicts"`
	Error     string `json:"error,omitempty"`
}

// CycleSummary describes the most recent ingestion cycle.
type CycleSummary struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Entities   []EntityReport `json:"entities"`
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	workers := deps.Workers
	if workers <= 0 {
		workers = 1
	}
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		source:        deps.Source,
		entities:      deps.Entities,
		records:       deps.Records,
		tours:         deps.Tours,
		limiter:       deps.Limiter,
		engine:        deps.Engine,
		metrics:       deps.Metrics,
		logger:        logger.With("component", "pipeline"),
		extractor:     extract.New(),
		maxRetries:    deps.MaxRetries,
		backoffBase:   deps.BackoffBase,
		pageSize:      pageSize,
		workers:       workers,
		maxBudgetWait: deps.MaxBudgetWait,
		states:        make(map[int64]string),
		now:           time.Now,
		sleep:         sleepCtx,
	}
}

// RunCycle processes every tracked entity once.
func (p *Pipeline) RunCycle(ctx context.Context, trigger time.Time) CycleSummary {
	return p.run(ctx, trigger, nil)
}

// Refresh processes only the requested entities, or all of them when the
// list is empty.
func (p *Pipeline) Refresh(ctx context.Context, entityIDs []int64) CycleSummary {
	return p.run(ctx, p.now(), entityIDs)
}

func (p *Pipeline) run(ctx context.Context, trigger time.Time, entityIDs []int64) CycleSummary {
	summary := CycleSummary{
		RunID:     uuid.NewString(),
		StartedAt: trigger.UTC(),
	}

	logger := p.logger.With("run_id", summary.RunID)
	logger.Info("ingestion cycle started")

	entities, err := p.selectEntities(ctx, entityIDs)
	if err != nil {
		logger.Error("list tracked entities", "error", err)
		summary.FinishedAt = p.now().UTC()
		p.storeSummary(summary)
		return summary
	}

	reports := make([]EntityReport, len(entities))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				reports[i] = p.processEntity(ctx, logger, entities[i])
			}
		}()
	}
	for i := range entities {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	summary.Entities = reports
	summary.FinishedAt = p.now().UTC()
	p.storeSummary(summary)
	p.metrics.SetLastCycle(summary.FinishedAt.Unix())

	logger.Info("ingestion cycle finished", "entities", len(reports))
	return summary
}

func (p *Pipeline) selectEntities(ctx context.Context, ids []int64) ([]domain.TrackedEntity, error) {
	all, err := p.entities.ListTracked(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tracked: %w", err)
	}
	if len(ids) == 0 {
		return all, nil
	}

	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var selected []domain.TrackedEntity
	for _, e := range all {
		if want[e.ID] {
			selected = append(selected, e)
		}
	}
	return selected, nil
}

func (p *Pipeline) storeSummary(summary CycleSummary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = &summary
}

// LastSummary returns the outcome of the most recent cycle, if any.
func (p *Pipeline) LastSummary() (CycleSummary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return CycleSummary{}, false
	}
	return *p.last, true
}

// EntityStates returns the current processing state per entity id.
func (p *Pipeline) EntityStates() map[int64]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int64]string, len(p.states))
	for id, st := range p.states {
		out[id] = st
	}
	return out
}

func (p *Pipeline) setState(entityID int64, state string) {
	p.mu.Lock()
	p.states[entityID] = state
	p.mu.Unlock()
}

func (p *Pipeline) processEntity(ctx context.Context, logger *slog.Logger, entity domain.TrackedEntity) EntityReport {
	report := EntityReport{EntityID: entity.ID, Name: entity.Name, State: StateIdle}
	logger = logger.With("entity", entity.Name)

	fail := func(stage string, err error) EntityReport {
		p.setState(entity.ID, StateErrored)
		report.State = StateErrored
		report.Error = fmt.Sprintf("%s: %v", stage, err)
		logger.Error("entity processing failed", "stage", stage, "error", err)
		return report
	}

	p.setState(entity.ID, StateFetching)
	report.State = StateFetching

	sinceID, err := p.records.LatestExternalID(ctx, entity.ID)
	if err != nil {
		return fail("latest external id", err)
	}

	posts, err := p.fetchWithBudget(ctx, entity, sinceID)
	if err != nil {
		p.metrics.CountFetch("error")
		return fail("fetch", err)
	}
	p.metrics.CountFetch("ok")
	report.Fetched = len(posts)

	p.setState(entity.ID, StateStoring)
	report.State = StateStoring

	stored, err := p.storePosts(ctx, entity, posts)
	if err != nil {
		return fail("store", err)
	}
	report.Stored = stored
	p.metrics.CountStored(stored)

	p.setState(entity.ID, StateExtracting)
	report.State = StateExtracting

	pending, err := p.records.ListUnprocessed(ctx, entity.ID)
	if err != nil {
		return fail("list unprocessed", err)
	}

	for _, record := range pending {
		if err := ctx.Err(); err != nil {
			return fail("cancelled", err)
		}

		conflicts, err := p.processRecord(ctx, entity, record)
		if err != nil {
			return fail(fmt.Sprintf("record %s", record.ExternalID), err)
		}
		report.Processed++
		report.Conflicts += conflicts
		p.metrics.CountProcessed()
	}

	p.setState(entity.ID, StateIdle)
	report.State = StateIdle
	logger.Info("entity processed",
		"fetched", report.Fetched,
		"stored", report.Stored,
		"processed", report.Processed,
		"conflicts", report.Conflicts)
	return report
}

// fetchWithBudget acquires one budget unit per outbound attempt and retries
// transient failures with exponential backoff. Permanent failures stop
// immediately.
func (p *Pipeline) fetchWithBudget(ctx context.Context, entity domain.TrackedEntity, sinceID string) ([]domain.Post, error) {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.backoffBase << (attempt - 1)
			if err := p.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		p.setState(entity.ID, StateAcquiringBudget)
		if err := p.acquireBudget(ctx); err != nil {
			return nil, err
		}
		p.setState(entity.ID, StateFetching)

		posts, err := p.source.Fetch(ctx, entity, sinceID, p.pageSize)
		if err == nil {
			return posts, nil
		}
		if domain.IsPermanentFetch(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetch retries exhausted: %w", lastErr)
}

// acquireBudget blocks until the limiter grants a unit or the configured
// wait budget runs out.
func (p *Pipeline) acquireBudget(ctx context.Context) error {
	deadline := p.now().Add(p.maxBudgetWait)
	for {
		granted, retryAfter := p.limiter.TryAcquire(1)
		if granted {
			return nil
		}
		p.metrics.CountBudgetDenied()

		remaining := deadline.Sub(p.now())
		if remaining <= 0 {
			return &domain.BudgetExceededError{RetryAfter: retryAfter}
		}
		wait := retryAfter
		if wait > remaining {
			wait = remaining
		}
		if wait <= 0 {
			wait = time.Millisecond
		}
		if err := p.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (p *Pipeline) storePosts(ctx context.Context, entity domain.TrackedEntity, posts []domain.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	records := make([]domain.SourceRecord, 0, len(posts))
	for _, post := range posts {
		canon := textnorm.Normalize(post.Text)
		records = append(records, domain.SourceRecord{
			EntityID:     entity.ID,
			ExternalID:   post.ExternalID,
			Text:         post.Text,
			URL:          post.URL,
			AuthorHandle: post.AuthorHandle,
			AuthorName:   post.AuthorName,
			PostedAt:     post.PublishedAt,
			Official:     post.Official || entity.IsOfficialHandle(post.AuthorHandle),
			Relevant:     extract.IsConcertRelated(canon.Matching),
			Retweets:     post.Retweets,
			Likes:        post.Likes,
		})
	}

	var inserted []domain.SourceRecord
	err := p.retryStorage(ctx, func() error {
		var err error
		inserted, err = p.records.InsertNew(ctx, records)
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(inserted), nil
}

// processRecord extracts facts from one record and reconciles them into
// tour state. Irrelevant records are marked processed without touching
// tours so they never come back in a later cycle.
func (p *Pipeline) processRecord(ctx context.Context, entity domain.TrackedEntity, record domain.SourceRecord) (int, error) {
	if !record.Relevant {
		record.Processed = true
		record.Summary = &domain.ParseSummary{Reasons: []string{"not_concert_related"}}
		change := &domain.ChangeSet{EntityID: entity.ID, Record: &record}
		return 0, p.retryStorage(ctx, func() error {
			return p.tours.Commit(ctx, change)
		})
	}

	canon := textnorm.Normalize(record.Text)
	ex := p.extractor.Extract(canon, record.PostedAt, entity.HomeCountry)
	p.metrics.CountParseReasons(ex.Reasons)

	p.setState(entity.ID, StateReconciling)
	var outcome reconcile.Outcome
	err := p.retryStorage(ctx, func() error {
		var err error
		outcome, err = p.engine.Reconcile(ctx, entity, record, ex)
		return err
	})
	p.setState(entity.ID, StateExtracting)
	if err != nil {
		return 0, err
	}

	p.metrics.CountConflicts(len(outcome.Conflicts))
	return len(outcome.Conflicts), nil
}

// retryStorage retries storage operations with the same bounded backoff
// used for fetches.
func (p *Pipeline) retryStorage(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, p.backoffBase<<(attempt-1)); err != nil {
				return err
			}
		}

		err := op()
		if err == nil {
			return nil
		}
		var storageErr *domain.StorageError
		if !errors.As(err, &storageErr) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("storage retries exhausted: %w", lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
