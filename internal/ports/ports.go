package ports

import (
	"context"
	"time"

	"ConcertTracker/internal/domain"
)

// PostSource pulls candidate announcement posts for one tracked entity.
// sinceID, when non-empty, is the newest already-stored external id; the
// source returns only newer posts.
type PostSource interface {
	Name() string
	Fetch(ctx context.Context, entity domain.TrackedEntity, sinceID string, limit int) ([]domain.Post, error)
}

// EntityRepository reads the tracked entities being monitored.
type EntityRepository interface {
	ListTracked(ctx context.Context) ([]domain.TrackedEntity, error)
	GetByID(ctx context.Context, id int64) (domain.TrackedEntity, error)
}

// RecordFilter narrows record listings for the operator surface.
type RecordFilter struct {
	EntityID     int64
	Processed    *bool
	OfficialOnly bool
	Limit        int
	Offset       int
}

// RecordRepository persists immutable source records. Records are never
// deleted; InsertNew skips posts whose external id is already stored.
type RecordRepository interface {
	InsertNew(ctx context.Context, records []domain.SourceRecord) ([]domain.SourceRecord, error)
	LatestExternalID(ctx context.Context, entityID int64) (string, error)
	ListUnprocessed(ctx context.Context, entityID int64) ([]domain.SourceRecord, error)
	List(ctx context.Context, filter RecordFilter) ([]domain.SourceRecord, int, error)
}

// TourRepository reads tour state for reconciliation and commits change
// sets atomically. Commit must apply every mutation in the set in one
// transaction and assign identifiers back into the set's structs.
type TourRepository interface {
	FindTours(ctx context.Context, entityID int64, year int) ([]domain.Tour, error)
	ListDates(ctx context.Context, tourID int64) ([]domain.TourDate, error)
	Commit(ctx context.Context, change *domain.ChangeSet) error
	CountOpenConflicts(ctx context.Context) (int, error)
}

// Scheduler controls when ingestion cycles execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
