package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"ConcertTracker/internal/domain"
	"ConcertTracker/internal/ports"
)

var errNotFound = errors.New("not found")

// MemoryStore keeps the whole model in process memory. It backs tests and
// runs without a configured database; the Postgres repository is the
// durable twin with the same semantics.
type MemoryStore struct {
	mu sync.Mutex

	entities  map[int64]domain.TrackedEntity
	records   map[int64]*domain.SourceRecord
	tours     map[int64]*domain.Tour
	dates     map[int64]*domain.TourDate
	conflicts []domain.Conflict

	nextEntity, nextRecord, nextTour, nextDate, nextConflict int64
}

var (
	_ ports.EntityRepository = (*MemoryStore)(nil)
	_ ports.RecordRepository = (*MemoryStore)(nil)
	_ ports.TourRepository   = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: map[int64]domain.TrackedEntity{},
		records:  map[int64]*domain.SourceRecord{},
		tours:    map[int64]*domain.Tour{},
		dates:    map[int64]*domain.TourDate{},
	}
}

// AddEntity registers a tracked entity, assigning its identity.
func (s *MemoryStore) AddEntity(e domain.TrackedEntity) domain.TrackedEntity {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEntity++
	e.ID = s.nextEntity
	s.entities[e.ID] = e
	return e
}

// ListTracked returns all monitored entities, stable by identifier.
func (s *MemoryStore) ListTracked(_ context.Context) ([]domain.TrackedEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TrackedEntity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetByID looks up one entity.
func (s *MemoryStore) GetByID(_ context.Context, id int64) (domain.TrackedEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return domain.TrackedEntity{}, &domain.StorageError{Op: "get entity", Err: errNotFound}
	}
	return e, nil
}

// InsertNew stores records whose external id is not yet known; duplicates
// are silently skipped. Returns the records actually inserted.
func (s *MemoryStore) InsertNew(_ context.Context, records []domain.SourceRecord) ([]domain.SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := map[string]struct{}{}
	for _, r := range s.records {
		known[r.ExternalID] = struct{}{}
	}

	var inserted []domain.SourceRecord
	for _, r := range records {
		if _, dup := known[r.ExternalID]; dup {
			continue
		}
		known[r.ExternalID] = struct{}{}
		s.nextRecord++
		r.ID = s.nextRecord
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		stored := r
		s.records[r.ID] = &stored
		inserted = append(inserted, r)
	}
	return inserted, nil
}

// LatestExternalID returns the external id of the newest stored record for
// the entity, or empty when none exist.
func (s *MemoryStore) LatestExternalID(_ context.Context, entityID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *domain.SourceRecord
	for _, r := range s.records {
		if r.EntityID != entityID {
			continue
		}
		if latest == nil || r.PostedAt.After(latest.PostedAt) {
			latest = r
		}
	}
	if latest == nil {
		return "", nil
	}
	return latest.ExternalID, nil
}

// ListUnprocessed returns the entity's unprocessed records oldest first,
// so reconciliation sees real-world chronology.
func (s *MemoryStore) ListUnprocessed(_ context.Context, entityID int64) ([]domain.SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.SourceRecord
	for _, r := range s.records {
		if r.EntityID == entityID && !r.Processed {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PostedAt.Before(out[j].PostedAt) })
	return out, nil
}

// List filters stored records for the operator surface, newest first.
func (s *MemoryStore) List(_ context.Context, filter ports.RecordFilter) ([]domain.SourceRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []domain.SourceRecord
	for _, r := range s.records {
		if filter.EntityID != 0 && r.EntityID != filter.EntityID {
			continue
		}
		if filter.Processed != nil && r.Processed != *filter.Processed {
			continue
		}
		if filter.OfficialOnly && !r.Official {
			continue
		}
		all = append(all, *r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].PostedAt.After(all[j].PostedAt) })

	total := len(all)
	if filter.Offset > 0 {
		if filter.Offset >= len(all) {
			all = nil
		} else {
			all = all[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, total, nil
}

// FindTours returns the entity's tours for one year.
func (s *MemoryStore) FindTours(_ context.Context, entityID int64, year int) ([]domain.Tour, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Tour
	for _, t := range s.tours {
		if t.EntityID == entityID && t.Year == year {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListDates returns a tour's dates ordered by identifier.
func (s *MemoryStore) ListDates(_ context.Context, tourID int64) ([]domain.TourDate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.TourDate
	for _, d := range s.dates {
		if d.TourID == tourID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Commit applies a reconciliation change set atomically under the store
// lock: tour upsert, date inserts/updates, conflicts, and the record's
// processed marking with its audit references.
func (s *MemoryStore) Commit(_ context.Context, change *domain.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	if change.Tour != nil {
		if change.Tour.ID == 0 {
			s.nextTour++
			change.Tour.ID = s.nextTour
			change.Tour.CreatedAt = now
		}
		change.Tour.UpdatedAt = now
		stored := *change.Tour
		s.tours[stored.ID] = &stored
	}

	var dateIDs []int64
	for _, d := range change.NewDates {
		s.nextDate++
		d.ID = s.nextDate
		if change.Tour != nil {
			d.TourID = change.Tour.ID
		}
		stored := *d
		s.dates[stored.ID] = &stored
		dateIDs = append(dateIDs, stored.ID)
	}
	for _, d := range change.UpdatedDates {
		stored := *d
		s.dates[stored.ID] = &stored
		dateIDs = append(dateIDs, stored.ID)
	}

	for _, c := range change.Conflicts {
		s.nextConflict++
		c.ID = s.nextConflict
		if c.TourID == 0 && change.Tour != nil {
			c.TourID = change.Tour.ID
		}
		c.RecordedAt = now
		s.conflicts = append(s.conflicts, c)
	}

	if change.Record != nil {
		stored, ok := s.records[change.Record.ID]
		if !ok {
			return &domain.StorageError{Op: "commit record", Err: errNotFound}
		}
		stored.Processed = change.Record.Processed
		stored.Summary = change.Record.Summary
		if change.Tour != nil {
			tourID := change.Tour.ID
			stored.TourID = &tourID
			change.Record.TourID = &tourID
		}
		stored.TourDateIDs = append([]int64(nil), dateIDs...)
		change.Record.TourDateIDs = stored.TourDateIDs
	}

	return nil
}

// CountOpenConflicts reports how many conflicts await operator review.
func (s *MemoryStore) CountOpenConflicts(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conflicts), nil
}

// Conflicts returns a copy of all recorded conflicts.
func (s *MemoryStore) Conflicts() []domain.Conflict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Conflict(nil), s.conflicts...)
}
