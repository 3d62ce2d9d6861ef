package reconcile

import (
	"context"
	"testing"
	"time"

	"ConcertTracker/internal/domain"
	"ConcertTracker/internal/extract"
	"ConcertTracker/internal/infrastructure/storage"
	"ConcertTracker/internal/ports"
	"ConcertTracker/internal/textnorm"
)

type fixture struct {
	store  *storage.MemoryStore
	engine *Engine
	entity domain.TrackedEntity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	entity := store.AddEntity(domain.TrackedEntity{
		Name:        "BLACKSTAR",
		Handle:      "@BLACKSTAR",
		HomeCountry: "South Korea",
	})
	engine := New(store, nil)
	engine.now = func() time.Time {
		return time.Date(2025, time.January, 20, 0, 0, 0, 0, time.UTC)
	}
	return &fixture{store: store, engine: engine, entity: entity}
}

// ingest stores a post and reconciles its extraction, returning the outcome.
func (f *fixture) ingest(t *testing.T, text string, postedAt time.Time) Outcome {
	t.Helper()
	ctx := context.Background()

	inserted, err := f.store.InsertNew(ctx, []domain.SourceRecord{{
		EntityID:   f.entity.ID,
		ExternalID: text,
		Text:       text,
		PostedAt:   postedAt,
		Relevant:   true,
	}})
	if err != nil {
		t.Fatalf("insert record: %v", err)
	}
	if len(inserted) != 1 {
		t.Fatalf("expected 1 inserted record, got %d", len(inserted))
	}

	ex := extract.New().Extract(textnorm.Normalize(text), postedAt, f.entity.HomeCountry)
	outcome, err := f.engine.Reconcile(ctx, f.entity, inserted[0], ex)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	return outcome
}

var posted = time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC)

func (f *fixture) tourDates(t *testing.T, tourID int64) []domain.TourDate {
	t.Helper()
	dates, err := f.store.ListDates(context.Background(), tourID)
	if err != nil {
		t.Fatalf("list dates: %v", err)
	}
	return dates
}

func TestReconcileKickoffAnnouncement(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	outcome := f.ingest(t, "BLACKSTAR announces WORLD TOUR kickoff in Seoul on March 15, 2025 at KSPO Dome", posted)

	if !outcome.CreatedTour {
		t.Fatal("expected a new tour")
	}
	if outcome.Tour.Name != "WORLD TOUR" || outcome.Tour.Year != 2025 {
		t.Fatalf("tour = %+v", outcome.Tour)
	}

	dates := f.tourDates(t, outcome.Tour.ID)
	if len(dates) != 1 {
		t.Fatalf("expected 1 date, got %d", len(dates))
	}
	d := dates[0]
	if d.City != "Seoul" || d.Country != "South Korea" || d.Venue != "KSPO Dome" {
		t.Fatalf("date = %+v", d)
	}
	if d.Date == nil || !d.Date.Equal(time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date value = %v", d.Date)
	}
	if !d.Kickoff {
		t.Fatal("expected kickoff flag")
	}
}

func TestReconcileProcessedRecordIsNoOp(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	text := "WORLD TOUR in Seoul on March 15, 2025"
	f.ingest(t, text, posted)

	// The stored record is processed now; reconciling it again changes nothing.
	processed := true
	records, _, err := f.store.List(ctx, listFilter(f.entity.ID, &processed))
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 processed record, got %d", len(records))
	}

	ex := extract.New().Extract(textnorm.Normalize(text), posted, f.entity.HomeCountry)
	outcome, err := f.engine.Reconcile(ctx, f.entity, records[0], ex)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !outcome.NoOp {
		t.Fatal("expected no-op for processed record")
	}
}

func TestReconcileIdenticalFactsChangeNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	first := f.ingest(t, "WORLD TOUR in Seoul on March 15, 2025 at KSPO Dome", posted)
	second := f.ingest(t, "Reminder! WORLD TOUR in Seoul on March 15, 2025 at KSPO Dome", posted.Add(time.Hour))

	if second.CreatedTour {
		t.Fatal("second announcement must reuse the tour")
	}
	if second.Tour.ID != first.Tour.ID {
		t.Fatalf("tour ids differ: %d vs %d", first.Tour.ID, second.Tour.ID)
	}
	if second.DatesInserted != 0 || second.DatesUpdated != 0 {
		t.Fatalf("expected no date changes, got %+v", second)
	}
	if len(second.Conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %+v", second.Conflicts)
	}
	if len(f.tourDates(t, first.Tour.ID)) != 1 {
		t.Fatal("duplicate date created")
	}
}

func TestReconcileExistingDataWins(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	first := f.ingest(t, "WORLD TOUR in Tokyo on May 2, 2025 at Tokyo Dome", posted)
	second := f.ingest(t, "WORLD TOUR in Tokyo on May 2, 2025 at Ajinomoto Stadium", posted.Add(time.Hour))

	dates := f.tourDates(t, first.Tour.ID)
	if len(dates) != 1 {
		t.Fatalf("expected 1 date, got %d", len(dates))
	}
	if dates[0].Venue != "Tokyo Dome" {
		t.Fatalf("venue = %q, want the first-confirmed Tokyo Dome", dates[0].Venue)
	}

	if len(second.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %+v", second.Conflicts)
	}
	c := second.Conflicts[0]
	if c.Field != "venue" || c.Existing != "Tokyo Dome" || c.Proposed != "Ajinomoto Stadium" {
		t.Fatalf("conflict = %+v", c)
	}

	n, err := f.store.CountOpenConflicts(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("open conflicts = %d (err %v)", n, err)
	}
}

func TestReconcileTBDResolvedInPlace(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	first := f.ingest(t, "WORLD TOUR adds Tokyo - date TBA", posted)
	if !first.Tour.HasUnresolvedDates {
		t.Fatal("tour should have unresolved dates")
	}

	dates := f.tourDates(t, first.Tour.ID)
	if len(dates) != 1 || dates[0].Date != nil {
		t.Fatalf("expected one TBD date, got %+v", dates)
	}
	tbdID := dates[0].ID

	second := f.ingest(t, "WORLD TOUR Tokyo show confirmed for June 7, 2025", posted.Add(time.Hour))
	if second.DatesInserted != 0 {
		t.Fatalf("expected in-place resolution, got %d inserts", second.DatesInserted)
	}

	dates = f.tourDates(t, first.Tour.ID)
	if len(dates) != 1 {
		t.Fatalf("expected still one date, got %d", len(dates))
	}
	if dates[0].ID != tbdID {
		t.Fatal("TBD record was replaced instead of updated")
	}
	if dates[0].Date == nil || dates[0].Date.Day() != 7 {
		t.Fatalf("date not resolved: %+v", dates[0])
	}
	if second.Tour.HasUnresolvedDates {
		t.Fatal("unresolved flag should clear")
	}
}

func TestReconcileTBDNotMergedAcrossCities(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	first := f.ingest(t, "More cities TBA for WORLD TOUR", posted)
	f.ingest(t, "WORLD TOUR adds Tokyo - date TBA", posted.Add(time.Hour))

	dates := f.tourDates(t, first.Tour.ID)
	if len(dates) != 2 {
		t.Fatalf("expected 2 TBD records, got %+v", dates)
	}

	// A repeated city-less TBA post reuses the placeholder stop.
	f.ingest(t, "Even more cities TBA soon for WORLD TOUR", posted.Add(2*time.Hour))
	if got := len(f.tourDates(t, first.Tour.ID)); got != 2 {
		t.Fatalf("placeholder TBD duplicated: %d records", got)
	}
}

func TestKickoffAndFinaleUniqueness(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	first := f.ingest(t, "WORLD TOUR kickoff in Seoul on March 15, 2025", posted)
	f.ingest(t, "WORLD TOUR in Tokyo on May 2, 2025", posted.Add(time.Hour))
	f.ingest(t, "WORLD TOUR encore in Seoul, August 30, 2025", posted.Add(2*time.Hour))
	f.ingest(t, "WORLD TOUR in London, July 5, 2025", posted.Add(3*time.Hour))

	dates := f.tourDates(t, first.Tour.ID)
	if len(dates) != 4 {
		t.Fatalf("expected 4 dates, got %d", len(dates))
	}

	var kickoffs, finales int
	for _, d := range dates {
		if d.Kickoff {
			kickoffs++
			if d.City != "Seoul" || d.Date.Month() != time.March {
				t.Fatalf("kickoff landed on %+v", d)
			}
		}
		if d.Finale {
			finales++
			if d.City != "Seoul" || d.Date.Month() != time.August {
				t.Fatalf("finale landed on %+v", d)
			}
		}
	}
	if kickoffs != 1 || finales != 1 {
		t.Fatalf("kickoffs=%d finales=%d, want exactly one each", kickoffs, finales)
	}
}

func TestDefaultTourBucket(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	outcome := f.ingest(t, "Concert in Paris on June 1, 2025, tickets soon", posted)
	if outcome.Tour.Name != "Untitled" {
		t.Fatalf("tour name = %q, want the default bucket", outcome.Tour.Name)
	}

	// The next unnamed announcement lands in the same bucket.
	second := f.ingest(t, "Concert in Berlin on June 3, 2025", posted.Add(time.Hour))
	if second.CreatedTour || second.Tour.ID != outcome.Tour.ID {
		t.Fatalf("default bucket not reused: %+v", second)
	}
}

func TestTourNameNormalizedMatching(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	first := f.ingest(t, `"Eclipse World Tour" opens in Seoul on March 1, 2025`, posted)
	second := f.ingest(t, "ECLIPSE WORLD TOUR adds Tokyo on April 5, 2025", posted.Add(time.Hour))

	if second.CreatedTour || second.Tour.ID != first.Tour.ID {
		t.Fatalf("normalized names should match one tour: %+v vs %+v", first.Tour, second.Tour)
	}
}

func listFilter(entityID int64, processed *bool) ports.RecordFilter {
	return ports.RecordFilter{EntityID: entityID, Processed: processed}
}
