package storage

import (
	"context"
	"testing"
	"time"

	"ConcertTracker/internal/domain"
	"ConcertTracker/internal/ports"
)

func TestMemoryStoreInsertNewDeduplicates(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	entity := store.AddEntity(domain.TrackedEntity{Name: "BLACKSTAR"})
	ctx := context.Background()

	batch := []domain.SourceRecord{
		{EntityID: entity.ID, ExternalID: "100", Text: "tour", PostedAt: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)},
		{EntityID: entity.ID, ExternalID: "101", Text: "concert", PostedAt: time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC)},
	}

	first, err := store.InsertNew(ctx, batch)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 inserts, got %d", len(first))
	}

	second, err := store.InsertNew(ctx, batch)
	if err != nil {
		t.Fatalf("reinsert: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected duplicates to be skipped, got %d", len(second))
	}

	latest, err := store.LatestExternalID(ctx, entity.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != "101" {
		t.Errorf("latest = %s, want 101", latest)
	}
}

func TestMemoryStoreCommitAssignsAuditRefs(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	entity := store.AddEntity(domain.TrackedEntity{Name: "BLACKSTAR"})
	ctx := context.Background()

	inserted, err := store.InsertNew(ctx, []domain.SourceRecord{{
		EntityID:   entity.ID,
		ExternalID: "100",
		Text:       "tour",
		PostedAt:   time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		Relevant:   true,
	}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	record := inserted[0]
	record.Processed = true

	date := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	change := &domain.ChangeSet{
		EntityID: entity.ID,
		Tour:     &domain.Tour{EntityID: entity.ID, Name: "WORLD TOUR", Year: 2025, Status: domain.TourAnnounced},
		NewDates: []*domain.TourDate{{City: "Seoul", Country: "South Korea", Date: &date}},
		Record:   &record,
	}

	if err := store.Commit(ctx, change); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if change.Tour.ID == 0 {
		t.Fatal("tour id not assigned")
	}
	if change.NewDates[0].ID == 0 || change.NewDates[0].TourID != change.Tour.ID {
		t.Fatalf("date ids not assigned: %+v", change.NewDates[0])
	}
	if record.TourID == nil || *record.TourID != change.Tour.ID {
		t.Fatalf("record tour ref missing: %+v", record)
	}
	if len(record.TourDateIDs) != 1 || record.TourDateIDs[0] != change.NewDates[0].ID {
		t.Fatalf("record date refs missing: %+v", record)
	}

	processed := true
	records, total, err := store.List(ctx, ports.RecordFilter{EntityID: entity.ID, Processed: &processed})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || !records[0].Processed {
		t.Fatalf("record not marked processed: total %d, %+v", total, records)
	}
}
