package domain

// ChangeSet is one reconciliation's worth of mutations, committed
// atomically: the tour upsert, date inserts/updates, conflict entries,
// and the processed marking of the source record always land together or
// not at all.
//
// Repositories assign identifiers on commit, writing them back into the
// referenced structs, and fill the record's audit references (TourID,
// TourDateIDs) from the committed tour and dates. New dates receive
// ascending identifiers in slice order.
type ChangeSet struct {
	EntityID int64

	Tour        *Tour
	CreatedTour bool

	NewDates     []*TourDate
	UpdatedDates []*TourDate

	Conflicts []Conflict

	Record *SourceRecord
}
