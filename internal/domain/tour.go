package domain

import "time"

// TourStatus enumerates the lifecycle of a touring campaign.
type TourStatus string

const (
	TourAnnounced TourStatus = "announced"
	TourOngoing   TourStatus = "ongoing"
	TourCompleted TourStatus = "completed"
	TourCancelled TourStatus = "cancelled"
)

// Tour is a named touring campaign for one entity in one year. Tours are
// created by reconciliation and never auto-deleted.
type Tour struct {
	ID                 int64
	EntityID           int64
	Name               string
	Year               int
	Status             TourStatus
	HasUnresolvedDates bool
	Regions            []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TourDate is one concert stop within a tour. A nil Date means the stop is
// announced but not yet scheduled (TBD). EndDate is set for multi-night
// stops announced as a range.
type TourDate struct {
	ID      int64
	TourID  int64
	City    string
	Country string
	Region  string
	Venue   string
	Date    *time.Time
	EndDate *time.Time

	Kickoff bool
	Encore  bool
	Finale  bool
}

// IsTBD reports whether the stop has no concrete date yet.
func (d TourDate) IsTBD() bool {
	return d.Date == nil
}

// Conflict records a reconciliation disagreement: a re-announcement claimed
// a value that contradicts already-confirmed data. The original value is
// kept; the conflict is surfaced for operator review.
type Conflict struct {
	ID             int64
	TourID         int64
	TourDateID     int64
	Field          string
	Existing       string
	Proposed       string
	SourceRecordID int64
	RecordedAt     time.Time
}
