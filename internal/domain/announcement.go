package domain

import "time"

// Post is one announcement as returned by an external source, before it is
// persisted as a SourceRecord.
type Post struct {
	ExternalID   string
	Text         string
	URL          string
	AuthorHandle string
	AuthorName   string
	PublishedAt  time.Time
	Official     bool
	Retweets     int
	Likes        int
}

// SourceRecord is an immutable snapshot of one fetched post. The pipeline
// never deletes records; it only flips Processed and attaches a parse
// outcome, so any extraction bug stays replayable against history.
type SourceRecord struct {
	ID           int64
	EntityID     int64
	ExternalID   string
	Text         string
	URL          string
	AuthorHandle string
	AuthorName   string
	PostedAt     time.Time
	Official     bool
	Relevant     bool
	Processed    bool
	Retweets     int
	Likes        int
	CreatedAt    time.Time

	// Parse outcome, attached when the record is processed.
	Summary *ParseSummary

	// Non-owning audit references to the structured state this record
	// contributed to.
	TourID      *int64
	TourDateIDs []int64
}

// ParseSummary captures what extraction produced for one record, for audit
// and observability.
type ParseSummary struct {
	Confidence     float64  `json:"confidence"`
	DatesFound     int      `json:"dates_found"`
	LocationsFound int      `json:"locations_found"`
	TourName       string   `json:"tour_name,omitempty"`
	Reasons        []string `json:"reasons,omitempty"`
}
