// Package reconcile merges extracted concert facts into the structured
// tour model. The engine is the final authority over kickoff and finale
// flags, treats already-confirmed data as authoritative over
// re-announcements, and commits fact application together with the source
// record's processed marking.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"ConcertTracker/internal/domain"
	"ConcertTracker/internal/extract"
	"ConcertTracker/internal/ports"
)

// Name of the per-year bucket used when extraction produced no tour name.
const defaultTourName = "Untitled"

// Placeholder city for TBD stops announced without any city text
// ("more cities TBA"). Repeated city-less TBD posts reuse the same stop.
const placeholderCity = "TBA"

// Outcome summarizes one reconciliation.
type Outcome struct {
	Tour          domain.Tour
	CreatedTour   bool
	DatesInserted int
	DatesUpdated  int
	Conflicts     []domain.Conflict

	// NoOp is set when the record was already processed; nothing changed.
	NoOp bool
}

// Engine applies extractions to tour state. Mutations for one entity are
// serialized through a per-entity lock so concurrent records cannot race
// on tour matching or date upserts.
type Engine struct {
	repo   ports.TourRepository
	logger *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex

	now func() time.Time
}

// New builds an engine over the given tour repository.
func New(repo ports.TourRepository, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:   repo,
		logger: logger,
		locks:  map[int64]*sync.Mutex{},
		now:    time.Now,
	}
}

func (e *Engine) entityLock(entityID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[entityID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[entityID] = l
	}
	return l
}

// Reconcile merges one record's extraction into the entity's tour model
// and marks the record processed, all in one commit. Reprocessing an
// already-processed record is a safe no-op.
func (e *Engine) Reconcile(ctx context.Context, entity domain.TrackedEntity, record domain.SourceRecord, ex extract.Extraction) (Outcome, error) {
	if record.Processed {
		return Outcome{NoOp: true}, nil
	}

	lock := e.entityLock(entity.ID)
	lock.Lock()
	defer lock.Unlock()

	// Without dates or a tour name there is nothing to merge; the record
	// is marked processed so it never comes back.
	if len(ex.Dates) == 0 && ex.TourName == "" {
		record.Processed = true
		record.Summary = summaryFor(ex)
		change := &domain.ChangeSet{EntityID: entity.ID, Record: &record}
		if err := e.repo.Commit(ctx, change); err != nil {
			return Outcome{}, fmt.Errorf("commit factless record %d: %w", record.ID, err)
		}
		return Outcome{NoOp: true}, nil
	}

	year := tourYear(ex, record)

	tour, created, err := e.matchTour(ctx, entity, ex.TourName, year)
	if err != nil {
		return Outcome{}, err
	}

	var existing []domain.TourDate
	if !created {
		existing, err = e.repo.ListDates(ctx, tour.ID)
		if err != nil {
			return Outcome{}, fmt.Errorf("list dates for tour %d: %w", tour.ID, err)
		}
	}

	state := newTourState(existing)
	var conflicts []domain.Conflict

	for _, cand := range ex.Dates {
		if cand.TBD {
			state.upsertTBD(cand, ex)
			continue
		}
		conflicts = append(conflicts, state.upsertConcrete(cand, ex, record.ID)...)
	}

	state.rederiveFlags(entity.HomeCountry)
	state.refreshTour(&tour, e.now())

	record.Processed = true
	record.Summary = summaryFor(ex)

	change := &domain.ChangeSet{
		EntityID:     entity.ID,
		Tour:         &tour,
		CreatedTour:  created,
		NewDates:     state.inserted,
		UpdatedDates: state.changed(),
		Conflicts:    conflicts,
		Record:       &record,
	}

	if err := e.repo.Commit(ctx, change); err != nil {
		return Outcome{}, fmt.Errorf("commit reconciliation for record %d: %w", record.ID, err)
	}

	if len(conflicts) > 0 {
		e.logger.Warn("reconciliation conflicts recorded",
			"entity", entity.Name, "tour", tour.Name, "count", len(conflicts))
	}

	return Outcome{
		Tour:          tour,
		CreatedTour:   created,
		DatesInserted: len(change.NewDates),
		DatesUpdated:  len(change.UpdatedDates),
		Conflicts:     conflicts,
	}, nil
}

func summaryFor(ex extract.Extraction) *domain.ParseSummary {
	return &domain.ParseSummary{
		Confidence:     ex.Confidence,
		DatesFound:     len(ex.Dates),
		LocationsFound: len(ex.Locations),
		TourName:       ex.TourName,
		Reasons:        ex.Reasons,
	}
}

// tourYear picks the campaign year: the earliest concrete date's year,
// falling back to the post's publish year.
func tourYear(ex extract.Extraction, record domain.SourceRecord) int {
	year := 0
	for _, d := range ex.Dates {
		if d.TBD || d.Date == nil {
			continue
		}
		if year == 0 || d.Date.Year() < year {
			year = d.Date.Year()
		}
	}
	if year == 0 {
		year = record.PostedAt.Year()
	}
	return year
}

// matchTour resolves the extraction's tour name against existing tours for
// the entity and year. No name means the default bucket; no normalized
// match means a new tour, never a guess.
func (e *Engine) matchTour(ctx context.Context, entity domain.TrackedEntity, name string, year int) (domain.Tour, bool, error) {
	tours, err := e.repo.FindTours(ctx, entity.ID, year)
	if err != nil {
		return domain.Tour{}, false, fmt.Errorf("find tours for entity %d: %w", entity.ID, err)
	}

	target := name
	if target == "" {
		target = defaultTourName
	}
	normalized := normalizeTourName(target)

	for _, t := range tours {
		if normalizeTourName(t.Name) == normalized {
			return t, false, nil
		}
	}

	return domain.Tour{
		EntityID: entity.ID,
		Name:     target,
		Year:     year,
		Status:   domain.TourAnnounced,
	}, true, nil
}

// normalizeTourName case-folds and strips punctuation for matching, so
// `"Born Pink" World Tour` and `BORN PINK WORLD TOUR` land in one tour.
func normalizeTourName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// tourState tracks existing and pending dates during one reconciliation.
type tourState struct {
	dates    []*domain.TourDate
	original map[*domain.TourDate]domain.TourDate
	inserted []*domain.TourDate
}

func newTourState(existing []domain.TourDate) *tourState {
	s := &tourState{original: map[*domain.TourDate]domain.TourDate{}}
	for i := range existing {
		d := existing[i]
		p := &d
		s.dates = append(s.dates, p)
		s.original[p] = d
	}
	return s
}

// changed returns the existing dates whose fields differ from the loaded
// snapshot.
func (s *tourState) changed() []*domain.TourDate {
	var out []*domain.TourDate
	for _, d := range s.dates {
		orig, ok := s.original[d]
		if !ok {
			continue
		}
		if !tourDateEqual(orig, *d) {
			out = append(out, d)
		}
	}
	return out
}

func tourDateEqual(a, b domain.TourDate) bool {
	return a.City == b.City &&
		a.Country == b.Country &&
		a.Region == b.Region &&
		a.Venue == b.Venue &&
		timePtrEqual(a.Date, b.Date) &&
		timePtrEqual(a.EndDate, b.EndDate) &&
		a.Kickoff == b.Kickoff &&
		a.Encore == b.Encore &&
		a.Finale == b.Finale
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func sameCity(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// locationFor finds the extraction's location candidate for a city.
func locationFor(ex extract.Extraction, city string) (extract.LocationCandidate, bool) {
	for _, loc := range ex.Locations {
		if sameCity(loc.City, city) {
			return loc, true
		}
	}
	return extract.LocationCandidate{}, false
}

// upsertConcrete applies one dated candidate: merge into the same
// (city, date) stop when present, resolve a same-city TBD stop in place,
// or insert. Existing confirmed fields always win; disagreements become
// conflict entries.
func (s *tourState) upsertConcrete(cand extract.DateCandidate, ex extract.Extraction, recordID int64) []domain.Conflict {
	city := cand.City
	if city == "" {
		city = "Unknown"
	}
	loc, _ := locationFor(ex, city)

	// Same city and date: merge.
	for _, d := range s.dates {
		if d.Date != nil && d.Date.Equal(*cand.Date) && sameCity(d.City, city) {
			return mergeInto(d, cand, loc, ex, recordID)
		}
	}

	// A pending TBD stop for this city resolves in place.
	for _, d := range s.dates {
		if d.Date == nil && sameCity(d.City, city) {
			d.Date = cand.Date
			d.EndDate = cand.EndDate
			return mergeInto(d, cand, loc, ex, recordID)
		}
	}

	date := *cand.Date
	insert := &domain.TourDate{
		City:    city,
		Country: loc.Country,
		Region:  loc.Region,
		Venue:   loc.Venue,
		Date:    &date,
		EndDate: cand.EndDate,
		Encore:  ex.Encore,
	}
	s.dates = append(s.dates, insert)
	s.inserted = append(s.inserted, insert)
	return nil
}

// upsertTBD inserts an unresolved stop unless one for the same city is
// already pending; repeated "more cities TBA" posts reuse the pending
// stop instead of multiplying it.
func (s *tourState) upsertTBD(cand extract.DateCandidate, ex extract.Extraction) {
	city := cand.City
	if city == "" {
		city = placeholderCity
	}

	for _, d := range s.dates {
		if d.Date == nil && sameCity(d.City, city) {
			if loc, ok := locationFor(ex, city); ok {
				fillEmpty(d, loc)
			}
			return
		}
	}

	insert := &domain.TourDate{City: city, Encore: ex.Encore}
	if loc, ok := locationFor(ex, city); ok {
		insert.Country = loc.Country
		insert.Region = loc.Region
		insert.Venue = loc.Venue
	}
	s.dates = append(s.dates, insert)
	s.inserted = append(s.inserted, insert)
}

// mergeInto fills empty fields on an existing stop and records a conflict
// for each non-empty field a re-announcement tries to contradict.
func mergeInto(d *domain.TourDate, cand extract.DateCandidate, loc extract.LocationCandidate, ex extract.Extraction, recordID int64) []domain.Conflict {
	var conflicts []domain.Conflict
	conflict := func(field, existing, proposed string) {
		conflicts = append(conflicts, domain.Conflict{
			TourID:         d.TourID,
			TourDateID:     d.ID,
			Field:          field,
			Existing:       existing,
			Proposed:       proposed,
			SourceRecordID: recordID,
		})
	}

	if loc.Venue != "" {
		if d.Venue == "" {
			d.Venue = loc.Venue
		} else if !strings.EqualFold(d.Venue, loc.Venue) {
			conflict("venue", d.Venue, loc.Venue)
		}
	}
	if loc.Country != "" {
		if d.Country == "" {
			d.Country = loc.Country
			d.Region = loc.Region
		} else if d.Country != loc.Country {
			conflict("country", d.Country, loc.Country)
		}
	}
	if cand.EndDate != nil {
		if d.EndDate == nil {
			end := *cand.EndDate
			d.EndDate = &end
		} else if !d.EndDate.Equal(*cand.EndDate) {
			conflict("end_date", d.EndDate.Format("2006-01-02"), cand.EndDate.Format("2006-01-02"))
		}
	}
	if ex.Encore {
		d.Encore = true
	}
	return conflicts
}

func fillEmpty(d *domain.TourDate, loc extract.LocationCandidate) {
	if d.Country == "" {
		d.Country = loc.Country
		d.Region = loc.Region
	}
	if d.Venue == "" {
		d.Venue = loc.Venue
	}
}

// rederiveFlags recomputes kickoff and finale across the whole tour:
// kickoff is the earliest home-country date, finale the chronologically
// last resolved date; ties break toward the lowest identifier. New dates
// sort after existing ones in insertion order, matching the ascending
// identifiers the repository assigns on commit.
func (s *tourState) rederiveFlags(homeCountry string) {
	ordered := make([]*domain.TourDate, len(s.dates))
	copy(ordered, s.dates)

	rank := func(d *domain.TourDate) int64 {
		if d.ID != 0 {
			return d.ID
		}
		for i, ins := range s.inserted {
			if ins == d {
				return int64(1<<40 + i)
			}
		}
		return 1 << 50
	}
	sort.SliceStable(ordered, func(i, j int) bool { return rank(ordered[i]) < rank(ordered[j]) })

	var kickoff, finale *domain.TourDate
	for _, d := range ordered {
		d.Kickoff = false
		d.Finale = false
		if d.Date == nil {
			continue
		}
		if homeCountry != "" && d.Country == homeCountry {
			if kickoff == nil || d.Date.Before(*kickoff.Date) {
				kickoff = d
			}
		}
		if finale == nil || d.Date.After(*finale.Date) {
			finale = d
		}
	}
	if kickoff != nil {
		kickoff.Kickoff = true
	}
	if finale != nil {
		finale.Finale = true
	}
}

// refreshTour recomputes the tour's derived fields.
func (s *tourState) refreshTour(tour *domain.Tour, now time.Time) {
	unresolved := false
	regions := map[string]struct{}{}
	var first, last *time.Time
	for _, d := range s.dates {
		if d.Date == nil {
			unresolved = true
		} else {
			if first == nil || d.Date.Before(*first) {
				first = d.Date
			}
			if last == nil || d.Date.After(*last) {
				last = d.Date
			}
		}
		if d.Region != "" {
			regions[d.Region] = struct{}{}
		}
	}

	tour.HasUnresolvedDates = unresolved

	summary := make([]string, 0, len(regions))
	for r := range regions {
		summary = append(summary, r)
	}
	sort.Strings(summary)
	tour.Regions = summary

	if tour.Status != domain.TourCancelled {
		today := now.UTC().Truncate(24 * time.Hour)
		switch {
		case last != nil && !unresolved && last.Before(today):
			tour.Status = domain.TourCompleted
		case first != nil && !first.After(today):
			tour.Status = domain.TourOngoing
		default:
			tour.Status = domain.TourAnnounced
		}
	}
}
