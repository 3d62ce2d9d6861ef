package extract

import (
	"testing"
	"time"

	"ConcertTracker/internal/textnorm"
)

var publishTime = time.Date(2025, time.January, 10, 9, 0, 0, 0, time.UTC)

func extractText(t *testing.T, text, homeCountry string) Extraction {
	t.Helper()
	return New().Extract(textnorm.Normalize(text), publishTime, homeCountry)
}

func TestExtractKickoffAnnouncement(t *testing.T) {
	t.Parallel()

	text := "BLACKSTAR announces WORLD TOUR kickoff in Seoul on March 15, 2025 at KSPO Dome"
	got := extractText(t, text, "South Korea")

	if got.TourName != "WORLD TOUR" {
		t.Fatalf("tour name = %q, want WORLD TOUR", got.TourName)
	}
	if len(got.Dates) != 1 {
		t.Fatalf("expected 1 date, got %d: %+v", len(got.Dates), got.Dates)
	}
	d := got.Dates[0]
	if d.TBD || d.Date == nil {
		t.Fatalf("expected concrete date, got %+v", d)
	}
	want := time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC)
	if !d.Date.Equal(want) {
		t.Fatalf("date = %s, want %s", d.Date, want)
	}
	if d.City != "Seoul" {
		t.Fatalf("date keyed to city %q, want Seoul", d.City)
	}

	if len(got.Locations) != 1 {
		t.Fatalf("expected 1 location, got %d", len(got.Locations))
	}
	loc := got.Locations[0]
	if loc.City != "Seoul" || loc.Country != "South Korea" {
		t.Fatalf("unexpected location: %+v", loc)
	}
	if loc.Venue != "KSPO Dome" {
		t.Fatalf("venue = %q, want KSPO Dome", loc.Venue)
	}

	if got.KickoffCity != "Seoul" {
		t.Fatalf("kickoff city = %q, want Seoul", got.KickoffCity)
	}
	if !got.HomeRelated {
		t.Fatal("expected home-related flag")
	}
	if got.Confidence < 0.9 {
		t.Fatalf("confidence = %f, want >= 0.9", got.Confidence)
	}
}

func TestExtractTBDOnlyAnnouncement(t *testing.T) {
	t.Parallel()

	got := extractText(t, "More cities TBA for WORLD TOUR", "South Korea")

	if !got.HasTBD {
		t.Fatal("expected TBD flag")
	}
	if len(got.Dates) != 1 || !got.Dates[0].TBD {
		t.Fatalf("expected one TBD candidate, got %+v", got.Dates)
	}
	if got.Dates[0].City != "" {
		t.Fatalf("city-less TBD expected, got %q", got.Dates[0].City)
	}
	if got.TourName != "WORLD TOUR" {
		t.Fatalf("tour name = %q", got.TourName)
	}
}

func TestExtractCityTBDAnnouncement(t *testing.T) {
	t.Parallel()

	got := extractText(t, "WORLD TOUR adds Tokyo - date TBA", "South Korea")

	if len(got.Dates) != 1 || !got.Dates[0].TBD {
		t.Fatalf("expected one TBD candidate, got %+v", got.Dates)
	}
	if got.Dates[0].City != "Tokyo" {
		t.Fatalf("TBD keyed to %q, want Tokyo", got.Dates[0].City)
	}
	if got.KickoffCity != "" {
		t.Fatalf("no kickoff expected, got %q", got.KickoffCity)
	}
}

func TestDateFamilyPriority(t *testing.T) {
	t.Parallel()

	// ISO beats every other family for the same text.
	got := extractText(t, "Tickets for the show on 2025-06-01", "")
	if len(got.Dates) != 1 || got.Dates[0].Date == nil {
		t.Fatalf("unexpected dates: %+v", got.Dates)
	}
	if !got.Dates[0].Date.Equal(time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date = %s", got.Dates[0].Date)
	}

	// Day-month-year form.
	got = extractText(t, "Live show 15 March 2025 in Bangkok", "")
	if len(got.Dates) != 1 || !got.Dates[0].Date.Equal(time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected dates: %+v", got.Dates)
	}
	if got.Dates[0].City != "Bangkok" {
		t.Fatalf("keyed city = %q", got.Dates[0].City)
	}
}

func TestDateRangeSameMonth(t *testing.T) {
	t.Parallel()

	got := extractText(t, "Two nights in Tokyo! March 15-16, 2025, tickets on sale", "")
	if len(got.Dates) != 1 {
		t.Fatalf("expected 1 candidate, got %+v", got.Dates)
	}
	d := got.Dates[0]
	if d.Date == nil || d.EndDate == nil {
		t.Fatalf("expected range, got %+v", d)
	}
	if d.Date.Day() != 15 || d.EndDate.Day() != 16 {
		t.Fatalf("range = %s .. %s", d.Date, d.EndDate)
	}
}

func TestYearInferenceRollsForward(t *testing.T) {
	t.Parallel()

	// Published January 2025; "5 January" has already passed, so the
	// mention rolls into the next calendar year.
	got := extractText(t, "Concert on 5 January in Osaka", "")
	if len(got.Dates) != 1 || got.Dates[0].Date == nil {
		t.Fatalf("unexpected dates: %+v", got.Dates)
	}
	if got.Dates[0].Date.Year() != 2026 {
		t.Fatalf("year = %d, want 2026", got.Dates[0].Date.Year())
	}
	if !hasReason(got, ReasonAmbiguousYear) {
		t.Fatalf("expected %s reason, got %v", ReasonAmbiguousYear, got.Reasons)
	}

	// A date still ahead keeps the publish year.
	got = extractText(t, "Concert on 20 March in Osaka", "")
	if got.Dates[0].Date.Year() != 2025 {
		t.Fatalf("year = %d, want 2025", got.Dates[0].Date.Year())
	}
}

func TestMultiCityAnnouncementKeepsSeparateDates(t *testing.T) {
	t.Parallel()

	text := "WORLD TOUR dates: Tokyo on March 20, 2025 and Bangkok on April 2, 2025"
	got := extractText(t, text, "")

	if len(got.Dates) != 2 {
		t.Fatalf("expected 2 dates, got %+v", got.Dates)
	}
	cities := map[string]int{}
	for _, d := range got.Dates {
		cities[d.City] = d.Date.Day()
	}
	if cities["Tokyo"] != 20 || cities["Bangkok"] != 2 {
		t.Fatalf("dates not keyed to nearby cities: %v", cities)
	}
}

func TestLongestCityMatchWins(t *testing.T) {
	t.Parallel()

	got := extractText(t, "Concert live in New York on June 1, 2025", "")
	if len(got.Locations) != 1 || got.Locations[0].City != "New York" {
		t.Fatalf("locations = %+v", got.Locations)
	}
}

func TestUnknownCityFallback(t *testing.T) {
	t.Parallel()

	got := extractText(t, "Tour stops live in Springfield on June 1, 2025", "")
	if len(got.Locations) != 1 {
		t.Fatalf("locations = %+v", got.Locations)
	}
	loc := got.Locations[0]
	if loc.City != "Springfield" || loc.Known || loc.Country != "" {
		t.Fatalf("unexpected fallback location: %+v", loc)
	}
	if !hasReason(got, ReasonUnknownCity) {
		t.Fatalf("expected %s reason, got %v", ReasonUnknownCity, got.Reasons)
	}
}

func TestNoDatePatternReason(t *testing.T) {
	t.Parallel()

	got := extractText(t, "We love our fans at every show", "")
	if len(got.Dates) != 0 {
		t.Fatalf("expected no dates, got %+v", got.Dates)
	}
	if !hasReason(got, ReasonNoDatePattern) {
		t.Fatalf("expected %s reason, got %v", ReasonNoDatePattern, got.Reasons)
	}
}

func TestEncoreAndFinaleFlags(t *testing.T) {
	t.Parallel()

	got := extractText(t, "Encore show added in Seoul, January 30, 2025", "South Korea")
	if !got.Encore {
		t.Fatal("expected encore flag")
	}

	got = extractText(t, "The grand finale in London, July 5, 2025", "South Korea")
	if !got.Finale {
		t.Fatal("expected finale flag")
	}
	if got.Encore {
		t.Fatal("finale text should not raise encore")
	}
}

func TestQuotedTourName(t *testing.T) {
	t.Parallel()

	got := extractText(t, `Presenting "Eclipse World Tour" in Tokyo, May 5, 2025`, "")
	if got.TourName != "Eclipse World Tour" {
		t.Fatalf("tour name = %q", got.TourName)
	}
}

func TestIsConcertRelated(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want bool
	}{
		{"WORLD TOUR dates announced", true},
		{"Get your tickets now", true},
		{"Happy birthday to our leader!", false},
	}
	for _, tc := range cases {
		c := textnorm.Normalize(tc.text)
		if got := IsConcertRelated(c.Matching); got != tc.want {
			t.Fatalf("IsConcertRelated(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func hasReason(e Extraction, reason string) bool {
	for _, r := range e.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}
