// Package extract turns normalized announcement text into structured
// concert facts. Extraction is pattern based, never fails on malformed
// text, and reports diagnostic reason codes instead of errors; an
// all-empty result is a valid outcome.
package extract

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"ConcertTracker/internal/textnorm"
)

// Reason codes attached to extractions for observability. They never drive
// control flow.
const (
	ReasonNoDatePattern = "no_date_pattern_matched"
	ReasonAmbiguousYear = "ambiguous_year"
	ReasonUnknownCity   = "unknown_city"
	ReasonNoLocation    = "no_location_found"
	ReasonNoTourName    = "no_tour_name_matched"
)

// LocationCandidate is one city mention resolved against the alias table,
// or a best-effort capitalized token sequence when the table has no entry.
type LocationCandidate struct {
	City    string
	Country string
	Region  string
	Venue   string
	Known   bool

	offset int
}

// Extraction is the structured outcome for one post. Kickoff, encore and
// finale markers are proposals; the reconciliation engine has the
// cross-record visibility to confirm or drop them.
type Extraction struct {
	Dates     []DateCandidate
	Locations []LocationCandidate
	Venue     string
	TourName  string

	HasTBD      bool
	Encore      bool
	Finale      bool
	KickoffCity string
	HomeRelated bool

	Confidence float64
	Reasons    []string
}

// Extractor applies the ordered pattern chain. It is stateless and safe
// for concurrent use.
type Extractor struct{}

// New returns a ready extractor.
func New() *Extractor {
	return &Extractor{}
}

// aliasesByLength caches the alias keys sorted longest first so a short
// city name never shadows a longer compound one.
var aliasesByLength = func() []string {
	keys := make([]string, 0, len(cityAliases))
	for k := range cityAliases {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// Extract runs the full pattern chain over one normalized post.
// publishedAt anchors year inference; homeCountry marks kickoff proposals.
func (e *Extractor) Extract(c textnorm.Canonical, publishedAt time.Time, homeCountry string) Extraction {
	var result Extraction
	reasons := map[string]struct{}{}

	// Dates: first family with matches wins, the rest are not tried.
	var matches []dateMatch
	for _, family := range dateFamilies {
		matches = family.match(c.Display, publishedAt)
		if len(matches) > 0 {
			break
		}
	}
	for _, m := range matches {
		result.Dates = append(result.Dates, m.cand)
		for _, r := range m.reasons {
			reasons[r] = struct{}{}
		}
	}

	result.Locations = extractLocations(c, reasons)
	result.HasTBD = hasTBD(c.Matching)

	venues := extractVenues(c.Display)
	attachVenues(result.Locations, venues)
	if len(venues) > 0 {
		result.Venue = venues[0].name
	}

	result.TourName = extractTourName(c.Display)
	if result.TourName == "" {
		reasons[ReasonNoTourName] = struct{}{}
	}

	keyDatesToCities(result.Dates, result.Locations)
	result.Dates = append(result.Dates, tbdCandidates(result)...)

	if len(result.Dates) == 0 {
		reasons[ReasonNoDatePattern] = struct{}{}
	}

	result.Encore = containsAny(c.Matching, encoreKeywords)
	result.Finale = containsAny(c.Matching, finaleKeywords)
	deriveHomeFlags(&result, homeCountry)

	result.Reasons = sortedReasons(reasons)
	result.Confidence = confidence(result)
	return result
}

// IsConcertRelated is the cheap relevance pre-filter applied before any
// record is scheduled for extraction.
func IsConcertRelated(matching string) bool {
	return containsAny(matching, concertKeywords)
}

func extractLocations(c textnorm.Canonical, reasons map[string]struct{}) []LocationCandidate {
	var out []LocationCandidate
	seen := map[string]struct{}{}

	for _, alias := range aliasesByLength {
		idx := strings.Index(c.Matching, alias)
		if idx < 0 {
			continue
		}
		info := cityAliases[alias]
		if _, dup := seen[info.City]; dup {
			continue
		}
		seen[info.City] = struct{}{}
		out = append(out, LocationCandidate{
			City:    info.City,
			Country: info.Country,
			Region:  info.Region,
			Known:   true,
			offset:  idx,
		})
	}

	if len(out) == 0 {
		if loc, ok := fallbackCity(c.Display); ok {
			out = append(out, loc)
			reasons[ReasonUnknownCity] = struct{}{}
		} else {
			reasons[ReasonNoLocation] = struct{}{}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].offset < out[j].offset })
	return out
}

// fallbackCity grabs a capitalized token sequence after a locational
// preposition when the alias table has no entry. Country stays unknown;
// the record is never failed for an unknown city.
var fallbackCityExpr = regexp.MustCompile(`\b(?:live in|in|at)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,2})`)

func fallbackCity(display string) (LocationCandidate, bool) {
	for _, m := range fallbackCityExpr.FindAllStringSubmatchIndex(display, -1) {
		candidate := display[m[2]:m[3]]
		first := strings.ToLower(strings.Fields(candidate)[0])
		if _, isMonth := monthsByPrefix[truncate(first, 3)]; isMonth {
			continue
		}
		if _, isVenue := venueIndicators[first]; isVenue {
			continue
		}
		return LocationCandidate{City: candidate, offset: m[2]}, true
	}
	return LocationCandidate{}, false
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

type venueMatch struct {
	name   string
	offset int
}

// extractVenues finds capitalized phrases ending in a venue indicator
// ("KSPO Dome", "Madison Square Garden"), expanding left across the
// longest contiguous run of capitalized tokens.
func extractVenues(display string) []venueMatch {
	type token struct {
		text   string
		offset int
	}
	var tokens []token
	pos := 0
	for _, f := range strings.Fields(display) {
		idx := strings.Index(display[pos:], f) + pos
		tokens = append(tokens, token{text: f, offset: idx})
		pos = idx + len(f)
	}

	capitalized := func(s string) bool {
		trimmed := strings.TrimFunc(s, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if trimmed == "" {
			return false
		}
		r := []rune(trimmed)[0]
		return unicode.IsUpper(r)
	}

	var out []venueMatch
	for i, tok := range tokens {
		cleaned := strings.ToLower(strings.TrimFunc(tok.text, unicode.IsPunct))
		if _, ok := venueIndicators[cleaned]; !ok || !capitalized(tok.text) {
			continue
		}
		start := i
		for start > 0 && capitalized(tokens[start-1].text) {
			start--
		}
		var parts []string
		for _, t := range tokens[start : i+1] {
			parts = append(parts, strings.TrimRight(t.text, ".,!?;:"))
		}
		out = append(out, venueMatch{name: strings.Join(parts, " "), offset: tokens[start].offset})
	}
	return out
}

// attachVenues keys each venue to the closest location mention.
func attachVenues(locations []LocationCandidate, venues []venueMatch) {
	for _, v := range venues {
		best := -1
		bestDist := 0
		for i, loc := range locations {
			dist := loc.offset - v.offset
			if dist < 0 {
				dist = -dist
			}
			if best < 0 || dist < bestDist {
				best, bestDist = i, dist
			}
		}
		if best >= 0 && locations[best].Venue == "" {
			locations[best].Venue = v.name
		}
	}
}

var tourNameExprs = []*regexp.Regexp{
	// "BORN PINK WORLD TOUR", "WORLD TOUR 2025"
	regexp.MustCompile(`((?:[A-Z][A-Z0-9'&]*\s+)+(?:TOUR|CONCERT|FAN\s?CON)(?:\s+\d{4})?)`),
	// Quoted names: 'Born Pink Tour'
	regexp.MustCompile(`["']([^"']{2,80}(?i:tour|concert|fan\s?con))["']`),
	// Title-case names: "Born Pink World Tour 2025"
	regexp.MustCompile(`\b((?:[A-Z][\w']+\s+)+Tour(?:\s+\d{4})?)\b`),
}

func extractTourName(display string) string {
	for _, expr := range tourNameExprs {
		if m := expr.FindStringSubmatch(display); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// keyDatesToCities binds each concrete date to the nearest city mention,
// keeping multi-city announcements as independent candidates.
func keyDatesToCities(dates []DateCandidate, locations []LocationCandidate) {
	for i := range dates {
		best := -1
		bestDist := 0
		for j, loc := range locations {
			dist := loc.offset - dates[i].offset
			if dist < 0 {
				dist = -dist
			}
			if best < 0 || dist < bestDist {
				best, bestDist = j, dist
			}
		}
		if best >= 0 {
			dates[i].City = locations[best].City
		}
	}
}

// tbdCandidates emits explicit TBD markers: one per city mentioned without
// a concrete date, or a single city-less marker when the text only
// promises more stops.
func tbdCandidates(result Extraction) []DateCandidate {
	if !result.HasTBD {
		return nil
	}

	dated := map[string]struct{}{}
	for _, d := range result.Dates {
		if d.City != "" {
			dated[d.City] = struct{}{}
		}
	}

	var out []DateCandidate
	for _, loc := range result.Locations {
		if _, ok := dated[loc.City]; ok {
			continue
		}
		out = append(out, DateCandidate{TBD: true, City: loc.City, Raw: "tbd"})
	}
	if len(out) == 0 {
		out = append(out, DateCandidate{TBD: true, Raw: "tbd"})
	}
	return out
}

func deriveHomeFlags(result *Extraction, homeCountry string) {
	if homeCountry == "" {
		return
	}
	for _, loc := range result.Locations {
		if loc.Known && loc.Country == homeCountry {
			result.HomeRelated = true
			break
		}
	}
	if !result.HomeRelated {
		return
	}

	// Kickoff is proposed only for the earliest concrete date in the
	// post, and only when its city sits in the home country.
	var earliest *DateCandidate
	for i := range result.Dates {
		d := &result.Dates[i]
		if d.TBD || d.Date == nil {
			continue
		}
		if earliest == nil || d.Date.Before(*earliest.Date) {
			earliest = d
		}
	}
	if earliest == nil || earliest.City == "" {
		return
	}
	for _, loc := range result.Locations {
		if loc.City == earliest.City && loc.Country == homeCountry {
			result.KickoffCity = earliest.City
			return
		}
	}
}

func containsAny(matching string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(matching, kw) {
			return true
		}
	}
	return false
}

func sortedReasons(reasons map[string]struct{}) []string {
	if len(reasons) == 0 {
		return nil
	}
	out := make([]string, 0, len(reasons))
	for r := range reasons {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func confidence(result Extraction) float64 {
	var score float64
	concrete := false
	for _, d := range result.Dates {
		if !d.TBD {
			concrete = true
			break
		}
	}
	if concrete {
		score += 0.3
	}
	if len(result.Locations) > 0 {
		score += 0.3
	}
	if result.TourName != "" {
		score += 0.2
	}
	for _, loc := range result.Locations {
		if loc.Venue != "" {
			score += 0.1
			break
		}
	}
	for _, loc := range result.Locations {
		if loc.Country != "" {
			score += 0.1
			break
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}
