package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateCandidate is one date mention found in a post. A TBD candidate means
// the text explicitly asserts the date is not fixed yet; an absent
// candidate means no date-like text was found at all.
type DateCandidate struct {
	Date    *time.Time
	EndDate *time.Time
	Raw     string
	TBD     bool

	// City the mention was keyed to by proximity, when one was found.
	City string

	offset int
}

// dateMatch pairs a candidate with its position in the text so it can be
// keyed to nearby location mentions.
type dateMatch struct {
	cand    DateCandidate
	reasons []string
}

// dateFamily is one pattern family in the priority chain. The first family
// that yields matches wins; later families are not consulted.
type dateFamily struct {
	name  string
	match func(display string, ref time.Time) []dateMatch
}

const monthPattern = `(Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:tember)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)`

var (
	isoExpr          = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	monthDayYearExpr = regexp.MustCompile(`(?i)\b` + monthPattern + `\s+(\d{1,2})(?:st|nd|rd|th)?(?:\s*[-&]\s*(\d{1,2})(?:st|nd|rd|th)?)?,?\s*(\d{4})\b`)
	numericExpr      = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{2,4})\b`)
	dayMonthYearExpr = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+` + monthPattern + `\s+(\d{4})\b`)
	dayMonthExpr     = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+` + monthPattern + `\b`)
	monthDayExpr     = regexp.MustCompile(`(?i)\b` + monthPattern + `\s+(\d{1,2})(?:st|nd|rd|th)?(?:\s*[-&]\s*(\d{1,2})(?:st|nd|rd|th)?)?\b`)
)

var tbdExprs = []*regexp.Regexp{
	regexp.MustCompile(`more\s+(?:dates|cities|shows)[^.!?]*(?:coming|soon|tba|tbd)`),
	regexp.MustCompile(`additional[^.!?]*(?:dates|shows)[^.!?]*(?:announced|coming)`),
	regexp.MustCompile(`dates?\s+to\s+be\s+(?:announced|determined|confirmed)`),
	regexp.MustCompile(`\+\s*more`),
	regexp.MustCompile(`and\s+more`),
	regexp.MustCompile(`\btba\b`),
	regexp.MustCompile(`\btbd\b`),
	regexp.MustCompile(`coming\s+soon`),
}

var monthsByPrefix = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

func monthByName(name string) (time.Month, bool) {
	key := strings.ToLower(name)
	if len(key) > 3 {
		key = key[:3]
	}
	m, ok := monthsByPrefix[key]
	return m, ok
}

// makeDate validates the calendar triple; time.Date silently normalizes
// overflow, so the day is checked back.
func makeDate(year int, month time.Month, day int) (time.Time, bool) {
	if day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day || d.Month() != month {
		return time.Time{}, false
	}
	return d, true
}

// dateFamilies is the ordered priority chain, most specific first.
var dateFamilies = []dateFamily{
	{name: "iso", match: matchISO},
	{name: "month_day_year", match: matchMonthDayYear},
	{name: "numeric", match: matchNumeric},
	{name: "day_month_year", match: matchDayMonthYear},
	{name: "inferred_year", match: matchInferredYear},
}

func matchISO(display string, _ time.Time) []dateMatch {
	var out []dateMatch
	for _, m := range isoExpr.FindAllStringSubmatchIndex(display, -1) {
		raw := display[m[0]:m[1]]
		year, _ := strconv.Atoi(display[m[2]:m[3]])
		monthNum, _ := strconv.Atoi(display[m[4]:m[5]])
		day, _ := strconv.Atoi(display[m[6]:m[7]])
		if monthNum < 1 || monthNum > 12 {
			continue
		}
		d, ok := makeDate(year, time.Month(monthNum), day)
		if !ok {
			continue
		}
		out = append(out, dateMatch{cand: DateCandidate{Date: &d, Raw: raw, offset: m[0]}})
	}
	return out
}

func matchMonthDayYear(display string, _ time.Time) []dateMatch {
	var out []dateMatch
	for _, m := range monthDayYearExpr.FindAllStringSubmatchIndex(display, -1) {
		raw := display[m[0]:m[1]]
		month, ok := monthByName(display[m[2]:m[3]])
		if !ok {
			continue
		}
		day, _ := strconv.Atoi(display[m[4]:m[5]])
		year, _ := strconv.Atoi(display[m[8]:m[9]])

		start, ok := makeDate(year, month, day)
		if !ok {
			continue
		}
		cand := DateCandidate{Date: &start, Raw: raw, offset: m[0]}

		// Same-month range such as "March 15-16, 2025".
		if m[6] >= 0 {
			endDay, _ := strconv.Atoi(display[m[6]:m[7]])
			if end, ok := makeDate(year, month, endDay); ok && !end.Before(start) {
				cand.EndDate = &end
			}
		}
		out = append(out, dateMatch{cand: cand})
	}
	return out
}

func matchNumeric(display string, _ time.Time) []dateMatch {
	var out []dateMatch
	for _, m := range numericExpr.FindAllStringSubmatchIndex(display, -1) {
		raw := display[m[0]:m[1]]
		first, _ := strconv.Atoi(display[m[2]:m[3]])
		second, _ := strconv.Atoi(display[m[4]:m[5]])
		year, _ := strconv.Atoi(display[m[6]:m[7]])
		if year < 100 {
			year += 2000
		}

		var reasons []string
		monthNum, day := first, second
		switch {
		case first > 12 && second <= 12:
			monthNum, day = second, first
		case first <= 12 && second <= 12 && first != second:
			// Month-first read wins, but flag the ambiguity.
			reasons = append(reasons, "ambiguous_date_order")
		}
		if monthNum < 1 || monthNum > 12 {
			continue
		}
		d, ok := makeDate(year, time.Month(monthNum), day)
		if !ok {
			continue
		}
		out = append(out, dateMatch{
			cand:    DateCandidate{Date: &d, Raw: raw, offset: m[0]},
			reasons: reasons,
		})
	}
	return out
}

func matchDayMonthYear(display string, _ time.Time) []dateMatch {
	var out []dateMatch
	for _, m := range dayMonthYearExpr.FindAllStringSubmatchIndex(display, -1) {
		raw := display[m[0]:m[1]]
		day, _ := strconv.Atoi(display[m[2]:m[3]])
		month, ok := monthByName(display[m[4]:m[5]])
		if !ok {
			continue
		}
		year, _ := strconv.Atoi(display[m[6]:m[7]])
		d, ok := makeDate(year, month, day)
		if !ok {
			continue
		}
		out = append(out, dateMatch{cand: DateCandidate{Date: &d, Raw: raw, offset: m[0]}})
	}
	return out
}

// matchInferredYear handles "15 March" and "March 15" mentions with no
// year: the publish year is assumed, rolling forward one year when the
// date already passed relative to publish time, so recurring-tour
// announcements are not mis-dated into the past.
func matchInferredYear(display string, ref time.Time) []dateMatch {
	var out []dateMatch

	add := func(start, end time.Time, hasEnd bool, raw string, offset int) {
		reasons := []string{"ambiguous_year"}
		if start.Before(ref.Truncate(24 * time.Hour)) {
			start = start.AddDate(1, 0, 0)
			if hasEnd {
				end = end.AddDate(1, 0, 0)
			}
		}
		cand := DateCandidate{Date: &start, Raw: raw, offset: offset}
		if hasEnd {
			cand.EndDate = &end
		}
		out = append(out, dateMatch{cand: cand, reasons: reasons})
	}

	for _, m := range dayMonthExpr.FindAllStringSubmatchIndex(display, -1) {
		day, _ := strconv.Atoi(display[m[2]:m[3]])
		month, ok := monthByName(display[m[4]:m[5]])
		if !ok {
			continue
		}
		d, ok := makeDate(ref.Year(), month, day)
		if !ok {
			continue
		}
		add(d, time.Time{}, false, display[m[0]:m[1]], m[0])
	}
	if len(out) > 0 {
		return out
	}

	for _, m := range monthDayExpr.FindAllStringSubmatchIndex(display, -1) {
		month, ok := monthByName(display[m[2]:m[3]])
		if !ok {
			continue
		}
		day, _ := strconv.Atoi(display[m[4]:m[5]])
		start, ok := makeDate(ref.Year(), month, day)
		if !ok {
			continue
		}
		if m[6] >= 0 {
			endDay, _ := strconv.Atoi(display[m[6]:m[7]])
			if end, ok := makeDate(ref.Year(), month, endDay); ok && !end.Before(start) {
				add(start, end, true, display[m[0]:m[1]], m[0])
				continue
			}
		}
		add(start, time.Time{}, false, display[m[0]:m[1]], m[0])
	}
	return out
}

// hasTBD reports whether the lowercased text explicitly pushes dates into
// the future ("more cities TBA", "coming soon", ...).
func hasTBD(matching string) bool {
	for _, expr := range tbdExprs {
		if expr.MatchString(matching) {
			return true
		}
	}
	return false
}
