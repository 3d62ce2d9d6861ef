package extract

// cityInfo is the canonical (city, country, region) triple for a known
// touring city.
type cityInfo struct {
	City    string
	Country string
	Region  string
}

// cityAliases maps lowercase city mentions, including native spellings and
// common misspellings, to canonical triples. Matching walks aliases longest
// first so "new york" is never shadowed by a shorter name.
var cityAliases = map[string]cityInfo{
	"seoul":         {"Seoul", "South Korea", "Asia"},
	"서울":            {"Seoul", "South Korea", "Asia"},
	"soul, korea":   {"Seoul", "South Korea", "Asia"},
	"busan":         {"Busan", "South Korea", "Asia"},
	"부산":            {"Busan", "South Korea", "Asia"},
	"incheon":       {"Incheon", "South Korea", "Asia"},
	"tokyo":         {"Tokyo", "Japan", "Asia"},
	"tokio":         {"Tokyo", "Japan", "Asia"},
	"osaka":         {"Osaka", "Japan", "Asia"},
	"bangkok":       {"Bangkok", "Thailand", "Asia"},
	"singapore":     {"Singapore", "Singapore", "Asia"},
	"jakarta":       {"Jakarta", "Indonesia", "Asia"},
	"manila":        {"Manila", "Philippines", "Asia"},
	"taipei":        {"Taipei", "Taiwan", "Asia"},
	"hong kong":     {"Hong Kong", "Hong Kong", "Asia"},
	"hongkong":      {"Hong Kong", "Hong Kong", "Asia"},
	"los angeles":   {"Los Angeles", "USA", "North America"},
	"new york":      {"New York", "USA", "North America"},
	"newark":        {"Newark", "USA", "North America"},
	"chicago":       {"Chicago", "USA", "North America"},
	"dallas":        {"Dallas", "USA", "North America"},
	"houston":       {"Houston", "USA", "North America"},
	"atlanta":       {"Atlanta", "USA", "North America"},
	"san francisco": {"San Francisco", "USA", "North America"},
	"oakland":       {"Oakland", "USA", "North America"},
	"seattle":       {"Seattle", "USA", "North America"},
	"las vegas":     {"Las Vegas", "USA", "North America"},
	"toronto":       {"Toronto", "Canada", "North America"},
	"vancouver":     {"Vancouver", "Canada", "North America"},
	"mexico city":   {"Mexico City", "Mexico", "North America"},
	"london":        {"London", "UK", "Europe"},
	"paris":         {"Paris", "France", "Europe"},
	"berlin":        {"Berlin", "Germany", "Europe"},
	"amsterdam":     {"Amsterdam", "Netherlands", "Europe"},
	"madrid":        {"Madrid", "Spain", "Europe"},
	"sydney":        {"Sydney", "Australia", "Oceania"},
	"melbourne":     {"Melbourne", "Australia", "Oceania"},
	"sao paulo":     {"Sao Paulo", "Brazil", "South America"},
	"são paulo":     {"Sao Paulo", "Brazil", "South America"},
}

// venueIndicators are the trailing keywords that mark a capitalized phrase
// as a venue name.
var venueIndicators = map[string]struct{}{
	"stadium":      {},
	"arena":        {},
	"dome":         {},
	"center":       {},
	"centre":       {},
	"hall":         {},
	"park":         {},
	"garden":       {},
	"coliseum":     {},
	"amphitheatre": {},
	"amphitheater": {},
	"forum":        {},
	"pavilion":     {},
}

var encoreKeywords = []string{
	"encore",
	"additional show",
	"added dates",
	"added shows",
	"extra dates",
	"extra shows",
}

var finaleKeywords = []string{
	"grand finale",
	"finale",
	"final show",
	"last show",
	"final stop",
	"last stop",
	"tour finale",
}

// concertKeywords drive the cheap relevance pre-filter; a record matching
// none of them is stored but skipped by extraction.
var concertKeywords = []string{
	"tour",
	"concert",
	"tickets",
	"live",
	"show",
	"stadium",
	"arena",
	"dates",
}
