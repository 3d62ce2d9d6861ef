package sources

import (
	"fmt"
	"strings"

	"ConcertTracker/internal/domain"
)

// maxQueryLength is the search API's cap on query strings.
const maxQueryLength = 512

var searchKeywords = []string{
	"tour",
	"concert",
	"world tour",
	"dates announced",
	"tickets",
	"live in",
}

var exclusionKeywords = []string{
	"fan meeting",
	"fanmeeting",
	"meet and greet",
	"reality show",
	"album",
	"music video",
}

// BuildQuery assembles the broad search query for an entity:
// name/alias variants OR-ed together, concert keywords, retweets and
// common noise excluded.
func BuildQuery(entity domain.TrackedEntity) string {
	names := []string{fmt.Sprintf("%q", entity.Name)}
	if entity.NativeName != "" {
		names = append(names, fmt.Sprintf("%q", entity.NativeName))
	}
	if entity.Handle != "" {
		names = append(names, entity.Handle)
	}
	// Cap aliases to keep the query under the length limit.
	for i, alias := range entity.Aliases {
		if i >= 2 {
			break
		}
		names = append(names, fmt.Sprintf("%q", alias))
	}

	keywords := strings.Join(searchKeywords[:3], " OR ")

	var exclusions []string
	for _, kw := range exclusionKeywords[:3] {
		exclusions = append(exclusions, fmt.Sprintf("-%q", kw))
	}

	query := fmt.Sprintf("(%s) (%s) -is:retweet %s",
		strings.Join(names, " OR "), keywords, strings.Join(exclusions, " "))
	return clip(query)
}

// BuildOfficialQuery targets only the entity's own accounts; empty when
// the entity has no known handles.
func BuildOfficialQuery(entity domain.TrackedEntity) string {
	handles := entity.AllHandles()
	if len(handles) == 0 {
		return ""
	}

	froms := make([]string, 0, len(handles))
	for _, h := range handles {
		froms = append(froms, "from:"+strings.TrimPrefix(h, "@"))
	}
	keywords := strings.Join(searchKeywords[:3], " OR ")

	return clip(fmt.Sprintf("(%s) (%s)", strings.Join(froms, " OR "), keywords))
}

func clip(query string) string {
	if len(query) > maxQueryLength {
		return query[:maxQueryLength]
	}
	return query
}
