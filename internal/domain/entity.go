package domain

import "strings"

// TrackedEntity is a monitored subject (artist or group) whose concert
// announcements are ingested. Identity is immutable once created.
type TrackedEntity struct {
	ID              int64
	Name            string
	NativeName      string
	Handle          string
	OfficialHandles []string
	Aliases         []string
	HomeCountry     string
	NoticeURL       string
	Favorite        bool
}

// AllHandles returns every external handle associated with the entity,
// primary handle first.
func (e TrackedEntity) AllHandles() []string {
	handles := make([]string, 0, 1+len(e.OfficialHandles))
	if e.Handle != "" {
		handles = append(handles, e.Handle)
	}
	for _, h := range e.OfficialHandles {
		if h != "" {
			handles = append(handles, h)
		}
	}
	return handles
}

// IsOfficialHandle reports whether the given author handle belongs to the
// entity's own accounts. Comparison ignores case and a leading "@".
func (e TrackedEntity) IsOfficialHandle(handle string) bool {
	normalized := strings.ToLower(strings.TrimPrefix(handle, "@"))
	if normalized == "" {
		return false
	}
	for _, h := range e.AllHandles() {
		if strings.ToLower(strings.TrimPrefix(h, "@")) == normalized {
			return true
		}
	}
	return false
}
