package source

import (
	"strings"

	"job_harvester/internal/domain"
)

// Matches reports whether p satisfies q for boards that cannot filter
// server-side. Any keyword in the title or description matches; a location
// filter also admits remote postings.
func Matches(p domain.RawPosting, q domain.Query) bool {
	if q.Location != "" && !containsFold(p.Location, q.Location) && !containsFold(p.Location, "remote") {
		return false
	}
	if len(q.Keywords) == 0 {
		return true
	}
	for _, kw := range q.Keywords {
		if containsFold(p.Title, kw) || containsFold(p.Description, kw) {
			return true
		}
	}
	return false
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
