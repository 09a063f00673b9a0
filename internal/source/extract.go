package source

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"job_harvester/internal/domain"
	"job_harvester/internal/normalize"
)

// Selectors locate listing fields on a board page. Field selectors are
// relative to Item; an empty selector leaves the field blank.
type Selectors struct {
	Item         string
	Title        string
	Company      string
	Location     string
	Link         string
	Description  string
	Compensation string
	// PostedAt reads the datetime attribute, falling back to the text.
	PostedAt string
	// IDAttr is an attribute on the item holding the board's own id.
	IDAttr string
	// Detail selects the description on a posting's own page.
	Detail string
}

// Listings is the result of extracting one page.
type Listings struct {
	Postings []domain.RawPosting
	// OffSite counts listings dropped because their link left the allowed domains.
	OffSite int
}

// ExtractListings reads every Item under root. Relative links resolve
// against base. When allowed is non-empty, listings linking outside those
// domains are dropped; company defaults to defaultCompany.
func ExtractListings(root *goquery.Selection, base *url.URL, sel Selectors, sourceID, defaultCompany string, allowed []string) Listings {
	var out Listings
	root.Find(sel.Item).Each(func(_ int, item *goquery.Selection) {
		p, ok := ExtractListing(item, base, sel, sourceID)
		if !ok {
			return
		}
		if p.URL != "" && !normalize.HostAllowed(p.URL, allowed) {
			out.OffSite++
			return
		}
		if p.Company == "" {
			p.Company = defaultCompany
		}
		out.Postings = append(out.Postings, p)
	})
	return out
}

// ExtractListing reads one listing. It reports false when no title is found.
func ExtractListing(item *goquery.Selection, base *url.URL, sel Selectors, sourceID string) (domain.RawPosting, bool) {
	p := domain.RawPosting{
		SourceID:     sourceID,
		Title:        Text(item, sel.Title),
		Company:      Text(item, sel.Company),
		Location:     Text(item, sel.Location),
		Description:  Text(item, sel.Description),
		Compensation: Text(item, sel.Compensation),
	}
	if p.Title == "" {
		return domain.RawPosting{}, false
	}

	if sel.IDAttr != "" {
		p.ExternalID = strings.TrimSpace(item.AttrOr(sel.IDAttr, ""))
	}

	link := item
	if sel.Link != "" {
		link = item.Find(sel.Link).First()
	}
	if href, ok := link.Attr("href"); ok {
		p.URL = Resolve(base, href)
	}

	if sel.PostedAt != "" {
		node := item.Find(sel.PostedAt).First()
		raw := node.AttrOr("datetime", "")
		if raw == "" {
			raw = node.Text()
		}
		p.PostedAt = ParseTime(raw)
	}

	return p, true
}

// Text returns the collapsed text of the first match of selector under s.
func Text(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return normalize.CollapseSpace(s.Find(selector).First().Text())
}

// Resolve makes href absolute against base. Fragments and javascript: links
// resolve to "".
func Resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime accepts the timestamp layouts boards commonly publish. It
// returns nil when none match.
func ParseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
