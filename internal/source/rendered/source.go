// Package rendered scrapes careers pages that build their listings with
// JavaScript, using a page leased from the shared browser pool.
package rendered

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"job_harvester/internal/browser"
	"job_harvester/internal/domain"
	"job_harvester/internal/normalize"
	"job_harvester/internal/source"
)

// PagePool lends browser pages. *browser.Pool satisfies it.
type PagePool interface {
	WithPage(ctx context.Context, fn func(ctx context.Context, page browser.Page) error) error
}

type Config struct {
	ID      string
	Name    string
	URL     string
	Company string
	// WaitSelector is awaited after navigation; it defaults to the item selector.
	WaitSelector   string
	Selectors      source.Selectors
	AllowedDomains []string
	// FetchDetails follows each listing link on the same page to read the
	// full description with Selectors.Detail.
	FetchDetails bool
	MaxDetails   int
	Timeout      time.Duration
}

type Source struct {
	cfg    Config
	base   *url.URL
	pool   PagePool
	logger *slog.Logger
}

func New(cfg Config, pool PagePool, logger *slog.Logger) (*Source, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("parse page url %q: invalid", cfg.URL)
	}
	if cfg.Selectors.Item == "" || cfg.Selectors.Title == "" {
		return nil, errors.New("item and title selectors are required")
	}
	if cfg.ID == "" {
		cfg.ID = base.Hostname()
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = cfg.Selectors.Item
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if len(cfg.AllowedDomains) == 0 {
		cfg.AllowedDomains = []string{base.Hostname()}
	}

	return &Source{
		cfg:    cfg,
		base:   base,
		pool:   pool,
		logger: logger.With("source", cfg.ID),
	}, nil
}

func (s *Source) ID() string {
	return s.cfg.ID
}

func (s *Source) Name() string {
	if s.cfg.Name != "" {
		return s.cfg.Name
	}
	return s.cfg.Company + " careers"
}

// Fetch renders the listing page and, when enabled, each posting's own page.
// Everything runs on one leased page which goes back to the pool on return.
func (s *Source) Fetch(ctx context.Context, q domain.Query) ([]domain.RawPosting, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var postings []domain.RawPosting
	err := s.pool.WithPage(ctx, func(ctx context.Context, page browser.Page) error {
		doc, err := s.render(ctx, page, s.cfg.URL, s.cfg.WaitSelector)
		if err != nil {
			return err
		}

		listings := source.ExtractListings(doc.Selection, s.base, s.cfg.Selectors, s.cfg.ID, s.cfg.Company, s.cfg.AllowedDomains)
		if listings.OffSite > 0 {
			s.logger.Debug("dropped off-site listings", "count", listings.OffSite)
		}

		for _, p := range listings.Postings {
			if source.Matches(p, q) {
				postings = append(postings, p)
			}
		}

		if s.cfg.FetchDetails && s.cfg.Selectors.Detail != "" {
			s.fetchDetails(ctx, page, postings)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("rendered listings", "postings", len(postings))
	return postings, nil
}

// fetchDetails fills descriptions in place. A failed detail page keeps the
// listing's own text.
func (s *Source) fetchDetails(ctx context.Context, page browser.Page, postings []domain.RawPosting) {
	limit := len(postings)
	if s.cfg.MaxDetails > 0 && s.cfg.MaxDetails < limit {
		limit = s.cfg.MaxDetails
	}

	for i := 0; i < limit; i++ {
		p := &postings[i]
		if p.URL == "" || ctx.Err() != nil {
			continue
		}
		doc, err := s.render(ctx, page, p.URL, s.cfg.Selectors.Detail)
		if err != nil {
			s.logger.Debug("detail page failed", "url", p.URL, "error", err)
			continue
		}
		if text := detailText(doc.Selection, s.cfg.Selectors.Detail); text != "" {
			p.Description = text
		}
	}
}

func (s *Source) render(ctx context.Context, page browser.Page, target, waitSelector string) (*goquery.Document, error) {
	if err := page.Navigate(ctx, target); err != nil {
		return nil, domain.Unavailable(s.cfg.ID, err)
	}
	if err := page.WaitFor(ctx, waitSelector); err != nil {
		return nil, domain.Unavailable(s.cfg.ID, err)
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, domain.Unavailable(s.cfg.ID, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, domain.ProtocolError(s.cfg.ID, fmt.Errorf("parse rendered html: %w", err))
	}
	return doc, nil
}

func detailText(root *goquery.Selection, selector string) string {
	var parts []string
	root.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if text := normalize.CollapseSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n")
}
