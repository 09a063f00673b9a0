// Package htmlboard scrapes server-rendered job boards with colly,
// following "next page" links up to a page limit.
package htmlboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"job_harvester/internal/domain"
	"job_harvester/internal/normalize"
	"job_harvester/internal/source"
)

type Config struct {
	ID             string
	Name           string
	URL            string
	Company        string
	Selectors      source.Selectors
	NextSelector   string
	AllowedDomains []string
	MaxPages       int
	Timeout        time.Duration
	UserAgent      string
}

type Source struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Source, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("parse board url %q: invalid", cfg.URL)
	}
	if cfg.Selectors.Item == "" || cfg.Selectors.Title == "" {
		return nil, errors.New("item and title selectors are required")
	}
	if cfg.ID == "" {
		cfg.ID = u.Hostname()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = source.UserAgent
	}
	if len(cfg.AllowedDomains) == 0 {
		cfg.AllowedDomains = []string{u.Hostname()}
	}
	return &Source{cfg: cfg, logger: logger.With("source", cfg.ID)}, nil
}

func (s *Source) ID() string {
	return s.cfg.ID
}

func (s *Source) Name() string {
	if s.cfg.Name != "" {
		return s.cfg.Name
	}
	return s.cfg.ID
}

// Fetch crawls the board. The collector is bound to ctx so cancellation
// aborts in-flight requests. Q.MaxPages overrides the configured limit.
func (s *Source) Fetch(ctx context.Context, q domain.Query) ([]domain.RawPosting, error) {
	maxPages := s.cfg.MaxPages
	if q.MaxPages > 0 {
		maxPages = q.MaxPages
	}

	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.UserAgent(s.cfg.UserAgent),
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(s.cfg.Timeout)

	var (
		mu       sync.Mutex
		postings []domain.RawPosting
		firstErr error
		pages    int
	)

	c.OnHTML("html", func(e *colly.HTMLElement) {
		listings := source.ExtractListings(e.DOM, e.Request.URL, s.cfg.Selectors, s.cfg.ID, s.cfg.Company, s.cfg.AllowedDomains)

		mu.Lock()
		pages++
		for _, p := range listings.Postings {
			if source.Matches(p, q) {
				postings = append(postings, p)
			}
		}
		visited := pages
		mu.Unlock()

		s.logger.Debug("scraped page",
			"url", e.Request.URL.String(),
			"listings", len(listings.Postings),
			"off_site", listings.OffSite,
		)

		if s.cfg.NextSelector == "" || visited >= maxPages {
			return
		}
		next := source.Resolve(e.Request.URL, e.ChildAttr(s.cfg.NextSelector, "href"))
		if next == "" || !normalize.HostAllowed(next, s.cfg.AllowedDomains) {
			return
		}
		if err := e.Request.Visit(next); err != nil {
			s.logger.Debug("follow next page", "url", next, "error", err)
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr != nil {
			return
		}
		firstErr = s.classify(ctx, r, err)
	})

	if err := c.Visit(s.cfg.URL); err != nil && firstErr == nil {
		firstErr = s.classify(ctx, nil, err)
	}
	c.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return postings, nil
}

func (s *Source) classify(ctx context.Context, r *colly.Response, err error) error {
	if ctx.Err() != nil {
		return domain.Unavailable(s.cfg.ID, fmt.Errorf("crawl aborted: %w", ctx.Err()))
	}
	if r == nil || r.StatusCode == 0 {
		return domain.Unavailable(s.cfg.ID, err)
	}
	var header http.Header
	if r.Headers != nil {
		header = *r.Headers
	}
	return source.StatusError(s.cfg.ID, r.StatusCode, header, r.Body)
}
