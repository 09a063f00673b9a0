// Package adzuna fetches postings from the Adzuna job search API.
package adzuna

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"job_harvester/internal/domain"
	"job_harvester/internal/source"
)

const (
	DefaultBaseURL  = "https://api.adzuna.com/v1/api/jobs"
	DefaultPageSize = 50
	DefaultMaxPages = 3
)

type Config struct {
	ID       string
	BaseURL  string
	AppID    string
	AppKey   string
	Country  string
	PageSize int
	MaxPages int
	Timeout  time.Duration
}

// Source implements source.Source for Adzuna.
type Source struct {
	id         string
	httpClient *http.Client
	baseURL    string
	appID      string
	appKey     string
	country    string
	pageSize   int
	maxPages   int
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Source {
	if cfg.ID == "" {
		cfg.ID = "adzuna"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Country == "" {
		cfg.Country = "gb"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Source{
		id:         cfg.ID,
		httpClient: source.NewHTTPClient(cfg.Timeout),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		appID:      cfg.AppID,
		appKey:     cfg.AppKey,
		country:    strings.ToLower(cfg.Country),
		pageSize:   cfg.PageSize,
		maxPages:   cfg.MaxPages,
		logger:     logger.With("source", cfg.ID),
	}
}

func (s *Source) ID() string {
	return s.id
}

func (s *Source) Name() string {
	return "Adzuna (" + s.country + ")"
}

// Fetch pages through search results until a short page or the page limit.
// Without credentials it returns no postings.
func (s *Source) Fetch(ctx context.Context, q domain.Query) ([]domain.RawPosting, error) {
	if s.appID == "" || s.appKey == "" {
		s.logger.Warn("app_id or app_key not set, skipping")
		return nil, nil
	}

	pageSize := s.pageSize
	if q.PageSize > 0 {
		pageSize = q.PageSize
	}
	maxPages := s.maxPages
	if q.MaxPages > 0 {
		maxPages = q.MaxPages
	}

	var postings []domain.RawPosting
	for page := 1; page <= maxPages; page++ {
		resp, err := s.fetchPage(ctx, q, page, pageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}

		postings = append(postings, s.transform(resp.Results)...)

		s.logger.Debug("fetched page",
			"page", page,
			"results", len(resp.Results),
			"total", len(postings),
		)

		if len(resp.Results) < pageSize {
			break
		}
	}

	return postings, nil
}

func (s *Source) fetchPage(ctx context.Context, q domain.Query, page, pageSize int) (*searchResponse, error) {
	params := url.Values{}
	params.Set("app_id", s.appID)
	params.Set("app_key", s.appKey)
	params.Set("results_per_page", strconv.Itoa(pageSize))
	params.Set("sort_by", "date")
	if len(q.Keywords) > 0 {
		params.Set("what", strings.Join(q.Keywords, " "))
	}
	if q.Location != "" {
		params.Set("where", q.Location)
	}

	endpoint := fmt.Sprintf("%s/%s/search/%d?%s", s.baseURL, s.country, page, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var resp searchResponse
	if err := source.DoJSON(s.httpClient, s.id, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *Source) transform(results []result) []domain.RawPosting {
	postings := make([]domain.RawPosting, 0, len(results))
	for _, r := range results {
		postings = append(postings, domain.RawPosting{
			SourceID:     s.id,
			ExternalID:   r.ID,
			Title:        r.Title,
			Company:      r.Company.DisplayName,
			Location:     r.Location.DisplayName,
			Description:  r.Description,
			Compensation: salary(r.SalaryMin, r.SalaryMax),
			URL:          r.RedirectURL,
			PostedAt:     source.ParseTime(r.Created),
		})
	}
	return postings
}

func salary(lo, hi float64) string {
	switch {
	case lo > 0 && hi > 0 && lo != hi:
		return fmt.Sprintf("%.0f-%.0f", lo, hi)
	case lo > 0:
		return fmt.Sprintf("%.0f", lo)
	case hi > 0:
		return fmt.Sprintf("%.0f", hi)
	default:
		return ""
	}
}
