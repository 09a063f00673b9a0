// Package greenhouse fetches postings from Greenhouse hosted job boards.
package greenhouse

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"job_harvester/internal/domain"
	"job_harvester/internal/normalize"
	"job_harvester/internal/source"
)

const DefaultBaseURL = "https://boards-api.greenhouse.io/v1/boards"

type Config struct {
	ID      string
	BaseURL string
	// Boards are board tokens, e.g. "acme" for boards.greenhouse.io/acme.
	Boards []string
	// Company names postings whose board does not report one.
	Company string
	Timeout time.Duration
}

type Source struct {
	id         string
	httpClient *http.Client
	baseURL    string
	boards     []string
	company    string
	logger     *slog.Logger
}

type jobsResponse struct {
	Jobs []job `json:"jobs"`
}

type job struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	AbsoluteURL string   `json:"absolute_url"`
	Location    location `json:"location"`
	UpdatedAt   string   `json:"updated_at"`
	Content     string   `json:"content"`
	CompanyName string   `json:"company_name"`
}

type location struct {
	Name string `json:"name"`
}

func New(cfg Config, logger *slog.Logger) *Source {
	if cfg.ID == "" {
		cfg.ID = "greenhouse"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Source{
		id:         cfg.ID,
		httpClient: source.NewHTTPClient(cfg.Timeout),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		boards:     cfg.Boards,
		company:    cfg.Company,
		logger:     logger.With("source", cfg.ID),
	}
}

func (s *Source) ID() string {
	return s.id
}

func (s *Source) Name() string {
	return "Greenhouse"
}

// Fetch lists every configured board and keeps postings matching the
// query's keywords and location. A board failure fails the whole fetch.
func (s *Source) Fetch(ctx context.Context, q domain.Query) ([]domain.RawPosting, error) {
	var postings []domain.RawPosting

	for _, board := range s.boards {
		jobs, err := s.fetchBoard(ctx, board)
		if err != nil {
			return nil, fmt.Errorf("fetch board %s: %w", board, err)
		}

		kept := 0
		for _, j := range jobs {
			p := s.transform(j)
			if !source.Matches(p, q) {
				continue
			}
			postings = append(postings, p)
			kept++
		}

		s.logger.Debug("fetched board",
			"board", board,
			"jobs", len(jobs),
			"matched", kept,
		)
	}

	return postings, nil
}

func (s *Source) fetchBoard(ctx context.Context, board string) ([]job, error) {
	endpoint := fmt.Sprintf("%s/%s/jobs?content=true", s.baseURL, url.PathEscape(board))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var resp jobsResponse
	if err := source.DoJSON(s.httpClient, s.id, req, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (s *Source) transform(j job) domain.RawPosting {
	company := j.CompanyName
	if company == "" {
		company = s.company
	}
	return domain.RawPosting{
		SourceID:    s.id,
		ExternalID:  strconv.FormatInt(j.ID, 10),
		Title:       normalize.CollapseSpace(j.Title),
		Company:     company,
		Location:    normalize.CollapseSpace(j.Location.Name),
		Description: contentText(j.Content),
		URL:         j.AbsoluteURL,
		PostedAt:    source.ParseTime(j.UpdatedAt),
	}
}

// contentText renders the board's entity-escaped HTML as plain text.
func contentText(content string) string {
	if content == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html.UnescapeString(content)))
	if err != nil {
		return normalize.PlainText(content)
	}
	var parts []string
	doc.Find("p, li, h1, h2, h3, h4").Each(func(_ int, s *goquery.Selection) {
		if s.Find("p, li").Length() > 0 {
			return
		}
		if text := normalize.CollapseSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		return normalize.CollapseSpace(doc.Text())
	}
	return strings.Join(parts, "\n")
}
