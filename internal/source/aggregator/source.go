// Package aggregator delegates fetching to an external helper, reached over
// HTTP or as a subprocess speaking JSON on stdin/stdout.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"job_harvester/internal/domain"
	"job_harvester/internal/source"
)

const (
	ModeHTTP  = "http"
	ModeStdio = "stdio"
)

type Config struct {
	ID   string
	Name string
	Mode string
	// Endpoint is the helper's base URL in http mode.
	Endpoint string
	// Command and Args start the helper in stdio mode.
	Command string
	Args    []string
	// Board is passed through to the helper to pick an upstream.
	Board      string
	MaxResults int
	Timeout    time.Duration
}

// request is the helper's input in both modes.
type request struct {
	Board      string   `json:"board,omitempty"`
	Keywords   []string `json:"keywords"`
	Location   string   `json:"location,omitempty"`
	MaxResults int      `json:"max_results,omitempty"`
}

type response struct {
	Jobs  []job  `json:"jobs"`
	Error string `json:"error,omitempty"`
}

type job struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Salary      string `json:"salary"`
	URL         string `json:"url"`
	PostedAt    string `json:"posted_at"`
}

type Source struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Source, error) {
	if cfg.ID == "" {
		return nil, errors.New("aggregator source needs an id")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeHTTP
	}
	switch cfg.Mode {
	case ModeHTTP:
		if cfg.Endpoint == "" {
			return nil, errors.New("http mode needs an endpoint")
		}
	case ModeStdio:
		if cfg.Command == "" {
			return nil, errors.New("stdio mode needs a command")
		}
	default:
		return nil, fmt.Errorf("unknown aggregator mode %q", cfg.Mode)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Source{
		cfg: cfg,
		// The per-call deadline comes from the context.
		httpClient: &http.Client{},
		logger:     logger.With("source", cfg.ID, "mode", cfg.Mode),
	}, nil
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

// Fetch makes one helper call bounded by the configured timeout. A timeout,
// non-200 status or non-zero exit is unavailable; output that is not the
// expected JSON is a protocol error.
func (s *Source) Fetch(ctx context.Context, q domain.Query) ([]domain.RawPosting, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req := request{
		Board:      s.cfg.Board,
		Keywords:   q.Keywords,
		Location:   q.Location,
		MaxResults: s.cfg.MaxResults,
	}
	if req.Keywords == nil {
		req.Keywords = []string{}
	}

	var (
		resp response
		err  error
	)
	switch s.cfg.Mode {
	case ModeStdio:
		resp, err = s.callStdio(ctx, req)
	default:
		resp, err = s.callHTTP(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, domain.Unavailable(s.cfg.ID, fmt.Errorf("helper: %s", resp.Error))
	}

	postings := make([]domain.RawPosting, 0, len(resp.Jobs))
	for _, j := range resp.Jobs {
		postings = append(postings, domain.RawPosting{
			SourceID:     s.cfg.ID,
			ExternalID:   j.ID,
			Title:        j.Title,
			Company:      j.Company,
			Location:     j.Location,
			Description:  j.Description,
			Compensation: j.Salary,
			URL:          j.URL,
			PostedAt:     source.ParseTime(j.PostedAt),
		})
	}

	s.logger.Debug("helper returned", "jobs", len(postings))
	return postings, nil
}

func (s *Source) callHTTP(ctx context.Context, in request) (response, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return response{}, fmt.Errorf("encode request: %w", err)
	}

	endpoint := strings.TrimRight(s.cfg.Endpoint, "/") + "/scrape"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", source.UserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return response{}, source.TransportError(s.cfg.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return response{}, &domain.SourceError{
			SourceID:   s.cfg.ID,
			Kind:       domain.ErrSourceUnavailable,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("helper status: %s", strings.TrimSpace(string(snippet))),
		}
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return response{}, domain.ProtocolError(s.cfg.ID, fmt.Errorf("decode helper response: %w", err))
	}
	return out, nil
}

func (s *Source) callStdio(ctx context.Context, in request) (response, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return response{}, fmt.Errorf("encode request: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.cfg.Command, s.cfg.Args...)
	cmd.Stdin = bytes.NewReader(body)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return response{}, domain.Unavailable(s.cfg.ID, fmt.Errorf("helper timed out: %w", ctx.Err()))
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return response{}, domain.Unavailable(s.cfg.ID, fmt.Errorf("run helper: %w: %s", err, msg))
	}

	var out response
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return response{}, domain.ProtocolError(s.cfg.ID, fmt.Errorf("decode helper output: %w", err))
	}
	return out, nil
}
