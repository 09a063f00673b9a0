package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"job_harvester/internal/domain"
)

const (
	UserAgent = "JobHarvester/1.0"

	errorBodyLimit = 512
)

// NewHTTPClient returns the client API adapters share.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// DoJSON executes req and decodes a JSON body into v. Failures are
// classified for the resilience layer: transport errors and 5xx/408 are
// unavailable, 429 is rate limited (with any Retry-After hint), other
// statuses and undecodable bodies are protocol errors.
func DoJSON(client *http.Client, sourceID string, req *http.Request, v any) error {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return TransportError(sourceID, err)
	}
	defer resp.Body.Close()

	if err := CheckResponse(sourceID, resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return domain.ProtocolError(sourceID, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// TransportError wraps a failure from http.Client.Do.
func TransportError(sourceID string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.Unavailable(sourceID, fmt.Errorf("request aborted: %w", err))
	}
	return domain.Unavailable(sourceID, fmt.Errorf("execute request: %w", err))
}

// CheckResponse returns nil for 2xx responses and a classified error
// otherwise. It does not close the body.
func CheckResponse(sourceID string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	return StatusError(sourceID, resp.StatusCode, resp.Header, body)
}

// StatusError classifies a non-2xx status. A zero code means no response
// arrived and is treated as unavailable.
func StatusError(sourceID string, code int, header http.Header, body []byte) error {
	if len(body) > errorBodyLimit {
		body = body[:errorBodyLimit]
	}
	cause := fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(body)))
	if len(bytes.TrimSpace(body)) == 0 {
		cause = fmt.Errorf("unexpected status: %d", code)
	}

	switch {
	case code == http.StatusTooManyRequests:
		retryAfter := ParseRetryAfter(header.Get("Retry-After"), time.Now())
		return domain.RateLimited(sourceID, retryAfter, cause)
	case code == 0, code == http.StatusRequestTimeout, code >= 500:
		return &domain.SourceError{SourceID: sourceID, Kind: domain.ErrSourceUnavailable, StatusCode: code, Err: cause}
	default:
		return &domain.SourceError{SourceID: sourceID, Kind: domain.ErrSourceProtocol, StatusCode: code, Err: cause}
	}
}

// ParseRetryAfter reads a Retry-After header given either as seconds or as
// an HTTP date. Unparseable or past values yield zero.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
