package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"job_harvester/internal/browser"
	"job_harvester/internal/config"
	"job_harvester/internal/domain"
	"job_harvester/internal/resilience"
	"job_harvester/internal/source"
	"job_harvester/internal/source/adzuna"
	"job_harvester/internal/source/aggregator"
	"job_harvester/internal/source/greenhouse"
	"job_harvester/internal/source/htmlboard"
	"job_harvester/internal/source/rendered"
)

func policyFor(r config.ResilienceConfig) resilience.Policy {
	return resilience.Policy{
		Capacity:        r.RateLimit.Capacity,
		RefillPerSecond: r.RateLimit.RefillPerSecond,
		AcquireTimeout:  r.RateLimit.AcquireTimeout,
		Breaker: resilience.BreakerConfig{
			FailureThreshold: r.Circuit.FailureThreshold,
			Window:           r.Circuit.Window,
			CoolDown:         r.Circuit.CoolDown,
		},
		MaxAttempts: r.Retry.MaxAttempts,
		Backoff:     resilience.NewBackoff(r.Retry.InitialBackoff, r.Retry.MaxBackoff, r.Retry.Jitter),
	}
}

func queryFrom(q config.QueryConfig) domain.Query {
	return domain.Query{
		Keywords: q.Keywords,
		Location: q.Location,
		MaxPages: q.MaxPages,
		PageSize: q.PageSize,
	}
}

// needsBrowser reports whether any enabled source renders pages.
func needsBrowser(cfg *config.Config) bool {
	for _, src := range cfg.Sources {
		if src.Type == config.TypeRendered && src.IsEnabled() {
			return true
		}
	}
	return false
}

func newBrowserPool(ctx context.Context, cfg config.BrowserConfig, logger *slog.Logger) (*browser.Pool, error) {
	headless := cfg.Headless == nil || *cfg.Headless
	engine := browser.RodEngine{
		Bin:       cfg.Bin,
		Headless:  headless,
		NoSandbox: cfg.NoSandbox,
	}
	return browser.NewPool(ctx, engine, browser.PoolConfig{
		Instances:        cfg.Instances,
		PagesPerInstance: cfg.PagesPerInstance,
		AcquireTimeout:   cfg.AcquireTimeout,
	}, logger)
}

// buildSources registers an adapter for every configured source and gives
// each its own resilience policy. pool may be nil when no rendered source
// is enabled.
func buildSources(cfg *config.Config, pool *browser.Pool, guards *resilience.Set, logger *slog.Logger) (*source.Registry, error) {
	registry := source.NewRegistry()

	for _, sc := range cfg.Sources {
		if sc.Type == config.TypeRendered && pool == nil && !sc.IsEnabled() {
			logger.Info("skipping disabled rendered source without browser", "source", sc.ID)
			continue
		}

		src, err := newSource(sc, pool, logger)
		if err != nil {
			return nil, fmt.Errorf("build source %q: %w", sc.ID, err)
		}
		if err := registry.Register(sc.ID, src); err != nil {
			return nil, err
		}
		if err := registry.SetEnabled(sc.ID, sc.IsEnabled()); err != nil {
			return nil, err
		}
		guards.SetPolicy(sc.ID, policyFor(cfg.Resilience.For(sc)))

		logger.Info("registered source",
			"source", sc.ID,
			"type", sc.Type,
			"enabled", sc.IsEnabled(),
		)
	}

	return registry, nil
}

func newSource(sc config.SourceConfig, pool *browser.Pool, logger *slog.Logger) (source.Source, error) {
	switch sc.Type {
	case config.TypeAdzuna:
		a := sc.Adzuna
		return adzuna.New(adzuna.Config{
			ID:      sc.ID,
			BaseURL: a.BaseURL,
			AppID:   a.AppID,
			AppKey:  a.AppKey,
			Country: a.Country,
			Timeout: sc.Timeout,
		}, logger), nil

	case config.TypeGreenhouse:
		g := sc.Greenhouse
		return greenhouse.New(greenhouse.Config{
			ID:      sc.ID,
			BaseURL: g.BaseURL,
			Boards:  g.Boards,
			Company: g.Company,
			Timeout: sc.Timeout,
		}, logger), nil

	case config.TypeRendered:
		if pool == nil {
			return nil, errors.New("rendered source needs a browser pool")
		}
		p := sc.Page
		return rendered.New(rendered.Config{
			ID:             sc.ID,
			Name:           p.Name,
			URL:            p.URL,
			Company:        p.Company,
			WaitSelector:   p.WaitSelector,
			Selectors:      selectors(p.Selectors),
			AllowedDomains: p.AllowedDomains,
			FetchDetails:   p.FetchDetails,
			MaxDetails:     p.MaxDetails,
			Timeout:        sc.Timeout,
		}, pool, logger)

	case config.TypeHTMLBoard:
		p := sc.Page
		return htmlboard.New(htmlboard.Config{
			ID:             sc.ID,
			Name:           p.Name,
			URL:            p.URL,
			Company:        p.Company,
			Selectors:      selectors(p.Selectors),
			NextSelector:   p.NextSelector,
			AllowedDomains: p.AllowedDomains,
			Timeout:        sc.Timeout,
		}, logger)

	case config.TypeAggregator:
		a := sc.Aggregator
		return aggregator.New(aggregator.Config{
			ID:         sc.ID,
			Name:       a.Name,
			Mode:       a.Mode,
			Endpoint:   a.Endpoint,
			Command:    a.Command,
			Args:       a.Args,
			Board:      a.Board,
			MaxResults: a.MaxResults,
			Timeout:    sc.Timeout,
		}, logger)

	default:
		return nil, fmt.Errorf("unknown source type %q", sc.Type)
	}
}

func selectors(s config.SelectorConfig) source.Selectors {
	return source.Selectors{
		Item:         s.Item,
		Title:        s.Title,
		Company:      s.Company,
		Location:     s.Location,
		Link:         s.Link,
		Description:  s.Description,
		Compensation: s.Compensation,
		PostedAt:     s.PostedAt,
		IDAttr:       s.IDAttr,
		Detail:       s.Detail,
	}
}
