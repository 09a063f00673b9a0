package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodEngine launches Chromium through go-rod.
type RodEngine struct {
	// Bin is the browser binary; empty lets the launcher find or download one.
	Bin       string
	Headless  bool
	NoSandbox bool
}

// Launch starts a browser bound to ctx: the process is killed when ctx ends.
func (e RodEngine) Launch(ctx context.Context) (Instance, error) {
	l := launcher.New().
		Context(ctx).
		Headless(e.Headless).
		NoSandbox(e.NoSandbox)
	if e.Bin != "" {
		l = l.Bin(e.Bin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}

	return &rodInstance{browser: b, launcher: l}, nil
}

type rodInstance struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func (i *rodInstance) NewPage(ctx context.Context) (Page, error) {
	page, err := i.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}
	// Detach from the acquire context so the page outlives this call.
	return &rodPage{page: page.Context(context.Background())}, nil
}

func (i *rodInstance) Close() error {
	err := i.browser.Close()
	i.launcher.Kill()
	return err
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

func (p *rodPage) WaitFor(ctx context.Context, selector string) error {
	if _, err := p.page.Context(ctx).Element(selector); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
