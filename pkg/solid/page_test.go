package solid_test

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// browserPage plays the user agent: navigating to the provider follows
// exactly one hop and lands on the redirect it answers with.
type browserPage struct {
	mu        sync.Mutex
	current   string
	navigated []string
	replaced  []string
	client    *http.Client
	follow    bool
}

func newBrowserPage(base *http.Client, current string) *browserPage {
	client := *base
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &browserPage{current: current, client: &client, follow: true}
}

func (p *browserPage) Navigate(ctx context.Context, target string) error {
	p.mu.Lock()
	p.navigated = append(p.navigated, target)
	follow := p.follow
	p.mu.Unlock()

	if !follow {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		return fmt.Errorf("provider answered %s", resp.Status)
	}

	p.mu.Lock()
	p.current = resp.Header.Get("Location")
	p.mu.Unlock()
	return nil
}

func (p *browserPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *browserPage) ReplaceURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = url
	p.replaced = append(p.replaced, url)
}

func (p *browserPage) setURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = url
}

func (p *browserPage) lastNavigation() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.navigated) == 0 {
		return ""
	}
	return p.navigated[len(p.navigated)-1]
}
