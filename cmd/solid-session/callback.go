package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/gematik/solid-session/pkg/util"
	"github.com/labstack/echo/v4"
)

// callbackPage stands in for the browser location: Navigate opens the
// system browser, and the provider's redirect lands on a local echo server.
type callbackPage struct {
	mu       sync.Mutex
	current  string
	received chan struct{}
	once     sync.Once

	openBrowser func(string) error
	echo        *echo.Echo
	server      *http.Server
	listener    net.Listener
}

func newCallbackPage(address, path string) (*callbackPage, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}

	p := &callbackPage{
		received:    make(chan struct{}),
		openBrowser: util.OpenBrowser,
		echo:        echo.New(),
		listener:    listener,
	}
	p.echo.HideBanner = true
	p.echo.HidePort = true
	p.echo.GET(path, p.callback)
	p.server = &http.Server{Handler: p.echo}

	return p, nil
}

func (p *callbackPage) Serve() {
	if err := p.server.Serve(p.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Callback server stopped", "error", err)
	}
}

func (p *callbackPage) Shutdown(ctx context.Context) error {
	return p.server.Shutdown(ctx)
}

func (p *callbackPage) callback(c echo.Context) error {
	scheme := "http"
	if c.Request().TLS != nil {
		scheme = "https"
	}

	p.mu.Lock()
	p.current = scheme + "://" + c.Request().Host + c.Request().RequestURI
	p.mu.Unlock()
	p.once.Do(func() { close(p.received) })

	if errorCode := c.QueryParam("error"); errorCode != "" {
		return c.String(http.StatusOK, fmt.Sprintf("Error: %s, Details: %s", errorCode, c.QueryParam("error_description")))
	}
	return c.String(http.StatusOK, "Login complete, you can close this window.")
}

func (p *callbackPage) Navigate(ctx context.Context, url string) error {
	fmt.Fprintf(os.Stderr, "Open the following URL to log in:\n\n  %s\n\n", url)
	if err := p.openBrowser(url); err != nil {
		slog.Warn("Unable to open browser", "error", err)
	}
	return nil
}

func (p *callbackPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *callbackPage) ReplaceURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = url
}

// Wait blocks until the provider redirected back or ctx is done.
func (p *callbackPage) Wait(ctx context.Context) error {
	select {
	case <-p.received:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
