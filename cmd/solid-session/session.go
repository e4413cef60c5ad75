package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gematik/solid-session/pkg/solid"
	"github.com/gematik/solid-session/pkg/store"
)

// staticPage is the page of commands that never navigate.
type staticPage struct{}

func (staticPage) Navigate(context.Context, string) error {
	return fmt.Errorf("not logged in, run: solid-session login")
}

func (staticPage) URL() string { return "" }

func (staticPage) ReplaceURL(string) {}

func newSession(cfg *Config, st store.Store, page solid.Page) *solid.Session {
	opts := []solid.Option{
		solid.WithLogger(slog.Default()),
		solid.WithClientName(cfg.ClientName),
	}
	if len(cfg.Scopes) > 0 {
		opts = append(opts, solid.WithScopes(cfg.Scopes...))
	}
	return solid.New(st, page, opts...)
}

// restore opens the configured store and renews the stored session.
func restore(ctx context.Context) (*Config, *solid.Session, func(), error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	st, closeStore, err := cfg.OpenStore(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	session := newSession(cfg, st, staticPage{})
	if err := session.RestoreSession(ctx); err != nil {
		closeStore()
		return nil, nil, nil, err
	}
	return cfg, session, closeStore, nil
}
