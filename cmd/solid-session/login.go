package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var (
	loginIdP     string
	loginTimeout time.Duration
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in at a Solid identity provider",
	Long: `Log in at a Solid identity provider using the authorization code flow.

The provider's login page is opened in the browser. After approval the
provider redirects to a local callback server, the code is exchanged for
DPoP-bound tokens and the refresh token is kept in the configured store.

Examples:
  solid-session login --idp https://solidcommunity.net
  SOLID_SESSION_IDP=https://login.inrupt.com solid-session login`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginIdP, "idp", "", "issuer of the identity provider, overrides the config")
	loginCmd.Flags().DurationVar(&loginTimeout, "timeout", 5*time.Minute, "how long to wait for the provider to redirect back")
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	idp := cfg.IdP
	if loginIdP != "" {
		idp = loginIdP
	}
	if idp == "" {
		return errors.New("no identity provider given, use --idp or set idp in the config")
	}

	address, path, err := cfg.CallbackAddress()
	if err != nil {
		return err
	}
	page, err := newCallbackPage(address, path)
	if err != nil {
		return err
	}
	go page.Serve()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		page.Shutdown(ctx)
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), loginTimeout)
	defer cancel()

	st, closeStore, err := cfg.OpenStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	session := newSession(cfg, st, page)
	if err := session.Login(ctx, idp, cfg.RedirectURI); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Waiting for the identity provider..."
	s.Start()
	err = page.Wait(ctx)
	s.Stop()
	if err != nil {
		return fmt.Errorf("no redirect from %s: %w", idp, err)
	}

	if err := session.RestoreSession(ctx); err != nil {
		return fmt.Errorf("complete login: %w", err)
	}
	if !session.IsActive() {
		return errors.New("login was not completed by the identity provider")
	}

	fmt.Printf("%s Logged in as %s\n", text.FgGreen.Sprint("✓"), session.WebID())
	return nil
}
