package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gematik/solid-session/pkg/solid"
	"github.com/gematik/solid-session/pkg/util"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var statusShowTokens bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Restore the stored session and show who is logged in",
	Long: `Restore the stored session with its refresh token and show the result.

Restoring rotates the refresh token if the provider does so.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusShowTokens, "tokens", false, "print the decoded access and ID token")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, session, closeStore, err := restore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeStore()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("KEY"), text.FgHiCyan.Sprint("VALUE")})

	if !session.IsActive() {
		t.AppendRow(table.Row{"State", text.FgYellow.Sprint(session.State().String())})
		t.AppendRow(table.Row{"Store", cfg.Store.Type})
		t.Render()
		fmt.Println("Run: solid-session login")
		return nil
	}

	tokens := session.Tokens()
	t.AppendRow(table.Row{"State", text.FgGreen.Sprint(session.State().String())})
	t.AppendRow(table.Row{"WebID", session.WebID()})
	t.AppendRow(table.Row{"Scope", tokens.Scope})
	t.AppendRow(table.Row{"Token type", tokens.TokenType})
	if !tokens.Expiry.IsZero() {
		t.AppendRow(table.Row{"Expires", expiryText(tokens, time.Now())})
	}
	t.AppendRow(table.Row{"DPoP key", tokens.KeyPair.Thumbprint})
	t.AppendRow(table.Row{"Store", cfg.Store.Type})
	t.Render()

	if statusShowTokens {
		fmt.Printf("\nAccess token:\n%s\n", util.JWSToText(tokens.AccessToken))
		if tokens.IDToken != "" {
			fmt.Printf("\nID token:\n%s\n", util.JWSToText(tokens.IDToken))
		}
	}
	return nil
}

func expiryText(tokens *solid.TokenSet, now time.Time) string {
	expiry := tokens.Expiry.Format(time.RFC3339)
	if tokens.Expired(now) {
		return text.FgRed.Sprint(expiry + " (expired)")
	}
	return expiry
}
