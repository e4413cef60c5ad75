package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gematik/solid-session/pkg/solid"
	"github.com/spf13/cobra"
)

var (
	fetchMethod  string
	fetchHeaders []string
	fetchData    string
	fetchInclude bool
	fetchAth     bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Send an authenticated request and print the response body",
	Long: `Send a request bound to the stored session.

Without a session the request is sent unauthenticated.

Examples:
  solid-session fetch https://alice.solidcommunity.net/private/
  solid-session fetch -X PUT -H "Content-Type: text/turtle" -d @note.ttl https://pod.example/note.ttl`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchMethod, "request", "X", http.MethodGet, "HTTP method")
	fetchCmd.Flags().StringArrayVarP(&fetchHeaders, "header", "H", nil, "request header as \"Name: value\", repeatable")
	fetchCmd.Flags().StringVarP(&fetchData, "data", "d", "", "request body, @file reads it from a file")
	fetchCmd.Flags().BoolVarP(&fetchInclude, "include", "i", false, "print the response status and headers")
	fetchCmd.Flags().BoolVar(&fetchAth, "ath", false, "bind the proof to the access token")
}

func parseHeaders(values []string) (http.Header, error) {
	header := http.Header{}
	for _, value := range values {
		name, v, found := strings.Cut(value, ":")
		if !found || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q", value)
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(v))
	}
	return header, nil
}

func requestBody(data string) (io.Reader, error) {
	if data == "" {
		return nil, nil
	}
	if path, ok := strings.CutPrefix(data, "@"); ok {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		return bytes.NewReader(content), nil
	}
	return strings.NewReader(data), nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	header, err := parseHeaders(fetchHeaders)
	if err != nil {
		return err
	}
	body, err := requestBody(fetchData)
	if err != nil {
		return err
	}

	_, session, closeStore, err := restore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeStore()

	if !session.IsActive() {
		fmt.Fprintln(os.Stderr, "No active session, sending the request unauthenticated")
	}

	var opts []solid.FetchOption
	if fetchAth {
		opts = append(opts, solid.WithAccessTokenHash())
	}

	resp, err := session.AuthFetch(cmd.Context(), &solid.Request{
		Method: strings.ToUpper(fetchMethod),
		URL:    args[0],
		Header: header,
		Body:   body,
	}, opts...)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if fetchInclude {
		fmt.Printf("%s %s\n", resp.Proto, resp.Status)
		resp.Header.Write(os.Stdout)
		fmt.Println()
	}
	if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return errors.New(resp.Status)
	}
	return nil
}
