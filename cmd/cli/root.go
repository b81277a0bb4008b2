// Package cli implements the obo-admin command-line tool. Every command is a
// thin HTTP client over the service's /v1 API.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	authToken string
)

var rootCmd = &cobra.Command{
	Use:   "obo-admin",
	Short: "Admin CLI for the OBO slip authorization service",
	Long: `obo-admin is a command-line interface for operating the OBO service:
inspecting and revoking slips, sweeping expired ones, and listing signing keys.`,
}

// Execute runs the CLI. It is the only entry point used by cmd/obo-admin.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the OBO service")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token (falls back to OBO_ADMIN_TOKEN)")
}

// callAPI performs one authenticated request and returns the decoded response
// body. Non-2xx responses are turned into errors carrying the server's body.
func callAPI(method, path string, body interface{}) (json.RawMessage, error) {
	token := authToken
	if token == "" {
		token = os.Getenv("OBO_ADMIN_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("no bearer token: pass --token or set OBO_ADMIN_TOKEN")
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequest(method, serverURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(raw))
	}
	return raw, nil
}

// printJSON pretty-prints an API response to stdout.
func printJSON(raw json.RawMessage) {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(out.String())
}
