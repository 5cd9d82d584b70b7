// Command revtunctl is the operator-facing CLI for a running revtun
// server: it talks to the admin HTTP surface to inspect and manage
// clients and tunnels.
package main

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
	Version = "dev"
	Commit  = "unknown"

	serverAddr string
	httpClient = &http.Client{Timeout: 10 * time.Second}
)

// envelope mirrors the server's {code, message, data} response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:     "revtunctl",
		Short:   "Control a revtun server's admin HTTP surface",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
	}

	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://127.0.0.1:8080", "revtun server admin address")

	rootCmd.AddCommand(
		newStatusCmd(),
		newClientsCmd(),
		newTunnelsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func apiRequest(method, path string, body any) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverAddr+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &env, fmt.Errorf("%s", env.Message)
	}
	return &env, nil
}
