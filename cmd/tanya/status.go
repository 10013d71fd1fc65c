package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/tanya/internal/cli"
	"github.com/hyperjump/tanya/internal/server"
	"github.com/spf13/cobra"
)

// apiClient calls a running tanya server.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *apiClient) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *apiClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *apiClient) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func newStatusCmd(a *app) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show registry, index, and generation status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cli.ParseOutputFormat(a.output)
			if err != nil {
				return err
			}
			if serverURL != "" {
				var st server.Status
				if err := newAPIClient(serverURL).get(cmd.Context(), "/api/v1/status", &st); err != nil {
					return err
				}
				return writeStatus(cmd.OutOrStdout(), &st, format)
			}
			s, c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			st, err := server.CollectStatus(cmd.Context(), c.deps(), s.cfg)
			if err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), st, format)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "query a running server instead (e.g. http://localhost:8080)")
	return cmd
}

func writeStatus(w io.Writer, st *server.Status, format cli.OutputFormat) error {
	if format == cli.OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	fmt.Fprintf(w, "Documents:     %d\n", st.Documents)
	fmt.Fprintf(w, "Chunks:        %d\n", st.Chunks)
	fmt.Fprintf(w, "Vector index:  %d entries, %s, %d dims\n", st.VectorIndexSize, st.Metric, st.Dimensions)
	fmt.Fprintf(w, "Generation:    %d\n", st.Generation)
	if st.LastRebuild != nil {
		fmt.Fprintf(w, "Last rebuild:  %s (%d documents, %d chunks)\n",
			st.LastRebuild.FinishedAt.Format(time.RFC3339), st.LastRebuild.Documents, st.LastRebuild.Chunks)
	}
	if st.Stale {
		fmt.Fprintln(w, "Index is stale: run tanya rebuild")
	}
	if st.IntegrityWarnings > 0 {
		fmt.Fprintf(w, "Integrity warnings: %d\n", st.IntegrityWarnings)
	}
	if st.DiskUsageBytes != nil {
		fmt.Fprintf(w, "Disk usage:    %d bytes\n", *st.DiskUsageBytes)
	}
	return nil
}
