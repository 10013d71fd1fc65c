package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hyperjump/tanya/internal/cli"
	"github.com/hyperjump/tanya/internal/indexer"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/server"
	"github.com/hyperjump/tanya/internal/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// buildQuery joins positional arguments into one query string.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func newServerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server and directory watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), a)
		},
	}
}

func runServer(ctx context.Context, a *app) error {
	s, err := a.load(true)
	if err != nil {
		return err
	}
	logger := s.logger
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", s.configPath),
		zap.Bool("debug", s.cfg.Debug || a.debug),
	)

	components, err := initializeComponents(ctx, s.cfg, logger, false)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Close()

	watchSvc := watcher.New(components.Pipeline, s.cfg.Watch.Directories, s.cfg.Watch.RecursiveOrDefault(),
		watcher.WithLogger(logger),
		watcher.WithDebounce(s.cfg.Watch.Debounce()),
		watcher.WithRebuildDelay(s.cfg.Watch.RebuildDelay()),
	)
	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watchSvc.Stop()
	watchSvc.SyncExistingFiles()

	deps := components.deps()
	deps.Watch = watchSvc
	srv := server.NewServer(deps, s.cfg, s.configPath, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	watchCancel()
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(stopCtx)
	if err := components.Pipeline.Save(); err != nil {
		logger.Warn("vector index save failed", zap.String("path", s.cfg.Storage.IndexPath), zap.Error(err))
	}
	return nil
}

func newAskCmd(a *app) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the local index or the fallback model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := buildQuery(args)
			if serverURL != "" {
				format, err := cli.ParseOutputFormat(a.output)
				if err != nil {
					return err
				}
				var ans models.Answer
				if err := newAPIClient(serverURL).post(cmd.Context(), "/api/v1/ask", &models.QueryRequest{Query: query}, &ans); err != nil {
					return err
				}
				return cli.WriteAnswer(cmd.OutOrStdout(), &ans, format)
			}
			s, c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			ans, err := c.Router.Ask(cmd.Context(), query)
			if err != nil {
				return err
			}
			return cli.WriteAnswer(cmd.OutOrStdout(), ans, s.format)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "ask a running server instead (e.g. http://localhost:8080)")
	return cmd
}

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Ask questions interactively until exit or quit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			err = cli.RunLoop(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), c.Router, s.format)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func newRouteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "route <query>",
		Short: "Show the routing decision for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			d, err := c.Router.Route(cmd.Context(), buildQuery(args))
			if err != nil {
				return err
			}
			return cli.WriteDecision(cmd.OutOrStdout(), d, s.format)
		},
	}
}

func newSearchCmd(a *app) *cobra.Command {
	var (
		limit     int
		serverURL string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Hybrid keyword and semantic search over indexed chunks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &models.QueryRequest{Query: buildQuery(args), Limit: limit}
			if serverURL != "" {
				format, err := cli.ParseOutputFormat(a.output)
				if err != nil {
					return err
				}
				var resp models.SearchResponse
				if err := newAPIClient(serverURL).post(cmd.Context(), "/api/v1/search", req, &resp); err != nil {
					return err
				}
				return cli.WriteSearchResults(cmd.OutOrStdout(), &resp, format)
			}
			s, c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			resp, err := c.Searcher.Search(cmd.Context(), req)
			if err != nil {
				return err
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), resp, s.format)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of results")
	cmd.Flags().StringVar(&serverURL, "server", "", "search a running server instead (e.g. http://localhost:8080)")
	return cmd
}

func newIngestCmd(a *app) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Ingest files or directories (use - to read text from stdin)",
		Long: `Ingest extracts, chunks, and embeds documents into the registry and the live index.
Replacing or deleting documents leaves the index stale; ingest then rebuilds it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			report, err := ingestPaths(cmd.Context(), c.Pipeline, args, title, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if err := cli.WriteIngestReport(cmd.OutOrStdout(), report, s.format); err != nil {
				return err
			}
			if !c.Pipeline.Stale() {
				return c.Pipeline.Save()
			}
			res, err := c.Pipeline.Rebuild(cmd.Context())
			if err != nil {
				return err
			}
			if s.format == cli.OutputJSON {
				return nil
			}
			return cli.WriteRebuild(cmd.OutOrStdout(), res, s.format)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "document title for text read from stdin")
	return cmd
}

// ingestPaths ingests each argument: "-" reads one text document from stdin, directories are
// walked, and anything else is ingested as a file.
func ingestPaths(ctx context.Context, p *indexer.Pipeline, paths []string, title string, stdin io.Reader) (*indexer.IngestReport, error) {
	total := &indexer.IngestReport{Failed: make(map[string]error)}
	for _, path := range paths {
		if path == "-" {
			content, err := io.ReadAll(stdin)
			if err != nil {
				return nil, fmt.Errorf("failed to read stdin: %w", err)
			}
			if _, err := p.Ingest(ctx, &models.DocumentInput{Title: title, Content: string(content)}); err != nil {
				total.Failed[path] = err
				continue
			}
			total.Indexed++
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			total.Failed[path] = err
			continue
		}
		if info.IsDir() {
			report, err := p.IngestDirectory(ctx, path)
			if err != nil {
				return nil, err
			}
			total.Indexed += report.Indexed
			total.Skipped += report.Skipped
			for k, v := range report.Failed {
				total.Failed[k] = v
			}
			continue
		}
		res, err := p.IngestFile(ctx, path)
		switch {
		case err != nil:
			total.Failed[path] = err
		case res.Skipped:
			total.Skipped++
		default:
			total.Indexed++
		}
	}
	return total, nil
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>...",
		Short: "Delete documents and rebuild the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			for _, id := range args {
				if err := c.Pipeline.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
			}
			res, err := c.Pipeline.Rebuild(cmd.Context())
			if err != nil {
				return err
			}
			return cli.WriteRebuild(cmd.OutOrStdout(), res, s.format)
		},
	}
}

func newRebuildCmd(a *app) *cobra.Command {
	var discardIndex bool
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Re-embed every registered chunk into a new index generation",
		Long: `Rebuild re-embeds every registered chunk and replaces the live index.
A persisted index that no longer loads (corrupt, or built for another embedding model,
dimension or metric) stops every command. Pass --discard-index to start from an empty
index and rebuild it from the registry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, c, err := a.openWith(cmd.Context(), discardIndex)
			if err != nil {
				return err
			}
			defer c.Close()
			res, err := c.Pipeline.Rebuild(cmd.Context())
			if err != nil {
				return err
			}
			return cli.WriteRebuild(cmd.OutOrStdout(), res, s.format)
		},
	}
	cmd.Flags().BoolVar(&discardIndex, "discard-index", false, "replace an unusable persisted index with an empty one before rebuilding")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("tanya version %s\n", version)
		},
	}
}
