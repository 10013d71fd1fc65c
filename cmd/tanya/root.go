package main

import (
	"context"
	"fmt"

	"github.com/hyperjump/tanya/internal/cli"
	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app carries the persistent flags shared by every command.
type app struct {
	configPath string
	debug      bool
	output     string
}

// session is a loaded config with its logger and output format.
type session struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	format     cli.OutputFormat
}

// load reads the config and builds the logger. Commands other than the server only log
// warnings and errors unless debug is on.
func (a *app) load(server bool) (*session, error) {
	format, err := cli.ParseOutputFormat(a.output)
	if err != nil {
		return nil, err
	}
	cfg, path, err := loadConfig(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug := cfg.Debug || a.debug
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if !server && !debug {
		logger = logger.WithOptions(zap.IncreaseLevel(zapcore.WarnLevel))
	}
	return &session{cfg: cfg, configPath: path, logger: logger, format: format}, nil
}

// open loads the config and initializes the engine.
func (a *app) open(ctx context.Context) (*session, *Components, error) {
	return a.openWith(ctx, false)
}

// openWith is open with control over an unusable persisted index; see openIndex.
func (a *app) openWith(ctx context.Context, discardIndex bool) (*session, *Components, error) {
	s, err := a.load(false)
	if err != nil {
		return nil, nil, err
	}
	c, err := initializeComponents(ctx, s.cfg, s.logger, discardIndex)
	if err != nil {
		_ = s.logger.Sync()
		return nil, nil, err
	}
	return s, c, nil
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "tanya",
		Short: "Local-first question answering over your documents",
		Long: `tanya answers questions from a local document index when the match is good
enough and falls back to a generative model otherwise.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newServerCmd(a),
		newAskCmd(a),
		newChatCmd(a),
		newRouteCmd(a),
		newSearchCmd(a),
		newIngestCmd(a),
		newDeleteCmd(a),
		newRebuildCmd(a),
		newStatusCmd(a),
		newVersionCmd(),
	)
	return root
}
