// Package main is the tanya CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hyperjump/tanya/internal/config"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/tanya/config.yaml"

// resolveConfigPath prefers a config.yaml or config.toml in the working directory over the
// installed default, so running from a checkout picks up the local config.
func resolveConfigPath(path string) string {
	if path != defaultConfigPath {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	for _, name := range []string{"config.yaml", "config.toml"} {
		candidate := filepath.Join(cwd, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return path
}

// loadConfig reads .env files next to the config, then the config itself. It returns the
// path actually used.
func loadConfig(path string) (*config.Config, string, error) {
	path = resolveConfigPath(path)
	if err := config.LoadEnv(path); err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
