package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/scholarmcp/scholarmcp/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "scholarmcp",
	Short: "Semantic Scholar MCP server",
	Long: "An MCP server exposing Semantic Scholar literature search tools over\n" +
		"streamable HTTP (with SSE resumability and OAuth access control) or stdio.",
	SilenceUsage: true,
}

// setup loads configuration and installs the process-wide logger.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, nil, err
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return cfg, log, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
