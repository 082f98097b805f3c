package main

import (
	"github.com/spf13/cobra"

	"github.com/scholarmcp/scholarmcp/internal/scholar"
	"github.com/scholarmcp/scholarmcp/internal/transport"
)

func init() {
	rootCmd.AddCommand(stdioCmd)
}

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Serve MCP over stdin/stdout",
	Long: "Reads line-delimited JSON-RPC from stdin and writes responses to\n" +
		"stdout. All logging goes to stderr.",
	RunE: runStdio,
}

func runStdio(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	var clientOpts []scholar.ClientOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, scholar.WithAPIKey(cfg.APIKey))
	}
	clientOpts = append(clientOpts, scholar.WithClientLogger(log))
	registry := scholar.NewToolset(scholar.NewClient(clientOpts...))

	h := transport.NewStdioHandler(registry, transport.WithStdioLogger(log))
	return h.Serve(cmd.Context())
}
