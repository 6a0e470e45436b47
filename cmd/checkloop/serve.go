package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/checkloop/checkloop"
	mcpadapter "github.com/checkloop/checkloop/internal/adapters/mcp"
	"github.com/checkloop/checkloop/internal/sanitize"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve checkloop as an MCP server",
	Long: `Exposes run_task and list_models as MCP tools on stdio, so other agent
hosts can trigger validated task runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if mcpMode, _ := cmd.Flags().GetBool("mcp"); !mcpMode {
			return fmt.Errorf("only the MCP stdio transport is supported; pass --mcp")
		}
		logger := newLogger(cmd)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		engineURL, _ := cmd.Flags().GetString("engine-url")
		configPath, _ := cmd.Flags().GetString("config")
		credsPath, _ := cmd.Flags().GetString("credentials")
		model, _ := cmd.Flags().GetString("model")

		app, err := checkloop.New(ctx, engineURL,
			checkloop.WithLogger(logger),
			checkloop.WithConfig(configPath, credsPath),
			checkloop.WithModel(model),
		)
		if err != nil {
			return fmt.Errorf("initializing: %s", sanitize.Error(err))
		}
		defer app.Close()

		logger.Info("mcp server listening on stdio")
		srv := mcpadapter.NewServer(app, app, checkloop.Version)
		return srv.ServeStdio()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Bool("mcp", true, "Use the MCP stdio transport")
}
