package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/checkloop/checkloop"
	"github.com/checkloop/checkloop/internal/sanitize"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models available from the reasoning engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cmd)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		engineURL, _ := cmd.Flags().GetString("engine-url")
		configPath, _ := cmd.Flags().GetString("config")
		credsPath, _ := cmd.Flags().GetString("credentials")

		app, err := checkloop.New(ctx, engineURL,
			checkloop.WithLogger(logger),
			checkloop.WithConfig(configPath, credsPath),
		)
		if err != nil {
			return fmt.Errorf("initializing: %s", sanitize.Error(err))
		}
		defer app.Close()

		models, err := app.ListModels(ctx)
		if err != nil {
			return fmt.Errorf("listing models: %s", sanitize.Error(err))
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROVIDER\tID\tNAME")
		for _, m := range models {
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.Provider, m.ID, m.Name)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
