package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/checkloop/checkloop"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of checkloop",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("checkloop version %s\n", checkloop.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
