package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/b23bot/b23bot"
	"github.com/b23bot/b23bot/plugins/command"
)

var (
	initHost  string
	initPort  int
	initRoots []int64
	initForce bool
)

// initCmd writes a starter config file.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configFile); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", configFile)
		}
		store, err := b23bot.CreateStore(configFile, b23bot.Document{
			Host:    initHost,
			Port:    initPort,
			Root:    initRoots,
			Plugins: []string{command.Name},
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", store.Path())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initHost, "host", "127.0.0.1", "Gateway host")
	initCmd.Flags().IntVar(&initPort, "port", 3001, "Gateway WebSocket port")
	initCmd.Flags().Int64SliceVar(&initRoots, "root", nil, "Root user ids")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")
}
