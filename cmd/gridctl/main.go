package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-grid/pkg/simplegrid"
	"github.com/tendant/simple-grid/pkg/simplegrid/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	_ = godotenv.Load()

	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCommand creates the gridctl command tree
func NewRootCommand() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "gridctl",
		Short: "Inspect and manage blobs in the grid store",
		Long: `gridctl talks to the configured blob store directly.

The store is selected the same way as for grid-server: an optional config
file followed by environment variables (STORAGE_URL, GRID_HOST, ...).`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (optional)")

	rootCmd.AddCommand(NewPutCommand())
	rootCmd.AddCommand(NewGetCommand())
	rootCmd.AddCommand(NewRemoveCommand())
	rootCmd.AddCommand(NewStatCommand())

	return rootCmd
}

// storeFromFlags builds the blob store from --config and the environment
func storeFromFlags(cmd *cobra.Command) (*simplegrid.LazyStore, *config.ServerConfig, error) {
	var opts []config.Option
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		opts = append(opts, config.WithFile(path))
	}
	opts = append(opts, config.WithEnv(""))

	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg.BuildBlobStore(), cfg, nil
}
