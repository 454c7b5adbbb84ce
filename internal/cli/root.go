package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/mowctt/internal/config"
	"github.com/me/mowctt/internal/logging"
	"github.com/me/mowctt/internal/store"
)

var (
	flagServer    string
	flagDB        string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking MOWCTT_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("MOWCTT_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the mowctt CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mowctt",
		Short: "mowctt: multi-objective placement under worst-case traversal time constraints",
		Long: `mowctt enumerates the Pareto front of a constraint model whose solutions
must also pass an external oracle, such as a worst-case traversal time
analysis of the resulting network configuration. Runs are recorded in a
local SQLite database and can be served over HTTP.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagDebug {
				flagLogLevel = "debug"
			}
			level, err := logging.ParseLevel(flagLogLevel)
			if err != nil {
				return err
			}
			format, err := logging.ParseFormat(flagLogFormat)
			if err != nil {
				return err
			}
			logger = logging.NewLogger(level, format)
			client = NewClient(flagServer, logger)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "mowctt server URL (or MOWCTT_SERVER env)")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "Database path (default ~/.mowctt/mowctt.db)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newListCmd(),
		newStatusCmd(),
		newServeCmd(),
	)

	return root
}

// openStore opens and migrates the run database named by --db.
func openStore(ctx context.Context) (store.Store, error) {
	dbPath, err := config.ResolveDBPath(flagDB)
	if err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Debug("database ready", "path", dbPath)
	return st, nil
}
