package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/joshdurbin/fitnerd/internal/logging"
	"github.com/spf13/cobra"
)

var (
	verbosity            int
	logJSON              bool
	dbPath               string
	addr                 string
	workerCount          int
	tokenRefreshInterval time.Duration
	leaseTTL             time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "fitnerd",
	Short: "fitnerd - statistics and charts for your Strava activities",
	Long: `fitnerd downloads Strava activities for every connected athlete into a local
SQLite database and serves summaries, charts and similar-activity search over
HTTP. The same statistics are exposed to AI assistants over MCP at /mcp.

Strava application credentials are read from the environment:

  STRAVA_CLIENT_ID, STRAVA_CLIENT_SECRET   OAuth client (required to serve)
  STRAVA_REDIRECT_URL                      OAuth callback, default http://localhost:8080/callback
  STRAVA_CB_URL, STRAVA_SUB_VERIFY_TOKEN   webhook subscription (subscribe/unsubscribe)

Create an application at https://www.strava.com/settings/api
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(logging.Options{Level: logging.Level(verbosity), JSON: logJSON})
	},
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase verbosity (-v for debug, -vv for trace with HTTP headers)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write log lines as JSON instead of the console format")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "fitnerd.db", "path to SQLite database file")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", ":8080", "HTTP listen address")

	serveCmd.Flags().IntVar(&workerCount, "workers", 2, "number of background job workers")
	serveCmd.Flags().DurationVar(&tokenRefreshInterval, "token-refresh-interval", 30*time.Minute, "interval between token refresh checks")
	serveCmd.Flags().DurationVar(&leaseTTL, "lease-ttl", 30*time.Minute, "how long a per-user sync lease is held before it expires")

	rootCmd.AddCommand(serveCmd, migrateCmd, connectCmd, subscribeCmd, unsubscribeCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
