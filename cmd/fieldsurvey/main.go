package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paulexconde/fieldsurvey/internal/app"
	"github.com/paulexconde/fieldsurvey/internal/config"
	"github.com/paulexconde/fieldsurvey/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool
	timeout    time.Duration
	missionID  int

	cfg    *config.Config
	logger *zap.Logger
	fs     *app.App
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fieldsurvey",
	Short: "Operator tooling for field survey forms and responses",
	Long: `fieldsurvey ingests ODK-style XML submissions into responses, keeps the
item trees of forms ranked, and exports what was collected.

Configuration is read from fieldsurvey.yaml (see --config), a .env file next to
it, and FIELDSURVEY_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("mission") {
			cfg.MissionID = missionID
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Development)
		if err != nil {
			return err
		}

		fs, err = app.Open(cfg, logger)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if fs != nil {
			_ = fs.Close()
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// commandContext is cancelled on SIGINT/SIGTERM or after --timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Operation timeout")
	rootCmd.PersistentFlags().IntVar(&missionID, "mission", 0, "Mission to act in (default: config mission_id, 0 = all)")

	formCmd.AddCommand(formImportCmd)
	itemCmd.AddCommand(itemAddCmd)
	itemCmd.AddCommand(itemTreeCmd)
	responsesCmd.AddCommand(responsesListCmd)
	responsesCmd.AddCommand(responsesRecentCmd)
	placesCmd.AddCommand(placesPruneCmd)
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userDeleteCmd)

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(formCmd)
	rootCmd.AddCommand(itemCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(responsesCmd)
	rootCmd.AddCommand(placesCmd)
	rootCmd.AddCommand(userCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
