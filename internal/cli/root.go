// Package cli is the attribctl operator tool. It runs the same lifecycle
// operations as the HTTP server directly against the database.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/SonGiHyeon/CV-API/internal/cache"
	"github.com/SonGiHyeon/CV-API/internal/config"
	"github.com/SonGiHyeon/CV-API/internal/database"
	"github.com/SonGiHyeon/CV-API/internal/ids"
	"github.com/SonGiHyeon/CV-API/internal/ledger"
	"github.com/SonGiHyeon/CV-API/internal/monitoring"
)

// Version is stamped at build time
var Version = "dev"

// app is the state shared by every subcommand of one invocation
type app struct {
	cfgFile string
	dataDir string
	verbose bool

	cfg *config.Config
	db  *database.DB
	svc *ledger.Service
}

// NewRootCommand builds the attribctl command tree
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "attribctl",
		Short: "Operate the draft attribution and reward ledger",
		Long: `attribctl runs draft attribution, finalize and settle against the
service database without going through HTTP.

Configuration hierarchy (highest to lowest priority):
  1. CLI flags (--data-dir)
  2. Environment variables (ATTRIB_*)
  3. Config file (--config or ./attribution.yaml)
  4. Defaults`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default ./attribution.yaml)")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "database directory (overrides storage.data_dir)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newDraftCommand(a),
		newAttributionCommand(a),
		newRewardsCommand(a),
		newFragmentsCommand(a),
		newConfigCommand(a),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "attribctl %s\n", Version)
			},
		},
	)
	return root
}

// loadConfig reads configuration once per invocation
func (a *app) loadConfig() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return nil, err
	}
	if a.dataDir != "" {
		cfg.Storage.DataDir = a.dataDir
	}
	a.cfg = cfg
	return cfg, nil
}

// service opens the database and wires the lifecycle service. Logs go to
// stderr so stdout stays machine readable.
func (a *app) service(cmd *cobra.Command) (*ledger.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	level := monitoring.ParseLevel(cfg.Log.Level)
	if a.verbose {
		level = slog.LevelDebug
	} else if level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	logger := monitoring.NewLoggerWithOptions(cmd.ErrOrStderr(), level)
	slog.SetDefault(logger.Logger)

	db, err := database.NewDB(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}
	a.db = db

	repo := database.NewRepository(db)
	metrics := monitoring.NewMetrics()
	corpus := cache.NewCorpusCache(repo, cfg.Corpus.CacheTTL, metrics).WithLogger(logger)
	a.svc = ledger.NewService(repo, corpus, ids.NewUUIDGenerator(), cfg.Ledger(), logger, metrics)
	return a.svc, nil
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db, a.svc = nil, nil
	return err
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
