// Package cmd implements the firewarden command tree.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fraser/firewarden/internal/catalogue"
	"github.com/fraser/firewarden/internal/config"
	"github.com/fraser/firewarden/internal/filelock"
	"github.com/fraser/firewarden/internal/logger"
	"github.com/fraser/firewarden/internal/models"
	"github.com/fraser/firewarden/internal/recsync"
	"github.com/fraser/firewarden/internal/store"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for firewarden.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "firewarden",
		Short: "Fire-risk assessment authoring tool",
		Long: `Firewarden authors fire-risk assessment documents module by module:
it loads a module's answers, suggests a compliance outcome from the module's
declarative rule table, persists confirmed saves, and keeps the shared
recommendations register in step with low risk-engineering ratings.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", ".firewarden/config.yaml", "path to config file")
	cmd.PersistentFlags().String("db", "", "override database path")
	cmd.PersistentFlags().String("log-level", "", "override log level (trace, debug, info, warn, error)")

	cmd.AddCommand(NewModulesCommand())
	cmd.AddCommand(NewShowCommand())
	cmd.AddCommand(NewSetCommand())
	cmd.AddCommand(NewResolveCommand())
	cmd.AddCommand(NewScoreCommand())
	cmd.AddCommand(NewRecsCommand())
	cmd.AddCommand(NewReportCommand())

	return cmd
}

// app bundles the shared collaborators each command needs.
type app struct {
	cfg    *config.Config
	log    *logger.ConsoleLogger
	store  *store.Store
	cat    *catalogue.Catalogue
	syncer *recsync.Syncer
	lock   *filelock.SessionLock
}

// setup loads config, opens the store and catalogue, and takes the advisory
// session lock beside the database. The returned cleanup releases the lock
// and closes the store.
func setup(cmd *cobra.Command) (*app, func(), error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}

	log := logger.NewConsoleLogger(os.Stderr, cfg.LogLevel)

	lockFile := lockPath(cfg.DBPath)
	if err := os.MkdirAll(filepath.Dir(lockFile), 0755); err != nil {
		return nil, nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := filelock.New(lockFile)
	acquired, err := lock.TryAcquire()
	if err != nil {
		return nil, nil, err
	}
	if !acquired {
		return nil, nil, fmt.Errorf("another session is editing %s", cfg.DBPath)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		lock.Release()
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	cat, err := loadCatalogue(cfg, log)
	if err != nil {
		st.Close()
		lock.Release()
		return nil, nil, err
	}

	syncer := recsync.New(st, log,
		recsync.WithThreshold(thresholdFrom(cfg)),
		recsync.WithAutoClose(cfg.Recommendations.AutoClose),
	)

	a := &app{cfg: cfg, log: log, store: st, cat: cat, syncer: syncer, lock: lock}
	cleanup := func() {
		if err := a.store.Close(); err != nil {
			a.log.LogWarn(fmt.Sprintf("close store: %v", err))
		}
		if err := a.lock.Release(); err != nil {
			a.log.LogWarn(fmt.Sprintf("release session lock: %v", err))
		}
	}
	return a, cleanup, nil
}

// loadCatalogue prefers a configured schema directory and falls back to the
// builtin catalogue when the directory is unset or holds no schemas.
func loadCatalogue(cfg *config.Config, log *logger.ConsoleLogger) (*catalogue.Catalogue, error) {
	if cfg.CatalogueDir != "" {
		cat, err := catalogue.Load(cfg.CatalogueDir)
		if err != nil {
			return nil, fmt.Errorf("load catalogue %s: %w", cfg.CatalogueDir, err)
		}
		if cat.Len() > 0 {
			log.LogDebug(fmt.Sprintf("loaded %d module schemas from %s", cat.Len(), cfg.CatalogueDir))
			return cat, nil
		}
		log.LogWarn(fmt.Sprintf("no module schemas under %s, using builtin catalogue", cfg.CatalogueDir))
	}
	cat, err := catalogue.Builtin()
	if err != nil {
		return nil, fmt.Errorf("load builtin catalogue: %w", err)
	}
	return cat, nil
}

// lockPath places the advisory lock beside the database file.
func lockPath(dbPath string) string {
	if dbPath == ":memory:" {
		return filepath.Join(os.TempDir(), "firewarden-memory.lock")
	}
	return dbPath + ".lock"
}

// thresholdFrom converts the configured threshold into the rating domain.
func thresholdFrom(cfg *config.Config) models.Rating {
	return models.Rating(cfg.Recommendations.Threshold)
}
