package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/marmos91/dittodir/internal/logger"
	"github.com/marmos91/dittodir/pkg/config"
	"github.com/marmos91/dittodir/pkg/directory"
	"github.com/marmos91/dittodir/pkg/metrics"
	"github.com/marmos91/dittodir/pkg/store/kv"
	"github.com/spf13/cobra"
)

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dittodir",
		Short: "Manage a DittoDir file collection",
		Long: `Manage a collection of versioned files stored in a transactional
key-value backend (BadgerDB or in-memory).

Every command opens the configured backend, performs its work and closes
the backend again. Configuration is read from the file given with --config,
or from $XDG_CONFIG_HOME/dittodir/config.yaml when it exists.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "config file (default $XDG_CONFIG_HOME/dittodir/config.yaml)")
	root.PersistentFlags().String("log-level", "", "override the configured log level (DEBUG, INFO, WARN, ERROR)")
	root.PersistentFlags().Bool("print-metrics", false, "print collected metrics to stderr after the command (requires metrics.enabled)")

	root.AddCommand(
		newLsCmd(),
		newCatCmd(),
		newPutCmd(),
		newRmCmd(),
		newStatCmd(),
		newTouchCmd(),
		newDuCmd(),
		newImportCmd(),
		newExportCmd(),
		newGCCmd(),
		newDestroyCmd(),
		newInitCmd(),
	)

	return root
}

// session is an open directory plus everything that must be released with it.
type session struct {
	cfg       *config.Config
	dir       *directory.Directory
	store     kv.Store
	logCloser io.Closer
	closed    bool
}

// openSession loads configuration and opens the configured directory.
func openSession(cmd *cobra.Command) (*session, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to read 'config' flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to read 'log-level' flag: %w", err)
	}
	if level != "" {
		cfg.Logging.Level = level
	}

	logCloser, err := config.ConfigureLogging(&cfg.Logging)
	if err != nil {
		return nil, err
	}

	dir, store, err := config.CreateDirectory(cmd.Context(), cfg, config.InitializeMetrics(cfg))
	if err != nil {
		_ = logCloser.Close()
		return nil, err
	}

	logger.Debug("opened %s backend", cfg.Backend.Type)
	return &session{cfg: cfg, dir: dir, store: store, logCloser: logCloser}, nil
}

// close releases the backend without touching the stored files. Metrics
// are printed first when requested.
func (s *session) close(cmd *cobra.Command) {
	if printMetrics, _ := cmd.Flags().GetBool("print-metrics"); printMetrics && metrics.IsEnabled() {
		if err := metrics.WriteText(cmd.ErrOrStderr(), metrics.GetRegistry()); err != nil {
			logger.Warn("failed to print metrics: %v", err)
		}
	}

	if !s.closed {
		if err := s.store.Close(); err != nil {
			logger.Warn("failed to close backend: %v", err)
		}
	}
	_ = s.logCloser.Close()
}

// withSession opens a session, runs fn and closes the session.
func withSession(cmd *cobra.Command, fn func(s *session) error) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close(cmd)

	return fn(s)
}

// formatBytes formats bytes to human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit && bytes > -unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit || n <= -unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
