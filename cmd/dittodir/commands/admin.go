package commands

import (
	"fmt"

	"github.com/marmos91/dittodir/pkg/config"
	"github.com/marmos91/dittodir/pkg/store/kv/badger"
	"github.com/spf13/cobra"
)

func newGCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Run BadgerDB value log garbage collection",
		Long: `Rewrite BadgerDB value log files holding mostly superseded file
versions. Only meaningful with the badger backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ratio, err := cmd.Flags().GetFloat64("discard-ratio")
			if err != nil {
				return fmt.Errorf("failed to read 'discard-ratio' flag: %w", err)
			}
			if ratio <= 0 || ratio >= 1 {
				return fmt.Errorf("--discard-ratio must be between 0 and 1, got %v", ratio)
			}

			return withSession(cmd, func(s *session) error {
				store, ok := s.store.(*badger.Store)
				if !ok {
					return fmt.Errorf("gc requires the badger backend, configured: %s", s.cfg.Backend.Type)
				}

				n, err := store.RunValueLogGC(ratio)
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "rewrote %d value log files\n", n)
				return nil
			})
		},
	}

	cmd.Flags().Float64("discard-ratio", 0.5, "rewrite files with at least this fraction of garbage")
	return cmd
}

func newDestroyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete every file and close the collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, err := cmd.Flags().GetBool("yes")
			if err != nil {
				return fmt.Errorf("failed to read 'yes' flag: %w", err)
			}
			if !yes {
				return fmt.Errorf("destroy deletes every file, pass --yes to confirm")
			}

			return withSession(cmd, func(s *session) error {
				if err := s.dir.Close(cmd.Context()); err != nil {
					return err
				}
				s.closed = true

				fmt.Fprintln(cmd.OutOrStdout(), "collection destroyed")
				return nil
			})
		},
	}

	cmd.Flags().Bool("yes", false, "confirm deletion")
	return cmd
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write a configuration file with default values and comments, either
to the default location or to --path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, err := cmd.Flags().GetBool("force")
			if err != nil {
				return fmt.Errorf("failed to read 'force' flag: %w", err)
			}
			path, err := cmd.Flags().GetString("path")
			if err != nil {
				return fmt.Errorf("failed to read 'path' flag: %w", err)
			}

			if path == "" {
				path, err = config.InitConfig(force)
			} else {
				err = config.InitConfigToPath(path, force)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "overwrite an existing file")
	cmd.Flags().String("path", "", "write to this path instead of the default location")
	return cmd
}
