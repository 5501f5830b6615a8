package commands

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			long, err := cmd.Flags().GetBool("long")
			if err != nil {
				return fmt.Errorf("failed to read 'long' flag: %w", err)
			}

			return withSession(cmd, func(s *session) error {
				names, err := s.dir.List(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if !long {
					for _, name := range names {
						fmt.Fprintln(out, name)
					}
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				for _, name := range names {
					info, err := s.dir.Stat(cmd.Context(), name)
					if err != nil {
						// Deleted between List and Stat.
						continue
					}
					fmt.Fprintf(w, "%d\t%s\t%s\n", info.Size, info.ModTime.Format(time.RFC3339), info.Name)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().BoolP("long", "l", false, "show size and modification time")
	return cmd
}

func newCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <name>",
		Short: "Print a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				in, err := s.dir.Open(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				defer func() { _ = in.Close() }()

				_, err = io.Copy(cmd.OutOrStdout(), in)
				return err
			})
		},
	}
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <name> [file]",
		Short: "Write a file from disk or stdin",
		Long: `Create (or replace) a file with the content of a local file, or of
standard input when no file is given.

Example:
  dittodir put segments_1 ./index/segments_1
  echo hello | dittodir put greeting`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 2 {
				f, err := os.Open(args[1])
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", args[1], err)
				}
				defer func() { _ = f.Close() }()
				r = f
			}

			return withSession(cmd, func(s *session) error {
				out, err := s.dir.Create(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				n, err := io.Copy(out, r)
				if err != nil {
					_ = out.Close()
					return fmt.Errorf("failed to write %s: %w", args[0], err)
				}
				if err := out.Close(); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", args[0], formatBytes(n))
				return nil
			})
		},
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>...",
		Short: "Delete files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				for _, name := range args {
					if err := s.dir.Delete(cmd.Context(), name); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <name>",
		Short: "Show size and modification time of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				info, err := s.dir.Stat(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "Name:\t%s\n", info.Name)
				fmt.Fprintf(w, "Size:\t%d (%s)\n", info.Size, formatBytes(info.Size))
				fmt.Fprintf(w, "Modified:\t%s\n", info.ModTime.Format(time.RFC3339Nano))
				return w.Flush()
			})
		},
	}
}

func newTouchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "touch <name>...",
		Short: "Set the modification time of files to now",
		Long: `Set the modification time of existing files to the current time.
The new time is always later than the stored one, even if the local clock
is behind.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				for _, name := range args {
					if err := s.dir.Touch(cmd.Context(), name); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newDuCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "du",
		Short: "Print the total size of the collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				total, err := s.dir.Recount(cmd.Context())
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", total, formatBytes(total))
				return nil
			})
		},
	}
}
