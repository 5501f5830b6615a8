package commands

import (
	"fmt"

	"github.com/marmos91/dittodir/internal/ratelimiter"
	"github.com/marmos91/dittodir/pkg/config"
	"github.com/marmos91/dittodir/pkg/directory"
	fssource "github.com/marmos91/dittodir/pkg/source/fs"
	"github.com/spf13/cobra"
)

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [folder]",
		Short: "Copy files from a folder or S3 into the collection",
		Long: `Copy every regular file of a local folder, or every object of the
configured S3 bucket (sources.s3), into the collection. Existing files
with the same names are replaced.

Example:
  dittodir import ./index
  dittodir import --s3 --rate-limit 10485760`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fromS3, err := cmd.Flags().GetBool("s3")
			if err != nil {
				return fmt.Errorf("failed to read 's3' flag: %w", err)
			}
			if fromS3 == (len(args) == 1) {
				return fmt.Errorf("give either a folder or --s3")
			}
			rateLimit, err := cmd.Flags().GetUint("rate-limit")
			if err != nil {
				return fmt.Errorf("failed to read 'rate-limit' flag: %w", err)
			}

			return withSession(cmd, func(s *session) error {
				var src directory.Source
				if fromS3 {
					s3src, err := config.CreateS3Source(cmd.Context(), s.cfg.Sources.S3)
					if err != nil {
						return err
					}
					src = s3src
				} else {
					fsrc, err := fssource.New(args[0])
					if err != nil {
						return err
					}
					src = fsrc
				}

				if rateLimit > 0 {
					src = ratelimiter.New(rateLimit, 0).Source(src)
				}

				n, err := s.dir.CopyFrom(cmd.Context(), src)
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "imported %d files\n", n)
				return nil
			})
		},
	}

	cmd.Flags().Bool("s3", false, "import from the configured S3 source")
	cmd.Flags().Uint("rate-limit", 0, "maximum bytes per second read from the source (0 = unlimited)")
	return cmd
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <folder>",
		Short: "Copy every file of the collection into a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				n, err := fssource.Export(cmd.Context(), s.dir, args[0])
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "exported %d files to %s\n", n, args[0])
				return nil
			})
		},
	}
}
