package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-git/go-billy/v6/osfs"
	"github.com/spf13/cobra"

	"github.com/lewtec/rotulador-bbox/annotation"
	"github.com/lewtec/rotulador-bbox/internal/codec"
	"github.com/lewtec/rotulador-bbox/internal/crops"
	"github.com/lewtec/rotulador-bbox/internal/report"
)

// openSession restores the saved session. The images folder is scanned so
// new files show up as unreviewed images.
func openSession(cmd *cobra.Command) (*annotation.Session, func(), error) {
	config, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	session, db, err := annotation.PrepareSession(cmd.Context(), config, nil, slog.Default())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to prepare session: %w", err)
	}
	return session, func() { db.Close() }, nil
}

// exportFilter reads --filter, falling back to export.filter
func exportFilter(cmd *cobra.Command, config *annotation.Config) (codec.Filter, error) {
	if !cmd.Flags().Changed("filter") {
		return config.ExportFilter(), nil
	}
	value, _ := cmd.Flags().GetString("filter")
	return codec.ParseFilter(value)
}

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export file.json",
	Short: "Export the session as an interchange file",
	Long: `Writes every image with its active boxes and review state to a versioned
JSON file that the import command reads back. Deleted boxes are not written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, done, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer done()
		fs, files, err := hostFiles(args[0])
		if err != nil {
			return err
		}
		if err := <-session.ExportJSONAsync(cmd.Context(), fs, files[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d images to %s\n", session.Store.Len(), args[0])
		return nil
	},
}

// exportTrainingCmd represents the export-training command
var exportTrainingCmd = &cobra.Command{
	Use:   "export-training file",
	Short: "Export boxes in pixel coordinates for model training",
	Long: `Writes one record per image with its boxes in pixel coordinates and the
configured class label. By default only accepted images are exported.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, done, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer done()
		filter, err := exportFilter(cmd, session.Config)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		fs, files, err := hostFiles(args[0])
		if err != nil {
			return err
		}
		n, err := session.WriteTraining(fs, files[0], filter, format)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d %s images to %s\n", n, filter, args[0])
		return nil
	},
}

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report file.html",
	Short: "Render an HTML review progress report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, done, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer done()
		filter, err := exportFilter(cmd, session.Config)
		if err != nil {
			return err
		}
		fs, files, err := hostFiles(args[0])
		if err != nil {
			return err
		}
		snap := session.Store.Snapshot()
		return codec.WriteFileAtomic(fs, files[0], func(w io.Writer) error {
			return report.Render(w, snap.Records, report.Options{
				Description: session.Config.Meta.Description,
				Filter:      filter,
				ClassLabel:  session.Config.Export.ClassLabel,
				GeneratedAt: snap.TakenAt,
			})
		})
	},
}

// cropsCmd represents the crops command
var cropsCmd = &cobra.Command{
	Use:   "crops folder",
	Short: "Cut every exported box out of its image",
	Long: `Writes one image file per exported box, named <image_id>_<index>. The
images picked follow the same filter as export-training.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, done, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer done()
		filter, err := exportFilter(cmd, session.Config)
		if err != nil {
			return err
		}
		records, err := session.ExportTraining(filter)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(args[0], 0o755); err != nil {
			return err
		}
		maxSize, _ := cmd.Flags().GetInt("max-size")
		format, _ := cmd.Flags().GetString("format")
		result, err := crops.Export(
			osfs.New(session.Config.Session.ImagesDir),
			osfs.New(args[0]),
			".",
			records,
			crops.Options{MaxSize: maxSize, Format: format},
			slog.Default(),
		)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d crops to %s, %d skipped\n", len(result.Files), args[0], result.Skipped)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(exportTrainingCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(cropsCmd)

	exportTrainingCmd.Flags().StringP("filter", "f", "reviewed", "Images to export: reviewed or all, defaults to export.filter")
	exportTrainingCmd.Flags().String("format", "", "Output format: jsonl or csv, defaults to export.format")
	reportCmd.Flags().StringP("filter", "f", "reviewed", "Filter used for the exportable count, defaults to export.filter")
	cropsCmd.Flags().StringP("filter", "f", "reviewed", "Images to crop: reviewed or all, defaults to export.filter")
	cropsCmd.Flags().Int("max-size", 0, "Longest side of each crop, 0 keeps the original size")
	cropsCmd.Flags().String("format", "png", "Crop format: png or jpg")
}
