package main

import (
	"fmt"
	"log"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lewtec/rotulador-bbox/annotation"
	"github.com/lewtec/rotulador-bbox/internal/codec"
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import [flags] file...",
	Short: "Import boxes into the saved session",
	Long: `Imports boxes into the saved session and saves it back.

Formats:
  json         interchange file written by the export command
  voc          labelImg XML files, one per image
  predictions  JSON lines with model detections, boxes under export.min_score are dropped

In replace mode each imported image gets exactly the imported boxes. In merge
mode imported boxes are upserted by id, local-only boxes are kept and every
overwritten value is reported as a conflict.
The import is all or nothing: a failure leaves the saved session untouched.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		modeFlag, _ := cmd.Flags().GetString("mode")
		mode, err := codec.ParseMode(modeFlag)
		if err != nil {
			return err
		}
		if format != "voc" && len(args) != 1 {
			return fmt.Errorf("format %s takes a single file", format)
		}
		config, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fs, files, err := hostFiles(args...)
		if err != nil {
			return err
		}

		session, db, err := annotation.PrepareSession(cmd.Context(), config, nil, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to prepare session: %w", err)
		}
		defer db.Close()

		var report *codec.ImportReport
		switch format {
		case "json":
			report, err = session.ImportJSON(fs, files[0], mode)
		case "voc":
			report, err = session.ImportVOC(fs, files, mode)
		case "predictions":
			report, err = session.ImportPredictions(fs, files[0], mode)
		default:
			return fmt.Errorf("unknown import format %q", format)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "mode\t%s\n", report.Mode)
		fmt.Fprintf(out, "images created\t%d\n", report.ImagesCreated)
		fmt.Fprintf(out, "images updated\t%d\n", report.ImagesUpdated)
		fmt.Fprintf(out, "boxes imported\t%d\n", report.BoxesImported)
		fmt.Fprintf(out, "boxes skipped\t%d\n", report.BoxesSkipped)
		fmt.Fprintf(out, "conflicts\t%d\n", len(report.Conflicts))
		for _, c := range report.Conflicts {
			log.Printf("conflict: image %s box %d: %s", c.ImageID, c.BoxID, c.Reason)
		}
		for _, skipped := range report.Skipped {
			log.Printf("skipped: %s", skipped)
		}
		return session.Save(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringP("format", "f", "json", "Input format: json, voc or predictions")
	importCmd.Flags().StringP("mode", "m", "merge", "Import mode: replace or merge")
}
