package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lewtec/rotulador-bbox/annotation"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new review session",
	Long: `Initialize a new review session by creating:
- A sample configuration file (config.yaml)
- The session database (annotations.db) with the images found in the images folder

Example:
  rotulador-bbox init --images-dir ./images
  rotulador-bbox init --images-dir ./images --config custom-config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		imagesDir, _ := cmd.Flags().GetString("images-dir")
		configFile, _ := cmd.Flags().GetString("config")

		if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(out, "Creating sample configuration file: %s\n", configFile)
			rel := imagesDir
			if rel != "" {
				abs, err := filepath.Abs(imagesDir)
				if err != nil {
					return fmt.Errorf("failed to resolve images path: %w", err)
				}
				rel = abs
			}
			if err := os.WriteFile(configFile, []byte(annotation.SampleConfig(rel)), 0o644); err != nil {
				return fmt.Errorf("failed to create config file: %w", err)
			}
		} else {
			fmt.Fprintf(out, "Configuration file already exists: %s\n", configFile)
		}

		config, err := annotation.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if _, err := os.Stat(config.Session.ImagesDir); err != nil {
			return fmt.Errorf("images directory does not exist: %s", config.Session.ImagesDir)
		}

		fmt.Fprintf(out, "Scanning images directory: %s\n", config.Session.ImagesDir)
		session, db, err := annotation.PrepareSession(cmd.Context(), config, nil, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to prepare session: %w", err)
		}
		defer db.Close()
		if err := session.Save(cmd.Context()); err != nil {
			return err
		}

		fmt.Fprintf(out, "Session initialized with %d images in %s\n", session.Store.Len(), config.Session.Database)
		fmt.Fprintln(out, "\nNext steps:")
		fmt.Fprintln(out, "  1. Review and customize your config file:", configFile)
		fmt.Fprintln(out, "  2. Start the review server:")
		fmt.Fprintf(out, "     rotulador-bbox -c %s\n", configFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringP("images-dir", "i", "", "Directory containing the images to review")
}
