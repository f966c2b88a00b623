package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Add new images of the images folder to the saved session",
	Long: `Scans session.images_dir and saves the session with every image found.
Images already in the session keep their boxes and review state. Records of
images that left the folder are kept.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, done, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer done()
		if err := session.Save(cmd.Context()); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		list, _ := cmd.Flags().GetBool("list")
		if list {
			for _, id := range session.Scene.WorkingSet() {
				fmt.Fprintln(out, id)
			}
		}
		fmt.Fprintf(out, "%d images in folder, %d in session\n", len(session.Scene.WorkingSet()), session.Store.Len())
		return nil
	},
}

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review server for the --config session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			config.Server.Addr, _ = cmd.Flags().GetString("addr")
		}
		configFile, _ := cmd.Flags().GetString("config")
		return serve(cmd.Context(), configFile, config)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(serveCmd)

	scanCmd.Flags().BoolP("list", "l", false, "Print the image ids found in the folder")
	serveCmd.Flags().StringP("addr", "a", ":8080", "Address to bind the webserver, overrides server.addr")
}
