/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/osfs"
	"github.com/spf13/cobra"

	"github.com/lewtec/rotulador-bbox/annotation"
	"github.com/lewtec/rotulador-bbox/internal/notify"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rotulador-bbox [folder|config.yaml]",
	Short: "Review bounding box annotations",
	Long: strings.TrimSpace(`
Review, fix and accept bounding boxes drawn over a folder of images, then export the accepted ones as training data.

With a folder argument a config.yaml is created there when missing and the folder itself holds the images.
    `),
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, err := resolveConfig(cmd, args)
		if err != nil {
			return err
		}
		config, err := annotation.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cmd.Flags().Changed("addr") {
			config.Server.Addr, _ = cmd.Flags().GetString("addr")
		}
		return serve(cmd.Context(), configFile, config)
	},
}

// resolveConfig picks the config file from the positional argument or the
// --config flag. A folder argument gets a sample config when it has none.
func resolveConfig(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 {
		configFile, _ := cmd.Flags().GetString("config")
		if configFile == "" {
			return "", fmt.Errorf("either provide a folder/config argument or use --config flag")
		}
		return configFile, nil
	}
	arg := args[0]
	stat, err := os.Stat(arg)
	if err != nil || !stat.IsDir() {
		return arg, nil
	}
	log.Printf("Detected folder argument: %s", arg)
	configFile := filepath.Join(arg, "config.yaml")
	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		log.Printf("Creating default config: %s", configFile)
		if err := os.WriteFile(configFile, []byte(annotation.SampleConfig(".")), 0o644); err != nil {
			return "", fmt.Errorf("failed to create config: %w", err)
		}
	}
	return configFile, nil
}

// loadConfig loads the config named by --config for the subcommands
func loadConfig(cmd *cobra.Command) (*annotation.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	config, err := annotation.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return config, nil
}

// hostFiles roots a filesystem at the folder shared by every path and
// returns the paths relative to it
func hostFiles(paths ...string) (billy.Filesystem, []string, error) {
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("no file given")
	}
	abs := make([]string, len(paths))
	for i, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return nil, nil, err
		}
		abs[i] = a
	}
	root := filepath.Dir(abs[0])
	for _, a := range abs[1:] {
		for !strings.HasPrefix(a, root+string(filepath.Separator)) && filepath.Dir(root) != root {
			root = filepath.Dir(root)
		}
	}
	rel := make([]string, len(abs))
	for i, a := range abs {
		r, err := filepath.Rel(root, a)
		if err != nil {
			return nil, nil, err
		}
		rel[i] = filepath.ToSlash(r)
	}
	return osfs.New(root), rel, nil
}

func serve(ctx context.Context, configFile string, config *annotation.Config) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	hub := notify.NewHub(slog.Default().With("component", "hub"))
	go hub.Run(ctx)

	session, db, err := annotation.PrepareSession(ctx, config, hub, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to prepare session: %w", err)
	}
	defer db.Close()

	app := &annotation.AnnotatorApp{
		Session: session,
		Images:  osfs.New(config.Session.ImagesDir),
		Files:   osfs.New(filepath.Dir(configFile)),
		Events:  hub,
	}

	log.Printf("Configuration: %s", configFile)
	log.Printf("Database: %s", config.Session.Database)
	log.Printf("Images: %s", config.Session.ImagesDir)
	log.Printf("Reviewer: %s", config.Session.Reviewer)
	log.Printf("Starting server on: %s", config.Server.Addr)

	server := &http.Server{
		Addr:    config.Server.Addr,
		Handler: app.GetHTTPHandler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	err = server.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Printf("Server stopped, saving session")
	return session.Save(context.Background())
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "Config file for the annotation session")
	rootCmd.Flags().StringP("addr", "a", ":8080", "Address to bind the webserver, overrides server.addr")
}
