package annotation

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lewtec/rotulador-bbox/internal/codec"
)

type Config struct {
	Meta struct {
		Description string `yaml:"description"`
	} `yaml:"meta"`
	Session   ConfigSession   `yaml:"session"`
	Selection ConfigSelection `yaml:"selection"`
	Export    ConfigExport    `yaml:"export"`
	Server    ConfigServer    `yaml:"server"`
}

type ConfigSession struct {
	Reviewer   string   `yaml:"reviewer"`
	ImagesDir  string   `yaml:"images_dir"`
	Database   string   `yaml:"database"`
	Extensions []string `yaml:"extensions"`
}

type ConfigSelection struct {
	OverlapFraction    float64 `yaml:"overlap_fraction"`
	StretchSensitivity float64 `yaml:"stretch_sensitivity"`
}

type ConfigExport struct {
	Filter     string  `yaml:"filter"`
	ClassLabel string  `yaml:"class_label"`
	Format     string  `yaml:"format"`
	MinScore   float64 `yaml:"min_score"`
}

type ConfigServer struct {
	Addr string `yaml:"addr"`
}

// DefaultExtensions are the image types picked up by ScanFolder
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp"}

func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Session = ConfigSession{
		Reviewer:   "default",
		ImagesDir:  "images",
		Database:   "annotations.db",
		Extensions: append([]string(nil), DefaultExtensions...),
	}
	cfg.Selection = ConfigSelection{OverlapFraction: 0, StretchSensitivity: 1}
	cfg.Export = ConfigExport{
		Filter:     codec.ReviewedOnly.String(),
		ClassLabel: "object",
		Format:     "jsonl",
		MinScore:   codec.DefaultMinScore,
	}
	cfg.Server = ConfigServer{Addr: ":8080"}
	return cfg
}

// LoadConfig reads a YAML config, loads the .env file next to it and applies
// ROTULADOR_* environment overrides. Relative paths are resolved against the
// config file folder.
func LoadConfig(filename string) (*Config, error) {
	ret := DefaultConfig()
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(data, ret)
	if err != nil {
		return nil, fmt.Errorf("while parsing config %s: %w", filename, err)
	}
	baseDir := filepath.Dir(filename)
	err = godotenv.Load(filepath.Join(baseDir, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("while loading .env: %w", err)
	}
	if err := ret.ApplyEnv(); err != nil {
		return nil, err
	}
	ret.fillDefaults()
	ret.Session.ImagesDir = resolvePath(baseDir, ret.Session.ImagesDir)
	ret.Session.Database = resolvePath(baseDir, ret.Session.Database)
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}

func resolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

func getEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return v, ok && v != ""
}

func getEnvAsFloat(key string, target *float64) error {
	v, ok := getEnv(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("environment variable %s: %w", key, err)
	}
	*target = f
	return nil
}

// ApplyEnv overrides config values with ROTULADOR_* environment variables
func (c *Config) ApplyEnv() error {
	if v, ok := getEnv("ROTULADOR_REVIEWER"); ok {
		c.Session.Reviewer = v
	}
	if v, ok := getEnv("ROTULADOR_IMAGES_DIR"); ok {
		c.Session.ImagesDir = v
	}
	if v, ok := getEnv("ROTULADOR_DATABASE"); ok {
		c.Session.Database = v
	}
	if v, ok := getEnv("ROTULADOR_EXPORT_FILTER"); ok {
		c.Export.Filter = v
	}
	if v, ok := getEnv("ROTULADOR_CLASS_LABEL"); ok {
		c.Export.ClassLabel = v
	}
	if v, ok := getEnv("ROTULADOR_ADDR"); ok {
		c.Server.Addr = v
	}
	if err := getEnvAsFloat("ROTULADOR_OVERLAP_FRACTION", &c.Selection.OverlapFraction); err != nil {
		return err
	}
	return getEnvAsFloat("ROTULADOR_MIN_SCORE", &c.Export.MinScore)
}

func (c *Config) fillDefaults() {
	defaults := DefaultConfig()
	if c.Session.Reviewer == "" {
		c.Session.Reviewer = defaults.Session.Reviewer
	}
	if len(c.Session.Extensions) == 0 {
		c.Session.Extensions = defaults.Session.Extensions
	}
	for i, ext := range c.Session.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Session.Extensions[i] = ext
	}
	if c.Selection.StretchSensitivity == 0 {
		c.Selection.StretchSensitivity = defaults.Selection.StretchSensitivity
	}
	if c.Export.ClassLabel == "" {
		c.Export.ClassLabel = defaults.Export.ClassLabel
	}
	if c.Export.Format == "" {
		c.Export.Format = defaults.Export.Format
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
}

func (c *Config) Validate() error {
	if c.Selection.OverlapFraction < 0 || c.Selection.OverlapFraction > 1 {
		return fmt.Errorf("selection.overlap_fraction must be between 0 and 1, got %v", c.Selection.OverlapFraction)
	}
	if c.Selection.StretchSensitivity < 0 {
		return fmt.Errorf("selection.stretch_sensitivity must not be negative, got %v", c.Selection.StretchSensitivity)
	}
	if _, err := codec.ParseFilter(c.Export.Filter); err != nil {
		return fmt.Errorf("export.filter: %w", err)
	}
	switch c.Export.Format {
	case "jsonl", "csv":
	default:
		return fmt.Errorf("export.format must be jsonl or csv, got %q", c.Export.Format)
	}
	if c.Export.MinScore < 0 || c.Export.MinScore > 1 {
		return fmt.Errorf("export.min_score must be between 0 and 1, got %v", c.Export.MinScore)
	}
	for _, ext := range c.Session.Extensions {
		if ext == "" {
			return fmt.Errorf("session.extensions has an empty entry")
		}
	}
	return nil
}

// ExportFilter returns the parsed export filter
func (c *Config) ExportFilter() codec.Filter {
	f, _ := codec.ParseFilter(c.Export.Filter)
	return f
}

// SelectionIndex builds the selection rules from the config
func (c *Config) SelectionIndex() SelectionIndex {
	return SelectionIndex{
		OverlapFraction:    c.Selection.OverlapFraction,
		StretchSensitivity: c.Selection.StretchSensitivity,
	}
}

// SampleConfig is written by the init command
func SampleConfig(imagesDir string) string {
	if imagesDir == "" {
		imagesDir = "images"
	}
	return fmt.Sprintf(`# rotulador-bbox configuration file

meta:
  description: |
    Bounding box review project.
    Edit this description to explain what you're annotating.

session:
  # default reviewer recorded when accepting images
  reviewer: default
  images_dir: %q
  database: annotations.db
  extensions: [jpg, jpeg, png, bmp, tiff, webp]

selection:
  # share of a box a drag rectangle must cover to select it, 0 = any overlap
  overlap_fraction: 0
  stretch_sensitivity: 1

export:
  # reviewed = accepted images only, all = every image with boxes
  filter: reviewed
  class_label: object
  format: jsonl
  min_score: 0.5

server:
  addr: ":8080"
`, imagesDir)
}
