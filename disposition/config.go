package disposition

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/matcontt/tindercam/internal/logging"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, TINDERCAM_CAPACITY_TRASH
// sets capacity.trash.
const EnvPrefix = "TINDERCAM_"

const maxConfigFileSize = 1024 * 1024

type Config struct {
	Storage  StorageConfig  `koanf:"storage" yaml:"storage"`
	Capacity CapacityConfig `koanf:"capacity" yaml:"capacity"`
	Gesture  GestureConfig  `koanf:"gesture" yaml:"gesture"`
	Capture  CaptureConfig  `koanf:"capture" yaml:"capture"`
	Server   ServerConfig   `koanf:"server" yaml:"server"`
	Log      logging.Config `koanf:"log" yaml:"log"`
}

type StorageConfig struct {
	// Database is the SQLite file holding collection membership.
	Database string `koanf:"database" yaml:"database"`
	// PhotosDir is the directory image bytes are written to.
	PhotosDir string `koanf:"photos_dir" yaml:"photos_dir"`
}

type CapacityConfig struct {
	Trash int `koanf:"trash" yaml:"trash"`
}

type GestureConfig struct {
	// SurfaceWidth is the width of the gesture surface in points.
	SurfaceWidth float64 `koanf:"surface_width" yaml:"surface_width"`
	// ThresholdRatio is the fraction of the width a swipe must exceed to commit.
	ThresholdRatio float64 `koanf:"threshold_ratio" yaml:"threshold_ratio"`
}

type CaptureConfig struct {
	RequireGallerySpace bool `koanf:"require_gallery_space" yaml:"require_gallery_space"`
}

type ServerConfig struct {
	Addr     string `koanf:"addr" yaml:"addr"`
	Language string `koanf:"language" yaml:"language"`
}

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Database:  "tindercam.db",
			PhotosDir: "data",
		},
		Capacity: CapacityConfig{Trash: 10},
		Gesture: GestureConfig{
			SurfaceWidth:   390,
			ThresholdRatio: DefaultThresholdRatio,
		},
		Server: ServerConfig{
			Addr:     "127.0.0.1:8080",
			Language: DefaultLanguage,
		},
		Log: logging.Config{Level: "info", Format: "console"},
	}
}

// LoadConfig layers the defaults, the YAML file at filename (skipped when
// empty) and TINDERCAM_ environment variables. Relative storage paths are
// resolved against the directory of the file.
func LoadConfig(filename string) (*Config, error) {
	k := koanf.New(".")

	defaults, err := yamlv3.Marshal(DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := k.Load(rawbytes.Provider(defaults), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("while loading defaults: %w", err)
	}

	baseDir := ""
	if filename != "" {
		content, err := readConfigFile(filename)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("while parsing config '%s': %w", filename, err)
		}
		baseDir = filepath.Dir(filename)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("while loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("while decoding config: %w", err)
	}
	if baseDir != "" {
		cfg.Storage.Database = resolvePath(baseDir, cfg.Storage.Database)
		cfg.Storage.PhotosDir = resolvePath(baseDir, cfg.Storage.PhotosDir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readConfigFile(filename string) ([]byte, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("while opening config: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config '%s' is larger than %d bytes", filename, maxConfigFileSize)
	}
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("while reading config: %w", err)
	}
	return content, nil
}

// envKey maps TINDERCAM_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

func resolvePath(baseDir, p string) string {
	if p == "" || p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Storage.Database == "" {
		result = multierror.Append(result, errors.New("storage.database is required"))
	}
	if c.Storage.PhotosDir == "" {
		result = multierror.Append(result, errors.New("storage.photos_dir is required"))
	}
	if c.Capacity.Trash <= 0 {
		result = multierror.Append(result, fmt.Errorf("capacity.trash must be positive, got %d", c.Capacity.Trash))
	}
	if c.Gesture.SurfaceWidth <= 0 {
		result = multierror.Append(result, fmt.Errorf("gesture.surface_width must be positive, got %v", c.Gesture.SurfaceWidth))
	}
	if c.Gesture.ThresholdRatio <= 0 || c.Gesture.ThresholdRatio > 1 {
		result = multierror.Append(result, fmt.Errorf("gesture.threshold_ratio must be in (0, 1], got %v", c.Gesture.ThresholdRatio))
	}
	if !SupportedLanguage(c.Server.Language) {
		result = multierror.Append(result, fmt.Errorf("server.language %q is not supported", c.Server.Language))
	}
	if err := c.Log.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// WriteSampleConfig writes cfg as YAML to filename, refusing to overwrite.
func WriteSampleConfig(filename string, cfg *Config) error {
	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("while creating config: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
