// Configuration: defaults, config file, environment and flags merged by
// viper into a single Config that is built once and passed to constructors.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const envPrefix = "ARTICLE2EPUB"

const (
	defaultTimeout        = 30 * time.Second
	defaultPackageTimeout = 2 * time.Minute
)

// Config holds every setting the pipeline and the URL sources need.
type Config struct {
	OutputDir        string        `mapstructure:"output_dir" validate:"required"`
	WorkDir          string        `mapstructure:"work_dir"`
	Engine           string        `mapstructure:"engine" validate:"oneof=pandoc native markdown"`
	PandocPath       string        `mapstructure:"pandoc_path" validate:"required"`
	Concurrency      int           `mapstructure:"concurrency" validate:"min=1,max=64"`
	Timeout          time.Duration `mapstructure:"timeout"`
	PackageTimeout   time.Duration `mapstructure:"package_timeout"`
	UserAgent        string        `mapstructure:"user_agent" validate:"required"`
	Proxy            string        `mapstructure:"proxy" validate:"omitempty,url"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes" validate:"min=0"`
	AllowPrivate     bool          `mapstructure:"allow_private"`
	Browser          bool          `mapstructure:"browser"`
	LogLevel         string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Silent           bool          `mapstructure:"silent"`
	Report           string        `mapstructure:"report"`

	Images   ImageConfig    `mapstructure:"images"`
	Miniflux MinifluxConfig `mapstructure:"miniflux"`
}

// ImageConfig controls embedding and downscaling of article images.
type ImageConfig struct {
	Embed     bool `mapstructure:"embed"`
	MaxWidth  int  `mapstructure:"max_width" validate:"min=16"`
	Quality   int  `mapstructure:"quality" validate:"min=1,max=95"`
	Grayscale bool `mapstructure:"grayscale"`
}

// MinifluxConfig locates a Miniflux instance. Only required when the
// miniflux source is selected.
type MinifluxConfig struct {
	URL   string `mapstructure:"url" validate:"omitempty,url"`
	Token string `mapstructure:"token"`
}

// setConfigDefaults registers the default for every key so that
// AutomaticEnv can see them and Unmarshal fills the whole struct.
func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("output_dir", "output")
	v.SetDefault("work_dir", "")
	v.SetDefault("engine", "pandoc")
	v.SetDefault("pandoc_path", "pandoc")
	v.SetDefault("concurrency", 4)
	v.SetDefault("timeout", defaultTimeout)
	v.SetDefault("package_timeout", defaultPackageTimeout)
	v.SetDefault("user_agent", defaultUA)
	v.SetDefault("proxy", "")
	v.SetDefault("max_response_bytes", int64(128*1024*1024))
	v.SetDefault("allow_private", false)
	v.SetDefault("browser", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("silent", false)
	v.SetDefault("report", "")
	v.SetDefault("images.embed", true)
	v.SetDefault("images.max_width", 800)
	v.SetDefault("images.quality", 60)
	v.SetDefault("images.grayscale", false)
	v.SetDefault("miniflux.url", "")
	v.SetDefault("miniflux.token", "")
}

// newViper returns a viper instance wired for env lookups. cfgFile may be
// empty, in which case the usual locations are searched.
func newViper(cfgFile string) *viper.Viper {
	v := viper.New()
	setConfigDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("article2epub")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "article2epub"))
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The names the Miniflux integration has always used.
	_ = v.BindEnv("miniflux.url", envPrefix+"_MINIFLUX_URL", "MINIFLUX_DOMAIN")
	_ = v.BindEnv("miniflux.token", envPrefix+"_MINIFLUX_TOKEN", "API_TOKEN")
	return v
}

// loadConfig reads the optional config file and decodes v into a validated
// Config. A missing config file is not an error; a malformed one is.
func loadConfig(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field ranges and enumerations.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// resolveOutputDir places a relative output directory next to the
// installed binary rather than in the caller's working directory.
func resolveOutputDir(dir string) (string, error) {
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), dir), nil
}

// stagingDir is where intermediates live: work_dir when set, otherwise a
// hidden directory inside the output directory.
func stagingDir(cfg Config, outputDir string) string {
	if cfg.WorkDir != "" {
		return cfg.WorkDir
	}
	return filepath.Join(outputDir, ".staging")
}
