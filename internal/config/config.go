// Package config loads service settings from defaults, an optional YAML file,
// LANDCOVER_* environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// LANDCOVER_SERVER_ADDR for server.addr.
const EnvPrefix = "LANDCOVER"

// Settings is the root configuration.
type Settings struct {
	Server  ServerSettings  `mapstructure:"server"`
	Model   ModelSettings   `mapstructure:"model"`
	GeoTIFF GeoTIFFSettings `mapstructure:"geotiff"`
	Log     LogSettings     `mapstructure:"log"`
}

// ServerSettings configures the HTTP listener.
type ServerSettings struct {
	Addr            string        `mapstructure:"addr"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            bool          `mapstructure:"cors"`
}

// ModelSettings points at the startup artifacts.
type ModelSettings struct {
	Path              string `mapstructure:"path"`
	MetadataPath      string `mapstructure:"metadata_path"`
	LabelMapPath      string `mapstructure:"label_map_path"`
	SharedLibraryPath string `mapstructure:"shared_library_path"`
	IntraOpThreads    int    `mapstructure:"intra_op_threads"`
}

// GeoTIFFSettings selects which raster bands become R, G and B.
type GeoTIFFSettings struct {
	RGBBands []int `mapstructure:"rgb_bands"`
}

// LogSettings configures the zap logger.
type LogSettings struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// New returns a viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile (or landcover.yaml from the search path when empty)
// into v and returns validated settings. A missing file is only an error when
// it was requested explicitly.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("landcover")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/landcover")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := Validate(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

// Validate checks settings for values the service cannot start with.
func Validate(s *Settings) error {
	var errs []error
	if strings.TrimSpace(s.Model.Path) == "" {
		errs = append(errs, errors.New("model.path must be set"))
	}
	if s.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must be positive, got %d", s.Server.MaxUploadBytes))
	}
	if s.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must not be negative"))
	}
	if s.Model.IntraOpThreads < 0 {
		errs = append(errs, errors.New("model.intra_op_threads must not be negative"))
	}
	if len(s.GeoTIFF.RGBBands) != 3 {
		errs = append(errs, fmt.Errorf("geotiff.rgb_bands needs exactly 3 entries, got %d", len(s.GeoTIFF.RGBBands)))
	}
	for _, b := range s.GeoTIFF.RGBBands {
		if b < 0 {
			errs = append(errs, fmt.Errorf("geotiff.rgb_bands contains negative band %d", b))
		}
	}
	return errors.Join(errs...)
}

// Bands returns the configured RGB band selection as a fixed array.
func (g GeoTIFFSettings) Bands() [3]int {
	var out [3]int
	copy(out[:], g.RGBBands)
	return out
}
