package verify

import (
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	// defaultWorkers is used when neither the configuration file nor the
	// command line sets a worker count.
	defaultWorkers = 2

	// defaultTimeout bounds a single metadata fetch, in seconds.
	defaultTimeout = 60.0
)

type tomlURL struct {
	*url.URL
}

func (u *tomlURL) UnmarshalText(text []byte) error {
	parsedURL, err := url.Parse(string(text))
	if err != nil {
		return err
	}
	switch parsedURL.Scheme {
	case "http":
	case "https":
	default:
		return errors.New("unsupported scheme: " + parsedURL.Scheme)
	}

	// for URL.ResolveReference
	if !strings.HasSuffix(parsedURL.Path, "/") {
		parsedURL.Path += "/"
		parsedURL.RawPath += "/"
	}

	u.URL = parsedURL
	return nil
}

// LogConfig represents slog configuration options.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Apply configures the global slog logger based on the configuration.
func (logConfig *LogConfig) Apply() error {
	var level slog.Level
	switch strings.ToLower(logConfig.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return errors.New("invalid log level: " + logConfig.Level)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(logConfig.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "plain", "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return errors.New("invalid log format: " + logConfig.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// Config is a struct to read TOML configurations.
//
// Use https://github.com/BurntSushi/toml as follows:
//
//	config := verify.NewConfig()
//	md, err := toml.DecodeFile("/path/to/config.toml", config)
//	if err != nil {
//	    ...
//	}
type Config struct {
	// Directory is the absolute path of the mirror root.  The web tree
	// (json/, packages/, pypi/, simple/) lives under <Directory>/web.
	Directory string `toml:"directory"`

	// Master is the authoritative index endpoint, e.g. https://pypi.org.
	Master tomlURL `toml:"master"`

	// Workers is the number of concurrent package verifiers.
	// Zero means the built-in default of 2.
	Workers int `toml:"workers"`

	// Timeout bounds a single metadata fetch, in seconds.
	Timeout float64 `toml:"timeout"`

	// Delete enables removal of files no longer referenced upstream.
	Delete bool `toml:"delete"`

	// DryRun reports intended deletions without performing them.
	DryRun bool `toml:"dry_run"`

	Log LogConfig `toml:"log"`
}

// Check validates the configuration.
func (c *Config) Check() error {
	if c.Directory == "" {
		return errors.New("directory is not set")
	}
	if !path.IsAbs(c.Directory) {
		return errors.New("directory must be an absolute path")
	}
	if c.Master.URL == nil {
		return errors.New("master is not set")
	}
	if c.Workers < 0 {
		return errors.New("workers must not be negative")
	}
	return nil
}

// NewConfig creates Config with default values.
func NewConfig() *Config {
	return &Config{
		Workers: defaultWorkers,
		Timeout: defaultTimeout,
	}
}
