package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Application Application `yaml:"application"`
	Storage     Storage     `yaml:"storage"`
	Remote      Remote      `yaml:"remote"`
	Server      Server      `yaml:"server"`
	Processing  Processing  `yaml:"processing"`
	State       State       `yaml:"state"`
	Audit       Audit       `yaml:"audit"`
}

type Application struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	// TimeZone is applied to file-name stamps and zone-less event dates.
	// Empty means the process local zone.
	TimeZone string `yaml:"time_zone,omitempty"`
}

type Storage struct {
	VideoDir          string `yaml:"video_dir"`
	MovementDir       string `yaml:"movement_dir"`
	OverwriteExisting bool   `yaml:"overwrite_existing"`
}

type Remote struct {
	// BaseURL wins over Host/Port when set.
	BaseURL       string        `yaml:"base_url,omitempty"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	UserAgent     string        `yaml:"user_agent"`
}

type Server struct {
	Port                int           `yaml:"port"`
	RestrictDeletePaths bool          `yaml:"restrict_delete_paths"`
	CORSOrigins         []string      `yaml:"cors_origins"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
}

type Processing struct {
	FileWorkers    int           `yaml:"file_workers"`
	MoveTimeout    time.Duration `yaml:"move_timeout"`
	PassTimeout    time.Duration `yaml:"pass_timeout"`
	CommitInterval time.Duration `yaml:"commit_interval"`
}

type State struct {
	Dir string `yaml:"dir"`
}

type Audit struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Application: Application{
			Name:     "video-svr",
			LogLevel: "warn",
		},
		Storage: Storage{
			VideoDir:          "/video-files",
			MovementDir:       "/video-movement",
			OverwriteExisting: true,
		},
		Remote: Remote{
			Host:          "192.168.0.21",
			Port:          3002,
			Timeout:       10 * time.Second,
			RatePerMinute: 60,
			UserAgent:     "video-svr/1.0",
		},
		Server: Server{
			Port:                3003,
			RestrictDeletePaths: true,
			CORSOrigins:         []string{"*"},
			ShutdownTimeout:     10 * time.Second,
		},
		Processing: Processing{
			FileWorkers: 4,
			MoveTimeout: 5 * time.Minute,
			PassTimeout: 15 * time.Minute,
		},
		State: State{
			Dir: "/var/lib/video-svr",
		},
		Audit: Audit{
			Enabled: true,
		},
	}
}

// URL returns the data store base URL without a trailing slash.
func (r Remote) URL() string {
	if r.BaseURL != "" {
		return strings.TrimRight(r.BaseURL, "/")
	}
	return "http://" + r.Host + ":" + strconv.Itoa(r.Port)
}

// AuditDir defaults to <state>/audit.
func (c *Config) AuditDir() string {
	if c.Audit.Dir != "" {
		return c.Audit.Dir
	}
	return filepath.Join(c.State.Dir, "audit")
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.State.Dir, "video-svr.db")
}

// Location resolves Application.TimeZone.
func (c *Config) Location() (*time.Location, error) {
	if c.Application.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Application.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("time zone %q: %w", c.Application.TimeZone, err)
	}
	return loc, nil
}

// Validate checks constraints the schema cannot express.
func (c *Config) Validate() error {
	video := filepath.Clean(c.Storage.VideoDir)
	movement := filepath.Clean(c.Storage.MovementDir)
	if !filepath.IsAbs(video) || !filepath.IsAbs(movement) {
		return fmt.Errorf("storage directories must be absolute: %q, %q", c.Storage.VideoDir, c.Storage.MovementDir)
	}
	if video == movement {
		return fmt.Errorf("video_dir and movement_dir must differ (both %q)", video)
	}
	if c.Processing.FileWorkers < 1 {
		return fmt.Errorf("processing.file_workers must be >= 1, got %d", c.Processing.FileWorkers)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive")
	}
	if c.Processing.CommitInterval < 0 {
		return fmt.Errorf("processing.commit_interval must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

