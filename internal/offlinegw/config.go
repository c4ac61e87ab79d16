package offlinegw

import (
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendValkey  = "valkey"
)

type Config struct {
	Server struct {
		Port   int    `yaml:"port"`
		Origin string `yaml:"origin"`
	} `yaml:"server"`

	Release struct {
		Prefix  string `yaml:"prefix"`
		Version string `yaml:"version"`
	} `yaml:"release"`

	// Precache is the static file list fetched at install time.
	Precache []string `yaml:"precache"`

	Dynamic struct {
		MaxEntries int    `yaml:"maxEntries"`
		SweepEvery string `yaml:"sweepEvery"`

		sweepEveryDur time.Duration
	} `yaml:"dynamic"`

	Lifecycle struct {
		SkipWaiting *bool `yaml:"skipWaiting"`
	} `yaml:"lifecycle"`

	Storage struct {
		Backend string `yaml:"backend"`
		LevelDB struct {
			Path string `yaml:"path"`
		} `yaml:"leveldb"`
		Valkey struct {
			Address   string `yaml:"address"`
			Password  string `yaml:"password"`
			DB        int    `yaml:"db"`
			KeyPrefix string `yaml:"keyPrefix"`
		} `yaml:"valkey"`
	} `yaml:"storage"`

	Notifications struct {
		Title        string `yaml:"title"`
		FallbackBody string `yaml:"fallbackBody"`
		RootURL      string `yaml:"rootURL"`
	} `yaml:"notifications"`

	Logging struct {
		Level         string `yaml:"level"`
		LogStatsEvery string `yaml:"logStatsEvery"`

		logStatsEveryDur time.Duration
	} `yaml:"logging"`
}

// DefaultPrecache is the root document, the manifest and the gateway's own
// script identity.
var DefaultPrecache = []string{"/", "/index.html", "/manifest.json", "/sw.js"}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() error {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	cfg.Server.Origin = strings.TrimRight(strings.TrimSpace(cfg.Server.Origin), "/")

	if cfg.Release.Prefix == "" {
		cfg.Release.Prefix = DefaultPrefix
	}
	if cfg.Release.Version == "" {
		cfg.Release.Version = Version
	}
	if cfg.Precache == nil {
		cfg.Precache = append([]string(nil), DefaultPrecache...)
	}

	if cfg.Dynamic.MaxEntries == 0 {
		cfg.Dynamic.MaxEntries = 50
	}
	if cfg.Dynamic.SweepEvery == "" {
		cfg.Dynamic.SweepEvery = "1h"
	}
	d, err := time.ParseDuration(cfg.Dynamic.SweepEvery)
	if err != nil {
		return fmt.Errorf("dynamic.sweepEvery: %w", err)
	}
	cfg.Dynamic.sweepEveryDur = d

	if cfg.Lifecycle.SkipWaiting == nil {
		v := true
		cfg.Lifecycle.SkipWaiting = &v
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendLevelDB
	}
	if cfg.Storage.LevelDB.Path == "" {
		cfg.Storage.LevelDB.Path = "./data/leveldb"
	}
	if cfg.Storage.Valkey.KeyPrefix == "" {
		cfg.Storage.Valkey.KeyPrefix = cfg.Release.Prefix
	}

	if cfg.Notifications.Title == "" {
		cfg.Notifications.Title = "New content available"
	}
	if cfg.Notifications.FallbackBody == "" {
		cfg.Notifications.FallbackBody = "Something new is waiting for you."
	}
	if cfg.Notifications.RootURL == "" {
		cfg.Notifications.RootURL = "/"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.LogStatsEvery != "" {
		d, err := time.ParseDuration(cfg.Logging.LogStatsEvery)
		if err != nil {
			return fmt.Errorf("logging.logStatsEvery: %w", err)
		}
		cfg.Logging.logStatsEveryDur = d
	}
	return nil
}

// Validate checks a normalized config.
func (cfg *Config) Validate() error {
	if err := validation.ValidateStruct(&cfg.Server,
		validation.Field(&cfg.Server.Origin, validation.Required.Error("server.origin is required")),
		validation.Field(&cfg.Server.Port, validation.Min(1), validation.Max(65535)),
	); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := validation.ValidateStruct(&cfg.Release,
		validation.Field(&cfg.Release.Prefix, validation.Required, validation.By(noDash)),
		validation.Field(&cfg.Release.Version, validation.Required),
	); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	if err := validation.Validate(cfg.Precache, validation.Each(validation.By(absolutePath))); err != nil {
		return fmt.Errorf("precache: %w", err)
	}
	if err := validation.ValidateStruct(&cfg.Dynamic,
		validation.Field(&cfg.Dynamic.MaxEntries, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("dynamic: %w", err)
	}
	if cfg.Dynamic.sweepEveryDur < time.Second {
		return fmt.Errorf("dynamic.sweepEvery: must be at least 1s")
	}
	if err := validation.Validate(cfg.Storage.Backend,
		validation.In(BackendMemory, BackendLevelDB, BackendValkey),
	); err != nil {
		return fmt.Errorf("storage.backend: %w", err)
	}
	if cfg.Storage.Backend == BackendValkey {
		if err := validation.Validate(cfg.Storage.Valkey.Address, validation.Required); err != nil {
			return fmt.Errorf("storage.valkey.address: %w", err)
		}
	}
	return nil
}

func (cfg Config) ReleaseInfo() Release {
	return Release{Prefix: cfg.Release.Prefix, Version: cfg.Release.Version}
}

func (cfg Config) SkipWaiting() bool {
	return cfg.Lifecycle.SkipWaiting == nil || *cfg.Lifecycle.SkipWaiting
}

func noDash(v any) error {
	s, _ := v.(string)
	if strings.Contains(s, "-") {
		return fmt.Errorf("must not contain '-'")
	}
	return nil
}

func absolutePath(v any) error {
	s, _ := v.(string)
	if !strings.HasPrefix(s, "/") {
		return fmt.Errorf("%q must start with '/'", s)
	}
	return nil
}
