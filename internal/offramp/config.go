package offramp

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port        int    `yaml:"port" env:"OFFRAMP_PORT"`
		ControlPort int    `yaml:"controlPort" env:"OFFRAMP_CONTROL_PORT"`
		Origin      string `yaml:"origin" env:"OFFRAMP_ORIGIN"`
	} `yaml:"server"`

	Cache struct {
		Path       string `yaml:"path" env:"OFFRAMP_CACHE_PATH"`
		Generation int    `yaml:"generation" env:"OFFRAMP_GENERATION"`
	} `yaml:"cache"`

	Retry struct {
		// MaxRetries is a pointer so an explicit 0 (retry disabled) can be
		// told apart from an absent key.
		MaxRetries     *int   `yaml:"maxRetries"`
		InitialBackoff string `yaml:"initialBackoff"`
		MaxBackoff     string `yaml:"maxBackoff"`

		// compiled
		maxRetries        int
		initialBackoffDur time.Duration
		maxBackoffDur     time.Duration
	} `yaml:"retry"`

	Assets struct {
		Shell            []string `yaml:"shell"`
		OfflineDocument  string   `yaml:"offlineDocument"`
		PlaceholderImage string   `yaml:"placeholderImage"`
	} `yaml:"assets"`

	Fonts struct {
		CSSProviders []string `yaml:"cssProviders"`
		BinaryCDNs   []string `yaml:"binaryCDNs"`
	} `yaml:"fonts"`

	Health struct {
		Path string `yaml:"path"`
	} `yaml:"health"`

	Logging struct {
		LogStatsEvery string `yaml:"logStatsEvery"`

		// compiled
		logStatsEveryDur time.Duration
	} `yaml:"logging"`

	// compiled
	originURL *url.URL
}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	// Environment overrides win over the file.
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.compile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) compile() error {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ControlPort == 0 {
		cfg.Server.ControlPort = cfg.Server.Port + 1
	}
	if cfg.Server.Origin == "" {
		return fmt.Errorf("server.origin is required")
	}
	cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")
	u, err := url.Parse(cfg.Server.Origin)
	if err != nil || u.Host == "" {
		return fmt.Errorf("server.origin: invalid URL %q", cfg.Server.Origin)
	}
	cfg.originURL = u

	if cfg.Cache.Path == "" {
		cfg.Cache.Path = "./data/offramp"
	}
	if cfg.Cache.Generation <= 0 {
		cfg.Cache.Generation = 1
	}

	cfg.Retry.maxRetries = 3
	if cfg.Retry.MaxRetries != nil {
		if *cfg.Retry.MaxRetries < 0 {
			return fmt.Errorf("retry.maxRetries: must be >= 0")
		}
		cfg.Retry.maxRetries = *cfg.Retry.MaxRetries
	}
	cfg.Retry.initialBackoffDur = 500 * time.Millisecond
	if cfg.Retry.InitialBackoff != "" {
		d, err := time.ParseDuration(cfg.Retry.InitialBackoff)
		if err != nil {
			return fmt.Errorf("retry.initialBackoff: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("retry.initialBackoff: must be > 0")
		}
		cfg.Retry.initialBackoffDur = d
	}
	cfg.Retry.maxBackoffDur = 8 * time.Second
	if cfg.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(cfg.Retry.MaxBackoff)
		if err != nil {
			return fmt.Errorf("retry.maxBackoff: %w", err)
		}
		cfg.Retry.maxBackoffDur = d
	}
	if cfg.Retry.maxBackoffDur < cfg.Retry.initialBackoffDur {
		return fmt.Errorf("retry.maxBackoff: must be >= retry.initialBackoff")
	}

	if cfg.Assets.OfflineDocument == "" {
		cfg.Assets.OfflineDocument = "/offline.html"
	}
	if cfg.Assets.PlaceholderImage == "" {
		cfg.Assets.PlaceholderImage = "/img/placeholder.png"
	}
	for i, p := range cfg.Assets.Shell {
		p = strings.TrimSpace(p)
		if p == "" || !strings.HasPrefix(p, "/") {
			return fmt.Errorf("assets.shell[%d]: must be an absolute path, got %q", i, p)
		}
		cfg.Assets.Shell[i] = p
	}

	if len(cfg.Fonts.CSSProviders) == 0 {
		cfg.Fonts.CSSProviders = []string{"fonts.googleapis.com"}
	}
	if len(cfg.Fonts.BinaryCDNs) == 0 {
		cfg.Fonts.BinaryCDNs = []string{"fonts.gstatic.com"}
	}

	if cfg.Health.Path == "" {
		cfg.Health.Path = "/api/health"
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

// Named caches are versioned; a generation bump makes a fresh set and the
// old one becomes garbage, collected on activation.
func (cfg *Config) staticCache() string { return fmt.Sprintf("static-v%d", cfg.Cache.Generation) }
func (cfg *Config) apiCache() string    { return fmt.Sprintf("api-v%d", cfg.Cache.Generation) }
func (cfg *Config) imageCache() string  { return fmt.Sprintf("image-v%d", cfg.Cache.Generation) }
func (cfg *Config) fontCache() string   { return fmt.Sprintf("font-v%d", cfg.Cache.Generation) }

func (cfg *Config) currentCaches() []string {
	return []string{cfg.staticCache(), cfg.apiCache(), cfg.imageCache(), cfg.fontCache()}
}
