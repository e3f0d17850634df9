package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Environment variables that override file values.
const (
	EnvConfigPath  = "MCPCC_CONFIG"
	EnvDBPath      = "MCPCC_DB_PATH"
	EnvGitHubToken = "GITHUB_TOKEN"
	EnvGitHubUser  = "GITHUB_USER"
	EnvAgentsURL   = "MCP_BASE_URL"
	EnvAgentsToken = "MCP_TOKEN"
)

// knownSources lists the source names the CLI can wire.
var knownSources = []string{"github", "agents", "manifest"}

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
	GitHub   GitHubConfig   `toml:"github"`
	Agents   AgentsConfig   `toml:"agents"`
	Manifest ManifestConfig `toml:"manifest"`
	Sync     SyncConfig     `toml:"sync"`
	Server   ServerConfig   `toml:"server"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type GitHubConfig struct {
	Token               string `toml:"token"`
	User                string `toml:"user"`
	APIBaseURL          string `toml:"api_base_url"`
	IncludeLanguages    bool   `toml:"include_languages"`
	LanguageConcurrency int    `toml:"language_concurrency"`
}

type AgentsConfig struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
}

type ManifestConfig struct {
	Path string `toml:"path"`
}

// SyncConfig holds durations as Go duration strings ("30s", "15m").
type SyncConfig struct {
	FetchTimeout string   `toml:"fetch_timeout"`
	Interval     string   `toml:"interval"`
	LockTTL      string   `toml:"lock_ttl"`
	Sources      []string `toml:"sources"`
}

type ServerConfig struct {
	HTTPBind    string `toml:"http_bind"`
	APIEndpoint string `toml:"api_endpoint"`
	MCPEndpoint string `toml:"mcp_endpoint"`
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".mcpcc/log",
			},
		},
		GitHub: GitHubConfig{
			APIBaseURL:          "https://api.github.com",
			IncludeLanguages:    true,
			LanguageConcurrency: 4,
		},
		Sync: SyncConfig{
			FetchTimeout: "60s",
			Interval:     "0s",
			LockTTL:      "10m",
		},
		Server: ServerConfig{
			HTTPBind:    "127.0.0.1:8080",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadDotEnv loads each existing dotenv file into the process environment.
// Variables already set are never overwritten, so earlier files win.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %q: %w", path, err)
		}
	}
	return nil
}

// ApplyEnv overlays credentials and endpoints from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.GitHub.Token, EnvGitHubToken)
	set(&c.GitHub.User, EnvGitHubUser)
	set(&c.Agents.BaseURL, EnvAgentsURL)
	set(&c.Agents.Token, EnvAgentsToken)
}

func (c Config) Validate() error {
	c.Database.Path = strings.TrimSpace(c.Database.Path)
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	switch strings.TrimSpace(strings.ToLower(c.Logging.Level)) {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	if c.GitHub.LanguageConcurrency < 0 {
		return errors.New("github.language_concurrency must be >= 0")
	}

	for name, raw := range map[string]string{
		"sync.fetch_timeout": c.Sync.FetchTimeout,
		"sync.interval":      c.Sync.Interval,
		"sync.lock_ttl":      c.Sync.LockTTL,
	} {
		if _, err := parseDuration(raw); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	for i, source := range c.Sync.Sources {
		s := strings.TrimSpace(strings.ToLower(source))
		if !slices.Contains(knownSources, s) {
			return fmt.Errorf("sync.sources[%d] references unknown source %q", i, source)
		}
	}

	if strings.TrimSpace(c.Server.APIEndpoint) != "" && strings.TrimSpace(c.Server.APIEndpoint) == strings.TrimSpace(c.Server.MCPEndpoint) {
		return errors.New("server.api_endpoint and server.mcp_endpoint must differ")
	}

	return nil
}

// FetchTimeout returns the per-source fetch deadline; zero disables it.
func (c Config) FetchTimeout() time.Duration {
	d, _ := parseDuration(c.Sync.FetchTimeout)
	return d
}

// SyncInterval returns the serve-mode schedule; zero disables scheduled runs.
func (c Config) SyncInterval() time.Duration {
	d, _ := parseDuration(c.Sync.Interval)
	return d
}

// LockTTL returns the persisted run lock lease.
func (c Config) LockTTL() time.Duration {
	d, _ := parseDuration(c.Sync.LockTTL)
	return d
}

// SyncSources returns the normalized scheduled source list.
func (c Config) SyncSources() []string {
	out := make([]string, 0, len(c.Sync.Sources))
	for _, s := range c.Sync.Sources {
		s = strings.TrimSpace(strings.ToLower(s))
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// Redacted returns a copy with credentials masked for display.
func (c Config) Redacted() Config {
	mask := func(v string) string {
		if strings.TrimSpace(v) == "" {
			return ""
		}
		return "***"
	}
	c.GitHub.Token = mask(c.GitHub.Token)
	c.Agents.Token = mask(c.Agents.Token)
	c.Sync.Sources = slices.Clone(c.Sync.Sources)
	return c
}

// Marshal renders the config as TOML.
func (c Config) Marshal() ([]byte, error) {
	out, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode toml: %w", err)
	}
	return out, nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// parseDuration treats blank values as zero and rejects negatives.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must be >= 0", raw)
	}
	return d, nil
}
