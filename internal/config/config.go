package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	GitHub    GitHubConfig    `toml:"github"`
	LLM       LLMConfig       `toml:"llm"`
	Notify    NotifyConfig    `toml:"notify"`
	License   LicenseConfig   `toml:"license"`
	Store     StoreConfig     `toml:"store"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Log       LogConfig       `toml:"log"`
}

type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Secret       string `toml:"secret"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

type GitHubConfig struct {
	Token    string `toml:"token"`
	Username string `toml:"username"`
	// APIURL overrides https://api.github.com/ (GitHub Enterprise, tests).
	APIURL    string `toml:"api_url"`
	PagesPath string `toml:"pages_path"`
	// PagesUpdateMethod is the verb used to correct an existing Pages site.
	PagesUpdateMethod string `toml:"pages_update_method"`
}

type LLMConfig struct {
	Provider       string  `toml:"provider"`
	Model          string  `toml:"model"`
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	Temperature    float32 `toml:"temperature"`
	MinOutputBytes int     `toml:"min_output_bytes"`
}

type NotifyConfig struct {
	MaxAttempts int `toml:"max_attempts"`
	DelayMS     int `toml:"delay_ms"`
	// Backoff is "constant" or "exponential".
	Backoff   string `toml:"backoff"`
	TimeoutMS int    `toml:"timeout_ms"`
}

type LicenseConfig struct {
	Holder string `toml:"holder"`
	Year   int    `toml:"year"`
}

type StoreConfig struct {
	DSN string `toml:"dsn"`
}

type TelemetryConfig struct {
	Enabled      bool   `toml:"enabled"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	ServiceName  string `toml:"service_name"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Defaults for the openai provider, which points at Gemini's
// OpenAI-compatible endpoint unless told otherwise.
const (
	DefaultOpenAIModel   = "gemini-2.5-flash"
	DefaultOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
)

// MemoryDSN keeps the run ledger in process memory only.
const MemoryDSN = "file:pagesmith?mode=memory&cache=shared"

func Default() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8000, MaxBodyBytes: 10 << 20},
		GitHub: GitHubConfig{PagesPath: "/", PagesUpdateMethod: "PATCH"},
		LLM: LLMConfig{
			Provider:       "openai",
			Temperature:    0.7,
			MinOutputBytes: 32,
		},
		Notify:    NotifyConfig{MaxAttempts: 5, DelayMS: 1000, Backoff: "exponential", TimeoutMS: 10000},
		License:   LicenseConfig{Year: time.Now().Year()},
		Store:     StoreConfig{DSN: MemoryDSN},
		Telemetry: TelemetryConfig{ServiceName: "pagesmith"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

var (
	ErrInvalid = errors.New("invalid config")
)

type LoadResult struct {
	Config     Config
	Found      bool
	Path       string
	ParseError error
}

// Load reads <root>/.pagesmith/config.toml over the defaults. A missing file
// leaves the defaults in place.
func Load(root string) LoadResult {
	res := LoadResult{Config: Default()}
	path := filepath.Join(root, ".pagesmith", "config.toml")
	res.Path = path

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return res
		}
		res.ParseError = err
		return res
	}

	res.Found = true
	var parsed Config
	if err := toml.Unmarshal(b, &parsed); err != nil {
		res.ParseError = fmt.Errorf("%w: %v", ErrInvalid, err)
		return res
	}

	res.Config = merge(Default(), parsed)
	return res
}

func merge(def Config, cfg Config) Config {
	// Server
	if cfg.Server.Host != "" {
		def.Server.Host = cfg.Server.Host
	}
	if cfg.Server.Port != 0 {
		def.Server.Port = cfg.Server.Port
	}
	if cfg.Server.Secret != "" {
		def.Server.Secret = cfg.Server.Secret
	}
	if cfg.Server.MaxBodyBytes != 0 {
		def.Server.MaxBodyBytes = cfg.Server.MaxBodyBytes
	}
	// GitHub
	if cfg.GitHub.Token != "" {
		def.GitHub.Token = cfg.GitHub.Token
	}
	if cfg.GitHub.Username != "" {
		def.GitHub.Username = cfg.GitHub.Username
	}
	if cfg.GitHub.APIURL != "" {
		def.GitHub.APIURL = cfg.GitHub.APIURL
	}
	if cfg.GitHub.PagesPath != "" {
		def.GitHub.PagesPath = cfg.GitHub.PagesPath
	}
	if cfg.GitHub.PagesUpdateMethod != "" {
		def.GitHub.PagesUpdateMethod = strings.ToUpper(cfg.GitHub.PagesUpdateMethod)
	}
	// LLM
	if cfg.LLM.Provider != "" {
		def.LLM.Provider = cfg.LLM.Provider
	}
	if cfg.LLM.Model != "" {
		def.LLM.Model = cfg.LLM.Model
	}
	if cfg.LLM.BaseURL != "" {
		def.LLM.BaseURL = cfg.LLM.BaseURL
	}
	if cfg.LLM.APIKey != "" {
		def.LLM.APIKey = cfg.LLM.APIKey
	}
	if cfg.LLM.Temperature != 0 {
		def.LLM.Temperature = cfg.LLM.Temperature
	}
	if cfg.LLM.MinOutputBytes != 0 {
		def.LLM.MinOutputBytes = cfg.LLM.MinOutputBytes
	}
	// Notify
	if cfg.Notify.MaxAttempts != 0 {
		def.Notify.MaxAttempts = cfg.Notify.MaxAttempts
	}
	if cfg.Notify.DelayMS != 0 {
		def.Notify.DelayMS = cfg.Notify.DelayMS
	}
	if cfg.Notify.Backoff != "" {
		def.Notify.Backoff = cfg.Notify.Backoff
	}
	if cfg.Notify.TimeoutMS != 0 {
		def.Notify.TimeoutMS = cfg.Notify.TimeoutMS
	}
	// License
	if cfg.License.Holder != "" {
		def.License.Holder = cfg.License.Holder
	}
	if cfg.License.Year != 0 {
		def.License.Year = cfg.License.Year
	}
	// Store
	if cfg.Store.DSN != "" {
		def.Store.DSN = cfg.Store.DSN
	}
	// Telemetry
	def.Telemetry.Enabled = cfg.Telemetry.Enabled
	if cfg.Telemetry.OTLPEndpoint != "" {
		def.Telemetry.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	if cfg.Telemetry.ServiceName != "" {
		def.Telemetry.ServiceName = cfg.Telemetry.ServiceName
	}
	// Log
	if cfg.Log.Level != "" {
		def.Log.Level = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		def.Log.Format = cfg.Log.Format
	}
	return def
}

// ApplyEnv overlays environment variables on cfg and then fills the LLM
// model and base URL defaults for the final provider. lookup is usually
// os.LookupEnv. Malformed numeric values are reported and leave the field
// untouched.
func ApplyEnv(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	var errs []error
	num := func(dst *int, key string) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v))
			return
		}
		*dst = n
	}

	str(&cfg.Server.Host, "PAGESMITH_HOST")
	num(&cfg.Server.Port, "PORT")
	str(&cfg.Server.Secret, "PAGESMITH_SECRET", "SECRET")
	str(&cfg.GitHub.Token, "GITHUB_TOKEN")
	str(&cfg.GitHub.Username, "GITHUB_USERNAME")
	str(&cfg.GitHub.APIURL, "GITHUB_API_URL")
	str(&cfg.LLM.Provider, "LLM_PROVIDER")
	str(&cfg.LLM.Model, "LLM_MODEL")
	str(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	str(&cfg.LLM.APIKey, "LLM_API_KEY", "OPENAI_API_KEY")
	num(&cfg.Notify.MaxAttempts, "NOTIFY_MAX_ATTEMPTS")
	num(&cfg.Notify.DelayMS, "NOTIFY_DELAY_MS")
	str(&cfg.License.Holder, "LICENSE_HOLDER")
	num(&cfg.License.Year, "LICENSE_YEAR")
	str(&cfg.Store.DSN, "PAGESMITH_STORE_DSN")
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && v != "" {
		cfg.Telemetry.OTLPEndpoint = v
		cfg.Telemetry.Enabled = true
	}
	str(&cfg.Log.Level, "PAGESMITH_LOG_LEVEL")
	str(&cfg.Log.Format, "PAGESMITH_LOG_FORMAT")

	cfg.LLM = withProviderDefaults(cfg.LLM)
	return cfg, errors.Join(errs...)
}

// withProviderDefaults only touches the openai provider. ollama and
// anthropic keep what the operator set; the ollama client falls back to its
// local URL on its own.
func withProviderDefaults(c LLMConfig) LLMConfig {
	if c.Provider != "openai" {
		return c
	}
	if c.Model == "" {
		c.Model = DefaultOpenAIModel
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultOpenAIBaseURL
	}
	return c
}

// LicenseHolder is the copyright holder written into seeded LICENSE files.
func (c Config) LicenseHolder() string {
	if c.License.Holder != "" {
		return c.License.Holder
	}
	if c.GitHub.Username != "" {
		return c.GitHub.Username
	}
	return "Student"
}

func (c Config) NotifyDelay() time.Duration {
	return time.Duration(c.Notify.DelayMS) * time.Millisecond
}

func (c Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notify.TimeoutMS) * time.Millisecond
}

// Validate reports settings the daemon cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.GitHub.Token == "" {
		errs = append(errs, errors.New("github token is required (GITHUB_TOKEN)"))
	}
	if c.LLM.APIKey == "" && c.LLM.Provider != "ollama" {
		errs = append(errs, fmt.Errorf("llm api key is required for provider %q (LLM_API_KEY)", c.LLM.Provider))
	}
	if c.LLM.Model == "" && (c.LLM.Provider == "ollama" || c.LLM.Provider == "anthropic") {
		errs = append(errs, fmt.Errorf("llm model is required for provider %q (LLM_MODEL)", c.LLM.Provider))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Server.Port))
	}
	if c.Notify.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("notify.max_attempts must be >= 1, got %d", c.Notify.MaxAttempts))
	}
	if c.Notify.Backoff != "constant" && c.Notify.Backoff != "exponential" {
		errs = append(errs, fmt.Errorf("notify.backoff must be constant or exponential, got %q", c.Notify.Backoff))
	}
	if m := c.GitHub.PagesUpdateMethod; m != "PATCH" && m != "PUT" {
		errs = append(errs, fmt.Errorf("github.pages_update_method must be PATCH or PUT, got %q", m))
	}
	if c.Notify.DelayMS < 0 {
		errs = append(errs, fmt.Errorf("notify.delay_ms must be >= 0, got %d", c.Notify.DelayMS))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}
