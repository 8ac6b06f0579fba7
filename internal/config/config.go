// Package config loads and validates analyzer configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Required settings. Missing either aborts the run before any row is touched.
var (
	ErrMissingSpreadsheetID = errors.New("sheets.spreadsheet_id is required")
	ErrMissingAPIKey        = errors.New("openai.api_key is required")
)

// Fetch modes.
const (
	FetchModeBrowser = "browser"
	FetchModeHTTP    = "http"
)

// Config captures all analyzer configuration knobs loaded via Viper.
type Config struct {
	Sheets   SheetsConfig   `mapstructure:"sheets"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Report   ReportConfig   `mapstructure:"report"`
	Currency CurrencyConfig `mapstructure:"currency"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`

	// Debug skips the secondary-language report and enables debug logs.
	Debug bool `mapstructure:"debug"`
}

// SheetsConfig locates the lead spreadsheet.
type SheetsConfig struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	SheetName       string `mapstructure:"sheet_name"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	CredentialsFile string `mapstructure:"credentials_file"`
	Endpoint        string `mapstructure:"endpoint"`
	MinReportLength int    `mapstructure:"min_report_length"`

	// RequestsPerMinute caps Sheets API calls; the API quota is 60 per user.
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
}

// OpenAIConfig controls the chat completion calls.
type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float32 `mapstructure:"temperature"`
}

// FetchConfig governs project page retrieval.
type FetchConfig struct {
	Mode              string        `mapstructure:"mode"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	RateLimitCooldown time.Duration `mapstructure:"rate_limit_cooldown"`
	MinBodyBytes      int           `mapstructure:"min_body_bytes"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Warmup            bool          `mapstructure:"warmup"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	Headless          bool          `mapstructure:"headless"`
}

// PipelineConfig paces the row loop.
type PipelineConfig struct {
	RowDelay        time.Duration `mapstructure:"row_delay"`
	GenerationDelay time.Duration `mapstructure:"generation_delay"`
}

// ReportConfig selects the prompt variant.
type ReportConfig struct {
	Enhanced        bool   `mapstructure:"enhanced"`
	BusinessContext string `mapstructure:"business_context"`
	Signature       string `mapstructure:"signature"`
}

// CurrencyConfig holds the fixed conversion rate.
type CurrencyConfig struct {
	JPYPerUSD float64 `mapstructure:"jpy_per_usd"`
}

// ArchiveConfig selects where record snapshots go.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// MetricsConfig points at an optional Pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// legacyEnv maps keys to the bare environment names older deployments use.
var legacyEnv = map[string]string{
	"sheets.spreadsheet_id":   "SPREADSHEET_ID",
	"sheets.sheet_name":       "SHEET_NAME",
	"sheets.credentials_json": "GOOGLE_CREDENTIALS_JSON",
	"openai.api_key":          "OPENAI_API_KEY",
	"openai.model":            "OPENAI_MODEL",
	"debug":                   "DEBUG_MODE",
}

// LoadDotEnv loads KEY=value files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds a Config from disk/environment. An empty path searches the
// working directory and $HOME/.kickstarter-analyzer for config.{yaml,json,toml}.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ANALYZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.kickstarter-analyzer")
	}
	if err := v.ReadInConfig(); err != nil {
		// Without an explicit path, defaults and environment are enough.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		prefixed := "ANALYZER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sheets.spreadsheet_id", "")
	v.SetDefault("sheets.sheet_name", "kickstarter")
	v.SetDefault("sheets.credentials_json", "")
	v.SetDefault("sheets.credentials_file", "")
	v.SetDefault("sheets.endpoint", "")
	v.SetDefault("sheets.min_report_length", 100)
	v.SetDefault("sheets.requests_per_minute", 60.0)
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.max_tokens", 4000)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("fetch.mode", FetchModeBrowser)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.base_delay", 2*time.Second)
	v.SetDefault("fetch.rate_limit_cooldown", 30*time.Second)
	v.SetDefault("fetch.min_body_bytes", 1000)
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.warmup", true)
	v.SetDefault("fetch.settle_delay", 4*time.Second)
	v.SetDefault("fetch.headless", true)
	v.SetDefault("pipeline.row_delay", 3*time.Second)
	v.SetDefault("pipeline.generation_delay", 2*time.Second)
	v.SetDefault("report.enhanced", false)
	v.SetDefault("report.business_context", "")
	v.SetDefault("report.signature", "")
	v.SetDefault("currency.jpy_per_usd", 150.0)
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "records")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "kickstarter_analyzer")
	v.SetDefault("logging.development", true)
	v.SetDefault("debug", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Sheets.SpreadsheetID) == "" {
		return ErrMissingSpreadsheetID
	}
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		return ErrMissingAPIKey
	}
	switch c.Fetch.Mode {
	case FetchModeBrowser, FetchModeHTTP:
	default:
		return fmt.Errorf("fetch.mode must be %q or %q, got %q", FetchModeBrowser, FetchModeHTTP, c.Fetch.Mode)
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Currency.JPYPerUSD <= 0 {
		return fmt.Errorf("currency.jpy_per_usd must be > 0")
	}
	if c.Sheets.MinReportLength <= 0 {
		return fmt.Errorf("sheets.min_report_length must be > 0")
	}
	if c.Pipeline.RowDelay < 0 || c.Pipeline.GenerationDelay < 0 {
		return fmt.Errorf("pipeline delays must be >= 0")
	}
	switch c.Archive.Provider {
	case "", "none", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set when archive.provider is local")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("archive.provider %q is not supported", c.Archive.Provider)
	}
	return nil
}
