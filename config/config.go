package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Target     TargetConfig     `yaml:"target"`
	Browser    BrowserConfig    `yaml:"browser"`
	Pagination PaginationConfig `yaml:"pagination"`
	Output     OutputConfig     `yaml:"output"`
	Log        LogConfig        `yaml:"log"`
	Webhook    WebhookConfig    `yaml:"webhook"`
}

// TargetConfig describes the page being harvested and how records are found.
type TargetConfig struct {
	// URL is the first page of the paginated listing.
	URL string `yaml:"url"`

	// RecordSelector matches one DOM node per record.
	RecordSelector string `yaml:"record_selector"` // default: ".bl558_pp.size13"

	// RecordPrefix is stripped from the start of every record text.
	RecordPrefix string `yaml:"record_prefix"` // default: "Port: "

	// OpenTimeout bounds loading the first page.
	OpenTimeout time.Duration `yaml:"open_timeout"` // default: 30s
}

// BrowserConfig controls the render session.
type BrowserConfig struct {
	// Mode selects the session: "browser" (headless Chromium) or "http".
	Mode string `yaml:"mode"` // default: "browser"

	// Headless controls whether the browser runs headless.
	Headless bool `yaml:"headless"` // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool `yaml:"no_sandbox"` // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string `yaml:"browser_bin"`

	// Proxy is used by both session modes.
	Proxy string `yaml:"proxy"`

	// Stealth injects anti-automation-detection JS before navigation.
	Stealth bool `yaml:"stealth"` // default: false

	// BlockedResourceTypes lists resource types the browser does not load.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string `yaml:"blocked_resource_types"`

	// Headers are sent with every request.
	Headers map[string]string `yaml:"headers"`
}

// PaginationConfig controls detection of and movement to the next page.
type PaginationConfig struct {
	// NextSelector matches next-page control candidates.
	NextSelector string `yaml:"next_selector"` // default: "a"

	// NextText, when set, keeps only candidates whose trimmed text equals it.
	// An empty NextText switches to the first NextSelector match.
	NextText string `yaml:"next_text"` // default: ">"

	// NextIndex picks among the remaining candidates (0-based).
	NextIndex int `yaml:"next_index"` // default: 1

	// NavigationTimeout bounds the wait for the next page to load.
	NavigationTimeout time.Duration `yaml:"navigation_timeout"` // default: 30s

	// NavRetries is how many times a timed-out advance is retried when the
	// page URL did not change.
	NavRetries int `yaml:"nav_retries"` // default: 1

	// PagesPerSecond paces page advances; 0 disables pacing.
	PagesPerSecond float64 `yaml:"pages_per_second"` // default: 2

	// MaxPages stops the run after this many pages; 0 means no limit.
	MaxPages int `yaml:"max_pages"` // default: 0

	// StallGuard stops when an advance changes neither the URL nor the records.
	StallGuard bool `yaml:"stall_guard"` // default: true
}

// OutputConfig controls the sinks.
type OutputConfig struct {
	// Dir is where output files are written.
	Dir string `yaml:"dir"` // default: "."

	// Sinks lists enabled sinks in write order.
	// Allowed: "xlsx", "csv", "parquet", "sqlite". default: ["xlsx", "csv"]
	Sinks []string `yaml:"sinks"`

	XLSXName    string `yaml:"xlsx_name"`    // default: "scraped_ports.xlsx"
	CSVName     string `yaml:"csv_name"`     // default: "scraped_ports.csv"
	ParquetName string `yaml:"parquet_name"` // default: "scraped_ports.parquet"
	SQLiteName  string `yaml:"sqlite_name"`  // default: "scraped_ports.db"
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "json" or "text"; default: "text"

	// File, when set, receives logs through a rotating writer.
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"` // default: 10
}

// WebhookConfig controls the run-completion notification.
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"` // default: 10s
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Target: TargetConfig{
			URL:            envOr("HARVEST_URL", "https://www.adminsub.net/tcp-udp-port-finder/keylogger/"),
			RecordSelector: envOr("HARVEST_RECORD_SELECTOR", ".bl558_pp.size13"),
			RecordPrefix:   envOr("HARVEST_RECORD_PREFIX", "Port: "),
			OpenTimeout:    envDurationOr("HARVEST_OPEN_TIMEOUT", 30*time.Second),
		},
		Browser: BrowserConfig{
			Mode:       envOr("HARVEST_MODE", ModeBrowser),
			Headless:   envBoolOr("HARVEST_HEADLESS", true),
			NoSandbox:  envBoolOr("HARVEST_NO_SANDBOX", false),
			BrowserBin: os.Getenv("HARVEST_BROWSER_BIN"),
			Proxy:      os.Getenv("HARVEST_PROXY"),
			Stealth:    envBoolOr("HARVEST_STEALTH", false),
			BlockedResourceTypes: envSliceOr("HARVEST_BLOCKED_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
			Headers: envMapOr("HARVEST_HEADERS", nil),
		},
		Pagination: PaginationConfig{
			NextSelector:      envOr("HARVEST_NEXT_SELECTOR", "a"),
			NextText:          envRawOr("HARVEST_NEXT_TEXT", ">"),
			NextIndex:         envIntOr("HARVEST_NEXT_INDEX", 1),
			NavigationTimeout: envDurationOr("HARVEST_NAV_TIMEOUT", 30*time.Second),
			NavRetries:        envIntOr("HARVEST_NAV_RETRIES", 1),
			PagesPerSecond:    envFloatOr("HARVEST_PAGES_PER_SECOND", 2),
			MaxPages:          envIntOr("HARVEST_MAX_PAGES", 0),
			StallGuard:        envBoolOr("HARVEST_STALL_GUARD", true),
		},
		Output: OutputConfig{
			Dir:         envOr("HARVEST_OUTPUT_DIR", "."),
			Sinks:       envSliceOr("HARVEST_SINKS", []string{SinkXLSX, SinkCSV}),
			XLSXName:    envOr("HARVEST_XLSX_NAME", "scraped_ports.xlsx"),
			CSVName:     envOr("HARVEST_CSV_NAME", "scraped_ports.csv"),
			ParquetName: envOr("HARVEST_PARQUET_NAME", "scraped_ports.parquet"),
			SQLiteName:  envOr("HARVEST_SQLITE_NAME", "scraped_ports.db"),
		},
		Log: LogConfig{
			Level:     envOr("HARVEST_LOG_LEVEL", "info"),
			Format:    envOr("HARVEST_LOG_FORMAT", "text"),
			File:      os.Getenv("HARVEST_LOG_FILE"),
			MaxSizeMB: envIntOr("HARVEST_LOG_MAX_SIZE_MB", 10),
		},
		Webhook: WebhookConfig{
			URL:     os.Getenv("HARVEST_WEBHOOK_URL"),
			Secret:  os.Getenv("HARVEST_WEBHOOK_SECRET"),
			Timeout: envDurationOr("HARVEST_WEBHOOK_TIMEOUT", 10*time.Second),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envRawOr is envOr but lets an explicitly empty variable win.
func envRawOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}

// envMapOr parses "Key=Value,Key2=Value2".
func envMapOr(key string, fallback map[string]string) map[string]string {
	pairs := envSliceOr(key, nil)
	if len(pairs) == 0 {
		return fallback
	}
	result := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		result[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return result
}
