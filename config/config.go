package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Provider kinds selectable with FACESWAP_PROVIDER.
const (
	ProviderPolled      = "polled"
	ProviderSynchronous = "synchronous"
	ProviderObserved    = "observed"
)

// DefaultModelVersion is the face swap model version sent to polled providers.
const DefaultModelVersion = "a3c8d261fd14126eececf9812b52b40811e9ed557ccc5706452888cdeeebc0b6"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
	Provider  ProviderConfig
	Watch     WatchConfig
	Observed  ObservedConfig
	Browser   BrowserConfig
	Store     StoreConfig
	Transport TransportConfig
	Webhook   WebhookConfig
	Retry     RetryConfig
	Jobs      JobsConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 3000
	Mode string // "debug", "release", "test"; default: "release"
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 // default: 1
	Burst             int     // default: 3
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// ProviderConfig selects and authenticates the transformation provider.
type ProviderConfig struct {
	// Kind is one of "polled", "synchronous", "observed".
	Kind string // default: "polled"

	// BaseURL is the API root for polled and synchronous providers.
	BaseURL string // default: "https://api.vmodel.ai/api/tasks/v1"

	// Token is the bearer credential for API calls and result downloads.
	Token string

	// Version is the model version sent on task creation (polled only).
	Version string

	// DisableSafetyChecker is forwarded to polled providers.
	DisableSafetyChecker bool // default: false

	// ReferenceFace is the face applied when a request does not carry one.
	ReferenceFace string
}

// WatchConfig bounds how long a job may take to reach a terminal state.
type WatchConfig struct {
	// Timeout is the deadline for a job to reach a terminal state.
	Timeout time.Duration // default: 180s

	// PollInterval is the delay between status calls for polled jobs.
	PollInterval time.Duration // default: 3s

	// FallbackTimeout is the secondary deadline for the fallback chain.
	FallbackTimeout time.Duration // default: 30s
}

// ObservedConfig describes the web page driven by the observed provider.
// These values are tied to a third-party page layout and break when it changes.
type ObservedConfig struct {
	PageURL           string
	SourceSelector    string // file input for the user's image
	ReferenceSelector string // file input for the reference face
	TriggerSelector   string // button that starts the swap
	SettleDelay       time.Duration // default: 2s

	// ResultPattern matches result asset URLs (regular expression).
	ResultPattern string
	// DecoyPatterns match URLs that look like results but are not.
	DecoyPatterns []string // default: upload echoes and logos
	// ResponsePattern matches API responses worth inspecting.
	ResponsePattern string
	// SuccessPath and ResultPath are gjson paths into those responses.
	SuccessPath string // default: "success"
	ResultPath  string // default: "data.result_url"
	// ResultSelector is an optional CSS selector for the rendered result.
	ResultSelector string
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// MaxPages is the page pool capacity (max concurrent observed jobs).
	MaxPages int // default: 4

	// DefaultProxy is the proxy URL for browser traffic.
	DefaultProxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Stealth masks automation fingerprints on provider pages.
	Stealth bool // default: true

	// BlockAds drops requests to known ad and tracking domains.
	BlockAds bool // default: true

	// BlockedResourceTypes lists resource types to block.
	// default: ["Font", "Media"]
	BlockedResourceTypes []string
}

// StoreConfig controls the local staging area.
type StoreConfig struct {
	// Dir is the staging directory shared by all in-flight jobs.
	Dir string // default: "temp"

	// MaxBytes caps a single download.
	MaxBytes int64 // default: 20 MiB

	// DownloadTimeout bounds a single result download.
	DownloadTimeout time.Duration // default: 30s

	// ReleaseDelay is how long a delivered artifact is kept before removal.
	ReleaseDelay time.Duration // default: 5s
}

// TransportConfig controls outbound HTTP to providers.
type TransportConfig struct {
	// ChromeTLS dials providers with a Chrome TLS fingerprint.
	ChromeTLS bool // default: false

	// Proxy is an optional http(s) proxy for API calls and downloads.
	Proxy string
}

// WebhookConfig controls completion callbacks for async jobs.
type WebhookConfig struct {
	Secret string
}

// RetryConfig controls whole-job resubmission by the orchestrator.
type RetryConfig struct {
	// Attempts is the number of fresh resubmissions after a transport or
	// timeout failure. 0 disables resubmission.
	Attempts int // default: 0

	// Backoff is the base delay before the first resubmission.
	Backoff time.Duration // default: 2s
}

// JobsConfig controls the async job registry.
type JobsConfig struct {
	MaxEntries int           // default: 500
	TTL        time.Duration // default: 1h
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory is loaded first when present;
// variables already set in the environment win.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("config: failed to read .env", "error", err)
	}

	return &Config{
		Server: ServerConfig{
			Host: envOr("FACESWAP_HOST", "0.0.0.0"),
			Port: envIntOr("PORT", envIntOr("FACESWAP_PORT", 3000)),
			Mode: envOr("FACESWAP_MODE", "release"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("FACESWAP_AUTH_ENABLED", true),
			APIKeys: envSliceOr("FACESWAP_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("FACESWAP_RATE_RPS", 1.0),
			Burst:             envIntOr("FACESWAP_RATE_BURST", 3),
		},
		Log: LogConfig{
			Level:  envOr("FACESWAP_LOG_LEVEL", "info"),
			Format: envOr("FACESWAP_LOG_FORMAT", "json"),
		},
		Provider: ProviderConfig{
			Kind:                 envOr("FACESWAP_PROVIDER", ProviderPolled),
			BaseURL:              envOr("FACESWAP_PROVIDER_URL", "https://api.vmodel.ai/api/tasks/v1"),
			Token:                envOr("FACESWAP_PROVIDER_TOKEN", os.Getenv("VMODEL_API_TOKEN")),
			Version:              envOr("FACESWAP_PROVIDER_VERSION", envOr("VMODEL_FACE_SWAP_VERSION", DefaultModelVersion)),
			DisableSafetyChecker: envBoolOr("FACESWAP_DISABLE_SAFETY_CHECKER", false),
			ReferenceFace:        envOr("FACESWAP_REFERENCE_FACE", os.Getenv("KIRK_FACE_URL")),
		},
		Watch: WatchConfig{
			Timeout:         envDurationOr("FACESWAP_TIMEOUT", 180*time.Second),
			PollInterval:    envDurationOr("FACESWAP_POLL_INTERVAL", 3*time.Second),
			FallbackTimeout: envDurationOr("FACESWAP_FALLBACK_TIMEOUT", 30*time.Second),
		},
		Observed: ObservedConfig{
			PageURL:           os.Getenv("FACESWAP_PAGE_URL"),
			SourceSelector:    envOr("FACESWAP_SOURCE_SELECTOR", `input[type="file"]:nth-of-type(1)`),
			ReferenceSelector: envOr("FACESWAP_REFERENCE_SELECTOR", `input[type="file"]:nth-of-type(2)`),
			TriggerSelector:   os.Getenv("FACESWAP_TRIGGER_SELECTOR"),
			SettleDelay:       envDurationOr("FACESWAP_SETTLE_DELAY", 2*time.Second),
			ResultPattern:     os.Getenv("FACESWAP_RESULT_PATTERN"),
			DecoyPatterns: envSliceOr("FACESWAP_DECOY_PATTERNS", []string{
				`/upload`, `/uploads/`, `logo`, `favicon`, `\.svg(\?|$)`,
			}),
			ResponsePattern: os.Getenv("FACESWAP_RESPONSE_PATTERN"),
			SuccessPath:     envOr("FACESWAP_SUCCESS_PATH", "success"),
			ResultPath:      envOr("FACESWAP_RESULT_PATH", "data.result_url"),
			ResultSelector:  os.Getenv("FACESWAP_RESULT_SELECTOR"),
		},
		Browser: BrowserConfig{
			Headless:     envBoolOr("FACESWAP_HEADLESS", true),
			MaxPages:     envIntOr("FACESWAP_MAX_PAGES", 4),
			DefaultProxy: os.Getenv("FACESWAP_BROWSER_PROXY"),
			NoSandbox:    envBoolOr("FACESWAP_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("FACESWAP_BROWSER_BIN"),
			Stealth:      envBoolOr("FACESWAP_STEALTH", true),
			BlockAds:     envBoolOr("FACESWAP_BLOCK_ADS", true),
			BlockedResourceTypes: envSliceOr("FACESWAP_BLOCKED_RESOURCES", []string{
				"Font", "Media",
			}),
		},
		Store: StoreConfig{
			Dir:             envOr("FACESWAP_STAGING_DIR", "temp"),
			MaxBytes:        int64(envIntOr("FACESWAP_MAX_DOWNLOAD_BYTES", 20<<20)),
			DownloadTimeout: envDurationOr("FACESWAP_DOWNLOAD_TIMEOUT", 30*time.Second),
			ReleaseDelay:    envDurationOr("FACESWAP_RELEASE_DELAY", 5*time.Second),
		},
		Transport: TransportConfig{
			ChromeTLS: envBoolOr("FACESWAP_CHROME_TLS", false),
			Proxy:     os.Getenv("FACESWAP_PROXY"),
		},
		Webhook: WebhookConfig{
			Secret: os.Getenv("FACESWAP_WEBHOOK_SECRET"),
		},
		Retry: RetryConfig{
			Attempts: envIntOr("FACESWAP_RETRY_ATTEMPTS", 0),
			Backoff:  envDurationOr("FACESWAP_RETRY_BACKOFF", 2*time.Second),
		},
		Jobs: JobsConfig{
			MaxEntries: envIntOr("FACESWAP_JOBS_MAX", 500),
			TTL:        envDurationOr("FACESWAP_JOBS_TTL", time.Hour),
		},
	}
}

// RunBudget is the overall deadline of one swap: the watch deadline plus
// the fallback window plus one download.
func (c *Config) RunBudget() time.Duration {
	budget := c.Watch.Timeout + c.Store.DownloadTimeout
	if c.Provider.Kind == ProviderObserved {
		budget += c.Watch.FallbackTimeout
	}
	return budget
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
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
