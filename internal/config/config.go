// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Process-wide constants. These mirror the limits of the vendor API and are
// not tunable at runtime.
const (
	// DefaultPageSize is the page size of routine alert polls.
	DefaultPageSize = 10

	// MaxPageSize is the page size of indicator searches; a result set of
	// exactly this size is reported as "N+" (more may exist).
	MaxPageSize = 20

	// MaxPages bounds the pages fetched within one poll cycle.
	MaxPages = 50

	// MaxQueueSize bounds the outbound request queue; enqueueing beyond it
	// fails immediately.
	MaxQueueSize = 12

	// QueueRequestTimeout is the longest a request may sit in the outbound
	// queue before it is abandoned.
	QueueRequestTimeout = 120 * time.Second

	// MaxRetries is the number of 429 retries per request.
	MaxRetries = 3

	// MinPollInterval is the smallest accepted alert polling period.
	MinPollInterval = 30 * time.Second

	DefaultListsPollInterval = 5 * time.Minute
	DefaultCacheMaxItems     = 100
	DefaultCacheMaxAge       = 72 * time.Hour
)

// DefaultAlertTypesToWatch is the admission filter applied when the operator
// configures no explicit alert types.
var DefaultAlertTypesToWatch = []string{"flash", "urgent"}

// Config holds the application configuration.
type Config struct {
	URL          string
	ClientID     string
	ClientSecret string

	PollInterval      time.Duration
	ListsPollInterval time.Duration

	ListsToWatch      []string // normalized watchlist ids
	AlertTypesToWatch []string // lowercased type names; empty admits all

	Timezone  string
	TrialMode bool

	CacheMaxItems int
	CacheMaxAge   time.Duration

	HTTPAddr string
	LogLevel string

	// Bulk (HMAC/ZIP) ingestion variant; active when both are set.
	DownloadURL    string
	IntegrationKey string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		URL:               strings.TrimSpace(os.Getenv("DATAMINR_URL")),
		ClientID:          strings.TrimSpace(os.Getenv("DATAMINR_CLIENT_ID")),
		ClientSecret:      strings.TrimSpace(os.Getenv("DATAMINR_CLIENT_SECRET")),
		PollInterval:      MinPollInterval,
		ListsPollInterval: DefaultListsPollInterval,
		Timezone:          os.Getenv("TIMEZONE"),
		TrialMode:         envBool("TRIAL_MODE"),
		CacheMaxItems:     DefaultCacheMaxItems,
		CacheMaxAge:       DefaultCacheMaxAge,
		HTTPAddr:          envOrDefault("HTTP_ADDR", ":8089"),
		LogLevel:          envOrDefault("LOG_LEVEL", "info"),
		DownloadURL:       strings.TrimSpace(os.Getenv("DATAMINR_DOWNLOAD_URL")),
		IntegrationKey:    os.Getenv("DATAMINR_INTEGRATION_KEY"),
	}

	if err := validateBaseURL(cfg.URL); err != nil {
		return nil, err
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("DATAMINR_CLIENT_ID and DATAMINR_CLIENT_SECRET are required")
	}

	if raw := os.Getenv("POLL_INTERVAL_SECONDS"); raw != "" {
		secs, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid POLL_INTERVAL_SECONDS %q: %w", raw, err)
		}
		interval := time.Duration(secs) * time.Second
		if interval < MinPollInterval {
			return nil, fmt.Errorf("POLL_INTERVAL_SECONDS must be at least %d", int(MinPollInterval.Seconds()))
		}
		cfg.PollInterval = interval
	}

	cfg.ListsToWatch = NormalizeValues(splitList(os.Getenv("LISTS_TO_WATCH")))

	types := splitList(os.Getenv("ALERT_TYPES_TO_WATCH"))
	if len(types) == 0 {
		cfg.AlertTypesToWatch = append([]string(nil), DefaultAlertTypesToWatch...)
	} else {
		cfg.AlertTypesToWatch = NormalizeTypes(types)
	}

	if raw := os.Getenv("CACHE_MAX_ITEMS"); raw != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid CACHE_MAX_ITEMS %q", raw)
		}
		cfg.CacheMaxItems = n
	}
	if raw := os.Getenv("CACHE_MAX_AGE_HOURS"); raw != "" {
		h, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || h < 1 {
			return nil, fmt.Errorf("invalid CACHE_MAX_AGE_HOURS %q", raw)
		}
		cfg.CacheMaxAge = time.Duration(h) * time.Hour
	}

	if (cfg.DownloadURL == "") != (cfg.IntegrationKey == "") {
		return nil, fmt.Errorf("DATAMINR_DOWNLOAD_URL and DATAMINR_INTEGRATION_KEY must be set together")
	}

	return cfg, nil
}

// BulkMode reports whether the HMAC/ZIP ingestion variant is configured.
// Bulk mode and cursor mode never run simultaneously.
func (c *Config) BulkMode() bool {
	return c.DownloadURL != "" && c.IntegrationKey != ""
}

// HasCredentials reports whether the token-auth credential pair is present.
func (c *Config) HasCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("DATAMINR_URL is required")
	}
	if strings.HasSuffix(raw, "/") {
		return fmt.Errorf("DATAMINR_URL must not end with a trailing slash")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid DATAMINR_URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("invalid DATAMINR_URL %q: must be an absolute http(s) URL", raw)
	}
	return nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes":
		return true
	}
	return false
}
