package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/mirrorgen/internal/feed"
	"github.com/BadgerOps/mirrorgen/internal/mirror"
	"github.com/BadgerOps/mirrorgen/internal/safety"
)

// Config is the top-level configuration
type Config struct {
	Feed     FeedConfig     `yaml:"feed"`
	Filter   FilterConfig   `yaml:"filter"`
	Output   OutputConfig   `yaml:"output"`
	Store    StoreConfig    `yaml:"store"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Server   ServerConfig   `yaml:"server"`
}

// FeedConfig describes where the mirror status document comes from
type FeedConfig struct {
	URL      string `yaml:"url"`
	Timeout  string `yaml:"timeout"`
	MaxBytes int64  `yaml:"max_bytes"`
	Attempts int    `yaml:"attempts"` // tries per fetch, transient failures only
}

// FilterConfig holds the user's mirror selection. MaxDelay accepts seconds,
// a Go duration ("1h"), or "none".
type FilterConfig struct {
	Protocol      string  `yaml:"protocol"`
	Country       string  `yaml:"country"`
	MaxDelay      string  `yaml:"max_delay"`
	MinCompletion float64 `yaml:"min_completion"`
	MaxDuration   float64 `yaml:"max_duration"`
	RequireIPv4   bool    `yaml:"require_ipv4"`
	RequireIPv6   bool    `yaml:"require_ipv6"`
	Workers       int     `yaml:"workers"`
}

// OutputConfig controls rendering and destination of the mirrorlist
type OutputConfig struct {
	Path         string `yaml:"path"`
	Directive    string `yaml:"directive"`
	PathTemplate string `yaml:"path_template"`
	Limit        int    `yaml:"limit"`
}

// StoreConfig holds run history settings; an empty DBPath disables history
type StoreConfig struct {
	DBPath   string `yaml:"db_path"`
	KeepRuns int    `yaml:"keep_runs"` // 0 keeps everything
}

// ScheduleConfig holds scheduler settings for the watch command
type ScheduleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			URL:      feed.DefaultURL,
			Timeout:  "30s",
			MaxBytes: feed.DefaultMaxBytes,
			Attempts: feed.DefaultRetries,
		},
		Filter: FilterConfig{
			Protocol:      "any",
			Country:       "any",
			MaxDelay:      "3600",
			MinCompletion: 1.0,
			RequireIPv4:   true,
			Workers:       1,
		},
		Store: StoreConfig{
			KeepRuns: 100,
		},
		Output: OutputConfig{
			Path:         "-",
			Directive:    mirror.DefaultDirective,
			PathTemplate: mirror.DefaultPathTemplate,
		},
		Schedule: ScheduleConfig{
			Enabled: false,
			Cron:    "0 */6 * * *",
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8080",
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"mirrorgen.yaml",
		"/etc/mirrorgen/mirrorgen.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "mirrorgen", "mirrorgen.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	var errs []string

	if _, err := safety.ValidateHTTPURL(c.Feed.URL); err != nil {
		errs = append(errs, fmt.Sprintf("feed.url: %v", err))
	}
	if _, err := c.FeedTimeout(); err != nil {
		errs = append(errs, fmt.Sprintf("feed.timeout: %v", err))
	}
	if c.Feed.MaxBytes < 0 {
		errs = append(errs, "feed.max_bytes must not be negative")
	}
	if c.Feed.Attempts < 0 {
		errs = append(errs, "feed.attempts must not be negative")
	}
	if _, err := c.Filter.Build(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Output.Limit < 0 {
		errs = append(errs, "output.limit must not be negative")
	}
	if c.Store.KeepRuns < 0 {
		errs = append(errs, "store.keep_runs must not be negative")
	}
	if strings.ContainsAny(c.Output.Directive, " =\n#") {
		errs = append(errs, fmt.Sprintf("output.directive %q is not a valid key", c.Output.Directive))
	}
	if strings.ContainsAny(c.Output.PathTemplate, " \n#") {
		errs = append(errs, fmt.Sprintf("output.path_template %q contains invalid characters", c.Output.PathTemplate))
	}
	if c.Schedule.Enabled || c.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("schedule.cron: invalid cron expression %q: %v", c.Schedule.Cron, err))
		}
	}

	if len(errs) > 0 {
		return errors.New("invalid configuration: " + strings.Join(errs, "; "))
	}
	return nil
}

// FeedTimeout parses Feed.Timeout; empty means the feed default
func (c *Config) FeedTimeout() (time.Duration, error) {
	if c.Feed.Timeout == "" {
		return feed.DefaultTimeout, nil
	}
	d, err := time.ParseDuration(c.Feed.Timeout)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

// Build converts the YAML filter section into a mirror.FilterConfig
func (f FilterConfig) Build() (mirror.FilterConfig, error) {
	var errs []string
	cfg := mirror.DefaultFilterConfig()

	proto, ok := mirror.ParseProtocol(f.Protocol)
	if !ok || proto == mirror.ProtocolRsync {
		errs = append(errs, fmt.Sprintf("filter.protocol %q must be one of http, https, any", f.Protocol))
	}
	cfg.Protocol = proto

	country := strings.TrimSpace(f.Country)
	if country != "" && !strings.EqualFold(country, "any") && !isAlpha2(country) {
		errs = append(errs, fmt.Sprintf("filter.country %q must be a two-letter code or any", f.Country))
	}
	cfg.Country = country

	maxDelay, err := ParseMaxDelay(f.MaxDelay)
	if err != nil {
		errs = append(errs, fmt.Sprintf("filter.max_delay: %v", err))
	}
	cfg.MaxDelay = maxDelay

	if f.MinCompletion < 0 || f.MinCompletion > 1 {
		errs = append(errs, fmt.Sprintf("filter.min_completion %v must be within [0,1]", f.MinCompletion))
	}
	cfg.MinCompletion = f.MinCompletion

	if f.MaxDuration < 0 {
		errs = append(errs, "filter.max_duration must not be negative")
	} else if f.MaxDuration > 0 {
		cfg.MaxDuration = mirror.Some(f.MaxDuration)
	}
	if f.Workers < 0 {
		errs = append(errs, "filter.workers must not be negative")
	}

	cfg.RequireIPv4 = f.RequireIPv4
	cfg.RequireIPv6 = f.RequireIPv6
	cfg.Workers = f.Workers

	if len(errs) > 0 {
		return cfg, errors.New(strings.Join(errs, "; "))
	}
	return cfg, nil
}

// maxDelaySeconds is the largest delay a time.Duration can hold.
const maxDelaySeconds = math.MaxInt64 / int64(time.Second)

// ParseMaxDelay accepts "none"/"" (no limit), a whole number of seconds,
// or a Go duration string.
func ParseMaxDelay(s string) (mirror.Optional[time.Duration], error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return mirror.None[time.Duration](), nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		if secs < 0 {
			return mirror.None[time.Duration](), fmt.Errorf("%q must not be negative", s)
		}
		if secs > maxDelaySeconds {
			return mirror.None[time.Duration](), fmt.Errorf("%q exceeds %d seconds", s, maxDelaySeconds)
		}
		return mirror.Some(time.Duration(secs) * time.Second), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return mirror.None[time.Duration](), fmt.Errorf("%q is neither seconds, a duration, nor none", s)
	}
	if d < 0 {
		return mirror.None[time.Duration](), fmt.Errorf("%q must not be negative", s)
	}
	return mirror.Some(d), nil
}

func isAlpha2(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
