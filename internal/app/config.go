package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperifyio/goharvest/internal/filing"
	"github.com/hyperifyio/goharvest/internal/harvest"
)

// Config holds runtime configuration for the application.
type Config struct {
	// Harvest
	Periods       string
	PageSize      int
	MaxPages      int
	MaxTotal      int
	DateRange     string
	TitleKeywords []string
	Concurrency   int

	// Provider
	QueryURL      string
	DocumentBase  string
	UserAgent     string
	QueryTimeout  time.Duration
	DocTimeout    time.Duration
	QueryInterval time.Duration

	// Extraction
	Extract        bool
	IncludeTables  bool
	ExtractWorkers int
	MaxChars       int

	// Cache
	CacheDir         string
	CacheMaxAge      time.Duration
	CacheClear       bool
	CacheStrictPerms bool

	// Output
	OutputPath string
	Pretty     bool
	Verbose    bool
	ConfigPath string
}

// Defaults match a small interactive query: one page of semiannual reports
// per stream.
const (
	DefaultPeriods        = "semiannual"
	DefaultPageSize       = 50
	DefaultMaxPages       = 1
	DefaultMaxTotal       = 50
	DefaultQueryTimeout   = 15 * time.Second
	DefaultDocTimeout     = 30 * time.Second
	DefaultQueryInterval  = 300 * time.Millisecond
	DefaultExtractWorkers = 4
	DefaultCacheDir       = ".goharvest-cache"
)

// Defaults returns a Config populated with the default values.
func Defaults() Config {
	return Config{
		Periods:        DefaultPeriods,
		PageSize:       DefaultPageSize,
		MaxPages:       DefaultMaxPages,
		MaxTotal:       DefaultMaxTotal,
		DateRange:      filing.Unbounded,
		QueryTimeout:   DefaultQueryTimeout,
		DocTimeout:     DefaultDocTimeout,
		QueryInterval:  DefaultQueryInterval,
		ExtractWorkers: DefaultExtractWorkers,
		CacheDir:       DefaultCacheDir,
		Pretty:         true,
	}
}

// presets are named bundles of harvest settings.
var presets = map[string]func(cfg *Config){
	// Full-year semiannual sweep used for batch collection.
	"semiannual-batch": func(cfg *Config) {
		cfg.Periods = string(filing.Semiannual)
		cfg.PageSize = 100
		cfg.MaxPages = 60
		cfg.MaxTotal = 6000
		cfg.DateRange = "2025-01-01~2025-12-31"
	},
}

// PresetNames lists the known presets.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	return names
}

// ApplyPreset overwrites the harvest settings of cfg with the named preset.
func ApplyPreset(cfg *Config, name string) error {
	if cfg == nil || strings.TrimSpace(name) == "" {
		return nil
	}
	p, ok := presets[strings.TrimSpace(name)]
	if !ok {
		return fmt.Errorf("config: unknown preset %q", name)
	}
	p(cfg)
	return nil
}

// ValidateConfig rejects settings a harvest cannot start with.
func ValidateConfig(cfg Config) error {
	periods, err := filing.ParsePeriodClasses(cfg.Periods)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if len(periods) == 0 {
		return errors.New("config: at least one period class is required")
	}
	limits := filing.Limits{PageSize: cfg.PageSize, MaxPagesPerStream: cfg.MaxPages, MaxTotal: cfg.MaxTotal}
	if err := limits.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := filing.NormalizeDateRange(cfg.DateRange); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Concurrency < 0 || cfg.ExtractWorkers < 0 || cfg.MaxChars < 0 {
		return errors.New("config: negative limits are not allowed")
	}
	if cfg.QueryTimeout < 0 || cfg.DocTimeout < 0 || cfg.QueryInterval < 0 || cfg.CacheMaxAge < 0 {
		return errors.New("config: negative durations are not allowed")
	}
	return nil
}

// Request builds the harvest request described by cfg.
func (cfg Config) Request() (harvest.Request, error) {
	periods, err := filing.ParsePeriodClasses(cfg.Periods)
	if err != nil {
		return harvest.Request{}, err
	}
	return harvest.Request{
		Periods:   periods,
		Limits:    filing.Limits{PageSize: cfg.PageSize, MaxPagesPerStream: cfg.MaxPages, MaxTotal: cfg.MaxTotal},
		DateRange: cfg.DateRange,
		Keywords:  cfg.TitleKeywords,
	}, nil
}

// SplitList splits a comma-separated list, trimming items and dropping empties.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
