package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides overrides cfg fields with environment variables when the
// corresponding variables are set. It runs after the config file so env wins
// over the file, and before explicit flags so flags win over env.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if v := strings.TrimSpace(os.Getenv("HARVEST_PERIODS")); v != "" {
		cfg.Periods = v
	}
	setIntEnv(&cfg.PageSize, "HARVEST_PAGE_SIZE")
	setIntEnv(&cfg.MaxPages, "HARVEST_MAX_PAGES")
	setIntEnv(&cfg.MaxTotal, "HARVEST_MAX_TOTAL")
	setIntEnv(&cfg.Concurrency, "HARVEST_CONCURRENCY")
	if v := strings.TrimSpace(os.Getenv("HARVEST_SE_DATE")); v != "" {
		cfg.DateRange = v
	}
	if v := os.Getenv("HARVEST_TITLE_KEYWORDS"); strings.TrimSpace(v) != "" {
		cfg.TitleKeywords = SplitList(v)
	}
	if v := os.Getenv("HARVEST_QUERY_URL"); v != "" {
		cfg.QueryURL = v
	}
	if v := os.Getenv("HARVEST_USER_AGENT"); v != "" {
		cfg.UserAgent = v
	}
	if v := os.Getenv("CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if s := os.Getenv("CACHE_MAX_AGE"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.CacheMaxAge = d
		}
	}

	// Booleans override when env present and truthy/falsey
	setBool := func(dst *bool, envKey string) {
		if s := strings.ToLower(strings.TrimSpace(os.Getenv(envKey))); s != "" {
			switch s {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			}
		}
	}
	setBool(&cfg.Extract, "HARVEST_EXTRACT")
	setBool(&cfg.IncludeTables, "HARVEST_TABLES")
	setBool(&cfg.Verbose, "VERBOSE")
	setBool(&cfg.CacheClear, "CACHE_CLEAR")
	setBool(&cfg.CacheStrictPerms, "CACHE_STRICT_PERMS")
}

func setIntEnv(dst *int, key string) {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			*dst = n
		}
	}
}
