package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig represents the single-file configuration schema.
type FileConfig struct {
	Preset string `yaml:"preset" json:"preset"`

	Harvest struct {
		Periods     []string `yaml:"periods" json:"periods"`
		PageSize    int      `yaml:"pageSize" json:"pageSize"`
		MaxPages    int      `yaml:"maxPages" json:"maxPages"`
		MaxTotal    int      `yaml:"maxTotal" json:"maxTotal"`
		DateRange   string   `yaml:"dateRange" json:"dateRange"`
		Keywords    []string `yaml:"keywords" json:"keywords"`
		Concurrency int      `yaml:"concurrency" json:"concurrency"`
	} `yaml:"harvest" json:"harvest"`

	Provider struct {
		QueryURL      string   `yaml:"queryURL" json:"queryURL"`
		DocumentBase  string   `yaml:"documentBase" json:"documentBase"`
		UserAgent     string   `yaml:"userAgent" json:"userAgent"`
		QueryTimeout  Duration `yaml:"queryTimeout" json:"queryTimeout"`
		DocTimeout    Duration `yaml:"docTimeout" json:"docTimeout"`
		QueryInterval Duration `yaml:"queryInterval" json:"queryInterval"`
	} `yaml:"provider" json:"provider"`

	Extract struct {
		Enable   bool `yaml:"enable" json:"enable"`
		Tables   bool `yaml:"tables" json:"tables"`
		Workers  int  `yaml:"workers" json:"workers"`
		MaxChars int  `yaml:"maxChars" json:"maxChars"`
	} `yaml:"extract" json:"extract"`

	Cache struct {
		Dir         string   `yaml:"dir" json:"dir"`
		MaxAge      Duration `yaml:"maxAge" json:"maxAge"`
		Clear       bool     `yaml:"clear" json:"clear"`
		StrictPerms bool     `yaml:"strictPerms" json:"strictPerms"`
	} `yaml:"cache" json:"cache"`

	Output  string `yaml:"output" json:"output"`
	Pretty  *bool  `yaml:"pretty" json:"pretty"`
	Verbose bool   `yaml:"verbose" json:"verbose"`
}

// Duration accepts Go duration strings ("15s", "2m") in YAML and JSON.
type Duration time.Duration

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error { return d.parse(n.Value) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"15s\": %w", err)
	}
	return d.parse(s)
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays every value the file sets onto cfg. A preset named
// in the file is applied first so explicit file values win over it.
func ApplyFileConfig(cfg *Config, fc FileConfig) error {
	if cfg == nil {
		return nil
	}
	if err := ApplyPreset(cfg, fc.Preset); err != nil {
		return err
	}
	if len(fc.Harvest.Periods) > 0 {
		cfg.Periods = strings.Join(fc.Harvest.Periods, ",")
	}
	setInt(&cfg.PageSize, fc.Harvest.PageSize)
	setInt(&cfg.MaxPages, fc.Harvest.MaxPages)
	setInt(&cfg.MaxTotal, fc.Harvest.MaxTotal)
	setString(&cfg.DateRange, fc.Harvest.DateRange)
	if len(fc.Harvest.Keywords) > 0 {
		cfg.TitleKeywords = append([]string(nil), fc.Harvest.Keywords...)
	}
	setInt(&cfg.Concurrency, fc.Harvest.Concurrency)

	setString(&cfg.QueryURL, fc.Provider.QueryURL)
	setString(&cfg.DocumentBase, fc.Provider.DocumentBase)
	setString(&cfg.UserAgent, fc.Provider.UserAgent)
	setDuration(&cfg.QueryTimeout, fc.Provider.QueryTimeout)
	setDuration(&cfg.DocTimeout, fc.Provider.DocTimeout)
	setDuration(&cfg.QueryInterval, fc.Provider.QueryInterval)

	cfg.Extract = cfg.Extract || fc.Extract.Enable
	cfg.IncludeTables = cfg.IncludeTables || fc.Extract.Tables
	setInt(&cfg.ExtractWorkers, fc.Extract.Workers)
	setInt(&cfg.MaxChars, fc.Extract.MaxChars)

	setString(&cfg.CacheDir, fc.Cache.Dir)
	setDuration(&cfg.CacheMaxAge, fc.Cache.MaxAge)
	cfg.CacheClear = cfg.CacheClear || fc.Cache.Clear
	cfg.CacheStrictPerms = cfg.CacheStrictPerms || fc.Cache.StrictPerms

	setString(&cfg.OutputPath, fc.Output)
	if fc.Pretty != nil {
		cfg.Pretty = *fc.Pretty
	}
	cfg.Verbose = cfg.Verbose || fc.Verbose
	return nil
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v Duration) {
	if v > 0 {
		*dst = time.Duration(v)
	}
}
