package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/goharvest/internal/app"
)

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.DefaultContextLogger = &log.Logger

	if err := app.LoadEnvFiles(".env"); err != nil {
		log.Warn().Err(err).Msg("load .env")
	}

	cfg, showVersion, err := loadConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(2)
	}
	if showVersion {
		fmt.Printf("goharvest %s (commit %s, built %s)\n", app.BuildVersion, app.BuildCommit, app.BuildDate)
		return
	}

	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = run(ctx, cfg)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(exitCode(err))
	}
}

// exitCode maps run errors to the process status: 2 when nothing was
// collected, 130 when interrupted, 1 otherwise.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, app.ErrNoFilings):
		return 2
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}

// loadConfig resolves the run configuration. Later sources win: defaults,
// -preset, the -config file, environment, then flags given on the command
// line.
func loadConfig(args []string, stderr io.Writer) (app.Config, bool, error) {
	fs := flag.NewFlagSet("goharvest", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fl := app.Defaults()
	var (
		configPath  string
		preset      string
		keywords    string
		showVersion bool
	)
	fs.StringVar(&configPath, "config", "", "Path to a YAML or JSON config file")
	fs.StringVar(&preset, "preset", "", "Named settings bundle: "+strings.Join(app.PresetNames(), ", "))
	fs.StringVar(&fl.Periods, "periods", fl.Periods, "Comma-separated period classes: quarterly, semiannual, annual")
	fs.IntVar(&fl.PageSize, "page.size", fl.PageSize, "Records requested per page")
	fs.IntVar(&fl.MaxPages, "max.pages", fl.MaxPages, "Maximum pages per exchange and category")
	fs.IntVar(&fl.MaxTotal, "max.total", fl.MaxTotal, "Maximum filings per run")
	fs.StringVar(&fl.DateRange, "se.date", fl.DateRange, "Publication date range YYYY-MM-DD~YYYY-MM-DD, or 'unbounded'")
	fs.StringVar(&keywords, "keywords", "", "Comma-separated title keywords; a title must contain at least one")
	fs.IntVar(&fl.Concurrency, "concurrency", fl.Concurrency, "Streams queried in parallel (0 or 1 is sequential)")
	fs.StringVar(&fl.QueryURL, "query.url", fl.QueryURL, "Override the announcement query endpoint")
	fs.StringVar(&fl.DocumentBase, "doc.base", fl.DocumentBase, "Override the document host prefix")
	fs.StringVar(&fl.UserAgent, "ua", fl.UserAgent, "User-Agent for provider requests")
	fs.DurationVar(&fl.QueryTimeout, "query.timeout", fl.QueryTimeout, "Timeout per page query")
	fs.DurationVar(&fl.DocTimeout, "doc.timeout", fl.DocTimeout, "Timeout per document download")
	fs.DurationVar(&fl.QueryInterval, "query.interval", fl.QueryInterval, "Minimum spacing between page queries; 0 disables pacing")
	fs.BoolVar(&fl.Extract, "extract", fl.Extract, "Download filings and extract their text")
	fs.BoolVar(&fl.IncludeTables, "tables", fl.IncludeTables, "Append ruled PDF tables to extracted text")
	fs.IntVar(&fl.ExtractWorkers, "extract.workers", fl.ExtractWorkers, "Parallel document downloads")
	fs.IntVar(&fl.MaxChars, "max.chars", fl.MaxChars, "Truncate each extracted text to this many characters; 0 disables")
	fs.StringVar(&fl.CacheDir, "cache.dir", fl.CacheDir, "Document cache directory; empty disables caching")
	fs.DurationVar(&fl.CacheMaxAge, "cache.maxAge", fl.CacheMaxAge, "Purge cache entries older than this before the run; 0 disables")
	fs.BoolVar(&fl.CacheClear, "cache.clear", fl.CacheClear, "Clear the cache directory before the run")
	fs.BoolVar(&fl.CacheStrictPerms, "cache.strictPerms", fl.CacheStrictPerms, "Restrict cache permissions (0700 dirs, 0600 files)")
	fs.StringVar(&fl.OutputPath, "output", fl.OutputPath, "Write the JSON report here instead of stdout")
	fs.BoolVar(&fl.Pretty, "pretty", fl.Pretty, "Indent the JSON report")
	fs.BoolVar(&fl.Verbose, "v", fl.Verbose, "Verbose logging")
	fs.BoolVar(&showVersion, "version", false, "Print version information and exit")
	if err := fs.Parse(args); err != nil {
		return app.Config{}, false, err
	}
	if fs.NArg() > 0 {
		return app.Config{}, false, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if showVersion {
		return fl, true, nil
	}

	cfg := app.Defaults()
	if err := app.ApplyPreset(&cfg, preset); err != nil {
		return app.Config{}, false, err
	}
	if configPath != "" {
		fc, err := app.LoadConfigFile(configPath)
		if err != nil {
			return app.Config{}, false, fmt.Errorf("load config %s: %w", configPath, err)
		}
		if err := app.ApplyFileConfig(&cfg, fc); err != nil {
			return app.Config{}, false, err
		}
		cfg.ConfigPath = configPath
	}
	app.ApplyEnvOverrides(&cfg)

	explicit := map[string]func(){
		"periods":           func() { cfg.Periods = fl.Periods },
		"page.size":         func() { cfg.PageSize = fl.PageSize },
		"max.pages":         func() { cfg.MaxPages = fl.MaxPages },
		"max.total":         func() { cfg.MaxTotal = fl.MaxTotal },
		"se.date":           func() { cfg.DateRange = fl.DateRange },
		"keywords":          func() { cfg.TitleKeywords = app.SplitList(keywords) },
		"concurrency":       func() { cfg.Concurrency = fl.Concurrency },
		"query.url":         func() { cfg.QueryURL = fl.QueryURL },
		"doc.base":          func() { cfg.DocumentBase = fl.DocumentBase },
		"ua":                func() { cfg.UserAgent = fl.UserAgent },
		"query.timeout":     func() { cfg.QueryTimeout = fl.QueryTimeout },
		"doc.timeout":       func() { cfg.DocTimeout = fl.DocTimeout },
		"query.interval":    func() { cfg.QueryInterval = fl.QueryInterval },
		"extract":           func() { cfg.Extract = fl.Extract },
		"tables":            func() { cfg.IncludeTables = fl.IncludeTables },
		"extract.workers":   func() { cfg.ExtractWorkers = fl.ExtractWorkers },
		"max.chars":         func() { cfg.MaxChars = fl.MaxChars },
		"cache.dir":         func() { cfg.CacheDir = fl.CacheDir },
		"cache.maxAge":      func() { cfg.CacheMaxAge = fl.CacheMaxAge },
		"cache.clear":       func() { cfg.CacheClear = fl.CacheClear },
		"cache.strictPerms": func() { cfg.CacheStrictPerms = fl.CacheStrictPerms },
		"output":            func() { cfg.OutputPath = fl.OutputPath },
		"pretty":            func() { cfg.Pretty = fl.Pretty },
		"v":                 func() { cfg.Verbose = fl.Verbose },
	}
	fs.Visit(func(f *flag.Flag) {
		if apply, ok := explicit[f.Name]; ok {
			apply()
		}
	})
	return cfg, false, nil
}

func run(ctx context.Context, cfg app.Config) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer a.Close()

	return a.Run(ctx)
}
