package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hyperifyio/goharvest/internal/cache"
	"github.com/hyperifyio/goharvest/internal/cninfo"
	"github.com/hyperifyio/goharvest/internal/fetch"
	"github.com/hyperifyio/goharvest/internal/harvest"
)

// ErrNoFilings is returned when a run completes without a single accepted
// filing. The CLI maps it to a non-zero exit code.
var ErrNoFilings = errors.New("no filings collected")

type App struct {
	cfg        Config
	httpClient *http.Client
	docCache   *cache.HTTPCache
	pipeline   *harvest.Pipeline
	// out receives the report when cfg.OutputPath is empty.
	out io.Writer
}

func New(ctx context.Context, cfg Config) (*App, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	logger := zerolog.Ctx(ctx)
	a := &App{cfg: cfg, httpClient: newHighThroughputHTTPClient(), out: os.Stdout}

	if cfg.CacheDir != "" {
		if cfg.CacheClear {
			if err := cache.ClearDir(cfg.CacheDir); err != nil {
				logger.Warn().Err(err).Str("dir", cfg.CacheDir).Msg("cache clear failed")
			}
		}
		if cfg.CacheMaxAge > 0 {
			n, err := cache.PurgeByAge(cfg.CacheDir, cfg.CacheMaxAge)
			if err != nil {
				logger.Warn().Err(err).Msg("cache purge failed")
			} else if n > 0 {
				logger.Debug().Int("removed", n).Msg("purged stale cache entries")
			}
		}
		a.docCache = &cache.HTTPCache{Dir: cfg.CacheDir, StrictPerms: cfg.CacheStrictPerms}
	}

	var limiter *rate.Limiter
	if cfg.QueryInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.QueryInterval), 1)
	}
	transport := &cninfo.Client{
		URL:        cfg.QueryURL,
		HTTPClient: a.httpClient,
		UserAgent:  cfg.UserAgent,
		Timeout:    cfg.QueryTimeout,
		Limiter:    limiter,
	}
	retriever := &fetch.Retriever{
		HTTPClient:        a.httpClient,
		UserAgent:         cfg.UserAgent,
		PerRequestTimeout: cfg.DocTimeout,
		Cache:             a.docCache,
		RedirectMaxHops:   5,
		MaxConcurrent:     max(cfg.ExtractWorkers, 1),
	}
	a.pipeline = &harvest.Pipeline{
		Fetcher: &harvest.Fetcher{
			Transport:    transport,
			DocumentBase: cfg.DocumentBase,
			Concurrency:  cfg.Concurrency,
		},
		Retriever: retriever,
	}
	return a, nil
}

func (a *App) Close() {
	a.httpClient.CloseIdleConnections()
}

// Run collects filings, optionally extracts their documents, and writes the
// JSON report. A cancelled run still writes what it collected and returns the
// context error.
func (a *App) Run(ctx context.Context) error {
	runID := uuid.NewString()
	logger := zerolog.Ctx(ctx).With().Str("run", runID).Logger()
	ctx = logger.WithContext(ctx)

	req, err := a.cfg.Request()
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	start := time.Now()
	res, runErr := a.pipeline.CollectFilings(ctx, req)
	if errors.Is(runErr, harvest.ErrInvalidRequest) {
		return runErr
	}

	rep := report{
		Meta: runMeta{
			RunID:       runID,
			Version:     BuildVersion,
			Periods:     a.cfg.Periods,
			DateRange:   a.cfg.DateRange,
			PageSize:    a.cfg.PageSize,
			MaxPages:    a.cfg.MaxPages,
			MaxTotal:    a.cfg.MaxTotal,
			Keywords:    a.cfg.TitleKeywords,
			DocCache:    a.docCache != nil,
			GeneratedAt: time.Now().UTC(),
		},
		Total:      len(res.Filings),
		ByExchange: res.ByExchange,
		Streams:    buildStreamEntries(res.Streams),
		Filings:    res.Filings,
	}

	if a.cfg.Extract && runErr == nil && len(res.Filings) > 0 {
		docs, err := a.pipeline.ExtractDocuments(ctx, res.Filings, harvest.ExtractOptions{
			IncludeTables: a.cfg.IncludeTables,
			Workers:       a.cfg.ExtractWorkers,
			MaxChars:      a.cfg.MaxChars,
		})
		rep.Documents = buildDocumentEntries(docs)
		runErr = err
		failed := 0
		for _, d := range docs {
			if d.Err != nil {
				failed++
			}
		}
		logger.Info().Int("documents", len(docs)).Int("failed", failed).Msg("extraction complete")
	}
	rep.Meta.Cancelled = runErr != nil

	if err := a.writeReport(rep); err != nil {
		return err
	}
	logger.Info().
		Int("filings", rep.Total).
		Dur("elapsed", time.Since(start)).
		Str("out", a.outputName()).
		Msg("wrote report")

	if runErr != nil {
		return runErr
	}
	if rep.Total == 0 {
		return ErrNoFilings
	}
	return nil
}

func (a *App) writeReport(rep report) error {
	b, err := encodeReport(rep, a.cfg.Pretty)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if a.cfg.OutputPath == "" {
		if _, err := a.out.Write(b); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(a.cfg.OutputPath, b, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func (a *App) outputName() string {
	if a.cfg.OutputPath == "" {
		return "stdout"
	}
	return a.cfg.OutputPath
}
