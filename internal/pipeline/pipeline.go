// Package pipeline orchestrates per-site scrape runs: fetch, archive,
// extract, clean, upsert. Stages are isolated, so a broken portfolio
// page never costs the site its team or deal coverage.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/venturescope/scraperd/internal/archive"
	"github.com/venturescope/scraperd/internal/clean"
	"github.com/venturescope/scraperd/internal/clock/system"
	"github.com/venturescope/scraperd/internal/config"
	"github.com/venturescope/scraperd/internal/extract"
	"github.com/venturescope/scraperd/internal/fetch"
	"github.com/venturescope/scraperd/internal/metrics"
	"github.com/venturescope/scraperd/internal/record"
	"github.com/venturescope/scraperd/internal/store"
)

// Stage names.
const (
	StagePortfolio = "portfolio"
	StageTeam      = "team"
	StageDeals     = "deals"
)

// Fetcher acquires pages. *fetch.Coordinator satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (*fetch.Result, error)
}

// Upserter persists extracted records. *store.Tracker satisfies it.
type Upserter interface {
	UpsertBatch(ctx context.Context, recs []record.Record) store.BatchResult
}

// SiteStore resolves configured sites to stored rows.
type SiteStore interface {
	FindOrCreate(ctx context.Context, site record.Site, now time.Time) (record.Site, error)
	UpdateLastScraped(ctx context.Context, id uuid.UUID, now time.Time) error
}

// Clock supplies the pipeline's notion of now.
type Clock interface {
	Now() time.Time
}

// StageResult is the outcome of one stage on one site.
type StageResult struct {
	Site      string
	Stage     string
	Extracted int
	Dropped   int
	Inserted  int
	Updated   int
	Unchanged int
	Failed    int
	Err       error
}

// Report aggregates one full run across all configured sites.
type Report struct {
	Stages    []StageResult
	Sites     int
	StartedAt time.Time
	Duration  time.Duration
}

// Errs counts stages that failed outright.
func (r Report) Errs() int {
	n := 0
	for _, s := range r.Stages {
		if s.Err != nil {
			n++
		}
	}
	return n
}

// Runner executes scrape runs over the configured sites.
type Runner struct {
	fetcher Fetcher
	tracker Upserter
	sites   SiteStore
	store   archive.Store
	cfg     []config.SiteConfig
	log     *zap.Logger
	clock   Clock
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithArchive sets the snapshot store. Defaults to archive.Noop.
func WithArchive(s archive.Store) RunnerOption {
	return func(r *Runner) { r.store = s }
}

// WithClock overrides the wall clock.
func WithClock(c Clock) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

// WithLogger sets the runner's logger.
func WithLogger(log *zap.Logger) RunnerOption {
	return func(r *Runner) { r.log = log }
}

// NewRunner wires a runner over the given collaborators.
func NewRunner(fetcher Fetcher, tracker Upserter, sites SiteStore, cfg []config.SiteConfig, opts ...RunnerOption) *Runner {
	r := &Runner{
		fetcher: fetcher,
		tracker: tracker,
		sites:   sites,
		store:   archive.Noop{},
		cfg:     cfg,
		log:     zap.NewNop(),
		clock:   system.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunAll scrapes every configured site and aggregates the results.
func (r *Runner) RunAll(ctx context.Context) Report {
	start := r.clock.Now()
	report := Report{Sites: len(r.cfg), StartedAt: start}

	for _, site := range r.cfg {
		if ctx.Err() != nil {
			break
		}
		report.Stages = append(report.Stages, r.RunSite(ctx, site)...)
	}

	report.Duration = r.clock.Now().Sub(start)

	for _, s := range report.Stages {
		r.log.Info("stage summary",
			zap.String("site", s.Site),
			zap.String("stage", s.Stage),
			zap.Int("extracted", s.Extracted),
			zap.Int("dropped", s.Dropped),
			zap.Int("inserted", s.Inserted),
			zap.Int("updated", s.Updated),
			zap.Int("unchanged", s.Unchanged),
			zap.Int("failed", s.Failed),
			zap.Error(s.Err))
	}
	r.log.Info("run complete",
		zap.Int("sites", report.Sites),
		zap.Int("stages", len(report.Stages)),
		zap.Int("errors", report.Errs()),
		zap.Duration("duration", report.Duration))
	return report
}

// RunSlug scrapes a single configured site by slug.
func (r *Runner) RunSlug(ctx context.Context, slug string) (Report, error) {
	for _, site := range r.cfg {
		if site.Slug != slug {
			continue
		}
		start := r.clock.Now()
		report := Report{Sites: 1, StartedAt: start, Stages: r.RunSite(ctx, site)}
		report.Duration = r.clock.Now().Sub(start)
		return report, nil
	}
	return Report{}, fmt.Errorf("no configured site with slug %q", slug)
}

// RunSite scrapes one site. Each configured stage runs even when an
// earlier one fails.
func (r *Runner) RunSite(ctx context.Context, cfg config.SiteConfig) []StageResult {
	log := r.log.With(zap.String("site", cfg.Slug))

	site, err := r.sites.FindOrCreate(ctx, record.Site{
		Slug:         cfg.Slug,
		Name:         cfg.Name,
		BaseURL:      cfg.BaseURL,
		PortfolioURL: cfg.PortfolioURL,
		TeamURL:      cfg.TeamURL,
		RenderHint:   cfg.RenderHint,
	}, r.clock.Now())
	if err != nil {
		log.Error("site lookup failed", zap.Error(err))
		return []StageResult{{Site: cfg.Slug, Stage: StagePortfolio, Err: err}}
	}

	cleaner := clean.Cleaner{BaseURL: cfg.BaseURL}
	var results []StageResult

	if cfg.PortfolioURL != "" {
		results = append(results, r.runStage(ctx, log, cfg, StagePortfolio, func(ctx context.Context) ([]record.Record, int, error) {
			return r.portfolioRecords(ctx, cfg, site, cleaner)
		}))
	}
	if cfg.TeamURL != "" {
		results = append(results, r.runStage(ctx, log, cfg, StageTeam, func(ctx context.Context) ([]record.Record, int, error) {
			return r.teamRecords(ctx, cfg, site, cleaner)
		}))
	}
	if cfg.Feed.URL != "" {
		results = append(results, r.runStage(ctx, log, cfg, StageDeals, func(ctx context.Context) ([]record.Record, int, error) {
			return r.dealRecords(ctx, cfg, site, cleaner)
		}))
	}

	succeeded := false
	for _, s := range results {
		if s.Err == nil {
			succeeded = true
		}
	}
	if succeeded {
		if err := r.sites.UpdateLastScraped(ctx, site.ID, r.clock.Now()); err != nil {
			log.Warn("last-scraped update failed", zap.Error(err))
		}
	}
	return results
}

// runStage wraps one stage with timing, counting, and isolation.
func (r *Runner) runStage(ctx context.Context, log *zap.Logger, cfg config.SiteConfig, stage string, collect func(ctx context.Context) ([]record.Record, int, error)) StageResult {
	start := r.clock.Now()
	res := StageResult{Site: cfg.Slug, Stage: stage}

	recs, dropped, err := collect(ctx)
	res.Dropped = dropped
	res.Extracted = len(recs) + dropped
	if err != nil {
		res.Err = err
		log.Warn("stage failed", zap.String("stage", stage), zap.Error(err))
		metrics.ObserveStageRecords(cfg.Slug, stage, "error", 0)
		metrics.ObserveStageDuration(stage, r.clock.Now().Sub(start))
		return res
	}

	batch := r.tracker.UpsertBatch(ctx, recs)
	res.Inserted = batch.Inserted
	res.Updated = batch.Updated
	res.Unchanged = batch.Unchanged
	res.Failed = batch.Failed

	metrics.ObserveStageRecords(cfg.Slug, stage, "ok", len(recs))
	metrics.ObserveStageDuration(stage, r.clock.Now().Sub(start))
	return res
}

// fetchPage acquires a page and archives the raw bytes before any
// parsing can reject them.
func (r *Runner) fetchPage(ctx context.Context, cfg config.SiteConfig, stage, url string, render bool) (*fetch.Result, error) {
	req := fetch.Request{URL: url, WaitSelector: cfg.WaitSelector}
	if render {
		req.Transport = fetch.TransportHeadless
	}

	res, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	if _, err := r.store.Save(ctx, archive.Snapshot{
		Site:      cfg.Slug,
		Stage:     stage,
		URL:       res.URL,
		Transport: res.Transport,
		Content:   []byte(res.HTML),
		FetchedAt: res.FetchedAt,
	}); err != nil {
		r.log.Warn("snapshot archive failed",
			zap.String("site", cfg.Slug),
			zap.String("url", res.URL),
			zap.Error(err))
	}
	return res, nil
}

func (r *Runner) portfolioRecords(ctx context.Context, cfg config.SiteConfig, site record.Site, cleaner clean.Cleaner) ([]record.Record, int, error) {
	res, err := r.fetchPage(ctx, cfg, StagePortfolio, cfg.PortfolioURL, cfg.RenderHint)
	if err != nil {
		return nil, 0, err
	}

	cands, err := extract.NewPortfolioExtractor(cfg.Portfolio).Extract(res.HTML, res.URL)
	if err != nil {
		return nil, 0, err
	}

	var recs []record.Record
	dropped := 0
	for _, cand := range cands {
		company, err := buildCompany(cleaner, site.ID, cand)
		if err != nil {
			dropped++
			r.log.Debug("company dropped",
				zap.String("site", cfg.Slug),
				zap.String("raw_name", cand.Name),
				zap.Error(err))
			continue
		}
		recs = append(recs, company)
	}
	return recs, dropped, nil
}

func (r *Runner) teamRecords(ctx context.Context, cfg config.SiteConfig, site record.Site, cleaner clean.Cleaner) ([]record.Record, int, error) {
	res, err := r.fetchPage(ctx, cfg, StageTeam, cfg.TeamURL, cfg.RenderHint)
	if err != nil {
		return nil, 0, err
	}

	cands, err := extract.NewTeamExtractor(cfg.Team).Extract(res.HTML, res.URL)
	if err != nil {
		return nil, 0, err
	}

	var recs []record.Record
	dropped := 0
	for _, cand := range cands {
		member, err := buildMember(cleaner, site.ID, cand)
		if err != nil {
			dropped++
			r.log.Debug("member dropped",
				zap.String("site", cfg.Slug),
				zap.String("raw_name", cand.Name),
				zap.Error(err))
			continue
		}
		recs = append(recs, member)
	}
	return recs, dropped, nil
}

// dealRecords walks the configured feed: filter to fresh funding
// articles, fetch each one, and mine it for deal sentences. One bad
// article is skipped, not fatal.
func (r *Runner) dealRecords(ctx context.Context, cfg config.SiteConfig, site record.Site, cleaner clean.Cleaner) ([]record.Record, int, error) {
	feedRes, err := r.fetcher.Fetch(ctx, fetch.Request{URL: cfg.Feed.URL, Transport: fetch.TransportHTTP})
	if err != nil {
		return nil, 0, err
	}

	disc := extract.FeedDiscoverer{Lookback: cfg.Feed.Lookback(), Keywords: cfg.Feed.Keywords}
	articles, err := disc.Discover(feedRes.HTML, r.clock.Now())
	if err != nil {
		return nil, 0, err
	}

	dealExtractor := extract.NewDealExtractor()
	var recs []record.Record
	dropped := 0
	for _, article := range articles {
		if ctx.Err() != nil {
			return recs, dropped, ctx.Err()
		}

		res, err := r.fetchPage(ctx, cfg, StageDeals, article.URL, false)
		if err != nil {
			r.log.Warn("article fetch failed",
				zap.String("site", cfg.Slug),
				zap.String("url", article.URL),
				zap.Error(err))
			continue
		}

		cands, err := dealExtractor.Extract(res.HTML, res.URL)
		if err != nil {
			r.log.Debug("no deals in article",
				zap.String("site", cfg.Slug),
				zap.String("url", article.URL),
				zap.Error(err))
			continue
		}

		for _, cand := range cands {
			deal, err := buildDeal(cleaner, site.ID, article, cand)
			if err != nil {
				dropped++
				continue
			}
			recs = append(recs, deal)
		}
	}
	return recs, dropped, nil
}

func buildCompany(cleaner clean.Cleaner, siteID uuid.UUID, cand extract.CompanyCandidate) (record.Company, error) {
	name, err := cleaner.CompanyName(cleaner.Text(cand.Name))
	if err != nil {
		return record.Company{}, err
	}

	description := cleaner.Text(cand.Description)
	location := cleaner.Text(cand.Location)
	if location == "" {
		location, _ = cleaner.LocationFromSummary(description)
	}

	return record.Company{
		SiteID:      siteID,
		Name:        name,
		Description: description,
		Sector:      cleaner.Sector(cleaner.Text(cand.Sector)),
		Location:    location,
		Website:     optionalURL(cleaner, cand.Website),
		LogoURL:     optionalURL(cleaner, cand.LogoURL),
		DetailURL:   optionalURL(cleaner, cand.DetailURL),
	}, nil
}

func buildMember(cleaner clean.Cleaner, siteID uuid.UUID, cand extract.MemberCandidate) (record.TeamMember, error) {
	rawName := cleaner.Text(cand.Name)
	rawTitle := cleaner.Text(cand.Title)
	if rawTitle == "" {
		rawName, rawTitle = cleaner.NameAndTitle(rawName)
	}

	name, err := cleaner.PersonName(rawName)
	if err != nil {
		return record.TeamMember{}, err
	}

	linkedin := ""
	if cand.LinkedInURL != "" {
		if u, err := cleaner.LinkedInURL(cand.LinkedInURL); err == nil {
			linkedin = u
		}
	}

	return record.TeamMember{
		SiteID:      siteID,
		Name:        name,
		Title:       cleaner.Title(rawTitle),
		Bio:         cleaner.Text(cand.Bio),
		PhotoURL:    optionalURL(cleaner, cand.PhotoURL),
		ProfileURL:  optionalURL(cleaner, cand.ProfileURL),
		LinkedInURL: linkedin,
	}, nil
}

func buildDeal(cleaner clean.Cleaner, siteID uuid.UUID, article extract.Article, cand extract.DealCandidate) (record.Deal, error) {
	name, err := cleaner.CompanyName(cleaner.Text(cand.StartupName))
	if err != nil {
		return record.Deal{}, err
	}

	description := cleaner.Text(cand.Description)
	location, _ := cleaner.LocationFromSummary(description)

	amount := ""
	if cand.FundingAmount != "" {
		if a, err := cleaner.FundingAmount(cand.FundingAmount); err == nil {
			amount = a
		}
	}

	publishedAt := cand.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = article.PublishedAt
	}

	return record.Deal{
		SiteID:           siteID,
		StartupName:      name,
		Description:      description,
		Sector:           cleaner.Sector(description),
		Location:         location,
		FundingAmount:    amount,
		FundingStage:     cleaner.FundingStage(cleaner.Text(cand.FundingStage)),
		SourceArticleURL: cand.SourceArticleURL,
		ArticleTitle:     cleaner.Text(cand.ArticleTitle),
		PublishedAt:      publishedAt,
	}, nil
}

func optionalURL(cleaner clean.Cleaner, raw string) string {
	if raw == "" {
		return ""
	}
	u, err := cleaner.URL(raw)
	if err != nil {
		return ""
	}
	return u
}
