package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/venturescope/scraperd/internal/archive/memory"
	"github.com/venturescope/scraperd/internal/config"
	"github.com/venturescope/scraperd/internal/fetch"
	"github.com/venturescope/scraperd/internal/record"
	"github.com/venturescope/scraperd/internal/store"
)

// fakeFetcher serves canned pages by URL.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	fails map[string]error
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req fetch.Request) (*fetch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.URL)
	if err, ok := f.fails[req.URL]; ok {
		return nil, err
	}
	html, ok := f.pages[req.URL]
	if !ok {
		return nil, fmt.Errorf("no page for %s", req.URL)
	}
	return &fetch.Result{
		URL:        req.URL,
		HTML:       html,
		StatusCode: 200,
		Transport:  fetch.TransportHTTP,
		FetchedAt:  time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
	}, nil
}

// fakeTracker records everything upserted and reports it all inserted.
type fakeTracker struct {
	mu   sync.Mutex
	recs []record.Record
}

func (f *fakeTracker) UpsertBatch(_ context.Context, recs []record.Record) store.BatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, recs...)
	return store.BatchResult{Inserted: len(recs), Errs: map[string]error{}}
}

func (f *fakeTracker) records() []record.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]record.Record(nil), f.recs...)
}

type fakeSites struct {
	mu          sync.Mutex
	id          uuid.UUID
	lastScraped int
	findErr     error
}

func (f *fakeSites) FindOrCreate(_ context.Context, site record.Site, _ time.Time) (record.Site, error) {
	if f.findErr != nil {
		return record.Site{}, f.findErr
	}
	site.ID = f.id
	return site, nil
}

func (f *fakeSites) UpdateLastScraped(_ context.Context, _ uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastScraped++
	return nil
}

const portfolioHTML = `<html><body>
<div class="portfolio-card">
  <h3>Acme Robotics, Inc.</h3>
  <p class="blurb">A Boston, MA-based maker of warehouse robots.</p>
  <span class="sector">Robotics &amp; Automation</span>
  <a class="site" href="https://acme.example">Visit</a>
</div>
<div class="portfolio-card">
  <h3>Globex</h3>
  <p class="blurb">Fintech infrastructure for payments.</p>
  <span class="sector">Fintech</span>
  <a class="site" href="/portfolio/globex">Detail</a>
</div>
</body></html>`

const teamHTML = `<html><body>
<div class="person">
  <h4>Dr. Jane Smith, Managing Partner</h4>
  <p class="bio">Jane leads the growth practice.</p>
</div>
</body></html>`

func testSite() config.SiteConfig {
	cfg := config.SiteConfig{
		Slug:         "sequoia",
		Name:         "Sequoia",
		BaseURL:      "https://sequoia.example",
		PortfolioURL: "https://sequoia.example/portfolio",
		TeamURL:      "https://sequoia.example/team",
	}
	cfg.Portfolio.Item = []string{".portfolio-card"}
	cfg.Portfolio.Name = []string{"h3"}
	cfg.Portfolio.Description = []string{".blurb"}
	cfg.Portfolio.Sector = []string{".sector"}
	cfg.Portfolio.Website = []string{"a.site"}
	cfg.Team.Item = []string{".person"}
	cfg.Team.Name = []string{"h4"}
	cfg.Team.Bio = []string{".bio"}
	return cfg
}

func TestRunSitePortfolioAndTeam(t *testing.T) {
	t.Parallel()

	cfg := testSite()
	fetcher := &fakeFetcher{pages: map[string]string{
		cfg.PortfolioURL: portfolioHTML,
		cfg.TeamURL:      teamHTML,
	}}
	tracker := &fakeTracker{}
	sites := &fakeSites{id: uuid.New()}
	snaps := memory.New()

	runner := NewRunner(fetcher, tracker, sites, nil, WithArchive(snaps))
	results := runner.RunSite(context.Background(), cfg)

	require.Len(t, results, 2)
	for _, res := range results {
		require.NoError(t, res.Err)
	}
	require.Equal(t, StagePortfolio, results[0].Stage)
	require.Equal(t, 2, results[0].Inserted)
	require.Equal(t, StageTeam, results[1].Stage)
	require.Equal(t, 1, results[1].Inserted)

	recs := tracker.records()
	require.Len(t, recs, 3)

	company, ok := recs[0].(record.Company)
	require.True(t, ok)
	require.Equal(t, sites.id, company.SiteID)
	require.Equal(t, "Acme Robotics", company.Name)
	require.Equal(t, "Boston, MA", company.Location)
	require.Equal(t, "https://acme.example", company.Website)

	second, ok := recs[1].(record.Company)
	require.True(t, ok)
	require.Equal(t, "Globex", second.Name)
	// Relative detail links resolve against the site base URL.
	require.Equal(t, "https://sequoia.example/portfolio/globex", second.Website)

	member, ok := recs[2].(record.TeamMember)
	require.True(t, ok)
	require.Equal(t, "Jane Smith", member.Name)
	require.Equal(t, "Managing Partner", member.Title)

	// Both pages were archived before extraction.
	require.Equal(t, 2, snaps.Len())
	require.Equal(t, 1, sites.lastScraped)
}

func TestRunSiteStageIsolation(t *testing.T) {
	t.Parallel()

	cfg := testSite()
	fetcher := &fakeFetcher{
		pages: map[string]string{cfg.TeamURL: teamHTML},
		fails: map[string]error{cfg.PortfolioURL: errors.New("connection refused")},
	}
	tracker := &fakeTracker{}
	sites := &fakeSites{id: uuid.New()}

	runner := NewRunner(fetcher, tracker, sites, nil)
	results := runner.RunSite(context.Background(), cfg)

	require.Len(t, results, 2)
	require.Error(t, results[0].Err)
	require.NoError(t, results[1].Err)
	require.Equal(t, 1, results[1].Inserted)
	// One stage succeeded, so the run still counts.
	require.Equal(t, 1, sites.lastScraped)
}

func TestRunSiteLookupFailure(t *testing.T) {
	t.Parallel()

	cfg := testSite()
	sites := &fakeSites{findErr: errors.New("db down")}
	runner := NewRunner(&fakeFetcher{}, &fakeTracker{}, sites, nil)

	results := runner.RunSite(context.Background(), cfg)
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	require.Zero(t, sites.lastScraped)
}

const feedXML = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<item>
  <title>Term Sheet: venture deals galore</title>
  <link>https://news.example/2025/06/02/term-sheet</link>
  <description>Today's funding roundup</description>
  <pubDate>Mon, 02 Jun 2025 08:00:00 +0000</pubDate>
</item>
<item>
  <title>Opinion: markets</title>
  <link>https://news.example/2025/06/02/opinion</link>
  <description>Nothing relevant here</description>
  <pubDate>Mon, 02 Jun 2025 07:00:00 +0000</pubDate>
</item>
</channel></rss>`

const articleHTML = `<html><head><title>Term Sheet roundup | Fortune</title></head><body>
<article><p>VENTURE DEALS</p>
<p>Acme Robotics, a Boston, MA-based warehouse robotics company, raised $12 million in Series A funding led by Example Ventures.</p>
</article></body></html>`

func TestRunSiteDeals(t *testing.T) {
	t.Parallel()

	cfg := testSite()
	cfg.PortfolioURL = ""
	cfg.TeamURL = ""
	cfg.Feed = config.FeedConfig{URL: "https://news.example/feed", LookbackHours: 0}

	fetcher := &fakeFetcher{pages: map[string]string{
		cfg.Feed.URL: feedXML,
		"https://news.example/2025/06/02/term-sheet": articleHTML,
	}}
	tracker := &fakeTracker{}
	sites := &fakeSites{id: uuid.New()}

	runner := NewRunner(fetcher, tracker, sites, nil)
	results := runner.RunSite(context.Background(), cfg)

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.Equal(t, 1, results[0].Inserted)

	// Only the matching article was fetched after the feed.
	require.Equal(t, []string{cfg.Feed.URL, "https://news.example/2025/06/02/term-sheet"}, fetcher.calls)

	recs := tracker.records()
	require.Len(t, recs, 1)
	deal, ok := recs[0].(record.Deal)
	require.True(t, ok)
	require.Equal(t, "Acme Robotics", deal.StartupName)
	require.Equal(t, "$12,000,000", deal.FundingAmount)
	require.Equal(t, "Series A", deal.FundingStage)
	require.Equal(t, "https://news.example/2025/06/02/term-sheet", deal.SourceArticleURL)
	require.Equal(t, 2025, deal.PublishedAt.Year())
}

func TestRunAllAggregates(t *testing.T) {
	t.Parallel()

	cfg := testSite()
	cfg.TeamURL = ""
	fetcher := &fakeFetcher{pages: map[string]string{cfg.PortfolioURL: portfolioHTML}}
	tracker := &fakeTracker{}
	sites := &fakeSites{id: uuid.New()}

	runner := NewRunner(fetcher, tracker, sites, []config.SiteConfig{cfg})
	report := runner.RunAll(context.Background())

	require.Equal(t, 1, report.Sites)
	require.Len(t, report.Stages, 1)
	require.Zero(t, report.Errs())
	require.Equal(t, 2, report.Stages[0].Inserted)
}
