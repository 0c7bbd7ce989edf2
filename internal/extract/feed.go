package extract

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// Article is a feed item worth fetching for deal extraction.
type Article struct {
	URL         string
	Title       string
	Summary     string
	PublishedAt time.Time
}

// rss mirrors the subset of RSS 2.0 the discoverer reads.
type rss struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

// pubDateLayouts are the timestamp formats seen in the wild.
var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

// defaultKeywords flag funding coverage worth a fetch.
var defaultKeywords = []string{
	"venture", "funding", "raised", "series", "seed", "deal", "investment",
}

// FeedDiscoverer filters an RSS feed down to fresh funding articles.
type FeedDiscoverer struct {
	// Lookback drops items older than now − Lookback. Zero keeps
	// everything.
	Lookback time.Duration

	// Keywords must appear (any of them) in the title or description.
	// Empty falls back to the funding vocabulary.
	Keywords []string
}

// Discover decodes feed XML and returns recent matching articles,
// newest first as feeds usually order them.
func (d *FeedDiscoverer) Discover(content string, now time.Time) ([]Article, error) {
	var feed rss
	if err := xml.Unmarshal([]byte(content), &feed); err != nil {
		return nil, fmt.Errorf("decode rss feed: %w", err)
	}

	keywords := d.Keywords
	if len(keywords) == 0 {
		keywords = defaultKeywords
	}

	var out []Article
	for _, item := range feed.Channel.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}
		published := parsePubDate(item.PubDate)
		if d.Lookback > 0 && !published.IsZero() && now.Sub(published) > d.Lookback {
			continue
		}
		if !matchesAny(item.Title+" "+item.Description, keywords) {
			continue
		}
		out = append(out, Article{
			URL:         link,
			Title:       strings.TrimSpace(item.Title),
			Summary:     strings.TrimSpace(item.Description),
			PublishedAt: published,
		})
	}
	return out, nil
}

func parsePubDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func matchesAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
