package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DealCandidate is one funding event spotted in an article.
type DealCandidate struct {
	StartupName      string
	Description      string
	FundingAmount    string
	FundingStage     string
	SourceArticleURL string
	ArticleTitle     string
	PublishedAt      time.Time
}

var (
	// sectionPatterns locate the deals roundup inside an article. The
	// block runs to the next blank line.
	sectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)venture\s+deals?\s*:?\s*(.*?)(?:\n\n|\z)`),
		regexp.MustCompile(`(?is)deal\s*roundup\s*:?\s*(.*?)(?:\n\n|\z)`),
		regexp.MustCompile(`(?is)funding\s*news\s*:?\s*(.*?)(?:\n\n|\z)`),
		regexp.MustCompile(`(?is)investment\s+deals\s*:?\s*(.*?)(?:\n\n|\z)`),
	}

	// dealPatterns match the sentence shapes deal roundups use:
	// "Acme raised $12M in Series A funding led by Foo Capital".
	dealPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)([A-Z][a-zA-Z\s&'.-]+?),?\s+(?:raised|secured|closed)\s+\$([0-9][0-9.,]*)\s*(million|billion|thousand|[MBK])?\s+(?:in\s+)?(?:an?\s+)?(series\s+[A-Z]|seed|pre-seed|angel)(?:\s+(?:funding|round))?(?:\s+(?:from|led\s+by)\s+([^.;\n]+))?`),
		regexp.MustCompile(`(?i)([A-Z][a-zA-Z\s&'.-]+?),?\s+\$([0-9][0-9.,]*)\s*(million|billion|thousand|[MBK])?\s+(?:an?\s+)?(series\s+[A-Z]|seed|pre-seed|angel)(?:\s+(?:from|led\s+by)\s+([^.;\n]+))?`),
	}

	titleSuffix = regexp.MustCompile(`(?i)\s*\|\s*Fortune.*$`)
	urlDate     = regexp.MustCompile(`/(\d{4})/(\d{2})/(\d{2})/`)
	textDates   = []*regexp.Regexp{
		regexp.MustCompile(`([A-Z][a-z]+\s+\d{1,2},\s+\d{4})`),
		regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`),
	}
)

// DealExtractor pulls funding deals out of news articles. Roundup
// articles carry several loosely formatted deals per page, so this
// extractor works on sentence patterns instead of site selectors.
type DealExtractor struct{}

// NewDealExtractor builds a DealExtractor.
func NewDealExtractor() *DealExtractor {
	return &DealExtractor{}
}

// Extract finds the deals section of an article and returns one
// candidate per matched deal sentence. A funding article with no
// recognizable deals is a NoRecordsError.
func (e *DealExtractor) Extract(html, articleURL string) ([]DealCandidate, error) {
	doc, err := parse(html)
	if err != nil {
		return nil, err
	}

	title := e.articleTitle(doc)
	published := e.publishedAt(doc, articleURL)
	text := e.articleText(doc)

	section := text
	for _, p := range sectionPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			section = m[1]
			break
		}
	}

	var out []DealCandidate
	seen := make(map[string]bool)
	for _, p := range dealPatterns {
		matches := p.FindAllStringSubmatch(section, -1)
		if len(matches) == 0 {
			continue
		}
		for _, m := range matches {
			name := strings.TrimSpace(m[1])
			if name == "" || seen[strings.ToLower(name)] {
				continue
			}
			seen[strings.ToLower(name)] = true

			amount := "$" + m[2]
			if m[3] != "" {
				amount += " " + m[3]
			}
			stage := strings.TrimSpace(m[4])
			var investors string
			if len(m) > 5 {
				investors = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(m[5]), "."))
			}

			desc := name + " raised " + amount + " in " + stage
			if investors != "" {
				desc += " led by " + investors
			}
			out = append(out, DealCandidate{
				StartupName:      name,
				Description:      desc,
				FundingAmount:    amount,
				FundingStage:     stage,
				SourceArticleURL: articleURL,
				ArticleTitle:     title,
				PublishedAt:      published,
			})
		}
		// The looser fallback pattern re-matches the same sentences
		// with verbs folded into the name, so the first pattern that
		// hits wins.
		break
	}

	if len(out) == 0 {
		return nil, &NoRecordsError{URL: articleURL, What: "deals"}
	}
	return out, nil
}

func (e *DealExtractor) articleTitle(doc *goquery.Document) string {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	return titleSuffix.ReplaceAllString(title, "")
}

// articleText flattens article paragraphs into newline-joined text so
// the section and sentence patterns can run over it.
func (e *DealExtractor) articleText(doc *goquery.Document) string {
	var parts []string
	scope := doc.Find("article p")
	if scope.Length() == 0 {
		scope = doc.Find("p")
	}
	scope.Each(func(_ int, p *goquery.Selection) {
		if t := strings.TrimSpace(p.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n")
}

// publishedAt prefers the /YYYY/MM/DD/ path segment, then a date in
// the text. Zero means unknown; the caller falls back to the feed's
// pubDate.
func (e *DealExtractor) publishedAt(doc *goquery.Document, articleURL string) time.Time {
	if m := urlDate.FindStringSubmatch(articleURL); m != nil {
		if t, err := time.Parse("2006/01/02", m[1]+"/"+m[2]+"/"+m[3]); err == nil {
			return t.UTC()
		}
	}
	text := doc.Text()
	for i, p := range textDates {
		if m := p.FindStringSubmatch(text); m != nil {
			layout := "January 2, 2006"
			if i == 1 {
				layout = "2006-01-02"
			}
			if t, err := time.Parse(layout, m[1]); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}
