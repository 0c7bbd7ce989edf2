package extract

import "github.com/PuerkitoBio/goquery"

// PortfolioSelectors configures the portfolio extractor for one site.
// Every field is an ordered fallback list; Item locates the repeating
// company element.
type PortfolioSelectors struct {
	Item        []string `mapstructure:"item"`
	Name        []string `mapstructure:"name"`
	Description []string `mapstructure:"description"`
	Sector      []string `mapstructure:"sector"`
	Location    []string `mapstructure:"location"`
	Website     []string `mapstructure:"website"`
	Logo        []string `mapstructure:"logo"`
	Detail      []string `mapstructure:"detail"`
}

// PortfolioExtractor pulls company candidates out of a portfolio page.
type PortfolioExtractor struct {
	sel PortfolioSelectors
}

// NewPortfolioExtractor builds an extractor for the given selectors.
func NewPortfolioExtractor(sel PortfolioSelectors) *PortfolioExtractor {
	return &PortfolioExtractor{sel: sel}
}

// Extract parses the page and returns one candidate per matched item.
// Items without a name are skipped; a page yielding zero candidates is
// a NoRecordsError.
func (e *PortfolioExtractor) Extract(html, pageURL string) ([]CompanyCandidate, error) {
	doc, err := parse(html)
	if err != nil {
		return nil, err
	}

	matched := items(doc, e.sel.Item)
	if matched == nil {
		return nil, &NoRecordsError{URL: pageURL, What: "portfolio companies"}
	}

	var out []CompanyCandidate
	matched.Each(func(_ int, item *goquery.Selection) {
		c := CompanyCandidate{
			Name:        firstText(item, e.sel.Name),
			Description: firstText(item, e.sel.Description),
			Sector:      firstText(item, e.sel.Sector),
			Location:    firstText(item, e.sel.Location),
			Website:     absoluteURL(pageURL, firstAttr(item, e.sel.Website, "href")),
			LogoURL:     absoluteURL(pageURL, firstAttr(item, e.sel.Logo, "src")),
			DetailURL:   absoluteURL(pageURL, firstAttr(item, e.sel.Detail, "href")),
		}
		if c.Name == "" {
			return
		}
		out = append(out, c)
	})

	if len(out) == 0 {
		return nil, &NoRecordsError{URL: pageURL, What: "portfolio companies"}
	}
	return out, nil
}
