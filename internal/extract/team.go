package extract

import "github.com/PuerkitoBio/goquery"

// TeamSelectors configures the team extractor for one site.
type TeamSelectors struct {
	Item     []string `mapstructure:"item"`
	Name     []string `mapstructure:"name"`
	Title    []string `mapstructure:"title"`
	Bio      []string `mapstructure:"bio"`
	Photo    []string `mapstructure:"photo"`
	Profile  []string `mapstructure:"profile"`
	LinkedIn []string `mapstructure:"linkedin"`
}

// TeamExtractor pulls member candidates out of a team page.
type TeamExtractor struct {
	sel TeamSelectors
}

// NewTeamExtractor builds an extractor for the given selectors.
func NewTeamExtractor(sel TeamSelectors) *TeamExtractor {
	return &TeamExtractor{sel: sel}
}

// Extract parses the page and returns one candidate per matched item.
func (e *TeamExtractor) Extract(html, pageURL string) ([]MemberCandidate, error) {
	doc, err := parse(html)
	if err != nil {
		return nil, err
	}

	matched := items(doc, e.sel.Item)
	if matched == nil {
		return nil, &NoRecordsError{URL: pageURL, What: "team members"}
	}

	var out []MemberCandidate
	matched.Each(func(_ int, item *goquery.Selection) {
		m := MemberCandidate{
			Name:        firstText(item, e.sel.Name),
			Title:       firstText(item, e.sel.Title),
			Bio:         firstText(item, e.sel.Bio),
			PhotoURL:    absoluteURL(pageURL, firstAttr(item, e.sel.Photo, "src")),
			ProfileURL:  absoluteURL(pageURL, firstAttr(item, e.sel.Profile, "href")),
			LinkedInURL: firstAttr(item, e.sel.LinkedIn, "href"),
		}
		if m.Name == "" {
			return
		}
		out = append(out, m)
	})

	if len(out) == 0 {
		return nil, &NoRecordsError{URL: pageURL, What: "team members"}
	}
	return out, nil
}
