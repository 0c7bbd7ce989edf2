// Package extract turns fetched HTML into candidate records. Each
// extractor is configured with ordered selector fallback lists per
// site; the first selector that matches anything wins. Candidates are
// raw field bags; normalization and fingerprinting happen in the
// clean and record packages.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// NoRecordsError distinguishes "page fetched but nothing matched" from
// transport failures. It usually means the site changed its markup.
type NoRecordsError struct {
	URL  string
	What string
}

func (e *NoRecordsError) Error() string {
	return fmt.Sprintf("no %s extracted from %s", e.What, e.URL)
}

// CompanyCandidate is a raw portfolio entry.
type CompanyCandidate struct {
	Name        string
	Description string
	Sector      string
	Location    string
	Website     string
	LogoURL     string
	DetailURL   string
}

// MemberCandidate is a raw team-page entry.
type MemberCandidate struct {
	Name        string
	Title       string
	Bio         string
	PhotoURL    string
	ProfileURL  string
	LinkedInURL string
}

// parse builds a goquery document from fetched markup.
func parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// firstText returns the trimmed text of the first selector in the
// fallback list that matches inside sel.
func firstText(sel *goquery.Selection, selectors []string) string {
	for _, s := range selectors {
		if s == "" {
			continue
		}
		found := sel.Find(s).First()
		if found.Length() > 0 {
			return strings.TrimSpace(found.Text())
		}
	}
	return ""
}

// firstAttr returns the named attribute from the first matching
// selector in the fallback list.
func firstAttr(sel *goquery.Selection, selectors []string, attr string) string {
	for _, s := range selectors {
		if s == "" {
			continue
		}
		found := sel.Find(s).First()
		if v, ok := found.Attr(attr); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// items returns the matches of the first item selector that finds
// anything at all.
func items(doc *goquery.Document, selectors []string) *goquery.Selection {
	for _, s := range selectors {
		if s == "" {
			continue
		}
		found := doc.Find(s)
		if found.Length() > 0 {
			return found
		}
	}
	return nil
}

// absoluteURL resolves href against base. Unparsable values come back
// unchanged; the cleaner rejects them later.
func absoluteURL(base, href string) string {
	if href == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}
