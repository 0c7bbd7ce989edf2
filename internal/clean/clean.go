// Package clean normalizes raw extracted field values into the
// canonical forms the tracker fingerprints. Every function is pure;
// values that cannot be normalized come back as a ValidationError so
// callers can drop the record instead of persisting junk.
package clean

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ValidationError reports a field that failed normalization. It is
// fatal for retry purposes: re-fetching will not fix bad content.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	zeroWidth     = strings.NewReplacer(
		"\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "", "\u00a0", " ",
	)
	entities = strings.NewReplacer(
		"&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">",
		"&quot;", `"`, "&#x27;", "'", "&#39;", "'",
	)
)

// Cleaner normalizes extracted values. BaseURL resolves relative
// links; a zero Cleaner is usable for everything else.
type Cleaner struct {
	BaseURL string
}

// Text collapses whitespace runs, strips zero-width characters, and
// decodes the handful of HTML entities that survive extraction.
func (Cleaner) Text(s string) string {
	s = zeroWidth.Replace(s)
	s = entities.Replace(s)
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

var companySuffixes = []string{
	", Inc.", ", Inc", ", LLC", ", Corp.", ", Corporation", ", Ltd.", ", Limited",
	" Inc.", " Inc", " LLC", " Corp.", " Corporation", " Ltd.", " Limited",
	" S.A.", " S.L.", " B.V.", " GmbH", " AG",
}

var companyJunk = regexp.MustCompile(`[^\p{L}\p{N}\s.\-&]`)

// CompanyName strips legal suffixes and stray punctuation. An empty
// result is a validation failure: the name is the natural key.
func (c Cleaner) CompanyName(s string) (string, error) {
	name := c.Text(s)
	for _, suffix := range companySuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}
	name = strings.TrimSpace(companyJunk.ReplaceAllString(name, ""))
	if name == "" {
		return "", &ValidationError{Field: "name", Reason: "empty after normalization"}
	}
	return name, nil
}

// Sector maps free-form industry labels onto canonical sectors. An
// unmapped label is title-cased; an empty one is "Uncategorized".
func (c Cleaner) Sector(s string) string {
	cleaned := strings.ToLower(c.Text(s))
	if cleaned == "" {
		return "Uncategorized"
	}
	// Multi-sector labels keep only the first.
	if i := strings.IndexAny(cleaned, "/,&"); i >= 0 {
		cleaned = strings.TrimSpace(cleaned[:i])
	}
	if canon, ok := sectorMap[cleaned]; ok {
		return canon
	}
	for _, key := range sectorKeys {
		if strings.Contains(cleaned, key) {
			return sectorMap[key]
		}
	}
	return titleCase(cleaned)
}

var honorifics = map[string]bool{
	"mr": true, "mr.": true, "mrs": true, "mrs.": true, "ms": true, "ms.": true,
	"dr": true, "dr.": true, "prof": true, "prof.": true,
}

// PersonName drops leading honorifics and normalizes spacing.
func (c Cleaner) PersonName(s string) (string, error) {
	name := c.Text(s)
	parts := strings.Fields(name)
	for len(parts) > 0 && honorifics[strings.ToLower(parts[0])] {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return "", &ValidationError{Field: "name", Reason: "empty after normalization"}
	}
	return strings.Join(parts, " "), nil
}

var nameTitlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(.+?),\s*(.+)$`),      // Jane Doe, CEO
	regexp.MustCompile(`^(.+?)\s+-\s+(.+)$`),   // Jane Doe - CEO
	regexp.MustCompile(`^(.+?)\s*\((.+?)\)$`),  // Jane Doe (CEO)
	regexp.MustCompile(`^(.+?)\s*\|\s*(.+)$`),  // Jane Doe | CEO
}

// NameAndTitle splits a combined "name, title" string. When no
// separator matches, the whole value is the name and the title is
// empty.
func (c Cleaner) NameAndTitle(s string) (name, title string) {
	s = c.Text(s)
	for _, p := range nameTitlePatterns {
		if m := p.FindStringSubmatch(s); m != nil {
			return c.Text(m[1]), c.Text(m[2])
		}
	}
	return s, ""
}

// Title canonicalizes job titles against the seniority table.
func (c Cleaner) Title(s string) string {
	lower := strings.ToLower(c.Text(s))
	if lower == "" {
		return ""
	}
	if canon, ok := titleMap[lower]; ok {
		return canon
	}
	for _, key := range titleKeys {
		if strings.Contains(lower, key) {
			return titleMap[key]
		}
	}
	return titleCase(lower)
}

var currencyCodes = map[string]string{
	"$": "$", "€": "€", "£": "£", "¥": "¥", "₹": "₹",
	"USD": "$", "EUR": "€", "GBP": "£", "JPY": "¥", "INR": "₹",
	"CHF": "CHF", "AUD": "AUD", "CAD": "CAD",
}

var fundingPattern = regexp.MustCompile(
	`(?i)^([$€£¥₹]|[A-Z]{3})?\s*([\d.,]+)\s*([kKmMbB]?)(?:illion|n)?\b`)

// FundingAmount parses "$12M", "€3.5 million", "USD 250k" and the
// like into a canonical symbol-plus-grouped-digits string such as
// "$12,000,000". A value the pattern cannot read is a validation
// failure.
func (c Cleaner) FundingAmount(s string) (string, error) {
	amount := c.Text(s)
	// "£9 million ($11.6 million)" keeps the first figure only.
	if i := strings.IndexByte(amount, '('); i >= 0 {
		amount = strings.TrimSpace(amount[:i])
	}
	m := fundingPattern.FindStringSubmatch(amount)
	if m == nil {
		return "", &ValidationError{Field: "funding_amount", Reason: fmt.Sprintf("unparsable amount %q", s)}
	}

	symbol := "$"
	if m[1] != "" {
		mapped, ok := currencyCodes[strings.ToUpper(m[1])]
		if !ok {
			mapped, ok = currencyCodes[m[1]]
		}
		if ok {
			symbol = mapped
		}
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
	if err != nil {
		return "", &ValidationError{Field: "funding_amount", Reason: fmt.Sprintf("unparsable number %q", m[2])}
	}
	switch strings.ToLower(m[3]) {
	case "k":
		value *= 1_000
	case "m":
		value *= 1_000_000
	case "b":
		value *= 1_000_000_000
	default:
		lower := strings.ToLower(amount)
		switch {
		case strings.Contains(lower, "billion"):
			value *= 1_000_000_000
		case strings.Contains(lower, "million"):
			value *= 1_000_000
		case strings.Contains(lower, "thousand"):
			value *= 1_000
		}
	}

	// Letter codes such as CHF read better spaced; symbols abut.
	sep := ""
	if r, _ := utf8.DecodeRuneInString(symbol); unicode.IsLetter(r) {
		sep = " "
	}
	return symbol + sep + groupDigits(int64(math.Round(value))), nil
}

var stageMap = map[string]string{
	"pre-seed": "Pre-Seed", "pre seed": "Pre-Seed", "preseed": "Pre-Seed",
	"seed": "Seed", "angel": "Angel",
	"series a": "Series A", "series b": "Series B", "series c": "Series C",
	"series d": "Series D", "series e": "Series E",
	"bridge": "Bridge", "growth": "Growth", "expansion": "Growth",
	"mezzanine": "Mezzanine", "ipo": "IPO",
	"acquisition": "Acquisition", "merger": "Merger",
}

// FundingStage canonicalizes round names ("series a" -> "Series A").
func (c Cleaner) FundingStage(s string) string {
	cleaned := strings.ToLower(c.Text(s))
	if cleaned == "" {
		return ""
	}
	if canon, ok := stageMap[cleaned]; ok {
		return canon
	}
	return titleCase(cleaned)
}

var trackingParams = map[string]bool{
	"utm_source": true, "utm_medium": true, "utm_campaign": true,
	"utm_term": true, "utm_content": true, "fbclid": true, "gclid": true, "ref": true,
}

// URL resolves relative links against BaseURL, defaults the scheme to
// https, lowercases the host, and strips fragments plus tracking
// parameters.
func (c Cleaner) URL(s string) (string, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return "", &ValidationError{Field: "url", Reason: "empty"}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", &ValidationError{Field: "url", Reason: err.Error()}
	}
	if !u.IsAbs() {
		if c.BaseURL != "" {
			base, berr := url.Parse(c.BaseURL)
			if berr != nil {
				return "", &ValidationError{Field: "url", Reason: fmt.Sprintf("bad base url: %v", berr)}
			}
			u = base.ResolveReference(u)
		} else {
			u, err = url.Parse("https://" + raw)
			if err != nil {
				return "", &ValidationError{Field: "url", Reason: err.Error()}
			}
		}
	}
	if u.Host == "" {
		return "", &ValidationError{Field: "url", Reason: fmt.Sprintf("no host in %q", s)}
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	q := u.Query()
	for param := range q {
		if trackingParams[strings.ToLower(param)] {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// LinkedInURL validates the host and strips query noise so the same
// profile always produces the same value.
func (c Cleaner) LinkedInURL(s string) (string, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return "", &ValidationError{Field: "linkedin_url", Reason: "empty"}
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", &ValidationError{Field: "linkedin_url", Reason: err.Error()}
	}
	host := strings.ToLower(u.Hostname())
	if host != "linkedin.com" && !strings.HasSuffix(host, ".linkedin.com") {
		return "", &ValidationError{Field: "linkedin_url", Reason: fmt.Sprintf("host %q is not linkedin.com", host)}
	}
	out := "https://" + host + strings.TrimSuffix(u.Path, "/")
	return out, nil
}

var locationPattern = regexp.MustCompile(`(?i)^(?:A\s+)?([\w\s.,]+?(?:,\s*\w+)?)-based\s+`)

// LocationFromSummary pulls a leading "City-based" clause out of a
// description, returning the location and the remaining summary.
func (c Cleaner) LocationFromSummary(summary string) (location, rest string) {
	summary = c.Text(summary)
	m := locationPattern.FindStringSubmatch(summary)
	if m == nil {
		return "", summary
	}
	location = strings.TrimRight(strings.TrimSpace(m[1]), ",")
	rest = capitalizeFirst(strings.TrimSpace(summary[len(m[0]):]))
	return location, rest
}

// titleCase capitalizes each word. It is the fallback for values no
// canonical table covers.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = capitalizeFirst(w)
	}
	return strings.Join(words, " ")
}

// capitalizeFirst upper-cases the leading rune, not the leading byte.
func capitalizeFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// groupDigits renders n with comma thousands separators.
func groupDigits(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
