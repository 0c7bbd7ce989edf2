// Package record defines the scraped domain entities, their natural
// keys, and the content fingerprint used for change detection.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a record family and its backing table.
type Kind int

const (
	KindCompany Kind = iota
	KindMember
	KindDeal
)

func (k Kind) String() string {
	switch k {
	case KindCompany:
		return "company"
	case KindMember:
		return "member"
	case KindDeal:
		return "deal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Table returns the primary table for the kind.
func (k Kind) Table() string {
	switch k {
	case KindCompany:
		return "portfolio_companies"
	case KindMember:
		return "team_members"
	case KindDeal:
		return "deals"
	default:
		return ""
	}
}

// ChangeTable returns the change-log table for the kind.
func (k Kind) ChangeTable() string {
	switch k {
	case KindCompany:
		return "company_changes"
	case KindMember:
		return "member_changes"
	case KindDeal:
		return "deal_changes"
	default:
		return ""
	}
}

// Record is any entity the tracker can persist. Fields must return
// only significant content; volatile bookkeeping (IDs, scrape
// timestamps) never participates in the fingerprint.
type Record interface {
	Kind() Kind
	Key() string
	Site() uuid.UUID
	Fields() map[string]any
}

// Site is a configured scrape target.
type Site struct {
	ID           uuid.UUID
	Slug         string
	Name         string
	BaseURL      string
	PortfolioURL string
	TeamURL      string
	RenderHint   bool
}

// Company is one portfolio company listed by a site.
type Company struct {
	ID          uuid.UUID
	SiteID      uuid.UUID
	Name        string
	Description string
	Sector      string
	Location    string
	Website     string
	LogoURL     string
	DetailURL   string
}

func (Company) Kind() Kind { return KindCompany }

func (c Company) Site() uuid.UUID { return c.SiteID }

// Key is the natural key: site plus normalized name.
func (c Company) Key() string {
	return c.SiteID.String() + "/" + strings.ToLower(c.Name)
}

func (c Company) Fields() map[string]any {
	return map[string]any{
		"name":        c.Name,
		"description": c.Description,
		"sector":      c.Sector,
		"location":    c.Location,
		"website":     c.Website,
		"logo_url":    c.LogoURL,
		"detail_url":  c.DetailURL,
	}
}

// TeamMember is one person on a site's team page.
type TeamMember struct {
	ID          uuid.UUID
	SiteID      uuid.UUID
	Name        string
	Title       string
	Bio         string
	PhotoURL    string
	ProfileURL  string
	LinkedInURL string
}

func (TeamMember) Kind() Kind { return KindMember }

func (m TeamMember) Site() uuid.UUID { return m.SiteID }

func (m TeamMember) Key() string {
	return m.SiteID.String() + "/" + strings.ToLower(m.Name)
}

func (m TeamMember) Fields() map[string]any {
	return map[string]any{
		"name":         m.Name,
		"title":        m.Title,
		"bio":          m.Bio,
		"photo_url":    m.PhotoURL,
		"profile_url":  m.ProfileURL,
		"linkedin_url": m.LinkedInURL,
	}
}

// Deal is a funding event extracted from a news article.
type Deal struct {
	ID               uuid.UUID
	SiteID           uuid.UUID
	StartupName      string
	Description      string
	Sector           string
	Location         string
	FundingAmount    string
	FundingStage     string
	SourceArticleURL string
	ArticleTitle     string
	PublishedAt      time.Time
}

func (Deal) Kind() Kind { return KindDeal }

func (d Deal) Site() uuid.UUID { return d.SiteID }

// Key is the natural key: the article that reported the deal plus the
// startup it concerns. One article routinely names several deals.
func (d Deal) Key() string {
	return d.SourceArticleURL + "/" + strings.ToLower(d.StartupName)
}

func (d Deal) Fields() map[string]any {
	return map[string]any{
		"startup_name":       d.StartupName,
		"description":        d.Description,
		"sector":             d.Sector,
		"location":           d.Location,
		"funding_amount":     d.FundingAmount,
		"funding_stage":      d.FundingStage,
		"source_article_url": d.SourceArticleURL,
		"article_title":      d.ArticleTitle,
		"published_at":       d.PublishedAt,
	}
}

// Stored carries the persistence bookkeeping for a record row.
type Stored struct {
	ID          uuid.UUID
	ContentHash string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Fingerprint digests significant fields into a stable hex string.
// Keys are sorted before hashing, so insertion order never changes the
// result; any changed value does.
func Fingerprint(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\n", k, CanonicalValue(fields[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalValue renders a field value deterministically. Times
// collapse to UTC RFC 3339 so location and monotonic-clock noise never
// leak into the hash or into field diffs.
func CanonicalValue(v any) string {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
