package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/venturescope/scraperd/internal/record"
)

// SiteRepo manages the sites table. Sites come from configuration, so
// the repository only needs to materialize them and keep the
// last-scraped bookkeeping current.
type SiteRepo struct {
	db DB
}

func NewSiteRepo(db DB) *SiteRepo {
	return &SiteRepo{db: db}
}

const findSiteSQL = "SELECT id FROM sites WHERE slug = $1"

const insertSiteSQL = `INSERT INTO sites (id, slug, name, base_url, portfolio_url, team_url, render_hint, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// FindOrCreate resolves a configured site to its database row,
// creating one on first sight. The returned site carries the stored ID.
func (r *SiteRepo) FindOrCreate(ctx context.Context, site record.Site, now time.Time) (record.Site, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, findSiteSQL, site.Slug).Scan(&id)
	switch {
	case err == nil:
		site.ID = id
		return site, nil
	case errors.Is(err, pgx.ErrNoRows):
		site.ID = uuid.New()
		if _, err := r.db.Exec(ctx, insertSiteSQL,
			site.ID, site.Slug, site.Name, site.BaseURL,
			site.PortfolioURL, site.TeamURL, site.RenderHint, now,
		); err != nil {
			return record.Site{}, fmt.Errorf("store: create site %q: %w", site.Slug, err)
		}
		return site, nil
	default:
		return record.Site{}, fmt.Errorf("store: find site %q: %w", site.Slug, err)
	}
}

// UpdateLastScraped stamps the completion time of a site run.
func (r *SiteRepo) UpdateLastScraped(ctx context.Context, id uuid.UUID, now time.Time) error {
	if _, err := r.db.Exec(ctx, "UPDATE sites SET last_scraped_at = $1 WHERE id = $2", now, id); err != nil {
		return fmt.Errorf("store: update site last_scraped_at: %w", err)
	}
	return nil
}
