package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/venturescope/scraperd/internal/record"
)

// tableSpec fixes the SQL shape for one record kind. Content columns
// are listed in a stable order so every prepared statement and scan
// agrees on positions.
type tableSpec struct {
	table       string
	changeTable string
	entityFK    string
	contentCols []string
	keyWhere    string
	siteScoped  bool
}

func specFor(kind record.Kind) (tableSpec, error) {
	switch kind {
	case record.KindCompany:
		return tableSpec{
			table:       kind.Table(),
			changeTable: kind.ChangeTable(),
			entityFK:    "company_id",
			contentCols: []string{"name", "description", "sector", "location", "website", "logo_url", "detail_url"},
			keyWhere:    "site_id = $1 AND lower(name) = lower($2)",
			siteScoped:  true,
		}, nil
	case record.KindMember:
		return tableSpec{
			table:       kind.Table(),
			changeTable: kind.ChangeTable(),
			entityFK:    "member_id",
			contentCols: []string{"name", "title", "bio", "photo_url", "profile_url", "linkedin_url"},
			keyWhere:    "site_id = $1 AND lower(name) = lower($2)",
			siteScoped:  true,
		}, nil
	case record.KindDeal:
		return tableSpec{
			table:       kind.Table(),
			changeTable: kind.ChangeTable(),
			entityFK:    "deal_id",
			contentCols: []string{"startup_name", "description", "sector", "location", "funding_amount", "funding_stage", "source_article_url", "article_title", "published_at"},
			keyWhere:    "source_article_url = $1 AND lower(startup_name) = lower($2)",
			siteScoped:  false,
		}, nil
	default:
		return tableSpec{}, fmt.Errorf("store: no table spec for kind %s", kind)
	}
}

// Repo runs the row-level SQL for one record kind. It holds no state
// beyond the pool and the precomputed statements, so a single instance
// is safe for concurrent use.
type Repo struct {
	db   DB
	kind record.Kind
	spec tableSpec

	findSQL   string
	insertSQL string
	updateSQL string
	touchSQL  string
	changeSQL string
}

// NewRepo builds a repository for the given kind.
func NewRepo(db DB, kind record.Kind) (*Repo, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}

	bookkeeping := "id, content_hash, first_seen_at, last_seen_at, created_at, updated_at"
	cols := strings.Join(spec.contentCols, ", ")

	findSQL := fmt.Sprintf(
		"SELECT %s, %s FROM %s WHERE %s",
		bookkeeping, cols, spec.table, spec.keyWhere,
	)

	// id, site_id, content cols, content_hash, then the four timestamps.
	insertCols := append([]string{"id", "site_id"}, spec.contentCols...)
	insertCols = append(insertCols, "content_hash", "first_seen_at", "last_seen_at", "created_at", "updated_at")
	placeholders := make([]string, len(insertCols))
	for i := range insertCols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		spec.table, strings.Join(insertCols, ", "), strings.Join(placeholders, ", "),
	)

	sets := make([]string, 0, len(spec.contentCols)+3)
	for i, c := range spec.contentCols {
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+1))
	}
	n := len(spec.contentCols)
	sets = append(sets,
		fmt.Sprintf("content_hash = $%d", n+1),
		fmt.Sprintf("last_seen_at = $%d", n+2),
		fmt.Sprintf("updated_at = $%d", n+3),
	)
	updateSQL := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $%d",
		spec.table, strings.Join(sets, ", "), n+4,
	)

	touchSQL := fmt.Sprintf("UPDATE %s SET last_seen_at = $1 WHERE id = $2", spec.table)

	changeSQL := fmt.Sprintf(
		"INSERT INTO %s (id, %s, previous_hash, new_hash, field_diffs, changed_at) VALUES ($1, $2, $3, $4, $5, $6)",
		spec.changeTable, spec.entityFK,
	)

	return &Repo{
		db:        db,
		kind:      kind,
		spec:      spec,
		findSQL:   findSQL,
		insertSQL: insertSQL,
		updateSQL: updateSQL,
		touchSQL:  touchSQL,
		changeSQL: changeSQL,
	}, nil
}

// Kind reports which record family the repository serves.
func (r *Repo) Kind() record.Kind { return r.kind }

func (r *Repo) keyArgs(rec record.Record) []any {
	fields := rec.Fields()
	if r.spec.siteScoped {
		return []any{rec.Site(), fields["name"]}
	}
	return []any{fields["source_article_url"], fields["startup_name"]}
}

// FindByKey loads the stored row matching the record's natural key.
// A missing row is not an error: it returns (nil, nil).
func (r *Repo) FindByKey(ctx context.Context, rec record.Record) (*Row, error) {
	var row Row
	row.Fields = make(map[string]any, len(r.spec.contentCols))

	dest := []any{
		&row.Stored.ID,
		&row.Stored.ContentHash,
		&row.Stored.FirstSeenAt,
		&row.Stored.LastSeenAt,
		&row.Stored.CreatedAt,
		&row.Stored.UpdatedAt,
	}
	values := make([]any, len(r.spec.contentCols))
	for i := range values {
		dest = append(dest, &values[i])
	}

	err := r.db.QueryRow(ctx, r.findSQL, r.keyArgs(rec)...).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find %s by key: %w", r.kind, err)
	}

	for i, c := range r.spec.contentCols {
		row.Fields[c] = values[i]
	}
	return &row, nil
}

// Insert writes a brand-new row and returns its generated ID.
func (r *Repo) Insert(ctx context.Context, rec record.Record, hash string, now time.Time) (uuid.UUID, error) {
	id := uuid.New()
	fields := rec.Fields()

	args := []any{id, rec.Site()}
	for _, c := range r.spec.contentCols {
		args = append(args, fields[c])
	}
	args = append(args, hash, now, now, now, now)

	if _, err := r.db.Exec(ctx, r.insertSQL, args...); err != nil {
		return uuid.Nil, fmt.Errorf("store: insert %s: %w", r.kind, err)
	}
	return id, nil
}

// UpdateContent overwrites the content columns and hash of an existing
// row, bumping last_seen_at and updated_at.
func (r *Repo) UpdateContent(ctx context.Context, id uuid.UUID, rec record.Record, hash string, now time.Time) error {
	fields := rec.Fields()

	args := make([]any, 0, len(r.spec.contentCols)+4)
	for _, c := range r.spec.contentCols {
		args = append(args, fields[c])
	}
	args = append(args, hash, now, now, id)

	if _, err := r.db.Exec(ctx, r.updateSQL, args...); err != nil {
		return fmt.Errorf("store: update %s %s: %w", r.kind, id, err)
	}
	return nil
}

// TouchLastSeen records that an unchanged row was observed again.
func (r *Repo) TouchLastSeen(ctx context.Context, id uuid.UUID, now time.Time) error {
	if _, err := r.db.Exec(ctx, r.touchSQL, now, id); err != nil {
		return fmt.Errorf("store: touch %s %s: %w", r.kind, id, err)
	}
	return nil
}

// InsertChange appends one change-log entry for the entity.
func (r *Repo) InsertChange(ctx context.Context, entityID uuid.UUID, previousHash, newHash string, diffs map[string]FieldDiff, now time.Time) error {
	payload, err := json.Marshal(diffs)
	if err != nil {
		return fmt.Errorf("store: encode field diffs: %w", err)
	}
	if _, err := r.db.Exec(ctx, r.changeSQL, uuid.New(), entityID, previousHash, newHash, payload, now); err != nil {
		return fmt.Errorf("store: insert %s change: %w", r.kind, err)
	}
	return nil
}
