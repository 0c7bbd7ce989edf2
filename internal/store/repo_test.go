package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/venturescope/scraperd/internal/record"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func testCompany(siteID uuid.UUID) record.Company {
	return record.Company{
		SiteID:      siteID,
		Name:        "Acme Robotics",
		Description: "Warehouse automation",
		Sector:      "Robotics",
		Location:    "Boston, MA",
		Website:     "https://acme.example",
		LogoURL:     "https://cdn.example/acme.png",
		DetailURL:   "https://fund.example/portfolio/acme",
	}
}

func TestRepoFindByKeyMissing(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	repo, err := NewRepo(mock, record.KindCompany)
	require.NoError(t, err)

	siteID := uuid.New()
	mock.ExpectQuery(repo.findSQL).
		WithArgs(siteID, "Acme Robotics").
		WillReturnError(pgx.ErrNoRows)

	row, err := repo.FindByKey(context.Background(), testCompany(siteID))
	require.NoError(t, err)
	require.Nil(t, row)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoFindByKey(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	repo, err := NewRepo(mock, record.KindCompany)
	require.NoError(t, err)

	siteID := uuid.New()
	rowID := uuid.New()
	seen := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(repo.findSQL).
		WithArgs(siteID, "Acme Robotics").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "content_hash", "first_seen_at", "last_seen_at", "created_at", "updated_at",
			"name", "description", "sector", "location", "website", "logo_url", "detail_url",
		}).AddRow(
			rowID, "abc123", seen, seen, seen, seen,
			"Acme Robotics", "Warehouse automation", "Robotics", "Boston, MA",
			"https://acme.example", "https://cdn.example/acme.png", "https://fund.example/portfolio/acme",
		))

	row, err := repo.FindByKey(context.Background(), testCompany(siteID))
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, rowID, row.Stored.ID)
	require.Equal(t, "abc123", row.Stored.ContentHash)
	require.Equal(t, "Robotics", row.Fields["sector"])
	require.Equal(t, "Acme Robotics", row.Fields["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoInsert(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	repo, err := NewRepo(mock, record.KindCompany)
	require.NoError(t, err)

	siteID := uuid.New()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(repo.insertSQL).
		WithArgs(
			pgxmock.AnyArg(), siteID,
			"Acme Robotics", "Warehouse automation", "Robotics", "Boston, MA",
			"https://acme.example", "https://cdn.example/acme.png", "https://fund.example/portfolio/acme",
			"abc123", now, now, now, now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := repo.Insert(context.Background(), testCompany(siteID), "abc123", now)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoUpdateContent(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	repo, err := NewRepo(mock, record.KindCompany)
	require.NoError(t, err)

	siteID := uuid.New()
	rowID := uuid.New()
	now := time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(repo.updateSQL).
		WithArgs(
			"Acme Robotics", "Warehouse automation", "Robotics", "Boston, MA",
			"https://acme.example", "https://cdn.example/acme.png", "https://fund.example/portfolio/acme",
			"def456", now, now, rowID,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = repo.UpdateContent(context.Background(), rowID, testCompany(siteID), "def456", now)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoTouchLastSeen(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	repo, err := NewRepo(mock, record.KindMember)
	require.NoError(t, err)

	rowID := uuid.New()
	now := time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE team_members SET last_seen_at = $1 WHERE id = $2").
		WithArgs(now, rowID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.TouchLastSeen(context.Background(), rowID, now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoInsertChange(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	repo, err := NewRepo(mock, record.KindDeal)
	require.NoError(t, err)

	entityID := uuid.New()
	now := time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC)
	diffs := map[string]FieldDiff{
		"funding_amount": {Old: "$10,000,000", New: "$12,000,000"},
	}

	mock.ExpectExec(repo.changeSQL).
		WithArgs(pgxmock.AnyArg(), entityID, "abc123", "def456", pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.InsertChange(context.Background(), entityID, "abc123", "def456", diffs, now)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoDealKeyArgs(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	repo, err := NewRepo(mock, record.KindDeal)
	require.NoError(t, err)

	deal := record.Deal{
		SiteID:           uuid.New(),
		StartupName:      "Globex",
		SourceArticleURL: "https://news.example/2025/06/02/term-sheet",
	}

	mock.ExpectQuery(repo.findSQL).
		WithArgs("https://news.example/2025/06/02/term-sheet", "Globex").
		WillReturnError(pgx.ErrNoRows)

	row, err := repo.FindByKey(context.Background(), deal)
	require.NoError(t, err)
	require.Nil(t, row)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRepoUnknownKind(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	_, err := NewRepo(mock, record.Kind(99))
	require.Error(t, err)
}
