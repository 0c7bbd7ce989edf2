package record

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestFingerprintIgnoresFieldOrder(t *testing.T) {
	t.Parallel()

	// Maps iterate in random order; building the same logical content
	// twice exercises different insertion orders across runs.
	a := map[string]any{
		"name":     "Acme",
		"sector":   "Fintech",
		"location": "Berlin",
		"website":  "https://acme.example",
	}
	b := map[string]any{
		"website":  "https://acme.example",
		"location": "Berlin",
		"sector":   "Fintech",
		"name":     "Acme",
	}
	require.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintChangesWithAnyValue(t *testing.T) {
	t.Parallel()

	base := map[string]any{"name": "Acme", "sector": "Fintech"}
	changed := map[string]any{"name": "Acme", "sector": "Healthcare"}
	require.NotEqual(t, Fingerprint(base), Fingerprint(changed))
}

func TestFingerprintTimeCanonicalization(t *testing.T) {
	t.Parallel()

	utc := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	berlin := time.FixedZone("CEST", 2*60*60)
	local := time.Date(2025, 6, 1, 12, 0, 0, 0, berlin)

	a := Fingerprint(map[string]any{"published_at": utc})
	b := Fingerprint(map[string]any{"published_at": local})
	require.Equal(t, a, b)

	zero := Fingerprint(map[string]any{"published_at": time.Time{}})
	require.NotEqual(t, a, zero)
}

func TestCompanyFieldsExcludeBookkeeping(t *testing.T) {
	t.Parallel()

	c := Company{
		ID:     uuid.New(),
		SiteID: uuid.New(),
		Name:   "Acme",
		Sector: "Fintech",
	}
	fields := c.Fields()
	require.NotContains(t, fields, "id")
	require.NotContains(t, fields, "site_id")

	// The fingerprint must not move when only identity changes.
	other := c
	other.ID = uuid.New()
	require.Equal(t, Fingerprint(c.Fields()), Fingerprint(other.Fields()))
}

func TestNaturalKeys(t *testing.T) {
	t.Parallel()

	siteID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	c := Company{SiteID: siteID, Name: "Acme Robotics"}
	require.Equal(t, siteID.String()+"/acme robotics", c.Key())

	m := TeamMember{SiteID: siteID, Name: "Jane Doe"}
	require.Equal(t, siteID.String()+"/jane doe", m.Key())

	d := Deal{SourceArticleURL: "https://news.example/a1", StartupName: "Acme"}
	require.Equal(t, "https://news.example/a1/acme", d.Key())

	// Two deals from the same article stay distinct.
	d2 := Deal{SourceArticleURL: "https://news.example/a1", StartupName: "Umbrella"}
	require.NotEqual(t, d.Key(), d2.Key())
}

func TestKindTables(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind        Kind
		name        string
		table       string
		changeTable string
	}{
		{KindCompany, "company", "portfolio_companies", "company_changes"},
		{KindMember, "member", "team_members", "member_changes"},
		{KindDeal, "deal", "deals", "deal_changes"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.name, tc.kind.String())
		require.Equal(t, tc.table, tc.kind.Table())
		require.Equal(t, tc.changeTable, tc.kind.ChangeTable())
	}
}
