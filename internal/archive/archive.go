// Package archive persists raw page snapshots before extraction runs,
// so a bad selector set or parser bug can be replayed against the
// exact bytes that were fetched.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Snapshot is one fetched page body awaiting archival.
type Snapshot struct {
	Site      string
	Stage     string
	URL       string
	Transport string
	Content   []byte
	FetchedAt time.Time
}

// Store persists snapshots and returns the URI of the stored object.
type Store interface {
	Save(ctx context.Context, snap Snapshot) (string, error)
}

// Noop discards snapshots. It stands in when archiving is disabled.
type Noop struct{}

func (Noop) Save(context.Context, Snapshot) (string, error) { return "", nil }

// ObjectKey derives the storage path for a snapshot. The date comes
// from the fetch time and the hash prefix keeps two fetches of the
// same page on the same day from colliding.
func ObjectKey(snap Snapshot) string {
	sum := sha256.Sum256(snap.Content)
	t := snap.FetchedAt.UTC()
	return fmt.Sprintf("raw/%s/%04d/%02d/%02d/%s-%s.html",
		snap.Site, t.Year(), t.Month(), t.Day(),
		snap.Stage, hex.EncodeToString(sum[:])[:12])
}
