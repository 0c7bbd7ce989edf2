package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/venturescope/scraperd/internal/metrics"
	"github.com/venturescope/scraperd/internal/notify"
	"github.com/venturescope/scraperd/internal/record"
)

// Outcome classifies what an upsert did to the row.
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeUpdated
	OutcomeUnchanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	case OutcomeUnchanged:
		return "unchanged"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// recordStore is the per-kind persistence surface the tracker drives.
// *Repo implements it against Postgres; tests substitute fakes.
type recordStore interface {
	FindByKey(ctx context.Context, rec record.Record) (*Row, error)
	Insert(ctx context.Context, rec record.Record, hash string, now time.Time) (uuid.UUID, error)
	UpdateContent(ctx context.Context, id uuid.UUID, rec record.Record, hash string, now time.Time) error
	TouchLastSeen(ctx context.Context, id uuid.UUID, now time.Time) error
	InsertChange(ctx context.Context, entityID uuid.UUID, previousHash, newHash string, diffs map[string]FieldDiff, now time.Time) error
}

// Clock supplies the timestamps stamped onto rows.
type Clock interface {
	Now() time.Time
}

const (
	keyStripes       = 64
	subBatchSize     = 50
	batchConcurrency = 4
)

// Tracker implements change-tracked upserts over the per-kind stores.
// Concurrent upserts of the same natural key serialize on a striped
// mutex, so two goroutines can never both decide to insert the same
// record.
type Tracker struct {
	stores    map[record.Kind]recordStore
	publisher notify.Publisher
	clock     Clock
	log       *zap.Logger

	stripes [keyStripes]sync.Mutex
}

// TrackerOption customizes a Tracker.
type TrackerOption func(*Tracker)

// WithPublisher sets the change-event publisher. Defaults to Noop.
func WithPublisher(p notify.Publisher) TrackerOption {
	return func(t *Tracker) { t.publisher = p }
}

// WithClock overrides the wall clock.
func WithClock(c Clock) TrackerOption {
	return func(t *Tracker) { t.clock = c }
}

// WithLogger sets the tracker's logger.
func WithLogger(log *zap.Logger) TrackerOption {
	return func(t *Tracker) { t.log = log }
}

// NewTracker wires a tracker over the given per-kind stores.
func NewTracker(stores map[record.Kind]recordStore, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		stores:    stores,
		publisher: notify.Noop{},
		clock:     systemClock{},
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewTrackerForRepos is the production constructor: one repo per kind.
func NewTrackerForRepos(repos []*Repo, opts ...TrackerOption) *Tracker {
	stores := make(map[record.Kind]recordStore, len(repos))
	for _, r := range repos {
		stores[r.Kind()] = r
	}
	return NewTracker(stores, opts...)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (t *Tracker) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &t.stripes[h.Sum32()%keyStripes]
}

// Upsert persists one record according to the change-tracking
// protocol: insert when the natural key is new, touch last_seen_at
// when the content hash matches, otherwise update the row and append a
// change-log entry with per-field diffs.
func (t *Tracker) Upsert(ctx context.Context, rec record.Record) (Outcome, error) {
	st, ok := t.stores[rec.Kind()]
	if !ok {
		return OutcomeUnchanged, fmt.Errorf("store: no store for kind %s", rec.Kind())
	}

	mu := t.stripe(rec.Key())
	mu.Lock()
	defer mu.Unlock()

	hash := record.Fingerprint(rec.Fields())
	now := t.clock.Now()

	row, err := st.FindByKey(ctx, rec)
	if err != nil {
		return OutcomeUnchanged, err
	}

	if row == nil {
		if _, err := st.Insert(ctx, rec, hash, now); err != nil {
			return OutcomeUnchanged, err
		}
		metrics.ObserveUpsert(rec.Kind().String(), OutcomeInserted.String())
		t.log.Debug("record inserted",
			zap.String("kind", rec.Kind().String()),
			zap.String("key", rec.Key()))
		return OutcomeInserted, nil
	}

	if hash == row.Stored.ContentHash {
		if err := st.TouchLastSeen(ctx, row.Stored.ID, now); err != nil {
			return OutcomeUnchanged, err
		}
		metrics.ObserveUpsert(rec.Kind().String(), OutcomeUnchanged.String())
		return OutcomeUnchanged, nil
	}

	diffs := fieldDiffs(row.Fields, rec.Fields())
	if err := st.UpdateContent(ctx, row.Stored.ID, rec, hash, now); err != nil {
		return OutcomeUnchanged, err
	}
	if err := st.InsertChange(ctx, row.Stored.ID, row.Stored.ContentHash, hash, diffs, now); err != nil {
		return OutcomeUnchanged, err
	}
	metrics.ObserveUpsert(rec.Kind().String(), OutcomeUpdated.String())
	metrics.ObserveChangeRecord(rec.Kind().String())

	t.publish(ctx, rec, row.Stored, hash, diffs, now)
	return OutcomeUpdated, nil
}

func (t *Tracker) publish(ctx context.Context, rec record.Record, prev record.Stored, newHash string, diffs map[string]FieldDiff, now time.Time) {
	changed := make([]string, 0, len(diffs))
	for f := range diffs {
		changed = append(changed, f)
	}

	ev := notify.Event{
		Kind:          rec.Kind().String(),
		EntityID:      prev.ID.String(),
		Site:          rec.Site().String(),
		Key:           rec.Key(),
		PreviousHash:  prev.ContentHash,
		NewHash:       newHash,
		ChangedFields: changed,
		At:            now,
	}
	if err := t.publisher.Publish(ctx, ev); err != nil {
		metrics.ObserveNotification("error")
		t.log.Warn("change notification failed",
			zap.String("kind", ev.Kind),
			zap.String("key", ev.Key),
			zap.Error(err))
		return
	}
	metrics.ObserveNotification("ok")
}

// fieldDiffs compares canonical renderings, so a time.Time in the new
// record matches the string Postgres handed back for the old one.
func fieldDiffs(stored, incoming map[string]any) map[string]FieldDiff {
	diffs := make(map[string]FieldDiff)
	for field, nv := range incoming {
		oldCanon := record.CanonicalValue(stored[field])
		newCanon := record.CanonicalValue(nv)
		if oldCanon != newCanon {
			diffs[field] = FieldDiff{Old: oldCanon, New: newCanon}
		}
	}
	return diffs
}

// BatchResult summarizes an UpsertBatch call. Errs maps a record's
// natural key to the error that sank it.
type BatchResult struct {
	Inserted  int
	Updated   int
	Unchanged int
	Failed    int
	Errs      map[string]error
}

// UpsertBatch persists a slice of records in sub-batches, a few
// in flight at a time. A failing record is counted and reported but
// never stops the rest of the batch.
func (t *Tracker) UpsertBatch(ctx context.Context, recs []record.Record) BatchResult {
	res := BatchResult{Errs: make(map[string]error)}
	var mu sync.Mutex

	sem := make(chan struct{}, batchConcurrency)
	var wg sync.WaitGroup

	for start := 0; start < len(recs); start += subBatchSize {
		end := start + subBatchSize
		if end > len(recs) {
			end = len(recs)
		}
		for _, rec := range recs[start:end] {
			wg.Add(1)
			sem <- struct{}{}
			go func(rec record.Record) {
				defer wg.Done()
				defer func() { <-sem }()

				outcome, err := t.Upsert(ctx, rec)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					res.Failed++
					res.Errs[rec.Key()] = err
					t.log.Warn("batch upsert failed",
						zap.String("kind", rec.Kind().String()),
						zap.String("key", rec.Key()),
						zap.Error(err))
					return
				}
				switch outcome {
				case OutcomeInserted:
					res.Inserted++
				case OutcomeUpdated:
					res.Updated++
				case OutcomeUnchanged:
					res.Unchanged++
				}
			}(rec)
		}
		wg.Wait()
	}
	return res
}
