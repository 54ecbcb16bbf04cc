package store

import (
	"context"
	"time"

	"github.com/sells-group/formguard/internal/model"
)

// HistoryReader exposes the rolling-window aggregate queries the risk scorer
// needs. All counts cover accepted submissions with created_at >= since.
type HistoryReader interface {
	CountInWindow(ctx context.Context, key model.VisitorKey, since time.Time) (int, error)
	DistinctPhones(ctx context.Context, key model.VisitorKey, since time.Time) ([]string, error)
	DistinctNames(ctx context.Context, key model.VisitorKey, since time.Time) ([]string, error)
	// CountByPhone counts submissions on any site carrying phone from
	// visitors other than excludeVisitor.
	CountByPhone(ctx context.Context, phone, excludeVisitor string, since time.Time) (int, error)
}

// ChallengeStore persists captcha challenges.
type ChallengeStore interface {
	InsertChallenge(ctx context.Context, c *model.Challenge) error
	// GetChallenge returns nil, nil when the id is unknown.
	GetChallenge(ctx context.Context, id string) (*model.Challenge, error)
	// ConsumeChallenge flips consumed false -> true. It reports false when
	// the challenge was already consumed or does not exist.
	ConsumeChallenge(ctx context.Context, id string) (bool, error)
}

// VisitorTx is the query surface available inside a per-visitor transaction.
type VisitorTx interface {
	HistoryReader
	ChallengeStore

	// GetAggregate returns nil, nil for a first sighting.
	GetAggregate(ctx context.Context, key model.VisitorKey) (*model.VisitorAggregate, error)
	InsertSubmission(ctx context.Context, sub *model.Submission) error
	// UpsertAggregate writes the aggregate. The blocked flag is only written
	// on insert; afterwards it is owned by the block operations.
	UpsertAggregate(ctx context.Context, agg *model.VisitorAggregate) error
}

// BlockStore persists deny-list entries.
type BlockStore interface {
	// GetBlock returns nil, nil when no entry matches.
	GetBlock(ctx context.Context, kind model.BlockKind, value string) (*model.BlockEntry, error)
	// UpsertBlock creates or refreshes an entry. Visitor entries also set the
	// cached blocked flag on every aggregate of that visitor.
	UpsertBlock(ctx context.Context, entry model.BlockEntry) error
	// DeleteBlock removes an entry and reports whether one existed. Visitor
	// entries also clear the cached blocked flag.
	DeleteBlock(ctx context.Context, kind model.BlockKind, value string) (bool, error)
	ListBlocks(ctx context.Context, kind model.BlockKind, limit int) ([]model.BlockEntry, error)
	// BlockPhone upserts a phone entry and, in the same transaction, a
	// derived visitor entry for every visitor that ever submitted the phone.
	// Existing visitor entries are left untouched. Returns the visitor ids.
	BlockPhone(ctx context.Context, entry model.BlockEntry, derivedReason string) ([]string, error)
}

// AlertStore persists the alert dedupe gate and the alert audit log.
type AlertStore interface {
	// TouchAlert records now under key when the key is new or its last send
	// is at least cooldown old, and reports whether it did.
	TouchAlert(ctx context.Context, key string, now time.Time, cooldown time.Duration) (bool, error)
	// InsertAlert appends a record and sets its ID.
	InsertAlert(ctx context.Context, rec *model.AlertRecord) error
	// ListAlerts returns records with ID > sinceID in ascending order. A zero
	// sinceID returns the newest limit records.
	ListAlerts(ctx context.Context, sinceID int64, limit int) ([]model.AlertRecord, error)
}

// SweepCutoffs bounds a retention sweep.
type SweepCutoffs struct {
	// Horizon purges submissions, aggregates and alert records older than it.
	Horizon time.Time
	// Now purges challenges that expired before it.
	Now time.Time
	// Dedupe purges dedupe rows whose last send is older than it.
	Dedupe time.Time
}

// SweepResult counts the rows removed by a sweep.
type SweepResult struct {
	Submissions int64 `json:"submissions"`
	Aggregates  int64 `json:"aggregates"`
	Challenges  int64 `json:"challenges"`
	Dedupe      int64 `json:"dedupe"`
	Alerts      int64 `json:"alerts"`
}

// Total returns the number of rows removed.
func (r SweepResult) Total() int64 {
	return r.Submissions + r.Aggregates + r.Challenges + r.Dedupe + r.Alerts
}

// Store defines the persistence interface for the risk engine. The embedded
// VisitorTx methods run outside any transaction.
type Store interface {
	VisitorTx
	BlockStore
	AlertStore

	// RunVisitorTx runs fn in a transaction serialized per visitor key.
	// Different keys proceed in parallel where the backend allows it.
	RunVisitorTx(ctx context.Context, key model.VisitorKey, fn func(tx VisitorTx) error) error

	Sweep(ctx context.Context, cutoffs SweepCutoffs) (SweepResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// DefaultListLimit caps listings when the caller passes a non-positive limit.
const DefaultListLimit = 200

func clampLimit(limit int) int {
	if limit <= 0 || limit > DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}
