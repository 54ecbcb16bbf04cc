package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/formguard/internal/db"
	"github.com/sells-group/formguard/internal/model"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store using pgxpool. Visitor transactions are
// serialized with a transaction-scoped advisory lock per visitor key.
type PostgresStore struct {
	pgQueries
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close), nil
}

func newPostgresStore(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{q: pool}, pool: pool, closeFn: closeFn}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	id          TEXT PRIMARY KEY,
	site        TEXT NOT NULL,
	visitor_id  TEXT NOT NULL,
	ip          TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	phone       TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL DEFAULT '',
	behavior    JSONB NOT NULL DEFAULT '{}',
	score       INTEGER NOT NULL,
	reasons     JSONB NOT NULL DEFAULT '[]',
	suspicious  BOOLEAN NOT NULL DEFAULT false,
	accepted    BOOLEAN NOT NULL DEFAULT true,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS visitors (
	site             TEXT NOT NULL,
	visitor_id       TEXT NOT NULL,
	first_seen       TIMESTAMPTZ NOT NULL,
	last_seen        TIMESTAMPTZ NOT NULL,
	last_ip          TEXT NOT NULL DEFAULT '',
	last_user_agent  TEXT NOT NULL DEFAULT '',
	behavior         JSONB NOT NULL DEFAULT '{}',
	submission_count INTEGER NOT NULL DEFAULT 0,
	last_score       INTEGER NOT NULL DEFAULT 0,
	last_reasons     JSONB NOT NULL DEFAULT '[]',
	challenge_owed   BOOLEAN NOT NULL DEFAULT false,
	suspicious       BOOLEAN NOT NULL DEFAULT false,
	blocked          BOOLEAN NOT NULL DEFAULT false,
	last_phone       TEXT NOT NULL DEFAULT '',
	last_name        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (site, visitor_id)
);

CREATE TABLE IF NOT EXISTS blocks (
	kind         TEXT NOT NULL,
	value        TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	derived_from TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, value)
);

CREATE TABLE IF NOT EXISTS challenges (
	id         TEXT PRIMARY KEY,
	site       TEXT NOT NULL,
	visitor_id TEXT NOT NULL,
	question   TEXT NOT NULL,
	answer_mac TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL,
	consumed   BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS alert_dedupe (
	key          TEXT PRIMARY KEY,
	last_sent_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
	id         BIGSERIAL PRIMARY KEY,
	kind       TEXT NOT NULL,
	dedupe_key TEXT NOT NULL,
	site       TEXT NOT NULL,
	visitor_id TEXT NOT NULL,
	ip         TEXT NOT NULL DEFAULT '',
	phone      TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL DEFAULT '',
	score      INTEGER NOT NULL DEFAULT 0,
	reasons    JSONB NOT NULL DEFAULT '[]',
	message    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_submissions_visitor ON submissions(site, visitor_id, created_at);
CREATE INDEX IF NOT EXISTS idx_submissions_phone ON submissions(site, phone, created_at);
CREATE INDEX IF NOT EXISTS idx_submissions_phone_any ON submissions(phone);
CREATE INDEX IF NOT EXISTS idx_submissions_created_at ON submissions(created_at);
CREATE INDEX IF NOT EXISTS idx_visitors_visitor_id ON visitors(visitor_id);
CREATE INDEX IF NOT EXISTS idx_visitors_last_seen ON visitors(last_seen);
CREATE INDEX IF NOT EXISTS idx_blocks_created_at ON blocks(kind, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_challenges_expires_at ON challenges(expires_at);
CREATE INDEX IF NOT EXISTS idx_alert_dedupe_last_sent ON alert_dedupe(last_sent_at);
CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) RunVisitorTx(ctx context.Context, key model.VisitorKey, fn func(tx VisitorTx) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := db.AdvisoryXactLock(ctx, tx, "visitor:"+key.String()); err != nil {
			return eris.Wrap(err, "postgres: lock visitor")
		}
		return fn(pgQueries{q: tx})
	})
}

// Blocks

func (s *PostgresStore) UpsertBlock(ctx context.Context, entry model.BlockEntry) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return upsertBlockPG(ctx, tx, entry)
	})
}

func upsertBlockPG(ctx context.Context, q db.Querier, entry model.BlockEntry) error {
	_, err := q.Exec(ctx,
		`INSERT INTO blocks (kind, value, reason, derived_from, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (kind, value) DO UPDATE SET reason = EXCLUDED.reason, derived_from = EXCLUDED.derived_from`,
		string(entry.Kind), entry.Value, entry.Reason, entry.DerivedFrom, entry.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert block %s %s", entry.Kind, entry.Value)
	}
	if entry.Kind == model.BlockVisitor {
		if _, err := q.Exec(ctx, `UPDATE visitors SET blocked = true WHERE visitor_id = $1`, entry.Value); err != nil {
			return eris.Wrapf(err, "postgres: flag visitor %s blocked", entry.Value)
		}
	}
	return nil
}

func (s *PostgresStore) DeleteBlock(ctx context.Context, kind model.BlockKind, value string) (bool, error) {
	var existed bool
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM blocks WHERE kind = $1 AND value = $2`, string(kind), value)
		if err != nil {
			return eris.Wrapf(err, "postgres: delete block %s %s", kind, value)
		}
		existed = tag.RowsAffected() > 0
		if kind == model.BlockVisitor {
			if _, err := tx.Exec(ctx, `UPDATE visitors SET blocked = false WHERE visitor_id = $1`, value); err != nil {
				return eris.Wrapf(err, "postgres: clear visitor %s blocked", value)
			}
		}
		return nil
	})
	return existed, err
}

func (s *PostgresStore) BlockPhone(ctx context.Context, entry model.BlockEntry, derivedReason string) ([]string, error) {
	var vids []string
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := upsertBlockPG(ctx, tx, entry); err != nil {
			return err
		}

		rows, err := tx.Query(ctx,
			`SELECT DISTINCT visitor_id FROM submissions WHERE phone = $1 ORDER BY visitor_id`, entry.Value)
		if err != nil {
			return eris.Wrapf(err, "postgres: visitors for phone %s", entry.Value)
		}
		vids, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return eris.Wrap(err, "postgres: scan visitors for phone")
		}
		if len(vids) == 0 {
			return nil
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO blocks (kind, value, reason, derived_from, created_at)
			 SELECT $1, v, $2, $3, $4 FROM unnest($5::text[]) AS v
			 ON CONFLICT (kind, value) DO NOTHING`,
			string(model.BlockVisitor), derivedReason, entry.Value, entry.CreatedAt, vids,
		); err != nil {
			return eris.Wrap(err, "postgres: derive visitor blocks")
		}
		if _, err := tx.Exec(ctx, `UPDATE visitors SET blocked = true WHERE visitor_id = ANY($1)`, vids); err != nil {
			return eris.Wrap(err, "postgres: flag derived visitors blocked")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vids, nil
}

// Alerts

func (s *PostgresStore) TouchAlert(ctx context.Context, key string, now time.Time, cooldown time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO alert_dedupe (key, last_sent_at) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET last_sent_at = EXCLUDED.last_sent_at
		 WHERE alert_dedupe.last_sent_at <= $3`,
		key, now, now.Add(-cooldown),
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: touch alert")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) InsertAlert(ctx context.Context, rec *model.AlertRecord) error {
	reasons, err := encodeReasons(rec.Reasons)
	if err != nil {
		return eris.Wrap(err, "postgres: insert alert")
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO alerts (kind, dedupe_key, site, visitor_id, ip, phone, name, score, reasons, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		string(rec.Kind), rec.DedupeKey, rec.Site, rec.VisitorID, rec.IP, rec.Phone, rec.Name,
		rec.Score, string(reasons), rec.Message, rec.CreatedAt,
	).Scan(&rec.ID)
	return eris.Wrap(err, "postgres: insert alert")
}

func (s *PostgresStore) ListAlerts(ctx context.Context, sinceID int64, limit int) ([]model.AlertRecord, error) {
	const cols = `SELECT id, kind, dedupe_key, site, visitor_id, ip, phone, name, score, reasons, message, created_at FROM alerts`
	limit = clampLimit(limit)

	var (
		rows pgx.Rows
		err  error
	)
	if sinceID > 0 {
		rows, err = s.pool.Query(ctx, cols+` WHERE id > $1 ORDER BY id ASC LIMIT $2`, sinceID, limit)
	} else {
		rows, err = s.pool.Query(ctx, cols+` ORDER BY id DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list alerts")
	}
	defer rows.Close()

	var out []model.AlertRecord
	for rows.Next() {
		var (
			rec     model.AlertRecord
			kind    string
			reasons []byte
		)
		if err := rows.Scan(&rec.ID, &kind, &rec.DedupeKey, &rec.Site, &rec.VisitorID, &rec.IP,
			&rec.Phone, &rec.Name, &rec.Score, &reasons, &rec.Message, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert")
		}
		rec.Kind = model.AlertKind(kind)
		if rec.Reasons, err = decodeReasons(reasons); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list alerts rows")
	}
	if sinceID <= 0 {
		reverseAlerts(out)
	}
	return out, nil
}

// Sweep

func (s *PostgresStore) Sweep(ctx context.Context, cutoffs SweepCutoffs) (SweepResult, error) {
	var res SweepResult
	steps := []struct {
		query string
		arg   time.Time
		dst   *int64
	}{
		{`DELETE FROM submissions WHERE created_at < $1`, cutoffs.Horizon, &res.Submissions},
		{`DELETE FROM visitors WHERE last_seen < $1`, cutoffs.Horizon, &res.Aggregates},
		{`DELETE FROM alerts WHERE created_at < $1`, cutoffs.Horizon, &res.Alerts},
		{`DELETE FROM challenges WHERE expires_at < $1`, cutoffs.Now, &res.Challenges},
		{`DELETE FROM alert_dedupe WHERE last_sent_at < $1`, cutoffs.Dedupe, &res.Dedupe},
	}
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, step := range steps {
			tag, err := tx.Exec(ctx, step.query, step.arg)
			if err != nil {
				return eris.Wrapf(err, "postgres: sweep %q", step.query)
			}
			*step.dst = tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return SweepResult{}, err
	}
	return res, nil
}

// pgQueries implements VisitorTx and the block reads over a pool or a tx.
type pgQueries struct {
	q db.Querier
}

func (s pgQueries) CountInWindow(ctx context.Context, key model.VisitorKey, since time.Time) (int, error) {
	var n int
	err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE site = $1 AND visitor_id = $2 AND created_at >= $3`,
		key.Site, key.VisitorID, since,
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count submissions %s", key)
}

func (s pgQueries) DistinctPhones(ctx context.Context, key model.VisitorKey, since time.Time) ([]string, error) {
	return s.distinct(ctx, "phone", key, since)
}

func (s pgQueries) DistinctNames(ctx context.Context, key model.VisitorKey, since time.Time) ([]string, error) {
	return s.distinct(ctx, "name", key, since)
}

// distinct lists the non-empty values of column; column is never user input.
func (s pgQueries) distinct(ctx context.Context, column string, key model.VisitorKey, since time.Time) ([]string, error) {
	rows, err := s.q.Query(ctx,
		`SELECT DISTINCT `+column+` FROM submissions
		 WHERE site = $1 AND visitor_id = $2 AND created_at >= $3 AND `+column+` <> ''
		 ORDER BY `+column,
		key.Site, key.VisitorID, since,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: distinct %s %s", column, key)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return out, eris.Wrapf(err, "postgres: scan distinct %s", column)
}

func (s pgQueries) CountByPhone(ctx context.Context, phone, excludeVisitor string, since time.Time) (int, error) {
	var n int
	err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE phone = $1 AND visitor_id <> $2 AND created_at >= $3`,
		phone, excludeVisitor, since,
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count by phone")
}

func (s pgQueries) InsertChallenge(ctx context.Context, c *model.Challenge) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO challenges (id, site, visitor_id, question, answer_mac, created_at, expires_at, consumed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Site, c.VisitorID, c.Question, c.AnswerMAC, c.CreatedAt, c.ExpiresAt, c.Consumed,
	)
	return eris.Wrap(err, "postgres: insert challenge")
}

func (s pgQueries) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	var c model.Challenge
	err := s.q.QueryRow(ctx,
		`SELECT id, site, visitor_id, question, answer_mac, created_at, expires_at, consumed FROM challenges WHERE id = $1`, id,
	).Scan(&c.ID, &c.Site, &c.VisitorID, &c.Question, &c.AnswerMAC, &c.CreatedAt, &c.ExpiresAt, &c.Consumed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get challenge")
	}
	return &c, nil
}

func (s pgQueries) ConsumeChallenge(ctx context.Context, id string) (bool, error) {
	tag, err := s.q.Exec(ctx, `UPDATE challenges SET consumed = true WHERE id = $1 AND consumed = false`, id)
	if err != nil {
		return false, eris.Wrap(err, "postgres: consume challenge")
	}
	return tag.RowsAffected() == 1, nil
}

func (s pgQueries) GetAggregate(ctx context.Context, key model.VisitorKey) (*model.VisitorAggregate, error) {
	var (
		a                     model.VisitorAggregate
		behavior, lastReasons []byte
	)
	err := s.q.QueryRow(ctx,
		`SELECT site, visitor_id, first_seen, last_seen, last_ip, last_user_agent, behavior, submission_count,
		        last_score, last_reasons, challenge_owed, suspicious, blocked, last_phone, last_name
		 FROM visitors WHERE site = $1 AND visitor_id = $2`,
		key.Site, key.VisitorID,
	).Scan(&a.Site, &a.VisitorID, &a.FirstSeen, &a.LastSeen, &a.LastIP, &a.LastUserAgent, &behavior,
		&a.SubmissionCount, &a.LastScore, &lastReasons, &a.ChallengeOwed, &a.Suspicious, &a.Blocked,
		&a.LastPhone, &a.LastName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get aggregate %s", key)
	}
	if a.Behavior, err = decodeBehavior(behavior); err != nil {
		return nil, eris.Wrapf(err, "postgres: get aggregate %s", key)
	}
	if a.LastReasons, err = decodeReasons(lastReasons); err != nil {
		return nil, eris.Wrapf(err, "postgres: get aggregate %s", key)
	}
	return &a, nil
}

func (s pgQueries) InsertSubmission(ctx context.Context, sub *model.Submission) error {
	behavior, err := encodeBehavior(sub.Behavior)
	if err != nil {
		return eris.Wrap(err, "postgres: insert submission")
	}
	reasons, err := encodeReasons(sub.Reasons)
	if err != nil {
		return eris.Wrap(err, "postgres: insert submission")
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO submissions (id, site, visitor_id, ip, user_agent, phone, name, behavior, score, reasons, suspicious, accepted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sub.ID, sub.Site, sub.VisitorID, sub.IP, sub.UserAgent, sub.Phone, sub.Name, string(behavior),
		sub.Score, string(reasons), sub.Suspicious, sub.Accepted, sub.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert submission %s", sub.ID)
}

func (s pgQueries) UpsertAggregate(ctx context.Context, a *model.VisitorAggregate) error {
	behavior, err := encodeBehavior(a.Behavior)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert aggregate")
	}
	reasons, err := encodeReasons(a.LastReasons)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert aggregate")
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO visitors (site, visitor_id, first_seen, last_seen, last_ip, last_user_agent, behavior,
		                       submission_count, last_score, last_reasons, challenge_owed, suspicious, blocked,
		                       last_phone, last_name)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (site, visitor_id) DO UPDATE SET
		   last_seen = EXCLUDED.last_seen,
		   last_ip = EXCLUDED.last_ip,
		   last_user_agent = EXCLUDED.last_user_agent,
		   behavior = EXCLUDED.behavior,
		   submission_count = EXCLUDED.submission_count,
		   last_score = EXCLUDED.last_score,
		   last_reasons = EXCLUDED.last_reasons,
		   challenge_owed = EXCLUDED.challenge_owed,
		   suspicious = EXCLUDED.suspicious,
		   last_phone = EXCLUDED.last_phone,
		   last_name = EXCLUDED.last_name`,
		a.Site, a.VisitorID, a.FirstSeen, a.LastSeen, a.LastIP, a.LastUserAgent, string(behavior),
		a.SubmissionCount, a.LastScore, string(reasons), a.ChallengeOwed, a.Suspicious, a.Blocked,
		a.LastPhone, a.LastName,
	)
	return eris.Wrapf(err, "postgres: upsert aggregate %s", a.Key())
}

func (s pgQueries) GetBlock(ctx context.Context, kind model.BlockKind, value string) (*model.BlockEntry, error) {
	var (
		e model.BlockEntry
		k string
	)
	err := s.q.QueryRow(ctx,
		`SELECT kind, value, reason, derived_from, created_at FROM blocks WHERE kind = $1 AND value = $2`,
		string(kind), value,
	).Scan(&k, &e.Value, &e.Reason, &e.DerivedFrom, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get block %s", kind)
	}
	e.Kind = model.BlockKind(k)
	return &e, nil
}

func (s pgQueries) ListBlocks(ctx context.Context, kind model.BlockKind, limit int) ([]model.BlockEntry, error) {
	rows, err := s.q.Query(ctx,
		`SELECT kind, value, reason, derived_from, created_at FROM blocks WHERE kind = $1
		 ORDER BY created_at DESC, value LIMIT $2`,
		string(kind), clampLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list blocks %s", kind)
	}
	defer rows.Close()

	var out []model.BlockEntry
	for rows.Next() {
		var (
			e model.BlockEntry
			k string
		)
		if err := rows.Scan(&k, &e.Value, &e.Reason, &e.DerivedFrom, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan block")
		}
		e.Kind = model.BlockKind(k)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list blocks rows")
}
