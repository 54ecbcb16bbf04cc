package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/formguard/internal/model"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using modernc.org/sqlite. Writers take the
// database lock at BEGIN, so visitor transactions are serialized.
type SQLiteStore struct {
	sqlQueries
	db *sql.DB
}

// sqlitePragmas are applied to every pooled connection via the DSN.
var sqlitePragmas = []string{
	"_pragma=busy_timeout(5000)",
	"_pragma=journal_mode(WAL)",
	"_pragma=synchronous(NORMAL)",
	"_pragma=foreign_keys(ON)",
	"_txlock=immediate",
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	dsn := sqliteDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{sqlQueries: sqlQueries{q: db}, db: db}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(sqlitePragmas, "&")
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	id          TEXT PRIMARY KEY,
	site        TEXT NOT NULL,
	visitor_id  TEXT NOT NULL,
	ip          TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	phone       TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL DEFAULT '',
	behavior    TEXT NOT NULL DEFAULT '{}',
	score       INTEGER NOT NULL,
	reasons     TEXT NOT NULL DEFAULT '[]',
	suspicious  INTEGER NOT NULL DEFAULT 0,
	accepted    INTEGER NOT NULL DEFAULT 1,
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS visitors (
	site             TEXT NOT NULL,
	visitor_id       TEXT NOT NULL,
	first_seen       INTEGER NOT NULL,
	last_seen        INTEGER NOT NULL,
	last_ip          TEXT NOT NULL DEFAULT '',
	last_user_agent  TEXT NOT NULL DEFAULT '',
	behavior         TEXT NOT NULL DEFAULT '{}',
	submission_count INTEGER NOT NULL DEFAULT 0,
	last_score       INTEGER NOT NULL DEFAULT 0,
	last_reasons     TEXT NOT NULL DEFAULT '[]',
	challenge_owed   INTEGER NOT NULL DEFAULT 0,
	suspicious       INTEGER NOT NULL DEFAULT 0,
	blocked          INTEGER NOT NULL DEFAULT 0,
	last_phone       TEXT NOT NULL DEFAULT '',
	last_name        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (site, visitor_id)
);

CREATE TABLE IF NOT EXISTS blocks (
	kind         TEXT NOT NULL,
	value        TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	derived_from TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	PRIMARY KEY (kind, value)
);

CREATE TABLE IF NOT EXISTS challenges (
	id         TEXT PRIMARY KEY,
	site       TEXT NOT NULL,
	visitor_id TEXT NOT NULL,
	question   TEXT NOT NULL,
	answer_mac TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	consumed   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS alert_dedupe (
	key          TEXT PRIMARY KEY,
	last_sent_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	dedupe_key TEXT NOT NULL,
	site       TEXT NOT NULL,
	visitor_id TEXT NOT NULL,
	ip         TEXT NOT NULL DEFAULT '',
	phone      TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL DEFAULT '',
	score      INTEGER NOT NULL DEFAULT 0,
	reasons    TEXT NOT NULL DEFAULT '[]',
	message    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_submissions_visitor ON submissions(site, visitor_id, created_at);
CREATE INDEX IF NOT EXISTS idx_submissions_phone ON submissions(site, phone, created_at);
CREATE INDEX IF NOT EXISTS idx_submissions_phone_any ON submissions(phone);
CREATE INDEX IF NOT EXISTS idx_submissions_created_at ON submissions(created_at);
CREATE INDEX IF NOT EXISTS idx_visitors_visitor_id ON visitors(visitor_id);
CREATE INDEX IF NOT EXISTS idx_visitors_last_seen ON visitors(last_seen);
CREATE INDEX IF NOT EXISTS idx_blocks_created_at ON blocks(kind, created_at);
CREATE INDEX IF NOT EXISTS idx_challenges_expires_at ON challenges(expires_at);
CREATE INDEX IF NOT EXISTS idx_alert_dedupe_last_sent ON alert_dedupe(last_sent_at);
CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RunVisitorTx runs fn inside an immediate transaction. SQLite has a single
// writer, so the key only labels errors.
func (s *SQLiteStore) RunVisitorTx(ctx context.Context, key model.VisitorKey, fn func(tx VisitorTx) error) error {
	return s.withTx(ctx, "visitor "+key.String(), func(tx *sql.Tx) error {
		return fn(sqlQueries{q: tx})
	})
}

func (s *SQLiteStore) withTx(ctx context.Context, label string, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin tx %s", label)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback() //nolint:errcheck
			panic(p)
		}
		if err != nil {
			tx.Rollback() //nolint:errcheck
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit tx %s", label)
}

// Blocks

func (s *SQLiteStore) UpsertBlock(ctx context.Context, entry model.BlockEntry) error {
	return s.withTx(ctx, "upsert block", func(tx *sql.Tx) error {
		return upsertBlockSQL(ctx, tx, entry)
	})
}

func upsertBlockSQL(ctx context.Context, tx *sql.Tx, entry model.BlockEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO blocks (kind, value, reason, derived_from, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(kind, value) DO UPDATE SET reason = excluded.reason, derived_from = excluded.derived_from`,
		string(entry.Kind), entry.Value, entry.Reason, entry.DerivedFrom, toNanos(entry.CreatedAt),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert block %s %s", entry.Kind, entry.Value)
	}
	if entry.Kind == model.BlockVisitor {
		if _, err := tx.ExecContext(ctx, `UPDATE visitors SET blocked = 1 WHERE visitor_id = ?`, entry.Value); err != nil {
			return eris.Wrapf(err, "sqlite: flag visitor %s blocked", entry.Value)
		}
	}
	return nil
}

func (s *SQLiteStore) DeleteBlock(ctx context.Context, kind model.BlockKind, value string) (bool, error) {
	var existed bool
	err := s.withTx(ctx, "delete block", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE kind = ? AND value = ?`, string(kind), value)
		if err != nil {
			return eris.Wrapf(err, "sqlite: delete block %s %s", kind, value)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return eris.Wrap(err, "sqlite: rows affected")
		}
		existed = n > 0
		if kind == model.BlockVisitor {
			if _, err := tx.ExecContext(ctx, `UPDATE visitors SET blocked = 0 WHERE visitor_id = ?`, value); err != nil {
				return eris.Wrapf(err, "sqlite: clear visitor %s blocked", value)
			}
		}
		return nil
	})
	return existed, err
}

func (s *SQLiteStore) BlockPhone(ctx context.Context, entry model.BlockEntry, derivedReason string) ([]string, error) {
	var vids []string
	err := s.withTx(ctx, "block phone", func(tx *sql.Tx) error {
		if err := upsertBlockSQL(ctx, tx, entry); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT DISTINCT visitor_id FROM submissions WHERE phone = ? ORDER BY visitor_id`, entry.Value)
		if err != nil {
			return eris.Wrapf(err, "sqlite: visitors for phone %s", entry.Value)
		}
		vids, err = scanStrings(rows)
		if err != nil {
			return eris.Wrap(err, "sqlite: scan visitors for phone")
		}

		for _, vid := range vids {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO blocks (kind, value, reason, derived_from, created_at) VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(kind, value) DO NOTHING`,
				string(model.BlockVisitor), vid, derivedReason, entry.Value, toNanos(entry.CreatedAt),
			); err != nil {
				return eris.Wrapf(err, "sqlite: derive block for visitor %s", vid)
			}
			if _, err := tx.ExecContext(ctx, `UPDATE visitors SET blocked = 1 WHERE visitor_id = ?`, vid); err != nil {
				return eris.Wrapf(err, "sqlite: flag visitor %s blocked", vid)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vids, nil
}

// Alerts

func (s *SQLiteStore) TouchAlert(ctx context.Context, key string, now time.Time, cooldown time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_dedupe (key, last_sent_at) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET last_sent_at = excluded.last_sent_at
		 WHERE alert_dedupe.last_sent_at <= ?`,
		key, toNanos(now), toNanos(now.Add(-cooldown)),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: touch alert")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) InsertAlert(ctx context.Context, rec *model.AlertRecord) error {
	reasons, err := encodeReasons(rec.Reasons)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert alert")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (kind, dedupe_key, site, visitor_id, ip, phone, name, score, reasons, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.Kind), rec.DedupeKey, rec.Site, rec.VisitorID, rec.IP, rec.Phone, rec.Name,
		rec.Score, string(reasons), rec.Message, toNanos(rec.CreatedAt),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert alert")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: alert id")
	}
	rec.ID = id
	return nil
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, sinceID int64, limit int) ([]model.AlertRecord, error) {
	const cols = `SELECT id, kind, dedupe_key, site, visitor_id, ip, phone, name, score, reasons, message, created_at FROM alerts`
	limit = clampLimit(limit)

	var (
		rows *sql.Rows
		err  error
	)
	if sinceID > 0 {
		rows, err = s.db.QueryContext(ctx, cols+` WHERE id > ? ORDER BY id ASC LIMIT ?`, sinceID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, cols+` ORDER BY id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list alerts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AlertRecord
	for rows.Next() {
		var (
			rec     model.AlertRecord
			kind    string
			reasons string
			created int64
		)
		if err := rows.Scan(&rec.ID, &kind, &rec.DedupeKey, &rec.Site, &rec.VisitorID, &rec.IP,
			&rec.Phone, &rec.Name, &rec.Score, &reasons, &rec.Message, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alert")
		}
		rec.Kind = model.AlertKind(kind)
		rec.CreatedAt = fromNanos(created)
		if rec.Reasons, err = decodeReasons([]byte(reasons)); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alert")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list alerts rows")
	}
	if sinceID <= 0 {
		reverseAlerts(out)
	}
	return out, nil
}

// Sweep

func (s *SQLiteStore) Sweep(ctx context.Context, cutoffs SweepCutoffs) (SweepResult, error) {
	var res SweepResult
	steps := []struct {
		query string
		arg   time.Time
		dst   *int64
	}{
		{`DELETE FROM submissions WHERE created_at < ?`, cutoffs.Horizon, &res.Submissions},
		{`DELETE FROM visitors WHERE last_seen < ?`, cutoffs.Horizon, &res.Aggregates},
		{`DELETE FROM alerts WHERE created_at < ?`, cutoffs.Horizon, &res.Alerts},
		{`DELETE FROM challenges WHERE expires_at < ?`, cutoffs.Now, &res.Challenges},
		{`DELETE FROM alert_dedupe WHERE last_sent_at < ?`, cutoffs.Dedupe, &res.Dedupe},
	}
	err := s.withTx(ctx, "sweep", func(tx *sql.Tx) error {
		for _, step := range steps {
			r, err := tx.ExecContext(ctx, step.query, toNanos(step.arg))
			if err != nil {
				return eris.Wrapf(err, "sqlite: sweep %q", step.query)
			}
			if *step.dst, err = r.RowsAffected(); err != nil {
				return eris.Wrap(err, "sqlite: rows affected")
			}
		}
		return nil
	})
	if err != nil {
		return SweepResult{}, err
	}
	return res, nil
}

// sqlExecer is satisfied by *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlQueries implements VisitorTx and the block reads over a pool or a tx.
type sqlQueries struct {
	q sqlExecer
}

func (s sqlQueries) CountInWindow(ctx context.Context, key model.VisitorKey, since time.Time) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE site = ? AND visitor_id = ? AND created_at >= ?`,
		key.Site, key.VisitorID, toNanos(since),
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count submissions %s", key)
}

func (s sqlQueries) DistinctPhones(ctx context.Context, key model.VisitorKey, since time.Time) ([]string, error) {
	return s.distinct(ctx, "phone", key, since)
}

func (s sqlQueries) DistinctNames(ctx context.Context, key model.VisitorKey, since time.Time) ([]string, error) {
	return s.distinct(ctx, "name", key, since)
}

// distinct lists the non-empty values of column; column is never user input.
func (s sqlQueries) distinct(ctx context.Context, column string, key model.VisitorKey, since time.Time) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT DISTINCT `+column+` FROM submissions
		 WHERE site = ? AND visitor_id = ? AND created_at >= ? AND `+column+` <> ''
		 ORDER BY `+column,
		key.Site, key.VisitorID, toNanos(since),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: distinct %s %s", column, key)
	}
	out, err := scanStrings(rows)
	return out, eris.Wrapf(err, "sqlite: scan distinct %s", column)
}

func (s sqlQueries) CountByPhone(ctx context.Context, phone, excludeVisitor string, since time.Time) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE phone = ? AND visitor_id <> ? AND created_at >= ?`,
		phone, excludeVisitor, toNanos(since),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count by phone")
}

func (s sqlQueries) InsertChallenge(ctx context.Context, c *model.Challenge) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO challenges (id, site, visitor_id, question, answer_mac, created_at, expires_at, consumed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Site, c.VisitorID, c.Question, c.AnswerMAC, toNanos(c.CreatedAt), toNanos(c.ExpiresAt), c.Consumed,
	)
	return eris.Wrap(err, "sqlite: insert challenge")
}

func (s sqlQueries) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	var (
		c                model.Challenge
		created, expires int64
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT id, site, visitor_id, question, answer_mac, created_at, expires_at, consumed FROM challenges WHERE id = ?`, id,
	).Scan(&c.ID, &c.Site, &c.VisitorID, &c.Question, &c.AnswerMAC, &created, &expires, &c.Consumed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get challenge")
	}
	c.CreatedAt = fromNanos(created)
	c.ExpiresAt = fromNanos(expires)
	return &c, nil
}

func (s sqlQueries) ConsumeChallenge(ctx context.Context, id string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `UPDATE challenges SET consumed = 1 WHERE id = ? AND consumed = 0`, id)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: consume challenge")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s sqlQueries) GetAggregate(ctx context.Context, key model.VisitorKey) (*model.VisitorAggregate, error) {
	var (
		a                    model.VisitorAggregate
		first, last          int64
		behavior, lastReason string
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT site, visitor_id, first_seen, last_seen, last_ip, last_user_agent, behavior, submission_count,
		        last_score, last_reasons, challenge_owed, suspicious, blocked, last_phone, last_name
		 FROM visitors WHERE site = ? AND visitor_id = ?`,
		key.Site, key.VisitorID,
	).Scan(&a.Site, &a.VisitorID, &first, &last, &a.LastIP, &a.LastUserAgent, &behavior, &a.SubmissionCount,
		&a.LastScore, &lastReason, &a.ChallengeOwed, &a.Suspicious, &a.Blocked, &a.LastPhone, &a.LastName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get aggregate %s", key)
	}
	a.FirstSeen = fromNanos(first)
	a.LastSeen = fromNanos(last)
	if a.Behavior, err = decodeBehavior([]byte(behavior)); err != nil {
		return nil, eris.Wrapf(err, "sqlite: get aggregate %s", key)
	}
	if a.LastReasons, err = decodeReasons([]byte(lastReason)); err != nil {
		return nil, eris.Wrapf(err, "sqlite: get aggregate %s", key)
	}
	return &a, nil
}

func (s sqlQueries) InsertSubmission(ctx context.Context, sub *model.Submission) error {
	behavior, err := encodeBehavior(sub.Behavior)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert submission")
	}
	reasons, err := encodeReasons(sub.Reasons)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert submission")
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO submissions (id, site, visitor_id, ip, user_agent, phone, name, behavior, score, reasons, suspicious, accepted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Site, sub.VisitorID, sub.IP, sub.UserAgent, sub.Phone, sub.Name, string(behavior),
		sub.Score, string(reasons), sub.Suspicious, sub.Accepted, toNanos(sub.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert submission %s", sub.ID)
}

func (s sqlQueries) UpsertAggregate(ctx context.Context, a *model.VisitorAggregate) error {
	behavior, err := encodeBehavior(a.Behavior)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert aggregate")
	}
	reasons, err := encodeReasons(a.LastReasons)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert aggregate")
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO visitors (site, visitor_id, first_seen, last_seen, last_ip, last_user_agent, behavior,
		                       submission_count, last_score, last_reasons, challenge_owed, suspicious, blocked,
		                       last_phone, last_name)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(site, visitor_id) DO UPDATE SET
		   last_seen = excluded.last_seen,
		   last_ip = excluded.last_ip,
		   last_user_agent = excluded.last_user_agent,
		   behavior = excluded.behavior,
		   submission_count = excluded.submission_count,
		   last_score = excluded.last_score,
		   last_reasons = excluded.last_reasons,
		   challenge_owed = excluded.challenge_owed,
		   suspicious = excluded.suspicious,
		   last_phone = excluded.last_phone,
		   last_name = excluded.last_name`,
		a.Site, a.VisitorID, toNanos(a.FirstSeen), toNanos(a.LastSeen), a.LastIP, a.LastUserAgent, string(behavior),
		a.SubmissionCount, a.LastScore, string(reasons), a.ChallengeOwed, a.Suspicious, a.Blocked,
		a.LastPhone, a.LastName,
	)
	return eris.Wrapf(err, "sqlite: upsert aggregate %s", a.Key())
}

func (s sqlQueries) GetBlock(ctx context.Context, kind model.BlockKind, value string) (*model.BlockEntry, error) {
	var (
		e       model.BlockEntry
		k       string
		created int64
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT kind, value, reason, derived_from, created_at FROM blocks WHERE kind = ? AND value = ?`,
		string(kind), value,
	).Scan(&k, &e.Value, &e.Reason, &e.DerivedFrom, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get block %s", kind)
	}
	e.Kind = model.BlockKind(k)
	e.CreatedAt = fromNanos(created)
	return &e, nil
}

func (s sqlQueries) ListBlocks(ctx context.Context, kind model.BlockKind, limit int) ([]model.BlockEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT kind, value, reason, derived_from, created_at FROM blocks WHERE kind = ?
		 ORDER BY created_at DESC, value LIMIT ?`,
		string(kind), clampLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list blocks %s", kind)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.BlockEntry
	for rows.Next() {
		var (
			e       model.BlockEntry
			k       string
			created int64
		)
		if err := rows.Scan(&k, &e.Value, &e.Reason, &e.DerivedFrom, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan block")
		}
		e.Kind = model.BlockKind(k)
		e.CreatedAt = fromNanos(created)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list blocks rows")
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close() //nolint:errcheck
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func reverseAlerts(recs []model.AlertRecord) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
}
