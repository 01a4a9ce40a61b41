package limiter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/Masterminds/semver/v3"
)

// Dialect selects the SQL flavour spoken by a SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DefaultTable is the table SQLStore uses unless WithTable overrides it.
const DefaultTable = "rate_limit_counters"

var (
	// ON CONFLICT ... RETURNING needs SQLite 3.35 and PostgreSQL 9.5.
	minSQLiteVersion   = semver.MustParse("3.35.0")
	minPostgresVersion = semver.MustParse("9.5.0")

	tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// SQLStore is a CounterStore on top of database/sql. Each bucket is one row
// holding the counter and its expiry as Unix milliseconds; the increment is a
// single upsert, so the database serializes concurrent callers per key.
//
// The caller owns db and registers the driver (modernc.org/sqlite or
// github.com/jackc/pgx/v5/stdlib). With SQLite, limit db to one open
// connection to avoid SQLITE_BUSY under concurrent writers.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	table   string
	now     func() time.Time

	verified atomic.Bool

	incrQuery  string
	getQuery   string
	ttlQuery   string
	scanQuery  string
	delQuery   string
	purgeQuery string
}

var _ Verifier = (*SQLStore)(nil)

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithTable stores counters in a table other than DefaultTable.
func WithTable(name string) SQLOption {
	return func(s *SQLStore) {
		if name != "" {
			s.table = name
		}
	}
}

// WithSQLClock replaces time.Now when computing expiry instants.
func WithSQLClock(now func() time.Time) SQLOption {
	return func(s *SQLStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSQLStore(db *sql.DB, dialect Dialect, opts ...SQLOption) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("limiter: sql db cannot be nil")
	}
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("limiter: unknown sql dialect %q", dialect)
	}

	s := &SQLStore{
		db:      db,
		dialect: dialect,
		table:   DefaultTable,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !tableName.MatchString(s.table) {
		return nil, fmt.Errorf("limiter: invalid table name %q", s.table)
	}

	t := s.table
	// SET expressions see the row as it was before the update, so both CASEs
	// test the old expiry.
	s.incrQuery = s.rebind(`INSERT INTO ` + t + ` (bucket_key, counter, expires_at) VALUES (?, ?, ?)
ON CONFLICT (bucket_key) DO UPDATE SET
	counter = CASE WHEN ` + t + `.expires_at <= ? THEN excluded.counter ELSE ` + t + `.counter + excluded.counter END,
	expires_at = CASE WHEN ` + t + `.expires_at <= ? THEN excluded.expires_at ELSE ` + t + `.expires_at END
RETURNING counter`)
	s.getQuery = s.rebind(`SELECT counter FROM ` + t + ` WHERE bucket_key = ? AND expires_at > ?`)
	s.ttlQuery = s.rebind(`SELECT expires_at FROM ` + t + ` WHERE bucket_key = ?`)
	// SQLite's LIKE folds ASCII case, so the prefix is compared exactly.
	s.scanQuery = s.rebind(`SELECT bucket_key FROM ` + t + ` WHERE substr(bucket_key, 1, ?) = ? AND expires_at > ? ORDER BY bucket_key`)
	s.delQuery = s.rebind(`DELETE FROM ` + t + ` WHERE bucket_key = ?`)
	s.purgeQuery = s.rebind(`DELETE FROM ` + t + ` WHERE expires_at <= ?`)
	return s, nil
}

// Dialect reports the SQL flavour the store was built for.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

// Migrate creates the counters table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	intType := "INTEGER"
	if s.dialect == DialectPostgres {
		intType = "BIGINT"
	}
	ddl := `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
	bucket_key TEXT PRIMARY KEY,
	counter    ` + intType + ` NOT NULL,
	expires_at ` + intType + ` NOT NULL
)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("limiter: migrate %s: %w", s.table, err)
	}
	return nil
}

// Verify pings the database and checks that its version supports the upsert.
// A successful result is remembered.
func (s *SQLStore) Verify(ctx context.Context) error {
	if s.verified.Load() {
		return nil
	}
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}

	var (
		query      = `SELECT sqlite_version()`
		minVersion = minSQLiteVersion
	)
	if s.dialect == DialectPostgres {
		query = `SHOW server_version`
		minVersion = minPostgresVersion
	}
	var raw string
	if err := s.db.QueryRowContext(ctx, query).Scan(&raw); err != nil {
		return err
	}
	// PostgreSQL appends build details, e.g. "16.2 (Debian 16.2-1)".
	if f := strings.Fields(raw); len(f) > 0 {
		raw = f[0]
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("%w: unparsable %s version %q: %v", ErrUnsupportedBackend, s.dialect, raw, err)
	}
	if v.LessThan(minVersion) {
		return fmt.Errorf("%w: %s %s is older than %s", ErrUnsupportedBackend, s.dialect, v, minVersion)
	}
	s.verified.Store(true)
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (int64, bool, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, s.getQuery, key, s.nowMilli()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s *SQLStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, s.ttlQuery, key).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return KeyMissing, nil
	}
	if err != nil {
		return 0, err
	}
	if expiresAt == 0 {
		return KeyNoExpiry, nil
	}
	left := expiresAt - s.nowMilli()
	if left <= 0 {
		return KeyMissing, nil
	}
	return time.Duration(left) * time.Millisecond, nil
}

func (s *SQLStore) IncrAndMaybeExpire(ctx context.Context, key string, window time.Duration, amount int64) (int64, error) {
	now := s.nowMilli()
	var current int64
	err := s.db.QueryRowContext(ctx, s.incrQuery, key, amount, now+window.Milliseconds(), now, now).Scan(&current)
	if err != nil {
		return 0, err
	}
	return current, nil
}

// Scan returns the live keys starting with prefix. substr counts characters
// in both dialects.
func (s *SQLStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	n := utf8.RuneCountInString(prefix)
	rows, err := s.db.QueryContext(ctx, s.scanQuery, n, prefix, s.nowMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Delete removes keys in one transaction.
func (s *SQLStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.delQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PurgeExpired deletes rows whose window has ended and returns how many were
// removed. Expired rows are already invisible to readers; purging only
// reclaims space.
func (s *SQLStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.purgeQuery, s.nowMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) nowMilli() int64 {
	return s.now().UnixMilli()
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
