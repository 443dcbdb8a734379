// Package sqlite persists tracking sessions, per-frame track observations
// and order correctness in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/banshee-data/sequence.report/internal/vision/history"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("sqlite: session not found")

// Store is a SQLite-backed session history.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies all
// pending migrations. Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for read-only tooling such as the SQL
// debug console.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the path the store was opened with.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Session is one recorded tracking run.
type Session struct {
	ID               string     `json:"session_id"`
	ExpectedOrder    []string   `json:"expected_order"`
	ToleranceLimit   int        `json:"tolerance_limit"`
	AppVersion       string     `json:"app_version"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	Frames           int        `json:"frames"`
	OrderBroken      bool       `json:"order_broken"`
	ToleranceCounter int        `json:"tolerance_counter"`
}

// NewSession describes a session about to start.
type NewSession struct {
	ExpectedOrder  []string
	ToleranceLimit int
	AppVersion     string
	StartedAt      time.Time
}

// SessionResult is the final state written by FinishSession.
type SessionResult struct {
	FinishedAt       time.Time
	Frames           int
	OrderBroken      bool
	ToleranceCounter int
}

// CreateSession inserts a session with a fresh UUID and returns it.
func (s *Store) CreateSession(ctx context.Context, ns NewSession) (Session, error) {
	order, err := json.Marshal(append([]string{}, ns.ExpectedOrder...))
	if err != nil {
		return Session{}, fmt.Errorf("encode expected order: %w", err)
	}
	if ns.StartedAt.IsZero() {
		ns.StartedAt = time.Now()
	}
	sess := Session{
		ID:             uuid.NewString(),
		ExpectedOrder:  append([]string{}, ns.ExpectedOrder...),
		ToleranceLimit: ns.ToleranceLimit,
		AppVersion:     ns.AppVersion,
		StartedAt:      ns.StartedAt.UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, expected_order, tolerance_limit, app_version, started_unix_nanos)
		VALUES (?, ?, ?, ?, ?)`,
		sess.ID, string(order), sess.ToleranceLimit, sess.AppVersion, sess.StartedAt.UnixNano())
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// InsertObservations stores a batch of records in one transaction.
func (s *Store) InsertObservations(ctx context.Context, sessionID string, recs []history.Record) (err error) {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO track_observations (session_id, frame, track_id, label, points)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err = stmt.ExecContext(ctx, sessionID, r.Frame, r.ID, r.Label, history.FormatPoints(r.Points)); err != nil {
			return fmt.Errorf("insert observation frame %d track %d: %w", r.Frame, r.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SaveCorrectness upserts the per-identity correctness map.
func (s *Store) SaveCorrectness(ctx context.Context, sessionID string, correctness map[int]bool) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	for id, ok := range correctness {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_correctness (session_id, track_id, correct) VALUES (?, ?, ?)
			ON CONFLICT (session_id, track_id) DO UPDATE SET correct = excluded.correct`,
			sessionID, id, ok); err != nil {
			return fmt.Errorf("upsert correctness for track %d: %w", id, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FinishSession records the final outcome of a session.
func (s *Store) FinishSession(ctx context.Context, sessionID string, res SessionResult) error {
	if res.FinishedAt.IsZero() {
		res.FinishedAt = time.Now()
	}
	out, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET finished_unix_nanos = ?, frames = ?, order_broken = ?, tolerance_counter = ?
		WHERE session_id = ?`,
		res.FinishedAt.UTC().UnixNano(), res.Frames, res.OrderBroken, res.ToleranceCounter, sessionID)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	if n, err := out.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return nil
}

const sessionColumns = `session_id, expected_order, tolerance_limit, app_version,
	started_unix_nanos, finished_unix_nanos, frames, order_broken, tolerance_counter`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		sess     Session
		order    string
		started  int64
		finished sql.NullInt64
	)
	if err := row.Scan(&sess.ID, &order, &sess.ToleranceLimit, &sess.AppVersion,
		&started, &finished, &sess.Frames, &sess.OrderBroken, &sess.ToleranceCounter); err != nil {
		return Session{}, err
	}
	if err := json.Unmarshal([]byte(order), &sess.ExpectedOrder); err != nil {
		return Session{}, fmt.Errorf("decode expected order: %w", err)
	}
	sess.StartedAt = time.Unix(0, started).UTC()
	if finished.Valid {
		t := time.Unix(0, finished.Int64).UTC()
		sess.FinishedAt = &t
	}
	return sess, nil
}

// GetSession loads one session.
func (s *Store) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns sessions newest first. limit <= 0 returns all.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_unix_nanos DESC, session_id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetObservations returns a session's records in recorded order.
func (s *Store) GetObservations(ctx context.Context, sessionID string) ([]history.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT track_id, points, frame, label FROM track_observations
		WHERE session_id = ? ORDER BY observation_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get observations: %w", err)
	}
	defer rows.Close()

	var out []history.Record
	for rows.Next() {
		var (
			r      history.Record
			points string
		)
		if err := rows.Scan(&r.ID, &points, &r.Frame, &r.Label); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		if r.Points, err = history.ParsePoints(points); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetCorrectness returns a session's correctness map.
func (s *Store) GetCorrectness(ctx context.Context, sessionID string) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT track_id, correct FROM order_correctness WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get correctness: %w", err)
	}
	defer rows.Close()

	out := make(map[int]bool)
	for rows.Next() {
		var (
			id int
			ok bool
		)
		if err := rows.Scan(&id, &ok); err != nil {
			return nil, fmt.Errorf("scan correctness: %w", err)
		}
		out[id] = ok
	}
	return out, rows.Err()
}

// TrackIDs returns the distinct track ids observed in a session, ascending.
func (s *Store) TrackIDs(ctx context.Context, sessionID string) ([]int, error) {
	recs, err := s.GetObservations(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool)
	var out []int
	for _, r := range recs {
		if !seen[r.ID] {
			seen[r.ID] = true
			out = append(out, r.ID)
		}
	}
	sort.Ints(out)
	return out, nil
}
