// Package store persists users, the waiting queue, active chats and abuse
// reports in a local sqlite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id       INTEGER PRIMARY KEY,
	joined_at     TIMESTAMP NOT NULL,
	blocked       INTEGER NOT NULL DEFAULT 0,
	chat_partner  INTEGER,
	total_chats   INTEGER NOT NULL DEFAULT 0,
	reports_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS queue (
	user_id  INTEGER PRIMARY KEY,
	added_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	user1      INTEGER NOT NULL,
	user2      INTEGER NOT NULL,
	started_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	id         TEXT PRIMARY KEY,
	reporter   INTEGER NOT NULL,
	reported   INTEGER NOT NULL,
	reason     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	resolved   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_queue_added ON queue(added_at);
CREATE INDEX IF NOT EXISTS idx_chats_user1 ON chats(user1);
CREATE INDEX IF NOT EXISTS idx_chats_user2 ON chats(user2);
`

// Report is one abuse report as shown to admins.
type Report struct {
	ID        string
	Reporter  int64
	Reported  int64
	Reason    string
	CreatedAt time.Time
	Resolved  bool
}

// Stats is the aggregate snapshot behind /admin_stats.
type Stats struct {
	TotalUsers     int
	ActiveChats    int
	WaitingUsers   int
	BlockedUsers   int
	PendingReports int
}

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and bootstraps the
// schema. WAL keeps concurrent handler reads from blocking on writes.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureUser creates the user row if missing. Returns true when the user
// was newly created.
func (s *Store) EnsureUser(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (user_id, joined_at) VALUES (?, ?)`,
		userID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("ensure user %d: %w", userID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) UserExists(ctx context.Context, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) IsBlocked(ctx context.Context, userID int64) (bool, error) {
	var blocked int
	err := s.db.QueryRowContext(ctx, `SELECT blocked FROM users WHERE user_id = ?`, userID).Scan(&blocked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is blocked %d: %w", userID, err)
	}
	return blocked != 0, nil
}

func (s *Store) SetBlocked(ctx context.Context, userID int64, blocked bool) error {
	v := 0
	if blocked {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE users SET blocked = ? WHERE user_id = ?`, v, userID)
	if err != nil {
		return fmt.Errorf("set blocked %d: %w", userID, err)
	}
	return nil
}

// PartnerOf returns the current chat partner, 0 when the user is not in a
// chat.
func (s *Store) PartnerOf(ctx context.Context, userID int64) (int64, error) {
	var partner sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT chat_partner FROM users WHERE user_id = ?`, userID).Scan(&partner)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("partner of %d: %w", userID, err)
	}
	if !partner.Valid {
		return 0, nil
	}
	return partner.Int64, nil
}

// CreateChat pairs two users, bumping both chat counters.
func (s *Store) CreateChat(ctx context.Context, user1, user2 int64) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chats (id, user1, user2, started_at) VALUES (?, ?, ?, ?)`,
		id, user1, user2, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET chat_partner = ?, total_chats = total_chats + 1 WHERE user_id = ?`,
		user2, user1); err != nil {
		return "", fmt.Errorf("link user %d: %w", user1, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET chat_partner = ?, total_chats = total_chats + 1 WHERE user_id = ?`,
		user1, user2); err != nil {
		return "", fmt.Errorf("link user %d: %w", user2, err)
	}
	return id, tx.Commit()
}

// EndChat unlinks the user and their partner and removes the chat row.
// Returns the former partner, 0 when the user was not in a chat.
func (s *Store) EndChat(ctx context.Context, userID int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var partner sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT chat_partner FROM users WHERE user_id = ?`, userID).Scan(&partner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !partner.Valid) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("end chat %d: %w", userID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET chat_partner = NULL WHERE user_id IN (?, ?)`,
		userID, partner.Int64); err != nil {
		return 0, fmt.Errorf("unlink users: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chats WHERE (user1 = ? AND user2 = ?) OR (user1 = ? AND user2 = ?)`,
		userID, partner.Int64, partner.Int64, userID); err != nil {
		return 0, fmt.Errorf("delete chat: %w", err)
	}
	return partner.Int64, tx.Commit()
}

func (s *Store) Enqueue(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO queue (user_id, added_at) VALUES (?, ?)`,
		userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("enqueue %d: %w", userID, err)
	}
	return nil
}

func (s *Store) Dequeue(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("dequeue %d: %w", userID, err)
	}
	return nil
}

func (s *Store) InQueue(ctx context.Context, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM queue WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// NextInQueue returns the longest-waiting user, false when the queue is
// empty.
func (s *Store) NextInQueue(ctx context.Context) (int64, bool, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM queue ORDER BY added_at ASC LIMIT 1`).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("next in queue: %w", err)
	}
	return userID, true, nil
}

// CreateReport files a report and bumps the reported user's counter.
func (s *Store) CreateReport(ctx context.Context, reporter, reported int64, reason string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reports (id, reporter, reported, reason, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, reporter, reported, reason, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET reports_count = reports_count + 1 WHERE user_id = ?`,
		reported); err != nil {
		return "", fmt.Errorf("bump reports count: %w", err)
	}
	return id, tx.Commit()
}

// OpenReports returns unresolved reports, newest first.
func (s *Store) OpenReports(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reporter, reported, reason, created_at, resolved
		 FROM reports WHERE resolved = 0 ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("open reports: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var r Report
		var resolved int
		if err := rows.Scan(&r.ID, &r.Reporter, &r.Reported, &r.Reason, &r.CreatedAt, &resolved); err != nil {
			return nil, err
		}
		r.Resolved = resolved != 0
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// AllUserIDs lists every non-blocked user, for broadcasts.
func (s *Store) AllUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM users WHERE blocked = 0`)
	if err != nil {
		return nil, fmt.Errorf("all user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM chats),
			(SELECT COUNT(*) FROM queue),
			(SELECT COUNT(*) FROM users WHERE blocked = 1),
			(SELECT COUNT(*) FROM reports WHERE resolved = 0)`)
	if err := row.Scan(&st.TotalUsers, &st.ActiveChats, &st.WaitingUsers, &st.BlockedUsers, &st.PendingReports); err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// PurgeStaleQueue drops queue entries older than maxAge. Returns the number
// removed.
func (s *Store) PurgeStaleQueue(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.db.ExecContext(ctx, `DELETE FROM queue WHERE added_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge queue: %w", err)
	}
	return res.RowsAffected()
}

// PurgeOldReports drops reports older than ttl regardless of state.
func (s *Store) PurgeOldReports(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge reports: %w", err)
	}
	return res.RowsAffected()
}
