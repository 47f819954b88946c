package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "shelfbot/pkg/logx"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	if err := migrate(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log, pruneEvery: 500}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ready() error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return nil
}

// ioErr logs a storage failure and wraps it with the operation name.
func (s *sqliteStore) ioErr(op string, err error, fields ...logx.Field) error {
	s.log.Error("storage "+op+" failed", append(fields, logx.Err(err))...)
	return fmt.Errorf("storage %s: %w", op, err)
}

// ---- tasks ----

func (s *sqliteStore) CreateTask(ctx context.Context, t Task) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if !t.Kind.Valid() {
		return false, fmt.Errorf("storage: unknown task kind %q", t.Kind)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(discord_id, channel_id, task, server_name, token)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(channel_id, task) DO NOTHING`,
		t.SubscriberID, t.ChannelID, string(t.Kind), t.ServerName, nullStr(t.Token),
	)
	if err != nil {
		return false, s.ioErr("create task", err, logx.Int64("channel_id", t.ChannelID), logx.String("kind", string(t.Kind)))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.ioErr("create task", err)
	}
	if n == 0 {
		s.log.Debug("task already registered",
			logx.Int64("channel_id", t.ChannelID),
			logx.String("kind", string(t.Kind)),
		)
		return false, ErrConflict
	}
	return true, nil
}

func (s *sqliteStore) DeleteTask(ctx context.Context, key TaskKey) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	var (
		res sql.Result
		err error
	)
	switch {
	case key.ID > 0:
		res, err = s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, key.ID)
	case key.Kind != "" && key.SubscriberID != 0:
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM tasks WHERE task = ? AND discord_id = ?`,
			string(key.Kind), key.SubscriberID,
		)
	default:
		return false, ErrInvalidKey
	}
	if err != nil {
		return false, s.ioErr("delete task", err, logx.Int64("id", key.ID))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.ioErr("delete task", err)
	}
	return n > 0, nil
}

const taskColumns = `id, discord_id, channel_id, task, server_name, COALESCE(token, '')`

func (s *sqliteStore) FindTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var (
		where string
		args  []any
	)
	switch f.Mode() {
	case FilterChannel:
		where, args = ` WHERE channel_id = ?`, []any{f.ChannelID}
	case FilterSubscriberKind:
		where, args = ` WHERE discord_id = ? AND task = ?`, []any{f.SubscriberID, string(f.Kind)}
	case FilterSubscriber:
		where, args = ` WHERE discord_id = ?`, []any{f.SubscriberID}
	case FilterKind:
		where, args = ` WHERE task = ?`, []any{string(f.Kind)}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, s.ioErr("find tasks", err, logx.String("mode", f.Mode().String()))
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, s.ioErr("find tasks", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, s.ioErr("find tasks", err)
	}
	return out, nil
}

func (s *sqliteStore) GetTask(ctx context.Context, id int64) (Task, error) {
	if err := s.ready(); err != nil {
		return Task{}, err
	}
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, s.ioErr("get task", err, logx.Int64("id", id))
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (Task, error) {
	var (
		t    Task
		kind string
	)
	if err := r.Scan(&t.ID, &t.SubscriberID, &t.ChannelID, &kind, &t.ServerName, &t.Token); err != nil {
		return Task{}, err
	}
	t.Kind = Kind(kind)
	return t, nil
}

// ---- versions ----

func (s *sqliteStore) RecordVersion(ctx context.Context, version string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	version = strings.TrimSpace(version)
	if version == "" {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO version_control(version) VALUES(?)`, version)
	if err != nil {
		return false, s.ioErr("record version", err, logx.String("version", version))
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) ListVersions(ctx context.Context) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM version_control WHERE version IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, s.ioErr("list versions", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, s.ioErr("list versions", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ---- wishlist ----

func (s *sqliteStore) AddWishlist(ctx context.Context, e WishlistEntry) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO wishlist(discord_id, title, author, downloaded, created_at)
		 VALUES(?,?,?,0,?)
		 ON CONFLICT(discord_id, title) DO NOTHING`,
		e.SubscriberID, e.Title, nullStr(e.Author), e.CreatedAt.Unix(),
	)
	if err != nil {
		return false, s.ioErr("add wishlist", err, logx.String("title", e.Title))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, ErrConflict
	}
	return true, nil
}

// SearchWishlist returns pending entries whose title matches case-insensitively.
func (s *sqliteStore) SearchWishlist(ctx context.Context, title string) ([]WishlistEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, discord_id, title, COALESCE(author, ''), downloaded, created_at
		 FROM wishlist
		 WHERE downloaded = 0 AND title = ? COLLATE NOCASE
		 ORDER BY id`,
		strings.TrimSpace(title),
	)
	if err != nil {
		return nil, s.ioErr("search wishlist", err, logx.String("title", title))
	}
	defer rows.Close()
	var out []WishlistEntry
	for rows.Next() {
		var (
			e       WishlistEntry
			created int64
		)
		if err := rows.Scan(&e.ID, &e.SubscriberID, &e.Title, &e.Author, &e.Downloaded, &created); err != nil {
			return nil, s.ioErr("search wishlist", err)
		}
		e.CreatedAt = time.Unix(created, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkWishlistFulfilled(ctx context.Context, subscriberID int64, title string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE wishlist SET downloaded = 1
		 WHERE discord_id = ? AND title = ? COLLATE NOCASE AND downloaded = 0`,
		subscriberID, strings.TrimSpace(title),
	)
	if err != nil {
		return false, s.ioErr("mark wishlist", err, logx.Int64("subscriber_id", subscriberID))
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ---- users ----

func (s *sqliteStore) PutUser(ctx context.Context, u User) error {
	if err := s.ready(); err != nil {
		return err
	}
	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" || u.Token == "" {
		return errors.New("storage: username and token are required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username, token) VALUES(?,?)
		 ON CONFLICT(username) DO UPDATE SET token=excluded.token`,
		u.Username, u.Token,
	)
	if err != nil {
		return s.ioErr("put user", err, logx.String("username", u.Username))
	}
	return nil
}

func (s *sqliteStore) UserToken(ctx context.Context, username string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	var tok string
	err := s.db.QueryRowContext(ctx, `SELECT token FROM users WHERE username = ?`, strings.TrimSpace(username)).Scan(&tok)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", s.ioErr("user token", err, logx.String("username", username))
	}
	return tok, nil
}

// SearchUsers lists usernames starting with prefix (case-insensitive). Tokens are not returned.
func (s *sqliteStore) SearchUsers(ctx context.Context, prefix string, limit int) ([]User, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT username FROM users WHERE username LIKE ? ESCAPE '\' ORDER BY username LIMIT ?`,
		escapeLike(strings.TrimSpace(prefix))+"%", limit,
	)
	if err != nil {
		return nil, s.ioErr("search users", err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Username); err != nil {
			return nil, s.ioErr("search users", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ---- dedup ----

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if err := s.ready(); err != nil {
		return time.Time{}, false, err
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
