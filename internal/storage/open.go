package storage

import (
	"context"
	"time"

	logx "shelfbot/pkg/logx"
)

// Store is the persistence API used by the subscription loops, commands and notifier.
//
// Mutating task operations report whether a row changed. A uniqueness
// violation is ErrConflict; other failures are logged and wrapped.
type Store interface {
	CreateTask(ctx context.Context, t Task) (bool, error)
	DeleteTask(ctx context.Context, key TaskKey) (bool, error)
	FindTasks(ctx context.Context, f TaskFilter) ([]Task, error)
	GetTask(ctx context.Context, id int64) (Task, error)

	RecordVersion(ctx context.Context, version string) (bool, error)
	ListVersions(ctx context.Context) ([]string, error)

	AddWishlist(ctx context.Context, e WishlistEntry) (bool, error)
	SearchWishlist(ctx context.Context, title string) ([]WishlistEntry, error)
	MarkWishlistFulfilled(ctx context.Context, subscriberID int64, title string) (bool, error)

	PutUser(ctx context.Context, u User) error
	UserToken(ctx context.Context, username string) (string, error)
	SearchUsers(ctx context.Context, prefix string, limit int) ([]User, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Open opens (creating if needed) the SQLite database and applies pending migrations.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(ctx, cfg, log)
}
