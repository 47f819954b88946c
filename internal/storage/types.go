package storage

import (
	"errors"
	"time"
)

var (
	ErrConflict = errors.New("storage: conflict")
	ErrNotFound = errors.New("storage: not found")
	ErrClosed   = errors.New("storage: closed")

	// ErrInvalidKey is returned by DeleteTask when neither an id nor a
	// (kind, subscriber) pair is given.
	ErrInvalidKey = errors.New("storage: invalid task key")
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Kind names a subscription loop. Values are persisted in the task column.
type Kind string

const (
	KindNewBook      Kind = "new-book-check"
	KindFinishedBook Kind = "finished-book-check"
)

// Kinds lists every known subscription kind in a stable order.
func Kinds() []Kind { return []Kind{KindNewBook, KindFinishedBook} }

func (k Kind) Valid() bool {
	return k == KindNewBook || k == KindFinishedBook
}

// Task is one persisted subscription registration.
//
// A channel has at most one registration per kind. Token is the credential
// every cycle for this registration runs under. It may be empty for rows
// created before tokens were stored; the ambient credential is used then.
type Task struct {
	ID           int64
	SubscriberID int64
	ChannelID    int64
	Kind         Kind
	ServerName   string
	Token        string
}

// TaskFilter selects registrations. The first matching rule wins:
//
//	ChannelID set               -> by channel
//	SubscriberID and Kind set   -> by subscriber and kind
//	SubscriberID set            -> by subscriber
//	Kind set                    -> by kind
//	nothing set                 -> all
type TaskFilter struct {
	ChannelID    int64
	SubscriberID int64
	Kind         Kind
}

// FilterMode is the lookup rule a TaskFilter resolves to.
type FilterMode int

const (
	FilterAll FilterMode = iota
	FilterChannel
	FilterSubscriberKind
	FilterSubscriber
	FilterKind
)

func (f TaskFilter) Mode() FilterMode {
	switch {
	case f.ChannelID != 0:
		return FilterChannel
	case f.SubscriberID != 0 && f.Kind != "":
		return FilterSubscriberKind
	case f.SubscriberID != 0:
		return FilterSubscriber
	case f.Kind != "":
		return FilterKind
	default:
		return FilterAll
	}
}

func (m FilterMode) String() string {
	switch m {
	case FilterChannel:
		return "channel"
	case FilterSubscriberKind:
		return "subscriber_kind"
	case FilterSubscriber:
		return "subscriber"
	case FilterKind:
		return "kind"
	default:
		return "all"
	}
}

// TaskKey identifies registrations to delete: by ID when set, otherwise by
// (Kind, SubscriberID).
type TaskKey struct {
	ID           int64
	Kind         Kind
	SubscriberID int64
}

// WishlistEntry is a title a user asked to be told about.
type WishlistEntry struct {
	ID           int64
	SubscriberID int64
	Title        string
	Author       string
	Downloaded   bool
	CreatedAt    time.Time
}

// User is an Audiobookshelf account the owner registered for setup-tasks.
type User struct {
	Username string
	Token    string
}
