// Package storage is the SQLite-backed persistence layer used by the bot.
//
// It holds:
//   - subscription registrations (the task table)
//   - the applied version history
//   - wishlist entries and known Audiobookshelf users
//   - optional notifier dedup state (to survive restarts)
//
// Schema changes are goose migrations embedded in the binary.
package storage
