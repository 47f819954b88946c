// Package notifier delivers direct messages to users off the caller's goroutine.
//
// Wishlist matches and owner notices go through a bounded queue drained by a
// small worker pool. Sends are rate limited, retried with jittered backoff,
// and deduplicated inside a window (optionally persisted so a restart does
// not repeat a DM). A recipient that no longer resolves is dropped without
// retrying.
//
// A message that carries more embeds than the platform allows is split into
// one DM per embed, each repeating the text.
package notifier
