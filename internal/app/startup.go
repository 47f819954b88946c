package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"shelfbot/internal/abs"
	"shelfbot/internal/notifier"
	"shelfbot/internal/transport"
	logx "shelfbot/pkg/logx"
)

const lockedMessage = "User locked from logging in, please unlock via web gui."

// ErrAccountLocked stops startup when the default bookshelf account is locked.
var ErrAccountLocked = errors.New(lockedMessage)

type authTester interface {
	AuthTest(ctx context.Context) (abs.AuthResult, error)
}

// checkConnection verifies the default credential against the bookshelf server.
func checkConnection(ctx context.Context, c authTester, log logx.Logger) error {
	res, err := c.AuthTest(ctx)
	if errors.Is(err, abs.ErrAccountLocked) {
		log.Error(lockedMessage, logx.String("user", res.Username))
		return ErrAccountLocked
	}
	if err != nil {
		return fmt.Errorf("bookshelf connection test: %w", err)
	}
	log.Info("bookshelf connection ok",
		logx.String("user", res.Username),
		logx.String("role", res.Type),
		logx.Bool("admin", res.IsAdmin()),
	)
	if !res.IsAdmin() {
		log.Warn("bookshelf user is not an admin; finished-book checks only see this user's progress")
	}
	return nil
}

type versionStore interface {
	ListVersions(ctx context.Context) ([]string, error)
	RecordVersion(ctx context.Context, version string) (bool, error)
}

func newVersionMessage(version string) string {
	return "New version detected! To ensure the task subscription module functions properly remove any existing tasks with command `/remove-task`! Current Version: **" + version + "**"
}

// reconcileVersion records version on first sight and warns the owner.
// It reports whether the version was new. A failed DM does not block recording.
func reconcileVersion(ctx context.Context, st versionStore, dm func(ctx context.Context, text string) error, version string, log logx.Logger) (bool, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return false, nil
	}
	known, err := st.ListVersions(ctx)
	if err != nil {
		return false, fmt.Errorf("list versions: %w", err)
	}
	if slices.Contains(known, version) {
		log.Debug("version already recorded", logx.String("version", version))
		return false, nil
	}

	log.Warn("new version detected; existing tasks may need to be re-created", logx.String("version", version))
	if dm != nil {
		if err := dm(ctx, newVersionMessage(version)); err != nil {
			log.Warn("version notice DM failed", logx.Err(err))
		}
	}
	if _, err := st.RecordVersion(ctx, version); err != nil {
		return true, fmt.Errorf("record version: %w", err)
	}
	return true, nil
}

type directSender interface {
	SendDirect(ctx context.Context, userID int64, content string, embeds []transport.Embed) error
}

type notifyQueue interface {
	Notify(ctx context.Context, n transport.Notification) error
}

// ownerDM queues text for userID through the notifier and falls back to a
// direct send when the notifier is off.
func ownerDM(q notifyQueue, direct directSender, userID func() int64) func(ctx context.Context, text string) error {
	return func(ctx context.Context, text string) error {
		id := userID()
		if id == 0 {
			return errors.New("owner not configured")
		}
		err := q.Notify(ctx, transport.Notification{Channel: "owner", UserID: id, Text: text})
		if errors.Is(err, notifier.ErrDisabled) || errors.Is(err, notifier.ErrStopped) {
			return direct.SendDirect(ctx, id, text, nil)
		}
		return err
	}
}
