package scan

import (
	"context"
	"time"

	logx "shelfbot/pkg/logx"
)

type FinishedScanner struct {
	src ProgressSource
	opt options
}

func NewFinishedScanner(src ProgressSource, opts ...Option) *FinishedScanner {
	return &FinishedScanner{src: src, opt: buildOptions(opts)}
}

// Scan returns books any user finished at or after now-window.
// A user whose progress cannot be read is logged and skipped.
func (s *FinishedScanner) Scan(ctx context.Context, window time.Duration) ([]FinishedRecord, error) {
	users, err := s.src.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	log := s.opt.log
	since := cutoff(s.opt.clock, window)

	var out []FinishedRecord
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		progress, err := s.src.UserProgress(ctx, u.ID)
		if err != nil {
			log.Warn("user progress failed", logx.String("user", u.Username), logx.Err(err))
			continue
		}
		for _, p := range progress {
			if p.MediaItemType != "book" || !p.IsFinished || p.FinishedAt < since {
				continue
			}
			at, shown := s.opt.format(p.FinishedAt)
			out = append(out, FinishedRecord{
				Title:        p.DisplayTitle,
				ItemID:       p.LibraryItemID,
				Username:     u.Username,
				FinishedAt:   at,
				FinishedTime: shown,
			})
			log.Info("finished book found",
				logx.String("user", u.Username),
				logx.String("title", p.DisplayTitle),
				logx.String("item_id", p.LibraryItemID),
				logx.String("finished", shown),
			)
		}
	}
	log.Debug("finished scan done", logx.Int("found", len(out)))
	return out, nil
}
