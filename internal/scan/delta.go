package scan

import (
	"context"
	"time"

	logx "shelfbot/pkg/logx"
)

type DeltaScanner struct {
	src LibrarySource
	opt options
}

func NewDeltaScanner(src LibrarySource, opts ...Option) *DeltaScanner {
	return &DeltaScanner{src: src, opt: buildOptions(opts)}
}

// Scan returns books added at or after now-window across all libraries.
// A library that fails to list is logged and skipped.
func (s *DeltaScanner) Scan(ctx context.Context, window time.Duration) ([]Delta, error) {
	libs, err := s.src.ListLibraries(ctx)
	if err != nil {
		return nil, err
	}
	log := s.opt.log
	log.Debug("libraries found", logx.Int("count", len(libs)))

	since := cutoff(s.opt.clock, window)
	var out []Delta
	for _, lib := range libs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		items, err := s.src.ListLibraryItems(ctx, lib.ID)
		if err != nil {
			log.Warn("library scan failed", logx.String("library", lib.Name), logx.String("library_id", lib.ID), logx.Err(err))
			continue
		}
		for _, it := range items {
			if it.MediaType != "book" {
				continue
			}
			if it.AddedAt < since {
				continue
			}
			at, shown := s.opt.format(it.AddedAt)
			out = append(out, Delta{
				Title:      NormalizeTitle(it.Title),
				Author:     it.AuthorName,
				ItemID:     it.ID,
				ProviderID: it.ASIN,
				AddedAt:    at,
				AddedTime:  shown,
			})
		}
	}
	return out, nil
}
