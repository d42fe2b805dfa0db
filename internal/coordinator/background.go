package coordinator

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/notecove/notecove/internal/imagestore"
)

// activitySyncFallbackInterval is how often RunBackground falls back to a
// full ActivitySync.RunOnce pass per SD, catching peer log files that
// arrived without triggering the filesystem-watch fast path.
const activitySyncFallbackInterval = 2 * time.Minute

// orphanSweepInterval is how often RunBackground sweeps each SD's media/
// directory for images no longer referenced by any note.
const orphanSweepInterval = 1 * time.Hour

// pollTickInterval drives PollingGroup.Tick at a fixed cadence; the token
// bucket inside Group itself, not this ticker, is what actually rate-limits
// poll attempts.
const pollTickInterval = 1 * time.Second

// RunBackground runs every registered SD's recurring maintenance loops
// (PollingGroup ticking and full-repoll, ActivitySync fallback polling,
// ImageStore orphan sweeps) until ctx is canceled or one loop returns a
// non-context error, in which case every other loop is canceled too — an
// all-or-nothing shutdown across the errgroup of per-SD workers.
func (c *Coordinator) RunBackground(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, sdID := range c.RegisteredSDIDs() {
		sdID := sdID
		sd, err := c.sdOrErr(sdID)
		if err != nil {
			continue
		}

		g.Go(func() error { return c.runPollTickLoop(ctx, sd) })
		g.Go(func() error { return sd.poll.RunFullRepollLoop(ctx, sdID) })
		g.Go(func() error { return c.runActivitySyncFallback(ctx, sd) })
		g.Go(func() error { return c.runOrphanSweep(ctx, sd) })
	}

	return g.Wait()
}

func (c *Coordinator) runPollTickLoop(ctx context.Context, sd *sdState) error {
	ticker := time.NewTicker(pollTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := sd.poll.Tick(ctx); err != nil {
				c.logger.Warn("coordinator: poll tick failed", slog.String("sd", sd.id), slog.Any("err", err))
			}
		}
	}
}

func (c *Coordinator) runActivitySyncFallback(ctx context.Context, sd *sdState) error {
	ticker := time.NewTicker(activitySyncFallbackInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := sd.sync.RunOnce(ctx); err != nil {
				c.logger.Warn("coordinator: activity sync fallback failed", slog.String("sd", sd.id), slog.Any("err", err))
			}
		}
	}
}

func (c *Coordinator) runOrphanSweep(ctx context.Context, sd *sdState) error {
	ticker := time.NewTicker(orphanSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			referenced, err := c.collectReferencedImages(sd)
			if err != nil {
				c.logger.Warn("coordinator: collecting referenced images failed", slog.String("sd", sd.id), slog.Any("err", err))
				continue
			}
			deleted, err := sd.images.SweepOrphans(referenced, c.now())
			if err != nil {
				c.logger.Warn("coordinator: orphan sweep failed", slog.String("sd", sd.id), slog.Any("err", err))
				continue
			}
			if len(deleted) > 0 {
				c.logger.Info("coordinator: swept orphan images", slog.String("sd", sd.id), slog.Int("count", len(deleted)))
			}
		}
	}
}

// collectReferencedImages walks every note in sd — loading ones this
// process hasn't already loaded — to build the live reference set
// SweepOrphans needs. Notes it loads stay loaded in sd after the pass.
func (c *Coordinator) collectReferencedImages(sd *sdState) (imagestore.ReferenceSet, error) {
	ids, err := (&noteLister{c}).AllNoteIDs(sd.id)
	if err != nil {
		return nil, err
	}

	refs := make(imagestore.ReferenceSet)
	for _, noteID := range ids {
		nd, err := c.ensureNoteLoaded(sd, noteID)
		if err != nil {
			continue
		}
		for _, imageID := range nd.ImageIDs() {
			refs[imageID] = true
		}
	}
	return refs, nil
}
