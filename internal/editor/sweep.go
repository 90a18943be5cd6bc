package editor

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/germainsafari/image-editor-backend/internal/platform/gcs"
)

const sweepDeleteConcurrency = 4

// SweepRemote reconciles remote storage with the live version set: objects
// under this session's prefix that no live version references are deleted.
// Deletes after a failed Dematerialize make cleanup eventually consistent.
// Failures are logged and swallowed.
func (s *Store) SweepRemote(ctx context.Context) {
	if s.syncer == nil || !s.syncer.configured() {
		return
	}

	keys, err := s.syncer.store.List(ctx, s.syncer.KeyPrefix())
	if err != nil {
		s.log.Warn(
			"Remote sweep list failed",
			"prefix", s.syncer.KeyPrefix(),
			"failure_category", gcs.ClassifyStoreError(err),
			"error", err,
		)
		return
	}

	live := s.RemoteKeys()
	var orphans []string
	for _, key := range keys {
		if _, ok := live[key]; !ok {
			orphans = append(orphans, key)
		}
	}
	if len(orphans) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepDeleteConcurrency)
	for _, key := range orphans {
		key := key
		g.Go(func() error {
			if err := s.syncer.store.Delete(gctx, key); err != nil {
				s.log.Warn(
					"Remote sweep delete failed",
					"remote_key", key,
					"failure_category", gcs.ClassifyStoreError(err),
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	s.log.Info("Remote sweep completed", "orphans", len(orphans), "live", len(live))
}
