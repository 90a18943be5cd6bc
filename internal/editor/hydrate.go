package editor

import (
	"context"
	"strconv"
	"time"

	"github.com/germainsafari/image-editor-backend/internal/data/persist"
	"github.com/germainsafari/image-editor-backend/internal/domain"
	"github.com/germainsafari/image-editor-backend/internal/pkg/logger"
)

// Hydrator restores persisted editor state at startup. Persisted sets that
// reference transient in-process handles can not be trusted: one bad node
// means dangling parents after any partial repair, so the whole set is
// discarded instead.
type Hydrator struct {
	log     *logger.Logger
	store   *Store
	persist Persistence
}

func NewHydrator(baseLog *logger.Logger, store *Store, persistCh Persistence) *Hydrator {
	return &Hydrator{
		log:     baseLog.With("service", "Hydrator"),
		store:   store,
		persist: persistCh,
	}
}

// Hydrate loads, validates and installs persisted state, then marks the
// store hydrated exactly once. It never propagates bad-data errors; every
// corruption path ends in a clean empty store.
func (h *Hydrator) Hydrate(ctx context.Context) {
	defer h.store.markHydrated()

	snap, found, err := h.persist.Load(ctx)
	if err != nil {
		h.log.Warn("Persisted state unreadable; resetting", "error", err)
		h.reset(ctx)
		return
	}
	if !found {
		h.log.Info("No persisted state; starting empty")
		return
	}

	versions, ok := h.normalize(snap)
	if !ok {
		h.reset(ctx)
		return
	}

	h.store.restore(versions, snap.CurrentID, snap.BranchRootID)
	h.log.Info(
		"Editor state hydrated",
		"versions", len(versions),
		"current_id", snap.CurrentID,
		"branch_root_id", snap.BranchRootID,
	)
}

func (h *Hydrator) reset(ctx context.Context) {
	if err := h.persist.Reset(ctx); err != nil {
		h.log.Error("Persisted state reset failed", "error", err)
	}
}

// normalize converts persisted records back into graph nodes. It reports
// ok=false when the set must be discarded: a transient-shaped location, a
// malformed timestamp, an unknown kind or a duplicate id.
func (h *Hydrator) normalize(snap persist.Snapshot) ([]*domain.ImageVersion, bool) {
	versions := make([]*domain.ImageVersion, 0, len(snap.Versions))
	seen := make(map[string]bool, len(snap.Versions))
	for _, rec := range snap.Versions {
		if rec.ID == "" || seen[rec.ID] {
			h.log.Warn("Corrupt persisted state: bad version id; resetting", "version_id", rec.ID)
			return nil, false
		}
		seen[rec.ID] = true

		if domain.IsTransientLocation(rec.ImageLocation) {
			h.log.Warn(
				"Corrupt persisted state: transient handle can not survive a restart; resetting",
				"version_id", rec.ID,
				"image_location", rec.ImageLocation,
			)
			return nil, false
		}
		if !domain.IsDurableLocation(rec.ImageLocation) {
			h.log.Warn("Corrupt persisted state: empty image location; resetting", "version_id", rec.ID)
			return nil, false
		}

		kind := domain.Kind(rec.Kind)
		if !domain.IsValidKind(kind) {
			h.log.Warn("Corrupt persisted state: unknown kind; resetting", "version_id", rec.ID, "kind", rec.Kind)
			return nil, false
		}

		createdAt, ok := parseTimestamp(rec.CreatedAt)
		if !ok {
			h.log.Warn("Corrupt persisted state: bad timestamp; resetting", "version_id", rec.ID, "created_at", rec.CreatedAt)
			return nil, false
		}

		sync := domain.SyncState(rec.Sync)
		switch sync {
		case domain.SyncLocalOnly, domain.SyncRemoteBacked, domain.SyncUploadFailed:
		default:
			// Derive from fields; persisted "uploading" is also stale.
			if rec.RemoteKey != "" {
				sync = domain.SyncRemoteBacked
			} else {
				sync = domain.SyncLocalOnly
			}
		}

		versions = append(versions, &domain.ImageVersion{
			ID:            rec.ID,
			Kind:          kind,
			CreatedAt:     createdAt,
			ImageLocation: rec.ImageLocation,
			RemoteKey:     rec.RemoteKey,
			ParentID:      rec.ParentID,
			Metadata:      rec.Metadata,
			Sync:          sync,
		})
	}
	return versions, true
}

// parseTimestamp accepts the formats the persisted layer has historically
// produced: RFC3339 with or without fractional seconds, and plain unix
// milliseconds.
func parseTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}
