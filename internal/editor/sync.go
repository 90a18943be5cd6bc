package editor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/germainsafari/image-editor-backend/internal/blobcache"
	"github.com/germainsafari/image-editor-backend/internal/domain"
	"github.com/germainsafari/image-editor-backend/internal/pkg/logger"
	"github.com/germainsafari/image-editor-backend/internal/platform/gcs"
)

// Syncer bridges transient in-process image handles and durable remote
// storage. The remote store is an optional accelerant: every path here
// degrades to local-only instead of failing the user action.
type Syncer struct {
	log      *logger.Logger
	store    gcs.ObjectStore
	resolver blobcache.Resolver
	session  string
}

func NewSyncer(baseLog *logger.Logger, store gcs.ObjectStore, resolver blobcache.Resolver) *Syncer {
	return &Syncer{
		log:      baseLog.With("service", "Syncer"),
		store:    store,
		resolver: resolver,
		session:  uuid.NewString(),
	}
}

// KeyPrefix is the remote namespace for every object this process uploads.
func (s *Syncer) KeyPrefix() string {
	return fmt.Sprintf("versions/%s/", s.session)
}

func (s *Syncer) remoteKey(v *domain.ImageVersion, contentType string) string {
	return fmt.Sprintf(
		"%s%s_%s_%d%s",
		s.KeyPrefix(),
		v.ID,
		v.Kind,
		v.CreatedAt.UnixMilli(),
		extForContentType(contentType),
	)
}

func extForContentType(ct string) string {
	switch strings.ToLower(strings.TrimSpace(ct)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ""
	}
}

func (s *Syncer) configured() bool {
	return s.store != nil && s.store.IsConfigured()
}

// Materialize uploads a transient version to remote storage and rewrites its
// location to the durable URL. It mutates v in place and returns a warning
// message when the version stays local; it never fails the caller.
// Already-durable versions pass through untouched, so calling it twice
// performs no second upload.
func (s *Syncer) Materialize(ctx context.Context, v *domain.ImageVersion) string {
	if domain.IsDurableLocation(v.ImageLocation) {
		if v.Sync == "" {
			if v.RemoteKey != "" {
				v.Sync = domain.SyncRemoteBacked
			} else {
				v.Sync = domain.SyncLocalOnly
			}
		}
		return ""
	}

	if !s.configured() {
		v.Sync = domain.SyncLocalOnly
		s.log.Warn(
			"Remote storage not configured; keeping version local",
			"version_id", v.ID,
			"kind", v.Kind,
		)
		return "remote storage not configured; version kept local"
	}

	v.Sync = domain.SyncUploading

	data, contentType, err := s.resolver.Resolve(v.ImageLocation)
	if err != nil {
		v.Sync = domain.SyncUploadFailed
		s.log.Warn(
			"Transient handle unreadable; keeping version local",
			"version_id", v.ID,
			"kind", v.Kind,
			"error", err,
		)
		return fmt.Sprintf("could not read image bytes for version %s; kept local", v.ID)
	}

	key := s.remoteKey(v, contentType)
	metadata := map[string]string{
		"kind":         string(v.Kind),
		"parent_id":    v.ParentID,
		"created_at":   v.CreatedAt.UTC().Format(time.RFC3339Nano),
		"content_type": contentType,
	}
	if prompt := v.Prompt(); prompt != "" {
		metadata["prompt"] = prompt
	}

	url, err := s.store.Put(ctx, key, bytes.NewReader(data), metadata)
	if err != nil {
		v.Sync = domain.SyncUploadFailed
		s.log.Warn(
			"Version upload failed; keeping version local",
			"version_id", v.ID,
			"kind", v.Kind,
			"remote_key", key,
			"failure_category", gcs.ClassifyStoreError(err),
			"error", err,
		)
		return fmt.Sprintf("upload failed for version %s (%s); kept local", v.ID, gcs.ClassifyStoreError(err))
	}

	v.ImageLocation = url
	v.RemoteKey = key
	v.Sync = domain.SyncRemoteBacked
	s.log.Info(
		"Version materialized remotely",
		"version_id", v.ID,
		"kind", v.Kind,
		"remote_key", key,
		"size_bytes", len(data),
	)
	return ""
}

// Dematerialize best-effort deletes the remote object behind a version.
// Every failure is logged and swallowed; local removal must never block on
// remote cleanup.
func (s *Syncer) Dematerialize(ctx context.Context, v *domain.ImageVersion) {
	if v == nil || v.RemoteKey == "" || !s.configured() {
		return
	}
	if err := s.store.Delete(ctx, v.RemoteKey); err != nil {
		s.log.Warn(
			"Remote delete failed; continuing with local removal",
			"version_id", v.ID,
			"remote_key", v.RemoteKey,
			"failure_category", gcs.ClassifyStoreError(err),
			"error", err,
		)
		return
	}
	s.log.Debug("Remote object deleted", "version_id", v.ID, "remote_key", v.RemoteKey)
}
