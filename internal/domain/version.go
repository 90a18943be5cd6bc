package domain

import (
	"strings"
	"time"
)

// Kind identifies which pipeline stage produced a version.
type Kind string

const (
	KindUpload   Kind = "upload"
	KindAIEdit   Kind = "ai_edit"
	KindColor    Kind = "color"
	KindCrop     Kind = "crop"
	KindMetadata Kind = "metadata"
)

func IsValidKind(k Kind) bool {
	switch k {
	case KindUpload, KindAIEdit, KindColor, KindCrop, KindMetadata:
		return true
	default:
		return false
	}
}

// SyncState is the explicit remote-materialization state of a version.
type SyncState string

const (
	SyncLocalOnly    SyncState = "local_only"
	SyncUploading    SyncState = "uploading"
	SyncRemoteBacked SyncState = "remote_backed"
	SyncUploadFailed SyncState = "upload_failed"
)

// ImageVersion is one immutable node in the edit graph. ID and CreatedAt are
// assigned by the version store and never reassigned; ImageLocation and
// RemoteKey are mutated only by the sync orchestrator after a successful
// upload.
type ImageVersion struct {
	ID            string         `json:"id"`
	Kind          Kind           `json:"kind"`
	CreatedAt     time.Time      `json:"created_at"`
	ImageLocation string         `json:"image_location"`
	RemoteKey     string         `json:"remote_key,omitempty"`
	ParentID      string         `json:"parent_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Sync          SyncState      `json:"sync"`
}

// Clone returns a shallow copy with its own metadata map, so callers can not
// mutate store-owned nodes in place.
func (v *ImageVersion) Clone() *ImageVersion {
	if v == nil {
		return nil
	}
	out := *v
	if v.Metadata != nil {
		md := make(map[string]any, len(v.Metadata))
		for k, val := range v.Metadata {
			md[k] = val
		}
		out.Metadata = md
	}
	return &out
}

// Prompt returns the AI prompt recorded in the metadata bag, if any.
func (v *ImageVersion) Prompt() string {
	if v == nil || v.Metadata == nil {
		return ""
	}
	s, _ := v.Metadata["prompt"].(string)
	return s
}

const transientScheme = "mem://"

// IsTransientLocation reports whether an image location is an in-process
// handle that can not outlive the process that created it. "blob:" object
// URLs persisted by the legacy web client count as transient-shaped too.
func IsTransientLocation(loc string) bool {
	s := strings.TrimSpace(loc)
	if s == "" {
		return false
	}
	return strings.HasPrefix(s, transientScheme) || strings.HasPrefix(s, "blob:")
}

// IsDurableLocation reports whether an image location is safe to persist and
// reload across processes.
func IsDurableLocation(loc string) bool {
	s := strings.TrimSpace(loc)
	if s == "" {
		return false
	}
	return !IsTransientLocation(s)
}
