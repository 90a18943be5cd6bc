package editor

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/germainsafari/image-editor-backend/internal/data/persist"
	"github.com/germainsafari/image-editor-backend/internal/domain"
	pkgerrors "github.com/germainsafari/image-editor-backend/internal/pkg/errors"
	"github.com/germainsafari/image-editor-backend/internal/pkg/logger"
)

// Persistence is the write-behind channel the store persists through. The
// store never waits for a Save to land.
type Persistence interface {
	Load(ctx context.Context) (persist.Snapshot, bool, error)
	Save(snap persist.Snapshot)
	Reset(ctx context.Context) error
}

// Draft is the caller-supplied part of a new version. ID and CreatedAt are
// assigned by the store.
type Draft struct {
	Kind          domain.Kind
	ImageLocation string
	ParentID      string
	Metadata      map[string]any
}

// Store is the single source of truth for the version graph and the editing
// cursor. Mutating operations serialize on an internal mutex; uploads run
// outside it, so concurrent AddVersion calls commit in completion order.
type Store struct {
	log     *logger.Logger
	syncer  *Syncer
	persist Persistence

	mu           sync.Mutex
	versions     []*domain.ImageVersion
	byID         map[string]*domain.ImageVersion
	currentID    string
	branchRootID string
	processing   int
	lastErr      string
	lastWarning  string
	hydrated     bool
	lastIDMilli  int64
}

func NewStore(baseLog *logger.Logger, syncer *Syncer, persistCh Persistence) *Store {
	return &Store{
		log:     baseLog.With("service", "VersionStore"),
		syncer:  syncer,
		persist: persistCh,
		byID:    make(map[string]*domain.ImageVersion),
	}
}

// AddVersion assigns identity to the draft, materializes it remotely when
// possible, commits it and moves the cursor onto it. Materialization failure
// is a warning, never a reason to reject the version. An error return means
// the draft itself was unusable.
func (s *Store) AddVersion(ctx context.Context, d Draft) (*domain.ImageVersion, error) {
	if !domain.IsValidKind(d.Kind) {
		return nil, fmt.Errorf("add version: kind %q: %w", d.Kind, pkgerrors.ErrInvalidArgument)
	}
	if d.ImageLocation == "" {
		return nil, fmt.Errorf("add version: empty image location: %w", pkgerrors.ErrInvalidArgument)
	}

	s.mu.Lock()
	var grandparentID string
	if d.ParentID != "" {
		parent, ok := s.byID[d.ParentID]
		if !ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("add version: parent %q: %w", d.ParentID, pkgerrors.ErrNotFound)
		}
		grandparentID = parent.ParentID
	}
	now := time.Now()
	var md map[string]any
	if d.Metadata != nil {
		md = make(map[string]any, len(d.Metadata))
		for k, val := range d.Metadata {
			md[k] = val
		}
	}
	v := &domain.ImageVersion{
		ID:            s.nextIDLocked(now),
		Kind:          d.Kind,
		CreatedAt:     now,
		ImageLocation: d.ImageLocation,
		ParentID:      d.ParentID,
		Metadata:      md,
	}
	s.processing++
	s.mu.Unlock()

	// The node is not in the set yet, so mutating it here races with nothing.
	warning := s.syncer.Materialize(ctx, v)

	s.mu.Lock()
	if v.ParentID != "" {
		if _, ok := s.byID[v.ParentID]; !ok {
			// Parent was deleted while the upload ran. Apply the same
			// reparent policy DeleteVersion applies to committed children.
			if _, ok := s.byID[grandparentID]; ok {
				v.ParentID = grandparentID
			} else {
				v.ParentID = ""
			}
		}
	}
	s.versions = append(s.versions, v)
	s.byID[v.ID] = v
	s.currentID = v.ID
	s.processing--
	if warning != "" {
		s.lastWarning = warning
	}
	s.persistLocked()
	out := v.Clone()
	s.mu.Unlock()

	s.log.Info(
		"Version added",
		"version_id", out.ID,
		"kind", out.Kind,
		"parent_id", out.ParentID,
		"sync", out.Sync,
	)
	return out, nil
}

// SetCurrentVersion moves the cursor. Unknown ids return ErrNotFound; the
// cursor is left untouched.
func (s *Store) SetCurrentVersion(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return fmt.Errorf("set current version %q: %w", id, pkgerrors.ErrNotFound)
	}
	s.currentID = id
	s.persistLocked()
	return nil
}

// SetBranchRoot overrides root resolution for the current chain. An empty id
// clears the override.
func (s *Store) SetBranchRoot(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if _, ok := s.byID[id]; !ok {
			return fmt.Errorf("set branch root %q: %w", id, pkgerrors.ErrNotFound)
		}
	}
	s.branchRootID = id
	s.persistLocked()
	return nil
}

func (s *Store) CurrentVersion() *domain.ImageVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentID == "" {
		return nil
	}
	return s.byID[s.currentID].Clone()
}

// Version returns the version with the given id, or nil.
func (s *Store) Version(id string) *domain.ImageVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id].Clone()
}

// History returns every version in insertion order.
func (s *Store) History() []*domain.ImageVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.ImageVersion, 0, len(s.versions))
	for _, v := range s.versions {
		out = append(out, v.Clone())
	}
	return out
}

// CurrentRootID resolves the branch-root override when set, otherwise walks
// parent links upward from the cursor.
func (s *Store) CurrentRootID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRootLocked()
}

func (s *Store) currentRootLocked() string {
	if s.branchRootID != "" {
		return s.branchRootID
	}
	if s.currentID == "" {
		return ""
	}
	return s.rootOfLocked(s.currentID)
}

// rootOfLocked walks ParentID links with a visited-set guard. A dangling
// parent reference or a cycle terminates the walk at the last resolvable
// node instead of looping.
func (s *Store) rootOfLocked(id string) string {
	visited := make(map[string]bool, len(s.byID))
	cur := id
	for {
		node, ok := s.byID[cur]
		if !ok {
			return cur
		}
		if node.ParentID == "" {
			return cur
		}
		if visited[cur] {
			s.log.Warn("Cycle detected in parent walk; truncating", "version_id", cur)
			return cur
		}
		visited[cur] = true
		if _, ok := s.byID[node.ParentID]; !ok {
			// Dangling parent: this node is the effective root.
			return cur
		}
		cur = node.ParentID
	}
}

// chainContainsLocked reports whether rootID lies on the parent walk from id,
// the node itself included. Scoping by walk membership rather than by natural
// root lets a branch-root override claim its own descendants.
func (s *Store) chainContainsLocked(id, rootID string) bool {
	visited := make(map[string]bool, len(s.byID))
	cur := id
	for cur != "" {
		if cur == rootID {
			return true
		}
		node, ok := s.byID[cur]
		if !ok || visited[cur] {
			return false
		}
		visited[cur] = true
		cur = node.ParentID
	}
	return false
}

// CurrentHistory returns the branch-scoped view: the current root plus every
// version whose parent walk passes through it, ordered by creation time. With
// a branch-root override in place that scopes the view to the override node
// and its descendants; without one it is the cursor's whole natural chain.
// The store may hold several unrelated upload chains; this keeps them out of
// each other's history.
func (s *Store) CurrentHistory() []*domain.ImageVersion {
	s.mu.Lock()
	defer s.mu.Unlock()

	rootID := s.currentRootLocked()
	if rootID == "" {
		return nil
	}
	out := make([]*domain.ImageVersion, 0, len(s.versions))
	for _, v := range s.versions {
		if s.chainContainsLocked(v.ID, rootID) {
			out = append(out, v.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// DeleteVersion best-effort deletes the remote object, then removes the node
// locally. Children of the deleted node are reparented to its parent so the
// graph stays a forest. Deleting the cursor clears it.
func (s *Store) DeleteVersion(ctx context.Context, id string) error {
	s.mu.Lock()
	node, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("delete version %q: %w", id, pkgerrors.ErrNotFound)
	}
	doomed := node.Clone()
	s.mu.Unlock()

	s.syncer.Dematerialize(ctx, doomed)

	s.mu.Lock()
	if _, still := s.byID[id]; still {
		for _, v := range s.versions {
			if v.ParentID == id {
				v.ParentID = doomed.ParentID
			}
		}
		delete(s.byID, id)
		kept := s.versions[:0]
		for _, v := range s.versions {
			if v.ID != id {
				kept = append(kept, v)
			}
		}
		s.versions = kept
		if s.currentID == id {
			s.currentID = ""
		}
		if s.branchRootID == id {
			s.branchRootID = ""
		}
		s.persistLocked()
	}
	s.mu.Unlock()

	s.log.Info("Version deleted", "version_id", id, "kind", doomed.Kind)
	return nil
}

// Clear resets the version set, cursor and branch root. Local-only: no
// remote cleanup is attempted.
func (s *Store) Clear() {
	s.mu.Lock()
	s.versions = nil
	s.byID = make(map[string]*domain.ImageVersion)
	s.currentID = ""
	s.branchRootID = ""
	s.lastErr = ""
	s.lastWarning = ""
	s.persistLocked()
	s.mu.Unlock()
	s.log.Info("Version store cleared")
}

// Processing reports whether any AddVersion is mid-flight. The UI treats
// this as its only synchronization signal.
func (s *Store) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing > 0
}

func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Store) SetLastError(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}

// LastWarning is the most recent non-fatal degradation notice (failed or
// skipped upload).
func (s *Store) LastWarning() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWarning
}

// Hydrated reports whether startup hydration has completed. Consumers must
// not render or redirect based on the cursor until it has.
func (s *Store) Hydrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hydrated
}

func (s *Store) markHydrated() {
	s.mu.Lock()
	s.hydrated = true
	s.mu.Unlock()
}

// restore installs hydrated state wholesale. Cursor and branch root are kept
// only when they still resolve to a live node.
func (s *Store) restore(versions []*domain.ImageVersion, currentID, branchRootID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions = versions
	s.byID = make(map[string]*domain.ImageVersion, len(versions))
	for _, v := range versions {
		s.byID[v.ID] = v
		if ms, err := strconv.ParseInt(v.ID, 10, 64); err == nil && ms > s.lastIDMilli {
			s.lastIDMilli = ms
		}
	}
	if _, ok := s.byID[currentID]; ok {
		s.currentID = currentID
	} else {
		s.currentID = ""
	}
	if _, ok := s.byID[branchRootID]; ok {
		s.branchRootID = branchRootID
	} else {
		s.branchRootID = ""
	}
}

// RemoteKeys returns the remote keys of every live version. The sweep uses
// it to tell referenced objects from orphans.
func (s *Store) RemoteKeys() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.versions))
	for _, v := range s.versions {
		if v.RemoteKey != "" {
			out[v.RemoteKey] = struct{}{}
		}
	}
	return out
}

// nextIDLocked derives a creation-time based id, bumped forward on
// same-millisecond collisions so ids stay strictly increasing.
func (s *Store) nextIDLocked(now time.Time) string {
	ms := now.UnixMilli()
	if ms <= s.lastIDMilli {
		ms = s.lastIDMilli + 1
	}
	s.lastIDMilli = ms
	return strconv.FormatInt(ms, 10)
}

func (s *Store) persistLocked() {
	if s.persist == nil {
		return
	}
	snap := persist.Snapshot{
		CurrentID:    s.currentID,
		BranchRootID: s.branchRootID,
	}
	for _, v := range s.versions {
		snap.Versions = append(snap.Versions, persist.VersionRecord{
			ID:            v.ID,
			Kind:          string(v.Kind),
			CreatedAt:     v.CreatedAt.UTC().Format(time.RFC3339Nano),
			ImageLocation: v.ImageLocation,
			RemoteKey:     v.RemoteKey,
			ParentID:      v.ParentID,
			Metadata:      v.Metadata,
			Sync:          string(v.Sync),
		})
	}
	s.persist.Save(snap)
}
