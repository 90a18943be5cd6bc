package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/germainsafari/image-editor-backend/internal/pkg/logger"
)

// VersionRecord is the serialized form of one graph node. CreatedAt stays a
// string here on purpose: the hydration controller owns parsing it back into
// a time.Time and treats malformed values as corruption.
type VersionRecord struct {
	ID            string         `json:"id"`
	Kind          string         `json:"kind"`
	CreatedAt     string         `json:"created_at"`
	ImageLocation string         `json:"image_location"`
	RemoteKey     string         `json:"remote_key,omitempty"`
	ParentID      string         `json:"parent_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Sync          string         `json:"sync,omitempty"`
}

// Snapshot is the full persisted editor state.
type Snapshot struct {
	Versions     []VersionRecord
	CurrentID    string
	BranchRootID string
}

type versionRow struct {
	ID            string         `gorm:"primaryKey;column:id"`
	Position      int            `gorm:"column:position;index"`
	Kind          string         `gorm:"column:kind;not null"`
	CreatedAtRaw  string         `gorm:"column:created_at;not null"`
	ImageLocation string         `gorm:"column:image_location;not null"`
	RemoteKey     string         `gorm:"column:remote_key"`
	ParentID      string         `gorm:"column:parent_id"`
	Metadata      datatypes.JSON `gorm:"column:metadata"`
	Sync          string         `gorm:"column:sync_state"`
}

func (versionRow) TableName() string { return "image_version" }

type stateRow struct {
	ID           int       `gorm:"primaryKey;column:id"`
	CurrentID    string    `gorm:"column:current_id"`
	BranchRootID string    `gorm:"column:branch_root_id"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (stateRow) TableName() string { return "editor_state" }

const stateRowID = 1

// NewSQLiteDB opens (and migrates) the local durable store backing the
// persistence channel.
func NewSQLiteDB(path string, baseLog *logger.Logger) (*gorm.DB, error) {
	dbLog := baseLog.With("service", "SQLiteService")
	dbLog.Info("Opening sqlite database", "path", path)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}
	if err := db.AutoMigrate(&versionRow{}, &stateRow{}); err != nil {
		return nil, fmt.Errorf("sqlite automigrate: %w", err)
	}
	return db, nil
}

// Channel is the write-behind persistence channel. Save never blocks the
// caller and coalesces bursts: only the latest pending snapshot is written.
type Channel struct {
	db  *gorm.DB
	log *logger.Logger

	mu      sync.Mutex
	pending *Snapshot
	kick    chan struct{}
	quit    chan struct{}
	done    chan struct{}
}

func NewChannel(db *gorm.DB, baseLog *logger.Logger) *Channel {
	c := &Channel{
		db:   db,
		log:  baseLog.With("service", "PersistenceChannel"),
		kick: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go c.writer()
	return c
}

// Save queues a snapshot for write-behind persistence.
func (c *Channel) Save(snap Snapshot) {
	c.mu.Lock()
	c.pending = &snap
	c.mu.Unlock()
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Close flushes any pending snapshot and stops the writer.
func (c *Channel) Close() {
	close(c.quit)
	<-c.done
}

func (c *Channel) writer() {
	defer close(c.done)
	for {
		select {
		case <-c.kick:
			c.flush()
		case <-c.quit:
			c.flush()
			return
		}
	}
}

func (c *Channel) flush() {
	c.mu.Lock()
	snap := c.pending
	c.pending = nil
	c.mu.Unlock()
	if snap == nil {
		return
	}
	if err := c.write(context.Background(), *snap); err != nil {
		c.log.Error("Persist snapshot failed", "error", err, "versions", len(snap.Versions))
	}
}

func (c *Channel) write(ctx context.Context, snap Snapshot) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&versionRow{}).Error; err != nil {
			return fmt.Errorf("clear version rows: %w", err)
		}
		rows := make([]versionRow, 0, len(snap.Versions))
		for i, rec := range snap.Versions {
			var md datatypes.JSON
			if rec.Metadata != nil {
				raw, err := json.Marshal(rec.Metadata)
				if err != nil {
					return fmt.Errorf("marshal metadata for %s: %w", rec.ID, err)
				}
				md = datatypes.JSON(raw)
			}
			rows = append(rows, versionRow{
				ID:            rec.ID,
				Position:      i,
				Kind:          rec.Kind,
				CreatedAtRaw:  rec.CreatedAt,
				ImageLocation: rec.ImageLocation,
				RemoteKey:     rec.RemoteKey,
				ParentID:      rec.ParentID,
				Metadata:      md,
				Sync:          rec.Sync,
			})
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("insert version rows: %w", err)
			}
		}
		st := stateRow{
			ID:           stateRowID,
			CurrentID:    snap.CurrentID,
			BranchRootID: snap.BranchRootID,
			UpdatedAt:    time.Now(),
		}
		if err := tx.Save(&st).Error; err != nil {
			return fmt.Errorf("save editor state row: %w", err)
		}
		return nil
	})
}

// Load reads the persisted snapshot. The second return is false when nothing
// has ever been persisted.
func (c *Channel) Load(ctx context.Context) (Snapshot, bool, error) {
	var snap Snapshot

	var st stateRow
	err := c.db.WithContext(ctx).First(&st, "id = ?", stateRowID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return snap, false, nil
	case err != nil:
		return snap, false, fmt.Errorf("load editor state row: %w", err)
	}
	snap.CurrentID = st.CurrentID
	snap.BranchRootID = st.BranchRootID

	var rows []versionRow
	if err := c.db.WithContext(ctx).Order("position asc").Find(&rows).Error; err != nil {
		return snap, false, fmt.Errorf("load version rows: %w", err)
	}
	for _, row := range rows {
		rec := VersionRecord{
			ID:            row.ID,
			Kind:          row.Kind,
			CreatedAt:     row.CreatedAtRaw,
			ImageLocation: row.ImageLocation,
			RemoteKey:     row.RemoteKey,
			ParentID:      row.ParentID,
			Sync:          row.Sync,
		}
		if len(row.Metadata) > 0 {
			var md map[string]any
			if err := json.Unmarshal(row.Metadata, &md); err != nil {
				return snap, false, fmt.Errorf("unmarshal metadata for %s: %w", row.ID, err)
			}
			rec.Metadata = md
		}
		snap.Versions = append(snap.Versions, rec)
	}
	return snap, true, nil
}

// Reset wipes the persisted state synchronously.
func (c *Channel) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	return c.write(ctx, Snapshot{})
}
