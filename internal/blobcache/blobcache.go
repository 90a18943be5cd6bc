package blobcache

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	pkgerrors "github.com/germainsafari/image-editor-backend/internal/pkg/errors"
	"github.com/germainsafari/image-editor-backend/internal/pkg/logger"
)

// Resolver turns a transient image location back into raw bytes. The sync
// orchestrator consumes this when materializing a version remotely.
type Resolver interface {
	Resolve(handle string) (data []byte, contentType string, err error)
}

// Cache holds image bytes behind process-scoped mem:// handles. Handles are
// only meaningful inside the process that issued them; anything persisted
// with one is unusable after a restart.
type Cache struct {
	log *logger.Logger

	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	data        []byte
	contentType string
}

func New(baseLog *logger.Logger) *Cache {
	return &Cache{
		log:     baseLog.With("service", "BlobCache"),
		entries: make(map[string]entry),
	}
}

// Put stores bytes and returns a fresh mem:// handle for them.
func (c *Cache) Put(data []byte, contentType string) string {
	handle := fmt.Sprintf("mem://%s", uuid.NewString())
	c.mu.Lock()
	c.entries[handle] = entry{data: data, contentType: contentType}
	c.mu.Unlock()
	c.log.Debug("Stored transient blob", "handle", handle, "size_bytes", len(data))
	return handle
}

func (c *Cache) Resolve(handle string) ([]byte, string, error) {
	key := strings.TrimSpace(handle)
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("resolve %q: %w", handle, pkgerrors.ErrUnreadableHandle)
	}
	return e.data, e.contentType, nil
}

func (c *Cache) Remove(handle string) {
	c.mu.Lock()
	delete(c.entries, strings.TrimSpace(handle))
	c.mu.Unlock()
}

// Len reports the number of live handles.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
