package editor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/germainsafari/image-editor-backend/internal/blobcache"
	"github.com/germainsafari/image-editor-backend/internal/data/persist"
	"github.com/germainsafari/image-editor-backend/internal/pkg/logger"
	"github.com/germainsafari/image-editor-backend/internal/platform/gcs"
)

// fakeObjectStore implements gcs.ObjectStore in memory.
type fakeObjectStore struct {
	mu         sync.Mutex
	configured bool
	putErr     error
	deleteErr  error
	listErr    error
	objects    map[string][]byte
	meta       map[string]map[string]string
	putCalls   int
	deleted    []string

	// putHook, when set, runs at the start of Put before the store lock is
	// taken. Tests use it to interleave store mutations with an upload.
	putHook func(key string)
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{
		configured: true,
		objects:    map[string][]byte{},
		meta:       map[string]map[string]string{},
	}
}

func (f *fakeObjectStore) IsConfigured() bool { return f.configured }

func (f *fakeObjectStore) Put(ctx context.Context, key string, r io.Reader, metadata map[string]string) (string, error) {
	if f.putHook != nil {
		f.putHook(key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if f.putErr != nil {
		return "", f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.objects[key] = data
	f.meta[key] = metadata
	return f.PublicURL(key), nil
}

func (f *fakeObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, &gcs.StoreError{Code: gcs.StoreErrorNotFound, Op: "get", Key: key}
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (f *fakeObjectStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, key)
	delete(f.objects, key)
	return nil
}

func (f *fakeObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []string
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	return out, nil
}

func (f *fakeObjectStore) PublicURL(key string) string {
	return fmt.Sprintf("https://cdn.test/%s", key)
}

// fakePersistence records saves and serves a canned snapshot.
type fakePersistence struct {
	mu       sync.Mutex
	snapshot persist.Snapshot
	found    bool
	loadErr  error
	saves    []persist.Snapshot
	resets   int
}

func (f *fakePersistence) Load(ctx context.Context) (persist.Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot, f.found, f.loadErr
}

func (f *fakePersistence) Save(snap persist.Snapshot) {
	f.mu.Lock()
	f.saves = append(f.saves, snap)
	f.mu.Unlock()
}

func (f *fakePersistence) Reset(ctx context.Context) error {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
	return nil
}

func (f *fakePersistence) lastSave() (persist.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saves) == 0 {
		return persist.Snapshot{}, false
	}
	return f.saves[len(f.saves)-1], true
}

type env struct {
	store   *Store
	syncer  *Syncer
	objects *fakeObjectStore
	blobs   *blobcache.Cache
	persist *fakePersistence
}

func newEnv() *env {
	log := logger.NewNop()
	objects := newFakeObjectStore()
	blobs := blobcache.New(log)
	syncer := NewSyncer(log, objects, blobs)
	p := &fakePersistence{}
	return &env{
		store:   NewStore(log, syncer, p),
		syncer:  syncer,
		objects: objects,
		blobs:   blobs,
		persist: p,
	}
}
