package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/germainsafari/image-editor-backend/internal/blobcache"
	"github.com/germainsafari/image-editor-backend/internal/data/persist"
	"github.com/germainsafari/image-editor-backend/internal/editor"
	httpx "github.com/germainsafari/image-editor-backend/internal/http"
	httpH "github.com/germainsafari/image-editor-backend/internal/http/handlers"
	"github.com/germainsafari/image-editor-backend/internal/pkg/logger"
	"github.com/germainsafari/image-editor-backend/internal/platform/gcs"
)

type App struct {
	Log     *logger.Logger
	Cfg     Config
	DB      *gorm.DB
	Router  *gin.Engine
	Store   *editor.Store
	Blobs   *blobcache.Cache
	Objects gcs.ObjectStore

	persistCh *persist.Channel
	hydrator  *editor.Hydrator
	cancel    context.CancelFunc
}

func New() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := persist.NewSQLiteDB(cfg.DBPath, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init sqlite: %w", err)
	}
	persistCh := persist.NewChannel(db, log)

	objects, err := resolveObjectStore(log)
	if err != nil {
		persistCh.Close()
		log.Sync()
		return nil, err
	}

	blobs := blobcache.New(log)
	syncer := editor.NewSyncer(log, objects, blobs)
	store := editor.NewStore(log, syncer, persistCh)
	hydrator := editor.NewHydrator(log, store, persistCh)

	router := httpx.NewRouter(httpx.RouterConfig{
		VersionHandler: httpH.NewVersionHandler(log, store, blobs),
		ImageHandler:   httpH.NewImageHandler(log, store, blobs, objects),
		HealthHandler:  httpH.NewHealthHandler(store, objects),
		HydrationGate:  store,
		CORSOrigins:    cfg.CORSOrigins,
	})

	return &App{
		Log:       log,
		Cfg:       cfg,
		DB:        db,
		Router:    router,
		Store:     store,
		Blobs:     blobs,
		Objects:   objects,
		persistCh: persistCh,
		hydrator:  hydrator,
	}, nil
}

// Start hydrates persisted state and kicks off the periodic remote sweep.
// Hydration runs to completion before Start returns so the HTTP gate opens
// with a consistent store.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.hydrator.Hydrate(ctx)

	if a.Cfg.SweepInterval > 0 && a.Objects.IsConfigured() {
		go a.runSweep(ctx)
	}
}

func (a *App) runSweep(ctx context.Context) {
	a.Store.SweepRemote(ctx)
	ticker := time.NewTicker(a.Cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Store.SweepRemote(ctx)
		}
	}
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(a.Cfg.HTTPAddr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.persistCh != nil {
		a.persistCh.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
