package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/germainsafari/image-editor-backend/internal/editor"
	"github.com/germainsafari/image-editor-backend/internal/platform/gcs"
)

type HealthHandler struct {
	store   *editor.Store
	objects gcs.ObjectStore
}

func NewHealthHandler(store *editor.Store, objects gcs.ObjectStore) *HealthHandler {
	return &HealthHandler{store: store, objects: objects}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"hydrated":           h.store.Hydrated(),
		"storage_configured": h.objects.IsConfigured(),
	})
}
