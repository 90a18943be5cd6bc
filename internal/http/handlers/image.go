package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/germainsafari/image-editor-backend/internal/blobcache"
	"github.com/germainsafari/image-editor-backend/internal/domain"
	"github.com/germainsafari/image-editor-backend/internal/editor"
	"github.com/germainsafari/image-editor-backend/internal/http/response"
	"github.com/germainsafari/image-editor-backend/internal/pkg/logger"
	"github.com/germainsafari/image-editor-backend/internal/platform/gcs"
)

type ImageHandler struct {
	log     *logger.Logger
	store   *editor.Store
	blobs   *blobcache.Cache
	objects gcs.ObjectStore
}

func NewImageHandler(log *logger.Logger, store *editor.Store, blobs *blobcache.Cache, objects gcs.ObjectStore) *ImageHandler {
	return &ImageHandler{
		log:     log.With("handler", "ImageHandler"),
		store:   store,
		blobs:   blobs,
		objects: objects,
	}
}

// GetImage serves the pixel data for a version. Remote-backed versions are
// proxied through the object store rather than redirected, so the frontend
// canvas reads same-origin bytes; pass redirect=1 to get a 302 to the public
// URL instead.
func (h *ImageHandler) GetImage(c *gin.Context) {
	v := h.store.Version(c.Param("id"))
	if v == nil {
		response.RespondError(c, http.StatusNotFound, "not_found", nil)
		return
	}
	if domain.IsTransientLocation(v.ImageLocation) {
		data, contentType, err := h.blobs.Resolve(v.ImageLocation)
		if err != nil {
			response.RespondErrClassified(c, err)
			return
		}
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}
		c.Data(http.StatusOK, contentType, data)
		return
	}
	if v.RemoteKey == "" || c.Query("redirect") == "1" {
		c.Redirect(http.StatusFound, v.ImageLocation)
		return
	}
	rc, err := h.objects.Get(c.Request.Context(), v.RemoteKey)
	if err != nil {
		var se *gcs.StoreError
		if errors.As(err, &se) && se.Code == gcs.StoreErrorNotFound {
			response.RespondError(c, http.StatusNotFound, "remote_object_missing", err)
			return
		}
		h.log.Error("fetch remote image", "error", err, "key", v.RemoteKey)
		response.RespondError(c, http.StatusBadGateway, "remote_fetch_failed", err)
		return
	}
	defer rc.Close()
	c.Header("Content-Type", contentTypeForVersion(v))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		h.log.Warn("stream remote image", "error", err, "key", v.RemoteKey)
	}
}

func contentTypeForVersion(v *domain.ImageVersion) string {
	if v.Metadata != nil {
		if ct, _ := v.Metadata["content_type"].(string); ct != "" {
			return ct
		}
	}
	if ct := gcs.ContentTypeForKey(v.RemoteKey); ct != "" {
		return ct
	}
	return "image/png"
}
