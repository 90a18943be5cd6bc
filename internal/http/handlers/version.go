package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/germainsafari/image-editor-backend/internal/blobcache"
	"github.com/germainsafari/image-editor-backend/internal/domain"
	"github.com/germainsafari/image-editor-backend/internal/editor"
	"github.com/germainsafari/image-editor-backend/internal/http/response"
	pkgerrors "github.com/germainsafari/image-editor-backend/internal/pkg/errors"
	"github.com/germainsafari/image-editor-backend/internal/pkg/logger"
)

const maxUploadBytes = 32 << 20

type VersionHandler struct {
	log   *logger.Logger
	store *editor.Store
	blobs *blobcache.Cache
}

func NewVersionHandler(log *logger.Logger, store *editor.Store, blobs *blobcache.Cache) *VersionHandler {
	return &VersionHandler{
		log:   log.With("handler", "VersionHandler"),
		store: store,
		blobs: blobs,
	}
}

// UploadImage ingests a fresh source image and records it as a root version.
func (h *VersionHandler) UploadImage(c *gin.Context) {
	data, contentType, meta, ok := h.readImageForm(c, true)
	if !ok {
		return
	}
	handle := h.blobs.Put(data, contentType)
	v, err := h.store.AddVersion(c.Request.Context(), editor.Draft{
		Kind:          domain.KindUpload,
		ImageLocation: handle,
		Metadata:      meta,
	})
	if err != nil {
		h.blobs.Remove(handle)
		response.RespondErrClassified(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"version": v, "warning": h.store.LastWarning()})
}

// DeriveVersion records an edited image as a child of an existing version.
// The image file is optional: a metadata-only edit (tagging, description)
// carries no new bytes and reuses the parent's image location.
func (h *VersionHandler) DeriveVersion(c *gin.Context) {
	data, contentType, meta, ok := h.readImageForm(c, false)
	if !ok {
		return
	}
	kind := domain.Kind(strings.TrimSpace(c.PostForm("kind")))
	parentID := strings.TrimSpace(c.PostForm("parent_id"))
	if prompt := strings.TrimSpace(c.PostForm("prompt")); prompt != "" {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["prompt"] = prompt
	}
	var handle, location string
	if data != nil {
		handle = h.blobs.Put(data, contentType)
		location = handle
	} else {
		parent := h.store.Version(parentID)
		if parent == nil {
			response.RespondErrClassified(c, fmt.Errorf("derive version: parent %q: %w", parentID, pkgerrors.ErrNotFound))
			return
		}
		location = parent.ImageLocation
	}
	v, err := h.store.AddVersion(c.Request.Context(), editor.Draft{
		Kind:          kind,
		ImageLocation: location,
		ParentID:      parentID,
		Metadata:      meta,
	})
	if err != nil {
		if handle != "" {
			h.blobs.Remove(handle)
		}
		response.RespondErrClassified(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"version": v, "warning": h.store.LastWarning()})
}

func (h *VersionHandler) ListVersions(c *gin.Context) {
	response.RespondOK(c, gin.H{"versions": h.store.History()})
}

func (h *VersionHandler) GetCurrent(c *gin.Context) {
	response.RespondOK(c, gin.H{"version": h.store.CurrentVersion()})
}

// GetHistory returns the branch-scoped chain the cursor sits on, oldest first.
func (h *VersionHandler) GetHistory(c *gin.Context) {
	response.RespondOK(c, gin.H{
		"root_id":  h.store.CurrentRootID(),
		"versions": h.store.CurrentHistory(),
	})
}

func (h *VersionHandler) GetRoot(c *gin.Context) {
	response.RespondOK(c, gin.H{"root_id": h.store.CurrentRootID()})
}

func (h *VersionHandler) SetCurrent(c *gin.Context) {
	if err := h.store.SetCurrentVersion(c.Param("id")); err != nil {
		response.RespondErrClassified(c, err)
		return
	}
	response.RespondOK(c, gin.H{"version": h.store.CurrentVersion()})
}

func (h *VersionHandler) SetBranchRoot(c *gin.Context) {
	if err := h.store.SetBranchRoot(c.Param("id")); err != nil {
		response.RespondErrClassified(c, err)
		return
	}
	response.RespondOK(c, gin.H{"root_id": h.store.CurrentRootID()})
}

func (h *VersionHandler) ClearBranchRoot(c *gin.Context) {
	if err := h.store.SetBranchRoot(""); err != nil {
		response.RespondErrClassified(c, err)
		return
	}
	response.RespondOK(c, gin.H{"root_id": h.store.CurrentRootID()})
}

func (h *VersionHandler) DeleteVersion(c *gin.Context) {
	if err := h.store.DeleteVersion(c.Request.Context(), c.Param("id")); err != nil {
		response.RespondErrClassified(c, err)
		return
	}
	response.RespondOK(c, gin.H{"version": h.store.CurrentVersion()})
}

func (h *VersionHandler) ClearAll(c *gin.Context) {
	h.store.Clear()
	response.RespondOK(c, gin.H{"cleared": true})
}

// GetState exposes the editing flags the frontend polls while an edit runs.
func (h *VersionHandler) GetState(c *gin.Context) {
	response.RespondOK(c, gin.H{
		"hydrated":     h.store.Hydrated(),
		"processing":   h.store.Processing(),
		"last_error":   h.store.LastError(),
		"last_warning": h.store.LastWarning(),
	})
}

// readImageForm pulls the image file and optional metadata JSON out of a
// multipart form. When fileRequired is false a missing file yields nil data
// instead of an error. On failure it writes the error response and returns
// ok=false.
func (h *VersionHandler) readImageForm(c *gin.Context, fileRequired bool) (data []byte, contentType string, meta map[string]any, ok bool) {
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_multipart_form", err)
		return nil, "", nil, false
	}
	fh, err := c.FormFile("image")
	switch {
	case err == nil:
		data, contentType, err = readUploadedFile(fh)
		if err != nil {
			h.log.Error("read uploaded image", "error", err, "filename", fh.Filename)
			response.RespondError(c, http.StatusBadRequest, "unreadable_image_file", err)
			return nil, "", nil, false
		}
	case !fileRequired && errors.Is(err, http.ErrMissingFile):
		// Bytes-free derive; the caller falls back to the parent's image.
	default:
		response.RespondError(c, http.StatusBadRequest, "missing_image_file", err)
		return nil, "", nil, false
	}
	if raw := strings.TrimSpace(c.PostForm("metadata")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_metadata_json", err)
			return nil, "", nil, false
		}
	}
	return data, contentType, meta, true
}

func readUploadedFile(fh *multipart.FileHeader) ([]byte, string, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}
	contentType := strings.TrimSpace(fh.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
