package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/germainsafari/image-editor-backend/internal/blobcache"
	"github.com/germainsafari/image-editor-backend/internal/data/persist"
	"github.com/germainsafari/image-editor-backend/internal/editor"
	httpx "github.com/germainsafari/image-editor-backend/internal/http"
	"github.com/germainsafari/image-editor-backend/internal/http/handlers"
	"github.com/germainsafari/image-editor-backend/internal/pkg/logger"
	"github.com/germainsafari/image-editor-backend/internal/platform/gcs"
)

type nopPersistence struct{}

func (nopPersistence) Load(ctx context.Context) (persist.Snapshot, bool, error) {
	return persist.Snapshot{}, false, nil
}
func (nopPersistence) Save(snap persist.Snapshot)      {}
func (nopPersistence) Reset(ctx context.Context) error { return nil }

// newTestRouter wires the full HTTP surface against a local-only store, the
// same shape the app runs with when remote storage is disabled.
func newTestRouter(t *testing.T, hydrate bool) (*gin.Engine, *editor.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewNop()
	objects, err := gcs.NewObjectStore(log, gcs.ObjectStorageConfig{Mode: gcs.ObjectStorageModeDisabled})
	if err != nil {
		t.Fatalf("NewObjectStore: %v", err)
	}
	blobs := blobcache.New(log)
	syncer := editor.NewSyncer(log, objects, blobs)
	store := editor.NewStore(log, syncer, nopPersistence{})
	if hydrate {
		editor.NewHydrator(log, store, nopPersistence{}).Hydrate(context.Background())
	}

	router := httpx.NewRouter(httpx.RouterConfig{
		VersionHandler: handlers.NewVersionHandler(log, store, blobs),
		ImageHandler:   handlers.NewImageHandler(log, store, blobs, objects),
		HealthHandler:  handlers.NewHealthHandler(store, objects),
		HydrationGate:  store,
	})
	return router, store
}

func multipartImage(t *testing.T, fields map[string]string, imageData []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("WriteField(%s): %v", k, err)
		}
	}
	fw, err := w.CreateFormFile("image", "image.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(imageData); err != nil {
		t.Fatalf("write image: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, w.FormDataContentType()
}

// multipartForm builds a multipart body with form fields only, no file part.
func multipartForm(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("WriteField(%s): %v", k, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, w.FormDataContentType()
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body *bytes.Buffer, contentType string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", contentType)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var parsed map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(rec.Body.Bytes(), &parsed)
	}
	return rec, parsed
}

func TestUploadImageCreatesRootVersion(t *testing.T) {
	router, store := newTestRouter(t, true)

	body, ct := multipartImage(t, nil, []byte("png-bytes"))
	rec, parsed := doJSON(t, router, http.MethodPost, "/api/images", body, ct)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: want=%d got=%d body=%s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	version, _ := parsed["version"].(map[string]any)
	if version == nil {
		t.Fatalf("missing version in response: %s", rec.Body.String())
	}
	if version["kind"] != "upload" {
		t.Fatalf("kind: want=upload got=%v", version["kind"])
	}
	if version["sync"] != "local_only" {
		t.Fatalf("sync: want=local_only got=%v", version["sync"])
	}
	cur := store.CurrentVersion()
	if cur == nil || cur.ID != version["id"] {
		t.Fatalf("cursor not moved to uploaded version")
	}
}

func TestDeriveVersionRecordsParentAndPrompt(t *testing.T) {
	router, store := newTestRouter(t, true)

	body, ct := multipartImage(t, nil, []byte("orig"))
	rec, parsed := doJSON(t, router, http.MethodPost, "/api/images", body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status: %d", rec.Code)
	}
	parentID := parsed["version"].(map[string]any)["id"].(string)

	body, ct = multipartImage(t, map[string]string{
		"kind":      "ai_edit",
		"parent_id": parentID,
		"prompt":    "make it sharper",
	}, []byte("edited"))
	rec, parsed = doJSON(t, router, http.MethodPost, "/api/versions", body, ct)

	if rec.Code != http.StatusCreated {
		t.Fatalf("derive status: want=%d got=%d body=%s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	version := parsed["version"].(map[string]any)
	if version["parent_id"] != parentID {
		t.Fatalf("parent_id: want=%q got=%v", parentID, version["parent_id"])
	}
	v := store.Version(version["id"].(string))
	if v == nil || v.Prompt() != "make it sharper" {
		t.Fatalf("prompt not recorded on stored version")
	}
}

func TestDeriveVersionWithoutFileReusesParentImage(t *testing.T) {
	router, store := newTestRouter(t, true)

	body, ct := multipartImage(t, nil, []byte("raw-image-bytes"))
	_, parsed := doJSON(t, router, http.MethodPost, "/api/images", body, ct)
	parentID := parsed["version"].(map[string]any)["id"].(string)

	body, ct = multipartForm(t, map[string]string{
		"kind":      "metadata",
		"parent_id": parentID,
		"metadata":  `{"tags":["sunset"]}`,
	})
	rec, parsed := doJSON(t, router, http.MethodPost, "/api/versions", body, ct)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: want=%d got=%d body=%s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	version := parsed["version"].(map[string]any)
	if version["kind"] != "metadata" {
		t.Fatalf("kind: want=metadata got=%v", version["kind"])
	}
	parent := store.Version(parentID)
	derived := store.Version(version["id"].(string))
	if derived == nil || derived.ImageLocation != parent.ImageLocation {
		t.Fatalf("image location not reused from parent: parent=%v derived=%v", parent, derived)
	}

	// The derived version serves the parent's bytes.
	rec, _ = doJSON(t, router, http.MethodGet, "/api/images/"+derived.ID, nil, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "raw-image-bytes" {
		t.Fatalf("image body: status=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestDeriveVersionWithoutFileUnknownParentIs404(t *testing.T) {
	router, _ := newTestRouter(t, true)

	body, ct := multipartForm(t, map[string]string{"kind": "metadata", "parent_id": "missing"})
	rec, _ := doJSON(t, router, http.MethodPost, "/api/versions", body, ct)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: want=%d got=%d body=%s", http.StatusNotFound, rec.Code, rec.Body.String())
	}
}

func TestDeriveVersionUnknownParentIs404(t *testing.T) {
	router, _ := newTestRouter(t, true)

	body, ct := multipartImage(t, map[string]string{
		"kind":      "ai_edit",
		"parent_id": "missing",
	}, []byte("edited"))
	rec, _ := doJSON(t, router, http.MethodPost, "/api/versions", body, ct)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: want=%d got=%d body=%s", http.StatusNotFound, rec.Code, rec.Body.String())
	}
}

func TestDeriveVersionBadKindIs400(t *testing.T) {
	router, _ := newTestRouter(t, true)

	body, ct := multipartImage(t, map[string]string{"kind": "sparkle"}, []byte("x"))
	rec, _ := doJSON(t, router, http.MethodPost, "/api/versions", body, ct)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want=%d got=%d body=%s", http.StatusBadRequest, rec.Code, rec.Body.String())
	}
}

func TestHistoryFollowsCursorBranch(t *testing.T) {
	router, _ := newTestRouter(t, true)

	body, ct := multipartImage(t, nil, []byte("a"))
	_, parsed := doJSON(t, router, http.MethodPost, "/api/images", body, ct)
	aID := parsed["version"].(map[string]any)["id"].(string)

	body, ct = multipartImage(t, map[string]string{"kind": "crop", "parent_id": aID}, []byte("b"))
	doJSON(t, router, http.MethodPost, "/api/versions", body, ct)

	// Second root starts its own chain.
	body, ct = multipartImage(t, nil, []byte("other"))
	doJSON(t, router, http.MethodPost, "/api/images", body, ct)

	rec, parsed := doJSON(t, router, http.MethodGet, "/api/versions/history", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	versions := parsed["versions"].([]any)
	if len(versions) != 1 {
		t.Fatalf("history length: want=1 got=%d", len(versions))
	}

	// Move the cursor back onto the first chain.
	rec, _ = doJSON(t, router, http.MethodPut, "/api/versions/current/"+aID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("set current status: %d", rec.Code)
	}
	_, parsed = doJSON(t, router, http.MethodGet, "/api/versions/history", nil, "")
	versions = parsed["versions"].([]any)
	if len(versions) != 2 {
		t.Fatalf("history length: want=2 got=%d", len(versions))
	}
	if parsed["root_id"] != aID {
		t.Fatalf("root_id: want=%q got=%v", aID, parsed["root_id"])
	}
}

func TestSetCurrentUnknownIDIs404(t *testing.T) {
	router, _ := newTestRouter(t, true)

	rec, _ := doJSON(t, router, http.MethodPut, "/api/versions/current/nope", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: want=%d got=%d", http.StatusNotFound, rec.Code)
	}
}

func TestDeleteVersionClearsCursor(t *testing.T) {
	router, store := newTestRouter(t, true)

	body, ct := multipartImage(t, nil, []byte("a"))
	_, parsed := doJSON(t, router, http.MethodPost, "/api/images", body, ct)
	id := parsed["version"].(map[string]any)["id"].(string)

	rec, parsed := doJSON(t, router, http.MethodDelete, "/api/versions/"+id, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body=%s", rec.Code, rec.Body.String())
	}
	if parsed["version"] != nil {
		t.Fatalf("current after delete: want=null got=%v", parsed["version"])
	}
	if store.CurrentVersion() != nil {
		t.Fatalf("store cursor survived delete")
	}
}

func TestGetImageServesTransientBytes(t *testing.T) {
	router, _ := newTestRouter(t, true)

	body, ct := multipartImage(t, nil, []byte("raw-image-bytes"))
	_, parsed := doJSON(t, router, http.MethodPost, "/api/images", body, ct)
	id := parsed["version"].(map[string]any)["id"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/images/"+id, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if rec.Body.String() != "raw-image-bytes" {
		t.Fatalf("body: want raw image bytes, got %q", rec.Body.String())
	}
}

func TestGetImageUnknownIDIs404(t *testing.T) {
	router, _ := newTestRouter(t, true)

	rec, _ := doJSON(t, router, http.MethodGet, "/api/images/ghost", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: want=%d got=%d", http.StatusNotFound, rec.Code)
	}
}

func TestAPIRejectsRequestsBeforeHydration(t *testing.T) {
	router, _ := newTestRouter(t, false)

	rec, parsed := doJSON(t, router, http.MethodGet, "/api/versions", nil, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: want=%d got=%d", http.StatusServiceUnavailable, rec.Code)
	}
	errObj, _ := parsed["error"].(map[string]any)
	if errObj == nil || errObj["code"] != "hydrating" {
		t.Fatalf("error code: want=hydrating got=%v", parsed)
	}
}

func TestHealthcheckBypassesHydrationGate(t *testing.T) {
	router, _ := newTestRouter(t, false)

	rec, parsed := doJSON(t, router, http.MethodGet, "/healthcheck", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=%d got=%d", http.StatusOK, rec.Code)
	}
	if parsed["hydrated"] != false {
		t.Fatalf("hydrated: want=false got=%v", parsed["hydrated"])
	}
	if parsed["storage_configured"] != false {
		t.Fatalf("storage_configured: want=false got=%v", parsed["storage_configured"])
	}
}

func TestClearEmptiesEverything(t *testing.T) {
	router, store := newTestRouter(t, true)

	body, ct := multipartImage(t, nil, []byte("a"))
	doJSON(t, router, http.MethodPost, "/api/images", body, ct)

	rec, _ := doJSON(t, router, http.MethodPost, "/api/versions/clear", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if len(store.History()) != 0 {
		t.Fatalf("history not empty after clear")
	}
}
