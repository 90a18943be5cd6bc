package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/germainsafari/image-editor-backend/internal/pkg/logger"
)

// ObjectStore is the narrow remote-storage contract the sync orchestrator
// consumes. Put returns the durable public URL of the stored object.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, metadata map[string]string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	PublicURL(key string) string
	IsConfigured() bool
}

type StoreErrorCode string

const (
	StoreErrorNotFound     StoreErrorCode = "not_found"
	StoreErrorAccessDenied StoreErrorCode = "access_denied"
	StoreErrorBadRequest   StoreErrorCode = "bad_request"
	StoreErrorUnknown      StoreErrorCode = "unknown"
)

// StoreError wraps a remote-storage failure with a coarse category so
// callers can log a failure class without inspecting provider internals.
type StoreError struct {
	Code StoreErrorCode
	Op   string
	Key  string
	Err  error
}

func (e *StoreError) Error() string {
	if e == nil {
		return "object store error"
	}
	return fmt.Sprintf("object store %s %q (code=%s): %v", e.Op, e.Key, e.Code, e.Err)
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ClassifyStoreError maps any error from the store into a StoreErrorCode.
func ClassifyStoreError(err error) StoreErrorCode {
	if err == nil {
		return StoreErrorUnknown
	}
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return classifyCause(err)
}

func classifyCause(err error) StoreErrorCode {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return StoreErrorNotFound
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 404:
			return StoreErrorNotFound
		case 401, 403:
			return StoreErrorAccessDenied
		case 400:
			return StoreErrorBadRequest
		}
	}
	return StoreErrorUnknown
}

func wrapStoreErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Code: classifyCause(err), Op: op, Key: key, Err: err}
}

type gcsStore struct {
	log           *logger.Logger
	client        *storage.Client
	bucket        string
	cdnDomain     string
	mode          ObjectStorageMode
	emulatorHost  string
	publicBaseURL string
}

// NewObjectStore builds an ObjectStore for the resolved config. In disabled
// mode it returns a store whose IsConfigured() reports false; every editor
// operation still works, purely local.
func NewObjectStore(baseLog *logger.Logger, cfg ObjectStorageConfig) (ObjectStore, error) {
	if err := ValidateObjectStorageConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	storeLog := baseLog.With("service", "ObjectStore")
	if cfg.IsDisabled() {
		storeLog.Info("Object storage disabled; running local-only")
		return &disabledStore{}, nil
	}

	ctx := context.Background()
	client, err := newStorageClientForMode(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	storeLog.Info(
		"Object storage initialized",
		"mode", cfg.Mode,
		"mode_source", cfg.ModeSource(),
		"bucket", cfg.Bucket,
		"cdn_domain", cfg.CDNDomain,
		"emulator_host", cfg.EmulatorHost,
	)

	return &gcsStore{
		log:           storeLog,
		client:        client,
		bucket:        cfg.Bucket,
		cdnDomain:     cfg.CDNDomain,
		mode:          cfg.Mode,
		emulatorHost:  strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"),
		publicBaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("OBJECT_STORAGE_PUBLIC_BASE_URL")), "/"),
	}, nil
}

func newStorageClientForMode(ctx context.Context, cfg ObjectStorageConfig) (*storage.Client, error) {
	switch cfg.Mode {
	case ObjectStorageModeGCS:
		opts := append([]option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}, clientOptionsFromEnv()...)
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{
			Code: ObjectStorageConfigErrorInvalidMode,
			Mode: string(cfg.Mode),
		}
	}
}

func (s *gcsStore) IsConfigured() bool { return true }

func (s *gcsStore) Put(ctx context.Context, key string, r io.Reader, metadata map[string]string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if ct := metadata["content_type"]; ct != "" {
		w.ContentType = ct
	} else if ct := ContentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if len(metadata) > 0 {
		md := make(map[string]string, len(metadata))
		for k, v := range metadata {
			if k == "content_type" || v == "" {
				continue
			}
			md[k] = v
		}
		w.Metadata = md
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", wrapStoreErr("put", key, err)
	}
	if err := w.Close(); err != nil {
		return "", wrapStoreErr("put", key, err)
	}
	return s.PublicURL(key), nil
}

// readCloserWithCancel ties the reader context's cancel to Close so the
// caller can stream the full object. Cancelling before return would truncate
// every read to 0 bytes.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (s *gcsStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		return nil, wrapStoreErr("get", key, err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (s *gcsStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.client.Bucket(s.bucket).Object(key).Delete(ctx); err != nil {
		return wrapStoreErr("delete", key, err)
	}
	return nil
}

func (s *gcsStore) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, wrapStoreErr("list", prefix, err)
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

func (s *gcsStore) PublicURL(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if s.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", s.cdnDomain, key)
	}
	if s.mode == ObjectStorageModeGCSEmulator {
		base := s.publicBaseURL
		if base == "" {
			base = s.emulatorHost
		}
		if base != "" {
			return fmt.Sprintf(
				"%s/storage/v1/b/%s/o/%s?alt=media",
				base,
				url.PathEscape(s.bucket),
				url.PathEscape(key),
			)
		}
	}
	if s.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.bucket, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key)
}

func clientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

// ContentTypeForKey guesses an image content type from a key's extension.
func ContentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".gif"):
		return "image/gif"
	default:
		return ""
	}
}

// disabledStore satisfies ObjectStore when no remote storage is configured.
// Callers check IsConfigured before use; the method errors guard misuse.
type disabledStore struct{}

func (d *disabledStore) IsConfigured() bool { return false }

func (d *disabledStore) Put(ctx context.Context, key string, r io.Reader, metadata map[string]string) (string, error) {
	return "", &StoreError{Code: StoreErrorBadRequest, Op: "put", Key: key, Err: errors.New("object storage disabled")}
}

func (d *disabledStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, &StoreError{Code: StoreErrorNotFound, Op: "get", Key: key, Err: errors.New("object storage disabled")}
}

func (d *disabledStore) Delete(ctx context.Context, key string) error {
	return nil
}

func (d *disabledStore) List(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

func (d *disabledStore) PublicURL(key string) string { return key }
