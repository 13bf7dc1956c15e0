package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrFileTooLarge         = errors.New("file too large")
)

// StoredFile is the stable reference returned for a persisted upload.
// The URL is what message rows carry; the bytes stay with the store.
type StoredFile struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// AttachmentStore persists uploaded payloads and removes them again.
// Remove is idempotent: deleting an absent file succeeds.
type AttachmentStore interface {
	Store(ctx context.Context, r io.Reader, declaredName string, declaredSize int64, contentType string) (StoredFile, error)
	Remove(ctx context.Context, url string) error
}

// DiskStore writes attachments under a root directory with
// uuid-prefixed names and serves them back by URL path.
type DiskStore struct {
	root         string
	maxSize      int64
	allowedTypes []string
}

// NewDiskStore constructs a DiskStore, creating the root directory.
func NewDiskStore(root string, maxSize int64, allowedTypes []string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &DiskStore{root: root, maxSize: maxSize, allowedTypes: allowedTypes}, nil
}

// Store validates the declared size and media type, then writes the
// payload. Rejections happen before any byte lands on disk, so no
// partial state is left for the caller to clean up.
func (s *DiskStore) Store(ctx context.Context, r io.Reader, declaredName string, declaredSize int64, contentType string) (StoredFile, error) {
	if declaredSize > s.maxSize {
		return StoredFile{}, ErrFileTooLarge
	}
	if !s.typeAllowed(contentType) {
		return StoredFile{}, ErrUnsupportedMediaType
	}

	storedName := uuid.NewString() + "_" + sanitizeName(declaredName)
	path := filepath.Join(s.root, storedName)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return StoredFile{}, fmt.Errorf("create attachment: %w", err)
	}

	// The declared size is a client claim; the copy is capped one byte
	// past the limit so oversized streams are caught even when the
	// declaration lied.
	written, err := io.Copy(f, io.LimitReader(r, s.maxSize+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return StoredFile{}, fmt.Errorf("write attachment: %w", err)
	}
	if written > s.maxSize {
		os.Remove(path)
		return StoredFile{}, ErrFileTooLarge
	}

	return StoredFile{
		URL:  "/files/" + storedName,
		Name: storedName,
		Size: written,
	}, nil
}

// Remove deletes the file behind a store URL. Unknown and already-gone
// targets succeed; the message row is the source of truth for
// existence, not the file.
func (s *DiskStore) Remove(ctx context.Context, url string) error {
	if !strings.HasPrefix(url, "/files/") {
		log.Printf("attachment remove skipped: unrecognized url=%q", url)
		return nil
	}
	name := strings.TrimPrefix(url, "/files/")
	// Reject traversal out of the storage root.
	if name != filepath.Base(name) {
		log.Printf("attachment remove skipped: unsafe name=%q", name)
		return nil
	}

	err := os.Remove(filepath.Join(s.root, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove attachment: %w", err)
	}
	return nil
}

func (s *DiskStore) typeAllowed(contentType string) bool {
	for _, allowed := range s.allowedTypes {
		if strings.HasPrefix(contentType, allowed) {
			return true
		}
	}
	return false
}

func sanitizeName(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}
