// Package erafiles stores uploaded remittance files and their lifecycle
// state. The raw bytes are kept verbatim so a file can be re-parsed or
// audited long after posting; only the status field ever changes.
package erafiles

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrFileNotFound        = errors.New("era file not found")
	ErrFileTooLarge        = errors.New("file exceeds maximum allowed size")
	ErrUnsupportedFileType = errors.New("file type is not a supported remittance format")
	ErrMissingFileName     = errors.New("file name is required")
)

// MaxFileSize is the maximum accepted upload in bytes (16 MB). Remittance
// files are text; anything larger is almost certainly not an 835.
const MaxFileSize = 16 * 1024 * 1024

// AllowedExtensions lists accepted remittance file extensions.
var AllowedExtensions = map[string]bool{
	".835": true,
	".edi": true,
	".x12": true,
	".txt": true,
}

// File lifecycle statuses.
const (
	StatusUploaded    = "uploaded"
	StatusParsed      = "parsed"
	StatusParseFailed = "parse_failed"
	StatusPosted      = "posted"
)

// FileRecord describes a stored remittance file.
type FileRecord struct {
	ID         uuid.UUID `json:"id"`
	FileName   string    `json:"file_name"`
	Size       int64     `json:"size"`
	Hash       string    `json:"hash"`
	Status     string    `json:"status"`
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Store is the contract for remittance file storage backends.
type Store interface {
	// Save validates and stores the file, returning its record. The hash is
	// computed here so callers can rely on it for dedupe.
	Save(ctx context.Context, fileName, uploadedBy string, data []byte) (*FileRecord, error)
	Get(ctx context.Context, id uuid.UUID) (*FileRecord, error)
	// Data returns the stored raw bytes.
	Data(ctx context.Context, id uuid.UUID) ([]byte, error)
	// FindByHash returns the record with the given content hash, or
	// ErrFileNotFound.
	FindByHash(ctx context.Context, hash string) (*FileRecord, error)
	List(ctx context.Context, status string, limit, offset int) ([]*FileRecord, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

// ValidateName checks the file name and extension before storage.
func ValidateName(fileName string) error {
	if fileName == "" {
		return ErrMissingFileName
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if !AllowedExtensions[ext] {
		return fmt.Errorf("%w: %s", ErrUnsupportedFileType, ext)
	}
	return nil
}

// HashBytes returns the hex SHA-256 of the file content.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}

type storedFile struct {
	record FileRecord
	data   []byte
}

// MemoryStore is a thread-safe in-memory Store for tests and development.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[uuid.UUID]*storedFile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[uuid.UUID]*storedFile)}
}

func (s *MemoryStore) Save(_ context.Context, fileName, uploadedBy string, data []byte) (*FileRecord, error) {
	if err := ValidateName(fileName); err != nil {
		return nil, err
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	rec := FileRecord{
		ID:         uuid.New(),
		FileName:   fileName,
		Size:       int64(len(data)),
		Hash:       HashBytes(data),
		Status:     StatusUploaded,
		UploadedBy: uploadedBy,
		UploadedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.files[rec.ID] = &storedFile{record: rec, data: append([]byte(nil), data...)}
	s.mu.Unlock()

	out := rec
	return &out, nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return nil, ErrFileNotFound
	}
	rec := f.record
	return &rec, nil
}

func (s *MemoryStore) Data(_ context.Context, id uuid.UUID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return nil, ErrFileNotFound
	}
	return append([]byte(nil), f.data...), nil
}

func (s *MemoryStore) FindByHash(_ context.Context, hash string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.files {
		if f.record.Hash == hash {
			rec := f.record
			return &rec, nil
		}
	}
	return nil, ErrFileNotFound
}

func (s *MemoryStore) List(_ context.Context, status string, limit, offset int) ([]*FileRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*FileRecord
	for _, f := range s.files {
		if status != "" && f.record.Status != status {
			continue
		}
		rec := f.record
		matched = append(matched, &rec)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UploadedAt.After(matched[j].UploadedAt)
	})

	total := len(matched)
	if limit <= 0 {
		limit = 20
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return ErrFileNotFound
	}
	f.record.Status = status
	return nil
}
