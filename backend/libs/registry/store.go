package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Store loads and saves the whole registry document.
//
// Load never fails for a missing or malformed document; it returns an empty one instead.
// Errors are reserved for backend failures. Load and Save are not atomic as a pair: a
// concurrent writer can interleave and the last Save wins.
type Store interface {
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, doc *Document) error
}

// FileStore keeps the document as an indented JSON file.
type FileStore struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, logger: logger}
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the document from disk.
func (s *FileStore) Load(ctx context.Context) (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("registry file not found, using empty document", zap.String("path", s.path))
		} else {
			s.logger.Warn("registry file unreadable, using empty document", zap.String("path", s.path), zap.Error(err))
		}
		return NewDocument(), nil
	}
	return decodeDocument(data, s.logger), nil
}

// Save overwrites the file through a temp file + rename so readers never see a torn document.
func (s *FileStore) Save(ctx context.Context, doc *Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		return fmt.Errorf("registry: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("registry: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("registry: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("registry: replace document: %w", err)
	}

	s.logger.Debug("registry document saved", zap.String("path", s.path))
	return nil
}

func decodeDocument(data []byte, logger *zap.Logger) *Document {
	doc := NewDocument()
	if len(data) == 0 {
		return doc
	}
	decoded, err := decodeTolerant(data, logger)
	if err != nil {
		logger.Warn("registry document malformed, using empty document", zap.Error(err))
		return doc
	}
	return decoded
}

func encodeDocument(doc *Document) ([]byte, error) {
	if doc == nil {
		doc = NewDocument()
	}
	doc.ensure()
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("registry: encode document: %w", err)
	}
	return data, nil
}
