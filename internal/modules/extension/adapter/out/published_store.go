package out

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"ucx/internal/modules/extension/domain"
	extout "ucx/internal/modules/extension/port/out"
)

// FilePublishedStore reads the published-extension catalog from
// <base>/extensions/extensions.json. Relative backend paths resolve against
// the base directory.
type FilePublishedStore struct {
	basePath string
	path     string
}

func NewFilePublishedStore(basePath string) extout.PublishedStore {
	return &FilePublishedStore{basePath: basePath, path: filepath.Join(basePath, "extensions", "extensions.json")}
}

func (s *FilePublishedStore) Load(_ context.Context) ([]domain.Published, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.Published{}, nil
		}
		return nil, fmt.Errorf("read published extension store: %w", err)
	}
	var records []domain.Published
	decoder := json.NewDecoder(bytes.NewReader(b))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode published extensions: %w", err)
	}
	for i := range records {
		if records[i].Binary != "" && !filepath.IsAbs(records[i].Binary) {
			records[i].Binary = filepath.Clean(filepath.Join(s.basePath, records[i].Binary))
		}
	}
	return records, nil
}
