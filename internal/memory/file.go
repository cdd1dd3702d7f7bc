package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/ashureev/marketing-hub/internal/domain"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// FilePersister stores each owner's entries as a JSON file under Dir.
type FilePersister struct {
	Dir string
	mu  sync.Mutex
}

// NewFilePersister creates the directory if needed.
func NewFilePersister(dir string) (*FilePersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory directory: %w", err)
	}
	return &FilePersister{Dir: dir}, nil
}

func (p *FilePersister) path(ownerID string) string {
	return filepath.Join(p.Dir, unsafeFileChars.ReplaceAllString(ownerID, "_")+".json")
}

// LoadMemory reads the owner's file; a missing file is an empty memory.
func (p *FilePersister) LoadMemory(_ context.Context, ownerID string) ([]domain.MemoryEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path(ownerID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read memory file: %w", err)
	}
	var entries []domain.MemoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode memory file: %w", err)
	}
	return entries, nil
}

// SaveMemory rewrites the owner's file atomically.
func (p *FilePersister) SaveMemory(_ context.Context, ownerID string, entries []domain.MemoryEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}
	target := p.path(ownerID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write memory file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("replace memory file: %w", err)
	}
	return nil
}
