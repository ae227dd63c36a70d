// Package storage keeps the position book that strategy searches run against.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eddiefleurent/strategy_matcher/internal/models"
)

// JSONStorage persists the position book and its fill journal to a JSON file.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *Data
}

// Data is the on-disk document.
type Data struct {
	Book        *book     `json:"book"`
	LastUpdated time.Time `json:"last_updated"`
}

// NewJSONStorage opens or creates the book at path.
func NewJSONStorage(path string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: path,
		data:     &Data{Book: newBook()},
	}

	// Load existing data if file exists
	if _, err := os.Stat(path); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("checking storage file: %w", err)
	}

	return s, nil
}

// Load replaces the in-memory book with the file contents.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}

	data := &Data{}
	if err := json.Unmarshal(raw, data); err != nil {
		return fmt.Errorf("decoding %s: %w", s.filepath, err)
	}
	if data.Book == nil {
		data.Book = newBook()
	}
	if data.Book.Lots == nil {
		data.Book.Lots = make(map[string]models.Position)
	}
	s.data = data
	return nil
}

// Save writes the book atomically.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveUnsafe()
}

func (s *JSONStorage) saveUnsafe() error {
	s.data.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.filepath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	// Write to temp file first
	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpFile, s.filepath)
}

// Positions returns a copy of the held positions.
func (s *JSONStorage) Positions() []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Book.positions()
}

// Position returns one held position by ID.
func (s *JSONStorage) Position(id string) (models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Book.position(id)
}

// ApplyFill nets the fill into the book and persists it. The stored fill,
// with ID and time stamped, is returned. A fill that cannot be saved is not applied.
func (s *JSONStorage) ApplyFill(fill Fill) (Fill, error) {
	fill, err := normalizeFill(fill, time.Now().UTC())
	if err != nil {
		return Fill{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	undo, err := s.data.Book.apply(fill)
	if err != nil {
		return Fill{}, err
	}
	if err := s.saveUnsafe(); err != nil {
		undo()
		return Fill{}, fmt.Errorf("saving after fill %s: %w", fill.ID, err)
	}
	return fill, nil
}

// Replace overwrites the book with a broker snapshot and persists it.
func (s *JSONStorage) Replace(positions []models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.data.Book.Lots
	if err := s.data.Book.replace(positions); err != nil {
		return err
	}
	if err := s.saveUnsafe(); err != nil {
		s.data.Book.Lots = prev
		return err
	}
	return nil
}

// Fills returns a copy of the fill journal.
func (s *JSONStorage) Fills() []Fill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Book.fills()
}
