package storage

import (
	"time"

	"github.com/eddiefleurent/strategy_matcher/internal/models"
)

// Fill is a signed quantity change to one contract, e.g. -5 sells five calls.
type Fill struct {
	ID       string          `json:"id"`
	Time     time.Time       `json:"time"`
	Contract models.Position `json:"contract"` // Quantity is ignored; Delta applies
	Delta    int64           `json:"delta"`
	Source   string          `json:"source,omitempty"`
}

// Interface defines the contract for the position book.
//
// Implementations must be safe for concurrent use - callers can assume all methods
// are goroutine-safe and can safely call these methods from multiple goroutines.
//
// The provided JSONStorage implementation uses sync.RWMutex to serialize access,
// ensuring all Interface methods are protected for concurrent readers and writers.
type Interface interface {
	// Position book
	Positions() []models.Position
	Position(id string) (models.Position, error)
	ApplyFill(fill Fill) (Fill, error)
	Replace(positions []models.Position) error

	// Data persistence
	Save() error
	Load() error

	// Fill journal
	Fills() []Fill
}

// NewStorage creates a new storage implementation (currently JSON-based)
func NewStorage(filepath string) (Interface, error) {
	return NewJSONStorage(filepath)
}

// Ensure JSONStorage implements Interface
var _ Interface = (*JSONStorage)(nil)
