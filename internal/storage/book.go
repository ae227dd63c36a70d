package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/strategy_matcher/internal/models"
)

// book nets fills into one lot per contract. Callers hold the lock.
type book struct {
	Lots  map[string]models.Position `json:"lots"` // keyed by ContractKey
	Fills []Fill                     `json:"fills"`
}

func newBook() *book {
	return &book{Lots: make(map[string]models.Position), Fills: make([]Fill, 0)}
}

// normalizeFill validates the contract and stamps ID and time when missing.
func normalizeFill(fill Fill, now time.Time) (Fill, error) {
	if fill.Delta == 0 {
		return Fill{}, ErrEmptyFill
	}
	c := fill.Contract
	c.Underlying = strings.ToUpper(strings.TrimSpace(c.Underlying))
	if c.Multiplier == 0 {
		c.Multiplier = 1
		if c.Kind == models.KindOption {
			c.Multiplier = models.DefaultContractMultiplier
		}
	}
	if c.Kind == models.KindOption {
		c.Expiration = c.Expiration.UTC().Truncate(24 * time.Hour)
	}
	c.Quantity = fill.Delta
	if err := c.Validate(); err != nil {
		return Fill{}, fmt.Errorf("applying fill: %w", err)
	}
	c.ID = c.Symbol()
	fill.Contract = c

	if fill.ID == "" {
		fill.ID = uuid.New().String()
	}
	if fill.Time.IsZero() {
		fill.Time = now
	}
	return fill, nil
}

// apply nets fill into the book and returns a function that reverts it.
// A fill that would push the lot past models.MaxQuantity leaves the book untouched.
func (b *book) apply(fill Fill) (undo func(), err error) {
	key := fill.Contract.ContractKey()
	lot, ok := b.Lots[key]
	if ok {
		if _, err := models.NetQuantity(lot, fill.Delta); err != nil {
			return nil, fmt.Errorf("applying fill: %w", err)
		}
	}
	prev, fills := lot, len(b.Fills)
	undo = func() {
		if ok {
			b.Lots[key] = prev
		} else {
			delete(b.Lots, key)
		}
		b.Fills = b.Fills[:fills]
	}
	if !ok {
		lot = fill.Contract
		lot.Quantity = 0
	}
	lot.Quantity += fill.Delta
	if lot.Quantity == 0 {
		delete(b.Lots, key)
	} else {
		b.Lots[key] = lot
	}
	b.Fills = append(b.Fills, fill)
	return undo, nil
}

func (b *book) positions() []models.Position {
	out := make([]models.Position, 0, len(b.Lots))
	for _, p := range b.Lots {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Underlying != out[j].Underlying {
			return out[i].Underlying < out[j].Underlying
		}
		return out[i].ContractKey() < out[j].ContractKey()
	})
	return out
}

func (b *book) position(id string) (models.Position, error) {
	for _, p := range b.Lots {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Position{}, fmt.Errorf("%w: %s", ErrUnknownPosition, id)
}

// replace swaps the lots for a validated snapshot; the fill journal is kept.
func (b *book) replace(positions []models.Position) error {
	lots := make(map[string]models.Position, len(positions))
	for i, p := range positions {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("replacing positions (position %d): %w", i, err)
		}
		p.Underlying = strings.ToUpper(strings.TrimSpace(p.Underlying))
		if p.Kind == models.KindOption {
			p.Expiration = p.Expiration.UTC().Truncate(24 * time.Hour)
		}
		p.ID = p.Symbol()
		key := p.ContractKey()
		if existing, ok := lots[key]; ok {
			q, err := models.NetQuantity(existing, p.Quantity)
			if err != nil {
				return fmt.Errorf("replacing positions (position %d): %w", i, err)
			}
			p.Quantity = q
		}
		lots[key] = p
	}
	for key, p := range lots {
		if p.Quantity == 0 {
			delete(lots, key)
		}
	}
	b.Lots = lots
	return nil
}

func (b *book) fills() []Fill {
	out := make([]Fill, len(b.Fills))
	copy(out, b.Fills)
	return out
}
