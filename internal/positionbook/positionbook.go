// Package positionbook holds the in-memory, authoritative view of open
// positions, one per instrument: a mutex-guarded map, drastically
// simplified from a per-coin inventory-slot model down to a single
// position per coin.
package positionbook

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/opensqt/perpcore/internal/core"
)

// Book implements core.PositionBook.
type Book struct {
	mu        sync.RWMutex
	positions map[string]core.Position
}

func New() *Book {
	return &Book{positions: make(map[string]core.Position)}
}

// Open records a new position for pos.Coin. It fails if the coin is
// already occupied — callers must Close first when a deliberate re-open
// is needed: at most one position per coin is held at a time.
func (b *Book) Open(pos core.Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.positions[pos.Coin]; exists {
		return core.NewKindError(core.KindPositionAlreadyPending, fmt.Sprintf("position already open for %s", pos.Coin), nil)
	}
	b.positions[pos.Coin] = pos
	return nil
}

func (b *Book) Close(coin string) (core.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[coin]
	if ok {
		delete(b.positions, coin)
	}
	return pos, ok
}

func (b *Book) Get(coin string) (core.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.positions[coin]
	return pos, ok
}

func (b *Book) IsFlat(coin string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.positions[coin]
	return !ok
}

// UpdatePrice recomputes unrealizedPnl for coin's position from the venue
// mark. A no-op when the coin is flat.
func (b *Book) UpdatePrice(coin string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[coin]
	if !ok {
		return
	}
	pos.CurrentPrice = price
	if pos.Direction == core.Long {
		pos.UnrealizedPnl = price.Sub(pos.EntryPrice).Mul(pos.Size)
	} else {
		pos.UnrealizedPnl = pos.EntryPrice.Sub(price).Mul(pos.Size)
	}
	b.positions[coin] = pos
}

func (b *Book) UpdateTrailingStopLoss(coin string, level decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[coin]
	if !ok {
		return
	}
	pos.TrailingStopLoss = level
	b.positions[coin] = pos
}

func (b *Book) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

func (b *Book) Coins() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.positions))
	for c := range b.positions {
		out = append(out, c)
	}
	return out
}

var _ core.PositionBook = (*Book)(nil)
