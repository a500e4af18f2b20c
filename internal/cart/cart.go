// Package cart reads the snapshot of a cart that is about to be paid for.
package cart

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrCartNotFound is returned when the cart service has no cart for the id.
var ErrCartNotFound = errors.New("cart not found")

// Snapshot is the immutable view of a cart at payment creation time.
type Snapshot struct {
	CartID    string
	UserID    string
	Amount    decimal.Decimal
	Currency  string
	ItemCount int
}

// SnapshotProvider returns the payable amount of a cart.
type SnapshotProvider interface {
	GetCartAmount(ctx context.Context, cartID string) (Snapshot, error)
}

// StaticProvider serves snapshots from memory. Used by tests and the
// in-memory run mode.
type StaticProvider struct {
	mu    sync.RWMutex
	carts map[string]Snapshot
}

func NewStaticProvider(snapshots ...Snapshot) *StaticProvider {
	p := &StaticProvider{carts: make(map[string]Snapshot, len(snapshots))}
	for _, s := range snapshots {
		p.carts[s.CartID] = s
	}
	return p
}

// Put adds or replaces a snapshot.
func (p *StaticProvider) Put(s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.carts[s.CartID] = s
}

func (p *StaticProvider) GetCartAmount(ctx context.Context, cartID string) (Snapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.carts[cartID]
	if !ok {
		return Snapshot{}, ErrCartNotFound
	}
	return s, nil
}
