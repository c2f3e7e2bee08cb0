package cache

import (
	"github.com/zigquant/engine/internal/domain"
)

// Snapshot is a value-type copy of the full Cache state, used by the
// checkpoint mechanism (snapshot/restore).
type Snapshot struct {
	Orders    []domain.Order
	Positions []domain.Position
	Accounts  []domain.Account
	Quotes    []domain.Quote
}

// Snapshot returns a deep value-type copy of the full state.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Orders:    make([]domain.Order, 0, len(c.orders)),
		Positions: make([]domain.Position, 0, len(c.positions)),
		Accounts:  make([]domain.Account, 0, len(c.accounts)),
		Quotes:    make([]domain.Quote, 0, len(c.quotes)),
	}
	for _, o := range c.orders {
		snap.Orders = append(snap.Orders, *o)
	}
	for _, p := range c.positions {
		snap.Positions = append(snap.Positions, *p)
	}
	for _, a := range c.accounts {
		snap.Accounts = append(snap.Accounts, *a)
	}
	for _, q := range c.quotes {
		snap.Quotes = append(snap.Quotes, *q)
	}
	return snap
}

// Restore replaces all state atomically with the contents of snap.
func (c *Cache) Restore(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.orders = make(map[uint64]*domain.Order, len(snap.Orders))
	c.openOrderOrder = c.openOrderOrder[:0]
	c.byInstrument = make(map[string]map[uint64]bool)
	c.positions = make(map[string]*domain.Position, len(snap.Positions))
	c.accounts = make(map[string]*domain.Account, len(snap.Accounts))
	c.quotes = make(map[string]*domain.Quote, len(snap.Quotes))

	for i := range snap.Orders {
		o := snap.Orders[i]
		c.orders[o.ClientID] = &o
		c.openOrderOrder = append(c.openOrderOrder, o.ClientID)
		c.indexByInstrument(o.Symbol, o.ClientID)
	}
	for i := range snap.Positions {
		p := snap.Positions[i]
		c.positions[p.Symbol] = &p
	}
	for i := range snap.Accounts {
		a := snap.Accounts[i]
		c.accounts[a.ID] = &a
	}
	for i := range snap.Quotes {
		q := snap.Quotes[i]
		c.quotes[q.Symbol] = &q
	}
}
