package engine

import (
	"context"
	"strconv"
	"sync"

	"fixflow/fix"
	"fixflow/models"
)

// Catalog is the bidirectional symbol table loaded from the venue's
// security list: name to numeric id to price digits. It is populated
// once per connection and acts as the barrier gating every request that
// references a symbol id.
type Catalog struct {
	mu     sync.RWMutex
	byID   map[int]models.Security
	byName map[string]models.Security

	ready chan struct{}
	once  sync.Once
}

func NewCatalog() *Catalog {
	return &Catalog{
		byID:   make(map[int]models.Security),
		byName: make(map[string]models.Security),
		ready:  make(chan struct{}),
	}
}

// Load reads the repeating group of a SecurityList message into the
// table and releases the ready barrier. It returns the number of
// entries loaded.
func (c *Catalog) Load(msg *fix.Message) int {
	groups := msg.Groups(fix.TagNoRelatedSym, fix.TagSymbol)

	c.mu.Lock()
	for _, g := range groups {
		id, err := strconv.Atoi(g[fix.TagSymbol])
		if err != nil {
			continue
		}
		digits, err := strconv.Atoi(g[fix.TagSymbolDigits])
		if err != nil {
			continue
		}
		sec := models.Security{ID: id, Name: g[fix.TagSymbolName], Digits: digits}
		c.byID[id] = sec
		c.byName[sec.Name] = sec
	}
	n := len(c.byID)
	c.mu.Unlock()

	if n > 0 {
		c.once.Do(func() { close(c.ready) })
	}
	return n
}

// ByName looks a security up by its human name.
func (c *Catalog) ByName(name string) (models.Security, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sec, ok := c.byName[name]
	return sec, ok
}

// ByID looks a security up by its wire id.
func (c *Catalog) ByID(id int) (models.Security, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sec, ok := c.byID[id]
	return sec, ok
}

// Resolve translates the Symbol field of an inbound message to the
// security it names.
func (c *Catalog) Resolve(msg *fix.Message) (models.Security, bool) {
	id, err := msg.Int(fix.TagSymbol)
	if err != nil {
		return models.Security{}, false
	}
	return c.ByID(id)
}

// Ready is closed once the catalog holds at least one entry.
func (c *Catalog) Ready() <-chan struct{} {
	return c.ready
}

// Loaded reports whether the catalog has been populated.
func (c *Catalog) Loaded() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// WaitReady blocks until the catalog is populated or the context ends.
func (c *Catalog) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}
