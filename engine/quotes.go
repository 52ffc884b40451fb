package engine

import (
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fixflow/fix"
	"fixflow/models"
)

// QuoteCache holds the last-write-wins best bid/ask per symbol plus the
// per-symbol depth books maintained from incremental refreshes. Writes
// come only from the engine reactor; reads come from any caller.
type QuoteCache struct {
	mu     sync.RWMutex
	quotes map[string]models.MarketQuote
	books  map[string]map[string]models.BookEntry
}

func NewQuoteCache() *QuoteCache {
	return &QuoteCache{
		quotes: make(map[string]models.MarketQuote),
		books:  make(map[string]map[string]models.BookEntry),
	}
}

// ApplySnapshot applies a MarketDataSnapshot. A spot snapshot (entries
// without entry ids) replaces the cache entry for the symbol directly;
// a depth snapshot rebuilds the symbol's book and recomputes the best
// bid/ask from it. The updated quote is returned for publication.
func (q *QuoteCache) ApplySnapshot(sec models.Security, msg *fix.Message) (models.MarketQuote, bool) {
	entries := msg.Groups(fix.TagNoMDEntries, fix.TagMDEntryType)
	if len(entries) == 0 {
		return models.MarketQuote{}, false
	}

	if _, hasID := entries[0][fix.TagMDEntryID]; !hasID {
		quote := models.MarketQuote{
			Symbol:    sec.Name,
			Digits:    sec.Digits,
			Timestamp: time.Now(),
		}
		q.mu.Lock()
		prev := q.quotes[sec.Name]
		quote.Bid, quote.Ask = prev.Bid, prev.Ask
		for _, e := range entries {
			px, err := decimal.NewFromString(e[fix.TagMDEntryPx])
			if err != nil {
				continue
			}
			if e[fix.TagMDEntryType] == fix.MDEntryTypeBid {
				quote.Bid = px
			} else {
				quote.Ask = px
			}
		}
		q.quotes[sec.Name] = quote
		q.mu.Unlock()
		return quote, true
	}

	book := make(map[string]models.BookEntry, len(entries))
	for _, e := range entries {
		px, err := decimal.NewFromString(e[fix.TagMDEntryPx])
		if err != nil {
			continue
		}
		size, _ := strconv.ParseFloat(e[fix.TagMDEntrySize], 64)
		book[e[fix.TagMDEntryID]] = models.BookEntry{
			Type:  e[fix.TagMDEntryType],
			Price: px,
			Size:  size,
		}
	}

	q.mu.Lock()
	q.books[sec.Name] = book
	quote, ok := q.refreshFromBookLocked(sec)
	q.mu.Unlock()
	return quote, ok
}

// ApplyIncremental applies a MarketDataIncrementalRefresh to the
// symbol's book (adds and deletes keyed by entry id) and recomputes the
// best bid/ask.
func (q *QuoteCache) ApplyIncremental(sec models.Security, msg *fix.Message) (models.MarketQuote, bool) {
	entries := msg.Groups(fix.TagNoMDEntries, fix.TagMDUpdateAction)
	if len(entries) == 0 {
		return models.MarketQuote{}, false
	}

	q.mu.Lock()
	book := q.books[sec.Name]
	if book == nil {
		book = make(map[string]models.BookEntry)
		q.books[sec.Name] = book
	}
	for _, e := range entries {
		switch e[fix.TagMDUpdateAction] {
		case fix.MDUpdateActionDelete:
			delete(book, e[fix.TagMDEntryID])
		case fix.MDUpdateActionNew:
			px, err := decimal.NewFromString(e[fix.TagMDEntryPx])
			if err != nil {
				continue
			}
			size, _ := strconv.ParseFloat(e[fix.TagMDEntrySize], 64)
			book[e[fix.TagMDEntryID]] = models.BookEntry{
				Type:  e[fix.TagMDEntryType],
				Price: px,
				Size:  size,
			}
		}
	}
	quote, ok := q.refreshFromBookLocked(sec)
	q.mu.Unlock()
	return quote, ok
}

// refreshFromBookLocked recomputes the symbol's best bid/ask from its
// book and stores the result in the cache. Callers hold q.mu.
func (q *QuoteCache) refreshFromBookLocked(sec models.Security) (models.MarketQuote, bool) {
	book := q.books[sec.Name]
	var bid, ask decimal.Decimal
	var haveBid, haveAsk bool
	for _, e := range book {
		switch e.Type {
		case fix.MDEntryTypeBid:
			if !haveBid || e.Price.GreaterThan(bid) {
				bid = e.Price
				haveBid = true
			}
		case fix.MDEntryTypeAsk:
			if !haveAsk || e.Price.LessThan(ask) {
				ask = e.Price
				haveAsk = true
			}
		}
	}
	if !haveBid && !haveAsk {
		return models.MarketQuote{}, false
	}

	quote := q.quotes[sec.Name]
	quote.Symbol = sec.Name
	quote.Digits = sec.Digits
	quote.Timestamp = time.Now()
	if haveBid {
		quote.Bid = bid
	}
	if haveAsk {
		quote.Ask = ask
	}
	q.quotes[sec.Name] = quote
	return quote, true
}

// Get returns the cached quote for a symbol.
func (q *QuoteCache) Get(symbol string) (models.MarketQuote, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	quote, ok := q.quotes[symbol]
	return quote, ok
}

// Quotes returns a copy of every cached quote.
func (q *QuoteCache) Quotes() []models.MarketQuote {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]models.MarketQuote, 0, len(q.quotes))
	for _, quote := range q.quotes {
		out = append(out, quote)
	}
	return out
}

// Book returns a copy of the depth book for a symbol.
func (q *QuoteCache) Book(symbol string) map[string]models.BookEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()
	src := q.books[symbol]
	if src == nil {
		return nil
	}
	out := make(map[string]models.BookEntry, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
