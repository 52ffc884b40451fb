package models

import (
	"time"

	"github.com/shopspring/decimal"

	"fixflow/fix"
)

// Security is one entry of the venue's symbol catalog: the human name,
// the numeric id every wire message uses, and the price precision.
// Entries are immutable once the catalog is loaded.
type Security struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Digits int    `json:"digits"`
}

// Position is an open position as reported by the venue. The id is
// venue-assigned and never generated locally.
type Position struct {
	ID       string          `json:"pos_id"`
	Symbol   string          `json:"symbol"`
	Side     fix.Side        `json:"side"`
	Quantity float64         `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Digits   int             `json:"digits"`
	ClOrdID  string          `json:"clid,omitempty"`

	// ConvertPair values a position in the account currency when the
	// instrument's quote currency differs from it. ConvertInverse is
	// set when the available pair is quoted the other way around.
	ConvertPair    string `json:"convert,omitempty"`
	ConvertInverse bool   `json:"convert_inverse,omitempty"`
}

// Order is a working order as reconciled from execution reports. The
// venue assigns OrderID; ClOrdID is ours and is never reused.
type Order struct {
	OrderID    string          `json:"ord_id"`
	ClOrdID    string          `json:"clid"`
	PositionID string          `json:"pos_id,omitempty"`
	Symbol     string          `json:"symbol"`
	Side       fix.Side        `json:"side"`
	Type       fix.OrderType   `json:"type"`
	Quantity   float64         `json:"quantity"`
	Filled     float64         `json:"filled"`
	Leaves     float64         `json:"leaves"`
	Status     string          `json:"status"`
	Price      decimal.Decimal `json:"price"`
	Digits     int             `json:"digits"`
}

// MarketQuote is the last-write-wins best bid/ask for one symbol.
type MarketQuote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Digits    int             `json:"digits"`
	Timestamp time.Time       `json:"timestamp"`
}

// BookEntry is one order-book level of a depth subscription, keyed by
// the venue's entry id.
type BookEntry struct {
	Type  string          `json:"type"` // bid or ask
	Price decimal.Decimal `json:"price"`
	Size  float64         `json:"size"`
}

// Snapshot is the read-only view handed to display and telemetry
// callers.
type Snapshot struct {
	Positions []Position    `json:"positions"`
	Orders    []Order       `json:"orders"`
	Quotes    []MarketQuote `json:"quotes"`
	Taken     time.Time     `json:"taken"`
}

// LedgerEventKind classifies ledger events for downstream consumers.
type LedgerEventKind string

const (
	EventOrderNew       LedgerEventKind = "order_new"
	EventOrderFilled    LedgerEventKind = "order_filled"
	EventOrderCanceled  LedgerEventKind = "order_canceled"
	EventOrderRejected  LedgerEventKind = "order_rejected"
	EventPositionUpdate LedgerEventKind = "position_update"
	EventPositionClosed LedgerEventKind = "position_closed"
)

// LedgerEvent is one reconciliation outcome published to the event
// channel for the optional Kafka publisher.
type LedgerEvent struct {
	Kind       LedgerEventKind `json:"kind"`
	Account    string          `json:"account"`
	Symbol     string          `json:"symbol,omitempty"`
	OrderID    string          `json:"ord_id,omitempty"`
	ClOrdID    string          `json:"clid,omitempty"`
	PositionID string          `json:"pos_id,omitempty"`
	Text       string          `json:"text,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}
