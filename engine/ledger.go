package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fixflow/fix"
	"fixflow/models"
)

// positionWait is a pending future for a venue position id keyed by the
// client order id that opened it.
type positionWait struct {
	ch chan string
}

// Ledger reconciles execution and position reports into the in-memory
// view of working orders and open positions. All mutation happens on
// the engine reactor; queries are safe from any goroutine.
type Ledger struct {
	account  string
	currency string

	mu           sync.RWMutex
	positions    map[string]models.Position
	orders       map[string]models.Order
	clidToPos    map[string]string
	clidToOrders map[string][]string
	awaits       map[string]*positionWait

	// seen marks positions reported during the current refresh cycle
	// so a completed full refresh can drop the ones the venue no
	// longer reports.
	seen map[string]bool
}

func NewLedger(account, currency string) *Ledger {
	return &Ledger{
		account:      account,
		currency:     currency,
		positions:    make(map[string]models.Position),
		orders:       make(map[string]models.Order),
		clidToPos:    make(map[string]string),
		clidToOrders: make(map[string][]string),
		awaits:       make(map[string]*positionWait),
		seen:         make(map[string]bool),
	}
}

// ExecResult is what one execution report did to the ledger.
type ExecResult struct {
	Events           []models.LedgerEvent
	SubscribeSymbols []string
	RefreshPositions bool
}

// ApplyExecutionReport runs the per-order state machine keyed on the
// report's ExecType.
func (l *Ledger) ApplyExecutionReport(msg *fix.Message, catalog *Catalog) ExecResult {
	var res ExecResult

	execType := msg.String(fix.TagExecType)
	clid := msg.String(fix.TagClOrdID)
	orderID := msg.String(fix.TagOrderID)
	posID := msg.String(fix.TagPosMaintRptID)

	l.mu.Lock()
	defer l.mu.Unlock()

	switch execType {
	case fix.ExecTypeTrade:
		if clid != "" && posID != "" {
			l.mapPositionLocked(clid, posID)
		}
		if ord, ok := l.orders[orderID]; ok {
			if v, err := msg.Float(fix.TagCumQty); err == nil {
				ord.Filled = v
			}
			if v, err := msg.Float(fix.TagLeavesQty); err == nil {
				ord.Leaves = v
			}
			ord.Status = msg.String(fix.TagOrdStatus)
			if ord.Leaves == 0 {
				delete(l.orders, orderID)
				l.unmapOrderLocked(ord.ClOrdID, orderID)
			} else {
				l.orders[orderID] = ord
			}
			res.Events = append(res.Events, l.eventLocked(models.EventOrderFilled, ord.Symbol, orderID, clid, posID, ""))
		} else {
			res.Events = append(res.Events, l.eventLocked(models.EventOrderFilled, "", orderID, clid, posID, ""))
		}
		res.RefreshPositions = true

	case fix.ExecTypeNew:
		ord := l.orderFromReportLocked(msg, catalog)
		if ord.OrderID != "" {
			l.orders[ord.OrderID] = ord
		}
		if clid != "" && posID != "" {
			l.mapPositionLocked(clid, posID)
		}
		res.Events = append(res.Events, l.eventLocked(models.EventOrderNew, ord.Symbol, orderID, clid, posID, ""))

	case fix.ExecTypeReplaced:
		ord := l.orderFromReportLocked(msg, catalog)
		if ord.OrderID != "" {
			l.orders[ord.OrderID] = ord
		}
		res.Events = append(res.Events, l.eventLocked(models.EventOrderNew, ord.Symbol, orderID, clid, posID, "replaced"))

	case fix.ExecTypeCanceled, fix.ExecTypeExpired:
		symbol := ""
		if ord, ok := l.orders[orderID]; ok {
			symbol = ord.Symbol
			delete(l.orders, orderID)
			l.unmapOrderLocked(ord.ClOrdID, orderID)
		} else {
			l.removeByClOrdIDLocked(clid)
		}
		res.Events = append(res.Events, l.eventLocked(models.EventOrderCanceled, symbol, orderID, clid, posID, ""))

	case fix.ExecTypeRejected:
		l.removeByClOrdIDLocked(clid)
		l.failAwaitLocked(clid)
		res.Events = append(res.Events, l.eventLocked(models.EventOrderRejected, "", orderID, clid, posID, msg.String(fix.TagText)))

	case fix.ExecTypeOrderStatus:
		ord := l.orderFromReportLocked(msg, catalog)
		if ord.OrderID == "" {
			break
		}
		l.orders[ord.OrderID] = ord
		if ord.Type == fix.OrderTypeMarket {
			if ord.ClOrdID != "" && posID != "" {
				l.mapPositionLocked(ord.ClOrdID, posID)
			}
		} else if ord.ClOrdID != "" {
			l.mapOrderLocked(ord.ClOrdID, ord.OrderID)
		}
		if ord.Symbol != "" {
			res.SubscribeSymbols = append(res.SubscribeSymbols, ord.Symbol)
		}
	}

	return res
}

// orderFromReportLocked builds an Order record from a report's fields.
func (l *Ledger) orderFromReportLocked(msg *fix.Message, catalog *Catalog) models.Order {
	ord := models.Order{
		OrderID:    msg.String(fix.TagOrderID),
		ClOrdID:    msg.String(fix.TagClOrdID),
		PositionID: msg.String(fix.TagPosMaintRptID),
		Status:     msg.String(fix.TagOrdStatus),
	}
	if sec, ok := catalog.Resolve(msg); ok {
		ord.Symbol = sec.Name
		ord.Digits = sec.Digits
	}
	if v, err := msg.Int(fix.TagOrdType); err == nil {
		ord.Type = fix.OrderType(v)
	}
	if v, err := msg.Int(fix.TagSide); err == nil {
		ord.Side = fix.Side(v)
	}
	if v, err := msg.Float(fix.TagOrderQty); err == nil {
		ord.Quantity = v
	}
	if v, err := msg.Float(fix.TagCumQty); err == nil {
		ord.Filled = v
	}
	if v, err := msg.Float(fix.TagLeavesQty); err == nil {
		ord.Leaves = v
	}
	if px, err := msg.Decimal(fix.TagPrice); err == nil {
		ord.Price = px
	} else if px, err := msg.Decimal(fix.TagStopPx); err == nil {
		ord.Price = px
	}
	return ord
}

// PositionResult is what one position report did to the ledger.
type PositionResult struct {
	Empty            bool
	Position         *models.Position
	Events           []models.LedgerEvent
	SubscribeSymbols []string
}

// ApplyPositionReport creates or refreshes the position the report
// names. A result code of "no positions" yields an empty result. The
// instrument and any conversion pair needed to value the position in
// the account currency are queued for subscription.
func (l *Ledger) ApplyPositionReport(msg *fix.Message, catalog *Catalog) PositionResult {
	var res PositionResult

	if msg.String(fix.TagPosReqResult) == "2" {
		res.Empty = true
		return res
	}

	sec, ok := catalog.Resolve(msg)
	if !ok {
		return res
	}
	posID := msg.String(fix.TagPosMaintRptID)
	if posID == "" {
		return res
	}

	long, _ := msg.Float(fix.TagLongQty)
	short, _ := msg.Float(fix.TagShortQty)
	price, err := msg.Decimal(fix.TagSettlPrice)
	if err != nil {
		price = decimal.Decimal{}
	}

	pos := models.Position{
		ID:     posID,
		Symbol: sec.Name,
		Digits: sec.Digits,
		Price:  price,
	}
	if long > 0 {
		pos.Side = fix.SideBuy
		pos.Quantity = long
	} else {
		pos.Side = fix.SideSell
		pos.Quantity = short
	}

	res.SubscribeSymbols = append(res.SubscribeSymbols, sec.Name)

	// A pair quoted in something other than the account currency needs
	// a conversion rate to value it; subscribe whichever direction of
	// the conversion pair the venue lists.
	if len(sec.Name) >= 3 {
		quoteCcy := sec.Name[len(sec.Name)-3:]
		if quoteCcy != l.currency {
			pair := quoteCcy + l.currency
			inverse := false
			if _, ok := catalog.ByName(pair); !ok {
				pair = l.currency + quoteCcy
				inverse = true
			}
			pos.ConvertPair = pair
			pos.ConvertInverse = inverse
			res.SubscribeSymbols = append(res.SubscribeSymbols, pair)
		}
	}

	l.mu.Lock()
	pos.ClOrdID = l.clidForPositionLocked(posID)
	l.positions[posID] = pos
	l.seen[posID] = true
	ev := l.eventLocked(models.EventPositionUpdate, pos.Symbol, "", pos.ClOrdID, posID, "")
	l.mu.Unlock()

	res.Position = &pos
	res.Events = append(res.Events, ev)
	return res
}

// BeginRefresh starts a full-refresh cycle; positions not reported
// before CompleteRefresh are dropped.
func (l *Ledger) BeginRefresh() {
	l.mu.Lock()
	l.seen = make(map[string]bool)
	l.mu.Unlock()
}

// CompleteRefresh drops every position the finished cycle did not
// report and clears their client order id mappings so the
// cross-reference tables cannot grow without bound.
func (l *Ledger) CompleteRefresh() []models.LedgerEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	var events []models.LedgerEvent
	for id, pos := range l.positions {
		if l.seen[id] {
			continue
		}
		delete(l.positions, id)
		for clid, p := range l.clidToPos {
			if p == id {
				delete(l.clidToPos, clid)
			}
		}
		events = append(events, l.eventLocked(models.EventPositionClosed, pos.Symbol, "", pos.ClOrdID, id, ""))
	}
	return events
}

// RemovePosition drops a position and its cross references after a
// closing order was acknowledged.
func (l *Ledger) RemovePosition(posID string) []models.LedgerEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[posID]
	if !ok {
		return nil
	}
	delete(l.positions, posID)
	for clid, p := range l.clidToPos {
		if p == posID {
			delete(l.clidToPos, clid)
		}
	}
	return []models.LedgerEvent{l.eventLocked(models.EventPositionClosed, pos.Symbol, "", pos.ClOrdID, posID, "")}
}

// RemoveOrder drops an order optimistically after a cancel request was
// transmitted; the venue's confirmation still arrives asynchronously.
func (l *Ledger) RemoveOrder(orderID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ord, ok := l.orders[orderID]; ok {
		delete(l.orders, orderID)
		l.unmapOrderLocked(ord.ClOrdID, orderID)
	}
}

// Position returns the position with the given venue id.
func (l *Ledger) Position(posID string) (models.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[posID]
	return pos, ok
}

// Positions returns a copy of every open position.
func (l *Ledger) Positions() []models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos)
	}
	return out
}

// Orders returns a copy of every working order.
func (l *Ledger) Orders() []models.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Order, 0, len(l.orders))
	for _, ord := range l.orders {
		out = append(out, ord)
	}
	return out
}

// OrdersForSymbol returns the working orders on one symbol.
func (l *Ledger) OrdersForSymbol(symbol string) []models.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.Order
	for _, ord := range l.orders {
		if ord.Symbol == symbol {
			out = append(out, ord)
		}
	}
	return out
}

// OrdersForPosition returns the working orders attached to a position,
// typically its protective stop and limit orders.
func (l *Ledger) OrdersForPosition(posID string) []models.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.Order
	for _, ord := range l.orders {
		if ord.PositionID == posID {
			out = append(out, ord)
		}
	}
	return out
}

// PositionIDFor returns the venue position id recorded for a client
// order id, if the corresponding report has arrived.
func (l *Ledger) PositionIDFor(clid string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	posID, ok := l.clidToPos[clid]
	return posID, ok
}

// AwaitPositionID suspends until the position id for the client order
// id is known, the timeout elapses, or the order is rejected. It never
// busy-polls; the reconciliation path resolves it directly.
func (l *Ledger) AwaitPositionID(ctx context.Context, clid string, timeout time.Duration) (string, error) {
	l.mu.Lock()
	if posID, ok := l.clidToPos[clid]; ok {
		l.mu.Unlock()
		return posID, nil
	}
	wait, ok := l.awaits[clid]
	if !ok {
		wait = &positionWait{ch: make(chan string, 1)}
		l.awaits[clid] = wait
	}
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case posID, open := <-wait.ch:
		if !open {
			return "", ErrOrderRejected
		}
		return posID, nil
	case <-timer.C:
		l.mu.Lock()
		delete(l.awaits, clid)
		l.mu.Unlock()
		return "", ErrAwaitTimeout
	case <-ctx.Done():
		l.mu.Lock()
		delete(l.awaits, clid)
		l.mu.Unlock()
		return "", ctx.Err()
	}
}

func (l *Ledger) mapPositionLocked(clid, posID string) {
	l.clidToPos[clid] = posID
	if pos, ok := l.positions[posID]; ok && pos.ClOrdID == "" {
		pos.ClOrdID = clid
		l.positions[posID] = pos
	}
	if wait, ok := l.awaits[clid]; ok {
		wait.ch <- posID
		delete(l.awaits, clid)
	}
}

func (l *Ledger) failAwaitLocked(clid string) {
	if wait, ok := l.awaits[clid]; ok {
		close(wait.ch)
		delete(l.awaits, clid)
	}
}

func (l *Ledger) mapOrderLocked(clid, orderID string) {
	for _, id := range l.clidToOrders[clid] {
		if id == orderID {
			return
		}
	}
	l.clidToOrders[clid] = append(l.clidToOrders[clid], orderID)
}

func (l *Ledger) unmapOrderLocked(clid, orderID string) {
	ids := l.clidToOrders[clid]
	for i, id := range ids {
		if id == orderID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(l.clidToOrders, clid)
	} else {
		l.clidToOrders[clid] = ids
	}
}

func (l *Ledger) removeByClOrdIDLocked(clid string) {
	if clid == "" {
		return
	}
	for id, ord := range l.orders {
		if ord.ClOrdID == clid {
			delete(l.orders, id)
		}
	}
	delete(l.clidToOrders, clid)
}

func (l *Ledger) clidForPositionLocked(posID string) string {
	for clid, p := range l.clidToPos {
		if p == posID {
			return clid
		}
	}
	return ""
}

func (l *Ledger) eventLocked(kind models.LedgerEventKind, symbol, orderID, clid, posID, text string) models.LedgerEvent {
	return models.LedgerEvent{
		Kind:       kind,
		Account:    l.account,
		Symbol:     symbol,
		OrderID:    orderID,
		ClOrdID:    clid,
		PositionID: posID,
		Text:       text,
		Timestamp:  time.Now(),
	}
}
