package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fixflow/fix"
	"fixflow/logger"
	"fixflow/models"
)

// OpenCommand is one order intent. Limit and stop orders carry the
// price; PositionID attaches the order to an existing position, which
// is how protective stops and take-profits are placed.
type OpenCommand struct {
	Symbol     string
	Side       fix.Side
	Type       fix.OrderType
	Quantity   float64
	Price      decimal.Decimal
	PositionID string

	// ClOrdID is generated when empty. Callers that track their own
	// ids may supply one; ids are never reused.
	ClOrdID string
}

// Open validates the command locally, builds one NewOrderSingle and
// transmits it on the trade stream. The generated client order id is
// returned so the caller can await the resulting position id.
func (e *Engine) Open(ctx context.Context, cmd OpenCommand) (string, error) {
	sec, ok := e.catalog.ByName(cmd.Symbol)
	if !ok {
		return "", ErrUnknownSymbol
	}
	if cmd.Type != fix.OrderTypeMarket && cmd.Price.IsZero() {
		return "", ErrMissingPrice
	}

	clid := cmd.ClOrdID
	if clid == "" {
		clid = uuid.NewString()
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}

	now := fix.UTCTimestamp(time.Now())
	body := []fix.Field{
		{Tag: fix.TagClOrdID, Value: clid},
		{Tag: fix.TagSymbol, Value: strconv.Itoa(sec.ID)},
		{Tag: fix.TagSide, Value: strconv.Itoa(int(cmd.Side))},
		{Tag: fix.TagTransactTime, Value: now},
		{Tag: fix.TagOrderQty, Value: formatQty(cmd.Quantity)},
		{Tag: fix.TagOrdType, Value: strconv.Itoa(int(cmd.Type))},
	}
	switch cmd.Type {
	case fix.OrderTypeLimit:
		body = append(body, fix.Field{Tag: fix.TagPrice, Value: cmd.Price.String()})
	case fix.OrderTypeStop:
		body = append(body, fix.Field{Tag: fix.TagStopPx, Value: cmd.Price.String()})
	}
	if cmd.PositionID != "" {
		body = append(body, fix.Field{Tag: fix.TagPosMaintRptID, Value: cmd.PositionID})
	}
	body = append(body, fix.Field{Tag: fix.TagDesignation, Value: "account: " + e.account.Name})

	if err := e.trade.Send(fix.MsgTypeNewOrderSingle, body...); err != nil {
		return "", err
	}
	e.log.WithComponent("trade_commands").WithFields(logger.Fields{
		"symbol": cmd.Symbol,
		"side":   cmd.Side.String(),
		"type":   cmd.Type.String(),
		"qty":    cmd.Quantity,
		"clid":   clid,
	}).Info("order sent")
	return clid, nil
}

// AwaitPositionID suspends until the venue reports the position opened
// by the given client order id, using the configured await timeout.
func (e *Engine) AwaitPositionID(ctx context.Context, clid string) (string, error) {
	return e.ledger.AwaitPositionID(ctx, clid, time.Duration(e.cfg.Engine.AwaitTimeout))
}

// Cancel resolves the order from the ledger, removes it optimistically
// and emits one OrderCancelRequest. Final confirmation arrives
// asynchronously on the trade stream.
func (e *Engine) Cancel(ctx context.Context, orderID string) error {
	ord, ok := e.findOrder(orderID)
	if !ok {
		return ErrUnknownOrder
	}
	return e.cancelOrder(ctx, ord)
}

func (e *Engine) findOrder(orderID string) (models.Order, bool) {
	for _, ord := range e.ledger.Orders() {
		if ord.OrderID == orderID || ord.ClOrdID == orderID {
			return ord, true
		}
	}
	return models.Order{}, false
}

func (e *Engine) cancelOrder(ctx context.Context, ord models.Order) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	clid := ord.ClOrdID
	if clid == "" {
		clid = ord.OrderID
	}
	e.ledger.RemoveOrder(ord.OrderID)
	// The venue accepts the client id in all three reference fields.
	return e.trade.Send(fix.MsgTypeOrderCancelRequest,
		fix.Field{Tag: fix.TagOrigClOrdID, Value: clid},
		fix.Field{Tag: fix.TagOrderID, Value: clid},
		fix.Field{Tag: fix.TagClOrdID, Value: clid})
}

// cancelBatch emits one cancel per order. It is not transactional: on a
// transmit failure the cancels already sent stay in flight and the
// caller receives the count sent plus the error.
func (e *Engine) cancelBatch(ctx context.Context, orders []models.Order) (int, error) {
	sent := 0
	for _, ord := range orders {
		if err := e.cancelOrder(ctx, ord); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// CancelAllForPosition cancels every working order attached to one
// position.
func (e *Engine) CancelAllForPosition(ctx context.Context, posID string) (int, error) {
	return e.cancelBatch(ctx, e.ledger.OrdersForPosition(posID))
}

// CancelAllForSymbol cancels every working order on one symbol.
func (e *Engine) CancelAllForSymbol(ctx context.Context, symbol string) (int, error) {
	return e.cancelBatch(ctx, e.ledger.OrdersForSymbol(symbol))
}

// CancelAllForSymbols cancels every working order on the given symbols.
func (e *Engine) CancelAllForSymbols(ctx context.Context, symbols []string) (int, error) {
	sent := 0
	for _, symbol := range symbols {
		n, err := e.CancelAllForSymbol(ctx, symbol)
		sent += n
		if err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// CancelAll cancels every working order.
func (e *Engine) CancelAll(ctx context.Context) (int, error) {
	return e.cancelBatch(ctx, e.ledger.Orders())
}

// ClosePosition emits an opposite-direction market order tagged with
// the position id, for the full quantity when qty is zero or for the
// given partial quantity otherwise. Protective orders attached to the
// position are cancelled first.
func (e *Engine) ClosePosition(ctx context.Context, posID string, qty float64) (string, error) {
	pos, ok := e.ledger.Position(posID)
	if !ok {
		return "", ErrUnknownPosition
	}

	if _, err := e.CancelAllForPosition(ctx, posID); err != nil {
		return "", err
	}

	if qty <= 0 || qty > pos.Quantity {
		qty = pos.Quantity
	}
	return e.Open(ctx, OpenCommand{
		Symbol:     pos.Symbol,
		Side:       pos.Side.Opposite(),
		Type:       fix.OrderTypeMarket,
		Quantity:   qty,
		PositionID: posID,
	})
}

// CloseAllForSymbol closes every open position on one symbol.
func (e *Engine) CloseAllForSymbol(ctx context.Context, symbol string) (int, error) {
	closed := 0
	for _, pos := range e.ledger.Positions() {
		if pos.Symbol != symbol {
			continue
		}
		if _, err := e.ClosePosition(ctx, pos.ID, 0); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

// CloseAllForSymbols closes every open position on the given symbols.
func (e *Engine) CloseAllForSymbols(ctx context.Context, symbols []string) (int, error) {
	closed := 0
	for _, symbol := range symbols {
		n, err := e.CloseAllForSymbol(ctx, symbol)
		closed += n
		if err != nil {
			return closed, err
		}
	}
	return closed, nil
}

// CloseAllPositions closes every open position.
func (e *Engine) CloseAllPositions(ctx context.Context) (int, error) {
	closed := 0
	for _, pos := range e.ledger.Positions() {
		if _, err := e.ClosePosition(ctx, pos.ID, 0); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

// Snapshot returns the read-only view of positions, orders and quotes
// for display and telemetry callers.
func (e *Engine) Snapshot() models.Snapshot {
	return models.Snapshot{
		Positions: e.ledger.Positions(),
		Orders:    e.ledger.Orders(),
		Quotes:    e.quotes.Quotes(),
		Taken:     time.Now(),
	}
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
