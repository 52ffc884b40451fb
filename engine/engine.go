package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"fixflow/config"
	"fixflow/fix"
	"fixflow/internal/channel"
	"fixflow/logger"
	"fixflow/models"
)

// Engine runs the protocol for one account: it owns the quote and trade
// sessions, the security catalog, the quote cache and the ledger. Both
// read loops publish decoded messages onto the hub; a single reactor
// goroutine consumes them and owns all mutation of the shared state, so
// the two streams never race on the catalog, cache or ledger.
type Engine struct {
	cfg     *config.Config
	account config.AccountConfig
	hub     *channel.Hub
	log     *logger.Log

	catalog *Catalog
	quotes  *QuoteCache
	ledger  *Ledger
	limiter *rate.Limiter

	quote *fix.Session
	trade *fix.Session

	mu       sync.Mutex
	running  bool
	spotSub  map[string]bool
	depthSub map[string]bool

	reqSeq atomic.Int64

	// refreshCh carries trade-side refresh triggers from the session
	// callbacks into the reactor. The value says whether to also request
	// an order mass status.
	refreshCh chan bool

	// Position refresh cycle bookkeeping, touched only by the reactor.
	posTotal int
	posSeen  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	errs   chan error
}

// New wires an engine for one account. Start opens the connections.
func New(cfg *config.Config, account config.AccountConfig, hub *channel.Hub) *Engine {
	limit := rate.Inf
	burst := 1
	if cfg.RateLimit.OrdersPerSecond > 0 {
		limit = rate.Limit(cfg.RateLimit.OrdersPerSecond)
		burst = cfg.RateLimit.BurstSize
		if burst <= 0 {
			burst = cfg.RateLimit.OrdersPerSecond
		}
	}

	e := &Engine{
		cfg:       cfg,
		account:   account,
		hub:       hub,
		log:       logger.GetLogger(),
		catalog:   NewCatalog(),
		quotes:    NewQuoteCache(),
		ledger:    NewLedger(account.Name, account.Currency),
		limiter:   rate.NewLimiter(limit, burst),
		spotSub:   make(map[string]bool),
		depthSub:  make(map[string]bool),
		refreshCh: make(chan bool, 2),
		errs:      make(chan error, 2),
	}

	e.quote = fix.NewSession(e.sessionConfig(fix.SubIDQuote, cfg.Session.QuotePort))
	e.trade = fix.NewSession(e.sessionConfig(fix.SubIDTrade, cfg.Session.TradePort))
	return e
}

func (e *Engine) sessionConfig(sub fix.SubID, port int) fix.SessionConfig {
	sc := fix.SessionConfig{
		Sub:          sub,
		Host:         e.cfg.Session.Host,
		Port:         port,
		SenderCompID: e.account.Account,
		TargetCompID: e.cfg.Session.TargetCompID,
		Username:     e.account.Login(),
		Password:     e.account.Password,
		HeartBtInt:   e.cfg.Session.HeartbeatSec,
		DialTimeout:  time.Duration(e.cfg.Session.DialTimeout),
		ProbeAddr:    e.cfg.Session.ProbeAddr,
		MaxBackoff:   time.Duration(e.cfg.Session.MaxBackoff),
		OnMessage:    e.onMessage,
	}
	switch sub {
	case fix.SubIDQuote:
		sc.OnLogon = e.onQuoteLogon
	case fix.SubIDTrade:
		sc.OnLogon = e.onTradeLogon
		sc.OnHeartbeat = e.onTradeHeartbeat
	}
	return sc
}

// Start launches the reactor and both sessions.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine for account %s already running", e.account.Name)
	}
	e.running = true
	e.mu.Unlock()

	e.ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go e.reactor()

	e.wg.Add(1)
	go e.watchSessions()

	if err := e.quote.Start(e.ctx); err != nil {
		return err
	}
	if err := e.trade.Start(e.ctx); err != nil {
		return err
	}

	e.log.WithComponent("engine").WithFields(logger.Fields{
		"account": e.account.Name,
		"host":    e.cfg.Session.Host,
	}).Info("engine started")
	return nil
}

// Stop logs both sessions out and waits for the reactor to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.trade.Stop()
	e.quote.Stop()
	e.cancel()
	e.wg.Wait()
	e.log.WithComponent("engine").WithFields(logger.Fields{"account": e.account.Name}).Info("engine stopped")
}

// Errs delivers a fatal connectivity error from either session.
func (e *Engine) Errs() <-chan error {
	return e.errs
}

// Catalog exposes the security catalog.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

func (e *Engine) watchSessions() {
	defer e.wg.Done()
	select {
	case <-e.ctx.Done():
	case err := <-e.quote.Errs():
		select {
		case e.errs <- err:
		default:
		}
	case err := <-e.trade.Errs():
		select {
		case e.errs <- err:
		default:
		}
	}
}

// onMessage runs on a session read loop; it must not touch shared state
// beyond the non-blocking hub send.
func (e *Engine) onMessage(s *fix.Session, msg *fix.Message) {
	size := len(msg.Render())
	if s.Sub() == fix.SubIDQuote {
		logger.IncrementQuoteRead(size)
	} else {
		logger.IncrementTradeRead(size)
	}
	e.hub.SendInbound(e.ctx, channel.InboundMessage{
		Stream:   s.Sub(),
		Msg:      msg,
		Received: time.Now(),
	})
}

// onQuoteLogon requests the security catalog and restores quote
// subscriptions after a reconnect.
func (e *Engine) onQuoteLogon(*fix.Session) {
	e.sendSecurityListRequest()

	e.mu.Lock()
	spot := make([]string, 0, len(e.spotSub))
	for sym := range e.spotSub {
		spot = append(spot, sym)
	}
	depth := make([]string, 0, len(e.depthSub))
	for sym := range e.depthSub {
		depth = append(depth, sym)
	}
	e.spotSub = make(map[string]bool)
	e.depthSub = make(map[string]bool)
	e.mu.Unlock()

	for _, sym := range spot {
		e.Subscribe(sym)
	}
	for _, sym := range depth {
		e.SubscribeDepth(sym)
	}
}

// onTradeLogon defers the initial position and order refresh until the
// catalog barrier is down; every id in those requests comes from it.
// The trigger goes through refreshCh so the reactor, which owns the
// refresh cycle counters, issues the requests itself.
func (e *Engine) onTradeLogon(*fix.Session) {
	go func() {
		if err := e.catalog.WaitReady(e.ctx); err != nil {
			return
		}
		select {
		case e.refreshCh <- true:
		case <-e.ctx.Done():
		}
	}()
}

// onTradeHeartbeat piggybacks a positions refresh on every heartbeat so
// the ledger converges even when individual reports were missed. The
// send is non-blocking; a trigger already queued covers this tick.
func (e *Engine) onTradeHeartbeat(*fix.Session) {
	if !e.catalog.Loaded() {
		return
	}
	select {
	case e.refreshCh <- false:
	default:
	}
}

func (e *Engine) sendSecurityListRequest() {
	err := e.quote.Send(fix.MsgTypeSecurityListRequest,
		fix.Field{Tag: fix.TagSecurityReqID, Value: e.nextReqID("sec")},
		fix.Field{Tag: fix.TagSecurityListReqType, Value: "0"})
	if err != nil {
		e.log.WithComponent("engine").WithError(err).Warn("security list request failed")
	}
}

// sendPositionRequest starts a refresh cycle. Reactor only: it resets
// the cycle counters.
func (e *Engine) sendPositionRequest() {
	e.ledger.BeginRefresh()
	e.posTotal = -1
	e.posSeen = 0
	err := e.trade.Send(fix.MsgTypeRequestForPositions,
		fix.Field{Tag: fix.TagPosReqID, Value: e.nextReqID("pos")})
	if err != nil {
		e.log.WithComponent("engine").WithError(err).Debug("position request failed")
	}
}

func (e *Engine) sendOrderMassStatus() {
	err := e.trade.Send(fix.MsgTypeOrderMassStatusReq,
		fix.Field{Tag: fix.TagMassStatusReqID, Value: e.nextReqID("ord")},
		fix.Field{Tag: fix.TagMassStatusReqType, Value: "7"})
	if err != nil {
		e.log.WithComponent("engine").WithError(err).Debug("order mass status request failed")
	}
}

func (e *Engine) nextReqID(prefix string) string {
	return prefix + "-" + strconv.FormatInt(e.reqSeq.Add(1), 10)
}

// Subscribe opens a spot (best bid/ask) subscription for a symbol.
// Duplicate subscriptions are ignored.
func (e *Engine) Subscribe(symbol string) error {
	sec, ok := e.catalog.ByName(symbol)
	if !ok {
		return ErrUnknownSymbol
	}

	e.mu.Lock()
	if e.spotSub[symbol] {
		e.mu.Unlock()
		return nil
	}
	e.spotSub[symbol] = true
	e.mu.Unlock()

	return e.quote.Send(fix.MsgTypeMarketDataRequest,
		fix.Field{Tag: fix.TagMDReqID, Value: e.nextReqID("md")},
		fix.Field{Tag: fix.TagSubscriptionReqType, Value: "1"},
		fix.Field{Tag: fix.TagMarketDepth, Value: "1"},
		fix.Field{Tag: fix.TagNoMDEntryTypes, Value: "2"},
		fix.Field{Tag: fix.TagMDEntryType, Value: fix.MDEntryTypeBid},
		fix.Field{Tag: fix.TagMDEntryType, Value: fix.MDEntryTypeAsk},
		fix.Field{Tag: fix.TagNoRelatedSym, Value: "1"},
		fix.Field{Tag: fix.TagSymbol, Value: strconv.Itoa(sec.ID)})
}

// SubscribeDepth opens a full-depth subscription whose incremental
// refreshes maintain the per-symbol book.
func (e *Engine) SubscribeDepth(symbol string) error {
	sec, ok := e.catalog.ByName(symbol)
	if !ok {
		return ErrUnknownSymbol
	}

	e.mu.Lock()
	if e.depthSub[symbol] {
		e.mu.Unlock()
		return nil
	}
	e.depthSub[symbol] = true
	e.mu.Unlock()

	return e.quote.Send(fix.MsgTypeMarketDataRequest,
		fix.Field{Tag: fix.TagMDReqID, Value: e.nextReqID("md")},
		fix.Field{Tag: fix.TagSubscriptionReqType, Value: "1"},
		fix.Field{Tag: fix.TagMarketDepth, Value: "0"},
		fix.Field{Tag: fix.TagNoMDEntryTypes, Value: "2"},
		fix.Field{Tag: fix.TagMDEntryType, Value: fix.MDEntryTypeBid},
		fix.Field{Tag: fix.TagMDEntryType, Value: fix.MDEntryTypeAsk},
		fix.Field{Tag: fix.TagNoRelatedSym, Value: "1"},
		fix.Field{Tag: fix.TagSymbol, Value: strconv.Itoa(sec.ID)})
}

// reactor is the single consolidation goroutine: it owns every write to
// the catalog, quote cache and ledger.
func (e *Engine) reactor() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case in, ok := <-e.hub.Inbound:
			if !ok {
				return
			}
			e.dispatch(in)
		case withOrders := <-e.refreshCh:
			e.sendPositionRequest()
			if withOrders {
				e.sendOrderMassStatus()
			}
		}
	}
}

func (e *Engine) dispatch(in channel.InboundMessage) {
	msg := in.Msg
	switch msg.MsgType() {
	case fix.MsgTypeSecurityList:
		e.handleSecurityList(msg)
	case fix.MsgTypeMarketDataSnapshot:
		e.handleMarketData(msg, false)
	case fix.MsgTypeMarketDataIncrRefresh:
		e.handleMarketData(msg, true)
	case fix.MsgTypeExecutionReport:
		e.handleExecutionReport(msg)
	case fix.MsgTypePositionReport:
		e.handlePositionReport(msg)
	case fix.MsgTypeReject, fix.MsgTypeOrderCancelReject, fix.MsgTypeBusinessReject:
		e.handleReject(msg)
	}
}

func (e *Engine) handleSecurityList(msg *fix.Message) {
	n := e.catalog.Load(msg)
	e.log.WithComponent("engine").WithFields(logger.Fields{
		"account":    e.account.Name,
		"securities": n,
	}).Info("security catalog loaded")

	for _, sym := range e.cfg.Engine.Symbols {
		if err := e.Subscribe(sym); err != nil {
			e.log.WithComponent("engine").WithError(err).WithFields(logger.Fields{"symbol": sym}).Warn("spot subscribe failed")
		}
	}
	for _, sym := range e.cfg.Engine.DepthSymbols {
		if err := e.SubscribeDepth(sym); err != nil {
			e.log.WithComponent("engine").WithError(err).WithFields(logger.Fields{"symbol": sym}).Warn("depth subscribe failed")
		}
	}
}

func (e *Engine) handleMarketData(msg *fix.Message, incremental bool) {
	sec, ok := e.catalog.Resolve(msg)
	if !ok {
		return
	}
	var quote models.MarketQuote
	var ok2 bool
	if incremental {
		quote, ok2 = e.quotes.ApplyIncremental(sec, msg)
	} else {
		quote, ok2 = e.quotes.ApplySnapshot(sec, msg)
	}
	if ok2 {
		e.hub.SendTick(e.ctx, quote)
	}
}

func (e *Engine) handleExecutionReport(msg *fix.Message) {
	res := e.ledger.ApplyExecutionReport(msg, e.catalog)
	for _, ev := range res.Events {
		e.hub.SendEvent(e.ctx, ev)
	}
	for _, sym := range res.SubscribeSymbols {
		if err := e.Subscribe(sym); err != nil {
			e.log.WithComponent("engine").WithError(err).WithFields(logger.Fields{"symbol": sym}).Debug("auto subscribe failed")
		}
	}
	if res.RefreshPositions {
		e.sendPositionRequest()
		e.sendOrderMassStatus()
	}
}

func (e *Engine) handlePositionReport(msg *fix.Message) {
	res := e.ledger.ApplyPositionReport(msg, e.catalog)
	if res.Empty {
		for _, ev := range e.ledger.CompleteRefresh() {
			e.hub.SendEvent(e.ctx, ev)
		}
		e.posTotal = -1
		e.posSeen = 0
		return
	}
	for _, ev := range res.Events {
		e.hub.SendEvent(e.ctx, ev)
	}
	for _, sym := range res.SubscribeSymbols {
		if err := e.Subscribe(sym); err != nil {
			e.log.WithComponent("engine").WithError(err).WithFields(logger.Fields{"symbol": sym}).Debug("auto subscribe failed")
		}
	}

	if total, err := msg.Int(fix.TagTotalNumPosReports); err == nil && total > 0 {
		e.posTotal = total
	}
	e.posSeen++
	if e.posTotal > 0 && e.posSeen >= e.posTotal {
		for _, ev := range e.ledger.CompleteRefresh() {
			e.hub.SendEvent(e.ctx, ev)
		}
		e.posTotal = -1
		e.posSeen = 0
	}
}

// handleReject surfaces business rejects without touching the session:
// they fail the command they reference, never the connection.
func (e *Engine) handleReject(msg *fix.Message) {
	text := msg.String(fix.TagText)
	if idx := strings.Index(text, ":"); idx >= 0 {
		text = strings.TrimSpace(text[idx+1:])
	}
	log := e.log.WithComponent("engine").WithFields(logger.Fields{
		"account": e.account.Name,
		"type":    msg.MsgType(),
	})
	if strings.Contains(strings.ToLower(text), "no orders found") {
		log.Debug("mass status returned no orders")
		return
	}
	log.WithFields(logger.Fields{"text": text}).Warn("venue reject")
}
