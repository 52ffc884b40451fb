package engine

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fixflow/config"
	"fixflow/fix"
	"fixflow/internal/channel"
	"fixflow/models"
)

// fakeVenue plays the venue side of one piped stream: it acknowledges
// the logon and hands every other message to the test.
type fakeVenue struct {
	sub    fix.SubID
	target string
	conn   net.Conn

	mu   sync.Mutex
	seq  int
	msgs chan *fix.Message
}

func newFakeVenue(sub fix.SubID, target string) (*fakeVenue, net.Conn) {
	client, server := net.Pipe()
	v := &fakeVenue{
		sub:    sub,
		target: target,
		conn:   server,
		seq:    1,
		msgs:   make(chan *fix.Message, 128),
	}
	go v.loop()
	return v, client
}

func (v *fakeVenue) loop() {
	buf := fix.NewBuffer()
	tmp := make([]byte, 8192)
	for {
		for {
			frame, err := fix.NextFrame(buf)
			if err != nil {
				continue
			}
			if frame == nil {
				break
			}
			msg, err := fix.Decode(frame)
			if err != nil {
				continue
			}
			if msg.MsgType() == fix.MsgTypeLogon {
				v.send(fix.MsgTypeLogon, fix.Field{Tag: fix.TagHeartBtInt, Value: "30"})
				continue
			}
			select {
			case v.msgs <- msg:
			default:
			}
		}
		n, err := v.conn.Read(tmp)
		if err != nil {
			return
		}
		buf.Write(tmp[:n])
	}
}

func (v *fakeVenue) send(msgType string, body ...fix.Field) {
	v.mu.Lock()
	seq := v.seq
	v.seq++
	v.mu.Unlock()
	h := fix.Header{SenderCompID: "CSERVER", TargetCompID: v.target, Sub: v.sub}
	v.conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	v.conn.Write(fix.Encode(h, seq, msgType, body, time.Now()))
}

// await pulls messages until one with the wanted type arrives.
func (v *fakeVenue) await(t *testing.T, msgType string) *fix.Message {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case msg := <-v.msgs:
			if msg.MsgType() == msgType {
				return msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s on %s stream", msgType, v.sub)
		}
	}
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Session.Host = "127.0.0.1"
	cfg.Session.QuotePort = 5201
	cfg.Session.TradePort = 5202
	cfg.Session.TargetCompID = "CSERVER"
	cfg.Session.HeartbeatSec = 30
	cfg.Engine.AwaitTimeout = config.Duration(2 * time.Second)
	cfg.Channels.InboundBuffer = 128
	cfg.Channels.StreamBuffer = 128
	return cfg
}

// startTestEngine brings an engine up against two piped venues and
// loads the security catalog through the quote stream.
func startTestEngine(t *testing.T) (*Engine, *channel.Hub, *fakeVenue, *fakeVenue) {
	t.Helper()

	acc := config.AccountConfig{
		Name:     "demo.broker.3001234",
		Account:  "demo.broker.3001234",
		Password: "secret",
		Currency: "USD",
	}
	hub := channel.NewHub(128, 128)
	e := New(testConfig(), acc, hub)

	quoteVenue, quoteConn := newFakeVenue(fix.SubIDQuote, acc.Account)
	tradeVenue, tradeConn := newFakeVenue(fix.SubIDTrade, acc.Account)
	e.quote.SetDialer(func(context.Context) (net.Conn, error) { return quoteConn, nil })
	e.trade.SetDialer(func(context.Context) (net.Conn, error) { return tradeConn, nil })

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("engine start failed: %v", err)
	}
	t.Cleanup(func() {
		go io.Copy(io.Discard, quoteVenue.conn)
		go io.Copy(io.Discard, tradeVenue.conn)
		e.Stop()
	})

	// The engine asks for the catalog right after the quote logon; the
	// answer releases the trade-side barrier.
	req := quoteVenue.await(t, fix.MsgTypeSecurityListRequest)
	if req.String(fix.TagSecurityListReqType) != "0" {
		t.Errorf("unexpected security list request: %s", req.Render())
	}
	quoteVenue.send(fix.MsgTypeSecurityList, securityListFields()...)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := e.catalog.WaitReady(ctx); err != nil {
		t.Fatalf("catalog never loaded: %v", err)
	}
	return e, hub, quoteVenue, tradeVenue
}

func securityListFields() []fix.Field {
	return []fix.Field{
		{Tag: fix.TagSecurityReqID, Value: "sec-1"},
		{Tag: fix.TagNoRelatedSym, Value: "3"},
		{Tag: fix.TagSymbol, Value: "1"},
		{Tag: fix.TagSymbolName, Value: "EURUSD"},
		{Tag: fix.TagSymbolDigits, Value: "5"},
		{Tag: fix.TagSymbol, Value: "2"},
		{Tag: fix.TagSymbolName, Value: "GBPJPY"},
		{Tag: fix.TagSymbolDigits, Value: "3"},
		{Tag: fix.TagSymbol, Value: "3"},
		{Tag: fix.TagSymbolName, Value: "USDJPY"},
		{Tag: fix.TagSymbolDigits, Value: "3"},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEngineRequestsInitialStateAfterLogon(t *testing.T) {
	_, _, _, tradeVenue := startTestEngine(t)

	// With the catalog down, the trade side pulls positions and the
	// working order book.
	tradeVenue.await(t, fix.MsgTypeRequestForPositions)
	req := tradeVenue.await(t, fix.MsgTypeOrderMassStatusReq)
	if req.String(fix.TagMassStatusReqType) != "7" {
		t.Errorf("mass status must request all orders, got %s", req.Render())
	}
}

func TestHeartbeatRefreshRunsFullCycle(t *testing.T) {
	e, _, _, tradeVenue := startTestEngine(t)

	tradeVenue.await(t, fix.MsgTypeRequestForPositions)
	tradeVenue.await(t, fix.MsgTypeOrderMassStatusReq)

	tradeVenue.send(fix.MsgTypePositionReport,
		fix.Field{Tag: fix.TagPosMaintRptID, Value: "P1"},
		fix.Field{Tag: fix.TagTotalNumPosReports, Value: "1"},
		fix.Field{Tag: fix.TagSymbol, Value: "1"},
		fix.Field{Tag: fix.TagLongQty, Value: "10000"},
		fix.Field{Tag: fix.TagShortQty, Value: "0"},
		fix.Field{Tag: fix.TagSettlPrice, Value: "1.08000"})
	waitFor(t, "position P1", func() bool {
		_, ok := e.ledger.Position("P1")
		return ok
	})

	// The heartbeat callback runs on a session goroutine. It only
	// queues the trigger; the reactor owns the refresh cycle and
	// issues the request itself.
	e.onTradeHeartbeat(nil)
	tradeVenue.await(t, fix.MsgTypeRequestForPositions)

	tradeVenue.send(fix.MsgTypePositionReport,
		fix.Field{Tag: fix.TagPosMaintRptID, Value: "P2"},
		fix.Field{Tag: fix.TagTotalNumPosReports, Value: "1"},
		fix.Field{Tag: fix.TagSymbol, Value: "3"},
		fix.Field{Tag: fix.TagLongQty, Value: "5000"},
		fix.Field{Tag: fix.TagShortQty, Value: "0"},
		fix.Field{Tag: fix.TagSettlPrice, Value: "147.100"})

	waitFor(t, "stale position pruned", func() bool {
		_, p1 := e.ledger.Position("P1")
		_, p2 := e.ledger.Position("P2")
		return !p1 && p2
	})
}

func TestEngineSubscribeAndTick(t *testing.T) {
	e, hub, quoteVenue, _ := startTestEngine(t)

	if err := e.Subscribe("EURUSD"); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	sub := quoteVenue.await(t, fix.MsgTypeMarketDataRequest)
	if sub.String(fix.TagMarketDepth) != "1" {
		t.Errorf("spot subscription must request depth 1: %s", sub.Render())
	}
	if sub.String(fix.TagSymbol) != "1" {
		t.Errorf("subscription must carry the numeric id: %s", sub.Render())
	}

	// Duplicate subscriptions are absorbed.
	if err := e.Subscribe("EURUSD"); err != nil {
		t.Fatalf("duplicate subscribe errored: %v", err)
	}

	quoteVenue.send(fix.MsgTypeMarketDataSnapshot,
		fix.Field{Tag: fix.TagSymbol, Value: "1"},
		fix.Field{Tag: fix.TagNoMDEntries, Value: "2"},
		fix.Field{Tag: fix.TagMDEntryType, Value: fix.MDEntryTypeBid},
		fix.Field{Tag: fix.TagMDEntryPx, Value: "1.0801"},
		fix.Field{Tag: fix.TagMDEntryType, Value: fix.MDEntryTypeAsk},
		fix.Field{Tag: fix.TagMDEntryPx, Value: "1.0803"})

	select {
	case tick := <-hub.Ticks:
		if tick.Symbol != "EURUSD" {
			t.Errorf("unexpected tick symbol %s", tick.Symbol)
		}
		if !tick.Bid.Equal(decimal.RequireFromString("1.0801")) || !tick.Ask.Equal(decimal.RequireFromString("1.0803")) {
			t.Errorf("unexpected tick prices: bid=%s ask=%s", tick.Bid, tick.Ask)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no tick published for the snapshot")
	}

	quote, ok := e.quotes.Get("EURUSD")
	if !ok || !quote.Bid.Equal(decimal.RequireFromString("1.0801")) {
		t.Errorf("cache not updated: %+v ok=%v", quote, ok)
	}
}

func TestEngineSubscribeUnknownSymbol(t *testing.T) {
	e, _, _, _ := startTestEngine(t)
	if err := e.Subscribe("XAUUSD"); err != ErrUnknownSymbol {
		t.Errorf("expected ErrUnknownSymbol, got %v", err)
	}
}

func TestEnginePositionReportFlow(t *testing.T) {
	e, hub, _, tradeVenue := startTestEngine(t)

	tradeVenue.send(fix.MsgTypePositionReport,
		fix.Field{Tag: fix.TagPosMaintRptID, Value: "P1"},
		fix.Field{Tag: fix.TagTotalNumPosReports, Value: "1"},
		fix.Field{Tag: fix.TagSymbol, Value: "1"},
		fix.Field{Tag: fix.TagLongQty, Value: "10000"},
		fix.Field{Tag: fix.TagShortQty, Value: "0"},
		fix.Field{Tag: fix.TagSettlPrice, Value: "1.08000"})

	waitFor(t, "position P1", func() bool {
		_, ok := e.ledger.Position("P1")
		return ok
	})

	select {
	case ev := <-hub.Events:
		if ev.Kind != models.EventPositionUpdate || ev.PositionID != "P1" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no ledger event published for the position")
	}

	snap := e.Snapshot()
	if len(snap.Positions) != 1 || snap.Positions[0].ID != "P1" {
		t.Errorf("snapshot missing the position: %+v", snap.Positions)
	}
}
