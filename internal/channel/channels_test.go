package channel

import (
	"context"
	"testing"

	"fixflow/fix"
	"fixflow/models"
)

func TestSendInboundNonBlocking(t *testing.T) {
	hub := NewHub(2, 2)
	ctx := context.Background()

	msg := InboundMessage{Stream: fix.SubIDQuote, Msg: &fix.Message{}}
	if !hub.SendInbound(ctx, msg) {
		t.Fatal("send into empty channel failed")
	}
	if !hub.SendInbound(ctx, msg) {
		t.Fatal("send into half-full channel failed")
	}
	// Channel full: the send must drop instead of blocking the read
	// loop.
	if hub.SendInbound(ctx, msg) {
		t.Fatal("send into full channel should report a drop")
	}

	stats := hub.GetStats()
	if stats.InboundSent != 2 {
		t.Errorf("expected 2 sent, got %d", stats.InboundSent)
	}
	if stats.InboundDropped != 1 {
		t.Errorf("expected 1 dropped, got %d", stats.InboundDropped)
	}
}

func TestSendTickAndEventCounters(t *testing.T) {
	hub := NewHub(4, 1)
	ctx := context.Background()

	hub.SendTick(ctx, models.MarketQuote{Symbol: "EURUSD"})
	hub.SendTick(ctx, models.MarketQuote{Symbol: "EURUSD"})
	hub.SendEvent(ctx, models.LedgerEvent{Kind: models.EventOrderNew})

	stats := hub.GetStats()
	if stats.TicksSent != 1 || stats.TicksDropped != 1 {
		t.Errorf("tick counters wrong: %+v", stats)
	}
	if stats.EventsSent != 1 {
		t.Errorf("event counters wrong: %+v", stats)
	}

	tick := <-hub.Ticks
	if tick.Symbol != "EURUSD" {
		t.Errorf("unexpected tick: %+v", tick)
	}
}

func TestCloseClosesAllChannels(t *testing.T) {
	hub := NewHub(1, 1)
	hub.Close()

	if _, ok := <-hub.Inbound; ok {
		t.Error("inbound channel should be closed")
	}
	if _, ok := <-hub.Ticks; ok {
		t.Error("ticks channel should be closed")
	}
	if _, ok := <-hub.Events; ok {
		t.Error("events channel should be closed")
	}
}
