package channel

import (
	"context"
	"sync"
	"time"

	"fixflow/fix"
	"fixflow/logger"
	"fixflow/models"
)

// InboundMessage is one decoded venue message tagged with the stream it
// arrived on.
type InboundMessage struct {
	Stream   fix.SubID
	Msg      *fix.Message
	Received time.Time
}

// Stats counts channel traffic; dropped messages indicate an overloaded
// consumer.
type Stats struct {
	InboundSent    int64
	InboundDropped int64
	TicksSent      int64
	TicksDropped   int64
	EventsSent     int64
	EventsDropped  int64
}

// Hub carries all fan-in channels for one account: decoded inbound
// messages from both session read loops toward the single reactor, and
// the tick/event streams the reactor publishes for the optional
// recorder and publisher.
type Hub struct {
	Inbound chan InboundMessage
	Ticks   chan models.MarketQuote
	Events  chan models.LedgerEvent

	stats      Stats
	statsMutex sync.RWMutex
	log        *logger.Log
}

// NewHub builds the channel hub with the configured buffer sizes.
func NewHub(inboundBuffer, streamBuffer int) *Hub {
	log := logger.GetLogger()
	h := &Hub{
		Inbound: make(chan InboundMessage, inboundBuffer),
		Ticks:   make(chan models.MarketQuote, streamBuffer),
		Events:  make(chan models.LedgerEvent, streamBuffer),
		log:     log,
	}
	log.WithComponent("channels").WithFields(logger.Fields{
		"inbound_buffer": inboundBuffer,
		"stream_buffer":  streamBuffer,
	}).Info("channel hub initialized")
	return h
}

// Close closes every channel. Only call after all producers stopped.
func (h *Hub) Close() {
	close(h.Inbound)
	close(h.Ticks)
	close(h.Events)
	h.log.WithComponent("channels").Info("channel hub closed")
}

// SendInbound forwards one decoded message without blocking the read
// loop. A full channel drops the message and counts it.
func (h *Hub) SendInbound(ctx context.Context, msg InboundMessage) bool {
	select {
	case h.Inbound <- msg:
		h.increment(func(s *Stats) { s.InboundSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		h.increment(func(s *Stats) { s.InboundDropped++ })
		return false
	}
}

// SendTick publishes one quote update for the recorder.
func (h *Hub) SendTick(ctx context.Context, tick models.MarketQuote) bool {
	select {
	case h.Ticks <- tick:
		h.increment(func(s *Stats) { s.TicksSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		h.increment(func(s *Stats) { s.TicksDropped++ })
		return false
	}
}

// SendEvent publishes one ledger event for the publisher.
func (h *Hub) SendEvent(ctx context.Context, evt models.LedgerEvent) bool {
	select {
	case h.Events <- evt:
		h.increment(func(s *Stats) { s.EventsSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		h.increment(func(s *Stats) { s.EventsDropped++ })
		return false
	}
}

func (h *Hub) increment(fn func(*Stats)) {
	h.statsMutex.Lock()
	fn(&h.stats)
	h.statsMutex.Unlock()
}

// GetStats returns a copy of the counters.
func (h *Hub) GetStats() Stats {
	h.statsMutex.RLock()
	defer h.statsMutex.RUnlock()
	return h.stats
}

// StartMetricsReporting logs channel depths periodically until the
// context is cancelled.
func (h *Hub) StartMetricsReporting(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := h.GetStats()
			h.log.WithComponent("channels").WithFields(logger.Fields{
				"inbound_len":     len(h.Inbound),
				"inbound_cap":     cap(h.Inbound),
				"inbound_dropped": stats.InboundDropped,
				"ticks_len":       len(h.Ticks),
				"events_len":      len(h.Events),
			}).Info("channel hub sizes")
		}
	}
}
