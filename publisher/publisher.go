package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "fixflow/config"
	"fixflow/logger"
	"fixflow/models"
)

// Publisher forwards ledger events to Kafka so downstream consumers
// (risk, reporting) see every order and position transition.
type Publisher struct {
	config  *appconfig.Config
	events  <-chan models.LedgerEvent
	writer  *kafka.Writer
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

func NewPublisher(cfg *appconfig.Config, events <-chan models.LedgerEvent) (*Publisher, error) {
	if len(cfg.Publisher.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Publisher.Brokers...),
		Topic:    cfg.Publisher.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	if cfg.Publisher.BatchTimeout > 0 {
		w.BatchTimeout = time.Duration(cfg.Publisher.BatchTimeout)
	}
	p := &Publisher{
		config: cfg,
		events: events,
		writer: w,
		wg:     &sync.WaitGroup{},
		log:    logger.GetLogger(),
	}
	p.log.WithComponent("ledger_publisher").WithFields(logger.Fields{
		"brokers": cfg.Publisher.Brokers,
		"topic":   cfg.Publisher.Topic,
	}).Debug("ledger publisher initialized")
	return p, nil
}

func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("ledger publisher already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	p.log.WithComponent("ledger_publisher").Debug("starting ledger publisher")

	p.wg.Add(1)
	go p.run()

	return nil
}

func (p *Publisher) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case ev, ok := <-p.events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				p.log.WithComponent("ledger_publisher").WithError(err).Warn("failed to marshal event")
				continue
			}
			msg := kafka.Message{
				Key:   []byte(eventKey(ev)),
				Value: data,
			}
			if err := p.writer.WriteMessages(p.ctx, msg); err != nil {
				p.log.WithComponent("ledger_publisher").WithError(err).Warn("failed to write event")
			} else {
				logger.IncrementLedgerPublish(len(data))
				p.log.WithComponent("ledger_publisher").WithFields(logger.Fields{
					"kind":    string(ev.Kind),
					"account": ev.Account,
				}).Debug("event written to kafka")
			}
		}
	}
}

// eventKey partitions by position when one is involved, otherwise by
// order, so each entity's transitions stay ordered within a partition.
func eventKey(ev models.LedgerEvent) string {
	if ev.PositionID != "" {
		return ev.PositionID
	}
	if ev.OrderID != "" {
		return ev.OrderID
	}
	return ev.Account
}

func (p *Publisher) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("ledger_publisher").Debug("stopping ledger publisher")
	p.writer.Close()
	p.wg.Wait()
	p.log.WithComponent("ledger_publisher").Debug("ledger publisher stopped")
}
