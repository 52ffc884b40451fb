package publisher

import (
	"testing"

	appconfig "fixflow/config"
	"fixflow/models"
)

func TestNewPublisherRequiresBrokers(t *testing.T) {
	cfg := &appconfig.Config{}
	if _, err := NewPublisher(cfg, nil); err == nil {
		t.Fatal("expected an error without brokers")
	}

	cfg.Publisher.Brokers = []string{"localhost:9092"}
	cfg.Publisher.Topic = "ledger-events"
	p, err := NewPublisher(cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.writer.Topic != "ledger-events" {
		t.Errorf("topic not applied: %s", p.writer.Topic)
	}
}

func TestEventKeyPartitioning(t *testing.T) {
	cases := []struct {
		name string
		ev   models.LedgerEvent
		want string
	}{
		{
			name: "position wins",
			ev:   models.LedgerEvent{Account: "a", OrderID: "O1", PositionID: "P1"},
			want: "P1",
		},
		{
			name: "order next",
			ev:   models.LedgerEvent{Account: "a", OrderID: "O1"},
			want: "O1",
		},
		{
			name: "account fallback",
			ev:   models.LedgerEvent{Account: "a"},
			want: "a",
		},
	}
	for _, tc := range cases {
		if got := eventKey(tc.ev); got != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}
