package notify

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func startEmbeddedNATS(t *testing.T) string {
	t.Helper()
	opts := &server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("failed to create nats-server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats-server failed to start")
	}
	t.Cleanup(func() { ns.Shutdown() })
	return fmt.Sprintf("nats://127.0.0.1:%d", opts.Port)
}

func TestNATSPublisher(t *testing.T) {
	url := startEmbeddedNATS(t)
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync("tickstore.>")
	if err != nil {
		t.Fatal(err)
	}
	nc.Flush()

	pub := NewNATSPublisher(nc, "tickstore", zap.NewNop())
	if err := pub.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	err = pub.Publish(Event{
		Type:    EventLifecycleAction,
		Path:    "hot/AAPL/trades/2024-01-02.jsonl",
		Details: map[string]any{"to": "warm"},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("no message received: %v", err)
	}
	if msg.Subject != "tickstore.lifecycle.action" {
		t.Errorf("subject = %q", msg.Subject)
	}
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Path != "hot/AAPL/trades/2024-01-02.jsonl" || ev.Details["to"] != "warm" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Time.IsZero() {
		t.Error("event time not stamped")
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(Event{Type: EventQuotaViolation}); err != nil {
		t.Fatal(err)
	}
}
